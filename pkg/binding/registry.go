package binding

import "sort"

// Registry maps field keys to subscriptions for one owner. A key appears
// at most once. Registry does no locking; its Binder guards it.
type Registry struct {
	subs map[string]*Subscription
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{subs: make(map[string]*Subscription)}
}

// Has reports whether key has a subscription.
func (r *Registry) Has(key string) bool {
	_, ok := r.subs[key]
	return ok
}

// Get returns the subscription for key, or nil.
func (r *Registry) Get(key string) *Subscription {
	return r.subs[key]
}

// Set inserts sub under key unless the key is taken. It reports whether
// sub was inserted.
func (r *Registry) Set(key string, sub *Subscription) bool {
	if _, ok := r.subs[key]; ok {
		return false
	}
	r.subs[key] = sub
	return true
}

// Delete removes key.
func (r *Registry) Delete(key string) {
	delete(r.subs, key)
}

// DeleteIf removes key only while it still maps to sub, so a stale
// callback never removes a newer subscription for the same key.
func (r *Registry) DeleteIf(key string, sub *Subscription) bool {
	if r.subs[key] != sub {
		return false
	}
	delete(r.subs, key)
	return true
}

// Keys returns the registered keys in sorted order.
func (r *Registry) Keys() []string {
	keys := make([]string, 0, len(r.subs))
	for k := range r.subs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Len returns the number of registered keys.
func (r *Registry) Len() int {
	return len(r.subs)
}
