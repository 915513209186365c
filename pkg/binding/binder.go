package binding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/tmplbind/tmplbind-go/pkg/channel"
	"github.com/tmplbind/tmplbind-go/pkg/template"
	"github.com/tmplbind/tmplbind-go/pkg/wire"
)

// releaseTimeout bounds the background release of a handle whose key was
// dropped before its subscribe returned.
const releaseTimeout = 5 * time.Second

type detachRun struct {
	done chan struct{}
	err  error
}

// Binder manages the bindings of one owner.
type Binder struct {
	owner  string
	eval   Evaluator
	config Config
	logger *slog.Logger

	mu       sync.Mutex
	fields   []Field
	attached bool
	registry *Registry
	store    *Store
	draining *detachRun
}

// NewBinder creates a detached binder for owner.
func NewBinder(owner string, eval Evaluator, config Config) *Binder {
	return &Binder{
		owner:    owner,
		eval:     eval,
		config:   config,
		logger:   config.Logger,
		registry: NewRegistry(),
		store:    NewStore(),
	}
}

// Owner returns the owner id.
func (b *Binder) Owner() string {
	return b.owner
}

// lockIdle acquires b.mu once no detach is draining.
func (b *Binder) lockIdle(ctx context.Context) error {
	for {
		b.mu.Lock()
		run := b.draining
		if run == nil {
			return nil
		}
		b.mu.Unlock()

		select {
		case <-run.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Attach declares fields and subscribes every template field that has no
// subscription yet. It returns once the subscribes are issued; results
// arrive later. If a detach is draining, Attach waits for it first.
//
// Attach is idempotent: keys already registered are left alone, keys that
// failed earlier are subscribed again.
func (b *Binder) Attach(ctx context.Context, fields []Field) error {
	if err := b.lockIdle(ctx); err != nil {
		return err
	}
	defer b.mu.Unlock()

	b.fields = slices.Clone(fields)
	b.attachLocked(ctx)
	return nil
}

// Retry re-runs Attach with the declared fields.
func (b *Binder) Retry(ctx context.Context) error {
	if err := b.lockIdle(ctx); err != nil {
		return err
	}
	defer b.mu.Unlock()

	b.attachLocked(ctx)
	return nil
}

func (b *Binder) attachLocked(ctx context.Context) {
	before := b.phaseLocked()
	b.attached = true

	// Subscribes outlive the attach call; only Detach ends them.
	subCtx := context.WithoutCancel(ctx)
	for _, f := range b.fields {
		if !template.IsTemplate(f.Raw) {
			continue
		}
		sub := newSubscription(f)
		if !b.registry.Set(f.Key, sub) {
			continue
		}
		b.config.Metrics.registered(1)
		b.captureSubscription(f.Key, "", StateConnecting.String(), "attach")
		go b.subscribe(subCtx, sub)
	}

	b.captureOwner(before, b.phaseLocked(), "attach")
}

func (b *Binder) subscribe(ctx context.Context, sub *Subscription) {
	cancel, err := b.eval.Subscribe(ctx, channel.SubscribeRequest{
		Template:  sub.Template,
		Variables: sub.Variables,
		Strict:    b.config.Strict,
	}, func(res *wire.Result, err error) {
		b.handleResult(sub, res, err)
	})
	b.config.Metrics.subscribed(err)

	b.mu.Lock()
	sub.cancel, sub.err = cancel, err
	close(sub.ready)
	current := b.registry.Get(sub.Key) == sub
	var change *Change
	if err != nil && current {
		change = b.failLocked(sub, err, "rejected")
	}
	b.mu.Unlock()

	switch {
	case err != nil:
		b.debugLog("subscribe failed, publishing raw value", "key", sub.Key, "error", err)
		b.notify(change)
	case !current:
		b.debugLog("subscription dropped while connecting", "key", sub.Key)
		go b.releaseAbandoned(sub)
	default:
		b.debugLog("subscribed", "key", sub.Key)
	}
}

func (b *Binder) handleResult(sub *Subscription, res *wire.Result, err error) {
	b.mu.Lock()
	if b.registry.Get(sub.Key) != sub {
		b.mu.Unlock()
		return
	}

	var change *Change
	switch {
	case err != nil:
		change = b.failLocked(sub, err, "stream_error")
	case res != nil:
		if sub.State == StateConnecting {
			before := b.phaseLocked()
			sub.State = StateActive
			b.captureSubscription(sub.Key, StateConnecting.String(), StateActive.String(), "")
			b.captureOwner(before, b.phaseLocked(), "result")
		}
		b.store.Update(sub.Key, *res)
		b.config.Metrics.result()
		change = &Change{Owner: b.owner, Key: sub.Key, Result: *res}
	}
	resolved := sub.resolved()
	b.mu.Unlock()

	if err != nil {
		b.debugLog("subscription ended, publishing raw value", "key", sub.Key, "error", err)
		if resolved {
			go b.releaseAbandoned(sub)
		}
	}
	b.notify(change)
}

// failLocked moves sub to the error state, drops it from the registry and
// publishes the fallback.
func (b *Binder) failLocked(sub *Subscription, err error, reason string) *Change {
	before := b.phaseLocked()
	if b.registry.DeleteIf(sub.Key, sub) {
		b.config.Metrics.registered(-1)
	}
	from := sub.State
	sub.State = StateError
	b.captureSubscription(sub.Key, from.String(), StateError.String(), err.Error())
	b.captureOwner(before, b.phaseLocked(), "error")

	res := Fallback(Field{Key: sub.Key, Raw: sub.Template, Variables: sub.Variables})
	b.store.Update(sub.Key, res)
	b.config.Metrics.fallback(reason)
	return &Change{Owner: b.owner, Key: sub.Key, Result: res, Fallback: true}
}

// dropLocked removes sub from the registry and marks it released.
func (b *Binder) dropLocked(sub *Subscription, reason string) {
	if b.registry.DeleteIf(sub.Key, sub) {
		b.config.Metrics.registered(-1)
	}
	if sub.State == StateError || sub.State == StateReleased {
		return
	}
	from := sub.State
	sub.State = StateReleased
	b.captureSubscription(sub.Key, from.String(), StateReleased.String(), reason)
}

// Detach releases every subscription of the owner. Pending subscribes are
// awaited, then cancelled; each handle is invoked exactly once and every
// key leaves the registry whatever the outcome. Benign release errors are
// swallowed, the rest are joined and returned.
//
// If ctx expires while a subscribe is still pending, its key is dropped
// and the handle is released in the background once it arrives.
//
// A Detach that finds another one draining waits for it and returns its
// result.
func (b *Binder) Detach(ctx context.Context) error {
	b.mu.Lock()
	if run := b.draining; run != nil {
		b.mu.Unlock()
		select {
		case <-run.done:
			return run.err
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	run := &detachRun{done: make(chan struct{})}
	b.draining = run
	before := b.phaseLocked()
	b.attached = false
	subs := make([]*Subscription, 0, b.registry.Len())
	for _, key := range b.registry.Keys() {
		subs = append(subs, b.registry.Get(key))
	}
	b.mu.Unlock()

	run.err = b.releaseAll(ctx, subs)

	b.mu.Lock()
	b.draining = nil
	b.captureOwner(before, PhaseDetached, "detach")
	b.mu.Unlock()
	close(run.done)

	b.debugLog("detached", "released", len(subs), "error", run.err)
	return run.err
}

func (b *Binder) releaseAll(ctx context.Context, subs []*Subscription) error {
	errs := make([]error, len(subs))
	var wg sync.WaitGroup
	for i, sub := range subs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = b.release(ctx, sub)
		}()
	}
	wg.Wait()
	return errors.Join(errs...)
}

func (b *Binder) release(ctx context.Context, sub *Subscription) error {
	select {
	case <-sub.ready:
	case <-ctx.Done():
		b.mu.Lock()
		b.dropLocked(sub, "abandoned")
		resolved := sub.resolved()
		b.mu.Unlock()
		// An unresolved subscribe sees its key gone and releases itself.
		if resolved {
			go b.releaseAbandoned(sub)
		}
		return fmt.Errorf("release %s: %w", sub.Key, ctx.Err())
	}

	ran, err := b.cancel(ctx, sub)

	b.mu.Lock()
	b.dropLocked(sub, "detach")
	b.mu.Unlock()

	switch {
	case !ran:
		return nil
	case err == nil:
		b.config.Metrics.released("ok")
		return nil
	case channel.IsBenign(err):
		b.config.Metrics.released("benign")
		b.debugLog("subscription already gone", "key", sub.Key, "error", err)
		return nil
	default:
		b.config.Metrics.released("error")
		return fmt.Errorf("release %s: %w", sub.Key, err)
	}
}

func (b *Binder) releaseAbandoned(sub *Subscription) {
	ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
	defer cancel()

	ran, err := b.cancel(ctx, sub)
	if !ran {
		return
	}
	if err != nil && !channel.IsBenign(err) {
		b.config.Metrics.released("error")
		b.debugLog("background release failed", "key", sub.Key, "error", err)
		return
	}
	b.config.Metrics.released("abandoned")
}

// cancel invokes the handle of a resolved subscription at most once. ran
// reports whether this call invoked it.
func (b *Binder) cancel(ctx context.Context, sub *Subscription) (ran bool, err error) {
	sub.releaseOnce.Do(func() {
		if sub.cancel != nil {
			ran = true
			err = sub.cancel(ctx)
		}
	})
	return ran, err
}

// Reconfigure replaces the declared fields. A key whose template or
// variables changed is released and, while attached, subscribed afresh.
// Results of fields that were removed or stopped being templates are
// dropped from the store.
func (b *Binder) Reconfigure(ctx context.Context, fields []Field) error {
	if err := b.lockIdle(ctx); err != nil {
		return err
	}

	next := make(map[string]Field, len(fields))
	for _, f := range fields {
		next[f.Key] = f
	}

	var stale []*Subscription
	for _, key := range b.registry.Keys() {
		sub := b.registry.Get(key)
		f, ok := next[key]
		if ok && f.Raw == sub.Template && sameVariables(f.Variables, sub.Variables) {
			continue
		}
		b.dropLocked(sub, "reconfigure")
		stale = append(stale, sub)
	}
	for _, old := range b.fields {
		if f, ok := next[old.Key]; !ok || !template.IsTemplate(f.Raw) {
			b.store.Delete(old.Key)
		}
	}

	b.fields = slices.Clone(fields)
	if b.attached {
		b.attachLocked(ctx)
	}
	b.mu.Unlock()

	return b.releaseAll(ctx, stale)
}

func sameVariables(a, b map[string]any) bool {
	if len(a) == 0 && len(b) == 0 {
		return true
	}
	return wire.Equal(a, b)
}

// Read returns the latest result for key: evaluated, or the fallback.
func (b *Binder) Read(key string) (wire.Result, bool) {
	return b.store.Read(key)
}

// Snapshot returns all current results. The map must not be modified.
func (b *Binder) Snapshot() map[string]wire.Result {
	return b.store.Snapshot()
}

// Value returns the value to show for key: the latest result if there is
// one, otherwise the declared raw value.
func (b *Binder) Value(key string) string {
	if res, ok := b.store.Read(key); ok {
		return res.Value
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, f := range b.fields {
		if f.Key == key {
			return f.Raw
		}
	}
	return ""
}

// State returns the state of the registered subscription for key.
func (b *Binder) State(key string) (State, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sub := b.registry.Get(key)
	if sub == nil {
		return 0, false
	}
	return sub.State, true
}

// Keys returns the keys with a registered subscription.
func (b *Binder) Keys() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.registry.Keys()
}

// Fields returns the declared fields.
func (b *Binder) Fields() []Field {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Clone(b.fields)
}

// Phase returns the lifecycle phase of the owner.
func (b *Binder) Phase() Phase {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.phaseLocked()
}

func (b *Binder) phaseLocked() Phase {
	if !b.attached {
		return PhaseDetached
	}
	for _, sub := range b.registry.subs {
		if sub.State == StateConnecting {
			return PhaseConnecting
		}
	}
	return PhaseConnected
}

func (b *Binder) notify(change *Change) {
	if change != nil && b.config.OnChange != nil {
		b.config.OnChange(*change)
	}
}

func (b *Binder) debugLog(msg string, args ...any) {
	if b.logger != nil {
		b.logger.Debug(msg, append([]any{"owner", b.owner}, args...)...)
	}
}
