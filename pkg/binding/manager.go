package binding

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/tmplbind/tmplbind-go/pkg/wire"
)

// ErrUnknownOwner is returned for operations on an owner that never
// attached or declared fields.
var ErrUnknownOwner = errors.New("unknown owner")

// Manager keeps one Binder per owner over a shared Evaluator. Owners are
// isolated from each other.
type Manager struct {
	eval   Evaluator
	config Config

	mu      sync.Mutex
	binders map[string]*Binder
}

// NewManager creates a manager subscribing through eval.
func NewManager(eval Evaluator, config Config) *Manager {
	return &Manager{
		eval:    eval,
		config:  config,
		binders: make(map[string]*Binder),
	}
}

func (m *Manager) binder(owner string, create bool) *Binder {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.binders[owner]
	if !ok && create {
		b = NewBinder(owner, m.eval, m.config)
		m.binders[owner] = b
	}
	return b
}

// Attach attaches owner with fields and returns the owner id. An empty
// owner gets a generated id.
func (m *Manager) Attach(ctx context.Context, owner string, fields []Field) (string, error) {
	if owner == "" {
		owner = uuid.NewString()
	}
	return owner, m.binder(owner, true).Attach(ctx, fields)
}

// Detach detaches owner. Unknown owners have nothing to release.
func (m *Manager) Detach(ctx context.Context, owner string) error {
	b := m.binder(owner, false)
	if b == nil {
		return nil
	}
	return b.Detach(ctx)
}

// Retry subscribes the failed template fields of owner again.
func (m *Manager) Retry(ctx context.Context, owner string) error {
	b := m.binder(owner, false)
	if b == nil {
		return ErrUnknownOwner
	}
	return b.Retry(ctx)
}

// Reconfigure replaces the declared fields of owner. See
// Binder.Reconfigure.
func (m *Manager) Reconfigure(ctx context.Context, owner string, fields []Field) error {
	return m.binder(owner, true).Reconfigure(ctx, fields)
}

// Read returns the latest result for key of owner.
func (m *Manager) Read(owner, key string) (wire.Result, bool) {
	b := m.binder(owner, false)
	if b == nil {
		return wire.Result{}, false
	}
	return b.Read(key)
}

// Value returns the value to show for key of owner.
func (m *Manager) Value(owner, key string) string {
	b := m.binder(owner, false)
	if b == nil {
		return ""
	}
	return b.Value(key)
}

// Binder returns the binder of owner, or nil.
func (m *Manager) Binder(owner string) *Binder {
	return m.binder(owner, false)
}

// Owners returns the known owner ids in sorted order.
func (m *Manager) Owners() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	owners := make([]string, 0, len(m.binders))
	for id := range m.binders {
		owners = append(owners, id)
	}
	sort.Strings(owners)
	return owners
}

// Remove detaches owner and forgets it.
func (m *Manager) Remove(ctx context.Context, owner string) error {
	m.mu.Lock()
	b, ok := m.binders[owner]
	delete(m.binders, owner)
	m.mu.Unlock()

	if !ok {
		return nil
	}
	return b.Detach(ctx)
}

// Close detaches every owner concurrently and returns the joined errors.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	binders := make([]*Binder, 0, len(m.binders))
	for _, b := range m.binders {
		binders = append(binders, b)
	}
	m.mu.Unlock()

	errs := make([]error, len(binders))
	var wg sync.WaitGroup
	for i, b := range binders {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = b.Detach(ctx)
		}()
	}
	wg.Wait()
	return errors.Join(errs...)
}
