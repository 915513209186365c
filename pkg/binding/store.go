package binding

import (
	"maps"
	"sync"
	"sync/atomic"

	"github.com/tmplbind/tmplbind-go/pkg/wire"
)

// Store holds the latest result per key as an immutable snapshot. Writers
// copy the snapshot, so readers never see a partial update and an update
// for one key never disturbs another.
type Store struct {
	mu       sync.Mutex
	snapshot atomic.Pointer[map[string]wire.Result]
}

// NewStore returns an empty store.
func NewStore() *Store {
	s := &Store{}
	empty := map[string]wire.Result{}
	s.snapshot.Store(&empty)
	return s
}

// Update sets the result for key.
func (s *Store) Update(key string, res wire.Result) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := maps.Clone(*s.snapshot.Load())
	next[key] = res
	s.snapshot.Store(&next)
}

// Delete drops the result for key.
func (s *Store) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := *s.snapshot.Load()
	if _, ok := cur[key]; !ok {
		return
	}
	next := maps.Clone(cur)
	delete(next, key)
	s.snapshot.Store(&next)
}

// Read returns the result for key.
func (s *Store) Read(key string) (wire.Result, bool) {
	res, ok := (*s.snapshot.Load())[key]
	return res, ok
}

// Snapshot returns the current results. The map must not be modified.
func (s *Store) Snapshot() map[string]wire.Result {
	return *s.snapshot.Load()
}
