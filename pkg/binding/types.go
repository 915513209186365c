package binding

import (
	"sync"

	"github.com/tmplbind/tmplbind-go/pkg/channel"
	"github.com/tmplbind/tmplbind-go/pkg/wire"
)

// Field is one configurable slot of an owner.
type Field struct {
	// Key names the field. Unique within an owner.
	Key string

	// Raw is the configured value, possibly a template.
	Raw string

	// Variables are made visible to the template.
	Variables map[string]any
}

// State is the state of a subscription.
type State uint8

// Subscription states.
const (
	StateConnecting State = iota
	StateActive
	StateError
	StateReleased
)

var stateNames = map[State]string{
	StateConnecting: "connecting",
	StateActive:     "active",
	StateError:      "error",
	StateReleased:   "released",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

// Phase is the lifecycle phase of an owner.
type Phase uint8

// Owner phases.
const (
	PhaseDetached Phase = iota
	PhaseConnecting
	PhaseConnected
)

func (p Phase) String() string {
	switch p {
	case PhaseDetached:
		return "detached"
	case PhaseConnecting:
		return "connecting"
	case PhaseConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// Subscription is one live binding of a field. It belongs to exactly one
// Binder's Registry; its State is guarded by that Binder.
type Subscription struct {
	Key       string
	Template  string
	Variables map[string]any
	State     State

	// ready is closed once the subscribe call returned. cancel and err
	// are set before that and never change afterwards.
	ready  chan struct{}
	cancel channel.CancelFunc
	err    error

	releaseOnce sync.Once
}

func newSubscription(f Field) *Subscription {
	return &Subscription{
		Key:       f.Key,
		Template:  f.Raw,
		Variables: f.Variables,
		State:     StateConnecting,
		ready:     make(chan struct{}),
	}
}

// resolved reports whether the subscribe call has returned.
func (s *Subscription) resolved() bool {
	select {
	case <-s.ready:
		return true
	default:
		return false
	}
}

// Change is published after every store update.
type Change struct {
	Owner  string
	Key    string
	Result wire.Result

	// Fallback is true when Result carries the raw value because
	// evaluation failed.
	Fallback bool
}

// Fallback returns the result published for f when evaluation is not
// available: the raw value and no listeners, so it cannot be mistaken for
// a live result.
func Fallback(f Field) wire.Result {
	return wire.Result{Value: f.Raw}
}
