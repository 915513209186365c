package binding

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tmplbind/tmplbind-go/pkg/channel"
	"github.com/tmplbind/tmplbind-go/pkg/wire"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

type fakeSub struct {
	req      channel.SubscribeRequest
	listener channel.Listener
	cancels  atomic.Int32
}

// fakeEvaluator records subscribes. Templates can be held so their
// subscribe call blocks, and rejected so it fails.
type fakeEvaluator struct {
	mu        sync.Mutex
	subs      []*fakeSub
	calls     map[string]int
	gates     map[string]chan struct{}
	reject    map[string]error
	cancelErr error
}

func newFakeEvaluator() *fakeEvaluator {
	return &fakeEvaluator{
		calls:  make(map[string]int),
		gates:  make(map[string]chan struct{}),
		reject: make(map[string]error),
	}
}

func (f *fakeEvaluator) Subscribe(ctx context.Context, req channel.SubscribeRequest, listener channel.Listener) (channel.CancelFunc, error) {
	f.mu.Lock()
	f.calls[req.Template]++
	gate := f.gates[req.Template]
	f.mu.Unlock()

	if gate != nil {
		<-gate
	}

	f.mu.Lock()
	err := f.reject[req.Template]
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}

	sub := &fakeSub{req: req, listener: listener}
	f.mu.Lock()
	f.subs = append(f.subs, sub)
	f.mu.Unlock()

	return func(context.Context) error {
		sub.cancels.Add(1)
		f.mu.Lock()
		defer f.mu.Unlock()
		return f.cancelErr
	}, nil
}

func (f *fakeEvaluator) hold(template string) (release func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	gate := make(chan struct{})
	f.gates[template] = gate
	return func() {
		f.mu.Lock()
		delete(f.gates, template)
		f.mu.Unlock()
		close(gate)
	}
}

func (f *fakeEvaluator) rejectWith(template string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.reject, template)
		return
	}
	f.reject[template] = err
}

func (f *fakeEvaluator) setCancelErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelErr = err
}

func (f *fakeEvaluator) callCount(template string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[template]
}

func (f *fakeEvaluator) all() []*fakeSub {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*fakeSub(nil), f.subs...)
}

func (f *fakeEvaluator) latest(template string) *fakeSub {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.subs) - 1; i >= 0; i-- {
		if f.subs[i].req.Template == template {
			return f.subs[i]
		}
	}
	return nil
}

// emit delivers res to the newest subscription of template.
func (f *fakeEvaluator) emit(t *testing.T, template string, res wire.Result) {
	t.Helper()
	var sub *fakeSub
	require.Eventually(t, func() bool {
		sub = f.latest(template)
		return sub != nil
	}, waitFor, tick)
	sub.listener(&res, nil)
}

type changeLog struct {
	mu      sync.Mutex
	changes []Change
}

func (c *changeLog) record(ch Change) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.changes = append(c.changes, ch)
}

func (c *changeLog) last(key string) (Change, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.changes) - 1; i >= 0; i-- {
		if c.changes[i].Key == key {
			return c.changes[i], true
		}
	}
	return Change{}, false
}

func newTestBinder(eval Evaluator) (*Binder, *changeLog) {
	changes := &changeLog{}
	return NewBinder("card", eval, Config{OnChange: changes.record}), changes
}

func waitState(t *testing.T, b *Binder, key string, want State) {
	t.Helper()
	require.Eventually(t, func() bool {
		s, ok := b.State(key)
		return ok && s == want
	}, waitFor, tick, "key %s never reached %s", key, want)
}

func TestAttachIsIdempotent(t *testing.T) {
	eval := newFakeEvaluator()
	b, _ := newTestBinder(eval)
	fields := []Field{{Key: "title", Raw: "{{ states('sun.sun') }}"}}

	require.NoError(t, b.Attach(context.Background(), fields))
	require.NoError(t, b.Attach(context.Background(), fields))

	require.Eventually(t, func() bool { return len(eval.all()) == 1 }, waitFor, tick)
	assert.Equal(t, 1, eval.callCount("{{ states('sun.sun') }}"))
	assert.Equal(t, []string{"title"}, b.Keys())

	eval.emit(t, "{{ states('sun.sun') }}", wire.Result{Value: "above_horizon"})
	waitState(t, b, "title", StateActive)

	require.NoError(t, b.Attach(context.Background(), fields))
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, eval.callCount("{{ states('sun.sun') }}"))
}

func TestDetachReleasesEverything(t *testing.T) {
	eval := newFakeEvaluator()
	b, _ := newTestBinder(eval)

	require.NoError(t, b.Attach(context.Background(), []Field{
		{Key: "a", Raw: "{{ a }}"},
		{Key: "b", Raw: "{{ b }}"},
		{Key: "icon", Raw: "mdi:home"},
	}))
	eval.emit(t, "{{ a }}", wire.Result{Value: "1"})
	eval.emit(t, "{{ b }}", wire.Result{Value: "2"})
	waitState(t, b, "a", StateActive)
	waitState(t, b, "b", StateActive)
	assert.Equal(t, PhaseConnected, b.Phase())

	require.NoError(t, b.Detach(context.Background()))

	assert.Empty(t, b.Keys())
	assert.Equal(t, PhaseDetached, b.Phase())
	subs := eval.all()
	require.Len(t, subs, 2)
	for _, sub := range subs {
		assert.Equal(t, int32(1), sub.cancels.Load(), sub.req.Template)
	}

	// Results stay readable after detach.
	res, ok := b.Read("a")
	require.True(t, ok)
	assert.Equal(t, "1", res.Value)
}

func TestRejectedSubscribeFallsBackToRawValue(t *testing.T) {
	eval := newFakeEvaluator()
	eval.rejectWith("{{ bad", &channel.Error{Code: wire.CodeTemplateError, Message: "unexpected end"})
	b, changes := newTestBinder(eval)

	require.NoError(t, b.Attach(context.Background(), []Field{{Key: "title", Raw: "{{ bad"}}))

	require.Eventually(t, func() bool {
		res, ok := b.Read("title")
		return ok && res.Value == "{{ bad"
	}, waitFor, tick)

	res, _ := b.Read("title")
	assert.True(t, res.Listeners.IsEmpty())
	assert.Equal(t, "{{ bad", b.Value("title"))

	change, ok := changes.last("title")
	require.True(t, ok)
	assert.True(t, change.Fallback)
	assert.Equal(t, "card", change.Owner)

	_, registered := b.State("title")
	assert.False(t, registered)
}

func TestResultsForDifferentKeysAreIndependent(t *testing.T) {
	eval := newFakeEvaluator()
	releaseB := eval.hold("{{ b }}")
	b, _ := newTestBinder(eval)

	require.NoError(t, b.Attach(context.Background(), []Field{
		{Key: "a", Raw: "{{ a }}"},
		{Key: "b", Raw: "{{ b }}"},
	}))

	eval.emit(t, "{{ a }}", wire.Result{Value: "A"})
	waitState(t, b, "a", StateActive)
	state, _ := b.State("b")
	assert.Equal(t, StateConnecting, state)
	assert.Equal(t, PhaseConnecting, b.Phase())

	releaseB()
	eval.emit(t, "{{ b }}", wire.Result{Value: "B"})
	waitState(t, b, "b", StateActive)

	eval.emit(t, "{{ a }}", wire.Result{Value: "A2"})
	require.Eventually(t, func() bool { return b.Value("a") == "A2" }, waitFor, tick)
	assert.Equal(t, "B", b.Value("b"))
	assert.Len(t, b.Snapshot(), 2)
}

func TestReattachAfterErrorSubscribesAgain(t *testing.T) {
	eval := newFakeEvaluator()
	eval.rejectWith("{{ k }}", &channel.Error{Code: wire.CodeTemplateError})
	b, _ := newTestBinder(eval)
	fields := []Field{{Key: "k", Raw: "{{ k }}"}}

	require.NoError(t, b.Attach(context.Background(), fields))
	require.Eventually(t, func() bool {
		_, ok := b.Read("k")
		return ok
	}, waitFor, tick)
	require.Eventually(t, func() bool { return len(b.Keys()) == 0 }, waitFor, tick)

	eval.rejectWith("{{ k }}", nil)
	require.NoError(t, b.Detach(context.Background()))
	require.NoError(t, b.Attach(context.Background(), fields))

	require.Eventually(t, func() bool { return eval.callCount("{{ k }}") == 2 }, waitFor, tick)
	eval.emit(t, "{{ k }}", wire.Result{Value: "live"})
	waitState(t, b, "k", StateActive)
	assert.Equal(t, "live", b.Value("k"))
}

func TestRetryResubscribesFailedKeys(t *testing.T) {
	eval := newFakeEvaluator()
	eval.rejectWith("{{ k }}", &channel.Error{Code: wire.CodeTemplateError})
	b, _ := newTestBinder(eval)

	require.NoError(t, b.Attach(context.Background(), []Field{{Key: "k", Raw: "{{ k }}"}}))
	require.Eventually(t, func() bool {
		_, ok := b.Read("k")
		return ok && len(b.Keys()) == 0
	}, waitFor, tick)

	eval.rejectWith("{{ k }}", nil)
	require.NoError(t, b.Retry(context.Background()))
	require.Eventually(t, func() bool { return eval.callCount("{{ k }}") == 2 }, waitFor, tick)
}

func TestDetachSwallowsBenignCancelErrors(t *testing.T) {
	eval := newFakeEvaluator()
	b, _ := newTestBinder(eval)

	require.NoError(t, b.Attach(context.Background(), []Field{{Key: "k", Raw: "{{ k }}"}}))
	require.Eventually(t, func() bool { return len(eval.all()) == 1 }, waitFor, tick)

	eval.setCancelErr(&channel.Error{Code: wire.CodeNotFound})
	require.NoError(t, b.Detach(context.Background()))
	assert.Empty(t, b.Keys())
}

func TestDetachReturnsUnexpectedCancelErrors(t *testing.T) {
	eval := newFakeEvaluator()
	b, _ := newTestBinder(eval)

	require.NoError(t, b.Attach(context.Background(), []Field{{Key: "k", Raw: "{{ k }}"}}))
	require.Eventually(t, func() bool { return len(eval.all()) == 1 }, waitFor, tick)

	eval.setCancelErr(&channel.Error{Code: wire.CodeUnknownError, Message: "boom"})
	err := b.Detach(context.Background())
	require.Error(t, err)
	assert.Equal(t, wire.CodeUnknownError, channel.CodeOf(err))
	assert.Contains(t, err.Error(), "release k")
	assert.Empty(t, b.Keys())
}

func TestDetachAwaitsPendingSubscribe(t *testing.T) {
	eval := newFakeEvaluator()
	release := eval.hold("{{ slow }}")
	b, _ := newTestBinder(eval)

	require.NoError(t, b.Attach(context.Background(), []Field{{Key: "slow", Raw: "{{ slow }}"}}))

	done := make(chan error, 1)
	go func() { done <- b.Detach(context.Background()) }()

	select {
	case <-done:
		t.Fatal("Detach returned before the pending subscribe resolved")
	case <-time.After(30 * time.Millisecond):
	}

	release()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(waitFor):
		t.Fatal("Detach did not finish")
	}

	sub := eval.latest("{{ slow }}")
	require.NotNil(t, sub)
	assert.Equal(t, int32(1), sub.cancels.Load())
	assert.Empty(t, b.Keys())
}

func TestDetachContextExpiryReleasesInBackground(t *testing.T) {
	eval := newFakeEvaluator()
	release := eval.hold("{{ slow }}")
	b, _ := newTestBinder(eval)

	require.NoError(t, b.Attach(context.Background(), []Field{{Key: "slow", Raw: "{{ slow }}"}}))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	err := b.Detach(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Empty(t, b.Keys())

	release()
	require.Eventually(t, func() bool {
		sub := eval.latest("{{ slow }}")
		return sub != nil && sub.cancels.Load() == 1
	}, waitFor, tick)

	// A late result for the released key is ignored.
	eval.latest("{{ slow }}").listener(&wire.Result{Value: "late"}, nil)
	_, ok := b.Read("slow")
	assert.False(t, ok)
}

func TestAttachWaitsForDrainingDetach(t *testing.T) {
	eval := newFakeEvaluator()
	release := eval.hold("{{ k }}")
	b, _ := newTestBinder(eval)
	fields := []Field{{Key: "k", Raw: "{{ k }}"}}

	require.NoError(t, b.Attach(context.Background(), fields))

	detached := make(chan error, 1)
	go func() { detached <- b.Detach(context.Background()) }()
	require.Eventually(t, func() bool {
		b.mu.Lock()
		defer b.mu.Unlock()
		return b.draining != nil
	}, waitFor, tick)

	attached := make(chan error, 1)
	go func() { attached <- b.Attach(context.Background(), fields) }()

	select {
	case <-attached:
		t.Fatal("Attach ran while detach was draining")
	case <-time.After(30 * time.Millisecond):
	}

	release()
	require.NoError(t, <-detached)
	require.NoError(t, <-attached)

	require.Eventually(t, func() bool { return eval.callCount("{{ k }}") == 2 }, waitFor, tick)
	assert.Equal(t, []string{"k"}, b.Keys())
	subs := eval.all()
	require.Len(t, subs, 2)
	assert.Equal(t, int32(1), subs[0].cancels.Load())
}

func TestAttachHonoursContextWhileDraining(t *testing.T) {
	eval := newFakeEvaluator()
	release := eval.hold("{{ k }}")
	defer release()
	b, _ := newTestBinder(eval)

	require.NoError(t, b.Attach(context.Background(), []Field{{Key: "k", Raw: "{{ k }}"}}))
	go func() { _ = b.Detach(context.Background()) }()
	require.Eventually(t, func() bool {
		b.mu.Lock()
		defer b.mu.Unlock()
		return b.draining != nil
	}, waitFor, tick)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, b.Attach(ctx, nil), context.DeadlineExceeded)
}

func TestConcurrentDetachJoinsRunningOne(t *testing.T) {
	eval := newFakeEvaluator()
	release := eval.hold("{{ k }}")
	b, _ := newTestBinder(eval)

	require.NoError(t, b.Attach(context.Background(), []Field{{Key: "k", Raw: "{{ k }}"}}))

	first := make(chan error, 1)
	go func() { first <- b.Detach(context.Background()) }()
	require.Eventually(t, func() bool {
		b.mu.Lock()
		defer b.mu.Unlock()
		return b.draining != nil
	}, waitFor, tick)

	second := make(chan error, 1)
	go func() { second <- b.Detach(context.Background()) }()

	release()
	require.NoError(t, <-first)
	require.NoError(t, <-second)
	assert.Equal(t, int32(1), eval.latest("{{ k }}").cancels.Load())
}

func TestMidStreamErrorFallsBack(t *testing.T) {
	eval := newFakeEvaluator()
	b, changes := newTestBinder(eval)

	require.NoError(t, b.Attach(context.Background(), []Field{{Key: "k", Raw: "{{ k }}"}}))
	eval.emit(t, "{{ k }}", wire.Result{Value: "live"})
	waitState(t, b, "k", StateActive)

	sub := eval.latest("{{ k }}")
	sub.listener(nil, &channel.Error{Code: wire.CodeConnectionLost})

	assert.Equal(t, "{{ k }}", b.Value("k"))
	change, ok := changes.last("k")
	require.True(t, ok)
	assert.True(t, change.Fallback)
	assert.Empty(t, b.Keys())

	require.Eventually(t, func() bool { return sub.cancels.Load() == 1 }, waitFor, tick)

	// The next attach starts over.
	require.NoError(t, b.Attach(context.Background(), b.Fields()))
	require.Eventually(t, func() bool { return eval.callCount("{{ k }}") == 2 }, waitFor, tick)
}

func TestReconfigure(t *testing.T) {
	eval := newFakeEvaluator()
	b, _ := newTestBinder(eval)

	require.NoError(t, b.Attach(context.Background(), []Field{
		{Key: "same", Raw: "{{ same }}", Variables: map[string]any{"x": 1}},
		{Key: "vars", Raw: "{{ vars }}", Variables: map[string]any{"user": "Ada"}},
		{Key: "gone", Raw: "{{ gone }}"},
	}))
	eval.emit(t, "{{ same }}", wire.Result{Value: "s"})
	eval.emit(t, "{{ vars }}", wire.Result{Value: "Hello Ada"})
	eval.emit(t, "{{ gone }}", wire.Result{Value: "g"})
	waitState(t, b, "same", StateActive)
	waitState(t, b, "vars", StateActive)
	waitState(t, b, "gone", StateActive)

	oldVars := eval.latest("{{ vars }}")
	gone := eval.latest("{{ gone }}")

	require.NoError(t, b.Reconfigure(context.Background(), []Field{
		{Key: "same", Raw: "{{ same }}", Variables: map[string]any{"x": 1}},
		{Key: "vars", Raw: "{{ vars }}", Variables: map[string]any{"user": "Grace"}},
	}))

	assert.Equal(t, int32(1), oldVars.cancels.Load())
	assert.Equal(t, int32(1), gone.cancels.Load())
	assert.Equal(t, 1, eval.callCount("{{ same }}"))

	_, ok := b.Read("gone")
	assert.False(t, ok)

	var fresh *fakeSub
	require.Eventually(t, func() bool {
		fresh = eval.latest("{{ vars }}")
		return fresh != nil && fresh != oldVars
	}, waitFor, tick)
	assert.Equal(t, "Grace", fresh.req.Variables["user"])

	// Stale results of the replaced subscription are ignored.
	oldVars.listener(&wire.Result{Value: "Hello Ada again"}, nil)
	assert.Equal(t, "Hello Ada", b.Value("vars"))

	eval.emit(t, "{{ vars }}", wire.Result{Value: "Hello Grace"})
	require.Eventually(t, func() bool { return b.Value("vars") == "Hello Grace" }, waitFor, tick)
}

func TestReconfigureWhileDetachedOnlyDeclares(t *testing.T) {
	eval := newFakeEvaluator()
	b, _ := newTestBinder(eval)

	require.NoError(t, b.Reconfigure(context.Background(), []Field{{Key: "k", Raw: "{{ k }}"}}))
	assert.Empty(t, b.Keys())
	assert.Equal(t, 0, eval.callCount("{{ k }}"))
	assert.Equal(t, "{{ k }}", b.Value("k"))
}

func TestStrictFlagIsForwarded(t *testing.T) {
	eval := newFakeEvaluator()
	b := NewBinder("card", eval, Config{Strict: true})

	require.NoError(t, b.Attach(context.Background(), []Field{{Key: "k", Raw: "{{ k }}"}}))
	require.Eventually(t, func() bool { return eval.latest("{{ k }}") != nil }, waitFor, tick)
	assert.True(t, eval.latest("{{ k }}").req.Strict)
}

func TestDetachWithClosedChannelIsClean(t *testing.T) {
	eval := newFakeEvaluator()
	b, _ := newTestBinder(eval)

	require.NoError(t, b.Attach(context.Background(), []Field{{Key: "k", Raw: "{{ k }}"}}))
	require.Eventually(t, func() bool { return len(eval.all()) == 1 }, waitFor, tick)

	eval.setCancelErr(fmt.Errorf("unsubscribe: %w", channel.ErrClientClosed))
	require.NoError(t, b.Detach(context.Background()))
}
