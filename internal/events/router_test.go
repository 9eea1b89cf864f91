package events

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/google/go-dap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cranehill/dapper/internal/backend"
	"github.com/cranehill/dapper/internal/backend/external"
	"github.com/cranehill/dapper/internal/session"
	"github.com/cranehill/dapper/internal/transport"
)

type recordingSender struct {
	mu     sync.Mutex
	events []dap.EventMessage
}

func (s *recordingSender) SendEvent(ev dap.EventMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

func (s *recordingSender) all() []dap.EventMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]dap.EventMessage, len(s.events))
	copy(out, s.events)
	return out
}

func runOne(t *testing.T, r *Router, ev backend.Event) {
	t.Helper()
	ch := make(chan backend.Event, 1)
	ch <- ev
	close(ch)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	r.Run(ctx, ch)
}

func TestRouterStoppedUpdatesSessionAndEmits(t *testing.T) {
	sess := session.New()
	send := &recordingSender{}
	r := New(sess, send, nil)

	runOne(t, r, backend.Event{Kind: "stopped", Body: backend.StoppedBody{
		ThreadID: 1, Reason: "breakpoint", AllThreadsStopped: true,
	}})

	assert.True(t, sess.IsStopped(1))
	evs := send.all()
	require.Len(t, evs, 1)
	stopped, ok := evs[0].(*dap.StoppedEvent)
	require.True(t, ok)
	assert.Equal(t, "breakpoint", stopped.Body.Reason)
	assert.Equal(t, 1, stopped.Body.ThreadId)
}

func TestRouterThreadStartedAndExited(t *testing.T) {
	sess := session.New()
	send := &recordingSender{}
	r := New(sess, send, nil)

	runOne(t, r, backend.Event{Kind: "thread", Body: backend.ThreadBody{ThreadID: 3, Started: true, Name: "worker"}})
	threads := sess.Threads()
	require.Len(t, threads, 1)
	assert.Equal(t, "worker", threads[0].Name)

	evs := send.all()
	require.Len(t, evs, 1)
	te := evs[0].(*dap.ThreadEvent)
	assert.Equal(t, "started", te.Body.Reason)

	runOne(t, r, backend.Event{Kind: "thread", Body: backend.ThreadBody{ThreadID: 3, Started: false}})
	evs = send.all()
	require.Len(t, evs, 2)
	te2 := evs[1].(*dap.ThreadEvent)
	assert.Equal(t, "exited", te2.Body.Reason)
}

func TestRouterExitedInvokesTerminationHook(t *testing.T) {
	sess := session.New()
	send := &recordingSender{}
	r := New(sess, send, nil)

	var gotCode int
	var called bool
	r.OnExited = func(exitCode int) {
		called = true
		gotCode = exitCode
	}

	runOne(t, r, backend.Event{Kind: "exited", Body: backend.ExitedBody{ExitCode: 7}})

	require.True(t, called)
	assert.Equal(t, 7, gotCode)
	evs := send.all()
	require.Len(t, evs, 1)
	ee := evs[0].(*dap.ExitedEvent)
	assert.Equal(t, 7, ee.Body.ExitCode)
}

func TestRouterOutputEvent(t *testing.T) {
	sess := session.New()
	send := &recordingSender{}
	r := New(sess, send, nil)

	runOne(t, r, backend.Event{Kind: "output", Body: backend.OutputBody{
		Category: "stdout", Output: "hello\n",
	}})

	evs := send.all()
	require.Len(t, evs, 1)
	oe := evs[0].(*dap.OutputEvent)
	assert.Equal(t, "hello\n", oe.Body.Output)
	assert.Equal(t, "stdout", oe.Body.Category)
}

func TestRouterStopsOnContextCancel(t *testing.T) {
	sess := session.New()
	send := &recordingSender{}
	r := New(sess, send, nil)

	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan backend.Event)
	done := make(chan struct{})
	go func() {
		r.Run(ctx, ch)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}

func TestRouterUnroutedKindIsIgnoredNotFatal(t *testing.T) {
	sess := session.New()
	send := &recordingSender{}
	r := New(sess, send, nil)

	runOne(t, r, backend.Event{Kind: "mystery"})
	assert.Empty(t, send.all())
}

func TestRouterBreakpointEvent(t *testing.T) {
	sess := session.New()
	send := &recordingSender{}
	r := New(sess, send, nil)

	runOne(t, r, backend.Event{Kind: "breakpoint", Body: backend.BreakpointBody{
		Reason: "changed", ID: 5, Verified: true, Line: 9,
	}})

	evs := send.all()
	require.Len(t, evs, 1)
	be := evs[0].(*dap.BreakpointEvent)
	assert.Equal(t, "changed", be.Body.Reason)
	assert.Equal(t, 5, be.Body.Breakpoint.Id)
	assert.True(t, be.Body.Breakpoint.Verified)
}

func TestRouterModuleEvent(t *testing.T) {
	sess := session.New()
	send := &recordingSender{}
	r := New(sess, send, nil)

	runOne(t, r, backend.Event{Kind: "module", Body: backend.ModuleBody{
		Reason: "new", ID: "mod-1", Name: "widgets", Path: "/tmp/widgets.py",
	}})

	evs := send.all()
	require.Len(t, evs, 1)
	me := evs[0].(*dap.ModuleEvent)
	assert.Equal(t, "new", me.Body.Reason)
	assert.Equal(t, "widgets", me.Body.Module.Name)
}

func TestRouterLoadedSourceEvent(t *testing.T) {
	sess := session.New()
	send := &recordingSender{}
	r := New(sess, send, nil)

	runOne(t, r, backend.Event{Kind: "loadedSource", Body: backend.LoadedSourceBody{
		Reason: "new", Path: "/tmp/x.py",
	}})

	evs := send.all()
	require.Len(t, evs, 1)
	le := evs[0].(*dap.LoadedSourceEvent)
	assert.Equal(t, "new", le.Body.Reason)
	assert.Equal(t, "/tmp/x.py", le.Body.Source.Path)
}

func TestRouterContinuedEventResumesThread(t *testing.T) {
	sess := session.New()
	send := &recordingSender{}
	r := New(sess, send, nil)

	sess.SetStopped(2, "pause")
	require.True(t, sess.IsStopped(2))

	runOne(t, r, backend.Event{Kind: "continued", Body: backend.ContinuedBody{
		ThreadID: 2, AllThreadsContinued: true,
	}})

	assert.False(t, sess.IsStopped(2))
	evs := send.all()
	require.Len(t, evs, 1)
	ce := evs[0].(*dap.ContinuedEvent)
	assert.True(t, ce.Body.AllThreadsContinued)
}

func TestRouterExceptionEventForwardsAsOutput(t *testing.T) {
	sess := session.New()
	send := &recordingSender{}
	r := New(sess, send, nil)

	runOne(t, r, backend.Event{Kind: "exception", Body: backend.ExceptionBody{
		Description: "boom",
	}})

	evs := send.all()
	require.Len(t, evs, 1)
	oe := evs[0].(*dap.OutputEvent)
	assert.Equal(t, "boom", oe.Body.Output)
	assert.Equal(t, "stderr", oe.Body.Category)
}

func TestRouterBodyTypeMismatchIsLoggedNotFatal(t *testing.T) {
	sess := session.New()
	send := &recordingSender{}
	r := New(sess, send, nil)

	runOne(t, r, backend.Event{Kind: "stopped", Body: "not-a-stopped-body"})
	assert.Empty(t, send.all())
}

// TestRouterDrivesExternalEventsEndToEnd exercises the full External ->
// Router path a real out-of-band debuggee would take: a wire event is
// unmarshaled into a typed backend.Event by external.Backend, then fed
// through Router exactly as internal/adapter wires the two together,
// guarding against the typed-body regression this test package otherwise
// never would have caught (every other test here hand-builds backend.Event
// with an already-typed Body).
func TestRouterDrivesExternalEventsEndToEnd(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	be := external.New(transport.NewFrameConn(client))
	defer be.Terminate(context.Background())
	fake := transport.NewFrameConn(server)

	sess := session.New()
	send := &recordingSender{}
	r := New(sess, send, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx, be.Events())

	payload := []byte(`{"event":"stopped","body":{"reason":"breakpoint","threadId":9,"allThreadsStopped":true}}`)
	require.NoError(t, fake.Send(transport.Frame{Kind: 1, Payload: payload}))

	require.Eventually(t, func() bool {
		return sess.IsStopped(9)
	}, 2*time.Second, 10*time.Millisecond)

	evs := send.all()
	require.Len(t, evs, 1)
	se := evs[0].(*dap.StoppedEvent)
	assert.Equal(t, "breakpoint", se.Body.Reason)
	assert.Equal(t, 9, se.Body.ThreadId)
}
