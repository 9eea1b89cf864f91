package external

import (
	"context"
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cranehill/dapper/internal/backend"
	"github.com/cranehill/dapper/internal/transport"
)

// fakeDebuggee wraps the far end of a net.Pipe as a FrameConn and lets
// tests answer exactly one correlated command, or push an unsolicited
// event, without implementing a whole protocol.
type fakeDebuggee struct {
	conn transport.FrameConn
}

func newFakeDebuggeePair(t *testing.T) (*Backend, *fakeDebuggee) {
	t.Helper()
	client, server := net.Pipe()
	t.Cleanup(func() { client.Close(); server.Close() })

	be := New(transport.NewFrameConn(client))
	t.Cleanup(func() { _ = be.Terminate(context.Background()) })

	return be, &fakeDebuggee{conn: transport.NewFrameConn(server)}
}

func (f *fakeDebuggee) respondToNext(t *testing.T, wantCommand string, body any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	frame, err := f.conn.Recv(ctx)
	require.NoError(t, err)

	var cmd struct {
		Command string `json:"command"`
		ID      int64  `json:"id"`
	}
	require.NoError(t, json.Unmarshal(frame.Payload, &cmd))
	require.Equal(t, wantCommand, cmd.Command)

	bodyBytes, err := json.Marshal(body)
	require.NoError(t, err)

	resp, err := json.Marshal(inbound{ID: cmd.ID, Success: true, Body: bodyBytes})
	require.NoError(t, err)
	require.NoError(t, f.conn.Send(transport.Frame{Kind: 1, Payload: resp}))
}

func (f *fakeDebuggee) sendEvent(t *testing.T, event string, body any) {
	t.Helper()
	bodyBytes, err := json.Marshal(body)
	require.NoError(t, err)
	frame, err := json.Marshal(inbound{Event: event, Body: bodyBytes})
	require.NoError(t, err)
	require.NoError(t, f.conn.Send(transport.Frame{Kind: 1, Payload: frame}))
}

func TestExternalContinueRoundTrip(t *testing.T) {
	be, fake := newFakeDebuggeePair(t)

	done := make(chan struct {
		ok  bool
		err error
	}, 1)
	go func() {
		ok, err := be.Continue(context.Background(), 1)
		done <- struct {
			ok  bool
			err error
		}{ok, err}
	}()

	fake.respondToNext(t, "continue", map[string]any{"allThreadsContinued": true})

	select {
	case r := <-done:
		require.NoError(t, r.err)
		require.True(t, r.ok)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for Continue")
	}
}

func TestExternalFailedCommandSurfacesError(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	be := New(transport.NewFrameConn(client))
	defer be.Terminate(context.Background())
	fake := &fakeDebuggee{conn: transport.NewFrameConn(server)}

	done := make(chan error, 1)
	go func() {
		_, err := be.Pause(context.Background(), 1)
		done <- err
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	frame, err := fake.conn.Recv(ctx)
	require.NoError(t, err)

	var cmd struct {
		ID int64 `json:"id"`
	}
	require.NoError(t, json.Unmarshal(frame.Payload, &cmd))

	resp, err := json.Marshal(inbound{ID: cmd.ID, Success: false, Message: "no such thread"})
	require.NoError(t, err)
	require.NoError(t, fake.conn.Send(transport.Frame{Kind: 1, Payload: resp}))

	select {
	case err := <-done:
		require.ErrorContains(t, err, "no such thread")
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for Pause error")
	}
}

func TestExternalEventsAreRoutedNotCorrelated(t *testing.T) {
	be, fake := newFakeDebuggeePair(t)

	fake.sendEvent(t, "thread", map[string]any{"threadId": 7, "started": true, "name": "worker"})

	select {
	case ev := <-be.Events():
		require.Equal(t, "thread", ev.Kind)
		body, ok := ev.Body.(backend.ThreadBody)
		require.True(t, ok, "event body must decode to backend.ThreadBody, got %T", ev.Body)
		require.Equal(t, 7, body.ThreadID)
		require.True(t, body.Started)
		require.Equal(t, "worker", body.Name)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for routed event")
	}
}

func TestExternalStoppedEventDecodesTypedBody(t *testing.T) {
	be, fake := newFakeDebuggeePair(t)

	fake.sendEvent(t, "stopped", map[string]any{
		"reason":            "breakpoint",
		"threadId":          3,
		"allThreadsStopped": true,
	})

	select {
	case ev := <-be.Events():
		require.Equal(t, "stopped", ev.Kind)
		body, ok := ev.Body.(backend.StoppedBody)
		require.True(t, ok, "event body must decode to backend.StoppedBody, got %T", ev.Body)
		require.Equal(t, "breakpoint", body.Reason)
		require.Equal(t, 3, body.ThreadID)
		require.True(t, body.AllThreadsStopped)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for routed event")
	}
}

func TestExternalExitedEventDecodesTypedBody(t *testing.T) {
	be, fake := newFakeDebuggeePair(t)

	fake.sendEvent(t, "exited", map[string]any{"exitCode": 42})

	select {
	case ev := <-be.Events():
		require.Equal(t, "exited", ev.Kind)
		body, ok := ev.Body.(backend.ExitedBody)
		require.True(t, ok, "event body must decode to backend.ExitedBody, got %T", ev.Body)
		require.Equal(t, 42, body.ExitCode)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for routed event")
	}
}

func TestExternalTerminateIsIdempotent(t *testing.T) {
	be, fake := newFakeDebuggeePair(t)

	go fake.respondToNext(t, "terminate", map[string]any{})

	require.NoError(t, be.Terminate(context.Background()))
	require.NoError(t, be.Terminate(context.Background()))
	require.False(t, be.IsAvailable())
}

func TestExternalAllThreadsContinuedDefaultsFalse(t *testing.T) {
	be, _ := newFakeDebuggeePair(t)
	require.False(t, be.AllThreadsContinuedPolicy())
}
