package inprocess

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cranehill/dapper/internal/backend"
	"github.com/cranehill/dapper/internal/session"
)

func testProgram() *Program {
	return &Program{
		Path: "/tmp/x.py",
		Lines: []Line{
			{Text: "x = 1", Locals: map[string]string{"x": "1"}},
			{Text: "y = 2", Locals: map[string]string{"x": "1", "y": "2"}},
			{Text: "print(x, y)", Locals: map[string]string{"x": "1", "y": "2"}},
			{Text: "z = 3", Locals: map[string]string{"x": "1", "y": "2", "z": "3"}},
		},
	}
}

func TestInProcessStackTraceReflectsCurrentLine(t *testing.T) {
	b := New(testProgram())
	ctx := context.Background()

	frames, total, err := b.StackTrace(ctx, 1, 0, 0)
	require.NoError(t, err)
	require.Equal(t, 1, total)
	assert.Equal(t, 1, frames[0].Line)
}

func TestInProcessNextAdvancesAndStops(t *testing.T) {
	b := New(testProgram())
	ctx := context.Background()

	go func() {
		<-b.Events()
	}()
	require.NoError(t, b.Next(ctx, 1, "line"))

	frames, _, err := b.StackTrace(ctx, 1, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, frames[0].Line)
}

func TestInProcessStepsOffEndExits(t *testing.T) {
	b := New(&Program{Path: "/tmp/short.py", Lines: []Line{{Text: "x = 1"}}})
	ctx := context.Background()

	events := make(chan backend.Event, 8)
	go func() {
		for ev := range b.Events() {
			events <- ev
		}
		close(events)
	}()

	require.NoError(t, b.Next(ctx, 1, "line"))

	var sawExited bool
	for ev := range events {
		if ev.Kind == "exited" {
			sawExited = true
		}
	}
	assert.True(t, sawExited)
}

func TestInProcessEvaluateReadsLocal(t *testing.T) {
	b := New(testProgram())
	ctx := context.Background()

	result, typ, _, err := b.Evaluate(ctx, 1, "x", "repl")
	require.NoError(t, err)
	assert.Equal(t, "1", result)
	assert.Equal(t, "str", typ)
}

func TestInProcessSetVariableMutatesLocal(t *testing.T) {
	b := New(testProgram())
	ctx := context.Background()

	_, _, err := b.SetVariable(ctx, 0, "x", "42")
	require.NoError(t, err)

	result, _, _, err := b.Evaluate(ctx, 1, "x", "repl")
	require.NoError(t, err)
	assert.Equal(t, "42", result)
}

func TestInProcessTerminateIsIdempotent(t *testing.T) {
	b := New(testProgram())
	ctx := context.Background()
	require.NoError(t, b.Terminate(ctx))
	require.NoError(t, b.Terminate(ctx))
	assert.False(t, b.IsAvailable())
}

func TestInProcessAllThreadsContinuedAlwaysTrue(t *testing.T) {
	b := New(testProgram())
	assert.True(t, b.AllThreadsContinuedPolicy())
}

func TestInProcessConfigurationDoneRunsToBreakpoint(t *testing.T) {
	b := New(testProgram())
	ctx := context.Background()

	_, err := b.SetLineBreakpoints(ctx, "/tmp/x.py", []session.LineBreakpoint{{Line: 3}})
	require.NoError(t, err)

	events := make(chan backend.Event, 8)
	go func() {
		for ev := range b.Events() {
			events <- ev
		}
	}()

	require.NoError(t, b.ConfigurationDone(ctx))

	var sawStoppedAtBreakpoint bool
	for i := 0; i < 2; i++ {
		select {
		case ev := <-events:
			if ev.Kind == "stopped" {
				body := ev.Body.(backend.StoppedBody)
				if body.Reason == "breakpoint" {
					sawStoppedAtBreakpoint = true
				}
			}
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for stopped event")
		}
	}
	assert.True(t, sawStoppedAtBreakpoint)

	frames, _, err := b.StackTrace(ctx, 1, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, frames[0].Line)
}

func TestInProcessStopOnEntrySkipsAutoRun(t *testing.T) {
	b := New(testProgram())
	b.SetStopOnEntry(true)
	ctx := context.Background()

	events := make(chan backend.Event, 8)
	go func() {
		for ev := range b.Events() {
			events <- ev
		}
	}()

	require.NoError(t, b.ConfigurationDone(ctx))

	var sawEntry bool
	for i := 0; i < 2; i++ {
		select {
		case ev := <-events:
			if ev.Kind == "stopped" && ev.Body.(backend.StoppedBody).Reason == "entry" {
				sawEntry = true
			}
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for entry stop")
		}
	}
	assert.True(t, sawEntry)

	frames, _, err := b.StackTrace(ctx, 1, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, frames[0].Line)
}
