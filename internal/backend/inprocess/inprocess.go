// Package inprocess implements the Backend.InProcess variant (§4.10):
// the debuggee runs in the same address space, so every method is a
// direct call and events are delivered through a plain Go channel
// instead of a correlated IPC round-trip. It drives a tiny scripted
// in-memory "program" — a fixed sequence of source lines per file — which
// stands in for the actual script execution engine the core deliberately
// leaves out of scope (§1 Non-goals): enough behavior to exercise every
// Backend method and the stop/resume coordination faithfully, without
// implementing a real interpreter.
package inprocess

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/google/go-dap"
	"github.com/pkg/errors"

	"github.com/cranehill/dapper/internal/backend"
	"github.com/cranehill/dapper/internal/session"
)

// Line is one executable line of the scripted program.
type Line struct {
	Text string
	// Locals lists the variable bindings visible once this line has
	// executed, value keyed by name.
	Locals map[string]string
}

// Program is the fixed, in-memory script a Backend drives. Real variable
// mutation (for setVariable/hot reload demonstrations) is modeled by
// letting the program mutate its own Locals between steps.
type Program struct {
	Path  string
	Lines []Line // 1-indexed by convention: Lines[0] is line 1
}

// Backend is the InProcess backend implementation.
type Backend struct {
	mu sync.Mutex

	program *Program
	pc      int // current 1-indexed line

	events chan backend.Event

	mainThread int

	stepping bool

	terminated bool

	stopOnEntry     bool
	lineBreakpoints map[int]bool
}

var _ backend.Backend = (*Backend)(nil)

// New constructs an InProcess backend stopped at line 1 of program,
// emitting no events until Run is called.
func New(program *Program) *Backend {
	return &Backend{
		program:         program,
		pc:              1,
		events:          make(chan backend.Event, 64),
		mainThread:      1,
		lineBreakpoints: make(map[int]bool),
	}
}

// SetStopOnEntry configures whether ConfigurationDone stops at line 1
// instead of running to the first breakpoint, mirroring the launch
// argument of the same name. Must be called before ConfigurationDone.
func (b *Backend) SetStopOnEntry(v bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stopOnEntry = v
}

func (b *Backend) IsAvailable() bool { return !b.terminated }

func (b *Backend) Events() <-chan backend.Event { return b.events }

// Run emits the main thread's thread-started event and, when stopOnEntry
// is set, a stopped(entry) event; it does not move pc. For the InProcess
// backend, "running" is caller-driven: ConfigurationDone calls Run and
// then, without stopOnEntry, advances to the first breakpoint through
// StepToBreakpoint.
func (b *Backend) Run(stopOnEntry bool) {
	b.events <- backend.Event{Kind: "thread", Body: backend.ThreadBody{ThreadID: b.mainThread, Started: true, Name: "main"}}
	if stopOnEntry {
		b.emitStopped("entry", nil)
	}
}

func (b *Backend) emitStopped(reason string, dataIDs []string) {
	b.events <- backend.Event{Kind: "stopped", Body: backend.StoppedBody{
		Reason:            reason,
		ThreadID:          b.mainThread,
		AllThreadsStopped: true,
		DataIDs:           dataIDs,
	}}
}

func (b *Backend) currentLine() *Line {
	if b.pc < 1 || b.pc > len(b.program.Lines) {
		return nil
	}
	return &b.program.Lines[b.pc-1]
}

// StepToBreakpoint advances pc line by line (simulating execution)
// until it reaches a line present in lineNumbers, or runs off the end of
// the program (in which case it reports exited).
func (b *Backend) StepToBreakpoint(lineNumbers map[int]bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for {
		b.pc++
		if b.pc > len(b.program.Lines) {
			if !b.terminated {
				b.terminated = true
				b.events <- backend.Event{Kind: "exited", Body: backend.ExitedBody{ExitCode: 0}}
				close(b.events)
			}
			return
		}
		if lineNumbers[b.pc] {
			b.emitStopped("breakpoint", nil)
			return
		}
	}
}

func (b *Backend) SetLineBreakpoints(ctx context.Context, path string, specs []session.LineBreakpoint) ([]*session.LineBreakpoint, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if path == b.program.Path {
		b.lineBreakpoints = make(map[int]bool, len(specs))
	}

	out := make([]*session.LineBreakpoint, 0, len(specs))
	for _, spec := range specs {
		bp := spec
		bp.Verified = path == b.program.Path && bp.Line >= 1 && bp.Line <= len(b.program.Lines)
		if bp.Verified {
			b.lineBreakpoints[bp.Line] = true
		}
		out = append(out, &bp)
	}
	return out, nil
}

func (b *Backend) snapshotLineBreakpoints() map[int]bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[int]bool, len(b.lineBreakpoints))
	for line := range b.lineBreakpoints {
		out[line] = true
	}
	return out
}

func (b *Backend) SetFunctionBreakpoints(ctx context.Context, specs []session.FunctionBreakpoint) ([]*session.FunctionBreakpoint, error) {
	out := make([]*session.FunctionBreakpoint, 0, len(specs))
	for _, spec := range specs {
		bp := spec
		out = append(out, &bp)
	}
	return out, nil
}

func (b *Backend) SetExceptionBreakpoints(ctx context.Context, filters session.ExceptionFilters) error {
	return nil
}

func (b *Backend) DataBreakpointInfo(ctx context.Context, frameID int, name, expr string) (string, []session.AccessType, error) {
	return session.DataID(frameID, name, expr), []session.AccessType{session.AccessWrite}, nil
}

func (b *Backend) SetDataBreakpoints(ctx context.Context, watches []*session.DataWatch) error {
	return nil
}

// ConfigurationDone starts the scripted program (§4.4: the configuration
// gate opens, then execution begins). Per stopOnEntry it either stops
// immediately at line 1 or runs straight to the first breakpoint, the
// same branch Continue takes on every subsequent resume.
func (b *Backend) ConfigurationDone(ctx context.Context) error {
	b.mu.Lock()
	stopOnEntry := b.stopOnEntry
	b.mu.Unlock()

	b.Run(stopOnEntry)
	if !stopOnEntry {
		go b.StepToBreakpoint(b.snapshotLineBreakpoints())
	}
	return nil
}

func (b *Backend) Continue(ctx context.Context, threadID int) (bool, error) {
	go b.StepToBreakpoint(b.snapshotLineBreakpoints())
	return b.AllThreadsContinuedPolicy(), nil
}

func (b *Backend) Next(ctx context.Context, threadID int, granularity string) error {
	b.mu.Lock()
	b.pc++
	stopped := b.pc <= len(b.program.Lines)
	b.mu.Unlock()

	if !stopped {
		b.mu.Lock()
		defer b.mu.Unlock()
		if !b.terminated {
			b.terminated = true
			b.events <- backend.Event{Kind: "exited", Body: backend.ExitedBody{ExitCode: 0}}
			close(b.events)
		}
		return nil
	}
	b.emitStopped("step", nil)
	return nil
}

func (b *Backend) StepIn(ctx context.Context, threadID int, granularity string) error {
	return b.Next(ctx, threadID, granularity)
}

func (b *Backend) StepOut(ctx context.Context, threadID int, granularity string) error {
	return b.Next(ctx, threadID, granularity)
}

func (b *Backend) Pause(ctx context.Context, threadID int) (bool, error) {
	b.emitStopped("pause", nil)
	return true, nil
}

func (b *Backend) StackTrace(ctx context.Context, threadID, startFrame, levels int) ([]session.Frame, int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	line := b.currentLine()
	if line == nil {
		return nil, 0, nil
	}
	frames := []session.Frame{{
		ID:     1,
		Name:   fmt.Sprintf("line%d", b.pc),
		Source: &dap.Source{Name: b.program.Path, Path: b.program.Path},
		Line:   b.pc,
		Column: 1,
	}}
	if startFrame < len(frames) {
		frames = frames[startFrame:]
	} else {
		frames = nil
	}
	if levels > 0 && levels < len(frames) {
		frames = frames[:levels]
	}
	return frames, 1, nil
}

func (b *Backend) Scopes(ctx context.Context, frameID int) ([]backend.ScopeDescriptor, error) {
	return []backend.ScopeDescriptor{{Name: "Locals", PresentationHint: "locals", BackendRef: frameID}}, nil
}

func (b *Backend) Variables(ctx context.Context, backendRef int, filter string, start, count int) ([]dap.Variable, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	line := b.currentLine()
	if line == nil {
		return nil, nil
	}
	out := make([]dap.Variable, 0, len(line.Locals))
	for name, value := range line.Locals {
		out = append(out, dap.Variable{Name: name, Value: value})
	}
	return out, nil
}

func (b *Backend) SetVariable(ctx context.Context, variablesReference int, name, value string) (string, string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	line := b.currentLine()
	if line == nil {
		return "", "", errors.New("no current frame")
	}
	if line.Locals == nil {
		line.Locals = map[string]string{}
	}
	line.Locals[name] = value
	return value, "str", nil
}

func (b *Backend) SetExpression(ctx context.Context, frameID int, expression, value string) (string, string, error) {
	return b.SetVariable(ctx, 0, expression, value)
}

func (b *Backend) Evaluate(ctx context.Context, frameID int, expression, exprContext string) (string, string, int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	line := b.currentLine()
	if line != nil {
		if v, ok := line.Locals[expression]; ok {
			return v, "str", 0, nil
		}
	}
	if n, err := strconv.Atoi(expression); err == nil {
		return strconv.Itoa(n), "int", 0, nil
	}
	return "", "", 0, errors.Errorf("unknown expression %q", expression)
}

func (b *Backend) Completions(ctx context.Context, frameID int, text string, column int) ([]dap.CompletionItem, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	line := b.currentLine()
	if line == nil {
		return nil, nil
	}
	out := make([]dap.CompletionItem, 0, len(line.Locals))
	for name := range line.Locals {
		out = append(out, dap.CompletionItem{Label: name})
	}
	return out, nil
}

func (b *Backend) ExceptionInfo(ctx context.Context, threadID int) (dap.ExceptionInfoResponseBody, error) {
	return dap.ExceptionInfoResponseBody{}, errors.New("no active exception")
}

func (b *Backend) Source(ctx context.Context, sourceReference int) (string, string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var sb []byte
	for _, l := range b.program.Lines {
		sb = append(sb, l.Text+"\n"...)
	}
	return string(sb), "text/plain", nil
}

func (b *Backend) ReloadModule(ctx context.Context, path string, opts backend.HotReloadOptions) (backend.HotReloadResult, error) {
	return backend.HotReloadResult{}, nil
}

// AllThreadsContinuedPolicy is true: the InProcess backend is a single
// cooperative goroutine driving one program counter, i.e. a single global
// run-queue (Open Question #1's policy for this variant).
func (b *Backend) AllThreadsContinuedPolicy() bool { return true }

func (b *Backend) Terminate(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.terminated {
		return nil
	}
	b.terminated = true
	close(b.events)
	return nil
}
