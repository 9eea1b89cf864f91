// Package external implements the Backend.External variant (§4.10): the
// debuggee is a child process reached over the binary-framed IPC
// transport. Methods translate into correlator-tagged commands
// (kind=2, "to debuggee") and block on the matching response (kind=1,
// "from debuggee"); a background reader goroutine demultiplexes unsolicited
// events from correlated responses.
package external

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/go-dap"
	"github.com/pkg/errors"
	"golang.org/x/sync/semaphore"

	"github.com/cranehill/dapper/internal/backend"
	"github.com/cranehill/dapper/internal/correlator"
	"github.com/cranehill/dapper/internal/session"
	"github.com/cranehill/dapper/internal/transport"
)

// maxInFlight bounds concurrent in-flight adapter->debuggee commands, the
// same role golang.org/x/sync/semaphore plays bounding concurrent shell
// connections in docker-buildx's dap/debug_shell.go.
const maxInFlight = 32

// terminateGrace bounds how long Terminate waits for the debuggee to
// answer the terminate command before shutting the connection down.
const terminateGrace = time.Second

// command is the envelope for a kind=2 ("to debuggee") frame, per §6.
type command struct {
	Command   string          `json:"command"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
	ID        int64           `json:"id,omitempty"`
}

// inbound is the envelope for a kind=1 ("from debuggee") frame: either an
// event ({"event":...}) or a response ({"id":...,"success":...,"body":...}).
type inbound struct {
	Event   string          `json:"event,omitempty"`
	Body    json.RawMessage `json:"body,omitempty"`
	ID      int64           `json:"id,omitempty"`
	Success bool            `json:"success,omitempty"`
	Message string          `json:"message,omitempty"`
}

// Backend drives an external debuggee process over conn.
type Backend struct {
	conn transport.FrameConn
	corr *correlator.Correlator
	sem  *semaphore.Weighted

	events chan backend.Event

	allThreadsContinued bool // as declared by the child; defaults false

	mu         sync.Mutex
	terminated bool

	readDone chan struct{}
}

var _ backend.Backend = (*Backend)(nil)

// New wraps conn. allThreadsContinued is the policy this child process
// declares for Open Question #1: independent per-thread scheduling is the
// safe default for an opaque external process, so it defaults to false
// unless the child's own responses override it per-call (see Continue).
func New(conn transport.FrameConn) *Backend {
	b := &Backend{
		conn:     conn,
		corr:     correlator.New(),
		sem:      semaphore.NewWeighted(maxInFlight),
		events:   make(chan backend.Event, 64),
		readDone: make(chan struct{}),
	}
	go b.readLoop()
	return b
}

func (b *Backend) readLoop() {
	defer close(b.readDone)
	defer close(b.events)

	for {
		frame, err := b.conn.Recv(context.Background())
		if err != nil {
			b.corr.Shutdown()
			return
		}

		var msg inbound
		if err := json.Unmarshal(frame.Payload, &msg); err != nil {
			continue
		}

		if msg.Event != "" {
			b.routeEvent(msg)
			continue
		}

		if msg.ID != 0 {
			if !msg.Success {
				b.corr.Fail(msg.ID, errors.New(msg.Message))
			} else {
				b.corr.Resolve(msg.ID, msg.Body)
			}
		}
	}
}

func (b *Backend) routeEvent(msg inbound) {
	body, ok := decodeEventBody(msg.Event, msg.Body)
	if !ok {
		return
	}
	ev := backend.Event{Kind: msg.Event, Body: body}
	select {
	case b.events <- ev:
	default:
	}
}

// Wire shapes for each kind=1 event body, mirroring the field names the
// command arguments elsewhere in this file already use (camelCase
// threadId/variablesReference/...). Decoded into the typed backend.*Body
// values internal/events.Router expects, the same way inprocess.go
// constructs them directly in-process rather than over the wire.
type wireStoppedBody struct {
	Reason            string   `json:"reason"`
	ThreadID          int      `json:"threadId"`
	AllThreadsStopped bool     `json:"allThreadsStopped"`
	Text              string   `json:"text,omitempty"`
	DataIDs           []string `json:"dataIds,omitempty"`
}

type wireThreadBody struct {
	ThreadID int    `json:"threadId"`
	Started  bool   `json:"started"`
	Name     string `json:"name,omitempty"`
}

type wireExitedBody struct {
	ExitCode int `json:"exitCode"`
}

type wireOutputBody struct {
	Category string      `json:"category"`
	Output   string      `json:"output"`
	Source   *dap.Source `json:"source,omitempty"`
	Line     int         `json:"line,omitempty"`
	Column   int         `json:"column,omitempty"`
}

type wireBreakpointBody struct {
	Reason   string      `json:"reason"`
	ID       int         `json:"id,omitempty"`
	Verified bool        `json:"verified"`
	Message  string      `json:"message,omitempty"`
	Source   *dap.Source `json:"source,omitempty"`
	Line     int         `json:"line,omitempty"`
}

type wireModuleBody struct {
	Reason string `json:"reason"`
	ID     string `json:"id"`
	Name   string `json:"name"`
	Path   string `json:"path,omitempty"`
}

type wireLoadedSourceBody struct {
	Reason string `json:"reason"`
	Path   string `json:"path"`
}

type wireContinuedBody struct {
	ThreadID            int  `json:"threadId"`
	AllThreadsContinued bool `json:"allThreadsContinued"`
}

type wireExceptionBody struct {
	Description string `json:"description"`
	Category    string `json:"category,omitempty"`
}

// decodeEventBody unmarshals raw into the backend.*Body type Router expects
// for kind, per §4.9's event table. An unrecognized kind passes raw through
// unchanged, so a future event name doesn't need a release here to reach
// Router's own unrouted-kind logging; a malformed body for a recognized
// kind is dropped, matching readLoop's existing silent-drop-on-malformed-
// frame behavior above.
func decodeEventBody(kind string, raw json.RawMessage) (any, bool) {
	switch kind {
	case "stopped":
		var m wireStoppedBody
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, false
		}
		return backend.StoppedBody{
			Reason:            m.Reason,
			ThreadID:          m.ThreadID,
			AllThreadsStopped: m.AllThreadsStopped,
			Text:              m.Text,
			DataIDs:           m.DataIDs,
		}, true
	case "thread":
		var m wireThreadBody
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, false
		}
		return backend.ThreadBody{ThreadID: m.ThreadID, Started: m.Started, Name: m.Name}, true
	case "exited":
		var m wireExitedBody
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, false
		}
		return backend.ExitedBody{ExitCode: m.ExitCode}, true
	case "output":
		var m wireOutputBody
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, false
		}
		return backend.OutputBody{
			Category: m.Category,
			Output:   m.Output,
			Source:   m.Source,
			Line:     m.Line,
			Column:   m.Column,
		}, true
	case "breakpoint":
		var m wireBreakpointBody
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, false
		}
		return backend.BreakpointBody{
			Reason:   m.Reason,
			ID:       m.ID,
			Verified: m.Verified,
			Message:  m.Message,
			Source:   m.Source,
			Line:     m.Line,
		}, true
	case "module":
		var m wireModuleBody
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, false
		}
		return backend.ModuleBody{Reason: m.Reason, ID: m.ID, Name: m.Name, Path: m.Path}, true
	case "loadedSource":
		var m wireLoadedSourceBody
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, false
		}
		return backend.LoadedSourceBody{Reason: m.Reason, Path: m.Path}, true
	case "continued":
		var m wireContinuedBody
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, false
		}
		return backend.ContinuedBody{ThreadID: m.ThreadID, AllThreadsContinued: m.AllThreadsContinued}, true
	case "exception":
		var m wireExceptionBody
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, false
		}
		return backend.ExceptionBody{Description: m.Description, Category: m.Category}, true
	default:
		return raw, true
	}
}

func (b *Backend) IsAvailable() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return !b.terminated
}

func (b *Backend) Events() <-chan backend.Event { return b.events }

// call sends a command and waits for its response body, unmarshaled
// into out (a pointer). Passing a nil out discards the body.
func (b *Backend) call(ctx context.Context, name string, args any, out any) error {
	if err := b.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer b.sem.Release(1)

	payload, err := json.Marshal(args)
	if err != nil {
		return errors.Wrap(err, "marshal command arguments")
	}

	id := b.corr.NextID()
	wait, cancel := b.corr.Register(id)

	frame, err := json.Marshal(command{Command: name, Arguments: payload, ID: id})
	if err != nil {
		cancel()
		return errors.Wrap(err, "marshal command")
	}

	if err := b.conn.Send(transport.Frame{Kind: 2, Payload: frame}); err != nil {
		cancel()
		return errors.Wrap(err, "send command")
	}

	body, err := wait(ctx)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	raw, ok := body.(json.RawMessage)
	if !ok || raw == nil {
		return nil
	}
	return errors.Wrap(json.Unmarshal(raw, out), "unmarshal response body")
}

func (b *Backend) SetLineBreakpoints(ctx context.Context, path string, specs []session.LineBreakpoint) ([]*session.LineBreakpoint, error) {
	var out struct {
		Breakpoints []*session.LineBreakpoint `json:"breakpoints"`
	}
	args := struct {
		Path        string                   `json:"path"`
		Breakpoints []session.LineBreakpoint `json:"breakpoints"`
	}{Path: path, Breakpoints: specs}
	if err := b.call(ctx, "setBreakpoints", args, &out); err != nil {
		return nil, err
	}
	return out.Breakpoints, nil
}

func (b *Backend) SetFunctionBreakpoints(ctx context.Context, specs []session.FunctionBreakpoint) ([]*session.FunctionBreakpoint, error) {
	var out struct {
		Breakpoints []*session.FunctionBreakpoint `json:"breakpoints"`
	}
	if err := b.call(ctx, "setFunctionBreakpoints", specs, &out); err != nil {
		return nil, err
	}
	return out.Breakpoints, nil
}

func (b *Backend) SetExceptionBreakpoints(ctx context.Context, filters session.ExceptionFilters) error {
	return b.call(ctx, "setExceptionBreakpoints", filters, nil)
}

func (b *Backend) DataBreakpointInfo(ctx context.Context, frameID int, name, expr string) (string, []session.AccessType, error) {
	var out struct {
		DataID      string               `json:"dataId"`
		AccessTypes []session.AccessType `json:"accessTypes"`
	}
	args := struct {
		FrameID int    `json:"frameId"`
		Name    string `json:"name,omitempty"`
		Expr    string `json:"expression,omitempty"`
	}{FrameID: frameID, Name: name, Expr: expr}
	if err := b.call(ctx, "dataBreakpointInfo", args, &out); err != nil {
		return "", nil, err
	}
	return out.DataID, out.AccessTypes, nil
}

func (b *Backend) SetDataBreakpoints(ctx context.Context, watches []*session.DataWatch) error {
	return b.call(ctx, "setDataBreakpoints", watches, nil)
}

func (b *Backend) ConfigurationDone(ctx context.Context) error {
	return b.call(ctx, "configurationDone", nil, nil)
}

func (b *Backend) Continue(ctx context.Context, threadID int) (bool, error) {
	var out struct {
		AllThreadsContinued bool `json:"allThreadsContinued"`
	}
	args := struct {
		ThreadID int `json:"threadId"`
	}{ThreadID: threadID}
	if err := b.call(ctx, "continue", args, &out); err != nil {
		return false, err
	}
	return out.AllThreadsContinued, nil
}

func (b *Backend) Next(ctx context.Context, threadID int, granularity string) error {
	return b.stepLike(ctx, "next", threadID, granularity)
}

func (b *Backend) StepIn(ctx context.Context, threadID int, granularity string) error {
	return b.stepLike(ctx, "stepIn", threadID, granularity)
}

func (b *Backend) StepOut(ctx context.Context, threadID int, granularity string) error {
	return b.stepLike(ctx, "stepOut", threadID, granularity)
}

func (b *Backend) stepLike(ctx context.Context, name string, threadID int, granularity string) error {
	args := struct {
		ThreadID    int    `json:"threadId"`
		Granularity string `json:"granularity,omitempty"`
	}{ThreadID: threadID, Granularity: granularity}
	return b.call(ctx, name, args, nil)
}

func (b *Backend) Pause(ctx context.Context, threadID int) (bool, error) {
	args := struct {
		ThreadID int `json:"threadId"`
	}{ThreadID: threadID}
	err := b.call(ctx, "pause", args, nil)
	return err == nil, err
}

func (b *Backend) StackTrace(ctx context.Context, threadID, startFrame, levels int) ([]session.Frame, int, error) {
	var out struct {
		Frames      []session.Frame `json:"frames"`
		TotalFrames int             `json:"totalFrames"`
	}
	args := struct {
		ThreadID   int `json:"threadId"`
		StartFrame int `json:"startFrame"`
		Levels     int `json:"levels"`
	}{ThreadID: threadID, StartFrame: startFrame, Levels: levels}
	if err := b.call(ctx, "stackTrace", args, &out); err != nil {
		return nil, 0, err
	}
	return out.Frames, out.TotalFrames, nil
}

func (b *Backend) Scopes(ctx context.Context, frameID int) ([]backend.ScopeDescriptor, error) {
	var out struct {
		Scopes []struct {
			Name               string `json:"name"`
			PresentationHint   string `json:"presentationHint"`
			Expensive          bool   `json:"expensive"`
			VariablesReference int    `json:"variablesReference"`
		} `json:"scopes"`
	}
	args := struct {
		FrameID int `json:"frameId"`
	}{FrameID: frameID}
	if err := b.call(ctx, "scopes", args, &out); err != nil {
		return nil, err
	}
	descs := make([]backend.ScopeDescriptor, 0, len(out.Scopes))
	for _, s := range out.Scopes {
		descs = append(descs, backend.ScopeDescriptor{
			Name:             s.Name,
			PresentationHint: s.PresentationHint,
			Expensive:        s.Expensive,
			BackendRef:       s.VariablesReference,
		})
	}
	return descs, nil
}

func (b *Backend) Variables(ctx context.Context, backendRef int, filter string, start, count int) ([]dap.Variable, error) {
	var out struct {
		Variables []dap.Variable `json:"variables"`
	}
	args := struct {
		VariablesReference int    `json:"variablesReference"`
		Filter              string `json:"filter,omitempty"`
		Start               int    `json:"start,omitempty"`
		Count               int    `json:"count,omitempty"`
	}{VariablesReference: backendRef, Filter: filter, Start: start, Count: count}
	if err := b.call(ctx, "variables", args, &out); err != nil {
		return nil, err
	}
	return out.Variables, nil
}

func (b *Backend) SetVariable(ctx context.Context, variablesReference int, name, value string) (string, string, error) {
	var out struct {
		Value string `json:"value"`
		Type  string `json:"type"`
	}
	args := struct {
		VariablesReference int    `json:"variablesReference"`
		Name                string `json:"name"`
		Value               string `json:"value"`
	}{VariablesReference: variablesReference, Name: name, Value: value}
	if err := b.call(ctx, "setVariable", args, &out); err != nil {
		return "", "", err
	}
	return out.Value, out.Type, nil
}

func (b *Backend) SetExpression(ctx context.Context, frameID int, expression, value string) (string, string, error) {
	var out struct {
		Value string `json:"value"`
		Type  string `json:"type"`
	}
	args := struct {
		FrameID    int    `json:"frameId"`
		Expression string `json:"expression"`
		Value      string `json:"value"`
	}{FrameID: frameID, Expression: expression, Value: value}
	if err := b.call(ctx, "setExpression", args, &out); err != nil {
		return "", "", err
	}
	return out.Value, out.Type, nil
}

func (b *Backend) Evaluate(ctx context.Context, frameID int, expression, exprContext string) (string, string, int, error) {
	var out struct {
		Result             string `json:"result"`
		Type               string `json:"type"`
		VariablesReference int    `json:"variablesReference"`
	}
	args := struct {
		FrameID    int    `json:"frameId"`
		Expression string `json:"expression"`
		Context    string `json:"context,omitempty"`
	}{FrameID: frameID, Expression: expression, Context: exprContext}
	if err := b.call(ctx, "evaluate", args, &out); err != nil {
		return "", "", 0, err
	}
	return out.Result, out.Type, out.VariablesReference, nil
}

func (b *Backend) Completions(ctx context.Context, frameID int, text string, column int) ([]dap.CompletionItem, error) {
	var out struct {
		Targets []dap.CompletionItem `json:"targets"`
	}
	args := struct {
		FrameID int    `json:"frameId"`
		Text    string `json:"text"`
		Column  int    `json:"column"`
	}{FrameID: frameID, Text: text, Column: column}
	if err := b.call(ctx, "completions", args, &out); err != nil {
		return nil, err
	}
	return out.Targets, nil
}

func (b *Backend) ExceptionInfo(ctx context.Context, threadID int) (dap.ExceptionInfoResponseBody, error) {
	var out dap.ExceptionInfoResponseBody
	args := struct {
		ThreadID int `json:"threadId"`
	}{ThreadID: threadID}
	err := b.call(ctx, "exceptionInfo", args, &out)
	return out, err
}

func (b *Backend) Source(ctx context.Context, sourceReference int) (string, string, error) {
	var out struct {
		Content  string `json:"content"`
		MimeType string `json:"mimeType"`
	}
	args := struct {
		SourceReference int `json:"sourceReference"`
	}{SourceReference: sourceReference}
	if err := b.call(ctx, "source", args, &out); err != nil {
		return "", "", err
	}
	return out.Content, out.MimeType, nil
}

func (b *Backend) ReloadModule(ctx context.Context, path string, opts backend.HotReloadOptions) (backend.HotReloadResult, error) {
	var out backend.HotReloadResult
	args := struct {
		SourcePath string                  `json:"sourcePath"`
		Options    backend.HotReloadOptions `json:"options"`
	}{SourcePath: path, Options: opts}
	err := b.call(ctx, "hotReload", args, &out)
	return out, err
}

// AllThreadsContinuedPolicy reports the default declared for this
// backend; per-call results from Continue take precedence where the
// child process supplies them.
func (b *Backend) AllThreadsContinuedPolicy() bool { return b.allThreadsContinued }

func (b *Backend) Terminate(ctx context.Context) error {
	b.mu.Lock()
	if b.terminated {
		b.mu.Unlock()
		return nil
	}
	b.terminated = true
	b.mu.Unlock()

	// The debuggee gets at most terminateGrace to acknowledge; a silent or
	// dead peer must not keep Terminate from closing the connection.
	tctx, cancel := context.WithTimeout(ctx, terminateGrace)
	defer cancel()
	_ = b.call(tctx, "terminate", nil, nil)
	b.corr.Shutdown()
	return b.conn.Close()
}
