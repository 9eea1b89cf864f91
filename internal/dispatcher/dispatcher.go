// Package dispatcher implements the request dispatcher (§4.8): a table
// mapping DAP command names to handlers that validate arguments, drive
// the session store and backend, and build response bodies.
package dispatcher

import (
	"context"
	"encoding/json"

	"github.com/google/go-dap"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/cranehill/dapper/internal/backend"
	"github.com/cranehill/dapper/internal/lifecycle"
	"github.com/cranehill/dapper/internal/protocol"
	"github.com/cranehill/dapper/internal/session"
)

// Sender emits an out-of-band DAP event, independent of the request
// currently being handled. Implemented by *protocol.Engine.
type Sender interface {
	SendEvent(ev dap.EventMessage) error
}

// BackendFactory constructs the Backend a launch/attach request selects
// (InProcess for a self-contained session, External for a child process
// reached over the transport). Returned by the adapter wiring layer so
// the dispatcher itself stays transport-agnostic.
type BackendFactory func(ctx context.Context, launch bool, args json.RawMessage) (backend.Backend, error)

// Dispatcher is the Dispatcher protocol.Dispatcher drives. One instance
// per connection/session.
type Dispatcher struct {
	sess       *session.Session
	lc         *lifecycle.Lifecycle
	send       Sender
	newBackend BackendFactory
	log        *logrus.Entry

	be backend.Backend

	clientSupportsVariableType   bool
	clientSupportsInvalidatedEvt bool

	configDone chan struct{}
}

var _ protocol.Dispatcher = (*Dispatcher)(nil)

// New constructs a Dispatcher over an existing Session and Lifecycle,
// with send used for events the dispatcher itself originates (initialized,
// hotReloadResult, terminated) and newBackend used to realize launch/attach.
func New(sess *session.Session, lc *lifecycle.Lifecycle, send Sender, newBackend BackendFactory, log *logrus.Entry) *Dispatcher {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Dispatcher{
		sess:       sess,
		lc:         lc,
		send:       send,
		newBackend: newBackend,
		log:        log,
		configDone: make(chan struct{}),
	}
}

// Backend returns the backend realized by launch/attach, or nil before
// either has run. Used by the adapter wiring layer to start the event
// router once it exists.
func (d *Dispatcher) Backend() backend.Backend {
	return d.be
}

// Dispatch routes one decoded request to its handler, wrapping the call
// in the lifecycle's scoped Enter/exit guard (§4.5) so every operation
// auto-advances Ready<->Busy and a failing handler lands the session in
// Error.
func (d *Dispatcher) Dispatch(req dap.RequestMessage) (dap.ResponseMessage, error) {
	cmd := req.GetRequest().Command

	exit, err := d.lc.Enter(cmd)
	if err != nil {
		return nil, err
	}

	resp, err := d.dispatchLocked(req)
	return resp, exit(err)
}

func (d *Dispatcher) dispatchLocked(req dap.RequestMessage) (dap.ResponseMessage, error) {
	ctx := context.Background()

	switch r := req.(type) {
	case *dap.InitializeRequest:
		return d.handleInitialize(r)
	case *dap.LaunchRequest:
		return d.handleLaunch(ctx, r)
	case *dap.AttachRequest:
		return d.handleAttach(ctx, r)
	case *dap.SetBreakpointsRequest:
		return d.handleSetBreakpoints(ctx, r)
	case *dap.SetFunctionBreakpointsRequest:
		return d.handleSetFunctionBreakpoints(ctx, r)
	case *dap.SetExceptionBreakpointsRequest:
		return d.handleSetExceptionBreakpoints(ctx, r)
	case *dap.DataBreakpointInfoRequest:
		return d.handleDataBreakpointInfo(ctx, r)
	case *dap.SetDataBreakpointsRequest:
		return d.handleSetDataBreakpoints(ctx, r)
	case *dap.ConfigurationDoneRequest:
		return d.handleConfigurationDone(ctx, r)
	case *dap.ContinueRequest:
		return d.handleContinue(ctx, r)
	case *dap.NextRequest:
		return d.handleNext(ctx, r)
	case *dap.StepInRequest:
		return d.handleStepIn(ctx, r)
	case *dap.StepOutRequest:
		return d.handleStepOut(ctx, r)
	case *dap.PauseRequest:
		return d.handlePause(ctx, r)
	case *dap.ThreadsRequest:
		return d.handleThreads(r)
	case *dap.StackTraceRequest:
		return d.handleStackTrace(ctx, r)
	case *dap.ScopesRequest:
		return d.handleScopes(ctx, r)
	case *dap.VariablesRequest:
		return d.handleVariables(ctx, r)
	case *dap.SetVariableRequest:
		return d.handleSetVariable(ctx, r)
	case *dap.SetExpressionRequest:
		return d.handleSetExpression(ctx, r)
	case *dap.EvaluateRequest:
		return d.handleEvaluate(ctx, r)
	case *dap.CompletionsRequest:
		return d.handleCompletions(ctx, r)
	case *dap.ExceptionInfoRequest:
		return d.handleExceptionInfo(ctx, r)
	case *dap.SourceRequest:
		return d.handleSource(ctx, r)
	case *dap.LoadedSourcesRequest:
		return d.handleLoadedSources(r)
	case *dap.ModulesRequest:
		return d.handleModules(r)
	case *dap.RestartRequest:
		return d.handleRestart(ctx, r)
	case *dap.TerminateRequest:
		return d.handleTerminate(ctx, r)
	case *dap.DisconnectRequest:
		return d.handleDisconnect(ctx, r)
	case *dap.Request:
		// Non-standard commands decode to the bare Request type; hotReload
		// is the one this core defines (§4.11).
		if r.Command == "hotReload" {
			return d.handleHotReload(ctx, r)
		}
		return nil, errors.Errorf("unsupported command %q", r.Command)
	default:
		return nil, errors.Errorf("unrecognized request type %T", req)
	}
}

func (d *Dispatcher) requireBackend() (backend.Backend, error) {
	if d.be == nil {
		return nil, errors.New("no active backend: launch or attach first")
	}
	return d.be, nil
}

func newResponse(seq int, cmd string) dap.Response {
	return dap.Response{
		ProtocolMessage: dap.ProtocolMessage{Type: "response"},
		RequestSeq:      seq,
		Success:         true,
		Command:         cmd,
	}
}

func baseResponse(r *dap.Request) dap.Response {
	return newResponse(r.Seq, r.Command)
}
