// Package adapter wires the core subsystems (protocol engine, request
// dispatcher, session store, lifecycle, backend, event router) into one
// connection-scoped object, the way docker-buildx's dap.Server composes a
// Handler around its Conn: one Adapter per accepted IDE connection.
package adapter

import (
	"context"
	"encoding/json"
	"io"
	"sync"

	"github.com/google/go-dap"
	"github.com/sirupsen/logrus"

	"github.com/cranehill/dapper/internal/backend"
	"github.com/cranehill/dapper/internal/dispatcher"
	"github.com/cranehill/dapper/internal/events"
	"github.com/cranehill/dapper/internal/lifecycle"
	"github.com/cranehill/dapper/internal/protocol"
	"github.com/cranehill/dapper/internal/session"
)

// Adapter owns one IDE connection end to end. It implements
// protocol.Dispatcher (by delegating to its inner dispatcher.Dispatcher)
// and protocol.PostResponseHook, so it can piggyback its own follow-up
// work (starting the event router once launch/attach succeeds) onto the
// same hook the dispatcher uses for the `initialized` event, without the
// protocol engine needing to know about either concern.
type Adapter struct {
	sess *session.Session
	lc   *lifecycle.Lifecycle
	disp *dispatcher.Dispatcher
	eng  *protocol.Engine
	log  *logrus.Entry

	routerOnce sync.Once
}

var _ protocol.Dispatcher = (*Adapter)(nil)
var _ protocol.PostResponseHook = (*Adapter)(nil)

// New constructs an Adapter ready to Serve one connection. rd/wr are the
// IDE-facing byte stream halves (never the same as the debuggee's).
func New(rd io.Reader, wr io.Writer, log *logrus.Entry) *Adapter {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}

	a := &Adapter{
		sess: session.New(),
		lc:   lifecycle.New(log),
		log:  log,
	}
	a.disp = dispatcher.New(a.sess, a.lc, a, a.newBackend, log)
	a.eng = protocol.NewEngine(rd, wr, a, log)
	return a
}

// Serve drives the connection until it closes. Cleanup (backend
// termination) is registered with the lifecycle, so it runs exactly once
// regardless of whether the IDE disconnects cleanly or the stream errors
// out.
func (a *Adapter) Serve() error {
	a.lc.RegisterCleanup(func() error {
		if be := a.disp.Backend(); be != nil {
			return be.Terminate(context.Background())
		}
		return nil
	})
	defer func() {
		_ = a.lc.Terminate()
	}()
	return a.eng.Run()
}

// Dispatch satisfies protocol.Dispatcher by delegating to the inner
// request dispatcher.
func (a *Adapter) Dispatch(req dap.RequestMessage) (dap.ResponseMessage, error) {
	return a.disp.Dispatch(req)
}

// SendEvent satisfies dispatcher.Sender, routing events the dispatcher or
// the event router originate back through the same protocol engine that
// writes responses, so sequence numbers stay globally monotonic.
func (a *Adapter) SendEvent(ev dap.EventMessage) error {
	return a.eng.SendEvent(ev)
}

// AfterResponse chains the dispatcher's own hook (the `initialized`
// event) and then, once launch/attach has actually succeeded, starts the
// event router against the now-populated backend.
func (a *Adapter) AfterResponse(cmd string, success bool) {
	a.disp.AfterResponse(cmd, success)
	if success && (cmd == "launch" || cmd == "attach") {
		a.startRouter()
	}
}

func (a *Adapter) startRouter() {
	a.routerOnce.Do(func() {
		be := a.disp.Backend()
		if be == nil {
			return
		}
		router := events.New(a.sess, a, a.log)
		router.OnExited = func(exitCode int) {
			a.log.WithField("exitCode", exitCode).Info("debuggee exited")
		}
		go router.Run(context.Background(), be.Events())
	})
}

// newBackend realizes the Backend a launch/attach request selects. See
// launch.go for the launch-args parsing and InProcess/External decision.
func (a *Adapter) newBackend(ctx context.Context, launch bool, args json.RawMessage) (backend.Backend, error) {
	return resolveBackend(ctx, launch, args)
}
