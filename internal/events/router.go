// Package events implements the event router (§4.9): it receives inbound
// backend events, updates session state, and emits the corresponding
// client-facing DAP event.
package events

import (
	"context"

	"github.com/google/go-dap"
	"github.com/sirupsen/logrus"

	"github.com/cranehill/dapper/internal/backend"
	"github.com/cranehill/dapper/internal/session"
)

// Sender emits one DAP event to the IDE, assigning its sequence number.
// Implemented by *protocol.Engine.
type Sender interface {
	SendEvent(ev dap.EventMessage) error
}

// TerminationHook is invoked once the router observes a backend "exited"
// event, so the owning adapter can run its own termination sequence
// (§4.9: "exited -> schedule session termination with the exit code").
type TerminationHook func(exitCode int)

// Router consumes backend.Event values and drives Sess + Sender.
type Router struct {
	sess *session.Session
	send Sender
	log  *logrus.Entry

	OnExited TerminationHook
}

// New constructs a Router. log may be nil.
func New(sess *session.Session, send Sender, log *logrus.Entry) *Router {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Router{sess: sess, send: send, log: log}
}

// Run consumes events until the channel closes or ctx is cancelled.
func (r *Router) Run(ctx context.Context, events <-chan backend.Event) {
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			r.route(ev)
		case <-ctx.Done():
			return
		}
	}
}

func (r *Router) route(ev backend.Event) {
	switch ev.Kind {
	case "stopped":
		r.routeStopped(ev)
	case "thread":
		r.routeThread(ev)
	case "exited":
		r.routeExited(ev)
	case "output":
		r.routeOutput(ev)
	case "breakpoint":
		r.routeBreakpoint(ev)
	case "module":
		r.routeModule(ev)
	case "loadedSource":
		r.routeLoadedSource(ev)
	case "continued":
		r.routeContinued(ev)
	case "exception":
		r.routeException(ev)
	default:
		r.log.Warnf("unrouted backend event kind %q", ev.Kind)
	}
}

func newEvent(name string) dap.Event {
	return dap.Event{ProtocolMessage: dap.ProtocolMessage{Type: "event"}, Event: name}
}

func (r *Router) routeStopped(ev backend.Event) {
	body, ok := ev.Body.(backend.StoppedBody)
	if !ok {
		r.log.Warnf("stopped event carried unexpected body type %T", ev.Body)
		return
	}
	r.sess.SetStopped(body.ThreadID, body.Reason)

	out := &dap.StoppedEvent{
		Event: newEvent("stopped"),
		Body: dap.StoppedEventBody{
			Reason:            body.Reason,
			ThreadId:          body.ThreadID,
			AllThreadsStopped: body.AllThreadsStopped,
			Text:              body.Text,
		},
	}
	r.emit(out)
}

func (r *Router) routeThread(ev backend.Event) {
	body, ok := ev.Body.(backend.ThreadBody)
	if !ok {
		r.log.Warnf("thread event carried unexpected body type %T", ev.Body)
		return
	}
	reason := "exited"
	if body.Started {
		reason = "started"
		r.sess.ThreadStarted(body.ThreadID, body.Name)
	} else {
		r.sess.ThreadExited(body.ThreadID)
	}
	r.emit(&dap.ThreadEvent{
		Event: newEvent("thread"),
		Body:  dap.ThreadEventBody{Reason: reason, ThreadId: body.ThreadID},
	})
}

func (r *Router) routeExited(ev backend.Event) {
	body, ok := ev.Body.(backend.ExitedBody)
	if !ok {
		r.log.Warnf("exited event carried unexpected body type %T", ev.Body)
		return
	}
	r.emit(&dap.ExitedEvent{
		Event: newEvent("exited"),
		Body:  dap.ExitedEventBody{ExitCode: body.ExitCode},
	})
	if r.OnExited != nil {
		r.OnExited(body.ExitCode)
	}
}

func (r *Router) routeOutput(ev backend.Event) {
	body, ok := ev.Body.(backend.OutputBody)
	if !ok {
		r.log.Warnf("output event carried unexpected body type %T", ev.Body)
		return
	}
	r.emit(&dap.OutputEvent{
		Event: newEvent("output"),
		Body: dap.OutputEventBody{
			Category: body.Category,
			Output:   body.Output,
			Source:   body.Source,
			Line:     body.Line,
			Column:   body.Column,
		},
	})
}

func (r *Router) routeBreakpoint(ev backend.Event) {
	body, ok := ev.Body.(backend.BreakpointBody)
	if !ok {
		r.log.Warnf("breakpoint event carried unexpected body type %T", ev.Body)
		return
	}
	r.emit(&dap.BreakpointEvent{
		Event: newEvent("breakpoint"),
		Body: dap.BreakpointEventBody{
			Reason: body.Reason,
			Breakpoint: dap.Breakpoint{
				Id:       body.ID,
				Verified: body.Verified,
				Message:  body.Message,
				Line:     body.Line,
			},
		},
	})
	if body.Source != nil {
		r.log.WithField("path", body.Source.Path).Debugf("breakpoint event %s", body.Reason)
	}
}

func (r *Router) routeModule(ev backend.Event) {
	body, ok := ev.Body.(backend.ModuleBody)
	if !ok {
		r.log.Warnf("module event carried unexpected body type %T", ev.Body)
		return
	}
	r.emit(&dap.ModuleEvent{
		Event: newEvent("module"),
		Body: dap.ModuleEventBody{
			Reason: body.Reason,
			Module: dap.Module{Id: body.ID, Name: body.Name, Path: body.Path},
		},
	})
}

func (r *Router) routeLoadedSource(ev backend.Event) {
	body, ok := ev.Body.(backend.LoadedSourceBody)
	if !ok {
		r.log.Warnf("loadedSource event carried unexpected body type %T", ev.Body)
		return
	}
	r.emit(&dap.LoadedSourceEvent{
		Event: newEvent("loadedSource"),
		Body: dap.LoadedSourceEventBody{
			Reason: body.Reason,
			Source: dap.Source{Path: body.Path},
		},
	})
}

func (r *Router) routeContinued(ev backend.Event) {
	body, ok := ev.Body.(backend.ContinuedBody)
	if !ok {
		r.log.Warnf("continued event carried unexpected body type %T", ev.Body)
		return
	}
	r.sess.SetResumed(body.ThreadID)
	r.emit(&dap.ContinuedEvent{
		Event: newEvent("continued"),
		Body: dap.ContinuedEventBody{
			ThreadId:            body.ThreadID,
			AllThreadsContinued: body.AllThreadsContinued,
		},
	})
}

func (r *Router) routeException(ev backend.Event) {
	body, ok := ev.Body.(backend.ExceptionBody)
	if !ok {
		r.log.Warnf("exception event carried unexpected body type %T", ev.Body)
		return
	}
	category := body.Category
	if category == "" {
		category = "stderr"
	}
	r.emit(&dap.OutputEvent{
		Event: newEvent("output"),
		Body: dap.OutputEventBody{
			Category: category,
			Output:   body.Description,
		},
	})
}

func (r *Router) emit(ev dap.EventMessage) {
	if err := r.send.SendEvent(ev); err != nil {
		r.log.WithError(err).Warn("send event failed")
	}
}
