package dispatcher

import (
	"context"

	"github.com/google/go-dap"
	"github.com/pkg/errors"

	"github.com/cranehill/dapper/internal/protocol"
)

func (d *Dispatcher) handleInitialize(r *dap.InitializeRequest) (dap.ResponseMessage, error) {
	caps := protocol.Capabilities()
	resp := &dap.InitializeResponse{
		Response: baseResponse(&r.Request),
		Body:     caps,
	}
	return resp, nil
}

// AfterResponse emits `initialized` once the initialize response has been
// written, satisfying the ordering invariant that it strictly follows the
// response and precedes every other event.
func (d *Dispatcher) AfterResponse(cmd string, success bool) {
	if cmd == "initialize" && success {
		_ = d.send.SendEvent(&dap.InitializedEvent{
			Event: dap.Event{ProtocolMessage: dap.ProtocolMessage{Type: "event"}, Event: "initialized"},
		})
	}
}

func (d *Dispatcher) handleLaunch(ctx context.Context, r *dap.LaunchRequest) (dap.ResponseMessage, error) {
	be, err := d.newBackend(ctx, true, r.Arguments)
	if err != nil {
		return nil, errors.Wrap(err, "launch")
	}
	d.be = be
	return &dap.LaunchResponse{Response: baseResponse(&r.Request)}, nil
}

func (d *Dispatcher) handleAttach(ctx context.Context, r *dap.AttachRequest) (dap.ResponseMessage, error) {
	be, err := d.newBackend(ctx, false, r.Arguments)
	if err != nil {
		return nil, errors.Wrap(err, "attach")
	}
	d.be = be
	return &dap.AttachResponse{Response: baseResponse(&r.Request)}, nil
}

func (d *Dispatcher) handleConfigurationDone(ctx context.Context, r *dap.ConfigurationDoneRequest) (dap.ResponseMessage, error) {
	be, err := d.requireBackend()
	if err != nil {
		return nil, err
	}
	if err := be.ConfigurationDone(ctx); err != nil {
		return nil, err
	}
	close(d.configDone)
	return &dap.ConfigurationDoneResponse{Response: baseResponse(&r.Request)}, nil
}

func (d *Dispatcher) handleContinue(ctx context.Context, r *dap.ContinueRequest) (dap.ResponseMessage, error) {
	be, err := d.requireBackend()
	if err != nil {
		return nil, err
	}
	allThreads, err := be.Continue(ctx, r.Arguments.ThreadId)
	if err != nil {
		return nil, err
	}
	if allThreads {
		d.sess.ResumeAll()
	} else {
		d.sess.SetResumed(r.Arguments.ThreadId)
	}
	d.sess.ResetVariableRefs()
	return &dap.ContinueResponse{
		Response: baseResponse(&r.Request),
		Body:     dap.ContinueResponseBody{AllThreadsContinued: allThreads},
	}, nil
}

func (d *Dispatcher) handleNext(ctx context.Context, r *dap.NextRequest) (dap.ResponseMessage, error) {
	be, err := d.requireBackend()
	if err != nil {
		return nil, err
	}
	if err := be.Next(ctx, r.Arguments.ThreadId, r.Arguments.Granularity); err != nil {
		return nil, err
	}
	d.sess.SetResumed(r.Arguments.ThreadId)
	return &dap.NextResponse{Response: baseResponse(&r.Request)}, nil
}

func (d *Dispatcher) handleStepIn(ctx context.Context, r *dap.StepInRequest) (dap.ResponseMessage, error) {
	be, err := d.requireBackend()
	if err != nil {
		return nil, err
	}
	if err := be.StepIn(ctx, r.Arguments.ThreadId, r.Arguments.Granularity); err != nil {
		return nil, err
	}
	d.sess.SetResumed(r.Arguments.ThreadId)
	return &dap.StepInResponse{Response: baseResponse(&r.Request)}, nil
}

func (d *Dispatcher) handleStepOut(ctx context.Context, r *dap.StepOutRequest) (dap.ResponseMessage, error) {
	be, err := d.requireBackend()
	if err != nil {
		return nil, err
	}
	if err := be.StepOut(ctx, r.Arguments.ThreadId, r.Arguments.Granularity); err != nil {
		return nil, err
	}
	d.sess.SetResumed(r.Arguments.ThreadId)
	return &dap.StepOutResponse{Response: baseResponse(&r.Request)}, nil
}

func (d *Dispatcher) handlePause(ctx context.Context, r *dap.PauseRequest) (dap.ResponseMessage, error) {
	be, err := d.requireBackend()
	if err != nil {
		return nil, err
	}
	if _, err := be.Pause(ctx, r.Arguments.ThreadId); err != nil {
		return nil, err
	}
	return &dap.PauseResponse{Response: baseResponse(&r.Request)}, nil
}

func (d *Dispatcher) handleThreads(r *dap.ThreadsRequest) (dap.ResponseMessage, error) {
	threads := d.sess.Threads()
	out := make([]dap.Thread, 0, len(threads))
	for _, t := range threads {
		out = append(out, dap.Thread{Id: t.ID, Name: t.Name})
	}
	return &dap.ThreadsResponse{
		Response: baseResponse(&r.Request),
		Body:     dap.ThreadsResponseBody{Threads: out},
	}, nil
}

func (d *Dispatcher) handleRestart(ctx context.Context, r *dap.RestartRequest) (dap.ResponseMessage, error) {
	if d.be != nil {
		_ = d.be.Terminate(ctx)
	}
	_ = d.send.SendEvent(&dap.TerminatedEvent{
		Event: dap.Event{ProtocolMessage: dap.ProtocolMessage{Type: "event"}, Event: "terminated"},
		Body:  dap.TerminatedEventBody{Restart: true},
	})
	return &dap.RestartResponse{Response: baseResponse(&r.Request)}, nil
}

func (d *Dispatcher) handleTerminate(ctx context.Context, r *dap.TerminateRequest) (dap.ResponseMessage, error) {
	if d.be != nil {
		if err := d.be.Terminate(ctx); err != nil {
			return nil, err
		}
	}
	return &dap.TerminateResponse{Response: baseResponse(&r.Request)}, nil
}

func (d *Dispatcher) handleDisconnect(ctx context.Context, r *dap.DisconnectRequest) (dap.ResponseMessage, error) {
	if d.be != nil && r.Arguments.TerminateDebuggee {
		if err := d.be.Terminate(ctx); err != nil {
			d.log.WithError(err).Warn("terminate debuggee during disconnect")
		}
	}
	if err := d.lc.Terminate(); err != nil {
		d.log.WithError(err).Warn("lifecycle terminate during disconnect")
	}
	return &dap.DisconnectResponse{Response: baseResponse(&r.Request)}, nil
}
