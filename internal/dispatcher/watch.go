package dispatcher

import (
	"context"

	"github.com/google/go-dap"

	"github.com/cranehill/dapper/internal/session"
)

func (d *Dispatcher) handleSetBreakpoints(ctx context.Context, r *dap.SetBreakpointsRequest) (dap.ResponseMessage, error) {
	be, err := d.requireBackend()
	if err != nil {
		return nil, err
	}

	path := r.Arguments.Source.Path
	specs := make([]session.LineBreakpoint, 0, len(r.Arguments.Breakpoints))
	for _, sb := range r.Arguments.Breakpoints {
		specs = append(specs, session.LineBreakpoint{
			Line:         sb.Line,
			Condition:    sb.Condition,
			HitCondition: sb.HitCondition,
			LogMessage:   sb.LogMessage,
		})
	}

	assigned := d.sess.SetLineBreakpoints(path, specs)

	input := make([]session.LineBreakpoint, len(assigned))
	for i, bp := range assigned {
		input[i] = *bp
	}
	verified, err := be.SetLineBreakpoints(ctx, path, input)
	if err != nil {
		return nil, err
	}
	d.sess.ReplaceLineBreakpoints(path, verified)

	out := make([]dap.Breakpoint, 0, len(verified))
	for _, bp := range verified {
		out = append(out, dap.Breakpoint{
			Id:       bp.ID,
			Verified: bp.Verified,
			Line:     bp.Line,
			Source:   r.Arguments.Source,
		})
	}
	return &dap.SetBreakpointsResponse{
		Response: baseResponse(&r.Request),
		Body:     dap.SetBreakpointsResponseBody{Breakpoints: out},
	}, nil
}

func (d *Dispatcher) handleSetFunctionBreakpoints(ctx context.Context, r *dap.SetFunctionBreakpointsRequest) (dap.ResponseMessage, error) {
	be, err := d.requireBackend()
	if err != nil {
		return nil, err
	}

	specs := make([]session.FunctionBreakpoint, 0, len(r.Arguments.Breakpoints))
	for _, fb := range r.Arguments.Breakpoints {
		specs = append(specs, session.FunctionBreakpoint{
			Name:         fb.Name,
			Condition:    fb.Condition,
			HitCondition: fb.HitCondition,
		})
	}

	assigned := d.sess.SetFunctionBreakpoints(specs)
	input := make([]session.FunctionBreakpoint, len(assigned))
	for i, bp := range assigned {
		input[i] = *bp
	}
	verified, err := be.SetFunctionBreakpoints(ctx, input)
	if err != nil {
		return nil, err
	}
	d.sess.ReplaceFunctionBreakpoints(verified)

	out := make([]dap.Breakpoint, 0, len(verified))
	for _, bp := range verified {
		out = append(out, dap.Breakpoint{Id: bp.ID, Verified: true})
	}
	return &dap.SetFunctionBreakpointsResponse{
		Response: baseResponse(&r.Request),
		Body:     dap.SetFunctionBreakpointsResponseBody{Breakpoints: out},
	}, nil
}

func (d *Dispatcher) handleSetExceptionBreakpoints(ctx context.Context, r *dap.SetExceptionBreakpointsRequest) (dap.ResponseMessage, error) {
	be, err := d.requireBackend()
	if err != nil {
		return nil, err
	}

	filters := session.ExceptionFilters{}
	for _, f := range r.Arguments.Filters {
		switch f {
		case "raised":
			filters.Raised = true
		case "uncaught":
			filters.Uncaught = true
		}
	}
	for _, fo := range r.Arguments.FilterOptions {
		switch fo.FilterId {
		case "raised":
			filters.Raised = true
			filters.RaisedCond = fo.Condition
		case "uncaught":
			filters.Uncaught = true
			filters.UncaughtCond = fo.Condition
		}
	}
	for _, eo := range r.Arguments.ExceptionOptions {
		var names []string
		for _, seg := range eo.Path {
			names = append(names, seg.Names...)
		}
		if eo.BreakMode == "unhandled" {
			filters.UncaughtPaths = append(filters.UncaughtPaths, names...)
		} else {
			filters.RaisedPaths = append(filters.RaisedPaths, names...)
		}
	}

	if err := be.SetExceptionBreakpoints(ctx, filters); err != nil {
		return nil, err
	}
	d.sess.SetExceptionFilters(filters)

	return &dap.SetExceptionBreakpointsResponse{Response: baseResponse(&r.Request)}, nil
}

func (d *Dispatcher) handleDataBreakpointInfo(ctx context.Context, r *dap.DataBreakpointInfoRequest) (dap.ResponseMessage, error) {
	be, err := d.requireBackend()
	if err != nil {
		return nil, err
	}

	dataID, accessTypes, err := be.DataBreakpointInfo(ctx, r.Arguments.VariablesReference, r.Arguments.Name, "")
	if err != nil {
		return &dap.DataBreakpointInfoResponse{
			Response: baseResponse(&r.Request),
			Body:     dap.DataBreakpointInfoResponseBody{DataId: nil, Description: err.Error()},
		}, nil
	}

	wire := make([]dap.DataBreakpointAccessType, 0, len(accessTypes))
	for _, at := range accessTypes {
		wire = append(wire, dap.DataBreakpointAccessType(at))
	}

	id := dataID
	return &dap.DataBreakpointInfoResponse{
		Response: baseResponse(&r.Request),
		Body: dap.DataBreakpointInfoResponseBody{
			DataId:      &id,
			Description: r.Arguments.Name,
			AccessTypes: wire,
		},
	}, nil
}

func (d *Dispatcher) handleSetDataBreakpoints(ctx context.Context, r *dap.SetDataBreakpointsRequest) (dap.ResponseMessage, error) {
	be, err := d.requireBackend()
	if err != nil {
		return nil, err
	}

	watches := make([]*session.DataWatch, 0, len(r.Arguments.Breakpoints))
	for _, spec := range r.Arguments.Breakpoints {
		frameID, name, expr, ok := session.ParseDataID(spec.DataId)
		if !ok {
			continue
		}

		requested := session.AccessType(spec.AccessType)
		if requested == "" {
			requested = session.AccessWrite
		}
		_, supported, err := be.DataBreakpointInfo(ctx, frameID, name, expr)
		if err != nil {
			return nil, err
		}
		supportsRead := false
		for _, at := range supported {
			if at == session.AccessRead || at == session.AccessReadWrite {
				supportsRead = true
			}
		}

		watches = append(watches, &session.DataWatch{
			DataID:              spec.DataId,
			Name:                name,
			Expression:          expr,
			FrameID:             frameID,
			RequestedAccessType: requested,
			AccessType:          session.DegradeAccessType(requested, supportsRead),
			Condition:           spec.Condition,
			HitCondition:        spec.HitCondition,
		})
	}

	if err := be.SetDataBreakpoints(ctx, watches); err != nil {
		return nil, err
	}
	d.sess.SetDataWatches(watches)

	out := make([]dap.Breakpoint, 0, len(watches))
	for i := range watches {
		out = append(out, dap.Breakpoint{Id: i + 1, Verified: true})
	}
	return &dap.SetDataBreakpointsResponse{
		Response: baseResponse(&r.Request),
		Body:     dap.SetDataBreakpointsResponseBody{Breakpoints: out},
	}, nil
}
