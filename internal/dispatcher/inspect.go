package dispatcher

import (
	"context"

	"github.com/google/go-dap"
)

func (d *Dispatcher) handleStackTrace(ctx context.Context, r *dap.StackTraceRequest) (dap.ResponseMessage, error) {
	be, err := d.requireBackend()
	if err != nil {
		return nil, err
	}

	frames, total, err := be.StackTrace(ctx, r.Arguments.ThreadId, r.Arguments.StartFrame, r.Arguments.Levels)
	if err != nil {
		return nil, err
	}

	out := make([]dap.StackFrame, 0, len(frames))
	for _, f := range frames {
		out = append(out, dap.StackFrame{
			Id:     f.ID,
			Name:   f.Name,
			Source: f.Source,
			Line:   f.Line,
			Column: f.Column,
		})
	}
	return &dap.StackTraceResponse{
		Response: baseResponse(&r.Request),
		Body:     dap.StackTraceResponseBody{StackFrames: out, TotalFrames: total},
	}, nil
}

func (d *Dispatcher) handleScopes(ctx context.Context, r *dap.ScopesRequest) (dap.ResponseMessage, error) {
	be, err := d.requireBackend()
	if err != nil {
		return nil, err
	}

	descriptors, err := be.Scopes(ctx, r.Arguments.FrameId)
	if err != nil {
		return nil, err
	}

	out := make([]dap.Scope, 0, len(descriptors))
	for _, sd := range descriptors {
		backendRef := sd.BackendRef
		ref := d.sess.NewVariableRef(func() []dap.Variable {
			// The memoized closure outlives this request; it runs once,
			// on whichever goroutine first resolves the reference, so it
			// uses a fresh background context rather than r's.
			vars, err := be.Variables(context.Background(), backendRef, "", 0, 0)
			if err != nil {
				return nil
			}
			return vars
		})
		out = append(out, dap.Scope{
			Name:               sd.Name,
			PresentationHint:   sd.PresentationHint,
			VariablesReference: ref,
			Expensive:          sd.Expensive,
		})
	}
	return &dap.ScopesResponse{
		Response: baseResponse(&r.Request),
		Body:     dap.ScopesResponseBody{Scopes: out},
	}, nil
}

func (d *Dispatcher) handleVariables(ctx context.Context, r *dap.VariablesRequest) (dap.ResponseMessage, error) {
	vars := d.sess.Variables(r.Arguments.VariablesReference)

	start := r.Arguments.Start
	count := r.Arguments.Count
	if start > 0 && start < len(vars) {
		vars = vars[start:]
	} else if start >= len(vars) {
		vars = nil
	}
	if count > 0 && count < len(vars) {
		vars = vars[:count]
	}

	return &dap.VariablesResponse{
		Response: baseResponse(&r.Request),
		Body:     dap.VariablesResponseBody{Variables: vars},
	}, nil
}

func (d *Dispatcher) handleSetVariable(ctx context.Context, r *dap.SetVariableRequest) (dap.ResponseMessage, error) {
	be, err := d.requireBackend()
	if err != nil {
		return nil, err
	}
	value, typ, err := be.SetVariable(ctx, r.Arguments.VariablesReference, r.Arguments.Name, r.Arguments.Value)
	if err != nil {
		return nil, err
	}
	return &dap.SetVariableResponse{
		Response: baseResponse(&r.Request),
		Body:     dap.SetVariableResponseBody{Value: value, Type: typ},
	}, nil
}

func (d *Dispatcher) handleSetExpression(ctx context.Context, r *dap.SetExpressionRequest) (dap.ResponseMessage, error) {
	be, err := d.requireBackend()
	if err != nil {
		return nil, err
	}
	value, typ, err := be.SetExpression(ctx, r.Arguments.FrameId, r.Arguments.Expression, r.Arguments.Value)
	if err != nil {
		return nil, err
	}
	return &dap.SetExpressionResponse{
		Response: baseResponse(&r.Request),
		Body:     dap.SetExpressionResponseBody{Value: value, Type: typ},
	}, nil
}

func (d *Dispatcher) handleCompletions(ctx context.Context, r *dap.CompletionsRequest) (dap.ResponseMessage, error) {
	be, err := d.requireBackend()
	if err != nil {
		return nil, err
	}
	targets, err := be.Completions(ctx, r.Arguments.FrameId, r.Arguments.Text, r.Arguments.Column)
	if err != nil {
		return nil, err
	}
	return &dap.CompletionsResponse{
		Response: baseResponse(&r.Request),
		Body:     dap.CompletionsResponseBody{Targets: targets},
	}, nil
}

func (d *Dispatcher) handleExceptionInfo(ctx context.Context, r *dap.ExceptionInfoRequest) (dap.ResponseMessage, error) {
	be, err := d.requireBackend()
	if err != nil {
		return nil, err
	}
	body, err := be.ExceptionInfo(ctx, r.Arguments.ThreadId)
	if err != nil {
		return nil, err
	}
	return &dap.ExceptionInfoResponse{
		Response: baseResponse(&r.Request),
		Body:     body,
	}, nil
}

func (d *Dispatcher) handleSource(ctx context.Context, r *dap.SourceRequest) (dap.ResponseMessage, error) {
	be, err := d.requireBackend()
	if err != nil {
		return nil, err
	}
	content, mimeType, err := be.Source(ctx, r.Arguments.SourceReference)
	if err != nil {
		return nil, err
	}
	return &dap.SourceResponse{
		Response: baseResponse(&r.Request),
		Body:     dap.SourceResponseBody{Content: content, MimeType: mimeType},
	}, nil
}

func (d *Dispatcher) handleLoadedSources(r *dap.LoadedSourcesRequest) (dap.ResponseMessage, error) {
	paths := d.sess.Sources()
	out := make([]dap.Source, 0, len(paths))
	for _, p := range paths {
		out = append(out, dap.Source{Path: p})
	}
	return &dap.LoadedSourcesResponse{
		Response: baseResponse(&r.Request),
		Body:     dap.LoadedSourcesResponseBody{Sources: out},
	}, nil
}

// handleModules returns an empty module list: the core's Backend interface
// (§4.10) deliberately has no concept of a module table, since neither the
// InProcess nor External variant tracks loaded modules distinctly from
// loaded sources. A backend wanting real module enumeration would extend
// Backend with its own method; modules stays wired to satisfy the
// capability advertised in initialize without claiming data we don't have.
func (d *Dispatcher) handleModules(r *dap.ModulesRequest) (dap.ResponseMessage, error) {
	return &dap.ModulesResponse{
		Response: baseResponse(&r.Request),
		Body:     dap.ModulesResponseBody{Modules: []dap.Module{}, TotalModules: 0},
	}, nil
}
