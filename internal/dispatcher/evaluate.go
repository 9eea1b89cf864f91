package dispatcher

import (
	"context"
	"fmt"

	"github.com/google/go-dap"
	"github.com/google/shlex"
	"github.com/spf13/cobra"

	"github.com/cranehill/dapper/internal/backend"
)

func (d *Dispatcher) handleEvaluate(ctx context.Context, r *dap.EvaluateRequest) (dap.ResponseMessage, error) {
	be, err := d.requireBackend()
	if err != nil {
		return nil, err
	}

	if r.Arguments.Context != "repl" {
		result, typ, ref, err := be.Evaluate(ctx, r.Arguments.FrameId, r.Arguments.Expression, r.Arguments.Context)
		if err != nil {
			return nil, err
		}
		return &dap.EvaluateResponse{
			Response: baseResponse(&r.Request),
			Body:     dap.EvaluateResponseBody{Result: result, Type: typ, VariablesReference: ref},
		}, nil
	}

	return d.evaluateRepl(ctx, be, r)
}

// evaluateRepl tokenizes the expression with shlex and dispatches it
// through a small cobra command tree, the same pattern docker-buildx's
// dap.Adapter.Evaluate uses for its "exec" REPL sub-command. Anything that
// doesn't match a known sub-command is treated as a plain expression and
// handed straight to the backend's Evaluate.
func (d *Dispatcher) evaluateRepl(ctx context.Context, be backend.Backend, r *dap.EvaluateRequest) (dap.ResponseMessage, error) {
	args, err := shlex.Split(r.Arguments.Expression)
	if err != nil || len(args) == 0 {
		return d.plainEvaluate(ctx, be, r)
	}

	switch args[0] {
	case "hotreload", "reload":
		return d.replHotReload(ctx, be, r, args[1:])
	default:
		return d.plainEvaluate(ctx, be, r)
	}
}

func (d *Dispatcher) plainEvaluate(ctx context.Context, be backend.Backend, r *dap.EvaluateRequest) (dap.ResponseMessage, error) {
	result, typ, ref, err := be.Evaluate(ctx, r.Arguments.FrameId, r.Arguments.Expression, "repl")
	if err != nil {
		return nil, err
	}
	return &dap.EvaluateResponse{
		Response: baseResponse(&r.Request),
		Body:     dap.EvaluateResponseBody{Result: result, Type: typ, VariablesReference: ref},
	}, nil
}

func (d *Dispatcher) replHotReload(ctx context.Context, be backend.Backend, r *dap.EvaluateRequest, args []string) (dap.ResponseMessage, error) {
	var path string
	opts := backend.HotReloadOptions{RebindFrameLocals: true, UpdateFrameCode: true}

	cmd := &cobra.Command{
		Use:           "reload [path]",
		SilenceErrors: true,
		SilenceUsage:  true,
		Args:          cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, a []string) error {
			if len(a) == 1 {
				path = a[0]
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&opts.PatchClassInstances, "patch-instances", false, "patch existing class instances")
	cmd.Flags().BoolVar(&opts.InvalidatePycache, "invalidate-pycache", false, "invalidate cached bytecode")
	cmd.SetArgs(args)

	if err := cmd.Execute(); err != nil {
		return nil, err
	}

	result, err := d.reloadModule(ctx, be, path, opts)
	if err != nil {
		return nil, err
	}

	return &dap.EvaluateResponse{
		Response: baseResponse(&r.Request),
		Body: dap.EvaluateResponseBody{
			Result: fmt.Sprintf("reloaded %s: %d frame(s) rebound, %d code object(s) updated", path, result.ReboundFrames, result.UpdatedFrameCodes),
		},
	}, nil
}
