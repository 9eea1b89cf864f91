package dispatcher

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"

	"github.com/google/go-dap"
	"github.com/pkg/errors"

	"github.com/cranehill/dapper/internal/backend"
	"github.com/cranehill/dapper/internal/session"
)

// HotReloadResultBody is the payload of the non-standard `hotReloadResult`
// event (§4.11).
type HotReloadResultBody struct {
	ReboundFrames     int      `json:"reboundFrames"`
	UpdatedFrameCodes int      `json:"updatedFrameCodes"`
	PatchedInstances  int      `json:"patchedInstances"`
	Warnings          []string `json:"warnings"`
	DurationMs        int64    `json:"durationMs"`
}

// HotReloadResultEvent is the `hotReloadResult` event go-dap has no builtin
// type for; it follows the same embedding shape as every concrete event in
// the library (an embedded dap.Event plus a typed Body).
type HotReloadResultEvent struct {
	dap.Event
	Body HotReloadResultBody `json:"body"`
}

func (e *HotReloadResultEvent) GetEvent() *dap.Event { return &e.Event }

type hotReloadArgs struct {
	SourcePath string `json:"sourcePath"`
	Options    struct {
		RebindFrameLocals  bool `json:"rebindFrameLocals"`
		UpdateFrameCode    bool `json:"updateFrameCode"`
		PatchClassInstances bool `json:"patchClassInstances"`
		InvalidatePycache  bool `json:"invalidatePycache"`
	} `json:"options"`
}

func (d *Dispatcher) handleHotReload(ctx context.Context, r *dap.Request) (dap.ResponseMessage, error) {
	be, err := d.requireBackend()
	if err != nil {
		return nil, err
	}

	var args hotReloadArgs
	if err := json.Unmarshal(r.Arguments, &args); err != nil {
		return nil, errors.Wrap(err, "decode hotReload arguments")
	}

	_, err = d.reloadModule(ctx, be, args.SourcePath, backend.HotReloadOptions{
		RebindFrameLocals:  args.Options.RebindFrameLocals,
		UpdateFrameCode:    args.Options.UpdateFrameCode,
		PatchClassInstances: args.Options.PatchClassInstances,
		InvalidatePycache:  args.Options.InvalidatePycache,
	})
	if err != nil {
		return nil, err
	}

	return &dap.Response{
		ProtocolMessage: dap.ProtocolMessage{Type: "response"},
		RequestSeq:      r.Seq,
		Command:         r.Command,
		Success:         true,
	}, nil
}

// reloadModule drives the hot reload sequence from §4.11: invoke the
// backend, reapply line breakpoints for the path, discard every variable
// reference (for all paths, not only this one; cached stack frames are
// not touched), and emit loadedSource (when the content is new or
// changed) + hotReloadResult.
func (d *Dispatcher) reloadModule(ctx context.Context, be backend.Backend, path string, opts backend.HotReloadOptions) (backend.HotReloadResult, error) {
	result, err := be.ReloadModule(ctx, path, opts)
	if err != nil {
		return backend.HotReloadResult{}, err
	}

	if bps := d.sess.LineBreakpoints(path); len(bps) > 0 {
		specs := make([]session.LineBreakpoint, len(bps))
		for i, bp := range bps {
			specs[i] = *bp
		}
		if verified, err := be.SetLineBreakpoints(ctx, path, specs); err == nil {
			d.sess.ReplaceLineBreakpoints(path, verified)
		} else {
			d.log.WithError(err).Warn("reapply breakpoints after hot reload")
		}
	}

	d.sess.ResetVariableRefs()
	if reason := d.sess.RecordSource(path, contentHash(path)); reason != "" {
		_ = d.send.SendEvent(&dap.LoadedSourceEvent{
			Event: newDapEvent("loadedSource"),
			Body: dap.LoadedSourceEventBody{
				Reason: reason,
				Source: dap.Source{Path: path},
			},
		})
	}
	_ = d.send.SendEvent(&HotReloadResultEvent{
		Event: newDapEvent("hotReloadResult"),
		Body: HotReloadResultBody{
			ReboundFrames:     result.ReboundFrames,
			UpdatedFrameCodes: result.UpdatedFrameCodes,
			PatchedInstances:  result.PatchedInstances,
			Warnings:          result.Warnings,
			DurationMs:        result.DurationMs,
		},
	})

	return result, nil
}

func newDapEvent(name string) dap.Event {
	return dap.Event{ProtocolMessage: dap.ProtocolMessage{Type: "event"}, Event: name}
}

// contentHash fingerprints path's on-disk content so RecordSource can tell
// a real edit from a no-op reload. A path that can't be read hashes its
// error instead of returning a constant, so an unreadable path still
// participates in RecordSource's new/changed/unchanged comparison rather
// than masking every such reload as "unchanged".
func contentHash(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		sum := sha256.Sum256([]byte(path + err.Error()))
		return hex.EncodeToString(sum[:])
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
