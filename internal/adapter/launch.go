package adapter

import (
	"context"
	"encoding/json"
	"os"
	"strings"

	"github.com/pkg/errors"

	"github.com/cranehill/dapper/internal/backend"
	"github.com/cranehill/dapper/internal/backend/external"
	"github.com/cranehill/dapper/internal/backend/inprocess"
	"github.com/cranehill/dapper/internal/transport"
)

// ipcConfig is the subset of launch/attach arguments describing the
// adapter<->debuggee endpoint, common to both requests (§6).
type ipcConfig struct {
	IpcTransport string `json:"ipcTransport"`
	IpcHost      string `json:"ipcHost"`
	IpcPort      int    `json:"ipcPort"`
	IpcPath      string `json:"ipcPath"`
	IpcPipeName  string `json:"ipcPipeName"`
	UseBinaryIpc *bool  `json:"useBinaryIpc"`
}

func (c ipcConfig) transportConfig() transport.Config {
	family := transport.Family(c.IpcTransport)
	if family == "" {
		family = transport.Auto
	}
	return transport.Config{
		Family:   family,
		Host:     c.IpcHost,
		Port:     c.IpcPort,
		Path:     c.IpcPath,
		PipeName: c.IpcPipeName,
	}
}

func (c ipcConfig) binary() bool {
	return c.UseBinaryIpc == nil || *c.UseBinaryIpc
}

// launchArgs is the subset of the launch configuration (§6 "Launch/attach
// configurations") this core decodes. Only Program, StopOnEntry and the
// IPC fields affect backend selection and setup; Module and NoDebug are
// decoded but not acted on, and the remaining fields (justMyCode,
// strictExpressionWatchPolicy, subprocessAutoAttach, ...) are not decoded
// at all.
type launchArgs struct {
	ipcConfig
	Program     string `json:"program"`
	Module      string `json:"module"`
	StopOnEntry bool   `json:"stopOnEntry"`
	NoDebug     bool   `json:"noDebug"`
}

// resolveBackend realizes the Backend a launch or attach request selects.
//
// attach always dials an existing endpoint and drives it as External,
// since there is, by construction, already a live process on the other
// end. A launch that pins an IPC endpoint (ipcPath, ipcPipeName or
// ipcHost) dials it the same way; any other launch constructs an
// InProcess backend seeded from the target
// source file's text: the core explicitly does not implement a script
// execution engine (§1 Non-goals), so "running" the program means
// driving the scripted stand-in line by line while still answering
// `source`/`loadedSources` with the program's real text where it can be
// read from disk.
func resolveBackend(ctx context.Context, launch bool, raw json.RawMessage) (backend.Backend, error) {
	var args launchArgs
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &args); err != nil {
			return nil, errors.Wrap(err, "decode launch/attach arguments")
		}
	}

	if !launch {
		return dialExternal(ctx, args.ipcConfig)
	}

	if args.IpcPath != "" || args.IpcPipeName != "" || args.IpcHost != "" {
		// A launch request that already pins a concrete IPC endpoint is
		// connecting to a debuggee the caller spawned out-of-band; treat
		// it the same as attach rather than duplicating the dial logic.
		return dialExternal(ctx, args.ipcConfig)
	}

	be := inprocess.New(loadProgram(args.Program))
	be.SetStopOnEntry(args.StopOnEntry)
	return be, nil
}

func dialExternal(ctx context.Context, ipc ipcConfig) (backend.Backend, error) {
	conn, err := transport.Dial(ctx, ipc.transportConfig())
	if err != nil {
		return nil, errors.Wrap(err, "dial debuggee endpoint")
	}
	if ipc.binary() {
		return external.New(transport.NewFrameConn(conn)), nil
	}
	return external.New(transport.NewLegacyFrameConn(conn)), nil
}

// loadProgram builds the scripted stand-in program from path's on-disk
// text when it can be read, falling back to an empty single-line program
// (still debuggable: breakpoints on line 1, immediate exit on continue)
// so a bad or missing path degrades gracefully rather than failing
// launch outright.
func loadProgram(path string) *inprocess.Program {
	data, err := os.ReadFile(path)
	if err != nil {
		return &inprocess.Program{
			Path:  path,
			Lines: []inprocess.Line{{Text: ""}},
		}
	}

	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	out := make([]inprocess.Line, len(lines))
	for i, text := range lines {
		out[i] = inprocess.Line{Text: text}
	}
	return &inprocess.Program{Path: path, Lines: out}
}
