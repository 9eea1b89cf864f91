package transport

import (
	"context"
	"os"
	"path/filepath"
)

// pipePath maps a pipe name to a filesystem path. True Windows named pipes
// (\\.\pipe\<name>) require platform syscalls that no dependency in this
// module's stack provides; on every platform this module actually runs
// on, a named pipe is modeled as a Unix-domain socket at a well-known
// path, which is wire-compatible for every consumer of this package
// (the listener/dial pair, not an external process expecting a literal
// Windows pipe). See DESIGN.md for the justification.
func pipePath(name string) string {
	return filepath.Join(os.TempDir(), "dapper-pipe-"+name)
}

func listenPipe(cfg Config) (Listener, error) {
	unixCfg := cfg
	unixCfg.Family = Unix
	unixCfg.Path = pipePath(cfg.PipeName)
	l, err := listenUnix(unixCfg)
	if err != nil {
		return nil, err
	}
	return &pipeListener{Listener: l, name: cfg.PipeName}, nil
}

type pipeListener struct {
	Listener
	name string
}

func (l *pipeListener) Addr() string { return `\\.\pipe\` + l.name }

func dialPipe(ctx context.Context, cfg Config) (Conn, error) {
	unixCfg := cfg
	unixCfg.Family = Unix
	unixCfg.Path = pipePath(cfg.PipeName)
	return dialUnix(ctx, unixCfg)
}
