// Package transport implements the unified TCP / Unix-domain-socket /
// named-pipe endpoint abstraction used both between the IDE and the
// adapter and between the adapter and an external debuggee.
package transport

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"runtime"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Family is the Transport sum type discriminant.
type Family string

const (
	Auto Family = "auto"
	TCP  Family = "tcp"
	Unix Family = "unix"
	Pipe Family = "pipe"
)

// ErrorKind classifies a transport failure per §4.2's failure model.
type ErrorKind int

const (
	Bind ErrorKind = iota
	Connect
	Unsupported
)

// Error wraps a transport failure with its classification.
type Error struct {
	Kind  ErrorKind
	Cause error
}

func (e *Error) Error() string {
	switch e.Kind {
	case Bind:
		return "transport: bind failed: " + e.Cause.Error()
	case Connect:
		return "transport: connect failed: " + e.Cause.Error()
	default:
		return "transport: unsupported: " + e.Cause.Error()
	}
}

func (e *Error) Unwrap() error { return e.Cause }

// Config describes how to bind or dial one endpoint. Only the fields
// relevant to Family are consulted.
type Config struct {
	Family Family

	Host string
	Port int // 0 requests an ephemeral port

	Path string // unix socket filesystem path

	PipeName string // named pipe name, without the \\.\pipe\ prefix

	// OnBound, when set, is invoked synchronously the moment the listener
	// has bound its address, before Accept is called — this is how the
	// caller observes the "port-assigned" moment described in §4.2.
	OnBound func(addr string)
}

// Resolve turns Auto into the platform's preferred concrete family: pipe
// on Windows, Unix elsewhere. It also fills in a collision-free socket
// path or pipe name when launch/attach arguments didn't pin one (§6: an
// adapter that spawns its own debuggee endpoint, rather than connecting to
// one the caller already named, must still produce a unique address).
func (c Config) Resolve() Config {
	if c.Family == Auto {
		if runtime.GOOS == "windows" {
			c.Family = Pipe
		} else {
			c.Family = Unix
		}
	}
	switch c.Family {
	case Unix:
		if c.Path == "" {
			c.Path = filepath.Join(os.TempDir(), "dapper-"+uuid.NewString()+".sock")
		}
	case Pipe:
		if c.PipeName == "" {
			c.PipeName = "dapper-" + uuid.NewString()
		}
	}
	return c
}

// Conn is one accepted or dialed bidirectional byte stream, with
// idempotent Close per §4.2 and §5 (filesystem artifacts unlinked).
type Conn interface {
	io.ReadWriteCloser
}

// Listener is a bound endpoint accepting exactly one peer, per §4.2:
// "Exactly one accepted connection is supported per listener instance."
type Listener interface {
	// Addr returns the bound address in the form surfaced to launcher
	// argument vectors (host:port, a filesystem path, or a pipe name).
	Addr() string
	Accept(ctx context.Context) (Conn, error)
	Close() error
}

// Listen binds cfg and returns a Listener. cfg.OnBound fires before this
// call returns.
func Listen(cfg Config) (Listener, error) {
	cfg = cfg.Resolve()
	switch cfg.Family {
	case TCP:
		return listenTCP(cfg)
	case Unix:
		return listenUnix(cfg)
	case Pipe:
		return listenPipe(cfg)
	default:
		return nil, &Error{Kind: Unsupported, Cause: errors.Errorf("unknown family %q", cfg.Family)}
	}
}

// Dial connects to cfg as a peer of a Listener created with the same
// configuration. Used by the external backend's launcher path when the
// debuggee is the one accepting (attach) rather than connecting.
func Dial(ctx context.Context, cfg Config) (Conn, error) {
	cfg = cfg.Resolve()
	switch cfg.Family {
	case TCP:
		return dialTCP(ctx, cfg)
	case Unix:
		return dialUnix(ctx, cfg)
	case Pipe:
		return dialPipe(ctx, cfg)
	default:
		return nil, &Error{Kind: Unsupported, Cause: errors.Errorf("unknown family %q", cfg.Family)}
	}
}

// LauncherArgs builds the `--ipc ...` flag vector a spawned debuggee child
// needs to connect back, per §6.
func LauncherArgs(cfg Config) []string {
	cfg = cfg.Resolve()
	args := []string{"--ipc", string(cfg.Family)}
	switch cfg.Family {
	case TCP:
		args = append(args, "--ipc-host", cfg.Host, "--ipc-port", portString(cfg.Port))
	case Unix:
		args = append(args, "--ipc-path", cfg.Path)
	case Pipe:
		args = append(args, "--ipc-pipe", cfg.PipeName)
	}
	return args
}
