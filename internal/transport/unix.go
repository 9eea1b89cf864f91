package transport

import (
	"context"
	"net"
	"os"
)

type unixListener struct {
	ln   net.Listener
	path string
}

func listenUnix(cfg Config) (Listener, error) {
	// Stale socket files from a previous crashed run must not block a new
	// bind; unlinking first keeps Close idempotent in spirit with start.
	_ = os.Remove(cfg.Path)

	ln, err := net.Listen("unix", cfg.Path)
	if err != nil {
		return nil, &Error{Kind: Bind, Cause: err}
	}
	l := &unixListener{ln: ln, path: cfg.Path}
	if cfg.OnBound != nil {
		cfg.OnBound(l.Addr())
	}
	return l, nil
}

func (l *unixListener) Addr() string { return l.path }

func (l *unixListener) Accept(ctx context.Context) (Conn, error) {
	type result struct {
		c   net.Conn
		err error
	}
	ch := make(chan result, 1)
	go func() {
		c, err := l.ln.Accept()
		ch <- result{c, err}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			return nil, &Error{Kind: Bind, Cause: r.err}
		}
		return r.c, nil
	case <-ctx.Done():
		l.ln.Close()
		return nil, ctx.Err()
	}
}

func (l *unixListener) Close() error {
	err := l.ln.Close()
	// Unlinking is idempotent: a missing file is not an error.
	_ = os.Remove(l.path)
	return err
}

func dialUnix(ctx context.Context, cfg Config) (Conn, error) {
	var d net.Dialer
	c, err := d.DialContext(ctx, "unix", cfg.Path)
	if err != nil {
		return nil, &Error{Kind: Connect, Cause: err}
	}
	return c, nil
}
