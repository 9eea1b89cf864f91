package transport

import (
	"context"
	"net"
	"strconv"
)

func portString(p int) string { return strconv.Itoa(p) }

type tcpListener struct {
	ln net.Listener
}

func listenTCP(cfg Config) (Listener, error) {
	addr := net.JoinHostPort(cfg.Host, portString(cfg.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, &Error{Kind: Bind, Cause: err}
	}
	l := &tcpListener{ln: ln}
	if cfg.OnBound != nil {
		cfg.OnBound(l.Addr())
	}
	return l, nil
}

func (l *tcpListener) Addr() string { return l.ln.Addr().String() }

func (l *tcpListener) Accept(ctx context.Context) (Conn, error) {
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

func (l *tcpListener) Close() error { return l.ln.Close() }

func dialTCP(ctx context.Context, cfg Config) (Conn, error) {
	var d net.Dialer
	c, err := d.DialContext(ctx, "tcp", net.JoinHostPort(cfg.Host, portString(cfg.Port)))
	if err != nil {
		return nil, &Error{Kind: Connect, Cause: err}
	}
	return c, nil
}
