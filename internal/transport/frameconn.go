package transport

import (
	"context"
	"io"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/cranehill/dapper/internal/framing"
)

// Frame is one binary-framed payload read from or to be written to an
// external debuggee.
type Frame struct {
	Kind    framing.Kind
	Payload []byte
}

// FrameConn is the adapter-debuggee bridge's binary-framed byte pipe,
// modeled on docker-buildx's dap.Conn: a reader goroutine and a writer
// goroutine each owning one half of the stream, connected to the caller
// through buffered channels so Send/Recv never block on I/O directly.
type FrameConn interface {
	Send(f Frame) error
	Recv(ctx context.Context) (Frame, error)
	io.Closer
}

type frameConn struct {
	recvCh <-chan Frame
	sendCh chan<- Frame

	ctx    context.Context
	cancel context.CancelCauseFunc

	eg   *errgroup.Group
	once sync.Once
}

// NewFrameConn wraps a raw byte stream with the binary framing codec.
func NewFrameConn(rw io.ReadWriteCloser) FrameConn {
	recvCh := make(chan Frame, 100)
	sendCh := make(chan Frame, 100)

	go func() {
		defer close(recvCh)
		for {
			kind, payload, err := framing.UnpackBinary(rw)
			if err != nil {
				return
			}
			recvCh <- Frame{Kind: kind, Payload: payload}
		}
	}()

	eg, _ := errgroup.WithContext(context.Background())
	eg.Go(func() error {
		for f := range sendCh {
			if _, err := rw.Write(framing.PackBinary(f.Kind, f.Payload)); err != nil {
				return err
			}
		}
		return nil
	})

	ctx, cancel := context.WithCancelCause(context.Background())
	c := &frameConn{
		recvCh: recvCh,
		sendCh: sendCh,
		ctx:    ctx,
		cancel: cancel,
		eg:     eg,
	}
	// Closing the connection unblocks any goroutine blocked in Write by
	// also closing the underlying stream.
	c.eg.Go(func() error {
		<-ctx.Done()
		return rw.Close()
	})
	return c
}

func (c *frameConn) Send(f Frame) error {
	select {
	case c.sendCh <- f:
		return nil
	default:
		return errors.New("frame send channel full")
	}
}

func (c *frameConn) Recv(ctx context.Context) (Frame, error) {
	select {
	case f, ok := <-c.recvCh:
		if !ok {
			return Frame{}, io.EOF
		}
		return f, nil
	case <-ctx.Done():
		return Frame{}, context.Cause(ctx)
	case <-c.ctx.Done():
		return Frame{}, c.ctx.Err()
	}
}

func (c *frameConn) Close() error {
	c.cancel(context.Canceled)
	c.once.Do(func() {
		close(c.sendCh)
	})
	return c.eg.Wait()
}
