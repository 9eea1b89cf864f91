package transport

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/cranehill/dapper/internal/framing"
)

// legacyEnvelope is the JSON shape carried inside one `DBGP: <json>\n`
// line: Frame.Kind/Payload, re-flattened so Payload stays raw JSON rather
// than being double-encoded as a string.
type legacyEnvelope struct {
	Kind    framing.Kind    `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

// NewLegacyFrameConn wraps rw with the `DBGP: <json>\n` fallback framing
// (§6) accepted from legacy debuggees that cannot speak the binary
// magic+version+kind+length framing NewFrameConn uses by default. It
// satisfies the same FrameConn interface, so internal/backend/external is
// unaware of which framing a given connection actually uses.
func NewLegacyFrameConn(rw io.ReadWriteCloser) FrameConn {
	recvCh := make(chan Frame, 100)
	sendCh := make(chan Frame, 100)

	eg, _ := errgroup.WithContext(context.Background())
	eg.Go(func() error {
		defer close(recvCh)
		r := bufio.NewReader(rw)
		for {
			line, err := r.ReadBytes('\n')
			if len(line) > 0 {
				payload, ok := framing.DecodeLegacyTextLine(line)
				if !ok {
					continue
				}
				var env legacyEnvelope
				if jerr := json.Unmarshal(payload, &env); jerr != nil {
					continue
				}
				recvCh <- Frame{Kind: env.Kind, Payload: env.Payload}
			}
			if err != nil {
				return nil
			}
		}
	})
	eg.Go(func() error {
		for f := range sendCh {
			payload, err := json.Marshal(legacyEnvelope{Kind: f.Kind, Payload: f.Payload})
			if err != nil {
				return errors.Wrap(err, "marshal legacy frame")
			}
			if _, err := rw.Write(framing.EncodeLegacyTextLine(payload)); err != nil {
				return err
			}
		}
		return nil
	})

	ctx, cancel := context.WithCancelCause(context.Background())
	c := &legacyFrameConn{
		recvCh: recvCh,
		sendCh: sendCh,
		ctx:    ctx,
		cancel: cancel,
		eg:     eg,
	}
	c.eg.Go(func() error {
		<-ctx.Done()
		return rw.Close()
	})
	return c
}

type legacyFrameConn struct {
	recvCh <-chan Frame
	sendCh chan<- Frame

	ctx    context.Context
	cancel context.CancelCauseFunc

	eg   *errgroup.Group
	once sync.Once
}

func (c *legacyFrameConn) Send(f Frame) error {
	select {
	case c.sendCh <- f:
		return nil
	default:
		return errors.New("legacy frame send channel full")
	}
}

func (c *legacyFrameConn) Recv(ctx context.Context) (Frame, error) {
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

func (c *legacyFrameConn) Close() error {
	c.cancel(context.Canceled)
	c.once.Do(func() {
		close(c.sendCh)
	})
	return c.eg.Wait()
}
