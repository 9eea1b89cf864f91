// Package correlator implements the adapter→debuggee command correlator
// (§4.4): every outbound command that expects a response is tagged with a
// monotonic id, registered in a pending table, and resolved (or failed)
// when a matching response arrives — possibly from a different goroutine
// than the one awaiting it, since external-backend responses arrive on a
// dedicated transport reader.
package correlator

import (
	"context"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
)

// TimeoutEnvVar is the environment variable naming a finite per-command
// response timeout. Absent, empty, non-numeric, zero, or negative values
// disable the timeout (wait forever); a positive float enables it.
const TimeoutEnvVar = "DAPPER_COMMAND_RESPONSE_TIMEOUT_SECONDS"

// ErrShutdown is the error every still-pending command fails with when
// the correlator is drained on shutdown.
var ErrShutdown = errors.New("correlator: shut down while command was pending")

// ErrTimeout is returned when a command's response does not arrive
// within the configured timeout.
var ErrTimeout = errors.New("correlator: command timed out waiting for response")

// Timeout reads the configured response timeout from the environment. A
// returned duration of 0 means "no timeout".
func Timeout() time.Duration {
	raw := os.Getenv(TimeoutEnvVar)
	if raw == "" {
		return 0
	}
	seconds, err := strconv.ParseFloat(raw, 64)
	if err != nil || seconds <= 0 {
		return 0
	}
	return time.Duration(seconds * float64(time.Second))
}

// Correlator owns the pending-command table. It is safe for concurrent
// use: Register/Resolve/Fail may all be called from different goroutines.
type Correlator struct {
	nextID atomic.Int64

	mu      sync.Mutex
	pending map[int64]chan any

	shutdown atomic.Bool
}

// New constructs an empty Correlator.
func New() *Correlator {
	return &Correlator{pending: make(map[int64]chan any)}
}

// NextID allocates the next command id. Starts at 1, monotonically
// increases, and is a separate counter from the protocol's outbound
// sequence numbers (§3).
func (c *Correlator) NextID() int64 {
	return c.nextID.Add(1)
}

// Register installs a pending entry for id before the command frame is
// written, per §4.4 step 1-2. It returns a wait function that yields
// exactly one result: either the resolved response body, or an error if
// the command fails, times out, the wait's context ends, or the
// correlator shuts down first; and a cancel function that removes the
// pending entry.
func (c *Correlator) Register(id int64) (wait func(ctx context.Context) (any, error), cancel func()) {
	ch := make(chan any, 1)

	c.mu.Lock()
	if c.shutdown.Load() {
		c.mu.Unlock()
		ch <- errorValue{ErrShutdown}
		return waitFn(ch), func() {}
	}
	c.pending[id] = ch
	c.mu.Unlock()

	cancelFn := func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}
	return waitFn(ch), cancelFn
}

type errorValue struct{ err error }

func waitFn(ch chan any) func(ctx context.Context) (any, error) {
	return func(ctx context.Context) (any, error) {
		timeout := Timeout()
		var timeoutCh <-chan time.Time
		if timeout > 0 {
			timer := time.NewTimer(timeout)
			defer timer.Stop()
			timeoutCh = timer.C
		}

		select {
		case v := <-ch:
			if ev, ok := v.(errorValue); ok {
				return nil, ev.err
			}
			return v, nil
		case <-timeoutCh:
			return nil, ErrTimeout
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Resolve delivers a response body to the pending entry for id, per §4.4
// step 5. It is safe to call from any goroutine, including a transport
// reader thread distinct from the one that called Register/wait — no
// cross-thread scheduling is needed because the channel handoff is
// itself the thread-safe resolution mechanism (the Go equivalent of the
// original's call_soon_threadsafe dance).
func (c *Correlator) Resolve(id int64, body any) bool {
	c.mu.Lock()
	ch, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.mu.Unlock()

	if !ok {
		return false
	}
	ch <- body
	return true
}

// Fail fails one pending entry with err, used for per-command timeouts
// triggered externally or backend-reported command failures.
func (c *Correlator) Fail(id int64, err error) bool {
	c.mu.Lock()
	ch, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.mu.Unlock()

	if !ok {
		return false
	}
	ch <- errorValue{err}
	return true
}

// Shutdown drains the pending table and fails every remaining entry with
// ErrShutdown, per the invariant in §3: "Shutdown drains the table and
// fails every remaining entry with a shutdown error." After Shutdown,
// every subsequent Register call fails immediately.
func (c *Correlator) Shutdown() {
	c.shutdown.Store(true)

	c.mu.Lock()
	pending := c.pending
	c.pending = make(map[int64]chan any)
	c.mu.Unlock()

	for _, ch := range pending {
		ch <- errorValue{ErrShutdown}
	}
}

// Pending reports the number of commands currently awaiting a response,
// useful for tests asserting invariant 7 (bounded drain on shutdown).
func (c *Correlator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}
