// Package lifecycle implements the session state machine from §4.5: a
// small set of states, a fixed transition table, and a scoped operation
// guard that auto-advances the machine around a unit of work.
package lifecycle

import (
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// State is one of the seven backend lifecycle states.
type State int

const (
	Uninitialized State = iota
	Initializing
	Ready
	Busy
	Error
	Terminating
	Terminated
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "Uninitialized"
	case Initializing:
		return "Initializing"
	case Ready:
		return "Ready"
	case Busy:
		return "Busy"
	case Error:
		return "Error"
	case Terminating:
		return "Terminating"
	case Terminated:
		return "Terminated"
	default:
		return "Unknown"
	}
}

var transitions = map[State]map[State]bool{
	Uninitialized: {Initializing: true, Terminated: true},
	Initializing:  {Ready: true, Error: true, Terminating: true},
	Ready:         {Busy: true, Error: true, Terminating: true},
	Busy:          {Ready: true, Error: true, Terminating: true},
	Error:         {Ready: true, Terminating: true},
	Terminating:   {Terminated: true, Error: true},
	Terminated:    {},
}

// TransitionError reports an attempted transition absent from the table.
type TransitionError struct {
	From, To State
}

func (e *TransitionError) Error() string {
	return "lifecycle: invalid transition " + e.From.String() + " -> " + e.To.String()
}

// CleanupFunc runs during termination. Errors are logged, not propagated:
// per §4.5, "callback errors are logged and do not stop subsequent
// callbacks."
type CleanupFunc func() error

// Lifecycle guards a single session's state with a mutex and a registry
// of ordered cleanup callbacks.
type Lifecycle struct {
	mu    sync.Mutex
	state State
	err   error

	cleanups []CleanupFunc
	log      *logrus.Entry
}

// New constructs a Lifecycle in the Uninitialized state.
func New(log *logrus.Entry) *Lifecycle {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Lifecycle{state: Uninitialized, log: log}
}

// State returns the current state.
func (l *Lifecycle) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// RegisterCleanup appends a cleanup callback, run in registration order
// on termination.
func (l *Lifecycle) RegisterCleanup(fn CleanupFunc) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cleanups = append(l.cleanups, fn)
}

// Transition attempts from -> to under the table in §4.5. Callers
// normally go through Enter/Exit/Fail/Terminate instead of calling this
// directly.
func (l *Lifecycle) Transition(to State) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.transitionLocked(to)
}

func (l *Lifecycle) transitionLocked(to State) error {
	if !transitions[l.state][to] {
		return &TransitionError{From: l.state, To: to}
	}
	l.state = to
	return nil
}

// Enter is the operation_context scoped guard (§4.5): on entry it
// auto-advances Uninitialized->Initializing->Ready if needed, then
// Ready->Busy. It returns a func(error) the caller must invoke exactly
// once on exit: passed nil it returns Busy->Ready, passed a non-nil error
// it transitions to Error and the error is returned unwrapped so the
// caller can continue propagating it (the original's "re-raise").
func (l *Lifecycle) Enter(op string) (exit func(err error) error, enterErr error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch l.state {
	case Terminated, Terminating:
		return nil, errors.Errorf("lifecycle: cannot enter operation %q from %s", op, l.state)
	case Uninitialized:
		if err := l.transitionLocked(Initializing); err != nil {
			return nil, err
		}
		if err := l.transitionLocked(Ready); err != nil {
			return nil, err
		}
	case Error:
		if err := l.transitionLocked(Ready); err != nil {
			return nil, err
		}
	}

	if err := l.transitionLocked(Busy); err != nil {
		return nil, err
	}

	return func(opErr error) error {
		l.mu.Lock()
		defer l.mu.Unlock()

		if opErr != nil {
			l.err = opErr
			// A failed exit from Busy always lands in Error, regardless
			// of table shape churn: Busy->Error is always permitted.
			_ = l.transitionLocked(Error)
			return opErr
		}
		_ = l.transitionLocked(Ready)
		return nil
	}, nil
}

// Fail forces a transition to Error(err) from any state permitting it.
func (l *Lifecycle) Fail(err error) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.err = err
	return l.transitionLocked(Error)
}

// LastError returns the error associated with the most recent Error
// transition, if any.
func (l *Lifecycle) LastError() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.err
}

// Terminate drives Terminating -> runs cleanup callbacks in order,
// logging (not stopping on) individual failures -> Terminated. From
// Uninitialized, which has no Terminating edge, it runs the callbacks and
// goes straight to Terminated. It is idempotent: calling it again once
// Terminated returns nil.
func (l *Lifecycle) Terminate() error {
	l.mu.Lock()
	if l.state == Terminated {
		l.mu.Unlock()
		return nil
	}
	if l.state != Uninitialized {
		if err := l.transitionLocked(Terminating); err != nil {
			l.mu.Unlock()
			return err
		}
	}
	cleanups := append([]CleanupFunc(nil), l.cleanups...)
	l.mu.Unlock()

	var result *multierror.Error
	for _, fn := range cleanups {
		if err := fn(); err != nil {
			l.log.WithError(err).Warn("lifecycle cleanup callback failed")
			result = multierror.Append(result, err)
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.transitionLocked(Terminated); err != nil {
		return err
	}
	return result.ErrorOrNil()
}
