package lifecycle

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnterAutoAdvancesFromUninitialized(t *testing.T) {
	l := New(nil)
	exit, err := l.Enter("initialize")
	require.NoError(t, err)
	assert.Equal(t, Busy, l.State())
	require.NoError(t, exit(nil))
	assert.Equal(t, Ready, l.State())
}

func TestEnterExitWithErrorGoesToError(t *testing.T) {
	l := New(nil)
	exit, err := l.Enter("launch")
	require.NoError(t, err)

	opErr := errors.New("boom")
	assert.Equal(t, opErr, exit(opErr))
	assert.Equal(t, Error, l.State())
	assert.Equal(t, opErr, l.LastError())
}

func TestEnterRecoversFromError(t *testing.T) {
	l := New(nil)
	exit, _ := l.Enter("op1")
	exit(errors.New("boom"))
	require.Equal(t, Error, l.State())

	exit2, err := l.Enter("op2")
	require.NoError(t, err)
	assert.Equal(t, Busy, l.State())
	require.NoError(t, exit2(nil))
	assert.Equal(t, Ready, l.State())
}

func TestEnterRejectedFromTerminated(t *testing.T) {
	l := New(nil)
	require.NoError(t, l.Transition(Initializing))
	require.NoError(t, l.Transition(Terminating))
	require.NoError(t, l.Transition(Terminated))

	_, err := l.Enter("anything")
	assert.Error(t, err)
}

func TestInvalidTransitionRejected(t *testing.T) {
	l := New(nil)
	err := l.Transition(Busy)
	require.Error(t, err)
	var te *TransitionError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, Uninitialized, te.From)
	assert.Equal(t, Busy, te.To)
}

func TestCleanupCallbacksRunInOrderAndDontStopOnError(t *testing.T) {
	l := New(nil)
	var order []int
	l.RegisterCleanup(func() error { order = append(order, 1); return errors.New("fail1") })
	l.RegisterCleanup(func() error { order = append(order, 2); return nil })
	l.RegisterCleanup(func() error { order = append(order, 3); return errors.New("fail3") })

	err := l.Terminate()
	assert.Error(t, err)
	assert.Equal(t, []int{1, 2, 3}, order)
	assert.Equal(t, Terminated, l.State())
}

func TestTerminateIsIdempotent(t *testing.T) {
	l := New(nil)
	require.NoError(t, l.Terminate())
	require.NoError(t, l.Terminate())
	assert.Equal(t, Terminated, l.State())
}
