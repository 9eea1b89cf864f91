package session

import (
	"testing"

	"github.com/google/go-dap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVariableRefsAreInjective(t *testing.T) {
	s := New()
	seen := make(map[int]bool)
	for i := 0; i < 100; i++ {
		id := s.NewVariableRef(func() []dap.Variable { return nil })
		require.False(t, seen[id], "id %d reused", id)
		seen[id] = true
	}
}

func TestVariablesNeverReturnsNilSlice(t *testing.T) {
	s := New()
	assert.Equal(t, []dap.Variable{}, s.Variables(9999))
}

func TestSetLineBreakpointsReplaces(t *testing.T) {
	s := New()
	s.SetLineBreakpoints("/tmp/x.py", []LineBreakpoint{{Line: 3}, {Line: 5}})
	got := s.LineBreakpoints("/tmp/x.py")
	require.Len(t, got, 2)
	assert.Equal(t, 3, got[0].Line)
	assert.Equal(t, 5, got[1].Line)

	s.SetLineBreakpoints("/tmp/x.py", []LineBreakpoint{{Line: 7}})
	got = s.LineBreakpoints("/tmp/x.py")
	require.Len(t, got, 1)
	assert.Equal(t, 7, got[0].Line)
}

func TestSetLineBreakpointsPreservesIDAcrossOverlap(t *testing.T) {
	s := New()
	first := s.SetLineBreakpoints("/tmp/x.py", []LineBreakpoint{{Line: 3}})
	second := s.SetLineBreakpoints("/tmp/x.py", []LineBreakpoint{{Line: 3}, {Line: 4}})
	assert.Equal(t, first[0].ID, second[0].ID)
}

func TestFramesInvalidatedOnResume(t *testing.T) {
	s := New()
	s.SetStopped(1, "breakpoint")
	s.SetFrames(1, []Frame{{ID: 1, Name: "main"}})
	require.Len(t, s.Frames(1), 1)

	s.SetResumed(1)
	assert.Nil(t, s.Frames(1))
}

func TestDataIDRoundTrip(t *testing.T) {
	id := DataID(3, "x", "")
	assert.Equal(t, "frame:3:var:x", id)

	frameID, name, expr, ok := ParseDataID(id)
	require.True(t, ok)
	assert.Equal(t, 3, frameID)
	assert.Equal(t, "x", name)
	assert.Empty(t, expr)
}

func TestDegradeAccessType(t *testing.T) {
	assert.Equal(t, AccessRead, DegradeAccessType(AccessRead, true))
	assert.Equal(t, AccessWrite, DegradeAccessType(AccessRead, false))
	assert.Equal(t, AccessWrite, DegradeAccessType(AccessReadWrite, false))
	assert.Equal(t, AccessWrite, DegradeAccessType(AccessWrite, false))
}

func TestRecordSourceNewChangedUnchanged(t *testing.T) {
	s := New()

	assert.Equal(t, "new", s.RecordSource("/tmp/x.py", "hash1"))
	assert.Equal(t, "", s.RecordSource("/tmp/x.py", "hash1"))
	assert.Equal(t, "changed", s.RecordSource("/tmp/x.py", "hash2"))
	assert.Equal(t, "", s.RecordSource("/tmp/x.py", "hash2"))

	assert.Equal(t, "new", s.RecordSource("/tmp/y.py", "hash1"))
}

func TestDataWatchDetectsEveryChangedName(t *testing.T) {
	s := New()
	s.SetDataWatches([]*DataWatch{
		{DataID: DataID(1, "x", ""), Name: "x", FrameID: 1},
		{DataID: DataID(1, "y", ""), Name: "y", FrameID: 1},
		{DataID: DataID(1, "z", ""), Name: "z", FrameID: 1},
	})

	// Establish baselines (1, 2, 3).
	assert.False(t, s.CheckWatch(DataID(1, "x", ""), "1"))
	assert.False(t, s.CheckWatch(DataID(1, "y", ""), "2"))
	assert.False(t, s.CheckWatch(DataID(1, "z", ""), "3"))

	// Mutate to (100, 2, 300): x and z change, y does not.
	changed := map[string]bool{}
	for _, dataID := range s.WatchesForFrame(1) {
		var newValue string
		switch dataID {
		case DataID(1, "x", ""):
			newValue = "100"
		case DataID(1, "y", ""):
			newValue = "2"
		case DataID(1, "z", ""):
			newValue = "300"
		}
		if s.CheckWatch(dataID, newValue) {
			changed[dataID] = true
		}
	}

	assert.True(t, changed[DataID(1, "x", "")])
	assert.True(t, changed[DataID(1, "z", "")])
	assert.False(t, changed[DataID(1, "y", "")])
}
