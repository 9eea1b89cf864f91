// Package session implements the session store (§4.6): the single
// coarse-grained mutex and the tables it guards (threads, stack frames,
// variable references, breakpoints, watches). Each exported method takes
// the lock for its own short critical section and calls no other locking
// method while holding it, which is how the package does without a
// re-entrant lock (Go mutexes are not reentrant). Handler code that calls
// several methods in a row gets each call atomic on its own, not the
// sequence as a whole.
package session

import (
	"sync"
	"sync/atomic"

	"github.com/google/go-dap"
)

// Thread is one entry in the thread table (§3).
type Thread struct {
	ID         int
	Name       string
	Stopped    bool
	StopReason string
}

// Frame is one stack-frame snapshot, valid only while its owning thread
// is stopped.
type Frame struct {
	ID     int
	Name   string
	Source *dap.Source
	Line   int
	Column int
}

// Session owns every mutable table a connection's handlers and event
// router share.
type Session struct {
	mu sync.Mutex

	threads map[int]*Thread
	frames  map[int][]Frame // thread id -> ordered frames

	varRefs   map[int]func() []dap.Variable
	nextVarID atomic.Int64

	lineBreakpoints map[string][]*LineBreakpoint
	funcBreakpoints []*FunctionBreakpoint
	exceptionFilter ExceptionFilters

	dataWatches  map[string]*DataWatch // dataId -> watch
	frameWatches map[int][]string      // frame id -> dataIds visible there

	sources map[string]sourceEntry // path -> last-seen content hash, for loadedSource reason policy

	nextFrameID atomic.Int64
}

type sourceEntry struct {
	seen bool
	hash string
}

// New constructs an empty Session.
func New() *Session {
	return &Session{
		threads:         make(map[int]*Thread),
		frames:          make(map[int][]Frame),
		varRefs:         make(map[int]func() []dap.Variable),
		lineBreakpoints: make(map[string][]*LineBreakpoint),
		dataWatches:     make(map[string]*DataWatch),
		frameWatches:    make(map[int][]string),
		sources:         make(map[string]sourceEntry),
	}
}

// --- threads ---

// ThreadStarted inserts a thread entry, per the `thread.started` event
// handling in §4.9.
func (s *Session) ThreadStarted(id int, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.threads[id] = &Thread{ID: id, Name: name}
}

// ThreadExited removes a thread entry and its cached frames.
func (s *Session) ThreadExited(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.threads, id)
	delete(s.frames, id)
}

// SetStopped records a thread as stopped with the given reason; its frames
// are cached separately through SetFrames. SetResumed clears both per the
// invariant "any resume of t invalidates [its cached stack frames]".
func (s *Session) SetStopped(id int, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.threads[id]
	if !ok {
		t = &Thread{ID: id}
		s.threads[id] = t
	}
	t.Stopped = true
	t.StopReason = reason
}

// SetResumed clears a thread's stopped flag and its cached stack frames.
func (s *Session) SetResumed(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.threads[id]; ok {
		t.Stopped = false
		t.StopReason = ""
	}
	delete(s.frames, id)
}

// ResumeAll clears every thread's stopped flag and every cached frame
// set, used when a `continue` without a threadId resumes everything.
func (s *Session) ResumeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.threads {
		t.Stopped = false
		t.StopReason = ""
	}
	s.frames = make(map[int][]Frame)
}

// Threads returns a snapshot of the thread table in unspecified order.
func (s *Session) Threads() []Thread {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Thread, 0, len(s.threads))
	for _, t := range s.threads {
		out = append(out, *t)
	}
	return out
}

// IsStopped reports whether the given thread is currently stopped.
func (s *Session) IsStopped(id int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.threads[id]
	return ok && t.Stopped
}

// --- stack frames ---

// SetFrames replaces the cached frame snapshot for a thread. Valid only
// while the thread is stopped; callers must have already called
// SetStopped.
func (s *Session) SetFrames(threadID int, frames []Frame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames[threadID] = frames
}

// Frames returns the cached frames for a thread, or nil if the thread is
// not stopped (per the "valid only while stopped" invariant).
func (s *Session) Frames(threadID int) []Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.threads[threadID]; !ok || !t.Stopped {
		return nil
	}
	return s.frames[threadID]
}

// NextFrameID allocates a fresh frame id, independent of the variable
// reference counter.
func (s *Session) NextFrameID() int {
	return int(s.nextFrameID.Add(1))
}

// --- variable references ---

// NewVariableRef allocates a fresh, never-reused handle memoizing fn, the
// same lazy-and-memoized pattern docker-buildx's variableReferences uses
// (sync.OnceValue over a closure keyed by a monotonic id). Ids start at 1
// and are never aliased or reused within a session (invariant 6).
func (s *Session) NewVariableRef(fn func() []dap.Variable) int {
	id := int(s.nextVarID.Add(1))
	memoized := sync.OnceValue(fn)

	s.mu.Lock()
	s.varRefs[id] = memoized
	s.mu.Unlock()
	return id
}

// Variables resolves a variable reference to its children. An unknown
// reference returns an empty, non-nil slice.
func (s *Session) Variables(ref int) []dap.Variable {
	s.mu.Lock()
	fn, ok := s.varRefs[ref]
	s.mu.Unlock()

	if !ok {
		return []dap.Variable{}
	}
	vars := fn()
	if vars == nil {
		vars = []dap.Variable{}
	}
	return vars
}

// ResetVariableRefs discards every allocated variable reference. Called
// on resume, since variable references are frame-scoped and frames are
// invalidated on resume.
func (s *Session) ResetVariableRefs() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.varRefs = make(map[int]func() []dap.Variable)
}

// RecordSource records that path's content (identified by hash, an
// opaque fingerprint the caller computes) has been loaded, and returns
// the loadedSource reason to emit: "new" the first time a path is seen,
// "changed" on every subsequent call whose hash differs from the last
// one recorded, and "" when the content is unchanged (no event should be
// emitted). This is the policy adopted for Open Question #3 (§9),
// grounded on docker-buildx's sourceMap.Put.
func (s *Session) RecordSource(path, hash string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, ok := s.sources[path]
	s.sources[path] = sourceEntry{seen: true, hash: hash}
	if !ok {
		return "new"
	}
	if prev.hash != hash {
		return "changed"
	}
	return ""
}

// Sources returns every path recorded via RecordSource, in unspecified
// order (backing `loadedSources`).
func (s *Session) Sources() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.sources))
	for path := range s.sources {
		out = append(out, path)
	}
	return out
}
