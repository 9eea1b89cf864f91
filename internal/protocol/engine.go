// Package protocol implements the DAP protocol engine: a single-threaded
// cooperative read loop per connection that decodes github.com/google/go-dap
// messages, assigns outbound sequence numbers, and routes inbound messages
// to a Dispatcher.
package protocol

import (
	"bufio"
	"io"
	"sync"
	"sync/atomic"

	"github.com/google/go-dap"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Dispatcher handles one decoded request and returns the response body (or
// an error, which the engine converts into a failed response per §7).
type Dispatcher interface {
	Dispatch(req dap.RequestMessage) (dap.ResponseMessage, error)
}

// Engine owns one IDE connection: it reads requests, hands them to a
// Dispatcher, and writes responses and events back in order.
type Engine struct {
	rd  *bufio.Reader
	wr  io.Writer
	log *logrus.Entry

	dispatcher Dispatcher

	seq atomic.Int64

	writeMu sync.Mutex

	initialized atomic.Bool
}

// NewEngine constructs an Engine over rd/wr. Nothing is read until Run is
// called.
func NewEngine(rd io.Reader, wr io.Writer, dispatcher Dispatcher, log *logrus.Entry) *Engine {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Engine{
		rd:         bufio.NewReader(rd),
		wr:         wr,
		dispatcher: dispatcher,
		log:        log,
	}
}

// nextSeq returns the next strictly monotonic outbound protocol sequence
// number. Starts at 1.
func (e *Engine) nextSeq() int {
	return int(e.seq.Add(1))
}

// Run drives the read loop until the connection closes or a FramingError
// is hit, per §4.3 step 1: a framing failure is fatal to the connection,
// not recoverable per-frame.
func (e *Engine) Run() error {
	for {
		msg, err := dap.ReadProtocolMessage(e.rd)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			e.log.WithError(err).Warn("framing error, closing connection")
			return errors.Wrap(err, "read protocol message")
		}

		switch m := msg.(type) {
		case dap.RequestMessage:
			e.handleRequest(m)
		case dap.ResponseMessage:
			// The server never initiates requests to the IDE, so any
			// response received here is a malformed peer; ignore it.
			e.log.Debug("ignoring unexpected response from client")
		case dap.EventMessage:
			// The IDE does not send events to the adapter.
			e.log.Debug("ignoring unexpected event from client")
		default:
			e.log.Warnf("ignoring message of unknown kind %T", msg)
		}
	}
}

// PostResponseHook lets a Dispatcher run follow-up work (e.g. emitting
// `initialized` once the initialize response has actually hit the wire)
// without risking it racing ahead of the response it follows. Optional:
// a Dispatcher that doesn't need this simply doesn't implement it.
type PostResponseHook interface {
	AfterResponse(cmd string, success bool)
}

func (e *Engine) handleRequest(req dap.RequestMessage) {
	cmd := req.GetRequest().Command

	body, err := e.dispatcher.Dispatch(req)
	if err != nil {
		e.writeErrorResponse(req, err)
		if hook, ok := e.dispatcher.(PostResponseHook); ok {
			hook.AfterResponse(cmd, false)
		}
		return
	}
	e.writeResponse(body)
	if hook, ok := e.dispatcher.(PostResponseHook); ok {
		hook.AfterResponse(cmd, true)
	}
}

func (e *Engine) writeResponse(resp dap.ResponseMessage) {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	r := resp.GetResponse()
	r.Seq = e.nextSeq()
	r.Type = "response"

	if err := dap.WriteProtocolMessage(e.wr, resp); err != nil {
		e.log.WithError(err).Error("write response")
	}
}

func (e *Engine) writeErrorResponse(req dap.RequestMessage, cause error) {
	r := req.GetRequest()

	resp := &dap.Response{}
	resp.RequestSeq = r.Seq
	resp.Command = r.Command
	resp.Success = false
	resp.Message = cause.Error()

	e.writeResponse(resp)
}

// SendEvent writes an event, assigning the next sequence number. The
// initialized event and every subsequent event flow through here so that
// ordering invariant 2 (initialized strictly follows the initialize
// response and precedes every other event) can be enforced by the caller
// sequencing its calls to SendEvent, not by the Engine itself.
func (e *Engine) SendEvent(ev dap.EventMessage) error {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	b := ev.GetEvent()
	b.Seq = e.nextSeq()
	b.Type = "event"

	return errors.Wrap(dap.WriteProtocolMessage(e.wr, ev), "write event")
}
