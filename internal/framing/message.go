// Package framing implements the two wire framings used by dapper: the
// text Content-Length framing used between the IDE and the adapter, and
// the binary magic+version+kind+length framing used between the adapter
// and an external debuggee. Both are independent of transport: each is
// fed a read half and a write half and knows nothing about sockets.
package framing

import "encoding/json"

// Type is the Message variant discriminant on the wire.
type Type string

const (
	TypeRequest  Type = "request"
	TypeResponse Type = "response"
	TypeEvent    Type = "event"
)

// Message is the generic tagged value the framing codec decodes to. It is
// deliberately untyped relative to any particular command/event catalog.
// The protocol engine does not use it: it reads and writes the IDE-facing
// wire through github.com/google/go-dap's own codec and concrete structs.
type Message struct {
	Seq        int             `json:"seq"`
	Type       Type            `json:"type"`
	Command    string          `json:"command,omitempty"`
	Event      string          `json:"event,omitempty"`
	RequestSeq int             `json:"request_seq,omitempty"`
	Success    bool            `json:"success,omitempty"`
	Message    string          `json:"message,omitempty"`
	Arguments  json.RawMessage `json:"arguments,omitempty"`
	Body       json.RawMessage `json:"body,omitempty"`
}
