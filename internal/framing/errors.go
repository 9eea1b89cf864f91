package framing

import "github.com/pkg/errors"

// ErrorKind classifies a framing failure. The classification, not a type
// hierarchy, is what callers switch on.
type ErrorKind int

const (
	ContentLengthMissing ErrorKind = iota
	MalformedContentLength
	ShortRead
	InvalidJson
	BadMagic
	BadVersion
)

func (k ErrorKind) String() string {
	switch k {
	case ContentLengthMissing:
		return "content-length header missing"
	case MalformedContentLength:
		return "malformed content-length value"
	case ShortRead:
		return "short read mid-frame"
	case InvalidJson:
		return "invalid json payload"
	case BadMagic:
		return "bad frame magic"
	case BadVersion:
		return "unsupported frame version"
	default:
		return "unknown framing error"
	}
}

// Error is returned for every decode failure. It wraps an underlying cause
// where one exists (e.g. the json.Unmarshal error for InvalidJson).
type Error struct {
	Kind  ErrorKind
	Cause error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Kind.String() + ": " + e.Cause.Error()
	}
	return e.Kind.String()
}

func (e *Error) Unwrap() error { return e.Cause }

func newError(kind ErrorKind, cause error) error {
	return errors.WithStack(&Error{Kind: kind, Cause: cause})
}

// Is reports whether err is a framing Error of the given kind.
func Is(err error, kind ErrorKind) bool {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind == kind
	}
	return false
}
