package framing

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

// Kind distinguishes the direction of a binary frame.
type Kind byte

const (
	// KindFromDebuggee carries an event or a response originating at the
	// debuggee.
	KindFromDebuggee Kind = 1
	// KindToDebuggee carries a command addressed to the debuggee.
	KindToDebuggee Kind = 2
)

var magic = [2]byte{'D', 'P'}

const version byte = 1

const headerLen = 2 + 1 + 1 + 4 // magic + version + kind + BE32 length

// PackBinary encodes one binary frame: "DP" | version | kind | len:BE32 | payload.
func PackBinary(kind Kind, payload []byte) []byte {
	buf := make([]byte, headerLen+len(payload))
	buf[0], buf[1] = magic[0], magic[1]
	buf[2] = version
	buf[3] = byte(kind)
	binary.BigEndian.PutUint32(buf[4:8], uint32(len(payload)))
	copy(buf[8:], payload)
	return buf
}

// UnpackBinary reads one binary frame from r. A bad magic, unsupported
// version, or short read all stop the reader cleanly: the caller should
// treat any returned error as fatal to the connection, not per-frame
// recoverable, mirroring the text framing's FramingError semantics.
func UnpackBinary(r io.Reader) (Kind, []byte, error) {
	header := make([]byte, headerLen)
	if _, err := io.ReadFull(r, header); err != nil {
		if err == io.EOF {
			return 0, nil, io.EOF
		}
		return 0, nil, newError(ShortRead, err)
	}

	if header[0] != magic[0] || header[1] != magic[1] {
		return 0, nil, newError(BadMagic, errors.Errorf("got %q", header[0:2]))
	}
	if header[2] != version {
		return 0, nil, newError(BadVersion, errors.Errorf("got %d", header[2]))
	}

	kind := Kind(header[3])
	length := binary.BigEndian.Uint32(header[4:8])

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return 0, nil, newError(ShortRead, err)
	}
	return kind, payload, nil
}

// DecodeLegacyTextLine parses the legacy fallback framing accepted for
// compatibility with older endpoints: a single line "DBGP: <json>\n".
func DecodeLegacyTextLine(line []byte) ([]byte, bool) {
	const prefix = "DBGP: "
	if len(line) < len(prefix) || string(line[:len(prefix)]) != prefix {
		return nil, false
	}
	return line[len(prefix):], true
}

// EncodeLegacyTextLine writes payload using the legacy "DBGP: <json>\n"
// fallback framing.
func EncodeLegacyTextLine(payload []byte) []byte {
	out := make([]byte, 0, len("DBGP: ")+len(payload)+1)
	out = append(out, "DBGP: "...)
	out = append(out, payload...)
	out = append(out, '\n')
	return out
}
