package framing

import (
	"bufio"
	"encoding/json"
	"io"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

const headerContentLength = "Content-Length"

// DecodeText reads one Content-Length-framed message from r. A clean
// end-of-stream at a frame boundary (no bytes read at all, or an explicit
// Content-Length: 0 header) returns (nil, nil); a partial frame returns
// ShortRead.
func DecodeText(r *bufio.Reader) (*Message, error) {
	length := -1
	sawAnyLine := false

	for {
		line, err := r.ReadString('\n')
		if err != nil {
			if err == io.EOF && line == "" {
				if !sawAnyLine {
					return nil, nil
				}
				return nil, newError(ShortRead, err)
			}
			if err == io.EOF {
				return nil, newError(ShortRead, err)
			}
			return nil, newError(ShortRead, err)
		}
		sawAnyLine = true

		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			break
		}

		name, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		if !strings.EqualFold(strings.TrimSpace(name), headerContentLength) {
			continue
		}

		n, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil || n < 0 {
			return nil, newError(MalformedContentLength, err)
		}
		length = n
	}

	if length < 0 {
		return nil, newError(ContentLengthMissing, nil)
	}
	if length == 0 {
		// Per the framing contract, a zero-length frame signals clean
		// end-of-stream rather than an empty Message.
		return nil, nil
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, newError(ShortRead, err)
	}

	var m Message
	if err := json.Unmarshal(payload, &m); err != nil {
		return nil, newError(InvalidJson, err)
	}
	return &m, nil
}

// EncodeText writes m as a single Content-Length-framed message to w. The
// caller's writer must serialize concurrent calls; EncodeText issues
// exactly one Write per frame's worth of bytes so framing is atomic with
// respect to the stream as long as the underlying Write is.
func EncodeText(w io.Writer, m *Message) error {
	payload, err := json.Marshal(m)
	if err != nil {
		return errors.Wrap(err, "marshal message")
	}
	frame := strconv.Itoa(len(payload))
	buf := make([]byte, 0, len(frame)+len(payload)+32)
	buf = append(buf, headerContentLength+": "...)
	buf = append(buf, frame...)
	buf = append(buf, "\r\n\r\n"...)
	buf = append(buf, payload...)
	_, err = w.Write(buf)
	return errors.Wrap(err, "write frame")
}
