package framing

import (
	"bufio"
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTextRoundTrip(t *testing.T) {
	m := &Message{Seq: 1, Type: TypeRequest, Command: "initialize", Arguments: []byte(`{"adapterID":"demo"}`)}

	var buf bytes.Buffer
	require.NoError(t, EncodeText(&buf, m))

	got, err := DecodeText(bufio.NewReader(&buf))
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, m.Seq, got.Seq)
	assert.Equal(t, m.Type, got.Type)
	assert.Equal(t, m.Command, got.Command)
	assert.JSONEq(t, string(m.Arguments), string(got.Arguments))
}

func TestTextMissingContentLength(t *testing.T) {
	r := bufio.NewReader(strings.NewReader("X-Other: 1\r\n\r\n{}"))
	_, err := DecodeText(r)
	require.Error(t, err)
	assert.True(t, Is(err, ContentLengthMissing))
}

func TestTextMalformedContentLength(t *testing.T) {
	r := bufio.NewReader(strings.NewReader("Content-Length: notanumber\r\n\r\n"))
	_, err := DecodeText(r)
	require.Error(t, err)
	assert.True(t, Is(err, MalformedContentLength))
}

func TestTextZeroLengthIsCleanEOF(t *testing.T) {
	r := bufio.NewReader(strings.NewReader("Content-Length: 0\r\n\r\n"))
	m, err := DecodeText(r)
	require.NoError(t, err)
	assert.Nil(t, m)
}

func TestTextEmptyStreamIsCleanEOF(t *testing.T) {
	r := bufio.NewReader(strings.NewReader(""))
	m, err := DecodeText(r)
	require.NoError(t, err)
	assert.Nil(t, m)
}

func TestTextShortRead(t *testing.T) {
	r := bufio.NewReader(strings.NewReader("Content-Length: 100\r\n\r\n{}"))
	_, err := DecodeText(r)
	require.Error(t, err)
	assert.True(t, Is(err, ShortRead))
}

func TestTextInvalidJSON(t *testing.T) {
	body := "not json"
	r := bufio.NewReader(strings.NewReader("Content-Length: 8\r\n\r\n" + body))
	_, err := DecodeText(r)
	require.Error(t, err)
	assert.True(t, Is(err, InvalidJson))
}

func TestBinaryRoundTrip(t *testing.T) {
	payload := []byte(`{"command":"continue","id":7}`)
	frame := PackBinary(KindToDebuggee, payload)

	kind, got, err := UnpackBinary(bytes.NewReader(frame))
	require.NoError(t, err)
	assert.Equal(t, KindToDebuggee, kind)
	assert.Equal(t, payload, got)
}

func TestBinaryBadMagic(t *testing.T) {
	frame := PackBinary(KindFromDebuggee, []byte("{}"))
	frame[0] = 'X'
	_, _, err := UnpackBinary(bytes.NewReader(frame))
	require.Error(t, err)
	assert.True(t, Is(err, BadMagic))
}

func TestBinaryBadVersion(t *testing.T) {
	frame := PackBinary(KindFromDebuggee, []byte("{}"))
	frame[2] = 9
	_, _, err := UnpackBinary(bytes.NewReader(frame))
	require.Error(t, err)
	assert.True(t, Is(err, BadVersion))
}

func TestBinaryShortRead(t *testing.T) {
	frame := PackBinary(KindFromDebuggee, []byte("{}"))
	_, _, err := UnpackBinary(bytes.NewReader(frame[:len(frame)-1]))
	require.Error(t, err)
	assert.True(t, Is(err, ShortRead))
}

func TestLegacyTextLine(t *testing.T) {
	payload := []byte(`{"event":"output"}`)
	line := EncodeLegacyTextLine(payload)

	got, ok := DecodeLegacyTextLine(bytes.TrimRight(line, "\n"))
	require.True(t, ok)
	assert.Equal(t, payload, got)
}

func TestLegacyTextLineRejectsOther(t *testing.T) {
	_, ok := DecodeLegacyTextLine([]byte(`{"event":"output"}`))
	assert.False(t, ok)
}

