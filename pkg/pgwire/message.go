// Package pgwire implements the server side of the PostgreSQL frontend/backend
// wire protocol, version 3.0: bit-exact message framing, encoding and decoding.
//
// Messages sent by the client (frontend) implement FrontendMessage; messages
// sent by the server (backend) implement BackendMessage. Encode appends the
// complete framed message (type byte + length + body) to dst, so a partially
// encoded message is never observable on the wire.
package pgwire

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/jackc/pgio"
)

// Message is any protocol message, frontend or backend.
type Message interface {
	// Decode fills the message from a wire-format body (after the 5-byte header).
	Decode(data []byte) error

	// Encode appends the complete framed message to dst and returns the
	// extended slice.
	Encode(dst []byte) ([]byte, error)
}

// FrontendMessage is a message sent by the client.
type FrontendMessage interface {
	Message
	Frontend()
}

// BackendMessage is a message sent by the server.
type BackendMessage interface {
	Message
	Backend()
}

// maxMessageBodyLen bounds Encode output. The length field is an int32 that
// includes itself, so a body may not exceed this many bytes.
const maxMessageBodyLen = (1 << 31) - 5

var errMessageTooLarge = errors.New("pgwire: message body too large")

// beginMessage appends the type byte and a length placeholder to dst and
// returns the offset of the placeholder for finishMessage.
func beginMessage(dst []byte, t MsgType) ([]byte, int) {
	dst = append(dst, byte(t))
	sp := len(dst)
	dst = pgio.AppendInt32(dst, -1)
	return dst, sp
}

// finishMessage back-patches the length field started by beginMessage.
func finishMessage(dst []byte, sp int) ([]byte, error) {
	messageBodyLen := len(dst[sp:])
	if messageBodyLen > maxMessageBodyLen {
		return nil, errMessageTooLarge
	}
	pgio.SetInt32(dst[sp:], int32(messageBodyLen))
	return dst, nil
}

// invalidMessageLenErr reports a body whose length disagrees with its layout.
func invalidMessageLenErr(messageType string, expectedLen, actualLen int) error {
	return fmt.Errorf("pgwire: %s body must be %d bytes, not %d", messageType, expectedLen, actualLen)
}

func invalidMessageFormatErr(messageType string) error {
	return fmt.Errorf("pgwire: invalid %s body", messageType)
}

// fieldReader decodes the primitive field types used across message bodies.
// All multi-byte integers are big-endian; strings are NUL-terminated.
type fieldReader struct {
	data []byte
	pos  int
	err  error
}

func newFieldReader(data []byte) *fieldReader {
	return &fieldReader{data: data}
}

func (r *fieldReader) fail(what string) {
	if r.err == nil {
		r.err = fmt.Errorf("pgwire: short or malformed message reading %s", what)
	}
}

func (r *fieldReader) byte() byte {
	if r.err != nil || r.pos+1 > len(r.data) {
		r.fail("byte")
		return 0
	}
	b := r.data[r.pos]
	r.pos++
	return b
}

func (r *fieldReader) int16() int16 {
	if r.err != nil || r.pos+2 > len(r.data) {
		r.fail("int16")
		return 0
	}
	v := int16(binary.BigEndian.Uint16(r.data[r.pos:]))
	r.pos += 2
	return v
}

func (r *fieldReader) int32() int32 {
	if r.err != nil || r.pos+4 > len(r.data) {
		r.fail("int32")
		return 0
	}
	v := int32(binary.BigEndian.Uint32(r.data[r.pos:]))
	r.pos += 4
	return v
}

func (r *fieldReader) uint32() uint32 {
	return uint32(r.int32())
}

// cstring reads a NUL-terminated string, consuming the terminator.
func (r *fieldReader) cstring() string {
	if r.err != nil {
		return ""
	}
	for i := r.pos; i < len(r.data); i++ {
		if r.data[i] == 0 {
			s := string(r.data[r.pos:i])
			r.pos = i + 1
			return s
		}
	}
	r.fail("string terminator")
	return ""
}

// bytes reads exactly n bytes. The returned slice aliases the message body.
func (r *fieldReader) bytes(n int) []byte {
	if n < 0 {
		r.fail("byte count")
		return nil
	}
	if r.err != nil || r.pos+n > len(r.data) {
		r.fail("bytes")
		return nil
	}
	b := r.data[r.pos : r.pos+n]
	r.pos += n
	return b
}

// rest returns all remaining bytes without copying.
func (r *fieldReader) rest() []byte {
	if r.err != nil {
		return nil
	}
	b := r.data[r.pos:]
	r.pos = len(r.data)
	return b
}

func (r *fieldReader) remaining() int {
	return len(r.data) - r.pos
}

// finish returns the accumulated error, or an error if trailing bytes remain.
func (r *fieldReader) finish(messageType string) error {
	if r.err != nil {
		return r.err
	}
	if r.pos != len(r.data) {
		return fmt.Errorf("pgwire: %d trailing bytes after %s", len(r.data)-r.pos, messageType)
	}
	return nil
}
