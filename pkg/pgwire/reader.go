package pgwire

import (
	"io"
)

// readChunkSize is how much the Reader asks the connection for at a time.
const readChunkSize = 8192

// Reader frames frontend messages from an io.Reader via an internal Decoder.
// It blocks in Read only when the decoder needs more bytes, so socket
// deadlines set by the caller bound each Receive.
type Reader struct {
	src     io.Reader
	decoder *Decoder
	chunk   []byte
}

// NewReader creates a Reader with the given frame size cap (zero selects
// DefaultMaxMessageBytes).
func NewReader(src io.Reader, maxMessageBytes int) *Reader {
	return &Reader{
		src:     src,
		decoder: NewDecoder(maxMessageBytes),
		chunk:   make([]byte, readChunkSize),
	}
}

// Decoder exposes the underlying decoder for auth-phase and startup control.
func (r *Reader) Decoder() *Decoder {
	return r.decoder
}

// SetSource replaces the byte source and discards buffered plaintext.
// Called after a TLS upgrade.
func (r *Reader) SetSource(src io.Reader) {
	r.src = src
	r.decoder.Reset()
}

// Receive returns the next message, reading from the source as needed.
func (r *Reader) Receive() (FrontendMessage, error) {
	for {
		msg, err := r.decoder.Next()
		if err != nil {
			return nil, err
		}
		if msg != nil {
			return msg, nil
		}
		n, err := r.src.Read(r.chunk)
		if n > 0 {
			_, _ = r.decoder.Write(r.chunk[:n])
			continue
		}
		if err != nil {
			return nil, err
		}
	}
}
