package pgwire

import (
	"encoding/binary"
	"fmt"
)

// AuthPhase selects how a 'p' (PasswordMessage) frame is decoded. The wire
// tag is shared between cleartext/MD5 passwords and the SASL responses, so
// the connection state machine must tell the decoder which variant to expect.
type AuthPhase int

const (
	// AuthPhaseNone rejects 'p' messages outright.
	AuthPhaseNone AuthPhase = iota
	// AuthPhasePassword decodes 'p' as PasswordMessage.
	AuthPhasePassword
	// AuthPhaseSASLInitial decodes 'p' as SASLInitialResponse.
	AuthPhaseSASLInitial
	// AuthPhaseSASL decodes 'p' as SASLResponse.
	AuthPhaseSASL
)

// DefaultMaxMessageBytes caps a single frame unless the embedder overrides it.
const DefaultMaxMessageBytes = 256 * 1024 * 1024 // 256 MiB

// Decoder frames frontend messages from an incrementally fed byte stream.
// It is partial-read safe: Next returns (nil, nil) until a complete frame is
// buffered, and never consumes bytes beyond the declared frame length.
//
// A fresh connection starts in startup mode, where packets carry no type
// byte (StartupMessage, SSLRequest, GSSEncRequest, CancelRequest). The
// connection state machine calls FinishStartup once startup negotiation is
// over; from then on every frame is [type][int32 len][body].
type Decoder struct {
	buf         []byte
	maxFrameLen int
	startup     bool
	authPhase   AuthPhase
}

// NewDecoder returns a Decoder in startup mode. maxMessageBytes bounds a
// single frame including its length field; zero or negative selects
// DefaultMaxMessageBytes.
func NewDecoder(maxMessageBytes int) *Decoder {
	if maxMessageBytes <= 0 {
		maxMessageBytes = DefaultMaxMessageBytes
	}
	return &Decoder{maxFrameLen: maxMessageBytes, startup: true}
}

// Write buffers p for framing. It never fails; the signature matches
// io.Writer so network read loops can copy into the decoder directly.
func (d *Decoder) Write(p []byte) (int, error) {
	d.buf = append(d.buf, p...)
	return len(p), nil
}

// Buffered returns the number of unconsumed bytes.
func (d *Decoder) Buffered() int {
	return len(d.buf)
}

// FinishStartup switches the decoder from startup packets to typed frames.
func (d *Decoder) FinishStartup() {
	d.startup = false
}

// InStartup reports whether the decoder still expects startup packets.
func (d *Decoder) InStartup() bool {
	return d.startup
}

// SetAuthPhase selects the decoding of subsequent 'p' frames.
func (d *Decoder) SetAuthPhase(phase AuthPhase) {
	d.authPhase = phase
}

// Reset discards all buffered bytes. Used after a TLS upgrade, when the
// plaintext stream ends and the decoder starts over on decrypted bytes.
func (d *Decoder) Reset() {
	d.buf = d.buf[:0]
}

// Next returns the next complete message, or (nil, nil) if more bytes are
// needed. Framing errors are fatal to the connection.
func (d *Decoder) Next() (FrontendMessage, error) {
	if d.startup {
		return d.nextStartup()
	}
	if len(d.buf) < 5 {
		return nil, nil
	}
	msgType := MsgType(d.buf[0])
	frameLen := int(binary.BigEndian.Uint32(d.buf[1:5])) + 1
	if frameLen < 5 {
		return nil, fmt.Errorf("pgwire: invalid message length %d for %q", frameLen-1, byte(msgType))
	}
	if frameLen > d.maxFrameLen {
		return nil, fmt.Errorf("pgwire: message length %d exceeds limit %d", frameLen-1, d.maxFrameLen)
	}
	if len(d.buf) < frameLen {
		return nil, nil
	}
	body := d.consume(5, frameLen-5)
	msg, err := d.newFrontendMessage(msgType)
	if err != nil {
		return nil, err
	}
	if err := msg.Decode(body); err != nil {
		return nil, err
	}
	return msg, nil
}

func (d *Decoder) nextStartup() (FrontendMessage, error) {
	if len(d.buf) < 4 {
		return nil, nil
	}
	frameLen := int(binary.BigEndian.Uint32(d.buf[0:4]))
	if frameLen < 8 {
		return nil, fmt.Errorf("pgwire: invalid startup packet length %d", frameLen)
	}
	if frameLen > d.maxFrameLen {
		return nil, fmt.Errorf("pgwire: startup packet length %d exceeds limit %d", frameLen, d.maxFrameLen)
	}
	if len(d.buf) < frameLen {
		return nil, nil
	}
	body := d.consume(4, frameLen-4)

	code := binary.BigEndian.Uint32(body[0:4])
	var msg FrontendMessage
	switch {
	case code == sslRequestNumber:
		msg = &SSLRequest{}
	case code == gssEncRequestNumber:
		msg = &GSSEncRequest{}
	case code == cancelRequestCode:
		msg = &CancelRequest{}
		// CancelRequest.Decode re-reads the code; hand it the full body.
	case code>>16 == 3:
		msg = &StartupMessage{}
	default:
		return nil, fmt.Errorf("pgwire: unknown startup packet code %d", code)
	}
	if err := msg.Decode(body); err != nil {
		return nil, err
	}
	return msg, nil
}

// consume removes one frame from the buffer and returns an owned copy of its
// body. Copying detaches the message from the reuse of d.buf.
func (d *Decoder) consume(skip, bodyLen int) []byte {
	body := make([]byte, bodyLen)
	copy(body, d.buf[skip:skip+bodyLen])
	n := copy(d.buf, d.buf[skip+bodyLen:])
	d.buf = d.buf[:n]
	return body
}

func (d *Decoder) newFrontendMessage(t MsgType) (FrontendMessage, error) {
	switch t {
	case MsgClientQuery:
		return &Query{}, nil
	case MsgClientParse:
		return &Parse{}, nil
	case MsgClientBind:
		return &Bind{}, nil
	case MsgClientDescribe:
		return &Describe{}, nil
	case MsgClientExecute:
		return &Execute{}, nil
	case MsgClientClose:
		return &Close{}, nil
	case MsgClientSync:
		return &Sync{}, nil
	case MsgClientFlush:
		return &Flush{}, nil
	case MsgClientCopyData:
		return &CopyData{}, nil
	case MsgClientCopyDone:
		return &CopyDone{}, nil
	case MsgClientCopyFail:
		return &CopyFail{}, nil
	case MsgClientTerminate:
		return &Terminate{}, nil
	case MsgClientPassword:
		switch d.authPhase {
		case AuthPhasePassword:
			return &PasswordMessage{}, nil
		case AuthPhaseSASLInitial:
			return &SASLInitialResponse{}, nil
		case AuthPhaseSASL:
			return &SASLResponse{}, nil
		default:
			return nil, fmt.Errorf("pgwire: unexpected PasswordMessage outside authentication")
		}
	default:
		return nil, fmt.Errorf("pgwire: unknown frontend message type %q", byte(t))
	}
}
