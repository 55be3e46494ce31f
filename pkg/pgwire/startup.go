package pgwire

import (
	"errors"

	"github.com/jackc/pgio"
)

// Protocol codes carried in the length-prefixed first packet of a connection.
// These packets have no type byte; they are disambiguated by the int32 that
// follows the length field.
const (
	// ProtocolVersionNumber is protocol 3.0 (0x00030000).
	ProtocolVersionNumber uint32 = 196608
	sslRequestNumber      uint32 = 80877103
	gssEncRequestNumber   uint32 = 80877104
	cancelRequestCode     uint32 = 80877102
)

// StartupMessage is the first message of a normal connection. It has no type
// byte; the body is the protocol version followed by NUL-terminated
// parameter name/value pairs and a final NUL.
type StartupMessage struct {
	ProtocolVersion uint32
	Parameters      map[string]string
}

func (*StartupMessage) Frontend() {}

func (dst *StartupMessage) Decode(data []byte) error {
	r := newFieldReader(data)
	dst.ProtocolVersion = r.uint32()
	dst.Parameters = make(map[string]string)
	for r.err == nil {
		if r.remaining() == 1 && r.data[r.pos] == 0 {
			r.pos++
			break
		}
		if r.remaining() == 0 {
			return invalidMessageFormatErr("StartupMessage")
		}
		key := r.cstring()
		value := r.cstring()
		if r.err == nil {
			dst.Parameters[key] = value
		}
	}
	return r.finish("StartupMessage")
}

func (src *StartupMessage) Encode(dst []byte) ([]byte, error) {
	sp := len(dst)
	dst = pgio.AppendInt32(dst, -1)
	dst = pgio.AppendUint32(dst, src.ProtocolVersion)
	for k, v := range src.Parameters {
		dst = append(dst, k...)
		dst = append(dst, 0)
		dst = append(dst, v...)
		dst = append(dst, 0)
	}
	dst = append(dst, 0)
	return finishStartupPacket(dst, sp)
}

// SSLRequest asks the server to upgrade the connection to TLS. The server
// answers with a single byte, 'S' or 'N', outside normal framing.
type SSLRequest struct{}

func (*SSLRequest) Frontend() {}

func (dst *SSLRequest) Decode(data []byte) error {
	if len(data) != 4 {
		return invalidMessageLenErr("SSLRequest", 4, len(data))
	}
	return nil
}

func (src *SSLRequest) Encode(dst []byte) ([]byte, error) {
	dst = pgio.AppendInt32(dst, 8)
	dst = pgio.AppendUint32(dst, sslRequestNumber)
	return dst, nil
}

// GSSEncRequest asks for GSSAPI transport encryption. This server declines it
// with a single 'N' byte; the message still must decode.
type GSSEncRequest struct{}

func (*GSSEncRequest) Frontend() {}

func (dst *GSSEncRequest) Decode(data []byte) error {
	if len(data) != 4 {
		return invalidMessageLenErr("GSSEncRequest", 4, len(data))
	}
	return nil
}

func (src *GSSEncRequest) Encode(dst []byte) ([]byte, error) {
	dst = pgio.AppendInt32(dst, 8)
	dst = pgio.AppendUint32(dst, gssEncRequestNumber)
	return dst, nil
}

// CancelRequest is sent on a dedicated connection to abort a query running on
// another connection, identified by its process ID and secret key.
type CancelRequest struct {
	ProcessID uint32
	SecretKey uint32
}

func (*CancelRequest) Frontend() {}

func (dst *CancelRequest) Decode(data []byte) error {
	if len(data) != 12 {
		return invalidMessageLenErr("CancelRequest", 12, len(data))
	}
	r := newFieldReader(data)
	if code := r.uint32(); code != cancelRequestCode {
		return errors.New("pgwire: bad cancel request code")
	}
	dst.ProcessID = r.uint32()
	dst.SecretKey = r.uint32()
	return r.finish("CancelRequest")
}

func (src *CancelRequest) Encode(dst []byte) ([]byte, error) {
	dst = pgio.AppendInt32(dst, 16)
	dst = pgio.AppendUint32(dst, cancelRequestCode)
	dst = pgio.AppendUint32(dst, src.ProcessID)
	dst = pgio.AppendUint32(dst, src.SecretKey)
	return dst, nil
}

// NegotiateProtocolVersion tells the client the newest minor protocol version
// the server supports and which _pq_. startup options it did not recognize.
type NegotiateProtocolVersion struct {
	NewestSupportedVersion uint32
	UnrecognizedOptions    []string
}

func (*NegotiateProtocolVersion) Backend() {}

func (dst *NegotiateProtocolVersion) Decode(data []byte) error {
	r := newFieldReader(data)
	dst.NewestSupportedVersion = r.uint32()
	n := int(r.int32())
	if n < 0 {
		return invalidMessageFormatErr("NegotiateProtocolVersion")
	}
	dst.UnrecognizedOptions = make([]string, 0, n)
	for range n {
		dst.UnrecognizedOptions = append(dst.UnrecognizedOptions, r.cstring())
	}
	return r.finish("NegotiateProtocolVersion")
}

func (src *NegotiateProtocolVersion) Encode(dst []byte) ([]byte, error) {
	dst, sp := beginMessage(dst, MsgServerNegotiateProtocolVersion)
	dst = pgio.AppendUint32(dst, src.NewestSupportedVersion)
	dst = pgio.AppendInt32(dst, int32(len(src.UnrecognizedOptions)))
	for _, opt := range src.UnrecognizedOptions {
		dst = append(dst, opt...)
		dst = append(dst, 0)
	}
	return finishMessage(dst, sp)
}

// finishStartupPacket back-patches the length of a packet with no type byte.
func finishStartupPacket(dst []byte, sp int) ([]byte, error) {
	packetLen := len(dst[sp:])
	if packetLen > maxMessageBodyLen {
		return nil, errMessageTooLarge
	}
	pgio.SetInt32(dst[sp:], int32(packetLen))
	return dst, nil
}
