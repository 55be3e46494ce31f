package pgwire

import (
	"github.com/jackc/pgio"
)

// AuthenticationOk reports that authentication succeeded.
type AuthenticationOk struct{}

func (*AuthenticationOk) Backend() {}

func (dst *AuthenticationOk) Decode(data []byte) error {
	return decodeAuthHeaderOnly("AuthenticationOk", authTypeOk, data)
}

func (src *AuthenticationOk) Encode(dst []byte) ([]byte, error) {
	return encodeAuthHeaderOnly(dst, authTypeOk)
}

// AuthenticationCleartextPassword asks the client for its password in clear.
type AuthenticationCleartextPassword struct{}

func (*AuthenticationCleartextPassword) Backend() {}

func (dst *AuthenticationCleartextPassword) Decode(data []byte) error {
	return decodeAuthHeaderOnly("AuthenticationCleartextPassword", authTypeCleartextPassword, data)
}

func (src *AuthenticationCleartextPassword) Encode(dst []byte) ([]byte, error) {
	return encodeAuthHeaderOnly(dst, authTypeCleartextPassword)
}

// AuthenticationMD5Password asks for an MD5 response salted with Salt.
type AuthenticationMD5Password struct {
	Salt [4]byte
}

func (*AuthenticationMD5Password) Backend() {}

func (dst *AuthenticationMD5Password) Decode(data []byte) error {
	r := newFieldReader(data)
	if err := expectAuthType(r, "AuthenticationMD5Password", authTypeMD5Password); err != nil {
		return err
	}
	copy(dst.Salt[:], r.bytes(4))
	return r.finish("AuthenticationMD5Password")
}

func (src *AuthenticationMD5Password) Encode(dst []byte) ([]byte, error) {
	dst, sp := beginMessage(dst, MsgServerAuth)
	dst = pgio.AppendInt32(dst, authTypeMD5Password)
	dst = append(dst, src.Salt[:]...)
	return finishMessage(dst, sp)
}

// AuthenticationSASL advertises the SASL mechanisms the server accepts, in
// order of preference, as a NUL-terminated list with a final NUL.
type AuthenticationSASL struct {
	Mechanisms []string
}

func (*AuthenticationSASL) Backend() {}

func (dst *AuthenticationSASL) Decode(data []byte) error {
	r := newFieldReader(data)
	if err := expectAuthType(r, "AuthenticationSASL", authTypeSASL); err != nil {
		return err
	}
	dst.Mechanisms = nil
	for r.err == nil {
		if r.remaining() == 1 && r.data[r.pos] == 0 {
			r.pos++
			break
		}
		if r.remaining() == 0 {
			return invalidMessageFormatErr("AuthenticationSASL")
		}
		dst.Mechanisms = append(dst.Mechanisms, r.cstring())
	}
	return r.finish("AuthenticationSASL")
}

func (src *AuthenticationSASL) Encode(dst []byte) ([]byte, error) {
	dst, sp := beginMessage(dst, MsgServerAuth)
	dst = pgio.AppendInt32(dst, authTypeSASL)
	for _, m := range src.Mechanisms {
		dst = append(dst, m...)
		dst = append(dst, 0)
	}
	dst = append(dst, 0)
	return finishMessage(dst, sp)
}

// AuthenticationSASLContinue carries SASL challenge data (server-first-message).
type AuthenticationSASLContinue struct {
	Data []byte
}

func (*AuthenticationSASLContinue) Backend() {}

func (dst *AuthenticationSASLContinue) Decode(data []byte) error {
	r := newFieldReader(data)
	if err := expectAuthType(r, "AuthenticationSASLContinue", authTypeSASLContinue); err != nil {
		return err
	}
	dst.Data = r.rest()
	return r.finish("AuthenticationSASLContinue")
}

func (src *AuthenticationSASLContinue) Encode(dst []byte) ([]byte, error) {
	dst, sp := beginMessage(dst, MsgServerAuth)
	dst = pgio.AppendInt32(dst, authTypeSASLContinue)
	dst = append(dst, src.Data...)
	return finishMessage(dst, sp)
}

// AuthenticationSASLFinal carries SASL outcome data (server-final-message).
type AuthenticationSASLFinal struct {
	Data []byte
}

func (*AuthenticationSASLFinal) Backend() {}

func (dst *AuthenticationSASLFinal) Decode(data []byte) error {
	r := newFieldReader(data)
	if err := expectAuthType(r, "AuthenticationSASLFinal", authTypeSASLFinal); err != nil {
		return err
	}
	dst.Data = r.rest()
	return r.finish("AuthenticationSASLFinal")
}

func (src *AuthenticationSASLFinal) Encode(dst []byte) ([]byte, error) {
	dst, sp := beginMessage(dst, MsgServerAuth)
	dst = pgio.AppendInt32(dst, authTypeSASLFinal)
	dst = append(dst, src.Data...)
	return finishMessage(dst, sp)
}

// PasswordMessage is the client's reply to AuthenticationCleartextPassword or
// AuthenticationMD5Password. The 'p' type byte is shared with the SASL
// responses; the connection state decides which variant to decode.
type PasswordMessage struct {
	Password string
}

func (*PasswordMessage) Frontend() {}

func (dst *PasswordMessage) Decode(data []byte) error {
	r := newFieldReader(data)
	dst.Password = r.cstring()
	return r.finish("PasswordMessage")
}

func (src *PasswordMessage) Encode(dst []byte) ([]byte, error) {
	dst, sp := beginMessage(dst, MsgClientPassword)
	dst = append(dst, src.Password...)
	dst = append(dst, 0)
	return finishMessage(dst, sp)
}

// SASLInitialResponse names the selected mechanism and optionally carries the
// client-first-message. A length of -1 means no initial response data.
type SASLInitialResponse struct {
	AuthMechanism string
	Data          []byte
}

func (*SASLInitialResponse) Frontend() {}

func (dst *SASLInitialResponse) Decode(data []byte) error {
	r := newFieldReader(data)
	dst.AuthMechanism = r.cstring()
	n := int(r.int32())
	if n == -1 {
		dst.Data = nil
	} else {
		dst.Data = r.bytes(n)
	}
	return r.finish("SASLInitialResponse")
}

func (src *SASLInitialResponse) Encode(dst []byte) ([]byte, error) {
	dst, sp := beginMessage(dst, MsgClientPassword)
	dst = append(dst, src.AuthMechanism...)
	dst = append(dst, 0)
	if src.Data == nil {
		dst = pgio.AppendInt32(dst, -1)
	} else {
		dst = pgio.AppendInt32(dst, int32(len(src.Data)))
		dst = append(dst, src.Data...)
	}
	return finishMessage(dst, sp)
}

// SASLResponse carries subsequent SASL client messages (client-final-message).
type SASLResponse struct {
	Data []byte
}

func (*SASLResponse) Frontend() {}

func (dst *SASLResponse) Decode(data []byte) error {
	dst.Data = data
	return nil
}

func (src *SASLResponse) Encode(dst []byte) ([]byte, error) {
	dst, sp := beginMessage(dst, MsgClientPassword)
	dst = append(dst, src.Data...)
	return finishMessage(dst, sp)
}

func expectAuthType(r *fieldReader, messageType string, want int32) error {
	got := r.int32()
	if r.err != nil {
		return r.err
	}
	if got != want {
		return invalidMessageFormatErr(messageType)
	}
	return nil
}

func decodeAuthHeaderOnly(messageType string, want int32, data []byte) error {
	if len(data) != 4 {
		return invalidMessageLenErr(messageType, 4, len(data))
	}
	r := newFieldReader(data)
	if err := expectAuthType(r, messageType, want); err != nil {
		return err
	}
	return r.finish(messageType)
}

func encodeAuthHeaderOnly(dst []byte, authType int32) ([]byte, error) {
	dst, sp := beginMessage(dst, MsgServerAuth)
	dst = pgio.AppendInt32(dst, authType)
	return finishMessage(dst, sp)
}
