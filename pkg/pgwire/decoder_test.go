package pgwire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encodeStream(t *testing.T, msgs ...Message) []byte {
	t.Helper()
	var stream []byte
	for _, msg := range msgs {
		var err error
		stream, err = msg.Encode(stream)
		require.NoError(t, err)
	}
	return stream
}

func drain(t *testing.T, d *Decoder) []FrontendMessage {
	t.Helper()
	var out []FrontendMessage
	for {
		msg, err := d.Next()
		require.NoError(t, err)
		if msg == nil {
			return out
		}
		out = append(out, msg)
	}
}

func TestDecoderStartupDisambiguation(t *testing.T) {
	tests := []struct {
		name string
		msg  Message
		want any
	}{
		{"SSLRequest", &SSLRequest{}, &SSLRequest{}},
		{"GSSEncRequest", &GSSEncRequest{}, &GSSEncRequest{}},
		{"CancelRequest", &CancelRequest{ProcessID: 1, SecretKey: 2}, &CancelRequest{ProcessID: 1, SecretKey: 2}},
		{"StartupMessage", &StartupMessage{ProtocolVersion: ProtocolVersionNumber, Parameters: map[string]string{"user": "u"}},
			&StartupMessage{ProtocolVersion: ProtocolVersionNumber, Parameters: map[string]string{"user": "u"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewDecoder(0)
			_, err := d.Write(encodeStream(t, tt.msg))
			require.NoError(t, err)
			msg, err := d.Next()
			require.NoError(t, err)
			assert.Equal(t, tt.want, msg)
		})
	}
}

func TestDecoderNeedsMoreBytes(t *testing.T) {
	d := NewDecoder(0)
	d.FinishStartup()

	wire := encodeStream(t, &Query{String: "SELECT 1"})

	// No complete frame yet at any prefix.
	for i := 0; i < len(wire); i++ {
		msg, err := d.Next()
		require.NoError(t, err)
		require.Nil(t, msg, "message should be incomplete with %d bytes buffered", i)
		_, err = d.Write(wire[i : i+1])
		require.NoError(t, err)
	}

	msg, err := d.Next()
	require.NoError(t, err)
	assert.Equal(t, &Query{String: "SELECT 1"}, msg)
}

// TestDecoderFragmentationInvariance feeds the same stream in every chunk
// size and expects an identical message sequence.
func TestDecoderFragmentationInvariance(t *testing.T) {
	stream := encodeStream(t,
		&Query{String: "SELECT * FROM t"},
		&Parse{Name: "s", Query: "SELECT $1", ParameterOIDs: []uint32{23}},
		&Bind{PreparedStatement: "s", Parameters: [][]byte{[]byte("1")}},
		&Execute{},
		&Sync{},
	)

	want := func() []FrontendMessage {
		d := NewDecoder(0)
		d.FinishStartup()
		_, _ = d.Write(stream)
		return drain(t, d)
	}()
	require.Len(t, want, 5)

	for chunkSize := 1; chunkSize <= len(stream); chunkSize++ {
		d := NewDecoder(0)
		d.FinishStartup()
		var got []FrontendMessage
		for off := 0; off < len(stream); off += chunkSize {
			end := min(off+chunkSize, len(stream))
			_, err := d.Write(stream[off:end])
			require.NoError(t, err)
			got = append(got, drain(t, d)...)
		}
		assert.Equal(t, want, got, "chunk size %d", chunkSize)
	}
}

func TestDecoderNeverReadsPastDeclaredLength(t *testing.T) {
	stream := encodeStream(t, &Query{String: "SELECT 1"})
	// Trailing garbage after the frame must be left in the buffer untouched.
	garbage := []byte{0xff, 0xff, 0xff}
	d := NewDecoder(0)
	d.FinishStartup()
	_, err := d.Write(append(append([]byte{}, stream...), garbage...))
	require.NoError(t, err)

	msg, err := d.Next()
	require.NoError(t, err)
	require.IsType(t, &Query{}, msg)
	assert.Equal(t, len(garbage), d.Buffered())
}

func TestDecoderEnforcesMaxMessageSize(t *testing.T) {
	d := NewDecoder(64)
	d.FinishStartup()
	// Header declares a body far beyond the cap; the decoder must fail
	// without waiting for the bytes.
	_, err := d.Write([]byte{'Q', 0x00, 0x10, 0x00, 0x00})
	require.NoError(t, err)
	_, err = d.Next()
	assert.ErrorContains(t, err, "exceeds limit")
}

func TestDecoderRejectsInvalidLength(t *testing.T) {
	d := NewDecoder(0)
	d.FinishStartup()
	_, err := d.Write([]byte{'Q', 0x00, 0x00, 0x00, 0x02})
	require.NoError(t, err)
	_, err = d.Next()
	assert.ErrorContains(t, err, "invalid message length")
}

func TestDecoderRejectsUnknownType(t *testing.T) {
	d := NewDecoder(0)
	d.FinishStartup()
	_, err := d.Write([]byte{'!', 0x00, 0x00, 0x00, 0x04})
	require.NoError(t, err)
	_, err = d.Next()
	assert.ErrorContains(t, err, "unknown frontend message type")
}

// TestDecoderAuthPhase verifies the contextual decoding of the shared 'p'
// type byte.
func TestDecoderAuthPhase(t *testing.T) {
	password := encodeStream(t, &PasswordMessage{Password: "hunter2"})
	saslInitial := encodeStream(t, &SASLInitialResponse{AuthMechanism: "SCRAM-SHA-256", Data: []byte("n,,n=,r=abc")})
	saslFinal := encodeStream(t, &SASLResponse{Data: []byte("c=biws,r=abc,p=cA==")})

	d := NewDecoder(0)
	d.FinishStartup()

	// Outside authentication, 'p' frames are a protocol error.
	_, err := d.Write(password)
	require.NoError(t, err)
	_, err = d.Next()
	assert.ErrorContains(t, err, "unexpected PasswordMessage")

	d = NewDecoder(0)
	d.FinishStartup()
	d.SetAuthPhase(AuthPhasePassword)
	_, _ = d.Write(password)
	msg, err := d.Next()
	require.NoError(t, err)
	assert.Equal(t, &PasswordMessage{Password: "hunter2"}, msg)

	d.SetAuthPhase(AuthPhaseSASLInitial)
	_, _ = d.Write(saslInitial)
	msg, err = d.Next()
	require.NoError(t, err)
	require.IsType(t, &SASLInitialResponse{}, msg)
	assert.Equal(t, "SCRAM-SHA-256", msg.(*SASLInitialResponse).AuthMechanism)

	d.SetAuthPhase(AuthPhaseSASL)
	_, _ = d.Write(saslFinal)
	msg, err = d.Next()
	require.NoError(t, err)
	assert.Equal(t, []byte("c=biws,r=abc,p=cA=="), msg.(*SASLResponse).Data)
}

func TestDecoderStartupThenTypedFrames(t *testing.T) {
	d := NewDecoder(0)
	startup := encodeStream(t, &StartupMessage{ProtocolVersion: ProtocolVersionNumber,
		Parameters: map[string]string{"user": "u"}})
	query := encodeStream(t, &Query{String: "SELECT 1"})
	_, err := d.Write(append(startup, query...))
	require.NoError(t, err)

	msg, err := d.Next()
	require.NoError(t, err)
	require.IsType(t, &StartupMessage{}, msg)

	d.FinishStartup()
	msg, err = d.Next()
	require.NoError(t, err)
	assert.Equal(t, &Query{String: "SELECT 1"}, msg)
}
