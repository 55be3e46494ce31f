package frontend

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

// DefaultSCRAMIterations matches PostgreSQL's default for new verifiers.
const DefaultSCRAMIterations = 4096

// scramCredential is the server-side SCRAM-SHA-256 key material. It can be
// derived from a cleartext password or parsed from a stored verifier, so the
// plaintext never needs to be kept.
type scramCredential struct {
	salt       []byte
	iterations int
	storedKey  []byte
	serverKey  []byte
}

// deriveSCRAMCredential computes key material from a cleartext password with
// a fresh random salt (RFC 5802).
func deriveSCRAMCredential(password string, iterations int) (scramCredential, error) {
	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return scramCredential{}, fmt.Errorf("failed to generate salt: %w", err)
	}
	saltedPassword := pbkdf2.Key([]byte(password), salt, iterations, 32, sha256.New)
	clientKey := hmacSHA256(saltedPassword, []byte("Client Key"))
	storedKey := sha256.Sum256(clientKey)
	serverKey := hmacSHA256(saltedPassword, []byte("Server Key"))
	return scramCredential{
		salt:       salt,
		iterations: iterations,
		storedKey:  storedKey[:],
		serverKey:  serverKey,
	}, nil
}

// parseSCRAMVerifier parses a stored PostgreSQL rolpassword value of the form
// SCRAM-SHA-256$<iterations>:<salt>$<storedkey>:<serverkey>.
func parseSCRAMVerifier(verifier string) (scramCredential, error) {
	mechanism, rest, ok := strings.Cut(verifier, "$")
	if !ok || mechanism != scramSASLMechanismSHA256 {
		return scramCredential{}, errors.New("malformed SCRAM verifier")
	}
	saltPart, keysPart, ok := strings.Cut(rest, "$")
	if !ok {
		return scramCredential{}, errors.New("malformed SCRAM verifier")
	}
	iterStr, saltB64, ok := strings.Cut(saltPart, ":")
	if !ok {
		return scramCredential{}, errors.New("malformed SCRAM verifier")
	}
	storedB64, serverB64, ok := strings.Cut(keysPart, ":")
	if !ok {
		return scramCredential{}, errors.New("malformed SCRAM verifier")
	}

	iterations, err := strconv.Atoi(iterStr)
	if err != nil || iterations < 1 {
		return scramCredential{}, errors.New("malformed SCRAM verifier iteration count")
	}
	salt, err := base64.StdEncoding.DecodeString(saltB64)
	if err != nil {
		return scramCredential{}, fmt.Errorf("malformed SCRAM verifier salt: %w", err)
	}
	storedKey, err := base64.StdEncoding.DecodeString(storedB64)
	if err != nil {
		return scramCredential{}, fmt.Errorf("malformed SCRAM verifier stored key: %w", err)
	}
	serverKey, err := base64.StdEncoding.DecodeString(serverB64)
	if err != nil {
		return scramCredential{}, fmt.Errorf("malformed SCRAM verifier server key: %w", err)
	}
	return scramCredential{salt: salt, iterations: iterations, storedKey: storedKey, serverKey: serverKey}, nil
}

// scramCredentialFor builds key material from whichever secret form the
// AuthSource supplied.
func scramCredentialFor(secret UserSecret, iterations int) (scramCredential, error) {
	if v := secret.SCRAMVerifier(); v != "" {
		return parseSCRAMVerifier(v)
	}
	if secret.HasCleartext() {
		return deriveSCRAMCredential(secret.Password(), iterations)
	}
	return scramCredential{}, errors.New("no SCRAM-capable credential stored for user")
}

// SCRAMServer drives one SCRAM-SHA-256 exchange for a PostgreSQL client.
// PostgreSQL clients omit the username from the SCRAM messages (n=,) since
// it was already provided in the startup message.
type SCRAMServer struct {
	cred scramCredential

	// channelBinding is the tls-server-end-point data for -PLUS, nil
	// otherwise.
	channelBinding []byte
	plusMode       bool

	// State from the exchange
	gs2Header          string
	clientFirstMsgBare string
	serverFirstMsg     string
	clientNonce        string
	serverNonce        string
}

// NewSCRAMServer creates a server for the non-PLUS mechanism.
func NewSCRAMServer(cred scramCredential) *SCRAMServer {
	return &SCRAMServer{cred: cred}
}

// NewSCRAMServerPlus creates a server for SCRAM-SHA-256-PLUS with the given
// channel binding data.
func NewSCRAMServerPlus(cred scramCredential, channelBinding []byte) *SCRAMServer {
	return &SCRAMServer{cred: cred, channelBinding: channelBinding, plusMode: true}
}

// ProcessClientFirstMessage processes the client-first-message and returns
// the server-first-message.
func (s *SCRAMServer) ProcessClientFirstMessage(clientFirstMsg string) (string, error) {
	// gs2-header is "n,," / "y,," / "p=<type>,," followed by the bare message.
	parts := strings.SplitN(clientFirstMsg, ",", 3)
	if len(parts) < 3 {
		return "", errors.New("invalid client-first-message format")
	}
	s.gs2Header = parts[0] + "," + parts[1] + ","

	// The bare message is EXACTLY what the client sent - it feeds the
	// AuthMessage hash unmodified.
	s.clientFirstMsgBare = parts[2]

	bareAttrs := parseAttributes(s.clientFirstMsgBare)
	clientNonce, ok := bareAttrs["r"]
	if !ok {
		return "", errors.New("missing client nonce in client-first-message")
	}
	s.clientNonce = clientNonce

	serverNonceBytes := make([]byte, 18)
	if _, err := rand.Read(serverNonceBytes); err != nil {
		return "", fmt.Errorf("failed to generate server nonce: %w", err)
	}
	s.serverNonce = base64.StdEncoding.EncodeToString(serverNonceBytes)

	combinedNonce := s.clientNonce + s.serverNonce
	saltB64 := base64.StdEncoding.EncodeToString(s.cred.salt)
	s.serverFirstMsg = fmt.Sprintf("r=%s,s=%s,i=%d", combinedNonce, saltB64, s.cred.iterations)

	return s.serverFirstMsg, nil
}

// ProcessClientFinalMessage verifies the client proof and channel binding and
// returns the server-final-message, or an error if authentication failed.
func (s *SCRAMServer) ProcessClientFinalMessage(clientFinalMsg string) (string, error) {
	attrs := parseAttributes(clientFinalMsg)

	receivedNonce, ok := attrs["r"]
	if !ok {
		return "", errors.New("missing nonce in client-final-message")
	}
	if receivedNonce != s.clientNonce+s.serverNonce {
		return "", errors.New("nonce mismatch")
	}

	if err := s.verifyChannelBinding(attrs["c"]); err != nil {
		return "", err
	}

	proofB64, ok := attrs["p"]
	if !ok {
		return "", errors.New("missing proof in client-final-message")
	}
	clientProof, err := base64.StdEncoding.DecodeString(proofB64)
	if err != nil {
		return "", fmt.Errorf("invalid proof encoding: %w", err)
	}

	clientFinalWithoutProof := removeProof(clientFinalMsg)
	authMessage := s.clientFirstMsgBare + "," + s.serverFirstMsg + "," + clientFinalWithoutProof

	// ClientSignature = HMAC(StoredKey, AuthMessage)
	clientSignature := hmacSHA256(s.cred.storedKey, []byte(authMessage))

	// ClientKey = ClientProof XOR ClientSignature; verify SHA256(ClientKey).
	if len(clientProof) != len(clientSignature) {
		return "", errors.New("proof length mismatch")
	}
	recoveredClientKey := make([]byte, len(clientProof))
	for i := range clientProof {
		recoveredClientKey[i] = clientProof[i] ^ clientSignature[i]
	}
	recoveredStoredKey := sha256.Sum256(recoveredClientKey)
	if !hmac.Equal(s.cred.storedKey, recoveredStoredKey[:]) {
		return "", errors.New("authentication failed")
	}

	serverSignature := hmacSHA256(s.cred.serverKey, []byte(authMessage))
	return "v=" + base64.StdEncoding.EncodeToString(serverSignature), nil
}

// verifyChannelBinding checks the c= attribute: base64(gs2-header) for
// non-PLUS, base64(gs2-header ++ cb-data) for -PLUS.
func (s *SCRAMServer) verifyChannelBinding(cbB64 string) error {
	if cbB64 == "" {
		return errors.New("missing channel binding in client-final-message")
	}
	cbData, err := base64.StdEncoding.DecodeString(cbB64)
	if err != nil {
		return fmt.Errorf("invalid channel binding encoding: %w", err)
	}

	expected := []byte(s.gs2Header)
	if s.plusMode {
		if s.channelBinding == nil {
			return errors.New("channel binding requested but no TLS data available")
		}
		expected = append(expected, s.channelBinding...)
	}
	if !hmac.Equal(cbData, expected) {
		return errors.New("channel binding verification failed")
	}
	return nil
}

// parseAttributes parses a comma-separated list of key=value attributes.
func parseAttributes(msg string) map[string]string {
	attrs := make(map[string]string)
	for _, part := range strings.Split(msg, ",") {
		if len(part) >= 2 && part[1] == '=' {
			attrs[part[:1]] = part[2:]
		}
	}
	return attrs
}

// removeProof removes the proof attribute from a client-final-message.
func removeProof(msg string) string {
	re := regexp.MustCompile(`,p=[^,]*$`)
	return re.ReplaceAllString(msg, "")
}

// hmacSHA256 computes HMAC-SHA256.
func hmacSHA256(key, data []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(data)
	return mac.Sum(nil)
}
