package frontend

import (
	"crypto/md5"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"strings"
)

// AuthMethod represents the authentication method to use.
type AuthMethod int

const (
	// AuthMethodTrust accepts any client without a credential exchange.
	AuthMethodTrust AuthMethod = iota
	AuthMethodCleartext
	AuthMethodMD5
	AuthMethodSCRAMSHA256
	AuthMethodSCRAMSHA256Plus
)

func (m AuthMethod) String() string {
	switch m {
	case AuthMethodTrust:
		return "trust"
	case AuthMethodCleartext:
		return "cleartext"
	case AuthMethodMD5:
		return "md5"
	case AuthMethodSCRAMSHA256:
		return "scram-sha-256"
	case AuthMethodSCRAMSHA256Plus:
		return "scram-sha-256-plus"
	default:
		return "unknown"
	}
}

// ParseAuthMethod converts a config string into an AuthMethod.
func ParseAuthMethod(s string) (AuthMethod, error) {
	switch s {
	case "trust":
		return AuthMethodTrust, nil
	case "cleartext", "password":
		return AuthMethodCleartext, nil
	case "md5":
		return AuthMethodMD5, nil
	case "scram-sha-256":
		return AuthMethodSCRAMSHA256, nil
	case "scram-sha-256-plus":
		return AuthMethodSCRAMSHA256Plus, nil
	default:
		return 0, fmt.Errorf("unknown auth method %q", s)
	}
}

const (
	scramSASLMechanismSHA256     = "SCRAM-SHA-256"
	scramSASLMechanismSHA256Plus = "SCRAM-SHA-256-PLUS"
)

// ErrUnknownUser is returned by AuthSource.Lookup for users that do not
// exist. The session reports it as FATAL 28000 "role ... does not exist".
var ErrUnknownUser = errors.New("unknown user")

// UserSecret holds user credentials securely. The password is never printed
// in logs or string representations.
type UserSecret struct {
	username string
	password string
	verifier string
}

// NewUserSecret creates a UserSecret with a cleartext password.
func NewUserSecret(username, password string) UserSecret {
	return UserSecret{username: username, password: password}
}

// NewUserSecretSCRAMVerifier creates a UserSecret from a stored PostgreSQL
// SCRAM-SHA-256 verifier ("SCRAM-SHA-256$<iter>:<salt>$<storedkey>:<serverkey>").
// Such a secret can serve SCRAM authentication but not cleartext or MD5.
func NewUserSecretSCRAMVerifier(username, verifier string) UserSecret {
	return UserSecret{username: username, verifier: verifier}
}

// Username returns the username.
func (u UserSecret) Username() string {
	return u.username
}

// Password returns the cleartext password, empty if only a verifier is stored.
// Use this method only when the password is actually needed for verification.
func (u UserSecret) Password() string {
	return u.password
}

// SCRAMVerifier returns the stored verifier, empty if none.
func (u UserSecret) SCRAMVerifier() string {
	return u.verifier
}

// HasCleartext reports whether cleartext/MD5 verification is possible.
func (u UserSecret) HasCleartext() bool {
	return u.password != ""
}

// String returns a safe string representation that never includes the password.
func (u UserSecret) String() string {
	return fmt.Sprintf("UserSecret{username: %q, password: [REDACTED]}", u.username)
}

// GoString returns a safe string for %#v formatting that never includes the password.
func (u UserSecret) GoString() string {
	return u.String()
}

// Format implements fmt.Formatter to ensure the password is never printed.
func (u UserSecret) Format(f fmt.State, verb rune) {
	_, _ = fmt.Fprintf(f, "{%s [REDACTED]}", u.username)
}

// MarshalText returns a text representation that never includes the password.
func (u UserSecret) MarshalText() ([]byte, error) {
	return []byte(u.String()), nil
}

// computeMD5Password computes the MD5 password hash.
// Format: "md5" + md5(md5(password + user) + salt)
func computeMD5Password(creds UserSecret, salt [4]byte) string {
	h1 := md5.New()
	h1.Write([]byte(creds.Password()))
	h1.Write([]byte(creds.Username()))
	inner := fmt.Sprintf("%x", h1.Sum(nil))

	h2 := md5.New()
	h2.Write([]byte(inner))
	h2.Write(salt[:])
	return "md5" + fmt.Sprintf("%x", h2.Sum(nil))
}

// md5ResponsesEqual compares client and expected hashes case-insensitively
// over the hex digits.
func md5ResponsesEqual(got, want string) bool {
	return strings.EqualFold(got, want)
}

// channelBindingData computes the tls-server-end-point binding input: the
// hash of the server certificate's DER encoding, using SHA-256 unless the
// certificate's own signature hash is SHA-384 or SHA-512 (RFC 5929).
func channelBindingData(tlsState *tls.ConnectionState, leafDER []byte) ([]byte, error) {
	if tlsState == nil {
		return nil, errors.New("channel binding requires a TLS connection")
	}
	if len(leafDER) == 0 {
		if len(tlsState.PeerCertificates) == 0 {
			return nil, errors.New("no server certificate available for channel binding")
		}
		leafDER = tlsState.PeerCertificates[0].Raw
	}

	cert, err := x509.ParseCertificate(leafDER)
	if err != nil {
		return nil, fmt.Errorf("parse server certificate: %w", err)
	}
	switch cert.SignatureAlgorithm {
	case x509.SHA384WithRSA, x509.ECDSAWithSHA384, x509.SHA384WithRSAPSS:
		sum := sha512.Sum384(leafDER)
		return sum[:], nil
	case x509.SHA512WithRSA, x509.ECDSAWithSHA512, x509.SHA512WithRSAPSS:
		sum := sha512.Sum512(leafDER)
		return sum[:], nil
	default:
		sum := sha256.Sum256(leafDER)
		return sum[:], nil
	}
}
