package frontend

import (
	"crypto/rand"
	"errors"
	"fmt"

	"github.com/cybergarage/go-sasl/sasl/gss"
	"github.com/cybergarage/go-sasl/sasl/scram"
	"github.com/jackc/pgerrcode"

	"github.com/justjake/pgfront/pkg/pgwire"
)

// AuthState represents the current state of authentication.
type AuthState int

const (
	// AuthStateInit is the initial state before authentication begins.
	AuthStateInit AuthState = iota
	// AuthStateWaitingForPassword is waiting for a cleartext or MD5 password.
	AuthStateWaitingForPassword
	// AuthStateSASLInit is waiting for the SASL initial response.
	AuthStateSASLInit
	// AuthStateSASL is waiting for the SASL final response.
	AuthStateSASL
	// AuthStateComplete means authentication succeeded.
	AuthStateComplete
	// AuthStateFailed means authentication failed.
	AuthStateFailed
)

// AuthSession manages the authentication exchange for a client connection.
// The session feeds it decoded messages and writes whatever it returns.
type AuthSession struct {
	// State is the current authentication state.
	State AuthState

	// Method is the authentication method being used.
	Method AuthMethod

	// Credentials holds the expected credentials for verification.
	Credentials UserSecret

	// MD5Salt is the salt used for MD5 authentication.
	MD5Salt [4]byte

	// channelBinding is the tls-server-end-point data, nil on plaintext
	// connections or when no server certificate is available.
	channelBinding []byte

	scramIterations int
	scramServer     *SCRAMServer
	mechanisms      []string

	// Error holds any authentication error.
	Error error
}

// NewAuthSession creates an AuthSession for the given credentials and method.
func NewAuthSession(creds UserSecret, method AuthMethod, scramIterations int) (*AuthSession, error) {
	if scramIterations <= 0 {
		scramIterations = DefaultSCRAMIterations
	}
	session := &AuthSession{
		State:           AuthStateInit,
		Method:          method,
		Credentials:     creds,
		scramIterations: scramIterations,
	}

	switch method {
	case AuthMethodMD5:
		salt := make([]byte, 4)
		if _, err := rand.Read(salt); err != nil {
			return nil, fmt.Errorf("failed to generate MD5 salt: %w", err)
		}
		copy(session.MD5Salt[:], salt)

	case AuthMethodSCRAMSHA256, AuthMethodSCRAMSHA256Plus:
		// SCRAM state is initialized when the initial response arrives.
	}

	return session, nil
}

// SetChannelBinding supplies the tls-server-end-point data. Must be called
// before AuthRequest on TLS connections.
func (s *AuthSession) SetChannelBinding(data []byte) {
	s.channelBinding = data
}

// AuthRequest returns the first authentication message to send and the
// decoder phase for the expected reply. For AuthMethodTrust the message is
// AuthenticationOk and the exchange is already complete.
func (s *AuthSession) AuthRequest() (pgwire.BackendMessage, pgwire.AuthPhase) {
	switch s.Method {
	case AuthMethodTrust:
		s.State = AuthStateComplete
		return &pgwire.AuthenticationOk{}, pgwire.AuthPhaseNone

	case AuthMethodCleartext:
		s.State = AuthStateWaitingForPassword
		return &pgwire.AuthenticationCleartextPassword{}, pgwire.AuthPhasePassword

	case AuthMethodMD5:
		s.State = AuthStateWaitingForPassword
		return &pgwire.AuthenticationMD5Password{Salt: s.MD5Salt}, pgwire.AuthPhasePassword

	case AuthMethodSCRAMSHA256, AuthMethodSCRAMSHA256Plus:
		s.State = AuthStateSASLInit
		// Advertise -PLUS only when the TLS channel provides binding data;
		// always advertise the base mechanism alongside it.
		if s.channelBinding != nil {
			s.mechanisms = []string{scramSASLMechanismSHA256Plus, scramSASLMechanismSHA256}
		} else {
			s.mechanisms = []string{scramSASLMechanismSHA256}
		}
		return &pgwire.AuthenticationSASL{Mechanisms: s.mechanisms}, pgwire.AuthPhaseSASLInitial

	default:
		s.State = AuthStateFailed
		s.Error = fmt.Errorf("unsupported auth method: %s", s.Method)
		return nil, pgwire.AuthPhaseNone
	}
}

// HandlePasswordMessage verifies a cleartext or MD5 password response.
func (s *AuthSession) HandlePasswordMessage(msg *pgwire.PasswordMessage) error {
	if s.State != AuthStateWaitingForPassword {
		return s.fail(errors.New("unexpected password message"))
	}
	if !s.Credentials.HasCleartext() {
		return s.fail(fmt.Errorf("stored credential cannot serve %s authentication", s.Method))
	}

	var valid bool
	switch s.Method {
	case AuthMethodCleartext:
		valid = msg.Password == s.Credentials.Password()
	case AuthMethodMD5:
		expected := computeMD5Password(s.Credentials, s.MD5Salt)
		valid = md5ResponsesEqual(msg.Password, expected)
	default:
		return s.fail(fmt.Errorf("password message not valid for auth method: %s", s.Method))
	}

	if !valid {
		return s.fail(errors.New("password authentication failed"))
	}
	s.State = AuthStateComplete
	return nil
}

// HandleSASLInitialResponse processes the mechanism selection and
// client-first-message and returns the AuthenticationSASLContinue to send.
func (s *AuthSession) HandleSASLInitialResponse(msg *pgwire.SASLInitialResponse) (*pgwire.AuthenticationSASLContinue, error) {
	if s.State != AuthStateSASLInit {
		return nil, s.fail(errors.New("unexpected SASL initial response"))
	}

	mechanism := msg.AuthMechanism
	if !s.mechanismOffered(mechanism) {
		return nil, s.fail(fmt.Errorf("unsupported SASL mechanism: %s", mechanism))
	}
	plus := mechanism == scramSASLMechanismSHA256Plus
	if plus && s.channelBinding == nil {
		return nil, s.fail(errors.New("channel binding requested but no TLS connection"))
	}
	if s.Method == AuthMethodSCRAMSHA256Plus && !plus {
		return nil, s.fail(errors.New("server requires channel binding"))
	}
	if len(msg.Data) == 0 {
		return nil, s.fail(errors.New("SASL initial response without client-first-message"))
	}
	clientFirst := string(msg.Data)

	// Parse the gs2 header with go-sasl to validate the channel binding
	// flag and the optional embedded username.
	parsedMsg, err := scram.NewMessageFromStringWithHeader(clientFirst)
	if err != nil {
		return nil, s.fail(fmt.Errorf("failed to parse client-first-message: %w", err))
	}
	if parsedMsg.HasHeader() {
		cbFlag := parsedMsg.CBFlag()
		if plus {
			if cbFlag != gss.ClientSupportsUsedCBSFlag {
				return nil, s.fail(fmt.Errorf("SCRAM-SHA-256-PLUS requires channel binding, got flag: %c", cbFlag))
			}
		} else {
			if cbFlag == gss.ClientSupportsUsedCBSFlag {
				return nil, s.fail(errors.New("client requests channel binding but mechanism is not PLUS"))
			}
			// A 'y' flag from a client while we advertised -PLUS signals a
			// downgrade attack (RFC 5802 §6).
			if cbFlag == gss.ClientSupportsCBSFlag && s.channelBinding != nil {
				return nil, s.fail(errors.New("client supports channel binding but did not use it"))
			}
		}
	}
	// PostgreSQL clients normally send n=, (empty); when present it must
	// match the startup user.
	if username, hasUsername := parsedMsg.Username(); hasUsername && username != "" &&
		username != s.Credentials.Username() {
		return nil, s.fail(fmt.Errorf("SCRAM username mismatch: expected %q, got %q",
			s.Credentials.Username(), username))
	}

	cred, err := scramCredentialFor(s.Credentials, s.scramIterations)
	if err != nil {
		return nil, s.fail(err)
	}
	if plus {
		s.scramServer = NewSCRAMServerPlus(cred, s.channelBinding)
	} else {
		s.scramServer = NewSCRAMServer(cred)
	}

	serverFirst, err := s.scramServer.ProcessClientFirstMessage(clientFirst)
	if err != nil {
		return nil, s.fail(fmt.Errorf("failed to process client-first-message: %w", err))
	}

	s.State = AuthStateSASL
	return &pgwire.AuthenticationSASLContinue{Data: []byte(serverFirst)}, nil
}

// HandleSASLResponse verifies the client-final-message and returns the
// AuthenticationSASLFinal carrying the server signature.
func (s *AuthSession) HandleSASLResponse(msg *pgwire.SASLResponse) (*pgwire.AuthenticationSASLFinal, error) {
	if s.State != AuthStateSASL || s.scramServer == nil {
		return nil, s.fail(errors.New("unexpected SASL response"))
	}

	// Validate the message shape with go-sasl before verifying the proof.
	if _, err := scram.NewMessageFromString(string(msg.Data)); err != nil {
		return nil, s.fail(fmt.Errorf("failed to parse client-final-message: %w", err))
	}

	serverFinal, err := s.scramServer.ProcessClientFinalMessage(string(msg.Data))
	if err != nil {
		return nil, s.fail(fmt.Errorf("SCRAM authentication failed: %w", err))
	}

	s.State = AuthStateComplete
	return &pgwire.AuthenticationSASLFinal{Data: []byte(serverFinal)}, nil
}

// IsComplete returns true if authentication is complete and successful.
func (s *AuthSession) IsComplete() bool {
	return s.State == AuthStateComplete
}

// IsFailed returns true if authentication has failed.
func (s *AuthSession) IsFailed() bool {
	return s.State == AuthStateFailed
}

// ErrResponse returns the fatal 28P01 error for a failed exchange.
func (s *AuthSession) ErrResponse() *pgwire.Err {
	msg := "authentication failed"
	if s.Error != nil {
		msg = s.Error.Error()
	}
	return pgwire.NewErr(pgwire.ErrorFatal, pgerrcode.InvalidPassword,
		fmt.Sprintf("password authentication failed for user %q: %s", s.Credentials.Username(), msg), s.Error)
}

func (s *AuthSession) mechanismOffered(mechanism string) bool {
	for _, m := range s.mechanisms {
		if m == mechanism {
			return true
		}
	}
	return false
}

func (s *AuthSession) fail(err error) error {
	s.State = AuthStateFailed
	s.Error = err
	return err
}
