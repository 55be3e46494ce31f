package frontend

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"

	"github.com/justjake/pgfront/pkg/params"
	"github.com/justjake/pgfront/pkg/pgwire"
)

// Session represents one client connection and its protocol state machine.
// All session state is owned by the connection's goroutine; the only
// cross-goroutine entry point is the cancel signal installed in the
// process-wide registry.
type Session struct {
	ctx    context.Context
	cancel context.CancelFunc

	service *Service
	conn    net.Conn
	logger  *slog.Logger

	reader *pgwire.Reader
	writer *pgwire.Writer

	// Populated during startup.
	startupParameters map[string]string
	userName          string
	databaseName      string
	tlsState          *tls.ConnectionState

	pid       uint32
	secretKey uint32
	txStatus  pgwire.TxStatus
	store     *PortalStore

	// skipUntilSync is the extended-query error recovery substate: every
	// message except Sync is discarded without reply.
	skipUntilSync bool

	// queryCancel aborts the in-flight handler call when a CancelRequest
	// matches this session. Written by the session goroutine, called from
	// the cancel connection's goroutine.
	queryCancel *queryCanceler

	registered bool
}

// queryCancelErr is the cause installed when a CancelRequest fires.
var queryCancelErr = errors.New("canceling statement due to user request")

func newSession(ctx context.Context, service *Service, conn net.Conn) *Session {
	innerCtx, cancel := context.WithCancel(ctx)
	maxBytes := int(service.opts.MaxMessageBytes)
	return &Session{
		ctx:         innerCtx,
		cancel:      cancel,
		service:     service,
		conn:        conn,
		logger:      service.logger.With("remote", conn.RemoteAddr().String()),
		reader:      pgwire.NewReader(conn, maxBytes),
		writer:      pgwire.NewWriter(conn),
		txStatus:    pgwire.TxIdle,
		store:       NewPortalStore(),
		queryCancel: newQueryCanceler(),
	}
}

// ClientInfo implementation.

func (s *Session) PID() uint32               { return s.pid }
func (s *Session) User() string              { return s.userName }
func (s *Session) Database() string          { return s.databaseName }
func (s *Session) IsSecure() bool            { return s.tlsState != nil }
func (s *Session) TxStatus() pgwire.TxStatus { return s.txStatus }
func (s *Session) StartupParameter(name string) string {
	return s.startupParameters[name]
}

// Run handles the full lifecycle of a client session: TLS and startup
// negotiation, authentication, and the query loop. It closes the connection
// on return.
func (s *Session) Run() {
	defer s.close()

	isCancelConn, err := s.handleStartup()
	if err != nil {
		if !errors.Is(err, io.EOF) && !errors.Is(err, context.Canceled) {
			s.logger.Error("startup failed", "error", err)
		}
		return
	}
	if isCancelConn {
		return
	}

	s.logger = s.logger.With("user", s.userName, "database", s.databaseName)

	if err := s.authenticate(); err != nil {
		s.logger.Warn("authentication failed", "error", err)
		return
	}

	s.initProcessState()
	s.sendInitialParameterStatuses()
	s.sendBackendKeyData()
	if err := s.sendReadyForQuery(); err != nil {
		return
	}

	s.service.metrics.RecordClientConnection(s.databaseName, s.userName)
	defer s.service.metrics.RecordClientDisconnect(s.databaseName, s.userName)
	s.logger.Info("client connected", "pid", s.pid)

	for {
		s.setIdleDeadline()
		msg, err := s.reader.Receive()
		if err != nil {
			var netErr net.Error
			if errors.Is(err, io.EOF) || errors.As(err, &netErr) {
				// Disconnect or timeout; no protocol reply is possible.
				s.logger.Debug("client read failed", "error", err)
				return
			}
			// Framing errors (oversized frame, unknown type byte) are
			// protocol violations and get a reply before termination.
			s.fatal(pgwire.NewProtocolViolation(err, nil))
			return
		}

		s.logger.Debug("recv client message", "type", fmt.Sprintf("%T", msg))

		switch msg := msg.(type) {
		case *pgwire.Terminate:
			s.logger.Info("client terminated connection")
			return

		case *pgwire.Query:
			if err := s.runSimpleQuery(msg.String); err != nil {
				return
			}

		case *pgwire.Parse, *pgwire.Bind, *pgwire.Describe, *pgwire.Execute,
			*pgwire.Close, *pgwire.Flush, *pgwire.Sync:
			if err := s.handleExtendedMessage(msg); err != nil {
				return
			}

		case *pgwire.CopyData, *pgwire.CopyDone:
			// Copy messages outside copy mode are dropped, per protocol.
			s.logger.Debug("dropping copy message outside copy mode")

		case *pgwire.CopyFail:
			s.logger.Debug("dropping CopyFail outside copy mode")

		default:
			s.fatal(pgwire.NewProtocolViolation(nil, msg))
			return
		}
	}
}

func (s *Session) close() {
	s.cancel()
	if s.registered {
		s.service.registry.Unregister(BackendKey{PID: s.pid, SecretKey: s.secretKey})
	}
	s.store.Clear()
	if err := s.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		s.logger.Debug("error closing client connection", "error", err)
	}
}

// handleStartup processes the initial connection phase: optional direct TLS,
// SSLRequest/GSSEncRequest negotiation, CancelRequest routing, and the
// StartupMessage itself. Returns true for cancel connections, which carry no
// further traffic.
func (s *Session) handleStartup() (bool, error) {
	if s.service.opts.StartupTimeout > 0 {
		_ = s.conn.SetReadDeadline(time.Now().Add(s.service.opts.StartupTimeout))
		defer func() { _ = s.conn.SetReadDeadline(time.Time{}) }()
	}

	if s.service.opts.DirectSSL && s.service.opts.TLSConfig != nil {
		if err := s.maybeDirectTLS(); err != nil {
			return false, err
		}
	}

	for {
		msg, err := s.reader.Receive()
		if err != nil {
			return false, fmt.Errorf("failed to read startup message: %w", err)
		}

		switch msg := msg.(type) {
		case *pgwire.SSLRequest:
			if err := s.handleSSLRequest(); err != nil {
				return false, fmt.Errorf("SSL negotiation failed: %w", err)
			}

		case *pgwire.GSSEncRequest:
			// Decline GSSAPI encryption; the client continues in plaintext.
			s.writer.SendRaw([]byte{'N'})
			if err := s.writer.Flush(); err != nil {
				return false, err
			}

		case *pgwire.CancelRequest:
			s.dispatchCancelRequest(msg)
			return true, nil

		case *pgwire.StartupMessage:
			return false, s.handleStartupMessage(msg)

		default:
			return false, fmt.Errorf("unexpected startup message %T", msg)
		}
	}
}

// maybeDirectTLS sniffs the first byte: a TLS handshake record (0x16) means
// the client is using PostgreSQL 17 direct SSL.
func (s *Session) maybeDirectTLS() error {
	first := make([]byte, 1)
	if _, err := io.ReadFull(s.conn, first); err != nil {
		return err
	}
	replay := &replayConn{Conn: s.conn, pending: first}
	if first[0] != 0x16 {
		// Not a TLS record; replay the byte into normal startup handling.
		s.reader.SetSource(replay)
		return nil
	}

	tlsConn := tls.Server(replay, s.service.opts.TLSConfig)
	if err := tlsConn.HandshakeContext(s.ctx); err != nil {
		return fmt.Errorf("direct TLS handshake failed: %w", err)
	}
	s.adoptTLS(tlsConn)
	return nil
}

// handleSSLRequest answers an SSLRequest with a single byte and, when
// accepted, performs the TLS handshake.
func (s *Session) handleSSLRequest() error {
	if s.tlsState != nil {
		return errors.New("duplicate SSLRequest after TLS established")
	}
	if s.service.opts.TLSConfig == nil {
		s.writer.SendRaw([]byte{'N'})
		return s.writer.Flush()
	}

	s.writer.SendRaw([]byte{'S'})
	if err := s.writer.Flush(); err != nil {
		return err
	}

	tlsConn := tls.Server(s.conn, s.service.opts.TLSConfig)
	if err := tlsConn.HandshakeContext(s.ctx); err != nil {
		return fmt.Errorf("TLS handshake failed: %w", err)
	}
	s.adoptTLS(tlsConn)
	return nil
}

func (s *Session) adoptTLS(tlsConn *tls.Conn) {
	s.conn = tlsConn
	state := tlsConn.ConnectionState()
	s.tlsState = &state
	s.reader.SetSource(tlsConn)
	s.writer.SetDestination(tlsConn)
}

// dispatchCancelRequest routes a cancel key to its target connection.
// Unknown keys produce no reply and no log entry above debug, so the
// endpoint is not an oracle for valid keys.
func (s *Session) dispatchCancelRequest(msg *pgwire.CancelRequest) {
	matched := s.service.registry.Cancel(BackendKey{PID: msg.ProcessID, SecretKey: msg.SecretKey})
	s.service.metrics.RecordCancelRequest(matched)
	s.logger.Debug("cancel request", "pid", msg.ProcessID, "matched", matched)
}

func (s *Session) handleStartupMessage(msg *pgwire.StartupMessage) error {
	if s.service.opts.RequireTLS && s.tlsState == nil {
		s.fatal(pgwire.NewErr(pgwire.ErrorFatal, pgerrcode.ProtocolViolation, "SSL/TLS required", nil))
		return errors.New("TLS required but client did not request SSL")
	}

	if major := msg.ProtocolVersion >> 16; major != 3 {
		s.fatal(pgwire.NewErr(pgwire.ErrorFatal, pgerrcode.ProtocolViolation,
			fmt.Sprintf("unsupported protocol version %d.%d", major, msg.ProtocolVersion&0xffff), nil))
		return fmt.Errorf("unsupported protocol major version %d", major)
	}

	// A newer minor version or unknown _pq_. options trigger version
	// negotiation before authentication.
	var unrecognized []string
	for name := range msg.Parameters {
		if strings.HasPrefix(name, "_pq_.") {
			unrecognized = append(unrecognized, name)
		}
	}
	if msg.ProtocolVersion != pgwire.ProtocolVersionNumber || len(unrecognized) > 0 {
		if err := s.writer.Send(&pgwire.NegotiateProtocolVersion{
			NewestSupportedVersion: pgwire.ProtocolVersionNumber,
			UnrecognizedOptions:    unrecognized,
		}); err != nil {
			return err
		}
		if err := s.writer.Flush(); err != nil {
			return err
		}
	}

	s.startupParameters = msg.Parameters
	s.userName = msg.Parameters["user"]
	s.databaseName = msg.Parameters["database"]

	if s.userName == "" {
		s.fatal(pgwire.NewErr(pgwire.ErrorFatal, pgerrcode.InvalidAuthorizationSpecification,
			"no PostgreSQL user name specified in startup packet", nil))
		return errors.New("no user specified in startup message")
	}
	if s.databaseName == "" {
		// Default to username if no database specified (PostgreSQL behavior)
		s.databaseName = s.userName
	}

	s.reader.Decoder().FinishStartup()
	return nil
}

// authenticate drives the credential exchange selected for this user.
func (s *Session) authenticate() error {
	method := AuthMethodSCRAMSHA256
	if s.service.opts.AuthMethodFor != nil {
		method = s.service.opts.AuthMethodFor(s.userName, s.databaseName)
	}

	var creds UserSecret
	if method != AuthMethodTrust {
		if s.service.handlers.AuthSource == nil {
			return errors.New("no AuthSource configured")
		}
		var err error
		creds, err = s.service.handlers.AuthSource.Lookup(s.ctx, s.userName, s.databaseName)
		if err != nil {
			s.service.metrics.RecordAuthFailure(method.String())
			if errors.Is(err, ErrUnknownUser) {
				// Unknown users get 28000 naming the role as nonexistent,
				// before any password challenge is sent.
				s.fatal(pgwire.NewErr(pgwire.ErrorFatal, pgerrcode.InvalidAuthorizationSpecification,
					fmt.Sprintf("role %q does not exist", s.userName), nil))
				return err
			}
			s.fatal(pgwire.NewErr(pgwire.ErrorFatal, pgerrcode.InvalidAuthorizationSpecification,
				"authentication lookup failed", err))
			return err
		}
	}

	authSession, err := NewAuthSession(creds, method, s.service.opts.SCRAMIterations)
	if err != nil {
		return err
	}

	if s.tlsState != nil {
		cb, err := channelBindingData(s.tlsState, s.serverLeafDER())
		if err != nil {
			s.logger.Debug("channel binding unavailable", "error", err)
		} else {
			authSession.SetChannelBinding(cb)
		}
	}

	request, phase := authSession.AuthRequest()
	if request == nil {
		s.fatal(authSession.ErrResponse())
		return authSession.Error
	}
	if err := s.writer.Send(request); err != nil {
		return err
	}
	if err := s.writer.Flush(); err != nil {
		return err
	}
	s.reader.Decoder().SetAuthPhase(phase)

	for !authSession.IsComplete() {
		msg, err := s.reader.Receive()
		if err != nil {
			return fmt.Errorf("failed to read auth response: %w", err)
		}

		switch msg := msg.(type) {
		case *pgwire.PasswordMessage:
			err = authSession.HandlePasswordMessage(msg)

		case *pgwire.SASLInitialResponse:
			var cont *pgwire.AuthenticationSASLContinue
			cont, err = authSession.HandleSASLInitialResponse(msg)
			if err == nil {
				s.reader.Decoder().SetAuthPhase(pgwire.AuthPhaseSASL)
				if err = s.writer.Send(cont); err != nil {
					return err
				}
				if err = s.writer.Flush(); err != nil {
					return err
				}
			}

		case *pgwire.SASLResponse:
			var final *pgwire.AuthenticationSASLFinal
			final, err = authSession.HandleSASLResponse(msg)
			if err == nil {
				if err = s.writer.Send(final); err != nil {
					return err
				}
			}

		case *pgwire.Terminate:
			return errors.New("client terminated during authentication")

		default:
			err = fmt.Errorf("unexpected message %T during authentication", msg)
			authSession.State = AuthStateFailed
			authSession.Error = err
		}

		if err != nil {
			s.service.metrics.RecordAuthFailure(method.String())
			s.fatal(authSession.ErrResponse())
			return err
		}
	}

	s.reader.Decoder().SetAuthPhase(pgwire.AuthPhaseNone)

	// Trust already produced AuthenticationOk as the request itself.
	if method != AuthMethodTrust {
		if err := s.writer.Send(&pgwire.AuthenticationOk{}); err != nil {
			return err
		}
	}
	return nil
}

func (s *Session) serverLeafDER() []byte {
	if len(s.service.opts.TLSLeafDER) > 0 {
		return s.service.opts.TLSLeafDER
	}
	if cfg := s.service.opts.TLSConfig; cfg != nil && len(cfg.Certificates) > 0 &&
		len(cfg.Certificates[0].Certificate) > 0 {
		return cfg.Certificates[0].Certificate[0]
	}
	return nil
}

func (s *Session) initProcessState() {
	s.pid = s.service.allocPID()
	s.logger = s.logger.With("pid", s.pid)

	key, err := newSecretKey()
	if err != nil {
		// The RNG failing is unrecoverable; a zero key would be guessable.
		panic(fmt.Sprintf("failed to generate cancel key: %v", err))
	}
	s.secretKey = key

	s.service.registry.Register(BackendKey{PID: s.pid, SecretKey: s.secretKey}, s.queryCancel.fire)
	s.registered = true
}

func (s *Session) sendInitialParameterStatuses() {
	statuses := params.Merged(s.service.opts.StartupParameters)
	if s.service.handlers.ServerParameters != nil {
		for k, v := range s.service.handlers.ServerParameters.ServerParameters(s.ctx, s) {
			statuses[k] = v
		}
	}
	// Echo the client's application_name back, as PostgreSQL does.
	if appName, ok := s.startupParameters[params.ParamApplicationName]; ok {
		statuses[params.ParamApplicationName] = appName
	}
	for key, value := range statuses {
		_ = s.writer.Send(&pgwire.ParameterStatus{Name: key, Value: value})
	}
}

func (s *Session) sendBackendKeyData() {
	_ = s.writer.Send(&pgwire.BackendKeyData{
		ProcessID: s.pid,
		SecretKey: s.secretKey,
	})
}

func (s *Session) sendReadyForQuery() error {
	if err := s.writer.Send(&pgwire.ReadyForQuery{TxStatus: byte(s.txStatus)}); err != nil {
		return err
	}
	return s.writer.Flush()
}

func (s *Session) setIdleDeadline() {
	if s.service.opts.IdleTimeout > 0 {
		_ = s.conn.SetReadDeadline(time.Now().Add(s.service.opts.IdleTimeout))
	} else {
		_ = s.conn.SetReadDeadline(time.Time{})
	}
}

// sendError reports a recoverable error to the client. Inside a transaction
// block the transaction enters the failed state.
func (s *Session) sendError(pgErr *pgwire.Err) {
	if s.txStatus == pgwire.TxInTransaction {
		s.txStatus = pgwire.TxFailed
	}
	if hook := s.service.handlers.Error; hook != nil {
		if rewritten := hook.OnError(s, pgErr); rewritten != nil {
			pgErr = rewritten
		}
	}
	s.service.metrics.RecordError(pgErr.Code)
	s.logger.Warn("sent error to client", "severity", pgErr.Severity, "code", pgErr.Code, "message", pgErr.Message)

	if err := s.writer.Send(pgErr.Response()); err != nil {
		s.logger.Error("error sending error response", "error", err)
		return
	}
	if err := s.writer.Flush(); err != nil {
		s.logger.Error("error flushing to client", "error", err)
	}
}

// fatal reports an unrecoverable error; the caller terminates the session.
func (s *Session) fatal(pgErr *pgwire.Err) {
	pgErr.Severity = string(pgwire.ErrorFatal)
	s.sendError(pgErr)
}

// replayConn replays already-consumed bytes before reading from the
// underlying connection. Used for the direct-TLS first-byte sniff.
type replayConn struct {
	net.Conn
	pending []byte
}

func (c *replayConn) Read(p []byte) (int, error) {
	if len(c.pending) > 0 {
		n := copy(p, c.pending)
		c.pending = c.pending[n:]
		return n, nil
	}
	return c.Conn.Read(p)
}
