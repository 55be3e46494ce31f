package frontend

import (
	"context"
	"crypto/tls"
	"errors"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/justjake/pgfront/pkg/observability"
	"github.com/justjake/pgfront/pkg/params"
)

// Options is the runtime configuration of a Service.
type Options struct {
	// TLSConfig enables the SSLRequest upgrade when non-nil.
	TLSConfig *tls.Config

	// TLSLeafDER is the DER-encoded server leaf certificate used for SCRAM
	// tls-server-end-point channel binding. Optional; when empty the leaf is
	// taken from TLSConfig.Certificates.
	TLSLeafDER []byte

	// RequireTLS rejects connections that never upgrade to TLS.
	RequireTLS bool

	// DirectSSL accepts a TLS handshake as the very first bytes on the
	// connection (PostgreSQL 17 direct SSL), in addition to SSLRequest.
	DirectSSL bool

	// MaxMessageBytes caps one protocol message; zero selects the default.
	MaxMessageBytes int64

	// StartupTimeout bounds the startup phase up to and including the
	// StartupMessage; authentication is not covered. Zero disables the
	// deadline.
	StartupTimeout time.Duration

	// IdleTimeout bounds the wait for the next command. Zero disables it.
	IdleTimeout time.Duration

	// QueryTimeout bounds each handler invocation. Zero disables it.
	QueryTimeout time.Duration

	// SCRAMIterations is used when deriving SCRAM verifiers from cleartext
	// passwords; zero selects the default.
	SCRAMIterations int

	// StartupParameters overlays params.BaseParameterStatuses in the
	// post-auth ParameterStatus exchange.
	StartupParameters params.ParameterStatuses

	// AuthMethodFor selects the authentication method per user and
	// database. Nil defaults every connection to SCRAM-SHA-256.
	AuthMethodFor func(user, database string) AuthMethod
}

// Service accepts client connections and runs one Session per connection.
type Service struct {
	logger   *slog.Logger
	opts     Options
	handlers Handlers
	metrics  *observability.Metrics

	registry   *CancelRegistry
	pidCounter atomic.Uint32

	wg sync.WaitGroup
}

// NewService creates a Service. metrics may be nil to disable recording.
func NewService(logger *slog.Logger, opts Options, handlers Handlers, metrics *observability.Metrics) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		logger:   logger,
		opts:     opts,
		handlers: handlers,
		metrics:  metrics,
		registry: NewCancelRegistry(),
	}
}

// CancelRegistry exposes the process-wide cancel registry, e.g. so multiple
// listeners can share one.
func (s *Service) CancelRegistry() *CancelRegistry {
	return s.registry
}

// Serve accepts connections from lis until ctx is canceled or lis fails.
// Each connection runs on its own goroutine; protocol ordering is
// per-connection only.
func (s *Service) Serve(ctx context.Context, lis net.Listener) error {
	context.AfterFunc(ctx, func() { _ = lis.Close() })

	for {
		conn, err := lis.Accept()
		if err != nil {
			if ctx.Err() != nil {
				s.wg.Wait()
				return ctx.Err()
			}
			if errors.Is(err, net.ErrClosed) {
				s.wg.Wait()
				return nil
			}
			s.logger.Error("accept failed", "error", err)
			return err
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.ServeConn(ctx, conn)
		}()
	}
}

// ServeConn runs the protocol on one already-accepted connection and blocks
// until the session terminates.
func (s *Service) ServeConn(ctx context.Context, conn net.Conn) {
	session := newSession(ctx, s, conn)
	session.Run()
}

// allocPID assigns backend process IDs monotonically per process.
func (s *Service) allocPID() uint32 {
	return s.pidCounter.Add(1)
}
