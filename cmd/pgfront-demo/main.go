// Command pgfront-demo serves a tiny in-memory key/value table over the
// PostgreSQL wire protocol. It exists to exercise every handler surface of
// the library: simple and extended queries, COPY in both directions,
// authentication and cancellation.
//
// Try it with psql:
//
//	pgfront-demo -listen 127.0.0.1:5432 &
//	psql "host=127.0.0.1 user=demo password=demo" -c "SELECT 1"
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/justjake/pgfront/pkg/config"
	"github.com/justjake/pgfront/pkg/frontend"
	"github.com/justjake/pgfront/pkg/observability"
)

func main() {
	listen := flag.String("listen", "127.0.0.1:5432", "address to serve the PostgreSQL protocol on")
	configPath := flag.String("config", "", "optional pgfront.json config file")
	metricsAddr := flag.String("metrics", "", "optional Prometheus /metrics address")
	authMethod := flag.String("auth", "md5", "auth method: trust|cleartext|md5|scram-sha-256")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	if err := run(logger, *listen, *configPath, *metricsAddr, *authMethod); err != nil {
		logger.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger, listen, configPath, metricsAddr, authMethod string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := frontend.Options{}
	secrets := config.NewSecretCache(nil)
	users := map[string]string{"demo": "demo"}

	if configPath != "" {
		cfg, err := config.ReadConfigFile(configPath)
		if err != nil {
			return fmt.Errorf("read config: %w", err)
		}
		if err := cfg.Validate(ctx, secrets); err != nil {
			return fmt.Errorf("validate config: %w", err)
		}
		listen = cfg.Listen
		tlsResult, err := cfg.TLS.NewTLS(os.DirFS("."), func(p string) string { return p })
		if err != nil {
			return fmt.Errorf("tls: %w", err)
		}
		opts.TLSConfig = tlsResult.Config
		opts.TLSLeafDER = tlsResult.LeafDER
		opts.RequireTLS = cfg.TLS.Required()
		opts.DirectSSL = cfg.DirectSSL
		opts.MaxMessageBytes = cfg.MaxMessageBytes.Int64()
		opts.StartupTimeout = cfg.StartupTimeout.Std()
		opts.IdleTimeout = cfg.IdleTimeout.Std()
		opts.QueryTimeout = cfg.QueryTimeout.Std()
		opts.SCRAMIterations = cfg.SCRAMIterations
		opts.StartupParameters = cfg.StartupParameters
		opts.AuthMethodFor = func(user, database string) frontend.AuthMethod {
			method, err := frontend.ParseAuthMethod(cfg.MethodFor(user, database))
			if err != nil {
				return frontend.AuthMethodSCRAMSHA256
			}
			return method
		}
		users = map[string]string{}
		for _, u := range cfg.Users {
			username, err := secrets.Get(ctx, u.Username)
			if err != nil {
				return err
			}
			password, err := secrets.Get(ctx, u.Password)
			if err != nil {
				return err
			}
			users[username] = password
		}
	} else {
		method, err := frontend.ParseAuthMethod(authMethod)
		if err != nil {
			return err
		}
		opts.AuthMethodFor = func(user, database string) frontend.AuthMethod { return method }
	}

	metrics := observability.DefaultMetrics()
	if metricsAddr != "" {
		server := observability.NewMetricsServer(metricsAddr, "/metrics", logger)
		if err := server.Start(); err != nil {
			return err
		}
		defer func() { _ = server.Shutdown(context.Background()) }()
	}

	engine := newMemEngine(users)
	handlers := frontend.Handlers{
		AuthSource:    engine,
		QueryParser:   engine,
		SimpleQuery:   engine,
		ExtendedQuery: engine,
		Copy:          engine,
	}

	lis, err := net.Listen("tcp", listen)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	logger.Info("serving", "addr", lis.Addr().String())

	service := frontend.NewService(logger, opts, handlers, metrics)
	return service.Serve(ctx, lis)
}
