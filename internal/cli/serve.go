package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/gantryhq/gantry/internal/config"
	"github.com/gantryhq/gantry/internal/logger"
	"github.com/gantryhq/gantry/internal/metrics"
	"github.com/gantryhq/gantry/pkg/auth"
	"github.com/gantryhq/gantry/pkg/dispatch"
	"github.com/gantryhq/gantry/pkg/secrets"
	"github.com/gantryhq/gantry/pkg/tool"
	"github.com/gantryhq/gantry/pkg/toolkit"
	"github.com/gantryhq/gantry/pkg/transport/httpd"
	"github.com/gantryhq/gantry/pkg/transport/stdio"
	"github.com/gantryhq/gantry/pkg/transport/ws"
)

var (
	serveTransport string
	serveHost      string
	servePort      int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the tool execution runtime",
	Long: `Run the runtime on the selected transport.

stdio serves newline-delimited JSON frames on stdin/stdout, ws serves the
same duplex protocol over websocket, and http exposes one-shot invocation
endpoints plus the authorization callback.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveTransport, "transport", "", "transport to serve on (stdio, ws, http)")
	serveCmd.Flags().StringVar(&serveHost, "host", "", "listen host for ws/http transports")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "listen port for ws/http transports")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.NewLoader(cfgFile).Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Flags override the file.
	if cmd.Flags().Changed("transport") {
		cfg.Transport = serveTransport
	}
	if cmd.Flags().Changed("host") {
		cfg.Host = serveHost
	}
	if cmd.Flags().Changed("port") {
		cfg.Port = servePort
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// On the stdio transport stdout belongs to the protocol, so logs
	// stay on stderr either way.
	logger.Setup(logger.Config{
		Level:  cfg.Logging.Level,
		Pretty: cfg.Logging.Pretty,
	})

	secretStore, closeSecrets, err := buildSecretStore(cfg.Secrets)
	if err != nil {
		return err
	}
	defer closeSecrets()

	if err := secrets.Preflight(secretStore, cfg.Secrets.Required); err != nil {
		return fmt.Errorf("startup secret check failed: %w", err)
	}

	sessionStore, closeSessions, err := buildSessionStore(cfg.Sessions)
	if err != nil {
		return err
	}
	defer closeSessions()

	var resolver *auth.Resolver
	if cfg.Auth.BaseURL != "" {
		resolver = auth.NewResolver(sessionStore, auth.NewHTTPProvider(cfg.Auth.BaseURL))
	} else {
		log.Warn().Msg("no auth facade configured; tools requiring authorization will fail")
	}

	sweeper, err := auth.NewSweeper(sessionStore, cfg.Sessions.SweepSchedule, cfg.Sessions.Retention())
	if err != nil {
		return fmt.Errorf("invalid sweep schedule: %w", err)
	}
	sweeper.Start()
	defer sweeper.Stop()

	m := metrics.New()

	registry := tool.NewRegistry()
	if err := toolkit.Register(registry); err != nil {
		return fmt.Errorf("failed to register builtin tools: %w", err)
	}

	dispatcher := dispatch.New(registry, resolver, secretStore,
		dispatch.WithTimeout(cfg.Dispatch.Timeout()),
		dispatch.WithMaxOutput(cfg.Dispatch.MaxOutputBytes),
		dispatch.WithObserver(m),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info().
		Str("transport", cfg.Transport).
		Int("tools", registry.Count()).
		Msg("runtime starting")

	switch cfg.Transport {
	case config.TransportStdio:
		return stdio.Serve(ctx, dispatcher, os.Stdin, os.Stdout, cfg.DefaultUser, m)

	case config.TransportWS:
		srv, err := ws.NewServer(ws.Config{
			Host:        cfg.Host,
			Port:        cfg.Port,
			DefaultUser: cfg.DefaultUser,
			Logger:      log.Logger,
			Observer:    m,
		}, dispatcher)
		if err != nil {
			return err
		}
		return serveUntilSignal(ctx, srv.Start, srv.Shutdown)

	case config.TransportHTTP:
		srv, err := httpd.NewServer(httpd.Config{
			Host:               cfg.Host,
			Port:               cfg.Port,
			RateLimitPerMinute: cfg.Dispatch.RateLimitPerMinute,
			Logger:             log.Logger,
			Gatherer:           m.Gatherer(),
		}, dispatcher, registry, resolver)
		if err != nil {
			return err
		}
		return serveUntilSignal(ctx, srv.Start, srv.Shutdown)
	}

	// Validate() already rejected anything else.
	return fmt.Errorf("unknown transport %q", cfg.Transport)
}

// serveUntilSignal runs start in the foreground and drains the server when
// the context is cancelled. A start failure wins over a clean shutdown.
func serveUntilSignal(ctx context.Context, start func() error, shutdown func(context.Context) error) error {
	errCh := make(chan error, 1)
	go func() { errCh <- start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("shutdown signal received")

	drainCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := shutdown(drainCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}
	<-errCh
	return nil
}

// buildSecretStore layers the configured sources: environment first, then
// the optional hot-reloaded file.
func buildSecretStore(cfg config.SecretsConfig) (secrets.Store, func(), error) {
	stores := secrets.Multi{&secrets.Env{Prefix: cfg.EnvPrefix}}
	closer := func() {}

	if cfg.File != "" {
		fileStore, err := secrets.NewFileStore(cfg.File)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open secrets file: %w", err)
		}
		stores = append(stores, fileStore)
		closer = func() { fileStore.Close() }
	}

	return stores, closer, nil
}

func buildSessionStore(cfg config.SessionsConfig) (auth.Store, func(), error) {
	if cfg.Path == "" {
		return auth.NewMemoryStore(), func() {}, nil
	}

	store, err := auth.NewSQLiteStore(cfg.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open session store: %w", err)
	}
	return store, func() { store.Close() }, nil
}
