// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/hilsha/gatehouse/internal/auth"
	"github.com/hilsha/gatehouse/internal/auth/postgres"
	"github.com/hilsha/gatehouse/internal/logging"
	"github.com/hilsha/gatehouse/internal/notify"
	"github.com/hilsha/gatehouse/internal/observability"
	"github.com/hilsha/gatehouse/internal/origin"
	"github.com/hilsha/gatehouse/internal/ratelimit"
	"github.com/hilsha/gatehouse/internal/store"
	"github.com/hilsha/gatehouse/internal/web"
	"github.com/hilsha/gatehouse/pkg/errutil"
)

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the authentication server",
		Long: `Start the HTTP authentication API together with the metrics and
health listener, the notification workers and the expired-record sweeper.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := loadConfig(configFile, cmd.Flags())
			if err != nil {
				return err
			}
			return runServeWithDeps(cmd.Context(), cfg, cmd, nil)
		},
	}

	cmd.Flags().String("http-addr", "", "public HTTP listen address (default :5000)")
	cmd.Flags().String("metrics-addr", "", "metrics/health HTTP address (default 127.0.0.1:9100)")
	cmd.Flags().String("database-url", "", "PostgreSQL connection URL (default: DATABASE_URL)")

	return cmd
}

// runServeWithDeps starts the server with injectable dependencies and blocks
// until a signal arrives, ctx is cancelled or a listener fails.
// If deps is nil, default implementations are used.
func runServeWithDeps(ctx context.Context, cfg *Config, cmd *cobra.Command, deps *ServeDeps) error {
	if deps == nil {
		deps = &ServeDeps{}
	}
	deps.withDefaults()

	if err := cfg.Validate(); err != nil {
		return oops.Code("CONFIG_INVALID").With("operation", "validate configuration").Wrap(err)
	}
	level, _ := logging.ParseLevel(cfg.Log.Level)
	logger := logging.SetDefault(logging.Options{
		Service: "gatehouse",
		Version: version,
		Format:  cfg.Log.Format,
		Level:   level,
	})

	logger.Info("starting gatehouse", "http_addr", cfg.HTTP.Addr, "version", version)

	pool, err := deps.PoolFactory(ctx, store.PoolConfig{
		URL:      cfg.Database.URL,
		MaxConns: cfg.Database.MaxConns,
		MinConns: cfg.Database.MinConns,
	}, logger)
	if err != nil {
		return oops.Code("DB_CONNECT_FAILED").With("operation", "connect to database").Wrap(err)
	}
	defer pool.Close()
	logger.Info("connected to database")

	if cfg.Database.AutoMigrate {
		if err := autoMigrate(deps, cfg.Database.URL, logger); err != nil {
			return err
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Metrics live on the observability server's registry when it is
	// enabled and on a private registry otherwise.
	var (
		obsServer ObservabilityServer
		metrics   *observability.Metrics
		registry  prometheus.Registerer
	)
	if cfg.Observability.Addr != "" {
		obsServer = deps.ObservabilityServerFactory(cfg.Observability.Addr, observability.PingReadiness(pool))
		metrics, registry = obsServer.Metrics(), obsServer.Registerer()
	} else {
		reg := prometheus.NewRegistry()
		metrics, registry = observability.NewMetrics(reg), reg
	}

	rlStore, err := deps.RateLimitStoreFactory(ctx, cfg.RateLimit, registry)
	if err != nil {
		return oops.Code("RATELIMIT_INIT_FAILED").With("store", cfg.RateLimit.Store).Wrap(err)
	}
	defer func() {
		if closeErr := rlStore.Close(); closeErr != nil {
			logger.Warn("error closing rate limit store", "error", closeErr)
		}
	}()
	classes, err := cfg.rateClasses()
	if err != nil {
		return err
	}
	limiter, err := ratelimit.New(rlStore, classes)
	if err != nil {
		return err
	}

	queue, err := buildQueue(cfg, deps, metrics, logger)
	if err != nil {
		return err
	}
	defer func() {
		drainCtx, drainCancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer drainCancel()
		if closeErr := queue.Close(drainCtx); closeErr != nil {
			errutil.LogError(logger, "notification queue did not drain", closeErr)
		}
	}()

	policy, err := origin.NewPolicy(cfg.trustedOrigins()...)
	if err != nil {
		return oops.Code("CONFIG_INVALID").With("key", "http.trusted_origins").Wrap(err)
	}

	identities := postgres.NewIdentityRepository(pool)
	sessionsRepo := postgres.NewSessionRepository(pool)
	tokensRepo := postgres.NewTokenRepository(pool)

	sessions, err := auth.NewSessionManager(sessionsRepo, auth.SessionConfig{
		TTL:        cfg.Auth.SessionTTL,
		RenewAfter: cfg.Auth.SessionRenewAfter,
	})
	if err != nil {
		return err
	}
	tokens, err := auth.NewTokenIssuer(tokensRepo, nil)
	if err != nil {
		return err
	}
	service, err := auth.NewService(cfg.authConfig(), auth.ServiceDeps{
		Identities: identities,
		Profiles:   postgres.NewProfileRepository(pool),
		Sessions:   sessions,
		Tokens:     tokens,
		Hasher:     auth.NewArgon2idHasher(),
		Notifier:   notify.NewQueueNotifier(queue, logger),
		URLs:       policy,
		Events:     metrics,
		Logger:     logger.With("component", "auth"),
	})
	if err != nil {
		return err
	}

	router, err := web.NewRouter(web.Config{
		CookiePrefix:  cfg.HTTP.CookiePrefix,
		SecureCookies: cfg.HTTP.SecureCookies,
		TrustProxy:    cfg.HTTP.TrustProxy,
		MaxBodyBytes:  cfg.HTTP.MaxBodyBytes,
	}, web.Deps{
		Accounts: service,
		Limiter:  limiter,
		Origins:  policy,
		Metrics:  metrics,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	sweeper := store.NewSweeper(sessionsRepo, tokensRepo, store.SweeperConfig{
		Interval:       cfg.Sweep.Interval,
		TokenRetention: cfg.Sweep.TokenRetention,
		Logger:         logger.With("component", "sweeper"),
		OnSweep:        metrics.Swept,
	})
	go sweeper.Run(ctx)

	listener, err := deps.ListenerFactory("tcp", cfg.HTTP.Addr)
	if err != nil {
		return oops.Code("LISTEN_FAILED").With("addr", cfg.HTTP.Addr).Wrap(err)
	}
	if obsServer != nil {
		obsErrChan, err := obsServer.Start()
		if err != nil {
			_ = listener.Close()
			return oops.Code("OBSERVABILITY_START_FAILED").With("addr", cfg.Observability.Addr).Wrap(err)
		}
		go monitorServerErrors(ctx, cancel, obsErrChan, "observability")
		logger.Info("observability server started", "addr", obsServer.Addr())
	}

	httpServer := &http.Server{
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       2 * time.Minute,
		ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
	}
	errChan := make(chan error, 1)
	go func() {
		if serveErr := httpServer.Serve(listener); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			errChan <- serveErr
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	cmd.Println("Gatehouse listening on " + listener.Addr().String())
	logger.Info("gatehouse ready", "http_addr", listener.Addr().String())

	var serveErr error
	select {
	case sig := <-sigChan:
		logger.Info("received shutdown signal", "signal", sig.String())
	case serveErr = <-errChan:
		serveErr = oops.Code("HTTP_SERVE_FAILED").Wrap(serveErr)
	case <-ctx.Done():
		logger.Info("context cancelled, shutting down")
	}

	logger.Info("shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("error stopping http server", "error", err)
	}
	if obsServer != nil {
		if err := obsServer.Stop(shutdownCtx); err != nil {
			logger.Warn("error stopping observability server", "error", err)
		}
	}

	logger.Info("shutdown complete")
	return serveErr
}

func autoMigrate(deps *ServeDeps, databaseURL string, logger *slog.Logger) error {
	migrator, err := deps.MigratorFactory(databaseURL)
	if err != nil {
		return oops.Code("MIGRATION_INIT_FAILED").Wrap(err)
	}
	defer func() {
		if closeErr := migrator.Close(); closeErr != nil {
			logger.Warn("error closing migrator", "error", closeErr)
		}
	}()
	if err := migrator.Up(); err != nil {
		return oops.Code("MIGRATION_FAILED").With("operation", "auto-migrate").Wrap(err)
	}
	logger.Info("database migrations applied")
	return nil
}

func buildQueue(cfg *Config, deps *ServeDeps, metrics *observability.Metrics, logger *slog.Logger) (notify.Queue, error) {
	mailer, err := deps.MailerFactory(cfg.Mail, logger.With("component", "mailer"))
	if err != nil {
		return nil, oops.Code("MAILER_INIT_FAILED").Wrap(err)
	}
	renderer, err := notify.NewRenderer(notify.RendererConfig{
		AppName:         cfg.Mail.AppName,
		ResetTTL:        cfg.Auth.ResetTokenTTL,
		VerificationTTL: cfg.Auth.VerificationTokenTTL,
	})
	if err != nil {
		return nil, err
	}
	deliverer := notify.NewDeliverer(renderer, mailer, metrics.Notification)
	queue, err := deps.QueueFactory(cfg.Mail, deliverer, logger.With("component", "notify"))
	if err != nil {
		return nil, oops.Code("QUEUE_INIT_FAILED").With("queue", cfg.Mail.Queue).Wrap(err)
	}
	return queue, nil
}

// monitorServerErrors cancels ctx when a background server fails.
func monitorServerErrors(ctx context.Context, cancel context.CancelFunc, errCh <-chan error, name string) {
	select {
	case err, ok := <-errCh:
		if ok && err != nil {
			slog.Error("server failed", "server", name, "error", err)
			cancel()
		}
	case <-ctx.Done():
	}
}
