package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/upb/tenant-governance/app"
	"github.com/upb/tenant-governance/config"
	"github.com/upb/tenant-governance/internal/observability"
	"github.com/upb/tenant-governance/routes"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "governance-api: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.New(ctx)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := initLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	deps, err := app.NewDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}
	if err := deps.Start(); err != nil {
		_ = deps.Close(context.Background())
		return err
	}

	srv := newServer(cfg, routes.SetupRoutes(deps))

	errCh := make(chan error, 1)
	go func() {
		logger.Info("governance api listening",
			zap.String("addr", srv.Addr),
			zap.String("environment", cfg.Environment),
			zap.Bool("tls", cfg.Server.TLS.Enabled))
		if cfg.Server.TLS.Enabled {
			errCh <- srv.ListenAndServeTLS(cfg.Server.TLS.CertFile, cfg.Server.TLS.KeyFile)
			return
		}
		errCh <- srv.ListenAndServe()
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case serveErr = <-errCh:
		if errors.Is(serveErr, http.ErrServerClosed) {
			serveErr = nil
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", zap.Error(err))
	}
	if err := deps.Close(shutdownCtx); err != nil {
		logger.Error("dependency shutdown failed", zap.Error(err))
	}
	logger.Info("governance api stopped")
	return serveErr
}

func initLogger(cfg *config.Config) (*zap.Logger, error) {
	logger, err := observability.NewLogger(cfg.Observability.LogLevel, cfg.Observability.LogFormat)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return logger.With(
		zap.String("service", cfg.Observability.ServiceName),
		zap.String("environment", cfg.Environment),
	), nil
}

func newServer(cfg *config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.Server.Address(),
		Handler:           handler,
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
	}
}
