package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ent0n29/voicepipeline/internal/app"
	"github.com/ent0n29/voicepipeline/internal/config"
	"github.com/ent0n29/voicepipeline/internal/observability"
)

const janitorInterval = 5 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "voicepipeline: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config error: %w", err)
	}

	logger, err := observability.NewLogger(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return fmt.Errorf("logger init failed: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.SetupTracing(ctx, observability.TracingConfig{
		ServiceName:  "voicepipeline",
		OTLPEndpoint: cfg.OTLPEndpoint,
		OTLPInsecure: cfg.OTLPInsecure,
		Stdout:       cfg.TraceStdout,
	}, logger)
	if err != nil {
		return fmt.Errorf("tracing init failed: %w", err)
	}

	built, err := app.Build(ctx, cfg, logger)
	if err != nil {
		_ = shutdownTracing(context.Background())
		return err
	}

	httpServer := &http.Server{
		Addr:              cfg.BindAddr,
		Handler:           otelhttp.NewHandler(built.API.Router(), "voicepipeline"),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	built.Sessions.StartJanitor(gctx, janitorInterval)

	g.Go(func() error {
		logger.Info("server listening",
			zap.String("addr", cfg.BindAddr),
			zap.Stringer("providers", built.Providers),
			zap.String("config_file", cfg.ConfigFile),
		)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()

		var errs []error
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("graceful shutdown failed", zap.Error(err))
			_ = httpServer.Close()
		}
		// Websocket connections are hijacked and not tracked by Shutdown;
		// ending the sessions closes them.
		if err := built.Cleanup(shutdownCtx); err != nil {
			errs = append(errs, err)
		}
		if err := shutdownTracing(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("tracing shutdown: %w", err))
		}
		logger.Info("shutdown complete")
		return errors.Join(errs...)
	})

	return g.Wait()
}
