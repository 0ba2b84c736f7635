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

	"github.com/topasiaedu/transcribe-upload/internal/app"
	"github.com/topasiaedu/transcribe-upload/internal/config"
	"github.com/topasiaedu/transcribe-upload/internal/logger"
	"github.com/topasiaedu/transcribe-upload/internal/tracing"
)

func main() {
	ctx := context.Background()

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(logger.Options{
		ServiceName: cfg.Service.Name,
		Level:       logger.ParseLevel(cfg.Service.LogLevel),
		Format:      cfg.Service.LogFormat,
	})
	log.Info(ctx, fmt.Sprintf("starting %s on port %s", cfg.Service.Name, cfg.Service.Port))

	// Initialize OpenTelemetry tracing
	shutdownTracer, err := tracing.InitTracer(ctx, cfg.Service.Name, cfg.Tracing.Endpoint, cfg.Tracing.SampleRatio)
	if err != nil {
		log.Fatal(ctx, "failed to initialize tracer", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracer(ctx); err != nil {
			log.Warn(ctx, "error shutting down tracer", err)
		}
	}()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatal(ctx, "failed to initialize service", err)
	}
	defer a.Close()

	runCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Reconcile.Interval > 0 {
		go a.Reconciler.Run(runCtx, cfg.Reconcile.Interval)
	}

	// Uploads of several large files can take minutes, so only headers
	// are bounded on read.
	srv := &http.Server{
		Addr:              ":" + cfg.Service.Port,
		Handler:           a.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Start server in a goroutine
	errCh := make(chan error, 1)
	go func() {
		log.Info(ctx, "server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-runCtx.Done():
	case err := <-errCh:
		log.Error(ctx, "server failed", err)
	}

	log.Info(ctx, "shutting down server")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn(ctx, "server forced to shutdown", err)
	}

	log.Info(ctx, "server exited")
}
