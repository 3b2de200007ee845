package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the application server",
	Long: `Start the HTTP server and run the bootstrap sequence.

The server binds immediately so /health and /ready can report progress, but
application routes return 503 until the coordinator reaches Ready. If
bootstrap fails, the process exits with the code for the failure category.
Shuts down cleanly on SIGTERM or SIGINT.`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if app.otelProvider != nil {
		defer func() {
			shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := app.otelProvider.Shutdown(shutCtx); err != nil {
				slog.Warn("OTEL shutdown error", "err", err)
			}
		}()
	}
	defer app.manager.Close()

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      app.router.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Bind before bootstrap completes: the readiness surface must be able to
	// answer "starting" while the store is still coming up.
	serverErr := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	bootErr := make(chan error, 1)
	go func() {
		bootErr <- app.coordinator.Run(ctx)
	}()

	var runErr error
	select {
	case err := <-serverErr:
		return fmt.Errorf("server error: %w", err)
	case err := <-bootErr:
		if err != nil {
			// Failed is terminal for this instance; shut down and hand the
			// categorized exit code to the supervisor.
			slog.Error("bootstrap failed, shutting down", "err", err)
			runErr = err
			break
		}
		// Ready — keep serving until a shutdown signal or server error.
		select {
		case err := <-serverErr:
			return fmt.Errorf("server error: %w", err)
		case <-ctx.Done():
			slog.Info("shutdown signal received")
		}
	case <-ctx.Done():
		slog.Info("shutdown signal received during bootstrap")
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutCtx); err != nil {
		if runErr != nil {
			return runErr
		}
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}

	slog.Info("server stopped cleanly")
	return runErr
}
