package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

var bootstrapCmd = &cobra.Command{
	Use:   "bootstrap",
	Short: "Run the bootstrap sequence once and exit",
	Long: `Run the bootstrap sequence — resolve the store descriptor, wait for
readiness, ensure the schema — then print a JSON result to stdout and exit.

The exit code identifies the failure category (config, unreachable,
auth-failed, timeout, schema), so an init-container supervisor can apply a
different retry policy per class.`,
	RunE: runBootstrap,
}

func runBootstrap(cmd *cobra.Command, args []string) error {
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

	slog.Info("starting bootstrap")

	err := app.coordinator.Run(ctx)
	printResult(app.coordinator.Result())

	if err != nil {
		return fmt.Errorf("bootstrap failed: %w", err)
	}

	slog.Info("bootstrap completed successfully")
	return nil
}

func printResult(result any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		// Fallback to plain text if JSON encoding somehow fails.
		fmt.Fprintln(os.Stdout, `{"status":"error"}`)
	}
}
