// Command server runs the presence HTTP API, the reconciliation scheduler and
// the directory event listener.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"presence/internal/app"
	"presence/internal/platform/config"
	"presence/internal/platform/logger"
	"presence/internal/platform/tracing"
)

func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logs := logger.New(cfg.Log.Level, cfg.Log.Format)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Setup(ctx, cfg.Tracing)
	if err != nil {
		logs.Error("tracing setup failed", "error", err)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logs.Error("tracing shutdown failed", "error", err)
		}
	}()

	a, err := app.Build(ctx, cfg, logs, prometheus.DefaultRegisterer)
	if err != nil {
		logs.Error("startup failed", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	if err := a.Serve(ctx); err != nil {
		logs.Error("server stopped", "error", err)
		stop()
		a.Close()
		os.Exit(1)
	}
	logs.Info("server stopped")
}
