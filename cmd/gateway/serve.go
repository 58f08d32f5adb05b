package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aperturecloud/llmgateway/internal/config"
	"github.com/aperturecloud/llmgateway/internal/platform"
	"github.com/aperturecloud/llmgateway/pkg/httpapi"
)

// shutdownGrace bounds how long in-flight requests get to finish once
// a shutdown signal arrives.
const shutdownGrace = 10 * time.Second

func runServer() {
	ctx := context.Background()
	cfg := config.Load()

	p, err := platform.Bootstrap(ctx, cfg)
	if err != nil {
		slog.Error("gateway: bootstrap failed", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := p.Close(); err != nil {
			slog.Error("gateway: shutdown", "error", err)
		}
	}()

	if err := p.Supervisor.Start(cfg.SupervisorSchedule); err != nil {
		slog.Error("gateway: supervisor start failed", "error", err)
		os.Exit(1)
	}

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: httpapi.New(p, cfg),
	}

	go func() {
		slog.Info("gateway: listening", "addr", srv.Addr, "lite_mode", cfg.LiteMode)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("gateway: server error", "error", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	slog.Info("gateway: shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("gateway: forced shutdown", "error", err)
	}
}
