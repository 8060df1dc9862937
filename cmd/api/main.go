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

	_ "github.com/jackc/pgx/v5/stdlib"

	"employee-records/internal/app"
	"employee-records/internal/observability"
)

func main() {
	runtime, err := app.Build(app.Options{LoadDotEnv: true})
	if err != nil {
		observability.NewLogger().Error("bootstrap_failed", map[string]any{"error": err.Error()})
		os.Exit(1)
	}
	logger := runtime.Logger

	server := &http.Server{
		Addr:              fmt.Sprintf(":%s", runtime.Config.Port),
		Handler:           runtime.Handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("server_start", map[string]any{"addr": server.Addr})
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server_failed", map[string]any{"error": err.Error()})
			stop()
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server_shutdown_failed", map[string]any{"error": err.Error()})
	}
	if err := runtime.Close(); err != nil {
		logger.Error("close_failed", map[string]any{"error": err.Error()})
	}
	logger.Info("server_stopped", nil)
}
