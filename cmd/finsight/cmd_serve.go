package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"finsight/internal/server"
)

// serveCmd runs the SSE chat server
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the streaming chat server",
	Long: `Starts the HTTP server exposing POST /api/chat/stream.

Each request runs one agent turn and streams typed frames over
Server-Sent Events: metadata, status transitions, tool activity, answer
content, metrics, and a terminal end frame.`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := buildApp()
	if err != nil {
		return err
	}
	defer a.Close()

	srv := server.NewServer(a.orchestrator, logger).HTTPServer(a.cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Server listening", zap.String("addr", srv.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		logger.Info("Received shutdown signal")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Shutdown did not complete cleanly", zap.Error(err))
			return err
		}
	}

	logger.Info("Server stopped")
	return nil
}
