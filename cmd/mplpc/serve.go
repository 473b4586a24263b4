package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Mindburn-Labs/mplp-conform/pkg/api"
	"github.com/Mindburn-Labs/mplp-conform/pkg/store"
)

func newServeCommand(root *rootOptions) *cobra.Command {
	var port string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve evaluations over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if port != "" {
				root.cfg.Port = port
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, root, cmd)
		},
	}
	cmd.Flags().StringVar(&port, "port", "", "listen port (default $PORT)")
	return cmd
}

func runServe(ctx context.Context, root *rootOptions, cmd *cobra.Command) error {
	cfg := root.cfg
	slog.SetDefault(slog.New(slog.NewJSONHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: cfg.SlogLevel()})))
	logger := slog.Default().With("component", "server")

	engine, shutdown, err := newEngine(ctx, cfg)
	if err != nil {
		return err
	}
	defer shutdown()

	verdicts, err := store.Open(ctx, cfg)
	if err != nil {
		return err
	}
	defer verdicts.Close()

	limiter := api.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	go limiter.Cleanup(ctx, time.Minute, 3*time.Minute)

	server := &http.Server{
		Addr:              net.JoinHostPort("", cfg.Port),
		Handler:           api.NewServer(engine, verdicts, limiter).Handler(),
		ReadHeaderTimeout: 30 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		logger.InfoContext(ctx, "listening", "addr", server.Addr, "verdict_store", cfg.VerdictStore)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
