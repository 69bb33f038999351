package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"

	"github.com/platinummonkey/catalog/pkg/config"
	"github.com/platinummonkey/catalog/pkg/observability"
	"github.com/platinummonkey/catalog/pkg/storage/postgres"
	"github.com/spf13/cobra"
)

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the catalog HTTP service",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig()
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg, cmd.OutOrStdout(), nil)
		},
	}
}

// runServe serves until SIGINT/SIGTERM or ctx is done. When ready is non-nil
// it receives the bound address once the listener is open.
func runServe(ctx context.Context, cfg *config.Config, out io.Writer, ready chan<- net.Addr) error {
	if ctx == nil {
		ctx = context.Background()
	}
	logger := newLogger(cfg, out)

	app, err := newApplication(ctx, cfg, logger)
	if err != nil {
		logger.WithError(err).Error("Failed to initialize application")
		return err
	}

	listener, err := net.Listen("tcp", cfg.Addr())
	if err != nil {
		app.close(context.Background())
		return fmt.Errorf("failed to listen on %s: %w", cfg.Addr(), err)
	}

	server := &http.Server{
		Handler:      app.server,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := observability.NewShutdownManager(logger, server, cfg.Server.ShutdownTimeout)
	shutdown.RegisterShutdownFunc(app.close)

	database := "memory"
	if !cfg.UsesMemoryStore() {
		database = postgres.RedactURL(cfg.Database.URL)
	}
	logger.WithFields(map[string]interface{}{
		"addr":     listener.Addr().String(),
		"port":     cfg.Server.Port,
		"database": database,
		"version":  Version,
	}).Info("Application initialized")

	serveErr := make(chan error, 1)
	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()
	if ready != nil {
		ready <- listener.Addr()
	}

	waitCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		if err, ok := <-serveErr; ok && err != nil {
			logger.WithError(err).Error("HTTP server failed")
			cancel()
		}
	}()

	return shutdown.WaitForShutdown(waitCtx)
}
