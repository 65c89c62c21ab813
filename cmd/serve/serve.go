// Package serve implements the serve command that runs the middleware HTTP
// server.
package serve

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/sprintlab/middleware/internal/config"
	"github.com/sprintlab/middleware/internal/gitlab"
	"github.com/sprintlab/middleware/internal/server"
	"github.com/sprintlab/middleware/internal/store"
)

// NewServeCmd creates and returns the serve command
func NewServeCmd(globalConfigFile *string) *cobra.Command {
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the SprintLab middleware HTTP server",
		Long: `Start the HTTP server that backs the SprintLab dashboard tabs.
Channel configurations are read from Postgres; board and timeline data is
aggregated live from the GitLab API on every request.`,
		RunE: func(cobraCmd *cobra.Command, _ []string) error {
			return runServe(cobraCmd.Context(), *globalConfigFile)
		},
	}
	return serveCmd
}

func runServe(ctx context.Context, configFile string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	st, err := store.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open config store: %w", err)
	}
	defer st.Close()

	srv := server.New(st, st, clientFactory(cfg))
	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.ListenAndServe()
	}()
	slog.Info("server listening", "addr", cfg.ListenAddr)

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
		slog.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	}
}

// clientFactory builds per-credential tracker clients according to the
// configured auth scheme.
func clientFactory(cfg *config.Config) server.ClientFactory {
	if cfg.GitLab.Auth == "oauth" {
		return func(token string) *gitlab.Client {
			return gitlab.NewOAuthClient(context.Background(), cfg.GitLab.BaseURL, token)
		}
	}
	return func(token string) *gitlab.Client {
		return gitlab.NewClient(cfg.GitLab.BaseURL, token)
	}
}
