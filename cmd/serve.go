// File: cmd/serve.go
package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/portalq/internal/api"
	"github.com/xkilldash9x/portalq/internal/observability"
)

func newServeCmd() *cobra.Command {
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP query API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			cfg, components, err := buildComponents(cmd)
			if err != nil {
				return err
			}
			defer components.Shutdown(context.WithoutCancel(ctx))

			handler := api.NewHandler(components.Registry, components.APIJournal(), cfg.Server(), logger)
			srv := api.NewHTTPServer(handler)

			errCh := make(chan error, 1)
			go func() {
				logger.Info("HTTP API listening.", zap.String("addr", srv.Addr))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			select {
			case err, ok := <-errCh:
				if ok {
					return fmt.Errorf("http server failed: %w", err)
				}
				return nil
			case <-ctx.Done():
				logger.Info("Shutdown signal received, draining HTTP API.")
			}

			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server().ShutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("http server shutdown: %w", err)
			}
			logger.Info("HTTP API stopped.")
			return nil
		},
	}

	serveCmd.Flags().String("addr", ":2325", "listen address (overrides server.addr)")
	bindFlag(serveCmd, "addr", "server.addr")
	return serveCmd
}
