package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/corpus-refinery/internal/pipeline"
)

const shutdownTimeout = 10 * time.Second

// newServeCmd runs the HTTP API until SIGINT or SIGTERM.
func newServeCmd() *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Long: `Serves the document, ingest, stats and cache endpoints. The service
keeps one session for its lifetime, so dedup and metrics cover every document
submitted to it. With the temporal workflow backend the process also runs an
ingest worker.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, cfg, err := resolve(cmd.Context())
			if err != nil {
				return err
			}
			logger := appInstance.Logger()
			if cmd.Flags().Changed("port") {
				cfg.Server.Port = port
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			session, err := appInstance.NewSession(pipeline.Options{
				PreserveHeaders: cfg.Pipeline.PreserveHeaders,
				Force:           cfg.Pipeline.Force,
			})
			if err != nil {
				return err
			}
			apiServer, err := appInstance.NewServer(session)
			if err != nil {
				return err
			}

			if w := appInstance.NewTemporalWorker(); w != nil {
				if err := w.Start(); err != nil {
					return fmt.Errorf("start temporal worker: %w", err)
				}
				defer w.Stop()
				logger.Info("temporal worker started")
			}

			srv := &http.Server{
				Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
				Handler:           apiServer.Handler(),
				ReadHeaderTimeout: 5 * time.Second,
			}
			session.Start()
			defer session.Finish()

			errCh := make(chan error, 1)
			go func() {
				logger.Info("http server started", zap.Int("port", cfg.Server.Port))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			select {
			case <-ctx.Done():
			case err := <-errCh:
				if err != nil {
					return fmt.Errorf("http server: %w", err)
				}
			}

			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Error("server shutdown error", zap.Error(err))
				return fmt.Errorf("shutdown: %w", err)
			}
			logger.Info("server stopped")
			return nil
		},
	}
	cmd.Flags().IntVar(&port, "port", 0, "listen port (overrides server.port)")
	return cmd
}
