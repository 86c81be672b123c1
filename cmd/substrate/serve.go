package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/substratehq/substrate/api"
	"github.com/substratehq/substrate/internal/configsys"
	"github.com/substratehq/substrate/internal/logging"
)

func newServeCmd() *cobra.Command {
	var addr string
	var eventLogDir string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP sidecar",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			logging.Infof("starting sidecar on %s", addr)

			server := api.NewServerWithEventLogDir(addr, nil, eventLogDir)

			// Hot-reload the layered config for the lifetime of the
			// sidecar: edits to the global or project file publish
			// config:reloaded on the server's bus.
			watcher, err := configsys.NewWatcher(configLoader(), server.Bus())
			if err != nil {
				logging.Warnf("config watch unavailable: %v", err)
			} else {
				watcher.Start()
				defer watcher.Stop()
			}

			done := make(chan struct{})
			go func() {
				sigCh := make(chan os.Signal, 1)
				signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
				<-sigCh

				logging.Infof("shutting down")
				ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				defer cancel()
				if err := server.Shutdown(ctx); err != nil {
					logging.Errorf("shutdown error: %v", err)
				}
				close(done)
			}()

			if err := server.Start(); err != nil && err != http.ErrServerClosed {
				return err
			}
			<-done
			logging.Infof("server stopped")
			return nil
		},
	}

	cmd.Flags().StringVar(&addr, "addr", ":8080", "HTTP server address")
	cmd.Flags().StringVar(&eventLogDir, "event-log-dir", "", "directory for per-run NDJSON records (empty disables)")
	return cmd
}
