package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/opal-lang/datacube/runtime/snapshot"
)

const shutdownTimeout = 10 * time.Second

func (a *app) serveCmd() *cobra.Command {
	var (
		addr        string
		dataPath    string
		snapshotDir string
		restore     bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve plan execution and results over HTTP",
		Long: `Serve one executor over HTTP:

  POST /plans            execute a plan (YAML, or JSON with a JSON content type)
  GET  /entries          list cached results
  GET  /entries/{name}   one result as JSON, or Arrow IPC with ?format=arrow
  GET  /healthz          liveness
  GET  /metrics          Prometheus metrics`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			src, closeSrc, err := a.openSource(ctx, dataPath)
			if err != nil {
				return err
			}
			defer closeSrc()

			tr := a.tracing(ctx)
			reg, metrics := newMetrics()
			x := a.executor(src, false, tr.Tracer(), metrics)

			store, err := a.store(ctx, snapshotDir)
			if err != nil {
				return err
			}
			if store != nil && restore {
				n, err := snapshot.RestoreAll(ctx, store, x)
				if err != nil {
					return err
				}
				a.logger.Info("restored snapshots", "count", n)
			}

			if addr == "" {
				addr = a.cfg.Metrics.Addr
			}
			srv := &http.Server{
				Addr:         addr,
				Handler:      newServer(x, store, reg, a.logger),
				ReadTimeout:  30 * time.Second,
				WriteTimeout: 5 * time.Minute,
				IdleTimeout:  60 * time.Second,
			}

			errc := make(chan error, 1)
			go func() {
				a.logger.Info("datacube serving", "addr", addr, "tracing", tr.Enabled())
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errc <- err
				}
				close(errc)
			}()

			select {
			case err := <-errc:
				return err
			case <-ctx.Done():
			}

			a.logger.Info("shutting down server...")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := tr.Shutdown(shutdownCtx); err != nil {
				a.logger.Error("tracer shutdown error", "error", err)
			}
			if err := srv.Shutdown(shutdownCtx); err != nil {
				return err
			}
			a.logger.Info("server stopped")
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default: metrics.addr from config)")
	cmd.Flags().StringVar(&dataPath, "data", "", "JSON file of storage units")
	cmd.Flags().StringVar(&snapshotDir, "snapshot-dir", "", "Save results to, and serve them from, this directory")
	cmd.Flags().BoolVar(&restore, "restore", false, "Load saved results into the cache at startup")
	return cmd
}
