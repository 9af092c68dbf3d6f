package main

import (
	"context"
	"errors"
	"net/http"

	"github.com/spf13/cobra"

	httpadapter "github.com/couchcryptid/ngen-datastream-explorer/internal/adapter/http"
)

func newServeCmd(rt *session) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the explorer API, health checks and metrics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), rt)
		},
	}
}

func serve(ctx context.Context, rt *session) error {
	a, logger := rt.app, rt.logger

	srv := httpadapter.NewServer(rt.cfg.HTTPAddr, httpadapter.API{
		Selector: a.resolver,
		Datasets: a.loader,
		Frames:   a.frames,
		Features: a.engine,
		Cache:    a.store,
	}, logger)

	// Start HTTP server.
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	// Load the reference index and the first selection. /readyz reports
	// not ready until the index is in.
	go func() {
		if err := a.loader.Init(ctx, a.indexURL()); err != nil {
			logger.Error("reference index load failed", "error", err)
		}
	}()
	go func() {
		st, err := a.resolver.Bootstrap(ctx)
		if err != nil {
			logger.Warn("selection bootstrap incomplete", "error", err)
			return
		}
		logger.Info("selection bootstrapped", "active", st.Active, "resolved", st.Path.Resolved())
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), rt.cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	logger.Info("shutdown complete")
	return nil
}
