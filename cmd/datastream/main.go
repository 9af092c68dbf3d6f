// Command datastream browses NextGen datastream forecast outputs, caches the
// selected datasets locally and serves them to the map UI.
//
// Usage:
//
//	datastream serve
//	datastream browse --select forecastType=medium_range --select ensemble=1
//	datastream animate --variable flow --speed 4
//	datastream cache ls
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/couchcryptid/ngen-datastream-explorer/internal/config"
	"github.com/couchcryptid/ngen-datastream-explorer/internal/observability"
)

// session is the process state shared by every subcommand.
type session struct {
	cfg     *config.Config
	logger  *slog.Logger
	app     *app
	tracing func(context.Context) error
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	root, rt := newRootCmd()
	err := root.ExecuteContext(ctx)
	// Components are released even when the command failed.
	if cerr := rt.stop(ctx); cerr != nil && err == nil {
		err = cerr
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		stop()
		os.Exit(1)
	}
}

func newRootCmd() (*cobra.Command, *session) {
	rt := &session{}

	root := &cobra.Command{
		Use:           "datastream",
		Short:         "Explore NextGen datastream forecast outputs",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return rt.start(cmd.Context())
		},
	}

	root.AddCommand(
		newServeCmd(rt),
		newBrowseCmd(rt),
		newAnimateCmd(rt),
		newCacheCmd(rt),
	)
	return root, rt
}

func (rt *session) start(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	rt.cfg = cfg
	rt.logger = observability.NewLogger(cfg)

	rt.tracing, err = observability.SetupTracing(ctx, cfg.OTLPEndpoint)
	if err != nil {
		return err
	}

	rt.app, err = newApp(ctx, cfg, rt.logger, observability.NewMetrics())
	return err
}

func (rt *session) stop(ctx context.Context) error {
	var appErr error
	if rt.app != nil {
		appErr = rt.app.close()
	}
	if rt.tracing != nil {
		if err := rt.tracing(context.WithoutCancel(ctx)); err != nil && rt.logger != nil {
			rt.logger.Error("tracing shutdown error", "error", err)
		}
	}
	return appErr
}
