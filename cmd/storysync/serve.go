package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/kimhsiao/storysync/internal/logging"
	"github.com/kimhsiao/storysync/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the local API and sync in the background",
	Long: `Serve the local REST and WebSocket API, probe connectivity, and drain
the offline queue whenever the network returns, a story is queued, or the
drain interval elapses.

Examples:
  storysync serve
  storysync serve --addr 127.0.0.1:9000`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("addr", "", "listen address (overrides server.addr)")
}

func runServe(cmd *cobra.Command, args []string) error {
	if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
		cfg.Server.Addr = addr
	}

	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a.prober.Check(ctx)
	if err := a.repo.Start(ctx); err != nil {
		return err
	}

	srv := server.New(a.repo, a.scheduler, server.Config{
		Addr:           cfg.Server.Addr,
		Metrics:        cfg.Server.Metrics,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Version:        version,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Run(gctx) })
	g.Go(func() error { return a.prober.Run(gctx) })
	g.Go(func() error { return a.scheduler.Run(gctx, a.repo.Queue(), a.repo) })

	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logging.Info("storysync stopped", nil)
	return nil
}
