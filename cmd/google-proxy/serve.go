package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/pario-ai/google-proxy/pkg/proxy"
)

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP proxy server",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime(*configPath)
			if err != nil {
				return err
			}
			defer rt.Close()

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			srv := proxy.New(rt.cfg.Listen, rt.actor, rt.logger)
			rt.logger.Info("starting google-proxy", zap.String("config", *configPath))

			g, ctx := errgroup.WithContext(ctx)
			g.Go(func() error { return rt.actor.Run(ctx) })
			g.Go(func() error { return srv.ListenAndServe(ctx) })
			if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("serve: %w", err)
			}
			return nil
		},
	}
}
