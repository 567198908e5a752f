package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/pario-ai/google-proxy/pkg/actor"
)

func newActorCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "actor",
		Short: "Run the proxy actor over stdio (JSON lines)",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime(*configPath)
			if err != nil {
				return err
			}
			defer rt.Close()

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			runCtx, cancel := context.WithCancel(ctx)
			done := make(chan struct{})
			go func() {
				_ = rt.actor.Run(runCtx)
				close(done)
			}()
			defer func() {
				cancel()
				<-done
			}()

			return actor.Serve(ctx, rt.actor, os.Stdin, os.Stdout)
		},
	}
}
