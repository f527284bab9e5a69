package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/flyingMooncake/nft-Chess/internal/app"
	"github.com/flyingMooncake/nft-Chess/internal/config"
)

func (c *cli) serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve read-only balances, games, the journal and metrics over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withApp(cmd, func(ctx context.Context, a *app.App, _ *config.Config) error {
				return a.Serve(ctx)
			})
		},
	}
	cmd.Flags().StringVar(&c.listen, "listen", "", "listen address (overrides api.listen)")
	return cmd
}
