package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/spf13/cobra"

	"github.com/flyingMooncake/nft-Chess/internal/app"
	"github.com/flyingMooncake/nft-Chess/internal/chess"
	"github.com/flyingMooncake/nft-Chess/internal/config"
	"github.com/flyingMooncake/nft-Chess/internal/lifecycle"
)

func (c *cli) balanceCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "balance ADDRESS",
		Aliases: []string{"showChess"},
		Short:   "Show the token balance of an address",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			owner, err := parseAddress(args[0])
			if err != nil {
				return err
			}
			return c.withApp(cmd, func(ctx context.Context, a *app.App, _ *config.Config) error {
				svc := a.Chess()
				bal, err := svc.Balance(ctx, owner)
				if err != nil {
					return err
				}
				w := cmd.OutOrStdout()
				if dec, err := svc.Decimals(ctx); err == nil {
					fmt.Fprintf(w, "%s %s (%s tokens)\n", owner.Hex(), bal.String(), chess.FormatUnits(bal, dec))
					return nil
				}
				fmt.Fprintf(w, "%s %s\n", owner.Hex(), bal.String())
				return nil
			})
		},
	}
}

func (c *cli) allowanceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "allowance OWNER SPENDER",
		Short: "Show how much SPENDER may move on behalf of OWNER",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			owner, err := parseAddress(args[0])
			if err != nil {
				return err
			}
			spender, err := parseAddress(args[1])
			if err != nil {
				return err
			}
			return c.withApp(cmd, func(ctx context.Context, a *app.App, _ *config.Config) error {
				v, err := a.Chess().Allowance(ctx, owner, spender)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), v.String())
				return nil
			})
		},
	}
}

func (c *cli) approveCmd() *cobra.Command {
	var spenderFlag string
	cmd := &cobra.Command{
		Use:     "approve AMOUNT",
		Aliases: []string{"approveTokens"},
		Short:   "Approve a spender (the game factory by default) for AMOUNT",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd, func(ctx context.Context, a *app.App, cfg *config.Config) error {
				id, err := c.identity(cfg)
				if err != nil {
					return err
				}
				spender := cfg.FactoryAddress()
				if spenderFlag != "" {
					if spender, err = parseAddress(spenderFlag); err != nil {
						return err
					}
				}
				amount, err := c.amount(ctx, a.Chess(), args[0])
				if err != nil {
					return err
				}
				res, err := a.Chess().Approve(ctx, id, spender, amount)
				if err != nil {
					return err
				}
				printResult(cmd.OutOrStdout(), "approve", res)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&spenderFlag, "spender", "", "address allowed to spend (default: game factory)")
	return cmd
}

func (c *cli) transferCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "transfer TO AMOUNT",
		Aliases: []string{"transferTokens"},
		Short:   "Transfer tokens to an address",
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			to, err := parseAddress(args[0])
			if err != nil {
				return err
			}
			return c.withApp(cmd, func(ctx context.Context, a *app.App, cfg *config.Config) error {
				id, err := c.identity(cfg)
				if err != nil {
					return err
				}
				amount, err := c.amount(ctx, a.Chess(), args[1])
				if err != nil {
					return err
				}
				res, err := a.Chess().Transfer(ctx, id, to, amount)
				if err != nil {
					return err
				}
				printResult(cmd.OutOrStdout(), "transfer", res)
				return nil
			})
		},
	}
}

func (c *cli) createGameCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "create-game BET",
		Aliases: []string{"createGame"},
		Short:   "Approve the factory for BET and create a game",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.rejectDryRun("create-game"); err != nil {
				return err
			}
			return c.withApp(cmd, func(ctx context.Context, a *app.App, cfg *config.Config) error {
				id, err := c.identity(cfg)
				if err != nil {
					return err
				}
				bet, err := c.amount(ctx, a.Chess(), args[0])
				if err != nil {
					return err
				}
				res, err := a.Chess().CreateGame(ctx, id, bet)
				printGame(cmd.OutOrStdout(), res)
				return err
			})
		},
	}
}

func (c *cli) joinGameCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "join-game GAME",
		Aliases: []string{"joinGame"},
		Short:   "Approve GAME for its bet and join it",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.rejectDryRun("join-game"); err != nil {
				return err
			}
			game, err := parseAddress(args[0])
			if err != nil {
				return err
			}
			return c.withApp(cmd, func(ctx context.Context, a *app.App, cfg *config.Config) error {
				id, err := c.identity(cfg)
				if err != nil {
					return err
				}
				res, err := a.Chess().JoinGame(ctx, id, game)
				printGame(cmd.OutOrStdout(), res)
				return err
			})
		},
	}
}

func (c *cli) activeGamesCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "active-games",
		Aliases: []string{"activeGames"},
		Short:   "List games waiting for a second player",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withApp(cmd, func(ctx context.Context, a *app.App, _ *config.Config) error {
				games, err := a.Chess().ActiveGames(ctx)
				if err != nil {
					return err
				}
				w := cmd.OutOrStdout()
				if len(games) == 0 {
					fmt.Fprintln(w, "no active games")
					return nil
				}
				tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "GAME\tBET")
				for _, g := range games {
					fmt.Fprintf(tw, "%s\t%s\n", g.Address.Hex(), g.BetAmount.String())
				}
				return tw.Flush()
			})
		},
	}
}

func (c *cli) rejectDryRun(name string) error {
	if c.dryRun {
		return fmt.Errorf("%s: %w", name, lifecycle.ErrDryRun)
	}
	return nil
}

func (c *cli) withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app.App, cfg *config.Config) error) error {
	ctx := cmd.Context()
	a, cfg, err := c.open(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a, cfg)
}

func printResult(w io.Writer, label string, res *lifecycle.Result) {
	if res == nil {
		return
	}
	if res.DryRun && res.Signed != nil {
		fmt.Fprintf(w, "%s signed, not broadcast\n", label)
		fmt.Fprintf(w, "  hash:  %s\n", res.Signed.Hash().Hex())
		fmt.Fprintf(w, "  nonce: %d\n", res.Signed.Nonce())
		fmt.Fprintf(w, "  gas:   %d\n", res.Estimate.GasLimit)
		fmt.Fprintf(w, "  raw:   %s\n", hexutil.Encode(res.Signed.RawBytes()))
		return
	}
	fmt.Fprintf(w, "%s %s\n", label, res.Hash.Hex())
	if r := res.Receipt; r != nil {
		status := "success"
		if !r.Success {
			status = "reverted"
		}
		fmt.Fprintf(w, "  block: %d\n  status: %s\n  gas used: %d\n", r.BlockNumber, status, r.GasUsed)
	}
}

func printGame(w io.Writer, res *chess.GameResult) {
	if res == nil || res.Outcome == nil {
		return
	}
	printResult(w, "approval", res.Outcome.Approval)
	printResult(w, "action", res.Outcome.Action)
	if res.Game != (common.Address{}) {
		fmt.Fprintf(w, "game %s bet %s state %s\n", res.Game.Hex(), res.Bet.String(), res.Outcome.State)
	}
}

func parseAddress(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("invalid address %q", s)
	}
	return common.HexToAddress(s), nil
}
