package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/flyingMooncake/nft-Chess/internal/journal"
)

func (c *cli) journalCmd() *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "journal",
		Short: "List two-phase operations that stopped after the approval",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := c.loadConfig()
			if err != nil {
				return err
			}
			entries, err := journal.New(cfg.Journal.Path).List(all)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if len(entries) == 0 {
				fmt.Fprintln(w, "journal is empty")
				return nil
			}
			tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tTIME\tOPERATION\tSPENDER\tAMOUNT\tAPPROVAL\tSTAGE\tRESOLVED")
			for _, e := range entries {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%t\n",
					e.ID, e.Time.Format(time.RFC3339), e.Operation, e.Spender, e.Amount, e.ApprovalHash, e.Stage, e.Resolved)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "include resolved entries")
	cmd.AddCommand(&cobra.Command{
		Use:   "resolve ID",
		Short: "Mark a journal entry as handled",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := c.loadConfig()
			if err != nil {
				return err
			}
			if err := journal.New(cfg.Journal.Path).Resolve(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "resolved %s\n", args[0])
			return nil
		},
	})
	return cmd
}
