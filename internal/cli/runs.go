package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"TenderSync/internal/app"
)

// NewRunsCommand prints the most recent run log entries.
func NewRunsCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		limit  int
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Show recent runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			state, err := app.OpenState(ctx, rootOpts.cfg, rootOpts.logger)
			if err != nil {
				return WrapExitError(ExitCommandError, "open state", err)
			}
			defer state.Close(context.WithoutCancel(ctx), false)

			runs, err := state.Store.RecentRuns(ctx, limit)
			if err != nil {
				return err
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(runs)
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "STARTED\tSTATUS\tSEARCH\tMATCHED\tCREATED\tFAILED\tDEFERRED\tID")
			for _, r := range runs {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%d\t%d\t%s\n",
					r.StartedAt.Format("2006-01-02 15:04"), r.Status, r.SearchName,
					r.Counts.Matched, r.Counts.Created, r.Counts.Failed, r.Counts.Deferred, r.ID)
			}
			return tw.Flush()
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of runs to show")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON instead of a table")
	return cmd
}
