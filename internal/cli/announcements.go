package cli

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"TenderSync/internal/app"
)

// NewAnnouncementsCommand lists stored announcements of one publication day with
// their processing state.
func NewAnnouncementsCommand(rootOpts *RootOptions) *cobra.Command {
	var dayFlag string

	cmd := &cobra.Command{
		Use:   "announcements",
		Short: "List stored announcements of a publication day",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			loc := rootOpts.cfg.Scheduler.Location()
			day := time.Now().In(loc).AddDate(0, 0, -1)
			if dayFlag != "" {
				parsed, err := time.ParseInLocation("2006-01-02", dayFlag, loc)
				if err != nil {
					return WrapExitError(ExitCommandError, "parse --day", err)
				}
				day = parsed
			}

			ctx := cmd.Context()
			state, err := app.OpenState(ctx, rootOpts.cfg, rootOpts.logger)
			if err != nil {
				return WrapExitError(ExitCommandError, "open state", err)
			}
			defer state.Close(context.WithoutCancel(ctx), false)

			stored, err := state.Store.AnnouncementsPublished(ctx, day)
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NUMBER\tSTATUS\tDEAL\tENTITY\tTITLE")
			for _, a := range stored {
				rec, err := state.Store.GetProcessing(ctx, a.Number)
				if err != nil {
					return err
				}
				status := string(rec.Status)
				if status == "" {
					status = "-"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", a.Number, status, rec.DealID, a.EntityName, shorten(a.Title, 60))
			}
			return tw.Flush()
		},
	}

	cmd.Flags().StringVar(&dayFlag, "day", "", "publication day (YYYY-MM-DD), yesterday by default")
	return cmd
}

func shorten(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit-1]) + "…"
}
