package cli

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"TenderSync/internal/app"
	"TenderSync/internal/domain"
	"TenderSync/internal/usecase"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Days   int
	Search string
}

// NewRunCommand creates the single-shot run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the sync pipeline once",
		Long: `Fetch the announcements published in the lookback window, match them
against the saved search and create missing deals.

Example:
  tendersync run
  tendersync run --days 3 --search "Saúde"`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOnce(cmd, opts)
		},
	}

	cmd.Flags().IntVar(&opts.Days, "days", 0, "lookback window in days (default from config)")
	cmd.Flags().StringVar(&opts.Search, "search", "", "saved search name (default from config)")

	return cmd
}

func runOnce(cmd *cobra.Command, opts *RunOptions) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, opts.cfg, opts.logger)
	if err != nil {
		return WrapExitError(ExitCommandError, "initialize", err)
	}
	defer func() {
		if err := application.Close(context.WithoutCancel(ctx)); err != nil {
			opts.logger.Warn("close failed", "error", err)
		}
	}()

	params := application.DefaultParams()
	if opts.Days > 0 {
		params.LookbackDays = opts.Days
	}
	if opts.Search != "" {
		params.SearchName = opts.Search
	}

	entry, err := application.Run(ctx, params)
	if entry.ID != "" {
		printEntry(cmd.OutOrStdout(), entry)
	}
	if err != nil || entry.Status == domain.RunError {
		return WrapExitError(ExitFailure, "run failed", err)
	}
	return nil
}

func printEntry(w io.Writer, e domain.RunLogEntry) {
	fmt.Fprintln(w, usecase.Summary(e))
}

// NewServeCommand creates the long-running scheduled mode.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the pipeline on the configured cron schedule",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			application, err := app.New(ctx, rootOpts.cfg, rootOpts.logger)
			if err != nil {
				return WrapExitError(ExitCommandError, "initialize", err)
			}
			defer func() { _ = application.Close(context.WithoutCancel(ctx)) }()

			return application.Serve(ctx)
		},
	}
}
