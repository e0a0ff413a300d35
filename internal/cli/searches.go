package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"TenderSync/internal/app"
	"TenderSync/internal/domain"
)

// NewSearchesCommand manages saved searches.
func NewSearchesCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "searches",
		Short: "List or save filter specifications",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List saved search names",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			state, err := app.OpenState(ctx, rootOpts.cfg, rootOpts.logger)
			if err != nil {
				return WrapExitError(ExitCommandError, "open state", err)
			}
			defer state.Close(context.WithoutCancel(ctx), false)

			names, err := state.Store.SearchNames(ctx)
			if err != nil {
				return err
			}
			for _, name := range names {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "save <file.yaml>",
		Short: "Create or replace a saved search from a YAML file",
		Long: `Example file:

  name: Default Automation
  filters:
    keywords: [limpeza, higiene]
    cpvCodes: ["90910000-9"]
    minPrice: 10000`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			spec, err := readSearchFile(args[0])
			if err != nil {
				return WrapExitError(ExitCommandError, "read search", err)
			}

			ctx := cmd.Context()
			state, err := app.OpenState(ctx, rootOpts.cfg, rootOpts.logger)
			if err != nil {
				return WrapExitError(ExitCommandError, "open state", err)
			}
			if err := state.Store.SaveSearch(ctx, spec); err != nil {
				_ = state.Close(context.WithoutCancel(ctx), false)
				return err
			}
			if err := state.Close(context.WithoutCancel(ctx), true); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "saved %q\n", spec.Name)
			return nil
		},
	})

	return cmd
}

type searchFile struct {
	Name    string               `yaml:"name"`
	Filters domain.SearchFilters `yaml:"filters"`
}

func readSearchFile(path string) (domain.SearchSpec, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return domain.SearchSpec{}, err
	}
	var f searchFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return domain.SearchSpec{}, fmt.Errorf("parse %s: %w", path, err)
	}
	if f.Name == "" {
		return domain.SearchSpec{}, fmt.Errorf("%s: name is required", path)
	}
	return domain.SearchSpec{Name: f.Name, Filters: f.Filters.Normalize()}, nil
}
