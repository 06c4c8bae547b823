package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/feedpilot/feedpilot/internal/export"
	"github.com/feedpilot/feedpilot/internal/theme"
)

func newStatsCommand(cli *app) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Summarize the profile store across sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := cli.cfg.SQLitePath()
			if path == "" {
				return errors.New("profile store is disabled; set export.sqlite")
			}
			store, err := export.OpenStore(cmd.Context(), path)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			stats, err := store.Stats(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, theme.ActiveStyle.Render(path))
			fmt.Fprintf(out, "  profiles   %d\n", stats.Profiles)
			fmt.Fprintf(out, "  liked      %d\n", stats.Liked)
			fmt.Fprintf(out, "  commented  %d\n", stats.Commented)
			fmt.Fprintf(out, "  repeats    %d\n", stats.Repeats)
			return nil
		},
	}
}
