package main

import (
	"context"
	"fmt"
	"time"

	"github.com/HendryAvila/trellis/internal/server"
	"github.com/HendryAvila/trellis/internal/updater"
	"github.com/spf13/cobra"
)

func versionCmd() *cobra.Command {
	var check bool
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "trellis v%s\n", server.Version)
			if !check {
				return nil
			}

			ctx, cancel := context.WithTimeout(contextOrBackground(cmd.Context()), 15*time.Second)
			defer cancel()
			result, err := updater.CheckVersion(ctx, server.Version)
			if err != nil {
				return err
			}
			if result.UpdateAvailable {
				fmt.Fprintf(out, "Update available: v%s → v%s\n  Release: %s\n",
					result.CurrentVersion, result.LatestVersion, result.ReleaseURL)
			} else {
				fmt.Fprintf(out, "Up to date (latest release v%s)\n", result.LatestVersion)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&check, "check", false, "Check GitHub for a newer release")
	return cmd
}
