package main

import (
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"

	"github.com/HendryAvila/trellis/internal/logging"
	"github.com/HendryAvila/trellis/internal/paths"
	"github.com/HendryAvila/trellis/internal/server"
	"github.com/HendryAvila/trellis/internal/store"
	"github.com/spf13/cobra"
)

func checkCmd(flags *globalFlags) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Audit the planning tree and exit non-zero on problems",
		Long: `Check reads every object under the planning directory and reports unreadable
files, ids present in both the standalone and hierarchical layouts, schema
violations, missing parents or prerequisites, and dependency cycles.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := loadSettings(flags)
			if err != nil {
				return err
			}
			logger := logging.New(cmd.ErrOrStderr(), settings.Log.Level, settings.Log.Format)

			// check never creates the planning directory.
			_, root, err := paths.ResolveProjectRoots(settings.ProjectRoot, false)
			if err != nil {
				return err
			}
			deps := server.NewDeps(settings, logger)
			rep, err := deps.Store.Check(contextOrBackground(cmd.Context()), root)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				if err := enc.Encode(rep); err != nil {
					return err
				}
			} else {
				printReport(out, rep)
			}
			if !rep.OK() {
				return errProblems
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Machine-readable JSON output")
	return cmd
}

func printReport(w io.Writer, rep *store.Report) {
	fmt.Fprintf(w, "%s: %d object(s)\n", rep.Root, rep.Objects)
	if rep.OK() {
		fmt.Fprintln(w, "ok")
		return
	}
	for _, is := range rep.Issues {
		loc := is.ObjectID
		if is.Path != "" {
			if rel, err := filepath.Rel(rep.Root, is.Path); err == nil {
				loc = rel
			}
		}
		if loc == "" {
			loc = "(graph)"
		}
		fmt.Fprintf(w, "%s: [%s] %s\n", loc, is.Code, is.Message)
	}
	fmt.Fprintf(w, "%d problem(s)\n", len(rep.Issues))
}
