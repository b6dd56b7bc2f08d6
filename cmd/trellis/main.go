// Trellis: a file-backed planning store served over MCP.
//
// Projects, epics, features and tasks live as Markdown files with YAML
// front matter under <project>/planning. The server keeps parent links
// and prerequisites consistent and refuses writes that would break them.
//
// Usage:
//
//	trellis serve    # Start MCP server (stdio transport)
//	trellis check    # Audit the planning tree
//	trellis version  # Print the version
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/HendryAvila/trellis/internal/config"
	"github.com/spf13/cobra"
)

// errProblems makes check exit non-zero without printing usage.
var errProblems = errors.New("integrity problems found")

type globalFlags struct {
	projectRoot string
	configPath  string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		if !errors.Is(err, errProblems) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}
	rootCmd := &cobra.Command{
		Use:   "trellis",
		Short: "File-backed planning store for projects, epics, features and tasks",
		Long: `Trellis keeps a planning tree as Markdown files and serves it to AI coding
tools over MCP. Every write is validated against the whole tree: parents must
exist, prerequisites must resolve and the dependency graph must stay acyclic.

Add to your AI tool's MCP config:

  {
    "mcpServers": {
      "trellis": {
        "command": "trellis",
        "args": ["serve"]
      }
    }
  }`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&flags.projectRoot, "project-root", "", "Project directory (default: current directory)")
	rootCmd.PersistentFlags().StringVar(&flags.configPath, "config", "", "Settings file (default: .trellis.yaml, .trellis.yml or .trellis.toml in the project)")

	rootCmd.AddCommand(serveCmd(flags))
	rootCmd.AddCommand(checkCmd(flags))
	rootCmd.AddCommand(versionCmd())
	return rootCmd
}

// loadSettings reads settings for the selected project. The
// --project-root flag wins over the file and the environment.
func loadSettings(flags *globalFlags) (config.Settings, error) {
	s, err := config.Load(flags.projectRoot, flags.configPath)
	if err != nil {
		return config.Settings{}, err
	}
	if flags.projectRoot != "" {
		s.ProjectRoot = flags.projectRoot
	}
	return s, nil
}
