package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	verbose    bool
	jsonOutput bool
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "qembed",
		Short: "OpenQEmbed - Fragment embedding orchestration engine",
		Long: `OpenQEmbed orchestrates fragment-based electronic-structure
calculations: it decomposes a molecular system into fragments, solves each
fragment on a classical, variational-quantum, WASM, or remote backend, and
iterates the embedding environments to self-consistency.

Features:
  - Typed run configs via CUE
  - Procedural geometry generation via Starlark
  - Classical, VQE, WASM-plugin, and remote solver backends
  - Concurrent fragment dispatch with retry classification
  - OPA admission policies and SQLite run persistence`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
	}

	// Persistent flags available to all commands
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	// Add subcommands
	rootCmd.AddCommand(newRunCommand())
	rootCmd.AddCommand(newDecomposeCommand())
	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newResourcesCommand())
	rootCmd.AddCommand(newRunsCommand())
	rootCmd.AddCommand(newPluginsCommand())

	return rootCmd
}
