package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/openqembed/openqembed/pkg/config"
)

func newValidateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <config.cue>...",
		Short: "Validate run configuration files",
		Long: `Validate CUE run configurations without running anything.

This command checks:
  - CUE syntax validity
  - Unification across multiple sources
  - Starlark geometry scripts
  - Field constraints (backends, methods, rules, bounds)`,
		Example: `  # Validate a single config
  qembed validate h2.cue

  # Validate a base config with its site overlay
  qembed validate base.cue site.cue`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			parser := config.NewCUEParser()
			parsed, err := parser.Parse(cmd.Context(), args)
			if err != nil {
				return err
			}

			if jsonOutput {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				if err := enc.Encode(parsed.Errors); err != nil {
					return err
				}
			} else {
				for _, verr := range parsed.Errors {
					fmt.Fprintln(os.Stderr, verr.Error())
				}
			}

			if n := len(parsed.Errors); n > 0 {
				return fmt.Errorf("%d validation error(s)", n)
			}
			if !jsonOutput {
				fmt.Printf("Configuration valid (%d source file(s))\n", len(parsed.SourceFiles))
			}
			return nil
		},
	}

	return cmd
}
