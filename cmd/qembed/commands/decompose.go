package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/openqembed/openqembed/pkg/config"
	"github.com/openqembed/openqembed/pkg/fragment"
)

func newDecomposeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "decompose <config.cue>...",
		Short: "Preview the fragment decomposition of a run",
		Long: `Decompose the configured system into fragments without solving
anything. Useful for checking fragment sizes and active spaces before
committing to a run.`,
		Example: `  # Show the fragments a run would produce
  qembed decompose h10.cue

  # Machine-readable output
  qembed decompose h10.cue --json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			parser := config.NewCUEParser()
			run, err := parser.Load(ctx, args)
			if err != nil {
				return err
			}
			model, err := run.System.ToModel()
			if err != nil {
				return err
			}

			dec, err := fragment.ForMethod(run.Decompose.Method)
			if err != nil {
				return err
			}
			fragments, _, err := dec.Decompose(model, run.Decompose)
			if err != nil {
				return err
			}

			if jsonOutput {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(fragments)
			}

			fmt.Printf("%s: %d fragments (%s)\n", model.Formula(), len(fragments), run.Decompose.Method)
			for _, frag := range fragments {
				fmt.Printf("  %-12s atoms=%v orbitals=%v active=%de/%do\n",
					frag.ID, frag.AtomIndices, frag.OrbitalIndices,
					frag.ActiveSpace.Electrons, frag.ActiveSpace.Orbitals)
			}
			return nil
		},
	}

	return cmd
}
