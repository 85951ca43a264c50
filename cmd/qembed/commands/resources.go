package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/openqembed/openqembed/pkg/config"
	"github.com/openqembed/openqembed/pkg/fragment"
	"github.com/openqembed/openqembed/pkg/solver"
)

func newResourcesCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resources <config.cue>...",
		Short: "Estimate circuit resources for a VQE run",
		Long: `Estimate the qubit, gate, and variational-parameter counts each
fragment of a VQE run would need, without executing any circuit. The config
must select the vqe backend.`,
		Example: `  # Per-fragment resource estimates
  qembed resources h4-vqe.cue`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			parser := config.NewCUEParser()
			run, err := parser.Load(ctx, args)
			if err != nil {
				return err
			}
			if run.Solver.Backend != "vqe" {
				return fmt.Errorf("resource estimation needs the vqe backend, config selects %q", run.Solver.Backend)
			}
			model, err := run.System.ToModel()
			if err != nil {
				return err
			}

			ansatz := solver.AnsatzUCCSD
			if run.Solver.Ansatz != "" {
				ansatz = solver.Ansatz(run.Solver.Ansatz)
			}
			quantum, err := solver.NewQuantum(solver.Statevector{}, solver.QuantumConfig{
				Ansatz:       ansatz,
				QubitMapping: solver.MappingJordanWigner,
				UpThenDown:   ansatz == solver.AnsatzUCC1 || ansatz == solver.AnsatzUCC3,
				Backend:      solver.BackendOptions{Target: "statevector"},
			})
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
			envs, err := solver.MeanField{Screening: run.Screening}.InitialEnvironments(model, fragments)
			if err != nil {
				return err
			}

			estimates := make(map[string]solver.ResourceEstimate, len(fragments))
			for i, frag := range fragments {
				est, err := quantum.Resources(frag, envs[i])
				if err != nil {
					return fmt.Errorf("fragment %s: %w", frag.ID, err)
				}
				estimates[frag.ID] = est
			}

			if jsonOutput {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(estimates)
			}

			fmt.Printf("%s: %s ansatz\n", model.Formula(), ansatz)
			for _, frag := range fragments {
				est := estimates[frag.ID]
				fmt.Printf("  %-12s qubits=%d gates=%d two-qubit=%d parameters=%d\n",
					frag.ID, est.Qubits, est.Gates, est.TwoQubitGates, est.VariationalParameters)
			}
			return nil
		},
	}

	return cmd
}
