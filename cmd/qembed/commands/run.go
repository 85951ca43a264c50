package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openqembed/openqembed/pkg/aggregate"
	"github.com/openqembed/openqembed/pkg/config"
	"github.com/openqembed/openqembed/pkg/dispatch"
	"github.com/openqembed/openqembed/pkg/embedding"
	"github.com/openqembed/openqembed/pkg/policy"
	"github.com/openqembed/openqembed/pkg/stores"
)

func newRunCommand() *cobra.Command {
	var (
		storePath string
		noStore   bool
	)

	cmd := &cobra.Command{
		Use:   "run <config.cue>...",
		Short: "Run an embedding calculation",
		Long: `Execute a complete embedding calculation from a CUE run configuration.

The run decomposes the system into fragments, admits the run through any
configured policies, iterates fragment solves to self-consistency, and
aggregates the fragment energies into the total.`,
		Example: `  # Run a config
  qembed run h2.cue

  # Overlay a site file on a base config
  qembed run base.cue site.cue

  # Persist the run to a different store
  qembed run h2.cue --store runs.db`,
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

			log.Info().
				Str("system", model.Formula()).
				Str("method", run.Decompose.Method).
				Str("backend", run.Solver.Backend).
				Msg("Starting embedding run")

			adapter, cleanup, err := buildAdapter(ctx, run.Solver)
			if err != nil {
				return err
			}
			defer cleanup()

			var gate embedding.PolicyGate
			if run.Policy != nil && run.Policy.Enabled {
				engine, err := policy.NewEngine(log.Logger)
				if err != nil {
					return err
				}
				if len(run.Policy.Paths) > 0 {
					if err := engine.LoadPolicies(ctx, run.Policy.Paths); err != nil {
						return err
					}
				}
				gate = engine
			}

			var recorder embedding.RunRecorder
			path := storePath
			if run.Store != nil && run.Store.Path != "" && !cmd.Flags().Changed("store") {
				path = run.Store.Path
			}
			if !noStore && path != "" {
				store, err := stores.NewSQLiteStore(stores.Config{Path: path})
				if err != nil {
					return err
				}
				if err := store.Init(ctx); err != nil {
					return err
				}
				defer store.Close()
				recorder = store
			}

			var rule aggregate.Rule
			if run.Rule != "" {
				rule, err = aggregate.ForName(run.Rule)
				if err != nil {
					return err
				}
			}

			workflow, err := embedding.NewWorkflow(
				adapter,
				embedding.DensityUpdater{},
				dispatch.New(run.Dispatch, nil),
				rule,
				gate,
				recorder,
			)
			if err != nil {
				return err
			}

			report, err := workflow.Run(ctx, model, run.WorkflowConfig())
			if err != nil {
				if report != nil && report.Outcome != nil {
					log.Error().
						Int("iterations", report.Outcome.Iterations).
						Float64("final_delta", report.Outcome.FinalDelta).
						Msg("Run failed")
				}
				return err
			}

			return printReport(report)
		},
	}

	cmd.Flags().StringVar(&storePath, "store", "qembed.db", "run store path (overrides the config)")
	cmd.Flags().BoolVar(&noStore, "no-store", false, "disable run persistence")

	return cmd
}

func printReport(report *embedding.Report) error {
	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}

	fmt.Printf("Run %s %s\n", report.RunID, report.Outcome.State)
	fmt.Printf("  iterations:  %d\n", report.Outcome.Iterations)
	fmt.Printf("  final delta: %.3e\n", report.Outcome.FinalDelta)
	fmt.Printf("  wall time:   %s\n", report.WallTime)
	if report.Result != nil {
		fmt.Printf("  energy:      %.10f hartree (%s over %d fragments)\n",
			report.Result.Energy, report.Result.Rule, report.Result.Fragments)
		for _, frag := range report.Fragments {
			if e, ok := report.Result.PerFragment[frag.ID]; ok {
				fmt.Printf("    %-12s %.10f\n", frag.ID, e)
			}
		}
	}
	return nil
}
