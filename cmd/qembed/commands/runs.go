package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/openqembed/openqembed/pkg/stores"
)

func newRunsCommand() *cobra.Command {
	var storePath string

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect persisted runs",
	}
	cmd.PersistentFlags().StringVar(&storePath, "store", "qembed.db", "run store path")

	cmd.AddCommand(newRunsListCommand(&storePath))
	cmd.AddCommand(newRunsShowCommand(&storePath))

	return cmd
}

func newRunsListCommand(storePath *string) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List persisted runs, most recent first",
		Example: `  qembed runs list
  qembed runs list --store runs.db --limit 10`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := openStore(ctx, *storePath)
			if err != nil {
				return err
			}
			defer store.Close()

			runs, err := store.ListRuns(ctx, limit, 0)
			if err != nil {
				return err
			}

			if jsonOutput {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(runs)
			}

			if len(runs) == 0 {
				fmt.Println("No runs recorded")
				return nil
			}
			fmt.Printf("%-36s  %-10s  %-10s  %-9s  %5s  %-18s  %s\n",
				"ID", "SYSTEM", "STATUS", "RULE", "ITERS", "ENERGY", "STARTED")
			for _, run := range runs {
				energy := ""
				if run.Status == "converged" {
					energy = fmt.Sprintf("%.10f", run.Energy)
				}
				fmt.Printf("%-36s  %-10s  %-10s  %-9s  %5d  %-18s  %s\n",
					run.ID, run.Formula, run.Status, run.Rule, run.Iterations,
					energy, run.StartedAt.Format(time.RFC3339))
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of runs to list")
	return cmd
}

func newRunsShowCommand(storePath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show one run with its iteration trace",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := openStore(ctx, *storePath)
			if err != nil {
				return err
			}
			defer store.Close()

			run, err := store.GetRun(ctx, args[0])
			if err != nil {
				return err
			}
			iterations, err := store.ListIterations(ctx, run.ID)
			if err != nil {
				return err
			}

			if jsonOutput {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(struct {
					Run        interface{} `json:"run"`
					Iterations interface{} `json:"iterations"`
				}{run, iterations})
			}

			fmt.Printf("Run %s\n", run.ID)
			fmt.Printf("  system:  %s\n", run.Formula)
			fmt.Printf("  method:  %s\n", run.Method)
			fmt.Printf("  backend: %s\n", run.Backend)
			fmt.Printf("  status:  %s\n", run.Status)
			if run.Status == "converged" {
				fmt.Printf("  energy:  %.10f hartree (%s)\n", run.Energy, run.Rule)
			}
			if run.Error != "" {
				fmt.Printf("  error:   %s\n", run.Error)
			}
			fmt.Printf("  started: %s\n", run.StartedAt.Format(time.RFC3339))
			if run.CompletedAt != nil {
				fmt.Printf("  took:    %s\n", run.CompletedAt.Sub(run.StartedAt))
			}
			if len(iterations) > 0 {
				fmt.Println("  iterations:")
				for _, rec := range iterations {
					fmt.Printf("    %3d  delta=%.3e  solved=%d/%d  %s\n",
						rec.Iteration, rec.Delta, rec.Summary.Succeeded,
						rec.Summary.Total, rec.WallTime)
				}
			}
			return nil
		},
	}

	return cmd
}

func openStore(ctx context.Context, path string) (*stores.SQLiteStore, error) {
	store, err := stores.NewSQLiteStore(stores.Config{Path: path})
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		return nil, err
	}
	return store, nil
}
