package main

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"

	"github.com/spf13/cobra"

	"metaflux/internal/evo"
	"metaflux/internal/model"
	"metaflux/internal/storage"
	"metaflux/pkg/metaflux"
)

func newOptimizeCmd() *cobra.Command {
	var flags runFlags
	var runID string
	cmd := &cobra.Command{
		Use:   "optimize",
		Short: "Sample feasible starts, evolve deactivation vectors and postprocess the best result",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := flags.load(cmd.Flags())
			if err != nil {
				return err
			}
			s, err := newSession(cmd.Context(), cfg, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer s.Close()

			summary, err := s.client.Optimize(cmd.Context(), metaflux.OptimizeRequest{
				Config:      cfg,
				Model:       s.model,
				Variability: s.variability,
				Solver:      s.solver,
				Analyzer:    s.solver,
				RunID:       runID,
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "run completed run_id=%s algorithm=%s dimension=%d feasible_starts=%d gens=%d stop=%s\n",
				summary.RunID, cfg.Evolution.Algorithm, summary.Dimension, summary.FeasibleStarts, summary.Generations, summary.StopReason)
			for i, best := range summary.BestByGeneration {
				fmt.Fprintf(out, "generation=%d best_fitness=%.6f\n", i+1, best)
			}
			for _, round := range summary.Rounds {
				fmt.Fprintf(out, "postprocess round=%d objective=%.6f switches=%d best=%s budget=%d\n",
					round.Round, round.Objective, round.Switches, round.BestLabel, round.BestBudget)
			}
			fmt.Fprintf(out, "distinct_results=%d final_best_objective=%.6f\n", summary.DistinctResults, summary.BestObjective)
			fmt.Fprintf(out, "artifacts_dir=%s\n", filepath.Clean(summary.ArtifactsDir))
			return nil
		},
	}
	flags.bind(cmd.Flags())
	cmd.Flags().StringVar(&runID, "run-id", "", "run id (default: random UUID)")
	return cmd
}

func newPostprocessCmd() *cobra.Command {
	var flags runFlags
	var startPath, runID string
	cmd := &cobra.Command{
		Use:   "postprocess",
		Short: "Refine a known result by local activation switches",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if startPath == "" {
				return errors.New("--start is required")
			}
			cfg, err := flags.load(cmd.Flags())
			if err != nil {
				return err
			}
			start, err := model.LoadResult(startPath)
			if err != nil {
				return err
			}
			s, err := newSession(cmd.Context(), cfg, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer s.Close()

			summary, err := s.client.Postprocess(cmd.Context(), metaflux.PostprocessRequest{
				Config:      cfg,
				Model:       s.model,
				Variability: s.variability,
				Start:       start,
				Solver:      s.solver,
				Analyzer:    s.solver,
				RunID:       runID,
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, round := range summary.Rounds {
				fmt.Fprintf(out, "round=%d objective=%.6f switches=%d best=%s target=%v budget=%d\n",
					round.Round, round.Objective, round.Switches, round.BestLabel, round.BestTarget, round.BestBudget)
			}
			fmt.Fprintf(out, "rounds=%d start_objective=%.6f final_objective=%.6f\n",
				len(summary.Rounds), start.Objective(), summary.Best.Objective())
			return nil
		},
	}
	flags.bind(cmd.Flags())
	cmd.Flags().StringVar(&startPath, "start", "", "result JSON to refine")
	cmd.Flags().StringVar(&runID, "run-id", "", "attach rounds to this stored run")
	return cmd
}

func newRunsCmd() *cobra.Command {
	var flags queryFlags
	var limit int
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recorded runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := flags.client(cmd.Context(), cmd.Flags())
			if err != nil {
				return err
			}
			defer client.Close()

			runs, err := client.Runs(cmd.Context(), metaflux.RunsRequest{Limit: limit})
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, r := range runs {
				fmt.Fprintf(out, "run_id=%s created_at=%s algorithm=%s sense=%s seed=%d pop=%d gens=%d distinct_results=%d final_best_objective=%.6f\n",
					r.RunID, r.CreatedAtUTC, r.Algorithm, r.Sense, r.Seed, r.Population, r.Generations, r.DistinctResults, r.BestObjective)
			}
			return nil
		},
	}
	flags.bind(cmd.Flags())
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum runs to list")
	return cmd
}

func newShowCmd() *cobra.Command {
	var flags queryFlags
	var ref metaflux.RunRef
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the result groups and postprocess rounds of one run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := flags.client(cmd.Context(), cmd.Flags())
			if err != nil {
				return err
			}
			defer client.Close()

			groups, err := client.Results(cmd.Context(), ref)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for rank, group := range groups {
				fmt.Fprintf(out, "rank=%d objective=%.6f results=%d\n", rank+1, group.Value, len(group.Results))
			}
			rounds, err := client.PostprocessRounds(cmd.Context(), metaflux.RunRef{RunID: ref.RunID, Latest: ref.Latest})
			if err != nil {
				// Runs without postprocessing have no rounds.
				return nil
			}
			for _, round := range rounds {
				fmt.Fprintf(out, "postprocess round=%d objective=%.6f best=%s target=%v\n", round.Round, round.Objective, round.BestLabel, round.BestTarget)
			}
			return nil
		},
	}
	flags.bind(cmd.Flags())
	cmd.Flags().StringVar(&ref.RunID, "run-id", "", "run id")
	cmd.Flags().BoolVar(&ref.Latest, "latest", false, "use the newest run")
	cmd.Flags().IntVar(&ref.Limit, "limit", 0, "maximum result groups to print (0 = all)")
	return cmd
}

func newExportCmd() *cobra.Command {
	var flags queryFlags
	var req metaflux.ExportRequest
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Copy one run's artifacts to another directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := flags.client(cmd.Context(), cmd.Flags())
			if err != nil {
				return err
			}
			defer client.Close()

			exported, err := client.Export(cmd.Context(), req)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "exported run_id=%s dir=%s\n", exported.RunID, exported.Directory)
			return nil
		},
	}
	flags.bind(cmd.Flags())
	cmd.Flags().StringVar(&req.RunID, "run-id", "", "run id")
	cmd.Flags().BoolVar(&req.Latest, "latest", false, "export the newest run")
	cmd.Flags().StringVar(&req.OutDir, "out", "", "export directory (default: exports)")
	return cmd
}

func newInspectScratchCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "inspect-scratch <dir>",
		Short: "Summarize the artifacts left in a directory result sink",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			scanned, err := storage.ScanObjectives(args[0])
			if err != nil {
				return err
			}
			sort.SliceStable(scanned, func(i, j int) bool {
				if (scanned[i].Error == "") != (scanned[j].Error == "") {
					return scanned[i].Error == ""
				}
				return scanned[i].Objective > scanned[j].Objective
			})
			if limit > 0 && len(scanned) > limit {
				scanned = scanned[:limit]
			}
			out := cmd.OutOrStdout()
			for _, a := range scanned {
				if a.Error != "" {
					fmt.Fprintf(out, "file=%s error=%q\n", a.File, a.Error)
					continue
				}
				fmt.Fprintf(out, "file=%s objective=%.6f fitness=%.6f all_ok=%t\n", a.File, a.Objective, a.Fitness, a.AllOK)
			}
			fmt.Fprintf(out, "artifacts=%d\n", len(scanned))
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum artifacts to print (0 = all)")
	return cmd
}

func newStrategiesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "strategies",
		Short: "List the registered population strategies",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			for _, name := range evo.ListStrategies() {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
			return nil
		},
	}
}
