package pipeline

import (
	"context"
	"math"
	"path/filepath"

	"metaflux/internal/config"
	"metaflux/internal/model"
	"metaflux/internal/stats"
	"metaflux/internal/storage"
)

func runDirOf(cfg config.RunConfig, runID string) string {
	return filepath.Join(cfg.Storage.ArtifactsDir, runID)
}

func runConfig(cfg config.RunConfig, runID string) stats.RunConfig {
	out := stats.RunConfig{
		RunID:                   runID,
		ModelPath:               cfg.ModelPath,
		Objective:               model.Objective(cfg.Objective),
		Sense:                   cfg.Sense,
		Algorithm:               cfg.Evolution.Algorithm,
		PopulationSize:          cfg.Evolution.PopulationSize,
		Generations:             cfg.Evolution.Generations,
		MaxDeactivatedReactions: cfg.Sampling.MaxDeactivatedReactions,
		WishedNumFeasibleStarts: cfg.Sampling.WishedNumFeasibleStarts,
		MaxMetarounds:           cfg.Sampling.MaxMetarounds,
		RoundsPerMetaround:      cfg.Sampling.RoundsPerMetaround,
		MinAbsObjective:         cfg.Sampling.MinAbsObjective,
		Workers:                 cfg.Workers,
		Seed:                    cfg.Seed,
		Sink:                    cfg.Storage.Sink,
	}
	if limit := cfg.StagnationLimit(); !math.IsInf(limit, 1) {
		out.MaxRoundsSameObjective = &limit
	}
	return out
}

// finalObjective reports the refined objective when postprocessing improved
// the run, else the best aggregated one, else zero.
func finalObjective(out Outcome, sense model.Sense) float64 {
	if len(out.Rounds) > 0 {
		return out.Rounds[len(out.Rounds)-1].Objective
	}
	if best, ok := out.Best(sense); ok {
		return best.Objective()
	}
	return 0
}

func writeArtifacts(cfg config.RunConfig, out Outcome, created string) (string, error) {
	sense, err := cfg.ObjectiveSense()
	if err != nil {
		return "", err
	}
	final := finalObjective(out, sense)
	runDir, err := stats.WriteRunArtifacts(cfg.Storage.ArtifactsDir, stats.RunArtifacts{
		Config:                runConfig(cfg, out.RunID),
		BestByGeneration:      out.History.BestByGeneration,
		GenerationDiagnostics: out.History.GenerationDiagnostics,
		StopReason:            string(out.History.StopReason),
		FinalBestObjective:    final,
		Results:               out.Groups,
		PostprocessRounds:     out.Rounds,
	})
	if err != nil {
		return "", err
	}
	if err := stats.WriteObjectiveSeries(runDir, out.History.BestByGeneration); err != nil {
		return "", err
	}
	if err := stats.AppendRunIndex(cfg.Storage.ArtifactsDir, stats.RunIndexEntry{
		RunID:              out.RunID,
		Algorithm:          cfg.Evolution.Algorithm,
		Sense:              cfg.Sense,
		PopulationSize:     cfg.Evolution.PopulationSize,
		Generations:        out.History.Generations,
		Seed:               cfg.Seed,
		Workers:            cfg.Workers,
		DistinctResults:    len(out.Groups),
		FinalBestObjective: final,
		CreatedAtUTC:       created,
	}); err != nil {
		return "", err
	}
	return runDir, nil
}

func saveRun(ctx context.Context, store storage.Store, cfg config.RunConfig, out Outcome, sense model.Sense, objective model.Objective, created string) error {
	if err := store.SaveRun(ctx, model.RunRecord{
		VersionedRecord:  storage.CurrentVersion(),
		ID:               out.RunID,
		CreatedAtUTC:     created,
		Algorithm:        cfg.Evolution.Algorithm,
		Sense:            sense,
		Objective:        objective,
		Dimension:        len(out.Couples),
		FeasibleStarts:   out.FeasibleStarts,
		Generations:      out.History.Generations,
		StopReason:       string(out.History.StopReason),
		BestObjective:    finalObjective(out, sense),
		DistinctResults:  len(out.Groups),
		BestByGeneration: out.History.BestByGeneration,
	}); err != nil {
		return err
	}
	if err := store.SaveGenerationDiagnostics(ctx, out.RunID, out.History.GenerationDiagnostics); err != nil {
		return err
	}
	if len(out.Rounds) == 0 {
		return nil
	}
	return store.SavePostprocessRounds(ctx, out.RunID, out.Rounds)
}
