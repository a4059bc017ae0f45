// Package pipeline wires sampling, evolution, result collection and
// postprocessing into single calls.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"metaflux/internal/config"
	"metaflux/internal/couples"
	"metaflux/internal/evo"
	"metaflux/internal/fitness"
	"metaflux/internal/model"
	"metaflux/internal/oracle"
	"metaflux/internal/postprocess"
	"metaflux/internal/sampling"
	"metaflux/internal/stats"
	"metaflux/internal/storage"
	"metaflux/internal/telemetry"
)

type Request struct {
	Config config.RunConfig
	Model  *model.Model
	// Variability is computed through Analyzer when empty.
	Variability model.Variability
	Solver      oracle.Solver
	Analyzer    oracle.VariabilityAnalyzer
	// Store receives the run summary; nil skips it.
	Store storage.Store
	// Sink overrides the sink built from Config.Storage and stays open.
	Sink           storage.ResultSink
	RunID          string
	WorkingResults []model.Result
	Logger         *slog.Logger
}

type Outcome struct {
	RunID          string
	RunDir         string
	Couples        []model.ReactionCouple
	FeasibleStarts int
	History        evo.History
	// Groups are all accepted results grouped by objective, descending.
	Groups []model.ObjectiveGroup
	// Refined is the postprocessed best result; empty when postprocessing
	// is disabled or nothing was accepted.
	Refined model.Result
	Rounds  []model.PostprocessRound
}

// Best returns the best accepted result by sense.
func (o Outcome) Best(sense model.Sense) (model.Result, bool) {
	return bestOf(o.Groups, sense)
}

func Optimize(ctx context.Context, req Request) (Outcome, error) {
	cfg := req.Config
	logger := telemetry.OrDefault(req.Logger)
	if req.Model == nil {
		return Outcome{}, errors.New("model is required")
	}
	if req.Solver == nil {
		return Outcome{}, errors.New("solver is required")
	}
	sense, err := cfg.ObjectiveSense()
	if err != nil {
		return Outcome{}, err
	}
	objective := model.Objective(cfg.Objective)
	if len(objective) == 0 {
		return Outcome{}, errors.New("objective is required")
	}
	// The strategy is resolved first so a bad name costs no oracle calls.
	optimizer, err := evo.NewOptimizer(evo.OptimizerConfig{
		Algorithm:              cfg.Evolution.Algorithm,
		Generations:            cfg.Evolution.Generations,
		PopulationSize:         cfg.Evolution.PopulationSize,
		MaxRoundsSameObjective: cfg.StagnationLimit(),
		Workers:                cfg.Workers,
		Seed:                   cfg.Seed,
		Selection:              cfg.Evolution.Selection,
		MutationRate:           cfg.Evolution.MutationRate,
		ObjectiveHistoryPath:   cfg.Evolution.ObjectiveHistoryPath,
		Logger:                 logger,
	})
	if err != nil {
		return Outcome{}, err
	}

	variability, err := resolveVariability(ctx, req.Model, req.Variability, req.Analyzer)
	if err != nil {
		return Outcome{}, err
	}
	index := couples.Index(req.Model, variability, objective, cfg.ErrorScenario)
	if len(index) == 0 {
		return Outcome{}, evo.ErrEmptySearchSpace
	}
	logger.Info("search space indexed", "couples", len(index), "reactions", len(req.Model.Reactions))

	sampler, err := sampling.New(sampling.Config{
		Model:                   req.Model,
		Objective:               objective,
		Sense:                   sense,
		Variability:             variability,
		ErrorScenario:           cfg.ErrorScenario,
		Kinetics:                cfg.Kinetics,
		MaxDeactivatedReactions: cfg.Sampling.MaxDeactivatedReactions,
		AlwaysDeactivated:       cfg.Sampling.AlwaysDeactivated,
		WishedNumFeasibleStarts: cfg.Sampling.WishedNumFeasibleStarts,
		MaxMetarounds:           cfg.Sampling.MaxMetarounds,
		RoundsPerMetaround:      cfg.Sampling.RoundsPerMetaround,
		MinAbsObjective:         cfg.Sampling.MinAbsObjective,
		Workers:                 cfg.Workers,
		Seed:                    cfg.Seed,
		WorkingResults:          req.WorkingResults,
		LP:                      req.Solver,
		NLP:                     req.Solver,
		Logger:                  logger,
	})
	if err != nil {
		return Outcome{}, fmt.Errorf("configure sampler: %w", err)
	}
	starts, err := sampler.Sample(ctx)
	if err != nil {
		return Outcome{}, fmt.Errorf("sample feasible starts: %w", err)
	}
	seeds := couples.SeedVectors(index, orderedStarts(starts))

	sink, owned := req.Sink, false
	if sink == nil {
		sink, err = storage.NewSink(cfg.Storage.Sink, cfg.Storage.ScratchDir, logger)
		if err != nil {
			return Outcome{}, fmt.Errorf("open result sink: %w", err)
		}
		owned = true
	}
	drained := false
	defer func() {
		if !drained {
			reportScratch(logger, sink)
		}
		if owned {
			if err := sink.Close(); err != nil {
				logger.Warn("close result sink", "error", err)
			}
		}
	}()

	evaluator, err := fitness.New(fitness.Config{
		Model:           req.Model,
		Couples:         index,
		Objective:       objective,
		Sense:           sense,
		Variability:     variability,
		ErrorScenario:   cfg.ErrorScenario,
		Kinetics:        cfg.Kinetics,
		MinAbsObjective: cfg.Sampling.MinAbsObjective,
		LP:              req.Solver,
		NLP:             req.Solver,
		Sink:            sink,
		Logger:          logger,
	})
	if err != nil {
		return Outcome{}, fmt.Errorf("configure evaluator: %w", err)
	}
	history, err := optimizer.Run(ctx, evaluator.Evaluate, len(index), seeds)
	if err != nil {
		return Outcome{}, err
	}

	artifacts, err := sink.Drain(ctx)
	if err != nil {
		return Outcome{}, fmt.Errorf("drain results: %w", err)
	}
	drained = true
	out := Outcome{
		RunID:          req.RunID,
		Couples:        index,
		FeasibleStarts: len(starts),
		History:        history,
		Groups:         storage.Aggregate(artifacts),
	}
	if out.RunID == "" {
		out.RunID = uuid.NewString()
	}
	logger.Info("optimization results collected", "run_id", out.RunID, "artifacts", len(artifacts), "distinct_objectives", len(out.Groups))

	if best, ok := out.Best(sense); ok && cfg.Postprocess.Enabled {
		refined, rounds, err := refine(ctx, cfg, req.Model, variability, best, objective, sense, req.Solver, logger)
		if err != nil {
			return out, err
		}
		out.Refined, out.Rounds = refined, rounds
	}

	created := time.Now().UTC().Format(time.RFC3339)
	runDir, err := writeArtifacts(cfg, out, created)
	if err != nil {
		return out, fmt.Errorf("write run artifacts: %w", err)
	}
	out.RunDir = runDir
	if req.Store != nil {
		if err := saveRun(ctx, req.Store, cfg, out, sense, objective, created); err != nil {
			return out, fmt.Errorf("save run: %w", err)
		}
	}
	return out, nil
}

type RefineRequest struct {
	Config      config.RunConfig
	Model       *model.Model
	Variability model.Variability
	Start       model.Result
	Solver      oracle.Solver
	Analyzer    oracle.VariabilityAnalyzer
	Store       storage.Store
	// RunID attaches the rounds to an existing run when set.
	RunID  string
	Logger *slog.Logger
}

// Refine runs only the postprocessing loop from a known result.
func Refine(ctx context.Context, req RefineRequest) (model.Result, []model.PostprocessRound, error) {
	cfg := req.Config
	logger := telemetry.OrDefault(req.Logger)
	if req.Model == nil {
		return model.Result{}, nil, errors.New("model is required")
	}
	if req.Solver == nil {
		return model.Result{}, nil, errors.New("solver is required")
	}
	sense, err := cfg.ObjectiveSense()
	if err != nil {
		return model.Result{}, nil, err
	}
	variability, err := resolveVariability(ctx, req.Model, req.Variability, req.Analyzer)
	if err != nil {
		return model.Result{}, nil, err
	}

	best, rounds, err := refine(ctx, cfg, req.Model, variability, req.Start, model.Objective(cfg.Objective), sense, req.Solver, logger)
	if err != nil {
		return best, rounds, err
	}
	if req.RunID == "" || len(rounds) == 0 {
		return best, rounds, nil
	}
	if err := stats.WritePostprocessRounds(runDirOf(cfg, req.RunID), rounds); err != nil {
		return best, rounds, fmt.Errorf("write postprocess rounds: %w", err)
	}
	if req.Store != nil {
		if err := req.Store.SavePostprocessRounds(ctx, req.RunID, rounds); err != nil {
			return best, rounds, fmt.Errorf("save postprocess rounds: %w", err)
		}
	}
	return best, rounds, nil
}

func refine(ctx context.Context, cfg config.RunConfig, m *model.Model, variability model.Variability, start model.Result, objective model.Objective, sense model.Sense, solver oracle.Solver, logger *slog.Logger) (model.Result, []model.PostprocessRound, error) {
	searcher, err := postprocess.New(postprocess.Config{
		LP:               solver,
		NLP:              solver,
		Kinetics:         cfg.Kinetics,
		ErrorScenario:    cfg.ErrorScenario,
		Budgets:          cfg.Postprocess.Budgets,
		Workers:          cfg.Workers,
		ObjectiveEpsilon: cfg.Postprocess.ObjectiveEpsilon,
		BigM:             cfg.Postprocess.BigM,
		Logger:           logger,
	})
	if err != nil {
		return model.Result{}, nil, fmt.Errorf("configure postprocess: %w", err)
	}
	best, rounds, err := postprocess.Refine(ctx, searcher, m, start, objective, sense, variability, postprocess.RefineConfig{
		MinImprovement: cfg.Postprocess.MinImprovement,
		MaxRounds:      cfg.Postprocess.MaxRounds,
	})
	if err != nil {
		return best, rounds, fmt.Errorf("postprocess: %w", err)
	}
	for i := range rounds {
		rounds[i].VersionedRecord = storage.CurrentVersion()
	}
	return best, rounds, nil
}

// reportScratch points at artifacts a directory sink still holds after an
// aborted run, so they can be read back with inspect-scratch.
func reportScratch(logger *slog.Logger, sink storage.ResultSink) {
	dir, ok := sink.(*storage.DirSink)
	if !ok {
		return
	}
	pending, err := dir.Pending()
	if err != nil || pending == 0 {
		return
	}
	logger.Warn("run aborted; scratch artifacts kept", "dir", dir.Dir(), "artifacts", pending)
}

func resolveVariability(ctx context.Context, m *model.Model, variability model.Variability, analyzer oracle.VariabilityAnalyzer) (model.Variability, error) {
	if len(variability) > 0 {
		return variability, nil
	}
	if analyzer == nil {
		return nil, errors.New("variability is required when no analyzer is available")
	}
	computed, err := analyzer.Variability(ctx, m, true, true)
	if err != nil {
		return nil, fmt.Errorf("compute variability: %w", err)
	}
	return computed, nil
}

// orderedStarts sorts starts by signature key so seeding is reproducible.
func orderedStarts(starts map[string]model.FeasibleStart) []model.FeasibleStart {
	keys := make([]string, 0, len(starts))
	for key := range starts {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	out := make([]model.FeasibleStart, 0, len(keys))
	for _, key := range keys {
		out = append(out, starts[key])
	}
	return out
}

// bestOf picks the best group by sense; groups are sorted descending.
func bestOf(groups []model.ObjectiveGroup, sense model.Sense) (model.Result, bool) {
	if len(groups) == 0 {
		return model.Result{}, false
	}
	group := groups[0]
	if !sense.IsMaximization() {
		group = groups[len(groups)-1]
	}
	if len(group.Results) == 0 {
		return model.Result{}, false
	}
	return group.Results[0], true
}
