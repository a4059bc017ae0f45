package evo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"

	"metaflux/internal/model"
	"metaflux/internal/stats"
	"metaflux/internal/telemetry"
)

var ErrEmptySearchSpace = errors.New("search space has no reaction couples")

const (
	minDefaultPopulation = 8
	maxDefaultPopulation = 64
)

type State int

const (
	StateInitialized State = iota
	StateRunning
	StateConverged
	StateExhaustedBudget
)

func (s State) String() string {
	switch s {
	case StateInitialized:
		return "initialized"
	case StateRunning:
		return "running"
	case StateConverged:
		return "converged"
	case StateExhaustedBudget:
		return "exhausted_budget"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

type OptimizerConfig struct {
	Algorithm   string
	Generations int
	// PopulationSize of zero derives the size from the dimension and seed count.
	PopulationSize         int
	MaxRoundsSameObjective float64
	Workers                int
	Seed                   int64
	// Selection and MutationRate tune the genetic strategy.
	Selection    string
	MutationRate float64
	// ObjectiveHistoryPath receives the best objective per generation as JSON.
	ObjectiveHistoryPath string
	Logger               *slog.Logger
}

// Optimizer drives one registered population strategy and tracks its state.
type Optimizer struct {
	cfg      OptimizerConfig
	strategy PopulationStrategy
	logger   *slog.Logger

	mu         sync.Mutex
	state      State
	generation int
	best       float64
}

// NewOptimizer resolves the configured algorithm; an unknown name fails here
// with ErrUnknownAlgorithm, before anything is evaluated.
func NewOptimizer(cfg OptimizerConfig) (*Optimizer, error) {
	if cfg.Generations <= 0 {
		return nil, fmt.Errorf("generations must be > 0")
	}
	if cfg.PopulationSize < 0 {
		return nil, fmt.Errorf("population size must be >= 0")
	}
	if cfg.MutationRate < 0 || cfg.MutationRate > 1 {
		return nil, fmt.Errorf("mutation rate must be in [0,1]: %g", cfg.MutationRate)
	}
	if _, err := SelectorByName(cfg.Selection); err != nil {
		return nil, err
	}
	o := &Optimizer{
		cfg:    cfg,
		logger: telemetry.OrDefault(cfg.Logger),
		state:  StateInitialized,
	}
	strategy, err := ResolveStrategy(cfg.Algorithm, StrategyConfig{
		Workers:                cfg.Workers,
		MaxRoundsSameObjective: cfg.MaxRoundsSameObjective,
		Seed:                   cfg.Seed,
		Selection:              cfg.Selection,
		MutationRate:           cfg.MutationRate,
		OnGeneration:           o.observe,
		Logger:                 o.logger,
	})
	if err != nil {
		return nil, err
	}
	o.strategy = strategy
	return o, nil
}

func (o *Optimizer) Strategy() PopulationStrategy {
	return o.strategy
}

// State reports the lifecycle state and the last completed generation.
func (o *Optimizer) State() (State, int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state, o.generation
}

func (o *Optimizer) Run(ctx context.Context, fitness FitnessFunc, dim int, seeds []model.DecisionVector) (History, error) {
	if dim <= 0 {
		return History{}, ErrEmptySearchSpace
	}
	popSize := o.cfg.PopulationSize
	if popSize == 0 {
		popSize = DefaultPopulationSize(dim, len(seeds))
	}

	o.setState(StateRunning, 0)
	o.mu.Lock()
	o.best = math.Inf(1)
	o.mu.Unlock()
	o.logger.Info("optimization started",
		"algorithm", o.strategy.Name(),
		"dimension", dim,
		"population", popSize,
		"generations", o.cfg.Generations,
		"seeds", len(seeds),
	)

	history, err := o.strategy.Run(ctx, fitness, dim, seeds, o.cfg.Generations, popSize)
	if err != nil {
		o.setState(StateInitialized, 0)
		return History{}, fmt.Errorf("run %s: %w", o.strategy.Name(), err)
	}

	final := StateExhaustedBudget
	if history.StopReason == StopConverged {
		final = StateConverged
		o.logger.Info("best objective stagnated", "generation", history.Generations, "limit", o.cfg.MaxRoundsSameObjective)
	}
	o.setState(final, history.Generations)

	if o.cfg.ObjectiveHistoryPath != "" {
		if err := stats.WriteObjectiveHistory(o.cfg.ObjectiveHistoryPath, history.BestByGeneration); err != nil {
			return history, fmt.Errorf("write objective history: %w", err)
		}
	}
	o.logger.Info("optimization finished",
		"state", final.String(),
		"generations", history.Generations,
		"evaluations", history.Evaluations,
		"best_objective", history.Best.Objective,
	)
	return history, nil
}

func (o *Optimizer) observe(diag model.GenerationDiagnostics) {
	o.mu.Lock()
	o.state = StateRunning
	o.generation = diag.Generation
	if diag.BestFitness < o.best {
		o.best = diag.BestFitness
		telemetry.BestObjective.Set(o.best)
	}
	o.mu.Unlock()
	telemetry.Generations.Inc()
}

func (o *Optimizer) setState(state State, generation int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.state = state
	o.generation = generation
}

// DefaultPopulationSize is twice the dimension clamped to [8, 64], grown to
// hold every seed.
func DefaultPopulationSize(dim, seeds int) int {
	size := 2 * dim
	if size < minDefaultPopulation {
		size = minDefaultPopulation
	}
	if size > maxDefaultPopulation {
		size = maxDefaultPopulation
	}
	if seeds > size {
		size = seeds
	}
	return size
}
