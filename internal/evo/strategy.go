package evo

import (
	"context"
	"log/slog"
	"math"

	"metaflux/internal/model"
)

// Domain is the numeric domain a strategy searches in.
type Domain int

const (
	Continuous Domain = iota
	Discrete
)

func (d Domain) String() string {
	if d == Discrete {
		return "discrete"
	}
	return "continuous"
}

// Normalize maps a seed vector into the domain: [0,1] clamping for
// continuous strategies, {0,1} rounding for discrete ones.
func (d Domain) Normalize(vector model.DecisionVector) model.DecisionVector {
	out := make(model.DecisionVector, len(vector))
	for i, v := range vector {
		switch {
		case math.IsNaN(v):
			out[i] = 0
		case d == Discrete:
			if v >= 0.5 {
				out[i] = 1
			}
		default:
			out[i] = math.Min(1, math.Max(0, v))
		}
	}
	return out
}

// PopulationStrategy runs one population-based metaheuristic over a fitness
// function.
type PopulationStrategy interface {
	Name() string
	Domain() Domain
	Run(ctx context.Context, fitness FitnessFunc, dim int, seeds []model.DecisionVector, generations, popSize int) (History, error)
}

type StrategyConfig struct {
	Workers                int
	MaxRoundsSameObjective float64
	Seed                   int64
	// Selection names the parent selector of discrete strategies.
	Selection    string
	MutationRate float64
	OnGeneration           func(model.GenerationDiagnostics)
	Logger                 *slog.Logger
}

// monitoredStrategy drives a fresh Breeder through a PopulationMonitor per run.
type monitoredStrategy struct {
	name       string
	domain     Domain
	cfg        StrategyConfig
	newBreeder func() Breeder
}

func (s monitoredStrategy) Name() string {
	return s.name
}

func (s monitoredStrategy) Domain() Domain {
	return s.domain
}

func (s monitoredStrategy) Run(ctx context.Context, fitness FitnessFunc, dim int, seeds []model.DecisionVector, generations, popSize int) (History, error) {
	monitor, err := NewPopulationMonitor(MonitorConfig{
		Breeder:                s.newBreeder(),
		PopulationSize:         popSize,
		Generations:            generations,
		Workers:                s.cfg.Workers,
		MaxRoundsSameObjective: s.cfg.MaxRoundsSameObjective,
		Seed:                   s.cfg.Seed,
		OnGeneration:           s.cfg.OnGeneration,
		Logger:                 s.cfg.Logger,
	})
	if err != nil {
		return History{}, err
	}
	normalized := make([]model.DecisionVector, 0, len(seeds))
	for _, seed := range seeds {
		normalized = append(normalized, s.domain.Normalize(seed))
	}
	return monitor.Run(ctx, fitness, dim, normalized)
}

// seedPopulation places normalized seeds first and fills the rest with fill.
func seedPopulation(dim, popSize int, seeds []model.DecisionVector, fill func() model.DecisionVector) []model.DecisionVector {
	population := make([]model.DecisionVector, 0, popSize)
	for _, seed := range seeds {
		if len(population) == popSize {
			break
		}
		if len(seed) != dim {
			continue
		}
		population = append(population, seed.Clone())
	}
	for len(population) < popSize {
		population = append(population, fill())
	}
	return population
}
