package evo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"sort"
	"sync"

	"metaflux/internal/model"
	"metaflux/internal/telemetry"
)

// FitnessFunc scores one decision vector. Objectives are minimization-oriented.
type FitnessFunc func(ctx context.Context, vector model.DecisionVector) []model.FitnessRecord

type ScoredVector struct {
	Vector  model.DecisionVector
	Fitness float64
	// Record is the best record the fitness function returned for Vector.
	Record model.FitnessRecord
}

// Phenotype returns the reduced vector of a feasible record, or the
// evaluated vector when the evaluation only produced the sentinel.
func (s ScoredVector) Phenotype() model.DecisionVector {
	if s.Record.IsSentinel() || len(s.Record.Vector) != len(s.Vector) {
		return s.Vector
	}
	return s.Record.Vector
}

type StopReason string

const (
	StopExhaustedBudget StopReason = "exhausted_budget"
	StopConverged       StopReason = "converged"
)

type History struct {
	BestByGeneration      []float64                     `json:"best_by_generation"`
	GenerationDiagnostics []model.GenerationDiagnostics `json:"generation_diagnostics"`
	Best                  model.FitnessRecord           `json:"best"`
	Generations           int                           `json:"generations"`
	Evaluations           int                           `json:"evaluations"`
	StopReason            StopReason                    `json:"stop_reason"`
}

// Breeder owns the update rule of one metaheuristic.
type Breeder interface {
	Name() string
	Domain() Domain
	// Initialize builds the first population; normalized seeds come first.
	Initialize(rng *rand.Rand, dim, popSize int, seeds []model.DecisionVector) []model.DecisionVector
	// Next breeds the following population from the scored one, given in
	// population order.
	Next(rng *rand.Rand, scored []ScoredVector) []model.DecisionVector
}

type MonitorConfig struct {
	Breeder        Breeder
	PopulationSize int
	Generations    int
	Workers        int
	// MaxRoundsSameObjective stops the run once the best fitness has not
	// improved for that many consecutive generations; +Inf disables it.
	MaxRoundsSameObjective float64
	Seed                   int64
	OnGeneration           func(model.GenerationDiagnostics)
	Logger                 *slog.Logger
}

type PopulationMonitor struct {
	cfg    MonitorConfig
	rng    *rand.Rand
	logger *slog.Logger
}

func NewPopulationMonitor(cfg MonitorConfig) (*PopulationMonitor, error) {
	if cfg.Breeder == nil {
		return nil, fmt.Errorf("breeder is required")
	}
	if cfg.PopulationSize <= 0 {
		return nil, fmt.Errorf("population size must be > 0")
	}
	if cfg.Generations <= 0 {
		return nil, fmt.Errorf("generations must be > 0")
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.MaxRoundsSameObjective <= 0 || math.IsNaN(cfg.MaxRoundsSameObjective) {
		cfg.MaxRoundsSameObjective = math.Inf(1)
	}
	return &PopulationMonitor{
		cfg:    cfg,
		rng:    rand.New(rand.NewSource(cfg.Seed)),
		logger: telemetry.OrDefault(cfg.Logger),
	}, nil
}

func (m *PopulationMonitor) Run(ctx context.Context, fitness FitnessFunc, dim int, seeds []model.DecisionVector) (History, error) {
	if fitness == nil {
		return History{}, errors.New("fitness function is required")
	}
	if dim <= 0 {
		return History{}, fmt.Errorf("dimension must be > 0")
	}

	population := m.cfg.Breeder.Initialize(m.rng, dim, m.cfg.PopulationSize, seeds)
	if len(population) != m.cfg.PopulationSize {
		return History{}, fmt.Errorf("initial population mismatch: got=%d want=%d", len(population), m.cfg.PopulationSize)
	}

	history := History{
		BestByGeneration:      make([]float64, 0, m.cfg.Generations),
		GenerationDiagnostics: make([]model.GenerationDiagnostics, 0, m.cfg.Generations),
		Best:                  model.SentinelRecord(),
		StopReason:            StopExhaustedBudget,
	}
	bestFitness := math.Inf(1)
	sameRounds := 0

	for gen := 0; gen < m.cfg.Generations; gen++ {
		if err := ctx.Err(); err != nil {
			return History{}, err
		}

		scored, err := m.evaluatePopulation(ctx, fitness, population)
		if err != nil {
			return History{}, err
		}
		history.Evaluations += len(scored)
		history.Generations = gen + 1

		ranked := rankScored(scored)
		if ranked[0].Fitness < bestFitness {
			bestFitness = ranked[0].Fitness
			history.Best = ranked[0].Record
			sameRounds = 0
		} else {
			sameRounds++
		}
		history.BestByGeneration = append(history.BestByGeneration, bestFitness)
		diagnostics := summarizeGeneration(ranked, gen+1, sameRounds)
		history.GenerationDiagnostics = append(history.GenerationDiagnostics, diagnostics)
		if m.cfg.OnGeneration != nil {
			m.cfg.OnGeneration(diagnostics)
		}
		m.logger.Debug("generation evaluated",
			"breeder", m.cfg.Breeder.Name(),
			"generation", gen+1,
			"best", bestFitness,
			"feasible", diagnostics.FeasibleCount,
		)

		if float64(sameRounds) >= m.cfg.MaxRoundsSameObjective {
			history.StopReason = StopConverged
			break
		}
		if gen+1 < m.cfg.Generations {
			population = m.cfg.Breeder.Next(m.rng, scored)
			if len(population) != m.cfg.PopulationSize {
				return History{}, fmt.Errorf("breeder %s returned %d individuals, want %d", m.cfg.Breeder.Name(), len(population), m.cfg.PopulationSize)
			}
		}
	}
	return history, nil
}

func (m *PopulationMonitor) evaluatePopulation(ctx context.Context, fitness FitnessFunc, population []model.DecisionVector) ([]ScoredVector, error) {
	type job struct {
		idx    int
		vector model.DecisionVector
	}
	type result struct {
		idx    int
		scored ScoredVector
		err    error
	}

	jobs := make(chan job)
	results := make(chan result, len(population))

	workerCount := m.cfg.Workers
	if workerCount > len(population) {
		workerCount = len(population)
	}

	var wg sync.WaitGroup
	wg.Add(workerCount)
	for w := 0; w < workerCount; w++ {
		go func() {
			defer wg.Done()
			for j := range jobs {
				if err := ctx.Err(); err != nil {
					results <- result{idx: j.idx, err: err}
					continue
				}
				results <- result{idx: j.idx, scored: m.evaluateVector(ctx, fitness, j.vector)}
			}
		}()
	}

	for i := range population {
		jobs <- job{idx: i, vector: population[i]}
	}
	close(jobs)

	wg.Wait()
	close(results)

	scored := make([]ScoredVector, len(population))
	for res := range results {
		if res.err != nil {
			return nil, res.err
		}
		scored[res.idx] = res.scored
	}
	return scored, nil
}

// evaluateVector keeps the lowest-objective record; a panicking fitness
// function scores as the sentinel.
func (m *PopulationMonitor) evaluateVector(ctx context.Context, fitness FitnessFunc, vector model.DecisionVector) (scored ScoredVector) {
	sentinel := model.SentinelRecord()
	scored = ScoredVector{Vector: vector.Clone(), Fitness: sentinel.Objective, Record: sentinel}
	defer func() {
		if r := recover(); r != nil {
			m.logger.Warn("fitness evaluation panicked", "panic", fmt.Sprint(r))
			scored = ScoredVector{Vector: vector.Clone(), Fitness: sentinel.Objective, Record: sentinel}
		}
	}()
	for _, record := range fitness(ctx, vector) {
		if record.Objective < scored.Fitness {
			scored.Fitness = record.Objective
			scored.Record = model.FitnessRecord{Objective: record.Objective, Vector: record.Vector.Clone()}
		}
	}
	return scored
}

// rankScored sorts a copy by ascending fitness; ties keep population order.
func rankScored(scored []ScoredVector) []ScoredVector {
	ranked := make([]ScoredVector, len(scored))
	copy(ranked, scored)
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Fitness < ranked[j].Fitness
	})
	return ranked
}

func summarizeGeneration(ranked []ScoredVector, generation, sameRounds int) model.GenerationDiagnostics {
	diag := model.GenerationDiagnostics{
		Generation:          generation,
		BestFitness:         ranked[0].Fitness,
		WorstFitness:        ranked[len(ranked)-1].Fitness,
		RoundsSameObjective: sameRounds,
	}
	total := 0.0
	fingerprints := make(map[string]struct{}, len(ranked))
	for _, s := range ranked {
		total += s.Fitness
		if !s.Record.IsSentinel() {
			diag.FeasibleCount++
		}
		fingerprints[VectorSignature(s.Phenotype())] = struct{}{}
	}
	diag.MeanFitness = total / float64(len(ranked))
	diag.FingerprintDiversity = len(fingerprints)
	return diag
}
