package evo

import (
	"context"
	"errors"
	"math/rand"
	"reflect"
	"sync"
	"testing"

	"metaflux/internal/model"
)

// onesFitness rewards active entries: every activated couple lowers the
// objective by one. The reduced vector is the rounded input.
func onesFitness(_ context.Context, vector model.DecisionVector) []model.FitnessRecord {
	reduced := make(model.DecisionVector, len(vector))
	total := 0.0
	for i, v := range vector {
		if v > model.DeactivationThreshold {
			reduced[i] = 1
			total++
		}
	}
	return []model.FitnessRecord{model.SentinelRecord(), {Objective: -total, Vector: reduced}}
}

type fixedBreeder struct {
	size int
}

func (fixedBreeder) Name() string   { return "fixed" }
func (fixedBreeder) Domain() Domain { return Discrete }

func (b fixedBreeder) Initialize(_ *rand.Rand, dim, popSize int, seeds []model.DecisionVector) []model.DecisionVector {
	return seedPopulation(dim, popSize, seeds, func() model.DecisionVector { return make(model.DecisionVector, dim) })
}

func (b fixedBreeder) Next(_ *rand.Rand, scored []ScoredVector) []model.DecisionVector {
	out := make([]model.DecisionVector, 0, b.size)
	for i := 0; i < b.size && i < len(scored); i++ {
		out = append(out, scored[i].Vector.Clone())
	}
	return out
}

func TestPopulationMonitorImprovesFitness(t *testing.T) {
	run := func() History {
		monitor, err := NewPopulationMonitor(MonitorConfig{
			Breeder:        NewGenetic(),
			PopulationSize: 12,
			Generations:    15,
			Workers:        3,
			Seed:           1,
		})
		if err != nil {
			t.Fatalf("new monitor: %v", err)
		}
		history, err := monitor.Run(context.Background(), onesFitness, 6, nil)
		if err != nil {
			t.Fatalf("run: %v", err)
		}
		return history
	}

	history := run()
	if history.Generations != 15 || len(history.BestByGeneration) != 15 {
		t.Fatalf("expected 15 generations, got %d (%d bests)", history.Generations, len(history.BestByGeneration))
	}
	if history.Evaluations != 15*12 {
		t.Fatalf("expected %d evaluations, got %d", 15*12, history.Evaluations)
	}
	if history.StopReason != StopExhaustedBudget {
		t.Fatalf("expected exhausted budget, got %s", history.StopReason)
	}
	for i := 1; i < len(history.BestByGeneration); i++ {
		if history.BestByGeneration[i] > history.BestByGeneration[i-1] {
			t.Fatalf("best objective regressed at generation %d: %v", i+1, history.BestByGeneration)
		}
	}
	last := history.BestByGeneration[len(history.BestByGeneration)-1]
	if history.Best.Objective != last {
		t.Fatalf("best record %f does not match history %f", history.Best.Objective, last)
	}
	if len(history.GenerationDiagnostics) != 15 || history.GenerationDiagnostics[0].Generation != 1 {
		t.Fatalf("unexpected diagnostics: %+v", history.GenerationDiagnostics)
	}
	if history.GenerationDiagnostics[0].FeasibleCount != 12 {
		t.Fatalf("expected every individual feasible, got %d", history.GenerationDiagnostics[0].FeasibleCount)
	}

	again := run()
	if !reflect.DeepEqual(history.BestByGeneration, again.BestByGeneration) {
		t.Fatalf("expected deterministic history for a fixed seed: %v vs %v", history.BestByGeneration, again.BestByGeneration)
	}
}

func TestPopulationMonitorStopsOnStagnation(t *testing.T) {
	flat := func(context.Context, model.DecisionVector) []model.FitnessRecord {
		return []model.FitnessRecord{model.SentinelRecord(), {Objective: -1, Vector: model.DecisionVector{1, 0}}}
	}
	var seen []int
	monitor, err := NewPopulationMonitor(MonitorConfig{
		Breeder:                NewGenetic(),
		PopulationSize:         4,
		Generations:            20,
		MaxRoundsSameObjective: 3,
		OnGeneration:           func(d model.GenerationDiagnostics) { seen = append(seen, d.RoundsSameObjective) },
	})
	if err != nil {
		t.Fatalf("new monitor: %v", err)
	}

	history, err := monitor.Run(context.Background(), flat, 2, nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if history.StopReason != StopConverged {
		t.Fatalf("expected converged stop, got %s", history.StopReason)
	}
	if history.Generations != 4 {
		t.Fatalf("expected stop after 4 generations, got %d", history.Generations)
	}
	if !reflect.DeepEqual(seen, []int{0, 1, 2, 3}) {
		t.Fatalf("unexpected stagnation counters: %v", seen)
	}
}

func TestPopulationMonitorRecoversPanickingFitness(t *testing.T) {
	panicky := func(context.Context, model.DecisionVector) []model.FitnessRecord {
		panic("solver crashed")
	}
	monitor, err := NewPopulationMonitor(MonitorConfig{
		Breeder:        NewGenetic(),
		PopulationSize: 4,
		Generations:    2,
		Workers:        2,
	})
	if err != nil {
		t.Fatalf("new monitor: %v", err)
	}

	history, err := monitor.Run(context.Background(), panicky, 3, nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !history.Best.IsSentinel() {
		t.Fatalf("expected sentinel best, got %+v", history.Best)
	}
	if history.GenerationDiagnostics[0].FeasibleCount != 0 {
		t.Fatalf("expected no feasible individual, got %d", history.GenerationDiagnostics[0].FeasibleCount)
	}
}

func TestPopulationMonitorEvaluatesSeedsFirst(t *testing.T) {
	var mu sync.Mutex
	var evaluated []string
	recording := func(ctx context.Context, v model.DecisionVector) []model.FitnessRecord {
		mu.Lock()
		evaluated = append(evaluated, VectorSignature(v))
		mu.Unlock()
		return onesFitness(ctx, v)
	}
	monitor, err := NewPopulationMonitor(MonitorConfig{
		Breeder:        fixedBreeder{size: 3},
		PopulationSize: 3,
		Generations:    1,
		Workers:        1,
	})
	if err != nil {
		t.Fatalf("new monitor: %v", err)
	}

	seeds := []model.DecisionVector{{1, 1}, {1}, {0, 1}}
	history, err := monitor.Run(context.Background(), recording, 2, seeds)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	want := []string{"1,1", "0,1", "0,0"}
	if !reflect.DeepEqual(evaluated, want) {
		t.Fatalf("unexpected evaluation order: got=%v want=%v", evaluated, want)
	}
	if history.Best.Objective != -2 {
		t.Fatalf("expected seed to be best, got %f", history.Best.Objective)
	}
}

func TestPopulationMonitorRejectsBreederSizeChange(t *testing.T) {
	monitor, err := NewPopulationMonitor(MonitorConfig{
		Breeder:        fixedBreeder{size: 1},
		PopulationSize: 2,
		Generations:    3,
	})
	if err != nil {
		t.Fatalf("new monitor: %v", err)
	}
	if _, err := monitor.Run(context.Background(), onesFitness, 2, nil); err == nil {
		t.Fatal("expected population size error")
	}
}

func TestPopulationMonitorHonoursCancellation(t *testing.T) {
	monitor, err := NewPopulationMonitor(MonitorConfig{
		Breeder:        NewGenetic(),
		PopulationSize: 4,
		Generations:    3,
	})
	if err != nil {
		t.Fatalf("new monitor: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := monitor.Run(ctx, onesFitness, 2, nil); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context canceled, got %v", err)
	}
}

func TestPopulationMonitorValidation(t *testing.T) {
	cases := []MonitorConfig{
		{PopulationSize: 4, Generations: 1},
		{Breeder: NewGenetic(), Generations: 1},
		{Breeder: NewGenetic(), PopulationSize: 4},
	}
	for i, cfg := range cases {
		if _, err := NewPopulationMonitor(cfg); err == nil {
			t.Fatalf("case %d: expected validation error", i)
		}
	}

	monitor, err := NewPopulationMonitor(MonitorConfig{Breeder: NewGenetic(), PopulationSize: 4, Generations: 1})
	if err != nil {
		t.Fatalf("new monitor: %v", err)
	}
	if _, err := monitor.Run(context.Background(), nil, 2, nil); err == nil {
		t.Fatal("expected missing fitness error")
	}
	if _, err := monitor.Run(context.Background(), onesFitness, 0, nil); err == nil {
		t.Fatal("expected dimension error")
	}
}

func TestScoredVectorPhenotype(t *testing.T) {
	feasible := ScoredVector{
		Vector: model.DecisionVector{0.7, 0.9},
		Record: model.FitnessRecord{Objective: -2, Vector: model.DecisionVector{1, 0}},
	}
	if got := feasible.Phenotype(); !reflect.DeepEqual(got, model.DecisionVector{1, 0}) {
		t.Fatalf("expected reduced phenotype, got %v", got)
	}

	infeasible := ScoredVector{Vector: model.DecisionVector{0.7, 0.9}, Record: model.SentinelRecord()}
	if got := infeasible.Phenotype(); !reflect.DeepEqual(got, model.DecisionVector{0.7, 0.9}) {
		t.Fatalf("expected evaluated vector, got %v", got)
	}
}
