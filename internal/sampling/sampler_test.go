package sampling

import (
	"context"
	"errors"
	"sort"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"metaflux/internal/model"
	"metaflux/internal/oracle"
	"metaflux/internal/oracle/oracletest"
	"metaflux/internal/telemetry"
)

func samplingModel() *model.Model {
	return &model.Model{
		Reactions: map[string]model.Reaction{
			"r1":   {MaxFlux: 10},
			"r2":   {MaxFlux: 10},
			"r3":   {MaxFlux: 10},
			"r4":   {MaxFlux: 10},
			"EX_p": {MaxFlux: 10},
		},
	}
}

func samplingConfig(solver *oracletest.Solver) Config {
	return Config{
		Model:     samplingModel(),
		Objective: model.Objective{"EX_p": 1},
		Sense:     model.Maximize,
		Variability: model.Variability{
			"r1": {Min: 0, Max: 10}, "r2": {Min: 0, Max: 10}, "r3": {Min: 0, Max: 10},
			"r4": {Min: 1, Max: 10}, "EX_p": {Min: 0, Max: 10},
		},
		Kinetics:                oracle.DefaultKinetics(),
		MaxDeactivatedReactions: 2,
		WishedNumFeasibleStarts: 3,
		MaxMetarounds:           3,
		RoundsPerMetaround:      2,
		MinAbsObjective:         1e-6,
		Workers:                 2,
		Seed:                    7,
		LP:                      solver,
		NLP:                     solver,
		Logger:                  telemetry.Discard(),
	}
}

// knockoutSolver makes every reaction not ignored carry flux 1.
func knockoutSolver() *oracletest.Solver {
	return &oracletest.Solver{
		LP: func(_ context.Context, req oracle.LPRequest) (model.Result, error) {
			ignored := map[string]bool{}
			for _, id := range req.Ignored {
				ignored[id] = true
			}
			values := map[string]float64{}
			for id := range req.Model.Reactions {
				if !ignored[id] {
					values[id] = 1
				}
			}
			return oracletest.Feasible(1, values), nil
		},
		NLP: func(_ context.Context, req oracle.NLPRequest) (model.Result, error) {
			values := map[string]float64{}
			for id := range oracletest.ActiveSeedIDs(req) {
				values[id] = 1
			}
			return oracletest.Feasible(2, values), nil
		},
	}
}

func TestDeactivatablePool(t *testing.T) {
	cfg := samplingConfig(&oracletest.Solver{})
	cfg.Variability["ghost"] = model.Range{}

	pool := Deactivatable(cfg.Model, cfg.Variability, cfg.Objective, []string{"r1"}, []string{"r2"})
	assert.Equal(t, []string{"r3"}, pool)
}

func TestSampleScenarioCBaselineOnly(t *testing.T) {
	solver := knockoutSolver()
	cfg := samplingConfig(solver)
	cfg.WishedNumFeasibleStarts = 1
	cfg.Workers = 1
	cfg.RoundsPerMetaround = 1
	cfg.AlwaysDeactivated = []string{"r3"}
	s, err := New(cfg)
	require.NoError(t, err)

	starts, err := s.Sample(context.Background())
	require.NoError(t, err)

	require.Len(t, starts, 1)
	lpCalls := solver.LPCalls()
	require.Len(t, lpCalls, 1)
	assert.Equal(t, []string{"r3"}, lpCalls[0].Ignored)
	assert.False(t, lpCalls[0].Loop)
	for key, start := range starts {
		assert.Equal(t, model.SignatureKey(start.Signature), key)
		assert.NotContains(t, start.Signature, "r3")
	}
}

func TestSampleDeduplicatesSignatures(t *testing.T) {
	solver := knockoutSolver()
	cfg := samplingConfig(solver)
	cfg.WishedNumFeasibleStarts = 100
	cfg.Workers = 3
	s, err := New(cfg)
	require.NoError(t, err)

	starts, err := s.Sample(context.Background())
	require.NoError(t, err)

	// all metarounds run since 100 distinct starts are impossible
	assert.Len(t, solver.LPCalls(), 3*3*2)
	seen := map[string]bool{}
	for _, start := range starts {
		sorted := append([]string(nil), start.Signature...)
		sort.Strings(sorted)
		key := model.SignatureKey(sorted)
		require.False(t, seen[key], "duplicate signature %v", sorted)
		seen[key] = true
	}
	// r4 has a positive minimum and is never knocked out
	for _, start := range starts {
		assert.Contains(t, start.Signature, "r4")
	}
}

func TestSampleStopsWhenWishedCountReached(t *testing.T) {
	var calls atomic.Int32
	solver := knockoutSolver()
	inner := solver.LP
	solver.LP = func(ctx context.Context, req oracle.LPRequest) (model.Result, error) {
		calls.Add(1)
		return inner(ctx, req)
	}
	cfg := samplingConfig(solver)
	cfg.WishedNumFeasibleStarts = 1
	s, err := New(cfg)
	require.NoError(t, err)

	_, err = s.Sample(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(cfg.Workers*cfg.RoundsPerMetaround), calls.Load())
}

func TestSampleFailsWithoutFeasibleStart(t *testing.T) {
	solver := &oracletest.Solver{
		LP: func(context.Context, oracle.LPRequest) (model.Result, error) {
			return model.Result{}, errors.New("solver error")
		},
	}
	s, err := New(samplingConfig(solver))
	require.NoError(t, err)

	_, err = s.Sample(context.Background())
	require.ErrorIs(t, err, ErrNoFeasibleStart)
	assert.Len(t, solver.LPCalls(), 3*2*2)
}

func TestSampleSkipsInactiveErrorScenario(t *testing.T) {
	solver := &oracletest.Solver{
		LP: func(context.Context, oracle.LPRequest) (model.Result, error) {
			return oracletest.Feasible(1, map[string]float64{"r1": 1}), nil
		},
		NLP: func(context.Context, oracle.NLPRequest) (model.Result, error) {
			return oracletest.Feasible(1, map[string]float64{"r1": 1}), nil
		},
	}
	cfg := samplingConfig(solver)
	cfg.ErrorScenario = []string{"r2", "not_in_model"}
	s, err := New(cfg)
	require.NoError(t, err)

	_, err = s.Sample(context.Background())
	require.ErrorIs(t, err, ErrNoFeasibleStart)
	assert.Empty(t, solver.NLPCalls())
}

func TestSampleSkipsSmallObjectives(t *testing.T) {
	solver := knockoutSolver()
	solver.NLP = func(context.Context, oracle.NLPRequest) (model.Result, error) {
		return oracletest.Feasible(1e-9, map[string]float64{"r1": 1}), nil
	}
	s, err := New(samplingConfig(solver))
	require.NoError(t, err)

	_, err = s.Sample(context.Background())
	require.ErrorIs(t, err, ErrNoFeasibleStart)
}

func TestSampleMergesWorkingResults(t *testing.T) {
	solver := &oracletest.Solver{}
	cfg := samplingConfig(solver)
	cfg.WishedNumFeasibleStarts = 1
	cfg.WorkingResults = []model.Result{oracletest.Feasible(3, map[string]float64{"r1": 1, "EX_p": 3})}
	s, err := New(cfg)
	require.NoError(t, err)

	starts, err := s.Sample(context.Background())
	require.NoError(t, err)
	require.Len(t, starts, 1)
	start := starts[model.SignatureKey([]string{"EX_p", "r1"})]
	assert.Equal(t, 3.0, start.Result.Objective())
}

func TestNewValidatesConfig(t *testing.T) {
	solver := &oracletest.Solver{}
	cases := []func(*Config){
		func(c *Config) { c.WishedNumFeasibleStarts = 0 },
		func(c *Config) { c.MaxMetarounds = 0 },
		func(c *Config) { c.RoundsPerMetaround = 0 },
		func(c *Config) { c.MaxDeactivatedReactions = -1 },
		func(c *Config) { c.Sense = 0 },
		func(c *Config) { c.LP = nil },
	}
	for i, mutate := range cases {
		cfg := samplingConfig(solver)
		mutate(&cfg)
		_, err := New(cfg)
		require.Error(t, err, "case %d", i)
	}
}
