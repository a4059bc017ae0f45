package config

import (
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"metaflux/internal/evo"
	"metaflux/internal/model"
)

func validConfig() RunConfig {
	cfg := Default()
	cfg.ModelPath = "model.json"
	cfg.Objective = map[string]float64{"EX_p": 1}
	cfg.Oracle.URL = "http://localhost:8080"
	return cfg
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefaultMatchesDocumentedValues(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "genetic", cfg.Evolution.Algorithm)
	assert.Equal(t, "tournament", cfg.Evolution.Selection)
	assert.Equal(t, 5, cfg.Evolution.Generations)
	assert.Equal(t, 3, cfg.Sampling.WishedNumFeasibleStarts)
	assert.Equal(t, 3, cfg.Sampling.MaxMetarounds)
	assert.Equal(t, 2, cfg.Sampling.RoundsPerMetaround)
	assert.Equal(t, 5, cfg.Sampling.MaxDeactivatedReactions)
	assert.Equal(t, 1e-13, cfg.Sampling.MinAbsObjective)
	assert.Equal(t, []int{0, 5}, cfg.Postprocess.Budgets)
	assert.True(t, cfg.Kinetics.Kappa)
	assert.True(t, cfg.Kinetics.Gamma)
	assert.False(t, cfg.Kinetics.Iota)
	assert.True(t, math.IsInf(cfg.StagnationLimit(), 1))
	require.NoError(t, validConfig().Validate())
}

func TestLoadYAMLOverDefaults(t *testing.T) {
	path := writeFile(t, "run.yaml", `
model_path: ecoli.json
objective:
  EX_etoh: 1
sense: min
oracle:
  url: http://solver:9000
  timeout: 5m
evolution:
  algorithm: pso
  generations: 12
  max_rounds_same_objective: 4
storage:
  sink: badger
  scratch_dir: /tmp/scratch
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "ecoli.json", cfg.ModelPath)
	assert.Equal(t, "pso", cfg.Evolution.Algorithm)
	assert.Equal(t, 12, cfg.Evolution.Generations)
	assert.Equal(t, 4.0, cfg.StagnationLimit())
	assert.Equal(t, "badger", cfg.Storage.Sink)
	assert.Equal(t, "memory", cfg.Storage.Store, "unset keys keep defaults")
	assert.Equal(t, 3, cfg.Sampling.MaxMetarounds)

	sense, err := cfg.ObjectiveSense()
	require.NoError(t, err)
	assert.Equal(t, model.Minimize, sense)
	timeout, err := cfg.OracleTimeout()
	require.NoError(t, err)
	assert.Equal(t, 5*time.Minute, timeout)
}

func TestLoadJSON(t *testing.T) {
	path := writeFile(t, "run.json", `{
  "model_path": "m.json",
  "objective": {"EX_p": 1},
  "oracle": {"url": "http://solver"},
  "postprocess": {"enabled": false, "budgets": [0, 2, 5]}
}`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.False(t, cfg.Postprocess.Enabled)
	assert.Equal(t, []int{0, 2, 5}, cfg.Postprocess.Budgets)
	assert.Equal(t, "http://solver", cfg.Oracle.URL)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = Load(writeFile(t, "broken.yaml", "model_path: [unterminated"))
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("METAFLUX_ALGORITHM", "pso")
	t.Setenv("METAFLUX_GENERATIONS", "40")
	t.Setenv("METAFLUX_SEED", "99")
	t.Setenv("METAFLUX_MAX_ROUNDS_SAME_OBJECTIVE", "6")
	t.Setenv("METAFLUX_POSTPROCESS", "false")
	t.Setenv("METAFLUX_ORACLE_URL", "http://env-solver")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "pso", cfg.Evolution.Algorithm)
	assert.Equal(t, 40, cfg.Evolution.Generations)
	assert.Equal(t, int64(99), cfg.Seed)
	assert.Equal(t, 6.0, cfg.Evolution.MaxRoundsSameObjective)
	assert.False(t, cfg.Postprocess.Enabled)
	assert.Equal(t, "http://env-solver", cfg.Oracle.URL)
}

func TestEnvOverrideRejectsMalformedNumbers(t *testing.T) {
	t.Setenv("METAFLUX_WORKERS", "many")
	_, err := Load("")
	assert.ErrorContains(t, err, "METAFLUX_WORKERS")
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]func(*RunConfig){
		"missing model":       func(c *RunConfig) { c.ModelPath = "" },
		"missing objective":   func(c *RunConfig) { c.Objective = nil },
		"bad sense":           func(c *RunConfig) { c.Sense = "sideways" },
		"missing oracle":      func(c *RunConfig) { c.Oracle.URL = "" },
		"bad timeout":         func(c *RunConfig) { c.Oracle.Timeout = "soon" },
		"zero generations":    func(c *RunConfig) { c.Evolution.Generations = 0 },
		"unknown selection":   func(c *RunConfig) { c.Evolution.Selection = "roulette" },
		"mutation rate":       func(c *RunConfig) { c.Evolution.MutationRate = 2 },
		"negative pop":        func(c *RunConfig) { c.Evolution.PopulationSize = -1 },
		"negative budget":     func(c *RunConfig) { c.Postprocess.Budgets = []int{-1} },
		"zero metarounds":     func(c *RunConfig) { c.Sampling.MaxMetarounds = 0 },
		"unknown sink":        func(c *RunConfig) { c.Storage.Sink = "s3" },
		"sqlite without path": func(c *RunConfig) { c.Storage.Store = "sqlite" },
		"bad log level":       func(c *RunConfig) { c.Observability.LogLevel = "loud" },
		"bad log format":      func(c *RunConfig) { c.Observability.LogFormat = "xml" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := validConfig()
			mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestValidateRejectsUnknownAlgorithm(t *testing.T) {
	cfg := validConfig()
	cfg.Evolution.Algorithm = "annealing"
	assert.ErrorIs(t, cfg.Validate(), evo.ErrUnknownAlgorithm)

	cfg.Evolution.Algorithm = "pso"
	assert.NoError(t, cfg.Validate())
}
