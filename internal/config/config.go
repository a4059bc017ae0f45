// Package config loads run configuration from YAML or JSON files with
// METAFLUX_* environment overrides.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"metaflux/internal/evo"
	"metaflux/internal/model"
	"metaflux/internal/oracle"
	"metaflux/internal/telemetry"
)

const envPrefix = "METAFLUX_"

type RunConfig struct {
	ModelPath string `yaml:"model_path" json:"model_path"`
	// VariabilityPath optionally points at precomputed flux ranges.
	VariabilityPath string             `yaml:"variability_path,omitempty" json:"variability_path,omitempty"`
	Objective       map[string]float64 `yaml:"objective" json:"objective"`
	Sense           string             `yaml:"sense" json:"sense"`
	ErrorScenario   []string           `yaml:"error_scenario,omitempty" json:"error_scenario,omitempty"`
	Workers         int                `yaml:"workers" json:"workers"`
	Seed            int64              `yaml:"seed" json:"seed"`

	Oracle        OracleConfig        `yaml:"oracle" json:"oracle"`
	Sampling      SamplingConfig      `yaml:"sampling" json:"sampling"`
	Evolution     EvolutionConfig     `yaml:"evolution" json:"evolution"`
	Postprocess   PostprocessConfig   `yaml:"postprocess" json:"postprocess"`
	Kinetics      oracle.Kinetics     `yaml:"kinetics" json:"kinetics"`
	Storage       StorageConfig       `yaml:"storage" json:"storage"`
	Observability ObservabilityConfig `yaml:"observability" json:"observability"`
}

type OracleConfig struct {
	URL     string `yaml:"url" json:"url"`
	Timeout string `yaml:"timeout" json:"timeout"`
}

type SamplingConfig struct {
	MaxDeactivatedReactions int      `yaml:"max_deactivated_reactions" json:"max_deactivated_reactions"`
	AlwaysDeactivated       []string `yaml:"always_deactivated,omitempty" json:"always_deactivated,omitempty"`
	WishedNumFeasibleStarts int      `yaml:"wished_num_feasible_starts" json:"wished_num_feasible_starts"`
	MaxMetarounds           int      `yaml:"max_metarounds" json:"max_metarounds"`
	RoundsPerMetaround      int      `yaml:"rounds_per_metaround" json:"rounds_per_metaround"`
	MinAbsObjective         float64  `yaml:"min_abs_objective" json:"min_abs_objective"`
}

type EvolutionConfig struct {
	Algorithm string `yaml:"algorithm" json:"algorithm"`
	// Selection and MutationRate apply to the genetic algorithm; a zero
	// rate flips one entry per offspring on average.
	Selection    string  `yaml:"selection,omitempty" json:"selection,omitempty"`
	MutationRate float64 `yaml:"mutation_rate,omitempty" json:"mutation_rate,omitempty"`
	// PopulationSize of zero derives the size from the search space.
	PopulationSize int `yaml:"population_size" json:"population_size"`
	Generations    int `yaml:"generations" json:"generations"`
	// MaxRoundsSameObjective of zero disables the stagnation stop.
	MaxRoundsSameObjective float64 `yaml:"max_rounds_same_objective" json:"max_rounds_same_objective"`
	ObjectiveHistoryPath   string  `yaml:"objective_history_path,omitempty" json:"objective_history_path,omitempty"`
}

type PostprocessConfig struct {
	Enabled          bool    `yaml:"enabled" json:"enabled"`
	Budgets          []int   `yaml:"budgets" json:"budgets"`
	ObjectiveEpsilon float64 `yaml:"objective_epsilon" json:"objective_epsilon"`
	BigM             float64 `yaml:"big_m" json:"big_m"`
	MinImprovement   float64 `yaml:"min_improvement" json:"min_improvement"`
	MaxRounds        int     `yaml:"max_rounds" json:"max_rounds"`
}

type StorageConfig struct {
	// Sink is one of dir, badger or memory.
	Sink       string `yaml:"sink" json:"sink"`
	ScratchDir string `yaml:"scratch_dir,omitempty" json:"scratch_dir,omitempty"`
	// Store is one of memory or sqlite.
	Store        string `yaml:"store" json:"store"`
	SQLitePath   string `yaml:"sqlite_path,omitempty" json:"sqlite_path,omitempty"`
	ArtifactsDir string `yaml:"artifacts_dir" json:"artifacts_dir"`
}

type ObservabilityConfig struct {
	LogLevel    string `yaml:"log_level" json:"log_level"`
	LogFormat   string `yaml:"log_format" json:"log_format"`
	MetricsAddr string `yaml:"metrics_addr,omitempty" json:"metrics_addr,omitempty"`
}

func Default() RunConfig {
	return RunConfig{
		Sense: "max",
		Seed:  1,
		Oracle: OracleConfig{
			Timeout: "30m",
		},
		Sampling: SamplingConfig{
			MaxDeactivatedReactions: 5,
			WishedNumFeasibleStarts: 3,
			MaxMetarounds:           3,
			RoundsPerMetaround:      2,
			MinAbsObjective:         1e-13,
		},
		Evolution: EvolutionConfig{
			Algorithm:   "genetic",
			Selection:   "tournament",
			Generations: 5,
		},
		Postprocess: PostprocessConfig{
			Enabled:        true,
			Budgets:        []int{0, 5},
			BigM:           1e5,
			MinImprovement: 1e-6,
		},
		Kinetics: oracle.DefaultKinetics(),
		Storage: StorageConfig{
			Sink:         "dir",
			Store:        "memory",
			ArtifactsDir: "metaflux-runs",
		},
		Observability: ObservabilityConfig{
			LogLevel:  "info",
			LogFormat: "text",
		},
	}
}

// Load reads path over Default() and applies environment overrides. A
// missing file is an error; an empty path yields defaults plus environment.
func Load(path string) (RunConfig, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return RunConfig{}, fmt.Errorf("read config: %w", err)
		}
		if err := decode(data, &cfg); err != nil {
			return RunConfig{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := ApplyEnv(&cfg); err != nil {
		return RunConfig{}, err
	}
	return cfg, nil
}

// decode tries YAML first, then JSON.
func decode(data []byte, cfg *RunConfig) error {
	yamlErr := yaml.Unmarshal(data, cfg)
	if yamlErr == nil {
		return nil
	}
	if jsonErr := json.Unmarshal(data, cfg); jsonErr != nil {
		return fmt.Errorf("tried YAML and JSON: YAML error: %v, JSON error: %w", yamlErr, jsonErr)
	}
	return nil
}

// ApplyEnv overrides cfg from METAFLUX_* variables. Malformed numbers are
// reported instead of silently ignored.
func ApplyEnv(cfg *RunConfig) error {
	strs := map[string]*string{
		"MODEL_PATH":       &cfg.ModelPath,
		"VARIABILITY_PATH": &cfg.VariabilityPath,
		"SENSE":            &cfg.Sense,
		"ORACLE_URL":       &cfg.Oracle.URL,
		"ORACLE_TIMEOUT":   &cfg.Oracle.Timeout,
		"ALGORITHM":        &cfg.Evolution.Algorithm,
		"SELECTION":        &cfg.Evolution.Selection,
		"SINK":             &cfg.Storage.Sink,
		"SCRATCH_DIR":      &cfg.Storage.ScratchDir,
		"STORE":            &cfg.Storage.Store,
		"SQLITE_PATH":      &cfg.Storage.SQLitePath,
		"ARTIFACTS_DIR":    &cfg.Storage.ArtifactsDir,
		"LOG_LEVEL":        &cfg.Observability.LogLevel,
		"LOG_FORMAT":       &cfg.Observability.LogFormat,
		"METRICS_ADDR":     &cfg.Observability.MetricsAddr,
	}
	for name, field := range strs {
		if v, ok := os.LookupEnv(envPrefix + name); ok {
			*field = v
		}
	}

	ints := map[string]*int{
		"WORKERS":         &cfg.Workers,
		"GENERATIONS":     &cfg.Evolution.Generations,
		"POPULATION_SIZE": &cfg.Evolution.PopulationSize,
	}
	for name, field := range ints {
		if v, ok := os.LookupEnv(envPrefix + name); ok {
			i, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				return fmt.Errorf("%s%s: %w", envPrefix, name, err)
			}
			*field = i
		}
	}

	if v, ok := os.LookupEnv(envPrefix + "SEED"); ok {
		seed, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return fmt.Errorf("%sSEED: %w", envPrefix, err)
		}
		cfg.Seed = seed
	}
	if v, ok := os.LookupEnv(envPrefix + "MAX_ROUNDS_SAME_OBJECTIVE"); ok {
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return fmt.Errorf("%sMAX_ROUNDS_SAME_OBJECTIVE: %w", envPrefix, err)
		}
		cfg.Evolution.MaxRoundsSameObjective = f
	}
	if v, ok := os.LookupEnv(envPrefix + "MUTATION_RATE"); ok {
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return fmt.Errorf("%sMUTATION_RATE: %w", envPrefix, err)
		}
		cfg.Evolution.MutationRate = f
	}
	if v, ok := os.LookupEnv(envPrefix + "POSTPROCESS"); ok {
		cfg.Postprocess.Enabled = v == "true" || v == "1"
	}
	return nil
}

func (c RunConfig) Validate() error {
	if c.ModelPath == "" {
		return errors.New("model_path is required")
	}
	if len(c.Objective) == 0 {
		return errors.New("objective is required")
	}
	if _, err := c.ObjectiveSense(); err != nil {
		return err
	}
	if c.Workers < 0 {
		return errors.New("workers must be >= 0")
	}
	if c.Oracle.URL == "" {
		return errors.New("oracle.url is required")
	}
	if _, err := c.OracleTimeout(); err != nil {
		return err
	}

	s := c.Sampling
	if s.MaxDeactivatedReactions < 1 {
		return errors.New("sampling.max_deactivated_reactions must be >= 1")
	}
	if s.WishedNumFeasibleStarts < 1 {
		return errors.New("sampling.wished_num_feasible_starts must be >= 1")
	}
	if s.MaxMetarounds < 1 || s.RoundsPerMetaround < 1 {
		return errors.New("sampling.max_metarounds and sampling.rounds_per_metaround must be >= 1")
	}
	if s.MinAbsObjective < 0 {
		return errors.New("sampling.min_abs_objective must be >= 0")
	}

	e := c.Evolution
	if e.Algorithm == "" {
		return errors.New("evolution.algorithm is required")
	}
	if !contains(evo.ListStrategies(), e.Algorithm) {
		return fmt.Errorf("%w: evolution.algorithm %q (available: %v)", evo.ErrUnknownAlgorithm, e.Algorithm, evo.ListStrategies())
	}
	if _, err := evo.SelectorByName(e.Selection); err != nil {
		return fmt.Errorf("evolution.selection: %w", err)
	}
	if e.MutationRate < 0 || e.MutationRate > 1 {
		return errors.New("evolution.mutation_rate must be in [0,1]")
	}
	if e.Generations <= 0 {
		return errors.New("evolution.generations must be > 0")
	}
	if e.PopulationSize < 0 {
		return errors.New("evolution.population_size must be >= 0")
	}
	if e.MaxRoundsSameObjective < 0 {
		return errors.New("evolution.max_rounds_same_objective must be >= 0")
	}

	p := c.Postprocess
	for _, budget := range p.Budgets {
		if budget < 0 {
			return fmt.Errorf("postprocess.budgets must be >= 0, got %d", budget)
		}
	}
	if p.ObjectiveEpsilon < 0 || p.BigM < 0 || p.MinImprovement < 0 || p.MaxRounds < 0 {
		return errors.New("postprocess numeric settings must be >= 0")
	}

	switch c.Storage.Sink {
	case "dir", "badger", "memory":
	default:
		return fmt.Errorf("unsupported storage.sink: %s", c.Storage.Sink)
	}
	switch c.Storage.Store {
	case "memory":
	case "sqlite":
		if c.Storage.SQLitePath == "" {
			return errors.New("storage.sqlite_path is required for the sqlite store")
		}
	default:
		return fmt.Errorf("unsupported storage.store: %s", c.Storage.Store)
	}
	if c.Storage.ArtifactsDir == "" {
		return errors.New("storage.artifacts_dir is required")
	}

	if _, err := telemetry.ParseLevel(c.Observability.LogLevel); err != nil {
		return err
	}
	switch strings.ToLower(c.Observability.LogFormat) {
	case "", "text", "json":
	default:
		return fmt.Errorf("unsupported observability.log_format: %s", c.Observability.LogFormat)
	}
	return nil
}

func (c RunConfig) ObjectiveSense() (model.Sense, error) {
	switch strings.ToLower(c.Sense) {
	case "max", "maximize":
		return model.Maximize, nil
	case "min", "minimize":
		return model.Minimize, nil
	default:
		return 0, fmt.Errorf("unsupported sense: %q (want max or min)", c.Sense)
	}
}

func (c RunConfig) OracleTimeout() (time.Duration, error) {
	if c.Oracle.Timeout == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(c.Oracle.Timeout)
	if err != nil {
		return 0, fmt.Errorf("oracle.timeout: %w", err)
	}
	if d < 0 {
		return 0, errors.New("oracle.timeout must be >= 0")
	}
	return d, nil
}

// StagnationLimit maps the file value onto the optimizer's, where +Inf
// disables the stop.
func (c RunConfig) StagnationLimit() float64 {
	if c.Evolution.MaxRoundsSameObjective <= 0 {
		return math.Inf(1)
	}
	return c.Evolution.MaxRoundsSameObjective
}

func contains(values []string, want string) bool {
	for _, v := range values {
		if v == want {
			return true
		}
	}
	return false
}
