package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"

	"github.com/spf13/pflag"

	"metaflux/internal/config"
	"metaflux/internal/model"
	"metaflux/internal/oracle/httporacle"
	"metaflux/internal/telemetry"
	"metaflux/pkg/metaflux"
)

// runFlags mirrors the config fields the CLI can override. Only flags the
// user set replace file or environment values.
type runFlags struct {
	configPath string

	modelPath       string
	variabilityPath string
	objective       map[string]string
	sense           string
	workers         int
	seed            int64
	oracleURL       string
	oracleTimeout   string

	algorithm    string
	selection    string
	mutationRate float64
	population   int
	generations  int
	stagnation   float64

	noPostprocess bool
	budgets       []int
	maxRounds     int

	sink         string
	scratchDir   string
	store        string
	sqlitePath   string
	artifactsDir string

	logLevel    string
	logFormat   string
	metricsAddr string
}

func (f *runFlags) bind(fs *pflag.FlagSet) {
	fs.StringVarP(&f.configPath, "config", "c", "", "run config file (YAML or JSON)")
	fs.StringVar(&f.modelPath, "model", "", "model JSON path")
	fs.StringVar(&f.variabilityPath, "variability", "", "precomputed variability JSON path")
	fs.StringToStringVar(&f.objective, "objective", nil, "objective coefficients, e.g. EX_p=1")
	fs.StringVar(&f.sense, "sense", "", "objective sense: max|min")
	fs.IntVar(&f.workers, "workers", 0, "parallel workers (0 = CPU count)")
	fs.Int64Var(&f.seed, "seed", 0, "random seed")
	fs.StringVar(&f.oracleURL, "oracle-url", "", "oracle service base URL")
	fs.StringVar(&f.oracleTimeout, "oracle-timeout", "", "per-call oracle timeout, e.g. 30m")

	fs.StringVar(&f.algorithm, "algorithm", "", "population strategy")
	fs.StringVar(&f.selection, "selection", "", "genetic parent selection: tournament|elite")
	fs.Float64Var(&f.mutationRate, "mutation-rate", 0, "genetic per-entry flip probability (0 = 1/dimension)")
	fs.IntVar(&f.population, "population", 0, "population size (0 = derived)")
	fs.IntVar(&f.generations, "generations", 0, "generations")
	fs.Float64Var(&f.stagnation, "max-rounds-same-objective", 0, "stop after this many generations without improvement (0 = never)")

	fs.BoolVar(&f.noPostprocess, "no-postprocess", false, "skip the local switch search")
	fs.IntSliceVar(&f.budgets, "budgets", nil, "postprocess change budgets")
	fs.IntVar(&f.maxRounds, "max-rounds", 0, "postprocess round limit (0 = until converged)")

	fs.StringVar(&f.sink, "sink", "", "result sink: dir|badger|memory")
	fs.StringVar(&f.scratchDir, "scratch-dir", "", "scratch parent directory for the result sink")
	fs.StringVar(&f.store, "store", "", "run store: memory|sqlite")
	fs.StringVar(&f.sqlitePath, "sqlite-path", "", "sqlite database path")
	fs.StringVar(&f.artifactsDir, "artifacts-dir", "", "run artifacts directory")

	fs.StringVar(&f.logLevel, "log-level", "", "debug|info|warn|error")
	fs.StringVar(&f.logFormat, "log-format", "", "text|json")
	fs.StringVar(&f.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
}

// load reads the config file and environment, then applies changed flags.
func (f *runFlags) load(fs *pflag.FlagSet) (config.RunConfig, error) {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return config.RunConfig{}, err
	}
	set := func(name string, apply func()) {
		if fs.Changed(name) {
			apply()
		}
	}
	if fs.Changed("objective") {
		objective, err := parseObjective(f.objective)
		if err != nil {
			return config.RunConfig{}, err
		}
		cfg.Objective = objective
	}
	set("model", func() { cfg.ModelPath = f.modelPath })
	set("variability", func() { cfg.VariabilityPath = f.variabilityPath })
	set("sense", func() { cfg.Sense = f.sense })
	set("workers", func() { cfg.Workers = f.workers })
	set("seed", func() { cfg.Seed = f.seed })
	set("oracle-url", func() { cfg.Oracle.URL = f.oracleURL })
	set("oracle-timeout", func() { cfg.Oracle.Timeout = f.oracleTimeout })
	set("algorithm", func() { cfg.Evolution.Algorithm = f.algorithm })
	set("selection", func() { cfg.Evolution.Selection = f.selection })
	set("mutation-rate", func() { cfg.Evolution.MutationRate = f.mutationRate })
	set("population", func() { cfg.Evolution.PopulationSize = f.population })
	set("generations", func() { cfg.Evolution.Generations = f.generations })
	set("max-rounds-same-objective", func() { cfg.Evolution.MaxRoundsSameObjective = f.stagnation })
	set("no-postprocess", func() { cfg.Postprocess.Enabled = !f.noPostprocess })
	set("budgets", func() { cfg.Postprocess.Budgets = f.budgets })
	set("max-rounds", func() { cfg.Postprocess.MaxRounds = f.maxRounds })
	set("sink", func() { cfg.Storage.Sink = f.sink })
	set("scratch-dir", func() { cfg.Storage.ScratchDir = f.scratchDir })
	set("store", func() { cfg.Storage.Store = f.store })
	set("sqlite-path", func() { cfg.Storage.SQLitePath = f.sqlitePath })
	set("artifacts-dir", func() { cfg.Storage.ArtifactsDir = f.artifactsDir })
	set("log-level", func() { cfg.Observability.LogLevel = f.logLevel })
	set("log-format", func() { cfg.Observability.LogFormat = f.logFormat })
	set("metrics-addr", func() { cfg.Observability.MetricsAddr = f.metricsAddr })

	if err := cfg.Validate(); err != nil {
		return config.RunConfig{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func parseObjective(raw map[string]string) (map[string]float64, error) {
	out := make(map[string]float64, len(raw))
	for id, value := range raw {
		coefficient, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return nil, fmt.Errorf("objective coefficient for %s: %w", id, err)
		}
		out[id] = coefficient
	}
	return out, nil
}

// session holds what optimize and postprocess share once the config is final.
type session struct {
	cfg         config.RunConfig
	logger      *slog.Logger
	client      *metaflux.Client
	solver      *telemetry.InstrumentedSolver
	model       *model.Model
	variability model.Variability
	stopMetrics context.CancelFunc
}

func newSession(ctx context.Context, cfg config.RunConfig, stderr io.Writer) (*session, error) {
	logger, err := telemetry.NewLogger(stderr, cfg.Observability.LogLevel, cfg.Observability.LogFormat)
	if err != nil {
		return nil, err
	}
	m, err := model.LoadModel(cfg.ModelPath)
	if err != nil {
		return nil, err
	}
	var variability model.Variability
	if cfg.VariabilityPath != "" {
		if variability, err = model.LoadVariability(cfg.VariabilityPath); err != nil {
			return nil, err
		}
	}
	timeout, err := cfg.OracleTimeout()
	if err != nil {
		return nil, err
	}

	client, err := metaflux.New(metaflux.Options{
		StoreKind:    cfg.Storage.Store,
		DBPath:       cfg.Storage.SQLitePath,
		ArtifactsDir: cfg.Storage.ArtifactsDir,
		Logger:       logger,
	})
	if err != nil {
		return nil, err
	}
	if err := client.Init(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}

	rt := &session{
		cfg:         cfg,
		logger:      logger,
		client:      client,
		solver:      telemetry.Instrument(httporacle.NewClient(cfg.Oracle.URL).WithTimeout(timeout)),
		model:       m,
		variability: variability,
		stopMetrics: func() {},
	}
	if cfg.Observability.MetricsAddr != "" {
		metricsCtx, cancel := context.WithCancel(ctx)
		rt.stopMetrics = cancel
		go func() {
			if err := telemetry.ServeMetrics(metricsCtx, cfg.Observability.MetricsAddr, logger); err != nil {
				logger.Error("metrics endpoint stopped", "error", err)
			}
		}()
	}
	return rt, nil
}

func (rt *session) Close() error {
	rt.stopMetrics()
	return rt.client.Close()
}

// queryFlags select where stored runs are read from.
type queryFlags struct {
	configPath   string
	artifactsDir string
	store        string
	sqlitePath   string
}

func (f *queryFlags) bind(fs *pflag.FlagSet) {
	fs.StringVarP(&f.configPath, "config", "c", "", "run config file (YAML or JSON)")
	fs.StringVar(&f.artifactsDir, "artifacts-dir", "", "run artifacts directory")
	fs.StringVar(&f.store, "store", "", "run store: memory|sqlite")
	fs.StringVar(&f.sqlitePath, "sqlite-path", "", "sqlite database path")
}

func (f *queryFlags) client(ctx context.Context, fs *pflag.FlagSet) (*metaflux.Client, error) {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return nil, err
	}
	if fs.Changed("artifacts-dir") {
		cfg.Storage.ArtifactsDir = f.artifactsDir
	}
	if fs.Changed("store") {
		cfg.Storage.Store = f.store
	}
	if fs.Changed("sqlite-path") {
		cfg.Storage.SQLitePath = f.sqlitePath
	}
	if cfg.Storage.ArtifactsDir == "" {
		return nil, errors.New("artifacts directory is required")
	}
	client, err := metaflux.New(metaflux.Options{
		StoreKind:    cfg.Storage.Store,
		DBPath:       cfg.Storage.SQLitePath,
		ArtifactsDir: cfg.Storage.ArtifactsDir,
		Logger:       telemetry.Discard(),
	})
	if err != nil {
		return nil, err
	}
	if err := client.Init(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}
