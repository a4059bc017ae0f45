// Package metaflux is the embeddable entry point: it owns a run store and an
// artifacts directory and exposes optimize, postprocess and run queries.
package metaflux

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"metaflux/internal/config"
	"metaflux/internal/model"
	"metaflux/internal/oracle"
	"metaflux/internal/pipeline"
	"metaflux/internal/stats"
	"metaflux/internal/storage"
	"metaflux/internal/telemetry"
)

const (
	defaultArtifactsDir = "metaflux-runs"
	defaultExportsDir   = "exports"
	defaultDBPath       = "metaflux.db"
)

type Options struct {
	StoreKind    string
	DBPath       string
	ArtifactsDir string
	ExportsDir   string
	Logger       *slog.Logger
}

type Client struct {
	store  storage.Store
	logger *slog.Logger

	artifactsDir string
	exportsDir   string
}

type OptimizeRequest struct {
	Config      config.RunConfig
	Model       *model.Model
	Variability model.Variability
	Solver      oracle.Solver
	Analyzer    oracle.VariabilityAnalyzer
	RunID       string
}

type RunSummary struct {
	RunID            string
	ArtifactsDir     string
	Dimension        int
	FeasibleStarts   int
	Generations      int
	StopReason       string
	DistinctResults  int
	BestObjective    float64
	Best             model.Result
	BestByGeneration []float64
	Rounds           []model.PostprocessRound
}

type PostprocessRequest struct {
	Config      config.RunConfig
	Model       *model.Model
	Variability model.Variability
	Start       model.Result
	Solver      oracle.Solver
	Analyzer    oracle.VariabilityAnalyzer
	// RunID attaches the rounds to a stored run.
	RunID string
}

type PostprocessSummary struct {
	Best   model.Result
	Rounds []model.PostprocessRound
}

type RunsRequest struct {
	Limit int
}

type RunItem struct {
	RunID           string
	CreatedAtUTC    string
	Algorithm       string
	Sense           string
	Seed            int64
	Population      int
	Generations     int
	DistinctResults int
	BestObjective   float64
}

type RunRef struct {
	RunID  string
	Latest bool
	Limit  int
}

type ExportRequest struct {
	RunID  string
	Latest bool
	OutDir string
}

type ExportSummary struct {
	RunID     string
	Directory string
}

func New(opts Options) (*Client, error) {
	storeKind := opts.StoreKind
	if storeKind == "" {
		storeKind = "memory"
	}
	dbPath := opts.DBPath
	if dbPath == "" {
		dbPath = defaultDBPath
	}
	artifactsDir := opts.ArtifactsDir
	if artifactsDir == "" {
		artifactsDir = defaultArtifactsDir
	}
	exportsDir := opts.ExportsDir
	if exportsDir == "" {
		exportsDir = defaultExportsDir
	}

	store, err := storage.NewStore(storeKind, dbPath)
	if err != nil {
		return nil, err
	}
	return &Client{
		store:        store,
		logger:       telemetry.OrDefault(opts.Logger),
		artifactsDir: artifactsDir,
		exportsDir:   exportsDir,
	}, nil
}

func (c *Client) Close() error {
	return storage.CloseIfSupported(c.store)
}

func (c *Client) Init(ctx context.Context) error {
	return c.store.Init(ctx)
}

// Optimize runs a full search and records it in the client's store and
// artifacts directory. Config.Storage.ArtifactsDir is overridden.
func (c *Client) Optimize(ctx context.Context, req OptimizeRequest) (RunSummary, error) {
	cfg := req.Config
	cfg.Storage.ArtifactsDir = c.artifactsDir
	sense, err := cfg.ObjectiveSense()
	if err != nil {
		return RunSummary{}, err
	}

	out, err := pipeline.Optimize(ctx, pipeline.Request{
		Config:      cfg,
		Model:       req.Model,
		Variability: req.Variability,
		Solver:      req.Solver,
		Analyzer:    req.Analyzer,
		Store:       c.store,
		RunID:       req.RunID,
		Logger:      c.logger,
	})
	if err != nil {
		return RunSummary{}, err
	}

	summary := RunSummary{
		RunID:            out.RunID,
		ArtifactsDir:     out.RunDir,
		Dimension:        len(out.Couples),
		FeasibleStarts:   out.FeasibleStarts,
		Generations:      out.History.Generations,
		StopReason:       string(out.History.StopReason),
		DistinctResults:  len(out.Groups),
		BestByGeneration: out.History.BestByGeneration,
		Rounds:           out.Rounds,
	}
	if best, ok := out.Best(sense); ok {
		summary.Best = best
		summary.BestObjective = best.Objective()
	}
	if len(out.Rounds) > 0 {
		summary.Best = out.Refined
		summary.BestObjective = out.Refined.Objective()
	}
	return summary, nil
}

func (c *Client) Postprocess(ctx context.Context, req PostprocessRequest) (PostprocessSummary, error) {
	cfg := req.Config
	cfg.Storage.ArtifactsDir = c.artifactsDir
	best, rounds, err := pipeline.Refine(ctx, pipeline.RefineRequest{
		Config:      cfg,
		Model:       req.Model,
		Variability: req.Variability,
		Start:       req.Start,
		Solver:      req.Solver,
		Analyzer:    req.Analyzer,
		Store:       c.store,
		RunID:       req.RunID,
		Logger:      c.logger,
	})
	if err != nil {
		return PostprocessSummary{}, err
	}
	return PostprocessSummary{Best: best, Rounds: rounds}, nil
}

func (c *Client) Runs(_ context.Context, req RunsRequest) ([]RunItem, error) {
	if req.Limit <= 0 {
		req.Limit = 20
	}

	entries, err := stats.ListRunIndex(c.artifactsDir)
	if err != nil {
		return nil, err
	}
	if len(entries) > req.Limit {
		entries = entries[:req.Limit]
	}

	out := make([]RunItem, 0, len(entries))
	for _, e := range entries {
		out = append(out, RunItem{
			RunID:           e.RunID,
			CreatedAtUTC:    e.CreatedAtUTC,
			Algorithm:       e.Algorithm,
			Sense:           e.Sense,
			Seed:            e.Seed,
			Population:      e.PopulationSize,
			Generations:     e.Generations,
			DistinctResults: e.DistinctResults,
			BestObjective:   e.FinalBestObjective,
		})
	}
	return out, nil
}

func (c *Client) Export(_ context.Context, req ExportRequest) (ExportSummary, error) {
	if req.OutDir == "" {
		req.OutDir = c.exportsDir
	}
	runID, err := c.resolveRunID(RunRef{RunID: req.RunID, Latest: req.Latest}, "export")
	if err != nil {
		return ExportSummary{}, err
	}

	exportedDir, err := stats.ExportRunArtifacts(c.artifactsDir, runID, req.OutDir)
	if err != nil {
		return ExportSummary{}, err
	}
	return ExportSummary{RunID: runID, Directory: filepath.Clean(exportedDir)}, nil
}

// Run returns the stored summary of one run.
func (c *Client) Run(ctx context.Context, ref RunRef) (model.RunRecord, error) {
	runID, err := c.resolveRunID(ref, "run lookup")
	if err != nil {
		return model.RunRecord{}, err
	}
	run, ok, err := c.store.GetRun(ctx, runID)
	if err != nil {
		return model.RunRecord{}, err
	}
	if !ok {
		return model.RunRecord{}, fmt.Errorf("run not found: %s", runID)
	}
	return run, nil
}

func (c *Client) Diagnostics(ctx context.Context, ref RunRef) ([]model.GenerationDiagnostics, error) {
	runID, err := c.resolveRunID(ref, "diagnostics")
	if err != nil {
		return nil, err
	}
	diagnostics, ok, err := c.store.GetGenerationDiagnostics(ctx, runID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("diagnostics not found for run id: %s", runID)
	}
	if ref.Limit > 0 && len(diagnostics) > ref.Limit {
		diagnostics = diagnostics[:ref.Limit]
	}
	out := make([]model.GenerationDiagnostics, len(diagnostics))
	copy(out, diagnostics)
	return out, nil
}

// Results reads the aggregated result groups written with the run.
func (c *Client) Results(_ context.Context, ref RunRef) ([]model.ObjectiveGroup, error) {
	runID, err := c.resolveRunID(ref, "results")
	if err != nil {
		return nil, err
	}
	groups, ok, err := stats.ReadResults(c.artifactsDir, runID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("results not found for run id: %s", runID)
	}
	if ref.Limit > 0 && len(groups) > ref.Limit {
		groups = groups[:ref.Limit]
	}
	return groups, nil
}

func (c *Client) PostprocessRounds(ctx context.Context, ref RunRef) ([]model.PostprocessRound, error) {
	runID, err := c.resolveRunID(ref, "postprocess rounds")
	if err != nil {
		return nil, err
	}
	rounds, ok, err := c.store.GetPostprocessRounds(ctx, runID)
	if err != nil {
		return nil, err
	}
	if !ok {
		rounds, ok, err = stats.ReadPostprocessRounds(c.artifactsDir, runID)
		if err != nil {
			return nil, err
		}
	}
	if !ok {
		return nil, fmt.Errorf("postprocess rounds not found for run id: %s", runID)
	}
	return rounds, nil
}

func (c *Client) resolveRunID(ref RunRef, what string) (string, error) {
	if ref.RunID != "" && ref.Latest {
		return "", errors.New("use either run id or latest")
	}
	if ref.Limit < 0 {
		return "", errors.New("limit must be >= 0")
	}
	if !ref.Latest {
		if ref.RunID == "" {
			return "", fmt.Errorf("%s requires run id or latest", what)
		}
		return ref.RunID, nil
	}
	entries, err := stats.ListRunIndex(c.artifactsDir)
	if err != nil {
		return "", err
	}
	if len(entries) == 0 {
		return "", errors.New("no runs available")
	}
	return entries[0].RunID, nil
}
