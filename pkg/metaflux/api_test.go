package metaflux

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"metaflux/internal/config"
	"metaflux/internal/model"
	"metaflux/internal/oracle"
	"metaflux/internal/oracle/oracletest"
	"metaflux/internal/telemetry"
)

func linearModel() *model.Model {
	dg0 := -4.0
	return &model.Model{
		Reactions: map[string]model.Reaction{
			"A":  {Stoichiometries: map[string]float64{"a": -1}, MaxFlux: 5, DG0: &dg0},
			"B":  {Stoichiometries: map[string]float64{"b": -1}, MaxFlux: 5, DG0: &dg0},
			"EX": {Stoichiometries: map[string]float64{"p": 1}, MaxFlux: 5},
		},
		Metabolites: map[string]model.Metabolite{"a": {}, "b": {}, "p": {}},
	}
}

// activeCountSolver scores every solution by the number of usable reactions.
func activeCountSolver() *oracletest.Solver {
	score := func(ids []string) model.Result {
		values := map[string]float64{}
		for _, id := range ids {
			values[id] = 1
			values[model.ZVarPrefix+id] = 1
		}
		values["EX"] = float64(len(ids)) + 1
		return oracletest.Feasible(float64(len(ids))+1, values)
	}
	return &oracletest.Solver{
		LP: func(_ context.Context, req oracle.LPRequest) (model.Result, error) {
			ignored := map[string]bool{}
			for _, id := range req.Ignored {
				ignored[id] = true
			}
			var ids []string
			for id := range req.Model.Reactions {
				if id != "EX" && !ignored[id] {
					ids = append(ids, id)
				}
			}
			return score(ids), nil
		},
		NLP: func(_ context.Context, req oracle.NLPRequest) (model.Result, error) {
			var ids []string
			for id := range oracletest.ActiveSeedIDs(req) {
				if _, ok := req.Model.Reactions[id]; ok && id != "EX" {
					ids = append(ids, id)
				}
			}
			return score(ids), nil
		},
	}
}

func testConfig() config.RunConfig {
	cfg := config.Default()
	cfg.Objective = map[string]float64{"EX": 1}
	cfg.Workers = 2
	cfg.Evolution.PopulationSize = 4
	cfg.Evolution.Generations = 2
	cfg.Postprocess.Enabled = false
	cfg.Storage.Sink = "memory"
	return cfg
}

func newTestClient(t *testing.T) (*Client, string) {
	t.Helper()
	base := t.TempDir()
	client, err := New(Options{
		StoreKind:    "memory",
		ArtifactsDir: filepath.Join(base, "runs"),
		ExportsDir:   filepath.Join(base, "exports"),
		Logger:       telemetry.Discard(),
	})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	t.Cleanup(func() {
		_ = client.Close()
	})
	if err := client.Init(context.Background()); err != nil {
		t.Fatalf("init: %v", err)
	}
	return client, base
}

func optimize(t *testing.T, client *Client, runID string) RunSummary {
	t.Helper()
	summary, err := client.Optimize(context.Background(), OptimizeRequest{
		Config: testConfig(),
		Model:  linearModel(),
		Variability: model.Variability{
			"A": {Min: 0, Max: 5}, "B": {Min: 0, Max: 5}, "EX": {Min: 0, Max: 5},
		},
		Solver: activeCountSolver(),
		RunID:  runID,
	})
	if err != nil {
		t.Fatalf("optimize: %v", err)
	}
	return summary
}

func TestClientOptimizeRunsAndExport(t *testing.T) {
	client, base := newTestClient(t)

	summary := optimize(t, client, "first")
	if summary.RunID != "first" {
		t.Fatalf("unexpected run id: %s", summary.RunID)
	}
	if summary.Dimension != 2 {
		t.Fatalf("expected two couples, got %d", summary.Dimension)
	}
	if len(summary.BestByGeneration) != 2 {
		t.Fatalf("unexpected generation history length: %d", len(summary.BestByGeneration))
	}
	if summary.DistinctResults == 0 || summary.BestObjective != summary.Best.Objective() {
		t.Fatalf("unexpected best: %+v", summary)
	}

	runs, err := client.Runs(context.Background(), RunsRequest{Limit: 5})
	if err != nil {
		t.Fatalf("runs: %v", err)
	}
	if len(runs) != 1 || runs[0].RunID != "first" {
		t.Fatalf("expected run first in runs list: %+v", runs)
	}

	run, err := client.Run(context.Background(), RunRef{Latest: true})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if run.ID != "first" || run.Dimension != 2 {
		t.Fatalf("unexpected stored run: %+v", run)
	}

	diagnostics, err := client.Diagnostics(context.Background(), RunRef{RunID: "first", Limit: 1})
	if err != nil {
		t.Fatalf("diagnostics: %v", err)
	}
	if len(diagnostics) != 1 || diagnostics[0].Generation != 1 {
		t.Fatalf("unexpected diagnostics: %+v", diagnostics)
	}

	groups, err := client.Results(context.Background(), RunRef{RunID: "first"})
	if err != nil {
		t.Fatalf("results: %v", err)
	}
	if len(groups) != summary.DistinctResults {
		t.Fatalf("expected %d groups, got %d", summary.DistinctResults, len(groups))
	}

	exported, err := client.Export(context.Background(), ExportRequest{Latest: true})
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if exported.Directory != filepath.Join(base, "exports", "first") {
		t.Fatalf("unexpected export dir: %s", exported.Directory)
	}
	if _, err := os.Stat(filepath.Join(exported.Directory, "results.json")); err != nil {
		t.Fatalf("expected exported results: %v", err)
	}
}

func TestClientPostprocessAttachesRounds(t *testing.T) {
	client, _ := newTestClient(t)
	summary := optimize(t, client, "base")

	start := oracletest.Feasible(2, map[string]float64{"A": 1, model.ZVarPrefix + "A": 1, "EX": 2})
	cfg := testConfig()
	pp, err := client.Postprocess(context.Background(), PostprocessRequest{
		Config: cfg,
		Model:  linearModel(),
		Variability: model.Variability{
			"A": {Min: 0, Max: 5}, "B": {Min: 0, Max: 5}, "EX": {Min: 0, Max: 5},
		},
		Start:  start,
		Solver: activeCountSolver(),
		RunID:  summary.RunID,
	})
	if err != nil {
		t.Fatalf("postprocess: %v", err)
	}
	if pp.Best.Objective() < start.Objective() {
		t.Fatalf("postprocess worsened objective: %f", pp.Best.Objective())
	}
	if len(pp.Rounds) == 0 {
		return
	}
	rounds, err := client.PostprocessRounds(context.Background(), RunRef{RunID: summary.RunID})
	if err != nil {
		t.Fatalf("postprocess rounds: %v", err)
	}
	if len(rounds) != len(pp.Rounds) {
		t.Fatalf("expected %d stored rounds, got %d", len(pp.Rounds), len(rounds))
	}
}

func TestClientRunRefValidation(t *testing.T) {
	client, _ := newTestClient(t)

	if _, err := client.Diagnostics(context.Background(), RunRef{RunID: "x", Latest: true}); err == nil {
		t.Fatal("expected run id and latest conflict")
	}
	if _, err := client.Diagnostics(context.Background(), RunRef{}); err == nil {
		t.Fatal("expected missing run id error")
	}
	if _, err := client.Run(context.Background(), RunRef{Latest: true}); err == nil {
		t.Fatal("expected no runs error")
	}
	if _, err := client.Run(context.Background(), RunRef{RunID: "missing"}); err == nil {
		t.Fatal("expected unknown run error")
	}
	if _, err := client.Results(context.Background(), RunRef{RunID: "missing", Limit: -1}); err == nil {
		t.Fatal("expected limit error")
	}
}

func TestNewRejectsUnknownStore(t *testing.T) {
	if _, err := New(Options{StoreKind: "etcd"}); err == nil {
		t.Fatal("expected unsupported store error")
	}
}
