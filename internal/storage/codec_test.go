package storage

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"metaflux/internal/model"
)

func TestDecodeRunFixture(t *testing.T) {
	data, err := os.ReadFile(fixturePath("run_record_v1.json"))
	if err != nil {
		t.Fatalf("read fixture: %v", err)
	}

	run, err := DecodeRun(data)
	if err != nil {
		t.Fatalf("decode fixture: %v", err)
	}
	if run.ID != "run-fixture-1" || run.Sense != model.Maximize {
		t.Fatalf("unexpected run: %+v", run)
	}
	if run.Objective["EX_product"] != 1 || len(run.BestByGeneration) != 3 {
		t.Fatalf("unexpected run payload: %+v", run)
	}
}

func TestDecodePostprocessRoundsFixture(t *testing.T) {
	data, err := os.ReadFile(fixturePath("postprocess_rounds_v1.json"))
	if err != nil {
		t.Fatalf("read fixture: %v", err)
	}

	rounds, err := DecodePostprocessRounds(data)
	if err != nil {
		t.Fatalf("decode fixture: %v", err)
	}
	if len(rounds) != 1 || rounds[0].BestLabel != "deac_max" || rounds[0].BestBudget != 5 {
		t.Fatalf("unexpected rounds: %+v", rounds)
	}
	if !reflect.DeepEqual(rounds[0].BestTarget, []string{"PGI", "PGI_tr"}) {
		t.Fatalf("unexpected target: %+v", rounds[0].BestTarget)
	}
}

func TestRunCodecRoundTrip(t *testing.T) {
	input := model.RunRecord{
		VersionedRecord:  CurrentVersion(),
		ID:               "run-1",
		CreatedAtUTC:     "2026-03-01T10:00:00Z",
		Algorithm:        "pso",
		Sense:            model.Minimize,
		Objective:        model.Objective{"EX_glc": -1},
		Dimension:        5,
		Generations:      3,
		StopReason:       "exhausted_budget",
		BestObjective:    0.4,
		BestByGeneration: []float64{0.9, 0.4, 0.4},
	}
	encoded, err := EncodeRun(input)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := DecodeRun(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !reflect.DeepEqual(decoded, input) {
		t.Fatalf("decoded run mismatch: got=%+v want=%+v", decoded, input)
	}
}

func TestRunCodecVersionMismatch(t *testing.T) {
	run := model.RunRecord{ID: "run-1", VersionedRecord: CurrentVersion()}
	run.CodecVersion++
	encoded, err := EncodeRun(run)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if _, err := DecodeRun(encoded); !errors.Is(err, ErrVersionMismatch) {
		t.Fatalf("expected ErrVersionMismatch, got: %v", err)
	}
}

func TestPostprocessRoundsCodecVersionMismatch(t *testing.T) {
	input := []model.PostprocessRound{
		{VersionedRecord: CurrentVersion(), Round: 1},
		{VersionedRecord: model.VersionedRecord{SchemaVersion: CurrentSchemaVersion + 1, CodecVersion: CurrentCodecVersion}, Round: 2},
	}
	encoded, err := EncodePostprocessRounds(input)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if _, err := DecodePostprocessRounds(encoded); !errors.Is(err, ErrVersionMismatch) {
		t.Fatalf("expected ErrVersionMismatch, got: %v", err)
	}
}

func TestGenerationDiagnosticsCodecRoundTrip(t *testing.T) {
	input := []model.GenerationDiagnostics{
		{Generation: 1, BestFitness: -0.8, MeanFitness: -0.6, WorstFitness: -0.2, FeasibleCount: 6, FingerprintDiversity: 4},
		{Generation: 2, BestFitness: -0.9, MeanFitness: -0.7, WorstFitness: -0.3, FeasibleCount: 7, FingerprintDiversity: 5, RoundsSameObjective: 1},
	}
	encoded, err := EncodeGenerationDiagnostics(input)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := DecodeGenerationDiagnostics(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !reflect.DeepEqual(decoded, input) {
		t.Fatalf("decoded diagnostics mismatch: got=%+v want=%+v", decoded, input)
	}
}

func fixturePath(name string) string {
	return filepath.Join("..", "..", "testdata", "fixtures", name)
}
