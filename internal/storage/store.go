package storage

import (
	"context"

	"metaflux/internal/model"
)

// Store persists run summaries and their per-run histories.
type Store interface {
	Init(ctx context.Context) error
	SaveRun(ctx context.Context, run model.RunRecord) error
	GetRun(ctx context.Context, id string) (model.RunRecord, bool, error)
	// ListRuns returns every run, newest first.
	ListRuns(ctx context.Context) ([]model.RunRecord, error)
	SaveGenerationDiagnostics(ctx context.Context, runID string, diagnostics []model.GenerationDiagnostics) error
	GetGenerationDiagnostics(ctx context.Context, runID string) ([]model.GenerationDiagnostics, bool, error)
	SavePostprocessRounds(ctx context.Context, runID string, rounds []model.PostprocessRound) error
	GetPostprocessRounds(ctx context.Context, runID string) ([]model.PostprocessRound, bool, error)
}
