package storage

import (
	"context"
	"sort"
	"sync"

	"metaflux/internal/model"
)

type MemoryStore struct {
	mu          sync.RWMutex
	initialized bool
	runs        map[string]model.RunRecord
	order       map[string]int
	seq         int
	diagnostics map[string][]model.GenerationDiagnostics
	rounds      map[string][]model.PostprocessRound
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Init(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.initialized = true
	s.runs = make(map[string]model.RunRecord)
	s.order = make(map[string]int)
	s.seq = 0
	s.diagnostics = make(map[string][]model.GenerationDiagnostics)
	s.rounds = make(map[string][]model.PostprocessRound)
	return nil
}

func (s *MemoryStore) SaveRun(_ context.Context, run model.RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	s.runs[run.ID] = cloneRun(run)
	s.order[run.ID] = s.seq
	return nil
}

func (s *MemoryStore) GetRun(_ context.Context, id string) (model.RunRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, ok := s.runs[id]
	if !ok {
		return model.RunRecord{}, false, nil
	}
	return cloneRun(run), true, nil
}

func (s *MemoryStore) ListRuns(_ context.Context) ([]model.RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	runs := make([]model.RunRecord, 0, len(s.runs))
	for _, run := range s.runs {
		runs = append(runs, cloneRun(run))
	}
	sort.Slice(runs, func(i, j int) bool {
		if runs[i].CreatedAtUTC == runs[j].CreatedAtUTC {
			return s.order[runs[i].ID] > s.order[runs[j].ID]
		}
		return runs[i].CreatedAtUTC > runs[j].CreatedAtUTC
	})
	return runs, nil
}

func (s *MemoryStore) DeleteRun(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.runs, id)
	delete(s.order, id)
	delete(s.diagnostics, id)
	delete(s.rounds, id)
	return nil
}

func (s *MemoryStore) SaveGenerationDiagnostics(_ context.Context, runID string, diagnostics []model.GenerationDiagnostics) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := make([]model.GenerationDiagnostics, len(diagnostics))
	copy(copied, diagnostics)
	s.diagnostics[runID] = copied
	return nil
}

func (s *MemoryStore) GetGenerationDiagnostics(_ context.Context, runID string) ([]model.GenerationDiagnostics, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	diagnostics, ok := s.diagnostics[runID]
	if !ok {
		return nil, false, nil
	}
	copied := make([]model.GenerationDiagnostics, len(diagnostics))
	copy(copied, diagnostics)
	return copied, true, nil
}

func (s *MemoryStore) SavePostprocessRounds(_ context.Context, runID string, rounds []model.PostprocessRound) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.rounds[runID] = cloneRounds(rounds)
	return nil
}

func (s *MemoryStore) GetPostprocessRounds(_ context.Context, runID string) ([]model.PostprocessRound, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rounds, ok := s.rounds[runID]
	if !ok {
		return nil, false, nil
	}
	return cloneRounds(rounds), true, nil
}

func cloneRun(run model.RunRecord) model.RunRecord {
	out := run
	if run.Objective != nil {
		out.Objective = make(model.Objective, len(run.Objective))
		for id, coefficient := range run.Objective {
			out.Objective[id] = coefficient
		}
	}
	out.BestByGeneration = append([]float64(nil), run.BestByGeneration...)
	return out
}

func cloneRounds(rounds []model.PostprocessRound) []model.PostprocessRound {
	out := make([]model.PostprocessRound, 0, len(rounds))
	for _, round := range rounds {
		round.BestTarget = append([]string(nil), round.BestTarget...)
		out = append(out, round)
	}
	return out
}
