// Package sampling finds structurally distinct feasible starting solutions
// through randomized reaction knockouts.
package sampling

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"runtime"
	"sort"

	"golang.org/x/sync/errgroup"

	"metaflux/internal/model"
	"metaflux/internal/oracle"
	"metaflux/internal/telemetry"
)

var ErrNoFeasibleStart = errors.New("no feasible sampling solution found")

type Config struct {
	Model         *model.Model
	Objective     model.Objective
	Sense         model.Sense
	Variability   model.Variability
	ErrorScenario []string
	Kinetics      oracle.Kinetics

	MaxDeactivatedReactions int
	AlwaysDeactivated       []string
	WishedNumFeasibleStarts int
	MaxMetarounds           int
	RoundsPerMetaround      int
	MinAbsObjective         float64
	Workers                 int
	Seed                    int64
	// WorkingResults are known-good results merged into every metaround.
	WorkingResults []model.Result

	LP     oracle.LP
	NLP    oracle.NLP
	Logger *slog.Logger
}

type Sampler struct {
	cfg    Config
	rng    *rand.Rand
	pool   []string
	logger *slog.Logger
}

func New(cfg Config) (*Sampler, error) {
	if cfg.Model == nil {
		return nil, errors.New("model is required")
	}
	if len(cfg.Objective) == 0 {
		return nil, errors.New("objective is required")
	}
	if cfg.Sense != model.Maximize && cfg.Sense != model.Minimize {
		return nil, fmt.Errorf("invalid objective sense: %d", cfg.Sense)
	}
	if cfg.LP == nil || cfg.NLP == nil {
		return nil, errors.New("lp and nlp oracles are required")
	}
	if cfg.WishedNumFeasibleStarts <= 0 {
		return nil, errors.New("wished number of feasible starts must be > 0")
	}
	if cfg.MaxMetarounds <= 0 {
		return nil, errors.New("max metarounds must be > 0")
	}
	if cfg.RoundsPerMetaround <= 0 {
		return nil, errors.New("rounds per metaround must be > 0")
	}
	if cfg.MaxDeactivatedReactions < 0 {
		return nil, errors.New("max deactivated reactions must be >= 0")
	}
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU()
	}
	return &Sampler{
		cfg:    cfg,
		rng:    rand.New(rand.NewSource(cfg.Seed)),
		pool:   Deactivatable(cfg.Model, cfg.Variability, cfg.Objective, cfg.AlwaysDeactivated, cfg.ErrorScenario),
		logger: telemetry.OrDefault(cfg.Logger),
	}, nil
}

// Deactivatable lists the model reactions that may be knocked out: zero
// variability minimum and not part of the objective, the fixed knockout set
// or the error scenario.
func Deactivatable(m *model.Model, variability model.Variability, objective model.Objective, always, errorScenario []string) []string {
	excluded := map[string]struct{}{}
	for _, id := range always {
		excluded[id] = struct{}{}
	}
	for _, id := range errorScenario {
		excluded[id] = struct{}{}
	}
	pool := make([]string, 0)
	for id, r := range variability {
		if _, ok := m.Reactions[id]; !ok || r.Min != 0 || objective.Contains(id) {
			continue
		}
		if _, ok := excluded[id]; ok {
			continue
		}
		pool = append(pool, id)
	}
	sort.Strings(pool)
	return pool
}

// Sample runs metarounds until the wished number of distinct starts exists
// or the round budget is spent. The result is keyed by model.SignatureKey.
func (s *Sampler) Sample(ctx context.Context) (map[string]model.FeasibleStart, error) {
	starts := map[string]model.FeasibleStart{}
	best := math.Inf(-int(s.cfg.Sense))

	for round := 0; round < s.cfg.MaxMetarounds; round++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		batches := s.plan(round)
		contributions := s.runRound(ctx, batches)
		if len(s.cfg.WorkingResults) > 0 {
			contributions = append(contributions, s.cfg.WorkingResults)
		}
		for _, contribution := range contributions {
			for _, res := range contribution {
				active := model.ActiveReactions(s.cfg.Model, res)
				starts[model.SignatureKey(active)] = model.FeasibleStart{Signature: active, Result: res.Clone()}
				if s.cfg.Sense.Better(res.Objective(), best) {
					best = res.Objective()
				}
			}
		}
		s.logger.Debug("sampling metaround finished", "round", round, "distinct_starts", len(starts))
		if len(starts) >= s.cfg.WishedNumFeasibleStarts {
			break
		}
	}
	telemetry.FeasibleStarts.Set(float64(len(starts)))

	if len(starts) == 0 {
		return nil, ErrNoFeasibleStart
	}
	if len(starts) < s.cfg.WishedNumFeasibleStarts {
		s.logger.Info("fewer feasible sampling solutions found than wished",
			"found", len(starts), "wished", s.cfg.WishedNumFeasibleStarts)
	}
	s.logger.Info("sampling finished", "distinct_starts", len(starts), "best_objective", best)
	return starts, nil
}

// plan draws, per worker, RoundsPerMetaround knockout sets. The first set of
// the first worker in round 0 is the fixed knockout set alone.
func (s *Sampler) plan(round int) [][][]string {
	batches := make([][][]string, s.cfg.Workers)
	for w := range batches {
		sets := make([][]string, s.cfg.RoundsPerMetaround)
		for i := range sets {
			sets[i] = append(s.draw(), s.cfg.AlwaysDeactivated...)
		}
		batches[w] = sets
	}
	if round == 0 {
		batches[0][0] = append([]string(nil), s.cfg.AlwaysDeactivated...)
	}
	return batches
}

func (s *Sampler) draw() []string {
	limit := s.cfg.MaxDeactivatedReactions
	if limit > len(s.pool) {
		limit = len(s.pool)
	}
	if limit <= 0 {
		return []string{}
	}
	size := 1 + s.rng.Intn(limit)
	picked := make([]string, 0, size)
	for _, idx := range s.rng.Perm(len(s.pool))[:size] {
		picked = append(picked, s.pool[idx])
	}
	return picked
}

func (s *Sampler) runRound(ctx context.Context, batches [][][]string) [][]model.Result {
	contributions := make([][]model.Result, len(batches))
	var g errgroup.Group
	for w, batch := range batches {
		w, batch := w, batch
		g.Go(func() error {
			contributions[w] = s.runBatch(ctx, w, batch)
			return nil
		})
	}
	_ = g.Wait()
	return contributions
}

// runBatch never fails; a panicking worker contributes nothing.
func (s *Sampler) runBatch(ctx context.Context, worker int, batch [][]string) (out []model.Result) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Warn("sampling worker failed", "worker", worker, "panic", fmt.Sprint(r))
			out = nil
		}
	}()
	for _, knockouts := range batch {
		if ctx.Err() != nil {
			return out
		}
		if res, ok := s.try(ctx, knockouts); ok {
			out = append(out, res)
		}
	}
	return out
}

func (s *Sampler) try(ctx context.Context, knockouts []string) (model.Result, bool) {
	lp, err := oracle.SolveLP(ctx, s.cfg.LP, oracle.LPRequest{
		Model:         s.cfg.Model,
		Objective:     s.cfg.Objective,
		Sense:         s.cfg.Sense,
		Enzyme:        true,
		Thermo:        true,
		Loop:          false,
		Variability:   s.cfg.Variability,
		Ignored:       knockouts,
		ErrorScenario: s.cfg.ErrorScenario,
	})
	if err != nil {
		return model.Result{}, false
	}
	active := model.ActiveReactions(s.cfg.Model, lp)
	if !s.coversErrorScenario(active) {
		return model.Result{}, false
	}

	usable := make(map[string]bool, len(active))
	for _, id := range active {
		usable[id] = true
	}
	nlp, err := oracle.SolveNLP(ctx, s.cfg.NLP, oracle.NLPRequest{
		Model:         s.cfg.Model,
		Objective:     s.cfg.Objective,
		Sense:         s.cfg.Sense,
		ActiveSeed:    oracle.UsagePattern(s.cfg.Model, usable),
		Variability:   s.cfg.Variability,
		Kinetics:      s.cfg.Kinetics,
		ErrorScenario: s.cfg.ErrorScenario,
	})
	if err != nil || math.Abs(nlp.Objective()) < s.cfg.MinAbsObjective {
		return model.Result{}, false
	}
	s.logger.Debug("working sampling result", "objective", nlp.Objective())
	return nlp, true
}

func (s *Sampler) coversErrorScenario(active []string) bool {
	for _, target := range s.cfg.ErrorScenario {
		if _, ok := s.cfg.Model.Reactions[target]; !ok {
			continue
		}
		idx := sort.SearchStrings(active, target)
		if idx >= len(active) || active[idx] != target {
			return false
		}
	}
	return true
}
