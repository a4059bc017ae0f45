// Package postprocess explores single couple switches around a known
// solution to find alternative, possibly better, optima.
package postprocess

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sort"

	"golang.org/x/sync/errgroup"

	"metaflux/internal/couples"
	"metaflux/internal/model"
	"metaflux/internal/oracle"
	"metaflux/internal/telemetry"
)

const (
	// ActivationLowerBound is the flux forced through an activated couple.
	ActivationLowerBound = 1e-5
	DefaultBigM          = 1e5

	extraPrefix         = "extra_z_var_of_couple_of_"
	changeSuffix        = "_change"
	budgetSlackName     = "max_active_z_var_changes"
	extraFlagThreshold  = 0.1
	changeFlagThreshold = 0.5
)

var ErrNoVariability = errors.New("variability is required when no variability analyzer is configured")

// DefaultBudgets are the change budgets every target is tried under.
func DefaultBudgets() []int {
	return []int{0, 5}
}

type Config struct {
	LP oracle.LP
	// NLP refines every bound solution kinetically.
	NLP oracle.NLP
	// Analyzer computes variability when Search receives none.
	Analyzer      oracle.VariabilityAnalyzer
	Kinetics      oracle.Kinetics
	ErrorScenario []string
	Budgets       []int
	Workers       int
	// ObjectiveEpsilon shifts the re-imposed objective value in the
	// improving direction; zero keeps it exact.
	ObjectiveEpsilon float64
	BigM             float64
	Logger           *slog.Logger
}

type Searcher struct {
	cfg    Config
	logger *slog.Logger
}

func New(cfg Config) (*Searcher, error) {
	if cfg.LP == nil || cfg.NLP == nil {
		return nil, errors.New("lp and nlp oracles are required")
	}
	if cfg.Budgets == nil {
		cfg.Budgets = DefaultBudgets()
	}
	for _, budget := range cfg.Budgets {
		if budget < 0 {
			return nil, fmt.Errorf("change budget must be >= 0, got %d", budget)
		}
	}
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU()
	}
	if cfg.ObjectiveEpsilon < 0 {
		return nil, errors.New("objective epsilon must be >= 0")
	}
	if cfg.BigM <= 0 {
		cfg.BigM = DefaultBigM
	}
	return &Searcher{cfg: cfg, logger: telemetry.OrDefault(cfg.Logger)}, nil
}

type target struct {
	kind   model.TargetType
	couple model.ReactionCouple
	budget int
}

// problem is the read-only state shared by every worker of one search.
type problem struct {
	base        *model.Model
	objective   model.Objective
	sense       model.Sense
	variability model.Variability
	couples     []model.ReactionCouple
	active      map[string]bool
	activeIDs   []string
}

// Search tries every deactivate/activate target under every change budget
// and returns all feasible switches plus the best refined result by sense.
// No switches means reference is a local optimum.
func (s *Searcher) Search(ctx context.Context, m *model.Model, reference model.Result, objective model.Objective, sense model.Sense, variability model.Variability) ([]model.FeasibleSwitch, model.Result, error) {
	switches, best, err := s.search(ctx, m, reference, objective, sense, variability)
	if err != nil || best < 0 {
		return switches, model.Result{}, err
	}
	return switches, switches[best].Result, nil
}

func (s *Searcher) search(ctx context.Context, m *model.Model, reference model.Result, objective model.Objective, sense model.Sense, variability model.Variability) ([]model.FeasibleSwitch, int, error) {
	if m == nil {
		return nil, -1, errors.New("model is required")
	}
	if len(objective) == 0 {
		return nil, -1, errors.New("objective is required")
	}
	if sense != model.Maximize && sense != model.Minimize {
		return nil, -1, fmt.Errorf("invalid objective sense: %d", sense)
	}
	variability, err := s.resolveVariability(ctx, m, variability)
	if err != nil {
		return nil, -1, err
	}

	p := s.newProblem(m, reference, objective, sense, variability)
	targets := p.targets(s.cfg.Budgets)
	if len(targets) == 0 {
		s.logger.Info("no postprocess targets", "active_couples", len(p.activeIDs))
		return nil, -1, nil
	}

	chunks := split(targets, s.cfg.Workers)
	contributions := make([][]model.FeasibleSwitch, len(chunks))
	var g errgroup.Group
	for i, chunk := range chunks {
		i, chunk := i, chunk
		g.Go(func() error {
			contributions[i] = s.runBatch(ctx, i, p, chunk)
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, -1, err
	}

	var switches []model.FeasibleSwitch
	for _, contribution := range contributions {
		switches = append(switches, contribution...)
	}
	if len(switches) == 0 {
		s.logger.Info("postprocess found no feasible switch", "targets", len(targets))
		return nil, -1, nil
	}
	best := 0
	for i := 1; i < len(switches); i++ {
		if sense.Better(switches[i].Result.Objective(), switches[best].Result.Objective()) {
			best = i
		}
	}
	s.logger.Info("postprocess search finished",
		"targets", len(targets),
		"switches", len(switches),
		"best_objective", switches[best].Result.Objective(),
	)
	return switches, best, nil
}

func (s *Searcher) resolveVariability(ctx context.Context, m *model.Model, variability model.Variability) (model.Variability, error) {
	if len(variability) > 0 {
		return variability, nil
	}
	if s.cfg.Analyzer == nil {
		return nil, ErrNoVariability
	}
	computed, err := s.cfg.Analyzer.Variability(ctx, m, true, true)
	if err != nil {
		return nil, fmt.Errorf("compute variability: %w", err)
	}
	return computed, nil
}

// newProblem pins the objective at the reference value on a model copy and
// collects the active couple representatives outside the objective.
func (s *Searcher) newProblem(m *model.Model, reference model.Result, objective model.Objective, sense model.Sense, variability model.Variability) *problem {
	base := m.Clone()
	value := objective.Evaluate(reference)
	bound := model.LinearConstraint{Name: "objective_value", Terms: map[string]float64{}}
	for id, coefficient := range objective {
		bound.Terms[id] = coefficient
	}
	if sense.IsMaximization() {
		bound.Lower = model.Float(value + s.cfg.ObjectiveEpsilon)
	} else {
		bound.Upper = model.Float(value - s.cfg.ObjectiveEpsilon)
	}
	base.ExtraLinearConstraints = append(base.ExtraLinearConstraints, bound)

	p := &problem{
		base:        base,
		objective:   objective,
		sense:       sense,
		variability: variability,
		couples:     couples.Stoichiometric(base),
		active:      map[string]bool{},
	}
	representatives := make(map[string]struct{}, len(p.couples))
	for _, c := range p.couples {
		representatives[c.Representative()] = struct{}{}
	}
	for _, id := range model.ActiveReactions(base, reference) {
		if _, ok := representatives[id]; !ok || objective.Contains(id) {
			continue
		}
		p.active[id] = true
		p.activeIDs = append(p.activeIDs, id)
	}
	return p
}

func (p *problem) targets(budgets []int) []target {
	var deactivate, activate []model.ReactionCouple
	for _, c := range p.couples {
		rep := c.Representative()
		r, ok := p.variability[rep]
		if !ok || p.touchesObjective(c) {
			continue
		}
		switch {
		case p.active[rep] && r.Min == 0:
			deactivate = append(deactivate, c)
		case !p.active[rep] && r.Max > 0:
			activate = append(activate, c)
		}
	}
	targets := make([]target, 0, len(budgets)*(len(deactivate)+len(activate)))
	for _, budget := range budgets {
		for _, c := range deactivate {
			targets = append(targets, target{kind: model.TargetDeactivate, couple: c, budget: budget})
		}
		for _, c := range activate {
			targets = append(targets, target{kind: model.TargetActivate, couple: c, budget: budget})
		}
	}
	return targets
}

func (p *problem) touchesObjective(c model.ReactionCouple) bool {
	for _, id := range c {
		if p.objective.Contains(id) {
			return true
		}
	}
	return false
}

// runBatch processes its targets in order; a panic drops the whole batch.
func (s *Searcher) runBatch(ctx context.Context, worker int, p *problem, batch []target) (out []model.FeasibleSwitch) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Warn("postprocess worker failed", "worker", worker, "panic", fmt.Sprint(r))
			out = nil
		}
	}()
	for _, t := range batch {
		if ctx.Err() != nil {
			return out
		}
		out = append(out, s.attempt(ctx, p, t)...)
	}
	return out
}

func (s *Searcher) attempt(ctx context.Context, p *problem, t target) []model.FeasibleSwitch {
	working := p.base.Clone()
	variability := p.variability
	if t.kind == model.TargetDeactivate {
		working.DeleteReactions(t.couple...)
	} else {
		variability = p.variability.Clone()
		r := variability[t.couple.Representative()]
		r.Min = ActivationLowerBound
		variability[t.couple.Representative()] = r
	}

	b := oracle.NewBuilder()
	changeOf := s.addChangeIndicators(b, working, p, t)
	pinned, err := b.Build()
	if err != nil {
		s.logger.Warn("switch extension rejected", "target", t.couple.Representative(), "type", t.kind, "error", err)
		return nil
	}
	lp, err := oracle.SolveLP(ctx, s.cfg.LP, s.lpRequest(working, p.objective, p.sense, variability, pinned))
	if err != nil {
		s.logger.Debug("switch infeasible", "target", t.couple.Representative(), "type", t.kind, "budget", t.budget, "error", err)
		return nil
	}

	for _, id := range model.ActiveReactions(working, lp) {
		if t.couple.Contains(id) || p.active[id] || !working.Reactions[id].HasThermodynamics() {
			continue
		}
		b.SetLowerBound(model.ZVarPrefix+id, 1)
	}
	extraOf := s.addExtraIndicators(b, working, variability, p, t)
	extraObjective := model.Objective{}
	for name := range extraOf {
		extraObjective[name] = 1
	}
	ext, err := b.Build()
	if err != nil {
		s.logger.Warn("switch extension rejected", "target", t.couple.Representative(), "type", t.kind, "error", err)
		return nil
	}

	var out []model.FeasibleSwitch
	for _, direction := range []model.Sense{model.Minimize, model.Maximize} {
		bound, err := oracle.SolveLP(ctx, s.cfg.LP, s.lpRequest(working, extraObjective, direction, variability, ext))
		if err != nil {
			s.logger.Debug("extra activation bound failed", "target", t.couple.Representative(), "direction", direction.String(), "error", err)
			continue
		}
		usable := map[string]bool{}
		for _, id := range model.ActiveReactions(working, bound) {
			usable[id] = true
		}
		nlp, err := oracle.SolveNLP(ctx, s.cfg.NLP, oracle.NLPRequest{
			Model:         working,
			Objective:     p.objective,
			Sense:         p.sense,
			ActiveSeed:    oracle.UsagePattern(working, usable),
			Variability:   variability,
			Kinetics:      s.cfg.Kinetics,
			ErrorScenario: s.cfg.ErrorScenario,
		})
		if err != nil {
			s.logger.Debug("switch refinement failed", "target", t.couple.Representative(), "direction", direction.String(), "error", err)
			continue
		}

		sw := model.FeasibleSwitch{
			Target:           append(model.ReactionCouple(nil), t.couple...),
			TargetType:       t.kind,
			Direction:        direction,
			Budget:           t.budget,
			ExtraActivations: flagged(bound, extraOf, extraFlagThreshold),
			Changes:          flagged(bound, changeOf, changeFlagThreshold),
			Result:           nlp,
		}
		if len(sw.Changes) > t.budget {
			s.logger.Warn("oracle exceeded change budget", "target", t.couple.Representative(), "changes", len(sw.Changes), "budget", t.budget)
			continue
		}
		telemetry.Switches.WithLabelValues(string(t.kind)).Inc()
		out = append(out, sw)
	}
	return out
}

func (s *Searcher) lpRequest(working *model.Model, objective model.Objective, sense model.Sense, variability model.Variability, ext *oracle.Extension) oracle.LPRequest {
	return oracle.LPRequest{
		Model:         working,
		Objective:     objective,
		Sense:         sense,
		Enzyme:        true,
		Thermo:        true,
		Loop:          false,
		Variability:   variability,
		ErrorScenario: s.cfg.ErrorScenario,
		Extension:     ext,
	}
}

// addChangeIndicators ties one binary change per other active thermodynamic
// reaction to its z indicator (z = 1 - change) and bounds their sum by the
// budget slack. It returns change variable -> reaction id.
func (s *Searcher) addChangeIndicators(b *oracle.Builder, working *model.Model, p *problem, t target) map[string]string {
	changeOf := map[string]string{}
	budgetTerms := map[string]float64{}
	for _, id := range p.activeIDs {
		if t.couple.Contains(id) {
			continue
		}
		reaction, ok := working.Reactions[id]
		if !ok || !reaction.HasThermodynamics() {
			continue
		}
		z := model.ZVarPrefix + id
		change := b.AddIndicator(z + changeSuffix)
		b.AddLinkingConstraint("fix_"+z, map[string]float64{z: 1, change: 1}, model.Float(1), model.Float(1))
		changeOf[change] = id
		budgetTerms[change] = 1
	}
	slack := b.AddBudgetSlack(budgetSlackName, float64(t.budget))
	budgetTerms[slack] = -1
	b.AddLinkingConstraint("active_baseline_z_vars_sum", budgetTerms, nil, model.Float(0))
	return changeOf
}

// addExtraIndicators adds one binary per inactive, parameterized, switchable
// couple; the binary must be on for the representative to carry flux and
// may only be on when the couple's first thermodynamic member is feasible.
// It returns indicator -> representative.
func (s *Searcher) addExtraIndicators(b *oracle.Builder, working *model.Model, variability model.Variability, p *problem, t target) map[string]string {
	extraOf := map[string]string{}
	for _, c := range p.couples {
		rep := c.Representative()
		if c.Equal(t.couple) || p.active[rep] {
			continue
		}
		if _, ok := working.Reactions[rep]; !ok || variability[rep].Max == 0 {
			continue
		}
		if !hasParameters(working, c) {
			continue
		}
		name := b.AddIndicator(extraPrefix + rep)
		b.AddLinkingConstraint(extraPrefix+rep+"_flux", map[string]float64{rep: 1, name: -s.cfg.BigM}, nil, model.Float(0))
		if member := firstThermodynamic(working, c); member != "" {
			b.AddLinkingConstraint(extraPrefix+rep+"_z", map[string]float64{model.ZVarPrefix + member: 1, name: -1}, model.Float(0), nil)
		}
		extraOf[name] = rep
	}
	return extraOf
}

func hasParameters(m *model.Model, c model.ReactionCouple) bool {
	for _, id := range c {
		if r, ok := m.Reactions[id]; ok && (r.HasThermodynamics() || r.HasKinetics()) {
			return true
		}
	}
	return false
}

func firstThermodynamic(m *model.Model, c model.ReactionCouple) string {
	for _, id := range c {
		if r, ok := m.Reactions[id]; ok && r.HasThermodynamics() {
			return id
		}
	}
	return ""
}

// flagged lists the ids whose variable exceeds threshold in r, sorted.
func flagged(r model.Result, ids map[string]string, threshold float64) []string {
	var out []string
	for variable, id := range ids {
		if r.Values[variable] > threshold {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// split cuts targets into at most workers contiguous chunks of ceil size.
func split(targets []target, workers int) [][]target {
	if workers <= 0 {
		workers = 1
	}
	size := (len(targets) + workers - 1) / workers
	if size == 0 {
		return nil
	}
	chunks := make([][]target, 0, workers)
	for start := 0; start < len(targets); start += size {
		end := start + size
		if end > len(targets) {
			end = len(targets)
		}
		chunks = append(chunks, targets[start:end])
	}
	return chunks
}
