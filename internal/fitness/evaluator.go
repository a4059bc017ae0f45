// Package fitness scores decision vectors with a cheap LP screen followed by
// kinetic NLP refinement of the reaction-usage patterns the screen admits.
package fitness

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"metaflux/internal/couples"
	"metaflux/internal/model"
	"metaflux/internal/oracle"
	"metaflux/internal/telemetry"
)

// ObjectiveBoundTolerance relaxes the re-imposed screening optimum.
const ObjectiveBoundTolerance = 1e-12

// Sink receives every accepted evaluation.
type Sink interface {
	Append(ctx context.Context, artifact model.Artifact) error
}

type Config struct {
	Model         *model.Model
	Couples       []model.ReactionCouple
	Objective     model.Objective
	Sense         model.Sense
	Variability   model.Variability
	ErrorScenario []string
	Kinetics      oracle.Kinetics
	// MinAbsObjective discards refined results with |objective| at or below it.
	MinAbsObjective float64
	LP              oracle.LP
	NLP             oracle.NLP
	Sink            Sink
	Logger          *slog.Logger
}

type Evaluator struct {
	cfg    Config
	logger *slog.Logger
}

func New(cfg Config) (*Evaluator, error) {
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
	if cfg.MinAbsObjective < 0 {
		return nil, errors.New("min abs objective must be >= 0")
	}
	return &Evaluator{cfg: cfg, logger: telemetry.OrDefault(cfg.Logger)}, nil
}

func (e *Evaluator) Dimension() int {
	return len(e.cfg.Couples)
}

// Evaluate returns the sentinel record followed by at most one candidate.
// Candidate objectives are minimization-oriented: negated for maximization.
// Oracle failures only remove the branch they occur in.
func (e *Evaluator) Evaluate(ctx context.Context, vector model.DecisionVector) []model.FitnessRecord {
	out := []model.FitnessRecord{model.SentinelRecord()}
	if len(vector) != len(e.cfg.Couples) {
		e.logger.Warn("decision vector dimension mismatch", "got", len(vector), "want", len(e.cfg.Couples))
		telemetry.Evaluations.WithLabelValues("sentinel").Inc()
		return out
	}

	deactivated, ignored := e.deactivated(vector)
	screen, err := oracle.SolveLP(ctx, e.cfg.LP, oracle.LPRequest{
		Model:         e.cfg.Model,
		Objective:     e.cfg.Objective,
		Sense:         e.cfg.Sense,
		Enzyme:        true,
		Thermo:        true,
		Loop:          true,
		Variability:   e.cfg.Variability,
		Ignored:       ignored,
		ErrorScenario: e.cfg.ErrorScenario,
	})
	if err != nil {
		e.logger.Debug("screening lp rejected vector", "deactivated", len(ignored), "error", err)
		telemetry.Evaluations.WithLabelValues("sentinel").Inc()
		return out
	}

	working := e.boundedModel(screen.Objective(), deactivated)
	zObjective := e.zSumObjective(deactivated)
	candidates := make([]model.Result, 0, 2)
	for _, zSense := range []model.Sense{model.Maximize, model.Minimize} {
		if res, ok := e.refine(ctx, working, zObjective, zSense, deactivated, ignored); ok {
			candidates = append(candidates, res)
		}
	}
	if len(candidates) == 0 {
		telemetry.Evaluations.WithLabelValues("empty").Inc()
		return out
	}

	best := Best(candidates, e.cfg.Sense)
	record := model.FitnessRecord{
		Objective: MinimizationObjective(best.Objective(), e.cfg.Sense),
		Vector:    couples.Reduce(e.cfg.Couples, best),
	}
	e.persist(ctx, record, best)
	telemetry.Evaluations.WithLabelValues("candidate").Inc()
	return append(out, record)
}

// refine runs one z-sum LP and the NLP restricted to its usage pattern.
func (e *Evaluator) refine(ctx context.Context, working *model.Model, zObjective model.Objective, zSense model.Sense, deactivated map[string]bool, ignored []string) (model.Result, bool) {
	lp, err := oracle.SolveLP(ctx, e.cfg.LP, oracle.LPRequest{
		Model:         working,
		Objective:     zObjective,
		Sense:         zSense,
		Enzyme:        true,
		Thermo:        true,
		Loop:          true,
		Variability:   e.cfg.Variability,
		Ignored:       ignored,
		ErrorScenario: e.cfg.ErrorScenario,
	})
	if err != nil {
		e.logger.Debug("z-sum lp failed", "z_sense", zSense.String(), "error", err)
		return model.Result{}, false
	}

	nlp, err := oracle.SolveNLP(ctx, e.cfg.NLP, oracle.NLPRequest{
		Model:         e.cfg.Model,
		Objective:     e.cfg.Objective,
		Sense:         e.cfg.Sense,
		ActiveSeed:    UsagePattern(e.cfg.Model, lp, deactivated),
		Variability:   e.cfg.Variability,
		Kinetics:      e.cfg.Kinetics,
		ErrorScenario: e.cfg.ErrorScenario,
	})
	if err != nil {
		e.logger.Debug("nlp refinement failed", "z_sense", zSense.String(), "error", err)
		return model.Result{}, false
	}
	if math.Abs(nlp.Objective()) <= e.cfg.MinAbsObjective {
		return model.Result{}, false
	}
	return nlp, true
}

func (e *Evaluator) deactivated(vector model.DecisionVector) (map[string]bool, []string) {
	set := map[string]bool{}
	ignored := make([]string, 0)
	for i, couple := range e.cfg.Couples {
		if vector[i] > model.DeactivationThreshold {
			continue
		}
		for _, id := range couple {
			if !set[id] {
				set[id] = true
				ignored = append(ignored, id)
			}
		}
	}
	return set, ignored
}

// boundedModel pins the objective at the screening optimum and forbids
// deactivated thermodynamic reactions from becoming feasible again.
func (e *Evaluator) boundedModel(screenObjective float64, deactivated map[string]bool) *model.Model {
	working := e.cfg.Model.Clone()
	bound := model.LinearConstraint{Name: "objective_bound", Terms: map[string]float64{}}
	for id, coefficient := range e.cfg.Objective {
		bound.Terms[id] = coefficient
	}
	if e.cfg.Sense.IsMaximization() {
		bound.Lower = model.Float(screenObjective - ObjectiveBoundTolerance)
	} else {
		bound.Upper = model.Float(screenObjective + ObjectiveBoundTolerance)
	}
	working.ExtraLinearConstraints = append(working.ExtraLinearConstraints, bound)

	for _, id := range working.ReactionIDs() {
		if !deactivated[id] || !working.Reactions[id].HasThermodynamics() {
			continue
		}
		working.ExtraLinearConstraints = append(working.ExtraLinearConstraints, model.LinearConstraint{
			Name:  "forbid_" + model.ZVarPrefix + id,
			Terms: map[string]float64{model.ZVarPrefix + id: 1},
			Upper: model.Float(0),
		})
	}
	return working
}

func (e *Evaluator) zSumObjective(deactivated map[string]bool) model.Objective {
	objective := model.Objective{}
	for id, reaction := range e.cfg.Model.Reactions {
		if !reaction.HasThermodynamics() || deactivated[id] {
			continue
		}
		if e.cfg.Variability[id].Max <= 0 {
			continue
		}
		objective[model.ZVarPrefix+id] = 1
	}
	return objective
}

func (e *Evaluator) persist(ctx context.Context, record model.FitnessRecord, raw model.Result) {
	if e.cfg.Sink == nil {
		return
	}
	if err := e.cfg.Sink.Append(ctx, model.Artifact{Record: record, Result: raw}); err != nil {
		telemetry.SinkWrites.WithLabelValues("error").Inc()
		e.logger.Error("persist evaluation", "objective", record.Objective, "error", err)
		return
	}
	telemetry.SinkWrites.WithLabelValues("ok").Inc()
}

// UsagePattern flags a reaction as usable when it has no thermodynamic
// parameter and was not deactivated, or when its z indicator is positive.
func UsagePattern(m *model.Model, lp model.Result, deactivated map[string]bool) model.Result {
	active := make(map[string]bool, len(m.Reactions))
	for id, reaction := range m.Reactions {
		if reaction.HasThermodynamics() {
			active[id] = lp.Z(id) > 0
			continue
		}
		active[id] = !deactivated[id]
	}
	return oracle.UsagePattern(m, active)
}

// Best picks the result favoured by sense; ties keep the earlier result.
func Best(results []model.Result, sense model.Sense) model.Result {
	best := results[0]
	for _, candidate := range results[1:] {
		if sense.Better(candidate.Objective(), best.Objective()) {
			best = candidate
		}
	}
	return best
}

func MinimizationObjective(raw float64, sense model.Sense) float64 {
	if sense.IsMaximization() {
		return -raw
	}
	return raw
}
