package postprocess

import (
	"context"
	"errors"
	"fmt"

	"metaflux/internal/model"
)

const DefaultMinImprovement = 1e-6

type RefineConfig struct {
	// MinImprovement is the gain a round must exceed to continue.
	MinImprovement float64
	// MaxRounds of zero means no limit.
	MaxRounds int
	// OnRound is called after every improving round.
	OnRound func(round model.PostprocessRound, best model.Result) error
}

// Refine repeats Search from the current best result until a round finds no
// switch or no improvement above MinImprovement. It returns the best result
// and one entry per improving round.
func Refine(ctx context.Context, s *Searcher, m *model.Model, start model.Result, objective model.Objective, sense model.Sense, variability model.Variability, cfg RefineConfig) (model.Result, []model.PostprocessRound, error) {
	if s == nil {
		return model.Result{}, nil, errors.New("searcher is required")
	}
	if cfg.MinImprovement <= 0 {
		cfg.MinImprovement = DefaultMinImprovement
	}
	if cfg.MaxRounds < 0 {
		return model.Result{}, nil, fmt.Errorf("max rounds must be >= 0, got %d", cfg.MaxRounds)
	}
	if m == nil {
		return model.Result{}, nil, errors.New("model is required")
	}
	variability, err := s.resolveVariability(ctx, m, variability)
	if err != nil {
		return model.Result{}, nil, err
	}

	current := start.Clone()
	currentValue := objectiveValue(current, objective)
	var rounds []model.PostprocessRound
	for round := 1; cfg.MaxRounds == 0 || round <= cfg.MaxRounds; round++ {
		switches, best, err := s.search(ctx, m, current, objective, sense, variability)
		if err != nil {
			return current, rounds, fmt.Errorf("postprocess round %d: %w", round, err)
		}
		if best < 0 {
			s.logger.Info("local optimum reached", "round", round, "objective", currentValue)
			break
		}

		winner := switches[best]
		value := objectiveValue(winner.Result, objective)
		gain := value - currentValue
		if !sense.IsMaximization() {
			gain = -gain
		}
		if gain <= cfg.MinImprovement {
			s.logger.Info("postprocess converged", "round", round, "objective", currentValue, "candidate", value)
			break
		}

		current = winner.Result
		currentValue = value
		entry := model.PostprocessRound{
			Round:      round,
			Objective:  value,
			Switches:   len(switches),
			BestTarget: append([]string(nil), winner.Target...),
			BestLabel:  winner.Label(),
			BestBudget: winner.Budget,
		}
		rounds = append(rounds, entry)
		s.logger.Info("postprocess round improved", "round", round, "objective", value, "switch", entry.BestLabel, "target", winner.Target.Representative())
		if cfg.OnRound != nil {
			if err := cfg.OnRound(entry, current); err != nil {
				return current, rounds, fmt.Errorf("round %d callback: %w", round, err)
			}
		}
	}
	return current, rounds, nil
}

func objectiveValue(r model.Result, objective model.Objective) float64 {
	if r.HasObjective() {
		return r.Objective()
	}
	return objective.Evaluate(r)
}
