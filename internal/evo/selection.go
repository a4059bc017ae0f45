package evo

import (
	"errors"
	"fmt"
	"math/rand"

	"metaflux/internal/model"
)

var ErrUnknownSelection = errors.New("unknown parent selection")

// SelectorByName returns the named parent selector; an empty name is
// tournament selection.
func SelectorByName(name string) (Selector, error) {
	switch name {
	case "", "tournament":
		return TournamentSelector{TournamentSize: 2}, nil
	case "elite":
		return EliteSelector{}, nil
	default:
		return nil, fmt.Errorf("%w: %q (available: %v)", ErrUnknownSelection, name, ListSelectors())
	}
}

func ListSelectors() []string {
	return []string{"elite", "tournament"}
}

// Selector chooses parents from vectors ranked by ascending fitness.
type Selector interface {
	Name() string
	PickParent(rng *rand.Rand, ranked []ScoredVector, eliteCount int) (model.DecisionVector, error)
}

// EliteSelector picks uniformly from the top elite set.
type EliteSelector struct{}

func (EliteSelector) Name() string {
	return "elite"
}

func (EliteSelector) PickParent(rng *rand.Rand, ranked []ScoredVector, eliteCount int) (model.DecisionVector, error) {
	if rng == nil {
		return nil, fmt.Errorf("random source is required")
	}
	if eliteCount <= 0 || eliteCount > len(ranked) {
		return nil, fmt.Errorf("invalid elite count: %d", eliteCount)
	}
	return ranked[rng.Intn(eliteCount)].Phenotype(), nil
}

// TournamentSelector samples candidates and picks the lowest fitness among them.
type TournamentSelector struct {
	PoolSize       int
	TournamentSize int
}

func (TournamentSelector) Name() string {
	return "tournament"
}

func (s TournamentSelector) PickParent(rng *rand.Rand, ranked []ScoredVector, eliteCount int) (model.DecisionVector, error) {
	if rng == nil {
		return nil, fmt.Errorf("random source is required")
	}
	if eliteCount <= 0 || eliteCount > len(ranked) {
		return nil, fmt.Errorf("invalid elite count: %d", eliteCount)
	}

	poolSize := s.PoolSize
	if poolSize <= 0 {
		poolSize = len(ranked)
	}
	if poolSize < eliteCount {
		poolSize = eliteCount
	}
	if poolSize > len(ranked) {
		poolSize = len(ranked)
	}

	tournamentSize := s.TournamentSize
	if tournamentSize <= 0 {
		tournamentSize = 2
	}
	if tournamentSize > poolSize {
		tournamentSize = poolSize
	}

	best := ranked[rng.Intn(poolSize)]
	for i := 1; i < tournamentSize; i++ {
		candidate := ranked[rng.Intn(poolSize)]
		if candidate.Fitness < best.Fitness {
			best = candidate
		}
	}
	return best.Phenotype(), nil
}
