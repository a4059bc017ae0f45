package evo

import (
	"math/rand"

	"metaflux/internal/model"
)

// Genetic is a generational genetic algorithm over {0,1}^dim with elitism,
// tournament selection, uniform crossover and bit-flip mutation. Parents
// contribute their reduced vector when their evaluation was feasible. An
// offspring identical to its first parent gets one random entry flipped.
type Genetic struct {
	Selector      Selector
	Mutation      Operator
	CrossoverRate float64
	// EliteFraction of each generation survives unchanged; at least one.
	EliteFraction float64
}

func NewGenetic() *Genetic {
	return &Genetic{
		Selector:      TournamentSelector{TournamentSize: 2},
		Mutation:      BitFlip{},
		CrossoverRate: 0.9,
		EliteFraction: 0.1,
	}
}

// configuredGenetic applies the selection and mutation rate of cfg. An
// unknown selection keeps tournament selection; NewOptimizer rejects it
// earlier.
func configuredGenetic(cfg StrategyConfig) *Genetic {
	g := NewGenetic()
	if selector, err := SelectorByName(cfg.Selection); err == nil {
		g.Selector = selector
	}
	g.Mutation = BitFlip{Rate: cfg.MutationRate}
	return g
}

func (*Genetic) Name() string {
	return "genetic"
}

func (*Genetic) Domain() Domain {
	return Discrete
}

func (g *Genetic) Initialize(rng *rand.Rand, dim, popSize int, seeds []model.DecisionVector) []model.DecisionVector {
	return seedPopulation(dim, popSize, seeds, func() model.DecisionVector {
		v := make(model.DecisionVector, dim)
		for i := range v {
			v[i] = float64(rng.Intn(2))
		}
		return v
	})
}

func (g *Genetic) Next(rng *rand.Rand, scored []ScoredVector) []model.DecisionVector {
	ranked := rankScored(scored)
	eliteCount := int(g.EliteFraction * float64(len(ranked)))
	if eliteCount < 1 {
		eliteCount = 1
	}

	next := make([]model.DecisionVector, 0, len(ranked))
	for i := 0; i < eliteCount; i++ {
		next = append(next, ranked[i].Phenotype().Clone())
	}
	for len(next) < len(ranked) {
		next = append(next, g.offspring(rng, ranked, eliteCount))
	}
	return next
}

// offspring falls back to a copy of the best phenotype when an operator fails.
func (g *Genetic) offspring(rng *rand.Rand, ranked []ScoredVector, eliteCount int) model.DecisionVector {
	fallback := ranked[0].Phenotype().Clone()
	mother, err := g.Selector.PickParent(rng, ranked, eliteCount)
	if err != nil {
		return fallback
	}
	child := mother.Clone()
	if rng.Float64() < g.CrossoverRate {
		father, err := g.Selector.PickParent(rng, ranked, eliteCount)
		if err != nil {
			return fallback
		}
		if crossed, err := UniformCrossover(rng, mother, father); err == nil {
			child = crossed
		}
	}
	mutated, err := g.Mutation.Apply(rng, child)
	if err != nil {
		return child
	}
	if len(mutated) > 0 && sameVector(mutated, mother) {
		if flipped, err := (FlipAt{Index: rng.Intn(len(mutated))}).Apply(rng, mutated); err == nil {
			return flipped
		}
	}
	return mutated
}

func sameVector(a, b model.DecisionVector) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
