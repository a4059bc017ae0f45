package evo

import (
	"math/rand"
	"reflect"
	"testing"

	"metaflux/internal/model"
)

func TestGeneticInitializeIsBinary(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	population := NewGenetic().Initialize(rng, 5, 10, []model.DecisionVector{{1, 1, 1, 1, 1}})
	if len(population) != 10 {
		t.Fatalf("expected 10 individuals, got %d", len(population))
	}
	if !reflect.DeepEqual(population[0], model.DecisionVector{1, 1, 1, 1, 1}) {
		t.Fatalf("expected seed first, got %v", population[0])
	}
	for _, v := range population {
		for _, x := range v {
			if x != 0 && x != 1 {
				t.Fatalf("non-binary entry %f", x)
			}
		}
	}
}

func TestGeneticNextKeepsEliteReducedVector(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	scored := []ScoredVector{
		{Vector: model.DecisionVector{0, 0, 0}, Fitness: 0, Record: model.FitnessRecord{Objective: 0, Vector: model.DecisionVector{0, 0, 0}}},
		{Vector: model.DecisionVector{1, 1, 1}, Fitness: -3, Record: model.FitnessRecord{Objective: -3, Vector: model.DecisionVector{1, 0, 1}}},
		{Vector: model.DecisionVector{1, 0, 0}, Fitness: model.SentinelObjective, Record: model.SentinelRecord()},
		{Vector: model.DecisionVector{0, 1, 0}, Fitness: -1, Record: model.FitnessRecord{Objective: -1, Vector: model.DecisionVector{0, 1, 0}}},
	}

	next := NewGenetic().Next(rng, scored)
	if len(next) != len(scored) {
		t.Fatalf("expected %d offspring, got %d", len(scored), len(next))
	}
	if !reflect.DeepEqual(next[0], model.DecisionVector{1, 0, 1}) {
		t.Fatalf("expected reduced elite first, got %v", next[0])
	}
	for _, v := range next {
		if len(v) != 3 {
			t.Fatalf("unexpected offspring dimension: %v", v)
		}
		for _, x := range v {
			if x != 0 && x != 1 {
				t.Fatalf("non-binary offspring entry %f", x)
			}
		}
	}
}

type failingOperator struct{}

func (failingOperator) Name() string { return "failing" }

func (failingOperator) Apply(*rand.Rand, model.DecisionVector) (model.DecisionVector, error) {
	return nil, ErrEmptyVector
}

func TestGeneticOffspringSurvivesFailingMutation(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	g := NewGenetic()
	g.Mutation = failingOperator{}
	g.CrossoverRate = 0
	g.Selector = EliteSelector{}
	scored := []ScoredVector{
		{Vector: model.DecisionVector{1, 1}, Fitness: -2, Record: model.FitnessRecord{Objective: -2, Vector: model.DecisionVector{1, 1}}},
		{Vector: model.DecisionVector{0, 0}, Fitness: 0, Record: model.FitnessRecord{Objective: 0, Vector: model.DecisionVector{0, 0}}},
	}

	next := g.Next(rng, scored)
	for _, v := range next {
		if !reflect.DeepEqual(v, model.DecisionVector{1, 1}) {
			t.Fatalf("expected unmutated elite copies, got %v", next)
		}
	}
}

func TestConfiguredGeneticUsesSelectionAndRate(t *testing.T) {
	g := configuredGenetic(StrategyConfig{Selection: "elite", MutationRate: 0.25})
	if _, ok := g.Selector.(EliteSelector); !ok {
		t.Fatalf("expected elite selector, got %T", g.Selector)
	}
	if flip, ok := g.Mutation.(BitFlip); !ok || flip.Rate != 0.25 {
		t.Fatalf("expected bit flip at 0.25, got %#v", g.Mutation)
	}

	fallback := configuredGenetic(StrategyConfig{Selection: "roulette"})
	if _, ok := fallback.Selector.(TournamentSelector); !ok {
		t.Fatalf("expected tournament fallback, got %T", fallback.Selector)
	}
}

type identityOperator struct{}

func (identityOperator) Name() string { return "identity" }

func (identityOperator) Apply(_ *rand.Rand, v model.DecisionVector) (model.DecisionVector, error) {
	return v.Clone(), nil
}

func TestGeneticOffspringDiffersFromParent(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	g := NewGenetic()
	g.Mutation = identityOperator{}
	g.CrossoverRate = 0
	g.Selector = EliteSelector{}
	parent := model.DecisionVector{1, 0, 1}
	scored := []ScoredVector{
		{Vector: parent, Fitness: -2, Record: model.FitnessRecord{Objective: -2, Vector: parent}},
		{Vector: model.DecisionVector{0, 0, 0}, Fitness: 0, Record: model.FitnessRecord{Objective: 0, Vector: model.DecisionVector{0, 0, 0}}},
		{Vector: model.DecisionVector{0, 1, 0}, Fitness: 0, Record: model.FitnessRecord{Objective: 0, Vector: model.DecisionVector{0, 1, 0}}},
	}

	next := g.Next(rng, scored)
	if !reflect.DeepEqual(next[0], parent) {
		t.Fatalf("expected elite copy first, got %v", next[0])
	}
	for _, child := range next[1:] {
		diff := 0
		for i := range child {
			if child[i] != parent[i] {
				diff++
			}
		}
		if diff != 1 {
			t.Fatalf("expected exactly one flipped entry, got %v", child)
		}
	}
}
