package evo

import (
	"math/rand"
	"reflect"
	"testing"

	"metaflux/internal/model"
)

func rankedFixture() []ScoredVector {
	return rankScored([]ScoredVector{
		{Vector: model.DecisionVector{0, 0}, Fitness: 0, Record: model.FitnessRecord{Objective: 0, Vector: model.DecisionVector{0, 0}}},
		{Vector: model.DecisionVector{0.9, 0.8}, Fitness: -2, Record: model.FitnessRecord{Objective: -2, Vector: model.DecisionVector{1, 1}}},
		{Vector: model.DecisionVector{0.6, 0}, Fitness: -1, Record: model.FitnessRecord{Objective: -1, Vector: model.DecisionVector{1, 0}}},
	})
}

func TestRankScoredKeepsPopulationOrderOnTies(t *testing.T) {
	ranked := rankScored([]ScoredVector{
		{Vector: model.DecisionVector{1}, Fitness: 3},
		{Vector: model.DecisionVector{2}, Fitness: 1},
		{Vector: model.DecisionVector{3}, Fitness: 1},
	})
	got := []float64{ranked[0].Vector[0], ranked[1].Vector[0], ranked[2].Vector[0]}
	if !reflect.DeepEqual(got, []float64{2, 3, 1}) {
		t.Fatalf("unexpected ranking: %v", got)
	}
}

func TestEliteSelectorPicksFromEliteSet(t *testing.T) {
	ranked := rankedFixture()
	rng := rand.New(rand.NewSource(3))
	for i := 0; i < 20; i++ {
		parent, err := EliteSelector{}.PickParent(rng, ranked, 1)
		if err != nil {
			t.Fatalf("pick parent: %v", err)
		}
		if !reflect.DeepEqual(parent, model.DecisionVector{1, 1}) {
			t.Fatalf("expected best phenotype, got %v", parent)
		}
	}
}

func TestEliteSelectorValidation(t *testing.T) {
	ranked := rankedFixture()
	if _, err := (EliteSelector{}).PickParent(nil, ranked, 1); err == nil {
		t.Fatal("expected missing rng error")
	}
	rng := rand.New(rand.NewSource(1))
	if _, err := (EliteSelector{}).PickParent(rng, ranked, 0); err == nil {
		t.Fatal("expected elite count error")
	}
	if _, err := (EliteSelector{}).PickParent(rng, ranked, 4); err == nil {
		t.Fatal("expected elite count error")
	}
}

func TestTournamentSelectorPrefersLowerFitness(t *testing.T) {
	ranked := rankedFixture()
	rng := rand.New(rand.NewSource(11))
	selector := TournamentSelector{TournamentSize: 3}
	counts := map[string]int{}
	for i := 0; i < 300; i++ {
		parent, err := selector.PickParent(rng, ranked, 1)
		if err != nil {
			t.Fatalf("pick parent: %v", err)
		}
		counts[VectorSignature(parent)]++
	}
	if counts["1,1"] <= counts["0,0"] {
		t.Fatalf("expected best phenotype to dominate tournaments, got %v", counts)
	}
}

func TestTournamentSelectorCanPickNonEliteParent(t *testing.T) {
	ranked := rankedFixture()
	rng := rand.New(rand.NewSource(5))
	selector := TournamentSelector{TournamentSize: 1}
	picked := map[string]bool{}
	for i := 0; i < 200; i++ {
		parent, err := selector.PickParent(rng, ranked, 1)
		if err != nil {
			t.Fatalf("pick parent: %v", err)
		}
		picked[VectorSignature(parent)] = true
	}
	if len(picked) != 3 {
		t.Fatalf("expected every individual to be picked at least once, got %v", picked)
	}
}
