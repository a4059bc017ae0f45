// Package couples derives the search space: groups of reactions forced to
// carry flux together, filtered to the ones the search may switch.
package couples

import (
	"sort"

	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"

	"metaflux/internal/model"
)

// Stoichiometric groups reactions linked through metabolites that occur in
// exactly two reactions. Members follow model reaction order and groups are
// ordered by their first member. Every reaction belongs to exactly one group.
func Stoichiometric(m *model.Model) []model.ReactionCouple {
	ids := m.ReactionIDs()
	index := make(map[string]int64, len(ids))
	g := simple.NewUndirectedGraph()
	for i, id := range ids {
		index[id] = int64(i)
		g.AddNode(simple.Node(i))
	}

	participants := map[string][]string{}
	for _, id := range ids {
		for metID, coefficient := range m.Reactions[id].Stoichiometries {
			if coefficient == 0 {
				continue
			}
			participants[metID] = append(participants[metID], id)
		}
	}
	for _, reactions := range participants {
		if len(reactions) != 2 || reactions[0] == reactions[1] {
			continue
		}
		g.SetEdge(g.NewEdge(simple.Node(index[reactions[0]]), simple.Node(index[reactions[1]])))
	}

	groups := make([]model.ReactionCouple, 0, len(ids))
	for _, component := range topo.ConnectedComponents(g) {
		positions := make([]int, 0, len(component))
		for _, node := range component {
			positions = append(positions, int(node.ID()))
		}
		sort.Ints(positions)
		couple := make(model.ReactionCouple, 0, len(positions))
		for _, pos := range positions {
			couple = append(couple, ids[pos])
		}
		groups = append(groups, couple)
	}
	sort.Slice(groups, func(i, j int) bool {
		return index[groups[i][0]] < index[groups[j][0]]
	})
	return groups
}

// Index builds the decision-vector layout. Entry i of the result is the
// couple controlled by decision value i.
func Index(m *model.Model, variability model.Variability, objective model.Objective, errorScenario []string) []model.ReactionCouple {
	excluded := make(map[string]struct{}, len(objective)+len(errorScenario))
	for id := range objective {
		excluded[id] = struct{}{}
	}
	for _, id := range errorScenario {
		excluded[id] = struct{}{}
	}

	out := make([]model.ReactionCouple, 0)
	for _, group := range Stoichiometric(m) {
		filtered := make(model.ReactionCouple, 0, len(group))
		for _, id := range group {
			if eligible(m, variability, id) {
				filtered = append(filtered, id)
			}
		}
		if len(filtered) == 0 || intersects(filtered, excluded) {
			continue
		}
		out = append(out, filtered)
	}
	return out
}

func eligible(m *model.Model, variability model.Variability, id string) bool {
	r, ok := variability[id]
	if !ok || r.Max == 0 || r.Min != 0 {
		return false
	}
	reaction := m.Reactions[id]
	return reaction.HasThermodynamics() || reaction.HasKinetics()
}

func intersects(couple model.ReactionCouple, excluded map[string]struct{}) bool {
	for _, id := range couple {
		if _, ok := excluded[id]; ok {
			return true
		}
	}
	return false
}

// SeedVectors turns feasible starts into decision vectors: 1 where the
// couple's representative carries positive flux, else 0.
func SeedVectors(index []model.ReactionCouple, starts []model.FeasibleStart) []model.DecisionVector {
	out := make([]model.DecisionVector, 0, len(starts))
	for _, start := range starts {
		vector := make(model.DecisionVector, len(index))
		for i, couple := range index {
			if start.Result.Values[couple.Representative()] > 0 {
				vector[i] = 1
			}
		}
		out = append(out, vector)
	}
	return out
}

// Reduce maps a refined result back onto the couple layout.
func Reduce(index []model.ReactionCouple, result model.Result) model.DecisionVector {
	vector := make(model.DecisionVector, len(index))
	for i, couple := range index {
		if result.Values[couple.Representative()] > model.ActiveFluxThreshold {
			vector[i] = 1
		}
	}
	return vector
}
