package couples

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"metaflux/internal/model"
)

// linear chain A -> B -> C with a branch at C
func chainModel() *model.Model {
	dg0 := -5.0
	return &model.Model{
		Reactions: map[string]model.Reaction{
			"r1": {Stoichiometries: map[string]float64{"A": 1}, MaxFlux: 10, DG0: &dg0},
			"r2": {Stoichiometries: map[string]float64{"A": -1, "B": 1}, MaxFlux: 10, DG0: &dg0},
			"r3": {Stoichiometries: map[string]float64{"B": -1, "C": 1}, MaxFlux: 10},
			"r4": {Stoichiometries: map[string]float64{"C": -1, "D": 1}, MaxFlux: 10, DG0: &dg0},
			"r5": {Stoichiometries: map[string]float64{"C": -1, "E": 1}, MaxFlux: 10, Enzyme: &model.EnzymeReactionData{KCat: 1}},
			"r6": {Stoichiometries: map[string]float64{"D": -1}, MaxFlux: 10, DG0: &dg0},
		},
	}
}

func switchable(ids ...string) model.Variability {
	v := model.Variability{}
	for _, id := range ids {
		v[id] = model.Range{Min: 0, Max: 10}
	}
	return v
}

func TestStoichiometricGroups(t *testing.T) {
	groups := Stoichiometric(chainModel())

	require.Len(t, groups, 3)
	assert.Equal(t, model.ReactionCouple{"r1", "r2", "r3"}, groups[0])
	assert.Equal(t, model.ReactionCouple{"r4", "r6"}, groups[1])
	assert.Equal(t, model.ReactionCouple{"r5"}, groups[2])
}

func TestIndexFiltersMembersAndGroups(t *testing.T) {
	m := chainModel()
	v := switchable("r1", "r2", "r3", "r4", "r5", "r6")
	v["r2"] = model.Range{Min: 1, Max: 10}

	index := Index(m, v, model.Objective{"r6": 1}, nil)

	// r2 is forced on, r3 has no parameters, r4/r6 hit the objective
	require.Len(t, index, 2)
	assert.Equal(t, model.ReactionCouple{"r1"}, index[0])
	assert.Equal(t, model.ReactionCouple{"r5"}, index[1])
}

func TestIndexDropsErrorScenarioAndEmptyGroups(t *testing.T) {
	m := chainModel()
	v := switchable("r1", "r2", "r4", "r5", "r6")

	index := Index(m, v, nil, []string{"r5"})

	require.Len(t, index, 2)
	assert.Equal(t, model.ReactionCouple{"r1", "r2"}, index[0])
	assert.Equal(t, model.ReactionCouple{"r4", "r6"}, index[1])
}

func TestIndexSkipsZeroMaxVariability(t *testing.T) {
	m := chainModel()
	v := switchable("r1", "r2")
	v["r5"] = model.Range{}

	index := Index(m, v, nil, nil)
	require.Len(t, index, 1)
	assert.Equal(t, model.ReactionCouple{"r1", "r2"}, index[0])
}

func TestSeedVectorsAndReduce(t *testing.T) {
	index := []model.ReactionCouple{{"r1", "r2"}, {"r5"}}
	starts := []model.FeasibleStart{
		{Result: model.Result{AllOK: true, Values: map[string]float64{"r1": 3, "r5": 0}}},
		{Result: model.Result{AllOK: true, Values: map[string]float64{"r5": 1}}},
	}

	seeds := SeedVectors(index, starts)
	assert.Equal(t, []model.DecisionVector{{1, 0}, {0, 1}}, seeds)

	reduced := Reduce(index, model.Result{Values: map[string]float64{"r1": 2e-11, "r5": 5e-12}})
	assert.Equal(t, model.DecisionVector{1, 0}, reduced)
}
