package model

import "sort"

// Result is a solver oracle answer: one value per variable plus the
// overall status flag.
type Result struct {
	AllOK  bool               `json:"all_ok"`
	Values map[string]float64 `json:"values"`
}

func Infeasible() Result {
	return Result{AllOK: false}
}

func (r Result) Objective() float64 {
	return r.Values[ObjectiveVar]
}

func (r Result) HasObjective() bool {
	_, ok := r.Values[ObjectiveVar]
	return ok
}

func (r Result) Value(id string) (float64, bool) {
	v, ok := r.Values[id]
	return v, ok
}

// Z returns the thermodynamic-feasibility indicator value of a reaction.
func (r Result) Z(reactionID string) float64 {
	return r.Values[ZVarPrefix+reactionID]
}

func (r Result) Clone() Result {
	out := Result{AllOK: r.AllOK}
	if r.Values != nil {
		out.Values = make(map[string]float64, len(r.Values))
		for k, v := range r.Values {
			out.Values[k] = v
		}
	}
	return out
}

// ActiveReactions lists the model reactions carrying positive flux in r, sorted.
func ActiveReactions(m *Model, r Result) []string {
	active := make([]string, 0)
	for id := range m.Reactions {
		if v, ok := r.Values[id]; ok && v > 0 {
			active = append(active, id)
		}
	}
	sort.Strings(active)
	return active
}
