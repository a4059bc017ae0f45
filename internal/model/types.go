package model

import (
	"sort"
)

// VersionedRecord captures schema and codec evolution for persistent data.
type VersionedRecord struct {
	SchemaVersion int `json:"schema_version"`
	CodecVersion  int `json:"codec_version"`
}

const (
	// ObjectiveVar is the result key holding the achieved objective value.
	ObjectiveVar = "OBJECTIVE_VAR"
	// ZVarPrefix prefixes the thermodynamic-feasibility indicator of a reaction.
	ZVarPrefix = "z_var_"
)

type Sense int

const (
	Minimize Sense = -1
	Maximize Sense = 1
)

func (s Sense) IsMaximization() bool {
	return s > 0
}

func (s Sense) String() string {
	if s.IsMaximization() {
		return "max"
	}
	return "min"
}

// Better reports whether a is strictly better than b under this sense.
func (s Sense) Better(a, b float64) bool {
	if s.IsMaximization() {
		return a > b
	}
	return a < b
}

type EnzymeReactionData struct {
	Identifiers []string           `json:"identifiers"`
	KCat        float64            `json:"k_cat"`
	KMs         map[string]float64 `json:"k_ms,omitempty"`
}

type Reaction struct {
	Stoichiometries map[string]float64  `json:"stoichiometries"`
	MinFlux         float64             `json:"min_flux"`
	MaxFlux         float64             `json:"max_flux"`
	DG0             *float64            `json:"dG0,omitempty"`
	DG0Uncertainty  *float64            `json:"dG0_uncertainty,omitempty"`
	Enzyme          *EnzymeReactionData `json:"enzyme_reaction_data,omitempty"`
}

// HasThermodynamics reports whether the reaction carries a ΔG'° and thus a z indicator.
func (r Reaction) HasThermodynamics() bool {
	return r.DG0 != nil
}

func (r Reaction) HasKinetics() bool {
	return r.Enzyme != nil
}

type Metabolite struct {
	LogMinConc float64 `json:"log_min_conc"`
	LogMaxConc float64 `json:"log_max_conc"`
}

// LinearConstraint bounds a weighted sum of variables. A nil bound is open.
type LinearConstraint struct {
	Name  string             `json:"name,omitempty"`
	Terms map[string]float64 `json:"terms"`
	Lower *float64           `json:"lower,omitempty"`
	Upper *float64           `json:"upper,omitempty"`
}

func (c LinearConstraint) Clone() LinearConstraint {
	out := LinearConstraint{Name: c.Name, Terms: make(map[string]float64, len(c.Terms))}
	for k, v := range c.Terms {
		out.Terms[k] = v
	}
	if c.Lower != nil {
		out.Lower = Float(*c.Lower)
	}
	if c.Upper != nil {
		out.Upper = Float(*c.Upper)
	}
	return out
}

// Model is the metabolic model handed to the solver oracles.
type Model struct {
	Reactions              map[string]Reaction   `json:"reactions"`
	Metabolites            map[string]Metabolite `json:"metabolites,omitempty"`
	ExtraLinearConstraints []LinearConstraint    `json:"extra_linear_constraints,omitempty"`
}

// ReactionIDs returns reaction identifiers in a stable order.
func (m *Model) ReactionIDs() []string {
	ids := make([]string, 0, len(m.Reactions))
	for id := range m.Reactions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (m *Model) Clone() *Model {
	if m == nil {
		return nil
	}
	out := &Model{
		Reactions:   make(map[string]Reaction, len(m.Reactions)),
		Metabolites: make(map[string]Metabolite, len(m.Metabolites)),
	}
	for id, reaction := range m.Reactions {
		out.Reactions[id] = cloneReaction(reaction)
	}
	for id, metabolite := range m.Metabolites {
		out.Metabolites[id] = metabolite
	}
	if len(m.ExtraLinearConstraints) > 0 {
		out.ExtraLinearConstraints = make([]LinearConstraint, 0, len(m.ExtraLinearConstraints))
		for _, c := range m.ExtraLinearConstraints {
			out.ExtraLinearConstraints = append(out.ExtraLinearConstraints, c.Clone())
		}
	}
	return out
}

// DeleteReactions removes the given reactions and any metabolite no longer
// referenced by a remaining reaction.
func (m *Model) DeleteReactions(ids ...string) {
	for _, id := range ids {
		delete(m.Reactions, id)
	}
	if len(m.Metabolites) == 0 {
		return
	}
	used := make(map[string]struct{}, len(m.Metabolites))
	for _, reaction := range m.Reactions {
		for metID := range reaction.Stoichiometries {
			used[metID] = struct{}{}
		}
	}
	for metID := range m.Metabolites {
		if _, ok := used[metID]; !ok {
			delete(m.Metabolites, metID)
		}
	}
}

func cloneReaction(r Reaction) Reaction {
	out := r
	out.Stoichiometries = make(map[string]float64, len(r.Stoichiometries))
	for k, v := range r.Stoichiometries {
		out.Stoichiometries[k] = v
	}
	if r.DG0 != nil {
		out.DG0 = Float(*r.DG0)
	}
	if r.DG0Uncertainty != nil {
		out.DG0Uncertainty = Float(*r.DG0Uncertainty)
	}
	if r.Enzyme != nil {
		enzyme := *r.Enzyme
		enzyme.Identifiers = append([]string(nil), r.Enzyme.Identifiers...)
		if r.Enzyme.KMs != nil {
			enzyme.KMs = make(map[string]float64, len(r.Enzyme.KMs))
			for k, v := range r.Enzyme.KMs {
				enzyme.KMs[k] = v
			}
		}
		out.Enzyme = &enzyme
	}
	return out
}

// Range is the achievable flux interval of one variable.
type Range struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

type Variability map[string]Range

func (v Variability) Clone() Variability {
	out := make(Variability, len(v))
	for k, r := range v {
		out[k] = r
	}
	return out
}

// Switchable reports whether the variable can carry flux but is not forced to.
func (v Variability) Switchable(id string) bool {
	r, ok := v[id]
	return ok && r.Max != 0 && r.Min == 0
}

// Objective maps variable identifiers to linear objective coefficients.
type Objective map[string]float64

func (o Objective) Contains(id string) bool {
	_, ok := o[id]
	return ok
}

func (o Objective) IDs() []string {
	ids := make([]string, 0, len(o))
	for id := range o {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Evaluate computes the objective value from a result's variable values.
func (o Objective) Evaluate(r Result) float64 {
	total := 0.0
	for id, coefficient := range o {
		total += r.Values[id] * coefficient
	}
	return total
}

func Float(v float64) *float64 {
	return &v
}
