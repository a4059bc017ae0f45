package oracle

import (
	"errors"
	"fmt"

	"metaflux/internal/model"
)

var ErrDuplicateVariable = errors.New("duplicate extension variable")

type VarKind string

const (
	Binary     VarKind = "binary"
	Continuous VarKind = "continuous"
)

type Variable struct {
	Name  string   `json:"name"`
	Kind  VarKind  `json:"kind"`
	Lower *float64 `json:"lower,omitempty"`
	Upper *float64 `json:"upper,omitempty"`
}

// Extension is a set of auxiliary variables and constraints layered on top
// of the oracle's own formulation of a model.
type Extension struct {
	Variables   []Variable               `json:"variables,omitempty"`
	Constraints []model.LinearConstraint `json:"constraints,omitempty"`
	// LowerBounds overrides lower bounds of variables the oracle already defines.
	LowerBounds map[string]float64 `json:"lower_bounds,omitempty"`
}

func (e *Extension) Clone() *Extension {
	if e == nil {
		return nil
	}
	out := &Extension{
		Variables:   make([]Variable, 0, len(e.Variables)),
		Constraints: make([]model.LinearConstraint, 0, len(e.Constraints)),
		LowerBounds: make(map[string]float64, len(e.LowerBounds)),
	}
	for _, v := range e.Variables {
		cp := Variable{Name: v.Name, Kind: v.Kind}
		if v.Lower != nil {
			cp.Lower = model.Float(*v.Lower)
		}
		if v.Upper != nil {
			cp.Upper = model.Float(*v.Upper)
		}
		out.Variables = append(out.Variables, cp)
	}
	for _, c := range e.Constraints {
		out.Constraints = append(out.Constraints, c.Clone())
	}
	for k, v := range e.LowerBounds {
		out.LowerBounds[k] = v
	}
	return out
}

// Builder accumulates an Extension so callers can state intent without
// knowing how the oracle represents its problem. The first invalid addition
// is reported by Build.
type Builder struct {
	ext   Extension
	names map[string]struct{}
	err   error
}

func NewBuilder() *Builder {
	return &Builder{
		ext:   Extension{LowerBounds: map[string]float64{}},
		names: map[string]struct{}{},
	}
}

// AddIndicator adds a binary variable and returns its name.
func (b *Builder) AddIndicator(name string) string {
	b.addVariable(Variable{Name: name, Kind: Binary, Lower: model.Float(0), Upper: model.Float(1)})
	return name
}

// AddBudgetSlack adds a continuous variable bounded to [0, bound].
func (b *Builder) AddBudgetSlack(name string, bound float64) string {
	b.addVariable(Variable{Name: name, Kind: Continuous, Lower: model.Float(0), Upper: model.Float(bound)})
	return name
}

// AddLinkingConstraint adds lower <= sum(terms) <= upper; nil bounds are open.
func (b *Builder) AddLinkingConstraint(name string, terms map[string]float64, lower, upper *float64) {
	c := model.LinearConstraint{Name: name, Terms: make(map[string]float64, len(terms))}
	for k, v := range terms {
		c.Terms[k] = v
	}
	if lower != nil {
		c.Lower = model.Float(*lower)
	}
	if upper != nil {
		c.Upper = model.Float(*upper)
	}
	b.ext.Constraints = append(b.ext.Constraints, c)
}

// SetLowerBound raises the lower bound of an oracle-defined variable.
func (b *Builder) SetLowerBound(variable string, lb float64) {
	b.ext.LowerBounds[variable] = lb
}

func (b *Builder) Build() (*Extension, error) {
	if b.err != nil {
		return nil, b.err
	}
	return b.ext.Clone(), nil
}

func (b *Builder) addVariable(v Variable) {
	if _, exists := b.names[v.Name]; exists {
		if b.err == nil {
			b.err = fmt.Errorf("%w: %q", ErrDuplicateVariable, v.Name)
		}
		return
	}
	b.names[v.Name] = struct{}{}
	b.ext.Variables = append(b.ext.Variables, v)
}
