// Package oracle defines the contracts of the external LP/NLP solver that
// the search engine drives. Model formulation and solving live behind these
// interfaces.
package oracle

import (
	"context"
	"errors"
	"fmt"

	"metaflux/internal/model"
)

var (
	// ErrInfeasible is returned by the Solve helpers when the oracle answers
	// with a false status flag.
	ErrInfeasible = errors.New("oracle reported infeasible result")
	// ErrOracleFailure wraps a panic raised inside an oracle implementation.
	ErrOracleFailure = errors.New("oracle failure")
)

// Kinetics selects which kinetic saturation terms the NLP oracle includes.
type Kinetics struct {
	Kappa bool `json:"kappa" yaml:"kappa"`
	Gamma bool `json:"gamma" yaml:"gamma"`
	Iota  bool `json:"iota" yaml:"iota"`
	Alpha bool `json:"alpha" yaml:"alpha"`
}

func DefaultKinetics() Kinetics {
	return Kinetics{Kappa: true, Gamma: true}
}

// Request data is shared between concurrent callers; implementations must
// treat it as read-only.
type LPRequest struct {
	Model       *model.Model
	Objective   model.Objective
	Sense       model.Sense
	Enzyme      bool
	Thermo      bool
	Loop        bool
	Variability model.Variability
	// Ignored reactions are fixed to zero flux.
	Ignored       []string
	ErrorScenario []string
	Extension     *Extension
}

type NLPRequest struct {
	Model     *model.Model
	Objective model.Objective
	Sense     model.Sense
	// ActiveSeed flags the reactions (value > 0) the NLP may use.
	ActiveSeed    model.Result
	Variability   model.Variability
	Kinetics      Kinetics
	ErrorScenario []string
}

type LP interface {
	SolveLP(ctx context.Context, req LPRequest) (model.Result, error)
}

type NLP interface {
	SolveNLP(ctx context.Context, req NLPRequest) (model.Result, error)
}

// Solver is an oracle offering both problem classes.
type Solver interface {
	LP
	NLP
}

// VariabilityAnalyzer computes per-reaction flux ranges when the caller has none.
type VariabilityAnalyzer interface {
	Variability(ctx context.Context, m *model.Model, enzyme, thermo bool) (model.Variability, error)
}

// SolveLP calls the oracle and folds explicit infeasibility and panics into errors.
func SolveLP(ctx context.Context, lp LP, req LPRequest) (res model.Result, err error) {
	defer recoverOracle("lp", &err)
	res, err = lp.SolveLP(ctx, req)
	if err != nil {
		return model.Result{}, err
	}
	if !res.AllOK {
		return model.Result{}, ErrInfeasible
	}
	return res, nil
}

// SolveNLP calls the oracle and folds explicit infeasibility and panics into errors.
func SolveNLP(ctx context.Context, nlp NLP, req NLPRequest) (res model.Result, err error) {
	defer recoverOracle("nlp", &err)
	res, err = nlp.SolveNLP(ctx, req)
	if err != nil {
		return model.Result{}, err
	}
	if !res.AllOK {
		return model.Result{}, ErrInfeasible
	}
	return res, nil
}

func recoverOracle(kind string, err *error) {
	if r := recover(); r != nil {
		*err = fmt.Errorf("%w: %s: %v", ErrOracleFailure, kind, r)
	}
}

// UsagePattern converts a set of active reaction ids into an NLP seed.
func UsagePattern(m *model.Model, active map[string]bool) model.Result {
	seed := model.Result{AllOK: true, Values: make(map[string]float64, len(m.Reactions))}
	for id := range m.Reactions {
		if active[id] {
			seed.Values[id] = 1
		} else {
			seed.Values[id] = 0
		}
	}
	return seed
}
