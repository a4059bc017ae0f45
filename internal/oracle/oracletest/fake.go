// Package oracletest provides scripted oracle fakes for package tests.
package oracletest

import (
	"context"
	"strings"
	"sync"

	"metaflux/internal/model"
	"metaflux/internal/oracle"
)

type LPFunc func(ctx context.Context, req oracle.LPRequest) (model.Result, error)

type NLPFunc func(ctx context.Context, req oracle.NLPRequest) (model.Result, error)

// Solver records every request and answers through the scripted funcs.
// A nil func answers with an infeasible result.
type Solver struct {
	LP  LPFunc
	NLP NLPFunc

	mu       sync.Mutex
	lpCalls  []oracle.LPRequest
	nlpCalls []oracle.NLPRequest
}

var _ oracle.Solver = (*Solver)(nil)

func (s *Solver) SolveLP(ctx context.Context, req oracle.LPRequest) (model.Result, error) {
	s.mu.Lock()
	s.lpCalls = append(s.lpCalls, req)
	s.mu.Unlock()
	if s.LP == nil {
		return model.Infeasible(), nil
	}
	return s.LP(ctx, req)
}

func (s *Solver) SolveNLP(ctx context.Context, req oracle.NLPRequest) (model.Result, error) {
	s.mu.Lock()
	s.nlpCalls = append(s.nlpCalls, req)
	s.mu.Unlock()
	if s.NLP == nil {
		return model.Infeasible(), nil
	}
	return s.NLP(ctx, req)
}

func (s *Solver) LPCalls() []oracle.LPRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]oracle.LPRequest(nil), s.lpCalls...)
}

func (s *Solver) NLPCalls() []oracle.NLPRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]oracle.NLPRequest(nil), s.nlpCalls...)
}

// Feasible builds an ok result carrying objective plus values.
func Feasible(objective float64, values map[string]float64) model.Result {
	out := model.Result{AllOK: true, Values: map[string]float64{model.ObjectiveVar: objective}}
	for k, v := range values {
		out.Values[k] = v
	}
	return out
}

// IsZSumObjective reports whether the request optimizes a sum of z indicators.
func IsZSumObjective(objective model.Objective) bool {
	if len(objective) == 0 {
		return false
	}
	for id := range objective {
		if !strings.HasPrefix(id, model.ZVarPrefix) {
			return false
		}
	}
	return true
}

// ActiveSeedIDs lists the reactions the NLP seed flags as usable.
func ActiveSeedIDs(req oracle.NLPRequest) map[string]bool {
	out := map[string]bool{}
	for id, v := range req.ActiveSeed.Values {
		if v > 0 {
			out[id] = true
		}
	}
	return out
}
