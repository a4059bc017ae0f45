package evo

import (
	"errors"
	"fmt"
	"math/rand"

	"metaflux/internal/model"
)

var (
	ErrEmptyVector       = errors.New("decision vector is empty")
	ErrDimensionMismatch = errors.New("decision vector dimension mismatch")
)

// BitFlip toggles each discrete entry with probability Rate. A zero rate
// means 1/len(vector).
type BitFlip struct {
	Rate float64
}

func (BitFlip) Name() string {
	return "bit_flip"
}

func (o BitFlip) Apply(rng *rand.Rand, vector model.DecisionVector) (model.DecisionVector, error) {
	if len(vector) == 0 {
		return nil, ErrEmptyVector
	}
	rate := mutationRate(o.Rate, len(vector))
	out := vector.Clone()
	for i := range out {
		if rng.Float64() < rate {
			if out[i] > model.DeactivationThreshold {
				out[i] = 0
			} else {
				out[i] = 1
			}
		}
	}
	return out, nil
}

// FlipAt toggles one fixed entry. Genetic uses it to make sure an offspring
// differs from its parent.
type FlipAt struct {
	Index int
}

func (FlipAt) Name() string {
	return "flip_at"
}

func (o FlipAt) Apply(_ *rand.Rand, vector model.DecisionVector) (model.DecisionVector, error) {
	if len(vector) == 0 {
		return nil, ErrEmptyVector
	}
	if o.Index < 0 || o.Index >= len(vector) {
		return nil, fmt.Errorf("vector index out of range: %d", o.Index)
	}
	out := vector.Clone()
	if out[o.Index] > model.DeactivationThreshold {
		out[o.Index] = 0
	} else {
		out[o.Index] = 1
	}
	return out, nil
}

// UniformCrossover takes every entry from a or b with equal probability.
func UniformCrossover(rng *rand.Rand, a, b model.DecisionVector) (model.DecisionVector, error) {
	if len(a) != len(b) {
		return nil, fmt.Errorf("%w: %d vs %d", ErrDimensionMismatch, len(a), len(b))
	}
	out := make(model.DecisionVector, len(a))
	for i := range a {
		if rng.Intn(2) == 0 {
			out[i] = a[i]
		} else {
			out[i] = b[i]
		}
	}
	return out, nil
}

func mutationRate(rate float64, dim int) float64 {
	if rate > 0 {
		return rate
	}
	return 1 / float64(dim)
}
