package evo

import (
	"math/rand"

	"metaflux/internal/model"
)

// Operator mutates a decision vector. Implementations return a new vector.
type Operator interface {
	Name() string
	Apply(rng *rand.Rand, vector model.DecisionVector) (model.DecisionVector, error)
}
