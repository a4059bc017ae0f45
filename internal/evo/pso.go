package evo

import (
	"math"
	"math/rand"

	"metaflux/internal/model"
)

const (
	defaultInertia     = 0.7298
	defaultCognitive   = 1.49618
	defaultSocial      = 1.49618
	defaultMaxVelocity = 0.5
)

// ParticleSwarm is a global-best particle swarm over [0,1]^dim.
type ParticleSwarm struct {
	Inertia     float64
	Cognitive   float64
	Social      float64
	MaxVelocity float64

	velocities   []model.DecisionVector
	positions    []model.DecisionVector
	personalBest []model.DecisionVector
	personalFit  []float64
	globalBest   model.DecisionVector
	globalFit    float64
}

func NewParticleSwarm() *ParticleSwarm {
	return &ParticleSwarm{
		Inertia:     defaultInertia,
		Cognitive:   defaultCognitive,
		Social:      defaultSocial,
		MaxVelocity: defaultMaxVelocity,
	}
}

func (*ParticleSwarm) Name() string {
	return "pso"
}

func (*ParticleSwarm) Domain() Domain {
	return Continuous
}

func (p *ParticleSwarm) Initialize(rng *rand.Rand, dim, popSize int, seeds []model.DecisionVector) []model.DecisionVector {
	p.positions = seedPopulation(dim, popSize, seeds, func() model.DecisionVector {
		v := make(model.DecisionVector, dim)
		for i := range v {
			v[i] = rng.Float64()
		}
		return v
	})
	p.velocities = make([]model.DecisionVector, popSize)
	p.personalBest = make([]model.DecisionVector, popSize)
	p.personalFit = make([]float64, popSize)
	for i := range p.velocities {
		v := make(model.DecisionVector, dim)
		for d := range v {
			v[d] = (2*rng.Float64() - 1) * p.MaxVelocity
		}
		p.velocities[i] = v
		p.personalBest[i] = p.positions[i].Clone()
		p.personalFit[i] = math.Inf(1)
	}
	p.globalBest = p.positions[0].Clone()
	p.globalFit = math.Inf(1)
	return clonePopulation(p.positions)
}

func (p *ParticleSwarm) Next(rng *rand.Rand, scored []ScoredVector) []model.DecisionVector {
	for i, s := range scored {
		if s.Fitness < p.personalFit[i] {
			p.personalFit[i] = s.Fitness
			p.personalBest[i] = s.Vector.Clone()
		}
		if s.Fitness < p.globalFit {
			p.globalFit = s.Fitness
			p.globalBest = s.Vector.Clone()
		}
	}

	for i, x := range p.positions {
		v := p.velocities[i]
		for d := range x {
			r1, r2 := rng.Float64(), rng.Float64()
			v[d] = p.Inertia*v[d] +
				p.Cognitive*r1*(p.personalBest[i][d]-x[d]) +
				p.Social*r2*(p.globalBest[d]-x[d])
			v[d] = math.Max(-p.MaxVelocity, math.Min(p.MaxVelocity, v[d]))
			x[d] = math.Max(0, math.Min(1, x[d]+v[d]))
		}
	}
	return clonePopulation(p.positions)
}

func clonePopulation(population []model.DecisionVector) []model.DecisionVector {
	out := make([]model.DecisionVector, len(population))
	for i, v := range population {
		out[i] = v.Clone()
	}
	return out
}
