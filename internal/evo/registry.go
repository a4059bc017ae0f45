package evo

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	ErrUnknownAlgorithm = errors.New("unknown optimization algorithm")
	ErrStrategyExists   = errors.New("strategy already registered")
)

type StrategyFactory func(cfg StrategyConfig) PopulationStrategy

var strategyRegistry = struct {
	mu sync.RWMutex
	m  map[string]StrategyFactory
}{
	m: builtinStrategies(),
}

func builtinStrategies() map[string]StrategyFactory {
	return map[string]StrategyFactory{
		"pso": func(cfg StrategyConfig) PopulationStrategy {
			return monitoredStrategy{name: "pso", domain: Continuous, cfg: cfg, newBreeder: func() Breeder { return NewParticleSwarm() }}
		},
		"genetic": func(cfg StrategyConfig) PopulationStrategy {
			return monitoredStrategy{name: "genetic", domain: Discrete, cfg: cfg, newBreeder: func() Breeder { return configuredGenetic(cfg) }}
		},
	}
}

// RegisterStrategy adds a named strategy next to the built-in pso and genetic ones.
func RegisterStrategy(name string, factory StrategyFactory) error {
	if name == "" {
		return errors.New("strategy name is required")
	}
	if factory == nil {
		return errors.New("strategy factory is required")
	}

	strategyRegistry.mu.Lock()
	defer strategyRegistry.mu.Unlock()

	if _, exists := strategyRegistry.m[name]; exists {
		return fmt.Errorf("%w: %s", ErrStrategyExists, name)
	}
	strategyRegistry.m[name] = factory
	return nil
}

func ResolveStrategy(name string, cfg StrategyConfig) (PopulationStrategy, error) {
	strategyRegistry.mu.RLock()
	factory, ok := strategyRegistry.m[name]
	strategyRegistry.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %q (available: %v)", ErrUnknownAlgorithm, name, ListStrategies())
	}
	return factory(cfg), nil
}

func ListStrategies() []string {
	strategyRegistry.mu.RLock()
	defer strategyRegistry.mu.RUnlock()

	names := make([]string, 0, len(strategyRegistry.m))
	for name := range strategyRegistry.m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func resetStrategyRegistryForTests() {
	strategyRegistry.mu.Lock()
	defer strategyRegistry.mu.Unlock()
	strategyRegistry.m = builtinStrategies()
}
