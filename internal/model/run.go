package model

// RunRecord summarizes one optimize call for the run store.
type RunRecord struct {
	VersionedRecord
	ID               string    `json:"id"`
	CreatedAtUTC     string    `json:"created_at_utc"`
	Algorithm        string    `json:"algorithm"`
	Sense            Sense     `json:"sense"`
	Objective        Objective `json:"objective"`
	Dimension        int       `json:"dimension"`
	FeasibleStarts   int       `json:"feasible_starts"`
	Generations      int       `json:"generations"`
	StopReason       string    `json:"stop_reason"`
	BestObjective    float64   `json:"best_objective"`
	DistinctResults  int       `json:"distinct_results"`
	BestByGeneration []float64 `json:"best_by_generation,omitempty"`
}

// PostprocessRound records one improving postprocess iteration.
type PostprocessRound struct {
	VersionedRecord
	Round      int      `json:"round"`
	Objective  float64  `json:"objective"`
	Switches   int      `json:"switches"`
	BestTarget []string `json:"best_target,omitempty"`
	BestLabel  string   `json:"best_label,omitempty"`
	BestBudget int      `json:"best_budget"`
}

type GenerationDiagnostics struct {
	Generation           int     `json:"generation"`
	BestFitness          float64 `json:"best_fitness"`
	MeanFitness          float64 `json:"mean_fitness"`
	WorstFitness         float64 `json:"worst_fitness"`
	FeasibleCount        int     `json:"feasible_count"`
	FingerprintDiversity int     `json:"fingerprint_diversity"`
	RoundsSameObjective  int     `json:"rounds_same_objective"`
}
