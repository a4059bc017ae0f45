package model

import (
	"sort"
	"strings"
)

const (
	// SentinelObjective marks a totally infeasible decision vector.
	SentinelObjective = 1_000_000.0
	// DeactivationThreshold is the decision value at or below which a couple is off.
	DeactivationThreshold = 0.02
	// ActiveFluxThreshold is the representative flux above which a couple counts as on.
	ActiveFluxThreshold = 1e-11
)

// ReactionCouple is a group of reactions forced to carry flux together.
// The first member is the representative.
type ReactionCouple []string

func (c ReactionCouple) Representative() string {
	if len(c) == 0 {
		return ""
	}
	return c[0]
}

func (c ReactionCouple) Contains(id string) bool {
	for _, member := range c {
		if member == id {
			return true
		}
	}
	return false
}

func (c ReactionCouple) Equal(other ReactionCouple) bool {
	if len(c) != len(other) {
		return false
	}
	for i := range c {
		if c[i] != other[i] {
			return false
		}
	}
	return true
}

// DecisionVector holds one activity score per reaction couple.
type DecisionVector []float64

func (v DecisionVector) Clone() DecisionVector {
	return append(DecisionVector(nil), v...)
}

type FitnessRecord struct {
	Objective float64        `json:"objective"`
	Vector    DecisionVector `json:"vector"`
}

func SentinelRecord() FitnessRecord {
	return FitnessRecord{Objective: SentinelObjective, Vector: DecisionVector{}}
}

func (r FitnessRecord) IsSentinel() bool {
	return r.Objective == SentinelObjective && len(r.Vector) == 0
}

// FeasibleStart is a kinetically refined solution identified by its active reactions.
type FeasibleStart struct {
	Signature []string `json:"signature"`
	Result    Result   `json:"result"`
}

// SignatureKey turns an active-reaction set into a deduplication key.
func SignatureKey(active []string) string {
	sorted := append([]string(nil), active...)
	sort.Strings(sorted)
	return strings.Join(sorted, "\x1f")
}

// Artifact is one persisted accepted evaluation.
type Artifact struct {
	Record FitnessRecord `json:"record"`
	Result Result        `json:"result"`
}

type TargetType string

const (
	TargetDeactivate TargetType = "deac"
	TargetActivate   TargetType = "ac"
)

// FeasibleSwitch is one neighbour found while postprocessing a solution.
type FeasibleSwitch struct {
	Target           ReactionCouple `json:"target"`
	TargetType       TargetType     `json:"target_type"`
	Direction        Sense          `json:"direction"`
	Budget           int            `json:"budget"`
	ExtraActivations []string       `json:"extra_activations,omitempty"`
	Changes          []string       `json:"changes,omitempty"`
	Result           Result         `json:"result"`
}

// Label mirrors the target-type plus extra-objective direction tag.
func (s FeasibleSwitch) Label() string {
	return string(s.TargetType) + "_" + s.Direction.String()
}

// ObjectiveGroup collects all results sharing one achieved objective value.
type ObjectiveGroup struct {
	Value   float64  `json:"value"`
	Results []Result `json:"results"`
}
