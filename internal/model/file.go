package model

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

// LoadModel reads a JSON model file.
func LoadModel(path string) (*Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var m Model
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode model %s: %w", path, err)
	}
	if len(m.Reactions) == 0 {
		return nil, fmt.Errorf("model %s has no reactions", path)
	}
	return &m, nil
}

// LoadVariability reads flux ranges keyed by variable id.
func LoadVariability(path string) (Variability, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var v Variability
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("decode variability %s: %w", path, err)
	}
	return v, nil
}

// LoadResult reads a single oracle result, e.g. a start point for
// postprocessing. A bare value map is accepted as a feasible result.
func LoadResult(path string) (Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Result{}, err
	}
	var r Result
	if err := json.Unmarshal(data, &r); err == nil && r.Values != nil {
		return r, nil
	}
	values := map[string]float64{}
	if err := json.Unmarshal(data, &values); err != nil {
		return Result{}, fmt.Errorf("decode result %s: %w", path, err)
	}
	return Result{AllOK: true, Values: values}, nil
}

// UnmarshalJSON accepts {"min":..,"max":..} as well as a [min, max] pair.
func (r *Range) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var pair []float64
		if err := json.Unmarshal(trimmed, &pair); err != nil {
			return err
		}
		if len(pair) != 2 {
			return errors.New("range pair must have exactly two values")
		}
		r.Min, r.Max = pair[0], pair[1]
		return nil
	}
	type plain Range
	var p plain
	if err := json.Unmarshal(trimmed, &p); err != nil {
		return err
	}
	*r = Range(p)
	return nil
}
