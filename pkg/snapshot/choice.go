package snapshot

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
)

// Choices expands a ballot into the 1-based indexes of the selected choices.
// Single choice, approval/ranked (array) and weighted/quadratic (map) ballots are supported.
func (v *Vote) Choices() ([]int, error) {
	raw := v.Choice
	if len(raw) == 0 || string(raw) == "null" {
		return nil, fmt.Errorf("vote %s has no choice", v.ID)
	}

	var single int
	if err := json.Unmarshal(raw, &single); err == nil {
		return []int{single}, nil
	}

	var multi []int
	if err := json.Unmarshal(raw, &multi); err == nil {
		return multi, nil
	}

	var weighted map[string]float64
	if err := json.Unmarshal(raw, &weighted); err == nil {
		out := make([]int, 0, len(weighted))
		for key, weight := range weighted {
			if weight == 0 {
				continue
			}
			idx, err := strconv.Atoi(key)
			if err != nil {
				return nil, fmt.Errorf("vote %s has invalid choice key %q", v.ID, key)
			}
			out = append(out, idx)
		}
		sort.Ints(out)
		return out, nil
	}

	return nil, fmt.Errorf("vote %s has unsupported choice %s", v.ID, string(raw))
}

// ChoiceName resolves a 1-based choice index against the proposal choices.
func ChoiceName(choices []string, idx int) string {
	if idx >= 1 && idx <= len(choices) {
		return choices[idx-1]
	}
	return "No name"
}
