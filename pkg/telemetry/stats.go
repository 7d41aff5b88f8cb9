// Package telemetry implements the Telemetry Scanner (spec.md §4.4): a
// single streaming pass over a run's NDJSON telemetry file that splits
// metric records from event records, accumulates per-key running stats, and
// evaluates the six fixed invariants.
package telemetry

import (
	"math"
	"strings"
)

type runningStat struct {
	count    int64
	sum      float64
	sumSq    float64
	min      float64
	max      float64
	hasMin   bool
	last     float64
	lastTick *int64
}

func (s *runningStat) update(value float64, tick *int64) {
	s.count++
	s.sum += value
	s.sumSq += value * value
	if !s.hasMin {
		s.min = value
		s.max = value
		s.hasMin = true
	} else {
		s.min = math.Min(s.min, value)
		s.max = math.Max(s.max, value)
	}
	s.last = value
	s.lastTick = tick
}

// Summary is the reduced count/min/max/mean/stdev/last view of one metric
// key's observed values across a run.
type Summary struct {
	Count    int64    `json:"count"`
	Min      *float64 `json:"min"`
	Max      *float64 `json:"max"`
	Mean     *float64 `json:"mean"`
	Stdev    *float64 `json:"stdev"`
	Last     *float64 `json:"last"`
	LastTick *int64   `json:"last_tick"`
}

func (s *runningStat) summary() Summary {
	if s.count == 0 {
		return Summary{}
	}
	mean := s.sum / float64(s.count)
	variance := math.Max(0.0, s.sumSq/float64(s.count)-mean*mean)
	stdev := math.Sqrt(variance)
	min, max, last := s.min, s.max, s.last
	return Summary{
		Count:    s.count,
		Min:      &min,
		Max:      &max,
		Mean:     &mean,
		Stdev:    &stdev,
		Last:     &last,
		LastTick: s.lastTick,
	}
}

// looksLikeResourceKey matches the hard-coded token heuristic from the
// original tool (spec.md §9 open question 1): any of a fixed set of
// substrings, excluding keys naming a delta/change/diff.
func looksLikeResourceKey(key string) bool {
	low := strings.ToLower(key)
	for _, exclude := range []string{"delta", "change", "diff"} {
		if strings.Contains(low, exclude) {
			return false
		}
	}
	for _, token := range []string{"resource", "inventory", "storehouse", "buffer", "stock", "pile"} {
		if strings.Contains(low, token) {
			return true
		}
	}
	return false
}

// containsNonFinite reports whether value, or anything nested inside it,
// is a float64 that is NaN or +/-Inf.
func containsNonFinite(value any) bool {
	switch v := value.(type) {
	case float64:
		return !isFinite(v)
	case map[string]any:
		for _, nested := range v {
			if containsNonFinite(nested) {
				return true
			}
		}
		return false
	case []any:
		for _, nested := range v {
			if containsNonFinite(nested) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
