package nightly

import (
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"sort"

	"headlessctl/pkg/paths"
)

// previousRun is the subset of a prior run's result.json this module reads
// back off disk to compute deltas; it mirrors get_metrics'/find_previous_run's
// generic re-reading of whatever result.json already holds, rather than
// assuming the Result or MultiResult shape.
type previousRun struct {
	RunID          string         `json:"run_id"`
	TaskID         string         `json:"task_id"`
	EndedUTC       string         `json:"ended_utc"`
	ExitCode       *int           `json:"exit_code"`
	MetricsSummary map[string]any `json:"metrics_summary"`
	BankStatus     *struct {
		Status string `json:"status"`
	} `json:"bank_status"`
}

// findPreviousRun scans <state>/runs for the most recent result.json
// belonging to taskID, excluding excludeRunID, ordered by ended_utc
// ascending (ported from find_previous_run: "latest" is the max of the
// string-sorted timestamps, which is correct for RFC3339 UTC stamps).
func findPreviousRun(p paths.Paths, taskID, excludeRunID string) *previousRun {
	runsDir := p.RunsDir()
	entries, err := os.ReadDir(runsDir)
	if err != nil {
		return nil
	}

	var candidates []previousRun
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		resultPath := filepath.Join(runsDir, entry.Name(), "result.json")
		data, err := os.ReadFile(resultPath)
		if err != nil {
			continue
		}
		var run previousRun
		if err := json.Unmarshal(data, &run); err != nil {
			continue
		}
		if run.TaskID != taskID || run.RunID == "" || run.RunID == excludeRunID || run.EndedUTC == "" {
			continue
		}
		candidates = append(candidates, run)
	}
	if len(candidates) == 0 {
		return nil
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].EndedUTC < candidates[j].EndedUTC })
	latest := candidates[len(candidates)-1]
	return &latest
}

// computeTopDeltas returns the top-5 metric deltas by absolute magnitude
// between prev and curr, ported verbatim from compute_top_deltas.
func computeTopDeltas(prev, curr map[string]any) []MetricDelta {
	const limit = 5
	var deltas []MetricDelta
	for key, currentAny := range curr {
		current, ok := asFloat(currentAny)
		if !ok {
			continue
		}
		previous, ok := asFloat(prev[key])
		if !ok {
			continue
		}
		deltas = append(deltas, MetricDelta{Key: key, Previous: previous, Current: current, Delta: current - previous})
	}
	sort.Slice(deltas, func(i, j int) bool { return math.Abs(deltas[i].Delta) > math.Abs(deltas[j].Delta) })
	if len(deltas) > limit {
		deltas = deltas[:limit]
	}
	return deltas
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int64:
		return float64(n), true
	case int:
		return float64(n), true
	default:
		return 0, false
	}
}
