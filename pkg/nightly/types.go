// Package nightly implements the Nightly Scheduler (spec.md §4.5): tag/task
// selection, gate-task short-circuit, session+nightly lock coordination,
// per-run evaluation, previous-run delta computation, artifact bundling, and
// summary synthesis. Grounded on
// original_source/Tools/Headless/nightly_runner.py, generalized so the
// scheduler calls the Run Orchestrator in-process instead of shelling out
// to a second CLI invocation.
package nightly

import "time"

// MetricDelta is one metric key's previous-vs-current comparison, part of
// the top-5-by-magnitude delta list spec.md §4.5 step 5 requires.
type MetricDelta struct {
	Key      string  `json:"key"`
	Previous float64 `json:"previous"`
	Current  float64 `json:"current"`
	Delta    float64 `json:"delta"`
}

// RunEntry is one task's outcome within a nightly cycle.
type RunEntry struct {
	TaskID          string         `json:"task_id"`
	RunID           string         `json:"run_id"`
	SeedRunIDs      []string       `json:"seed_run_ids,omitempty"`
	OK              bool           `json:"ok"`
	ErrorCode       string         `json:"error_code"`
	Error           *string        `json:"error"`
	Failures        []string       `json:"failures"`
	PreviousRunID   string         `json:"previous_run_id,omitempty"`
	TopMetricDeltas []MetricDelta  `json:"top_metric_deltas"`
	BundlePaths     []string       `json:"bundle_paths"`
	Gate            bool           `json:"gate,omitempty"`
	GateSkipped     bool           `json:"gate_skipped,omitempty"`
}

// Summary is the nightly_summary.json document spec.md §6 persists under
// <reports>.
type Summary struct {
	OK          bool       `json:"ok"`
	Skipped     bool       `json:"skipped"`
	Reason      string     `json:"reason,omitempty"`
	Tag         string     `json:"tag"`
	Tasks       []string   `json:"tasks"`
	Runs        []RunEntry `json:"runs"`
	Error       string     `json:"error,omitempty"`
	StartedUTC  time.Time  `json:"started_utc"`
	EndedUTC    time.Time  `json:"ended_utc"`
	ArtifactDir string     `json:"artifact_dir,omitempty"`
}

// Request is one nightly cycle invocation's resolved inputs.
type Request struct {
	Tag       string
	TaskIDs   []string // explicit --tasks override
	Gate      bool
	GateHours float64
}
