// Package scoreboard implements the Goal Scorer and Scoreboards (spec.md
// §4.8): it scores a result bundle 0-5 against a declarative goal spec,
// then aggregates the last N bundles into a scoreboard, a short triage
// list, and a nightly headline document. Grounded on
// original_source/Polish/Goals/score_goal.py and
// original_source/Polish/Goals/scoreboard.py.
package scoreboard

// GoalStatus is the closed set of Goal Scorer verdicts (spec.md §4.8).
type GoalStatus string

const (
	GoalPASS    GoalStatus = "PASS"
	GoalFAIL    GoalStatus = "FAIL"
	GoalUNKNOWN GoalStatus = "UNKNOWN"
	GoalSKIPPED GoalStatus = "SKIPPED"
)

// ProofSpec names the signals a goal spec accepts as proof of progress.
type ProofSpec struct {
	TelemetryEventPrefixes []string `json:"telemetry_event_prefixes,omitempty"`
	LogRegex               []string `json:"log_regex,omitempty"`
	OperatorContains       []string `json:"operator_contains,omitempty"`
	OperatorQuestionIDs    []string `json:"operator_question_ids,omitempty"`
	MetricKeys             []string `json:"metric_keys,omitempty"`
	MetricPrefixes         []string `json:"metric_prefixes,omitempty"`
}

// RequiredSpec is an all_of/any_of predicate over the proof flags
// {telemetry, log, operator, metric}.
type RequiredSpec struct {
	AllOf []string `json:"all_of,omitempty"`
	AnyOf []string `json:"any_of,omitempty"`
}

// ThresholdsSpec bounds specific metrics' last-seen values.
type ThresholdsSpec struct {
	MetricMax map[string]float64 `json:"metric_max,omitempty"`
	MetricMin map[string]float64 `json:"metric_min,omitempty"`
}

// DeltaSpec is the score-5 criterion: a telemetry event-prefix count
// reaching a minimum.
type DeltaSpec struct {
	TelemetryEventPrefix string `json:"telemetry_event_prefix,omitempty"`
	MinCount             int    `json:"min_count,omitempty"`
}

// GoalSpec is the declarative scoring target a RunRecord is judged
// against (spec.md §4.8).
type GoalSpec struct {
	GoalID      string         `json:"goal_id"`
	GoalVersion string         `json:"goal_version,omitempty"`
	Proof       ProofSpec      `json:"proof,omitempty"`
	Required    RequiredSpec   `json:"required,omitempty"`
	Thresholds  ThresholdsSpec `json:"thresholds,omitempty"`
	Delta       *DeltaSpec     `json:"delta,omitempty"`
}

// ProofItem is one piece of evidence the scorer found supporting a goal.
type ProofItem struct {
	Type               string `json:"type"`
	EventType          string `json:"event_type,omitempty"`
	Prefix             string `json:"prefix,omitempty"`
	Count              int    `json:"count,omitempty"`
	Metric             string `json:"metric,omitempty"`
	Value              any    `json:"value,omitempty"`
	Max                any    `json:"max,omitempty"`
	Min                any    `json:"min,omitempty"`
	OK                 bool   `json:"ok,omitempty"`
	Regex              string `json:"regex,omitempty"`
	File               string `json:"file,omitempty"`
	Keyword            string `json:"keyword,omitempty"`
	QuestionID         string `json:"question_id,omitempty"`
	TelemetryEventPrefix string `json:"telemetry_event_prefix,omitempty"`
	MinCount           int    `json:"min_count,omitempty"`
}

// RunRefs identifies the run a GoalReport was scored from.
type RunRefs struct {
	JobID          string `json:"job_id,omitempty"`
	BuildID        string `json:"build_id,omitempty"`
	Commit         string `json:"commit,omitempty"`
	ScenarioID     string `json:"scenario_id,omitempty"`
	Seed           *int64 `json:"seed,omitempty"`
	ResultRoot     string `json:"result_root,omitempty"`
	RunSummaryPath string `json:"run_summary_path,omitempty"`
	MetaPath       string `json:"meta_path,omitempty"`
	GoalSpec       string `json:"goal_spec,omitempty"`
}

// GoalReport is the Goal Scorer's 0-5 verdict for one run against one
// goal spec (spec.md §4.8).
type GoalReport struct {
	GoalID      string      `json:"goal_id"`
	GoalVersion string      `json:"goal_version"`
	GoalStatus  GoalStatus  `json:"goal_status"`
	GoalScore   int         `json:"goal_score"`
	Proof       []ProofItem `json:"proof"`
	Notes       []string    `json:"notes"`
	RunRefs     RunRefs     `json:"run_refs"`
}
