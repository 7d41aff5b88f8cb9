package nightly

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"headlessctl/pkg/paths"
	"headlessctl/pkg/registry"
	"headlessctl/pkg/runner"
)

func TestSelectTasksByTag(t *testing.T) {
	t.Parallel()

	one, two := 5, 1
	reg := registry.Registry{Tasks: map[string]registry.Task{
		"a": {ID: "a", Tags: []string{"nightly"}, NightlyOrder: &one},
		"b": {ID: "b", Tags: []string{"nightly"}, NightlyOrder: &two},
		"c": {ID: "c", Tags: []string{"other"}},
	}}

	got, err := selectTasks(reg, "nightly", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 || got[0] != "b" || got[1] != "a" {
		t.Fatalf("expected [b a] sorted by nightly_order, got %v", got)
	}
}

func TestSelectTasksExplicitOverride(t *testing.T) {
	t.Parallel()

	reg := registry.Registry{Tasks: map[string]registry.Task{"a": {ID: "a"}}}
	if _, err := selectTasks(reg, "nightly", []string{"a", "missing"}); err == nil {
		t.Fatalf("expected error for unknown task in explicit override")
	}
	got, err := selectTasks(reg, "nightly", []string{"a"})
	if err != nil || len(got) != 1 || got[0] != "a" {
		t.Fatalf("expected explicit override to win, got %v, %v", got, err)
	}
}

func TestHoistFastSmoke(t *testing.T) {
	t.Parallel()

	reg := registry.Registry{Tasks: map[string]registry.Task{
		"a": {ID: "a"},
		"b": {ID: "b", Tags: []string{"fast_smoke"}},
		"c": {ID: "c"},
	}}
	got := hoistFastSmoke([]string{"a", "b", "c"}, reg)
	if len(got) != 3 || got[0] != "b" {
		t.Fatalf("expected fast_smoke task hoisted to front, got %v", got)
	}
}

func TestSplitGateTasks(t *testing.T) {
	t.Parallel()

	reg := registry.Registry{Tasks: map[string]registry.Task{
		"a": {ID: "a", Tags: []string{"gate"}},
		"b": {ID: "b"},
		"c": {ID: "c", Tags: []string{"gate"}},
	}}
	gates, main := splitGateTasks([]string{"a", "b", "c"}, reg)
	if len(gates) != 2 || len(main) != 1 || main[0] != "b" {
		t.Fatalf("expected 2 gate tasks and 1 main task, got gates=%v main=%v", gates, main)
	}
}

func TestComputeTopDeltas(t *testing.T) {
	t.Parallel()

	prev := map[string]any{"a": 1.0, "b": 10.0, "c": "not numeric"}
	curr := map[string]any{"a": 4.0, "b": 10.0, "d": 2.0}
	deltas := computeTopDeltas(prev, curr)
	if len(deltas) != 2 {
		t.Fatalf("expected only keys present in both numeric (a and the unchanged b), got %+v", deltas)
	}
	if deltas[0].Key != "a" || deltas[0].Delta != 3.0 {
		t.Fatalf("unexpected delta: %+v", deltas[0])
	}
}

func TestEvaluateRunFailures(t *testing.T) {
	t.Parallel()

	failures := evaluateRun(false, "", nil, nil, map[string]any{"telemetry.truncated": 0.0})
	if len(failures) != 1 || failures[0] != "run_failed" {
		t.Fatalf("expected run_failed, got %v", failures)
	}

	failures = evaluateRun(true, "", nil, nil, map[string]any{})
	if len(failures) != 1 || failures[0] != "telemetry.truncated_missing" {
		t.Fatalf("expected telemetry.truncated_missing, got %v", failures)
	}

	failures = evaluateRun(true, "B1", &runner.BankResult{ID: "B1", Status: "FAIL"}, nil, map[string]any{"telemetry.truncated": 0.0})
	if len(failures) != 1 || failures[0] != "bank_failed" {
		t.Fatalf("expected bank_failed, got %v", failures)
	}

	ok := evaluateRun(true, "B1", &runner.BankResult{ID: "B1", Status: "PASS"}, nil, map[string]any{"telemetry.truncated": 0.0})
	if len(ok) != 0 {
		t.Fatalf("expected no failures, got %v", ok)
	}
}

func TestFindPreviousRunPicksLatestByEndedUTC(t *testing.T) {
	t.Parallel()

	stateDir := t.TempDir()
	p := paths.Paths{StateDir: stateDir}

	writeRun := func(runID, taskID, ended string) {
		dir := filepath.Join(p.RunsDir(), runID)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		data, _ := json.Marshal(map[string]any{
			"run_id":          runID,
			"task_id":         taskID,
			"ended_utc":       ended,
			"metrics_summary": map[string]any{"x": 1.0},
		})
		if err := os.WriteFile(filepath.Join(dir, "result.json"), data, 0o644); err != nil {
			t.Fatalf("write result.json: %v", err)
		}
	}

	writeRun("run-old", "task1", "2026-01-01T00:00:00Z")
	writeRun("run-new", "task1", "2026-01-02T00:00:00Z")
	writeRun("run-other-task", "task2", "2026-01-03T00:00:00Z")

	got := findPreviousRun(p, "task1", "")
	if got == nil || got.RunID != "run-new" {
		t.Fatalf("expected run-new, got %+v", got)
	}

	excluded := findPreviousRun(p, "task1", "run-new")
	if excluded == nil || excluded.RunID != "run-old" {
		t.Fatalf("expected run-old once run-new excluded, got %+v", excluded)
	}
}

func TestFindPreviousRunNoRunsDir(t *testing.T) {
	t.Parallel()
	p := paths.Paths{StateDir: t.TempDir()}
	if got := findPreviousRun(p, "task1", ""); got != nil {
		t.Fatalf("expected nil for missing runs dir, got %+v", got)
	}
}
