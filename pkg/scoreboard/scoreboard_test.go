package scoreboard

import (
	"archive/zip"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"headlessctl/internal/clock"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func writeJSON(t *testing.T, path string, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	writeFile(t, path, string(data))
}

func baseBundle(t *testing.T, root string) {
	writeJSON(t, filepath.Join(root, "meta.json"), map[string]any{
		"job_id": "job-1", "build_id": "b1", "commit": "abc123",
		"scenario_id": "scn-1", "exit_reason": "COMPLETED",
	})
}

func TestScoreGoalNilSpecIsSkipped(t *testing.T) {
	root := t.TempDir()
	baseBundle(t, root)
	report := ScoreGoal(root, "", nil)
	if report.GoalStatus != GoalSKIPPED || report.GoalScore != 0 {
		t.Fatalf("got %+v", report)
	}
}

func TestScoreGoalIncompleteRunScoresZero(t *testing.T) {
	root := t.TempDir()
	writeJSON(t, filepath.Join(root, "meta.json"), map[string]any{"job_id": "job-1"})
	spec := &GoalSpec{GoalID: "g1"}
	report := ScoreGoal(root, "spec.json", spec)
	if report.GoalScore != 0 || report.GoalStatus != GoalUNKNOWN {
		t.Fatalf("got %+v", report)
	}
}

func TestScoreGoalReachesOneWithTelemetrySummary(t *testing.T) {
	root := t.TempDir()
	baseBundle(t, root)
	writeJSON(t, filepath.Join(root, "out", "run_summary.json"), map[string]any{
		"telemetry_summary": map[string]any{"event_total": 0},
	})
	report := ScoreGoal(root, "spec.json", &GoalSpec{GoalID: "g1"})
	if report.GoalScore != 1 {
		t.Fatalf("expected score 1, got %d notes=%v", report.GoalScore, report.Notes)
	}
}

func TestScoreGoalReachesTwoWithNonzeroEventTotal(t *testing.T) {
	root := t.TempDir()
	baseBundle(t, root)
	writeJSON(t, filepath.Join(root, "out", "run_summary.json"), map[string]any{
		"telemetry_summary": map[string]any{"event_total": 42},
	})
	report := ScoreGoal(root, "spec.json", &GoalSpec{GoalID: "g1"})
	if report.GoalScore != 2 {
		t.Fatalf("expected score 2, got %d notes=%v", report.GoalScore, report.Notes)
	}
}

func TestScoreGoalReachesThreeWithProofSignal(t *testing.T) {
	root := t.TempDir()
	baseBundle(t, root)
	writeJSON(t, filepath.Join(root, "out", "run_summary.json"), map[string]any{
		"telemetry_summary": map[string]any{"event_total": 42},
	})
	writeFile(t, filepath.Join(root, "out", "telemetry.ndjson"),
		`{"event_type":"phase.started"}`+"\n")
	spec := &GoalSpec{
		GoalID:   "g1",
		Proof:    ProofSpec{TelemetryEventPrefixes: []string{"phase."}},
		Required: RequiredSpec{AllOf: []string{"operator"}},
	}
	report := ScoreGoal(root, "spec.json", spec)
	if report.GoalScore != 3 {
		t.Fatalf("expected score 3, got %d notes=%v", report.GoalScore, report.Notes)
	}
}

func TestScoreGoalReachesFourWhenRequiredMetAndFivePastDelta(t *testing.T) {
	root := t.TempDir()
	baseBundle(t, root)
	writeJSON(t, filepath.Join(root, "out", "run_summary.json"), map[string]any{
		"telemetry_summary": map[string]any{"event_total": 42},
	})
	var nd string
	for i := 0; i < 5; i++ {
		nd += `{"event_type":"phase.done"}` + "\n"
	}
	writeFile(t, filepath.Join(root, "out", "telemetry.ndjson"), nd)

	spec := &GoalSpec{
		GoalID:   "g1",
		Proof:    ProofSpec{TelemetryEventPrefixes: []string{"phase."}},
		Required: RequiredSpec{AnyOf: []string{"telemetry"}},
	}
	report := ScoreGoal(root, "spec.json", spec)
	if report.GoalScore != 4 || report.GoalStatus != GoalPASS {
		t.Fatalf("expected score 4 PASS, got %d %s notes=%v", report.GoalScore, report.GoalStatus, report.Notes)
	}

	spec.Delta = &DeltaSpec{TelemetryEventPrefix: "phase.", MinCount: 3}
	report = ScoreGoal(root, "spec.json", spec)
	if report.GoalScore != 5 {
		t.Fatalf("expected score 5, got %d", report.GoalScore)
	}
}

func TestScoreGoalFailsStatusWhenRequiredNotMetButRunCompleted(t *testing.T) {
	root := t.TempDir()
	baseBundle(t, root)
	writeJSON(t, filepath.Join(root, "out", "run_summary.json"), map[string]any{
		"telemetry_summary": map[string]any{"event_total": 42},
	})
	writeFile(t, filepath.Join(root, "out", "telemetry.ndjson"), `{"event_type":"phase.started"}`+"\n")
	spec := &GoalSpec{
		GoalID:   "g1",
		Proof:    ProofSpec{TelemetryEventPrefixes: []string{"phase."}},
		Required: RequiredSpec{AllOf: []string{"operator"}},
	}
	report := ScoreGoal(root, "spec.json", spec)
	if report.GoalStatus != GoalFAIL {
		t.Fatalf("expected FAIL, got %s score=%d", report.GoalStatus, report.GoalScore)
	}
}

func TestResolveGoalSpecPathAbsoluteThenFallback(t *testing.T) {
	repoRoot := t.TempDir()
	specsDir := filepath.Join(repoRoot, "specs")
	fallback := filepath.Join(specsDir, "goal-a.json")
	writeFile(t, fallback, `{"goal_id":"goal-a"}`)

	if got := ResolveGoalSpecPath("", "goal-a", specsDir, repoRoot); got != fallback {
		t.Fatalf("expected fallback resolution, got %q", got)
	}

	direct := filepath.Join(repoRoot, "custom.json")
	writeFile(t, direct, `{"goal_id":"custom"}`)
	if got := ResolveGoalSpecPath("custom.json", "goal-a", specsDir, repoRoot); got != direct {
		t.Fatalf("expected repo-relative resolution, got %q", got)
	}

	if got := ResolveGoalSpecPath("", "missing-goal", specsDir, repoRoot); got != "" {
		t.Fatalf("expected empty resolution, got %q", got)
	}
}

func TestLoadGoalSpecMissingPathReturnsNilNoError(t *testing.T) {
	spec, err := LoadGoalSpec(filepath.Join(t.TempDir(), "missing.json"))
	if err != nil || spec != nil {
		t.Fatalf("expected nil, nil; got %+v %v", spec, err)
	}
}

func TestMatchPrefixesSortsByEventTypeAndMatchesCaseInsensitively(t *testing.T) {
	counts := map[string]int{"Phase.Started": 2, "other.thing": 1}
	matches := matchPrefixes(counts, []string{"phase."})
	if len(matches) != 1 || matches[0].eventType != "Phase.Started" || matches[0].count != 2 {
		t.Fatalf("got %+v", matches)
	}
}

func TestCollectTelemetrySignalsCountsAndTracksLastMetric(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "telemetry.ndjson")
	writeFile(t, path,
		`{"event_type":"tick"}`+"\n"+
			`{"event_type":"tick"}`+"\n"+
			`{"event_type":"metric","metric":"cpu_pct","value":10}`+"\n"+
			`{"event_type":"metric","metric":"cpu_pct","value":20}`+"\n")
	counts, metricLast := collectTelemetrySignals(path)
	if counts["tick"] != 2 {
		t.Fatalf("expected 2 ticks, got %d", counts["tick"])
	}
	v, ok := floatVal(metricLast["cpu_pct"])
	if !ok || v != 20 {
		t.Fatalf("expected last cpu_pct 20, got %v", metricLast["cpu_pct"])
	}
}

func TestNextActionDecisionTable(t *testing.T) {
	cases := []struct {
		name  string
		entry Entry
		want  string
	}{
		{"pending", Entry{ValidityStatus: validityPending}, "NEXT: wait for runner backlog (pending)"},
		{"invalid", Entry{ValidityStatus: validityInvalid, ValidityReason: "missing_evidence"}, "NEXT: fix infra/instrumentation (missing_evidence)"},
		{"bank fail", Entry{ValidityStatus: validityValid, BankStatus: "FAIL", BankTestID: "t1"}, "NEXT: fix bank failure (t1)"},
		{"bank missing", Entry{ValidityStatus: validityValid, BankStatus: "MISSING"}, "NEXT: add bank proof"},
		{"score nonzero", Entry{ValidityStatus: validityValid, GoalID: "g1", GoalScore: 3}, "NEXT: tune behavior for g1 (score=3)"},
		{"score zero", Entry{ValidityStatus: validityValid, GoalID: "g1"}, "NEXT: tune behavior for g1"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := NextAction(c.entry); got != c.want {
				t.Fatalf("got %q want %q", got, c.want)
			}
		})
	}
}

func zipDir(t *testing.T, srcDir, zipPath string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(zipPath), 0o755); err != nil {
		t.Fatal(err)
	}
	out, err := os.Create(zipPath)
	if err != nil {
		t.Fatal(err)
	}
	defer out.Close()
	w := zip.NewWriter(out)
	defer w.Close()
	filepath.Walk(srcDir, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return nil
		}
		rel, _ := filepath.Rel(srcDir, path)
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		f, err := w.Create(filepath.ToSlash(rel))
		if err != nil {
			return err
		}
		_, err = f.Write(data)
		return err
	})
}

func TestBuilderBuildListsScoresAndMergesExplain(t *testing.T) {
	resultsDir := t.TempDir()
	reportsDir := t.TempDir()
	intelDir := t.TempDir()
	repoRoot := t.TempDir()
	specsDir := filepath.Join(repoRoot, "specs")

	bundleDir := t.TempDir()
	writeJSON(t, filepath.Join(bundleDir, "meta.json"), map[string]any{
		"job_id": "job-1", "build_id": "b1", "commit": "abc", "scenario_id": "scn-1", "exit_reason": "COMPLETED",
	})
	writeJSON(t, filepath.Join(bundleDir, "out", "run_summary.json"), map[string]any{
		"goal_id":           "goal-a",
		"telemetry_summary": map[string]any{"event_total": 10},
	})
	writeFile(t, filepath.Join(bundleDir, "out", "telemetry.ndjson"), `{"event_type":"phase.started"}`+"\n")
	zipDir(t, bundleDir, filepath.Join(resultsDir, "result_job-1.zip"))

	writeFile(t, filepath.Join(specsDir, "goal-a.json"),
		`{"goal_id":"goal-a","proof":{"telemetry_event_prefixes":["phase."]},"required":{"any_of":["telemetry"]}}`)

	writeJSON(t, filepath.Join(intelDir, "explain_job-1.json"), map[string]any{
		"validity": map[string]any{"status": "VALID"},
		"questions": map[string]any{
			"required": map[string]any{"pass": 2, "fail": 0, "unknown": 0},
		},
		"bank": map[string]any{"status": "PASS"},
	})

	fakeClock := clock.NewFake(time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC))
	builder := &Builder{
		ResultsDir: resultsDir, ReportsDir: reportsDir, IntelDir: intelDir,
		GoalSpecsDir: specsDir, RepoRoot: repoRoot, Clock: fakeClock,
	}
	board, triage, err := builder.Build()
	if err != nil {
		t.Fatal(err)
	}
	if len(board.Entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(board.Entries))
	}
	entry := board.Entries[0]
	if entry.JobID != "job-1" || entry.ValidityStatus != "VALID" {
		t.Fatalf("got %+v", entry)
	}
	if entry.GoalScore < 3 {
		t.Fatalf("expected score >= 3, got %d notes unavailable here", entry.GoalScore)
	}
	if len(triage) != 0 {
		t.Fatalf("expected no triage for a valid passing job, got %+v", triage)
	}

	if err := WriteScoreboard(reportsDir, board, triage, "20260801"); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(reportsDir, "scoreboard.json")); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(reportsDir, "triage_next.md")); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(reportsDir, "nightly_headline_20260801.md")); err != nil {
		t.Fatal(err)
	}
}

func TestBuilderResolvesExpectedJobsAsPendingWithinGrace(t *testing.T) {
	resultsDir := t.TempDir()
	reportsDir := t.TempDir()

	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	writeJSON(t, filepath.Join(reportsDir, "expected_jobs.json"), []ExpectedJob{
		{JobID: "job-pending", GoalID: "goal-a", CreatedUTC: now.Add(-30 * time.Second).Format(time.RFC3339)},
		{JobID: "job-missing", GoalID: "goal-a", CreatedUTC: now.Add(-2 * time.Hour).Format(time.RFC3339)},
	})

	fakeClock := clock.NewFake(now)
	builder := &Builder{ResultsDir: resultsDir, ReportsDir: reportsDir, Clock: fakeClock, PendingGraceSec: 600}
	board, triage, err := builder.Build()
	if err != nil {
		t.Fatal(err)
	}
	if len(board.Entries) != 2 {
		t.Fatalf("expected 2 expected-job entries, got %d", len(board.Entries))
	}
	var pendingSeen, missingSeen bool
	for _, e := range board.Entries {
		switch e.JobID {
		case "job-pending":
			pendingSeen = e.ValidityStatus == validityPending
		case "job-missing":
			missingSeen = e.ValidityStatus == validityInvalid
		}
	}
	if !pendingSeen || !missingSeen {
		t.Fatalf("got entries %+v", board.Entries)
	}
	if len(triage) != 1 || triage[0].GoalID != "goal-a" {
		t.Fatalf("expected one triage item for the missing job, got %+v", triage)
	}
}
