package scoreboard

import (
	"archive/zip"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"headlessctl/internal/clock"
)

// ValidityStatus strings the scoreboard reasons over; kept as plain
// strings (not pkg/ingest's typed constants) to avoid a scoreboard→ingest
// import for four comparisons, mirroring how scoreboard.py treats these as
// opaque strings read back out of an explain_*.json document it didn't
// produce itself.
const (
	validityValid          = "VALID"
	validityInvalid         = "INVALID"
	validityOKWithWarnings = "OK_WITH_WARNINGS"
	validityPending        = "PENDING"
	validityMissingExplain = "MISSING_EXPLAIN"
)

// Entry is one scoreboard row: a result bundle merged with its Goal
// Scorer verdict and explain-doc validity/questions/bank summary
// (spec.md §4.8).
type Entry struct {
	ResultZip            string         `json:"result_zip"`
	JobID                string         `json:"job_id"`
	BuildID              string         `json:"build_id"`
	Commit               string         `json:"commit"`
	ScenarioID           string         `json:"scenario_id"`
	Seed                 *int64         `json:"seed"`
	ExitReason           string         `json:"exit_reason"`
	ExitCode             *int           `json:"exit_code"`
	GoalID               string         `json:"goal_id"`
	GoalStatus           GoalStatus     `json:"goal_status"`
	GoalScore            int            `json:"goal_score"`
	GoalSpec             string         `json:"goal_spec"`
	TelemetryEventTotal  *float64       `json:"telemetry_event_total"`
	ValidityStatus       string         `json:"validity_status"`
	ValidityReason       string         `json:"validity_reason"`
	ExplainPath          string         `json:"explain_path"`
	QuestionSummary      map[string]any `json:"question_summary"`
	BankStatus           string         `json:"bank_status"`
	BankTestID           string         `json:"bank_test_id"`
	UTC                  string         `json:"utc"`
}

// TriageItem is one of the up-to-three non-PASS/non-SKIPPED entries
// surfaced for operator attention.
type TriageItem struct {
	GoalID    string `json:"goal_id"`
	Status    string `json:"status"`
	Score     int    `json:"score"`
	ResultZip string `json:"result_zip"`
	Note      string `json:"note"`
}

// ReasonCount is one invalid_reasons tally row.
type ReasonCount struct {
	Reason string `json:"reason"`
	Count  int    `json:"count"`
}

// QuestionCount is one failing-required-question tally row.
type QuestionCount struct {
	QuestionID string `json:"question_id"`
	Count      int    `json:"count"`
}

// Summary is the scoreboard's aggregate counters (spec.md §4.8).
type Summary struct {
	JobsTotal                  int             `json:"jobs_total"`
	JobsValid                  int             `json:"jobs_valid"`
	JobsInvalid                int             `json:"jobs_invalid"`
	JobsOKWithWarnings         int             `json:"jobs_ok_with_warnings"`
	TopInvalidReasons          []ReasonCount   `json:"top_invalid_reasons"`
	TopFailedQuestionsRequired []QuestionCount `json:"top_failed_questions_required"`
}

// Scoreboard is the full scoreboard.json document.
type Scoreboard struct {
	GeneratedAt string  `json:"generated_at"`
	Limit       int     `json:"limit"`
	Summary     Summary `json:"summary"`
	Entries     []Entry `json:"entries"`
}

// ExpectedJob is one entry from expected_jobs.json: a job the nightly
// cycle promised would eventually produce a result.
type ExpectedJob struct {
	JobID                string `json:"job_id"`
	BuildID              string `json:"build_id,omitempty"`
	Commit               string `json:"commit,omitempty"`
	ScenarioID           string `json:"scenario_id,omitempty"`
	Seed                 *int64 `json:"seed,omitempty"`
	GoalID               string `json:"goal_id,omitempty"`
	GoalSpec             string `json:"goal_spec,omitempty"`
	CreatedUTC           string `json:"created_utc,omitempty"`
	ExpectedResultPrefix string `json:"expected_result_prefix,omitempty"`
}

// Builder assembles a Scoreboard from the last N result bundles plus an
// expected_jobs.json backlog (spec.md §4.8).
type Builder struct {
	ResultsDir      string
	ReportsDir      string
	IntelDir        string
	GoalSpecsDir    string
	RepoRoot        string
	Limit           int
	PendingGraceSec int
	Clock           clock.Clock
}

const defaultScoreboardLimit = 25
const defaultPendingGraceSec = 600

// Build reads up to Limit most-recently-modified result_*.zip bundles from
// ResultsDir, scores and merges each, then folds in the expected_jobs
// backlog. Ports scoreboard.py's main() body.
func (b *Builder) Build() (*Scoreboard, []TriageItem, error) {
	limit := b.Limit
	if limit <= 0 {
		limit = defaultScoreboardLimit
	}
	grace := b.PendingGraceSec
	if grace <= 0 {
		grace = defaultPendingGraceSec
	}

	zips, err := listResultZips(b.ResultsDir, limit)
	if err != nil {
		return nil, nil, err
	}

	var entries []Entry
	var triage []TriageItem
	var invalidReasons []string
	requiredFailCounts := map[string]int{}

	for _, zipPath := range zips {
		entry, triageItem, reasons, failedQuestions := b.scoreOne(zipPath)
		entries = append(entries, entry)
		if triageItem != nil {
			triage = append(triage, *triageItem)
		}
		invalidReasons = append(invalidReasons, reasons...)
		for _, qid := range failedQuestions {
			requiredFailCounts[qid]++
		}
	}

	expected, expectedTriage, expectedReasons := b.resolveExpectedJobs(entries, zips, grace)
	entries = append(entries, expected...)
	triage = append(triage, expectedTriage...)
	invalidReasons = append(invalidReasons, expectedReasons...)

	topInvalid := reasonCounts(invalidReasons)
	if len(topInvalid) > 5 {
		topInvalid = topInvalid[:5]
	}
	topFailedQuestions := questionCounts(requiredFailCounts)
	if len(topFailedQuestions) > 5 {
		topFailedQuestions = topFailedQuestions[:5]
	}

	summary := Summary{
		JobsTotal:                  len(entries),
		JobsValid:                  countByValidity(entries, validityValid),
		JobsInvalid:                countByValidity(entries, validityInvalid),
		JobsOKWithWarnings:         countByValidity(entries, validityOKWithWarnings),
		TopInvalidReasons:          topInvalid,
		TopFailedQuestionsRequired: topFailedQuestions,
	}

	if len(triage) > 3 {
		triage = triage[:3]
	}

	return &Scoreboard{
		GeneratedAt: b.now().UTC().Format(time.RFC3339),
		Limit:       limit,
		Summary:     summary,
		Entries:     entries,
	}, triage, nil
}

func (b *Builder) now() time.Time {
	if b.Clock != nil {
		return b.Clock.Now()
	}
	return time.Now()
}

func (b *Builder) scoreOne(zipPath string) (entry Entry, triageItem *TriageItem, invalidReasons []string, failedQuestions []string) {
	meta, _ := readZipJSON(zipPath, "meta.json")
	runSummary, _ := readZipJSON(zipPath, "out/run_summary.json")

	goalSpecValue := firstNonEmpty(stringOf(meta["goal_spec"]), stringOf(runSummary["goal_spec"]))
	goalID := firstNonEmpty(stringOf(meta["goal_id"]), stringOf(runSummary["goal_id"]))
	jobID := stringOf(meta["job_id"])

	var explainPath string
	var explain map[string]any
	explainMissing := false
	if jobID != "" {
		explainPath = filepath.Join(b.IntelDir, fmt.Sprintf("explain_%s.json", jobID))
		if data, err := os.ReadFile(explainPath); err == nil {
			_ = json.Unmarshal(data, &explain)
		} else {
			explainMissing = true
		}
	}

	goalSpecPath := ResolveGoalSpecPath(goalSpecValue, goalID, b.GoalSpecsDir, b.RepoRoot)
	var goalReport *GoalReport
	if goalSpecPath != "" {
		goalReport = b.runScorerOnExtractedZip(zipPath, goalSpecPath)
	}

	status := GoalSKIPPED
	score := 0
	if goalReport != nil {
		status = goalReport.GoalStatus
		score = goalReport.GoalScore
		if goalReport.GoalID != "" {
			goalID = goalReport.GoalID
		}
	}

	validityStatus := ""
	validityReason := ""
	switch {
	case explainMissing:
		validityStatus = validityMissingExplain
		validityReason = "missing_explain"
	case explain != nil:
		if validity, ok := explain["validity"].(map[string]any); ok {
			validityStatus = stringOf(validity["status"])
			if reasons, ok := validity["invalid_reasons"].([]any); ok && len(reasons) > 0 {
				validityReason = stringOf(reasons[0])
			}
		}
		if issue, ok := explain["primary_evidence_issue"].(string); ok && issue != "" {
			validityReason = issue
		}
	}

	var questionSummary map[string]any
	if explain != nil {
		questionSummary, _ = explain["questions"].(map[string]any)
	}
	bankStatus, bankTestID := "", ""
	if explain != nil {
		if bank, ok := explain["bank"].(map[string]any); ok {
			bankStatus = stringOf(bank["status"])
			bankTestID = stringOf(bank["test_id"])
		}
	}

	if questionSummary != nil {
		if ids, ok := questionSummary["failing_required_ids"].([]any); ok {
			for _, raw := range ids {
				if qid := stringOf(raw); qid != "" {
					failedQuestions = append(failedQuestions, qid)
				}
			}
		}
	}
	if validityReason != "" {
		invalidReasons = append(invalidReasons, validityReason)
	}

	var telemetryEventTotal *float64
	if telemetrySummary, ok := runSummary["telemetry_summary"].(map[string]any); ok {
		if v, ok := floatVal(telemetrySummary["event_total"]); ok {
			telemetryEventTotal = &v
		}
	}

	entry = Entry{
		ResultZip:           zipPath,
		JobID:               jobID,
		BuildID:             stringOf(meta["build_id"]),
		Commit:              stringOf(meta["commit"]),
		ScenarioID:          stringOf(meta["scenario_id"]),
		Seed:                int64PtrOf(meta["seed"]),
		ExitReason:          stringOf(meta["exit_reason"]),
		ExitCode:            intPtrOf(meta["exit_code"]),
		GoalID:              goalID,
		GoalStatus:          status,
		GoalScore:           score,
		GoalSpec:            goalSpecPath,
		TelemetryEventTotal: telemetryEventTotal,
		ValidityStatus:      validityStatus,
		ValidityReason:      validityReason,
		ExplainPath:         ifExists(explainPath),
		QuestionSummary:     questionSummary,
		BankStatus:          bankStatus,
		BankTestID:          bankTestID,
		UTC:                 firstNonEmpty(stringOf(meta["end_utc"]), stringOf(meta["start_utc"])),
	}

	invalidEvidence := validityStatus == validityInvalid || validityStatus == validityMissingExplain
	if (status != GoalPASS && status != GoalSKIPPED) || invalidEvidence {
		note := ""
		if goalReport != nil && len(goalReport.Notes) > 0 {
			note = goalReport.Notes[0]
		}
		if invalidEvidence && validityReason != "" {
			note = validityReason
		}
		if note == "" {
			note = entry.ExitReason
		}
		displayStatus := string(status)
		if invalidEvidence {
			displayStatus = validityInvalid
		}
		triageItem = &TriageItem{GoalID: goalID, Status: displayStatus, Score: score, ResultZip: zipPath, Note: note}
	}

	return entry, triageItem, invalidReasons, failedQuestions
}

func (b *Builder) runScorerOnExtractedZip(zipPath, goalSpecPath string) *GoalReport {
	tempDir, err := os.MkdirTemp("", "scoreboard_goal_")
	if err != nil {
		return nil
	}
	defer os.RemoveAll(tempDir)

	if err := extractZip(zipPath, tempDir); err != nil {
		return nil
	}
	goalSpec, err := LoadGoalSpec(goalSpecPath)
	if err != nil || goalSpec == nil {
		return nil
	}
	return ScoreGoal(tempDir, goalSpecPath, goalSpec)
}

func (b *Builder) resolveExpectedJobs(entries []Entry, zips []string, graceSec int) (expected []Entry, triage []TriageItem, reasons []string) {
	jobs := b.loadExpectedJobs()
	if len(jobs) == 0 {
		return nil, nil, nil
	}

	existingIDs := map[string]bool{}
	for _, e := range entries {
		if e.JobID != "" {
			existingIDs[e.JobID] = true
		}
	}
	existingPrefixes := map[string]bool{}
	for _, z := range zips {
		name := filepath.Base(z)
		if strings.HasPrefix(name, "result_") && strings.HasSuffix(name, ".zip") {
			existingPrefixes[strings.TrimSuffix(name, ".zip")] = true
		}
	}

	now := b.now().UTC()
	for _, job := range jobs {
		if job.JobID == "" || existingIDs[job.JobID] {
			continue
		}
		if job.ExpectedResultPrefix != "" && existingPrefixes[job.ExpectedResultPrefix] {
			continue
		}
		ageOK := false
		if createdAt, ok := parseUTC(job.CreatedUTC); ok {
			ageOK = now.Sub(createdAt) < time.Duration(graceSec)*time.Second
		}
		validityStatus := validityInvalid
		validityReason := "result_missing"
		bankStatus := "MISSING"
		if ageOK {
			validityStatus = validityPending
			validityReason = "result_pending"
			bankStatus = "PENDING"
		}

		entry := Entry{
			JobID:          job.JobID,
			BuildID:        job.BuildID,
			Commit:         job.Commit,
			ScenarioID:     job.ScenarioID,
			Seed:           job.Seed,
			ExitReason:     "RESULT_MISSING",
			GoalID:         job.GoalID,
			GoalStatus:     GoalSKIPPED,
			GoalSpec:       job.GoalSpec,
			ValidityStatus: validityStatus,
			ValidityReason: validityReason,
			BankStatus:     bankStatus,
			UTC:            job.CreatedUTC,
		}
		expected = append(expected, entry)
		if !ageOK {
			reasons = append(reasons, "result_missing")
			triage = append(triage, TriageItem{
				GoalID:    firstNonEmpty(job.GoalID, "unknown_goal"),
				Status:    validityInvalid,
				Score:     0,
				ResultZip: "(missing)",
				Note:      "result_missing",
			})
		}
	}
	return expected, triage, reasons
}

func (b *Builder) loadExpectedJobs() []ExpectedJob {
	data, err := os.ReadFile(filepath.Join(b.ReportsDir, "expected_jobs.json"))
	if err != nil {
		return nil
	}
	var direct []ExpectedJob
	if err := json.Unmarshal(data, &direct); err == nil {
		return direct
	}
	var wrapped struct {
		Jobs []ExpectedJob `json:"jobs"`
	}
	if err := json.Unmarshal(data, &wrapped); err == nil {
		return wrapped.Jobs
	}
	return nil
}

func reasonCounts(reasons []string) []ReasonCount {
	counts := map[string]int{}
	for _, r := range reasons {
		if r == "" {
			continue
		}
		counts[r]++
	}
	out := make([]ReasonCount, 0, len(counts))
	for reason, count := range counts {
		out = append(out, ReasonCount{Reason: reason, Count: count})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Reason < out[j].Reason
	})
	return out
}

func questionCounts(counts map[string]int) []QuestionCount {
	out := make([]QuestionCount, 0, len(counts))
	for qid, count := range counts {
		out = append(out, QuestionCount{QuestionID: qid, Count: count})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].QuestionID < out[j].QuestionID
	})
	return out
}

func countByValidity(entries []Entry, status string) int {
	n := 0
	for _, e := range entries {
		if e.ValidityStatus == status {
			n++
		}
	}
	return n
}

func parseUTC(value string) (time.Time, bool) {
	if value == "" {
		return time.Time{}, false
	}
	text := value
	if strings.HasSuffix(text, "Z") {
		text = strings.TrimSuffix(text, "Z") + "+00:00"
	}
	t, err := time.Parse(time.RFC3339, text)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func listResultZips(dir string, limit int) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read results dir: %w", err)
	}
	type zipEntry struct {
		path  string
		mtime time.Time
	}
	var zips []zipEntry
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, "result_") || !strings.HasSuffix(name, ".zip") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		zips = append(zips, zipEntry{path: filepath.Join(dir, name), mtime: info.ModTime()})
	}
	sort.Slice(zips, func(i, j int) bool { return zips[i].mtime.After(zips[j].mtime) })
	if len(zips) > limit {
		zips = zips[:limit]
	}
	out := make([]string, len(zips))
	for i, z := range zips {
		out[i] = z.path
	}
	return out, nil
}

func readZipJSON(zipPath, name string) (map[string]any, error) {
	reader, err := zip.OpenReader(zipPath)
	if err != nil {
		return nil, err
	}
	defer reader.Close()
	for _, f := range reader.File {
		if f.Name != name {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, err
		}
		defer rc.Close()
		data, err := io.ReadAll(rc)
		if err != nil {
			return nil, err
		}
		var out map[string]any
		if err := json.Unmarshal(data, &out); err != nil {
			return nil, err
		}
		return out, nil
	}
	return nil, nil
}

func extractZip(zipPath, destDir string) error {
	reader, err := zip.OpenReader(zipPath)
	if err != nil {
		return err
	}
	defer reader.Close()
	for _, f := range reader.File {
		path := filepath.Join(destDir, f.Name)
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(path, 0o755); err != nil {
				return err
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return err
		}
		rc, err := f.Open()
		if err != nil {
			return err
		}
		out, err := os.Create(path)
		if err != nil {
			rc.Close()
			return err
		}
		_, copyErr := io.Copy(out, rc)
		rc.Close()
		out.Close()
		if copyErr != nil {
			return copyErr
		}
	}
	return nil
}

func ifExists(path string) string {
	if path == "" {
		return ""
	}
	if _, err := os.Stat(path); err != nil {
		return ""
	}
	return path
}

func intPtrOf(v any) *int {
	f, ok := floatVal(v)
	if !ok {
		return nil
	}
	i := int(f)
	return &i
}
