package scoreboard

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// NextAction derives a fixed-decision-table action hint for one entry,
// keyed on {validity_status, bank_status, goal_score}. Ports
// scoreboard.py's next_action (spec.md §4.8).
func NextAction(e Entry) string {
	goalID := firstNonEmpty(e.GoalID, "unknown_goal")
	switch e.ValidityStatus {
	case validityPending:
		return "NEXT: wait for runner backlog (pending)"
	case "":
		// no validity info available, fall through to bank/score checks
	default:
		if e.ValidityStatus != validityValid {
			detail := firstNonEmpty(e.ValidityReason, "invalid_evidence")
			return fmt.Sprintf("NEXT: fix infra/instrumentation (%s)", detail)
		}
	}
	if e.BankStatus == "FAIL" || e.BankStatus == "MISSING" {
		action := "add bank proof"
		if e.BankStatus == "FAIL" {
			action = "fix bank failure"
		}
		suffix := ""
		if e.BankTestID != "" {
			suffix = fmt.Sprintf(" (%s)", e.BankTestID)
		}
		return fmt.Sprintf("NEXT: %s%s", action, suffix)
	}
	if e.GoalScore != 0 {
		return fmt.Sprintf("NEXT: tune behavior for %s (score=%d)", goalID, e.GoalScore)
	}
	return fmt.Sprintf("NEXT: tune behavior for %s", goalID)
}

// WriteScoreboard writes scoreboard.json, reportsDir/triage_next.md and
// reportsDir/nightly_headline_<date>.md. dateStamp is caller-supplied
// (YYYYMMDD) so callers inject the clock rather than this function
// reaching for wall time directly.
func WriteScoreboard(reportsDir string, board *Scoreboard, triage []TriageItem, dateStamp string) error {
	if err := os.MkdirAll(reportsDir, 0o755); err != nil {
		return fmt.Errorf("create reports dir: %w", err)
	}
	if err := writeScoreboardJSON(filepath.Join(reportsDir, "scoreboard.json"), board); err != nil {
		return err
	}
	if err := writeTriageNext(filepath.Join(reportsDir, "triage_next.md"), triage); err != nil {
		return err
	}
	headlinePath := filepath.Join(reportsDir, fmt.Sprintf("nightly_headline_%s.md", dateStamp))
	return writeNightlyHeadline(headlinePath, board, dateStamp)
}

func writeScoreboardJSON(path string, board *Scoreboard) error {
	data, err := json.MarshalIndent(board, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal scoreboard: %w", err)
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}

func writeTriageNext(path string, triage []TriageItem) error {
	var b strings.Builder
	b.WriteString("# Triage Next\n\n")
	if len(triage) == 0 {
		b.WriteString("No failing goals in recent runs.\n")
	} else {
		for _, item := range triage {
			fmt.Fprintf(&b, "- %s status=%s score=%d note=%s\n", item.GoalID, item.Status, item.Score, item.Note)
			fmt.Fprintf(&b, "  result=%s\n", item.ResultZip)
		}
	}
	return os.WriteFile(path, []byte(b.String()), 0o644)
}

func writeNightlyHeadline(path string, board *Scoreboard, dateStamp string) error {
	var b strings.Builder
	fmt.Fprintf(&b, "# Nightly Headline %s\n\n", dateStamp)
	fmt.Fprintf(&b, "- jobs_total=%d jobs_valid=%d jobs_invalid=%d jobs_ok_with_warnings=%d\n",
		board.Summary.JobsTotal, board.Summary.JobsValid, board.Summary.JobsInvalid, board.Summary.JobsOKWithWarnings)

	if len(board.Summary.TopInvalidReasons) > 0 {
		parts := make([]string, len(board.Summary.TopInvalidReasons))
		for i, r := range board.Summary.TopInvalidReasons {
			parts[i] = fmt.Sprintf("%s(%d)", r.Reason, r.Count)
		}
		fmt.Fprintf(&b, "- top_invalid_reasons: %s\n", strings.Join(parts, ", "))
	}
	if len(board.Summary.TopFailedQuestionsRequired) > 0 {
		parts := make([]string, len(board.Summary.TopFailedQuestionsRequired))
		for i, q := range board.Summary.TopFailedQuestionsRequired {
			parts[i] = fmt.Sprintf("%s(%d)", q.QuestionID, q.Count)
		}
		fmt.Fprintf(&b, "- top_failed_required_questions: %s\n", strings.Join(parts, ", "))
	}

	b.WriteString("\n## Jobs\n")
	for _, e := range board.Entries {
		validity := firstNonEmpty(e.ValidityStatus, "UNKNOWN")
		req, opt := questionTallies(e.QuestionSummary)
		bankStatus := firstNonEmpty(e.BankStatus, "UNKNOWN")
		bankLine := "bank=" + bankStatus
		if e.BankTestID != "" {
			bankLine = fmt.Sprintf("%s test_id=%s", bankLine, e.BankTestID)
		}

		b.WriteString("\n")
		fmt.Fprintf(&b, "### %s\n", e.JobID)
		fmt.Fprintf(&b, "- goal=%s scenario=%s seed=%s\n", e.GoalID, e.ScenarioID, seedString(e.Seed))
		fmt.Fprintf(&b, "- validity=%s %s\n", validity, e.ValidityReason)
		fmt.Fprintf(&b, "- oracle: req pass=%d fail=%d unknown=%d; opt pass=%d fail=%d unknown=%d\n",
			req.pass, req.fail, req.unknown, opt.pass, opt.fail, opt.unknown)
		fmt.Fprintf(&b, "- %s\n", bankLine)
		fmt.Fprintf(&b, "- score=%d status=%s\n", e.GoalScore, e.GoalStatus)
		fmt.Fprintf(&b, "- next: %s\n", NextAction(e))
		result := firstNonEmpty(e.ResultZip, "(missing)")
		fmt.Fprintf(&b, "- result=%s\n", result)
		if e.ExplainPath != "" {
			fmt.Fprintf(&b, "- explain=%s\n", e.ExplainPath)
		}
	}

	return os.WriteFile(path, []byte(b.String()), 0o644)
}

type tally struct {
	pass, fail, unknown int
}

func questionTallies(summary map[string]any) (required, optional tally) {
	if summary == nil {
		return tally{}, tally{}
	}
	required = tallyOf(summary["required"])
	optional = tallyOf(summary["optional"])
	return required, optional
}

func tallyOf(v any) tally {
	m, ok := v.(map[string]any)
	if !ok {
		return tally{}
	}
	get := func(key string) int {
		f, _ := floatVal(m[key])
		return int(f)
	}
	return tally{pass: get("pass"), fail: get("fail"), unknown: get("unknown")}
}

func seedString(seed *int64) string {
	if seed == nil {
		return "None"
	}
	return fmt.Sprintf("%d", *seed)
}
