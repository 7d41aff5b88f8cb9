package explain

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// WriteDocument writes doc to <dir>/explain_<id>.json, and a companion
// <dir>/questions_<id>.json when input carries a non-nil Questions value.
// id is input.RecordID for diag records, else input.JobID (falling back to
// RecordID), matching anviloop_intel.py's build_explain collision-avoidance
// comment: "Avoid collisions between run-result explains and diag explains
// (both can share the same job_id)" (spec.md §4.7).
func WriteDocument(dir string, input RecordInput, doc *Document) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create explain dir: %w", err)
	}

	id := explainFileID(input)
	explainPath := filepath.Join(dir, fmt.Sprintf("explain_%s.json", id))
	if err := writeJSONFile(explainPath, doc); err != nil {
		return "", err
	}

	if input.Questions != nil {
		questionsPath := filepath.Join(dir, fmt.Sprintf("questions_%s.json", id))
		if err := writeJSONFile(questionsPath, input.Questions); err != nil {
			return "", err
		}
	}
	return explainPath, nil
}

func explainFileID(input RecordInput) string {
	if input.DiagDir != "" {
		return input.RecordID
	}
	if input.JobID != "" {
		return input.JobID
	}
	return input.RecordID
}

func writeJSONFile(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", filepath.Base(path), err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	return nil
}
