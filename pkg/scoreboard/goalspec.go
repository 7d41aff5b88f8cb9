package scoreboard

import (
	"encoding/json"
	"os"
	"path/filepath"
)

// ResolveGoalSpecPath resolves a goal spec reference to a file on disk:
// specValue absolute, or repo-root-relative; failing that, a
// `<specsDir>/<goalID>.json` fallback. Ports scoreboard.py's
// resolve_goal_spec_path (spec.md §4.8).
func ResolveGoalSpecPath(specValue, goalID, specsDir, repoRoot string) string {
	if specValue != "" {
		candidate := specValue
		if !filepath.IsAbs(candidate) {
			candidate = filepath.Join(repoRoot, candidate)
		}
		if isFile(candidate) {
			return candidate
		}
	}
	if goalID != "" {
		candidate := filepath.Join(specsDir, goalID+".json")
		if isFile(candidate) {
			return candidate
		}
	}
	return ""
}

// LoadGoalSpec reads and decodes a goal spec file; nil, nil if path is
// empty or unreadable, mirroring the original's "missing goal spec means
// SKIPPED, not an error" posture.
func LoadGoalSpec(path string) (*GoalSpec, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil
	}
	var spec GoalSpec
	if err := json.Unmarshal(data, &spec); err != nil {
		return nil, nil
	}
	return &spec, nil
}

func isFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
