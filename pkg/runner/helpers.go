package runner

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"headlessctl/pkg/registry"
	"headlessctl/pkg/telemetry"
)

// buildEnv layers task env over pack env over the inherited process
// environment (later layers win), then injects the telemetry path and project-specific
// scenario path variables the simulator reads.
func buildEnv(pack registry.Pack, task registry.Task, telemetryPath, scenarioAbs, scenarioUsed string) []string {
	merged := map[string]string{}
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			merged[k] = v
		}
	}
	for k, v := range pack.Env {
		merged[k] = v
	}
	for k, v := range task.Env {
		merged[k] = v
	}
	merged["PUREDOTS_TELEMETRY_PATH"] = telemetryPath

	if task.Project == registry.ProjectB {
		if scenarioAbs != "" {
			merged["SPACE4X_SCENARIO_SOURCE_PATH"] = scenarioAbs
			merged["SPACE4X_SCENARIO_PATH"] = scenarioAbs
		} else if scenarioUsed != "" {
			merged["SPACE4X_SCENARIO_PATH"] = scenarioUsed
		}
	}

	out := make([]string, 0, len(merged))
	for k, v := range merged {
		out = append(out, k+"="+v)
	}
	return out
}

// buildArtifacts resolves the pack's include/exclude lists against the
// fixed set of artifact kinds a run can produce.
func buildArtifacts(pack registry.Pack, stdoutPath, telemetryPath string, telemetryOK bool, scan telemetry.Scan) map[string]string {
	all := map[string]string{
		"stdout": stdoutPath,
	}
	if telemetryOK {
		all["telemetry"] = telemetryPath
	}
	if scan.MetricsPath != "" {
		all["metrics"] = scan.MetricsPath
	}
	if scan.EventsPath != "" {
		all["events"] = scan.EventsPath
	}
	if scan.InvariantsPath != "" {
		all["invariants"] = scan.InvariantsPath
	}

	include := pack.ArtifactsInclude
	if include == nil {
		include = []string{"stdout", "telemetry", "metrics", "events", "invariants"}
	}
	exclude := map[string]bool{}
	for _, name := range pack.ArtifactsExclude {
		exclude[name] = true
	}

	artifacts := map[string]string{}
	for _, name := range include {
		if exclude[name] {
			continue
		}
		if path, ok := all[name]; ok && path != "" {
			artifacts[name] = path
		}
	}
	return artifacts
}

func writeResultJSON(runDir string, result any) error {
	path := filepath.Join(runDir, "result.json")
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("result.json already exists for run dir %s", runDir)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("create result.json: %w", err)
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		return fmt.Errorf("write result.json: %w", err)
	}
	return nil
}

func strPtr(s string) *string { return &s }

func pathIf(ok bool, path string) string {
	if ok {
		return path
	}
	return ""
}

func containsInt(haystack []int, needle int) bool {
	for _, v := range haystack {
		if v == needle {
			return true
		}
	}
	return false
}

func orEmptyAny(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

func orEmptySummary(m map[string]telemetry.Summary) map[string]telemetry.Summary {
	if m == nil {
		return map[string]telemetry.Summary{}
	}
	return m
}
