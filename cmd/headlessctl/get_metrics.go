package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"headlessctl/pkg/runner"
)

func (a *app) newGetMetricsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "get_metrics <run_id>",
		Short: "print the metrics summary/stats/invariants recorded for a run",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) < 1 {
				return emitResult(errorResult("missing_args", "missing run_id"), runner.ExitUsage)
			}
			return a.getMetrics(args[0])
		},
	}
}

// loadRunResult reads a run's result.json generically, since it may hold
// either a single-seed Result or a multi-seed MultiResult shape.
func loadRunResult(runDir string) (map[string]any, error) {
	data, err := os.ReadFile(filepath.Join(runDir, "result.json"))
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode result.json: %w", err)
	}
	return out, nil
}

func (a *app) getMetrics(runID string) error {
	runDir := a.paths.RunDir(runID)
	result, err := loadRunResult(runDir)
	if err != nil {
		return emitResult(map[string]any{
			"ok":         false,
			"error_code": "run_not_found",
			"error":      fmt.Sprintf("run not found: %s", runID),
			"run_id":     runID,
		}, runner.ExitUsage)
	}

	out := map[string]any{
		"ok":              true,
		"error_code":      "none",
		"error":           nil,
		"run_id":          runID,
		"task_id":         result["task_id"],
		"metrics_summary": orEmptyMap(result["metrics_summary"]),
		"metrics_stats":   orEmptyMap(result["metrics_stats"]),
		"invariants":      orEmptySlice(result["invariants"]),
		"artifacts":       orEmptyMap(result["artifacts"]),
	}
	if seedRuns, ok := result["seed_runs"]; ok {
		out["seed_runs"] = seedRuns
		out["seed_run_ids"] = orEmptySlice(result["seed_run_ids"])
		out["variance_grades"] = orEmptyMap(result["variance_grades"])
		variancePass := true
		if v, ok := result["variance_pass"].(bool); ok {
			variancePass = v
		}
		out["variance_pass"] = variancePass
	}
	return emitResult(out, runner.ExitOK)
}

func orEmptyMap(v any) any {
	if v == nil {
		return map[string]any{}
	}
	return v
}

func orEmptySlice(v any) any {
	if v == nil {
		return []any{}
	}
	return v
}
