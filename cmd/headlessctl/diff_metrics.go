package main

import (
	"github.com/spf13/cobra"

	"headlessctl/pkg/registry"
	"headlessctl/pkg/runner"
)

func (a *app) newDiffMetricsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "diff_metrics <run_id_a> <run_id_b>",
		Short: "diff two runs' metrics summaries against the task's thresholds and variance band",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) < 2 {
				return emitResult(errorResult("missing_args", "missing run ids"), runner.ExitUsage)
			}
			return a.diffMetrics(args[0], args[1])
		},
	}
}

func (a *app) diffMetrics(runIDA, runIDB string) error {
	runA, errA := loadRunResult(a.paths.RunDir(runIDA))
	runB, errB := loadRunResult(a.paths.RunDir(runIDB))
	if errA != nil || errB != nil {
		return emitResult(map[string]any{
			"ok":         false,
			"error_code": "run_not_found",
			"error":      "one or more runs not found",
			"run_id":     runIDA,
		}, runner.ExitUsage)
	}

	taskID, task := a.taskForRuns(runA, runB)
	diffs, grades, allPass := diffMetricsCore(runA, runB, task)

	out := map[string]any{
		"ok":         true,
		"error_code": "none",
		"error":      nil,
		"run_id":     runIDA,
		"run_id_b":   runIDB,
		"task_id":    taskID,
		"diffs":      diffs,
		"grades":     grades,
		"pass":       allPass,
	}
	return emitResult(out, runner.ExitOK)
}

// taskForRuns resolves the task registered for the pair's task_id
// (run_id_b wins, matching diff_metrics_internal's precedence), tolerating
// a missing/unreadable registry the way the original tolerates it.
func (a *app) taskForRuns(runA, runB map[string]any) (string, registry.Task) {
	taskID, _ := runB["task_id"].(string)
	if taskID == "" {
		taskID, _ = runA["task_id"].(string)
	}
	tasksPath, packsPath := registryPaths(a.paths)
	var task registry.Task
	if reg, err := registry.Load(tasksPath, packsPath); err == nil {
		task, _ = reg.Task(taskID)
	}
	return taskID, task
}

// diffMetricsCore computes per-metric-key diffs and threshold/variance
// grades, the shared core of `diff_metrics` and `validate`'s self-diff
// check. Ported from diff_metrics_internal.
func diffMetricsCore(runA, runB map[string]any, task registry.Task) (diffs, grades map[string]any, allPass bool) {
	summaryA, _ := runA["metrics_summary"].(map[string]any)
	summaryB, _ := runB["metrics_summary"].(map[string]any)
	statsA, _ := runA["metrics_stats"].(map[string]any)
	statsB, _ := runB["metrics_stats"].(map[string]any)

	diffs = map[string]any{}
	grades = map[string]any{}
	allPass = true

	for _, key := range task.MetricKeys {
		valueA := summaryA[key]
		valueB := summaryB[key]
		var delta any
		if fa, ok := toFloatAny(valueA); ok {
			if fb, ok := toFloatAny(valueB); ok {
				delta = fb - fa
			}
		}

		statA, _ := statsA[key].(map[string]any)
		statB, _ := statsB[key].(map[string]any)
		meanA := statA["mean"]
		meanB := statB["mean"]
		var deltaMean any
		if fa, ok := toFloatAny(meanA); ok {
			if fb, ok := toFloatAny(meanB); ok {
				deltaMean = fb - fa
			}
		}

		diffs[key] = map[string]any{
			"a":          valueA,
			"b":          valueB,
			"delta":      delta,
			"mean_a":     meanA,
			"mean_b":     meanB,
			"delta_mean": deltaMean,
			"stdev_a":    statA["stdev"],
			"stdev_b":    statB["stdev"],
		}

		threshold := task.Thresholds[key]
		passThreshold := true
		if fb, ok := toFloatAny(valueB); ok {
			if threshold.Min != nil && fb < *threshold.Min {
				passThreshold = false
			}
			if threshold.Max != nil && fb > *threshold.Max {
				passThreshold = false
			}
		}

		withinBand := true
		band, hasBand := task.VarianceBand[key]
		if hasBand {
			if fd, ok := toFloatAny(delta); ok {
				withinBand = absFloat(fd) <= band
			}
		}

		grades[key] = map[string]any{
			"pass_threshold": passThreshold,
			"within_band":    withinBand,
			"threshold":      threshold,
			"variance_band":  bandOrNil(hasBand, band),
		}
		if !passThreshold || !withinBand {
			allPass = false
		}
	}

	return diffs, grades, allPass
}

func toFloatAny(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int64:
		return float64(n), true
	case int:
		return float64(n), true
	default:
		return 0, false
	}
}

func absFloat(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}

func bandOrNil(has bool, band float64) any {
	if !has {
		return nil
	}
	return band
}
