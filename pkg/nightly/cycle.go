package nightly

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"headlessctl/internal/clock"
	"headlessctl/pkg/lockmgr"
	"headlessctl/pkg/paths"
	"headlessctl/pkg/registry"
	"headlessctl/pkg/runner"
)

// DefaultSessionLockTTL and DefaultNightlyLockTTL bound how long a nightly
// cycle may hold its locks before a future cycle treats them as stale.
const (
	DefaultSessionLockTTL = 2 * time.Hour
	DefaultNightlyLockTTL = 6 * time.Hour
)

// Cycle runs one nightly batch: task selection, gating, per-task execution,
// artifact bundling, and summary synthesis (spec.md §4.5).
type Cycle struct {
	Registry     registry.Registry
	Paths        paths.Paths
	Clock        clock.Clock
	Logger       *zap.Logger
	Orchestrator *runner.Orchestrator
	Locks        *lockmgr.Manager
}

// summaryPath is where the nightly_summary.json document is written. The
// original tool writes it relative to the invoking process's cwd; this
// module anchors it under the reports directory instead so repeated
// invocations from different working directories agree on one location.
func (c *Cycle) summaryPath() string {
	return filepath.Join(c.Paths.ReportsDir(), "nightly_summary.json")
}

// Run executes one nightly cycle and returns the summary plus the process
// exit code spec.md §4.5 step 1/6 specifies.
func (c *Cycle) Run(ctx context.Context, req Request) (Summary, int, error) {
	tag := req.Tag
	if tag == "" {
		tag = "nightly"
	}

	startedUTC := c.Clock.Now().UTC()

	if blocking := c.Locks.BuildLockStatus(os.LookupEnv); blocking != "" {
		summary := Summary{OK: true, Skipped: true, Reason: "build_lock", Tag: tag, StartedUTC: startedUTC, EndedUTC: c.Clock.Now().UTC()}
		if err := c.writeSummary(summary); err != nil {
			return summary, 2, err
		}
		return summary, 0, nil
	}

	claim, err := c.Locks.ClaimSessionLock(DefaultSessionLockTTL, "nightly", os.LookupEnv)
	if err != nil {
		return Summary{}, 2, fmt.Errorf("claim session lock: %w", err)
	}
	if !claim.Acquired {
		summary := Summary{OK: false, Skipped: true, Reason: "session_locked", Tag: tag, StartedUTC: startedUTC, EndedUTC: c.Clock.Now().UTC()}
		if err := c.writeSummary(summary); err != nil {
			return summary, 2, err
		}
		return summary, 3, nil
	}
	runID := ""
	if claim.Lock != nil {
		runID = claim.Lock.RunID
	}
	defer func() { _, _ = c.Locks.ReleaseSessionLock(runID) }()

	if err := c.Locks.ClaimNightlyLock(); err != nil {
		return Summary{}, 2, fmt.Errorf("claim nightly lock: %w", err)
	}
	defer func() { _ = c.Locks.ReleaseNightlyLock() }()

	selected, err := selectTasks(c.Registry, tag, req.TaskIDs)
	if err != nil {
		summary := Summary{OK: false, Skipped: false, Reason: "invalid_tasks", Tag: tag, Error: err.Error(), Tasks: req.TaskIDs, StartedUTC: startedUTC, EndedUTC: c.Clock.Now().UTC()}
		if werr := c.writeSummary(summary); werr != nil {
			return summary, 2, werr
		}
		return summary, 1, nil
	}
	if len(req.TaskIDs) == 0 {
		selected = hoistFastSmoke(selected, c.Registry)
	}
	if len(selected) == 0 {
		summary := Summary{OK: false, Skipped: false, Reason: "no_tasks", Tag: tag, StartedUTC: startedUTC, EndedUTC: c.Clock.Now().UTC()}
		if werr := c.writeSummary(summary); werr != nil {
			return summary, 2, werr
		}
		return summary, 1, nil
	}

	var gateIDs []string
	mainIDs := selected
	if req.Gate {
		gateIDs, mainIDs = splitGateTasks(selected, c.Registry)
	}

	artifactDir := filepath.Join(c.Paths.ReportsDir(), "nightly_artifacts")
	if err := os.MkdirAll(artifactDir, 0o755); err != nil {
		return Summary{}, 2, fmt.Errorf("create artifact dir: %w", err)
	}

	summary := Summary{OK: true, Skipped: false, Tag: tag, Tasks: selected, ArtifactDir: artifactDir, StartedUTC: startedUTC}
	overallFail := false

	gateHours := req.GateHours
	for _, taskID := range gateIDs {
		entry, gatedOut, err := c.runGateTask(ctx, taskID, gateHours, artifactDir)
		if err != nil {
			return Summary{}, 2, err
		}
		summary.Runs = append(summary.Runs, entry)
		if !gatedOut && len(entry.Failures) > 0 {
			summary.OK = false
			summary.Reason = "gate_failed"
			summary.EndedUTC = c.Clock.Now().UTC()
			if werr := c.writeSummary(summary); werr != nil {
				return summary, 2, werr
			}
			return summary, 1, nil
		}
	}

	for _, taskID := range mainIDs {
		entry, err := c.runTask(ctx, taskID, artifactDir)
		if err != nil {
			return Summary{}, 2, err
		}
		summary.Runs = append(summary.Runs, entry)
		if len(entry.Failures) > 0 {
			overallFail = true
		}
	}

	summary.OK = !overallFail
	summary.EndedUTC = c.Clock.Now().UTC()
	if err := c.writeSummary(summary); err != nil {
		return summary, 2, err
	}

	if overallFail {
		return summary, 1, nil
	}
	return summary, 0, nil
}

// runGateTask evaluates a gate task's most recent prior run against
// gateHours; if it still passes, the task is skipped for this cycle
// (spec.md §4.5 step 4). gatedOut reports whether the task was skipped.
func (c *Cycle) runGateTask(ctx context.Context, taskID string, gateHours float64, artifactDir string) (RunEntry, bool, error) {
	if prior := findPreviousRun(c.Paths, taskID, ""); prior != nil {
		if c.gatePasses(prior, gateHours) {
			return RunEntry{TaskID: taskID, RunID: prior.RunID, OK: true, ErrorCode: "none", Gate: true, GateSkipped: true}, true, nil
		}
	}
	entry, err := c.runTask(ctx, taskID, artifactDir)
	entry.Gate = true
	return entry, false, err
}

func (c *Cycle) gatePasses(prior *previousRun, gateHours float64) bool {
	if prior.ExitCode == nil || *prior.ExitCode != 0 {
		return false
	}
	if prior.BankStatus == nil || prior.BankStatus.Status != "PASS" {
		return false
	}
	endedAt, err := time.Parse(time.RFC3339, prior.EndedUTC)
	if err != nil {
		endedAt, err = time.Parse(time.RFC3339Nano, prior.EndedUTC)
		if err != nil {
			return false
		}
	}
	return c.Clock.Since(endedAt) <= time.Duration(gateHours*float64(time.Hour))
}

// runTask runs one task (single- or multi-seed, per the task's own seed
// policy), evaluates failures per evaluated run_id, bundles artifacts, and
// computes the previous-run delta (spec.md §4.5 step 5).
func (c *Cycle) runTask(ctx context.Context, taskID string, artifactDir string) (RunEntry, error) {
	single, multi, _, err := c.Orchestrator.Run(ctx, runner.RunRequest{TaskID: taskID})
	if err != nil {
		if orchErr, ok := err.(*runner.Error); ok {
			return RunEntry{TaskID: taskID, OK: false, ErrorCode: orchErr.Code, Error: strPtr(orchErr.Message), Failures: []string{"run_failed"}}, nil
		}
		return RunEntry{}, err
	}

	var (
		runID          string
		ok             bool
		errorCode      string
		errorMsg       *string
		metricsSummary map[string]any
		failures       []string
		seedRunIDs     []string
	)

	switch {
	case multi != nil:
		runID = multi.RunID
		ok = multi.OK
		errorCode = multi.ErrorCode
		errorMsg = multi.Error
		metricsSummary = multi.MetricsSummary
		for _, sr := range multi.SeedRuns {
			seedRunIDs = append(seedRunIDs, sr.RunID)
			failures = append(failures, evaluateRun(sr.OK, "", nil, sr.Invariants, sr.MetricsSummary)...)
		}
	case single != nil:
		runID = single.RunID
		ok = single.OK
		errorCode = single.ErrorCode
		errorMsg = single.Error
		metricsSummary = single.MetricsSummary
		failures = evaluateRun(single.OK, single.BankRequired, single.BankStatus, single.Invariants, single.MetricsSummary)
	default:
		return RunEntry{TaskID: taskID, OK: false, ErrorCode: "exception", Failures: []string{"run_failed"}}, nil
	}

	bundlePaths := c.bundleRuns(append([]string{runID}, seedRunIDs...), artifactDir)

	prior := findPreviousRun(c.Paths, taskID, runID)
	var topDeltas []MetricDelta
	var previousRunID string
	if prior != nil {
		previousRunID = prior.RunID
		topDeltas = computeTopDeltas(prior.MetricsSummary, metricsSummary)
	}

	return RunEntry{
		TaskID:          taskID,
		RunID:           runID,
		SeedRunIDs:      seedRunIDs,
		OK:              ok,
		ErrorCode:       errorCode,
		Error:           errorMsg,
		Failures:        failures,
		PreviousRunID:   previousRunID,
		TopMetricDeltas: topDeltas,
		BundlePaths:     bundlePaths,
	}, nil
}

// bundleRuns packs every distinct run_id's artifacts and copies the bundle
// into the flat nightly_artifacts directory, matching nightly_runner.py's
// run_headlessctl(["bundle_artifacts", ...]) + copy loop.
func (c *Cycle) bundleRuns(runIDs []string, artifactDir string) []string {
	seen := map[string]bool{}
	var paths []string
	for _, id := range runIDs {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		bundlePath, err := runner.BundleArtifacts(c.Paths, id)
		if err != nil {
			c.Logger.Warn("bundle_artifacts failed", zap.String("run_id", id), zap.Error(err))
			continue
		}
		target := filepath.Join(artifactDir, filepath.Base(bundlePath))
		if err := copyFileInto(bundlePath, target); err != nil {
			c.Logger.Warn("copy bundle into nightly_artifacts failed", zap.String("run_id", id), zap.Error(err))
			paths = append(paths, bundlePath)
			continue
		}
		paths = append(paths, target)
	}
	return paths
}

func (c *Cycle) writeSummary(summary Summary) error {
	if err := os.MkdirAll(c.Paths.ReportsDir(), 0o755); err != nil {
		return fmt.Errorf("create reports dir: %w", err)
	}
	return writeJSONFile(c.summaryPath(), summary)
}

func strPtr(s string) *string { return &s }
