package runner

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"headlessctl/internal/clock"
	"headlessctl/pkg/paths"
	"headlessctl/pkg/registry"
	"headlessctl/pkg/telemetry"
)

// Error is a structured orchestrator failure carrying the same error_code
// vocabulary the CLI emits in result documents.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string { return fmt.Sprintf("%s: %s", e.Code, e.Message) }

func errResult(code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Orchestrator runs tasks against the simulator and writes their results.
type Orchestrator struct {
	Registry registry.Registry
	Paths    paths.Paths
	Clock    clock.Clock
	Logger   *zap.Logger
	NewRunID func() string
}

// RunRequest is one `run_task` invocation's resolved inputs.
type RunRequest struct {
	TaskID   string
	Seed     *int64
	Seeds    []int64
	PackName string // empty means "use the task's default_pack"
}

// Run implements the seed-resolution precedence and ai_polish dispatch of
// spec.md §4.3's run_task entrypoint, returning either a single Result or
// a MultiResult.
func (o *Orchestrator) Run(ctx context.Context, req RunRequest) (single *Result, multi *MultiResult, exitCode int, err error) {
	task, ok := o.Registry.Task(req.TaskID)
	if !ok {
		return nil, nil, ExitUsage, errResult("task_not_found", fmt.Sprintf("task not found: %s", req.TaskID))
	}

	autoMulti := false
	var seedList []int64
	if req.Seeds == nil && req.Seed == nil && task.SeedPolicy == registry.SeedPolicyAIPolish && len(task.DefaultSeeds) >= 3 {
		seedList = append([]int64(nil), task.DefaultSeeds...)
		autoMulti = true
	} else {
		seedList = resolveSeedList(task, req.Seed, req.Seeds)
	}

	if ok, code, msg := checkSeedPolicy(task, seedList); !ok {
		return nil, nil, ExitUsage, errResult(code, msg)
	}

	if (req.Seeds != nil || autoMulti) && len(seedList) > 1 {
		result, code, err := o.runMulti(ctx, req.TaskID, seedList, req.PackName, task)
		return nil, result, code, err
	}

	var seedValue *int64
	if len(seedList) > 0 {
		seedValue = &seedList[0]
	} else {
		seedValue = req.Seed
	}
	result, code, err := o.runSingle(ctx, req.TaskID, seedValue, req.PackName)
	return result, nil, code, err
}

func (o *Orchestrator) runSingle(ctx context.Context, taskID string, seed *int64, packName string) (*Result, int, error) {
	task, ok := o.Registry.Task(taskID)
	if !ok {
		return nil, ExitUsage, errResult("task_not_found", fmt.Sprintf("task not found: %s", taskID))
	}
	if packName == "" {
		packName = task.DefaultPack
		if packName == "" {
			packName = "nightly-default"
		}
	}
	pack, ok := o.Registry.Pack(packName)
	if !ok {
		return nil, ExitUsage, errResult("pack_not_found", fmt.Sprintf("pack not found: %s", packName))
	}

	allowExitCodes := task.EffectiveAllowExitCodes()
	timeoutS := task.EffectiveTimeout()

	binary := findBinary(o.Paths.TriRoot, o.Paths.StateDir, task.Project)
	if binary == "" {
		return nil, ExitUsage, errResult("binary_missing", fmt.Sprintf("binary not found for project %s", task.Project))
	}
	if _, err := os.Stat(binary); err != nil {
		return nil, ExitUsage, errResult("binary_missing", fmt.Sprintf("binary not found for project %s: %s", task.Project, binary))
	}
	ensureExecutable(binary)

	runID := o.NewRunID()
	runDir := o.Paths.RunDir(runID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return nil, ExitUsage, fmt.Errorf("create run dir: %w", err)
	}

	var scenarioAbs string
	if task.ScenarioPath != "" {
		scenarioAbs = resolveScenarioPath(o.Paths.TriRoot, task.ScenarioPath)
		if _, err := os.Stat(scenarioAbs); err != nil {
			return nil, ExitUsage, errResult("scenario_missing", fmt.Sprintf("scenario not found: %s", scenarioAbs))
		}
	}

	var seedRequested *int64
	if seed != nil {
		seedRequested = seed
	} else if len(task.DefaultSeeds) > 0 {
		seedRequested = &task.DefaultSeeds[0]
	}

	scenarioUsed, seedEffective := overrideSeedIfSupported(scenarioAbs, runDir, seedRequested, task.Runner)
	if scenarioUsed == "" {
		scenarioUsed = scenarioAbs
	}

	telemetryPath := filepath.Join(runDir, "telemetry.ndjson")
	stdoutPath := filepath.Join(runDir, "stdout.log")

	env := buildEnv(pack, task, telemetryPath, scenarioAbs, scenarioUsed)
	args := []string{"-batchmode", "-nographics", "-logFile", "-", "--scenario", scenarioUsed}

	startedUTC := o.Clock.Now().UTC()
	o.Logger.Info("run_task start", zap.String("task_id", taskID), zap.String("run_id", runID), zap.String("pack", packName))

	supervision, err := superviseProcess(ctx, binary, args, env, stdoutPath, time.Duration(timeoutS)*time.Second)
	if err != nil {
		return nil, ExitUsage, fmt.Errorf("supervise process: %w", err)
	}
	endedUTC := o.Clock.Now().UTC()

	o.Logger.Info("run_task finished", zap.String("run_id", runID), zap.Intp("exit_code", supervision.ExitCode))

	if supervision.TelemetryOut != "" && supervision.TelemetryOut != telemetryPath {
		if _, err := os.Stat(supervision.TelemetryOut); err == nil {
			if _, err := os.Stat(telemetryPath); err != nil {
				copyFile(supervision.TelemetryOut, telemetryPath)
			}
		}
	}

	telemetryOK := false
	if _, err := os.Stat(telemetryPath); err == nil {
		telemetryOK = true
	}

	var scan telemetry.Scan
	if telemetryOK {
		scan, err = telemetry.Run(telemetryPath, runDir, telemetry.Caps{MaxBytes: pack.Caps.MaxBytes})
		if err != nil {
			return nil, ExitUsage, fmt.Errorf("scan telemetry: %w", err)
		}
	}

	invariantFail := telemetryOK && scan.AnyInvariantFailed()
	bankRequired := task.RequiredBank != ""
	bankStrict := task.BankStrict
	var bankStatus *BankResult
	if bankRequired {
		for i := range supervision.BankResults {
			if supervision.BankResults[i].ID == task.RequiredBank {
				bankStatus = &supervision.BankResults[i]
				break
			}
		}
	}
	bankOK := true
	if bankRequired {
		bankOK = bankStatus != nil && bankStatus.Status == "PASS"
	}

	ok := true
	errorCode := "none"
	var errorMsg *string
	var warnings []string

	if supervision.TimedOut {
		ok = false
		errorCode = "timeout"
		errorMsg = strPtr(fmt.Sprintf("timeout_s=%d", timeoutS))
	} else if supervision.ExitCode != nil && !containsInt(allowExitCodes, *supervision.ExitCode) {
		ok = false
		errorCode = "run_failed"
		errorMsg = strPtr(fmt.Sprintf("exit_code=%d", *supervision.ExitCode))
	}
	if !telemetryOK {
		ok = false
		errorCode = "telemetry_missing"
		errorMsg = strPtr("telemetry output missing")
	}
	if bankRequired && !bankOK {
		if bankStrict {
			ok = false
			errorCode = "bank_failed"
			errorMsg = strPtr(fmt.Sprintf("required bank %s not PASS", task.RequiredBank))
		} else {
			warnings = append(warnings, fmt.Sprintf("required bank %s not PASS", task.RequiredBank))
		}
	}
	if invariantFail {
		ok = false
		errorCode = "invariant_failed"
		errorMsg = strPtr("invariant check failed")
	}

	artifacts := buildArtifacts(pack, stdoutPath, telemetryPath, telemetryOK, scan)

	seedUsed := seedRequested
	if telemetryOK && scan.SeedUsed != nil {
		seedUsed = scan.SeedUsed
	}

	result := &Result{
		OK:             ok,
		ErrorCode:      errorCode,
		Error:          errorMsg,
		RunID:          runID,
		TaskID:         taskID,
		Project:        task.Project,
		Runner:         task.Runner,
		ScenarioPath:   task.ScenarioPath,
		ScenarioUsed:   scenarioUsed,
		ScenarioID:     scan.ScenarioID,
		TickBudget:     task.TickBudget,
		SeedRequested:  seedRequested,
		SeedUsed:       seedUsed,
		SeedEffective:  seedEffective,
		Pack:           packName,
		StartedUTC:     startedUTC,
		EndedUTC:       endedUTC,
		ExitCode:       supervision.ExitCode,
		TimeoutS:       timeoutS,
		TimedOut:       supervision.TimedOut,
		BankRequired:   task.RequiredBank,
		BankResults:    supervision.BankResults,
		BankStatus:     bankStatus,
		Warnings:       warnings,
		TelemetryPath:  pathIf(telemetryOK, telemetryPath),
		MetricsSummary: orEmptyAny(scan.MetricsSummary),
		MetricsStats:   orEmptySummary(scan.MetricsStats),
		Invariants:     scan.Invariants,
		Artifacts:      artifacts,
	}

	if err := writeResultJSON(runDir, result); err != nil {
		return nil, ExitUsage, err
	}

	statusCode := ExitOK
	if !ok {
		statusCode = ExitRunFailed
	}
	o.Logger.Info("run_task summary", zap.String("run_id", runID), zap.Bool("ok", ok))
	return result, statusCode, nil
}

func (o *Orchestrator) runMulti(ctx context.Context, taskID string, seeds []int64, packName string, task registry.Task) (*MultiResult, int, error) {
	runID := o.NewRunID()
	runDir := o.Paths.RunDir(runID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return nil, ExitUsage, fmt.Errorf("create run dir: %w", err)
	}

	packUsed := packName
	if packUsed == "" {
		packUsed = task.DefaultPack
	}
	if packUsed == "" {
		packUsed = "nightly-default"
	}

	startedUTC := o.Clock.Now().UTC()
	var seedResults []Result
	for _, seed := range seeds {
		seedCopy := seed
		result, code, err := o.runSingle(ctx, taskID, &seedCopy, packName)
		if err != nil {
			return nil, code, err
		}
		if code == ExitUsage {
			return nil, code, nil
		}
		seedResults = append(seedResults, *result)
	}

	seedRuns, aggregateSummary, aggregateStats, varianceGrades, variancePass, varianceFailedCount := collectSeedMetrics(seedResults, task.MetricKeys, task.VarianceBand)
	aggregateSummary["eval.variance_failed_count"] = varianceFailedCount

	seedOK := true
	for _, r := range seedResults {
		if !r.OK {
			seedOK = false
			break
		}
	}
	ok := seedOK && variancePass
	errorCode := "none"
	var errorMsg *string
	if !seedOK {
		errorCode = "seed_run_failed"
		errorMsg = strPtr("one or more seed runs failed")
	} else if !variancePass {
		errorCode = "variance_failed"
		errorMsg = strPtr("variance band exceeded")
	}

	var scenarioUsed, scenarioID string
	if len(seedResults) > 0 {
		scenarioUsed = seedResults[0].ScenarioUsed
		scenarioID = seedResults[0].ScenarioID
	}

	seedRunIDs := make([]string, len(seedRuns))
	for i, r := range seedRuns {
		seedRunIDs[i] = r.RunID
	}

	statusCode := ExitOK
	if !ok {
		statusCode = ExitRunFailed
	}

	result := &MultiResult{
		OK:                  ok,
		ErrorCode:           errorCode,
		Error:               errorMsg,
		RunID:               runID,
		TaskID:              taskID,
		Project:             task.Project,
		Runner:              task.Runner,
		ScenarioPath:        task.ScenarioPath,
		ScenarioUsed:        scenarioUsed,
		ScenarioID:          scenarioID,
		TickBudget:          task.TickBudget,
		SeedsRequested:      seeds,
		Pack:                packUsed,
		StartedUTC:          startedUTC,
		EndedUTC:            o.Clock.Now().UTC(),
		ExitCode:            statusCode,
		MetricsSummary:      aggregateSummary,
		MetricsStats:        aggregateStats,
		VarianceGrades:      varianceGrades,
		VariancePass:        variancePass,
		VarianceFailedCount: varianceFailedCount,
		SeedRuns:            seedRuns,
		SeedRunIDs:          seedRunIDs,
		Artifacts:           map[string]string{},
	}

	if err := writeResultJSON(runDir, result); err != nil {
		return nil, ExitUsage, err
	}

	o.Logger.Info("run_task summary", zap.String("run_id", runID), zap.Bool("ok", ok), zap.String("seeds", formatSeedList(seeds)))
	return result, statusCode, nil
}

