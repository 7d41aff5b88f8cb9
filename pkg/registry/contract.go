package registry

import "sort"

// ContractIssue is one structured error or warning from a contract check.
type ContractIssue struct {
	ID      string `json:"id"`
	TaskID  string `json:"task_id,omitempty"`
	Pack    string `json:"pack,omitempty"`
	Message string `json:"message,omitempty"`
	Fields  []string `json:"fields,omitempty"`
	Key     string `json:"key,omitempty"`
	Value   any    `json:"value,omitempty"`
}

// ContractReport is the outcome of CheckContract.
type ContractReport struct {
	Errors   []ContractIssue
	Warnings []ContractIssue
}

// OK reports whether the contract check found zero errors (warnings are
// always allowed, per spec.md §4.2).
func (r ContractReport) OK() bool {
	return len(r.Errors) == 0
}

var allowedProjects = map[Project]bool{ProjectA: true, ProjectB: true, ProjectC: true}

var allowedRunners = map[Runner]bool{RunnerScenario: true, RunnerLoaderA: true, RunnerLoaderB: true}

// CheckContract validates a Registry against spec.md §4.2's closed set of
// error codes. It is side-effect free and returns the same report for the
// same input every time.
func CheckContract(reg Registry) ContractReport {
	var report ContractReport

	if len(reg.Tasks) == 0 {
		report.Errors = append(report.Errors, ContractIssue{ID: "tasks_empty", Message: "tasks registry is empty"})
	}
	if len(reg.Packs) == 0 {
		report.Errors = append(report.Errors, ContractIssue{ID: "packs_empty", Message: "packs registry is empty"})
	}

	for _, name := range sortedPackNames(reg.Packs) {
		pack := reg.Packs[name]
		if pack.Env == nil {
			report.Errors = append(report.Errors, ContractIssue{ID: "pack_env_missing", Pack: name, Message: "pack.env must be set"})
		}
		if pack.Caps.MaxBytes == nil {
			report.Warnings = append(report.Warnings, ContractIssue{ID: "pack_caps_missing", Pack: name, Message: "pack.caps missing"})
		} else if *pack.Caps.MaxBytes < 0 {
			report.Errors = append(report.Errors, ContractIssue{ID: "pack_caps_invalid", Pack: name, Message: "pack.caps.max_bytes must be non-negative"})
		}
	}

	for _, id := range sortedTaskIDs(reg.Tasks) {
		task := reg.Tasks[id]
		checkTask(&report, reg, id, task)
	}

	return report
}

func checkTask(report *ContractReport, reg Registry, id string, task Task) {
	var missing []string
	if task.Project == "" {
		missing = append(missing, "project")
	}
	if task.Runner == "" {
		missing = append(missing, "runner")
	}
	if task.ScenarioPath == "" {
		missing = append(missing, "scenario_path")
	}
	if task.TickBudget == 0 {
		missing = append(missing, "tick_budget")
	}
	if task.DefaultPack == "" {
		missing = append(missing, "default_pack")
	}
	if task.MetricKeys == nil {
		missing = append(missing, "metric_keys")
	}
	if len(missing) > 0 {
		report.Errors = append(report.Errors, ContractIssue{ID: "task_missing_fields", TaskID: id, Fields: missing})
	}

	if task.Project != "" && !allowedProjects[task.Project] {
		report.Errors = append(report.Errors, ContractIssue{ID: "task_project_invalid", TaskID: id, Value: task.Project})
	}
	if task.Runner != "" && !allowedRunners[task.Runner] {
		report.Errors = append(report.Errors, ContractIssue{ID: "task_runner_invalid", TaskID: id, Value: task.Runner})
	}
	if task.DefaultPack != "" {
		if _, ok := reg.Pack(task.DefaultPack); !ok {
			report.Errors = append(report.Errors, ContractIssue{ID: "task_pack_missing", TaskID: id, Pack: task.DefaultPack})
		}
	}

	if len(task.MetricKeys) < 2 {
		report.Errors = append(report.Errors, ContractIssue{ID: "task_metric_keys_too_few", TaskID: id})
	}
	if !containsString(task.MetricKeys, "telemetry.truncated") {
		report.Errors = append(report.Errors, ContractIssue{ID: "task_missing_telemetry_truncated", TaskID: id})
	} else if threshold, ok := task.Thresholds["telemetry.truncated"]; !ok || threshold.Max == nil || *threshold.Max != 0 {
		report.Errors = append(report.Errors, ContractIssue{ID: "task_telemetry_truncated_threshold_invalid", TaskID: id})
	}

	checkSeedPolicy(report, id, task)
}

func checkSeedPolicy(report *ContractReport, id string, task Task) {
	if task.SeedPolicy != "" && task.SeedPolicy != SeedPolicyAIPolish && task.SeedPolicy != SeedPolicyNone {
		report.Errors = append(report.Errors, ContractIssue{ID: "task_seed_policy_invalid", TaskID: id, Value: task.SeedPolicy})
		return
	}
	if task.SeedPolicy != SeedPolicyAIPolish {
		return
	}

	if task.Runner != RunnerScenario && task.Runner != RunnerLoaderB {
		report.Errors = append(report.Errors, ContractIssue{ID: "task_seed_policy_runner_invalid", TaskID: id, Value: task.Runner})
	}

	if len(task.DefaultSeeds) < 3 {
		report.Errors = append(report.Errors, ContractIssue{ID: "task_seed_policy_seeds_pattern_invalid", TaskID: id})
		return
	}

	counts := map[int64]int{}
	for _, seed := range task.DefaultSeeds {
		counts[seed]++
	}
	hasRepeat := false
	for _, n := range counts {
		if n >= 2 {
			hasRepeat = true
			break
		}
	}
	if len(counts) < 2 || !hasRepeat {
		report.Errors = append(report.Errors, ContractIssue{ID: "task_seed_policy_seeds_pattern_invalid", TaskID: id})
	}
}

func containsString(haystack []string, needle string) bool {
	for _, v := range haystack {
		if v == needle {
			return true
		}
	}
	return false
}

func sortedTaskIDs(tasks map[string]Task) []string {
	ids := make([]string, 0, len(tasks))
	for id := range tasks {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func sortedPackNames(packs map[string]Pack) []string {
	names := make([]string, 0, len(packs))
	for name := range packs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
