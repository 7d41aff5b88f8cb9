package registry_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"headlessctl/pkg/registry"
)

func floatPtr(v float64) *float64 { return &v }

func validPack() registry.Pack {
	maxBytes := int64(1 << 20)
	return registry.Pack{
		Env:  map[string]string{"FOO": "bar"},
		Caps: registry.Caps{MaxBytes: &maxBytes},
	}
}

func validTask() registry.Task {
	return registry.Task{
		Project:      registry.ProjectA,
		Runner:       registry.RunnerScenario,
		ScenarioPath: "scenarios/a.json",
		TickBudget:   1000,
		DefaultPack:  "nightly-default",
		MetricKeys:   []string{"timing.total_ms", "telemetry.truncated"},
		Thresholds: map[string]registry.Threshold{
			"telemetry.truncated": {Max: floatPtr(0)},
		},
	}
}

func TestCheckContractEmptyRegistry(t *testing.T) {
	t.Parallel()

	report := registry.CheckContract(registry.Registry{Tasks: map[string]registry.Task{}, Packs: map[string]registry.Pack{}})
	require.False(t, report.OK())

	var ids []string
	for _, e := range report.Errors {
		ids = append(ids, e.ID)
	}
	require.Contains(t, ids, "tasks_empty")
	require.Contains(t, ids, "packs_empty")
}

func TestCheckContractValidRegistryPasses(t *testing.T) {
	t.Parallel()

	reg := registry.Registry{
		Tasks: map[string]registry.Task{"t1": validTask()},
		Packs: map[string]registry.Pack{"nightly-default": validPack()},
	}

	report := registry.CheckContract(reg)
	require.True(t, report.OK(), "unexpected errors: %+v", report.Errors)
}

func TestCheckContractMissingTelemetryTruncated(t *testing.T) {
	t.Parallel()

	task := validTask()
	task.MetricKeys = []string{"timing.total_ms", "other.metric"}
	delete(task.Thresholds, "telemetry.truncated")

	reg := registry.Registry{
		Tasks: map[string]registry.Task{"t1": task},
		Packs: map[string]registry.Pack{"nightly-default": validPack()},
	}

	report := registry.CheckContract(reg)
	require.False(t, report.OK())

	var ids []string
	for _, e := range report.Errors {
		ids = append(ids, e.ID)
	}
	require.Contains(t, ids, "task_missing_telemetry_truncated")
}

func TestCheckContractTelemetryTruncatedThresholdMustBeZero(t *testing.T) {
	t.Parallel()

	task := validTask()
	task.Thresholds["telemetry.truncated"] = registry.Threshold{Max: floatPtr(1)}

	reg := registry.Registry{
		Tasks: map[string]registry.Task{"t1": task},
		Packs: map[string]registry.Pack{"nightly-default": validPack()},
	}

	report := registry.CheckContract(reg)
	var ids []string
	for _, e := range report.Errors {
		ids = append(ids, e.ID)
	}
	require.Contains(t, ids, "task_telemetry_truncated_threshold_invalid")
}

func TestCheckContractMetricKeysTooFew(t *testing.T) {
	t.Parallel()

	task := validTask()
	task.MetricKeys = []string{"telemetry.truncated"}

	reg := registry.Registry{
		Tasks: map[string]registry.Task{"t1": task},
		Packs: map[string]registry.Pack{"nightly-default": validPack()},
	}

	report := registry.CheckContract(reg)
	var ids []string
	for _, e := range report.Errors {
		ids = append(ids, e.ID)
	}
	require.Contains(t, ids, "task_metric_keys_too_few")
}

func TestCheckContractSeedPolicyPattern(t *testing.T) {
	t.Parallel()

	cases := map[string]struct {
		seeds []int64
		runner registry.Runner
		wantOK bool
	}{
		"valid pattern":          {seeds: []int64{1, 1, 2}, runner: registry.RunnerScenario, wantOK: true},
		"too few seeds":          {seeds: []int64{1, 2}, runner: registry.RunnerScenario, wantOK: false},
		"all distinct":          {seeds: []int64{1, 2, 3}, runner: registry.RunnerScenario, wantOK: false},
		"wrong runner":          {seeds: []int64{1, 1, 2}, runner: registry.RunnerLoaderA, wantOK: false},
	}

	for name, tc := range cases {
		tc := tc
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			task := validTask()
			task.Runner = tc.runner
			task.SeedPolicy = registry.SeedPolicyAIPolish
			task.DefaultSeeds = tc.seeds

			reg := registry.Registry{
				Tasks: map[string]registry.Task{"t1": task},
				Packs: map[string]registry.Pack{"nightly-default": validPack()},
			}

			report := registry.CheckContract(reg)
			require.Equal(t, tc.wantOK, report.OK(), "errors: %+v", report.Errors)
		})
	}
}

func TestEffectiveAllowExitCodesAlwaysIncludesZero(t *testing.T) {
	t.Parallel()

	task := registry.Task{AllowExitCodes: []int{3, 5}}
	require.ElementsMatch(t, []int{3, 5, 0}, task.EffectiveAllowExitCodes())

	taskWithZero := registry.Task{AllowExitCodes: []int{0, 2}}
	require.ElementsMatch(t, []int{0, 2}, taskWithZero.EffectiveAllowExitCodes())

	taskEmpty := registry.Task{}
	require.ElementsMatch(t, []int{0}, taskEmpty.EffectiveAllowExitCodes())
}
