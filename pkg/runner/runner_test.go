package runner

import (
	"testing"

	"headlessctl/pkg/registry"
	"headlessctl/pkg/telemetry"
)

func telemetryScanStub() telemetry.Scan {
	return telemetry.Scan{
		MetricsPath:    "/run/metrics.jsonl",
		EventsPath:     "/run/events.jsonl",
		InvariantsPath: "/run/invariants.jsonl",
	}
}

func TestParseBankLine(t *testing.T) {
	t.Parallel()

	cases := map[string]*BankResult{
		"BANK:econ_balance:PASS":                       {ID: "econ_balance", Status: "PASS", Raw: "BANK:econ_balance:PASS"},
		"BANK:econ_balance:FAIL reason=deficit_timeout": {ID: "econ_balance", Status: "FAIL", Reason: "deficit_timeout", Raw: "BANK:econ_balance:FAIL reason=deficit_timeout"},
		"not a bank line": nil,
		"": nil,
	}

	for line, want := range cases {
		got := ParseBankLine(line)
		if want == nil {
			if got != nil {
				t.Errorf("ParseBankLine(%q) = %+v, want nil", line, got)
			}
			continue
		}
		if got == nil {
			t.Errorf("ParseBankLine(%q) = nil, want %+v", line, want)
			continue
		}
		if got.ID != want.ID || got.Status != want.Status || got.Reason != want.Reason {
			t.Errorf("ParseBankLine(%q) = %+v, want %+v", line, got, want)
		}
	}
}

func TestComputePercentile(t *testing.T) {
	t.Parallel()

	values := []float64{1, 2, 3, 4, 5}
	p50, ok := computePercentile(values, 50)
	if !ok || p50 != 3 {
		t.Fatalf("p50 = %v, %v, want 3, true", p50, ok)
	}
	p0, _ := computePercentile(values, 0)
	if p0 != 1 {
		t.Fatalf("p0 = %v, want 1", p0)
	}
	p100, _ := computePercentile(values, 100)
	if p100 != 5 {
		t.Fatalf("p100 = %v, want 5", p100)
	}

	if _, ok := computePercentile(nil, 50); ok {
		t.Fatalf("expected computePercentile on empty slice to report false")
	}
}

func TestCheckSeedPolicyAIPolish(t *testing.T) {
	t.Parallel()

	task := registry.Task{SeedPolicy: registry.SeedPolicyAIPolish}

	if ok, _, _ := checkSeedPolicy(task, []int64{1, 1, 2}); !ok {
		t.Fatalf("expected valid pattern to pass")
	}
	if ok, code, _ := checkSeedPolicy(task, []int64{1, 2}); ok || code != "seed_policy_violation" {
		t.Fatalf("expected too-few seeds to fail with seed_policy_violation, got ok=%v code=%q", ok, code)
	}
	if ok, code, _ := checkSeedPolicy(task, []int64{1, 2, 3}); ok || code != "seed_policy_violation" {
		t.Fatalf("expected all-distinct seeds to fail with seed_policy_violation, got ok=%v code=%q", ok, code)
	}

	noPolicy := registry.Task{}
	if ok, _, _ := checkSeedPolicy(noPolicy, []int64{1, 2, 3}); !ok {
		t.Fatalf("expected seed policy check to pass when no policy is set")
	}
}

func TestResolveSeedList(t *testing.T) {
	t.Parallel()

	seed := int64(7)
	task := registry.Task{DefaultSeeds: []int64{3, 3, 9}}

	if got := resolveSeedList(task, nil, []int64{1, 2}); len(got) != 2 {
		t.Fatalf("explicit seeds should win, got %v", got)
	}
	if got := resolveSeedList(task, &seed, nil); len(got) != 1 || got[0] != 7 {
		t.Fatalf("explicit seed should win over default, got %v", got)
	}
	if got := resolveSeedList(task, nil, nil); len(got) != 1 || got[0] != 3 {
		t.Fatalf("expected first default seed, got %v", got)
	}
	if got := resolveSeedList(registry.Task{}, nil, nil); got != nil {
		t.Fatalf("expected nil seed list with nothing configured, got %v", got)
	}
}

func TestBuildArtifactsRespectsIncludeExclude(t *testing.T) {
	t.Parallel()

	pack := registry.Pack{
		ArtifactsInclude: []string{"stdout", "telemetry", "metrics"},
		ArtifactsExclude: []string{"metrics"},
	}

	artifacts := buildArtifacts(pack, "/run/stdout.log", "/run/telemetry.ndjson", true, telemetryScanStub())

	if _, ok := artifacts["metrics"]; ok {
		t.Fatalf("expected metrics to be excluded, got %+v", artifacts)
	}
	if artifacts["stdout"] != "/run/stdout.log" {
		t.Fatalf("expected stdout artifact, got %+v", artifacts)
	}
	if artifacts["telemetry"] != "/run/telemetry.ndjson" {
		t.Fatalf("expected telemetry artifact, got %+v", artifacts)
	}
	if _, ok := artifacts["events"]; ok {
		t.Fatalf("events was not in the include list, should be absent: %+v", artifacts)
	}
}
