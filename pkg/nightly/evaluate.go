package nightly

import (
	"fmt"

	"headlessctl/pkg/runner"
	"headlessctl/pkg/telemetry"
)

// evaluateRun builds the closed failures list for one evaluated run, ported
// from evaluate_run. For a single-seed Result the caller passes its ok and
// bank fields; for each child seed run of a multi-seed aggregate it passes
// that child's own ok and no bank requirement.
func evaluateRun(ok bool, bankRequired string, bankStatus *runner.BankResult, invariants []telemetry.Invariant, metricsSummary map[string]any) []string {
	var failures []string
	if !ok {
		failures = append(failures, "run_failed")
	}

	for _, inv := range invariants {
		if !inv.OK {
			failures = append(failures, fmt.Sprintf("invariant:%s", inv.Name))
		}
	}

	truncated, present := metricsSummary["telemetry.truncated"]
	if !present {
		failures = append(failures, "telemetry.truncated_missing")
	} else if value, ok := asFloat(truncated); !ok {
		failures = append(failures, "telemetry.truncated_missing")
	} else if value != 0 {
		failures = append(failures, fmt.Sprintf("telemetry.truncated:%v", truncated))
	}

	if bankRequired != "" {
		if bankStatus == nil || bankStatus.Status != "PASS" {
			failures = append(failures, "bank_failed")
		}
	}

	return failures
}
