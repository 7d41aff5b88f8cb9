package ingest

// computeValidity judges evidence completeness for a result bundle against
// the closed taxonomy of spec.md §7, grounded on what extract_triage.py
// shows is actually available in a bundle (meta.json, out/watchdog.json,
// out/run_summary.json, out/invariants.json) plus the telemetry-summary and
// bank fields spec.md additionally names.
func computeValidity(src bundleSource, meta, runSummary, telemetrySummary map[string]any, bank []any, requiredBank string) Validity {
	var reasons []InvalidReason

	if meta == nil {
		reasons = append(reasons, ReasonMetaMissing)
	}
	if !src.has("out/watchdog.json") {
		reasons = append(reasons, ReasonWatchdogMissing)
	}
	if runSummary == nil {
		reasons = append(reasons, ReasonRunSummaryMissing)
	}
	if telemetrySummary == nil {
		reasons = append(reasons, ReasonTelemetrySummaryMissing)
	} else {
		if eventTotal, ok := telemetrySummary["event_total"].(float64); !ok || eventTotal <= 0 {
			reasons = append(reasons, ReasonTelemetryEventTotalMissingOrZero)
		}
		if truncated, ok := telemetrySummary["telemetry.truncated"].(float64); ok && truncated != 0 {
			reasons = append(reasons, ReasonTelemetryTruncated)
		}
		if _, ok := telemetrySummary["oracle_heartbeat"]; !ok {
			reasons = append(reasons, ReasonTelemetryOracleHeartbeatMissing)
		}
	}
	if !src.has("out/invariants.json") && !src.has("invariants.jsonl") {
		reasons = append(reasons, ReasonInvariantsMissing)
	}
	if requiredBank != "" {
		var found bool
		status := ""
		testID := ""
		for _, raw := range bank {
			entry, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			found = true
			status = stringField(entry, "status")
			testID = stringField(entry, "id")
			break
		}
		switch {
		case !found:
			reasons = append(reasons, ReasonBankMissing)
		case status != "PASS":
			reasons = append(reasons, ReasonBankFail)
		case testID != "" && testID != requiredBank:
			reasons = append(reasons, ReasonBankWrongTest)
		}
	}

	status := ValidityValid
	switch {
	case len(reasons) > 0:
		status = ValidityInvalid
	case stringField(meta, "exit_reason") == "OK_WITH_WARNINGS":
		status = ValidityOKWithWarnings
	}

	return Validity{Status: status, InvalidReasons: reasons}
}
