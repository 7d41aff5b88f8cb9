package scoreboard

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

const telemetryLogTailBytes = 5 * 1024 * 1024

// ScoreGoal scores one extracted result bundle against a goal spec,
// porting score_goal.py's build_goal_report step for step (spec.md §4.8's
// 0-5 Goal Scorer). A nil goalSpec yields a SKIPPED report, the same as
// the original's `goal_spec is None` branch.
func ScoreGoal(resultRoot, goalSpecPath string, goalSpec *GoalSpec) *GoalReport {
	outDir := filepath.Join(resultRoot, "out")
	meta := loadJSONMap(filepath.Join(resultRoot, "meta.json"))
	runSummary := loadJSONMap(filepath.Join(outDir, "run_summary.json"))

	goalID := "unknown_goal"
	goalVersion := "v0"
	if goalSpec != nil {
		if goalSpec.GoalID != "" {
			goalID = goalSpec.GoalID
		}
		if goalSpec.GoalVersion != "" {
			goalVersion = goalSpec.GoalVersion
		}
	}

	runRefs := RunRefs{
		JobID:          stringOf(meta["job_id"]),
		BuildID:        stringOf(meta["build_id"]),
		Commit:         stringOf(meta["commit"]),
		ScenarioID:     stringOf(meta["scenario_id"]),
		Seed:           int64PtrOf(meta["seed"]),
		ResultRoot:     resultRoot,
		RunSummaryPath: filepath.Join(outDir, "run_summary.json"),
		MetaPath:       filepath.Join(resultRoot, "meta.json"),
		GoalSpec:       goalSpecPath,
	}

	if goalSpec == nil {
		return &GoalReport{
			GoalID:      goalID,
			GoalVersion: goalVersion,
			GoalStatus:  GoalSKIPPED,
			GoalScore:   0,
			Proof:       nil,
			Notes:       []string{"goal_spec missing; scorer skipped"},
			RunRefs:     runRefs,
		}
	}

	var proof []ProofItem
	var notes []string
	score := 0

	runCompleted := stringOf(meta["exit_reason"]) != "" || stringOf(runSummary["exit_reason"]) != ""
	telemetrySummary, hasTelemetrySummary := runSummary["telemetry_summary"].(map[string]any)

	if runCompleted && hasTelemetrySummary {
		score = 1
	} else {
		notes = append(notes, "run incomplete or telemetry_summary missing")
	}

	eventTotal := floatOf(telemetrySummary["event_total"])
	if score >= 1 && eventTotal > 0 {
		score = 2
	} else if score >= 1 {
		notes = append(notes, "telemetry_summary.event_total missing or zero")
	}

	telemetryPath := filepath.Join(outDir, "telemetry.ndjson")
	telemetryCounts, metricLast := collectTelemetrySignals(telemetryPath)

	telemetryMatches := matchPrefixes(telemetryCounts, goalSpec.Proof.TelemetryEventPrefixes)
	for _, m := range telemetryMatches {
		proof = append(proof, ProofItem{Type: "telemetry", EventType: m.eventType, Prefix: m.prefix, Count: m.count})
	}

	seenMetrics := map[string]bool{}
	var metricMatches []ProofItem
	for _, name := range goalSpec.Proof.MetricKeys {
		if v, ok := metricLast[name]; ok {
			metricMatches = append(metricMatches, ProofItem{Type: "metric", Metric: name, Value: v, OK: true})
			seenMetrics[name] = true
		}
	}
	for _, m := range matchMetricPrefixes(metricLast, goalSpec.Proof.MetricPrefixes) {
		if seenMetrics[m.metric] {
			continue
		}
		metricMatches = append(metricMatches, ProofItem{Type: "metric", Metric: m.metric, Value: m.value, Prefix: m.prefix, OK: true})
		seenMetrics[m.metric] = true
	}
	proof = append(proof, metricMatches...)

	logPaths := []string{
		filepath.Join(outDir, "player.log"),
		filepath.Join(outDir, "stdout.log"),
		filepath.Join(outDir, "stderr.log"),
	}
	logMatches := scanLogsForRegex(logPaths, goalSpec.Proof.LogRegex)
	for _, m := range logMatches {
		proof = append(proof, ProofItem{Type: "log", Regex: m.regex, File: m.file})
	}

	operatorReport := loadJSONMap(filepath.Join(outDir, "operator_report.json"))
	operatorMatches := operatorHints(operatorReport, goalSpec.Proof.OperatorContains, goalSpec.Proof.OperatorQuestionIDs)
	for _, m := range operatorMatches {
		item := ProofItem{Type: "operator"}
		if m.keyword != "" {
			item.Keyword = m.keyword
		}
		if m.questionID != "" {
			item.QuestionID = m.questionID
		}
		proof = append(proof, item)
	}

	hasProofSignal := len(telemetryMatches) > 0 || len(logMatches) > 0 || len(operatorMatches) > 0 || len(metricMatches) > 0
	if score >= 2 && hasProofSignal {
		score = 3
	} else if score >= 2 {
		notes = append(notes, "no proof signals detected")
	}

	proofFlags := map[string]bool{
		"telemetry": len(telemetryMatches) > 0,
		"log":       len(logMatches) > 0,
		"operator":  len(operatorMatches) > 0,
		"metric":    len(metricMatches) > 0,
	}

	thresholdsOK := true
	for name, limit := range goalSpec.Thresholds.MetricMax {
		value, ok := floatVal(metricLast[name])
		ok2 := ok && value <= limit
		thresholdsOK = thresholdsOK && ok2
		proof = append(proof, ProofItem{Type: "metric", Metric: name, Value: metricLast[name], Max: limit, OK: ok2})
	}
	for name, limit := range goalSpec.Thresholds.MetricMin {
		value, ok := floatVal(metricLast[name])
		ok2 := ok && value >= limit
		thresholdsOK = thresholdsOK && ok2
		proof = append(proof, ProofItem{Type: "metric", Metric: name, Value: metricLast[name], Min: limit, OK: ok2})
	}

	var requiredMet bool
	switch {
	case len(goalSpec.Required.AllOf) > 0:
		requiredMet = true
		for _, item := range goalSpec.Required.AllOf {
			if !proofFlags[item] {
				requiredMet = false
				break
			}
		}
	case len(goalSpec.Required.AnyOf) > 0:
		for _, item := range goalSpec.Required.AnyOf {
			if proofFlags[item] {
				requiredMet = true
				break
			}
		}
	default:
		requiredMet = hasProofSignal
	}

	if requiredMet && !thresholdsOK {
		notes = append(notes, "thresholds not met")
	}
	requiredMet = requiredMet && thresholdsOK

	if score >= 3 && requiredMet {
		score = 4
	} else if score >= 3 {
		notes = append(notes, "required proof conditions not met")
	}

	deltaMet := false
	if goalSpec.Delta != nil && goalSpec.Delta.TelemetryEventPrefix != "" {
		matches := matchPrefixes(telemetryCounts, []string{goalSpec.Delta.TelemetryEventPrefix})
		count := 0
		for _, m := range matches {
			count += m.count
		}
		if count >= goalSpec.Delta.MinCount {
			deltaMet = true
		}
		proof = append(proof, ProofItem{
			Type:                 "delta",
			TelemetryEventPrefix: goalSpec.Delta.TelemetryEventPrefix,
			Count:                count,
			MinCount:             goalSpec.Delta.MinCount,
		})
	}

	if score >= 4 && deltaMet {
		score = 5
	}

	status := GoalUNKNOWN
	switch {
	case score >= 4:
		status = GoalPASS
	case runCompleted:
		status = GoalFAIL
	}

	return &GoalReport{
		GoalID:      goalID,
		GoalVersion: goalVersion,
		GoalStatus:  status,
		GoalScore:   score,
		Proof:       proof,
		Notes:       notes,
		RunRefs:     runRefs,
	}
}

type prefixMatch struct {
	eventType string
	prefix    string
	count     int
}

func matchPrefixes(counts map[string]int, prefixes []string) []prefixMatch {
	if len(prefixes) == 0 {
		return nil
	}
	lowered := make([]string, 0, len(prefixes))
	for _, p := range prefixes {
		lowered = append(lowered, strings.ToLower(p))
	}
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var matches []prefixMatch
	for _, eventType := range keys {
		key := strings.ToLower(eventType)
		for _, prefix := range lowered {
			if strings.HasPrefix(key, prefix) {
				matches = append(matches, prefixMatch{eventType: eventType, prefix: prefix, count: counts[eventType]})
				break
			}
		}
	}
	return matches
}

type metricPrefixMatch struct {
	metric string
	prefix string
	value  any
}

func matchMetricPrefixes(metricLast map[string]any, prefixes []string) []metricPrefixMatch {
	if len(prefixes) == 0 {
		return nil
	}
	lowered := make([]string, 0, len(prefixes))
	for _, p := range prefixes {
		lowered = append(lowered, strings.ToLower(p))
	}
	keys := make([]string, 0, len(metricLast))
	for k := range metricLast {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var matches []metricPrefixMatch
	for _, name := range keys {
		key := strings.ToLower(name)
		for _, prefix := range lowered {
			if strings.HasPrefix(key, prefix) {
				matches = append(matches, metricPrefixMatch{metric: name, prefix: prefix, value: metricLast[name]})
				break
			}
		}
	}
	return matches
}

type logMatch struct {
	regex string
	file  string
}

func scanLogsForRegex(logPaths, patterns []string) []logMatch {
	if len(patterns) == 0 {
		return nil
	}
	var compiled []*regexp.Regexp
	for _, p := range patterns {
		if p == "" {
			continue
		}
		if re, err := regexp.Compile("(?i)" + p); err == nil {
			compiled = append(compiled, re)
		}
	}
	if len(compiled) == 0 {
		return nil
	}
	var matches []logMatch
	for _, path := range logPaths {
		text := readTail(path, telemetryLogTailBytes)
		if text == "" {
			continue
		}
		for _, re := range compiled {
			if re.MatchString(text) {
				matches = append(matches, logMatch{regex: re.String(), file: path})
			}
		}
	}
	return matches
}

type operatorMatch struct {
	keyword    string
	questionID string
}

func operatorHints(operatorReport map[string]any, keywords, questionIDs []string) []operatorMatch {
	if operatorReport == nil {
		return nil
	}
	var matches []operatorMatch
	if len(keywords) > 0 {
		data, _ := json.Marshal(operatorReport)
		blob := strings.ToLower(string(data))
		for _, token := range keywords {
			if token != "" && strings.Contains(blob, strings.ToLower(token)) {
				matches = append(matches, operatorMatch{keyword: token})
			}
		}
	}
	if len(questionIDs) > 0 {
		wanted := map[string]bool{}
		for _, id := range questionIDs {
			wanted[id] = true
		}
		if questions, ok := operatorReport["questions"].([]any); ok {
			for _, raw := range questions {
				q, ok := raw.(map[string]any)
				if !ok {
					continue
				}
				qid := stringOf(q["id"])
				if qid != "" && wanted[qid] {
					matches = append(matches, operatorMatch{questionID: qid})
				}
			}
		}
	}
	return matches
}

// collectTelemetrySignals reads a telemetry.ndjson file and tallies event
// type counts plus the last-seen value of each named metric, porting
// score_goal.py's collect_telemetry_signals (spec.md §4.8's proof
// resolution needs only counts and last values, not full samples).
func collectTelemetrySignals(path string) (counts map[string]int, metricLast map[string]any) {
	counts = map[string]int{}
	metricLast = map[string]any{}
	f, err := os.Open(path)
	if err != nil {
		return counts, metricLast
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var obj map[string]any
		if err := json.Unmarshal([]byte(line), &obj); err != nil {
			continue
		}
		eventType := firstNonEmpty(stringOf(obj["type"]), stringOf(obj["event"]), stringOf(obj["name"]), stringOf(obj["event_type"]))
		if eventType == "" {
			eventType = "unknown"
		}
		counts[eventType]++
		if strings.EqualFold(eventType, "metric") {
			metricName := firstNonEmpty(stringOf(obj["metric"]), stringOf(obj["name"]))
			if value, ok := obj["value"]; ok && metricName != "" {
				metricLast[metricName] = value
			}
		}
	}
	return counts, metricLast
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func readTail(path string, maxBytes int64) string {
	info, err := os.Stat(path)
	if err != nil {
		return ""
	}
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()
	if info.Size() > maxBytes {
		if _, err := f.Seek(-maxBytes, 2); err != nil {
			return ""
		}
	}
	data := make([]byte, 0, maxBytes)
	buf := make([]byte, 64*1024)
	for {
		n, err := f.Read(buf)
		if n > 0 {
			data = append(data, buf[:n]...)
		}
		if err != nil {
			break
		}
	}
	return string(data)
}

func loadJSONMap(path string) map[string]any {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil
	}
	return out
}

func stringOf(v any) string {
	s, _ := v.(string)
	return s
}

func floatOf(v any) float64 {
	f, _ := v.(float64)
	return f
}

func floatVal(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

func int64PtrOf(v any) *int64 {
	f, ok := floatVal(v)
	if !ok {
		return nil
	}
	i := int64(f)
	return &i
}
