package telemetry

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
)

// Invariant is one fixed, named pass/fail check evaluated over a telemetry
// stream. The Name/Detail vocabulary is closed: spec.md §4.4 names exactly
// six invariants and callers must not invent new ones.
type Invariant struct {
	Name   string         `json:"name"`
	OK     bool           `json:"ok"`
	Detail map[string]any `json:"-"`
}

// MarshalJSON flattens Detail alongside name/ok, matching the original
// tool's per-invariant record shape (each invariant carries different
// auxiliary fields).
func (inv Invariant) MarshalJSON() ([]byte, error) {
	out := map[string]any{"name": inv.Name, "ok": inv.OK}
	for k, v := range inv.Detail {
		out[k] = v
	}
	return json.Marshal(out)
}

// Caps bounds telemetry output size; a nil or non-positive MaxBytes means
// uncapped.
type Caps struct {
	MaxBytes *int64
}

// Scan is the reduced result of one telemetry pass: the written
// metrics.jsonl/events.jsonl/invariants.jsonl paths plus the summaries and
// invariant results needed to populate a RunRecord.
type Scan struct {
	MetricsPath        string
	EventsPath         string
	InvariantsPath     string
	MetricsSummary     map[string]any
	MetricsStats       map[string]Summary
	Invariants         []Invariant
	FirstTick          *int64
	LastTick           *int64
	TelemetrySizeBytes int64
	SeedUsed           *int64
	ScenarioID         string
}

// AnyInvariantFailed reports whether the scan found a failing invariant,
// the condition that drives error_code=invariant_failed in the Run
// Orchestrator.
func (s Scan) AnyInvariantFailed() bool {
	for _, inv := range s.Invariants {
		if !inv.OK {
			return true
		}
	}
	return false
}

type metricLine struct {
	Tick  *int64 `json:"tick"`
	Key   string `json:"key"`
	Value any    `json:"value"`
	Unit  any    `json:"unit"`
	Loop  any    `json:"loop"`
}

func scan(telemetryPath, runDir string, caps Caps) (Scan, error) {
	metricsPath := filepath.Join(runDir, "metrics.jsonl")
	eventsPath := filepath.Join(runDir, "events.jsonl")

	metricsHandle, err := os.Create(metricsPath)
	if err != nil {
		return Scan{}, fmt.Errorf("create metrics.jsonl: %w", err)
	}
	defer metricsHandle.Close()
	eventsHandle, err := os.Create(eventsPath)
	if err != nil {
		return Scan{}, fmt.Errorf("create events.jsonl: %w", err)
	}
	defer eventsHandle.Close()

	src, err := os.Open(telemetryPath)
	if err != nil {
		return Scan{}, fmt.Errorf("open telemetry: %w", err)
	}
	defer src.Close()

	stats := map[string]*runningStat{}
	var firstTick, lastTick *int64
	monotonicOK := true
	var parseErrors, nanInfFound, negativeCounts, negativeResources int64
	var seedUsed *int64
	var scenarioID string

	statFor := func(key string) *runningStat {
		s, ok := stats[key]
		if !ok {
			s = &runningStat{}
			stats[key] = s
		}
		return s
	}

	lineScanner := bufio.NewScanner(stripBOM(src))
	lineScanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	metricsWriter := bufio.NewWriter(metricsHandle)
	eventsWriter := bufio.NewWriter(eventsHandle)

	for lineScanner.Scan() {
		raw := lineScanner.Bytes()
		if len(raw) == 0 {
			continue
		}

		var record map[string]any
		if err := json.Unmarshal(raw, &record); err != nil {
			parseErrors++
			continue
		}
		if containsNonFinite(record) {
			nanInfFound++
		}

		tick := intFieldPtr(record["tick"])
		if tick != nil {
			if firstTick == nil {
				firstTick = tick
			}
			if lastTick != nil && *tick < *lastTick {
				monotonicOK = false
			}
			lastTick = tick
		}

		if seedUsed == nil {
			if seed := intFieldPtr(record["seed"]); seed != nil {
				seedUsed = seed
			}
		}
		if scenarioID == "" {
			if s, ok := record["scenario"].(string); ok && s != "" {
				scenarioID = s
			}
		}

		recordType, _ := record["type"].(string)
		if recordType == "metric" {
			key, _ := record["key"].(string)
			value := record["value"]
			line := metricLine{Tick: tick, Key: key, Value: value, Unit: record["unit"], Loop: record["loop"]}
			if err := writeSortedJSON(metricsWriter, line); err != nil {
				return Scan{}, fmt.Errorf("write metrics.jsonl: %w", err)
			}

			if numeric, ok := asFloat(value); ok {
				statFor(key).update(numeric, tick)
				if unit, _ := record["unit"].(string); unit == "count" && numeric < 0 {
					negativeCounts++
				}
				if key != "" && looksLikeResourceKey(key) && numeric < 0 {
					negativeResources++
				}
			}
		} else {
			if err := writeSortedJSON(eventsWriter, record); err != nil {
				return Scan{}, fmt.Errorf("write events.jsonl: %w", err)
			}
		}
	}
	if err := lineScanner.Err(); err != nil {
		return Scan{}, fmt.Errorf("read telemetry: %w", err)
	}
	if err := metricsWriter.Flush(); err != nil {
		return Scan{}, fmt.Errorf("flush metrics.jsonl: %w", err)
	}
	if err := eventsWriter.Flush(); err != nil {
		return Scan{}, fmt.Errorf("flush events.jsonl: %w", err)
	}

	metricsSummary := map[string]any{}
	metricsStats := map[string]Summary{}
	for key, s := range stats {
		summary := s.summary()
		metricsStats[key] = summary
		if summary.Last != nil {
			metricsSummary[key] = *summary.Last
		}
	}

	sizeBytes := int64(0)
	if info, err := os.Stat(telemetryPath); err == nil {
		sizeBytes = info.Size()
	}
	underCap := true
	if caps.MaxBytes != nil && *caps.MaxBytes > 0 {
		underCap = sizeBytes <= *caps.MaxBytes
	}

	truncated := int64(0)
	if !underCap {
		truncated = 1
	}
	metricsSummary["telemetry.bytes_written"] = sizeBytes
	metricsSummary["telemetry.truncated"] = truncated
	metricsStats["telemetry.bytes_written"] = fixedSummary(float64(sizeBytes), lastTick)
	metricsStats["telemetry.truncated"] = fixedSummary(float64(truncated), lastTick)

	invariants := []Invariant{
		{Name: "telemetry.parse_errors", OK: parseErrors == 0, Detail: map[string]any{"value": parseErrors}},
		{Name: "telemetry.monotonic_tick", OK: monotonicOK, Detail: map[string]any{"first_tick": firstTick, "last_tick": lastTick}},
		{Name: "telemetry.no_nan_inf", OK: nanInfFound == 0, Detail: map[string]any{"value": nanInfFound}},
		{Name: "telemetry.no_negative_counts", OK: negativeCounts == 0, Detail: map[string]any{"value": negativeCounts}},
		{Name: "telemetry.no_negative_resources", OK: negativeResources == 0, Detail: map[string]any{"value": negativeResources}},
		{Name: "telemetry.output_under_cap", OK: underCap, Detail: map[string]any{"size_bytes": sizeBytes, "cap_bytes": caps.MaxBytes}},
	}

	invariantsPath := filepath.Join(runDir, "invariants.jsonl")
	if err := writeInvariants(invariantsPath, invariants); err != nil {
		return Scan{}, err
	}

	return Scan{
		MetricsPath:        metricsPath,
		EventsPath:         eventsPath,
		InvariantsPath:     invariantsPath,
		MetricsSummary:     metricsSummary,
		MetricsStats:       metricsStats,
		Invariants:         invariants,
		FirstTick:          firstTick,
		LastTick:           lastTick,
		TelemetrySizeBytes: sizeBytes,
		SeedUsed:           seedUsed,
		ScenarioID:         scenarioID,
	}, nil
}

// Run streams telemetryPath line by line, writing metrics.jsonl and
// events.jsonl into runDir and returning the reduced summaries and
// invariant results. It never holds the whole file in memory.
func Run(telemetryPath, runDir string, caps Caps) (Scan, error) {
	return scan(telemetryPath, runDir, caps)
}

func fixedSummary(value float64, lastTick *int64) Summary {
	zero := 0.0
	v := value
	return Summary{Count: 1, Min: &v, Max: &v, Mean: &v, Stdev: &zero, Last: &v, LastTick: lastTick}
}

func writeInvariants(path string, invariants []Invariant) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create invariants.jsonl: %w", err)
	}
	defer f.Close()
	w := bufio.NewWriter(f)
	for _, inv := range invariants {
		if err := writeSortedJSON(w, inv); err != nil {
			return fmt.Errorf("write invariants.jsonl: %w", err)
		}
	}
	return w.Flush()
}

func writeSortedJSON(w io.Writer, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	sorted, err := sortJSONKeys(data)
	if err != nil {
		return err
	}
	if _, err := w.Write(sorted); err != nil {
		return err
	}
	_, err = w.Write([]byte("\n"))
	return err
}

// sortJSONKeys re-encodes JSON with object keys sorted, matching the
// original tool's json.dumps(..., sort_keys=True) so output is diffable.
func sortJSONKeys(data []byte) ([]byte, error) {
	var generic any
	if err := json.Unmarshal(data, &generic); err != nil {
		return nil, err
	}
	return marshalSorted(generic)
}

func marshalSorted(v any) ([]byte, error) {
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf := []byte{'{'}
		for i, k := range keys {
			if i > 0 {
				buf = append(buf, ',')
			}
			keyJSON, _ := json.Marshal(k)
			buf = append(buf, keyJSON...)
			buf = append(buf, ':')
			child, err := marshalSorted(val[k])
			if err != nil {
				return nil, err
			}
			buf = append(buf, child...)
		}
		buf = append(buf, '}')
		return buf, nil
	case []any:
		buf := []byte{'['}
		for i, item := range val {
			if i > 0 {
				buf = append(buf, ',')
			}
			child, err := marshalSorted(item)
			if err != nil {
				return nil, err
			}
			buf = append(buf, child...)
		}
		buf = append(buf, ']')
		return buf, nil
	default:
		return json.Marshal(val)
	}
}

func intFieldPtr(v any) *int64 {
	f, ok := v.(float64)
	if !ok || f != float64(int64(f)) {
		return nil
	}
	i := int64(f)
	return &i
}

func asFloat(v any) (float64, bool) {
	f, ok := v.(float64)
	return f, ok
}

// stripBOM wraps r, discarding a leading UTF-8 BOM if present, matching
// the original tool's utf-8-sig decoding.
func stripBOM(r io.Reader) io.Reader {
	br := bufio.NewReader(r)
	bom, err := br.Peek(3)
	if err == nil && len(bom) == 3 && bom[0] == 0xEF && bom[1] == 0xBB && bom[2] == 0xBF {
		br.Discard(3)
	}
	return br
}
