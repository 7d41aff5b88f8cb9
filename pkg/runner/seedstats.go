package runner

import (
	"fmt"
	"math"
	"sort"

	"headlessctl/pkg/registry"
)

// resolveSeedList implements spec.md §4.3's seed resolution precedence:
// an explicit seed list wins, then a single explicit seed, then the
// task's first default seed, else no seed at all.
func resolveSeedList(task registry.Task, seed *int64, seeds []int64) []int64 {
	if seeds != nil {
		return append([]int64(nil), seeds...)
	}
	if seed != nil {
		return []int64{*seed}
	}
	if len(task.DefaultSeeds) > 0 {
		return []int64{task.DefaultSeeds[0]}
	}
	return nil
}

// checkSeedPolicy enforces invariant I4: under seed_policy=ai_polish, a
// multi-seed request needs at least 3 seeds with at least one value
// repeated and at least one other distinct value.
func checkSeedPolicy(task registry.Task, seeds []int64) (ok bool, errorCode, errorMsg string) {
	if task.SeedPolicy != registry.SeedPolicyAIPolish {
		return true, "", ""
	}
	if len(seeds) < 3 {
		return false, "seed_policy_violation", "ai_polish policy requires at least 3 runs"
	}
	counts := map[int64]int{}
	for _, s := range seeds {
		counts[s]++
	}
	maxCount := 0
	for _, n := range counts {
		if n > maxCount {
			maxCount = n
		}
	}
	if len(counts) < 2 || maxCount < 2 {
		return false, "seed_policy_violation", "ai_polish policy requires two runs on the same seed and one run on a different seed"
	}
	return true, "", ""
}

// computePercentile returns the linear-interpolation percentile of values
// (0-100), matching the original tool's compute_percentile exactly.
func computePercentile(values []float64, percentile float64) (float64, bool) {
	if len(values) == 0 {
		return 0, false
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	if len(sorted) == 1 {
		return sorted[0], true
	}
	if percentile <= 0 {
		return sorted[0], true
	}
	if percentile >= 100 {
		return sorted[len(sorted)-1], true
	}
	rank := float64(len(sorted)-1) * (percentile / 100.0)
	lower := int(math.Floor(rank))
	upper := int(math.Ceil(rank))
	if lower == upper {
		return sorted[lower], true
	}
	weight := rank - float64(lower)
	return sorted[lower]*(1.0-weight) + sorted[upper]*weight, true
}

func computeSeedStats(values []float64) (SeedStats, bool) {
	if len(values) == 0 {
		return SeedStats{}, false
	}
	count := len(values)
	sum := 0.0
	min, max := values[0], values[0]
	for _, v := range values {
		sum += v
		min = math.Min(min, v)
		max = math.Max(max, v)
	}
	mean := sum / float64(count)
	variance := 0.0
	for _, v := range values {
		variance += (v - mean) * (v - mean)
	}
	variance /= float64(count)
	stdev := math.Sqrt(variance)
	p95, _ := computePercentile(values, 95)
	return SeedStats{Count: int64(count), Min: min, Max: max, Mean: mean, Stdev: stdev, P95: p95}, true
}

// collectSeedMetrics reduces a set of per-seed Results into the aggregate
// summary/stats/variance-grade shape of a multi-seed run (spec.md §4.3).
func collectSeedMetrics(seedResults []Result, metricKeys []string, varianceBand map[string]float64) (
	seedRuns []SeedRun,
	aggregateSummary map[string]any,
	aggregateStats map[string]SeedStats,
	varianceGrades map[string]VarianceGrade,
	variancePass bool,
	varianceFailedCount int,
) {
	valuesByKey := map[string][]float64{}
	for _, key := range metricKeys {
		valuesByKey[key] = nil
	}

	for _, run := range seedResults {
		selected := map[string]any{}
		for _, key := range metricKeys {
			value, ok := run.MetricsSummary[key]
			if !ok {
				continue
			}
			if numeric, ok := toFloat(value); ok {
				selected[key] = numeric
				valuesByKey[key] = append(valuesByKey[key], numeric)
			}
		}
		seedRuns = append(seedRuns, SeedRun{
			RunID:          run.RunID,
			SeedRequested:  run.SeedRequested,
			SeedUsed:       run.SeedUsed,
			SeedEffective:  run.SeedEffective,
			OK:             run.OK,
			ErrorCode:      run.ErrorCode,
			Error:          run.Error,
			MetricsSummary: selected,
			Invariants:     run.Invariants,
			Artifacts:      run.Artifacts,
		})
	}

	aggregateSummary = map[string]any{}
	aggregateStats = map[string]SeedStats{}
	varianceGrades = map[string]VarianceGrade{}
	variancePass = true

	for key, values := range valuesByKey {
		stats, ok := computeSeedStats(values)
		if !ok {
			continue
		}
		aggregateSummary[key] = stats.Mean
		aggregateStats[key] = stats

		band, hasBand := varianceBand[key]
		if hasBand {
			spread := stats.Max - stats.Min
			within := spread <= band
			varianceGrades[key] = VarianceGrade{Band: band, Spread: spread, Count: int(stats.Count), Pass: within}
			if !within {
				variancePass = false
				varianceFailedCount++
			}
		}
	}

	return seedRuns, aggregateSummary, aggregateStats, varianceGrades, variancePass, varianceFailedCount
}

func toFloat(v any) (float64, bool) {
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

func formatSeedList(seeds []int64) string {
	out := ""
	for i, s := range seeds {
		if i > 0 {
			out += ","
		}
		out += fmt.Sprintf("%d", s)
	}
	return out
}
