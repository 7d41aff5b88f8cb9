package main

import (
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"headlessctl/pkg/runner"
)

func (a *app) newCleanupRunsCommand() *cobra.Command {
	var days, keepPerTask, maxBytes int
	cmd := &cobra.Command{
		Use:   "cleanup_runs",
		Short: "prune old run directories by age, per-task retention, or total size",
		RunE: func(cmd *cobra.Command, args []string) error {
			var daysPtr, keepPtr *int
			var maxBytesPtr *int64
			if cmd.Flags().Changed("days") {
				daysPtr = &days
			}
			if cmd.Flags().Changed("keep-per-task") {
				keepPtr = &keepPerTask
			}
			if cmd.Flags().Changed("max-bytes") {
				v := int64(maxBytes)
				maxBytesPtr = &v
			}
			removed := a.cleanupRuns(daysPtr, keepPtr, maxBytesPtr)
			out := map[string]any{
				"ok":         true,
				"error_code": "none",
				"error":      nil,
				"run_id":     nil,
				"removed":    removed,
			}
			return emitResult(out, runner.ExitOK)
		},
	}
	cmd.Flags().IntVar(&days, "days", 0, "remove runs whose ended_utc is older than this many days")
	cmd.Flags().IntVar(&keepPerTask, "keep-per-task", 0, "keep only the N most recent runs per task_id")
	cmd.Flags().IntVar(&maxBytes, "max-bytes", 0, "trim oldest runs until total run directory size is under this many bytes")
	return cmd
}

type runEntry struct {
	runID    string
	path     string
	endedUTC time.Time
	hasEnded bool
	taskID   string
}

func (a *app) iterRuns() []runEntry {
	runsDir := a.paths.RunsDir()
	names, err := os.ReadDir(runsDir)
	if err != nil {
		return nil
	}
	var entries []runEntry
	for _, name := range names {
		if !name.IsDir() {
			continue
		}
		runPath := filepath.Join(runsDir, name.Name())
		entry := runEntry{runID: name.Name(), path: runPath}
		if result, err := loadRunResult(runPath); err == nil {
			if taskID, ok := result["task_id"].(string); ok {
				entry.taskID = taskID
			}
			raw, _ := result["ended_utc"].(string)
			if raw == "" {
				raw, _ = result["started_utc"].(string)
			}
			if t, err := time.Parse(time.RFC3339, raw); err == nil {
				entry.endedUTC = t
				entry.hasEnded = true
			}
		}
		entries = append(entries, entry)
	}
	return entries
}

func runDirSize(path string) int64 {
	var total int64
	_ = filepath.Walk(path, func(p string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return nil
		}
		total += info.Size()
		return nil
	})
	return total
}

// cleanupRuns ports original_source/Tools/Headless/headlessctl.py's
// cleanup_runs: each bound is independently optional and applied in
// sequence (age, then per-task retention, then total size).
func (a *app) cleanupRuns(days, keepPerTask *int, maxBytes *int64) []string {
	entries := a.iterRuns()
	now := a.clock.Now().UTC()
	var removed []string

	if days != nil {
		cutoff := now.Add(-time.Duration(*days) * 24 * time.Hour)
		var kept []runEntry
		for _, e := range entries {
			if e.hasEnded && e.endedUTC.Before(cutoff) {
				removed = append(removed, e.runID)
				_ = os.RemoveAll(e.path)
			} else {
				kept = append(kept, e)
			}
		}
		entries = kept
	}

	if keepPerTask != nil {
		byTask := map[string][]runEntry{}
		for _, e := range entries {
			taskID := e.taskID
			if taskID == "" {
				taskID = "unknown"
			}
			byTask[taskID] = append(byTask[taskID], e)
		}
		var kept []runEntry
		for _, runs := range byTask {
			sort.Slice(runs, func(i, j int) bool { return runEndedOrNow(runs[i], now).After(runEndedOrNow(runs[j], now)) })
			limit := *keepPerTask
			if limit > len(runs) {
				limit = len(runs)
			}
			kept = append(kept, runs[:limit]...)
			for _, e := range runs[limit:] {
				removed = append(removed, e.runID)
				_ = os.RemoveAll(e.path)
			}
		}
		entries = kept
	}

	if maxBytes != nil {
		sort.Slice(entries, func(i, j int) bool { return runEndedOrNow(entries[i], now).After(runEndedOrNow(entries[j], now)) })
		sizes := make(map[string]int64, len(entries))
		var total int64
		for _, e := range entries {
			size := runDirSize(e.path)
			sizes[e.runID] = size
			total += size
		}
		if total > *maxBytes {
			for i := len(entries) - 1; i >= 0 && total > *maxBytes; i-- {
				e := entries[i]
				removed = append(removed, e.runID)
				total -= sizes[e.runID]
				_ = os.RemoveAll(e.path)
			}
		}
	}

	if removed == nil {
		removed = []string{}
	}
	return removed
}

func runEndedOrNow(e runEntry, now time.Time) time.Time {
	if e.hasEnded {
		return e.endedUTC
	}
	return now
}
