package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"headlessctl/pkg/registry"
	"headlessctl/pkg/runner"
)

func (a *app) newRunTaskCommand() *cobra.Command {
	var seedFlag, seedsFlag, packFlag string

	cmd := &cobra.Command{
		Use:   "run_task <task_id>",
		Short: "run one task against the current pointer binary",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return emitResult(errorResult("missing_task_id", "missing task_id"), runner.ExitUsage)
			}

			seedSet := cmd.Flags().Changed("seed")
			seedsSet := cmd.Flags().Changed("seeds")

			var seed *int64
			if seedSet {
				v, err := parseDigits(seedFlag)
				if err != nil {
					return emitResult(errorResult("invalid_seed", "invalid --seed value"), runner.ExitUsage)
				}
				seed = &v
			}
			var seeds []int64
			if seedsSet {
				parsed, err := parseSeedList(seedsFlag)
				if err != nil {
					return emitResult(errorResult("invalid_seeds", "invalid --seeds value"), runner.ExitUsage)
				}
				seeds = parsed
			}
			if seedSet && seedsSet {
				return emitResult(errorResult("conflicting_seed_args", "--seed and --seeds are mutually exclusive"), runner.ExitUsage)
			}

			return a.runTask(args[0], seed, seeds, packFlag)
		},
	}
	cmd.Flags().StringVar(&seedFlag, "seed", "", "single seed to run")
	cmd.Flags().StringVar(&seedsFlag, "seeds", "", "comma-separated seed list (multi-seed run)")
	cmd.Flags().StringVar(&packFlag, "pack", "", "pack name override (defaults to the task's default_pack)")
	return cmd
}

func (a *app) runTask(taskID string, seed *int64, seeds []int64, pack string) error {
	if lockPath := a.locks.BuildLockStatus(os.LookupEnv); lockPath != "" {
		result := errorResult("build_locked", fmt.Sprintf("build.lock present: %s", lockPath))
		result["lock_path"] = lockPath
		return emitResult(result, runner.ExitUsage)
	}

	tasksPath, packsPath := registryPaths(a.paths)
	if _, err := os.Stat(tasksPath); err != nil {
		return emitResult(errorResult("tasks_missing", fmt.Sprintf("tasks registry not found: %s", tasksPath)), runner.ExitUsage)
	}
	if _, err := os.Stat(packsPath); err != nil {
		return emitResult(errorResult("packs_missing", fmt.Sprintf("packs registry not found: %s", packsPath)), runner.ExitUsage)
	}

	reg, err := registry.Load(tasksPath, packsPath)
	if err != nil {
		return emitResult(errorResult("registry_invalid", err.Error()), runner.ExitUsage)
	}

	orch := &runner.Orchestrator{
		Registry: reg,
		Paths:    a.paths,
		Clock:    a.clock,
		Logger:   a.logger,
		NewRunID: func() string { return uuid.New().String() },
	}

	single, multi, exitCode, err := orch.Run(context.Background(), runner.RunRequest{
		TaskID: taskID, Seed: seed, Seeds: seeds, PackName: pack,
	})
	if err != nil {
		if orchErr, ok := err.(*runner.Error); ok {
			return emitResult(errorResult(orchErr.Code, orchErr.Message), exitCode)
		}
		return emitResult(errorResult("exception", err.Error()), exitCode)
	}

	if multi != nil {
		return emitResult(structToMap(multi), exitCode)
	}
	return emitResult(structToMap(single), exitCode)
}

// parseDigits mirrors str.isdigit(): every rune must be an ASCII digit,
// unlike strconv.ParseInt which also accepts a leading sign.
func parseDigits(raw string) (int64, error) {
	if raw == "" {
		return 0, fmt.Errorf("empty seed")
	}
	for _, r := range raw {
		if r < '0' || r > '9' {
			return 0, fmt.Errorf("non-digit seed %q", raw)
		}
	}
	return strconv.ParseInt(raw, 10, 64)
}

func parseSeedList(raw string) ([]int64, error) {
	var seeds []int64
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		v, err := parseDigits(part)
		if err != nil {
			return nil, err
		}
		seeds = append(seeds, v)
	}
	if len(seeds) == 0 {
		return nil, fmt.Errorf("no seeds parsed from %q", raw)
	}
	return seeds, nil
}
