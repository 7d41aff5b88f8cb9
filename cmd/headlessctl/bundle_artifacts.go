package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"headlessctl/pkg/runner"
)

func (a *app) newBundleArtifactsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "bundle_artifacts <run_id>",
		Short: "pack a run's artifacts into a single tar.gz",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) < 1 {
				return emitResult(errorResult("missing_args", "missing run_id"), runner.ExitUsage)
			}
			return a.bundleArtifacts(args[0])
		},
	}
}

func (a *app) bundleArtifacts(runID string) error {
	bundlePath, err := runner.BundleArtifacts(a.paths, runID)
	if err != nil {
		return emitResult(map[string]any{
			"ok":         false,
			"error_code": "run_not_found",
			"error":      fmt.Sprintf("run not found: %s", runID),
			"run_id":     runID,
		}, runner.ExitUsage)
	}

	out := map[string]any{
		"ok":          true,
		"error_code":  "none",
		"error":       nil,
		"run_id":      runID,
		"bundle_path": bundlePath,
	}
	return emitResult(out, runner.ExitOK)
}
