package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"headlessctl/pkg/registry"
	"headlessctl/pkg/runner"
)

func (a *app) newContractCheckCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "contract_check",
		Short: "validate the tasks/packs registry against the closed contract rules",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.contractCheck()
		},
	}
}

func (a *app) contractCheck() error {
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

	report := registry.CheckContract(reg)
	if report.Errors == nil {
		report.Errors = []registry.ContractIssue{}
	}
	if report.Warnings == nil {
		report.Warnings = []registry.ContractIssue{}
	}
	ok := report.OK()
	errorCode := "none"
	var errorMsg any
	if !ok {
		errorCode = "contract_failed"
		errorMsg = "contract check failed"
	}

	out := map[string]any{
		"ok":         ok,
		"error_code": errorCode,
		"error":      errorMsg,
		"run_id":     nil,
		"errors":     report.Errors,
		"warnings":   report.Warnings,
	}
	exitCode := runner.ExitOK
	if !ok {
		exitCode = runner.ExitRunFailed
	}
	return emitResult(out, exitCode)
}
