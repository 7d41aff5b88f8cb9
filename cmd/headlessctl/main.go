// Package main wires the headlessctl CLI entrypoint: eleven cobra
// subcommands over the Lock Manager, Registry Loader, Run Orchestrator,
// Record Ingestor, Explain/Search, and Scoreboards packages.
package main

import (
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"headlessctl/internal/buildinfo"
	"headlessctl/internal/clock"
	"headlessctl/pkg/lockmgr"
	"headlessctl/pkg/paths"
)

// app bundles the collaborators every subcommand needs, built once in
// main() and threaded through via closures, the way the teacher's shaper
// binary threads a runDeps struct through its command handlers.
type app struct {
	paths  paths.Paths
	clock  clock.Clock
	logger *zap.Logger
	locks  *lockmgr.Manager
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	logger, err := newLogger()
	if err != nil {
		os.Stderr.WriteString("HEADLESSCTL: failed to configure logger: " + err.Error() + "\n")
		return 2
	}
	defer func() { _ = logger.Sync() }()

	info := buildinfo.Current()
	logger.Info("starting headlessctl",
		zap.String("version", info.Version),
		zap.String("commit", info.GitCommit),
		zap.String("buildDate", info.BuildDate),
	)

	cwd, err := os.Getwd()
	if err != nil {
		logger.Error("resolve cwd", zap.Error(err))
		return 2
	}

	a := &app{
		paths:  paths.Resolve(os.LookupEnv, cwd),
		clock:  clock.System{},
		logger: logger,
	}
	hostname, _ := os.Hostname()
	a.locks = lockmgr.New(a.paths, a.clock, hostname, os.Getpid(), func() string { return uuid.New().String() })

	root := a.newRootCommand()
	root.SetArgs(args)
	if err := root.Execute(); err != nil {
		if code, ok := exitCodeFromError(err); ok {
			return code
		}
		logger.Error("command failed", zap.Error(err))
		return 2
	}
	return lastExitCode
}

func newLogger() (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	return cfg.Build()
}

func (a *app) newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "headlessctl",
		Short:         "headless experiment-execution control plane",
		Version:       buildinfo.Current().Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		a.newRunTaskCommand(),
		a.newGetMetricsCommand(),
		a.newDiffMetricsCommand(),
		a.newContractCheckCommand(),
		a.newBundleArtifactsCommand(),
		a.newValidateCommand(),
		a.newClaimSessionLockCommand(),
		a.newReleaseSessionLockCommand(),
		a.newShowSessionLockCommand(),
		a.newCleanupLocksCommand(),
		a.newCleanupRunsCommand(),
	)
	return root
}

// lastExitCode is set by emitResult immediately before the process returns
// from cobra's Execute, since cobra itself only distinguishes error/no-error
// and the CLI's exit codes are a closed three-valued set per command.
var lastExitCode int

type exitCodeError struct {
	code int
}

func (e *exitCodeError) Error() string { return "" }

func exitCodeFromError(err error) (int, bool) {
	e, ok := err.(*exitCodeError)
	if !ok {
		return 0, false
	}
	return e.code, true
}
