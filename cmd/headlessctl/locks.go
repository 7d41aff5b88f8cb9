package main

import (
	"os"
	"time"

	"github.com/spf13/cobra"

	"headlessctl/pkg/runner"
)

const defaultSessionLockTTLSec = 90 * 60

func (a *app) newClaimSessionLockCommand() *cobra.Command {
	var ttlSec int
	var purpose string
	cmd := &cobra.Command{
		Use:   "claim_session_lock",
		Short: "claim the session lock, reclaiming stale legacy/primary holders first",
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := a.locks.ClaimSessionLock(time.Duration(ttlSec)*time.Second, purpose, os.LookupEnv)
			if err != nil {
				return emitResult(errorResult("exception", err.Error()), runner.ExitUsage)
			}
			var runID any
			if result.Lock != nil {
				runID = result.Lock.RunID
			}
			errorCode := "none"
			var errMsg any
			if !result.Acquired {
				errorCode = "locked"
				errMsg = "session lock already held"
			}
			out := map[string]any{
				"ok":         result.Acquired,
				"error_code": errorCode,
				"error":      errMsg,
				"run_id":     runID,
				"acquired":   result.Acquired,
				"lock_path":  result.LockPath,
				"lock":       result.Lock,
				"warning":    nilIfEmpty(result.Warning),
				"ttl_sec":    ttlSec,
			}
			exitCode := runner.ExitOK
			if !result.Acquired {
				exitCode = runner.ExitRunFailed
			}
			return emitResult(out, exitCode)
		},
	}
	cmd.Flags().IntVar(&ttlSec, "ttl", defaultSessionLockTTLSec, "staleness TTL in seconds")
	cmd.Flags().StringVar(&purpose, "purpose", "nightly", "purpose recorded in the lock payload")
	return cmd
}

func (a *app) newReleaseSessionLockCommand() *cobra.Command {
	var runIDFlag string
	cmd := &cobra.Command{
		Use:   "release_session_lock",
		Short: "release the session lock if held (optionally scoped to a run_id)",
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := a.locks.ReleaseSessionLock(runIDFlag)
			if err != nil {
				return emitResult(errorResult("exception", err.Error()), runner.ExitUsage)
			}
			var runID any
			if result.Lock != nil {
				runID = result.Lock.RunID
			}
			out := map[string]any{
				"ok":         true,
				"error_code": "none",
				"error":      nil,
				"run_id":     runID,
				"released":   result.Released,
				"lock_path":  result.LockPath,
				"lock":       result.Lock,
			}
			return emitResult(out, runner.ExitOK)
		},
	}
	cmd.Flags().StringVar(&runIDFlag, "run-id", "", "only release if the lock was claimed under this run_id")
	return cmd
}

func (a *app) newShowSessionLockCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show_session_lock",
		Short: "print the current session lock holder, if any",
		RunE: func(cmd *cobra.Command, args []string) error {
			lockPath, lock := a.locks.ShowSessionLock()
			var runID any
			errorCode := "none"
			var errMsg any
			if lock != nil {
				runID = lock.RunID
				errorCode = "locked"
				errMsg = "session lock present"
			}
			out := map[string]any{
				"ok":         lock == nil,
				"error_code": errorCode,
				"error":      errMsg,
				"run_id":     runID,
				"lock_path":  lockPath,
				"lock":       lock,
			}
			return emitResult(out, runner.ExitOK)
		},
	}
}

func (a *app) newCleanupLocksCommand() *cobra.Command {
	var ttlSec int
	cmd := &cobra.Command{
		Use:   "cleanup_locks",
		Short: "reclaim every stale legacy and primary session lock",
		RunE: func(cmd *cobra.Command, args []string) error {
			reclaimed := a.locks.CleanupLocks(time.Duration(ttlSec)*time.Second, os.LookupEnv)
			if reclaimed == nil {
				reclaimed = []string{}
			}
			out := map[string]any{
				"ok":         true,
				"error_code": "none",
				"error":      nil,
				"run_id":     nil,
				"reclaimed":  reclaimed,
			}
			return emitResult(out, runner.ExitOK)
		},
	}
	cmd.Flags().IntVar(&ttlSec, "ttl", defaultSessionLockTTLSec, "staleness TTL in seconds")
	return cmd
}

func nilIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
