// Package lockmgr implements the three lock kinds of spec.md §4.1: the
// externally-written build lock, the session lock this tool owns, and the
// coarse nightly lock. Staleness, reclamation, and legacy-path handling
// follow original_source/Tools/Headless/headlessctl.py's claim/release/show
// functions.
package lockmgr

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"

	"headlessctl/internal/clock"
	"headlessctl/pkg/paths"
)

// SessionLockPayload is the JSON document written into the session lock
// file, identifying the holder.
type SessionLockPayload struct {
	RunID      string    `json:"run_id"`
	PID        int       `json:"pid"`
	Host       string    `json:"host"`
	StartedUTC time.Time `json:"started_utc"`
	Purpose    string    `json:"purpose"`
}

// BuildLockState is the externally-authored build.state.json document.
type BuildLockState struct {
	State string `json:"state"`
}

// Manager owns lock acquisition/release/staleness policy for one state
// directory.
type Manager struct {
	paths  paths.Paths
	clock  clock.Clock
	host   string
	pid    int
	newRun func() string
}

// New constructs a Manager. host and pid identify this process in claimed
// locks; newRun generates a run_id for a claim (normally uuid.New().String).
func New(p paths.Paths, c clock.Clock, host string, pid int, newRun func() string) *Manager {
	return &Manager{paths: p, clock: c, host: host, pid: pid, newRun: newRun}
}

// BuildLockStatus reports the path of the blocking build lock marker, or ""
// if the run may proceed. HEADLESSCTL_IGNORE_LOCK=1 always clears it.
func (m *Manager) BuildLockStatus(lookupEnv func(string) (string, bool)) string {
	if ignore, _ := lookupEnv(paths.EnvIgnoreLock); ignore == "1" {
		return ""
	}

	statePath := m.paths.BuildStatePath()
	if data, err := os.ReadFile(statePath); err == nil {
		var state BuildLockState
		if json.Unmarshal(data, &state) != nil {
			return statePath
		}
		switch state.State {
		case "locked":
			return statePath
		case "unlocked":
			return ""
		default:
			return statePath
		}
	}

	lockPath := m.paths.BuildLockPath()
	if _, err := os.Stat(lockPath); err == nil {
		return lockPath
	}
	return ""
}

// ClaimResult is the outcome of a session-lock claim attempt.
type ClaimResult struct {
	Acquired bool
	LockPath string
	Lock     *SessionLockPayload
	Warning  string
}

// ClaimSessionLock implements the loop described in spec.md §4.1: legacy
// paths are reclaimed first; then the primary lock path is attempted with
// atomic create-exclusive semantics, retrying past any stale holder.
func (m *Manager) ClaimSessionLock(ttl time.Duration, purpose string, lookupEnv func(string) (string, bool)) (ClaimResult, error) {
	lockPath := m.paths.SessionLockPath()
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		return ClaimResult{}, fmt.Errorf("create lock dir: %w", err)
	}

	for _, legacyPath := range m.paths.LegacySessionLockPaths(lookupEnv) {
		outcome := m.reclaimLegacy(legacyPath, ttl)
		if outcome.found && !outcome.stale {
			return ClaimResult{
				Acquired: false,
				LockPath: legacyPath,
				Lock:     outcome.payload,
				Warning:  "legacy_session_lock_present",
			}, nil
		}
	}

	payload := &SessionLockPayload{
		RunID:      m.newRun(),
		PID:        m.pid,
		Host:       m.host,
		StartedUTC: m.clock.Now(),
		Purpose:    purpose,
	}

	for {
		fileLock := flock.New(lockPath + ".flock")
		locked, err := fileLock.TryLock()
		if err != nil {
			return ClaimResult{}, fmt.Errorf("acquire flock guard: %w", err)
		}
		if !locked {
			// Another process is mid-claim; brief retry.
			m.clock.Sleep(10 * time.Millisecond)
			continue
		}

		result, retry, err := m.tryClaimUnderGuard(lockPath, ttl, payload)
		_ = fileLock.Unlock()
		if err != nil {
			return ClaimResult{}, err
		}
		if retry {
			continue
		}
		return result, nil
	}
}

func (m *Manager) tryClaimUnderGuard(lockPath string, ttl time.Duration, payload *SessionLockPayload) (ClaimResult, bool, error) {
	existing, err := readSessionLock(lockPath)
	if err == nil {
		if m.isStale(lockPath, existing, ttl) {
			if err := m.renameStale(lockPath); err != nil {
				return ClaimResult{}, false, err
			}
			return ClaimResult{}, true, nil
		}
		return ClaimResult{Acquired: false, LockPath: lockPath, Lock: existing}, false, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return ClaimResult{}, false, err
	}

	fd, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return ClaimResult{}, true, nil
		}
		return ClaimResult{}, false, fmt.Errorf("create session lock: %w", err)
	}
	defer fd.Close()

	enc := json.NewEncoder(fd)
	enc.SetIndent("", "  ")
	if err := enc.Encode(payload); err != nil {
		return ClaimResult{}, false, fmt.Errorf("write session lock payload: %w", err)
	}

	return ClaimResult{Acquired: true, LockPath: lockPath, Lock: payload}, false, nil
}

// ReleaseResult is the outcome of a session-lock release attempt.
type ReleaseResult struct {
	Released bool
	LockPath string
	Lock     *SessionLockPayload
}

// ReleaseSessionLock removes the session lock file. It is idempotent: a
// missing file, or a runID mismatch when one is supplied, is reported as
// Released=false without error.
func (m *Manager) ReleaseSessionLock(runID string) (ReleaseResult, error) {
	lockPath := m.paths.SessionLockPath()
	payload, err := readSessionLock(lockPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return ReleaseResult{Released: false, LockPath: lockPath}, nil
		}
		return ReleaseResult{Released: false, LockPath: lockPath}, nil
	}

	if runID != "" && payload.RunID != "" && payload.RunID != runID {
		return ReleaseResult{Released: false, LockPath: lockPath, Lock: payload}, nil
	}

	if err := os.Remove(lockPath); err != nil {
		return ReleaseResult{Released: false, LockPath: lockPath, Lock: payload}, nil
	}
	return ReleaseResult{Released: true, LockPath: lockPath, Lock: payload}, nil
}

// ShowSessionLock reports the current holder, if any, without mutating it.
func (m *Manager) ShowSessionLock() (string, *SessionLockPayload) {
	lockPath := m.paths.SessionLockPath()
	payload, err := readSessionLock(lockPath)
	if err != nil {
		return lockPath, nil
	}
	return lockPath, payload
}

// CleanupLocks reclaims every stale legacy and primary session lock path,
// returning the paths that were renamed aside.
func (m *Manager) CleanupLocks(ttl time.Duration, lookupEnv func(string) (string, bool)) []string {
	var reclaimed []string

	for _, legacyPath := range m.paths.LegacySessionLockPaths(lookupEnv) {
		outcome := m.reclaimLegacy(legacyPath, ttl)
		if outcome.found && outcome.stale {
			reclaimed = append(reclaimed, legacyPath)
		}
	}

	lockPath := m.paths.SessionLockPath()
	payload, err := readSessionLock(lockPath)
	if err == nil && m.isStale(lockPath, payload, ttl) {
		if err := m.renameStale(lockPath); err == nil {
			reclaimed = append(reclaimed, lockPath)
		}
	}

	return reclaimed
}

// NightlyLockPresent reports whether the coarse nightly lock currently
// blocks a new cycle (present and not past its TTL).
func (m *Manager) NightlyLockPresent(ttl time.Duration) bool {
	info, err := os.Stat(m.paths.NightlyLockPath())
	if err != nil {
		return false
	}
	return m.clock.Since(info.ModTime()) <= ttl
}

// ClaimNightlyLock creates the coarse nightly lock file. Creation is
// non-atomic by design (spec.md §4.1): a concurrent delete of the file by
// another process is tolerated.
func (m *Manager) ClaimNightlyLock() error {
	path := m.paths.NightlyLockPath()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create nightly lock dir: %w", err)
	}
	return os.WriteFile(path, []byte(m.clock.Now().Format(time.RFC3339)), 0o644)
}

// ReleaseNightlyLock clears the nightly lock; a missing file is not an
// error.
func (m *Manager) ReleaseNightlyLock() error {
	err := os.Remove(m.paths.NightlyLockPath())
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove nightly lock: %w", err)
	}
	return nil
}

type legacyOutcome struct {
	found     bool
	stale     bool
	stalePath string
	payload   *SessionLockPayload
}

func (m *Manager) reclaimLegacy(path string, ttl time.Duration) legacyOutcome {
	payload, err := readSessionLock(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return legacyOutcome{found: false}
		}
		return legacyOutcome{found: true, stale: false}
	}

	if !m.isStale(path, payload, ttl) {
		return legacyOutcome{found: true, stale: false, payload: payload}
	}

	stalePath := m.stalePathFor(path)
	if err := os.Rename(path, stalePath); err != nil {
		_ = os.Remove(path)
	}
	return legacyOutcome{found: true, stale: true, stalePath: stalePath, payload: payload}
}

func (m *Manager) isStale(lockPath string, payload *SessionLockPayload, ttl time.Duration) bool {
	if payload != nil && !payload.StartedUTC.IsZero() {
		if m.clock.Since(payload.StartedUTC) > ttl {
			return true
		}
	}
	if info, err := os.Stat(lockPath); err == nil {
		if m.clock.Since(info.ModTime()) > ttl {
			return true
		}
	}
	return false
}

func (m *Manager) renameStale(lockPath string) error {
	stalePath := m.stalePathFor(lockPath)
	if err := os.Rename(lockPath, stalePath); err != nil {
		if removeErr := os.Remove(lockPath); removeErr != nil && !errors.Is(removeErr, os.ErrNotExist) {
			return fmt.Errorf("rename stale session lock: %w", err)
		}
	}
	return nil
}

func (m *Manager) stalePathFor(lockPath string) string {
	stamp := strings.NewReplacer(":", "", "-", "").Replace(m.clock.Now().Format("20060102T150405Z"))
	return fmt.Sprintf("%s.stale.%s", lockPath, stamp)
}

func readSessionLock(path string) (*SessionLockPayload, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var payload SessionLockPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("decode session lock %q: %w", path, err)
	}
	return &payload, nil
}
