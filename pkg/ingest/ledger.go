package ingest

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Ledger is the processed.json at-most-once ingestion guard, keyed by file
// identity (spec.md §4.6). Flushed via write-temp-then-rename, the same
// atomicity discipline pkg/runner's writeResultJSON uses for result.json
// (there via O_EXCL since that file is written exactly once; here via
// rename since processed.json is rewritten on every new identity).
type Ledger struct {
	path string
	mu   sync.Mutex
	seen map[string]bool
}

// OpenLedger loads an existing processed.json, or starts empty if absent.
func OpenLedger(path string) (*Ledger, error) {
	l := &Ledger{path: path, seen: map[string]bool{}}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return l, nil
		}
		return nil, fmt.Errorf("read ledger: %w", err)
	}
	if err := json.Unmarshal(data, &l.seen); err != nil {
		return nil, fmt.Errorf("decode ledger: %w", err)
	}
	return l, nil
}

// BundleIdentity is the `<name>|<size>|<mtime>` key for a result bundle
// file (spec.md §4.6).
func BundleIdentity(name string, size int64, mtime time.Time) string {
	return fmt.Sprintf("%s|%d|%d", name, size, mtime.UnixNano())
}

// DiagIdentity is the `diag|<…>` key for a diagnostic directory.
func DiagIdentity(path string) string {
	return "diag|" + path
}

// Seen reports whether identity has already been ingested.
func (l *Ledger) Seen(identity string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.seen[identity]
}

// MarkAndFlush records identity as ingested and atomically rewrites
// processed.json. A no-op, successful call if identity was already marked.
func (l *Ledger) MarkAndFlush(identity string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.seen[identity] {
		return nil
	}
	l.seen[identity] = true

	data, err := json.MarshalIndent(l.seen, "", "  ")
	if err != nil {
		return fmt.Errorf("encode ledger: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("create ledger dir: %w", err)
	}
	tmp := l.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write ledger tmp: %w", err)
	}
	if err := os.Rename(tmp, l.path); err != nil {
		return fmt.Errorf("rename ledger: %w", err)
	}
	return nil
}
