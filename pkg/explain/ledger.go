package explain

import (
	"regexp"
	"strings"
)

var ledgerFieldPattern = regexp.MustCompile(`^-\s*([A-Za-z0-9_]+):\s*(.*)$`)

// ParseLedgerEntries parses a Markdown fix/prevention ledger: each entry
// starts with an `ERR-…` heading line, followed by `- key: value` fields,
// grounded on anviloop_intel.py's parse_ledger_entries.
func ParseLedgerEntries(text string) []LedgerEntry {
	var entries []LedgerEntry
	var id string
	var lines []string

	flush := func() {
		if id == "" {
			return
		}
		entries = append(entries, buildLedgerEntry(id, lines))
	}

	for _, line := range strings.Split(text, "\n") {
		if strings.HasPrefix(line, "ERR-") {
			flush()
			id = strings.TrimSpace(line)
			lines = nil
			continue
		}
		if id != "" {
			lines = append(lines, strings.TrimRight(line, " \t\r"))
		}
	}
	flush()
	return entries
}

func buildLedgerEntry(id string, lines []string) LedgerEntry {
	fields := map[string]string{}
	for _, line := range lines {
		m := ledgerFieldPattern.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		fields[strings.ToLower(strings.TrimSpace(m[1]))] = strings.TrimSpace(m[2])
	}
	return LedgerEntry{
		ID:           id,
		Symptom:      fields["symptom"],
		Signature:    fields["signature"],
		RootCause:    fields["rootcause"],
		Fix:          fields["fix"],
		Prevention:   fields["prevention"],
		Verification: fields["verification"],
		Commit:       fields["commit"],
		RawText:      strings.TrimSpace(strings.Join(lines, "\n")),
	}
}

// ledgerEntryMeta converts a parsed entry into the flat string-map metadata
// a VectorIndex row carries, the same way anviloop_intel.py's
// rebuild_runs_index builds its meta_entries list ahead of indexing.
func ledgerEntryMeta(entry LedgerEntry) map[string]string {
	return map[string]string{
		"id":         entry.ID,
		"symptom":    entry.Symptom,
		"signature":  entry.Signature,
		"fix":        entry.Fix,
		"prevention": entry.Prevention,
	}
}
