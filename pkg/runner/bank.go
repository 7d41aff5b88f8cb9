package runner

import (
	"regexp"
	"strings"
)

var bankReasonPattern = regexp.MustCompile(`reason=(\S+)`)

// ParseBankLine parses a `BANK:<id>:<STATUS> reason=<token>` line from a
// scenario's stdout. Lines not carrying the BANK: prefix, or without both
// an id and a status segment, are not bank lines. Exported so pkg/ingest can
// re-extract bank_info from a foreign bundle's player.log tail using the
// same grammar.
func ParseBankLine(line string) *BankResult {
	if !strings.HasPrefix(line, "BANK:") {
		return nil
	}
	payload := strings.TrimSpace(strings.TrimPrefix(line, "BANK:"))
	parts := strings.SplitN(payload, ":", 3)
	if len(parts) < 2 {
		return nil
	}
	testID := parts[0]
	statusFields := strings.Fields(parts[1])
	status := ""
	if len(statusFields) > 0 {
		status = statusFields[0]
	}
	rest := strings.Join(parts[1:], ":")
	reason := ""
	if m := bankReasonPattern.FindStringSubmatch(rest); m != nil {
		reason = m[1]
	}
	return &BankResult{ID: testID, Status: status, Reason: reason, Raw: strings.TrimSpace(line)}
}
