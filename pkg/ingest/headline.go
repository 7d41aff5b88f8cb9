package ingest

import "strings"

var headlineTokens = []string{"exception", "error", "fatal"}

// computeHeadline implements spec.md §4.6's headline rule: the last stderr
// line mentioning exception/error/fatal, else the failure signature, else
// the exit reason.
func computeHeadline(stderrLines []string, failureSignature, exitReason string) string {
	for i := len(stderrLines) - 1; i >= 0; i-- {
		lower := strings.ToLower(stderrLines[i])
		for _, token := range headlineTokens {
			if strings.Contains(lower, token) {
				return strings.TrimSpace(stderrLines[i])
			}
		}
	}
	if failureSignature != "" {
		return failureSignature
	}
	return exitReason
}

// splitLines mirrors Python's str.splitlines() closely enough for the
// newline-delimited text this module reads (stderr/player logs).
func splitLines(data []byte) []string {
	text := strings.ReplaceAll(string(data), "\r\n", "\n")
	if text == "" {
		return nil
	}
	return strings.Split(strings.TrimRight(text, "\n"), "\n")
}
