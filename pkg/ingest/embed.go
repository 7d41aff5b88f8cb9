package ingest

import "strings"

const embedTextSampleLimit = 3

// buildEmbedText is the fixed concatenation spec.md §4.6 defines: exit
// reason, headline, failure signature, then the first 3 proof lines and
// first 3 template texts, each on its own line.
func buildEmbedText(exitReason, headline, failureSignature string, proofLines, templateTexts []string) string {
	parts := []string{exitReason, headline, failureSignature}
	parts = append(parts, firstN(proofLines, embedTextSampleLimit)...)
	parts = append(parts, firstN(templateTexts, embedTextSampleLimit)...)

	var nonEmpty []string
	for _, p := range parts {
		if strings.TrimSpace(p) != "" {
			nonEmpty = append(nonEmpty, p)
		}
	}
	return strings.Join(nonEmpty, "\n")
}

func firstN(items []string, n int) []string {
	if len(items) <= n {
		return items
	}
	return items[:n]
}
