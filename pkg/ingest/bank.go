package ingest

import "headlessctl/pkg/runner"

const playerLogTailLines = 200

// extractBankInfo re-extracts bank results from the tail of player.log,
// reusing the same BANK: line grammar the Run Orchestrator parses live off
// a child's stdout (spec.md §4.6: "Extracts bank_info from a tail of
// player.log").
func extractBankInfo(playerLog []byte) []runner.BankResult {
	lines := splitLines(playerLog)
	if len(lines) > playerLogTailLines {
		lines = lines[len(lines)-playerLogTailLines:]
	}
	var results []runner.BankResult
	for _, line := range lines {
		if bank := runner.ParseBankLine(line); bank != nil {
			results = append(results, *bank)
		}
	}
	return results
}
