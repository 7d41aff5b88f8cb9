package ingest

import "regexp"

// Classification signals are non-blocking, best-effort regex derivations
// over log text (spec.md §4.6). Patterns are fixed, not configurable, the
// same way the Telemetry Scanner's resource-key token list is.
var (
	csharpErrorPattern = regexp.MustCompile(`\bCS\d{4}\b`)
	burstErrorPattern  = regexp.MustCompile(`\bBC\d{4}\b`)
	il2cppPattern      = regexp.MustCompile(`(?i)il2cpp`)
	linkerPattern      = regexp.MustCompile(`(?i)\blinker\b`)
	scriptCompPattern  = regexp.MustCompile(`(?i)script compilation`)
	beePattern         = regexp.MustCompile(`(?i)\bbee\b`)

	hangTimeoutPattern      = regexp.MustCompile(`(?i)hang.?timeout`)
	beeStallPattern         = regexp.MustCompile(`(?i)beestall`)
	onDemandTimeoutPattern  = regexp.MustCompile(`(?i)on.?demand timeout`)
	threadpoolStarvePattern = regexp.MustCompile(`(?i)threadpool starvation`)
)

const classifySampleLimit = 5

// classifyCompilation scans log text for compiler-failure indicators.
func classifyCompilation(lines []string) CompilationSignals {
	var sig CompilationSignals
	seenCSharp := map[string]bool{}
	seenBurst := map[string]bool{}
	for _, line := range lines {
		matched := false
		for _, m := range csharpErrorPattern.FindAllString(line, -1) {
			if !seenCSharp[m] {
				seenCSharp[m] = true
				sig.CSharpErrorCodes = append(sig.CSharpErrorCodes, m)
			}
			matched = true
		}
		for _, m := range burstErrorPattern.FindAllString(line, -1) {
			if !seenBurst[m] {
				seenBurst[m] = true
				sig.BurstErrorCodes = append(sig.BurstErrorCodes, m)
			}
			matched = true
		}
		if il2cppPattern.MatchString(line) {
			sig.HasIL2CPP = true
			matched = true
		}
		if linkerPattern.MatchString(line) {
			sig.HasLinker = true
			matched = true
		}
		if scriptCompPattern.MatchString(line) {
			sig.HasScriptCompilation = true
			matched = true
		}
		if beePattern.MatchString(line) {
			sig.HasBee = true
			matched = true
		}
		if matched && len(sig.SampleLines) < classifySampleLimit {
			sig.SampleLines = append(sig.SampleLines, line)
		}
	}
	return sig
}

// classifyStall scans log text for hang/stall indicators.
func classifyStall(lines []string) StallSignals {
	var sig StallSignals
	for _, line := range lines {
		matched := false
		if hangTimeoutPattern.MatchString(line) {
			sig.HasHangTimeout = true
			matched = true
		}
		if beeStallPattern.MatchString(line) {
			sig.HasBeeStall = true
			matched = true
		}
		if onDemandTimeoutPattern.MatchString(line) {
			sig.HasOnDemandTimeout = true
			matched = true
		}
		if threadpoolStarvePattern.MatchString(line) {
			sig.HasThreadpoolStarvation = true
			matched = true
		}
		if matched && len(sig.SampleLines) < classifySampleLimit {
			sig.SampleLines = append(sig.SampleLines, line)
		}
	}
	return sig
}
