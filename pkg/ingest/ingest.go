package ingest

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"headlessctl/pkg/paths"
	"headlessctl/pkg/runner"
)

// resultBundlePaths are the bundle-relative files a result bundle's
// evidence is read from (spec.md §4.6, extract_triage.py's member set
// generalized with the telemetry-summary/player-log names spec.md adds).
const (
	metaPath             = "meta.json"
	watchdogPath         = "out/watchdog.json"
	runSummaryPath       = "out/run_summary.json"
	telemetrySummaryPath = "out/telemetry_summary.json"
	operatorReportPath   = "out/operator_report.json"
	invariantsPath       = "out/invariants.json"
	playerLogPath        = "out/player.log"
	stderrLogPath        = "out/stderr.log"
)

// Ingestor builds RunRecords from result bundles and diagnostic
// directories, appending them to records.jsonl under an at-most-once
// ledger.
type Ingestor struct {
	Paths  paths.Paths
	Ledger *Ledger
}

// NewIngestor opens (or creates empty) the processed.json ledger under
// IntelStateDir and returns a ready Ingestor.
func NewIngestor(p paths.Paths) (*Ingestor, error) {
	ledger, err := OpenLedger(filepath.Join(p.IntelStateDir(), "processed.json"))
	if err != nil {
		return nil, err
	}
	return &Ingestor{Paths: p, Ledger: ledger}, nil
}

// IngestBundle ingests a result bundle (zip or extracted dir). skipped
// reports whether the bundle's identity was already present in the ledger,
// in which case record is nil and no new records.jsonl line is appended.
func (ing *Ingestor) IngestBundle(path, requiredBank string) (record *RunRecord, skipped bool, err error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, false, fmt.Errorf("stat bundle: %w", err)
	}
	identity := BundleIdentity(filepath.Base(path), sizeOf(info), info.ModTime())
	if ing.Ledger.Seen(identity) {
		return nil, true, nil
	}

	src, err := openBundle(path)
	if err != nil {
		return nil, false, fmt.Errorf("open bundle: %w", err)
	}
	defer src.close()

	meta, _ := readJSONEntry(src, metaPath)
	runSummary, _ := readJSONEntry(src, runSummaryPath)
	telemetrySummary, _ := readJSONEntry(src, telemetrySummaryPath)
	operatorReport, _ := readJSONEntry(src, operatorReportPath)

	var bankResults []runner.BankResult
	var bankAny []any
	if playerLog, ok := src.read(playerLogPath); ok {
		bankResults = extractBankInfo(playerLog)
		for _, b := range bankResults {
			bankAny = append(bankAny, map[string]any{"id": b.ID, "status": b.Status, "reason": b.Reason, "raw": b.Raw})
		}
	}

	validity := computeValidity(src, meta, runSummary, telemetrySummary, bankAny, requiredBank)

	var stderrLines []string
	if data, ok := src.read(stderrLogPath); ok {
		stderrLines = splitLines(data)
	}

	exitReason := stringField(meta, "exit_reason")
	exitCode := intField(meta, "exit_code")
	failureSignature := stringField(meta, "failure_signature")
	if failureSignature == "" {
		failureSignature = stringField(meta, "raw_signature_string")
	}
	headline := computeHeadline(stderrLines, failureSignature, exitReason)

	proofLines := stringSliceField(runSummary, "proof_lines")
	templateIDs := stringSliceField(runSummary, "template_ids")
	templateTexts := stringSliceField(runSummary, "template_texts")

	jobID := stringField(meta, "job_id")
	if jobID == "" {
		jobID = deriveJobIDFromPath(path)
	}

	record = &RunRecord{
		RecordID:         jobID,
		JobID:            jobID,
		SourcePath:       path,
		Identity:         identity,
		ExitReason:       exitReason,
		ExitCode:         exitCode,
		FailureSignature: failureSignature,
		Headline:         headline,
		TemplateIDs:      templateIDs,
		TemplateTexts:    templateTexts,
		ProofLines:       proofLines,
		Validity:         validity,
		Questions:        buildQuestions(operatorReport),
		Bank:             bankResults,
		EmbedText:        buildEmbedText(exitReason, headline, failureSignature, proofLines, templateTexts),
	}

	if err := ing.appendRecord(record); err != nil {
		return nil, false, err
	}
	if err := ing.Ledger.MarkAndFlush(identity); err != nil {
		return nil, false, err
	}
	return record, false, nil
}

// IngestDiagDir ingests a diagnostic directory: a lightweight Markdown
// "smoke summary" plus companion log text files, with no meta.json/
// run_summary.json evidence to judge full validity against. Validity is
// INVALID when the smoke summary is missing, or when it names a build_id
// and no matching artifact_/result_ sibling exists; otherwise it is
// PENDING. A sibling is only checked for presence; its contents are not
// read (spec.md §4.6).
func (ing *Ingestor) IngestDiagDir(dirPath string) (record *RunRecord, skipped bool, err error) {
	if _, err := os.Stat(dirPath); err != nil {
		return nil, false, fmt.Errorf("stat diag dir: %w", err)
	}
	identity := DiagIdentity(dirPath)
	if ing.Ledger.Seen(identity) {
		return nil, true, nil
	}

	smokeSummaryPath := filepath.Join(dirPath, "smoke_summary.md")
	fields, hasSummary := parseSmokeSummary(smokeSummaryPath)

	var logLines []string
	for _, name := range []string{"compiler_errors.txt", "build_error_summary.txt", "missing_scripts.txt", "pipeline.log"} {
		if data, err := os.ReadFile(filepath.Join(dirPath, name)); err == nil {
			logLines = append(logLines, splitLines(data)...)
		}
	}

	signals := &Signals{Compilation: classifyCompilation(logLines), Stall: classifyStall(logLines)}

	reasons := []InvalidReason{}
	if !hasSummary {
		reasons = append(reasons, ReasonSmokeSummaryMissing)
	}

	buildID := fields["build_id"]
	var siblingFound bool
	if buildID != "" {
		parent := filepath.Dir(dirPath)
		for _, prefix := range []string{"artifact_", "result_"} {
			if matches, _ := filepath.Glob(filepath.Join(parent, prefix+buildID+"*")); len(matches) > 0 {
				siblingFound = true
				break
			}
		}
		if !siblingFound {
			reasons = append(reasons, ReasonArtifactZipMissingForBuildID)
		}
	}

	status := ValidityPending
	if len(reasons) > 0 {
		status = ValidityInvalid
	}

	exitReason := fields["exit_reason"]
	headline := computeHeadline(logLines, fields["failure_signature"], exitReason)

	record = &RunRecord{
		RecordID:   filepath.Base(dirPath),
		SourcePath: dirPath,
		Identity:   identity,
		ExitReason: exitReason,
		Headline:   headline,
		Validity:   Validity{Status: status, InvalidReasons: reasons},
		Signals:    signals,
		EmbedText:  buildEmbedText(exitReason, headline, fields["failure_signature"], nil, nil),
	}

	if err := ing.appendRecord(record); err != nil {
		return nil, false, err
	}
	if err := ing.Ledger.MarkAndFlush(identity); err != nil {
		return nil, false, err
	}
	return record, false, nil
}

func (ing *Ingestor) appendRecord(record *RunRecord) error {
	path := filepath.Join(ing.Paths.IntelStoreDir(), "records.jsonl")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create intel store dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open records.jsonl: %w", err)
	}
	defer f.Close()
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("append record: %w", err)
	}
	return nil
}

func sizeOf(info os.FileInfo) int64 {
	if info.IsDir() {
		return 0
	}
	return info.Size()
}

func deriveJobIDFromPath(path string) string {
	name := filepath.Base(path)
	if strings.HasPrefix(name, "result_") && strings.HasSuffix(name, ".zip") {
		return strings.TrimSuffix(strings.TrimPrefix(name, "result_"), ".zip")
	}
	return name
}

func stringSliceField(m map[string]any, key string) []string {
	raw, ok := m[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func buildQuestions(operatorReport map[string]any) Questions {
	if operatorReport == nil {
		return Questions{}
	}
	return Questions{
		RequiredAnswered: stringSliceField(operatorReport, "required_answered"),
		RequiredMissing:  stringSliceField(operatorReport, "required_missing"),
		Optional:         stringSliceField(operatorReport, "optional"),
	}
}

// parseSmokeSummary parses the diag directory's lightweight Markdown
// smoke summary, made of `* key: value` lines (spec.md §4.6).
func parseSmokeSummary(path string) (map[string]string, bool) {
	f, err := os.Open(path)
	if err != nil {
		return nil, false
	}
	defer f.Close()

	fields := map[string]string{}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		line = strings.TrimPrefix(line, "*")
		line = strings.TrimSpace(line)
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		fields[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}
	return fields, true
}
