package explain

import (
	"bufio"
	"encoding/json"
	"os"
)

// missingEvidenceReasons mirrors anviloop_intel.py's build_explain: when a
// record's validity names one of these, it becomes the headline-overriding
// primary_evidence_issue (spec.md §4.6/§4.7 share this vocabulary; the
// subset checked here is the "evidence absent" half of it, not the
// "evidence contradicts" half).
var missingEvidenceReasons = map[string]bool{
	"meta_missing":                           true,
	"watchdog_missing":                       true,
	"run_summary_missing":                    true,
	"telemetry_summary_missing":               true,
	"telemetry_event_total_missing_or_zero":   true,
	"invariants_missing":                     true,
}

// Engine builds and persists explain documents. A nil Embedder or a
// zero-length index degrades gracefully to empty similar_runs/
// similar_ledger rather than failing (spec.md §4.7).
type Engine struct {
	Embedder    Embedder
	RunsIndex   VectorIndex
	LedgerIndex VectorIndex
}

// NewEngine wires embedder (already circuit-breaker guarded by the caller
// if it wraps a remote service) with two fresh in-memory indexes.
func NewEngine(embedder Embedder) *Engine {
	return &Engine{Embedder: embedder, RunsIndex: NewMemoryIndex(), LedgerIndex: NewMemoryIndex()}
}

// LoadLedger parses a Markdown ledger and embeds+indexes every entry.
func (e *Engine) LoadLedger(ledgerText string) error {
	entries := ParseLedgerEntries(ledgerText)
	if e.Embedder == nil || len(entries) == 0 {
		return nil
	}
	texts := make([]string, len(entries))
	for i, entry := range entries {
		texts[i] = entry.Symptom + " " + entry.Signature + " " + entry.RootCause
	}
	vectors, err := e.Embedder.Encode(texts)
	if err != nil {
		return nil // degraded: ledger search stays empty, not an error
	}
	for i, entry := range entries {
		if i >= len(vectors) {
			break
		}
		e.LedgerIndex.Add(vectors[i], ledgerEntryMeta(entry))
	}
	return nil
}

// RebuildRunsIndex re-embeds every records.jsonl line and replaces the
// in-memory runs index, mirroring anviloop_intel.py's rebuild_runs_index
// "on first run it is rebuilt from records.jsonl" behavior (spec.md §4.7).
func (e *Engine) RebuildRunsIndex(recordsPath string) error {
	index := NewMemoryIndex()
	if e.Embedder == nil {
		e.RunsIndex = index
		return nil
	}
	f, err := os.Open(recordsPath)
	if err != nil {
		if os.IsNotExist(err) {
			e.RunsIndex = index
			return nil
		}
		return err
	}
	defer f.Close()

	var texts []string
	var metas []map[string]string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		var rec map[string]any
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			continue
		}
		embedText, _ := rec["embed_text"].(string)
		if embedText == "" {
			continue
		}
		texts = append(texts, embedText)
		metas = append(metas, runsMetaFromRecord(rec))
	}

	if len(texts) == 0 {
		e.RunsIndex = index
		return nil
	}
	vectors, err := e.Embedder.Encode(texts)
	if err != nil {
		e.RunsIndex = index
		return nil
	}
	for i, meta := range metas {
		if i >= len(vectors) {
			break
		}
		index.Add(vectors[i], meta)
	}
	e.RunsIndex = index
	return nil
}

// UpdateRunsIndex incrementally embeds and adds one new record, the
// cheaper per-run path update_runs_index takes instead of a full rebuild.
func (e *Engine) UpdateRunsIndex(input RecordInput) {
	if e.Embedder == nil || input.EmbedText == "" {
		return
	}
	vectors, err := e.Embedder.Encode([]string{input.EmbedText})
	if err != nil || len(vectors) == 0 {
		return
	}
	e.RunsIndex.Add(vectors[0], map[string]string{
		"job_id":            input.JobID,
		"failure_signature": input.FailureSignature,
		"exit_reason":       input.ExitReason,
		"headline":          input.Headline,
	})
}

func runsMetaFromRecord(rec map[string]any) map[string]string {
	meta, _ := rec["meta"].(map[string]any)
	getStr := func(m map[string]any, key string) string {
		if m == nil {
			return ""
		}
		s, _ := m[key].(string)
		return s
	}
	recordID, _ := rec["record_id"].(string)
	headline, _ := rec["headline"].(string)
	return map[string]string{
		"record_id":         recordID,
		"job_id":             getStr(meta, "job_id"),
		"failure_signature": getStr(meta, "failure_signature"),
		"exit_reason":       getStr(meta, "exit_reason"),
		"headline":          headline,
	}
}

// BuildExplain builds the explain document for one record. Errors from the
// embedder degrade to empty similarity lists rather than failing the call.
func (e *Engine) BuildExplain(input RecordInput) *Document {
	doc := &Document{
		JobID:            input.JobID,
		RecordID:         input.RecordID,
		BuildID:          input.BuildID,
		GoalID:           input.GoalID,
		ExitReason:       input.ExitReason,
		ExitCode:         input.ExitCode,
		FailureSignature: input.FailureSignature,
		Headline:         input.Headline,
		Signals:          input.Signals,
		Validity:         input.Validity,
		Questions:        input.Questions,
		Bank:             input.Bank,
	}

	var embedding []float32
	if e.Embedder != nil && input.EmbedText != "" {
		vectors, err := e.Embedder.Encode([]string{input.EmbedText})
		if err == nil && len(vectors) > 0 {
			embedding = vectors[0]
		}
	}

	if embedding != nil {
		for _, r := range e.RunsIndex.Search(embedding, 5) {
			if r.Meta["job_id"] == input.JobID {
				continue
			}
			doc.SimilarRuns = append(doc.SimilarRuns, r)
		}
		doc.SimilarLedger = e.LedgerIndex.Search(embedding, 3)
	}

	if len(doc.SimilarLedger) > 0 {
		top := doc.SimilarLedger[0]
		if top.Score >= 0.6 {
			doc.SuggestedFix = top.Meta["fix"]
			doc.SuggestedPrevention = top.Meta["prevention"]
		}
	}

	for _, reason := range input.InvalidReasons {
		if missingEvidenceReasons[reason] {
			doc.PrimaryEvidenceIssue = reason
			doc.Headline = "EVIDENCE_INVALID:" + reason
			break
		}
	}

	return doc
}
