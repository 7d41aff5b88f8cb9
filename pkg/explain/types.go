// Package explain implements Explain/Search (spec.md §4.7): it embeds a
// RunRecord's embed_text, searches an incrementally-updated runs index and a
// Markdown-ledger index for similar past failures, and writes one explain
// document per job. Embedding and vector search are abstracted behind
// Embedder/VectorIndex interfaces so the engine degrades to an empty
// similar_runs/similar_ledger result when no real backend is wired, instead
// of failing. Grounded on
// original_source/Polish/Intel/anviloop_intel.py's build_explain/
// update_runs_index/search_index functions.
package explain

// Embedder turns text into vectors, or reports unavailability.
type Embedder interface {
	// Encode returns one vector per input text. An error means the
	// embedding backend is unavailable for this call; callers degrade
	// rather than fail.
	Encode(texts []string) ([][]float32, error)
}

// SearchResult is one VectorIndex match: the indexed metadata plus its
// similarity score against the query vector.
type SearchResult struct {
	Meta  map[string]string
	Score float32
}

// VectorIndex is an inner-product similarity index over embedded metadata
// rows (spec.md §4.7).
type VectorIndex interface {
	Add(vector []float32, meta map[string]string)
	Search(query []float32, k int) []SearchResult
	Len() int
}

// LedgerEntry is one `ERR-…` Markdown entry parsed from the fix/prevention
// knowledge ledger.
type LedgerEntry struct {
	ID           string
	Symptom      string
	Signature    string
	RootCause    string
	Fix          string
	Prevention   string
	Verification string
	Commit       string
	RawText      string
}

// Document is the per-job/record explain output written to
// explain_<id>.json.
type Document struct {
	JobID             string            `json:"job_id,omitempty"`
	RecordID          string            `json:"record_id,omitempty"`
	BuildID           string            `json:"build_id,omitempty"`
	GoalID            string            `json:"goal_id,omitempty"`
	ExitReason        string            `json:"exit_reason,omitempty"`
	ExitCode          *int              `json:"exit_code,omitempty"`
	FailureSignature  string            `json:"failure_signature,omitempty"`
	Headline          string            `json:"headline"`
	SimilarRuns        []SearchResult   `json:"similar_runs"`
	SimilarLedger       []SearchResult  `json:"similar_ledger"`
	SuggestedFix      string            `json:"suggested_fix,omitempty"`
	SuggestedPrevention string          `json:"suggested_prevention,omitempty"`
	PrimaryEvidenceIssue string         `json:"primary_evidence_issue,omitempty"`
	Signals           any               `json:"signals,omitempty"`
	Validity          any               `json:"validity,omitempty"`
	Questions         any               `json:"questions,omitempty"`
	Bank              any               `json:"bank,omitempty"`
}

// RecordInput is the subset of a RunRecord the explain engine needs,
// decoupled from pkg/ingest's type so explain has no import-cycle risk and
// can also explain diag-dir records that never went through a full bundle
// ingestion.
type RecordInput struct {
	JobID            string
	RecordID         string
	DiagDir          string
	BuildID          string
	GoalID           string
	ExitReason       string
	ExitCode         *int
	FailureSignature string
	Headline         string
	EmbedText        string
	InvalidReasons   []string
	Signals          any
	Validity         any
	Questions        any
	Bank             any
}
