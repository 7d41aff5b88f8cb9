package explain

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

type fakeEmbedder struct {
	vectors map[string][]float32
	err     error
}

func (f *fakeEmbedder) Encode(texts []string) ([][]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, ok := f.vectors[t]
		if !ok {
			v = []float32{0, 0, 0}
		}
		out[i] = v
	}
	return out, nil
}

func TestMemoryIndexSearchRanksByInnerProduct(t *testing.T) {
	idx := NewMemoryIndex()
	idx.Add([]float32{1, 0, 0}, map[string]string{"id": "a"})
	idx.Add([]float32{0, 1, 0}, map[string]string{"id": "b"})
	idx.Add([]float32{0.9, 0.1, 0}, map[string]string{"id": "c"})

	results := idx.Search([]float32{1, 0, 0}, 2)
	if len(results) != 2 {
		t.Fatalf("got %d results", len(results))
	}
	if results[0].Meta["id"] != "a" {
		t.Errorf("expected closest match 'a' first, got %q", results[0].Meta["id"])
	}
}

func TestMemoryIndexSearchEmpty(t *testing.T) {
	idx := NewMemoryIndex()
	if results := idx.Search([]float32{1, 0}, 3); results != nil {
		t.Errorf("expected nil on empty index, got %v", results)
	}
}

func TestParseLedgerEntries(t *testing.T) {
	text := `ERR-001
- symptom: crash on load
- signature: nullptr in loader
- fix: null-check before use
- prevention: add unit test

ERR-002
- symptom: hang on shutdown
- fix: add timeout
`
	entries := ParseLedgerEntries(text)
	if len(entries) != 2 {
		t.Fatalf("got %d entries: %+v", len(entries), entries)
	}
	if entries[0].ID != "ERR-001" || entries[0].Fix != "null-check before use" {
		t.Errorf("unexpected first entry: %+v", entries[0])
	}
	if entries[1].ID != "ERR-002" || entries[1].Symptom != "hang on shutdown" {
		t.Errorf("unexpected second entry: %+v", entries[1])
	}
}

func TestBuildExplainDegradesWithoutEmbedder(t *testing.T) {
	engine := NewEngine(nil)
	doc := engine.BuildExplain(RecordInput{JobID: "job-1", EmbedText: "boom"})
	if doc.SimilarRuns != nil || doc.SimilarLedger != nil {
		t.Errorf("expected empty similarity lists without an embedder, got %+v", doc)
	}
	if doc.SuggestedFix != "" {
		t.Error("expected no suggested fix without ledger matches")
	}
}

func TestBuildExplainDegradesOnEmbedderError(t *testing.T) {
	engine := NewEngine(&fakeEmbedder{err: errors.New("backend down")})
	doc := engine.BuildExplain(RecordInput{JobID: "job-1", EmbedText: "boom"})
	if doc.SimilarRuns != nil || doc.SimilarLedger != nil {
		t.Errorf("expected empty similarity lists on embedder error, got %+v", doc)
	}
}

func TestBuildExplainAttachesSuggestionAboveThreshold(t *testing.T) {
	embedder := &fakeEmbedder{vectors: map[string][]float32{
		"crash signature root cause": {1, 0, 0},
		"boom":                       {1, 0, 0},
	}}
	engine := NewEngine(embedder)
	if err := engine.LoadLedger("ERR-001\n- symptom: crash\n- signature: signature\n- rootcause: root cause\n- fix: patch it\n- prevention: add guard\n"); err != nil {
		t.Fatal(err)
	}

	doc := engine.BuildExplain(RecordInput{JobID: "job-1", EmbedText: "boom"})
	if len(doc.SimilarLedger) != 1 {
		t.Fatalf("expected one ledger match, got %+v", doc.SimilarLedger)
	}
	if doc.SuggestedFix != "patch it" || doc.SuggestedPrevention != "add guard" {
		t.Errorf("expected suggestion attached, got fix=%q prevention=%q", doc.SuggestedFix, doc.SuggestedPrevention)
	}
}

func TestBuildExplainExcludesSelfFromSimilarRuns(t *testing.T) {
	embedder := &fakeEmbedder{vectors: map[string][]float32{"boom": {1, 0, 0}}}
	engine := NewEngine(embedder)
	engine.RunsIndex.Add([]float32{1, 0, 0}, map[string]string{"job_id": "job-1"})
	engine.RunsIndex.Add([]float32{0.9, 0, 0}, map[string]string{"job_id": "job-2"})

	doc := engine.BuildExplain(RecordInput{JobID: "job-1", EmbedText: "boom"})
	for _, r := range doc.SimilarRuns {
		if r.Meta["job_id"] == "job-1" {
			t.Errorf("self-match should be excluded, got %+v", doc.SimilarRuns)
		}
	}
}

func TestBuildExplainPrimaryEvidenceIssueOverridesHeadline(t *testing.T) {
	engine := NewEngine(nil)
	doc := engine.BuildExplain(RecordInput{
		JobID:          "job-1",
		Headline:       "original headline",
		InvalidReasons: []string{"telemetry_truncated", "meta_missing"},
	})
	if doc.PrimaryEvidenceIssue != "meta_missing" {
		t.Errorf("expected meta_missing as primary issue, got %q", doc.PrimaryEvidenceIssue)
	}
	if doc.Headline != "EVIDENCE_INVALID:meta_missing" {
		t.Errorf("expected overridden headline, got %q", doc.Headline)
	}
}

func TestWriteDocumentPrefersRecordIDForDiag(t *testing.T) {
	dir := t.TempDir()
	input := RecordInput{DiagDir: "/diag/x", RecordID: "rec-1", JobID: "job-1", Questions: map[string]any{"required_missing": []string{"q1"}}}
	doc := &Document{Headline: "diag headline"}

	path, err := WriteDocument(dir, input, doc)
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Base(path) != "explain_rec-1.json" {
		t.Errorf("expected explain_rec-1.json, got %s", filepath.Base(path))
	}
	if _, err := os.Stat(filepath.Join(dir, "questions_rec-1.json")); err != nil {
		t.Errorf("expected questions file: %v", err)
	}
}

func TestWriteDocumentUsesJobIDForRunRecords(t *testing.T) {
	dir := t.TempDir()
	input := RecordInput{RecordID: "rec-1", JobID: "job-42"}
	doc := &Document{Headline: "run headline"}

	path, err := WriteDocument(dir, input, doc)
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Base(path) != "explain_job-42.json" {
		t.Errorf("expected explain_job-42.json, got %s", filepath.Base(path))
	}
}
