package ingest

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"headlessctl/pkg/paths"
)

func writeFile(t *testing.T, path string, data []byte) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	return data
}

func TestComputeValidityAllPresent(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "out", "watchdog.json"), []byte(`{}`))
	writeFile(t, filepath.Join(dir, "out", "invariants.json"), []byte(`[]`))
	src := dirSource{root: dir}

	meta := map[string]any{"exit_reason": "ok"}
	runSummary := map[string]any{}
	telemetrySummary := map[string]any{"event_total": 10.0, "telemetry.truncated": 0.0, "oracle_heartbeat": true}

	v := computeValidity(src, meta, runSummary, telemetrySummary, nil, "")
	if v.Status != ValidityValid {
		t.Fatalf("expected VALID, got %s with reasons %v", v.Status, v.InvalidReasons)
	}
}

func TestComputeValidityOKWithWarnings(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "out", "watchdog.json"), []byte(`{}`))
	writeFile(t, filepath.Join(dir, "out", "invariants.json"), []byte(`[]`))
	src := dirSource{root: dir}

	meta := map[string]any{"exit_reason": "OK_WITH_WARNINGS"}
	runSummary := map[string]any{}
	telemetrySummary := map[string]any{"event_total": 10.0, "telemetry.truncated": 0.0, "oracle_heartbeat": true}

	v := computeValidity(src, meta, runSummary, telemetrySummary, nil, "")
	if v.Status != ValidityOKWithWarnings {
		t.Fatalf("expected OK_WITH_WARNINGS, got %s with reasons %v", v.Status, v.InvalidReasons)
	}
}

func TestComputeValidityMissingEverything(t *testing.T) {
	dir := t.TempDir()
	src := dirSource{root: dir}

	v := computeValidity(src, nil, nil, nil, nil, "")
	if v.Status != ValidityInvalid {
		t.Fatalf("expected INVALID, got %s", v.Status)
	}
	want := map[InvalidReason]bool{
		ReasonMetaMissing:             true,
		ReasonWatchdogMissing:         true,
		ReasonRunSummaryMissing:       true,
		ReasonTelemetrySummaryMissing: true,
		ReasonInvariantsMissing:       true,
	}
	for _, r := range v.InvalidReasons {
		if !want[r] {
			t.Errorf("unexpected reason %s", r)
		}
		delete(want, r)
	}
	if len(want) != 0 {
		t.Errorf("missing expected reasons: %v", want)
	}
}

func TestComputeValidityBankWrongTestVsFail(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "out", "watchdog.json"), []byte(`{}`))
	writeFile(t, filepath.Join(dir, "out", "invariants.json"), []byte(`[]`))
	src := dirSource{root: dir}
	meta := map[string]any{}
	runSummary := map[string]any{}
	telemetrySummary := map[string]any{"event_total": 1.0, "telemetry.truncated": 0.0, "oracle_heartbeat": true}

	failed := []any{map[string]any{"id": "bank-1", "status": "FAIL"}}
	fail := computeValidity(src, meta, runSummary, telemetrySummary, failed, "bank-1")
	if !containsReason(fail.InvalidReasons, ReasonBankFail) {
		t.Errorf("expected bank_fail, got %v", fail.InvalidReasons)
	}

	wrongTest := []any{map[string]any{"id": "bank-2", "status": "PASS"}}
	wrong := computeValidity(src, meta, runSummary, telemetrySummary, wrongTest, "bank-1")
	if !containsReason(wrong.InvalidReasons, ReasonBankWrongTest) {
		t.Errorf("expected bank_wrong_test, got %v", wrong.InvalidReasons)
	}

	matched := []any{map[string]any{"id": "bank-1", "status": "PASS"}}
	ok := computeValidity(src, meta, runSummary, telemetrySummary, matched, "bank-1")
	if ok.Status != ValidityValid {
		t.Errorf("expected VALID, got %s with reasons %v", ok.Status, ok.InvalidReasons)
	}
}

func containsReason(reasons []InvalidReason, want InvalidReason) bool {
	for _, r := range reasons {
		if r == want {
			return true
		}
	}
	return false
}

func TestComputeHeadlinePrefersLastMatchingStderrLine(t *testing.T) {
	lines := []string{"starting up", "warning: low disk", "Fatal error: segfault at 0x0"}
	got := computeHeadline(lines, "sig", "reason")
	if got != "Fatal error: segfault at 0x0" {
		t.Errorf("got %q", got)
	}
}

func TestComputeHeadlineFallsBackToSignatureThenReason(t *testing.T) {
	if got := computeHeadline(nil, "sig", "reason"); got != "sig" {
		t.Errorf("got %q, want sig", got)
	}
	if got := computeHeadline(nil, "", "reason"); got != "reason" {
		t.Errorf("got %q, want reason", got)
	}
}

func TestBuildEmbedTextCapsSamplesAndSkipsEmpty(t *testing.T) {
	proof := []string{"p1", "p2", "p3", "p4"}
	templates := []string{"t1", "t2", "t3", "t4"}
	got := buildEmbedText("", "head", "sig", proof, templates)
	want := "head\nsig\np1\np2\np3\nt1\nt2\nt3"
	if got != want {
		t.Errorf("got %q want %q", got, want)
	}
}

func TestExtractBankInfoTailsAndParses(t *testing.T) {
	log := []byte("noise\nBANK:sanity:PASS reason=ok\nmore noise\nBANK:regress:FAIL reason=timeout\n")
	results := extractBankInfo(log)
	if len(results) != 2 {
		t.Fatalf("got %d results: %+v", len(results), results)
	}
	if results[0].ID != "sanity" || results[0].Status != "PASS" {
		t.Errorf("unexpected first result: %+v", results[0])
	}
	if results[1].ID != "regress" || results[1].Status != "FAIL" {
		t.Errorf("unexpected second result: %+v", results[1])
	}
}

func TestClassifyCompilationDedupesErrorCodes(t *testing.T) {
	lines := []string{
		"Assets/Foo.cs(10,5): error CS0103: name does not exist",
		"Assets/Foo.cs(11,5): error CS0103: name does not exist",
		"IL2CPP build failed",
	}
	sig := classifyCompilation(lines)
	if len(sig.CSharpErrorCodes) != 1 || sig.CSharpErrorCodes[0] != "CS0103" {
		t.Errorf("got %v", sig.CSharpErrorCodes)
	}
	if !sig.HasIL2CPP {
		t.Error("expected HasIL2CPP")
	}
}

func TestClassifyStallFlagsHangTimeout(t *testing.T) {
	sig := classifyStall([]string{"operation hit hang-timeout after 300s"})
	if !sig.HasHangTimeout {
		t.Error("expected HasHangTimeout")
	}
	if len(sig.SampleLines) != 1 {
		t.Errorf("got %d sample lines", len(sig.SampleLines))
	}
}

func TestLedgerMarkAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "processed.json")
	l, err := OpenLedger(path)
	if err != nil {
		t.Fatal(err)
	}
	id := BundleIdentity("result_1.zip", 100, time.Unix(1700000000, 0))
	if l.Seen(id) {
		t.Fatal("should not be seen yet")
	}
	if err := l.MarkAndFlush(id); err != nil {
		t.Fatal(err)
	}
	if !l.Seen(id) {
		t.Fatal("should be seen after mark")
	}

	reloaded, err := OpenLedger(path)
	if err != nil {
		t.Fatal(err)
	}
	if !reloaded.Seen(id) {
		t.Fatal("identity should survive reload")
	}
}

func TestIngestBundleFromDir(t *testing.T) {
	bundleDir := t.TempDir()
	meta := map[string]any{"exit_reason": "crash", "exit_code": 1.0, "job_id": "job-123"}
	writeFile(t, filepath.Join(bundleDir, "meta.json"), mustJSON(t, meta))
	writeFile(t, filepath.Join(bundleDir, "out", "watchdog.json"), []byte(`{}`))
	writeFile(t, filepath.Join(bundleDir, "out", "run_summary.json"), mustJSON(t, map[string]any{
		"proof_lines": []string{"line1"},
	}))
	writeFile(t, filepath.Join(bundleDir, "out", "telemetry_summary.json"), mustJSON(t, map[string]any{
		"event_total": 5.0, "telemetry.truncated": 0.0, "oracle_heartbeat": true,
	}))
	writeFile(t, filepath.Join(bundleDir, "out", "invariants.json"), []byte(`[]`))
	writeFile(t, filepath.Join(bundleDir, "out", "player.log"), []byte("BANK:sanity:PASS reason=ok\n"))
	writeFile(t, filepath.Join(bundleDir, "out", "stderr.log"), []byte("Fatal error: boom\n"))

	root := t.TempDir()
	p := paths.Paths{StateDir: root, IntelRoot: filepath.Join(root, "intel")}
	ing, err := NewIngestor(p)
	if err != nil {
		t.Fatal(err)
	}

	record, skipped, err := ing.IngestBundle(bundleDir, "")
	if err != nil {
		t.Fatal(err)
	}
	if skipped {
		t.Fatal("first ingest should not be skipped")
	}
	if record.Validity.Status != ValidityValid {
		t.Errorf("expected VALID, got %s: %v", record.Validity.Status, record.Validity.InvalidReasons)
	}
	if record.Headline != "Fatal error: boom" {
		t.Errorf("unexpected headline %q", record.Headline)
	}
	if len(record.Bank) != 1 || record.Bank[0].ID != "sanity" {
		t.Errorf("unexpected bank results: %+v", record.Bank)
	}
	if record.JobID != "job-123" {
		t.Errorf("unexpected job id %q", record.JobID)
	}

	recordsPath := filepath.Join(p.IntelStoreDir(), "records.jsonl")
	if _, err := os.Stat(recordsPath); err != nil {
		t.Fatalf("expected records.jsonl to exist: %v", err)
	}

	_, skippedAgain, err := ing.IngestBundle(bundleDir, "")
	if err != nil {
		t.Fatal(err)
	}
	if !skippedAgain {
		t.Fatal("second ingest of the same bundle should be skipped")
	}
}
