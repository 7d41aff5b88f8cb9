package main

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"testing"
)

func TestMarshalSortedKeysOrdersNestedMaps(t *testing.T) {
	t.Parallel()

	payload := map[string]any{
		"zeta":  1,
		"alpha": map[string]any{"b": 2, "a": 1},
	}
	data, err := marshalSortedKeys(payload)
	if err != nil {
		t.Fatalf("marshalSortedKeys returned error: %v", err)
	}
	want := `{"alpha":{"a":1,"b":2},"zeta":1}`
	if string(data) != want {
		t.Errorf("marshalSortedKeys = %s, want %s", data, want)
	}
}

func TestErrorResultShape(t *testing.T) {
	t.Parallel()

	got := errorResult("bad_input", "nope")
	if got["ok"] != false || got["error_code"] != "bad_input" || got["error"] != "nope" {
		t.Errorf("errorResult = %+v", got)
	}
	if got["run_id"] != nil {
		t.Errorf("errorResult run_id = %v, want nil", got["run_id"])
	}
}

func TestStructToMapRoundTripsJSONTags(t *testing.T) {
	t.Parallel()

	type inner struct {
		Name string `json:"name"`
	}
	got := structToMap(inner{Name: "foo"})
	if got["name"] != "foo" {
		t.Errorf("structToMap = %+v, want name=foo", got)
	}
}

func TestEmitResultDefaultsAndWritesLine(t *testing.T) {
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe: %v", err)
	}
	orig := os.Stdout
	os.Stdout = w
	defer func() { os.Stdout = orig }()

	err = emitResult(map[string]any{"run_id": "run-1"}, 0)
	w.Close()
	os.Stdout = orig
	if err != nil {
		t.Fatalf("emitResult returned error: %v", err)
	}

	out, readErr := io.ReadAll(r)
	if readErr != nil {
		t.Fatalf("reading pipe: %v", readErr)
	}
	var decoded map[string]any
	if jsonErr := json.Unmarshal(bytes.TrimSpace(out), &decoded); jsonErr != nil {
		t.Fatalf("decoding emitted line: %v (line: %s)", jsonErr, out)
	}
	if decoded["ok"] != true || decoded["error_code"] != "none" || decoded["tool_version"] != toolVersion {
		t.Errorf("emitted payload = %+v", decoded)
	}
	if decoded["run_id"] != "run-1" {
		t.Errorf("run_id = %v, want run-1", decoded["run_id"])
	}
	if lastExitCode != 0 {
		t.Errorf("lastExitCode = %d, want 0", lastExitCode)
	}
}

func TestEmitResultNonZeroExitReturnsExitCodeError(t *testing.T) {
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe: %v", err)
	}
	orig := os.Stdout
	os.Stdout = w
	defer func() { os.Stdout = orig }()

	err = emitResult(errorResult("oops", "bad"), 3)
	w.Close()
	os.Stdout = orig
	io.Copy(io.Discard, r)

	if err == nil {
		t.Fatal("expected non-nil error for nonzero exit code")
	}
	code, ok := exitCodeFromError(err)
	if !ok || code != 3 {
		t.Errorf("exitCodeFromError = %d, %v, want 3, true", code, ok)
	}
}
