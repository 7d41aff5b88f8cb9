package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"headlessctl/internal/buildinfo"
)

const toolVersion = "1.0.0"

// emitResult writes exactly one sorted-key JSON line to stdout and returns
// an error cobra propagates up to set the process exit code, mirroring
// emit_result's setdefault-then-exit contract: tool_version/schema_version
// are always present, a missing ok is derived from the exit code, a missing
// error_code/error is derived from ok, and a missing run_id becomes null.
func emitResult(payload map[string]any, exitCode int) error {
	if _, ok := payload["tool_version"]; !ok {
		payload["tool_version"] = toolVersion
	}
	if _, ok := payload["schema_version"]; !ok {
		payload["schema_version"] = buildinfo.SchemaVersion
	}
	ok, hasOK := payload["ok"].(bool)
	if !hasOK {
		ok = exitCode == 0
		payload["ok"] = ok
	}
	if _, present := payload["error_code"]; !present {
		if ok {
			payload["error_code"] = "none"
		} else {
			payload["error_code"] = "exception"
		}
	}
	if _, present := payload["error"]; !present {
		if ok {
			payload["error"] = nil
		} else {
			payload["error"] = "error"
		}
	}
	if _, present := payload["run_id"]; !present {
		payload["run_id"] = nil
	}

	data, err := marshalSortedKeys(payload)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	os.Stdout.Write(data)
	os.Stdout.Write([]byte("\n"))

	lastExitCode = exitCode
	if exitCode == 0 {
		return nil
	}
	return &exitCodeError{code: exitCode}
}

// marshalSortedKeys round-trips through encoding/json twice so map keys
// come out lexicographically sorted at every nesting level, matching the
// original's json.dumps(..., sort_keys=True).
func marshalSortedKeys(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var generic any
	if err := json.Unmarshal(data, &generic); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(generic); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

func errorResult(errorCode, message string) map[string]any {
	return map[string]any{
		"ok":         false,
		"error_code": errorCode,
		"error":      message,
		"run_id":     nil,
	}
}

func structToMap(v any) map[string]any {
	data, err := json.Marshal(v)
	if err != nil {
		return map[string]any{}
	}
	var out map[string]any
	_ = json.Unmarshal(data, &out)
	return out
}
