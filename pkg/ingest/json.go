package ingest

import "encoding/json"

// readJSONEntry mirrors extract_triage.py's read_json_entry: a missing or
// malformed entry decodes to "absent" rather than erroring.
func readJSONEntry(src bundleSource, name string) (map[string]any, bool) {
	data, ok := src.read(name)
	if !ok {
		return nil, false
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, false
	}
	return out, true
}

func stringField(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	s, _ := m[key].(string)
	return s
}

func intField(m map[string]any, key string) *int {
	if m == nil {
		return nil
	}
	f, ok := m[key].(float64)
	if !ok {
		return nil
	}
	i := int(f)
	return &i
}
