package nightly

import (
	"encoding/json"
	"io"
	"os"
)

// writeJSONFile pretty-prints v to path with two-space indentation. Map
// keys come out sorted; struct fields keep their declaration order.
func writeJSONFile(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// copyFileInto copies src to dest, overwriting it. Used to stage bundle
// files into the flat nightly_artifacts directory.
func copyFileInto(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = io.Copy(out, in)
	return err
}
