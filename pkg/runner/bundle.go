package runner

import (
	"archive/tar"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"headlessctl/pkg/paths"
)

// bundledFiles is the fixed set of a run directory's members a bundle may
// contain, matching the state layout of spec.md §6. Entries that do not
// exist for a given run (e.g. no telemetry written, no seed override) are skipped.
var bundledFiles = []string{
	"result.json",
	"stdout.log",
	"telemetry.ndjson",
	"metrics.jsonl",
	"events.jsonl",
	"invariants.jsonl",
	"scenario_seed_override.json",
}

// BundleArtifacts packs a run's artifacts into <run_dir>/bundle_<run_id>.tar.gz,
// overwriting any previous bundle for that run. It returns the bundle path.
func BundleArtifacts(p paths.Paths, runID string) (string, error) {
	runDir := p.RunDir(runID)
	if _, err := os.Stat(runDir); err != nil {
		return "", fmt.Errorf("run not found: %s", runID)
	}

	bundlePath := filepath.Join(runDir, fmt.Sprintf("bundle_%s.tar.gz", runID))
	f, err := os.Create(bundlePath)
	if err != nil {
		return "", fmt.Errorf("create bundle: %w", err)
	}
	defer f.Close()

	gz := gzip.NewWriter(f)
	tw := tar.NewWriter(gz)

	for _, name := range bundledFiles {
		path := filepath.Join(runDir, name)
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		if err := addTarFile(tw, path, name, info); err != nil {
			_ = tw.Close()
			_ = gz.Close()
			return "", fmt.Errorf("bundle %s: %w", name, err)
		}
	}

	if err := tw.Close(); err != nil {
		return "", fmt.Errorf("close tar: %w", err)
	}
	if err := gz.Close(); err != nil {
		return "", fmt.Errorf("close gzip: %w", err)
	}
	return bundlePath, nil
}

func addTarFile(tw *tar.Writer, path, name string, info os.FileInfo) error {
	hdr, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return err
	}
	hdr.Name = name
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	data, err := os.Open(path)
	if err != nil {
		return err
	}
	defer data.Close()
	_, err = io.Copy(tw, data)
	return err
}
