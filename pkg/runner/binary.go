package runner

import (
	"encoding/json"
	"os"
	"path/filepath"

	"headlessctl/pkg/registry"
)

type buildPointer struct {
	Executable string `json:"executable"`
}

// resolvePointerBinary reads the published current_<project>.json pointer
// file, returning its executable path if the file exists and points at a
// binary that is actually present on disk.
func resolvePointerBinary(stateDir string, project registry.Project) (string, bool) {
	if stateDir == "" || (project != registry.ProjectA && project != registry.ProjectB && project != registry.ProjectC) {
		return "", false
	}
	pointerPath := filepath.Join(stateDir, "builds", "current_"+string(project)+".json")
	data, err := os.ReadFile(pointerPath)
	if err != nil {
		return "", false
	}
	var pointer buildPointer
	if err := json.Unmarshal(data, &pointer); err != nil {
		return "", false
	}
	if pointer.Executable == "" {
		return "", false
	}
	if _, err := os.Stat(pointer.Executable); err != nil {
		return "", false
	}
	return pointer.Executable, true
}

// findBinary resolves a project's simulator binary: the published build
// pointer first, then a fixed fallback path for the two projects that have
// one. Project C has no hard-coded fallback and must be reached through the
// pointer.
func findBinary(triRoot, stateDir string, project registry.Project) string {
	if binary, ok := resolvePointerBinary(stateDir, project); ok {
		return binary
	}
	switch project {
	case registry.ProjectA:
		return filepath.Join(triRoot, "Tools", "builds", "project-a", "Linux_latest", "project_a_headless.x86_64")
	case registry.ProjectB:
		return filepath.Join(triRoot, "Tools", "builds", "project-b", "Linux_latest", "project_b_headless.x86_64")
	default:
		return ""
	}
}

// ensureExecutable sets the execute bit on binary if it is missing,
// tolerating failure (the run attempt itself will surface the real error).
func ensureExecutable(binary string) {
	info, err := os.Stat(binary)
	if err != nil {
		return
	}
	if info.Mode()&0o111 != 0 {
		return
	}
	_ = os.Chmod(binary, info.Mode()|0o111)
}
