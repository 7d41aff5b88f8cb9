package main

import (
	"path/filepath"

	"headlessctl/pkg/paths"
)

// registryPaths resolves the tasks/packs registry file locations, the
// Go equivalent of resolve_tool_root()'s two derived paths.
func registryPaths(p paths.Paths) (tasksPath, packsPath string) {
	dir := filepath.Join(p.TriRoot, "Tools", "Headless")
	return filepath.Join(dir, "headless_tasks.json"), filepath.Join(dir, "headless_packs.json")
}
