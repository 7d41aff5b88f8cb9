package registry

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

var errRegistryFileMissing = errors.New("registry file not found")

// Load reads tasksPath and packsPath as independent YAML documents (each
// containing a top-level `tasks:` or `packs:` map) and merges them into one
// Registry. Either file may carry both keys; an absent key is simply empty.
func Load(tasksPath, packsPath string) (Registry, error) {
	tasksFile, err := loadFile(tasksPath)
	if err != nil {
		return Registry{}, fmt.Errorf("load tasks: %w", err)
	}
	packsFile, err := loadFile(packsPath)
	if err != nil {
		return Registry{}, fmt.Errorf("load packs: %w", err)
	}

	reg := Registry{
		Tasks: map[string]Task{},
		Packs: map[string]Pack{},
	}
	for id, task := range tasksFile.Tasks {
		task.ID = id
		reg.Tasks[id] = task
	}
	for id, task := range packsFile.Tasks {
		task.ID = id
		reg.Tasks[id] = task
	}
	for name, pack := range tasksFile.Packs {
		pack.Name = name
		reg.Packs[name] = pack
	}
	for name, pack := range packsFile.Packs {
		pack.Name = name
		reg.Packs[name] = pack
	}

	return reg, nil
}

func loadFile(path string) (File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return File{}, fmt.Errorf("%w: %s", errRegistryFileMissing, path)
		}
		return File{}, fmt.Errorf("read %s: %w", path, err)
	}

	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return File{}, fmt.Errorf("decode %s: %w", path, err)
	}
	return f, nil
}

// IsMissing reports whether err indicates a registry file that does not
// exist (mapped to error_code tasks_missing/packs_missing at the CLI layer).
func IsMissing(err error) bool {
	return errors.Is(err, errRegistryFileMissing)
}
