// Package registry loads and contract-checks the Tasks and Packs tables
// (spec.md §3, §4.2). Loading is pure/side-effect free so the same pass
// powers both `contract_check` and every run-time lookup.
package registry

// Threshold bounds a metric key's acceptable value.
type Threshold struct {
	Min *float64 `yaml:"min,omitempty" json:"min,omitempty"`
	Max *float64 `yaml:"max,omitempty" json:"max,omitempty"`
}

// SeedPolicy is a closed set of multi-seed resolution strategies.
type SeedPolicy string

// Seed policies recognized by the orchestrator.
const (
	SeedPolicyNone     SeedPolicy = "none"
	SeedPolicyAIPolish SeedPolicy = "ai_polish"
)

// Runner is a closed set of simulator invocation conventions.
type Runner string

// Runners recognized by the orchestrator.
const (
	RunnerScenario Runner = "scenario"
	RunnerLoaderA  Runner = "loader-A"
	RunnerLoaderB  Runner = "loader-B"
)

// Project is an opaque simulator-project tag.
type Project string

// Projects recognized by the registry.
const (
	ProjectA Project = "A"
	ProjectB Project = "B"
	ProjectC Project = "C"
)

// Task is the immutable declarative unit of work (spec.md §3).
type Task struct {
	ID              string             `yaml:"id" json:"id"`
	Project         Project            `yaml:"project" json:"project"`
	Runner          Runner             `yaml:"runner" json:"runner"`
	ScenarioPath    string             `yaml:"scenario_path" json:"scenario_path"`
	TickBudget      int64              `yaml:"tick_budget" json:"tick_budget"`
	TimeoutS        int                `yaml:"timeout_s" json:"timeout_s"`
	DefaultPack     string             `yaml:"default_pack" json:"default_pack"`
	MetricKeys      []string           `yaml:"metric_keys" json:"metric_keys"`
	Thresholds      map[string]Threshold `yaml:"thresholds" json:"thresholds"`
	VarianceBand    map[string]float64 `yaml:"variance_band" json:"variance_band"`
	DefaultSeeds    []int64            `yaml:"default_seeds" json:"default_seeds"`
	SeedPolicy      SeedPolicy         `yaml:"seed_policy" json:"seed_policy"`
	RequiredBank    string             `yaml:"required_bank" json:"required_bank"`
	BankStrict      bool               `yaml:"bank_strict" json:"bank_strict"`
	AllowExitCodes  []int              `yaml:"allow_exit_codes" json:"allow_exit_codes"`
	Env             map[string]string  `yaml:"env" json:"env"`
	Tags            []string           `yaml:"tags" json:"tags"`
	NightlyOrder    *int               `yaml:"nightly_order" json:"nightly_order"`
}

// DefaultTimeoutS is applied when a task omits timeout_s.
const DefaultTimeoutS = 600

// EffectiveTimeout returns the task's configured timeout, defaulting per
// spec.md §3.
func (t Task) EffectiveTimeout() int {
	if t.TimeoutS <= 0 {
		return DefaultTimeoutS
	}
	return t.TimeoutS
}

// EffectiveAllowExitCodes returns allow_exit_codes with 0 always present,
// resolving the Open Question in spec.md §9 (the source forces inclusion).
func (t Task) EffectiveAllowExitCodes() []int {
	codes := append([]int(nil), t.AllowExitCodes...)
	if len(codes) == 0 {
		codes = []int{0}
	}
	for _, c := range codes {
		if c == 0 {
			return codes
		}
	}
	return append(codes, 0)
}

// HasTag reports whether the task carries the given tag.
func (t Task) HasTag(tag string) bool {
	for _, v := range t.Tags {
		if v == tag {
			return true
		}
	}
	return false
}

// Pack is the immutable environment + artifact policy overlay (spec.md §3).
type Pack struct {
	Name              string            `yaml:"name" json:"name"`
	Env               map[string]string `yaml:"env" json:"env"`
	Caps              Caps              `yaml:"caps" json:"caps"`
	ArtifactsInclude  []string          `yaml:"artifacts_include" json:"artifacts_include"`
	ArtifactsExclude  []string          `yaml:"artifacts_exclude" json:"artifacts_exclude"`
	CompressJSONL     bool              `yaml:"compress_jsonl" json:"compress_jsonl"`
}

// Caps bounds a pack's resource usage.
type Caps struct {
	MaxBytes *int64 `yaml:"max_bytes,omitempty" json:"max_bytes,omitempty"`
}

// File is the on-disk shape of the combined tasks/packs registry document.
type File struct {
	Tasks map[string]Task `yaml:"tasks" json:"tasks"`
	Packs map[string]Pack `yaml:"packs" json:"packs"`
}

// Registry is the loaded, queryable Tasks/Packs tables.
type Registry struct {
	Tasks map[string]Task
	Packs map[string]Pack
}

// Task looks up a task by id.
func (r Registry) Task(id string) (Task, bool) {
	t, ok := r.Tasks[id]
	return t, ok
}

// Pack looks up a pack by name.
func (r Registry) Pack(name string) (Pack, bool) {
	p, ok := r.Packs[name]
	return p, ok
}

// TasksByTag returns tasks carrying the given tag, in map-iteration order
// (callers sort as needed).
func (r Registry) TasksByTag(tag string) []Task {
	var out []Task
	for _, t := range r.Tasks {
		if t.HasTag(tag) {
			out = append(out, t)
		}
	}
	return out
}
