package nightly

import (
	"fmt"
	"sort"

	"headlessctl/pkg/registry"
)

// FastSmokeTag hoists tagged tasks to the front of the selection when no
// explicit --tasks override is given (spec.md §4.5 step 3).
const FastSmokeTag = "fast_smoke"

// GateTag marks a task as a gate task for --gate short-circuiting (spec.md
// §4.5 step 4). The original tool hard-codes two gate task ids; this module
// resolves them from registry tags instead so the registry owns the list.
const GateTag = "gate"

// defaultNightlyOrder is used for tasks that omit nightly_order (mirrors
// task_sort_key's fallback of 1000).
const defaultNightlyOrder = 1000

func taskSortKey(id string, t registry.Task) (int, string) {
	order := defaultNightlyOrder
	if t.NightlyOrder != nil {
		order = *t.NightlyOrder
	}
	return order, id
}

func sortTaskIDs(ids []string, reg registry.Registry) {
	sort.Slice(ids, func(i, j int) bool {
		oi, ki := taskSortKey(ids[i], reg.Tasks[ids[i]])
		oj, kj := taskSortKey(ids[j], reg.Tasks[ids[j]])
		if oi != oj {
			return oi < oj
		}
		return ki < kj
	})
}

// selectTasks implements select_tasks: an explicit task-id list wins
// (validated against the registry), else every task carrying tag is
// selected, sorted by task_sort_key.
func selectTasks(reg registry.Registry, tag string, explicit []string) ([]string, error) {
	if len(explicit) > 0 {
		var missing []string
		for _, id := range explicit {
			if _, ok := reg.Task(id); !ok {
				missing = append(missing, id)
			}
		}
		if len(missing) > 0 {
			return nil, fmt.Errorf("unknown tasks: %v", missing)
		}
		return append([]string(nil), explicit...), nil
	}

	var selected []string
	for id, t := range reg.Tasks {
		if t.HasTag(tag) {
			selected = append(selected, id)
		}
	}
	sortTaskIDs(selected, reg)
	return selected, nil
}

// hoistFastSmoke moves tasks tagged fast_smoke to the front, preserving the
// relative order established by selectTasks among the hoisted tasks and
// among the remainder. Only applied when there was no explicit --tasks
// override (spec.md §4.5 step 3).
func hoistFastSmoke(ids []string, reg registry.Registry) []string {
	var hoisted, rest []string
	for _, id := range ids {
		if t, ok := reg.Task(id); ok && t.HasTag(FastSmokeTag) {
			hoisted = append(hoisted, id)
		} else {
			rest = append(rest, id)
		}
	}
	return append(hoisted, rest...)
}

// splitGateTasks separates the registry's gate-tagged tasks out of the main
// selection. Gate tasks run (or are skipped) separately, per spec.md §4.5
// step 4.
func splitGateTasks(ids []string, reg registry.Registry) (gates, main []string) {
	gateSet := map[string]bool{}
	for _, t := range reg.TasksByTag(GateTag) {
		gateSet[t.ID] = true
	}
	for _, id := range ids {
		if gateSet[id] {
			gates = append(gates, id)
		} else {
			main = append(main, id)
		}
	}
	sortTaskIDs(gates, reg)
	return gates, main
}
