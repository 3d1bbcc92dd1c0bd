// Package planner computes dependency-aware execution plans for a
// feature's task set. It is read-only: callers pass a consistent snapshot
// of the tasks and may run it concurrently with mutation elsewhere.
package planner

import (
	"fmt"
	"sort"

	"github.com/stagehand-io/stagehand/pkg/types"
)

// Plan is the planner's output for one feature
type Plan struct {
	// OptimalOrder is a topological order of all task IDs. Empty when a
	// cycle exists: callers must never act on a partial order.
	OptimalOrder []string `json:"optimal_order"`
	// ParallelPhases groups tasks that can start together. Greedy
	// heuristic, not provably minimal in phase count, but deterministic
	// for a given input.
	ParallelPhases [][]string `json:"parallel_phases"`
	// CriticalPath is the longest dependency chain, leaf first.
	CriticalPath []string `json:"critical_path"`
	HasCycle     bool     `json:"has_cycle"`
	TotalDeps    int      `json:"total_deps"`
	Warnings     []string `json:"warnings,omitempty"`
}

// Compute builds an execution plan for the given tasks. Tasks are seeded
// in a stable order (OrderOfExecution, then ID) so the plan is
// deterministic run to run.
func Compute(tasks []*types.Task) *Plan {
	plan := &Plan{}
	if len(tasks) == 0 {
		return plan
	}

	ordered := append([]*types.Task(nil), tasks...)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].OrderOfExecution != ordered[j].OrderOfExecution {
			return ordered[i].OrderOfExecution < ordered[j].OrderOfExecution
		}
		return ordered[i].ID < ordered[j].ID
	})

	ids := make([]string, 0, len(ordered))
	known := make(map[string]bool, len(ordered))
	for _, t := range ordered {
		ids = append(ids, t.ID)
		known[t.ID] = true
	}

	// Adjacency: dependency -> dependents. Edges to unknown tasks are
	// dropped with a warning rather than failing the whole plan.
	deps := make(map[string][]string, len(ordered))
	dependents := make(map[string][]string, len(ordered))
	inDegree := make(map[string]int, len(ordered))
	for _, t := range ordered {
		inDegree[t.ID] = 0
	}
	for _, t := range ordered {
		for _, dep := range t.Dependencies {
			if dep == t.ID {
				plan.Warnings = append(plan.Warnings,
					fmt.Sprintf("task %s lists itself as a dependency; ignored", t.ID))
				continue
			}
			if !known[dep] {
				plan.Warnings = append(plan.Warnings,
					fmt.Sprintf("task %s depends on unknown task %s; ignored", t.ID, dep))
				continue
			}
			plan.TotalDeps++
			deps[t.ID] = append(deps[t.ID], dep)
			dependents[dep] = append(dependents[dep], t.ID)
			inDegree[t.ID]++
		}
	}

	// Kahn's algorithm. The ready queue preserves seed order so ties
	// break on OrderOfExecution.
	var queue []string
	for _, id := range ids {
		if inDegree[id] == 0 {
			queue = append(queue, id)
		}
	}
	degree := make(map[string]int, len(inDegree))
	for id, d := range inDegree {
		degree[id] = d
	}
	order := make([]string, 0, len(ids))
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		order = append(order, id)
		for _, dep := range dependents[id] {
			degree[dep]--
			if degree[dep] == 0 {
				queue = append(queue, dep)
			}
		}
	}

	if len(order) < len(ids) {
		// All-or-nothing: a partial order in the presence of a cycle is
		// worse than no order at all.
		plan.HasCycle = true
		plan.OptimalOrder = []string{}
		plan.Warnings = append(plan.Warnings,
			fmt.Sprintf("dependency cycle detected: %d of %d tasks unorderable", len(ids)-len(order), len(ids)))
		return plan
	}
	plan.OptimalOrder = order

	plan.ParallelPhases = groupPhases(order, deps)
	plan.CriticalPath = criticalPath(order, deps, dependents)

	for _, id := range ids {
		if n := len(dependents[id]); n > 1 {
			plan.Warnings = append(plan.Warnings,
				fmt.Sprintf("task %s blocks %d other tasks", id, n))
		}
	}
	return plan
}

// groupPhases greedily packs tasks whose dependencies are all satisfied by
// earlier phases. Within a phase no task depends on any other member.
func groupPhases(order []string, deps map[string][]string) [][]string {
	done := make(map[string]bool, len(order))
	placed := make(map[string]bool, len(order))
	var phases [][]string

	for len(done) < len(order) {
		var phase []string
		for _, id := range order {
			if placed[id] {
				continue
			}
			ready := true
			for _, dep := range deps[id] {
				if !done[dep] {
					ready = false
					break
				}
			}
			if ready {
				phase = append(phase, id)
				placed[id] = true
			}
		}
		if len(phase) == 0 {
			// Unreachable once a cycle-free order exists; guards against
			// an infinite loop on inconsistent input.
			break
		}
		for _, id := range phase {
			done[id] = true
		}
		phases = append(phases, phase)
	}
	return phases
}

// criticalPath finds the longest dependency chain using dynamic
// programming over the topological order. No recursion, so pathological
// chain depth cannot overflow the stack. Ties keep the first chain found.
func criticalPath(order []string, deps map[string][]string, dependents map[string][]string) []string {
	if len(order) == 0 {
		return nil
	}
	length := make(map[string]int, len(order))
	prev := make(map[string]string, len(order))
	for _, id := range order {
		length[id] = 1
		for _, dep := range deps[id] {
			if length[dep]+1 > length[id] {
				length[id] = length[dep] + 1
				prev[id] = dep
			}
		}
	}

	// The chain ends at a leaf: a task with no dependents.
	var tail string
	best := 0
	for _, id := range order {
		if len(dependents[id]) > 0 {
			continue
		}
		if length[id] > best {
			best = length[id]
			tail = id
		}
	}

	var path []string
	for id := tail; id != ""; {
		path = append(path, id)
		next, ok := prev[id]
		if !ok {
			break
		}
		id = next
	}
	return path
}
