package flow

import (
	"sort"

	"github.com/specsmith/specsmith/pkg/models"
)

// validateGraph checks a task set for unknown dependencies and cycles before
// any of it is scheduled. A bad graph is a construction bug, never a partial
// execution.
func validateGraph(tasks map[string]*models.Task) error {
	for id, t := range tasks {
		for _, dep := range t.Dependencies {
			if _, ok := tasks[dep]; !ok {
				return E(KindInternal, "task %s depends on unknown task %s", id, dep)
			}
		}
	}

	// Kahn's algorithm; leftover nodes mean a cycle.
	indegree := make(map[string]int, len(tasks))
	dependents := make(map[string][]string, len(tasks))
	for id, t := range tasks {
		indegree[id] = len(t.Dependencies)
		for _, dep := range t.Dependencies {
			dependents[dep] = append(dependents[dep], id)
		}
	}
	queue := make([]string, 0, len(tasks))
	for id, deg := range indegree {
		if deg == 0 {
			queue = append(queue, id)
		}
	}
	visited := 0
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		visited++
		for _, next := range dependents[id] {
			indegree[next]--
			if indegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}
	if visited != len(tasks) {
		return E(KindInternal, "task graph contains a cycle")
	}
	return nil
}

// readySet returns idle tasks whose dependencies have all succeeded, in FIFO
// order (creation time, then ID for a stable tiebreak).
func readySet(tasks map[string]*models.Task) []*models.Task {
	var ready []*models.Task
	for _, t := range tasks {
		if t.Status != models.TaskStatusIdle {
			continue
		}
		ok := true
		for _, dep := range t.Dependencies {
			if tasks[dep].Status != models.TaskStatusSucceeded {
				ok = false
				break
			}
		}
		if ok {
			ready = append(ready, t)
		}
	}
	sort.Slice(ready, func(i, j int) bool {
		if !ready[i].CreatedAt.Equal(ready[j].CreatedAt) {
			return ready[i].CreatedAt.Before(ready[j].CreatedAt)
		}
		return ready[i].ID < ready[j].ID
	})
	return ready
}

// runningCount counts tasks currently occupying an agent slot.
func runningCount(tasks map[string]*models.Task) int {
	n := 0
	for _, t := range tasks {
		if t.Status == models.TaskStatusPreparing || t.Status == models.TaskStatusRunning {
			n++
		}
	}
	return n
}

// graphProgress is the weighted mean of task progress, in [0,1].
func graphProgress(tasks map[string]*models.Task) float64 {
	var sum, wsum float64
	for _, t := range tasks {
		w := t.Weight
		if w <= 0 {
			w = 1
		}
		sum += t.Progress * w
		wsum += w
	}
	if wsum == 0 {
		return 0
	}
	return sum / wsum
}

// graphBlocked reports whether scheduling is wedged: nothing running,
// nothing ready, but non-terminal tasks remain. Happens when a dependency
// failed and its dependents can never start.
func graphBlocked(tasks map[string]*models.Task) bool {
	if runningCount(tasks) > 0 || len(readySet(tasks)) > 0 {
		return false
	}
	for _, t := range tasks {
		if !t.Status.Terminal() {
			return true
		}
	}
	return false
}
