// Package graph builds and validates the task DAG described in §4.5:
// edges are inferred from data-handle producer/consumer relationships
// rather than declared explicitly, so AddTask is the only place edges are
// created.
package graph

import (
	"fmt"
	"sort"

	"github.com/vk/taskmesh/internal/datastore"
	"github.com/vk/taskmesh/internal/task"
)

// Graph is a task DAG under construction or already committed to a
// scheduler. The zero value is not usable; construct one with New.
type Graph struct {
	nextID task.ID
	tasks  map[task.ID]task.Task

	dataProducer map[datastore.DataID]task.ID
	unfulfilled  map[datastore.DataID][]task.ID

	dependencies map[task.ID][]task.ID // producers of t's inputs
	dependents   map[task.ID][]task.ID // inverse of dependencies, keyed by producer (incl. task.Root)
}

// New returns an empty Graph.
func New() *Graph {
	return &Graph{
		tasks:        make(map[task.ID]task.Task),
		dataProducer: make(map[datastore.DataID]task.ID),
		unfulfilled:  make(map[datastore.DataID][]task.ID),
		dependencies: make(map[task.ID][]task.ID),
		dependents:   make(map[task.ID][]task.ID),
	}
}

// AddTask assigns t the next TaskID, wires it against existing producers
// (or records its inputs as unfulfilled), and resolves any tasks that were
// waiting on t's own output. Per §4.5, a second task claiming an output ID
// some earlier task already produces fails ErrDuplicateProducer.
func (g *Graph) AddTask(t task.Task) (task.ID, error) {
	id := g.nextID
	g.nextID++
	t.SetID(id)

	if existing, ok := g.dataProducer[t.Output()]; ok {
		return 0, fmt.Errorf("%w: output %s already produced by %s", ErrDuplicateProducer, t.Output(), existing)
	}
	g.tasks[id] = t
	g.dataProducer[t.Output()] = id

	for _, in := range t.Inputs() {
		producer, known := g.dataProducer[in]
		if !known {
			g.unfulfilled[in] = append(g.unfulfilled[in], id)
			continue
		}
		if producer != task.Root {
			g.dependencies[id] = append(g.dependencies[id], producer)
			g.dependents[producer] = append(g.dependents[producer], id)
		}
	}

	if waiters, ok := g.unfulfilled[t.Output()]; ok {
		g.dependents[id] = append(g.dependents[id], waiters...)
		for _, w := range waiters {
			g.dependencies[w] = append(g.dependencies[w], id)
		}
		delete(g.unfulfilled, t.Output())
	}

	return id, nil
}

// RegisterExternalData records dataID as produced by the synthetic root,
// so any task consuming it is treated as a zero-dependency root task
// instead of failing validation with ErrUnfulfilledData. Call this for
// every DataID the client registers directly in the data store before
// adding tasks.
func (g *Graph) RegisterExternalData(dataID datastore.DataID) {
	g.dataProducer[dataID] = task.Root
	if waiters, ok := g.unfulfilled[dataID]; ok {
		g.dependents[task.Root] = append(g.dependents[task.Root], waiters...)
		delete(g.unfulfilled, dataID)
	}
}

// Validate fails ErrUnfulfilledData if any input is never produced, and
// ErrCyclic if the non-root graph contains a cycle — detected by running
// Kahn's algorithm from every zero-dependency task and checking every task
// was visited.
func (g *Graph) Validate() error {
	if len(g.unfulfilled) > 0 {
		ids := make([]datastore.DataID, 0, len(g.unfulfilled))
		for id := range g.unfulfilled {
			ids = append(ids, id)
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		return fmt.Errorf("%w: %v", ErrUnfulfilledData, ids)
	}

	inDegree := make(map[task.ID]int, len(g.tasks))
	for id := range g.tasks {
		inDegree[id] = len(g.dependencies[id])
	}

	// Every zero-dependency task is a valid root for Kahn's algorithm,
	// whether it consumes data registered via RegisterExternalData
	// (appearing under dependents[task.Root]) or declares no inputs at all.
	var queue []task.ID
	for id := range g.tasks {
		if inDegree[id] == 0 {
			queue = append(queue, id)
		}
	}

	visited := make(map[task.ID]bool, len(g.tasks))
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if visited[id] {
			continue
		}
		visited[id] = true
		for _, d := range g.dependents[id] {
			inDegree[d]--
			if inDegree[d] == 0 {
				queue = append(queue, d)
			}
		}
	}

	if len(visited) != len(g.tasks) {
		return fmt.Errorf("%w", ErrCyclic)
	}
	return nil
}

// ReadyTasks returns every task with no unresolved dependencies.
func (g *Graph) ReadyTasks() []task.ID {
	var ready []task.ID
	for id := range g.tasks {
		if len(g.dependencies[id]) == 0 {
			ready = append(ready, id)
		}
	}
	sort.Slice(ready, func(i, j int) bool { return ready[i] < ready[j] })
	return ready
}

// Dependencies returns the task IDs producing t's inputs.
func (g *Graph) Dependencies(t task.ID) []task.ID { return g.dependencies[t] }

// Dependents returns the task IDs consuming t's output.
func (g *Graph) Dependents(t task.ID) []task.ID { return g.dependents[t] }

// Task looks up a task by ID.
func (g *Graph) Task(id task.ID) (task.Task, bool) {
	t, ok := g.tasks[id]
	return t, ok
}

// TaskIDs returns every task ID in the graph, in construction order.
func (g *Graph) TaskIDs() []task.ID {
	ids := make([]task.ID, 0, len(g.tasks))
	for id := range g.tasks {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Len returns the number of tasks in the graph.
func (g *Graph) Len() int { return len(g.tasks) }
