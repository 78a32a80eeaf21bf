// Package task defines the tagged-union task variants a TaskGraph holds:
// CpuTask bodies run on the CPU worker pool, GpuTask bodies dispatch a
// kernel through a gpu.Backend. Each variant implements Dispatch, so the
// scheduler never performs a runtime type switch — it calls Dispatch and
// lets the task route itself to the right Visitor method, the idiomatic Go
// stand-in for the source's dynamic-dispatch visitor.
package task

import (
	"fmt"

	"github.com/vk/taskmesh/internal/datastore"
)

// ID is a monotonically increasing task identifier. Root is the synthetic
// producer of every data ID supplied from outside the graph (registered
// directly in the data store rather than produced by a task).
type ID int64

// Root is the synthetic producer for externally supplied data.
const Root ID = -1

func (id ID) String() string {
	if id == Root {
		return "root"
	}
	return fmt.Sprintf("task#%d", int64(id))
}

// Visitor is implemented by the scheduler. Dispatch calls exactly one of
// these methods depending on the task's variant.
type Visitor interface {
	VisitCPU(*CPUTask) error
	VisitGPU(*GPUTask) error
}

// Task is the common capability every variant exposes to the graph and
// scheduler.
type Task interface {
	ID() ID
	Name() string
	Inputs() []datastore.DataID
	Output() datastore.DataID
	Dispatch(v Visitor) error

	// SetID is called exactly once, by Graph.AddTask, to assign the task's
	// place in construction order. Callers outside the graph package have
	// no reason to call it.
	SetID(ID)
}
