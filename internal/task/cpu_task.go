package task

import "github.com/vk/taskmesh/internal/datastore"

// CPUTask carries an erased callable that, on invocation, reads its inputs
// from the data store, computes a result, and writes it to Output. Build
// the callable with datastore.Get[T] / datastore.StoreTyped[T] at the call
// site — that's where the generic type information lives; CPUTask itself
// only ever sees Fn() error.
type CPUTask struct {
	id     ID
	name   string
	inputs []datastore.DataID
	output datastore.DataID
	fn     func() error
}

// NewCPUTask builds a CPUTask. fn is invoked by the scheduler's CPU pool
// visit; any error it returns, or a panic it raises, is recorded by the
// scheduler as a task error rather than killing the worker that ran it.
func NewCPUTask(name string, inputs []datastore.DataID, output datastore.DataID, fn func() error) *CPUTask {
	return &CPUTask{name: name, inputs: inputs, output: output, fn: fn}
}

func (t *CPUTask) ID() ID                     { return t.id }
func (t *CPUTask) Name() string                { return t.name }
func (t *CPUTask) Inputs() []datastore.DataID { return t.inputs }
func (t *CPUTask) Output() datastore.DataID   { return t.output }
func (t *CPUTask) Dispatch(v Visitor) error   { return v.VisitCPU(t) }
func (t *CPUTask) SetID(id ID)                 { t.id = id }

// Run invokes the wrapped callable. Exposed so the scheduler's CPU visit
// doesn't need a second indirection to reach fn.
func (t *CPUTask) Run() error { return t.fn() }
