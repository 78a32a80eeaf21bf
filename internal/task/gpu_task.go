package task

import (
	"github.com/vk/taskmesh/internal/datastore"
	"github.com/vk/taskmesh/internal/gpu"
)

// GPUTask dispatches a single named kernel. CountBufferActive opts into a
// dynamic output size: the kernel writes its actual byte count into an
// 8-byte counter buffer the scheduler appends as the last binding, and
// reads it back before sizing the device-to-host copy.
type GPUTask struct {
	id                ID
	name              string
	inputs            []datastore.DataID
	output            datastore.DataID
	kernelName        string
	gridDim           gpu.Dim3
	blockDim          gpu.Dim3
	countBufferActive bool
}

// NewGPUTask builds a GPUTask bound to kernelName.
func NewGPUTask(name string, inputs []datastore.DataID, output datastore.DataID, kernelName string, gridDim, blockDim gpu.Dim3, countBufferActive bool) *GPUTask {
	return &GPUTask{
		name:              name,
		inputs:            inputs,
		output:            output,
		kernelName:        kernelName,
		gridDim:           gridDim,
		blockDim:          blockDim,
		countBufferActive: countBufferActive,
	}
}

func (t *GPUTask) ID() ID                     { return t.id }
func (t *GPUTask) Name() string               { return t.name }
func (t *GPUTask) Inputs() []datastore.DataID { return t.inputs }
func (t *GPUTask) Output() datastore.DataID   { return t.output }
func (t *GPUTask) Dispatch(v Visitor) error   { return v.VisitGPU(t) }
func (t *GPUTask) SetID(id ID)                 { t.id = id }

func (t *GPUTask) KernelName() string        { return t.kernelName }
func (t *GPUTask) GridDim() gpu.Dim3         { return t.gridDim }
func (t *GPUTask) BlockDim() gpu.Dim3        { return t.blockDim }
func (t *GPUTask) CountBufferActive() bool   { return t.countBufferActive }
