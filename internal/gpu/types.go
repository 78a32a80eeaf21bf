// Package gpu defines the backend-agnostic GPU execution contract: buffer
// allocation, host/device copies, kernel dispatch, and the residency cache
// the scheduler consults before issuing a redundant transfer. Concrete
// drivers live in sibling packages (software, metal, cuda); callers depend
// only on the Backend interface declared here.
package gpu

import (
	"fmt"

	"github.com/vk/taskmesh/internal/datastore"
)

// BackendKind identifies which driver a GPUDevice selects.
type BackendKind int

const (
	// BackendSoftware is the always-available pure-Go reference driver.
	BackendSoftware BackendKind = iota
	BackendMetal
	BackendCUDA
)

func (k BackendKind) String() string {
	switch k {
	case BackendSoftware:
		return "software"
	case BackendMetal:
		return "metal"
	case BackendCUDA:
		return "cuda"
	default:
		return fmt.Sprintf("BackendKind(%d)", int(k))
	}
}

// GPUDevice selects a backend and, for multi-GPU hosts, a device index.
type GPUDevice struct {
	Backend  BackendKind
	DeviceID int
}

// DefaultDevice targets the software reference backend, device -1 (the
// backend's only device).
func DefaultDevice() GPUDevice {
	return GPUDevice{Backend: BackendSoftware, DeviceID: -1}
}

// BufferID names a BufferHandle independently of its other fields, so a
// handle's identity survives any future retagging of MemHint or Size.
type BufferID uint64

// BufferHandle is a capability naming a sub-allocated region of device
// memory. Two handles are equal iff their IDs are equal; Offset and Size
// describe the region but do not participate in equality.
type BufferHandle struct {
	ID      BufferID
	MemHint datastore.MemHint
	Offset  uint64
	Size    int
}

// Equal compares handles by ID alone, per §3's equality rule.
func (h BufferHandle) Equal(other BufferHandle) bool {
	return h.ID == other.ID
}

// Dim3 describes a three-dimensional grid or block extent.
type Dim3 struct {
	X, Y, Z int
}

// KernelDispatch names a single GPU program submission. Buffers appear in
// the order the kernel's signature expects them.
type KernelDispatch struct {
	KernelName string
	Buffers    []BufferHandle
	GridDim    Dim3
	BlockDim   Dim3
}

// DispatchType controls ordering guarantees across a batch submitted via
// Backend.ExecuteBatch.
type DispatchType int

const (
	// Serial enforces pairwise submission order across the batch.
	Serial DispatchType = iota
	// Concurrent permits any interleaving among the batch's dispatches.
	Concurrent
)

func (d DispatchType) String() string {
	switch d {
	case Serial:
		return "serial"
	case Concurrent:
		return "concurrent"
	default:
		return fmt.Sprintf("DispatchType(%d)", int(d))
	}
}

// OnComplete is invoked by a backend once an asynchronous operation
// retires. Backends may invoke it from a device callback context, so it
// must not block waiting on anything outside its own call — chaining a
// further async call back into the same backend (e.g. issuing the
// device-to-host copy once a kernel's completion fires) is fine and is how
// the scheduler's GPU visit builds its copy-in/dispatch/copy-out pipeline.
type OnComplete func()
