package gpu

import "github.com/vk/taskmesh/internal/datastore"

// Backend is the abstract operation set a GPU driver must implement. The
// runtime selects one implementation per GPUDevice.Backend and hands it to
// the scheduler, which makes every call on it except the runtime's final
// Synchronize.
type Backend interface {
	Kind() BackendKind

	// AllocateBuffer sub-allocates size bytes from the class's slab.
	AllocateBuffer(size int, hint datastore.MemHint) (BufferHandle, error)
	// DeallocateBuffer returns a buffer's range to its class allocator.
	DeallocateBuffer(h BufferHandle) error

	// CopyToDevice writes data into h synchronously.
	CopyToDevice(data []byte, h BufferHandle) error
	// CopyFromDevice reads h's contents into out asynchronously; onComplete
	// fires once the transfer retires.
	CopyFromDevice(out []byte, h BufferHandle, onComplete OnComplete) error

	// ExecuteKernel submits one kernel; onComplete fires after retirement.
	ExecuteKernel(d KernelDispatch, onComplete OnComplete) error
	// ExecuteBatch submits several kernels under the given ordering
	// discipline; onComplete fires once the whole batch retires.
	ExecuteBatch(ds []KernelDispatch, dispatchType DispatchType, onComplete OnComplete) error

	// Synchronize blocks until every outstanding submission retires.
	Synchronize() error

	// MapDataToBuffer records that id's current device-resident copy lives
	// in h, so a future input lookup for id can skip its H2D copy.
	MapDataToBuffer(id datastore.DataID, h BufferHandle)
	// DataBufferExists reports id's mapped buffer, if any.
	DataBufferExists(id datastore.DataID) (BufferHandle, bool)
}
