//go:build cuda

// Package cuda implements gpu.Backend over the CUDA Runtime API, through a
// cgo shim (libtaskmesh_cuda, not vendored in this module — build it with
// nvcc and point CGO_LDFLAGS at it). Only compiled with the cuda build tag;
// New returns gpu.ErrBackendUnavailable when no CUDA runtime or device is
// present. In builds without the tag nothing registers BackendCUDA, and
// gpu.New falls back to the software backend.
package cuda

/*
#cgo CFLAGS: -I${SRCDIR}
#cgo LDFLAGS: -L${SRCDIR} -ltaskmesh_cuda -lcudart

#include "taskmesh_cuda.h"
#include <stdlib.h>
*/
import "C"

import (
	"fmt"
	"sync"
	"unsafe"

	"github.com/vk/taskmesh/internal/datastore"
	"github.com/vk/taskmesh/internal/gpu"
)

// Driver is a gpu.Backend that dispatches through the CUDA Runtime API.
type Driver struct {
	mu          sync.Mutex
	handles     map[gpu.BufferID]C.tm_cuda_buffer
	dataBuffers map[datastore.DataID]gpu.BufferHandle
	nextID      uint64
}

// New selects deviceID and returns a Driver bound to it. It fails with
// gpu.ErrBackendUnavailable if no CUDA runtime or device is present.
func New(deviceID int) (*Driver, error) {
	if !bool(C.tm_cuda_available()) {
		return nil, gpu.ErrBackendUnavailable
	}
	if int(C.tm_cuda_device_count()) == 0 {
		return nil, fmt.Errorf("%w: no devices", gpu.ErrBackendUnavailable)
	}
	if deviceID >= 0 {
		if C.tm_cuda_set_device(C.int(deviceID)) != 0 {
			return nil, fmt.Errorf("%w: device %d", gpu.ErrBackendUnavailable, deviceID)
		}
	}
	return &Driver{
		handles:     make(map[gpu.BufferID]C.tm_cuda_buffer),
		dataBuffers: make(map[datastore.DataID]gpu.BufferHandle),
	}, nil
}

func (d *Driver) Kind() gpu.BackendKind { return gpu.BackendCUDA }

func (d *Driver) AllocateBuffer(size int, hint datastore.MemHint) (gpu.BufferHandle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	hostVisible := 0
	if hint == datastore.HostVisible {
		hostVisible = 1
	}
	var buf C.tm_cuda_buffer
	if C.tm_cuda_alloc(C.size_t(size), C.int(hostVisible), &buf) != 0 {
		return gpu.BufferHandle{}, fmt.Errorf("%w: alloc %d bytes", gpu.ErrCopyFailure, size)
	}
	id := gpu.BufferID(d.nextID)
	d.nextID++
	d.handles[id] = buf
	return gpu.BufferHandle{ID: id, MemHint: hint, Size: size}, nil
}

func (d *Driver) DeallocateBuffer(h gpu.BufferHandle) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	buf, ok := d.handles[h.ID]
	if !ok {
		return fmt.Errorf("%w: id=%d", gpu.ErrGhostBuffer, h.ID)
	}
	C.tm_cuda_free(buf)
	delete(d.handles, h.ID)
	return nil
}

func (d *Driver) CopyToDevice(data []byte, h gpu.BufferHandle) error {
	d.mu.Lock()
	buf, ok := d.handles[h.ID]
	d.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: id=%d", gpu.ErrGhostBuffer, h.ID)
	}
	if len(data) == 0 {
		return nil
	}
	if C.tm_cuda_copy_h2d(buf, unsafe.Pointer(&data[0]), C.size_t(len(data))) != 0 {
		return fmt.Errorf("%w: h2d %d bytes", gpu.ErrCopyFailure, len(data))
	}
	return nil
}

func (d *Driver) CopyFromDevice(out []byte, h gpu.BufferHandle, onComplete gpu.OnComplete) error {
	d.mu.Lock()
	buf, ok := d.handles[h.ID]
	d.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: id=%d", gpu.ErrGhostBuffer, h.ID)
	}

	cb := registerCallback(onComplete)
	var ptr unsafe.Pointer
	if len(out) > 0 {
		ptr = unsafe.Pointer(&out[0])
	}
	if C.tm_cuda_copy_d2h_async(buf, ptr, C.size_t(len(out)), C.tm_callback(C.tm_invoke_callback), C.uintptr_t(cb)) != 0 {
		releaseCallback(cb)
		return fmt.Errorf("%w: d2h %d bytes", gpu.ErrCopyFailure, len(out))
	}
	return nil
}

func (d *Driver) ExecuteKernel(disp gpu.KernelDispatch, onComplete gpu.OnComplete) error {
	return d.ExecuteBatch([]gpu.KernelDispatch{disp}, gpu.Serial, onComplete)
}

func (d *Driver) ExecuteBatch(ds []gpu.KernelDispatch, dispatchType gpu.DispatchType, onComplete gpu.OnComplete) error {
	var mode C.int
	switch dispatchType {
	case gpu.Serial:
		mode = 0
	case gpu.Concurrent:
		mode = 1
	default:
		return fmt.Errorf("%w: %v", gpu.ErrInvalidDispatchType, dispatchType)
	}

	d.mu.Lock()
	cDisps := make([]C.tm_cuda_dispatch, len(ds))
	for i, disp := range ds {
		bufs := make([]C.tm_cuda_buffer, len(disp.Buffers))
		for j, h := range disp.Buffers {
			buf, ok := d.handles[h.ID]
			if !ok {
				d.mu.Unlock()
				return fmt.Errorf("%w: id=%d", gpu.ErrGhostBuffer, h.ID)
			}
			bufs[j] = buf
		}
		name := C.CString(disp.KernelName)
		defer C.free(unsafe.Pointer(name))
		var bufPtr *C.tm_cuda_buffer
		if len(bufs) > 0 {
			bufPtr = (*C.tm_cuda_buffer)(unsafe.Pointer(&bufs[0]))
		}
		cDisps[i] = C.tm_cuda_dispatch{
			kernel_name: name,
			buffers:     bufPtr,
			num_buffers: C.size_t(len(bufs)),
			grid:        C.tm_dim3{x: C.int(disp.GridDim.X), y: C.int(disp.GridDim.Y), z: C.int(disp.GridDim.Z)},
			block:       C.tm_dim3{x: C.int(disp.BlockDim.X), y: C.int(disp.BlockDim.Y), z: C.int(disp.BlockDim.Z)},
		}
	}
	d.mu.Unlock()

	cb := registerCallback(onComplete)
	var first *C.tm_cuda_dispatch
	if len(cDisps) > 0 {
		first = &cDisps[0]
	}
	if C.tm_cuda_execute_batch(first, C.size_t(len(cDisps)), mode, C.tm_callback(C.tm_invoke_callback), C.uintptr_t(cb)) != 0 {
		releaseCallback(cb)
		return fmt.Errorf("%w: batch of %d", gpu.ErrKernelFailure, len(ds))
	}
	return nil
}

func (d *Driver) Synchronize() error {
	if C.tm_cuda_synchronize() != 0 {
		return fmt.Errorf("%w: synchronize", gpu.ErrKernelFailure)
	}
	return nil
}

func (d *Driver) MapDataToBuffer(id datastore.DataID, h gpu.BufferHandle) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dataBuffers[id] = h
}

func (d *Driver) DataBufferExists(id datastore.DataID) (gpu.BufferHandle, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	h, ok := d.dataBuffers[id]
	return h, ok
}
