// Package software implements gpu.Backend without any real device: it
// sub-allocates within three in-process byte slabs (one per memory class)
// using the buddy allocator, and retires kernels on background goroutines
// instead of a device queue. It is always available, used as the runtime's
// default backend and as the GPUDevice target when no cgo driver was built
// in. Grounded on the goroutine-backed "CPU as GPU" model in
// LynnColeArt-guda's Context/Stream and the size-bucketed buffer reuse in
// djeday123-goml's Pool.
package software

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/vk/taskmesh/internal/buddy"
	"github.com/vk/taskmesh/internal/datastore"
	"github.com/vk/taskmesh/internal/gpu"
)

const defaultSlabSize = 1 << 24 // 16 MiB per memory class when unspecified

// KernelFunc computes a kernel's effect over its bound buffers, given as
// raw byte slices in binding order. The software backend has no real
// kernel compiler — compiled kernel sources are out of scope for this
// runtime — so execution is only possible for names registered with
// RegisterKernel; any other dispatch retires as a no-op.
type KernelFunc func(buffers [][]byte) error

// Config sizes each memory class's backing slab in bytes. Classes absent
// from SlabSize get defaultSlabSize. MinBlockSize floors every allocation's
// order within the backend's buddy allocators.
type Config struct {
	SlabSize     map[datastore.MemHint]int
	MinBlockSize int
}

// Driver is the software reference gpu.Backend.
type Driver struct {
	mu          sync.Mutex
	slabs       map[datastore.MemHint][]byte
	allocators  map[datastore.MemHint]*buddy.Allocator
	handles     map[gpu.BufferID]gpu.BufferHandle
	dataBuffers map[datastore.DataID]gpu.BufferHandle
	kernels     map[string]KernelFunc
	lastErr     error

	nextBufferID atomic.Uint64
	wg           sync.WaitGroup
}

var memHints = []datastore.MemHint{datastore.DeviceLocal, datastore.Unified, datastore.HostVisible}

// New builds a Driver with one slab and buddy allocator per memory class.
func New(cfg Config) (*Driver, error) {
	minBlock := cfg.MinBlockSize
	if minBlock <= 0 {
		minBlock = 64
	}
	minOrder := buddy.OrderOf(uint64(minBlock))

	d := &Driver{
		slabs:       make(map[datastore.MemHint][]byte),
		allocators:  make(map[datastore.MemHint]*buddy.Allocator),
		handles:     make(map[gpu.BufferID]gpu.BufferHandle),
		dataBuffers: make(map[datastore.DataID]gpu.BufferHandle),
		kernels:     make(map[string]KernelFunc),
	}
	for _, hint := range memHints {
		size := cfg.SlabSize[hint]
		if size <= 0 {
			size = defaultSlabSize
		}
		maxOrder := buddy.OrderOf(uint64(size))
		alloc, err := buddy.New(minOrder, maxOrder)
		if err != nil {
			return nil, fmt.Errorf("software: building %s allocator: %w", hint, err)
		}
		d.allocators[hint] = alloc
		d.slabs[hint] = make([]byte, uint64(1)<<uint(maxOrder))
	}
	return d, nil
}

// RegisterKernel installs fn under name so future ExecuteKernel/ExecuteBatch
// dispatches naming it actually compute something, instead of retiring as a
// no-op.
func (d *Driver) RegisterKernel(name string, fn KernelFunc) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.kernels[name] = fn
}

func (d *Driver) Kind() gpu.BackendKind { return gpu.BackendSoftware }

func (d *Driver) AllocateBuffer(size int, hint datastore.MemHint) (gpu.BufferHandle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	alloc, ok := d.allocators[hint]
	if !ok {
		return gpu.BufferHandle{}, fmt.Errorf("software: unsupported memory hint %s", hint)
	}
	offset, err := alloc.Allocate(uint64(size))
	if err != nil {
		return gpu.BufferHandle{}, err
	}

	h := gpu.BufferHandle{
		ID:      gpu.BufferID(d.nextBufferID.Add(1) - 1),
		MemHint: hint,
		Offset:  offset,
		Size:    size,
	}
	d.handles[h.ID] = h
	return h, nil
}

func (d *Driver) DeallocateBuffer(h gpu.BufferHandle) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.handles[h.ID]; !ok {
		return fmt.Errorf("%w: id=%d", gpu.ErrGhostBuffer, h.ID)
	}
	alloc := d.allocators[h.MemHint]
	if err := alloc.Free(uint64(h.Size), h.Offset); err != nil {
		return err
	}
	delete(d.handles, h.ID)
	return nil
}

// slabRegion returns the backing bytes for h under the lock, after
// confirming h is live.
func (d *Driver) slabRegion(h gpu.BufferHandle, length int) ([]byte, error) {
	if _, ok := d.handles[h.ID]; !ok {
		return nil, fmt.Errorf("%w: id=%d", gpu.ErrGhostBuffer, h.ID)
	}
	slab := d.slabs[h.MemHint]
	if int(h.Offset)+length > len(slab) {
		return nil, fmt.Errorf("%w: region [%d:%d] exceeds %s slab of %d bytes", gpu.ErrCopyFailure, h.Offset, int(h.Offset)+length, h.MemHint, len(slab))
	}
	return slab[h.Offset : int(h.Offset)+length], nil
}

func (d *Driver) CopyToDevice(data []byte, h gpu.BufferHandle) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	dst, err := d.slabRegion(h, len(data))
	if err != nil {
		return err
	}
	copy(dst, data)
	return nil
}

func (d *Driver) CopyFromDevice(out []byte, h gpu.BufferHandle, onComplete gpu.OnComplete) error {
	d.mu.Lock()
	src, err := d.slabRegion(h, len(out))
	d.mu.Unlock()
	if err != nil {
		return err
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		copy(out, src)
		if onComplete != nil {
			onComplete()
		}
	}()
	return nil
}

func (d *Driver) ExecuteKernel(disp gpu.KernelDispatch, onComplete gpu.OnComplete) error {
	if err := d.checkLive(disp.Buffers); err != nil {
		return err
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.runKernel(disp)
		if onComplete != nil {
			onComplete()
		}
	}()
	return nil
}

func (d *Driver) ExecuteBatch(ds []gpu.KernelDispatch, dispatchType gpu.DispatchType, onComplete gpu.OnComplete) error {
	for _, disp := range ds {
		if err := d.checkLive(disp.Buffers); err != nil {
			return err
		}
	}

	switch dispatchType {
	case gpu.Serial:
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			for _, disp := range ds {
				d.runKernel(disp)
			}
			if onComplete != nil {
				onComplete()
			}
		}()
	case gpu.Concurrent:
		var inner sync.WaitGroup
		for _, disp := range ds {
			disp := disp
			inner.Add(1)
			d.wg.Add(1)
			go func() {
				defer d.wg.Done()
				defer inner.Done()
				d.runKernel(disp)
			}()
		}
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			inner.Wait()
			if onComplete != nil {
				onComplete()
			}
		}()
	default:
		return fmt.Errorf("%w: %v", gpu.ErrInvalidDispatchType, dispatchType)
	}
	return nil
}

func (d *Driver) checkLive(buffers []gpu.BufferHandle) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, h := range buffers {
		if _, ok := d.handles[h.ID]; !ok {
			return fmt.Errorf("%w: id=%d", gpu.ErrGhostBuffer, h.ID)
		}
	}
	return nil
}

// runKernel executes disp's registered function, if any, recording the
// first error it sees onto lastErr for a subsequent Synchronize to surface.
// An unregistered kernel name retires immediately with no effect.
func (d *Driver) runKernel(disp gpu.KernelDispatch) {
	d.mu.Lock()
	fn, ok := d.kernels[disp.KernelName]
	var bufs [][]byte
	if ok {
		bufs = make([][]byte, len(disp.Buffers))
		for i, h := range disp.Buffers {
			region, err := d.slabRegion(h, h.Size)
			if err != nil {
				d.setErrLocked(err)
				d.mu.Unlock()
				return
			}
			bufs[i] = region
		}
	}
	d.mu.Unlock()

	if !ok {
		return
	}
	if err := fn(bufs); err != nil {
		d.mu.Lock()
		d.setErrLocked(fmt.Errorf("%w: kernel %q: %v", gpu.ErrKernelFailure, disp.KernelName, err))
		d.mu.Unlock()
	}
}

func (d *Driver) setErrLocked(err error) {
	if d.lastErr == nil {
		d.lastErr = err
	}
}

func (d *Driver) Synchronize() error {
	d.wg.Wait()
	d.mu.Lock()
	defer d.mu.Unlock()
	err := d.lastErr
	d.lastErr = nil
	return err
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
