// Package scheduler implements the event-driven execution loop described in
// §4.6: a single scheduler thread drains a ready queue, dispatches each
// task to the CPU pool or a GPU backend, and blocks on a completion queue
// between batches. It is a Go translation of the original Scheduler.cpp's
// execute_graph loop, generalized from that program's fixed dot-product
// pipeline to the arbitrary task.Task graphs internal/graph builds.
package scheduler

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/vk/taskmesh/internal/ctxlog"
	"github.com/vk/taskmesh/internal/datastore"
	"github.com/vk/taskmesh/internal/events"
	"github.com/vk/taskmesh/internal/gpu"
	"github.com/vk/taskmesh/internal/graph"
	"github.com/vk/taskmesh/internal/pool"
	"github.com/vk/taskmesh/internal/task"
)

// idleBufferKey identifies a pool of interchangeable idle buffers: same
// size and same memory class, since a backend may index its backing
// storage by MemHint.
type idleBufferKey struct {
	size int
	hint datastore.MemHint
}

// gpuBookkeeping records the buffers a running GPU task is holding, so the
// scheduler thread can release them back to the idle pool once the task
// completes. It is only ever touched from the scheduler thread.
type gpuBookkeeping struct {
	inputBuffers  []gpu.BufferHandle
	outputBuffer  gpu.BufferHandle
	counterBuffer *gpu.BufferHandle
}

// Scheduler drives one graph's execution to completion. It implements
// task.Visitor: Dispatch routes each task to VisitCPU or VisitGPU depending
// on its variant.
type Scheduler struct {
	store   *datastore.Store
	pool    *pool.Pool
	backend gpu.Backend
	g       *graph.Graph
	logger  *slog.Logger

	completion *CompletionQueue

	// idleBuffers is a multimap from (exact byte size, memory hint) to
	// currently unused device buffers, consulted before falling back to the
	// backend's own allocator. Keyed on hint as well as size because the
	// software backend indexes its backing slab by MemHint — reusing a
	// HostVisible buffer for a DeviceLocal allocation would read/write the
	// wrong slab. Mutated only by the scheduler thread, per §4.6.2's
	// ownership rule.
	idleBuffers map[idleBufferKey][]gpu.BufferHandle

	// pendingReaders counts, per DataID, how many not-yet-completed tasks
	// still declare it as an input. It is seeded once from the whole graph
	// and decremented as tasks complete; a buffer whose DataID reaches zero
	// readers is eligible for release.
	pendingReaders map[datastore.DataID]int

	gpuBuffers map[task.ID]*gpuBookkeeping

	// events, if set via SetEvents, receives lifecycle transitions for
	// external observers (cmd/taskmesh run --events-addr). Nil by default: the
	// scheduler's control flow never depends on whether anything is
	// listening, so every publish call below is a guarded no-op.
	events *events.Broadcaster

	errMu    sync.Mutex
	firstErr error
}

// SetEvents attaches a Broadcaster that subsequently receives every
// lifecycle transition this Scheduler reports. Passing nil disables
// reporting again. Not safe to call concurrently with ExecuteGraph.
func (s *Scheduler) SetEvents(b *events.Broadcaster) {
	s.events = b
}

func (s *Scheduler) publish(evType events.Type, taskID task.ID, detail string) {
	if s.events == nil {
		return
	}
	s.events.Publish(events.Event{Type: evType, Task: taskID.String(), Detail: detail, AtNanos: time.Now()})
}

// New builds a Scheduler for g, bound to store for host-side data and
// backend for GPU dispatch. g.Validate must already have succeeded.
func New(ctx context.Context, store *datastore.Store, workerPool *pool.Pool, backend gpu.Backend, g *graph.Graph) *Scheduler {
	pendingReaders := make(map[datastore.DataID]int)
	for _, id := range g.TaskIDs() {
		t, _ := g.Task(id)
		for _, in := range t.Inputs() {
			pendingReaders[in]++
		}
	}

	return &Scheduler{
		store:          store,
		pool:           workerPool,
		backend:        backend,
		g:              g,
		logger:         ctxlog.FromContext(ctx),
		completion:     NewCompletionQueue(),
		idleBuffers:    make(map[idleBufferKey][]gpu.BufferHandle),
		pendingReaders: pendingReaders,
		gpuBuffers:     make(map[task.ID]*gpuBookkeeping),
	}
}

// ExecuteGraph runs every task in g to completion, following the dependency
// order internal/graph inferred, and returns the first task error wrapped
// in ErrTaskFailed (if any). It blocks the calling goroutine for the whole
// run; callers that want it off the calling goroutine should run it in one
// of their own (see internal/runtime.CommitGraph).
func (s *Scheduler) ExecuteGraph() error {
	defer s.completion.Close()

	outstanding := make(map[task.ID]int, s.g.Len())
	state := make(map[task.ID]State, s.g.Len())
	ready := s.g.ReadyTasks()
	for _, id := range s.g.TaskIDs() {
		outstanding[id] = len(s.g.Dependencies(id))
		state[id] = Pending
	}
	for _, id := range ready {
		state[id] = Ready
		s.publish(events.TaskReady, id, "")
	}

	numComplete := 0
	total := s.g.Len()
	s.logger.Debug("scheduler: starting graph", "tasks", total, "ready", len(ready))

	for numComplete < total {
		for _, id := range ready {
			t, ok := s.g.Task(id)
			if !ok {
				continue
			}
			state[id] = Running
			s.publish(events.TaskRunning, id, "")
			if err := t.Dispatch(s); err != nil {
				s.recordError(id, err)
				s.completion.Push(id)
				continue
			}
		}
		ready = ready[:0]

		completed := s.completion.WaitDrain()
		if completed == nil {
			break
		}
		for _, id := range completed {
			if state[id] == Complete {
				continue
			}
			state[id] = Complete
			numComplete++
			s.publish(events.TaskComplete, id, "")
			s.releaseTaskBuffers(id)

			for _, dep := range s.g.Dependents(id) {
				outstanding[dep]--
				if outstanding[dep] == 0 {
					state[dep] = Ready
					ready = append(ready, dep)
					s.publish(events.TaskReady, dep, "")
				}
			}
		}
	}

	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.firstErr != nil {
		return fmt.Errorf("%w: %v", ErrTaskFailed, s.firstErr)
	}
	return nil
}

func (s *Scheduler) recordError(id task.ID, err error) {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.firstErr == nil {
		s.firstErr = fmt.Errorf("%s: %w", id, err)
	}
	s.logger.Error("scheduler: task failed", "task", id.String(), "error", err)
}

// releaseTaskBuffers returns id's GPU buffers to the idle pool once it has
// completed: the ephemeral counter buffer unconditionally, the output
// buffer only if no remaining task still needs to read it. Input buffers
// are reclaimed lazily, from whichever task happens to be the last reader
// of the underlying DataID — which may be a different task than id.
func (s *Scheduler) releaseTaskBuffers(id task.ID) {
	t, ok := s.g.Task(id)
	if !ok {
		return
	}

	if bk, ok := s.gpuBuffers[id]; ok {
		if bk.counterBuffer != nil {
			s.releaseBuffer(*bk.counterBuffer)
		}
		if s.pendingReaders[t.Output()] == 0 {
			s.releaseBuffer(bk.outputBuffer)
		}
		delete(s.gpuBuffers, id)
	}

	for _, in := range t.Inputs() {
		s.pendingReaders[in]--
		if s.pendingReaders[in] == 0 {
			if h, ok := s.backend.DataBufferExists(in); ok {
				s.releaseBuffer(h)
			}
		}
	}
}

// acquireBuffer returns the smallest idle buffer of the same memory class
// that fits size, or falls back to a fresh allocation from the backend.
// Reuse never crosses memory classes: the software backend indexes its
// backing slab by MemHint, so handing back a buffer carved from the
// HostVisible slab for a DeviceLocal request would silently corrupt
// whichever allocation already owns that offset in the DeviceLocal slab.
func (s *Scheduler) acquireBuffer(size int, hint datastore.MemHint) (gpu.BufferHandle, error) {
	bestSize := -1
	for key, list := range s.idleBuffers {
		if key.hint != hint || key.size < size || len(list) == 0 {
			continue
		}
		if bestSize == -1 || key.size < bestSize {
			bestSize = key.size
		}
	}
	if bestSize != -1 {
		key := idleBufferKey{size: bestSize, hint: hint}
		list := s.idleBuffers[key]
		h := list[len(list)-1]
		s.idleBuffers[key] = list[:len(list)-1]
		if s.events != nil {
			s.events.Publish(events.Event{Type: events.BufferReused, AtNanos: time.Now()})
		}
		return h, nil
	}
	h, err := s.backend.AllocateBuffer(size, hint)
	if err == nil && s.events != nil {
		s.events.Publish(events.Event{Type: events.BufferAllocated, AtNanos: time.Now()})
	}
	return h, err
}

func (s *Scheduler) releaseBuffer(h gpu.BufferHandle) {
	key := idleBufferKey{size: h.Size, hint: h.MemHint}
	s.idleBuffers[key] = append(s.idleBuffers[key], h)
}

// VisitCPU submits t's body to the CPU pool and posts its completion once
// the body returns, whether by returning an error, returning nil, or
// panicking. The recover here is deliberately separate from the pool's own
// panic safety net: that net resolves the pool's own Completion, but we
// need the push onto s.completion to happen unconditionally or the graph's
// main loop would block forever waiting for a task that silently vanished.
func (s *Scheduler) VisitCPU(t *task.CPUTask) error {
	s.pool.Submit(func() {
		defer func() {
			if r := recover(); r != nil {
				s.recordError(t.ID(), fmt.Errorf("panic: %v", r))
			}
			s.completion.Push(t.ID())
		}()
		if err := t.Run(); err != nil {
			s.recordError(t.ID(), err)
		}
	})
	return nil
}

// VisitGPU stages t's inputs onto the device (skipping any already
// resident, per the backend's data buffer cache), acquires an output
// buffer, dispatches the kernel, and chains the device-to-host copy from
// the kernel's own completion callback. If CountBufferActive, the kernel's
// actual output size is read back from an appended 8-byte counter buffer
// before the output copy is sized, per §4.6.2's dynamic-output path.
func (s *Scheduler) VisitGPU(t *task.GPUTask) error {
	inputs := t.Inputs()
	inputBuffers := make([]gpu.BufferHandle, len(inputs))
	maxInputSize := 0

	for i, d := range inputs {
		sz, err := s.store.ByteSize(d)
		if err != nil {
			return err
		}
		if sz > maxInputSize {
			maxInputSize = sz
		}
		if h, ok := s.backend.DataBufferExists(d); ok {
			inputBuffers[i] = h
			continue
		}
		hint, err := s.store.MemHint(d)
		if err != nil {
			return err
		}
		h, err := s.acquireBuffer(sz, hint)
		if err != nil {
			return err
		}
		span, err := s.store.GetSpan(d)
		if err != nil {
			return err
		}
		if err := s.backend.CopyToDevice(span, h); err != nil {
			return err
		}
		s.backend.MapDataToBuffer(d, h)
		inputBuffers[i] = h
	}

	outSize, err := s.store.ByteSize(t.Output())
	if err != nil {
		return err
	}
	if outSize == 0 {
		outSize = maxInputSize
	}
	outHint, err := s.store.MemHint(t.Output())
	if err != nil {
		return err
	}
	outBuffer, err := s.acquireBuffer(outSize, outHint)
	if err != nil {
		return err
	}

	buffers := append(append([]gpu.BufferHandle{}, inputBuffers...), outBuffer)

	bk := &gpuBookkeeping{inputBuffers: inputBuffers, outputBuffer: outBuffer}

	var counterBuffer gpu.BufferHandle
	if t.CountBufferActive() {
		counterBuffer, err = s.acquireBuffer(8, datastore.HostVisible)
		if err != nil {
			return err
		}
		bk.counterBuffer = &counterBuffer
		buffers = append(buffers, counterBuffer)
	}

	s.gpuBuffers[t.ID()] = bk

	dispatch := gpu.KernelDispatch{
		KernelName: t.KernelName(),
		Buffers:    buffers,
		GridDim:    t.GridDim(),
		BlockDim:   t.BlockDim(),
	}

	onKernelDone := func() { s.finishGPUTask(t, outBuffer, bk.counterBuffer) }
	if err := s.backend.ExecuteKernel(dispatch, onKernelDone); err != nil {
		return err
	}
	return nil
}

// finishGPUTask runs as the kernel's completion callback: it chains the
// device-to-host copy (and, for a dynamic output, the counter-buffer read
// that sizes it) and finally pushes the task onto the completion queue.
// Every step here is asynchronous — nothing in this call chain blocks — so
// it's safe to run on whatever goroutine the backend invokes it from.
func (s *Scheduler) finishGPUTask(t *task.GPUTask, outBuffer gpu.BufferHandle, counterBuffer *gpu.BufferHandle) {
	if counterBuffer == nil {
		span, err := s.store.GetSpanMut(t.Output())
		if err != nil {
			s.recordError(t.ID(), err)
			s.completion.Push(t.ID())
			return
		}
		if err := s.backend.CopyFromDevice(span, outBuffer, func() { s.completion.Push(t.ID()) }); err != nil {
			s.recordError(t.ID(), err)
			s.completion.Push(t.ID())
		}
		return
	}

	countBytes := make([]byte, 8)
	cb := *counterBuffer
	err := s.backend.CopyFromDevice(countBytes, cb, func() {
		count := int(binary.LittleEndian.Uint64(countBytes))
		span := make([]byte, count)
		if err := s.backend.CopyFromDevice(span, outBuffer, func() {
			if err := s.store.StoreBytes(t.Output(), span); err != nil {
				s.recordError(t.ID(), err)
			}
			s.completion.Push(t.ID())
		}); err != nil {
			s.recordError(t.ID(), err)
			s.completion.Push(t.ID())
		}
	})
	if err != nil {
		s.recordError(t.ID(), err)
		s.completion.Push(t.ID())
	}
}
