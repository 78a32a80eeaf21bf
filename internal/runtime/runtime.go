// Package runtime is the facade described in §4.7: it owns the CPU worker
// pool and data store for a process, and turns a validated graph.Graph plus
// a target gpu.GPUDevice into a running scheduler, reporting the first
// error (if any) on a channel once the whole graph drains.
package runtime

import (
	"context"
	"fmt"

	"github.com/vk/taskmesh/internal/ctxlog"
	"github.com/vk/taskmesh/internal/datastore"
	"github.com/vk/taskmesh/internal/events"
	"github.com/vk/taskmesh/internal/gpu"
	_ "github.com/vk/taskmesh/internal/gpu/software" // registers gpu.BackendSoftware
	"github.com/vk/taskmesh/internal/graph"
	"github.com/vk/taskmesh/internal/pool"
	"github.com/vk/taskmesh/internal/scheduler"
)

// Runtime owns the long-lived resources a process keeps across multiple
// CommitGraph calls: the data store and the CPU worker pool. GPU backends
// are built fresh per CommitGraph call, since each may target a different
// device.
type Runtime struct {
	store  *datastore.Store
	pool   *pool.Pool
	events *events.Broadcaster
}

// New builds a Runtime backed by store, with a CPU pool of numThreads
// workers.
func New(ctx context.Context, store *datastore.Store, numThreads int) (*Runtime, error) {
	p, err := pool.New(ctx, numThreads)
	if err != nil {
		return nil, fmt.Errorf("runtime: %w", err)
	}
	return &Runtime{store: store, pool: p}, nil
}

// Store returns the data store this runtime was built with.
func (r *Runtime) Store() *datastore.Store { return r.store }

// SetEvents attaches a Broadcaster that every subsequent CommitGraph call's
// scheduler reports lifecycle transitions to. Passing nil disables
// reporting again.
func (r *Runtime) SetEvents(b *events.Broadcaster) { r.events = b }

// Close joins every CPU pool worker. No CommitGraph call should still be
// in flight when this is called.
func (r *Runtime) Close() { r.pool.Close() }

// CommitGraph validates g, builds the GPU backend device selects, and
// drives the graph to completion on a new goroutine. The returned channel
// receives exactly one value — nil on success; otherwise the validation
// error, the backend construction error, the first task error wrapped in
// scheduler.ErrTaskFailed, or the backend's Synchronize error — and is then
// closed.
func (r *Runtime) CommitGraph(ctx context.Context, g *graph.Graph, device gpu.GPUDevice) <-chan error {
	result := make(chan error, 1)
	logger := ctxlog.FromContext(ctx)

	go func() {
		defer close(result)

		if err := g.Validate(); err != nil {
			result <- fmt.Errorf("runtime: %w", err)
			return
		}

		backend, err := gpu.New(device, gpu.BackendParams{
			DeviceID:            device.DeviceID,
			MaxDeviceLocalBytes: r.store.MaxDeviceLocalByteSize(),
		})
		if err != nil {
			result <- fmt.Errorf("runtime: building %s backend: %w", device.Backend, err)
			return
		}

		logger.Info("runtime: committing graph", "tasks", g.Len(), "backend", device.Backend.String())
		sched := scheduler.New(ctx, r.store, r.pool, backend, g)
		if r.events != nil {
			sched.SetEvents(r.events)
		}
		if err := sched.ExecuteGraph(); err != nil {
			result <- err
			return
		}
		if err := backend.Synchronize(); err != nil {
			result <- fmt.Errorf("runtime: %w", err)
			return
		}
		result <- nil
	}()

	return result
}
