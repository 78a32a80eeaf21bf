// Package manifest decodes an HCL graph manifest into a ready-to-commit
// graph.Graph and its backing datastore.Store, per §4.8 of the runtime
// specification. It is a narrower cousin of the teacher's hcl_adapter
// loader: this manifest shape has no variables, no cross-step expression
// evaluation, and no runner registry beyond named CPU functions, so a
// direct gohcl.DecodeBody into typed blocks is enough — there's no need
// for the teacher's general cty-conversion layer.
package manifest

import (
	"context"
	"fmt"

	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"

	"github.com/vk/taskmesh/internal/ctxlog"
	"github.com/vk/taskmesh/internal/datastore"
	"github.com/vk/taskmesh/internal/gpu"
	"github.com/vk/taskmesh/internal/graph"
	"github.com/vk/taskmesh/internal/task"
	"github.com/vk/taskmesh/internal/taskfn"
)

type dataBlock struct {
	Name    string    `hcl:"name,label"`
	Usage   string    `hcl:"usage"`
	MemHint string    `hcl:"mem_hint"`
	Values  []float64 `hcl:"values"`
}

type cpuTaskBlock struct {
	Name   string   `hcl:"name,label"`
	Fn     string   `hcl:"fn"`
	Inputs []string `hcl:"inputs"`
	Output string   `hcl:"output"`
}

type gpuTaskBlock struct {
	Name              string   `hcl:"name,label"`
	GridDim           []int    `hcl:"grid_dim"`
	BlockDim          []int    `hcl:"block_dim"`
	CountBufferActive bool     `hcl:"count_buffer_active"`
	Inputs            []string `hcl:"inputs"`
	Output            string   `hcl:"output"`
}

type fileRoot struct {
	Data     []dataBlock    `hcl:"data,block"`
	CPUTasks []cpuTaskBlock `hcl:"cpu_task,block"`
	GPUTasks []gpuTaskBlock `hcl:"gpu_task,block"`
}

// Load decodes the HCL document at path into a populated Store and a
// validated Graph, resolving cpu_task.fn names through internal/taskfn.
func Load(ctx context.Context, path string) (*graph.Graph, *datastore.Store, error) {
	logger := ctxlog.FromContext(ctx)

	parser := hclparse.NewParser()
	file, diags := parser.ParseHCLFile(path)
	if diags.HasErrors() {
		return nil, nil, fmt.Errorf("manifest: parsing %s: %w", path, diags)
	}

	var root fileRoot
	if diags := gohcl.DecodeBody(file.Body, nil, &root); diags.HasErrors() {
		return nil, nil, fmt.Errorf("manifest: decoding %s: %w", path, diags)
	}

	store := datastore.New()
	g := graph.New()
	names := make(map[string]datastore.DataID)

	for _, d := range root.Data {
		if _, exists := names[d.Name]; exists {
			return nil, nil, fmt.Errorf("%w: %q", ErrDuplicateDataName, d.Name)
		}
		usage, err := parseUsage(d.Usage)
		if err != nil {
			return nil, nil, fmt.Errorf("manifest: data %q: %w", d.Name, err)
		}
		hint, err := parseMemHint(d.MemHint)
		if err != nil {
			return nil, nil, fmt.Errorf("manifest: data %q: %w", d.Name, err)
		}
		values := append([]float64(nil), d.Values...)
		handle := datastore.CreateDataHandle(store, values, usage, hint)
		names[d.Name] = handle.ID
		g.RegisterExternalData(handle.ID)
	}

	// Every task output not already declared as a data block gets a
	// placeholder entry so inputs declared ahead of their producer (see
	// graph.Graph.AddTask) still resolve to a real DataID at wiring time.
	for _, t := range root.CPUTasks {
		if _, exists := names[t.Output]; !exists {
			names[t.Output] = store.CreateVariableKernelHandle(datastore.ReadWrite, datastore.HostVisible, 0)
		}
	}
	for _, t := range root.GPUTasks {
		if _, exists := names[t.Output]; !exists {
			names[t.Output] = store.CreateVariableKernelHandle(datastore.ReadWrite, datastore.DeviceLocal, 0)
		}
	}

	resolve := func(refs []string) ([]datastore.DataID, error) {
		ids := make([]datastore.DataID, len(refs))
		for i, name := range refs {
			id, ok := names[name]
			if !ok {
				return nil, fmt.Errorf("%w: %q", ErrUnknownDataReference, name)
			}
			ids[i] = id
		}
		return ids, nil
	}

	for _, t := range root.CPUTasks {
		inputs, err := resolve(t.Inputs)
		if err != nil {
			return nil, nil, fmt.Errorf("manifest: cpu_task %q: %w", t.Name, err)
		}
		output := names[t.Output]
		fn, ok := taskfn.Lookup(t.Fn)
		if !ok {
			return nil, nil, fmt.Errorf("%w: %q", ErrUnknownTaskFunction, t.Fn)
		}
		body := func(inputs []datastore.DataID, output datastore.DataID) func() error {
			return func() error { return fn(store, inputs, output) }
		}(inputs, output)
		if _, err := g.AddTask(task.NewCPUTask(t.Name, inputs, output, body)); err != nil {
			return nil, nil, fmt.Errorf("manifest: cpu_task %q: %w", t.Name, err)
		}
	}

	for _, t := range root.GPUTasks {
		inputs, err := resolve(t.Inputs)
		if err != nil {
			return nil, nil, fmt.Errorf("manifest: gpu_task %q: %w", t.Name, err)
		}
		output := names[t.Output]
		grid, err := dim3(t.GridDim)
		if err != nil {
			return nil, nil, fmt.Errorf("manifest: gpu_task %q: grid_dim: %w", t.Name, err)
		}
		block, err := dim3(t.BlockDim)
		if err != nil {
			return nil, nil, fmt.Errorf("manifest: gpu_task %q: block_dim: %w", t.Name, err)
		}
		gt := task.NewGPUTask(t.Name, inputs, output, t.Name, grid, block, t.CountBufferActive)
		if _, err := g.AddTask(gt); err != nil {
			return nil, nil, fmt.Errorf("manifest: gpu_task %q: %w", t.Name, err)
		}
	}

	if err := g.Validate(); err != nil {
		return nil, nil, fmt.Errorf("manifest: %w", err)
	}

	logger.Info("manifest: loaded graph", "path", path, "tasks", g.Len(), "data", len(root.Data))
	return g, store, nil
}

func dim3(v []int) (gpu.Dim3, error) {
	if len(v) != 3 {
		return gpu.Dim3{}, fmt.Errorf("%w: want 3 elements, got %d", ErrInvalidDim3, len(v))
	}
	return gpu.Dim3{X: v[0], Y: v[1], Z: v[2]}, nil
}

func parseUsage(s string) (datastore.Usage, error) {
	switch s {
	case "read_only":
		return datastore.ReadOnly, nil
	case "read_write":
		return datastore.ReadWrite, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidUsage, s)
	}
}

func parseMemHint(s string) (datastore.MemHint, error) {
	switch s {
	case "device_local":
		return datastore.DeviceLocal, nil
	case "unified":
		return datastore.Unified, nil
	case "host_visible":
		return datastore.HostVisible, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidMemHint, s)
	}
}
