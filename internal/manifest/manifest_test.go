package manifest

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/taskmesh/internal/ctxlog"
	"github.com/vk/taskmesh/internal/gpu/software"
	"github.com/vk/taskmesh/internal/pool"
	"github.com/vk/taskmesh/internal/scheduler"
)

func testContext() context.Context {
	return ctxlog.WithLogger(context.Background(), slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1})))
}

func writeManifest(t *testing.T, body string) string {
	dir := t.TempDir()
	path := filepath.Join(dir, "graph.hcl")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

const dotProductManifest = `
data "v1" {
  usage    = "read_only"
  mem_hint = "host_visible"
  values   = [1.0, 2.0, 3.0, 4.0, 5.0]
}

data "v2" {
  usage    = "read_only"
  mem_hint = "host_visible"
  values   = [-1.0, -2.0, -3.0, -4.0, -5.0]
}

cpu_task "dp" {
  fn     = "dot_product"
  inputs = ["v1", "v2"]
  output = "out"
}
`

func TestLoadDecodesDotProductManifest(t *testing.T) {
	path := writeManifest(t, dotProductManifest)

	g, store, err := Load(testContext(), path)
	require.NoError(t, err)
	assert.Equal(t, 1, g.Len())

	p, err := pool.New(testContext(), 2)
	require.NoError(t, err)
	t.Cleanup(p.Close)
	backend, err := software.New(software.Config{})
	require.NoError(t, err)

	sched := scheduler.New(testContext(), store, p, backend, g)
	require.NoError(t, sched.ExecuteGraph())

	ids := g.TaskIDs()
	require.Len(t, ids, 1)
	tsk, ok := g.Task(ids[0])
	require.True(t, ok)
	result, err := store.GetSpan(tsk.Output())
	require.NoError(t, err)
	require.Len(t, result, 8)
}

func TestLoadRejectsUnknownDataReference(t *testing.T) {
	path := writeManifest(t, `
cpu_task "dp" {
  fn     = "dot_product"
  inputs = ["missing_a", "missing_b"]
  output = "out"
}
`)
	_, _, err := Load(testContext(), path)
	assert.ErrorIs(t, err, ErrUnknownDataReference)
}

func TestLoadRejectsUnregisteredFunction(t *testing.T) {
	path := writeManifest(t, `
data "v1" {
  usage    = "read_only"
  mem_hint = "host_visible"
  values   = [1.0]
}

cpu_task "t" {
  fn     = "does_not_exist"
  inputs = ["v1"]
  output = "out"
}
`)
	_, _, err := Load(testContext(), path)
	assert.ErrorIs(t, err, ErrUnknownTaskFunction)
}

func TestLoadRejectsDuplicateDataName(t *testing.T) {
	path := writeManifest(t, `
data "v1" {
  usage    = "read_only"
  mem_hint = "host_visible"
  values   = [1.0]
}

data "v1" {
  usage    = "read_only"
  mem_hint = "host_visible"
  values   = [2.0]
}
`)
	_, _, err := Load(testContext(), path)
	assert.ErrorIs(t, err, ErrDuplicateDataName)
}

func TestLoadRejectsMalformedDim3(t *testing.T) {
	path := writeManifest(t, `
data "v1" {
  usage    = "read_only"
  mem_hint = "device_local"
  values   = [1.0, 2.0]
}

gpu_task "scale" {
  grid_dim            = [1, 1]
  block_dim           = [64, 1, 1]
  count_buffer_active = false
  inputs              = ["v1"]
  output              = "scaled"
}
`)
	_, _, err := Load(testContext(), path)
	assert.ErrorIs(t, err, ErrInvalidDim3)
}
