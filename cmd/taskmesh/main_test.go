package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunNoArgsPrintsUsage(t *testing.T) {
	out := &bytes.Buffer{}
	err := run(out, nil)
	require.NoError(t, err)
	assert.Contains(t, out.String(), "Usage:")
}

func TestRunUnknownCommand(t *testing.T) {
	out := &bytes.Buffer{}
	err := run(out, []string{"bogus"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown command "bogus"`)
}

func TestRunMissingManifestPath(t *testing.T) {
	out := &bytes.Buffer{}
	err := run(out, []string{"run"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing manifest path")
}

func TestRunExecutesDotProductManifest(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "graph.hcl")
	body := `
data "v1" {
  usage    = "read_only"
  mem_hint = "host_visible"
  values   = [1.0, 2.0, 3.0]
}

data "v2" {
  usage    = "read_only"
  mem_hint = "host_visible"
  values   = [4.0, 5.0, 6.0]
}

cpu_task "dp" {
  fn     = "dot_product"
  inputs = ["v1", "v2"]
  output = "out"
}
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	out := &bytes.Buffer{}
	err := run(out, []string{"run", "-workers", "2", path})
	require.NoError(t, err)
}

func TestRunPropagatesFlagParseError(t *testing.T) {
	out := &bytes.Buffer{}
	err := run(out, []string{"run", "--this-is-not-a-valid-flag"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "flag provided but not defined")
}
