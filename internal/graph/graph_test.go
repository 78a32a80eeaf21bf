package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/taskmesh/internal/datastore"
	"github.com/vk/taskmesh/internal/task"
)

// stubTask is a minimal task.Task for graph-construction tests that don't
// need a real CPU or GPU body.
type stubTask struct {
	id     task.ID
	name   string
	inputs []datastore.DataID
	output datastore.DataID
}

func (t *stubTask) ID() task.ID                   { return t.id }
func (t *stubTask) Name() string                  { return t.name }
func (t *stubTask) Inputs() []datastore.DataID    { return t.inputs }
func (t *stubTask) Output() datastore.DataID      { return t.output }
func (t *stubTask) Dispatch(v task.Visitor) error { return nil }
func (t *stubTask) SetID(id task.ID)              { t.id = id }

func stub(name string, inputs []datastore.DataID, output datastore.DataID) *stubTask {
	return &stubTask{name: name, inputs: inputs, output: output}
}

func TestAddTaskAssignsSequentialIDs(t *testing.T) {
	g := New()
	id1, err := g.AddTask(stub("a", nil, 1))
	require.NoError(t, err)
	id2, err := g.AddTask(stub("b", nil, 2))
	require.NoError(t, err)

	assert.Equal(t, task.ID(0), id1)
	assert.Equal(t, task.ID(1), id2)
}

func TestAddTaskDuplicateProducerFails(t *testing.T) {
	g := New()
	_, err := g.AddTask(stub("a", nil, 1))
	require.NoError(t, err)

	_, err = g.AddTask(stub("b", nil, 1))
	assert.ErrorIs(t, err, ErrDuplicateProducer)
}

func TestAddTaskWiresKnownProducer(t *testing.T) {
	g := New()
	producer, err := g.AddTask(stub("a", nil, 1))
	require.NoError(t, err)
	consumer, err := g.AddTask(stub("b", []datastore.DataID{1}, 2))
	require.NoError(t, err)

	assert.Equal(t, []task.ID{producer}, g.Dependencies(consumer))
	assert.Equal(t, []task.ID{consumer}, g.Dependents(producer))
}

func TestAddTaskWiresAheadOfProducer(t *testing.T) {
	// consumer registered before its producer exists yet
	g := New()
	consumer, err := g.AddTask(stub("b", []datastore.DataID{1}, 2))
	require.NoError(t, err)
	producer, err := g.AddTask(stub("a", nil, 1))
	require.NoError(t, err)

	assert.Equal(t, []task.ID{producer}, g.Dependencies(consumer))
	assert.Equal(t, []task.ID{consumer}, g.Dependents(producer))
}

// TestUnfulfilledData is the literal S6 scenario: a task's input is never
// produced by anything in the graph.
func TestUnfulfilledData(t *testing.T) {
	g := New()
	_, err := g.AddTask(stub("orphan", []datastore.DataID{99}, 1))
	require.NoError(t, err)

	err = g.Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnfulfilledData)
	assert.Contains(t, err.Error(), "99")
}

func TestRegisterExternalDataResolvesWaiters(t *testing.T) {
	g := New()
	consumer, err := g.AddTask(stub("b", []datastore.DataID{1}, 2))
	require.NoError(t, err)

	g.RegisterExternalData(1)
	require.NoError(t, g.Validate())
	assert.Empty(t, g.Dependencies(consumer))
}

func TestValidateDetectsCycle(t *testing.T) {
	g := New()
	// a consumes b's output(2), b consumes a's output(1) — a cycle with no
	// externally registered data to seed Kahn's algorithm.
	_, err := g.AddTask(stub("a", []datastore.DataID{2}, 1))
	require.NoError(t, err)
	_, err = g.AddTask(stub("b", []datastore.DataID{1}, 2))
	require.NoError(t, err)

	err = g.Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCyclic)
}

func TestValidateAcceptsDiamond(t *testing.T) {
	g := New()
	g.RegisterExternalData(1) // a
	t1, err := g.AddTask(stub("t1", []datastore.DataID{1}, 2)) // b = f(a)
	require.NoError(t, err)
	t2, err := g.AddTask(stub("t2", []datastore.DataID{1}, 3)) // c = f(a)
	require.NoError(t, err)
	t3, err := g.AddTask(stub("t3", []datastore.DataID{2, 3}, 4)) // d = f(b,c)
	require.NoError(t, err)

	require.NoError(t, g.Validate())
	assert.ElementsMatch(t, []task.ID{t1, t2}, g.Dependencies(t3))
}

func TestReadyTasks(t *testing.T) {
	g := New()
	root, err := g.AddTask(stub("a", nil, 1))
	require.NoError(t, err)
	_, err = g.AddTask(stub("b", []datastore.DataID{1}, 2))
	require.NoError(t, err)

	assert.Equal(t, []task.ID{root}, g.ReadyTasks())
}

func TestTaskIDsAndLen(t *testing.T) {
	g := New()
	_, _ = g.AddTask(stub("a", nil, 1))
	_, _ = g.AddTask(stub("b", nil, 2))

	assert.Equal(t, 2, g.Len())
	assert.Equal(t, []task.ID{0, 1}, g.TaskIDs())
}
