package taskfn

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/taskmesh/internal/datastore"
)

func TestLookupUnknownName(t *testing.T) {
	_, ok := Lookup("does_not_exist")
	assert.False(t, ok)
}

func TestRegisterOverwritesExisting(t *testing.T) {
	Register("overwrite_me", func(store *datastore.Store, inputs []datastore.DataID, output datastore.DataID) error {
		return nil
	})
	called := false
	Register("overwrite_me", func(store *datastore.Store, inputs []datastore.DataID, output datastore.DataID) error {
		called = true
		return nil
	})
	fn, ok := Lookup("overwrite_me")
	require.True(t, ok)
	require.NoError(t, fn(nil, nil, datastore.DataID(0)))
	assert.True(t, called)
}

func TestDotProductBuiltin(t *testing.T) {
	store := datastore.New()
	a := datastore.CreateDataHandle(store, []float64{1, 2, 3}, datastore.ReadOnly, datastore.HostVisible)
	b := datastore.CreateDataHandle(store, []float64{4, 5, 6}, datastore.ReadOnly, datastore.HostVisible)
	out := store.CreateVariableKernelHandle(datastore.ReadWrite, datastore.HostVisible, 0)

	fn, ok := Lookup("dot_product")
	require.True(t, ok)
	require.NoError(t, fn(store, []datastore.DataID{a.ID, b.ID}, out))

	span, err := store.GetSpan(out)
	require.NoError(t, err)
	result, err := readFloats(store, out)
	require.NoError(t, err)
	require.Len(t, span, 8)
	assert.Equal(t, []float64{32}, result) // 1*4 + 2*5 + 3*6
}

func TestSumBuiltinElementwise(t *testing.T) {
	store := datastore.New()
	a := datastore.CreateDataHandle(store, []float64{1, 2, 3}, datastore.ReadOnly, datastore.HostVisible)
	b := datastore.CreateDataHandle(store, []float64{10, 20, 30}, datastore.ReadOnly, datastore.HostVisible)
	c := datastore.CreateDataHandle(store, []float64{100, 200, 300}, datastore.ReadOnly, datastore.HostVisible)
	out := store.CreateVariableKernelHandle(datastore.ReadWrite, datastore.HostVisible, 0)

	fn, ok := Lookup("sum")
	require.True(t, ok)
	require.NoError(t, fn(store, []datastore.DataID{a.ID, b.ID, c.ID}, out))

	result, err := readFloats(store, out)
	require.NoError(t, err)
	assert.Equal(t, []float64{111, 222, 333}, result)
}

func TestScaleBuiltinRejectsNonScalarFactor(t *testing.T) {
	store := datastore.New()
	v := datastore.CreateDataHandle(store, []float64{1, 2, 3}, datastore.ReadOnly, datastore.HostVisible)
	factor := datastore.CreateDataHandle(store, []float64{2, 3}, datastore.ReadOnly, datastore.HostVisible)
	out := store.CreateVariableKernelHandle(datastore.ReadWrite, datastore.HostVisible, 0)

	fn, ok := Lookup("scale")
	require.True(t, ok)
	err := fn(store, []datastore.DataID{v.ID, factor.ID}, out)
	assert.ErrorIs(t, err, ErrScaleFactorNotScalar)
}

func TestScaleBuiltin(t *testing.T) {
	store := datastore.New()
	v := datastore.CreateDataHandle(store, []float64{1, 2, 3}, datastore.ReadOnly, datastore.HostVisible)
	factor := datastore.CreateDataHandle(store, []float64{4}, datastore.ReadOnly, datastore.HostVisible)
	out := store.CreateVariableKernelHandle(datastore.ReadWrite, datastore.HostVisible, 0)

	fn, ok := Lookup("scale")
	require.True(t, ok)
	require.NoError(t, fn(store, []datastore.DataID{v.ID, factor.ID}, out))

	result, err := readFloats(store, out)
	require.NoError(t, err)
	assert.Equal(t, []float64{4, 8, 12}, result)
}
