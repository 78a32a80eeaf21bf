package software

import (
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/taskmesh/internal/datastore"
	"github.com/vk/taskmesh/internal/gpu"
)

func newTestDriver(t *testing.T) *Driver {
	d, err := New(Config{MinBlockSize: 16, SlabSize: map[datastore.MemHint]int{
		datastore.DeviceLocal: 4096,
		datastore.Unified:     4096,
		datastore.HostVisible: 4096,
	}})
	require.NoError(t, err)
	return d
}

func TestAllocateAndCopyRoundTrip(t *testing.T) {
	d := newTestDriver(t)

	h, err := d.AllocateBuffer(32, datastore.HostVisible)
	require.NoError(t, err)

	payload := []byte("0123456789abcdef0123456789abcdef")[:32]
	require.NoError(t, d.CopyToDevice(payload, h))

	out := make([]byte, 32)
	done := make(chan struct{})
	require.NoError(t, d.CopyFromDevice(out, h, func() { close(done) }))
	<-done
	assert.Equal(t, payload, out)
}

func TestDeallocateThenOperateFailsGhostBuffer(t *testing.T) {
	d := newTestDriver(t)
	h, err := d.AllocateBuffer(16, datastore.Unified)
	require.NoError(t, err)
	require.NoError(t, d.DeallocateBuffer(h))

	err = d.CopyToDevice([]byte("x"), h)
	assert.ErrorIs(t, err, gpu.ErrGhostBuffer)

	err = d.DeallocateBuffer(h)
	assert.ErrorIs(t, err, gpu.ErrGhostBuffer)
}

func TestExecuteKernelRunsRegisteredFunction(t *testing.T) {
	d := newTestDriver(t)
	a, err := d.AllocateBuffer(8, datastore.HostVisible)
	require.NoError(t, err)
	require.NoError(t, d.CopyToDevice([]byte{1, 2, 3, 4, 5, 6, 7, 8}, a))

	d.RegisterKernel("double", func(bufs [][]byte) error {
		for i := range bufs[0] {
			bufs[0][i] *= 2
		}
		return nil
	})

	done := make(chan struct{})
	err = d.ExecuteKernel(gpu.KernelDispatch{
		KernelName: "double",
		Buffers:    []gpu.BufferHandle{a},
		GridDim:    gpu.Dim3{X: 1},
		BlockDim:   gpu.Dim3{X: 1},
	}, func() { close(done) })
	require.NoError(t, err)
	<-done

	out := make([]byte, 8)
	done2 := make(chan struct{})
	require.NoError(t, d.CopyFromDevice(out, a, func() { close(done2) }))
	<-done2
	assert.Equal(t, []byte{2, 4, 6, 8, 10, 12, 14, 16}, out)
}

func TestExecuteKernelUnregisteredNameRetiresAsNoOp(t *testing.T) {
	d := newTestDriver(t)
	done := make(chan struct{})
	err := d.ExecuteKernel(gpu.KernelDispatch{KernelName: "missing"}, func() { close(done) })
	require.NoError(t, err)
	<-done
	assert.NoError(t, d.Synchronize())
}

func TestExecuteBatchSerialRunsInOrder(t *testing.T) {
	d := newTestDriver(t)
	var order []int
	for i := 0; i < 3; i++ {
		i := i
		d.RegisterKernel(kernelName(i), func(bufs [][]byte) error {
			order = append(order, i)
			return nil
		})
	}

	disps := []gpu.KernelDispatch{
		{KernelName: kernelName(0)},
		{KernelName: kernelName(1)},
		{KernelName: kernelName(2)},
	}
	done := make(chan struct{})
	require.NoError(t, d.ExecuteBatch(disps, gpu.Serial, func() { close(done) }))
	<-done

	assert.Equal(t, []int{0, 1, 2}, order)
}

func TestExecuteBatchConcurrentAllRetireBeforeCallback(t *testing.T) {
	d := newTestDriver(t)
	var count atomic.Int32
	for i := 0; i < 5; i++ {
		d.RegisterKernel(kernelName(i), func(bufs [][]byte) error {
			count.Add(1)
			return nil
		})
	}
	disps := make([]gpu.KernelDispatch, 5)
	for i := range disps {
		disps[i] = gpu.KernelDispatch{KernelName: kernelName(i)}
	}

	done := make(chan struct{})
	require.NoError(t, d.ExecuteBatch(disps, gpu.Concurrent, func() { close(done) }))
	<-done
	assert.EqualValues(t, 5, count.Load())
}

func TestExecuteBatchInvalidDispatchType(t *testing.T) {
	d := newTestDriver(t)
	err := d.ExecuteBatch(nil, gpu.DispatchType(99), func() {})
	assert.ErrorIs(t, err, gpu.ErrInvalidDispatchType)
}

func TestKernelFailureSurfacesOnSynchronize(t *testing.T) {
	d := newTestDriver(t)
	d.RegisterKernel("fail", func(bufs [][]byte) error {
		return errors.New("boom")
	})

	done := make(chan struct{})
	require.NoError(t, d.ExecuteKernel(gpu.KernelDispatch{KernelName: "fail"}, func() { close(done) }))
	<-done

	err := d.Synchronize()
	assert.ErrorIs(t, err, gpu.ErrKernelFailure)
	assert.NoError(t, d.Synchronize(), "error is consumed once")
}

func TestDataBufferResidencyCache(t *testing.T) {
	d := newTestDriver(t)
	h, err := d.AllocateBuffer(16, datastore.Unified)
	require.NoError(t, err)

	_, ok := d.DataBufferExists(datastore.DataID(7))
	assert.False(t, ok)

	d.MapDataToBuffer(datastore.DataID(7), h)
	got, ok := d.DataBufferExists(datastore.DataID(7))
	require.True(t, ok)
	assert.Equal(t, h, got)
}

func kernelName(i int) string {
	return "k" + string(rune('0'+i))
}
