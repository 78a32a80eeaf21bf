package pool

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/taskmesh/internal/ctxlog"
)

func testContext() context.Context {
	return ctxlog.WithLogger(context.Background(), slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1})))
}

func TestNewInvalidThreadCount(t *testing.T) {
	_, err := New(testContext(), 0)
	assert.ErrorIs(t, err, ErrInvalidThreadCount)

	_, err = New(testContext(), -3)
	assert.ErrorIs(t, err, ErrInvalidThreadCount)
}

func TestSubmitRunsTask(t *testing.T) {
	p, err := New(testContext(), 2)
	require.NoError(t, err)
	defer p.Close()

	var ran atomic.Bool
	c := p.Submit(func() { ran.Store(true) })
	require.NoError(t, c.Wait())
	assert.True(t, ran.Load())
}

func TestSubmitCapturesPanicWithoutKillingWorker(t *testing.T) {
	p, err := New(testContext(), 1)
	require.NoError(t, err)
	defer p.Close()

	c1 := p.Submit(func() { panic("boom") })
	err1 := c1.Wait()
	require.Error(t, err1)
	assert.Contains(t, err1.Error(), "boom")

	var ran atomic.Bool
	c2 := p.Submit(func() { ran.Store(true) })
	require.NoError(t, c2.Wait())
	assert.True(t, ran.Load(), "worker must keep serving after a prior task panicked")
}

func TestSubmitFIFOOrdering(t *testing.T) {
	// A single worker serializes execution, so admission order is exactly
	// the order tasks ran in.
	p, err := New(testContext(), 1)
	require.NoError(t, err)
	defer p.Close()

	var mu sync.Mutex
	var order []int
	var completions []*Completion
	for i := 0; i < 20; i++ {
		i := i
		completions = append(completions, p.Submit(func() {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		}))
	}
	for _, c := range completions {
		require.NoError(t, c.Wait())
	}

	want := make([]int, 20)
	for i := range want {
		want[i] = i
	}
	assert.Equal(t, want, order)
}

func TestCloseDrainsInFlightWork(t *testing.T) {
	p, err := New(testContext(), 4)
	require.NoError(t, err)

	var completed atomic.Int32
	var completions []*Completion
	for i := 0; i < 50; i++ {
		completions = append(completions, p.Submit(func() {
			completed.Add(1)
		}))
	}

	p.Close()

	for _, c := range completions {
		require.NoError(t, c.Wait())
	}
	assert.EqualValues(t, 50, completed.Load())
}

func TestCompletionDoneChannel(t *testing.T) {
	p, err := New(testContext(), 1)
	require.NoError(t, err)
	defer p.Close()

	c := p.Submit(func() { time.Sleep(time.Millisecond) })
	select {
	case <-c.Done():
		t.Fatal("completion fired before task ran")
	default:
	}
	<-c.Done()
	assert.NoError(t, c.err)
}

func TestSubmitErrorPropagatesThroughReturnedError(t *testing.T) {
	p, err := New(testContext(), 1)
	require.NoError(t, err)
	defer p.Close()

	sentinel := errors.New("boom")
	c := p.Submit(func() { panic(sentinel) })
	werr := c.Wait()
	require.Error(t, werr)
	assert.Contains(t, werr.Error(), "boom")
}
