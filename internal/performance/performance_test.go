package performance

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkerPool_RunsEveryTask(t *testing.T) {
	pool := NewWorkerPool(4)
	pool.Start()

	var done atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		err := pool.SubmitContext(context.Background(), func() {
			defer wg.Done()
			done.Add(1)
		})
		require.NoError(t, err)
	}
	wg.Wait()
	pool.Stop()

	assert.Equal(t, int64(50), done.Load())
	stats := pool.Stats()
	assert.Equal(t, uint64(50), stats.TasksTotal)
	assert.Equal(t, uint64(50), stats.TasksDone)
	assert.False(t, stats.Running)
}

func TestWorkerPool_SubmitBeforeStart(t *testing.T) {
	pool := NewWorkerPool(1)
	assert.False(t, pool.Submit(func() {}))
	assert.Error(t, pool.SubmitContext(context.Background(), func() {}))
}

func TestWorkerPool_SubmitContextCancelled(t *testing.T) {
	pool := NewWorkerPool(1)
	pool.Start()
	defer pool.Stop()

	block := make(chan struct{})
	started := make(chan struct{})
	require.True(t, pool.Submit(func() {
		close(started)
		<-block
	}))
	<-started
	// fill the queue behind the blocked worker
	for pool.Submit(func() {}) {
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := pool.SubmitContext(ctx, func() {})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	close(block)
}

func TestWorkerPool_DefaultsToNumCPU(t *testing.T) {
	pool := NewWorkerPool(0)
	assert.Greater(t, pool.Workers(), 0)
}

func TestBatchProcessor(t *testing.T) {
	var batches [][]int
	processor := NewBatchProcessor(3, func(items []int) error {
		batches = append(batches, items)
		return nil
	})

	for i := 0; i < 7; i++ {
		require.NoError(t, processor.Add(i))
	}
	require.NoError(t, processor.Flush())

	require.Len(t, batches, 3)
	assert.Equal(t, []int{0, 1, 2}, batches[0])
	assert.Equal(t, []int{3, 4, 5}, batches[1])
	assert.Equal(t, []int{6}, batches[2])
}

func TestMemoryStats(t *testing.T) {
	stats := MemoryStats()
	assert.Greater(t, stats.Sys, uint64(0))
	assert.Greater(t, stats.Goroutines, 0)
}

func BenchmarkWorkerPool(b *testing.B) {
	pool := NewWorkerPool(4)
	pool.Start()
	defer pool.Stop()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		var wg sync.WaitGroup
		wg.Add(1)
		_ = pool.SubmitContext(context.Background(), wg.Done)
		wg.Wait()
	}
}
