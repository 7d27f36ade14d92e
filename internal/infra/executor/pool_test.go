package executor

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolRunsTasks(t *testing.T) {
	p := NewPool(3, 10, nil)

	var n atomic.Int32
	for i := 0; i < 10; i++ {
		require.NoError(t, p.Submit(func() { n.Add(1) }))
	}
	p.Close()

	assert.Equal(t, int32(10), n.Load())
}

func TestPoolRejectsWhenFull(t *testing.T) {
	p := NewPool(1, 1, nil)

	release := make(chan struct{})
	started := make(chan struct{})
	require.NoError(t, p.Submit(func() {
		close(started)
		<-release
	}))
	<-started

	// the single worker is busy, one slot in the queue
	require.NoError(t, p.Submit(func() {}))
	assert.ErrorIs(t, p.Submit(func() {}), ErrQueueFull)

	close(release)
	p.Close()
}

func TestPoolSurvivesPanics(t *testing.T) {
	p := NewPool(1, 2, nil)

	var wg sync.WaitGroup
	wg.Add(1)
	require.NoError(t, p.Submit(func() { panic("boom") }))
	require.NoError(t, p.Submit(func() { wg.Done() }))
	wg.Wait()
	p.Close()
}

func TestPoolClosed(t *testing.T) {
	p := NewPool(1, 1, nil)
	p.Close()
	p.Close()
	assert.ErrorIs(t, p.Submit(func() {}), ErrClosed)
}
