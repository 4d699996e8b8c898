package pool

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestWorkerPool_Process(t *testing.T) {
	p := NewWorkerPool(3, zap.NewNop())

	var done int64
	var inFlight, peak int64
	panics := p.Process(context.Background(), 20, func(_ context.Context, i int) {
		cur := atomic.AddInt64(&inFlight, 1)
		for {
			old := atomic.LoadInt64(&peak)
			if cur <= old || atomic.CompareAndSwapInt64(&peak, old, cur) {
				break
			}
		}
		time.Sleep(time.Millisecond)
		atomic.AddInt64(&inFlight, -1)
		atomic.AddInt64(&done, 1)
	})

	assert.Equal(t, 0, panics)
	assert.Equal(t, int64(20), done)
	assert.LessOrEqual(t, peak, int64(3))
}

func TestWorkerPool_RecoversPanics(t *testing.T) {
	p := NewWorkerPool(2, zap.NewNop())

	var done int64
	panics := p.Process(context.Background(), 5, func(_ context.Context, i int) {
		if i == 2 {
			panic("boom")
		}
		atomic.AddInt64(&done, 1)
	})

	assert.Equal(t, 1, panics)
	assert.Equal(t, int64(4), done)
}

func TestWorkerPool_CancelledContext(t *testing.T) {
	p := NewWorkerPool(1, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var done int64
	p.Process(ctx, 10, func(_ context.Context, _ int) {
		atomic.AddInt64(&done, 1)
	})
	assert.Equal(t, int64(0), done)
	assert.Equal(t, 1, NewWorkerPool(0, zap.NewNop()).Size())
}
