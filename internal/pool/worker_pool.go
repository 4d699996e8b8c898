package pool

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"

	"go.uber.org/zap"
)

// WorkerPool 协程池
//
// 限制单批任务的并发协程数量，每个批次独立启动与回收协程。
type WorkerPool struct {
	maxWorkers int
	log        *zap.Logger
}

// NewWorkerPool 创建协程池，maxWorkers 小于 1 时按 1 处理
func NewWorkerPool(maxWorkers int, log *zap.Logger) *WorkerPool {
	if maxWorkers < 1 {
		maxWorkers = 1
	}
	return &WorkerPool{
		maxWorkers: maxWorkers,
		log:        log,
	}
}

// Size 返回最大并发数
func (p *WorkerPool) Size() int {
	return p.maxWorkers
}

// Process 并发执行 n 个任务并等待全部完成
//
// task 的 panic 会被捕获并记录，返回发生 panic 的任务数量。
// ctx 取消后尚未开始的任务不再执行。
func (p *WorkerPool) Process(ctx context.Context, n int, task func(ctx context.Context, i int)) int {
	if n <= 0 {
		return 0
	}

	workers := p.maxWorkers
	if workers > n {
		workers = n
	}

	queue := make(chan int)
	var panics int
	var mu sync.Mutex
	var wg sync.WaitGroup

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range queue {
				if err := p.run(ctx, i, task); err != nil {
					mu.Lock()
					panics++
					mu.Unlock()
				}
			}
		}()
	}

feed:
	for i := 0; i < n; i++ {
		if ctx.Err() != nil {
			break
		}
		select {
		case <-ctx.Done():
			break feed
		case queue <- i:
		}
	}
	close(queue)
	wg.Wait()

	return panics
}

// run 执行单个任务（捕获 panic）
func (p *WorkerPool) run(ctx context.Context, i int, task func(ctx context.Context, i int)) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task %d panicked: %v", i, r)
			p.log.Error("worker task panicked",
				zap.Int("task", i),
				zap.Any("panic", r),
				zap.String("stack", string(debug.Stack())),
			)
		}
	}()
	task(ctx, i)
	return nil
}
