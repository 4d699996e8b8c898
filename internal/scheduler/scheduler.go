// Package scheduler 周期性地触发邮箱同步。
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"mailsync/backend/internal/domain"
	"mailsync/backend/internal/monitoring"
)

// ErrRunSkipped 同时进行的同步已达上限，本次触发被跳过
var ErrRunSkipped = errors.New("sync run skipped: concurrency limit reached")

// Syncer 执行一次同步
type Syncer interface {
	Sync(ctx context.Context, trigger domain.SyncTrigger) (*domain.SyncResult, error)
}

// Options 调度参数
type Options struct {
	Interval          time.Duration
	MaxConcurrentRuns int
	RunTimeout        time.Duration
}

// Status 调度器状态快照
type Status struct {
	Interval            string             `json:"interval"`
	MaxConcurrentRuns   int                `json:"maxConcurrentRuns"`
	Running             int                `json:"running"`
	ConsecutiveFailures int                `json:"consecutiveFailures"`
	LastSuccess         *time.Time         `json:"lastSuccess,omitempty"`
	LastRun             *domain.SyncResult `json:"lastRun,omitempty"`
}

// Scheduler 同步调度器
//
// 每个周期启动一次同步，信号量限制同时进行的同步数量，
// 达到上限的触发直接跳过而不排队。单次同步的错误与 panic 都不会终止调度循环。
type Scheduler struct {
	syncer  Syncer
	opts    Options
	sem     *semaphore.Weighted
	metrics *monitoring.Metrics
	log     *zap.Logger
	wg      sync.WaitGroup

	mu          sync.RWMutex
	running     int
	failures    int
	lastSuccess time.Time
	lastRun     *domain.SyncResult
}

// New 创建同步调度器
func New(syncer Syncer, opts Options, log *zap.Logger) *Scheduler {
	if opts.Interval <= 0 {
		opts.Interval = 6 * time.Second
	}
	if opts.MaxConcurrentRuns < 1 {
		opts.MaxConcurrentRuns = 1
	}
	if opts.RunTimeout <= 0 {
		opts.RunTimeout = 2 * time.Minute
	}
	return &Scheduler{
		syncer: syncer,
		opts:   opts,
		sem:    semaphore.NewWeighted(int64(opts.MaxConcurrentRuns)),
		log:    log,
	}
}

// SetMetrics 设置监控指标
func (s *Scheduler) SetMetrics(m *monitoring.Metrics) {
	s.metrics = m
}

// Start 立即执行一次同步，随后按间隔触发，直到 ctx 结束
//
// 返回前等待所有进行中的同步完成。
func (s *Scheduler) Start(ctx context.Context) error {
	s.log.Info("sync scheduler started",
		zap.Duration("interval", s.opts.Interval),
		zap.Int("max_concurrent_runs", s.opts.MaxConcurrentRuns),
	)

	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()

	s.dispatch(ctx)
	for {
		select {
		case <-ctx.Done():
			s.wg.Wait()
			s.log.Info("sync scheduler stopped")
			return nil
		case <-ticker.C:
			s.dispatch(ctx)
		}
	}
}

// dispatch 在后台启动一次定时同步，达到上限时跳过
func (s *Scheduler) dispatch(ctx context.Context) {
	if !s.sem.TryAcquire(1) {
		s.skipped(domain.SyncTriggerScheduled)
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.sem.Release(1)
		_, _ = s.run(ctx, domain.SyncTriggerScheduled)
	}()
}

// Trigger 同步执行一次手动同步
//
// 调用方断开不会中止已开始的同步，截止时间仍由 RunTimeout 控制。
func (s *Scheduler) Trigger(ctx context.Context) (*domain.SyncResult, error) {
	if !s.sem.TryAcquire(1) {
		s.skipped(domain.SyncTriggerManual)
		return nil, ErrRunSkipped
	}
	defer s.sem.Release(1)

	return s.run(context.WithoutCancel(ctx), domain.SyncTriggerManual)
}

func (s *Scheduler) skipped(trigger domain.SyncTrigger) {
	s.metrics.RecordSyncSkipped(string(trigger))
	s.log.Warn("sync run skipped, too many runs in flight",
		zap.String("trigger", string(trigger)),
		zap.Int("max_concurrent_runs", s.opts.MaxConcurrentRuns),
	)
}

// run 执行一次同步并记录结果
func (s *Scheduler) run(parent context.Context, trigger domain.SyncTrigger) (result *domain.SyncResult, err error) {
	ctx, cancel := context.WithTimeout(parent, s.opts.RunTimeout)
	defer cancel()

	s.mu.Lock()
	s.running++
	s.mu.Unlock()
	s.metrics.SyncStarted()

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			s.metrics.RecordPanic()
			s.log.Error("sync run panicked",
				zap.Any("panic", r),
				zap.String("stack", string(debug.Stack())),
			)
			err = fmt.Errorf("sync run panicked: %v", r)
		}
		s.finish(trigger, result, err, time.Since(start))
	}()

	result, err = s.syncer.Sync(ctx, trigger)
	if err != nil {
		s.log.Error("sync run failed",
			zap.String("trigger", string(trigger)),
			zap.Error(err),
		)
	}
	return result, err
}

func (s *Scheduler) finish(trigger domain.SyncTrigger, result *domain.SyncResult, err error, elapsed time.Duration) {
	s.metrics.SyncFinished()
	s.metrics.RecordSyncRun(string(trigger), err == nil, elapsed)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.running--
	if result != nil {
		s.lastRun = result
	}
	if err != nil {
		s.failures++
		return
	}
	s.failures = 0
	s.lastSuccess = time.Now()
}

// Status 返回调度器状态
func (s *Scheduler) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	status := Status{
		Interval:            s.opts.Interval.String(),
		MaxConcurrentRuns:   s.opts.MaxConcurrentRuns,
		Running:             s.running,
		ConsecutiveFailures: s.failures,
		LastRun:             s.lastRun,
	}
	if !s.lastSuccess.IsZero() {
		last := s.lastSuccess
		status.LastSuccess = &last
	}
	return status
}

// ConsecutiveFailures 返回连续失败次数
func (s *Scheduler) ConsecutiveFailures() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.failures
}

// LastSuccess 返回最近一次成功同步的时间
func (s *Scheduler) LastSuccess() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastSuccess
}
