package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"mailsync/backend/internal/cache"
	"mailsync/backend/internal/domain"
	"mailsync/backend/internal/mailaddr"
	"mailsync/backend/internal/mailsource"
	"mailsync/backend/internal/monitoring"
	"mailsync/backend/internal/pool"
	"mailsync/backend/internal/storage"
)

// SeenFilter Message-ID 去重过滤器
type SeenFilter interface {
	// IsNew 报告 messageID 是否第一次出现，并将其标记为已见
	IsNew(ctx context.Context, messageID string) (bool, error)
	// Confirm 在记录保存成功后确认标记
	Confirm(ctx context.Context, messageID string) error
	// Forget 移除标记，使该邮件可以在下次同步时重试
	Forget(ctx context.Context, messageID string) error
}

// IngestOptions 同步入库参数
type IngestOptions struct {
	Mailbox          string
	AttributeSenders bool
}

// IngestService 把邮件源中的新邮件转换为记录并登记发件人。
type IngestService struct {
	source     mailsource.Source
	records    storage.RecordRepository
	watermarks storage.WatermarkRepository
	senders    *SenderService
	normalizer *mailaddr.Normalizer
	seen       SeenFilter
	pool       *pool.WorkerPool
	opts       IngestOptions
	events     EventPublisher
	stats      StatsCache
	metrics    *monitoring.Metrics
	log        *zap.Logger
	now        func() time.Time
}

// NewIngestService 创建同步入库服务
//
// seen 为 nil 时使用基于存储查询的去重过滤器。
func NewIngestService(
	source mailsource.Source,
	store storage.Store,
	senders *SenderService,
	normalizer *mailaddr.Normalizer,
	seen SeenFilter,
	workers *pool.WorkerPool,
	opts IngestOptions,
	log *zap.Logger,
) *IngestService {
	if opts.Mailbox == "" {
		opts.Mailbox = "INBOX"
	}
	if seen == nil {
		seen = NewStoreSeenFilter(store)
	}
	if workers == nil {
		workers = pool.NewWorkerPool(1, log)
	}
	return &IngestService{
		source:     source,
		records:    store,
		watermarks: store,
		senders:    senders,
		normalizer: normalizer,
		seen:       seen,
		pool:       workers,
		opts:       opts,
		events:     noopPublisher{},
		stats:      noopStatsCache{},
		log:        log,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// SetEventPublisher 设置事件发布者
func (s *IngestService) SetEventPublisher(p EventPublisher) {
	if p != nil {
		s.events = p
	}
}

// SetStatsCache 设置统计缓存
func (s *IngestService) SetStatsCache(c StatsCache) {
	if c != nil {
		s.stats = c
	}
}

// SetMetrics 设置监控指标
func (s *IngestService) SetMetrics(m *monitoring.Metrics) {
	s.metrics = m
}

// messageOutcome 单封邮件的处理结果
type messageOutcome int

const (
	outcomeFailed messageOutcome = iota
	outcomeIngested
	outcomeDuplicate
)

// Sync 执行一次同步
//
// 邮件源连接失败时返回错误，result.Error 同时记录原因，不写入任何记录。
// 单封邮件失败只计入 Failed，不影响同批其他邮件。
// 返回的 Records 按 UID 升序排列，只包含本次新入库的记录。
func (s *IngestService) Sync(ctx context.Context, trigger domain.SyncTrigger) (*domain.SyncResult, error) {
	result := &domain.SyncResult{
		RunID:     uuid.NewString(),
		Trigger:   trigger,
		StartedAt: s.now(),
		Records:   make([]*domain.Record, 0),
	}

	mark, err := s.watermarks.GetWatermark(ctx, s.opts.Mailbox)
	if err != nil {
		result.FinishedAt = s.now()
		result.Error = err.Error()
		return result, fmt.Errorf("load watermark: %w", err)
	}

	batch, err := s.source.Fetch(ctx, mark)
	if err != nil {
		result.FinishedAt = s.now()
		result.Error = err.Error()
		s.metrics.RecordFailure("connection")
		s.log.Warn("mail source unavailable",
			zap.String("run_id", result.RunID),
			zap.Error(err),
		)
		return result, fmt.Errorf("fetch messages: %w", err)
	}

	messages := append([]domain.InboundMessage(nil), batch.Messages...)
	sort.Slice(messages, func(i, j int) bool { return messages[i].UID < messages[j].UID })

	result.Fetched = len(messages) + batch.Skipped
	result.Failed = batch.Skipped
	for i := 0; i < batch.Skipped; i++ {
		s.metrics.RecordFailure("fetch")
	}

	outcomes := make([]messageOutcome, len(messages))
	records := make([]*domain.Record, len(messages))
	var attributionFailures int
	var mu sync.Mutex

	panics := s.pool.Process(ctx, len(messages), func(ctx context.Context, i int) {
		record, outcome, attributed := s.ingestOne(ctx, batch.Mailbox, &messages[i])
		outcomes[i] = outcome
		records[i] = record
		if !attributed {
			mu.Lock()
			attributionFailures++
			mu.Unlock()
		}
	})
	for i := 0; i < panics; i++ {
		s.metrics.RecordPanic()
	}

	for i, outcome := range outcomes {
		switch outcome {
		case outcomeIngested:
			result.Ingested++
			result.Records = append(result.Records, records[i])
		case outcomeDuplicate:
			result.Duplicates++
		default:
			result.Failed++
		}
	}
	result.AttributionFailures = attributionFailures

	s.advanceWatermark(ctx, mark, batch, messages, outcomes)

	if result.Ingested > 0 {
		s.stats.InvalidateStats(ctx)
	}
	result.FinishedAt = s.now()
	s.events.Publish(EventSyncCompleted, map[string]any{
		"runId":      result.RunID,
		"trigger":    result.Trigger,
		"count":      result.Ingested,
		"duplicates": result.Duplicates,
		"failed":     result.Failed,
	})

	s.log.Info("sync completed",
		zap.String("run_id", result.RunID),
		zap.String("trigger", string(trigger)),
		zap.Int("fetched", result.Fetched),
		zap.Int("ingested", result.Ingested),
		zap.Int("duplicates", result.Duplicates),
		zap.Int("failed", result.Failed),
		zap.Duration("duration", result.FinishedAt.Sub(result.StartedAt)),
	)
	return result, nil
}

// ingestOne 规范化、去重并保存一封邮件，随后登记发件人
//
// attributed 为 false 表示记录已保存但发件人登记失败。
func (s *IngestService) ingestOne(ctx context.Context, mailbox string, msg *domain.InboundMessage) (*domain.Record, messageOutcome, bool) {
	from := s.normalizer.Normalize(msg.From)
	to := s.normalizer.Normalize(msg.To)

	if msg.MessageID != "" {
		isNew, err := s.seen.IsNew(ctx, msg.MessageID)
		if err != nil {
			s.log.Warn("dedup filter failed, falling back to store lookup",
				zap.String("message_id", msg.MessageID),
				zap.Error(err),
			)
			isNew, err = s.lookupNew(ctx, msg.MessageID)
			if err != nil {
				s.metrics.RecordFailure("dedup")
				return nil, outcomeFailed, true
			}
		}
		if !isNew {
			s.metrics.RecordDuplicate()
			s.log.Debug("duplicate message skipped",
				zap.Uint32("uid", msg.UID),
				zap.String("message_id", msg.MessageID),
			)
			return nil, outcomeDuplicate, true
		}
	}

	record := &domain.Record{
		From:       from.Address,
		FromName:   from.NamePtr(),
		To:         to.Address,
		Subject:    msg.Subject,
		Body:       msg.Body,
		ReceivedAt: msg.FetchedAt.UTC(),
		Mailbox:    mailbox,
		SourceUID:  msg.UID,
		MessageID:  msg.MessageID,
	}
	if err := s.records.CreateRecord(ctx, record); err != nil {
		if msg.MessageID != "" {
			if ferr := s.seen.Forget(ctx, msg.MessageID); ferr != nil {
				s.log.Warn("failed to release dedup marker",
					zap.String("message_id", msg.MessageID),
					zap.Error(ferr),
				)
			}
		}
		s.metrics.RecordFailure("store")
		s.log.Error("failed to store record",
			zap.Uint32("uid", msg.UID),
			zap.Error(err),
		)
		return nil, outcomeFailed, true
	}

	if msg.MessageID != "" {
		if err := s.seen.Confirm(ctx, msg.MessageID); err != nil {
			s.log.Warn("failed to confirm dedup marker",
				zap.String("message_id", msg.MessageID),
				zap.Error(err),
			)
		}
	}

	s.metrics.RecordIngested()
	s.events.Publish(EventEmailIngested, record)

	if !s.opts.AttributeSenders || record.From == "" {
		return record, outcomeIngested, true
	}
	if _, err := s.senders.RegisterSent(ctx, record.From, record.FromName, record.ID); err != nil {
		s.metrics.RecordFailure("attribution")
		s.log.Error("failed to register sender",
			zap.String("record_id", record.ID),
			zap.String("address", record.From),
			zap.Error(err),
		)
		return record, outcomeIngested, false
	}
	return record, outcomeIngested, true
}

// lookupNew 在过滤器不可用时直接查询存储
func (s *IngestService) lookupNew(ctx context.Context, messageID string) (bool, error) {
	_, err := s.records.FindRecordByMessageID(ctx, messageID)
	switch {
	case err == nil:
		return false, nil
	case errors.Is(err, domain.ErrNotFound):
		return true, nil
	default:
		return false, err
	}
}

// advanceWatermark 推进水位线到连续处理成功的最大 UID
//
// 入库失败的邮件及其之后的邮件留给下次同步重试。
func (s *IngestService) advanceWatermark(ctx context.Context, mark *domain.SyncWatermark, batch *domain.FetchBatch, messages []domain.InboundMessage, outcomes []messageOutcome) {
	next := &domain.SyncWatermark{
		Mailbox:     s.opts.Mailbox,
		UIDValidity: batch.UIDValidity,
	}
	reset := mark == nil || mark.UIDValidity != batch.UIDValidity
	if !reset {
		next.LastUID = mark.LastUID
	}

	for i, outcome := range outcomes {
		if outcome == outcomeFailed {
			break
		}
		if messages[i].UID > next.LastUID {
			next.LastUID = messages[i].UID
		}
	}

	if !reset && next.LastUID == mark.LastUID {
		return
	}
	next.UpdatedAt = s.now()
	if err := s.watermarks.SaveWatermark(ctx, next); err != nil {
		s.log.Warn("failed to save watermark",
			zap.String("mailbox", next.Mailbox),
			zap.Uint32("last_uid", next.LastUID),
			zap.Error(err),
		)
	}
}

// storeSeenFilter 基于存储查询的去重过滤器
//
// 本地缓存预留同一进程中正在入库的 Message-ID，避免并发的两封相同邮件都通过检查。
// 锁只保护预留，存储查询在锁外进行。
type storeSeenFilter struct {
	records  storage.RecordRepository
	inflight *cache.LocalCache
	mu       sync.Mutex
}

// NewStoreSeenFilter 创建基于存储查询的去重过滤器
func NewStoreSeenFilter(records storage.RecordRepository) SeenFilter {
	return &storeSeenFilter{
		records:  records,
		inflight: cache.NewLocalCache(time.Hour),
	}
}

func (f *storeSeenFilter) IsNew(ctx context.Context, messageID string) (bool, error) {
	if !f.reserve(messageID) {
		return false, nil
	}

	_, err := f.records.FindRecordByMessageID(ctx, messageID)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return true, nil
	case err != nil:
		f.inflight.Delete(messageID)
		return false, err
	default:
		return false, nil
	}
}

// reserve 原子地检查并预留 messageID
func (f *storeSeenFilter) reserve(messageID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.inflight.Get(messageID); ok {
		return false
	}
	f.inflight.Set(messageID, struct{}{}, 0)
	return true
}

// Confirm 记录已落库，之后由存储查询识别重复
func (f *storeSeenFilter) Confirm(_ context.Context, messageID string) error {
	f.inflight.Delete(messageID)
	return nil
}

func (f *storeSeenFilter) Forget(_ context.Context, messageID string) error {
	f.inflight.Delete(messageID)
	return nil
}
