package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"mailsync/backend/internal/domain"
	"mailsync/backend/internal/storage"
)

// recentWindow 近期邮件统计窗口
const recentWindow = 7 * 24 * time.Hour

// AnalyticsConfig 统计参数
type AnalyticsConfig struct {
	TopRecipients int
	TopSenders    int
	CacheTTL      time.Duration
}

// AnalyticsService 在读取时计算仪表盘统计，不写入记录与发件人数据。
type AnalyticsService struct {
	records storage.RecordRepository
	senders storage.SenderRepository
	cfg     AnalyticsConfig
	cache   StatsCache
	log     *zap.Logger
	now     func() time.Time
}

// NewAnalyticsService 创建统计服务。
func NewAnalyticsService(records storage.RecordRepository, senders storage.SenderRepository, cfg AnalyticsConfig, log *zap.Logger) *AnalyticsService {
	if cfg.TopRecipients <= 0 {
		cfg.TopRecipients = 3
	}
	if cfg.TopSenders <= 0 {
		cfg.TopSenders = 3
	}
	return &AnalyticsService{
		records: records,
		senders: senders,
		cfg:     cfg,
		cache:   noopStatsCache{},
		log:     log,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// SetStatsCache 设置统计缓存
func (s *AnalyticsService) SetStatsCache(c StatsCache) {
	if c != nil {
		s.cache = c
	}
}

// DashboardStats 计算仪表盘统计
//
// 近 7 天以调用时刻为基准。空存储返回全零与空集合。
// 计数相同时收件人按地址字典序排列，发件人按存储的枚举顺序排列。
func (s *AnalyticsService) DashboardStats(ctx context.Context) (*domain.DashboardStats, error) {
	if s.cfg.CacheTTL > 0 {
		if cached, ok := s.cache.GetStats(ctx); ok {
			return cached, nil
		}
	}

	now := s.now()
	stats := domain.NewDashboardStats(now)

	summary, err := s.records.SummarizeRecords(ctx, now.Add(-recentWindow))
	if err != nil {
		return nil, fmt.Errorf("summarize records: %w", err)
	}
	stats.Total = summary.Total
	stats.Classified = summary.Classified
	stats.Pending = summary.Total - summary.Classified
	stats.LastSevenDays = summary.Recent

	groups := []struct {
		field storage.RecordField
		dest  map[string]int
	}{
		{storage.FieldRegion, stats.ByRegion},
		{storage.FieldCategory, stats.ByCategory},
		{storage.FieldLocality, stats.ByLocality},
	}
	for _, g := range groups {
		counts, err := s.records.CountRecordsBy(ctx, g.field)
		if err != nil {
			return nil, fmt.Errorf("count records by %s: %w", g.field, err)
		}
		for k, v := range counts {
			g.dest[k] = v
		}
	}

	recipients, err := s.records.CountRecordsBy(ctx, storage.FieldRecipient)
	if err != nil {
		return nil, fmt.Errorf("count records by recipient: %w", err)
	}
	stats.TopRecipients = topRecipients(recipients, s.cfg.TopRecipients)

	senders, err := s.senders.TopSenders(ctx, s.cfg.TopSenders)
	if err != nil {
		return nil, fmt.Errorf("top senders: %w", err)
	}
	for _, sender := range senders {
		stats.TopSenders = append(stats.TopSenders, domain.SenderCount{
			ID:      sender.ID,
			Address: sender.Address,
			Name:    sender.Name,
			Count:   sender.SentCount,
		})
	}

	if s.cfg.CacheTTL > 0 {
		s.cache.SetStats(ctx, stats, s.cfg.CacheTTL)
	}

	s.log.Debug("dashboard stats computed",
		zap.Int("total", stats.Total),
		zap.Int("classified", stats.Classified),
	)
	return stats, nil
}

// topRecipients 按计数倒序取前 n 个收件人
func topRecipients(counts map[string]int, n int) []domain.RecipientCount {
	out := make([]domain.RecipientCount, 0, len(counts))
	for recipient, count := range counts {
		out = append(out, domain.RecipientCount{Recipient: recipient, Count: count})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Recipient < out[j].Recipient
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}
