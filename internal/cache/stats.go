package cache

import (
	"context"
	"time"

	"mailsync/backend/internal/domain"
)

const statsKey = "stats:dashboard"

// StatsCache 基于 LocalCache 的仪表盘统计缓存，内存存储模式下使用
type StatsCache struct {
	local *LocalCache
}

// NewStatsCache 创建统计缓存
func NewStatsCache(local *LocalCache) *StatsCache {
	return &StatsCache{local: local}
}

// GetStats 读取缓存的统计
func (s *StatsCache) GetStats(_ context.Context) (*domain.DashboardStats, bool) {
	v, ok := s.local.Get(statsKey)
	if !ok {
		return nil, false
	}
	stats, ok := v.(*domain.DashboardStats)
	return stats, ok
}

// SetStats 缓存统计
func (s *StatsCache) SetStats(_ context.Context, stats *domain.DashboardStats, ttl time.Duration) {
	s.local.Set(statsKey, stats, ttl)
}

// InvalidateStats 使统计缓存失效
func (s *StatsCache) InvalidateStats(_ context.Context) {
	s.local.Delete(statsKey)
}
