package service

import (
	"context"
	"time"

	"mailsync/backend/internal/domain"
)

// 推送给仪表盘的事件类型
const (
	EventEmailIngested   = "email_ingested"
	EventEmailClassified = "email_classified"
	EventEmailDeleted    = "email_deleted"
	EventSyncCompleted   = "sync_completed"
)

// EventPublisher 事件发布者（WebSocket Hub 实现）
type EventPublisher interface {
	Publish(eventType string, payload any)
}

// StatsCache 仪表盘统计缓存（Redis 或本地缓存实现）
type StatsCache interface {
	GetStats(ctx context.Context) (*domain.DashboardStats, bool)
	SetStats(ctx context.Context, stats *domain.DashboardStats, ttl time.Duration)
	InvalidateStats(ctx context.Context)
}

type noopPublisher struct{}

func (noopPublisher) Publish(string, any) {}

type noopStatsCache struct{}

func (noopStatsCache) GetStats(context.Context) (*domain.DashboardStats, bool) { return nil, false }
func (noopStatsCache) SetStats(context.Context, *domain.DashboardStats, time.Duration) {}
func (noopStatsCache) InvalidateStats(context.Context)                             {}
