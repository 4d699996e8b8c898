package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"mailsync/backend/internal/domain"
)

// ErrCacheMiss 缓存中不存在该键
var ErrCacheMiss = errors.New("cache miss")

// Cache Redis 缓存实现
type Cache struct {
	client *Client
}

// NewCache 创建 Redis 缓存实例
func NewCache(client *Client) *Cache {
	return &Cache{client: client}
}

func (c *Cache) setJSON(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.client.rdb.Set(ctx, key, data, ttl).Err()
}

func (c *Cache) getJSON(ctx context.Context, key string, dest any) error {
	data, err := c.client.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return ErrCacheMiss
		}
		return err
	}
	return json.Unmarshal(data, dest)
}

// ========== 记录缓存 ==========

// CacheRecord 缓存邮件记录
func (c *Cache) CacheRecord(ctx context.Context, record *domain.Record, ttl time.Duration) error {
	return c.setJSON(ctx, c.client.key("record", record.ID), recordEntry{Record: record, Extra: recordSource{
		Mailbox:   record.Mailbox,
		SourceUID: record.SourceUID,
	}}, ttl)
}

// GetCachedRecord 获取缓存的邮件记录
func (c *Cache) GetCachedRecord(ctx context.Context, id string) (*domain.Record, error) {
	var entry recordEntry
	if err := c.getJSON(ctx, c.client.key("record", id), &entry); err != nil {
		return nil, err
	}
	if entry.Record == nil {
		return nil, ErrCacheMiss
	}
	entry.Record.Mailbox = entry.Extra.Mailbox
	entry.Record.SourceUID = entry.Extra.SourceUID
	return entry.Record, nil
}

// DeleteCachedRecord 删除缓存的邮件记录
func (c *Cache) DeleteCachedRecord(ctx context.Context, id string) error {
	return c.client.rdb.Del(ctx, c.client.key("record", id)).Err()
}

// recordEntry 记录的 JSON 表示隐藏了来源字段，缓存时单独保存
type recordEntry struct {
	Record *domain.Record `json:"record"`
	Extra  recordSource   `json:"source"`
}

type recordSource struct {
	Mailbox   string `json:"mailbox"`
	SourceUID uint32 `json:"uid"`
}

// ========== 统计缓存 ==========

// GetStats 读取缓存的仪表盘统计
func (c *Cache) GetStats(ctx context.Context) (*domain.DashboardStats, bool) {
	var stats domain.DashboardStats
	if err := c.getJSON(ctx, c.client.key("stats", "dashboard"), &stats); err != nil {
		return nil, false
	}
	return &stats, true
}

// SetStats 缓存仪表盘统计
func (c *Cache) SetStats(ctx context.Context, stats *domain.DashboardStats, ttl time.Duration) {
	if err := c.setJSON(ctx, c.client.key("stats", "dashboard"), stats, ttl); err != nil {
		c.client.log.Sugar().Warnw("failed to cache dashboard stats", "error", err)
	}
}

// InvalidateStats 使统计缓存失效
func (c *Cache) InvalidateStats(ctx context.Context) {
	if err := c.client.rdb.Del(ctx, c.client.key("stats", "dashboard")).Err(); err != nil {
		c.client.log.Sugar().Warnw("failed to invalidate dashboard stats", "error", err)
	}
}

// ========== 通用 ==========

// Health 检查 Redis 连接
func (c *Cache) Health(ctx context.Context) error {
	if err := c.client.Ping(ctx); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}
