package redis

import (
	"context"
	"fmt"
	"time"
)

const (
	// DefaultSeenTTL Message-ID 标记默认保留时间
	DefaultSeenTTL = 30 * 24 * time.Hour
	// PendingSeenTTL 记录落库前标记的保留时间，进程在此期间退出时标记自动过期
	PendingSeenTTL = 10 * time.Minute
)

// SeenFilter 使用 SETNX 记录已入库的 Message-ID
//
// IsNew 先写入短期标记，Confirm 在记录保存后把标记延长到 ttl。
type SeenFilter struct {
	client  *Client
	ttl     time.Duration
	pending time.Duration
}

// NewSeenFilter 创建基于 Redis 的去重过滤器
func NewSeenFilter(client *Client, ttl time.Duration) *SeenFilter {
	if ttl <= 0 {
		ttl = DefaultSeenTTL
	}
	pending := PendingSeenTTL
	if ttl < pending {
		pending = ttl
	}
	return &SeenFilter{client: client, ttl: ttl, pending: pending}
}

// IsNew 报告 messageID 是否第一次出现，并原子地将其标记为已见
func (f *SeenFilter) IsNew(ctx context.Context, messageID string) (bool, error) {
	set, err := f.client.rdb.SetNX(ctx, f.client.key("seen", messageID), 1, f.pending).Result()
	if err != nil {
		return false, fmt.Errorf("dedup SETNX: %w", err)
	}
	return set, nil
}

// Confirm 记录保存成功后延长标记的保留时间
func (f *SeenFilter) Confirm(ctx context.Context, messageID string) error {
	if err := f.client.rdb.Expire(ctx, f.client.key("seen", messageID), f.ttl).Err(); err != nil {
		return fmt.Errorf("dedup EXPIRE: %w", err)
	}
	return nil
}

// Forget 移除标记，入库失败时调用以便下次同步重试
func (f *SeenFilter) Forget(ctx context.Context, messageID string) error {
	if err := f.client.rdb.Del(ctx, f.client.key("seen", messageID)).Err(); err != nil {
		return fmt.Errorf("dedup DEL: %w", err)
	}
	return nil
}
