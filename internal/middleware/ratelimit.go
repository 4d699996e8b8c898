package middleware

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"mailsync/backend/internal/monitoring"
)

// RateLimiter 按客户端 IP 的令牌桶限流
type RateLimiter struct {
	name     string
	limit    rate.Limit
	burst    int
	metrics  *monitoring.Metrics
	mu       sync.Mutex
	visitors map[string]*visitor
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter 创建每分钟最多 perMinute 次请求的限流器
//
// perMinute 小于 1 时不限流。
func NewRateLimiter(name string, perMinute int, metrics *monitoring.Metrics) *RateLimiter {
	rl := &RateLimiter{
		name:     name,
		limit:    rate.Inf,
		burst:    1,
		metrics:  metrics,
		visitors: make(map[string]*visitor),
	}
	if perMinute > 0 {
		rl.limit = rate.Every(time.Minute / time.Duration(perMinute))
		rl.burst = perMinute
	}
	return rl
}

// Allow 报告 key 是否还有剩余配额
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	v, ok := rl.visitors[key]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.visitors[key] = v
	}
	v.lastSeen = time.Now()
	rl.mu.Unlock()

	return v.limiter.Allow()
}

// Middleware 超出配额时返回 429
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if rl.Allow(c.ClientIP()) {
			c.Next()
			return
		}

		rl.metrics.RecordRateLimitBlock(rl.name)
		c.Header("Retry-After", strconv.Itoa(rl.retryAfter()))
		abortJSON(c, http.StatusTooManyRequests, "too many requests")
	}
}

func (rl *RateLimiter) retryAfter() int {
	if rl.limit == rate.Inf || rl.limit <= 0 {
		return 1
	}
	seconds := int(1 / float64(rl.limit))
	if seconds < 1 {
		seconds = 1
	}
	return seconds
}

// Cleanup 定期移除长时间未出现的客户端，直到 ctx 结束
func (rl *RateLimiter) Cleanup(ctx context.Context, idle time.Duration) {
	ticker := time.NewTicker(idle)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-idle)
			rl.mu.Lock()
			for key, v := range rl.visitors {
				if v.lastSeen.Before(cutoff) {
					delete(rl.visitors, key)
				}
			}
			rl.mu.Unlock()
		}
	}
}
