package health

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/heptiolabs/healthcheck"
	"go.uber.org/zap"

	"mailsync/backend/internal/storage"
)

// Pinger 可探活的依赖（Redis、PostgreSQL 原生连接池）
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthChecker 健康检查器
//
// 存活检查只看进程自身，就绪检查覆盖存储与外部依赖。
type HealthChecker struct {
	health healthcheck.Handler
	store  storage.Store
	checks map[string]healthcheck.Check
	order  []string
	logger *zap.Logger
}

// NewHealthChecker 创建健康检查器
func NewHealthChecker(store storage.Store, logger *zap.Logger) *HealthChecker {
	hc := &HealthChecker{
		health: healthcheck.NewHandler(),
		store:  store,
		checks: make(map[string]healthcheck.Check),
		logger: logger,
	}

	hc.health.AddLivenessCheck("goroutine-threshold", healthcheck.GoroutineCountCheck(1000))
	hc.AddReadinessCheck("store", func() error {
		return hc.store.Health()
	})

	return hc
}

// AddReadinessCheck 注册就绪检查
func (hc *HealthChecker) AddReadinessCheck(name string, check healthcheck.Check) {
	hc.health.AddReadinessCheck(name, check)
	if _, exists := hc.checks[name]; !exists {
		hc.order = append(hc.order, name)
	}
	hc.checks[name] = check
}

// AddPinger 以带超时的 Ping 注册就绪检查
func (hc *HealthChecker) AddPinger(name string, p Pinger) {
	hc.AddReadinessCheck(name, PingCheck(p, 3*time.Second))
}

// Handler 返回健康检查处理器（/live 与 /ready）
func (hc *HealthChecker) Handler() http.Handler {
	return hc.health
}

// LiveEndpoint 存活检查
func (hc *HealthChecker) LiveEndpoint(w http.ResponseWriter, r *http.Request) {
	hc.health.LiveEndpoint(w, r)
}

// ReadyEndpoint 就绪检查
func (hc *HealthChecker) ReadyEndpoint(w http.ResponseWriter, r *http.Request) {
	hc.health.ReadyEndpoint(w, r)
}

// CheckHealth 执行全部就绪检查并返回每项结果
func (hc *HealthChecker) CheckHealth() map[string]string {
	results := make(map[string]string, len(hc.order)+1)
	for _, name := range hc.order {
		if err := hc.checks[name](); err != nil {
			hc.logger.Warn("health check failed", zap.String("check", name), zap.Error(err))
			results[name] = fmt.Sprintf("ERROR: %v", err)
		} else {
			results[name] = "OK"
		}
	}
	results["timestamp"] = time.Now().UTC().Format(time.RFC3339)
	return results
}

// PingCheck 构造带超时的 Ping 检查
func PingCheck(p Pinger, timeout time.Duration) healthcheck.Check {
	return func() error {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		return p.Ping(ctx)
	}
}

// FreshnessCheck 最近一次成功的时间超过 maxAge 时失败，从未成功过时不判定
func FreshnessCheck(name string, lastSuccess func() time.Time, maxAge time.Duration) healthcheck.Check {
	return func() error {
		last := lastSuccess()
		if last.IsZero() {
			return nil
		}
		if age := time.Since(last); age > maxAge {
			return fmt.Errorf("%s last succeeded %s ago", name, age.Truncate(time.Second))
		}
		return nil
	}
}
