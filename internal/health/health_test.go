package health

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"mailsync/backend/internal/storage/memory"
)

type pingerFunc func(ctx context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestHealthChecker_Ready(t *testing.T) {
	hc := NewHealthChecker(memory.NewStore(), zap.NewNop())

	rec := httptest.NewRecorder()
	hc.ReadyEndpoint(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	hc.AddPinger("redis", pingerFunc(func(context.Context) error {
		return errors.New("connection refused")
	}))

	rec = httptest.NewRecorder()
	hc.ReadyEndpoint(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	results := hc.CheckHealth()
	assert.Equal(t, "OK", results["store"])
	assert.Contains(t, results["redis"], "connection refused")
}

func TestFreshnessCheck(t *testing.T) {
	var last time.Time
	check := FreshnessCheck("sync", func() time.Time { return last }, time.Minute)

	assert.NoError(t, check(), "从未成功过时不判定")

	last = time.Now().Add(-30 * time.Second)
	assert.NoError(t, check())

	last = time.Now().Add(-2 * time.Minute)
	assert.Error(t, check())
}
