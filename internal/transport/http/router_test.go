package httptransport

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"mailsync/backend/internal/auth"
	"mailsync/backend/internal/config"
	"mailsync/backend/internal/domain"
	"mailsync/backend/internal/mailaddr"
	"mailsync/backend/internal/scheduler"
	"mailsync/backend/internal/service"
	"mailsync/backend/internal/storage/memory"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// stubSyncer 返回固定结果的同步器
type stubSyncer struct {
	result *domain.SyncResult
	err    error
}

func (s *stubSyncer) Sync(_ context.Context, trigger domain.SyncTrigger) (*domain.SyncResult, error) {
	if s.err != nil {
		return nil, s.err
	}
	result := *s.result
	result.Trigger = trigger
	return &result, nil
}

type testServer struct {
	router *gin.Engine
	store  *memory.Store
	auth   *auth.Service
}

func newTestServer(t *testing.T, requireAuth bool, syncer scheduler.Syncer) *testServer {
	t.Helper()

	log := zap.NewNop()
	cfg := &config.Config{
		CORS:           config.CORSConfig{AllowedOrigins: []string{"*"}},
		Classification: config.ClassificationConfig{Categories: domain.DefaultCategories},
		Manager:        config.ManagerConfig{RequireAuth: requireAuth},
		JWT: config.JWTConfig{
			Secret:        strings.Repeat("s", 32),
			Issuer:        "mailsync-test",
			AccessExpiry:  time.Minute,
			RefreshExpiry: time.Hour,
		},
	}

	store := memory.NewStore()
	rules := domain.ClassificationRules{Categories: cfg.Classification.Categories}
	senders := service.NewSenderService(store, store, log)
	authService := auth.NewService(store, auth.NewTokenManager(cfg.JWT), log)

	var sched *scheduler.Scheduler
	if syncer != nil {
		sched = scheduler.New(syncer, scheduler.Options{Interval: time.Minute, MaxConcurrentRuns: 1}, log)
	}

	router := NewRouter(RouterDependencies{
		Config:           cfg,
		RecordService:    service.NewRecordService(store, mailaddr.NewNormalizer(false), rules, log),
		SenderService:    senders,
		AnalyticsService: service.NewAnalyticsService(store, store, service.AnalyticsConfig{}, log),
		AuthService:      authService,
		Scheduler:        sched,
		Logger:           log,
	})
	return &testServer{router: router, store: store, auth: authService}
}

func (ts *testServer) do(t *testing.T, method, path string, body any, token string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)

	var payload map[string]any
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &payload))
	}
	return w, payload
}

func (ts *testServer) createEmail(t *testing.T, body map[string]any) string {
	t.Helper()
	w, payload := ts.do(t, http.MethodPost, "/api/emails/create", body, "")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return payload["data"].(map[string]any)["id"].(string)
}

func TestEmailRoutes(t *testing.T) {
	ts := newTestServer(t, false, nil)

	t.Run("空存储返回空列表", func(t *testing.T) {
		w, payload := ts.do(t, http.MethodGet, "/api/emails", nil, "")
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, true, payload["success"])
		assert.Equal(t, []any{}, payload["data"])
	})

	id := ts.createEmail(t, map[string]any{
		"remetente":    "Ana Silva <ana@x.com>",
		"destinatario": "time@y.com",
		"assunto":      "Relatório",
		"corpo":        "corpo",
	})

	t.Run("获取单条记录", func(t *testing.T) {
		w, payload := ts.do(t, http.MethodGet, "/api/emails/"+id, nil, "")
		require.Equal(t, http.StatusOK, w.Code)
		data := payload["data"].(map[string]any)
		assert.Equal(t, "ana@x.com", data["remetente"])
		assert.Equal(t, "Ana Silva", data["nome_remetente"])
		assert.Equal(t, false, data["classificado"])
	})

	t.Run("未分类记录出现在待分类列表", func(t *testing.T) {
		_, payload := ts.do(t, http.MethodGet, "/api/emails/pending", nil, "")
		assert.Len(t, payload["data"], 1)
	})

	t.Run("不存在的记录返回404", func(t *testing.T) {
		w, payload := ts.do(t, http.MethodGet, "/api/emails/missing", nil, "")
		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Equal(t, false, payload["success"])
		assert.Equal(t, MsgEmailNotFound, payload["error"])
	})

	t.Run("非法发件人返回400", func(t *testing.T) {
		w, payload := ts.do(t, http.MethodPost, "/api/emails", map[string]any{
			"remetente":    "not-an-address",
			"destinatario": "time@y.com",
		}, "")
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, payload["error"], "remetente")
	})

	t.Run("分类缺少地点返回400", func(t *testing.T) {
		w, _ := ts.do(t, http.MethodPut, "/api/emails/"+id+"/classify", map[string]any{
			"estado": "PI",
		}, "")
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("地区超长返回400", func(t *testing.T) {
		w, payload := ts.do(t, http.MethodPut, "/api/emails/"+id+"/classify", map[string]any{
			"estado":    "Piaui-Norte",
			"municipio": "Piripiri",
		}, "")
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, payload["error"], "estado")
	})

	t.Run("分类成功", func(t *testing.T) {
		w, payload := ts.do(t, http.MethodPut, "/api/emails/"+id+"/classify", map[string]any{
			"estado":    "pi",
			"municipio": "Piripiri",
			"categoria": "Trabalho",
		}, "")
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		data := payload["data"].(map[string]any)
		assert.Equal(t, "PI", data["estado"])
		assert.Equal(t, "Piripiri", data["municipio"])
		assert.Equal(t, true, data["classificado"])
	})

	t.Run("按分类状态过滤", func(t *testing.T) {
		_, payload := ts.do(t, http.MethodGet, "/api/emails?classificado=true&estado=PI", nil, "")
		assert.Len(t, payload["data"], 1)

		_, payload = ts.do(t, http.MethodGet, "/api/emails?classificado=false", nil, "")
		assert.Len(t, payload["data"], 0)

		w, _ := ts.do(t, http.MethodGet, "/api/emails?classificado=talvez", nil, "")
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("仪表盘统计", func(t *testing.T) {
		w, payload := ts.do(t, http.MethodGet, "/api/dashboard/stats", nil, "")
		require.Equal(t, http.StatusOK, w.Code)
		data := payload["data"].(map[string]any)
		assert.EqualValues(t, 1, data["total"])
		assert.EqualValues(t, 1, data["classificados"])
	})

	t.Run("删除后返回404", func(t *testing.T) {
		w, _ := ts.do(t, http.MethodDelete, "/api/emails/"+id, nil, "")
		assert.Equal(t, http.StatusOK, w.Code)

		w, _ = ts.do(t, http.MethodDelete, "/api/emails/"+id, nil, "")
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestSenderRoutes(t *testing.T) {
	ts := newTestServer(t, false, nil)
	ctx := context.Background()

	senders := service.NewSenderService(ts.store, ts.store, zap.NewNop())
	record := &domain.Record{From: "b@x.com", To: "c@y.com", ReceivedAt: time.Now().UTC()}
	require.NoError(t, ts.store.CreateRecord(ctx, record))
	sender, err := senders.RegisterSent(ctx, "b@x.com", nil, record.ID)
	require.NoError(t, err)

	t.Run("列出发件人", func(t *testing.T) {
		w, payload := ts.do(t, http.MethodGet, "/api/funcionarios", nil, "")
		require.Equal(t, http.StatusOK, w.Code)
		assert.Len(t, payload["data"], 1)
	})

	t.Run("发件人名下的记录", func(t *testing.T) {
		w, payload := ts.do(t, http.MethodGet, "/api/funcionarios/"+sender.ID+"/emails", nil, "")
		require.Equal(t, http.StatusOK, w.Code)
		assert.Len(t, payload["data"], 1)
	})

	t.Run("不存在的发件人返回404", func(t *testing.T) {
		w, payload := ts.do(t, http.MethodGet, "/api/funcionarios/missing", nil, "")
		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Equal(t, MsgSenderNotFound, payload["error"])
	})
}

func TestSyncRoutes(t *testing.T) {
	t.Run("未配置邮箱返回503", func(t *testing.T) {
		ts := newTestServer(t, false, nil)
		w, payload := ts.do(t, http.MethodPost, "/api/sync/trigger", nil, "")
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		assert.Equal(t, MsgSyncUnavailable, payload["error"])
	})

	t.Run("手动同步返回新入库的记录", func(t *testing.T) {
		syncer := &stubSyncer{result: &domain.SyncResult{
			RunID:    "run-1",
			Fetched:  3,
			Ingested: 2,
			Records: []*domain.Record{
				{ID: "r1", From: "a@x.com"},
				{ID: "r2", From: "b@x.com"},
			},
			Duplicates: 1,
		}}
		ts := newTestServer(t, false, syncer)

		w, payload := ts.do(t, http.MethodPost, "/api/sync/trigger", nil, "")
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		assert.Equal(t, "2 emails sincronizados", payload["message"])
		assert.EqualValues(t, 2, payload["count"])
		assert.Len(t, payload["data"], 2)

		w, payload = ts.do(t, http.MethodGet, "/api/sync/status", nil, "")
		require.Equal(t, http.StatusOK, w.Code)
		data := payload["data"].(map[string]any)
		assert.EqualValues(t, 0, data["consecutiveFailures"])
		assert.NotNil(t, data["lastRun"])
	})

	t.Run("同步失败返回500且不暴露内部错误", func(t *testing.T) {
		ts := newTestServer(t, false, &stubSyncer{err: domain.ErrConnection})
		w, payload := ts.do(t, http.MethodPost, "/api/sync/trigger", nil, "")
		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.Equal(t, MsgSyncFailed, payload["error"])
	})
}

func TestAuthRoutes(t *testing.T) {
	ts := newTestServer(t, true, nil)
	ctx := context.Background()

	_, err := ts.auth.CreateManager(ctx, "gerente@example.com", "senha-forte-123", "Gerente")
	require.NoError(t, err)

	t.Run("写操作需要登录", func(t *testing.T) {
		w, _ := ts.do(t, http.MethodPost, "/api/emails/create", map[string]any{
			"remetente":    "a@x.com",
			"destinatario": "b@y.com",
		}, "")
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("读操作无需登录", func(t *testing.T) {
		w, _ := ts.do(t, http.MethodGet, "/api/emails", nil, "")
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("密码错误返回401", func(t *testing.T) {
		w, payload := ts.do(t, http.MethodPost, "/api/auth/login", map[string]any{
			"email":    "gerente@example.com",
			"password": "errada",
		}, "")
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Equal(t, MsgInvalidCredentials, payload["error"])
	})

	t.Run("登录后可以录入与查询身份", func(t *testing.T) {
		w, payload := ts.do(t, http.MethodPost, "/api/auth/login", map[string]any{
			"email":    "Gerente@Example.com",
			"password": "senha-forte-123",
		}, "")
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		data := payload["data"].(map[string]any)
		token := data["accessToken"].(string)
		refresh := data["refreshToken"].(string)

		w, _ = ts.do(t, http.MethodPost, "/api/emails/create", map[string]any{
			"remetente":    "a@x.com",
			"destinatario": "b@y.com",
		}, token)
		assert.Equal(t, http.StatusCreated, w.Code)

		w, payload = ts.do(t, http.MethodGet, "/api/auth/me", nil, token)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "gerente@example.com", payload["data"].(map[string]any)["email"])

		w, _ = ts.do(t, http.MethodPost, "/api/auth/refresh", map[string]any{"refreshToken": refresh}, "")
		assert.Equal(t, http.StatusOK, w.Code)

		w, payload = ts.do(t, http.MethodPost, "/api/auth/refresh", map[string]any{"refreshToken": token}, "")
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Equal(t, MsgTokenInvalid, payload["error"])
	})
}

func TestMetaRoutes(t *testing.T) {
	ts := newTestServer(t, false, nil)

	_, payload := ts.do(t, http.MethodGet, "/api/meta/categories", nil, "")
	assert.Len(t, payload["data"], len(domain.DefaultCategories))

	_, payload = ts.do(t, http.MethodGet, "/api/meta/regions", nil, "")
	estados := payload["data"].(map[string]any)["estados"].([]any)
	assert.Len(t, estados, 27)
}
