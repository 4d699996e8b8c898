package config

import (
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validSecret = "test-secret-key-for-development-32-chars-long-at-least"

// clearEnv 清除所有 MAILSYNC_ 前缀的环境变量，测试结束后恢复
func clearEnv(t *testing.T) {
	t.Helper()
	for _, kv := range os.Environ() {
		key, value, _ := strings.Cut(kv, "=")
		if strings.HasPrefix(key, "MAILSYNC_") {
			t.Setenv(key, value)
			os.Unsetenv(key)
		}
	}
}

func TestLoad(t *testing.T) {
	t.Run("加载默认配置成功", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("MAILSYNC_JWT_SECRET", validSecret)

		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, "0.0.0.0", cfg.Server.Host)
		assert.Equal(t, 8080, cfg.Server.Port)
		assert.Equal(t, 993, cfg.IMAP.Port)
		assert.Equal(t, "INBOX", cfg.IMAP.Mailbox)
		assert.True(t, cfg.IMAP.UseTLS)
		assert.False(t, cfg.IMAP.Enabled())
		assert.Equal(t, 6*time.Second, cfg.Sync.Interval)
		assert.Equal(t, 2, cfg.Sync.MaxConcurrentRuns)
		assert.Equal(t, 2*time.Minute, cfg.Sync.RunTimeout)
		assert.Equal(t, 4, cfg.Sync.Workers)
		assert.Equal(t, 10, cfg.Sync.Window)
		assert.Equal(t, "unseen", cfg.Sync.Policy)
		assert.True(t, cfg.Sync.AttributeSenders)
		assert.False(t, cfg.Normalizer.AutoDisplayName)
		assert.Len(t, cfg.Classification.Categories, 7)
		assert.Equal(t, 3, cfg.Analytics.TopSenders)
		assert.Equal(t, 30*time.Second, cfg.Analytics.CacheTTL)
		assert.Equal(t, []string{"*"}, cfg.CORS.AllowedOrigins)
		assert.Equal(t, "info", cfg.Log.Level)
		assert.Empty(t, cfg.Database.Type)
		assert.False(t, cfg.Redis.Enabled)
		assert.Equal(t, 30*24*time.Hour, cfg.Redis.DedupTTL)
		assert.Equal(t, "mailsync", cfg.JWT.Issuer)
		assert.Equal(t, 15*time.Minute, cfg.JWT.AccessExpiry)
		assert.Equal(t, 7*24*time.Hour, cfg.JWT.RefreshExpiry)
		assert.False(t, cfg.Manager.RequireAuth)
	})

	t.Run("加载自定义配置成功", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("MAILSYNC_JWT_SECRET", validSecret)
		t.Setenv("MAILSYNC_IMAP_HOST", "imap.gmail.com")
		t.Setenv("MAILSYNC_IMAP_USERNAME", "time@storkmail.com")
		t.Setenv("MAILSYNC_SYNC_INTERVAL", "60")
		t.Setenv("MAILSYNC_SYNC_POLICY", "ALL")
		t.Setenv("MAILSYNC_NORMALIZER_AUTO_DISPLAY_NAME", "true")
		t.Setenv("MAILSYNC_CLASSIFICATION_CATEGORIES", "Vendas, Suporte")
		t.Setenv("MAILSYNC_CORS_ALLOWED_ORIGINS", "http://localhost:3000,http://localhost:5173")
		t.Setenv("MAILSYNC_DATABASE_TYPE", "Postgres")
		t.Setenv("MAILSYNC_DATABASE_CONN_MAX_LIFETIME", "10m")

		cfg, err := Load()
		require.NoError(t, err)

		assert.True(t, cfg.IMAP.Enabled())
		assert.Equal(t, time.Minute, cfg.Sync.Interval)
		assert.Equal(t, "all", cfg.Sync.Policy)
		assert.True(t, cfg.Normalizer.AutoDisplayName)
		assert.Equal(t, []string{"Vendas", "Suporte"}, cfg.Classification.Categories)
		assert.Equal(t, []string{"http://localhost:3000", "http://localhost:5173"}, cfg.CORS.AllowedOrigins)
		assert.Equal(t, "postgres", cfg.Database.Type)
		assert.Equal(t, 10*time.Minute, cfg.Database.ConnMaxLifetime)
	})

	failures := []struct {
		name    string
		env     map[string]string
		message string
	}{
		{
			name:    "JWT密钥太短失败",
			env:     map[string]string{"MAILSYNC_JWT_SECRET": "short-key"},
			message: "JWT secret must be at least 32 characters long",
		},
		{
			name:    "使用默认JWT密钥失败",
			env:     map[string]string{"MAILSYNC_JWT_SECRET": placeholderSecret},
			message: "JWT secret cannot be the default value",
		},
		{
			name:    "同步间隔必须为正",
			env:     map[string]string{"MAILSYNC_JWT_SECRET": validSecret, "MAILSYNC_SYNC_INTERVAL": "0"},
			message: "sync.interval must be positive",
		},
		{
			name:    "拉取窗口必须为正",
			env:     map[string]string{"MAILSYNC_JWT_SECRET": validSecret, "MAILSYNC_SYNC_WINDOW": "-1"},
			message: "sync.window must be positive",
		},
		{
			name:    "并发上限至少为一",
			env:     map[string]string{"MAILSYNC_JWT_SECRET": validSecret, "MAILSYNC_SYNC_MAX_CONCURRENT_RUNS": "0"},
			message: "sync.max_concurrent_runs must be at least 1",
		},
		{
			name:    "未知的搜索策略",
			env:     map[string]string{"MAILSYNC_JWT_SECRET": validSecret, "MAILSYNC_SYNC_POLICY": "recent"},
			message: "invalid sync.policy",
		},
		{
			name:    "不支持的数据库类型",
			env:     map[string]string{"MAILSYNC_JWT_SECRET": validSecret, "MAILSYNC_DATABASE_TYPE": "sqlite"},
			message: "unsupported database.type",
		},
		{
			name:    "空的类别列表",
			env:     map[string]string{"MAILSYNC_JWT_SECRET": validSecret, "MAILSYNC_CLASSIFICATION_CATEGORIES": " , , "},
			message: "classification.categories must not be empty",
		},
	}

	for _, tc := range failures {
		t.Run(tc.name, func(t *testing.T) {
			clearEnv(t)
			for key, value := range tc.env {
				t.Setenv(key, value)
			}

			cfg, err := Load()
			require.Error(t, err)
			assert.Nil(t, cfg)
			assert.Contains(t, err.Error(), tc.message)
		})
	}
}

func TestParseList(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected []string
	}{
		{name: "单个项目", input: "item1", expected: []string{"item1"}},
		{name: "带空格的项目", input: " item1 , item2 , item3 ", expected: []string{"item1", "item2", "item3"}},
		{name: "空字符串", input: "", expected: []string{}},
		{name: "混合空值", input: "item1,,item2,", expected: []string{"item1", "item2"}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, parseList(tc.input))
		})
	}
}
