package config

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("WEBHOOK_URL", "https://hooks.example.com/lead")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, []string{"*"}, cfg.CORSOrigins)
	assert.Equal(t, "sqlite", cfg.Store.Backend)
	assert.Equal(t, "fluia-lm-session-", cfg.Store.Prefix)
	assert.Equal(t, 15*time.Second, cfg.Webhook.Timeout)
	assert.Equal(t, time.Second, cfg.Webhook.RetryDelay)
	assert.Equal(t, "scripted", cfg.Flow.Variant)
	assert.Equal(t, 10, cfg.Flow.StepPercent)
	assert.Equal(t, 3*time.Second, cfg.Flow.ErrorClearDelay)
	assert.Equal(t, 7*24*time.Hour, cfg.SessionTTL)
	assert.Equal(t, 30*time.Minute, cfg.IdleTimeout)
	assert.True(t, cfg.IsDevelopment())
	assert.Equal(t, slog.LevelInfo, cfg.SlogLevel())
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("WEBHOOK_URL", "https://hooks.example.com/lead")
	t.Setenv("FRONTEND_URL", "https://fluia.es")
	t.Setenv("CORS_ORIGINS", "https://fluia.es, https://www.fluia.es,")
	t.Setenv("LOG_LEVEL", "DEBUG")
	t.Setenv("STORE_BACKEND", "redis")
	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("WEBHOOK_TIMEOUT", "2500")
	t.Setenv("FLOW_VARIANT", "server")
	t.Setenv("TOTAL_STEPS", "12")
	t.Setenv("ERROR_CLEAR_DELAY", "5s")
	t.Setenv("SESSION_IDLE_TIMEOUT", "10m")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, []string{"https://fluia.es", "https://www.fluia.es"}, cfg.CORSOrigins)
	assert.Equal(t, slog.LevelDebug, cfg.SlogLevel())
	assert.Equal(t, "redis", cfg.Store.Backend)
	assert.Equal(t, 2500*time.Millisecond, cfg.Webhook.Timeout)
	assert.Equal(t, "server", cfg.Flow.Variant)
	assert.Equal(t, 12, cfg.Flow.TotalSteps)
	assert.Equal(t, 5*time.Second, cfg.Flow.ErrorClearDelay)
	assert.Equal(t, 10*time.Minute, cfg.IdleTimeout)
	assert.False(t, cfg.IsDevelopment())
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"missing webhook", map[string]string{"WEBHOOK_URL": ""}},
		{"bad webhook url", map[string]string{"WEBHOOK_URL": "not a url"}},
		{"unknown backend", map[string]string{"STORE_BACKEND": "cassandra"}},
		{"redis without addr", map[string]string{"STORE_BACKEND": "redis"}},
		{"unknown variant", map[string]string{"FLOW_VARIANT": "wizard"}},
		{"zero step percent", map[string]string{"STEP_PERCENT": "0"}},
		{"bad port", map[string]string{"PORT": "http"}},
		{"bad log level", map[string]string{"LOG_LEVEL": "loud"}},
		{"zero idle timeout", map[string]string{"SESSION_IDLE_TIMEOUT": "0"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, ok := tt.env["WEBHOOK_URL"]; !ok {
				t.Setenv("WEBHOOK_URL", "https://hooks.example.com/lead")
			}
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestLoadStoreIgnoresWebhook(t *testing.T) {
	t.Setenv("STORE_BACKEND", "memory")

	cfg, err := LoadStore()
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.Backend)
}

func TestStoreConfigToStore(t *testing.T) {
	c := StoreConfig{Backend: "redis", Prefix: "p-", RedisAddr: "r:6379", RedisDB: 2}
	got := c.ToStore()
	assert.Equal(t, "redis", got.Backend)
	assert.Equal(t, "p-", got.Prefix)
	assert.Equal(t, "r:6379", got.Redis.Addr)
	assert.Equal(t, 2, got.Redis.DB)
}

func TestStaticDirMustExist(t *testing.T) {
	t.Setenv("WEBHOOK_URL", "https://hooks.example.com/lead")
	t.Setenv("STATIC_DIR", t.TempDir())
	_, err := Load()
	require.NoError(t, err)

	t.Setenv("STATIC_DIR", "/definitely/not/here")
	_, err = Load()
	assert.Error(t, err)
}
