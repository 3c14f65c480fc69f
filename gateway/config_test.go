package gateway

import (
	"errors"
	"testing"
	"time"

	"github.com/richinsley/comfyflow/cache"
	"github.com/richinsley/comfyflow/comfyerr"
	"github.com/richinsley/comfyflow/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	for _, k := range []string{
		"COMFYUI_BASE_URL", "COMFYUI_AUTH_TYPE", "COMFYUI_USERNAME", "COMFYUI_PASSWORD", "COMFYUI_API_KEY",
		"COMFYUI_CACHE_TTL", "COMFYUI_CONNECT_TIMEOUT", "COMFYUI_REDIS_ADDR", "COMFYUI_REDIS_PASSWORD",
		"COMFYUI_REDIS_DB", "COMFYUI_VALIDATE_GRAPHS",
	} {
		t.Setenv(k, "")
	}
}

func TestConfigFromEnvDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := ConfigFromEnv()
	require.NoError(t, err)
	assert.Equal(t, DefaultBaseURL, cfg.BaseURL)
	assert.Equal(t, services.AuthNone, cfg.Auth.Type)
	assert.Equal(t, cache.DefaultTTL, cfg.CacheTTL)
	assert.Equal(t, 30*time.Second, cfg.ConnectTimeout)
	assert.Empty(t, cfg.RedisAddr)
	assert.False(t, cfg.ValidateGraphs)
}

func TestConfigFromEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("COMFYUI_BASE_URL", "https://comfy.example.com")
	t.Setenv("COMFYUI_AUTH_TYPE", "basic")
	t.Setenv("COMFYUI_USERNAME", "user")
	t.Setenv("COMFYUI_PASSWORD", "pass")
	t.Setenv("COMFYUI_CACHE_TTL", "90")
	t.Setenv("COMFYUI_CONNECT_TIMEOUT", "1m30s")
	t.Setenv("COMFYUI_REDIS_ADDR", "localhost:6379")
	t.Setenv("COMFYUI_REDIS_DB", "2")
	t.Setenv("COMFYUI_VALIDATE_GRAPHS", "true")

	cfg, err := ConfigFromEnv()
	require.NoError(t, err)
	assert.Equal(t, "https://comfy.example.com", cfg.BaseURL)
	assert.Equal(t, services.AuthBasic, cfg.Auth.Type)
	assert.Equal(t, "user", cfg.Auth.Username)
	assert.Equal(t, "pass", cfg.Auth.Password)
	assert.Equal(t, 90*time.Second, cfg.CacheTTL)
	assert.Equal(t, 90*time.Second, cfg.ConnectTimeout)
	assert.Equal(t, "localhost:6379", cfg.RedisAddr)
	assert.Equal(t, 2, cfg.RedisDB)
	assert.True(t, cfg.ValidateGraphs)
}

func TestConfigFromEnvParseErrors(t *testing.T) {
	for _, tt := range []struct{ key, value string }{
		{"COMFYUI_CACHE_TTL", "soon"},
		{"COMFYUI_CONNECT_TIMEOUT", "-"},
		{"COMFYUI_REDIS_DB", "first"},
		{"COMFYUI_VALIDATE_GRAPHS", "maybe"},
	} {
		t.Run(tt.key, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(tt.key, tt.value)
			_, err := ConfigFromEnv()
			var de *comfyerr.Error
			require.True(t, errors.As(err, &de))
			assert.Equal(t, comfyerr.KindConfig, de.Kind)
			assert.Equal(t, comfyerr.ReasonConfigParseError, de.Reason)
		})
	}
}

func TestNewRejectsBadConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want comfyerr.ErrorType
	}{
		{"missing url", Config{}, comfyerr.TypeBizError},
		{"relative url", Config{BaseURL: "127.0.0.1:8188"}, comfyerr.TypeBizError},
		{"negative ttl", Config{BaseURL: DefaultBaseURL, CacheTTL: -time.Second}, comfyerr.TypeBizError},
		{"bad auth", Config{BaseURL: DefaultBaseURL, Auth: services.AuthConfig{Type: services.AuthBearer}}, comfyerr.TypeInvalidAPIKey},
		{"redis unreachable", Config{BaseURL: DefaultBaseURL, RedisAddr: "127.0.0.1:1"}, comfyerr.TypeServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, err := New(tt.cfg)
			assert.Nil(t, svc)
			assert.Equal(t, tt.want, errType(t, err))
		})
	}
}

func TestNewDefaults(t *testing.T) {
	svc, err := New(Config{BaseURL: DefaultBaseURL})
	require.NoError(t, err)
	defer svc.Close()

	assert.NotNil(t, svc.Registry())
	assert.Equal(t, DefaultBaseURL, svc.Client().BaseURL())
	assert.Equal(t, cache.DefaultTTL, svc.cache.TTL())
	assert.False(t, svc.validate)

	svc2, err := New(Config{BaseURL: DefaultBaseURL, ValidateGraphs: true}, WithPreSubmitValidation(false), WithCacheStore(cache.NewMemoryStore()))
	require.NoError(t, err)
	defer svc2.Close()
	assert.False(t, svc2.validate)
}
