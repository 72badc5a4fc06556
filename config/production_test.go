package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validSecret = "0123456789abcdef0123456789abcdef"

func TestFromViper_Defaults(t *testing.T) {
	t.Setenv("JWT_SECRET_KEY", validSecret)

	v, err := NewViper("")
	require.NoError(t, err)
	cfg := FromViper(v)

	require.NoError(t, ValidateProductionConfig(cfg))
	assert.Equal(t, "claims", cfg.Queue.Stream)
	assert.Equal(t, "claims.dead-letter", cfg.Queue.DeadLetterStream)
	assert.Equal(t, 3, cfg.Bootstrap.MaxRetries)
	assert.Equal(t, 10*time.Second, cfg.Bootstrap.RetryDelay)
	assert.Equal(t, 30*time.Second, cfg.Cache.RuleCacheTTL)
	assert.Equal(t, "first", cfg.Routing.SelectionPolicy)
	assert.Equal(t, []string{"*"}, cfg.Security.AllowedOrigins)
	assert.Equal(t, "0.0.0.0:8080", cfg.Server.Address())
}

func TestFromViper_EnvironmentOverrides(t *testing.T) {
	t.Setenv("JWT_SECRET_KEY", validSecret)
	t.Setenv("QUEUE_PREFETCH", "32")
	t.Setenv("BOOTSTRAP_RETRY_DELAY", "250ms")
	t.Setenv("ROUTING_SELECTION_POLICY", "Least_Loaded")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example, https://b.example")

	v, err := NewViper("")
	require.NoError(t, err)
	cfg := FromViper(v)

	require.NoError(t, ValidateProductionConfig(cfg))
	assert.Equal(t, 32, cfg.Queue.Prefetch)
	assert.Equal(t, 250*time.Millisecond, cfg.Bootstrap.RetryDelay)
	assert.Equal(t, "least_loaded", cfg.Routing.SelectionPolicy)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Security.AllowedOrigins)
}

func TestNewViper_ConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "claim-router.yaml")
	require.NoError(t, os.WriteFile(path, []byte("queue_stream: objections\nserver_port: 9090\n"), 0o600))

	v, err := NewViper(path)
	require.NoError(t, err)
	cfg := FromViper(v)

	assert.Equal(t, "objections", cfg.Queue.Stream)
	assert.Equal(t, 9090, cfg.Server.Port)

	_, err = NewViper(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidateProductionConfig_Failures(t *testing.T) {
	t.Setenv("JWT_SECRET_KEY", "short")
	t.Setenv("QUEUE_DEAD_LETTER_STREAM", "claims")
	t.Setenv("ROUTING_SELECTION_POLICY", "random")
	t.Setenv("NOTIFICATION_SINK", "webhook")
	t.Setenv("LOG_LEVEL", "verbose")

	v, err := NewViper("")
	require.NoError(t, err)
	err = ValidateProductionConfig(FromViper(v))

	require.Error(t, err)
	for _, fragment := range []string{"JWT_SECRET_KEY", "QUEUE_DEAD_LETTER_STREAM", "ROUTING_SELECTION_POLICY", "NOTIFICATION_WEBHOOK_URL", "LOG_LEVEL"} {
		assert.Contains(t, err.Error(), fragment)
	}
}

func TestNewLogger(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")

	logger, closer, err := NewLogger(LoggingConfig{Level: "debug", Format: "json", Output: "file", FilePath: path, MaxSize: 1}, "test")
	require.NoError(t, err)
	logger.Info("hello", "claim_id", "CL-1")
	require.NoError(t, closer.Close())

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(content), `"claim_id":"CL-1"`)
	assert.Contains(t, string(content), `"version":"test"`)

	_, _, err = NewLogger(LoggingConfig{Level: "loud"}, "test")
	assert.Error(t, err)
}
