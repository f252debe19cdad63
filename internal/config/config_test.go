package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, 6, cfg.OTP.Digits)
	assert.Equal(t, 10*time.Minute, cfg.OTP.ResetTTL)
	assert.Equal(t, "sm_session", cfg.Session.CookieName)
	assert.Equal(t, 336*time.Hour, cfg.Session.TTL)
	assert.Equal(t, 5, cfg.Business.MaxRetryCount)
	assert.Equal(t, "servicemart.order", cfg.Kafka.Topic.OrderEvents)
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 9090
otp:
  digits: 4
  reset_ttl: 15m
`), 0o644))

	t.Setenv("SERVICEMART_SERVER_PORT", "7070")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, 4, cfg.OTP.Digits)
	assert.Equal(t, 15*time.Minute, cfg.OTP.ResetTTL)
	// 文件没写的取默认值
	assert.Equal(t, "config/rbac_model.conf", cfg.Authz.ModelPath)
}

func TestLoadConfig_Missing(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
