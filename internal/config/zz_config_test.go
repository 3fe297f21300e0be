package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(viper.New(), "")
	require.NoError(t, err)

	assert.Equal(t, 25565, cfg.Port)
	assert.Equal(t, "redis://127.0.0.1:6379", cfg.RedisURL)
	assert.Equal(t, "http://127.0.0.1:9222", cfg.BrowserURL)
	assert.Equal(t, "https://google.com", cfg.BlankURL)
	assert.Equal(t, "redis", cfg.RegistryDriver)
	assert.Equal(t, 15*time.Second, cfg.IdleTimeout)
	assert.Equal(t, time.Second, cfg.WatchdogInterval)
	assert.Equal(t, 200*time.Millisecond, cfg.ResourcePollInterval)
	assert.Equal(t, 15, cfg.ResourcePollAttempts)
	assert.Equal(t, ":25565", cfg.Addr())
}

func TestLoad_Environment(t *testing.T) {
	t.Setenv("PORT", "8080")
	t.Setenv("REDIS_URL", "redis://cache:6379/2")
	t.Setenv("IDLE_TIMEOUT", "30s")
	t.Setenv("REGISTRY_DRIVER", "memory")

	cfg, err := Load(viper.New(), "")
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "redis://cache:6379/2", cfg.RedisURL)
	assert.Equal(t, 30*time.Second, cfg.IdleTimeout)
	assert.Equal(t, "memory", cfg.RegistryDriver)
}

func TestLoad_ConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "worker.yaml")
	require.NoError(t, os.WriteFile(path, []byte("port: 9000\nbrowser_url: http://chrome:9222\nlog_format: json\n"), 0o644))

	cfg, err := Load(viper.New(), path)
	require.NoError(t, err)
	assert.Equal(t, 9000, cfg.Port)
	assert.Equal(t, "http://chrome:9222", cfg.BrowserURL)
	assert.Equal(t, "json", cfg.LogFormat)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(viper.New(), filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	v := viper.New()
	SetDefaults(v)
	var cfg Config
	require.NoError(t, v.Unmarshal(&cfg))
	require.NoError(t, cfg.Validate())

	bad := cfg
	bad.Port = 0
	bad.RegistryDriver = "etcd"
	bad.IdleTimeout = 0
	err := bad.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "port 0")
	assert.Contains(t, err.Error(), "etcd")
	assert.Contains(t, err.Error(), "idle_timeout")
}
