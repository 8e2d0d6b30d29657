package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "storysync.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ".storysync", cfg.DataDir)
	assert.Equal(t, 30*time.Second, cfg.API.Timeout)
	assert.Equal(t, cfg.API.BaseURL, cfg.Network.ProbeURL, "probe defaults to the API")
	assert.Equal(t, 3, cfg.Sync.MaxRetries)
	assert.Equal(t, 500, cfg.Sync.MaxQueueSize)
	assert.Equal(t, 7*24*time.Hour, cfg.Cache.Retention)
	assert.Equal(t, 30*24*time.Hour, cfg.Cache.ImageRetention)
	assert.False(t, cfg.Compress.Enabled)
	assert.Equal(t, 1920, cfg.Compress.MaxDimension)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, filepath.Join(".storysync", "blobs"), cfg.BlobDir())
	assert.Equal(t, filepath.Join(".storysync", "images"), cfg.ImageDir())
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `
data_dir: /var/lib/storysync
api:
  base_url: http://localhost:9000
  timeout: 5s
sync:
  drain_interval: 1m
compress:
  enabled: true
  quality: 70
logging:
  level: debug
  format: console
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/storysync", cfg.DataDir)
	assert.Equal(t, "http://localhost:9000", cfg.API.BaseURL)
	assert.Equal(t, "http://localhost:9000", cfg.Network.ProbeURL)
	assert.Equal(t, 5*time.Second, cfg.API.Timeout)
	assert.Equal(t, time.Minute, cfg.Sync.DrainInterval)
	assert.True(t, cfg.Compress.Enabled)
	assert.Equal(t, 70, cfg.Compress.Quality)
	assert.Equal(t, "console", cfg.Logging.Format)
}

func TestLoad_EnvOverrides(t *testing.T) {
	path := writeConfig(t, "api:\n  base_url: http://file\n")
	t.Setenv("STORYSYNC_API_BASE_URL", "http://env")
	t.Setenv("STORYSYNC_API_TOKEN", "secret")
	t.Setenv("STORYSYNC_SYNC_MAX_QUEUE_SIZE", "10")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "http://env", cfg.API.BaseURL)
	assert.Equal(t, "secret", cfg.API.Token)
	assert.Equal(t, 10, cfg.Sync.MaxQueueSize)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"bad level", "logging:\n  level: loud\n"},
		{"bad format", "logging:\n  format: xml\n"},
		{"zero retries", "sync:\n  max_retries: 0\n"},
		{"quality out of range", "compress:\n  quality: 101\n"},
		{"malformed yaml", "api: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
