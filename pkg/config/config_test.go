package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadNoConfigFileReturnsDefaults(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(filepath.Join(dir, "nonexistent.yaml"))
	require.NoError(t, err)
	assert.True(t, cfg.Precache.Size.Unlimited)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadParsesSentinelFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
precache:
  location: ` + filepath.ToSlash(dir) + `/precache
  index: tracker.db
  size: 10Gi
  expiry: unlimited
  chunk_size: 1Mi
irods:
  max_connections: 8
httpd:
  bind_address: 0.0.0.0
  listen: 9000
  timeout: unlimited
  authentication:
    - basic_auth
basic_auth:
  url: https://example.org/validate
  cache: never
arvados_auth:
  api_host: arvados.example.org
  cache: 5m
logging:
  output: STDERR
  level: debug
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.False(t, cfg.Precache.Size.Unlimited)
	assert.EqualValues(t, 10*1024*1024*1024, cfg.Precache.Size.Bytes())
	assert.True(t, cfg.Precache.Expiry.Unlimited)
	assert.True(t, cfg.HTTPD.Timeout.Unlimited)
	assert.True(t, cfg.BasicAuth.Cache.Never)
	assert.False(t, cfg.ArvadosAuth.Cache.Never)
	assert.Equal(t, 5*time.Minute, cfg.ArvadosAuth.Cache.Duration)
	assert.Equal(t, 8, cfg.Irods.MaxConnections)
}

func TestLoadFoldsDeprecatedAgeThreshold(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
precache:
  location: ` + filepath.ToSlash(dir) + `/precache
  index: tracker.db
  size: unlimited
  age_threshold: 72h
  chunk_size: 1Mi
irods:
  max_connections: 1
httpd:
  bind_address: 127.0.0.1
  listen: 8080
  timeout: 30s
  authentication:
    - basic_auth
basic_auth:
  url: https://example.org/validate
  cache: never
logging:
  output: STDERR
  level: info
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Nil(t, cfg.Precache.AgeThreshold)
	assert.False(t, cfg.Precache.Expiry.Unlimited)
	assert.Equal(t, 72*time.Hour, cfg.Precache.Expiry.Duration)
}

func TestSaveConfigRoundTrips(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	cfg := DefaultConfig()
	cfg.Precache.Location = dir
	cfg.BasicAuth.URL = "https://example.org/validate"

	require.NoError(t, SaveConfig(cfg, path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, dir, loaded.Precache.Location)
	assert.Equal(t, "https://example.org/validate", loaded.BasicAuth.URL)
}
