package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/getpup/sigledger/config"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "sigledger.db", cfg.Database.DSN)
	assert.True(t, cfg.Database.Migrate)
	assert.Equal(t, 3, cfg.Reconcile.MaxRetries)
	assert.Equal(t, 200, cfg.Log.PageSize)
	assert.Equal(t, "memory", cfg.Cache.Backend)
	assert.Equal(t, 24*time.Hour, cfg.Cache.TTL)
	assert.Equal(t, 500*time.Millisecond, cfg.Processor.PollInterval)
	assert.Equal(t, "sigledger.events", cfg.NATS.SubjectPrefix)
	assert.Empty(t, cfg.Metrics.Addr)
}

func TestLoadFileAndEnvironment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sigledger.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
database:
  driver: postgres
  dsn: postgres://localhost/sigs?sslmode=disable
cache:
  backend: redis
  ttl: 10m
redis:
  addr: redis:6379
  db: 2
logging:
  format: json
`), 0o600))

	t.Setenv("SIGLEDGER_RECONCILE_MAX_RETRIES", "7")
	t.Setenv("SIGLEDGER_REDIS_DB", "4")

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, "redis", cfg.Cache.Backend)
	assert.Equal(t, 10*time.Minute, cfg.Cache.TTL)
	assert.Equal(t, "redis:6379", cfg.Redis.Addr)
	assert.Equal(t, 4, cfg.Redis.DB)
	assert.Equal(t, 7, cfg.Reconcile.MaxRetries)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{name: "driver", env: map[string]string{"SIGLEDGER_DATABASE_DRIVER": "oracle"}, want: "database.driver"},
		{name: "cache", env: map[string]string{"SIGLEDGER_CACHE_BACKEND": "memcached"}, want: "cache.backend"},
		{name: "page size", env: map[string]string{"SIGLEDGER_LOG_PAGE_SIZE": "0"}, want: "log.page_size"},
		{name: "format", env: map[string]string{"SIGLEDGER_LOGGING_FORMAT": "xml"}, want: "logging.format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := config.Load("")
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
