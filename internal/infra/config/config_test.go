package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, StoreMemory, cfg.StoreDriver)
	assert.Equal(t, int64(10<<20), cfg.UploadMaxBytes)
	assert.Equal(t, []time.Duration{time.Second, 5 * time.Second, 30 * time.Second}, cfg.RetryBackoff)
	assert.Equal(t, cfg.S3Endpoint, cfg.S3PublicEndpoint)
	assert.Equal(t, 24*time.Hour, cfg.SessionTTL)
}

func TestLoadParsesDrivers(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("STORE_DRIVER", "Mongo")
	t.Setenv("MONGO_URI", "mongodb://localhost:27017")
	t.Setenv("MONGO_TRANSACTIONS", "yes")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")
	t.Setenv("SESSION_STORE", "redis")
	t.Setenv("REDIS_DB", "2")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, StoreMongo, cfg.StoreDriver)
	assert.True(t, cfg.MongoTransactions)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, 2, cfg.RedisDB)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	t.Setenv("STORE_DRIVER", "mongo")
	t.Setenv("MONGO_URI", "")
	t.Setenv("UPLOAD_MAX_BYTES", "0")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MONGO_URI")
	assert.Contains(t, err.Error(), "JWT_SECRET")
	assert.Contains(t, err.Error(), "UPLOAD_MAX_BYTES")

	t.Setenv("SESSION_TTL", "soon")
	_, err = Load()
	assert.ErrorContains(t, err, "SESSION_TTL")
}

func TestLoadDotEnvKeepsExistingValues(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.env")
	require.NoError(t, os.WriteFile(path, []byte("NH_TEST_A=from-file\nNH_TEST_B=from-file\n"), 0o600))
	t.Setenv("NH_TEST_A", "from-env")
	t.Setenv("NH_TEST_B", "")
	require.NoError(t, os.Unsetenv("NH_TEST_B"))

	require.NoError(t, LoadDotEnv(path))
	assert.Equal(t, "from-env", os.Getenv("NH_TEST_A"))
	assert.Equal(t, "from-file", os.Getenv("NH_TEST_B"))

	assert.NoError(t, LoadDotEnv(filepath.Join(dir, "missing.env")))
}

func TestLoadOrDevFallsBackOnlyInDev(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("STORE_DRIVER", "mongoo")
	t.Setenv("ADMIN_EMAILS", "root@example.com")

	_, err := LoadOrDev("production")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrDevFallback)
	assert.Contains(t, err.Error(), "STORE_DRIVER")

	cfg, err := LoadOrDev("dev")
	require.ErrorIs(t, err, ErrDevFallback)
	assert.Equal(t, StoreMemory, cfg.StoreDriver)
	assert.Equal(t, []string{"root@example.com"}, cfg.AdminEmails)

	t.Setenv("STORE_DRIVER", "memory")
	cfg, err = LoadOrDev("production")
	require.NoError(t, err)
	assert.Equal(t, "s3cret", cfg.JWTSecret)
}

func TestLoadRejectsShortAdminPassword(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("ADMIN_PASSWORD", "short")
	_, err := Load()
	assert.ErrorContains(t, err, "ADMIN_PASSWORD")
}
