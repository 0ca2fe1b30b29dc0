package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultsAndEnv(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("DB_DRIVER", "sqlite")
	t.Setenv("DB_PATH", "/tmp/scm-test.db")
	t.Setenv("LEDGER_TRACKING_ENABLED", "false")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 15*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "/tmp/scm-test.db", cfg.Database.Path)
	assert.Equal(t, "s3cret", cfg.JWT.Secret)
	assert.False(t, cfg.Ledger.TrackingEnabled)
	assert.Equal(t, 5*time.Minute, cfg.Redis.CacheTTL)
	assert.Empty(t, cfg.NATS.URL)
}

func TestLoad_Validation(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	_, err := Load()
	require.Error(t, err)

	t.Setenv("JWT_SECRET", "x")
	t.Setenv("DB_DRIVER", "mysql")
	_, err = Load()
	assert.ErrorContains(t, err, "unsupported database driver")
}

func TestDatabaseDSN(t *testing.T) {
	d := DatabaseConfig{Host: "db", Port: 5432, User: "u", Password: "p", DBName: "scm", SSLMode: "disable"}
	assert.Equal(t, "host=db port=5432 user=u password=p dbname=scm sslmode=disable TimeZone=UTC", d.DSN())
}

func TestGetEnvOrDefault(t *testing.T) {
	t.Setenv("SCM_CFG_TEST", "")
	assert.Equal(t, "fallback", GetEnvOrDefault("SCM_CFG_TEST", "fallback"))
	t.Setenv("SCM_CFG_TEST", "set")
	assert.Equal(t, "set", GetEnvOrDefault("SCM_CFG_TEST", "fallback"))
}
