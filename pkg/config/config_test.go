package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/zatca-einvoicing/pkg/config"
)

func TestLoad_ValoresPorDefecto(t *testing.T) {
	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, "sandbox", cfg.ZATCA.Environment)
	assert.Equal(t, 3, cfg.ZATCA.RetryAttempts, "3 intentos por defecto")
	assert.Equal(t, time.Second, cfg.ZATCA.RetryBase)
	assert.Equal(t, 10*time.Second, cfg.ZATCA.RetryCap)
	assert.False(t, cfg.Redis.Enabled(), "sin REDIS_ADDR el bloqueo es en memoria")
	assert.False(t, cfg.Storage.Enabled())
}

func TestLoad_EnvSobrescribe(t *testing.T) {
	t.Setenv("ZATCA_ENVIRONMENT", "simulation")
	t.Setenv("ZATCA_RETRY_ATTEMPTS", "5")
	t.Setenv("ZATCA_RETRY_CAP", "30s")
	t.Setenv("ZATCA_AUTO_SUBMIT", "true")
	t.Setenv("REDIS_ADDR", "localhost:6379")

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, "simulation", cfg.ZATCA.Environment)
	assert.Equal(t, 5, cfg.ZATCA.RetryAttempts)
	assert.Equal(t, 30*time.Second, cfg.ZATCA.RetryCap)
	assert.True(t, cfg.ZATCA.AutoSubmit)
	assert.True(t, cfg.Redis.Enabled())
}

func TestLoad_ScheduleInvalido(t *testing.T) {
	t.Setenv("ZATCA_REPORT_SCHEDULE", "cada rato")

	_, err := config.Load()
	assert.Error(t, err)
}

func TestLoad_ScheduleNoPositivo(t *testing.T) {
	for _, v := range []string{"0s", "-5m"} {
		t.Setenv("ZATCA_REPORT_SCHEDULE", v)

		_, err := config.Load()
		assert.Error(t, err, v)
	}
}

func TestDBConfig_DSNEscapaPassword(t *testing.T) {
	c := config.DBConfig{Host: "db", Port: 5432, User: "zatca", Password: "p@ss:word", DBName: "zatca", SSLMode: "disable"}
	assert.Equal(t, "postgres://zatca:p%40ss%3Aword@db:5432/zatca?sslmode=disable", c.DSN())
	assert.Equal(t, c.DSN(), c.ConnectionString())

	c.DatabaseURL = "postgres://x@y/z"
	assert.Equal(t, "postgres://x@y/z", c.ConnectionString())
}
