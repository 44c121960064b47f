package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "escrow", cfg.ServiceName)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "@every 1m", cfg.Escrow.AutoReleaseSchedule)
	assert.Equal(t, 100, cfg.Escrow.SweepBatchSize)
	assert.Contains(t, cfg.Validation.RestrictedJurisdictions, "KP")
	assert.True(t, cfg.IsDev())
}

func TestLoadReadsTOML(t *testing.T) {
	path := writeConfig(t, `
service_name = "escrow-test"
environment = "prod"

[http]
port = 18080

[database]
driver = "mysql"
dsn = "root:pw@tcp(127.0.0.1:3306)/escrow"

[escrow]
auto_release_schedule = "*/5 * * * *"
sweep_batch_size = 10

[validation]
restricted_jurisdictions = ["RU"]

[rate_limit]
enabled = true
qps = 30

[rate_limit.routes.release]
qps = 2
burst = 4
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "escrow-test", cfg.ServiceName)
	assert.Equal(t, 18080, cfg.HTTP.Port)
	assert.Equal(t, "mysql", cfg.Database.Driver)
	assert.Equal(t, "*/5 * * * *", cfg.Escrow.AutoReleaseSchedule)
	assert.Equal(t, []string{"RU"}, cfg.Validation.RestrictedJurisdictions)
	assert.False(t, cfg.IsDev())

	assert.True(t, cfg.RateLimit.Enabled)
	assert.Equal(t, 30, cfg.RateLimit.QPS)
	assert.Equal(t, RouteRateLimit{QPS: 2, Burst: 4}, cfg.RateLimit.Routes["release"])
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("APP_HTTP_PORT", "19090")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 19090, cfg.HTTP.Port)
}

func TestValidateRejectsMissingDSN(t *testing.T) {
	path := writeConfig(t, `
[database]
driver = "postgres"
dsn = ""
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DSN is required")
}

func TestValidateRejectsKafkaWithoutBrokers(t *testing.T) {
	path := writeConfig(t, `
[kafka]
enabled = true
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kafka.brokers")
}
