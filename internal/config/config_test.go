package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/range-cupp/rangemedical-system-2-sub009/internal/model"
	"github.com/range-cupp/rangemedical-system-2-sub009/pkg/logger"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "protocol_ledger", cfg.Database.Name)
	assert.Equal(t, "protocol-ledger.events", cfg.Redis.Channel)
	assert.Equal(t, 1, cfg.Sweeper.LagDays)
	assert.Equal(t, model.FollowUpWindowDays, cfg.Ledger.FollowUpWindowDays)
	assert.Equal(t, 3, cfg.Ledger.MaxCASAttempts)

	sweeper := cfg.Sweeper.ToSweeperConfig()
	assert.ElementsMatch(t, []model.ProgramType{model.ProgramWeightLoss, model.ProgramHRT}, sweeper.ExcludedProgramTypes)
}

func TestLoadConfig_File(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9090
sweeper:
  lag_days: 0
  excluded_program_types:
    - Testosterone
outbox:
  poll_interval: 2s
log:
  level: debug
  json: true
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 2*time.Second, cfg.Outbox.PollInterval)

	sweeper := cfg.Sweeper.ToSweeperConfig()
	assert.Equal(t, 0, sweeper.LagDays)
	assert.Equal(t, []model.ProgramType{model.ProgramHRT}, sweeper.ExcludedProgramTypes)

	logCfg := cfg.Log.ToLoggerConfig()
	assert.Equal(t, logger.DebugLevel, logCfg.Level)
	assert.True(t, logCfg.JSON)

	worker := cfg.Outbox.ToWorkerConfig(cfg.Redis.Channel)
	assert.Equal(t, "protocol-ledger.events", worker.Channel)
	assert.Equal(t, 100, worker.BatchSize)
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	t.Setenv("LEDGER_DATABASE_HOST", "db.internal")
	t.Setenv("LEDGER_DATABASE_PASSWORD", "secret")
	t.Setenv("LEDGER_SERVER_PORT", "7000")

	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, "db.internal", cfg.Database.Host)
	assert.Equal(t, 7000, cfg.Server.Port)
	assert.Contains(t, cfg.Database.DSN(), "password=secret")
	assert.Contains(t, cfg.Database.DSN(), "host=db.internal")
}

func TestLoadConfig_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{
			name: "unknown excluded program type",
			body: "sweeper:\n  excluded_program_types:\n    - yoga\n",
		},
		{
			name: "negative lag",
			body: "sweeper:\n  lag_days: -1\n",
		},
		{
			name: "zero cas attempts",
			body: "ledger:\n  max_cas_attempts: 0\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}
}

func TestLoadConfig_MissingExplicitFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yml"))
	assert.Error(t, err)
}
