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
	path := filepath.Join(t.TempDir(), "rewards.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)

	assert.Equal(t, Default().Server, cfg.Server)
	assert.Equal(t, "calendar_month", cfg.Program.PeriodType)
	assert.Equal(t, time.Minute, cfg.Scheduler.Interval)
	assert.False(t, cfg.Server.DemoScenarios, "scenario routes wipe the store and stay off unless enabled")
	assert.Equal(t, 5*time.Minute, cfg.Auth.MaxClockSkew)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
[server]
listen = ":9090"

[storage]
path = ":memory:"

[program]
authority = "0xabc"
reserve_ratio_bps = 2500
period_type = "fixed"
period_length = "168h"

[scheduler]
enabled = true
interval = "30s"

[auth]
require_signatures = true
max_clock_skew = "2m"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Listen)
	assert.Equal(t, ":memory:", cfg.Storage.Path)
	assert.Equal(t, "0xabc", cfg.Program.Authority)
	assert.Equal(t, uint16(2500), cfg.Program.ReserveRatioBps)
	assert.Equal(t, 168*time.Hour, cfg.Program.PeriodLength)
	assert.Equal(t, 30*time.Second, cfg.Scheduler.Interval)
	assert.True(t, cfg.Auth.RequireSignatures)
	assert.Equal(t, 2*time.Minute, cfg.Auth.MaxClockSkew)
	assert.False(t, cfg.Server.DemoScenarios)
	// Untouched sections keep their defaults
	assert.Equal(t, uint64(1000), cfg.Program.MonthlyThreshold)
	assert.Equal(t, 600, cfg.RateLimit.RequestsPerMinute)
}

func TestLoad_RejectsUnknownKeys(t *testing.T) {
	path := writeConfig(t, "[program]\nreserve_ration_bps = 10\n")

	_, err := Load(path)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "program.reserve_ration_bps")
}

func TestLoad_Validation(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"ratio", "[program]\nreserve_ratio_bps = 10001\n"},
		{"fixed without length", "[program]\nperiod_type = \"fixed\"\n"},
		{"unknown period", "[program]\nperiod_type = \"weekly\"\n"},
		{"scheduler interval", "[scheduler]\nenabled = true\ninterval = \"0s\"\n"},
		{"negative rate", "[rate_limit]\nburst = -1\n"},
		{"unknown preset", "[program]\npreset = \"karaoke\"\n"},
		{"data preset without fixed period", "[program]\npreset = \"data\"\n"},
		{"signatures without skew", "[auth]\nrequire_signatures = true\nmax_clock_skew = \"0s\"\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		EnvListen:   " :7000 ",
		EnvDB:       "/var/lib/rewards.db",
		EnvLogLevel: "",
	}
	cfg := Default()

	require.NoError(t, cfg.ApplyEnv(func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}))

	assert.Equal(t, ":7000", cfg.Server.Listen)
	assert.Equal(t, "/var/lib/rewards.db", cfg.Storage.Path)
	assert.Equal(t, "info", cfg.Logging.Level, "blank values are ignored")
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	t.Setenv(EnvDB, "/tmp/from-env.db")
	path := writeConfig(t, "[storage]\npath = \"./from-file.db\"\n")

	cfg, err := Load(path)

	require.NoError(t, err)
	assert.Equal(t, "/tmp/from-env.db", cfg.Storage.Path)
}

func TestSetPort(t *testing.T) {
	cfg := Default()
	cfg.Server.Listen = "127.0.0.1:8080"

	cfg.SetPort(3000)

	assert.Equal(t, "127.0.0.1:3000", cfg.Server.Listen)
}
