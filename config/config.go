// Package config loads the server configuration from a TOML file with
// environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Environment variables that override the file.
const (
	EnvListen   = "REWARDS_LISTEN"
	EnvDB       = "REWARDS_DB"
	EnvLogLevel = "REWARDS_LOG_LEVEL"
)

type Config struct {
	Server    Server    `toml:"server"`
	Storage   Storage   `toml:"storage"`
	Logging   Logging   `toml:"logging"`
	Program   Program   `toml:"program"`
	Scheduler Scheduler `toml:"scheduler"`
	RateLimit RateLimit `toml:"rate_limit"`
	Auth      Auth      `toml:"auth"`
}

type Server struct {
	Listen      string   `toml:"listen"`
	CORSOrigins []string `toml:"cors_origins"`
	// DemoScenarios mounts /api/scenarios, which wipes the store.
	// Development only.
	DemoScenarios bool `toml:"demo_scenarios"`
}

type Storage struct {
	// Path of the SQLite database. ":memory:" keeps everything in memory.
	Path string `toml:"path"`
}

type Logging struct {
	Level      string `toml:"level"`
	Env        string `toml:"env"`
	File       string `toml:"file"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days"`
}

// Program holds the parameters used to initialize the program on first start.
type Program struct {
	Authority        string        `toml:"authority"`
	MonthlyThreshold uint64        `toml:"monthly_threshold"`
	MaxPointsPerType uint64        `toml:"max_points_per_type"`
	ReserveRatioBps  uint16        `toml:"reserve_ratio_bps"`
	InitialReserve   uint64        `toml:"initial_reserve"`
	PeriodType       string        `toml:"period_type"`   // manual, calendar_month, fixed
	PeriodLength     time.Duration `toml:"period_length"` // fixed only, e.g. "720h"
	Preset           string        `toml:"preset"` // default, open-source, data
	DefinitionFile   string        `toml:"definition_file"`
}

type Scheduler struct {
	Enabled  bool          `toml:"enabled"`
	Interval time.Duration `toml:"interval"`
}

type RateLimit struct {
	RequestsPerMinute int `toml:"requests_per_minute"`
	Burst             int `toml:"burst"`
}

type Auth struct {
	RequireSignatures bool          `toml:"require_signatures"`
	MaxClockSkew      time.Duration `toml:"max_clock_skew"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		Server: Server{
			Listen:      ":8080",
			CORSOrigins: []string{"http://localhost:*", "http://127.0.0.1:*"},
		},
		Storage: Storage{Path: "./rewards.db"},
		Logging: Logging{Level: "info", Env: "local"},
		Program: Program{
			MonthlyThreshold: 1000,
			MaxPointsPerType: 400,
			ReserveRatioBps:  5000,
			PeriodType:       "calendar_month",
		},
		Scheduler: Scheduler{Enabled: true, Interval: time.Minute},
		RateLimit: RateLimit{RequestsPerMinute: 600, Burst: 60},
		Auth:      Auth{MaxClockSkew: 5 * time.Minute},
	}
}

// Load reads path over the defaults. A missing file is not an error.
// Unknown keys are rejected so typos do not silently fall back to defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if strings.TrimSpace(path) != "" {
		if _, err := os.Stat(path); err == nil {
			meta, err := toml.DecodeFile(path, cfg)
			if err != nil {
				return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
			}
			if undecoded := meta.Undecoded(); len(undecoded) > 0 {
				keys := make([]string, len(undecoded))
				for i, k := range undecoded {
					keys[i] = k.String()
				}
				return nil, fmt.Errorf("config %s: unknown keys %s", path, strings.Join(keys, ", "))
			}
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv applies environment overrides using lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvListen); ok && strings.TrimSpace(v) != "" {
		c.Server.Listen = strings.TrimSpace(v)
	}
	if v, ok := lookup(EnvDB); ok && strings.TrimSpace(v) != "" {
		c.Storage.Path = strings.TrimSpace(v)
	}
	if v, ok := lookup(EnvLogLevel); ok && strings.TrimSpace(v) != "" {
		c.Logging.Level = strings.TrimSpace(v)
	}
	return nil
}

// SetPort overrides the listen port, keeping the host.
func (c *Config) SetPort(port int) {
	host := c.Server.Listen
	if i := strings.LastIndex(host, ":"); i >= 0 {
		host = host[:i]
	}
	c.Server.Listen = host + ":" + strconv.Itoa(port)
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	if c.Program.ReserveRatioBps > 10_000 {
		return fmt.Errorf("program.reserve_ratio_bps must be <= 10000, got %d", c.Program.ReserveRatioBps)
	}
	switch c.Program.PeriodType {
	case "", "manual", "calendar_month":
	case "fixed":
		if c.Program.PeriodLength <= 0 {
			return fmt.Errorf("program.period_length is required for fixed periods")
		}
	default:
		return fmt.Errorf("program.period_type %q is not one of manual, calendar_month, fixed", c.Program.PeriodType)
	}
	switch c.Program.Preset {
	case "", "default", "open-source":
	case "data":
		if c.Program.PeriodType != "fixed" && c.Program.DefinitionFile == "" {
			return fmt.Errorf("program.preset data requires period_type fixed")
		}
	default:
		return fmt.Errorf("program.preset %q is not one of default, open-source, data", c.Program.Preset)
	}
	if c.Auth.RequireSignatures && c.Auth.MaxClockSkew <= 0 {
		return fmt.Errorf("auth.max_clock_skew must be positive when signatures are required")
	}
	if c.Scheduler.Enabled && c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be positive")
	}
	if c.RateLimit.RequestsPerMinute < 0 || c.RateLimit.Burst < 0 {
		return fmt.Errorf("rate_limit values must not be negative")
	}
	return nil
}
