package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultPortHint       = "ACM"
	DefaultBaud           = 1_000_000
	DefaultScanMinID      = 1
	DefaultScanMaxID      = 15
	DefaultPollIntervalMs = 100
	DefaultCooldownMs     = 2000
	DefaultReadTimeoutMs  = 50
	DefaultTempLimitC     = 60
)

type Config struct {
	Port string     `yaml:"port"` // empty = autodetect by hint
	Baud int        `yaml:"baud"`
	Scan ScanConfig `yaml:"scan"`

	PollIntervalMs int `yaml:"poll_interval_ms"`
	CooldownMs     int `yaml:"reconnect_cooldown_ms"`
	ReadTimeoutMs  int `yaml:"read_timeout_ms"`

	// DatabaseDir is where the daily event database files are written.
	// Empty means the current directory.
	DatabaseDir string `yaml:"database_dir"`

	Alarm AlarmConfig `yaml:"alarm"`
}

type ScanConfig struct {
	MinID uint8 `yaml:"min_id"`
	MaxID uint8 `yaml:"max_id"`
}

type AlarmConfig struct {
	// TempLimitC raises an alarm event when a servo reaches this
	// temperature. An explicit 0 disables temperature alarms; unset
	// means the default limit.
	TempLimitC *uint8 `yaml:"temp_limit_c"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{}
	Normalize(cfg)
	return cfg
}

// Load reads and normalizes a YAML configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	Normalize(cfg)
	return cfg, nil
}

// Normalize fills in defaults for zero-valued fields. It never overrides an
// explicit setting.
func Normalize(cfg *Config) {
	if cfg.Baud == 0 {
		cfg.Baud = DefaultBaud
	}
	if cfg.Scan.MinID == 0 && cfg.Scan.MaxID == 0 {
		cfg.Scan.MinID = DefaultScanMinID
		cfg.Scan.MaxID = DefaultScanMaxID
	}
	if cfg.PollIntervalMs == 0 {
		cfg.PollIntervalMs = DefaultPollIntervalMs
	}
	if cfg.CooldownMs == 0 {
		cfg.CooldownMs = DefaultCooldownMs
	}
	if cfg.ReadTimeoutMs == 0 {
		cfg.ReadTimeoutMs = DefaultReadTimeoutMs
	}
	if cfg.Alarm.TempLimitC == nil {
		limit := uint8(DefaultTempLimitC)
		cfg.Alarm.TempLimitC = &limit
	}
}

// Validate checks configuration correctness. It performs declarative
// validation only and MUST NOT mutate configuration.
func Validate(cfg *Config) error {
	if cfg.Baud <= 0 {
		return fmt.Errorf("baud must be > 0, got %d", cfg.Baud)
	}
	if cfg.Scan.MinID > cfg.Scan.MaxID {
		return fmt.Errorf("scan range inverted: min_id %d > max_id %d", cfg.Scan.MinID, cfg.Scan.MaxID)
	}
	if cfg.Scan.MaxID > 0xFD {
		return fmt.Errorf("max_id %d exceeds addressable range (0-253)", cfg.Scan.MaxID)
	}
	if cfg.PollIntervalMs <= 0 {
		return fmt.Errorf("poll_interval_ms must be > 0, got %d", cfg.PollIntervalMs)
	}
	if cfg.CooldownMs < 0 {
		return fmt.Errorf("reconnect_cooldown_ms must be >= 0, got %d", cfg.CooldownMs)
	}
	if cfg.ReadTimeoutMs <= 0 {
		return fmt.Errorf("read_timeout_ms must be > 0, got %d", cfg.ReadTimeoutMs)
	}
	return nil
}

func (c *Config) PollInterval() time.Duration { return time.Duration(c.PollIntervalMs) * time.Millisecond }
func (c *Config) Cooldown() time.Duration     { return time.Duration(c.CooldownMs) * time.Millisecond }
func (c *Config) ReadTimeout() time.Duration  { return time.Duration(c.ReadTimeoutMs) * time.Millisecond }

// TempLimit returns the temperature alarm limit, 0 when alarms are disabled.
func (c *Config) TempLimit() uint8 {
	if c.Alarm.TempLimitC == nil {
		return DefaultTempLimitC
	}
	return *c.Alarm.TempLimitC
}
