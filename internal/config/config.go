// Package config loads the recorder configuration from an optional YAML file
// with environment-variable overrides (prefix RECORDER_).
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/velotrace/recorder/internal/telemetry"
)

// Log configures the rotating log sink.
type Log struct {
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// Profile carries the rider profile. All values are optional; absence only
// degrades derived-metric availability.
type Profile struct {
	FTPWatts     float64 `mapstructure:"ftp_watts"`
	ThresholdHR  float64 `mapstructure:"threshold_hr"`
	BodyWeightKg float64 `mapstructure:"body_weight_kg"`
}

// Telemetry converts the profile section into the calculator's profile type.
func (p Profile) Telemetry() telemetry.Profile {
	return telemetry.Profile{
		FTPWatts:     p.FTPWatts,
		ThresholdHR:  p.ThresholdHR,
		BodyWeightKg: p.BodyWeightKg,
	}
}

// Config is the full recorder configuration.
type Config struct {
	DataDir          string        `mapstructure:"data_dir"`
	SnapshotInterval time.Duration `mapstructure:"snapshot_interval"`
	FlushInterval    time.Duration `mapstructure:"flush_interval"`
	SettleDelay      time.Duration `mapstructure:"settle_delay"`
	OrphanMaxAge     time.Duration `mapstructure:"orphan_max_age"`

	Log     Log     `mapstructure:"log"`
	Profile Profile `mapstructure:"profile"`
}

// Load reads the configuration. path may be empty, in which case only
// defaults and RECORDER_* environment variables apply.
func Load(path string) (Config, error) {
	v := viper.New()

	v.SetDefault("data_dir", "./data")
	v.SetDefault("snapshot_interval", time.Second)
	v.SetDefault("flush_interval", 60*time.Second)
	v.SetDefault("settle_delay", 500*time.Millisecond)
	v.SetDefault("orphan_max_age", 24*time.Hour)
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 10)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 14)
	v.SetDefault("log.compress", false)
	v.SetDefault("profile.ftp_watts", 0)
	v.SetDefault("profile.threshold_hr", 0)
	v.SetDefault("profile.body_weight_kg", 0)

	v.SetEnvPrefix("RECORDER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	return cfg, nil
}
