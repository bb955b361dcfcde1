package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Config holds application configuration.
type Config struct {
	Database  DatabaseConfig
	Matching  MatchingConfig
	Schedule  ScheduleConfig
	Detection DetectionConfig
}

// DatabaseConfig holds sqlite settings.
type DatabaseConfig struct {
	Path string
}

// MatchingConfig holds the fuzzy-match policy. The three-zone shape
// (auto-link / ask / auto-create) is fixed; only the boundaries move.
type MatchingConfig struct {
	AutoLinkMaxDiff float64 `mapstructure:"auto_link_max_diff"`
	ConfirmMaxDiff  float64 `mapstructure:"confirm_max_diff"`
	ToleranceDays   int     `mapstructure:"tolerance_days"`
	NameFuzzRatio   float64 `mapstructure:"name_fuzz_ratio"`
}

// ScheduleConfig holds instance-generation settings.
type ScheduleConfig struct {
	MonthsAhead     int   `mapstructure:"months_ahead"`
	ReminderOffsets []int `mapstructure:"reminder_offsets"`
}

// DetectionConfig holds recurring-detection settings.
type DetectionConfig struct {
	MinDocuments  int     `mapstructure:"min_documents"`
	MinConfidence float64 `mapstructure:"min_confidence"`
}

// Load reads configuration from file and env. Env var overrides use prefix BILLMIND_.
func Load() (Config, error) {
	v := viper.New()

	// default values
	v.SetDefault("database.path", filepath.Join(os.Getenv("HOME"), ".local", "share", "billmind", "billmind.db"))
	v.SetDefault("matching.auto_link_max_diff", 0.30)
	v.SetDefault("matching.confirm_max_diff", 0.50)
	v.SetDefault("matching.tolerance_days", 3)
	v.SetDefault("matching.name_fuzz_ratio", 0.2)
	v.SetDefault("schedule.months_ahead", 3)
	v.SetDefault("schedule.reminder_offsets", []int{7, 1})
	v.SetDefault("detection.min_documents", 3)
	v.SetDefault("detection.min_confidence", 0.5)

	v.SetConfigType("toml")

	cfgPath := os.Getenv("BILLMIND_CONFIG")
	if cfgPath != "" {
		v.SetConfigFile(cfgPath)
	} else {
		v.AddConfigPath(filepath.Join(os.Getenv("HOME"), ".config", "billmind"))
		v.SetConfigName("config")
	}

	v.SetEnvPrefix("BILLMIND")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// read config file if present
	_ = v.ReadInConfig()

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := c.validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c Config) validate() error {
	m := c.Matching
	if m.AutoLinkMaxDiff <= 0 || m.ConfirmMaxDiff <= m.AutoLinkMaxDiff {
		return fmt.Errorf("matching thresholds must satisfy 0 < auto_link_max_diff < confirm_max_diff, got %v / %v",
			m.AutoLinkMaxDiff, m.ConfirmMaxDiff)
	}
	if m.ToleranceDays < 0 {
		return fmt.Errorf("matching.tolerance_days must be non-negative")
	}
	if c.Schedule.MonthsAhead < 1 {
		return fmt.Errorf("schedule.months_ahead must be at least 1")
	}
	return nil
}
