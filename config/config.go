// Package config loads runtime configuration from defaults, an optional
// config file, and environment variables, in that order of precedence.
package config

import (
	"fmt"
	"strings"
	"time"

	"pharmabot/hardware"

	"github.com/spf13/viper"
)

// Config is the full runtime configuration.
type Config struct {
	HTTPPort     string `mapstructure:"http_port"`
	PostgresHost string `mapstructure:"postgres_host"`
	PostgresDSN  string `mapstructure:"postgres_dsn"`

	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`

	FleetSize       int    `mapstructure:"fleet_size"`
	PrimaryNodeAddr string `mapstructure:"primary_node_addr"`

	TickInterval    time.Duration `mapstructure:"tick_interval"`
	StandbyDelay    time.Duration `mapstructure:"standby_delay"`
	MaxPickAttempts int           `mapstructure:"max_pick_attempts"`

	Hardware hardware.Config `mapstructure:"hardware"`
}

// DSN returns the explicit DSN when set, otherwise one built from the host.
func (c *Config) DSN() string {
	if c.PostgresDSN != "" {
		return c.PostgresDSN
	}
	return fmt.Sprintf("postgresql://postgres:postgrespassword@%s/postgres", c.PostgresHost)
}

// Load reads configuration. path may be empty, in which case environment
// variables and defaults apply.
func Load(path string) (*Config, error) {
	v := viper.New()

	hw := hardware.DefaultConfig()
	v.SetDefault("http_port", "5000")
	v.SetDefault("postgres_host", "localhost:5432")
	v.SetDefault("postgres_dsn", "")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
	v.SetDefault("fleet_size", 12)
	v.SetDefault("primary_node_addr", "")
	v.SetDefault("tick_interval", 2*time.Second)
	v.SetDefault("standby_delay", 3*time.Second)
	v.SetDefault("max_pick_attempts", 5)
	v.SetDefault("hardware.visual_timeout", hw.VisualTimeout)
	v.SetDefault("hardware.identify_timeout", hw.IdentifyTimeout)
	v.SetDefault("hardware.read_timeout", hw.ReadTimeout)
	v.SetDefault("hardware.write_timeout", hw.WriteTimeout)
	v.SetDefault("hardware.identify_duration", hw.IdentifyDuration)

	v.SetEnvPrefix("PHARMABOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}

	if cfg.FleetSize <= 0 {
		return nil, fmt.Errorf("fleet_size must be positive, got %d", cfg.FleetSize)
	}
	if cfg.TickInterval <= 0 {
		return nil, fmt.Errorf("tick_interval must be positive, got %s", cfg.TickInterval)
	}
	if cfg.MaxPickAttempts <= 0 {
		return nil, fmt.Errorf("max_pick_attempts must be positive, got %d", cfg.MaxPickAttempts)
	}

	return &cfg, nil
}
