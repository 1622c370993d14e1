// Package config loads server configuration from defaults, an optional YAML
// file and PAYROLL_* environment variables, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/warp/payroll-engine/payroll"
)

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"db"`
	Log        LogConfig        `mapstructure:"log"`
	Payroll    PayrollConfig    `mapstructure:"payroll"`
	Attendance AttendanceConfig `mapstructure:"attendance"`
	Templates  TemplatesConfig  `mapstructure:"templates"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CORS            CORSConfig    `mapstructure:"cors"`
}

type CORSConfig struct {
	AllowOrigins []string `mapstructure:"allow_origins"`
}

// DatabaseConfig points at the SQLite file. ":memory:" keeps everything in
// process.
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json or console
}

type PayrollConfig struct {
	RerunPolicy string `mapstructure:"rerun_policy"`
}

type AttendanceConfig struct {
	FreezeWorkers int              `mapstructure:"freeze_workers"`
	AutoFreeze    AutoFreezeConfig `mapstructure:"auto_freeze"`
}

// AutoFreezeConfig enables the month-close freeze for the listed tenants.
type AutoFreezeConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Interval time.Duration `mapstructure:"interval"`
	Tenants  []string      `mapstructure:"tenants"`
}

type TemplatesConfig struct {
	SeedFile string `mapstructure:"seed_file"`
}

// New returns a viper instance with defaults and environment binding set up
// but no file read. The CLI binds its flags into it before calling Load.
func New() *viper.Viper {
	v := viper.New()

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("server.cors.allow_origins", []string{"http://localhost:5173", "http://localhost:8080"})

	v.SetDefault("db.path", "payroll.db")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("payroll.rerun_policy", string(payroll.RerunReject))

	v.SetDefault("attendance.freeze_workers", 4)
	v.SetDefault("attendance.auto_freeze.enabled", false)
	v.SetDefault("attendance.auto_freeze.interval", "1h")
	v.SetDefault("attendance.auto_freeze.tenants", []string{})

	v.SetDefault("templates.seed_file", "")

	v.SetEnvPrefix("PAYROLL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads the file at path into v (a missing default config file is fine,
// an explicitly named one is not), decodes and validates it.
func Load(v *viper.Viper, path string) (*Config, error) {
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid config: server.port must be between 1 and 65535")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("invalid config: db.path is required")
	}
	if _, err := payroll.ParseRerunPolicy(c.Payroll.RerunPolicy); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.Attendance.FreezeWorkers < 1 {
		return fmt.Errorf("invalid config: attendance.freeze_workers must be positive")
	}
	if c.Attendance.AutoFreeze.Enabled && len(c.Attendance.AutoFreeze.Tenants) == 0 {
		return fmt.Errorf("invalid config: attendance.auto_freeze.tenants is empty")
	}
	return nil
}

// RerunPolicy is the validated payroll rerun policy.
func (c *Config) RerunPolicy() payroll.RerunPolicy {
	p, _ := payroll.ParseRerunPolicy(c.Payroll.RerunPolicy)
	return p
}
