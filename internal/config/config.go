// Package config loads server settings from defaults, an optional YAML file
// and ALLOWANCE_* environment variables, in that order.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/dukerupert/allowance/internal/database"
)

var validate *validator.Validate

func init() {
	validate = validator.New()
	_ = validate.RegisterValidation("tzname", func(fl validator.FieldLevel) bool {
		_, err := time.LoadLocation(fl.Field().String())
		return err == nil
	})
}

type Database struct {
	Driver string `yaml:"driver" validate:"oneof=sqlite postgres"`
	DSN    string `yaml:"dsn" validate:"required"`
}

type RateLimit struct {
	RequestsPerSecond float64 `yaml:"requests_per_second" validate:"gt=0"`
	Burst             int     `yaml:"burst" validate:"min=1"`
}

type Config struct {
	Port             string        `yaml:"port" validate:"required,numeric"`
	LogLevel         string        `yaml:"log_level" validate:"omitempty,oneof=debug info warn error DEBUG INFO WARN ERROR"`
	LogFormat        string        `yaml:"log_format" validate:"omitempty,oneof=text json"`
	Database         Database      `yaml:"database"`
	Timezone         string        `yaml:"timezone" validate:"required,tzname"`
	HorizonDays      int           `yaml:"horizon_days" validate:"min=1,max=366"`
	MaxReprocessDays int           `yaml:"max_reprocess_days" validate:"min=1,max=30"`
	RunOffset        time.Duration `yaml:"run_offset" validate:"min=0,max=23h"`
	AdminTokenHash   string        `yaml:"admin_token_hash"`
	RateLimit        RateLimit     `yaml:"rate_limit"`
}

func Default() Config {
	return Config{
		Port:             "8080",
		LogLevel:         "info",
		LogFormat:        "text",
		Database:         Database{Driver: "sqlite", DSN: "allowance.db"},
		Timezone:         "UTC",
		HorizonDays:      30,
		MaxReprocessDays: 30,
		RunOffset:        5 * time.Minute,
		RateLimit:        RateLimit{RequestsPerSecond: 10, Burst: 20},
	}
}

// Load builds the configuration. path may be empty; when set the file must
// exist.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return cfg, err
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func (c Config) Validate() error {
	return validate.Struct(c)
}

// Location returns the configured timezone. Call after Validate.
func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Dialect returns the database dialect for the configured driver.
func (c Config) Dialect() database.Dialect {
	d, err := database.ParseDialect(c.Database.Driver)
	if err != nil {
		return database.SQLite
	}
	return d
}

func applyEnv(cfg *Config) error {
	str := map[string]*string{
		"ALLOWANCE_PORT":             &cfg.Port,
		"ALLOWANCE_LOG_LEVEL":        &cfg.LogLevel,
		"ALLOWANCE_LOG_FORMAT":       &cfg.LogFormat,
		"ALLOWANCE_DB_DRIVER":        &cfg.Database.Driver,
		"ALLOWANCE_DB_DSN":           &cfg.Database.DSN,
		"ALLOWANCE_TIMEZONE":         &cfg.Timezone,
		"ALLOWANCE_ADMIN_TOKEN_HASH": &cfg.AdminTokenHash,
	}
	for key, dst := range str {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	ints := map[string]*int{
		"ALLOWANCE_HORIZON_DAYS":       &cfg.HorizonDays,
		"ALLOWANCE_MAX_REPROCESS_DAYS": &cfg.MaxReprocessDays,
		"ALLOWANCE_RATE_LIMIT_BURST":   &cfg.RateLimit.Burst,
	}
	for key, dst := range ints {
		if v := os.Getenv(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			*dst = n
		}
	}

	if v := os.Getenv("ALLOWANCE_RATE_LIMIT_RPS"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("ALLOWANCE_RATE_LIMIT_RPS: %w", err)
		}
		cfg.RateLimit.RequestsPerSecond = f
	}
	if v := os.Getenv("ALLOWANCE_RUN_OFFSET"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("ALLOWANCE_RUN_OFFSET: %w", err)
		}
		cfg.RunOffset = d
	}
	return nil
}
