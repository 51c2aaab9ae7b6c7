package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/viper"

	"library-catalog/library"
)

const (
	// DefaultDatabasePath is the SQLite file used when none is configured.
	DefaultDatabasePath = "library.db"

	// EnvPrefix prefixes every environment override, e.g. LIBRARY_DATABASE_PATH.
	EnvPrefix = "LIBRARY"
)

type (
	Config struct {
		Database
		Admin
		Log

		policy library.Policy
	}

	Database struct {
		Path string
	}
	// Admin is the bootstrap administrator created on first start. An empty
	// Password disables bootstrapping.
	Admin struct {
		Name     string
		Email    string
		Password string
	}
	Log struct {
		Level string // debug, info, warn or error
	}
)

// NewConfig reads defaults, then an optional library.yaml (or the file named
// by path), then LIBRARY_* environment variables.
func NewConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	def := library.DefaultPolicy()
	v.SetDefault("database_path", DefaultDatabasePath)
	v.SetDefault("loan_duration_days", def.LoanDurationDays)
	v.SetDefault("fine_per_overdue_day", def.FinePerOverdueDay) // cents
	v.SetDefault("max_concurrent_loans", def.MaxConcurrentLoans)
	v.SetDefault("max_reservations", def.MaxReservations)
	v.SetDefault("reservation_grace_days", def.ReservationGraceDays)
	v.SetDefault("log_level", "info")
	v.SetDefault("admin_name", "Administrator")
	v.SetDefault("admin_email", "admin@library.local")
	v.SetDefault("admin_password", "")

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("library")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.library")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var policy library.Policy
	if err := v.Unmarshal(&policy); err != nil {
		return nil, fmt.Errorf("decode policy: %w", err)
	}
	if err := policy.Validate(); err != nil {
		return nil, err
	}

	cfg := &Config{
		Database: Database{
			Path: v.GetString("DATABASE_PATH"),
		},
		Admin: Admin{
			Name:     v.GetString("ADMIN_NAME"),
			Email:    v.GetString("ADMIN_EMAIL"),
			Password: v.GetString("ADMIN_PASSWORD"),
		},
		Log: Log{
			Level: v.GetString("LOG_LEVEL"),
		},
		policy: policy,
	}
	if _, err := cfg.SlogLevel(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Policy returns the validated lending policy.
func (c *Config) Policy() library.Policy { return c.policy }

func (c *Config) SlogLevel() (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return 0, fmt.Errorf("%w: log level %q", library.ErrInvalid, c.Log.Level)
	}
	return lvl, nil
}
