package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/mcclellann/assocledger/pkg/ledger"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable, e.g. LEDGER_DB_PATH.
const EnvPrefix = "LEDGER"

// Config holds the application settings. Process settings are fixed at load
// time; the ledger policy follows the config file while the process runs.
type Config struct {
	HTTPAddr           string
	DBPath             string
	LogLevel           logrus.Level
	LogFormat          string
	StatusSyncSchedule string
	ShutdownTimeout    time.Duration
	ConfigFile         string

	v      *viper.Viper
	logger *logrus.Logger

	mu     sync.RWMutex
	policy ledger.Policy
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http_addr", ":8080")
	v.SetDefault("db_path", "ledger.db")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")
	v.SetDefault("status_sync_schedule", "0 * * * *")
	v.SetDefault("shutdown_timeout", "10s")
	v.SetDefault("config_file", "")

	p := ledger.DefaultPolicy()
	v.SetDefault("max_rollovers", p.MaxRollovers)
	v.SetDefault("rollover_duration_months", p.RolloverDurationMonths)
	v.SetDefault("minor_units", p.MinorUnits)
	v.SetDefault("interest_tolerance", p.InterestTolerance.String())
	v.SetDefault("max_tx_retries", p.MaxTxRetries)
}

// Load reads an optional .env file, the LEDGER_* environment and, when
// LEDGER_CONFIG_FILE is set, that config file.
func Load(logger *logrus.Logger, envFiles ...string) (*Config, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	if err := godotenv.Load(envFiles...); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("could not load env file: %w", err)
		}
		logger.Debug(".env file not found, using process environment")
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	cfg := &Config{v: v, logger: logger}
	if file := v.GetString("config_file"); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("could not read config file %s: %w", file, err)
		}
		cfg.ConfigFile = file
	}

	level, err := logrus.ParseLevel(v.GetString("log_level"))
	if err != nil {
		return nil, fmt.Errorf("invalid log_level: %w", err)
	}
	format := v.GetString("log_format")
	if format != "json" && format != "text" {
		return nil, fmt.Errorf("invalid log_format %q, want json or text", format)
	}

	policy, err := policyFrom(v)
	if err != nil {
		return nil, err
	}

	cfg.HTTPAddr = v.GetString("http_addr")
	cfg.DBPath = v.GetString("db_path")
	cfg.LogLevel = level
	cfg.LogFormat = format
	cfg.StatusSyncSchedule = v.GetString("status_sync_schedule")
	cfg.ShutdownTimeout = v.GetDuration("shutdown_timeout")
	cfg.policy = policy
	return cfg, nil
}

// Policy returns the current ledger policy. Config satisfies ledger.PolicySource.
func (c *Config) Policy() ledger.Policy {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.policy
}

// Watch reloads the ledger policy whenever the config file changes, logging
// to logger. It is a no-op without a config file.
func (c *Config) Watch(logger *logrus.Logger) {
	if c.ConfigFile == "" {
		return
	}
	if logger != nil {
		c.logger = logger
	}
	c.v.OnConfigChange(func(e fsnotify.Event) {
		c.logger.WithField("file", e.Name).Info("Config file changed, reloading ledger policy")
		c.reload()
	})
	c.v.WatchConfig()
}

// reload swaps in the policy read from viper. An invalid file keeps the
// previous policy.
func (c *Config) reload() {
	policy, err := policyFrom(c.v)
	if err != nil {
		c.logger.WithError(err).Warn("Ignoring invalid ledger policy")
		return
	}
	c.mu.Lock()
	c.policy = policy
	c.mu.Unlock()
	c.logger.WithFields(logrus.Fields{
		"max_rollovers":            policy.MaxRollovers,
		"rollover_duration_months": policy.RolloverDurationMonths,
		"minor_units":              policy.MinorUnits,
		"interest_tolerance":       policy.InterestTolerance.String(),
	}).Info("Ledger policy updated")
}

func policyFrom(v *viper.Viper) (ledger.Policy, error) {
	tolerance, err := decimal.NewFromString(v.GetString("interest_tolerance"))
	if err != nil {
		return ledger.Policy{}, fmt.Errorf("invalid interest_tolerance: %w", err)
	}

	p := ledger.Policy{
		MaxRollovers:           v.GetInt("max_rollovers"),
		RolloverDurationMonths: v.GetInt("rollover_duration_months"),
		MinorUnits:             v.GetInt32("minor_units"),
		InterestTolerance:      tolerance,
		MaxTxRetries:           v.GetInt("max_tx_retries"),
	}

	switch {
	case p.MaxRollovers < 0:
		return ledger.Policy{}, fmt.Errorf("max_rollovers must not be negative, got %d", p.MaxRollovers)
	case p.RolloverDurationMonths < 1:
		return ledger.Policy{}, fmt.Errorf("rollover_duration_months must be at least 1, got %d", p.RolloverDurationMonths)
	case p.MinorUnits < 0 || p.MinorUnits > 8:
		return ledger.Policy{}, fmt.Errorf("minor_units must be between 0 and 8, got %d", p.MinorUnits)
	case tolerance.IsNegative():
		return ledger.Policy{}, fmt.Errorf("interest_tolerance must not be negative, got %s", tolerance)
	case p.MaxTxRetries < 0:
		return ledger.Policy{}, fmt.Errorf("max_tx_retries must not be negative, got %d", p.MaxTxRetries)
	}
	return p, nil
}

// NewLogger builds the application logger from the loaded settings.
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(c.LogLevel)
	if c.LogFormat == "text" {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	return logger
}
