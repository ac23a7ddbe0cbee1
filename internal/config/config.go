// internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"mcp-ckd-meal/internal/models"
)

type Config struct {
	Server     ServerConfig       `mapstructure:"server"`
	Reference  ReferenceConfig    `mapstructure:"reference"`
	Ledger     LedgerConfig       `mapstructure:"ledger"`
	Classifier ClassifierConfig   `mapstructure:"classifier"`
	Limits     models.DailyLimits `mapstructure:"limits"`
	Log        LogConfig          `mapstructure:"log"`
}

type ServerConfig struct {
	Host      string `mapstructure:"host"`
	Port      int    `mapstructure:"port"`
	RateLimit int    `mapstructure:"rate_limit"`
}

type ReferenceConfig struct {
	DBPath string `mapstructure:"db_path"`
}

type LedgerConfig struct {
	DBPath   string `mapstructure:"db_path"`
	Timezone string `mapstructure:"timezone"`
}

type ClassifierConfig struct {
	Backend       string        `mapstructure:"backend"`
	Endpoint      string        `mapstructure:"endpoint"`
	APIKey        string        `mapstructure:"api_key"`
	Timeout       time.Duration `mapstructure:"timeout"`
	Region        string        `mapstructure:"region"`
	MinConfidence float64       `mapstructure:"min_confidence"`
	// StaticLabels feeds the static backend, each entry "label:confidence".
	StaticLabels []string `mapstructure:"static_labels"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

// SetDefaults registers every key so environment overrides are picked up by Unmarshal.
func SetDefaults(v *viper.Viper) {
	limits := models.DefaultDailyLimits()

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8011)
	v.SetDefault("server.rate_limit", 20)
	v.SetDefault("reference.db_path", "/data/dishes.db")
	v.SetDefault("ledger.db_path", "/data/ckd-meal.db")
	v.SetDefault("ledger.timezone", "Local")
	v.SetDefault("classifier.backend", "http")
	v.SetDefault("classifier.endpoint", "http://localhost:9000")
	v.SetDefault("classifier.api_key", "")
	v.SetDefault("classifier.timeout", 10*time.Second)
	v.SetDefault("classifier.region", "")
	v.SetDefault("classifier.min_confidence", 50.0)
	v.SetDefault("classifier.static_labels", []string{})
	v.SetDefault("limits.calories", limits.Calories)
	v.SetDefault("limits.potassium", limits.Potassium)
	v.SetDefault("limits.sodium", limits.Sodium)
	v.SetDefault("limits.protein", limits.Protein)
	v.SetDefault("log.level", "info")
}

// Load reads .env (if present), the optional config file, and CKD_* environment variables.
func Load(v *viper.Viper, cfgFile string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	SetDefaults(v)
	v.SetEnvPrefix("CKD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
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
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server.port %d", c.Server.Port)
	}
	switch c.Classifier.Backend {
	case "http", "rekognition", "static":
	default:
		return fmt.Errorf("invalid classifier.backend %q (want http, rekognition or static)", c.Classifier.Backend)
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	if _, err := c.StaticPredictions(); err != nil {
		return err
	}
	if _, err := c.LogLevel(); err != nil {
		return err
	}
	return nil
}

func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// Location resolves the calendar the ledger uses for day boundaries.
func (c *Config) Location() (*time.Location, error) {
	tz := c.Ledger.Timezone
	if tz == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("invalid ledger.timezone %q: %w", tz, err)
	}
	return loc, nil
}

func (c *Config) StaticPredictions() ([]models.Prediction, error) {
	preds := make([]models.Prediction, 0, len(c.Classifier.StaticLabels))
	for _, entry := range c.Classifier.StaticLabels {
		label, conf, ok := strings.Cut(entry, ":")
		if !ok {
			return nil, fmt.Errorf("invalid static label %q, want label:confidence", entry)
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(conf), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid confidence in static label %q: %w", entry, err)
		}
		preds = append(preds, models.Prediction{Label: strings.TrimSpace(label), Confidence: f})
	}
	return preds, nil
}

func (c *Config) LogLevel() (log.Level, error) {
	switch strings.ToLower(strings.TrimSpace(c.Log.Level)) {
	case "trace":
		return log.LevelTrace, nil
	case "debug":
		return log.LevelDebug, nil
	case "info", "":
		return log.LevelInfo, nil
	case "warn", "warning":
		return log.LevelWarn, nil
	case "error":
		return log.LevelError, nil
	}
	return log.LevelInfo, fmt.Errorf("invalid log.level %q", c.Log.Level)
}
