package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"invoice-engine/internal/core"
)

// Config holds all application configuration.
type Config struct {
	DB     DBConfig
	Log    LogConfig
	Engine EngineConfig
}

// DBConfig holds PostgreSQL connection settings.
type DBConfig struct {
	URL      string `mapstructure:"url"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	TimeFormat string `mapstructure:"time_format"`
	Output     string `mapstructure:"output"`
}

// EngineConfig holds invoice engine settings.
type EngineConfig struct {
	Rounding core.RoundingPolicy
}

// Load reads configuration from environment variables with the INVOICE_ prefix.
// The database URL falls back to DATABASE_URL when INVOICE_DB_URL is not set.
func Load() (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("INVOICE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("db.url", "")
	v.SetDefault("db.max_conns", 4)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("log.time_format", time.RFC3339)
	v.SetDefault("log.output", "stderr")

	v.SetDefault("engine.rounding", string(core.RoundTwoDecimal))

	for _, key := range []string{
		"db.url", "db.max_conns",
		"log.level", "log.format", "log.time_format", "log.output",
		"engine.rounding",
	} {
		_ = v.BindEnv(key, "INVOICE_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_")))
	}

	cfg := &Config{}

	dbURL := v.GetString("db.url")
	if dbURL == "" {
		dbURL = os.Getenv("DATABASE_URL")
	}
	cfg.DB = DBConfig{
		URL:      dbURL,
		MaxConns: v.GetInt32("db.max_conns"),
	}
	cfg.Log = LogConfig{
		Level:      v.GetString("log.level"),
		Format:     v.GetString("log.format"),
		TimeFormat: v.GetString("log.time_format"),
		Output:     v.GetString("log.output"),
	}

	rounding, err := core.ParseRoundingPolicy(v.GetString("engine.rounding"))
	if err != nil {
		return nil, fmt.Errorf("invalid engine.rounding: %w", err)
	}
	cfg.Engine = EngineConfig{Rounding: rounding}

	if cfg.DB.MaxConns < 1 {
		return nil, fmt.Errorf("db.max_conns must be at least 1, got %d", cfg.DB.MaxConns)
	}
	return cfg, nil
}
