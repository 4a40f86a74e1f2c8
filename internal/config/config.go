package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"

	"weather-ingest/internal/normalizer"
)

// Config holds the full application configuration. There is no process-wide
// mutable state: the loaded struct is passed explicitly into every component.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Provider  ProviderConfig
	Collector CollectorConfig
	Logging   LoggingConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string        `validate:"required"`
	Port         int           `validate:"gt=0,lte=65535"`
	ReadTimeout  time.Duration `validate:"gt=0"`
	WriteTimeout time.Duration `validate:"gt=0"`
	IdleTimeout  time.Duration `validate:"gt=0"`
}

// DatabaseConfig holds PostgreSQL connection configuration
type DatabaseConfig struct {
	Host            string `validate:"required"`
	Port            int    `validate:"gt=0,lte=65535"`
	User            string `validate:"required"`
	Password        string
	Database        string `validate:"required"`
	SSLMode         string `validate:"oneof=disable require verify-ca verify-full"`
	MaxOpenConns    int    `validate:"gt=0"`
	MaxIdleConns    int    `validate:"gte=0"`
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// ProviderConfig holds the upstream weather API configuration
type ProviderConfig struct {
	APIKey     string
	BaseURL    string
	Units      string `validate:"oneof=metric imperial standard"`
	Timeout    time.Duration
	RetryCount int `validate:"gte=0"`
	RetryWait  time.Duration
}

// CollectorConfig holds collection loop and normalizer configuration
type CollectorConfig struct {
	Locations       []string      `validate:"dive,required"`
	Interval        time.Duration `validate:"gt=0"`
	RunTimeout      time.Duration `validate:"gt=0"`
	Unit            string        `validate:"oneof=celsius fahrenheit kelvin"`
	TimestampFormat string        `validate:"oneof=unix rfc3339"`
	FieldPaths      map[string]string
	RetryMax        int           `validate:"gte=0"`
	RetryInitial    time.Duration `validate:"gt=0"`
	RetryMaxWait    time.Duration
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level string `validate:"oneof=debug info warn error"`
}

// providerUnitFor maps the normalizer unit to the units query parameter the
// provider must be asked for, so the two flags can never disagree.
var providerUnitFor = map[string]string{
	"celsius":    "metric",
	"fahrenheit": "imperial",
	"kelvin":     "standard",
}

// LoadConfig reads configuration from the environment with sensible defaults.
// A .env file is honored when present.
func LoadConfig() (*Config, error) {
	// Missing .env is fine; real environments set variables directly.
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Host:         getenvDefault("SERVER_HOST", "0.0.0.0"),
			Port:         getenvInt("SERVER_PORT", 8080),
			ReadTimeout:  getenvDuration("SERVER_READ_TIMEOUT", 10*time.Second),
			WriteTimeout: getenvDuration("SERVER_WRITE_TIMEOUT", 10*time.Second),
			IdleTimeout:  getenvDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
		},
		Database: DatabaseConfig{
			Host:            getenvDefault("DB_HOST", "localhost"),
			Port:            getenvInt("DB_PORT", 5432),
			User:            getenvDefault("DB_USER", "postgres"),
			Password:        os.Getenv("DB_PASSWORD"),
			Database:        getenvDefault("DB_NAME", "weather_db"),
			SSLMode:         getenvDefault("DB_SSLMODE", "disable"),
			MaxOpenConns:    getenvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getenvInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getenvDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
			ConnMaxIdleTime: getenvDuration("DB_CONN_MAX_IDLE_TIME", 1*time.Minute),
		},
		Provider: ProviderConfig{
			APIKey:     os.Getenv("OPENWEATHER_API_KEY"),
			BaseURL:    getenvDefault("OPENWEATHER_BASE_URL", "https://api.openweathermap.org/data/2.5/weather"),
			Timeout:    getenvDuration("OPENWEATHER_TIMEOUT", 10*time.Second),
			RetryCount: getenvInt("OPENWEATHER_RETRY_COUNT", 3),
			RetryWait:  getenvDuration("OPENWEATHER_RETRY_WAIT", 2*time.Second),
		},
		Collector: CollectorConfig{
			Locations:       splitList(getenvDefault("COLLECT_LOCATIONS", "Paris,FR;Lyon,FR;Marseille,FR")),
			Interval:        getenvDuration("COLLECT_INTERVAL", 15*time.Minute),
			RunTimeout:      getenvDuration("COLLECT_RUN_TIMEOUT", 2*time.Minute),
			Unit:            getenvDefault("NORMALIZER_UNIT", "celsius"),
			TimestampFormat: getenvDefault("NORMALIZER_TIMESTAMP_FORMAT", "unix"),
			FieldPaths:      loadFieldPaths(),
			RetryMax:        getenvInt("UPSERT_RETRY_MAX", 3),
			RetryInitial:    getenvDuration("UPSERT_RETRY_INITIAL", 500*time.Millisecond),
			RetryMaxWait:    getenvDuration("UPSERT_RETRY_MAX_WAIT", 5*time.Second),
		},
		Logging: LoggingConfig{
			Level: getenvDefault("LOG_LEVEL", "info"),
		},
	}

	// The provider is asked for the unit the normalizer expects.
	cfg.Provider.Units = providerUnitFor[cfg.Collector.Unit]

	return cfg, nil
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	for _, field := range []string{
		normalizer.FieldLocation,
		normalizer.FieldObservedAt,
		normalizer.FieldTemperature,
		normalizer.FieldHumidity,
		normalizer.FieldCondition,
	} {
		if c.Collector.FieldPaths[field] == "" {
			return fmt.Errorf("invalid configuration: missing extraction path for field %q", field)
		}
	}

	return nil
}

// loadFieldPaths reads extraction path overrides from the environment,
// falling back to the OpenWeatherMap defaults.
func loadFieldPaths() map[string]string {
	paths := normalizer.DefaultFieldPaths()

	overrides := map[string]string{
		normalizer.FieldLocation:    "FIELD_PATH_LOCATION",
		normalizer.FieldObservedAt:  "FIELD_PATH_OBSERVED_AT",
		normalizer.FieldTemperature: "FIELD_PATH_TEMPERATURE",
		normalizer.FieldHumidity:    "FIELD_PATH_HUMIDITY",
		normalizer.FieldCondition:   "FIELD_PATH_CONDITION",
	}

	for field, envKey := range overrides {
		if v := os.Getenv(envKey); v != "" {
			paths[field] = v
		}
	}

	return paths
}

// splitList splits a semicolon-separated list, trimming blanks. Semicolons
// are used because location queries themselves contain commas ("Paris,FR").
func splitList(s string) []string {
	parts := strings.Split(s, ";")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getenvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
