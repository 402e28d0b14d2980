package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"
)

type Config struct {
	Port                         string        `mapstructure:"PORT"`
	Env                          string        `mapstructure:"ENV"`
	LogLevel                     string        `mapstructure:"LOG_LEVEL"`
	DatabaseURL                  string        `mapstructure:"DATABASE_URL"`
	DBMaxConns                   int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns                   int32         `mapstructure:"DB_MIN_CONNS"`
	DefaultTenant                string        `mapstructure:"DEFAULT_TENANT"`
	CORSOrigins                  []string      `mapstructure:"CORS_ORIGINS"`
	AuthIssuer                   string        `mapstructure:"AUTH_ISSUER"`
	AuthJWKSURL                  string        `mapstructure:"AUTH_JWKS_URL"`
	AuthAudience                 string        `mapstructure:"AUTH_AUDIENCE"`
	AuthSigningKey               string        `mapstructure:"AUTH_SIGNING_KEY"`
	AppointmentDailyLimit        int           `mapstructure:"APPOINTMENT_DAILY_LIMIT"`
	RecurrenceDefaultOccurrences int           `mapstructure:"RECURRENCE_DEFAULT_OCCURRENCES"`
	RecurrenceMaxOccurrences     int           `mapstructure:"RECURRENCE_MAX_OCCURRENCES"`
	KafkaBrokers                 string        `mapstructure:"KAFKA_BROKERS"`
	KafkaAppointmentTopic        string        `mapstructure:"KAFKA_APPOINTMENT_TOPIC"`
	RequestTimeout               time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	BodyLimit                    string        `mapstructure:"BODY_LIMIT"`
	RedisURL                     string        `mapstructure:"REDIS_URL"`
	RateLimitRequests            int           `mapstructure:"RATE_LIMIT_REQUESTS"`
	RateLimitWindow              time.Duration `mapstructure:"RATE_LIMIT_WINDOW"`
	RateLimitFailOpen            bool          `mapstructure:"RATE_LIMIT_FAIL_OPEN"`
	OTelEnabled                  bool          `mapstructure:"OTEL_ENABLED"`
	OTelEndpoint                 string        `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	OTelServiceName              string        `mapstructure:"OTEL_SERVICE_NAME"`
	OTelSampleRatio              float64       `mapstructure:"OTEL_SAMPLING_RATIO"`
}

var envKeys = []string{
	"PORT", "ENV", "LOG_LEVEL", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
	"DEFAULT_TENANT", "CORS_ORIGINS", "AUTH_ISSUER", "AUTH_JWKS_URL", "AUTH_AUDIENCE",
	"AUTH_SIGNING_KEY", "APPOINTMENT_DAILY_LIMIT", "RECURRENCE_DEFAULT_OCCURRENCES",
	"RECURRENCE_MAX_OCCURRENCES", "KAFKA_BROKERS", "KAFKA_APPOINTMENT_TOPIC",
	"REQUEST_TIMEOUT", "BODY_LIMIT", "REDIS_URL", "RATE_LIMIT_REQUESTS", "RATE_LIMIT_WINDOW",
	"RATE_LIMIT_FAIL_OPEN", "OTEL_ENABLED", "OTEL_EXPORTER_OTLP_ENDPOINT", "OTEL_SERVICE_NAME",
	"OTEL_SAMPLING_RATIO",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("DEFAULT_TENANT", "default")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("APPOINTMENT_DAILY_LIMIT", 10)
	v.SetDefault("RECURRENCE_DEFAULT_OCCURRENCES", 52)
	v.SetDefault("RECURRENCE_MAX_OCCURRENCES", 366)
	v.SetDefault("KAFKA_APPOINTMENT_TOPIC", "calendar.appointments")
	v.SetDefault("REQUEST_TIMEOUT", "30s")
	v.SetDefault("BODY_LIMIT", "1M")
	v.SetDefault("RATE_LIMIT_REQUESTS", 300)
	v.SetDefault("RATE_LIMIT_WINDOW", "1m")
	v.SetDefault("RATE_LIMIT_FAIL_OPEN", true)
	v.SetDefault("OTEL_ENABLED", false)
	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317")
	v.SetDefault("OTEL_SERVICE_NAME", "calendar-server")
	v.SetDefault("OTEL_SAMPLING_RATIO", 1.0)

	// Bind env vars explicitly so Unmarshal picks them up
	for _, key := range envKeys {
		_ = v.BindEnv(key)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.CORSOrigins == nil {
		origins := v.GetString("CORS_ORIGINS")
		if origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// ZerologLevel parses LOG_LEVEL, falling back to info for unknown values.
func (c *Config) ZerologLevel() zerolog.Level {
	lvl, err := zerolog.ParseLevel(strings.ToLower(c.LogLevel))
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}

// KafkaBrokerList splits KAFKA_BROKERS on commas, dropping blanks.
func (c *Config) KafkaBrokerList() []string {
	var out []string
	for _, b := range strings.Split(c.KafkaBrokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

// Validate checks that the configuration is safe to run. Outside development
// either AUTH_ISSUER or AUTH_SIGNING_KEY must be set so that requests are
// authenticated, and the recurrence safety caps must be coherent.
func (c *Config) Validate() error {
	if !c.IsDev() && c.AuthIssuer == "" && c.AuthSigningKey == "" {
		return fmt.Errorf("AUTH_ISSUER or AUTH_SIGNING_KEY must be set when ENV=%q", c.Env)
	}
	if c.AppointmentDailyLimit < 0 {
		return fmt.Errorf("APPOINTMENT_DAILY_LIMIT must not be negative, got %d", c.AppointmentDailyLimit)
	}
	if c.RecurrenceMaxOccurrences <= 0 {
		return fmt.Errorf("RECURRENCE_MAX_OCCURRENCES must be positive, got %d", c.RecurrenceMaxOccurrences)
	}
	if c.RecurrenceDefaultOccurrences <= 0 {
		return fmt.Errorf("RECURRENCE_DEFAULT_OCCURRENCES must be positive, got %d", c.RecurrenceDefaultOccurrences)
	}
	if c.OTelSampleRatio < 0 || c.OTelSampleRatio > 1 {
		return fmt.Errorf("OTEL_SAMPLING_RATIO must be between 0 and 1, got %v", c.OTelSampleRatio)
	}
	if c.RecurrenceDefaultOccurrences > c.RecurrenceMaxOccurrences {
		return fmt.Errorf("RECURRENCE_DEFAULT_OCCURRENCES (%d) exceeds RECURRENCE_MAX_OCCURRENCES (%d)",
			c.RecurrenceDefaultOccurrences, c.RecurrenceMaxOccurrences)
	}
	return nil
}
