package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
)

type Config struct {
	Port         string `env:"PORT"          envDefault:"8080"`
	LogLevel     string `env:"LOG_LEVEL"     envDefault:"info" validate:"oneof=debug info warn error"`
	LogFormat    string `env:"LOG_FORMAT"    envDefault:"json" validate:"oneof=json text"`
	DatabasePath string `env:"DATABASE_PATH" envDefault:"chat.db" validate:"required"`
	RedisURL     string `env:"REDIS_URL"`

	JWTAlgorithm string `env:"JWT_ALGORITHM" envDefault:"HS256" validate:"required"`
	JWTSecret    string `env:"JWT_SECRET"`
	JWTPublicKey string `env:"JWT_PUBLIC_KEY"`
	JWTIssuer    string `env:"JWT_ISSUER"`

	WriteWait      time.Duration `env:"WS_WRITE_WAIT"       envDefault:"10s" validate:"gt=0"`
	PongWait       time.Duration `env:"WS_PONG_WAIT"        envDefault:"60s" validate:"gt=0"`
	MaxMessageSize int64         `env:"WS_MAX_MESSAGE_SIZE" envDefault:"524288" validate:"gt=0"`
	SendBuffer     int           `env:"WS_SEND_BUFFER"      envDefault:"256" validate:"gt=0"`
	AllowedOrigins []string      `env:"WS_ALLOWED_ORIGINS"  envSeparator:","`

	// StrictPersistence drops chat messages that could not be stored instead
	// of relaying them anyway.
	StrictPersistence bool          `env:"STRICT_PERSISTENCE" envDefault:"false"`
	ShutdownTimeout   time.Duration `env:"SHUTDOWN_TIMEOUT"   envDefault:"10s" validate:"gt=0"`
}

var validate = validator.New()

// Load parses the configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.JWTSecret == "" && c.JWTPublicKey == "" {
		return fmt.Errorf("invalid config: JWT_SECRET or JWT_PUBLIC_KEY is required")
	}
	return nil
}

// PingPeriod is how often pings are sent. It must be less than PongWait.
func (c *Config) PingPeriod() time.Duration {
	return (c.PongWait * 9) / 10
}
