package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// ServerConfig holds all configuration for the server.
// Tags use mapstructure for Viper unmarshalling and env for environment variable binding.
type ServerConfig struct {
	HTTPPort             string `mapstructure:"HTTP_PORT"`
	MongoURI             string `mapstructure:"MONGO_URI"`
	MongoDBName          string `mapstructure:"MONGO_DB_NAME"`
	RedisAddr            string `mapstructure:"REDIS_ADDR"`
	RedisPassword        string `mapstructure:"REDIS_PASSWORD"`
	LogLevel             string `mapstructure:"LOG_LEVEL"`
	LogPretty            bool   `mapstructure:"LOG_PRETTY"`
	OtelExporterEndpoint string `mapstructure:"OTEL_EXPORTER_ENDPOINT"`
	OtelServiceName      string `mapstructure:"OTEL_SERVICE_NAME"`

	// PublicCallbackURL is the absolute URL of the OAuth callback as
	// registered with the providers, e.g. behind the public load balancer.
	PublicCallbackURL string `mapstructure:"PUBLIC_CALLBACK_URL"`

	// StateTokenSecret signs state tokens; at least 32 bytes.
	StateTokenSecret string `mapstructure:"STATE_TOKEN_SECRET"`
	// EncryptionKey encrypts stored credentials; exactly 32 bytes.
	EncryptionKey string `mapstructure:"ENCRYPTION_KEY"`
	// JWTSecretKey verifies platform-issued bearer tokens.
	JWTSecretKey string `mapstructure:"JWT_SECRET_KEY"`

	StateTokenTTLMin int `mapstructure:"STATE_TOKEN_TTL_MIN"`

	CallbackRateLimit     int64 `mapstructure:"CALLBACK_RATE_LIMIT"`
	CallbackRateWindowMin int   `mapstructure:"CALLBACK_RATE_WINDOW_MIN"`

	PendingSweepIntervalMin int `mapstructure:"PENDING_SWEEP_INTERVAL_MIN"`
}

// LoadConfig reads configuration from file, environment variables, and defaults.
func LoadConfig() (*ServerConfig, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.AddConfigPath("/etc/skybridge/")
	v.AddConfigPath("$HOME/.skybridge")
	v.AddConfigPath(".")

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("HTTP_PORT", "8080")
	v.SetDefault("MONGO_URI", "mongodb://localhost:27017/skybridge_dev")
	v.SetDefault("MONGO_DB_NAME", "skybridge_dev")
	v.SetDefault("REDIS_ADDR", "localhost:6379")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_PRETTY", true)
	v.SetDefault("OTEL_SERVICE_NAME", "skybridge-server")
	v.SetDefault("PUBLIC_CALLBACK_URL", "http://localhost:8080/api/v1/oauth/callback")
	v.SetDefault("STATE_TOKEN_TTL_MIN", 10)
	v.SetDefault("CALLBACK_RATE_LIMIT", 5)
	v.SetDefault("CALLBACK_RATE_WINDOW_MIN", 15)
	v.SetDefault("PENDING_SWEEP_INTERVAL_MIN", 5)

	if err := v.ReadInConfig(); err != nil {
		// ConfigFileNotFoundError is acceptable, means we use defaults/env vars.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg ServerConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}

	if err := cfg.validateSecrets(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// validateSecrets rejects a config whose key material cannot work. The
// secrets have no defaults; the server refuses to start without them.
func (cfg *ServerConfig) validateSecrets() error {
	if len(cfg.StateTokenSecret) < 32 {
		return fmt.Errorf("STATE_TOKEN_SECRET must be at least 32 bytes, got %d", len(cfg.StateTokenSecret))
	}
	if len(cfg.EncryptionKey) != 32 {
		return fmt.Errorf("ENCRYPTION_KEY must be exactly 32 bytes, got %d", len(cfg.EncryptionKey))
	}
	if cfg.JWTSecretKey == "" {
		return fmt.Errorf("JWT_SECRET_KEY must be set")
	}
	return nil
}
