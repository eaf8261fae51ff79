package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	Server ServerConfig `mapstructure:"server" validate:"required"`
	Redis  RedisConfig  `mapstructure:"redis"`
	Store  StoreConfig  `mapstructure:"store" validate:"required"`
	Broker BrokerConfig `mapstructure:"broker" validate:"required"`
	Events EventsConfig `mapstructure:"events" validate:"required"`
	Stream StreamConfig `mapstructure:"stream"`
	CORS   CORSConfig   `mapstructure:"cors"`
	Log    LogConfig    `mapstructure:"log" validate:"required"`
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	Port            int           `mapstructure:"port" validate:"gt=0,lt=65536"`
	Host            string        `mapstructure:"host" validate:"required"`
	Environment     string        `mapstructure:"environment"`
	HealthCheckPath string        `mapstructure:"health_check_path" validate:"required,startswith=/"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" validate:"gte=0"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" validate:"gte=0"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout" validate:"gte=0"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`
}

// RedisConfig holds Redis-related configuration
type RedisConfig struct {
	URL       string `mapstructure:"url"`
	KeyPrefix string `mapstructure:"key_prefix"`
	// PrivateDB assigns a per-hostname DB number, for shared development servers
	PrivateDB bool `mapstructure:"private_db"`
}

// StoreConfig selects the position store backend
type StoreConfig struct {
	Driver string `mapstructure:"driver" validate:"oneof=redis memory"`
}

// BrokerConfig holds the location socket parameters
type BrokerConfig struct {
	// Path is the HTTP path the socket endpoint is mounted on
	Path string `mapstructure:"path" validate:"required,startswith=/"`
	// SendBuffer is the number of outbound frames queued per connection before drops
	SendBuffer int `mapstructure:"send_buffer" validate:"gte=1"`
	// MaxMessageBytes caps a single inbound frame
	MaxMessageBytes int64         `mapstructure:"max_message_bytes" validate:"gte=128"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" validate:"gt=0"`
	PongTimeout     time.Duration `mapstructure:"pong_timeout" validate:"gt=0"`
	PingInterval    time.Duration `mapstructure:"ping_interval" validate:"gt=0,ltfield=PongTimeout"`
	// EchoToSender controls whether a technician's own update is broadcast back to them
	EchoToSender bool `mapstructure:"echo_to_sender"`
	// RateLimit is inbound messages per second per connection; 0 disables limiting
	RateLimit float64 `mapstructure:"rate_limit" validate:"gte=0"`
	RateBurst int     `mapstructure:"rate_burst" validate:"gte=1"`
	// AllowedOrigins restricts the websocket upgrade; empty allows any origin
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// EventsConfig holds the in-process event bus settings
type EventsConfig struct {
	OutputBuffer int64         `mapstructure:"output_buffer" validate:"gte=0"`
	CloseTimeout time.Duration `mapstructure:"close_timeout" validate:"gt=0"`
	TraceLogging bool          `mapstructure:"trace_logging"`
}

// StreamConfig holds the read-only SSE location feed settings
type StreamConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	Path      string        `mapstructure:"path" validate:"omitempty,startswith=/"`
	Buffer    int           `mapstructure:"buffer" validate:"gte=0"`
	Heartbeat time.Duration `mapstructure:"heartbeat" validate:"gte=0"`
}

// CORSConfig holds CORS configuration
type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	AllowedMethods []string `mapstructure:"allowed_methods"`
	AllowedHeaders []string `mapstructure:"allowed_headers"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level       string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Environment string `mapstructure:"environment"`
	Encoding    string `mapstructure:"encoding" validate:"oneof=json console"`
}

// Load loads configuration from environment variables and config files
func Load() (*Config, error) {
	return load(viper.New(), true)
}

func load(v *viper.Viper, readFile bool) (*Config, error) {
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")
	v.AddConfigPath("/etc/techtrack")

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if readFile {
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
			// Config file not found, continue with env vars and defaults
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.environment", "development")
	v.SetDefault("server.health_check_path", "/health")
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "15s")
	v.SetDefault("server.idle_timeout", "60s")
	v.SetDefault("server.shutdown_timeout", "5s")

	v.SetDefault("redis.url", "redis://localhost:6379/0")
	v.SetDefault("redis.key_prefix", "techtrack")
	v.SetDefault("redis.private_db", false)

	v.SetDefault("store.driver", "redis")

	v.SetDefault("broker.path", "/ws/locations")
	v.SetDefault("broker.send_buffer", 64)
	v.SetDefault("broker.max_message_bytes", 4096)
	v.SetDefault("broker.write_timeout", "10s")
	v.SetDefault("broker.pong_timeout", "60s")
	v.SetDefault("broker.ping_interval", "54s")
	v.SetDefault("broker.echo_to_sender", true)
	v.SetDefault("broker.rate_limit", 10)
	v.SetDefault("broker.rate_burst", 20)
	v.SetDefault("broker.allowed_origins", []string{})

	v.SetDefault("events.output_buffer", 1024)
	v.SetDefault("events.close_timeout", "5s")
	v.SetDefault("events.trace_logging", false)

	v.SetDefault("stream.enabled", true)
	v.SetDefault("stream.path", "/api/v1/stream/locations")
	v.SetDefault("stream.buffer", 64)
	v.SetDefault("stream.heartbeat", "30s")

	v.SetDefault("cors.allowed_origins", []string{"*"})
	v.SetDefault("cors.allowed_methods", []string{"GET", "POST", "OPTIONS"})
	v.SetDefault("cors.allowed_headers", []string{"Content-Type", "Authorization"})

	v.SetDefault("log.level", "info")
	v.SetDefault("log.environment", "development")
	v.SetDefault("log.encoding", "console")
}

// validateConfig validates the loaded configuration
func validateConfig(cfg *Config) error {
	cfg.Log.Level = strings.ToLower(cfg.Log.Level)
	cfg.Log.Encoding = strings.ToLower(cfg.Log.Encoding)
	cfg.Store.Driver = strings.ToLower(cfg.Store.Driver)

	if err := validator.New().Struct(cfg); err != nil {
		return err
	}

	if cfg.Store.Driver == "redis" && cfg.Redis.URL == "" {
		return fmt.Errorf("redis url cannot be empty when store driver is redis")
	}

	if cfg.Stream.Enabled && cfg.Stream.Path == "" {
		return fmt.Errorf("stream path cannot be empty when the stream is enabled")
	}

	return nil
}

// GetServerAddr returns the server address in host:port format
func (s *ServerConfig) GetServerAddr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// IsProduction returns true if the environment is production
func (s *ServerConfig) IsProduction() bool {
	return strings.ToLower(s.Environment) == "production"
}
