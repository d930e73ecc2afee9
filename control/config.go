// control/config.go
// Author: momentics <momentics@gmail.com>
//
// Server configuration: defaults, YAML file, environment overrides.

package control

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, e.g. HIOLOAD_SERVER_PORT.
const EnvPrefix = "HIOLOAD"

// Config is the complete server configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server" envconfig:"SERVER"`
	Logging   LoggingConfig   `yaml:"logging" envconfig:"LOGGING"`
	CORS      CORSConfig      `yaml:"cors" envconfig:"CORS"`
	WebSocket WebSocketConfig `yaml:"websocket" envconfig:"WEBSOCKET"`
	Metrics   MetricsConfig   `yaml:"metrics" envconfig:"METRICS"`
}

// ServerConfig contains listener and HTTP limits.
type ServerConfig struct {
	Host string `yaml:"host" envconfig:"HOST"`
	Port int    `yaml:"port" envconfig:"PORT"` // 0 picks a free port
	// Docs serves the API reference page at /docs when an OpenAPI document is supplied.
	Docs           bool          `yaml:"docs" envconfig:"DOCS"`
	BodyLimit      int64         `yaml:"body_limit" envconfig:"BODY_LIMIT"`           // bytes, 0 = unlimited
	MaxConnections int           `yaml:"max_connections" envconfig:"MAX_CONNECTIONS"` // 0 = unlimited
	CPU            int           `yaml:"cpu" envconfig:"CPU"`                         // -1 = no pinning
	Backlog        int           `yaml:"backlog" envconfig:"BACKLOG"`
	PollTimeout    time.Duration `yaml:"poll_timeout" envconfig:"POLL_TIMEOUT"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level" envconfig:"LEVEL"`   // debug, info, warn, error, nope
	Format string `yaml:"format" envconfig:"FORMAT"` // json, text
}

// CORSConfig enables CORS headers when Origin is set.
type CORSConfig struct {
	Origin      string `yaml:"origin" envconfig:"ORIGIN"`
	Methods     string `yaml:"methods" envconfig:"METHODS"`
	Headers     string `yaml:"headers" envconfig:"HEADERS"`
	Credentials bool   `yaml:"credentials" envconfig:"CREDENTIALS"`
}

// Enabled reports whether CORS headers are emitted.
func (c CORSConfig) Enabled() bool { return c.Origin != "" }

// WebSocketConfig bounds WebSocket traffic per connection.
type WebSocketConfig struct {
	MaxMessageSize    int     `yaml:"max_message_size" envconfig:"MAX_MESSAGE_SIZE"`
	MessagesPerSecond float64 `yaml:"messages_per_second" envconfig:"MESSAGES_PER_SECOND"` // 0 = unlimited
	Burst             int     `yaml:"burst" envconfig:"BURST"`
}

// MetricsConfig controls the periodic loop summary.
type MetricsConfig struct {
	Interval time.Duration `yaml:"interval" envconfig:"INTERVAL"`
}

// Log levels accepted by LoggingConfig.Level.
const (
	LevelDebug = "debug"
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
	LevelNope  = "nope"
)

// Load builds the configuration from defaults, the optional YAML file and
// the environment, then validates it. A missing file is not an error.
func Load(configFile string) (*Config, error) {
	cfg := DefaultConfig()

	if configFile != "" {
		data, err := os.ReadFile(configFile)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment variables: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:        "localhost",
			Port:        4242,
			Docs:        true,
			CPU:         -1,
			Backlog:     1024,
			PollTimeout: 100 * time.Millisecond,
		},
		Logging: LoggingConfig{
			Level:  LevelDebug,
			Format: "text",
		},
		CORS: CORSConfig{
			Methods: "GET, POST, PUT, PATCH, DELETE, OPTIONS, HEAD",
			Headers: "Content-Type, Authorization",
		},
		WebSocket: WebSocketConfig{
			MaxMessageSize: 1 << 20,
		},
		Metrics: MetricsConfig{
			Interval: time.Second,
		},
	}
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if c.Server.BodyLimit < 0 {
		errs = append(errs, errors.New("server.body_limit must not be negative"))
	}
	if c.Server.MaxConnections < 0 {
		errs = append(errs, errors.New("server.max_connections must not be negative"))
	}
	if c.Server.CPU < -1 {
		errs = append(errs, errors.New("server.cpu must be -1 or a cpu index"))
	}
	if c.Server.PollTimeout <= 0 {
		errs = append(errs, errors.New("server.poll_timeout must be positive"))
	}
	switch c.Logging.Level {
	case LevelDebug, LevelInfo, LevelWarn, LevelError, LevelNope:
	default:
		errs = append(errs, fmt.Errorf("logging.level %q is not one of debug, info, warn, error, nope", c.Logging.Level))
	}
	switch c.Logging.Format {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("logging.format %q must be json or text", c.Logging.Format))
	}
	if c.WebSocket.MaxMessageSize <= 0 {
		errs = append(errs, errors.New("websocket.max_message_size must be positive"))
	}
	if c.WebSocket.MessagesPerSecond < 0 || c.WebSocket.Burst < 0 {
		errs = append(errs, errors.New("websocket rate limits must not be negative"))
	}
	if c.Metrics.Interval <= 0 {
		errs = append(errs, errors.New("metrics.interval must be positive"))
	}
	return errors.Join(errs...)
}

// Address returns host:port for the listener.
func (c *ServerConfig) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}
