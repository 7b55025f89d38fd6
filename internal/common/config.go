package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config represents the application configuration
type Config struct {
	Environment string          `toml:"environment"` // "development" or "production"
	Server      ServerConfig    `toml:"server"`
	Storage     StorageConfig   `toml:"storage"`
	Queue       QueueConfig     `toml:"queue"`
	Engine      EngineConfig    `toml:"engine"`
	WebSocket   WebSocketConfig `toml:"websocket"`
	SSH         SSHConfig       `toml:"ssh"`
	Reaper      ReaperConfig    `toml:"reaper"`
	Logging     LoggingConfig   `toml:"logging"`
}

type ServerConfig struct {
	Port int    `toml:"port"`
	Host string `toml:"host"`
}

type StorageConfig struct {
	Badger BadgerConfig `toml:"badger"`
}

// BadgerConfig represents BadgerDB-specific configuration
type BadgerConfig struct {
	Path           string `toml:"path"`             // Database directory path
	ResetOnStartup bool   `toml:"reset_on_startup"` // Delete database on startup for clean test runs
}

type QueueConfig struct {
	PollInterval      string `toml:"poll_interval"`      // e.g. "250ms" - how often workers poll for envelopes
	Concurrency       int    `toml:"concurrency"`        // Number of concurrent workers
	VisibilityTimeout string `toml:"visibility_timeout"` // e.g. "5m" - envelope visibility timeout for redelivery
	MaxReceive        int    `toml:"max_receive"`        // Max times an envelope can be received before it is dropped
	QueueName         string `toml:"queue_name"`         // Queue name prefix in Badger
}

// EngineConfig tunes the worker execution context.
type EngineConfig struct {
	FanOutLimit   string `toml:"fan_out_limit"`  // Max concurrent targets per job (number as string for env parity)
	TargetTimeout string `toml:"target_timeout"` // Per-target operation timeout, e.g. "30s"
	JobTimeout    string `toml:"job_timeout"`    // Overall job ceiling, "0" disables
	CancelGrace   string `toml:"cancel_grace"`   // How long cancel waits for worker acknowledgment
	Heartbeat     string `toml:"heartbeat"`      // Heartbeat interval while a job runs
}

// WebSocketConfig contains configuration for the streaming gateway.
type WebSocketConfig struct {
	ReadBufferSize  int    `toml:"read_buffer_size"`
	WriteBufferSize int    `toml:"write_buffer_size"`
	WriteTimeout    string `toml:"write_timeout"`    // Per-frame write deadline
	SubscriberQueue int    `toml:"subscriber_queue"` // Buffered events per log subscriber
}

// SSHConfig contains configuration for interactive device sessions.
type SSHConfig struct {
	DialTimeout       string  `toml:"dial_timeout"`        // Transport connect timeout
	CommandTimeout    string  `toml:"command_timeout"`     // Single command execution ceiling
	KeepaliveInterval string  `toml:"keepalive_interval"`  // Half-open connection probe interval
	IdleTimeout       string  `toml:"idle_timeout"`        // Close session after this much inactivity
	CommandsPerSecond float64 `toml:"commands_per_second"` // Interactive command rate limit, 0 disables
}

// ReaperConfig controls the stale running-job sweep.
type ReaperConfig struct {
	Enabled           bool   `toml:"enabled"`
	Schedule          string `toml:"schedule"`            // Cron schedule format
	StaleAfterMinutes int    `toml:"stale_after_minutes"` // Running jobs without heartbeat for this long are forced failed
}

type LoggingConfig struct {
	Level      string   `toml:"level"`       // "debug", "info", "warn", "error"
	Format     string   `toml:"format"`      // "json" or "text"
	Output     []string `toml:"output"`      // "stdout", "file"
	TimeFormat string   `toml:"time_format"` // Time format for logs
}

// NewDefaultConfig creates a configuration with default values.
// Technical parameters are hardcoded here for production stability;
// only user-facing settings should be exposed in relay.toml.
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Port: 8085,
			Host: "localhost",
		},
		Storage: StorageConfig{
			Badger: BadgerConfig{
				Path: "./data",
			},
		},
		Queue: QueueConfig{
			PollInterval:      "250ms",
			Concurrency:       8,
			VisibilityTimeout: "5m",
			MaxReceive:        3,
			QueueName:         "relay_jobs",
		},
		Engine: EngineConfig{
			FanOutLimit:   "10",
			TargetTimeout: "30s",
			JobTimeout:    "0", // Disabled unless set
			CancelGrace:   "10s",
			Heartbeat:     "15s",
		},
		WebSocket: WebSocketConfig{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			WriteTimeout:    "10s",
			SubscriberQueue: 256,
		},
		SSH: SSHConfig{
			DialTimeout:       "10s",
			CommandTimeout:    "60s",
			KeepaliveInterval: "30s",
			IdleTimeout:       "10m",
			CommandsPerSecond: 5,
		},
		Reaper: ReaperConfig{
			Enabled:           true,
			Schedule:          "@every 1m",
			StaleAfterMinutes: 5,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     []string{"stdout", "file"},
			TimeFormat: "15:04:05.000",
		},
	}
}

// LoadFromFiles loads configuration from multiple files with priority:
// default -> file1 -> file2 -> ... -> env. Later files override earlier
// files; environment variables override all files.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for i, path := range paths {
		if path == "" {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	applyEnvOverrides(config)

	return config, nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("RELAY_ENV"); env != "" {
		config.Environment = env
	} else if env := os.Getenv("GO_ENV"); env != "" {
		config.Environment = env
	}

	if port := os.Getenv("RELAY_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if host := os.Getenv("RELAY_SERVER_HOST"); host != "" {
		config.Server.Host = host
	}

	if pollInterval := os.Getenv("RELAY_QUEUE_POLL_INTERVAL"); pollInterval != "" {
		config.Queue.PollInterval = pollInterval
	}
	if concurrency := os.Getenv("RELAY_QUEUE_CONCURRENCY"); concurrency != "" {
		if c, err := strconv.Atoi(concurrency); err == nil {
			config.Queue.Concurrency = c
		}
	}
	if visibilityTimeout := os.Getenv("RELAY_QUEUE_VISIBILITY_TIMEOUT"); visibilityTimeout != "" {
		config.Queue.VisibilityTimeout = visibilityTimeout
	}
	if maxReceive := os.Getenv("RELAY_QUEUE_MAX_RECEIVE"); maxReceive != "" {
		if m, err := strconv.Atoi(maxReceive); err == nil {
			config.Queue.MaxReceive = m
		}
	}
	if queueName := os.Getenv("RELAY_QUEUE_NAME"); queueName != "" {
		config.Queue.QueueName = queueName
	}

	if badgerPath := os.Getenv("RELAY_BADGER_PATH"); badgerPath != "" {
		config.Storage.Badger.Path = badgerPath
	}

	if fanOut := os.Getenv("RELAY_ENGINE_FAN_OUT_LIMIT"); fanOut != "" {
		config.Engine.FanOutLimit = fanOut
	}
	if targetTimeout := os.Getenv("RELAY_ENGINE_TARGET_TIMEOUT"); targetTimeout != "" {
		config.Engine.TargetTimeout = targetTimeout
	}
	if jobTimeout := os.Getenv("RELAY_ENGINE_JOB_TIMEOUT"); jobTimeout != "" {
		config.Engine.JobTimeout = jobTimeout
	}

	if level := os.Getenv("RELAY_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if format := os.Getenv("RELAY_LOG_FORMAT"); format != "" {
		config.Logging.Format = format
	}
	if output := os.Getenv("RELAY_LOG_OUTPUT"); output != "" {
		config.Logging.Output = strings.Split(output, ",")
	}
}

// ApplyFlagOverrides applies command-line flag overrides (highest priority)
func ApplyFlagOverrides(config *Config, port int, host string) {
	if port != 0 {
		config.Server.Port = port
	}
	if host != "" {
		config.Server.Host = host
	}
}

// ParseDuration parses a duration string with a fallback default.
func ParseDuration(value string, fallback time.Duration) time.Duration {
	if value == "" || value == "0" {
		if value == "0" {
			return 0
		}
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return d
}

// ParseInt parses an integer string with a fallback default.
func ParseInt(value string, fallback int) int {
	if value == "" {
		return fallback
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return n
}
