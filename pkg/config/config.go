// Package config provides configuration management for roster
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultEnvFile is loaded when present and no env file is passed explicitly
const DefaultEnvFile = ".env"

// Config holds the complete configuration for roster
type Config struct {
	// Remote REST resource the console talks to
	Remote RemoteConfig `yaml:"remote" json:"remote"`

	// Durable local snapshot used by the console
	State StateConfig `yaml:"state" json:"state"`

	// Reference server configuration
	Server ServerConfig `yaml:"server" json:"server"`

	// Application state controller behaviour
	Controller ControllerConfig `yaml:"controller" json:"controller"`

	// Monitoring configuration
	Monitoring MonitoringConfig `yaml:"monitoring" json:"monitoring"`

	// Logging configuration
	Logging LoggingConfig `yaml:"logging" json:"logging"`

	// Security configuration
	Security SecurityConfig `yaml:"security" json:"security"`
}

// RemoteConfig holds settings for the remote agents resource
type RemoteConfig struct {
	BaseURL     string        `yaml:"base_url" json:"base_url"`
	Timeout     time.Duration `yaml:"timeout" json:"timeout"`
	DNSCacheTTL time.Duration `yaml:"dns_cache_ttl" json:"dns_cache_ttl"`
}

// StateConfig selects a snapshot backend
type StateConfig struct {
	Type    string            `yaml:"type" json:"type"` // memory, file, badger, sqlite, postgres, redis
	Path    string            `yaml:"path" json:"path"` // file, badger and sqlite backends
	URL     string            `yaml:"url" json:"url"`   // postgres DSN or redis address
	Slot    string            `yaml:"slot" json:"slot"`
	Options map[string]string `yaml:"options" json:"options"`
}

// ServerConfig holds reference server configuration
type ServerConfig struct {
	HTTP HTTPConfig `yaml:"http" json:"http"`
	GRPC GRPCConfig `yaml:"grpc" json:"grpc"`

	// Backend the server persists its agents to
	State StateConfig `yaml:"state" json:"state"`

	ShutdownTimeout     time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout"`
	HealthCheckInterval time.Duration `yaml:"health_check_interval" json:"health_check_interval"`
}

// HTTPConfig holds HTTP server configuration
type HTTPConfig struct {
	Host               string        `yaml:"host" json:"host"`
	Port               int           `yaml:"port" json:"port"`
	ReadTimeout        time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout       time.Duration `yaml:"write_timeout" json:"write_timeout"`
	IdleTimeout        time.Duration `yaml:"idle_timeout" json:"idle_timeout"`
	MaxHeaderBytes     int           `yaml:"max_header_bytes" json:"max_header_bytes"`
	CORSEnabled        bool          `yaml:"cors_enabled" json:"cors_enabled"`
	CORSAllowedOrigins []string      `yaml:"cors_allowed_origins" json:"cors_allowed_origins"`
}

// GRPCConfig holds gRPC health server configuration
type GRPCConfig struct {
	Enabled           bool   `yaml:"enabled" json:"enabled"`
	Host              string `yaml:"host" json:"host"`
	Port              int    `yaml:"port" json:"port"`
	ReflectionEnabled bool   `yaml:"reflection_enabled" json:"reflection_enabled"`
}

// ControllerConfig holds application state controller settings
type ControllerConfig struct {
	// Keep a record locally until the remote confirms its deletion
	ConfirmDeletes bool `yaml:"confirm_deletes" json:"confirm_deletes"`
}

// MonitoringConfig holds monitoring and observability configuration
type MonitoringConfig struct {
	Metrics MetricsConfig `yaml:"metrics" json:"metrics"`
	Tracing TracingConfig `yaml:"tracing" json:"tracing"`
}

// MetricsConfig holds Prometheus metrics configuration
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled" json:"enabled"`
	Path      string `yaml:"path" json:"path"`
	Namespace string `yaml:"namespace" json:"namespace"`
}

// TracingConfig holds OpenTelemetry tracing configuration
type TracingConfig struct {
	Enabled      bool          `yaml:"enabled" json:"enabled"`
	Endpoint     string        `yaml:"endpoint" json:"endpoint"`
	ServiceName  string        `yaml:"service_name" json:"service_name"`
	SampleRate   float64       `yaml:"sample_rate" json:"sample_rate"`
	BatchTimeout time.Duration `yaml:"batch_timeout" json:"batch_timeout"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level    string `yaml:"level" json:"level"`
	Format   string `yaml:"format" json:"format"`
	Output   string `yaml:"output" json:"output"`
	FilePath string `yaml:"file_path" json:"file_path"`
}

// SecurityConfig holds security-related configuration
type SecurityConfig struct {
	RateLimit RateLimitConfig `yaml:"rate_limit" json:"rate_limit"`
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	Enabled      bool          `yaml:"enabled" json:"enabled"`
	GlobalLimit  int           `yaml:"global_limit" json:"global_limit"`
	GlobalWindow time.Duration `yaml:"global_window" json:"global_window"`
	ClientLimit  int           `yaml:"client_limit" json:"client_limit"`
	ClientWindow time.Duration `yaml:"client_window" json:"client_window"`
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	return &Config{
		Remote: RemoteConfig{
			BaseURL:     "http://localhost:3001",
			Timeout:     30 * time.Second,
			DNSCacheTTL: 5 * time.Minute,
		},
		State: StateConfig{
			Type:    "file",
			Path:    defaultStatePath(),
			Slot:    "agents",
			Options: make(map[string]string),
		},
		Server: ServerConfig{
			HTTP: HTTPConfig{
				Host:               "0.0.0.0",
				Port:               3001,
				ReadTimeout:        10 * time.Second,
				WriteTimeout:       10 * time.Second,
				IdleTimeout:        60 * time.Second,
				MaxHeaderBytes:     1 << 20, // 1MB
				CORSEnabled:        true,
				CORSAllowedOrigins: []string{"*"},
			},
			GRPC: GRPCConfig{
				Enabled:           false,
				Host:              "0.0.0.0",
				Port:              9090,
				ReflectionEnabled: true,
			},
			State: StateConfig{
				Type:    "badger",
				Path:    "./roster-data",
				Slot:    "agents",
				Options: make(map[string]string),
			},
			ShutdownTimeout:     30 * time.Second,
			HealthCheckInterval: 10 * time.Second,
		},
		Monitoring: MonitoringConfig{
			Metrics: MetricsConfig{
				Enabled:   true,
				Path:      "/metrics",
				Namespace: "roster",
			},
			Tracing: TracingConfig{
				Enabled:      false,
				ServiceName:  "roster",
				SampleRate:   0.1,
				BatchTimeout: 5 * time.Second,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Security: SecurityConfig{
			RateLimit: RateLimitConfig{
				Enabled:      false,
				GlobalLimit:  1000,
				GlobalWindow: time.Minute,
				ClientLimit:  100,
				ClientWindow: time.Minute,
			},
		},
	}
}

func defaultStatePath() string {
	if dir, err := os.UserCacheDir(); err == nil {
		return filepath.Join(dir, "roster", "agents.json")
	}
	return "./agents.json"
}

// LoadConfig loads configuration from file, env files and environment
// variables. When no env file is given, DefaultEnvFile is loaded if present.
// Values already set in the process environment are never overridden.
func LoadConfig(configPath string, envFiles ...string) (*Config, error) {
	config := DefaultConfig()

	// Load from file if provided
	if configPath != "" {
		if err := loadConfigFromFile(config, configPath); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := loadEnvFiles(envFiles); err != nil {
		return nil, fmt.Errorf("failed to load env file: %w", err)
	}

	// Override with environment variables
	loadConfigFromEnv(config)

	// Validate configuration
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

func loadEnvFiles(envFiles []string) error {
	if len(envFiles) == 0 {
		if _, err := os.Stat(DefaultEnvFile); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil
			}
			return err
		}
		envFiles = []string{DefaultEnvFile}
	}
	return godotenv.Load(envFiles...)
}

// loadConfigFromFile loads configuration from YAML or JSON file
func loadConfigFromFile(config *Config, configPath string) error {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return err
	}

	ext := strings.ToLower(filepath.Ext(configPath))
	switch ext {
	case ".yaml", ".yml":
		return yaml.Unmarshal(data, config)
	case ".json":
		return json.Unmarshal(data, config)
	default:
		return fmt.Errorf("unsupported config file format: %s", ext)
	}
}

// loadConfigFromEnv loads configuration from environment variables
func loadConfigFromEnv(config *Config) {
	// Remote configuration
	if val := os.Getenv("ROSTER_REMOTE_URL"); val != "" {
		config.Remote.BaseURL = val
	}
	if val := os.Getenv("ROSTER_REMOTE_TIMEOUT"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			config.Remote.Timeout = d
		}
	}

	// Snapshot configuration
	if val := os.Getenv("ROSTER_STATE_TYPE"); val != "" {
		config.State.Type = val
	}
	if val := os.Getenv("ROSTER_STATE_PATH"); val != "" {
		config.State.Path = val
	}
	if val := os.Getenv("ROSTER_STATE_URL"); val != "" {
		config.State.URL = val
	}

	// Server configuration
	if val := os.Getenv("ROSTER_HTTP_HOST"); val != "" {
		config.Server.HTTP.Host = val
	}
	if val := os.Getenv("ROSTER_HTTP_PORT"); val != "" {
		if port, err := strconv.Atoi(val); err == nil {
			config.Server.HTTP.Port = port
		}
	}
	if val := os.Getenv("ROSTER_GRPC_ENABLED"); val != "" {
		config.Server.GRPC.Enabled = strings.ToLower(val) == "true"
	}
	if val := os.Getenv("ROSTER_GRPC_PORT"); val != "" {
		if port, err := strconv.Atoi(val); err == nil {
			config.Server.GRPC.Port = port
		}
	}
	if val := os.Getenv("ROSTER_SERVER_STATE_TYPE"); val != "" {
		config.Server.State.Type = val
	}
	if val := os.Getenv("ROSTER_SERVER_STATE_PATH"); val != "" {
		config.Server.State.Path = val
	}
	if val := os.Getenv("ROSTER_SERVER_STATE_URL"); val != "" {
		config.Server.State.URL = val
	}

	// Controller configuration
	if val := os.Getenv("ROSTER_CONFIRM_DELETES"); val != "" {
		config.Controller.ConfirmDeletes = strings.ToLower(val) == "true"
	}

	// Monitoring configuration
	if val := os.Getenv("ROSTER_METRICS_ENABLED"); val != "" {
		config.Monitoring.Metrics.Enabled = strings.ToLower(val) == "true"
	}
	if val := os.Getenv("ROSTER_TRACING_ENABLED"); val != "" {
		config.Monitoring.Tracing.Enabled = strings.ToLower(val) == "true"
	}
	if val := os.Getenv("ROSTER_TRACING_ENDPOINT"); val != "" {
		config.Monitoring.Tracing.Endpoint = val
	}

	// Logging configuration
	if val := os.Getenv("ROSTER_LOG_LEVEL"); val != "" {
		config.Logging.Level = val
	}
	if val := os.Getenv("ROSTER_LOG_FORMAT"); val != "" {
		config.Logging.Format = val
	}

	// Security configuration
	if val := os.Getenv("ROSTER_RATE_LIMIT_ENABLED"); val != "" {
		config.Security.RateLimit.Enabled = strings.ToLower(val) == "true"
	}
}

var (
	validStates     = []string{"memory", "file", "badger", "sqlite", "postgres", "redis"}
	validLogLevels  = []string{"debug", "info", "warn", "error"}
	validLogFormats = []string{"json", "text"}
	validLogOutputs = []string{"stdout", "stderr", "file"}
)

// Validate validates the configuration
func (c *Config) Validate() error {
	// Validate remote configuration
	u, err := url.Parse(c.Remote.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid remote base URL: %q", c.Remote.BaseURL)
	}
	if c.Remote.Timeout < 0 {
		return fmt.Errorf("invalid remote timeout: %s", c.Remote.Timeout)
	}

	// Validate state configuration
	if err := c.State.validate("state"); err != nil {
		return err
	}
	if err := c.Server.State.validate("server.state"); err != nil {
		return err
	}

	// Validate server configuration
	if c.Server.HTTP.Port <= 0 || c.Server.HTTP.Port > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.Server.HTTP.Port)
	}
	if c.Server.GRPC.Enabled && (c.Server.GRPC.Port <= 0 || c.Server.GRPC.Port > 65535) {
		return fmt.Errorf("invalid gRPC port: %d", c.Server.GRPC.Port)
	}

	// Validate rate limit configuration
	if c.Security.RateLimit.Enabled && c.Security.RateLimit.GlobalLimit > 0 && c.Security.RateLimit.GlobalWindow <= 0 {
		return fmt.Errorf("rate limit global window must be positive")
	}

	// Validate logging configuration
	if !contains(validLogLevels, strings.ToLower(c.Logging.Level)) {
		return fmt.Errorf("invalid log level: %s, must be one of %v", c.Logging.Level, validLogLevels)
	}
	if !contains(validLogFormats, strings.ToLower(c.Logging.Format)) {
		return fmt.Errorf("invalid log format: %s, must be one of %v", c.Logging.Format, validLogFormats)
	}
	if !contains(validLogOutputs, strings.ToLower(c.Logging.Output)) {
		return fmt.Errorf("invalid log output: %s, must be one of %v", c.Logging.Output, validLogOutputs)
	}
	if strings.EqualFold(c.Logging.Output, "file") && c.Logging.FilePath == "" {
		return fmt.Errorf("log file path must be specified for file output")
	}

	return nil
}

func (s StateConfig) validate(section string) error {
	if !contains(validStates, s.Type) {
		return fmt.Errorf("invalid %s type: %s, must be one of %v", section, s.Type, validStates)
	}
	switch s.Type {
	case "file", "badger", "sqlite":
		if s.Path == "" {
			return fmt.Errorf("%s path must be specified for %s backend", section, s.Type)
		}
	case "postgres", "redis":
		if s.URL == "" {
			return fmt.Errorf("%s url must be specified for %s backend", section, s.Type)
		}
	}
	return nil
}

// String returns a string representation of the configuration
func (c *Config) String() string {
	data, _ := yaml.Marshal(c)
	return string(data)
}

// SaveToFile saves the configuration to a file
func (c *Config) SaveToFile(path string) error {
	ext := strings.ToLower(filepath.Ext(path))
	var data []byte
	var err error

	switch ext {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(c)
	case ".json":
		data, err = json.MarshalIndent(c, "", "  ")
	default:
		return fmt.Errorf("unsupported config file format: %s", ext)
	}

	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// contains checks if a slice contains a string
func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
