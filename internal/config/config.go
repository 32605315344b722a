// Package config loads the server configuration from YAML with defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the top-level application configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Runtime  RuntimeConfig  `yaml:"runtime"`
	Pool     PoolConfig     `yaml:"pool"`
	Events   EventsConfig   `yaml:"events"`
	Tasks    TasksConfig    `yaml:"tasks"`
	Auth     AuthConfig     `yaml:"auth"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Addr is the host:port the server listens on.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	URL string `yaml:"url"`
}

// RuntimeConfig points at the reference ComfyUI instance whose node catalog
// drives workflow parsing and compilation.
type RuntimeConfig struct {
	URL         string        `yaml:"url"`
	RegistryTTL time.Duration `yaml:"registry_ttl"` // node catalog cache lifetime
}

// PoolConfig holds device pool settings.
type PoolConfig struct {
	OfflineAfter  time.Duration `yaml:"offline_after"`  // no heartbeat for this long disables a device
	SweepInterval time.Duration `yaml:"sweep_interval"` // how often the janitor runs
}

// EventsConfig holds per-device event stream settings.
type EventsConfig struct {
	Buffer    int           `yaml:"buffer"`    // per-device channel capacity
	Heartbeat time.Duration `yaml:"heartbeat"` // idle stream keep-alive interval
}

// TasksConfig holds assignment and wait-loop timings.
type TasksConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`
	WaitDeadline time.Duration `yaml:"wait_deadline"`
	PushInterval time.Duration `yaml:"push_interval"`
}

// AuthConfig holds device credential settings.  The secret should come from
// the environment, not the file.
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

// defaults returns a Config populated with sensible default values.
func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Runtime: RuntimeConfig{
			URL:         "http://127.0.0.1:8188",
			RegistryTTL: 5 * time.Minute,
		},
		Pool: PoolConfig{
			OfflineAfter:  2 * time.Minute,
			SweepInterval: 30 * time.Second,
		},
		Events: EventsConfig{
			Buffer:    64,
			Heartbeat: 15 * time.Second,
		},
		Tasks: TasksConfig{
			PollInterval: 500 * time.Millisecond,
			WaitDeadline: 30 * time.Second,
			PushInterval: time.Second,
		},
	}
}

// Load reads a YAML configuration file at path and returns a Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.applyEnv()
	return cfg, nil
}

// LoadDefault tries to load "config.yaml" from the current directory.
// If the file does not exist, it returns the defaults.
// Any other error (e.g. permission denied, malformed YAML) is returned.
func LoadDefault() (*Config, error) {
	cfg, err := Load("config.yaml")
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			cfg = defaults()
			cfg.applyEnv()
			return cfg, nil
		}
		return nil, err
	}
	return cfg, nil
}

// applyEnv lets the environment override the secrets and the database URL.
func (c *Config) applyEnv() {
	if v := os.Getenv("COMFYGRID_DATABASE_URL"); v != "" {
		c.Database.URL = v
	}
	if v := os.Getenv("COMFYGRID_JWT_SECRET"); v != "" {
		c.Auth.JWTSecret = v
	}
	if v := os.Getenv("COMFYGRID_RUNTIME_URL"); v != "" {
		c.Runtime.URL = v
	}
}
