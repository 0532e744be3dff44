package pool

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ManagerConfig is the operational configuration surface consumed by the
// pool manager (spec.md §6.4): connection/retry/health-check tunables.
// This is deliberately separate from the per-server .mcp.json manifest
// (mcp.Config) — one describes "how to run the service", the other "which
// servers to run".
type ManagerConfig struct {
	ConnectionTimeout   time.Duration `yaml:"connectionTimeout"`
	MaxRetries          int           `yaml:"maxRetries"`
	RetryDelay          time.Duration `yaml:"retryDelay"`
	HealthCheckInterval time.Duration `yaml:"healthCheckInterval"`
}

// DefaultManagerConfig returns conservative defaults used when no config
// file is supplied.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		ConnectionTimeout:   30 * time.Second,
		MaxRetries:          3,
		RetryDelay:          2 * time.Second,
		HealthCheckInterval: 30 * time.Second,
	}
}

// Validate reports a configuration violating spec.md §6.4's constraints
// (connection_timeout > 0, max_retries >= 0, retry_delay >= 0,
// health_check_interval > 0).
func (c ManagerConfig) Validate() error {
	if c.ConnectionTimeout <= 0 {
		return fmt.Errorf("connectionTimeout must be > 0")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("maxRetries must be >= 0")
	}
	if c.RetryDelay < 0 {
		return fmt.Errorf("retryDelay must be >= 0")
	}
	if c.HealthCheckInterval <= 0 {
		return fmt.Errorf("healthCheckInterval must be > 0")
	}
	return nil
}

// LoadManagerConfigFromPath reads YAML-encoded ManagerConfig from path,
// filling any zero-valued duration/int fields from DefaultManagerConfig.
func LoadManagerConfigFromPath(path string) (ManagerConfig, error) {
	cfg := DefaultManagerConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return ManagerConfig{}, fmt.Errorf("failed to read manager config: %w", err)
	}

	var loaded ManagerConfig
	if err := yaml.Unmarshal(data, &loaded); err != nil {
		return ManagerConfig{}, fmt.Errorf("failed to parse manager config YAML: %w", err)
	}

	if loaded.ConnectionTimeout > 0 {
		cfg.ConnectionTimeout = loaded.ConnectionTimeout
	}
	if loaded.MaxRetries > 0 {
		cfg.MaxRetries = loaded.MaxRetries
	}
	if loaded.RetryDelay > 0 {
		cfg.RetryDelay = loaded.RetryDelay
	}
	if loaded.HealthCheckInterval > 0 {
		cfg.HealthCheckInterval = loaded.HealthCheckInterval
	}

	if err := cfg.Validate(); err != nil {
		return ManagerConfig{}, err
	}
	return cfg, nil
}
