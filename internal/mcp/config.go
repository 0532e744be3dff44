package mcp

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/cloudcompilerr/mcp-runtime/internal/shared/logging"
)

// ServerConfig is one entry of a .mcp.json manifest: the command used to
// spawn a server and the environment it should see.
type ServerConfig struct {
	Command  string            `json:"command"`
	Args     []string          `json:"args,omitempty"`
	Env      map[string]string `json:"env,omitempty"`
	Disabled bool              `json:"disabled,omitempty"`
}

// Config is the parsed shape of a .mcp.json manifest, plus bookkeeping about
// which scope each entry was last set from.
type Config struct {
	MCPServers map[string]ServerConfig `json:"mcpServers"`

	// Origins records which scope last wrote each server name, populated
	// only by Load (LoadFromPath leaves it nil: a single-file load has no
	// scope to report).
	Origins map[string]ConfigScope `json:"-"`
}

// ConfigScope names one of the three places a .mcp.json manifest may live.
type ConfigScope string

const (
	ScopeUser    ConfigScope = "user"    // ~/.mcp-runtime/.mcp.json
	ScopeProject ConfigScope = "project" // <git root>/.mcp.json
	ScopeLocal   ConfigScope = "local"   // ./.mcp.json
)

// ConfigKind classifies a ConfigError.
type ConfigKind string

const (
	ConfigRead     ConfigKind = "read"
	ConfigParse    ConfigKind = "parse"
	ConfigWrite    ConfigKind = "write"
	ConfigValidate ConfigKind = "validate"
	ConfigNoScope  ConfigKind = "no_scope"
)

// ConfigError is a failure loading, parsing, or validating a manifest.
type ConfigError struct {
	Kind  ConfigKind
	Scope ConfigScope
	Path  string
	Cause error
}

func (e *ConfigError) Error() string {
	where := e.Path
	if e.Scope != "" {
		where = fmt.Sprintf("%s scope %q", e.Scope, e.Path)
	}
	if e.Cause != nil {
		return fmt.Sprintf("config error [%s] %s: %v", e.Kind, where, e.Cause)
	}
	return fmt.Sprintf("config error [%s] %s", e.Kind, where)
}

func (e *ConfigError) Unwrap() error { return e.Cause }

// scopeLocator resolves the manifest path for one scope, failing if that
// scope doesn't apply (e.g. ScopeProject outside a git checkout).
type scopeLocator struct {
	scope   ConfigScope
	resolve func() (string, error)
}

// ConfigLoader loads and merges .mcp.json manifests across scopes.
type ConfigLoader struct {
	logger logging.Logger
}

// NewConfigLoader builds a loader. No options are defined yet; the
// parameter exists so callers can adopt future ones without a signature
// change.
func NewConfigLoader(opts ...ConfigLoaderOption) *ConfigLoader {
	l := &ConfigLoader{logger: logging.NewComponentLogger("mcp.config")}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// ConfigLoaderOption customizes a ConfigLoader.
type ConfigLoaderOption func(*ConfigLoader)

// scopes lists the manifest locations in increasing priority order: a name
// defined in a higher-priority scope overwrites the same name from a lower
// one.
func (l *ConfigLoader) scopes() []scopeLocator {
	return []scopeLocator{
		{ScopeUser, l.userManifestPath},
		{ScopeProject, l.projectManifestPath},
		{ScopeLocal, l.localManifestPath},
	}
}

// Load merges manifests from every scope that resolves and exists, lowest
// priority first, and records which scope contributed each server name.
func (l *ConfigLoader) Load() (*Config, error) {
	return l.loadScopes(l.scopes())
}

// loadScopes is Load's scope-merge logic, parameterized over the scope list
// so tests can substitute locators without touching the filesystem the
// default scopes() resolves against.
func (l *ConfigLoader) loadScopes(locators []scopeLocator) (*Config, error) {
	merged := &Config{
		MCPServers: make(map[string]ServerConfig),
		Origins:    make(map[string]ConfigScope),
	}

	for _, loc := range locators {
		path, err := loc.resolve()
		if err != nil {
			l.logger.Debug("scope %s unavailable: %v", loc.scope, err)
			continue
		}
		cfg, err := l.LoadFromPath(path)
		if err != nil {
			l.logger.Debug("scope %s: no manifest at %s: %v", loc.scope, path, err)
			continue
		}
		for name, serverCfg := range cfg.MCPServers {
			merged.MCPServers[name] = serverCfg
			merged.Origins[name] = loc.scope
		}
		l.logger.Debug("loaded %s scope: %d servers", loc.scope, len(cfg.MCPServers))
	}

	l.logger.Info("%d MCP servers configured across all scopes", len(merged.MCPServers))
	return merged, nil
}

// LoadFromPath reads and parses a single manifest, expanding ${VAR}/$VAR
// references in every server's command, args, and env values.
func (l *ConfigLoader) LoadFromPath(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ConfigError{Kind: ConfigRead, Path: path, Cause: err}
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, &ConfigError{Kind: ConfigParse, Path: path, Cause: err}
	}

	for name, serverCfg := range cfg.MCPServers {
		cfg.MCPServers[name] = l.expandEnvVars(serverCfg)
	}
	return &cfg, nil
}

// SaveToPath writes cfg as an indented .mcp.json manifest, creating parent
// directories as needed.
func (l *ConfigLoader) SaveToPath(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return &ConfigError{Kind: ConfigWrite, Path: path, Cause: err}
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return &ConfigError{Kind: ConfigWrite, Path: path, Cause: err}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return &ConfigError{Kind: ConfigWrite, Path: path, Cause: err}
	}

	l.logger.Info("saved MCP manifest to %s", path)
	return nil
}

func (l *ConfigLoader) userManifestPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", &ConfigError{Kind: ConfigNoScope, Scope: ScopeUser, Cause: err}
	}
	return filepath.Join(home, ".mcp-runtime", ".mcp.json"), nil
}

func (l *ConfigLoader) projectManifestPath() (string, error) {
	root, err := gitRoot()
	if err != nil {
		return "", &ConfigError{Kind: ConfigNoScope, Scope: ScopeProject, Cause: err}
	}
	return filepath.Join(root, ".mcp.json"), nil
}

func (l *ConfigLoader) localManifestPath() (string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", &ConfigError{Kind: ConfigNoScope, Scope: ScopeLocal, Cause: err}
	}
	return filepath.Join(cwd, ".mcp.json"), nil
}

// gitRoot walks upward from the working directory looking for a .git entry.
func gitRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}
	for {
		if info, statErr := os.Stat(filepath.Join(dir, ".git")); statErr == nil && info.IsDir() {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("no .git directory found above %s", dir)
		}
		dir = parent
	}
}

// expandEnvVars expands ${VAR}/$VAR references in a server's command, args,
// and env values.
func (l *ConfigLoader) expandEnvVars(cfg ServerConfig) ServerConfig {
	cfg.Command = l.expandString(cfg.Command)
	for i, arg := range cfg.Args {
		cfg.Args[i] = l.expandString(arg)
	}
	if cfg.Env != nil {
		expanded := make(map[string]string, len(cfg.Env))
		for k, v := range cfg.Env {
			expanded[k] = l.expandString(v)
		}
		cfg.Env = expanded
	}
	return cfg
}

func (l *ConfigLoader) expandString(s string) string {
	return os.Expand(s, func(key string) string {
		value, ok := os.LookupEnv(key)
		if !ok || value == "" {
			l.logger.Warn("environment variable %s not set, expanding to empty", key)
			return ""
		}
		return value
	})
}

// AddServer adds or replaces a server entry.
func (c *Config) AddServer(name string, cfg ServerConfig) {
	if c.MCPServers == nil {
		c.MCPServers = make(map[string]ServerConfig)
	}
	c.MCPServers[name] = cfg
}

// RemoveServer deletes a server entry, reporting whether it existed.
func (c *Config) RemoveServer(name string) bool {
	if _, ok := c.MCPServers[name]; !ok {
		return false
	}
	delete(c.MCPServers, name)
	return true
}

// GetServer looks up a server entry by name.
func (c *Config) GetServer(name string) (ServerConfig, bool) {
	cfg, ok := c.MCPServers[name]
	return cfg, ok
}

// ListServers returns every configured server name.
func (c *Config) ListServers() []string {
	names := make([]string, 0, len(c.MCPServers))
	for name := range c.MCPServers {
		names = append(names, name)
	}
	return names
}

// GetActiveServers returns the subset of entries not marked disabled.
func (c *Config) GetActiveServers() map[string]ServerConfig {
	active := make(map[string]ServerConfig, len(c.MCPServers))
	for name, cfg := range c.MCPServers {
		if !cfg.Disabled {
			active[name] = cfg
		}
	}
	return active
}

// Validate checks that the manifest has at least one server and that every
// command is well-formed enough to exec.
func (c *Config) Validate() error {
	if len(c.MCPServers) == 0 {
		return &ConfigError{Kind: ConfigValidate, Cause: fmt.Errorf("no MCP servers configured")}
	}
	for name, cfg := range c.MCPServers {
		if cfg.Command == "" {
			return &ConfigError{Kind: ConfigValidate, Cause: fmt.Errorf("server %q: command is required", name)}
		}
		if strings.ContainsAny(cfg.Command, "\n\r") {
			return &ConfigError{Kind: ConfigValidate, Cause: fmt.Errorf("server %q: command contains newline characters", name)}
		}
	}
	return nil
}
