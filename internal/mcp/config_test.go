package mcp

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_AddGetRemoveServer(t *testing.T) {
	cfg := &Config{MCPServers: make(map[string]ServerConfig)}

	cfg.AddServer("echomcp", ServerConfig{Command: "echomcp", Args: []string{"--quiet"}})

	server, ok := cfg.GetServer("echomcp")
	require.True(t, ok)
	assert.Equal(t, "echomcp", server.Command)
	assert.Equal(t, []string{"--quiet"}, server.Args)

	assert.True(t, cfg.RemoveServer("echomcp"))
	_, ok = cfg.GetServer("echomcp")
	assert.False(t, ok)
	assert.False(t, cfg.RemoveServer("echomcp"), "removing twice should report false")
}

func TestConfig_ListServers(t *testing.T) {
	cfg := &Config{MCPServers: map[string]ServerConfig{
		"alpha": {Command: "alpha-cmd"},
		"beta":  {Command: "beta-cmd"},
		"gamma": {Command: "gamma-cmd"},
	}}

	assert.ElementsMatch(t, []string{"alpha", "beta", "gamma"}, cfg.ListServers())
}

func TestConfig_GetActiveServers(t *testing.T) {
	cfg := &Config{MCPServers: map[string]ServerConfig{
		"enabled-a": {Command: "cmd-a"},
		"disabled":  {Command: "cmd-b", Disabled: true},
		"enabled-b": {Command: "cmd-c"},
	}}

	active := cfg.GetActiveServers()
	assert.Len(t, active, 2)
	assert.Contains(t, active, "enabled-a")
	assert.Contains(t, active, "enabled-b")
	assert.NotContains(t, active, "disabled")
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name      string
		cfg       *Config
		expectErr bool
	}{
		{
			name:      "valid manifest",
			cfg:       &Config{MCPServers: map[string]ServerConfig{"echomcp": {Command: "echomcp"}}},
			expectErr: false,
		},
		{
			name:      "empty manifest",
			cfg:       &Config{},
			expectErr: true,
		},
		{
			name:      "missing command",
			cfg:       &Config{MCPServers: map[string]ServerConfig{"echomcp": {Command: ""}}},
			expectErr: true,
		},
		{
			name:      "command with embedded newline",
			cfg:       &Config{MCPServers: map[string]ServerConfig{"echomcp": {Command: "echo\nmcp"}}},
			expectErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.expectErr {
				assert.Error(t, err)
				var configErr *ConfigError
				assert.ErrorAs(t, err, &configErr)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func writeManifest(t *testing.T, path string, body string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
}

func TestConfigLoader_LoadFromPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".mcp.json")
	writeManifest(t, path, `{
		"mcpServers": {
			"echomcp": {
				"command": "echomcp",
				"args": ["--mode", "test"],
				"env": {"ECHOMCP_MODE": "test"}
			}
		}
	}`)

	loader := NewConfigLoader()
	cfg, err := loader.LoadFromPath(path)
	require.NoError(t, err)

	server, ok := cfg.GetServer("echomcp")
	require.True(t, ok)
	assert.Equal(t, "echomcp", server.Command)
	assert.Equal(t, []string{"--mode", "test"}, server.Args)
	assert.Equal(t, "test", server.Env["ECHOMCP_MODE"])
}

func TestConfigLoader_LoadFromPath_MissingFile(t *testing.T) {
	loader := NewConfigLoader()
	_, err := loader.LoadFromPath(filepath.Join(t.TempDir(), "does-not-exist.json"))
	require.Error(t, err)

	var configErr *ConfigError
	require.ErrorAs(t, err, &configErr)
	assert.Equal(t, ConfigRead, configErr.Kind)
}

func TestConfigLoader_SaveThenLoadRoundTrips(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", ".mcp.json")

	cfg := &Config{MCPServers: map[string]ServerConfig{
		"echomcp": {Command: "echomcp", Args: []string{"--mode", "prod"}, Env: map[string]string{"K": "V"}},
	}}

	loader := NewConfigLoader()
	require.NoError(t, loader.SaveToPath(path, cfg))

	loaded, err := loader.LoadFromPath(path)
	require.NoError(t, err)

	server, ok := loaded.GetServer("echomcp")
	require.True(t, ok)
	assert.Equal(t, "echomcp", server.Command)
}

func TestConfigLoader_ExpandEnvVars(t *testing.T) {
	t.Setenv("ECHOMCP_HOME", "/opt/echomcp")

	loader := NewConfigLoader()
	expanded := loader.expandEnvVars(ServerConfig{
		Command: "${ECHOMCP_HOME}/bin/echomcp",
		Args:    []string{"--root=${ECHOMCP_HOME}", "plain"},
		Env:     map[string]string{"HOME_DIR": "${ECHOMCP_HOME}"},
	})

	assert.Equal(t, "/opt/echomcp/bin/echomcp", expanded.Command)
	assert.Equal(t, "--root=/opt/echomcp", expanded.Args[0])
	assert.Equal(t, "/opt/echomcp", expanded.Env["HOME_DIR"])
}

func TestConfigLoader_ExpandString(t *testing.T) {
	t.Setenv("ECHOMCP_TAG", "v1")

	loader := NewConfigLoader()
	tests := []struct {
		input, want string
	}{
		{"${ECHOMCP_TAG}", "v1"},
		{"echomcp-${ECHOMCP_TAG}", "echomcp-v1"},
		{"$ECHOMCP_TAG", "v1"},
		{"no variables here", "no variables here"},
		{"${UNSET_ECHOMCP_VAR}", ""},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, loader.expandString(tt.input))
		})
	}
}

func TestConfigLoader_Load_MergesScopesByPriorityAndRecordsOrigin(t *testing.T) {
	userDir := t.TempDir()
	projectDir := t.TempDir()
	localDir := t.TempDir()

	require.NoError(t, os.MkdirAll(filepath.Join(projectDir, ".git"), 0o755))

	origWD, err := os.Getwd()
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.Chdir(origWD) })

	writeManifest(t, filepath.Join(userDir, ".mcp-runtime", ".mcp.json"), `{
		"mcpServers": {
			"shared": {"command": "user-shared"},
			"user-only": {"command": "user-only-cmd"}
		}
	}`)
	writeManifest(t, filepath.Join(projectDir, ".mcp.json"), `{
		"mcpServers": {
			"shared": {"command": "project-shared"}
		}
	}`)
	writeManifest(t, filepath.Join(localDir, ".mcp.json"), `{
		"mcpServers": {
			"local-only": {"command": "local-only-cmd"}
		}
	}`)

	t.Setenv("HOME", userDir)
	require.NoError(t, os.Chdir(localDir))

	loader := NewConfigLoader()
	locators := []scopeLocator{
		{ScopeUser, loader.userManifestPath},
		{ScopeProject, func() (string, error) { return filepath.Join(projectDir, ".mcp.json"), nil }},
		{ScopeLocal, loader.localManifestPath},
	}

	cfg, err := loader.loadScopes(locators)
	require.NoError(t, err)

	// project scope outranks user scope for the name both define.
	shared, ok := cfg.GetServer("shared")
	require.True(t, ok)
	assert.Equal(t, "project-shared", shared.Command)
	assert.Equal(t, ScopeProject, cfg.Origins["shared"])

	assert.Equal(t, ScopeUser, cfg.Origins["user-only"])
	assert.Equal(t, ScopeLocal, cfg.Origins["local-only"])
}
