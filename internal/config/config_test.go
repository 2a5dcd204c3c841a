package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(EnvMap(nil))
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.Server.ListenAddr)
	require.Equal(t, "agentcore", cfg.Server.Name)
	require.True(t, cfg.Auth.StrictHTTPSValidation)
}

func TestLoadServiceConfigYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "service.yaml")
	yamlDoc := `
mcp:
  servers:
    - name: github
      transport: http
      url: https://mcp.github.example/api
      auth_server: https://github.com/login/oauth
      scopes: ["repo"]
`
	require.NoError(t, os.WriteFile(path, []byte(yamlDoc), 0o600))

	cfg, err := Load(EnvMap(map[string]string{"TA_SERVICE_CONFIG": path}))
	require.NoError(t, err)
	require.Len(t, cfg.MCP.Servers, 1)
	require.Equal(t, "github", cfg.MCP.Servers[0].Name)
	require.Equal(t, []string{"repo"}, cfg.MCP.Servers[0].Scopes)
}

func TestLoadRejectsNonHTTPSAuthServerUnderStrictMode(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "service.yaml")
	yamlDoc := `
mcp:
  servers:
    - name: github
      transport: http
      url: https://mcp.github.example/api
      auth_server: http://github.com/login/oauth
      scopes: ["repo"]
`
	require.NoError(t, os.WriteFile(path, []byte(yamlDoc), 0o600))

	_, err := Load(EnvMap(map[string]string{"TA_SERVICE_CONFIG": path}))
	require.Error(t, err)
}

func TestLoadAllowsLocalhostUnderStrictMode(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "service.yaml")
	yamlDoc := `
mcp:
  servers:
    - name: devserver
      transport: http
      url: http://localhost:9000
      auth_server: http://localhost:9001
      scopes: ["read"]
`
	require.NoError(t, os.WriteFile(path, []byte(yamlDoc), 0o600))

	_, err := Load(EnvMap(map[string]string{"TA_SERVICE_CONFIG": path}))
	require.NoError(t, err)
}

func TestLoadStrictHTTPSCanBeDisabled(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "service.yaml")
	yamlDoc := `
mcp:
  servers:
    - name: github
      transport: http
      url: https://mcp.github.example/api
      auth_server: http://github.com/login/oauth
      scopes: ["repo"]
`
	require.NoError(t, os.WriteFile(path, []byte(yamlDoc), 0o600))

	_, err := Load(EnvMap(map[string]string{
		"TA_SERVICE_CONFIG":                       path,
		"TA_MCP_OAUTH_STRICT_HTTPS_VALIDATION":    "false",
	}))
	require.NoError(t, err)
}
