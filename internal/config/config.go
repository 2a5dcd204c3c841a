// Package config provides typed access to environment-sourced settings
// for the agent orchestration runtime (component C1).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/teal-agents/agentcore/pkg/agentapi"
)

// Config is the top-level runtime configuration, assembled from the
// environment variables named in spec.md §6.4.
type Config struct {
	Server      Server
	Auth        Auth
	MCP         MCP
	Model       Model
	Persistence Persistence
}

// Server configures the HTTP surface (component C14).
type Server struct {
	ListenAddr string
	Name       string
	Version    string
}

// Auth configures the default model key and OAuth redirect settings.
type Auth struct {
	DefaultModelAPIKey    string
	OAuthRedirectURI      string
	OAuthClientName       string
	StrictHTTPSValidation bool
}

// MCP holds the statically configured MCP servers, normally loaded from
// the TA_SERVICE_CONFIG YAML document.
type MCP struct {
	Servers []agentapi.McpServerConfig `yaml:"servers"`
}

// Model configures the default agentapi.ChatCompletionFactory
// (internal/modelclient), which speaks the OpenAI-compatible
// chat-completions wire format against whatever endpoint an operator
// points it at.
type Model struct {
	BaseURL string
	Name    string
}

// Persistence selects the durable store backing TaskPersistence,
// AuthStorage, and DiscoveryStore. An empty SQLitePath falls back to the
// in-memory reference implementations (internal/taskstore,
// internal/authstore, internal/discovery) rather than sqlite — spec.md
// §1 scopes concrete persistence backends out of this module's core,
// so the sqlite adapter is an optional default, not a mandated one.
type Persistence struct {
	SQLitePath string
}

// serviceFile is the subset of TA_SERVICE_CONFIG this runtime consumes.
type serviceFile struct {
	MCP MCP `yaml:"mcp"`
}

// Load assembles Config from the process environment. It fails fast
// (returns an error rather than panicking) on malformed required fields,
// per spec.md §7's boot-time fatal error policy for catalog/config
// definitions.
func Load(getenv func(string) string) (*Config, error) {
	if getenv == nil {
		getenv = os.Getenv
	}

	cfg := &Config{
		Server: Server{
			ListenAddr: firstNonEmpty(getenv("TA_LISTEN_ADDR"), ":8080"),
			Name:       firstNonEmpty(getenv("TA_SERVICE_NAME"), "agentcore"),
			Version:    firstNonEmpty(getenv("TA_SERVICE_VERSION"), "dev"),
		},
		Auth: Auth{
			DefaultModelAPIKey:    getenv("TA_API_KEY"),
			OAuthRedirectURI:      getenv("TA_OAUTH_REDIRECT_URI"),
			OAuthClientName:       firstNonEmpty(getenv("TA_OAUTH_CLIENT_NAME"), "agentcore"),
			StrictHTTPSValidation: true,
		},
		Model: Model{
			BaseURL: firstNonEmpty(getenv("TA_MODEL_BASE_URL"), "http://localhost:11434/v1"),
			Name:    firstNonEmpty(getenv("TA_MODEL_NAME"), "default"),
		},
		Persistence: Persistence{
			SQLitePath: getenv("TA_SQLITE_PATH"),
		},
	}

	if raw := getenv("TA_MCP_OAUTH_STRICT_HTTPS_VALIDATION"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, fmt.Errorf("config: TA_MCP_OAUTH_STRICT_HTTPS_VALIDATION: %w", err)
		}
		cfg.Auth.StrictHTTPSValidation = v
	}

	if path := getenv("TA_SERVICE_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: reading TA_SERVICE_CONFIG %q: %w", path, err)
		}
		var sf serviceFile
		if err := yaml.Unmarshal(data, &sf); err != nil {
			return nil, fmt.Errorf("config: parsing TA_SERVICE_CONFIG %q: %w", path, err)
		}
		cfg.MCP = sf.MCP
	}

	for i := range cfg.MCP.Servers {
		if err := cfg.MCP.Servers[i].Validate(); err != nil {
			return nil, fmt.Errorf("config: %w", err)
		}
		if cfg.Auth.StrictHTTPSValidation {
			if err := validateStrictHTTPS(cfg.MCP.Servers[i], cfg.Auth.OAuthRedirectURI); err != nil {
				return nil, err
			}
		}
	}

	return cfg, nil
}

func validateStrictHTTPS(server agentapi.McpServerConfig, redirectURI string) error {
	if server.AuthServer != "" {
		if err := requireHTTPSOrLocalhost(server.AuthServer); err != nil {
			return fmt.Errorf("config: mcp server %q auth_server: %w", server.Name, err)
		}
	}
	if redirectURI != "" {
		if err := requireHTTPSOrLocalhost(redirectURI); err != nil {
			return fmt.Errorf("config: oauth redirect uri: %w", err)
		}
	}
	return nil
}

var localhostHTTPPrefixes = []string{
	"http://localhost",
	"http://127.0.0.1",
	"http://[::1]",
}

func requireHTTPSOrLocalhost(uri string) error {
	if strings.HasPrefix(uri, "https://") {
		return nil
	}
	for _, prefix := range localhostHTTPPrefixes {
		if strings.HasPrefix(uri, prefix) {
			return nil
		}
	}
	return fmt.Errorf("%q must be https:// (or http://localhost) under strict-HTTPS validation", uri)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// EnvMap builds a getenv func from a plain map, for tests.
func EnvMap(m map[string]string) func(string) string {
	return func(key string) string { return m[key] }
}
