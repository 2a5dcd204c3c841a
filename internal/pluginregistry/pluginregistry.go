// Package pluginregistry implements the plugin registry (spec.md §4.6 /
// component C8): at the start of each session, for every configured MCP
// server, it pre-flight checks auth, opens a temporary session,
// discovers tools, registers them into the catalog under
// "mcp_{server}_{tool}", and builds a reusable "plugin class" binding
// the tool list to the server name.
package pluginregistry

import (
	"context"
	"fmt"

	"github.com/teal-agents/agentcore/internal/mcpclient"
	"github.com/teal-agents/agentcore/pkg/agentapi"
)

// McpClient is the subset of mcpclient.Client the registry depends on.
type McpClient interface {
	OpenSession(ctx context.Context, userID, sessionID string, server agentapi.McpServerConfig) (*mcpclient.Session, error)
	ListTools(ctx context.Context, session *mcpclient.Session) ([]mcpclient.ToolInfo, error)
}

// PluginClass is a stateless, reusable binding of a discovered tool
// list to one MCP server. An instance is not a live connection: a tool
// call via a PluginClass re-opens (or reuses, via session affinity) an
// MCP session through the client, preserving the invariant that classes
// outlive individual tasks but no connection is held between calls.
type PluginClass struct {
	ServerName string
	Server     agentapi.McpServerConfig
	Tools      []mcpclient.ToolInfo
}

// Registry builds and holds PluginClasses and registers their tools
// into the catalog.
type Registry struct {
	client  McpClient
	catalog agentapi.PluginCatalog
	auth    agentapi.AuthStorage

	classes map[string]*PluginClass
}

// New builds a Registry.
func New(client McpClient, catalog agentapi.PluginCatalog, auth agentapi.AuthStorage) *Registry {
	return &Registry{client: client, catalog: catalog, auth: auth, classes: make(map[string]*PluginClass)}
}

// PreflightAndDiscover runs the per-session discovery algorithm for all
// configured servers. If any server's OAuth preflight fails, it
// collects every failing challenge and returns them all in one
// AuthRequiredError rather than failing on the first (spec.md §4.6
// step 1, "aggregated across servers").
func (r *Registry) PreflightAndDiscover(ctx context.Context, userID, sessionID string, servers []agentapi.McpServerConfig) error {
	var challenges []agentapi.AuthChallenge

	for _, server := range servers {
		if server.HasOAuth() {
			compositeKey := agentapi.BuildCompositeKey(server.AuthServer, server.Scopes)
			data, err := r.auth.Retrieve(ctx, userID, compositeKey)
			if err != nil || !data.IsValidForResource(server.CanonicalURI) {
				challenges = append(challenges, agentapi.AuthChallenge{
					ServerName: server.Name, AuthServer: server.AuthServer, Scopes: server.Scopes,
				})
				continue
			}
		}
		if err := r.discoverServer(ctx, userID, sessionID, server); err != nil {
			return fmt.Errorf("pluginregistry: discovering %q: %w", server.Name, err)
		}
	}

	if len(challenges) > 0 {
		return &agentapi.AuthRequiredError{Challenges: challenges}
	}
	return nil
}

func (r *Registry) discoverServer(ctx context.Context, userID, sessionID string, server agentapi.McpServerConfig) error {
	session, err := r.client.OpenSession(ctx, userID, sessionID, server)
	if err != nil {
		return err
	}
	tools, err := r.client.ListTools(ctx, session)
	if err != nil {
		return err
	}

	pluginID := "mcp_" + server.Name
	plugin := &agentapi.Plugin{
		PluginID: pluginID,
		Name:     server.Name,
		Type:     agentapi.PluginTypeMCP,
	}
	for _, tool := range tools {
		plugin.Tools = append(plugin.Tools, agentapi.PluginTool{
			ToolID:      tool.Name,
			Name:        tool.Name,
			Description: tool.Description,
			Governance:  mcpclient.Governance(tool, server),
			ArgsSchema:  tool.InputSchema,
		})
	}
	if err := r.catalog.RegisterDynamicPlugin(plugin); err != nil {
		return fmt.Errorf("registering plugin %q: %w", pluginID, err)
	}

	r.classes[server.Name] = &PluginClass{ServerName: server.Name, Server: server, Tools: tools}
	return nil
}

// ClassFor returns the PluginClass built for a server name, if
// discovery has run for it.
func (r *Registry) ClassFor(serverName string) (*PluginClass, bool) {
	class, ok := r.classes[serverName]
	return class, ok
}
