// Package kernel implements the kernel builder (spec.md §4.9 / component
// C9): it composes an LLM-facing "kernel" from a model client, local
// code-backed plugins, and MCP-backed plugins discovered for the
// session, resolving per-plugin auth along the way. It is grounded on
// the teacher's internal/agent/runtime.go, which assembles a Runtime
// from a model provider plus a ToolRegistry in a comparable two-phase
// "discover, then bind" sequence.
package kernel

import (
	"context"
	"fmt"
	"sort"

	"github.com/teal-agents/agentcore/internal/mcpclient"
	"github.com/teal-agents/agentcore/internal/pluginregistry"
	"github.com/teal-agents/agentcore/pkg/agentapi"
)

// LocalPlugin is a code-backed plugin available without MCP discovery
// (spec.md §3 "plugin_type: code"). Implementations are registered with
// the Builder up front; the kernel builder never discovers them at
// runtime the way it does MCP plugins.
type LocalPlugin interface {
	// Definition returns the catalog plugin/tool metadata this local
	// plugin contributes, registered into the PluginCatalog once at
	// process start (not per kernel build).
	Definition() agentapi.Plugin

	// Invoke executes one tool call against this plugin.
	Invoke(ctx context.Context, toolName string, args map[string]any) (string, error)
}

// McpRegistry is the subset of pluginregistry.Registry the kernel
// builder depends on.
type McpRegistry interface {
	PreflightAndDiscover(ctx context.Context, userID, sessionID string, servers []agentapi.McpServerConfig) error
	ClassFor(serverName string) (*pluginregistry.PluginClass, bool)
}

// McpCaller is the subset of mcpclient.Client a kernel needs to dispatch
// a tool call against a discovered MCP server.
type McpCaller interface {
	OpenSession(ctx context.Context, userID, sessionID string, server agentapi.McpServerConfig) (*mcpclient.Session, error)
	CallTool(ctx context.Context, session *mcpclient.Session, name string, args map[string]any) (*mcpclient.Result, error)
}

// Builder assembles Kernels for a (user, session) pair, given the
// configured MCP servers and registered local plugins.
type Builder struct {
	factory   agentapi.ChatCompletionFactory
	catalog   agentapi.PluginCatalog
	mcp       McpRegistry
	caller    McpCaller
	discovery agentapi.DiscoveryStore
	servers   []agentapi.McpServerConfig
	locals    map[string]LocalPlugin
}

// New builds a Builder. Local plugins passed here have their
// Definition() registered into catalog immediately; MCP plugins are
// discovered lazily per Build call.
func New(factory agentapi.ChatCompletionFactory, catalog agentapi.PluginCatalog, mcp McpRegistry, caller McpCaller, discovery agentapi.DiscoveryStore, servers []agentapi.McpServerConfig, locals ...LocalPlugin) (*Builder, error) {
	b := &Builder{
		factory:   factory,
		catalog:   catalog,
		mcp:       mcp,
		caller:    caller,
		discovery: discovery,
		servers:   servers,
		locals:    make(map[string]LocalPlugin, len(locals)),
	}
	for _, lp := range locals {
		def := lp.Definition()
		if err := catalog.RegisterDynamicPlugin(&def); err != nil {
			return nil, fmt.Errorf("kernel: registering local plugin %q: %w", def.PluginID, err)
		}
		b.locals[def.PluginID] = lp
	}
	return b, nil
}

// Kernel is a built, ready-to-use composition of a model client and the
// tool schemas/dispatch available to it for one turn.
type Kernel struct {
	Model   agentapi.ChatCompletionClient
	Tools   []agentapi.ToolSchema
	builder *Builder
	userID  string
	session string
}

// Dispatch executes one tool call intent by routing to the owning local
// plugin or MCP plugin class, per the catalog id's plugin prefix. taskID
// and requestID are only used to stamp a PendingElicitation if the MCP
// server raises one (spec.md §4.4 "Elicitation").
func (k *Kernel) Dispatch(ctx context.Context, taskID, requestID string, call agentapi.ToolCallIntent) (string, bool, error) {
	if err := k.builder.catalog.ValidateArgs(call.CatalogID(), call.Arguments); err != nil {
		return err.Error(), true, nil
	}

	if lp, ok := k.builder.locals[call.PluginID]; ok {
		out, err := lp.Invoke(ctx, call.ToolName, call.Arguments)
		if err != nil {
			return err.Error(), true, nil
		}
		return out, false, nil
	}

	serverName := call.PluginID
	if len(serverName) > 4 && serverName[:4] == "mcp_" {
		serverName = serverName[4:]
	}
	class, ok := k.builder.mcp.ClassFor(serverName)
	if !ok {
		return "", false, fmt.Errorf("kernel: no plugin class for %q", call.PluginID)
	}
	session, err := k.builder.caller.OpenSession(ctx, k.userID, k.session, class.Server)
	if err != nil {
		return "", false, err
	}
	result, err := k.builder.caller.CallTool(ctx, session, call.ToolName, call.Arguments)
	if err != nil {
		return "", false, err
	}
	if result.Elicitation != nil {
		pending := agentapi.PendingElicitation{
			ElicitationID:   result.Elicitation.ElicitationID,
			Mode:            result.Elicitation.Mode,
			URL:             result.Elicitation.URL,
			RequestedSchema: result.Elicitation.RequestedSchema,
			Message:         result.Elicitation.Message,
			Server:          serverName,
			User:            k.userID,
			Session:         k.session,
			Task:            taskID,
			Request:         requestID,
			ToolName:        call.ToolName,
			ToolArgs:        call.Arguments,
		}
		if err := k.builder.discovery.PutElicitation(ctx, k.userID, k.session, pending); err != nil {
			return "", false, fmt.Errorf("kernel: persisting elicitation: %w", err)
		}
		return "", false, &agentapi.McpElicitationRequired{Pending: pending}
	}
	return resultText(result), result.IsError, nil
}

// resultText concatenates an MCP tool result's text content blocks.
func resultText(result *mcpclient.Result) string {
	var out string
	for _, block := range result.Content {
		if block.Type == "text" || block.Type == "" {
			out += block.Text
		}
	}
	return out
}

// Build composes a Kernel for (userID, sessionID, model), running MCP
// discovery (which may return agentapi.AuthRequiredError, aggregated
// across every configured server) and assembling the ToolSchema list
// the model will see from both local and freshly discovered MCP tools
// (spec.md §2 primary data flow, "C12 → C9 ... through C8/C6 may
// trigger discovery and through C7 may raise an auth challenge").
func (b *Builder) Build(ctx context.Context, userID, sessionID, model string) (*Kernel, error) {
	if len(b.servers) > 0 {
		if err := b.mcp.PreflightAndDiscover(ctx, userID, sessionID, b.servers); err != nil {
			return nil, err
		}
	}

	client, err := b.factory.NewClient(ctx, model)
	if err != nil {
		return nil, fmt.Errorf("kernel: building model client: %w", err)
	}

	var schemas []agentapi.ToolSchema
	for pluginID := range b.locals {
		plugin, ok := b.catalog.GetPlugin(pluginID)
		if !ok {
			continue
		}
		for _, tool := range plugin.Tools {
			schemas = append(schemas, toolSchema(pluginID, tool))
		}
	}
	for _, server := range b.servers {
		pluginID := "mcp_" + server.Name
		plugin, ok := b.catalog.GetPlugin(pluginID)
		if !ok {
			continue
		}
		for _, tool := range plugin.Tools {
			schemas = append(schemas, toolSchema(pluginID, tool))
		}
	}
	sort.Slice(schemas, func(i, j int) bool { return schemas[i].CatalogID < schemas[j].CatalogID })

	return &Kernel{Model: client, Tools: schemas, builder: b, userID: userID, session: sessionID}, nil
}

func toolSchema(pluginID string, tool agentapi.PluginTool) agentapi.ToolSchema {
	intent := agentapi.ToolCallIntent{PluginID: pluginID, ToolName: tool.Name}
	return agentapi.ToolSchema{
		CatalogID:   intent.CatalogID(),
		Name:        tool.Name,
		Description: tool.Description,
		Parameters:  tool.ArgsSchema,
	}
}
