package agentapi

import (
	"context"
	"time"
)

// TaskPersistence is the durable store of Task records, indexed by task id
// and request id (spec.md §4.1 / component C3).
//
// Concrete implementations live outside this module boundary's concern —
// spec.md §1 scopes concrete Redis/DynamoDB/Postgres/Chroma backends out —
// but internal/taskstore ships an in-memory reference implementation and
// internal/storage/sqlite ships a durable default.
type TaskPersistence interface {
	Create(ctx context.Context, task *Task) error
	Load(ctx context.Context, taskID string) (*Task, error)
	Update(ctx context.Context, task *Task) error
	Delete(ctx context.Context, taskID string) error
	LoadByRequestID(ctx context.Context, requestID string) (*Task, error)
}

// AuthStorage is the keyed container of OAuth credentials per
// (user_id, composite_key) (spec.md §4.2 / component C2).
type AuthStorage interface {
	Store(ctx context.Context, userID, compositeKey string, data *OAuth2AuthData) error
	Retrieve(ctx context.Context, userID, compositeKey string) (*OAuth2AuthData, error)
	Delete(ctx context.Context, userID, compositeKey string) error
	ClearUserData(ctx context.Context, userID string) error
}

// DiscoveryStore is the per-(user, session) record of discovered MCP
// tools, MCP server session ids, and pending elicitations (component C4).
type DiscoveryStore interface {
	Get(ctx context.Context, userID, sessionID string) (*DiscoveryState, error)
	Put(ctx context.Context, state *DiscoveryState) error

	// McpSessionID fetches the stored MCP session id for (user, session,
	// server), or "" if none is stored.
	McpSessionID(ctx context.Context, userID, sessionID, server string) (string, error)

	// StoreMcpSessionID persists a newly issued MCP session id.
	StoreMcpSessionID(ctx context.Context, userID, sessionID, server, mcpSessionID string) error

	// ClearMcpSessionID clears the stored session id only if it still
	// equals expected, to avoid clobbering a concurrently established
	// newer session (spec.md §5 "Shared resources").
	ClearMcpSessionID(ctx context.Context, userID, sessionID, server, expected string) error

	// PutElicitation persists a pending elicitation.
	PutElicitation(ctx context.Context, userID, sessionID string, pending PendingElicitation) error

	// PopElicitation removes and returns a pending elicitation by id.
	PopElicitation(ctx context.Context, userID, sessionID, elicitationID string) (*PendingElicitation, error)

	// OAuth flow state, retrievable by state alone (for the callback) and
	// by (user_id, state) (for CSRF validation).
	PutFlowState(ctx context.Context, flow *OAuthFlowState, ttl time.Duration) error
	FlowStateByState(ctx context.Context, state string) (*OAuthFlowState, error)
	FlowStateByUser(ctx context.Context, userID, state string) (*OAuthFlowState, error)
	DeleteFlowState(ctx context.Context, state string) error
}

// PluginCatalog is the registry of tool metadata with governance
// (spec.md §4.3 / component C5).
type PluginCatalog interface {
	GetPlugin(id string) (*Plugin, bool)
	GetTool(id string) (*PluginTool, bool)

	RegisterDynamicPlugin(plugin *Plugin) error
	RegisterDynamicTool(tool *PluginTool, pluginID string) error
	UnregisterDynamicPlugin(pluginID string) error

	// ValidateArgs checks a tool call's arguments against the registered
	// tool's ArgsSchema (spec.md §4.4: arguments are validated before a
	// tool is ever dispatched). Tools with no schema accept any
	// arguments.
	ValidateArgs(catalogID string, args map[string]any) error
}

// RequestAuthorizer resolves the platform principal from the inbound
// Authorization header (spec.md §6.1).
type RequestAuthorizer interface {
	AuthorizeRequest(ctx context.Context, authorizationHeader string) (userID string, err error)
}

// ChatRole mirrors Role for model-visible chat history entries.
type ChatRole string

const (
	ChatRoleSystem    ChatRole = "system"
	ChatRoleUser      ChatRole = "user"
	ChatRoleAssistant ChatRole = "assistant"
	ChatRoleTool      ChatRole = "tool"
)

// ChatToolCall is a tool call as represented in model-visible history.
type ChatToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// ChatToolResult is a tool result appended back into model-visible
// history after execution.
type ChatToolResult struct {
	ToolCallID string `json:"tool_call_id"`
	Content    string `json:"content"`
	IsError    bool   `json:"is_error,omitempty"`
}

// ChatMessage is one entry in a model-visible conversation.
type ChatMessage struct {
	Role       ChatRole         `json:"role"`
	Content    string           `json:"content,omitempty"`
	ToolCalls  []ChatToolCall   `json:"tool_calls,omitempty"`
	ToolResult *ChatToolResult  `json:"tool_result,omitempty"`
}

// ChatCompletionRequest is what the orchestrator sends to a model client
// for one inference step.
type ChatCompletionRequest struct {
	Messages     []ChatMessage    `json:"messages"`
	ToolSchemas  []ToolSchema     `json:"tool_schemas,omitempty"`
}

// ToolSchema is the model-facing description of one callable tool.
type ToolSchema struct {
	CatalogID   string         `json:"catalog_id"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// ChatCompletionResult is one non-streaming inference step's output.
type ChatCompletionResult struct {
	Content   string           `json:"content"`
	ToolCalls []ToolCallIntent `json:"tool_calls,omitempty"`
	Usage     TokenUsage       `json:"usage"`
	Done      bool             `json:"done"`
}

// ChatCompletionChunk is one streamed fragment of a ChatCompletionResult.
// ExtraData carries structured directives (e.g. handoff hints). The
// orchestrator's streaming path does not forward them to the caller and
// does not attach them to the final response (spec.md §4.9 step 5).
type ChatCompletionChunk struct {
	Delta     string         `json:"delta,omitempty"`
	ToolCalls []ToolCallIntent `json:"tool_calls,omitempty"`
	ExtraData map[string]any `json:"extra_data,omitempty"`
	Usage     *TokenUsage    `json:"usage,omitempty"`
	Done      bool           `json:"done"`
}

// ChatCompletionClient is a bound, ready-to-use model client for one
// kernel invocation.
type ChatCompletionClient interface {
	Complete(ctx context.Context, req ChatCompletionRequest) (ChatCompletionResult, error)
	Stream(ctx context.Context, req ChatCompletionRequest) (<-chan ChatCompletionChunk, error)
}

// ChatCompletionFactory is the pluggable seam spec.md §1 names: the core
// never imports a concrete model SDK, only this interface.
type ChatCompletionFactory interface {
	NewClient(ctx context.Context, model string) (ChatCompletionClient, error)
}
