package agentapi

import (
	"errors"
	"fmt"
)

// Sentinel errors for capability implementations. Concrete stores should
// wrap these with fmt.Errorf("...: %w", ...) rather than inventing new
// sentinels, so callers can errors.Is against a stable set.
var (
	ErrNotFound      = errors.New("agentapi: not found")
	ErrAlreadyExists = errors.New("agentapi: already exists")
	ErrTaskNotOwned  = errors.New("agentapi: task not owned by caller")

	// ErrTaskNotPaused signals a resume call against a task that is not
	// currently Paused (spec.md §4.10 "rejects if not Paused").
	ErrTaskNotPaused = errors.New("agentapi: task is not paused")

	// ErrTaskTerminal signals a resume call against a task already in a
	// terminal status (spec.md §6.1: resuming an already-terminal task
	// maps to 410, distinct from the 409 used for a non-paused,
	// non-terminal task such as one still Running).
	ErrTaskTerminal = errors.New("agentapi: task is already terminal")

	// ErrNoPendingElicitation signals an elicitation_response resume call
	// whose elicitation_id has no matching PendingElicitation.
	ErrNoPendingElicitation = errors.New("agentapi: no pending elicitation for id")
)

// PersistenceCreateError wraps a failure from TaskPersistence.Create.
type PersistenceCreateError struct{ Cause error }

func (e *PersistenceCreateError) Error() string { return fmt.Sprintf("create task: %v", e.Cause) }
func (e *PersistenceCreateError) Unwrap() error  { return e.Cause }

// PersistenceLoadError wraps a failure from TaskPersistence.Load or
// LoadByRequestID.
type PersistenceLoadError struct{ Cause error }

func (e *PersistenceLoadError) Error() string { return fmt.Sprintf("load task: %v", e.Cause) }
func (e *PersistenceLoadError) Unwrap() error  { return e.Cause }

// PersistenceUpdateError wraps a failure from TaskPersistence.Update.
type PersistenceUpdateError struct{ Cause error }

func (e *PersistenceUpdateError) Error() string { return fmt.Sprintf("update task: %v", e.Cause) }
func (e *PersistenceUpdateError) Unwrap() error  { return e.Cause }

// PersistenceDeleteError wraps a failure from TaskPersistence.Delete.
type PersistenceDeleteError struct{ Cause error }

func (e *PersistenceDeleteError) Error() string { return fmt.Sprintf("delete task: %v", e.Cause) }
func (e *PersistenceDeleteError) Unwrap() error  { return e.Cause }

// AuthChallenge is one server's worth of OAuth detail needed to build an
// AuthChallengeResponse.
type AuthChallenge struct {
	ServerName string
	AuthServer string
	Scopes     []string
}

// AuthRequiredError signals that one or more MCP servers need user OAuth
// before the kernel can be built (spec.md §4.4 step 2, §4.6 step 1). It is
// an orchestration signal, not a fault: the orchestrator catches it with
// errors.As and pauses the task rather than failing it.
type AuthRequiredError struct {
	Challenges []AuthChallenge
}

func (e *AuthRequiredError) Error() string {
	return fmt.Sprintf("auth required for %d server(s)", len(e.Challenges))
}

// HitlInterventionRequired signals that one or more proposed tool calls
// require human approval before they may execute (spec.md §4.7).
type HitlInterventionRequired struct {
	ToolCalls []ToolCallIntent
}

func (e *HitlInterventionRequired) Error() string {
	return fmt.Sprintf("human approval required for %d tool call(s)", len(e.ToolCalls))
}

// PendingElicitation is a server-initiated request for additional
// structured input, persisted in DiscoveryState until answered.
type PendingElicitation struct {
	ElicitationID   string         `json:"elicitation_id"`
	Mode            string         `json:"mode"` // "form" | "url"
	URL             string         `json:"url,omitempty"`
	RequestedSchema map[string]any `json:"requested_schema,omitempty"`
	Message         string         `json:"message,omitempty"`

	Server    string         `json:"server"`
	User      string         `json:"user"`
	Session   string         `json:"session"`
	Task      string         `json:"task"`
	Request   string         `json:"request"`
	ToolName  string         `json:"tool_name"`
	ToolArgs  map[string]any `json:"tool_args"`
}

// McpElicitationRequired signals that an MCP tool call yielded an
// elicitation request (spec.md §4.4 "Elicitation").
type McpElicitationRequired struct {
	Pending PendingElicitation
}

func (e *McpElicitationRequired) Error() string {
	return fmt.Sprintf("mcp server %q requested elicitation %q", e.Pending.Server, e.Pending.ElicitationID)
}

// UnauthorizedScopesError signals that a token endpoint granted scopes
// beyond what was requested (spec.md §4.5 step 4, §8.5).
type UnauthorizedScopesError struct {
	Offending []string
}

func (e *UnauthorizedScopesError) Error() string {
	return fmt.Sprintf("unauthorized scopes granted: %v", e.Offending)
}

// TokenExchangeError wraps a failure exchanging an authorization code or
// refresh token for an access token.
type TokenExchangeError struct{ Cause error }

func (e *TokenExchangeError) Error() string { return fmt.Sprintf("token exchange: %v", e.Cause) }
func (e *TokenExchangeError) Unwrap() error  { return e.Cause }

// RefreshError wraps a failure refreshing an access token.
type RefreshError struct{ Cause error }

func (e *RefreshError) Error() string { return fmt.Sprintf("token refresh: %v", e.Cause) }
func (e *RefreshError) Unwrap() error  { return e.Cause }

// AuthenticationError signals that the platform authorizer rejected the
// request's Authorization header (spec.md §7).
type AuthenticationError struct{ Cause error }

func (e *AuthenticationError) Error() string { return fmt.Sprintf("authentication failed: %v", e.Cause) }
func (e *AuthenticationError) Unwrap() error  { return e.Cause }

// AgentInvokeException wraps an uncaught error from the model invocation
// itself (spec.md §7). The orchestrator marks the task Failed and returns
// a 5xx without echoing Cause verbatim to the client.
type AgentInvokeException struct{ Cause error }

func (e *AgentInvokeException) Error() string { return fmt.Sprintf("agent invoke: %v", e.Cause) }
func (e *AgentInvokeException) Unwrap() error  { return e.Cause }
