package agentapi

import "time"

// McpSessionRef is the live (or recently-live) session handle a client
// holds against one MCP server for one (user, session).
type McpSessionRef struct {
	McpSessionID string    `json:"mcp_session_id"`
	CreatedAt    time.Time `json:"created_at"`
	LastUsedAt   time.Time `json:"last_used_at"`
}

// DiscoveredServer is one server's worth of discovery state within a
// Session.
type DiscoveredServer struct {
	PluginData []byte         `json:"plugin_data"`
	Session    *McpSessionRef `json:"session,omitempty"`
}

// DiscoveryState is the per-(user, session) record of discovered MCP
// tools, MCP server session ids, and pending elicitations (spec.md §3).
type DiscoveryState struct {
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`

	DiscoveredServers map[string]DiscoveredServer   `json:"discovered_servers"`
	DiscoveryCompleted bool                          `json:"discovery_completed"`
	FailedServers      map[string]string             `json:"failed_servers"`
	PendingElicitations map[string]PendingElicitation `json:"pending_elicitations"`
}

// NewDiscoveryState returns an empty, initialized DiscoveryState for the
// given (user, session).
func NewDiscoveryState(userID, sessionID string) *DiscoveryState {
	return &DiscoveryState{
		UserID:              userID,
		SessionID:           sessionID,
		DiscoveredServers:   map[string]DiscoveredServer{},
		FailedServers:       map[string]string{},
		PendingElicitations: map[string]PendingElicitation{},
	}
}

// OAuthFlowState is the short-TTL record tracking one in-flight
// authorization-code flow (spec.md §3 "OAuth flow state").
type OAuthFlowState struct {
	State      string    `json:"state"`
	Verifier   string    `json:"verifier"`
	UserID     string    `json:"user_id"`
	ServerName string    `json:"server_name"`
	Resource   string    `json:"resource"`
	Scopes     []string  `json:"scopes"`
	CreatedAt  time.Time `json:"created_at"`
}

// DefaultFlowStateTTL is the default OAuth flow state TTL (spec.md §3).
const DefaultFlowStateTTL = 300 * time.Second

// Expired reports whether the flow state has outlived ttl as of now.
func (f *OAuthFlowState) Expired(now time.Time, ttl time.Duration) bool {
	if ttl <= 0 {
		ttl = DefaultFlowStateTTL
	}
	return now.After(f.CreatedAt.Add(ttl))
}
