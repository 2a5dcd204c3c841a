// Package discovery provides an in-memory DiscoveryStore implementation:
// per-(user, session) discovered-tool state, MCP session affinity, and
// short-TTL OAuth flow state, guarded by a single store-wide mutex so
// concurrent turns for the same session never race each other's
// individual discovery writes (spec.md §5 "Shared resources"). There
// is no per-session lock, and a Get followed by a Put is not atomic.
package discovery

import (
	"context"
	"sync"
	"time"

	"github.com/teal-agents/agentcore/pkg/agentapi"
)

type sessionKey struct {
	userID    string
	sessionID string
}

// Store is a thread-safe, in-memory DiscoveryStore.
type Store struct {
	mu sync.Mutex

	states     map[sessionKey]*agentapi.DiscoveryState
	flowByState map[string]*agentapi.OAuthFlowState
}

// New builds an empty Store.
func New() *Store {
	return &Store{
		states:      make(map[sessionKey]*agentapi.DiscoveryState),
		flowByState: make(map[string]*agentapi.OAuthFlowState),
	}
}

var _ agentapi.DiscoveryStore = (*Store)(nil)

// Get returns the DiscoveryState for (user, session), or a freshly
// initialized one if none has been written yet — discovery state has
// no meaningful "not found" distinction from "not yet discovered".
func (s *Store) Get(_ context.Context, userID, sessionID string) (*agentapi.DiscoveryState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := sessionKey{userID, sessionID}
	state, ok := s.states[key]
	if !ok {
		return agentapi.NewDiscoveryState(userID, sessionID), nil
	}
	return cloneState(state), nil
}

// Put persists the DiscoveryState.
func (s *Store) Put(_ context.Context, state *agentapi.DiscoveryState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := sessionKey{state.UserID, state.SessionID}
	s.states[key] = cloneState(state)
	return nil
}

// McpSessionID returns the stored MCP session id for (user, session,
// server), or "" if none has been established.
func (s *Store) McpSessionID(_ context.Context, userID, sessionID, server string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.states[sessionKey{userID, sessionID}]
	if !ok {
		return "", nil
	}
	ds, ok := state.DiscoveredServers[server]
	if !ok || ds.Session == nil {
		return "", nil
	}
	return ds.Session.McpSessionID, nil
}

// StoreMcpSessionID persists a newly issued MCP session id for (user,
// session, server).
func (s *Store) StoreMcpSessionID(_ context.Context, userID, sessionID, server, mcpSessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := sessionKey{userID, sessionID}
	state, ok := s.states[key]
	if !ok {
		state = agentapi.NewDiscoveryState(userID, sessionID)
		s.states[key] = state
	}
	ds := state.DiscoveredServers[server]
	now := time.Now().UTC()
	ds.Session = &agentapi.McpSessionRef{
		McpSessionID: mcpSessionID,
		CreatedAt:    now,
		LastUsedAt:   now,
	}
	state.DiscoveredServers[server] = ds
	return nil
}

// ClearMcpSessionID clears the stored session id only if it still
// equals expected, so a slow-to-arrive clear from a stale connection
// never clobbers a newer session another goroutine already installed.
func (s *Store) ClearMcpSessionID(_ context.Context, userID, sessionID, server, expected string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.states[sessionKey{userID, sessionID}]
	if !ok {
		return nil
	}
	ds, ok := state.DiscoveredServers[server]
	if !ok || ds.Session == nil || ds.Session.McpSessionID != expected {
		return nil
	}
	ds.Session = nil
	state.DiscoveredServers[server] = ds
	return nil
}

// PutElicitation persists a pending elicitation for later resume.
func (s *Store) PutElicitation(_ context.Context, userID, sessionID string, pending agentapi.PendingElicitation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := sessionKey{userID, sessionID}
	state, ok := s.states[key]
	if !ok {
		state = agentapi.NewDiscoveryState(userID, sessionID)
		s.states[key] = state
	}
	state.PendingElicitations[pending.ElicitationID] = pending
	return nil
}

// PopElicitation removes and returns a pending elicitation by id, or
// agentapi.ErrNotFound if no such elicitation is pending.
func (s *Store) PopElicitation(_ context.Context, userID, sessionID, elicitationID string) (*agentapi.PendingElicitation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.states[sessionKey{userID, sessionID}]
	if !ok {
		return nil, agentapi.ErrNotFound
	}
	pending, ok := state.PendingElicitations[elicitationID]
	if !ok {
		return nil, agentapi.ErrNotFound
	}
	delete(state.PendingElicitations, elicitationID)
	return &pending, nil
}

// PutFlowState persists an in-flight OAuth flow and reaps any stored
// flow older than ttl. Lookups apply lazy expiry: a flow older than
// agentapi.DefaultFlowStateTTL is deleted and reported as not found.
func (s *Store) PutFlowState(_ context.Context, flow *agentapi.OAuthFlowState, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *flow
	s.flowByState[flow.State] = &cp
	s.reapExpiredLocked(ttl)
	return nil
}

// FlowStateByState looks up a flow by its opaque state value, used when
// handling the OAuth redirect callback.
func (s *Store) FlowStateByState(_ context.Context, state string) (*agentapi.OAuthFlowState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	flow, ok := s.flowByState[state]
	if !ok {
		return nil, agentapi.ErrNotFound
	}
	if flow.Expired(time.Now().UTC(), agentapi.DefaultFlowStateTTL) {
		delete(s.flowByState, state)
		return nil, agentapi.ErrNotFound
	}
	cp := *flow
	return &cp, nil
}

// FlowStateByUser looks up a flow by (user, state), additionally
// confirming the flow belongs to userID (CSRF cross-check).
func (s *Store) FlowStateByUser(_ context.Context, userID, state string) (*agentapi.OAuthFlowState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	flow, ok := s.flowByState[state]
	if !ok {
		return nil, agentapi.ErrNotFound
	}
	if flow.Expired(time.Now().UTC(), agentapi.DefaultFlowStateTTL) {
		delete(s.flowByState, state)
		return nil, agentapi.ErrNotFound
	}
	if flow.UserID != userID {
		return nil, agentapi.ErrNotFound
	}
	cp := *flow
	return &cp, nil
}

// DeleteFlowState removes a flow, typically once its callback has been
// consumed (one-shot use).
func (s *Store) DeleteFlowState(_ context.Context, state string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.flowByState, state)
	return nil
}

func (s *Store) reapExpiredLocked(ttl time.Duration) {
	now := time.Now().UTC()
	for state, flow := range s.flowByState {
		if flow.Expired(now, ttl) {
			delete(s.flowByState, state)
		}
	}
}

func cloneState(state *agentapi.DiscoveryState) *agentapi.DiscoveryState {
	cp := *state
	cp.DiscoveredServers = make(map[string]agentapi.DiscoveredServer, len(state.DiscoveredServers))
	for k, v := range state.DiscoveredServers {
		cp.DiscoveredServers[k] = v
	}
	cp.FailedServers = make(map[string]string, len(state.FailedServers))
	for k, v := range state.FailedServers {
		cp.FailedServers[k] = v
	}
	cp.PendingElicitations = make(map[string]agentapi.PendingElicitation, len(state.PendingElicitations))
	for k, v := range state.PendingElicitations {
		cp.PendingElicitations[k] = v
	}
	return &cp
}
