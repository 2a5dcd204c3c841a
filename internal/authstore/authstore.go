// Package authstore provides an in-memory AuthStorage implementation
// keyed by (user_id, composite_key), where composite_key is built from
// an MCP server's auth_server and sorted scopes (agentapi.BuildCompositeKey).
package authstore

import (
	"context"
	"sync"

	"github.com/teal-agents/agentcore/pkg/agentapi"
)

// Store is a thread-safe, in-memory AuthStorage. It is the default
// backend for development and testing; production deployments should
// prefer internal/storage/sqlite for durability across restarts.
type Store struct {
	mu   sync.RWMutex
	data map[string]map[string]*agentapi.OAuth2AuthData
}

// New builds an empty Store.
func New() *Store {
	return &Store{data: make(map[string]map[string]*agentapi.OAuth2AuthData)}
}

var _ agentapi.AuthStorage = (*Store)(nil)

// Store persists (or replaces) the OAuth credential for a user + composite key.
func (s *Store) Store(_ context.Context, userID, compositeKey string, data *agentapi.OAuth2AuthData) error {
	if userID == "" || compositeKey == "" {
		return agentapi.ErrNotFound
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	bucket, ok := s.data[userID]
	if !ok {
		bucket = make(map[string]*agentapi.OAuth2AuthData)
		s.data[userID] = bucket
	}
	cp := *data
	bucket[compositeKey] = &cp
	return nil
}

// Retrieve returns the stored credential, or agentapi.ErrNotFound.
func (s *Store) Retrieve(_ context.Context, userID, compositeKey string) (*agentapi.OAuth2AuthData, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	bucket, ok := s.data[userID]
	if !ok {
		return nil, agentapi.ErrNotFound
	}
	data, ok := bucket[compositeKey]
	if !ok {
		return nil, agentapi.ErrNotFound
	}
	cp := *data
	return &cp, nil
}

// Delete removes a single credential. It is not an error to delete a
// credential that does not exist.
func (s *Store) Delete(_ context.Context, userID, compositeKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if bucket, ok := s.data[userID]; ok {
		delete(bucket, compositeKey)
		if len(bucket) == 0 {
			delete(s.data, userID)
		}
	}
	return nil
}

// ClearUserData removes every credential owned by a user, for account
// deletion / data-retention requests (spec.md §4.2 "Revocation & cleanup").
func (s *Store) ClearUserData(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, userID)
	return nil
}
