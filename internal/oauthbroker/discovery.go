package oauthbroker

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// authServerMetadata is the RFC 8414 authorization server metadata
// document subset this broker consumes.
type authServerMetadata struct {
	AuthorizationEndpoint         string   `json:"authorization_endpoint"`
	TokenEndpoint                 string   `json:"token_endpoint"`
	RegistrationEndpoint          string   `json:"registration_endpoint"`
	CodeChallengeMethodsSupported []string `json:"code_challenge_methods_supported"`
}

// protectedResourceMetadata is the RFC 9728 protected resource metadata
// document subset this broker consumes.
type protectedResourceMetadata struct {
	AuthorizationServers []string `json:"authorization_servers"`
}

type discoveryCacheEntry struct {
	metadata  *authServerMetadata
	found     bool
	expiresAt time.Time
}

type prmCacheEntry struct {
	metadata  *protectedResourceMetadata
	found     bool
	expiresAt time.Time
}

// discoveryCache caches RFC 8414/9728 lookups per base URL with a
// default 1-hour TTL; a 404 for PRM is cached as a negative result
// (spec.md §4.5 "Discovery cache").
type discoveryCache struct {
	mu         sync.Mutex
	httpClient *http.Client
	ttl        time.Duration

	authServers map[string]discoveryCacheEntry
	resources   map[string]prmCacheEntry
}

const defaultDiscoveryTTL = time.Hour

func newDiscoveryCache(client *http.Client) *discoveryCache {
	return &discoveryCache{
		httpClient:  client,
		ttl:         defaultDiscoveryTTL,
		authServers: make(map[string]discoveryCacheEntry),
		resources:   make(map[string]prmCacheEntry),
	}
}

// AuthorizationServerMetadata fetches (or returns cached) RFC 8414
// metadata for authServer. found is false if discovery failed (e.g.
// 404), which callers treat as "fall back to `{auth_server}/authorize`".
func (d *discoveryCache) AuthorizationServerMetadata(ctx context.Context, authServer string) (metadata *authServerMetadata, found bool) {
	d.mu.Lock()
	if entry, ok := d.authServers[authServer]; ok && time.Now().Before(entry.expiresAt) {
		d.mu.Unlock()
		return entry.metadata, entry.found
	}
	d.mu.Unlock()

	meta, found := d.fetchAuthServerMetadata(ctx, authServer)
	d.mu.Lock()
	d.authServers[authServer] = discoveryCacheEntry{metadata: meta, found: found, expiresAt: time.Now().Add(d.ttl)}
	d.mu.Unlock()
	return meta, found
}

func (d *discoveryCache) fetchAuthServerMetadata(ctx context.Context, authServer string) (*authServerMetadata, bool) {
	wellKnown := strings.TrimSuffix(authServer, "/") + "/.well-known/oauth-authorization-server"
	var meta authServerMetadata
	if !d.fetchJSON(ctx, wellKnown, &meta) {
		return nil, false
	}
	return &meta, true
}

// ProtectedResourceMetadata fetches (or returns cached) RFC 9728
// metadata for a canonical MCP resource URI.
func (d *discoveryCache) ProtectedResourceMetadata(ctx context.Context, resource string) (metadata *protectedResourceMetadata, found bool) {
	d.mu.Lock()
	if entry, ok := d.resources[resource]; ok && time.Now().Before(entry.expiresAt) {
		d.mu.Unlock()
		return entry.metadata, entry.found
	}
	d.mu.Unlock()

	u, err := url.Parse(resource)
	if err != nil {
		return nil, false
	}
	wellKnown := u.Scheme + "://" + u.Host + "/.well-known/oauth-protected-resource"
	var meta protectedResourceMetadata
	found = d.fetchJSON(ctx, wellKnown, &meta)

	d.mu.Lock()
	var metaPtr *protectedResourceMetadata
	if found {
		metaPtr = &meta
	}
	d.resources[resource] = prmCacheEntry{metadata: metaPtr, found: found, expiresAt: time.Now().Add(d.ttl)}
	d.mu.Unlock()
	return metaPtr, found
}

func (d *discoveryCache) fetchJSON(ctx context.Context, u string, out any) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return false
	}
	req.Header.Set("Accept", "application/json")
	resp, err := d.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return false
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return false
	}
	return true
}

// supportsS256 reports whether the metadata advertises S256 PKCE
// support; absence is logged as a warning by InitiateAuthorizationFlow
// but is not fatal (spec.md §4.5 "Discovery cache").
func (m *authServerMetadata) supportsS256() bool {
	for _, method := range m.CodeChallengeMethodsSupported {
		if method == "S256" {
			return true
		}
	}
	return false
}

var errNoTokenEndpoint = fmt.Errorf("oauthbroker: no token_endpoint available")
