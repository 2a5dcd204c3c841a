package oauthbroker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/teal-agents/agentcore/pkg/agentapi"
)

// Broker implements spec.md §4.5's authorization-code + PKCE flow:
// initiation, callback handling, and refresh, with RFC 8414/9728
// discovery. The strict-HTTPS check on auth_server and the redirect URI
// runs in internal/config at load time, not in the Broker.
type Broker struct {
	auth       agentapi.AuthStorage
	discovery  agentapi.DiscoveryStore
	httpClient *http.Client
	cache      *discoveryCache

	redirectURI string
	clientName  string
	flowTTL     time.Duration

	// regMu guards registered, the in-process cache of clients obtained
	// via RFC 7591 dynamic client registration (resolveClient in
	// registration.go) for servers with no pre-configured
	// oauth_client_id.
	regMu      sync.Mutex
	registered map[string]registeredClient
}

// New builds a Broker. redirectURI is this service's own OAuth
// callback URL, registered with each authorization server out of band.
func New(auth agentapi.AuthStorage, discovery agentapi.DiscoveryStore, redirectURI, clientName string) *Broker {
	client := &http.Client{Timeout: 30 * time.Second}
	return &Broker{
		auth:        auth,
		discovery:   discovery,
		httpClient:  client,
		cache:       newDiscoveryCache(client),
		redirectURI: redirectURI,
		clientName:  clientName,
		flowTTL:     agentapi.DefaultFlowStateTTL,
		registered:  make(map[string]registeredClient),
	}
}

// InitiateAuthorizationFlow begins an authorization-code + PKCE flow for
// server on behalf of userID, returning the URL the user should visit.
func (b *Broker) InitiateAuthorizationFlow(ctx context.Context, server agentapi.McpServerConfig, userID string) (string, error) {
	resource, err := canonicalResourceURI(server.Transport, server.CanonicalURI, server.URL)
	if err != nil {
		return "", err
	}

	clientID, _, err := b.resolveClient(ctx, server)
	if err != nil {
		return "", err
	}

	pkce, err := generatePKCE()
	if err != nil {
		return "", err
	}
	state, err := generateState()
	if err != nil {
		return "", err
	}

	flow := &agentapi.OAuthFlowState{
		State:      state,
		Verifier:   pkce.Verifier,
		UserID:     userID,
		ServerName: server.Name,
		Resource:   resource,
		Scopes:     server.Scopes,
		CreatedAt:  time.Now().UTC(),
	}
	if err := b.discovery.PutFlowState(ctx, flow, b.flowTTL); err != nil {
		return "", fmt.Errorf("oauthbroker: persisting flow state: %w", err)
	}

	authzEndpoint := strings.TrimSuffix(server.AuthServer, "/") + "/authorize"
	includeResource := false
	if meta, found := b.cache.AuthorizationServerMetadata(ctx, server.AuthServer); found {
		authzEndpoint = meta.AuthorizationEndpoint
		includeResource = true
		if !meta.supportsS256() {
			slog.Warn("oauthbroker: authorization server does not advertise S256 PKCE support", "auth_server", server.AuthServer)
		}
	}
	if _, found := b.cache.ProtectedResourceMetadata(ctx, resource); found {
		includeResource = true
	}

	params := url.Values{}
	params.Set("response_type", "code")
	params.Set("client_id", clientID)
	params.Set("redirect_uri", b.redirectURI)
	params.Set("scope", strings.Join(server.Scopes, " "))
	params.Set("state", state)
	params.Set("code_challenge", pkce.Challenge)
	params.Set("code_challenge_method", "S256")
	if includeResource {
		params.Set("resource", resource)
	}

	sep := "?"
	if strings.Contains(authzEndpoint, "?") {
		sep = "&"
	}
	return authzEndpoint + sep + params.Encode(), nil
}

// tokenResponse is the subset of RFC 6749's token response this broker
// parses.
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token"`
	Scope        string `json:"scope"`
	Audience     string `json:"aud"`
}

// HandleCallback completes the flow started by code+state, exchanging
// the authorization code for a token and storing it under the
// (user_id, composite_key) pair.
func (b *Broker) HandleCallback(ctx context.Context, code, state, userID string, server agentapi.McpServerConfig) (*agentapi.OAuth2AuthData, error) {
	flow, err := b.discovery.FlowStateByUser(ctx, userID, state)
	if err != nil || flow.Expired(time.Now().UTC(), b.flowTTL) {
		_ = b.discovery.DeleteFlowState(ctx, state)
		return nil, fmt.Errorf("oauthbroker: flow state missing, expired, or not owned by user")
	}

	clientID, clientSecret, err := b.resolveClient(ctx, server)
	if err != nil {
		_ = b.discovery.DeleteFlowState(ctx, state)
		return nil, err
	}

	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("redirect_uri", b.redirectURI)
	form.Set("code_verifier", flow.Verifier)
	form.Set("resource", flow.Resource)
	form.Set("client_id", clientID)
	if clientSecret != "" {
		form.Set("client_secret", clientSecret)
	}

	tok, err := b.postToken(ctx, server, form)
	if err != nil {
		_ = b.discovery.DeleteFlowState(ctx, state)
		return nil, &agentapi.TokenExchangeError{Cause: err}
	}

	if err := validateGrantedScopes(tok.Scope, flow.Scopes); err != nil {
		_ = b.discovery.DeleteFlowState(ctx, state)
		return nil, err
	}

	data := &agentapi.OAuth2AuthData{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.TokenType,
		ExpiresAt:    time.Now().UTC().Add(time.Duration(tok.ExpiresIn) * time.Second),
		Scopes:       flow.Scopes,
		Resource:     flow.Resource,
		Audience:     tok.Audience,
		IssuedAt:     time.Now().UTC(),
	}

	compositeKey := agentapi.BuildCompositeKey(server.AuthServer, server.Scopes)
	if err := b.auth.Store(ctx, userID, compositeKey, data); err != nil {
		return nil, fmt.Errorf("oauthbroker: storing auth data: %w", err)
	}
	if err := b.discovery.DeleteFlowState(ctx, state); err != nil {
		return nil, fmt.Errorf("oauthbroker: deleting flow state: %w", err)
	}
	return data, nil
}

// Refresh exchanges a stored refresh token for a new access token,
// implementing mcpclient.TokenRefresher.
func (b *Broker) Refresh(ctx context.Context, server agentapi.McpServerConfig, userID string) (*agentapi.OAuth2AuthData, error) {
	compositeKey := agentapi.BuildCompositeKey(server.AuthServer, server.Scopes)
	current, err := b.auth.Retrieve(ctx, userID, compositeKey)
	if err != nil || current.RefreshToken == "" {
		return nil, &agentapi.RefreshError{Cause: fmt.Errorf("no refresh token on file")}
	}

	clientID, clientSecret, err := b.resolveClient(ctx, server)
	if err != nil {
		return nil, &agentapi.RefreshError{Cause: err}
	}

	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", current.RefreshToken)
	form.Set("resource", current.Resource)
	form.Set("client_id", clientID)
	if clientSecret != "" {
		form.Set("client_secret", clientSecret)
	}

	tok, err := b.postToken(ctx, server, form)
	if err != nil {
		return nil, &agentapi.RefreshError{Cause: err}
	}

	refreshToken := current.RefreshToken
	if tok.RefreshToken != "" {
		refreshToken = tok.RefreshToken
	}
	data := &agentapi.OAuth2AuthData{
		AccessToken:  tok.AccessToken,
		RefreshToken: refreshToken,
		TokenType:    tok.TokenType,
		ExpiresAt:    time.Now().UTC().Add(time.Duration(tok.ExpiresIn) * time.Second),
		Scopes:       current.Scopes,
		Resource:     current.Resource,
		Audience:     current.Audience,
		IssuedAt:     time.Now().UTC(),
	}
	if err := b.auth.Store(ctx, userID, compositeKey, data); err != nil {
		return nil, fmt.Errorf("oauthbroker: storing refreshed auth data: %w", err)
	}
	return data, nil
}

func (b *Broker) postToken(ctx context.Context, server agentapi.McpServerConfig, form url.Values) (*tokenResponse, error) {
	tokenEndpoint := strings.TrimSuffix(server.AuthServer, "/") + "/token"
	if meta, found := b.cache.AuthorizationServerMetadata(ctx, server.AuthServer); found && meta.TokenEndpoint != "" {
		tokenEndpoint = meta.TokenEndpoint
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenEndpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("building token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("token endpoint returned status %d", resp.StatusCode)
	}

	var tok tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return nil, fmt.Errorf("parsing token response: %w", err)
	}
	return &tok, nil
}

// validateGrantedScopes enforces spec.md §4.5 step 4: if scope is
// present in the token response, it must be a subset of the requested
// set; absence means all requested scopes were granted.
func validateGrantedScopes(grantedScope string, requested []string) error {
	if grantedScope == "" {
		return nil
	}
	granted := strings.Fields(grantedScope)
	requestedSet := make(map[string]bool, len(requested))
	for _, s := range requested {
		requestedSet[s] = true
	}
	var offending []string
	for _, s := range granted {
		if !requestedSet[s] {
			offending = append(offending, s)
		}
	}
	if len(offending) > 0 {
		return &agentapi.UnauthorizedScopesError{Offending: offending}
	}
	return nil
}
