// Package requestauth implements agentapi.RequestAuthorizer (component
// C1/C12's inbound edge per spec.md §6.1: "the orchestrator resolves
// [the principal] via a pluggable RequestAuthorizer"). It is grounded
// on the teacher's internal/auth.Service, keeping its two admitted
// credential shapes — a signed JWT or a static API key — and its
// constant-time API-key comparison, retargeted to return a bare user_id
// string instead of a *models.User.
package requestauth

import (
	"context"
	"crypto/subtle"
	"errors"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrMissingAuthorization signals an empty or absent Authorization header.
	ErrMissingAuthorization = errors.New("requestauth: missing authorization header")
	// ErrMalformedAuthorization signals a header that is not "Bearer <token>".
	ErrMalformedAuthorization = errors.New("requestauth: authorization header must be a bearer token")
	// ErrInvalidToken signals a JWT that fails signature or claims validation.
	ErrInvalidToken = errors.New("requestauth: invalid token")
	// ErrInvalidAPIKey signals an API key absent from the configured set.
	ErrInvalidAPIKey = errors.New("requestauth: invalid api key")
)

// claims carries the subject the runtime treats as user_id.
type claims struct {
	jwt.RegisteredClaims
}

// Authorizer validates the inbound Authorization header as either an
// HMAC-signed JWT or a static API key, resolving both to a user_id.
// A zero-value Authorizer (no secret, no keys) rejects every request;
// callers must configure at least one credential form.
type Authorizer struct {
	secret  []byte
	apiKeys map[string]string // key -> user_id
}

// New builds an Authorizer. secret may be empty to disable JWT
// validation; apiKeys maps a static key to the user_id it authenticates.
func New(secret string, apiKeys map[string]string) *Authorizer {
	keys := make(map[string]string, len(apiKeys))
	for k, v := range apiKeys {
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		keys[k] = v
	}
	return &Authorizer{secret: []byte(secret), apiKeys: keys}
}

// AuthorizeRequest implements agentapi.RequestAuthorizer.
func (a *Authorizer) AuthorizeRequest(_ context.Context, authorizationHeader string) (string, error) {
	header := strings.TrimSpace(authorizationHeader)
	if header == "" {
		return "", ErrMissingAuthorization
	}
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return "", ErrMalformedAuthorization
	}
	token = strings.TrimSpace(token)

	if len(a.secret) > 0 {
		if userID, err := a.validateJWT(token); err == nil {
			return userID, nil
		}
	}
	return a.validateAPIKey(token)
}

func (a *Authorizer) validateJWT(token string) (string, error) {
	var c claims
	parsed, err := jwt.ParseWithClaims(token, &c, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return a.secret, nil
	})
	if err != nil || !parsed.Valid {
		return "", ErrInvalidToken
	}
	subject, err := c.GetSubject()
	if err != nil || subject == "" {
		return "", ErrInvalidToken
	}
	return subject, nil
}

func (a *Authorizer) validateAPIKey(key string) (string, error) {
	var matched string
	found := false
	for stored, userID := range a.apiKeys {
		if subtle.ConstantTimeCompare([]byte(key), []byte(stored)) == 1 {
			matched, found = userID, true
		}
	}
	if !found {
		return "", ErrInvalidAPIKey
	}
	return matched, nil
}
