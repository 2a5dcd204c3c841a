// Package oauthbroker implements OAuth 2.1 authorization-code with
// mandatory PKCE (S256) and MCP resource binding (spec.md §4.5 /
// component C7). PKCE/state generation is grounded on
// giantswarm-muster/pkg/oauth's GeneratePKCERaw/GenerateState, rewritten
// against this module's OAuth2AuthData/composite-key storage model
// instead of muster's file-backed token store.
package oauthbroker

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
)

const (
	pkceVerifierBytes = 32
	stateBytes        = 32
)

// pkceChallenge is one generated PKCE verifier/challenge pair.
type pkceChallenge struct {
	Verifier  string
	Challenge string
}

func generatePKCE() (*pkceChallenge, error) {
	verifierBytes := make([]byte, pkceVerifierBytes)
	if _, err := rand.Read(verifierBytes); err != nil {
		return nil, fmt.Errorf("oauthbroker: generating pkce verifier: %w", err)
	}
	verifier := base64.RawURLEncoding.EncodeToString(verifierBytes)
	hash := sha256.Sum256([]byte(verifier))
	challenge := base64.RawURLEncoding.EncodeToString(hash[:])
	return &pkceChallenge{Verifier: verifier, Challenge: challenge}, nil
}

func generateState() (string, error) {
	b := make([]byte, stateBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("oauthbroker: generating state: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
