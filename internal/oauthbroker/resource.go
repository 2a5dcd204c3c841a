package oauthbroker

import (
	"fmt"
	"net/url"
	"strings"
)

// canonicalResourceURI computes the canonical MCP resource URI for a
// server: explicit CanonicalURI if configured, else the HTTP transport
// URL normalized by lowercasing scheme/host, keeping an explicit port
// and path, and discarding any fragment (spec.md §4.5 step 1). Stdio
// transport cannot initiate OAuth.
func canonicalResourceURI(transport, explicit, rawURL string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	if transport != "http" {
		return "", fmt.Errorf("oauthbroker: stdio transport cannot initiate OAuth")
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("oauthbroker: parsing server url: %w", err)
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	return u.String(), nil
}
