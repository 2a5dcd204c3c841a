package mcpclient

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseWWWAuthenticateInvalidToken(t *testing.T) {
	u := newUnauthorizedError(`Bearer realm="https://auth.example.com", error="invalid_token", error_description="token expired"`)
	require.Equal(t, "invalid_token", u.errorCode)
	require.Equal(t, "token expired", u.errorDescription)
}

func TestParseWWWAuthenticateInsufficientScope(t *testing.T) {
	u := newUnauthorizedError(`Bearer error="insufficient_scope", scope="repo admin:org"`)
	require.Equal(t, "insufficient_scope", u.errorCode)
	require.Equal(t, []string{"repo", "admin:org"}, u.scopes)
}

func TestParseWWWAuthenticateEmptyHeader(t *testing.T) {
	u := newUnauthorizedError("")
	require.Empty(t, u.errorCode)
}

func TestParseWWWAuthenticateNoParams(t *testing.T) {
	u := newUnauthorizedError("Bearer")
	require.Empty(t, u.errorCode)
}
