package mcpclient

import (
	"errors"
	"regexp"
	"strings"
)

// unauthorizedError is the parsed result of a 401 WWW-Authenticate
// challenge from an MCP server, per RFC 6750/9728. Parsing here is
// grounded on giantswarm-muster/pkg/oauth's ParseWWWAuthenticate.
type unauthorizedError struct {
	errorCode        string
	errorDescription string
	scopes           []string
}

func (e *unauthorizedError) Error() string {
	if e.errorDescription != "" {
		return e.errorDescription
	}
	if e.errorCode != "" {
		return "mcpclient: unauthorized: " + e.errorCode
	}
	return "mcpclient: unauthorized"
}

var authParamPattern = regexp.MustCompile(`(\w+)="([^"]*)"`)

func newUnauthorizedError(header string) *unauthorizedError {
	u := &unauthorizedError{}
	header = strings.TrimSpace(header)
	if header == "" {
		return u
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) < 2 {
		return u
	}
	for _, match := range authParamPattern.FindAllStringSubmatch(parts[1], -1) {
		key, value := strings.ToLower(match[1]), match[2]
		switch key {
		case "error":
			u.errorCode = value
		case "error_description":
			u.errorDescription = value
		case "scope":
			u.scopes = strings.Fields(value)
		}
	}
	return u
}

func asUnauthorized(err error, target **unauthorizedError) bool {
	return errors.As(err, target)
}
