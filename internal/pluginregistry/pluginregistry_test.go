package pluginregistry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/teal-agents/agentcore/internal/authstore"
	"github.com/teal-agents/agentcore/internal/catalog"
	"github.com/teal-agents/agentcore/internal/mcpclient"
	"github.com/teal-agents/agentcore/pkg/agentapi"
)

type fakeClient struct {
	tools map[string][]mcpclient.ToolInfo
	err   error
}

func (f *fakeClient) OpenSession(_ context.Context, _, _ string, server agentapi.McpServerConfig) (*mcpclient.Session, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &mcpclient.Session{Server: server}, nil
}

func (f *fakeClient) ListTools(_ context.Context, session *mcpclient.Session) ([]mcpclient.ToolInfo, error) {
	return f.tools[session.Server.Name], nil
}

func TestPreflightAndDiscoverRegistersToolsUnderMcpPrefix(t *testing.T) {
	client := &fakeClient{tools: map[string][]mcpclient.ToolInfo{
		"github": {{Name: "search", Description: "search repos"}},
	}}
	cat := catalog.New()
	reg := New(client, cat, authstore.New())

	servers := []agentapi.McpServerConfig{{Name: "github", Transport: "http", URL: "https://mcp.github.example"}}
	require.NoError(t, reg.PreflightAndDiscover(context.Background(), "user-1", "session-1", servers))

	tool, ok := cat.GetTool("mcp_github_search")
	require.True(t, ok)
	require.Equal(t, "search repos", tool.Description)

	class, ok := reg.ClassFor("github")
	require.True(t, ok)
	require.Len(t, class.Tools, 1)
}

func TestPreflightAndDiscoverAggregatesAuthChallenges(t *testing.T) {
	client := &fakeClient{}
	cat := catalog.New()
	reg := New(client, cat, authstore.New())

	servers := []agentapi.McpServerConfig{
		{Name: "github", Transport: "http", URL: "https://a", AuthServer: "https://auth-a", Scopes: []string{"repo"}},
		{Name: "slack", Transport: "http", URL: "https://b", AuthServer: "https://auth-b", Scopes: []string{"chat"}},
	}

	err := reg.PreflightAndDiscover(context.Background(), "user-1", "session-1", servers)
	require.Error(t, err)

	var authErr *agentapi.AuthRequiredError
	require.ErrorAs(t, err, &authErr)
	require.Len(t, authErr.Challenges, 2)
}

func TestPreflightAndDiscoverSkipsOAuthServersWithValidToken(t *testing.T) {
	client := &fakeClient{tools: map[string][]mcpclient.ToolInfo{
		"github": {{Name: "search"}},
	}}
	cat := catalog.New()
	auth := authstore.New()
	compositeKey := agentapi.BuildCompositeKey("https://auth-a", []string{"repo"})
	require.NoError(t, auth.Store(context.Background(), "user-1", compositeKey, &agentapi.OAuth2AuthData{AccessToken: "tok"}))

	reg := New(client, cat, auth)
	servers := []agentapi.McpServerConfig{
		{Name: "github", Transport: "http", URL: "https://a", AuthServer: "https://auth-a", Scopes: []string{"repo"}},
	}

	require.NoError(t, reg.PreflightAndDiscover(context.Background(), "user-1", "session-1", servers))
	_, ok := cat.GetTool("mcp_github_search")
	require.True(t, ok)
}
