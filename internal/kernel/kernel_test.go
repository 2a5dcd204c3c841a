package kernel

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teal-agents/agentcore/internal/catalog"
	"github.com/teal-agents/agentcore/internal/discovery"
	"github.com/teal-agents/agentcore/internal/mcpclient"
	"github.com/teal-agents/agentcore/internal/pluginregistry"
	"github.com/teal-agents/agentcore/pkg/agentapi"
)

type echoPlugin struct{}

func (echoPlugin) Definition() agentapi.Plugin {
	return agentapi.Plugin{
		PluginID: "echo",
		Name:     "echo",
		Type:     agentapi.PluginTypeCode,
		Tools: []agentapi.PluginTool{
			{ToolID: "say", Name: "say"},
		},
	}
}

func (echoPlugin) Invoke(_ context.Context, _ string, args map[string]any) (string, error) {
	return args["text"].(string), nil
}

type schemaPlugin struct{}

func (schemaPlugin) Definition() agentapi.Plugin {
	return agentapi.Plugin{
		PluginID: "echo",
		Name:     "echo",
		Type:     agentapi.PluginTypeCode,
		Tools: []agentapi.PluginTool{{
			ToolID: "say",
			Name:   "say",
			ArgsSchema: map[string]any{
				"type":     "object",
				"required": []any{"text"},
			},
		}},
	}
}

func (schemaPlugin) Invoke(_ context.Context, _ string, args map[string]any) (string, error) {
	return args["text"].(string), nil
}

type fakeFactory struct{}

type fakeClient struct{}

func (fakeClient) Complete(context.Context, agentapi.ChatCompletionRequest) (agentapi.ChatCompletionResult, error) {
	return agentapi.ChatCompletionResult{Content: "hi", Done: true}, nil
}

func (fakeClient) Stream(context.Context, agentapi.ChatCompletionRequest) (<-chan agentapi.ChatCompletionChunk, error) {
	ch := make(chan agentapi.ChatCompletionChunk)
	close(ch)
	return ch, nil
}

func (fakeFactory) NewClient(context.Context, string) (agentapi.ChatCompletionClient, error) {
	return fakeClient{}, nil
}

type noServers struct{}

func (noServers) PreflightAndDiscover(context.Context, string, string, []agentapi.McpServerConfig) error {
	return nil
}
func (noServers) ClassFor(string) (*pluginregistry.PluginClass, bool) { return nil, false }

type noCaller struct{}

func (noCaller) OpenSession(context.Context, string, string, agentapi.McpServerConfig) (*mcpclient.Session, error) {
	return nil, errors.New("unused")
}
func (noCaller) CallTool(context.Context, *mcpclient.Session, string, map[string]any) (*mcpclient.Result, error) {
	return nil, errors.New("unused")
}

func TestBuildAndDispatchLocalPlugin(t *testing.T) {
	cat := catalog.New()
	disc := discovery.New()
	b, err := New(fakeFactory{}, cat, noServers{}, noCaller{}, disc, nil, echoPlugin{})
	require.NoError(t, err)

	k, err := b.Build(context.Background(), "user-1", "session-1", "test-model")
	require.NoError(t, err)
	require.Len(t, k.Tools, 1)
	assert.Equal(t, "echo-say", k.Tools[0].CatalogID)

	out, isErr, err := k.Dispatch(context.Background(), "task-1", "req-1", agentapi.ToolCallIntent{
		PluginID: "echo", ToolName: "say", Arguments: map[string]any{"text": "hello"},
	})
	require.NoError(t, err)
	assert.False(t, isErr)
	assert.Equal(t, "hello", out)
}

func TestDispatchRejectsArgsFailingSchemaValidation(t *testing.T) {
	cat := catalog.New()
	disc := discovery.New()
	b, err := New(fakeFactory{}, cat, noServers{}, noCaller{}, disc, nil, schemaPlugin{})
	require.NoError(t, err)

	k, err := b.Build(context.Background(), "user-1", "session-1", "test-model")
	require.NoError(t, err)

	out, isErr, err := k.Dispatch(context.Background(), "task-1", "req-1", agentapi.ToolCallIntent{
		PluginID: "echo", ToolName: "say", Arguments: map[string]any{},
	})
	require.NoError(t, err)
	assert.True(t, isErr)
	assert.NotEmpty(t, out)
}

func TestDispatchUnknownPlugin(t *testing.T) {
	cat := catalog.New()
	disc := discovery.New()
	b, err := New(fakeFactory{}, cat, noServers{}, noCaller{}, disc, nil)
	require.NoError(t, err)
	k, err := b.Build(context.Background(), "user-1", "session-1", "test-model")
	require.NoError(t, err)

	_, _, err = k.Dispatch(context.Background(), "task-1", "req-1", agentapi.ToolCallIntent{
		PluginID: "mcp_ghost", ToolName: "nope",
	})
	require.Error(t, err)
}
