package modelclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teal-agents/agentcore/pkg/agentapi"
)

func TestCompleteSendsCatalogScopedToolNamesAndParsesToolCalls(t *testing.T) {
	var gotBody wireRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		resp := wireResponse{
			Choices: []wireChoice{{
				Message: wireMessage{
					ToolCalls: []wireToolCall{{
						ID:   "call-1",
						Type: "function",
						Function: struct {
							Name      string `json:"name"`
							Arguments string `json:"arguments"`
						}{Name: "mcp_flights_book_flight", Arguments: `{"origin":"SFO"}`},
					}},
				},
			}},
			Usage: &wireUsage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
		}
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	defer srv.Close()

	factory := NewFactory(srv.URL, "test-key", nil)
	client, err := factory.NewClient(context.Background(), "gpt-test")
	require.NoError(t, err)

	result, err := client.Complete(context.Background(), agentapi.ChatCompletionRequest{
		Messages: []agentapi.ChatMessage{{Role: agentapi.ChatRoleUser, Content: "book a flight"}},
		ToolSchemas: []agentapi.ToolSchema{
			{CatalogID: "mcp_flights_book_flight", Name: "book_flight"},
		},
	})
	require.NoError(t, err)

	require.Len(t, gotBody.Tools, 1)
	assert.Equal(t, "mcp_flights_book_flight", gotBody.Tools[0].Function.Name)

	require.Len(t, result.ToolCalls, 1)
	assert.Equal(t, "mcp_flights", result.ToolCalls[0].PluginID)
	assert.Equal(t, "book_flight", result.ToolCalls[0].ToolName)
	assert.Equal(t, "SFO", result.ToolCalls[0].Arguments["origin"])
	assert.Equal(t, 15, result.Usage.TotalTokens)
}

func TestStreamParsesSSEFramingUntilDone(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		_, _ = w.Write([]byte("data: {\"choices\":[{\"delta\":{\"content\":\"hel\"}}]}\n\n"))
		flusher.Flush()
		_, _ = w.Write([]byte("data: {\"choices\":[{\"delta\":{\"content\":\"lo\"},\"finish_reason\":\"stop\"}]}\n\n"))
		flusher.Flush()
		_, _ = w.Write([]byte("data: [DONE]\n\n"))
		flusher.Flush()
	}))
	defer srv.Close()

	factory := NewFactory(srv.URL, "", nil)
	client, err := factory.NewClient(context.Background(), "gpt-test")
	require.NoError(t, err)

	chunks, err := client.Stream(context.Background(), agentapi.ChatCompletionRequest{
		Messages: []agentapi.ChatMessage{{Role: agentapi.ChatRoleUser, Content: "hi"}},
	})
	require.NoError(t, err)

	var deltas string
	var sawDone bool
	for chunk := range chunks {
		deltas += chunk.Delta
		if chunk.Done {
			sawDone = true
		}
	}
	assert.Equal(t, "hello", deltas)
	assert.True(t, sawDone)
}

func TestPluginIDForCatalogID(t *testing.T) {
	assert.Equal(t, "mcp_flights", pluginIDForCatalogID("mcp_flights_book_flight", "book_flight"))
	assert.Equal(t, "files", pluginIDForCatalogID("files-delete_file", "delete_file"))
}
