// Package modelclient is the runtime's default agentapi.ChatCompletionFactory
// (component C9's dependency; spec.md §1: "LLM model clients are consumed
// through a pluggable ChatCompletionFactory interface and never implemented
// concretely in this module"). That boundary rules out importing an
// Anthropic/OpenAI/Azure SDK (see DESIGN.md), but it does not rule out
// speaking an open wire protocol with net/http — the same way the teacher's
// internal/gateway package talks to its channel backends over their
// documented HTTP APIs rather than vendoring a client library for each.
// This client speaks the OpenAI-compatible chat-completions wire format
// (used verbatim by vLLM, Ollama, LocalAI, and compatible gateways), so any
// operator pointing BaseURL at such an endpoint gets a working default
// without this module ever importing a model vendor's SDK.
package modelclient

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/teal-agents/agentcore/pkg/agentapi"
)

// Factory builds Clients bound to one model name against a fixed
// OpenAI-compatible endpoint.
type Factory struct {
	BaseURL string
	APIKey  string
	HTTP    *http.Client
}

// NewFactory builds a Factory. httpClient may be nil to use http.DefaultClient.
func NewFactory(baseURL, apiKey string, httpClient *http.Client) *Factory {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Factory{BaseURL: strings.TrimRight(baseURL, "/"), APIKey: apiKey, HTTP: httpClient}
}

// NewClient implements agentapi.ChatCompletionFactory.
func (f *Factory) NewClient(_ context.Context, model string) (agentapi.ChatCompletionClient, error) {
	if f.BaseURL == "" {
		return nil, fmt.Errorf("modelclient: no base url configured")
	}
	return &Client{factory: f, model: model}, nil
}

// Client is a bound ChatCompletionClient for one model.
type Client struct {
	factory *Factory
	model   string
}

type wireMessage struct {
	Role      string         `json:"role"`
	Content   string         `json:"content,omitempty"`
	ToolCalls []wireToolCall `json:"tool_calls,omitempty"`
}

type wireToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type wireTool struct {
	Type     string `json:"type"`
	Function struct {
		Name        string         `json:"name"`
		Description string         `json:"description,omitempty"`
		Parameters  map[string]any `json:"parameters,omitempty"`
	} `json:"function"`
}

type wireRequest struct {
	Model    string        `json:"model"`
	Messages []wireMessage `json:"messages"`
	Tools    []wireTool    `json:"tools,omitempty"`
	Stream   bool          `json:"stream,omitempty"`
}

type wireUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type wireChoice struct {
	Delta        wireMessage `json:"delta"`
	Message      wireMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

type wireResponse struct {
	Choices []wireChoice `json:"choices"`
	Usage   *wireUsage   `json:"usage"`
}

// pluginIDForCatalogID inverts agentapi.ToolCallIntent.CatalogID: it
// encodes "mcp_server_tool" for MCP plugins and "plugin-tool" for local
// ones, so the plugin id is recovered by trimming the known tool-name
// suffix using the separator CatalogID used to join them.
func pluginIDForCatalogID(catalogID, toolName string) string {
	if sep := "_" + toolName; strings.HasPrefix(catalogID, "mcp_") && strings.HasSuffix(catalogID, sep) {
		return strings.TrimSuffix(catalogID, sep)
	}
	return strings.TrimSuffix(catalogID, "-"+toolName)
}

// toWireRequest sends each tool's CatalogID as the wire function name
// (rather than its bare Name) so the plugin id round-trips through the
// model unambiguously even when two plugins expose same-named tools.
func toWireRequest(model string, req agentapi.ChatCompletionRequest, stream bool) wireRequest {
	messages := make([]wireMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		wm := wireMessage{Role: string(m.Role), Content: m.Content}
		for _, tc := range m.ToolCalls {
			wtc := wireToolCall{ID: tc.ID, Type: "function"}
			wtc.Function.Name = tc.Name
			args, _ := json.Marshal(tc.Arguments)
			wtc.Function.Arguments = string(args)
			wm.ToolCalls = append(wm.ToolCalls, wtc)
		}
		messages = append(messages, wm)
	}
	tools := make([]wireTool, 0, len(req.ToolSchemas))
	for _, t := range req.ToolSchemas {
		wt := wireTool{Type: "function"}
		wt.Function.Name = t.CatalogID
		wt.Function.Description = t.Description
		wt.Function.Parameters = t.Parameters
		tools = append(tools, wt)
	}
	return wireRequest{Model: model, Messages: messages, Tools: tools, Stream: stream}
}

// toolNames maps a wire function name (== CatalogID) back to the tool
// name alone, needed to invert pluginIDForCatalogID.
func toolNames(schemas []agentapi.ToolSchema) map[string]string {
	names := make(map[string]string, len(schemas))
	for _, s := range schemas {
		names[s.CatalogID] = s.Name
	}
	return names
}

func toolCallIntents(calls []wireToolCall, names map[string]string) []agentapi.ToolCallIntent {
	out := make([]agentapi.ToolCallIntent, 0, len(calls))
	for _, c := range calls {
		var args map[string]any
		_ = json.Unmarshal([]byte(c.Function.Arguments), &args)
		toolName := names[c.Function.Name]
		out = append(out, agentapi.ToolCallIntent{
			ID:        c.ID,
			PluginID:  pluginIDForCatalogID(c.Function.Name, toolName),
			ToolName:  toolName,
			Arguments: args,
		})
	}
	return out
}

func (c *Client) newHTTPRequest(ctx context.Context, body wireRequest) (*http.Request, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("modelclient: encoding request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.factory.BaseURL+"/chat/completions", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("modelclient: building request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.factory.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.factory.APIKey)
	}
	return httpReq, nil
}

// Complete implements agentapi.ChatCompletionClient.
func (c *Client) Complete(ctx context.Context, req agentapi.ChatCompletionRequest) (agentapi.ChatCompletionResult, error) {
	httpReq, err := c.newHTTPRequest(ctx, toWireRequest(c.model, req, false))
	if err != nil {
		return agentapi.ChatCompletionResult{}, err
	}
	resp, err := c.factory.HTTP.Do(httpReq)
	if err != nil {
		return agentapi.ChatCompletionResult{}, fmt.Errorf("modelclient: request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return agentapi.ChatCompletionResult{}, fmt.Errorf("modelclient: endpoint returned %d: %s", resp.StatusCode, string(body))
	}

	var wr wireResponse
	if err := json.NewDecoder(resp.Body).Decode(&wr); err != nil {
		return agentapi.ChatCompletionResult{}, fmt.Errorf("modelclient: decoding response: %w", err)
	}
	if len(wr.Choices) == 0 {
		return agentapi.ChatCompletionResult{}, fmt.Errorf("modelclient: endpoint returned no choices")
	}
	choice := wr.Choices[0]
	result := agentapi.ChatCompletionResult{
		Content:   choice.Message.Content,
		ToolCalls: toolCallIntents(choice.Message.ToolCalls, toolNames(req.ToolSchemas)),
		Done:      true,
	}
	if wr.Usage != nil {
		result.Usage = agentapi.TokenUsage{
			PromptTokens: wr.Usage.PromptTokens, CompletionTokens: wr.Usage.CompletionTokens, TotalTokens: wr.Usage.TotalTokens,
		}
	}
	return result, nil
}

// Stream implements agentapi.ChatCompletionClient over the OpenAI-compatible
// text/event-stream "data: {...}" / "data: [DONE]" framing.
func (c *Client) Stream(ctx context.Context, req agentapi.ChatCompletionRequest) (<-chan agentapi.ChatCompletionChunk, error) {
	httpReq, err := c.newHTTPRequest(ctx, toWireRequest(c.model, req, true))
	if err != nil {
		return nil, err
	}
	resp, err := c.factory.HTTP.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("modelclient: request failed: %w", err)
	}
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, fmt.Errorf("modelclient: endpoint returned %d: %s", resp.StatusCode, string(body))
	}

	names := toolNames(req.ToolSchemas)
	out := make(chan agentapi.ChatCompletionChunk)
	go func() {
		defer close(out)
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			data, ok := strings.CutPrefix(line, "data: ")
			if !ok || data == "" {
				continue
			}
			if data == "[DONE]" {
				select {
				case out <- agentapi.ChatCompletionChunk{Done: true}:
				case <-ctx.Done():
				}
				return
			}

			var wr wireResponse
			if err := json.Unmarshal([]byte(data), &wr); err != nil || len(wr.Choices) == 0 {
				continue
			}
			choice := wr.Choices[0]
			chunk := agentapi.ChatCompletionChunk{
				Delta:     choice.Delta.Content,
				ToolCalls: toolCallIntents(choice.Delta.ToolCalls, names),
				Done:      choice.FinishReason != "",
			}
			if wr.Usage != nil {
				chunk.Usage = &agentapi.TokenUsage{
					PromptTokens: wr.Usage.PromptTokens, CompletionTokens: wr.Usage.CompletionTokens, TotalTokens: wr.Usage.TotalTokens,
				}
			}
			select {
			case out <- chunk:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

var _ agentapi.ChatCompletionFactory = (*Factory)(nil)
var _ agentapi.ChatCompletionClient = (*Client)(nil)
