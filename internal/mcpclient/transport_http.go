package mcpclient

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/teal-agents/agentcore/pkg/agentapi"
)

// httpTransport speaks MCP's streamable-HTTP framing (a JSON-RPC
// request/response body over POST) and falls back to treating the
// response as an SSE stream of JSON-RPC messages when the server
// responds with a text/event-stream content type — the fallback
// spec.md §4.4 names for servers that don't support streamable-HTTP.
type httpTransport struct {
	mu         sync.Mutex
	server     agentapi.McpServerConfig
	httpClient *http.Client
	idSeq      int64
}

func newHTTPTransport(server agentapi.McpServerConfig, client *http.Client) *httpTransport {
	timeoutClient := *client
	timeoutClient.Timeout = server.EffectiveTimeout()
	return &httpTransport{server: server, httpClient: &timeoutClient}
}

func (t *httpTransport) call(ctx context.Context, method string, params any, headers map[string]string) (json.RawMessage, string, int, string, error) {
	t.mu.Lock()
	t.idSeq++
	id := t.idSeq
	t.mu.Unlock()

	req := rpcRequest{JSONRPC: "2.0", ID: id, Method: method, Params: params}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, "", 0, "", fmt.Errorf("mcpclient: marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.server.URL, bytes.NewReader(body))
	if err != nil {
		return nil, "", 0, "", fmt.Errorf("mcpclient: building request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json, text/event-stream")
	for k, v := range headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := t.httpClient.Do(httpReq)
	if err != nil {
		return nil, "", 0, "", fmt.Errorf("mcpclient: request to %q: %w", t.server.Name, err)
	}
	defer resp.Body.Close()

	mcpSessionID := resp.Header.Get("Mcp-Session-Id")

	if resp.StatusCode == http.StatusUnauthorized {
		return nil, mcpSessionID, resp.StatusCode, resp.Header.Get("WWW-Authenticate"), fmt.Errorf("mcpclient: 401 from %q", t.server.Name)
	}
	if resp.StatusCode == http.StatusNotFound {
		return nil, mcpSessionID, resp.StatusCode, "", fmt.Errorf("mcpclient: 404 from %q", t.server.Name)
	}
	if resp.StatusCode >= 300 {
		return nil, mcpSessionID, resp.StatusCode, "", fmt.Errorf("mcpclient: unexpected status %d from %q", resp.StatusCode, t.server.Name)
	}

	contentType := resp.Header.Get("Content-Type")
	if strings.Contains(contentType, "text/event-stream") {
		result, err := t.readSSE(resp.Body, id)
		return result, mcpSessionID, resp.StatusCode, "", err
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, mcpSessionID, resp.StatusCode, "", fmt.Errorf("mcpclient: reading response body: %w", err)
	}
	var rpcResp rpcResponse
	if err := json.Unmarshal(data, &rpcResp); err != nil {
		return nil, mcpSessionID, resp.StatusCode, "", fmt.Errorf("mcpclient: parsing response: %w", err)
	}
	if rpcResp.Error != nil {
		return nil, mcpSessionID, resp.StatusCode, "", rpcResp.Error
	}
	return rpcResp.Result, mcpSessionID, resp.StatusCode, "", nil
}

// readSSE scans an SSE body for "data:" lines carrying a JSON-RPC
// response matching id. The read is bounded only by the http.Client's
// overall Timeout (the server's EffectiveTimeout); sse_read_timeout is
// not applied here.
func (t *httpTransport) readSSE(body io.Reader, id int64) (json.RawMessage, error) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		var rpcResp rpcResponse
		if err := json.Unmarshal([]byte(payload), &rpcResp); err != nil {
			continue
		}
		if rpcResp.ID != id {
			continue
		}
		if rpcResp.Error != nil {
			return nil, rpcResp.Error
		}
		return rpcResp.Result, nil
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("mcpclient: reading sse stream: %w", err)
	}
	return nil, fmt.Errorf("mcpclient: sse stream closed without a matching response")
}

func (t *httpTransport) close() error { return nil }
