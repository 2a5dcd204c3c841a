package mcpclient

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"sync"

	"github.com/teal-agents/agentcore/pkg/agentapi"
)

// stdioTransport speaks newline-delimited JSON-RPC over a spawned
// process's stdin/stdout, grounded on the teacher's internal/mcp
// client.go Connect/initialize handshake pattern.
type stdioTransport struct {
	mu     sync.Mutex
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	reader *bufio.Reader
	idSeq  int64
}

func newStdioTransport(server agentapi.McpServerConfig) (*stdioTransport, error) {
	if err := server.Validate(); err != nil {
		return nil, fmt.Errorf("mcpclient: %w", err)
	}
	cmd := exec.Command(server.Command, server.Args...)
	for k, v := range server.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("mcpclient: stdin pipe for %q: %w", server.Name, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("mcpclient: stdout pipe for %q: %w", server.Name, err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("mcpclient: starting %q: %w", server.Name, err)
	}
	return &stdioTransport{cmd: cmd, stdin: stdin, reader: bufio.NewReader(stdout)}, nil
}

func (t *stdioTransport) call(ctx context.Context, method string, params any, _ map[string]string) (json.RawMessage, string, int, string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.idSeq++
	req := rpcRequest{JSONRPC: "2.0", ID: t.idSeq, Method: method, Params: params}
	data, err := json.Marshal(req)
	if err != nil {
		return nil, "", 0, "", fmt.Errorf("mcpclient: marshaling request: %w", err)
	}

	type callResult struct {
		resp *rpcResponse
		err  error
	}
	done := make(chan callResult, 1)
	go func() {
		if _, err := t.stdin.Write(append(data, '\n')); err != nil {
			done <- callResult{err: fmt.Errorf("mcpclient: writing request: %w", err)}
			return
		}
		line, err := t.reader.ReadBytes('\n')
		if err != nil {
			done <- callResult{err: fmt.Errorf("mcpclient: reading response: %w", err)}
			return
		}
		var resp rpcResponse
		if err := json.Unmarshal(line, &resp); err != nil {
			done <- callResult{err: fmt.Errorf("mcpclient: parsing response: %w", err)}
			return
		}
		done <- callResult{resp: &resp}
	}()

	select {
	case <-ctx.Done():
		return nil, "", 0, "", ctx.Err()
	case r := <-done:
		if r.err != nil {
			return nil, "", 0, "", r.err
		}
		if r.resp.Error != nil {
			return nil, "", 0, "", r.resp.Error
		}
		return r.resp.Result, "", 0, "", nil
	}
}

func (t *stdioTransport) close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	_ = t.stdin.Close()
	if t.cmd.Process != nil {
		return t.cmd.Wait()
	}
	return nil
}
