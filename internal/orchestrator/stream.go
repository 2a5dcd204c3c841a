package orchestrator

import (
	"context"

	"github.com/teal-agents/agentcore/internal/kernel"
	"github.com/teal-agents/agentcore/pkg/agentapi"
)

// StreamEvent is one element of an InvokeStream channel. Exactly one of
// Partial, Final, or Err is set per event; Final (or Err) is always the
// last event sent before the channel closes.
type StreamEvent struct {
	Partial *agentapi.TealAgentsPartialResponse
	Final   any
	Err     error
}

// InvokeStream runs spec.md §4.9's algorithm with partials yielded as
// they arrive from the model (step 5 "For streaming"). Structured
// extra-data fragments on a chunk are kept off the wire: they are
// collected per model step but are neither forwarded to the caller nor
// carried into the final response.
func (o *Orchestrator) InvokeStream(ctx context.Context, authorizationHeader string, msg agentapi.UserMessage) <-chan StreamEvent {
	out := make(chan StreamEvent, 8)
	go func() {
		defer close(out)

		task, requestID, k, history, terminal, err := o.prepare(ctx, authorizationHeader, msg)
		if err != nil {
			out <- StreamEvent{Err: err}
			return
		}
		if terminal != nil {
			out <- StreamEvent{Final: terminal}
			return
		}

		o.streamTurn(ctx, task, requestID, k, history, out)
	}()
	return out
}

func (o *Orchestrator) streamTurn(ctx context.Context, task *agentapi.Task, requestID string, k *kernel.Kernel, history []agentapi.ChatMessage, out chan<- StreamEvent) {
	var usage agentapi.TokenUsage

	for i := 0; i < o.MaxTurns; i++ {
		chunks, err := k.Model.Stream(ctx, agentapi.ChatCompletionRequest{Messages: history, ToolSchemas: k.Tools})
		if err != nil {
			task.Status = agentapi.TaskFailed
			task.LastUpdated = o.Clock.Now()
			_ = o.Persistence.Update(ctx, task)
			out <- StreamEvent{Err: &agentapi.AgentInvokeException{Cause: err}}
			return
		}

		var content string
		var toolCalls []agentapi.ToolCallIntent
		extraData := map[string]any{}
		for chunk := range chunks {
			if chunk.Delta != "" {
				content += chunk.Delta
				out <- StreamEvent{Partial: &agentapi.TealAgentsPartialResponse{
					TaskID: task.TaskID, SessionID: task.SessionID, RequestID: requestID,
					Delta: chunk.Delta, Final: false,
				}}
			}
			if len(chunk.ToolCalls) > 0 {
				toolCalls = append(toolCalls, chunk.ToolCalls...)
			}
			for key, val := range chunk.ExtraData {
				extraData[key] = val
			}
			if chunk.Usage != nil {
				usage.Add(*chunk.Usage)
			}
		}

		if len(toolCalls) == 0 {
			resp, err := o.finalize(ctx, task, requestID, content, usage)
			if err != nil {
				out <- StreamEvent{Err: err}
				return
			}
			out <- StreamEvent{Partial: &agentapi.TealAgentsPartialResponse{
				TaskID: task.TaskID, SessionID: task.SessionID, RequestID: requestID, Final: true,
			}}
			out <- StreamEvent{Final: resp}
			return
		}

		history = append(history, agentapi.ChatMessage{Role: agentapi.ChatRoleAssistant, Content: content, ToolCalls: toChatToolCalls(toolCalls)})

		hitlErr, _ := o.Gate.Check(toolCalls)
		if hitlErr != nil {
			resp, err := o.pauseForHitl(ctx, task, requestID, toolCalls, hitlErr, history)
			if err != nil {
				out <- StreamEvent{Err: err}
				return
			}
			out <- StreamEvent{Final: resp}
			return
		}

		nextHistory, resp, err := o.executeToolCalls(ctx, task, requestID, k, history, toolCalls)
		if err != nil {
			out <- StreamEvent{Err: err}
			return
		}
		if resp != nil {
			out <- StreamEvent{Final: resp}
			return
		}
		history = nextHistory
	}

	task.Status = agentapi.TaskFailed
	task.LastUpdated = o.Clock.Now()
	_ = o.Persistence.Update(ctx, task)
	out <- StreamEvent{Err: &agentapi.AgentInvokeException{Cause: context.DeadlineExceeded}}
}
