package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/teal-agents/agentcore/internal/kernel"
	"github.com/teal-agents/agentcore/pkg/agentapi"
)

// runTurn drives the invoke-model/detect-tool-calls/gate/execute loop
// (spec.md §4.9 step 5-7) until the model produces a final answer with
// no further tool calls, or the turn pauses for HITL approval or MCP
// elicitation.
func (o *Orchestrator) runTurn(ctx context.Context, task *agentapi.Task, requestID string, k *kernel.Kernel, history []agentapi.ChatMessage) (any, error) {
	var usage agentapi.TokenUsage

	for turn := 0; turn < o.MaxTurns; turn++ {
		result, err := k.Model.Complete(ctx, agentapi.ChatCompletionRequest{Messages: history, ToolSchemas: k.Tools})
		if err != nil {
			task.Status = agentapi.TaskFailed
			task.LastUpdated = o.Clock.Now()
			_ = o.Persistence.Update(ctx, task)
			return nil, &agentapi.AgentInvokeException{Cause: err}
		}
		usage.Add(result.Usage)

		if len(result.ToolCalls) == 0 {
			return o.finalize(ctx, task, requestID, result.Content, usage)
		}

		history = append(history, agentapi.ChatMessage{Role: agentapi.ChatRoleAssistant, ToolCalls: toChatToolCalls(result.ToolCalls)})

		hitlErr, _ := o.Gate.Check(result.ToolCalls)
		if hitlErr != nil {
			return o.pauseForHitl(ctx, task, requestID, result.ToolCalls, hitlErr, history)
		}

		nextHistory, resp, err := o.executeToolCalls(ctx, task, requestID, k, history, result.ToolCalls)
		if err != nil {
			return nil, err
		}
		if resp != nil {
			return resp, nil
		}
		history = nextHistory
	}

	task.Status = agentapi.TaskFailed
	task.LastUpdated = o.Clock.Now()
	_ = o.Persistence.Update(ctx, task)
	return nil, &agentapi.AgentInvokeException{Cause: fmt.Errorf("orchestrator: exceeded max turns (%d) without a final answer", o.MaxTurns)}
}

// executeToolCalls runs every approved tool call in order. If one
// raises an MCP elicitation, it pauses the task and returns the
// ElicitationResponse immediately rather than executing the remaining
// calls (spec.md §4.4 "Elicitation").
func (o *Orchestrator) executeToolCalls(ctx context.Context, task *agentapi.Task, requestID string, k *kernel.Kernel, history []agentapi.ChatMessage, calls []agentapi.ToolCallIntent) ([]agentapi.ChatMessage, any, error) {
	for _, call := range calls {
		output, isErr, err := k.Dispatch(ctx, task.TaskID, requestID, call)
		if err != nil {
			var elicitation *agentapi.McpElicitationRequired
			if errors.As(err, &elicitation) {
				resp, pauseErr := o.pauseForElicitation(ctx, task, requestID, elicitation, history)
				return nil, resp, pauseErr
			}
			return nil, nil, &agentapi.AgentInvokeException{Cause: err}
		}
		history = append(history, agentapi.ChatMessage{
			Role:       agentapi.ChatRoleTool,
			ToolResult: &agentapi.ChatToolResult{ToolCallID: call.ID, Content: output, IsError: isErr},
		})
	}
	return history, nil, nil
}

func (o *Orchestrator) finalize(ctx context.Context, task *agentapi.Task, requestID, content string, usage agentapi.TokenUsage) (*agentapi.TealAgentsResponse, error) {
	task.Items = append(task.Items, agentapi.TaskItem{
		TaskID: task.TaskID, RequestID: requestID, Role: agentapi.RoleAssistant,
		Item:    agentapi.MultiModalItem{ContentType: agentapi.ContentText, Content: content},
		Updated: o.Clock.Now(),
	})
	task.Status = agentapi.TaskCompleted
	task.LastUpdated = o.Clock.Now()
	if err := o.Persistence.Update(ctx, task); err != nil {
		return nil, &agentapi.PersistenceUpdateError{Cause: err}
	}
	return &agentapi.TealAgentsResponse{
		TaskID: task.TaskID, SessionID: task.SessionID, RequestID: requestID,
		Output: content, TokenUsage: usage,
	}, nil
}

// pauseForHitl persists the pending tool calls and chat-history snapshot
// on the task's latest item and marks it Paused (spec.md §4.7, §4.9
// step 5).
func (o *Orchestrator) pauseForHitl(ctx context.Context, task *agentapi.Task, requestID string, proposed []agentapi.ToolCallIntent, hitlErr *agentapi.HitlInterventionRequired, history []agentapi.ChatMessage) (*agentapi.HitlResponse, error) {
	snapshot, err := json.Marshal(history)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: serializing chat history: %w", err)
	}
	task.Items = append(task.Items, agentapi.TaskItem{
		TaskID: task.TaskID, RequestID: requestID, Role: agentapi.RoleAssistant,
		Item:             agentapi.MultiModalItem{ContentType: agentapi.ContentText, Content: ""},
		Updated:          o.Clock.Now(),
		PendingToolCalls: proposed,
		ChatHistory:      snapshot,
	})
	task.Status = agentapi.TaskPaused
	task.LastUpdated = o.Clock.Now()
	if err := o.Persistence.Update(ctx, task); err != nil {
		return nil, &agentapi.PersistenceUpdateError{Cause: err}
	}
	return &agentapi.HitlResponse{
		TaskID: task.TaskID, SessionID: task.SessionID, RequestID: requestID,
		Message:      "one or more tool calls require human approval",
		ApprovalURL:  o.URLs.Approval(task.TaskID),
		RejectionURL: o.URLs.Rejection(task.TaskID),
		ToolCalls:    hitlErr.ToolCalls,
	}, nil
}

func (o *Orchestrator) pauseForElicitation(ctx context.Context, task *agentapi.Task, requestID string, elicitation *agentapi.McpElicitationRequired, history []agentapi.ChatMessage) (*agentapi.ElicitationResponse, error) {
	snapshot, err := json.Marshal(history)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: serializing chat history: %w", err)
	}
	task.Items = append(task.Items, agentapi.TaskItem{
		TaskID: task.TaskID, RequestID: requestID, Role: agentapi.RoleAssistant,
		Item:        agentapi.MultiModalItem{ContentType: agentapi.ContentText, Content: ""},
		Updated:     o.Clock.Now(),
		ChatHistory: snapshot,
	})
	task.Status = agentapi.TaskPaused
	task.LastUpdated = o.Clock.Now()
	if err := o.Persistence.Update(ctx, task); err != nil {
		return nil, &agentapi.PersistenceUpdateError{Cause: err}
	}
	return &agentapi.ElicitationResponse{
		TaskID: task.TaskID, SessionID: task.SessionID, RequestID: requestID,
		ElicitationID: elicitation.Pending.ElicitationID,
		Mode:          elicitation.Pending.Mode,
		URL:           elicitation.Pending.URL,
		Message:       elicitation.Pending.Message,
		ResumeURL:     o.URLs.Resume(task.TaskID),
	}, nil
}

func toChatToolCalls(calls []agentapi.ToolCallIntent) []agentapi.ChatToolCall {
	out := make([]agentapi.ChatToolCall, len(calls))
	for i, c := range calls {
		out[i] = agentapi.ChatToolCall{ID: c.ID, Name: c.ToolName, Arguments: c.Arguments}
	}
	return out
}
