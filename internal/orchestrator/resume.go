package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/teal-agents/agentcore/pkg/agentapi"
)

// Resume re-enters a Paused task's turn per spec.md §4.10 (component C13).
// The return value is one of the same types Invoke can return, plus
// *agentapi.RejectedToolResponse for the reject action.
func (o *Orchestrator) Resume(ctx context.Context, authorizationHeader, taskID string, req agentapi.ResumeRequest) (any, error) {
	userID, err := o.Authorizer.AuthorizeRequest(ctx, authorizationHeader)
	if err != nil {
		return nil, &agentapi.AuthenticationError{Cause: err}
	}

	task, err := o.Persistence.Load(ctx, taskID)
	if err != nil {
		return nil, &agentapi.PersistenceLoadError{Cause: err}
	}
	if task.UserID != userID {
		return nil, fmt.Errorf("orchestrator: %w", agentapi.ErrTaskNotOwned)
	}
	if task.Status != agentapi.TaskPaused {
		if task.Status.Terminal() {
			return nil, fmt.Errorf("orchestrator: %w", agentapi.ErrTaskTerminal)
		}
		return nil, fmt.Errorf("orchestrator: %w", agentapi.ErrTaskNotPaused)
	}

	switch req.Action {
	case agentapi.ResumeApprove:
		return o.resumeApprove(ctx, task)
	case agentapi.ResumeReject:
		return o.resumeReject(ctx, task)
	case agentapi.ResumeAuthComplete:
		return o.resumeAuthComplete(ctx, task)
	case agentapi.ResumeElicitationResponse:
		return o.resumeElicitation(ctx, task, req)
	default:
		return nil, fmt.Errorf("orchestrator: unknown resume action %q", req.Action)
	}
}

// resumeApprove replays the persisted pending tool calls, bypassing the
// HITL gate for those specific calls only (spec.md §4.10 "approve"), then
// continues the turn exactly as runTurn would after a normal execute step.
func (o *Orchestrator) resumeApprove(ctx context.Context, task *agentapi.Task) (any, error) {
	item := task.LastItem()
	if item == nil || len(item.PendingToolCalls) == 0 {
		return nil, fmt.Errorf("orchestrator: task %s has no pending tool calls to approve", task.TaskID)
	}
	requestID := item.RequestID

	history, err := decodeHistory(item.ChatHistory)
	if err != nil {
		return nil, err
	}

	k, err := o.Builder.Build(ctx, task.UserID, task.SessionID, o.Model)
	if err != nil {
		return nil, &agentapi.AgentInvokeException{Cause: err}
	}

	nextHistory, resp, err := o.executeToolCalls(ctx, task, requestID, k, history, item.PendingToolCalls)
	if err != nil {
		return nil, err
	}
	if resp != nil {
		return resp, nil
	}
	return o.runTurn(ctx, task, requestID, k, nextHistory)
}

// resumeReject ends the turn without executing the pending tool calls
// (spec.md §4.10 "reject").
func (o *Orchestrator) resumeReject(ctx context.Context, task *agentapi.Task) (*agentapi.RejectedToolResponse, error) {
	item := task.LastItem()
	if item == nil || len(item.PendingToolCalls) == 0 {
		return nil, fmt.Errorf("orchestrator: task %s has no pending tool calls to reject", task.TaskID)
	}
	requestID := item.RequestID

	task.Items = append(task.Items, agentapi.TaskItem{
		TaskID: task.TaskID, RequestID: requestID, Role: agentapi.RoleAssistant,
		Item:    agentapi.MultiModalItem{ContentType: agentapi.ContentText, Content: "tool calls rejected by user"},
		Updated: o.Clock.Now(),
	})
	task.Status = agentapi.TaskFailed
	task.LastUpdated = o.Clock.Now()
	if err := o.Persistence.Update(ctx, task); err != nil {
		return nil, &agentapi.PersistenceUpdateError{Cause: err}
	}
	return &agentapi.RejectedToolResponse{
		TaskID: task.TaskID, SessionID: task.SessionID, RequestID: requestID,
		Message: "Tool execution rejected.",
	}, nil
}

// resumeAuthComplete re-enters from step 3 of spec.md §4.9: the kernel
// build is retried now that the user has completed the OAuth flow.
func (o *Orchestrator) resumeAuthComplete(ctx context.Context, task *agentapi.Task) (any, error) {
	item := task.LastItem()
	if item == nil {
		return nil, fmt.Errorf("orchestrator: task %s has no items to resume", task.TaskID)
	}
	requestID := item.RequestID

	k, err := o.Builder.Build(ctx, task.UserID, task.SessionID, o.Model)
	if err != nil {
		var authRequired *agentapi.AuthRequiredError
		if errors.As(err, &authRequired) {
			return o.pauseForAuth(ctx, task, requestID, authRequired)
		}
		return nil, &agentapi.AgentInvokeException{Cause: err}
	}

	task.Status = agentapi.TaskRunning
	history := o.buildChatHistory(task)
	return o.runTurn(ctx, task, requestID, k, history)
}

// resumeElicitation pops the matching PendingElicitation, replays the
// originating tool call with the user-supplied payload merged into its
// arguments, then continues the turn (spec.md §4.10
// "elicitation_response").
func (o *Orchestrator) resumeElicitation(ctx context.Context, task *agentapi.Task, req agentapi.ResumeRequest) (any, error) {
	elicitationID, _ := req.Payload["elicitation_id"].(string)
	if elicitationID == "" {
		return nil, fmt.Errorf("orchestrator: elicitation_response requires a payload elicitation_id")
	}

	pending, err := o.Discovery.PopElicitation(ctx, task.UserID, task.SessionID, elicitationID)
	if err != nil {
		return nil, err
	}

	item := task.LastItem()
	if item == nil {
		return nil, fmt.Errorf("orchestrator: task %s has no items to resume", task.TaskID)
	}
	history, err := decodeHistory(item.ChatHistory)
	if err != nil {
		return nil, err
	}

	args := map[string]any{}
	for key, val := range pending.ToolArgs {
		args[key] = val
	}
	response, _ := req.Payload["response"].(map[string]any)
	for key, val := range response {
		args[key] = val
	}

	k, err := o.Builder.Build(ctx, task.UserID, task.SessionID, o.Model)
	if err != nil {
		return nil, &agentapi.AgentInvokeException{Cause: err}
	}

	call := agentapi.ToolCallIntent{
		ID: pending.ElicitationID, PluginID: "mcp_" + pending.Server,
		ToolName: pending.ToolName, Arguments: args,
	}
	nextHistory, resp, err := o.executeToolCalls(ctx, task, pending.Request, k, history, []agentapi.ToolCallIntent{call})
	if err != nil {
		return nil, err
	}
	if resp != nil {
		return resp, nil
	}
	return o.runTurn(ctx, task, pending.Request, k, nextHistory)
}

func decodeHistory(snapshot []byte) ([]agentapi.ChatMessage, error) {
	if len(snapshot) == 0 {
		return nil, nil
	}
	var history []agentapi.ChatMessage
	if err := json.Unmarshal(snapshot, &history); err != nil {
		return nil, fmt.Errorf("orchestrator: decoding chat history snapshot: %w", err)
	}
	return history, nil
}
