package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/teal-agents/agentcore/internal/kernel"
	"github.com/teal-agents/agentcore/pkg/agentapi"
)

// Orchestrator drives the per-turn state machine described in spec.md
// §4.9. One Orchestrator instance is process-wide; all dependencies are
// injected so tests can construct a fresh one per case.
type Orchestrator struct {
	Persistence agentapi.TaskPersistence
	Authorizer  agentapi.RequestAuthorizer
	Builder     KernelBuilder
	Gate        HitlGate
	AuthInit    AuthInitiator
	Discovery   agentapi.DiscoveryStore
	Servers     []agentapi.McpServerConfig
	Model       string
	IDs         IDGenerator
	Clock       Clock
	URLs        URLs

	// MaxTurns bounds the invoke-model/execute-tools loop to guard
	// against a misbehaving model never terminating a turn.
	MaxTurns int
}

// New builds an Orchestrator with production defaults for IDs/Clock.
func New(persistence agentapi.TaskPersistence, authorizer agentapi.RequestAuthorizer, builder KernelBuilder, gate HitlGate, authInit AuthInitiator, discovery agentapi.DiscoveryStore, servers []agentapi.McpServerConfig, model string, urls URLs) *Orchestrator {
	return &Orchestrator{
		Persistence: persistence,
		Authorizer:  authorizer,
		Builder:     builder,
		Gate:        gate,
		AuthInit:    authInit,
		Discovery:   discovery,
		Servers:     servers,
		Model:       model,
		IDs:         UUIDGenerator{},
		Clock:       SystemClock{},
		URLs:        urls,
		MaxTurns:    25,
	}
}

// Invoke runs spec.md §4.9's algorithm for one non-streaming turn. The
// return value is one of: *agentapi.TealAgentsResponse,
// *agentapi.HitlResponse, *agentapi.AuthChallengeResponse, or
// *agentapi.ElicitationResponse. Errors that decide an HTTP status are
// typed kinds from pkg/agentapi/errors.go, or wrap one of its sentinels,
// so HTTP surface code can dispatch on errors.As/errors.Is; other
// failures (such as failing to start an OAuth flow or to serialize the
// chat history for a pause) are returned as plain wrapped errors.
func (o *Orchestrator) Invoke(ctx context.Context, authorizationHeader string, msg agentapi.UserMessage) (any, error) {
	task, requestID, k, history, terminal, err := o.prepare(ctx, authorizationHeader, msg)
	if err != nil || terminal != nil {
		return terminal, err
	}
	return o.runTurn(ctx, task, requestID, k, history)
}

// prepare runs spec.md §4.9 steps 1-4: authenticate, load-or-create the
// task, handle idempotent replay, and build the kernel. If the turn
// must end immediately (a replay or an auth challenge), terminal is
// non-nil and the caller should return it without entering the model
// loop.
func (o *Orchestrator) prepare(ctx context.Context, authorizationHeader string, msg agentapi.UserMessage) (task *agentapi.Task, requestID string, k *kernel.Kernel, history []agentapi.ChatMessage, terminal any, err error) {
	userID, err := o.Authorizer.AuthorizeRequest(ctx, authorizationHeader)
	if err != nil {
		return nil, "", nil, nil, nil, &agentapi.AuthenticationError{Cause: err}
	}

	task, requestID, isNewTask, err := o.loadOrCreateTask(ctx, userID, msg)
	if err != nil {
		return nil, "", nil, nil, nil, err
	}

	if existing := task.AssistantItemForRequest(requestID); existing != nil {
		return task, requestID, nil, nil, o.replayResponse(task, requestID, existing), nil
	}

	if !isNewTask {
		o.appendUserItem(task, requestID, msg)
		if err := o.Persistence.Update(ctx, task); err != nil {
			return nil, "", nil, nil, nil, &agentapi.PersistenceUpdateError{Cause: err}
		}
	}

	k, err = o.Builder.Build(ctx, userID, task.SessionID, o.Model)
	if err != nil {
		var authRequired *agentapi.AuthRequiredError
		if errors.As(err, &authRequired) {
			resp, pauseErr := o.pauseForAuth(ctx, task, requestID, authRequired)
			return task, requestID, nil, nil, resp, pauseErr
		}
		return nil, "", nil, nil, nil, &agentapi.AgentInvokeException{Cause: err}
	}

	history = o.buildChatHistory(task)
	return task, requestID, k, history, nil, nil
}

// loadOrCreateTask resolves (and authorizes) the task named in msg, or
// creates a fresh one (spec.md §4.9 step 2). It also assigns a
// request_id: a client-supplied idempotency key via
// UserMessage.UserContext["request_id"] if present, else a freshly
// generated one.
func (o *Orchestrator) loadOrCreateTask(ctx context.Context, userID string, msg agentapi.UserMessage) (*agentapi.Task, string, bool, error) {
	requestID := msg.UserContext["request_id"]
	if requestID == "" {
		requestID = o.IDs.NewID()
	}

	if msg.TaskID != "" {
		task, err := o.Persistence.Load(ctx, msg.TaskID)
		if err != nil {
			return nil, "", false, &agentapi.PersistenceLoadError{Cause: err}
		}
		if task.UserID != userID {
			return nil, "", false, fmt.Errorf("orchestrator: %w", agentapi.ErrTaskNotOwned)
		}
		return task, requestID, false, nil
	}

	sessionID := msg.SessionID
	if sessionID == "" {
		sessionID = o.IDs.NewID()
	}
	now := o.Clock.Now()
	task := &agentapi.Task{
		TaskID:      o.IDs.NewID(),
		SessionID:   sessionID,
		UserID:      userID,
		Status:      agentapi.TaskRunning,
		CreatedAt:   now,
		LastUpdated: now,
	}
	o.appendUserItem(task, requestID, msg)
	if err := o.Persistence.Create(ctx, task); err != nil {
		return nil, "", false, &agentapi.PersistenceCreateError{Cause: err}
	}
	return task, requestID, true, nil
}

func (o *Orchestrator) appendUserItem(task *agentapi.Task, requestID string, msg agentapi.UserMessage) {
	for _, item := range msg.Items {
		task.Items = append(task.Items, agentapi.TaskItem{
			TaskID:    task.TaskID,
			RequestID: requestID,
			Role:      agentapi.RoleUser,
			Item:      item,
			Updated:   o.Clock.Now(),
		})
	}
}

// replayResponse reconstructs the TealAgentsResponse for an already
// completed request_id (spec.md §4.9 "Idempotency", §8 property 2).
func (o *Orchestrator) replayResponse(task *agentapi.Task, requestID string, item *agentapi.TaskItem) *agentapi.TealAgentsResponse {
	return &agentapi.TealAgentsResponse{
		TaskID:    task.TaskID,
		SessionID: task.SessionID,
		RequestID: requestID,
		Output:    item.Item.Content,
	}
}

// pauseForAuth persists the task as Paused and builds an
// AuthChallengeResponse carrying one auth_url per failing server
// (spec.md §4.9 step 3).
func (o *Orchestrator) pauseForAuth(ctx context.Context, task *agentapi.Task, requestID string, authRequired *agentapi.AuthRequiredError) (*agentapi.AuthChallengeResponse, error) {
	task.Status = agentapi.TaskPaused
	task.LastUpdated = o.Clock.Now()
	if err := o.Persistence.Update(ctx, task); err != nil {
		return nil, &agentapi.PersistenceUpdateError{Cause: err}
	}

	entries := make([]agentapi.AuthChallengeEntry, 0, len(authRequired.Challenges))
	for _, ch := range authRequired.Challenges {
		authURL, err := o.AuthInit.InitiateAuthorizationFlow(ctx, o.serverConfig(ch.ServerName), task.UserID)
		if err != nil {
			return nil, fmt.Errorf("orchestrator: initiating auth flow for %q: %w", ch.ServerName, err)
		}
		entries = append(entries, agentapi.AuthChallengeEntry{
			ServerName: ch.ServerName, AuthServer: ch.AuthServer, Scopes: ch.Scopes, AuthURL: authURL,
		})
	}

	return &agentapi.AuthChallengeResponse{
		TaskID: task.TaskID, SessionID: task.SessionID, RequestID: requestID,
		Message:        "authorization required before this turn can proceed",
		AuthChallenges: entries,
		ResumeURL:      o.URLs.Resume(task.TaskID),
	}, nil
}

func (o *Orchestrator) serverConfig(name string) agentapi.McpServerConfig {
	for _, s := range o.Servers {
		if s.Name == name {
			return s
		}
	}
	return agentapi.McpServerConfig{Name: name}
}

// buildChatHistory converts a task's items into model-visible chat
// history (spec.md §4.9 step 4: "each MultiModalItem becomes one
// model-visible content chunk").
func (o *Orchestrator) buildChatHistory(task *agentapi.Task) []agentapi.ChatMessage {
	var history []agentapi.ChatMessage
	for _, item := range task.Items {
		role := agentapi.ChatRoleUser
		if item.Role == agentapi.RoleAssistant {
			role = agentapi.ChatRoleAssistant
		}
		history = append(history, agentapi.ChatMessage{Role: role, Content: item.Item.Content})
	}
	return history
}
