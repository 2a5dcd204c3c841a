package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teal-agents/agentcore/internal/catalog"
	"github.com/teal-agents/agentcore/internal/discovery"
	"github.com/teal-agents/agentcore/internal/kernel"
	"github.com/teal-agents/agentcore/internal/taskstore"
	"github.com/teal-agents/agentcore/pkg/agentapi"
)

// localFunc is a LocalPlugin whose Invoke is supplied inline, used to
// exercise kernel.Dispatch without standing up a real MCP server.
type localFunc struct {
	pluginID, toolName string
	invoke             func(args map[string]any) (string, error)
}

func (p localFunc) Definition() agentapi.Plugin {
	return agentapi.Plugin{
		PluginID: p.pluginID, Name: p.pluginID, Type: agentapi.PluginTypeCode,
		Tools: []agentapi.PluginTool{{ToolID: p.toolName, Name: p.toolName}},
	}
}

func (p localFunc) Invoke(_ context.Context, _ string, args map[string]any) (string, error) {
	return p.invoke(args)
}

type fixedChatFactory struct{ client agentapi.ChatCompletionClient }

func (f fixedChatFactory) NewClient(context.Context, string) (agentapi.ChatCompletionClient, error) {
	return f.client, nil
}

func realKernelBuilder(t *testing.T, model agentapi.ChatCompletionClient, locals ...kernel.LocalPlugin) KernelBuilder {
	t.Helper()
	b, err := kernel.New(fixedChatFactory{client: model}, catalog.New(), nil, nil, discovery.New(), nil, locals...)
	require.NoError(t, err)
	return b
}

func pausedHitlTask(t *testing.T, store *taskstore.Store) *agentapi.Task {
	t.Helper()
	now := time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC)
	task := &agentapi.Task{
		TaskID: "task-1", SessionID: "session-1", UserID: "user-1",
		Status: agentapi.TaskPaused, CreatedAt: now, LastUpdated: now,
		Items: []agentapi.TaskItem{
			{TaskID: "task-1", RequestID: "req-1", Role: agentapi.RoleUser,
				Item: agentapi.MultiModalItem{ContentType: agentapi.ContentText, Content: "delete it"}, Updated: now},
			{TaskID: "task-1", RequestID: "req-1", Role: agentapi.RoleAssistant,
				Item:             agentapi.MultiModalItem{ContentType: agentapi.ContentText, Content: ""},
				Updated:          now,
				PendingToolCalls: []agentapi.ToolCallIntent{{ID: "c1", PluginID: "files", ToolName: "delete_file"}},
				ChatHistory:      []byte(`[{"role":"user","content":"delete it"}]`),
			},
		},
	}
	require.NoError(t, store.Create(context.Background(), task))
	return task
}

func TestResumeApproveExecutesPendingCalls(t *testing.T) {
	store := taskstore.New()
	task := pausedHitlTask(t, store)

	model := &fakeModel{results: []agentapi.ChatCompletionResult{
		{Content: "done deleting", Done: true},
	}}
	deleted := false
	filesPlugin := localFunc{pluginID: "files", toolName: "delete_file", invoke: func(map[string]any) (string, error) {
		deleted = true
		return "deleted", nil
	}}

	o := newOrchestrator(store, model)
	o.Builder = realKernelBuilder(t, model, filesPlugin)
	o.Gate = gatingGate{} // would reject if consulted; approve must bypass it

	resp, err := o.Resume(context.Background(), "Bearer tok", task.TaskID, agentapi.ResumeRequest{Action: agentapi.ResumeApprove})
	require.NoError(t, err)
	assert.True(t, deleted)

	final, ok := resp.(*agentapi.TealAgentsResponse)
	require.True(t, ok)
	assert.Equal(t, "done deleting", final.Output)

	reloaded, err := store.Load(context.Background(), task.TaskID)
	require.NoError(t, err)
	assert.Equal(t, agentapi.TaskCompleted, reloaded.Status)
}

func TestResumeRejectEndsTurnFailed(t *testing.T) {
	store := taskstore.New()
	task := pausedHitlTask(t, store)
	o := newOrchestrator(store, &fakeModel{})

	resp, err := o.Resume(context.Background(), "Bearer tok", task.TaskID, agentapi.ResumeRequest{Action: agentapi.ResumeReject})
	require.NoError(t, err)

	rejected, ok := resp.(*agentapi.RejectedToolResponse)
	require.True(t, ok)
	assert.Equal(t, "req-1", rejected.RequestID)

	reloaded, err := store.Load(context.Background(), task.TaskID)
	require.NoError(t, err)
	assert.Equal(t, agentapi.TaskFailed, reloaded.Status)
}

func TestResumeRejectsWrongUser(t *testing.T) {
	store := taskstore.New()
	task := pausedHitlTask(t, store)
	o := newOrchestrator(store, &fakeModel{})
	o.Authorizer = fakeAuthorizer{userID: "someone-else"}

	_, err := o.Resume(context.Background(), "Bearer tok", task.TaskID, agentapi.ResumeRequest{Action: agentapi.ResumeApprove})
	require.Error(t, err)
}

func TestResumeRejectsNonPausedTask(t *testing.T) {
	store := taskstore.New()
	task := pausedHitlTask(t, store)
	task.Status = agentapi.TaskCompleted
	require.NoError(t, store.Update(context.Background(), task))

	o := newOrchestrator(store, &fakeModel{})
	_, err := o.Resume(context.Background(), "Bearer tok", task.TaskID, agentapi.ResumeRequest{Action: agentapi.ResumeApprove})
	require.Error(t, err)
}

func TestResumeElicitationResponseReplaysToolCall(t *testing.T) {
	store := taskstore.New()
	now := time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC)
	task := &agentapi.Task{
		TaskID: "task-1", SessionID: "session-1", UserID: "user-1",
		Status: agentapi.TaskPaused, CreatedAt: now, LastUpdated: now,
		Items: []agentapi.TaskItem{
			{TaskID: "task-1", RequestID: "req-1", Role: agentapi.RoleAssistant,
				Item:        agentapi.MultiModalItem{ContentType: agentapi.ContentText, Content: ""},
				Updated:     now,
				ChatHistory: []byte(`[{"role":"user","content":"book a flight"}]`),
			},
		},
	}
	require.NoError(t, store.Create(context.Background(), task))

	disco := discovery.New()
	require.NoError(t, disco.PutElicitation(context.Background(), "user-1", "session-1", agentapi.PendingElicitation{
		ElicitationID: "elic-1", Mode: "form", Server: "flights", User: "user-1", Session: "session-1",
		Task: "task-1", Request: "req-1", ToolName: "book_flight", ToolArgs: map[string]any{"origin": "SFO"},
	}))

	var gotArgs map[string]any
	flightsPlugin := localFunc{pluginID: "mcp_flights", toolName: "book_flight", invoke: func(args map[string]any) (string, error) {
		gotArgs = args
		return "confirmed", nil
	}}

	model := &fakeModel{results: []agentapi.ChatCompletionResult{
		{Content: "booked", Done: true},
	}}
	o := newOrchestrator(store, model)
	o.Discovery = disco
	o.Builder = realKernelBuilder(t, model, flightsPlugin)

	resp, err := o.Resume(context.Background(), "Bearer tok", task.TaskID, agentapi.ResumeRequest{
		Action: agentapi.ResumeElicitationResponse,
		Payload: map[string]any{
			"elicitation_id": "elic-1",
			"response":       map[string]any{"destination": "JFK"},
		},
	})
	require.NoError(t, err)
	final, ok := resp.(*agentapi.TealAgentsResponse)
	require.True(t, ok)
	assert.Equal(t, "booked", final.Output)
	assert.Equal(t, "SFO", gotArgs["origin"])
	assert.Equal(t, "JFK", gotArgs["destination"])
}
