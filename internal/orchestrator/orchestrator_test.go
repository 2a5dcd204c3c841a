package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teal-agents/agentcore/internal/kernel"
	"github.com/teal-agents/agentcore/internal/taskstore"
	"github.com/teal-agents/agentcore/pkg/agentapi"
)

type fakeAuthorizer struct{ userID string }

func (f fakeAuthorizer) AuthorizeRequest(context.Context, string) (string, error) {
	return f.userID, nil
}

type fakeModel struct {
	results []agentapi.ChatCompletionResult
	calls   int
}

func (f *fakeModel) Complete(context.Context, agentapi.ChatCompletionRequest) (agentapi.ChatCompletionResult, error) {
	r := f.results[f.calls]
	f.calls++
	return r, nil
}

func (f *fakeModel) Stream(context.Context, agentapi.ChatCompletionRequest) (<-chan agentapi.ChatCompletionChunk, error) {
	ch := make(chan agentapi.ChatCompletionChunk, 1)
	close(ch)
	return ch, nil
}

type fakeBuilder struct {
	model agentapi.ChatCompletionClient
	tools []agentapi.ToolSchema
	err   error
}

func (f fakeBuilder) Build(context.Context, string, string, string) (*kernel.Kernel, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &kernel.Kernel{Model: f.model, Tools: f.tools}, nil
}

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

type seqIDs struct {
	ids []string
	i   int
}

func (s *seqIDs) NewID() string {
	id := s.ids[s.i]
	s.i++
	return id
}

func newOrchestrator(persistence agentapi.TaskPersistence, model agentapi.ChatCompletionClient) *Orchestrator {
	o := New(persistence, fakeAuthorizer{userID: "user-1"}, fakeBuilder{model: model}, hitlGateAllowAll{}, nil, nil, nil, "gpt", URLs{Name: "agent", Version: "1.0"})
	o.IDs = &seqIDs{ids: []string{"req-1", "session-1", "task-1", "req-2", "req-3"}}
	o.Clock = fixedClock{t: time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC)}
	return o
}

type hitlGateAllowAll struct{}

func (hitlGateAllowAll) Check([]agentapi.ToolCallIntent) (*agentapi.HitlInterventionRequired, []string) {
	return nil, nil
}

func TestInvokeCompletesTurnWithoutToolCalls(t *testing.T) {
	store := taskstore.New()
	model := &fakeModel{results: []agentapi.ChatCompletionResult{
		{Content: "hello there", Done: true},
	}}
	o := newOrchestrator(store, model)

	resp, err := o.Invoke(context.Background(), "Bearer tok", agentapi.UserMessage{
		Items: []agentapi.MultiModalItem{{ContentType: agentapi.ContentText, Content: "hi"}},
	})
	require.NoError(t, err)

	final, ok := resp.(*agentapi.TealAgentsResponse)
	require.True(t, ok)
	assert.Equal(t, "hello there", final.Output)
	assert.Equal(t, "task-1", final.TaskID)

	task, err := store.Load(context.Background(), "task-1")
	require.NoError(t, err)
	assert.Equal(t, agentapi.TaskCompleted, task.Status)
}

func TestInvokeReplaysIdempotentRequest(t *testing.T) {
	store := taskstore.New()
	model := &fakeModel{results: []agentapi.ChatCompletionResult{
		{Content: "first answer", Done: true},
	}}
	o := newOrchestrator(store, model)

	msg := agentapi.UserMessage{
		UserContext: map[string]string{"request_id": "fixed-req"},
		Items:       []agentapi.MultiModalItem{{ContentType: agentapi.ContentText, Content: "hi"}},
	}
	first, err := o.Invoke(context.Background(), "Bearer tok", msg)
	require.NoError(t, err)
	firstResp := first.(*agentapi.TealAgentsResponse)

	msg.TaskID = firstResp.TaskID
	second, err := o.Invoke(context.Background(), "Bearer tok", msg)
	require.NoError(t, err)
	secondResp := second.(*agentapi.TealAgentsResponse)

	assert.Equal(t, firstResp.Output, secondResp.Output)
	assert.Equal(t, 1, model.calls, "replay must not re-invoke the model")
}

func TestInvokePausesForHitl(t *testing.T) {
	store := taskstore.New()
	model := &fakeModel{results: []agentapi.ChatCompletionResult{
		{ToolCalls: []agentapi.ToolCallIntent{{ID: "c1", PluginID: "mcp_files", ToolName: "delete_file"}}},
	}}
	o := newOrchestrator(store, model)
	o.Gate = gatingGate{}

	resp, err := o.Invoke(context.Background(), "Bearer tok", agentapi.UserMessage{
		Items: []agentapi.MultiModalItem{{ContentType: agentapi.ContentText, Content: "delete it"}},
	})
	require.NoError(t, err)

	hitlResp, ok := resp.(*agentapi.HitlResponse)
	require.True(t, ok)
	assert.NotEmpty(t, hitlResp.ApprovalURL)
	assert.Len(t, hitlResp.ToolCalls, 1)

	task, err := store.Load(context.Background(), hitlResp.TaskID)
	require.NoError(t, err)
	assert.Equal(t, agentapi.TaskPaused, task.Status)
}

type gatingGate struct{}

func (gatingGate) Check(calls []agentapi.ToolCallIntent) (*agentapi.HitlInterventionRequired, []string) {
	return &agentapi.HitlInterventionRequired{ToolCalls: calls}, nil
}

func TestInvokeReturnsAuthChallengeWhenKernelBuildNeedsAuth(t *testing.T) {
	store := taskstore.New()
	o := New(store, fakeAuthorizer{userID: "user-1"},
		fakeBuilder{err: &agentapi.AuthRequiredError{Challenges: []agentapi.AuthChallenge{
			{ServerName: "files", AuthServer: "https://auth.example.com", Scopes: []string{"files.read"}},
		}}},
		hitlGateAllowAll{}, fakeAuthInitiator{url: "https://auth.example.com/authorize?x=1"}, nil, nil, "gpt", URLs{Name: "agent", Version: "1.0"})
	o.IDs = &seqIDs{ids: []string{"task-1", "session-1", "req-1"}}
	o.Clock = fixedClock{t: time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC)}

	resp, err := o.Invoke(context.Background(), "Bearer tok", agentapi.UserMessage{
		Items: []agentapi.MultiModalItem{{ContentType: agentapi.ContentText, Content: "hi"}},
	})
	require.NoError(t, err)

	challenge, ok := resp.(*agentapi.AuthChallengeResponse)
	require.True(t, ok)
	require.Len(t, challenge.AuthChallenges, 1)
	assert.Equal(t, "https://auth.example.com/authorize?x=1", challenge.AuthChallenges[0].AuthURL)

	task, err := store.Load(context.Background(), challenge.TaskID)
	require.NoError(t, err)
	assert.Equal(t, agentapi.TaskPaused, task.Status)
}

type fakeAuthInitiator struct{ url string }

func (f fakeAuthInitiator) InitiateAuthorizationFlow(context.Context, agentapi.McpServerConfig, string) (string, error) {
	return f.url, nil
}
