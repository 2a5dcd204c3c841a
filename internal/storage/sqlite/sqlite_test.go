package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/teal-agents/agentcore/pkg/agentapi"
)

func openTest(t *testing.T) *Store {
	t.Helper()
	s, err := Open(Config{Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func newTask(taskID string, requestIDs ...string) *agentapi.Task {
	items := make([]agentapi.TaskItem, 0, len(requestIDs))
	for _, rid := range requestIDs {
		items = append(items, agentapi.TaskItem{
			TaskID:    taskID,
			RequestID: rid,
			Role:      agentapi.RoleUser,
			Updated:   time.Now().UTC(),
		})
	}
	return &agentapi.Task{
		TaskID:    taskID,
		SessionID: "session-1",
		UserID:    "user-1",
		Items:     items,
		CreatedAt: time.Now().UTC(),
		Status:    agentapi.TaskRunning,
	}
}

func TestTasksCreateAndLoad(t *testing.T) {
	store := openTest(t)
	tasks := store.Tasks()
	ctx := context.Background()

	task := newTask("task-1", "req-1")
	require.NoError(t, tasks.Create(ctx, task))

	got, err := tasks.Load(ctx, "task-1")
	require.NoError(t, err)
	require.Equal(t, "task-1", got.TaskID)
	require.Len(t, got.Items, 1)
}

func TestTasksCreateDuplicateFails(t *testing.T) {
	store := openTest(t)
	tasks := store.Tasks()
	ctx := context.Background()
	task := newTask("task-1", "req-1")
	require.NoError(t, tasks.Create(ctx, task))
	require.ErrorIs(t, tasks.Create(ctx, task), agentapi.ErrAlreadyExists)
}

func TestTasksLoadMissingFails(t *testing.T) {
	store := openTest(t)
	_, err := store.Tasks().Load(context.Background(), "missing")
	require.ErrorIs(t, err, agentapi.ErrNotFound)
}

func TestTasksUpdateRefreshesRequestIndex(t *testing.T) {
	store := openTest(t)
	tasks := store.Tasks()
	ctx := context.Background()

	task := newTask("task-1", "req-1")
	require.NoError(t, tasks.Create(ctx, task))

	updated := newTask("task-1", "req-2")
	updated.CreatedAt = task.CreatedAt
	require.NoError(t, tasks.Update(ctx, updated))

	got, err := tasks.LoadByRequestID(ctx, "req-2")
	require.NoError(t, err)
	require.Equal(t, "task-1", got.TaskID)

	_, err = tasks.LoadByRequestID(ctx, "req-1")
	require.ErrorIs(t, err, agentapi.ErrNotFound)
}

func TestTasksDeleteClearsIndex(t *testing.T) {
	store := openTest(t)
	tasks := store.Tasks()
	ctx := context.Background()

	task := newTask("task-1", "req-1")
	require.NoError(t, tasks.Create(ctx, task))
	require.NoError(t, tasks.Delete(ctx, "task-1"))

	_, err := tasks.Load(ctx, "task-1")
	require.ErrorIs(t, err, agentapi.ErrNotFound)
	_, err = tasks.LoadByRequestID(ctx, "req-1")
	require.ErrorIs(t, err, agentapi.ErrNotFound)
}

func TestAuthStoreRoundTrip(t *testing.T) {
	store := openTest(t)
	auth := store.Auth()
	ctx := context.Background()

	data := &agentapi.OAuth2AuthData{AccessToken: "tok", ExpiresAt: time.Now().Add(time.Hour).UTC()}
	require.NoError(t, auth.Store(ctx, "user-1", "server|repo", data))

	got, err := auth.Retrieve(ctx, "user-1", "server|repo")
	require.NoError(t, err)
	require.Equal(t, "tok", got.AccessToken)

	require.NoError(t, auth.Delete(ctx, "user-1", "server|repo"))
	_, err = auth.Retrieve(ctx, "user-1", "server|repo")
	require.ErrorIs(t, err, agentapi.ErrNotFound)
}

func TestAuthStoreClearUserData(t *testing.T) {
	store := openTest(t)
	auth := store.Auth()
	ctx := context.Background()

	require.NoError(t, auth.Store(ctx, "user-1", "a", &agentapi.OAuth2AuthData{AccessToken: "a"}))
	require.NoError(t, auth.Store(ctx, "user-1", "b", &agentapi.OAuth2AuthData{AccessToken: "b"}))
	require.NoError(t, auth.ClearUserData(ctx, "user-1"))

	_, err := auth.Retrieve(ctx, "user-1", "a")
	require.ErrorIs(t, err, agentapi.ErrNotFound)
	_, err = auth.Retrieve(ctx, "user-1", "b")
	require.ErrorIs(t, err, agentapi.ErrNotFound)
}

func TestDiscoveryMcpSessionAffinity(t *testing.T) {
	store := openTest(t)
	d := store.Discovery()
	ctx := context.Background()

	require.NoError(t, d.StoreMcpSessionID(ctx, "user-1", "sess-1", "github", "mcp-sess-abc"))

	got, err := d.McpSessionID(ctx, "user-1", "sess-1", "github")
	require.NoError(t, err)
	require.Equal(t, "mcp-sess-abc", got)

	// Clearing with the wrong expected value must not clobber the
	// stored session id.
	require.NoError(t, d.ClearMcpSessionID(ctx, "user-1", "sess-1", "github", "stale-id"))
	got, err = d.McpSessionID(ctx, "user-1", "sess-1", "github")
	require.NoError(t, err)
	require.Equal(t, "mcp-sess-abc", got)

	require.NoError(t, d.ClearMcpSessionID(ctx, "user-1", "sess-1", "github", "mcp-sess-abc"))
	got, err = d.McpSessionID(ctx, "user-1", "sess-1", "github")
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestDiscoveryElicitationRoundTrip(t *testing.T) {
	store := openTest(t)
	d := store.Discovery()
	ctx := context.Background()

	pending := agentapi.PendingElicitation{ElicitationID: "elic-1", Mode: "form", Server: "github"}
	require.NoError(t, d.PutElicitation(ctx, "user-1", "sess-1", pending))

	got, err := d.PopElicitation(ctx, "user-1", "sess-1", "elic-1")
	require.NoError(t, err)
	require.Equal(t, "github", got.Server)

	_, err = d.PopElicitation(ctx, "user-1", "sess-1", "elic-1")
	require.ErrorIs(t, err, agentapi.ErrNotFound)
}

func TestDiscoveryFlowStateLazyExpiry(t *testing.T) {
	store := openTest(t)
	d := store.Discovery()
	ctx := context.Background()

	flow := &agentapi.OAuthFlowState{
		State:     "state-1",
		UserID:    "user-1",
		CreatedAt: time.Now().UTC().Add(-time.Hour),
	}
	require.NoError(t, d.PutFlowState(ctx, flow, 300*time.Second))

	_, err := d.FlowStateByState(ctx, "state-1")
	require.ErrorIs(t, err, agentapi.ErrNotFound)
}

func TestDiscoveryFlowStateByUserRejectsWrongUser(t *testing.T) {
	store := openTest(t)
	d := store.Discovery()
	ctx := context.Background()

	flow := &agentapi.OAuthFlowState{State: "state-1", UserID: "user-1", CreatedAt: time.Now().UTC()}
	require.NoError(t, d.PutFlowState(ctx, flow, 300*time.Second))

	_, err := d.FlowStateByUser(ctx, "user-2", "state-1")
	require.ErrorIs(t, err, agentapi.ErrNotFound)

	got, err := d.FlowStateByUser(ctx, "user-1", "state-1")
	require.NoError(t, err)
	require.Equal(t, "state-1", got.State)
}
