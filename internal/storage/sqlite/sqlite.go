// Package sqlite provides the durable default TaskPersistence,
// AuthStorage, and DiscoveryStore implementation, backed by the pure-Go
// modernc.org/sqlite driver — the same driver the teacher's
// internal/memory/backend/sqlitevec uses for its own durable store. Each
// record is kept as a JSON blob under a narrow primary key, matching the
// teacher's own "metadata TEXT" JSON-column convention rather than a
// normalized relational schema, since every capability interface here
// treats its records as opaque (agentapi, not this package, owns shape).
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // pure-Go sqlite driver

	"github.com/teal-agents/agentcore/pkg/agentapi"
)

// Store is a single sqlite-backed database shared by the Tasks, Auth,
// and Discovery facades it exposes — one physical file (or ":memory:")
// backs all three capability interfaces, mirroring how the teacher's
// sqlitevec.Backend owns one *sql.DB for its own concern.
type Store struct {
	db *sql.DB
}

// Config configures the sqlite-backed Store.
type Config struct {
	// Path is the sqlite database file path, or ":memory:" for a
	// transient store (tests, single-process demos).
	Path string
}

// Open creates (or opens) the sqlite database at cfg.Path and ensures
// its schema exists.
func Open(cfg Config) (*Store, error) {
	path := cfg.Path
	if path == "" {
		path = ":memory:"
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %q: %w", path, err)
	}
	// The pure-Go driver handles one writer at a time; a single
	// connection avoids SQLITE_BUSY under concurrent task updates
	// without needing WAL/busy-timeout tuning for the default backend.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS tasks (
			task_id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			session_id TEXT NOT NULL,
			status TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			last_updated DATETIME NOT NULL,
			data TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_user ON tasks(user_id)`,
		`CREATE TABLE IF NOT EXISTS task_request_index (
			request_id TEXT PRIMARY KEY,
			task_id TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS auth_data (
			user_id TEXT NOT NULL,
			composite_key TEXT NOT NULL,
			data TEXT NOT NULL,
			PRIMARY KEY (user_id, composite_key)
		)`,
		`CREATE TABLE IF NOT EXISTS discovery_state (
			user_id TEXT NOT NULL,
			session_id TEXT NOT NULL,
			data TEXT NOT NULL,
			PRIMARY KEY (user_id, session_id)
		)`,
		`CREATE TABLE IF NOT EXISTS oauth_flow_state (
			state TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			data TEXT NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("sqlite: migrate: %w", err)
		}
	}
	return nil
}

// Tasks returns the agentapi.TaskPersistence facade over this store.
func (s *Store) Tasks() *TaskPersistence { return &TaskPersistence{db: s.db} }

// Auth returns the agentapi.AuthStorage facade over this store.
func (s *Store) Auth() *AuthStorage { return &AuthStorage{db: s.db} }

// Discovery returns the agentapi.DiscoveryStore facade over this store.
func (s *Store) Discovery() *DiscoveryStore { return &DiscoveryStore{db: s.db} }

// TaskPersistence is the sqlite-backed component C3 implementation
// (spec.md §4.1): atomic create/load/update/delete plus the
// request-id secondary index, durable across process restarts unlike
// internal/taskstore's in-memory reference implementation.
type TaskPersistence struct{ db *sql.DB }

var _ agentapi.TaskPersistence = (*TaskPersistence)(nil)

// Create inserts a new task row and its request-id index entries inside
// one transaction, failing with agentapi.ErrAlreadyExists if the task id
// is already in use.
func (t *TaskPersistence) Create(ctx context.Context, task *agentapi.Task) error {
	if task == nil || task.TaskID == "" {
		return agentapi.ErrNotFound
	}
	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin create: %w", err)
	}
	defer tx.Rollback()

	var exists int
	if err := tx.QueryRowContext(ctx, `SELECT 1 FROM tasks WHERE task_id = ?`, task.TaskID).Scan(&exists); err == nil {
		return agentapi.ErrAlreadyExists
	} else if err != sql.ErrNoRows {
		return fmt.Errorf("sqlite: create: checking existence: %w", err)
	}

	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("sqlite: create: marshal task: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO tasks (task_id, user_id, session_id, status, created_at, last_updated, data) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		task.TaskID, task.UserID, task.SessionID, string(task.Status), task.CreatedAt, task.LastUpdated, string(data),
	); err != nil {
		return fmt.Errorf("sqlite: create: insert: %w", err)
	}
	if err := reindexRequestIDs(ctx, tx, task); err != nil {
		return err
	}
	return tx.Commit()
}

// Load returns a task by id, or agentapi.ErrNotFound.
func (t *TaskPersistence) Load(ctx context.Context, taskID string) (*agentapi.Task, error) {
	return loadTaskRow(ctx, t.db, `SELECT data FROM tasks WHERE task_id = ?`, taskID)
}

// Update replaces a task's stored row and refreshes its request-id index:
// the old index entries derived from the prior task's items are removed
// before the new ones are written (spec.md §4.1).
func (t *TaskPersistence) Update(ctx context.Context, task *agentapi.Task) error {
	if task == nil || task.TaskID == "" {
		return agentapi.ErrNotFound
	}
	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin update: %w", err)
	}
	defer tx.Rollback()

	prior, err := loadTaskRowTx(ctx, tx, task.TaskID)
	if err != nil {
		return err
	}

	if task.LastUpdated.IsZero() {
		task.LastUpdated = time.Now().UTC()
	}
	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("sqlite: update: marshal task: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE tasks SET user_id = ?, session_id = ?, status = ?, last_updated = ?, data = ? WHERE task_id = ?`,
		task.UserID, task.SessionID, string(task.Status), task.LastUpdated, string(data), task.TaskID,
	); err != nil {
		return fmt.Errorf("sqlite: update: %w", err)
	}

	for _, rid := range prior.RequestIDs() {
		if _, err := tx.ExecContext(ctx, `DELETE FROM task_request_index WHERE request_id = ?`, rid); err != nil {
			return fmt.Errorf("sqlite: update: clearing stale index: %w", err)
		}
	}
	if err := reindexRequestIDs(ctx, tx, task); err != nil {
		return err
	}
	return tx.Commit()
}

// Delete removes a task row and its request-id index entries.
func (t *TaskPersistence) Delete(ctx context.Context, taskID string) error {
	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin delete: %w", err)
	}
	defer tx.Rollback()

	task, err := loadTaskRowTx(ctx, tx, taskID)
	if err != nil {
		return err
	}
	for _, rid := range task.RequestIDs() {
		if _, err := tx.ExecContext(ctx, `DELETE FROM task_request_index WHERE request_id = ?`, rid); err != nil {
			return fmt.Errorf("sqlite: delete: clearing index: %w", err)
		}
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE task_id = ?`, taskID); err != nil {
		return fmt.Errorf("sqlite: delete: %w", err)
	}
	return tx.Commit()
}

// LoadByRequestID resolves a task via its secondary request-id index.
// The index holds one task per request id: when more than one task
// carries the same request id, the index points at the task whose
// Create/Update wrote it last, and ties are not broken by task_id.
func (t *TaskPersistence) LoadByRequestID(ctx context.Context, requestID string) (*agentapi.Task, error) {
	var taskID string
	err := t.db.QueryRowContext(ctx, `SELECT task_id FROM task_request_index WHERE request_id = ?`, requestID).Scan(&taskID)
	if err == sql.ErrNoRows {
		return nil, agentapi.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: load by request id: %w", err)
	}
	return loadTaskRow(ctx, t.db, `SELECT data FROM tasks WHERE task_id = ?`, taskID)
}

func reindexRequestIDs(ctx context.Context, tx *sql.Tx, task *agentapi.Task) error {
	for _, rid := range task.RequestIDs() {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO task_request_index (request_id, task_id) VALUES (?, ?)`,
			rid, task.TaskID,
		); err != nil {
			return fmt.Errorf("sqlite: indexing request id %q: %w", rid, err)
		}
	}
	return nil
}

func loadTaskRow(ctx context.Context, db *sql.DB, query, arg string) (*agentapi.Task, error) {
	var data string
	err := db.QueryRowContext(ctx, query, arg).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, agentapi.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: load: %w", err)
	}
	return unmarshalTask(data)
}

func loadTaskRowTx(ctx context.Context, tx *sql.Tx, taskID string) (*agentapi.Task, error) {
	var data string
	err := tx.QueryRowContext(ctx, `SELECT data FROM tasks WHERE task_id = ?`, taskID).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, agentapi.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: load: %w", err)
	}
	return unmarshalTask(data)
}

// unmarshalTask decodes a task row, treating a corrupt JSON payload as a
// hard load error rather than panicking — spec.md §4.1 "Corrupted
// records on load must be deleted and surfaced as LoadError" (deletion
// is the caller's responsibility via Delete; this only surfaces the
// error).
func unmarshalTask(data string) (*agentapi.Task, error) {
	var task agentapi.Task
	if err := json.Unmarshal([]byte(data), &task); err != nil {
		return nil, fmt.Errorf("sqlite: corrupted task record: %w", err)
	}
	return &task, nil
}

// AuthStorage is the sqlite-backed component C2 implementation (spec.md
// §4.2): OAuth credentials keyed by (user_id, composite_key).
type AuthStorage struct{ db *sql.DB }

var _ agentapi.AuthStorage = (*AuthStorage)(nil)

// Store persists (or replaces) the OAuth credential for a user + composite key.
func (a *AuthStorage) Store(ctx context.Context, userID, compositeKey string, data *agentapi.OAuth2AuthData) error {
	if userID == "" || compositeKey == "" {
		return agentapi.ErrNotFound
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("sqlite: marshal auth data: %w", err)
	}
	_, err = a.db.ExecContext(ctx,
		`INSERT INTO auth_data (user_id, composite_key, data) VALUES (?, ?, ?)
		 ON CONFLICT(user_id, composite_key) DO UPDATE SET data = excluded.data`,
		userID, compositeKey, string(raw),
	)
	if err != nil {
		return fmt.Errorf("sqlite: store auth data: %w", err)
	}
	return nil
}

// Retrieve returns the stored credential, or agentapi.ErrNotFound.
func (a *AuthStorage) Retrieve(ctx context.Context, userID, compositeKey string) (*agentapi.OAuth2AuthData, error) {
	var raw string
	err := a.db.QueryRowContext(ctx,
		`SELECT data FROM auth_data WHERE user_id = ? AND composite_key = ?`, userID, compositeKey,
	).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, agentapi.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: retrieve auth data: %w", err)
	}
	var out agentapi.OAuth2AuthData
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, fmt.Errorf("sqlite: corrupted auth data record: %w", err)
	}
	return &out, nil
}

// Delete removes a single credential. It is not an error to delete a
// credential that does not exist.
func (a *AuthStorage) Delete(ctx context.Context, userID, compositeKey string) error {
	_, err := a.db.ExecContext(ctx, `DELETE FROM auth_data WHERE user_id = ? AND composite_key = ?`, userID, compositeKey)
	if err != nil {
		return fmt.Errorf("sqlite: delete auth data: %w", err)
	}
	return nil
}

// ClearUserData removes every credential owned by a user.
func (a *AuthStorage) ClearUserData(ctx context.Context, userID string) error {
	_, err := a.db.ExecContext(ctx, `DELETE FROM auth_data WHERE user_id = ?`, userID)
	if err != nil {
		return fmt.Errorf("sqlite: clear user auth data: %w", err)
	}
	return nil
}

// DiscoveryStore is the sqlite-backed component C4 implementation:
// per-(user, session) discovery state and short-TTL OAuth flow state.
// Per-session mutation ordering (spec.md §5) is delegated to sqlite's
// own transactional writes; callers that need the in-process per-session
// lock spec.md also names should layer it in front, as
// internal/discovery does for the in-memory reference implementation.
type DiscoveryStore struct{ db *sql.DB }

var _ agentapi.DiscoveryStore = (*DiscoveryStore)(nil)

// Get returns the DiscoveryState for (user, session), or a freshly
// initialized one if none has been written yet.
func (d *DiscoveryStore) Get(ctx context.Context, userID, sessionID string) (*agentapi.DiscoveryState, error) {
	var raw string
	err := d.db.QueryRowContext(ctx,
		`SELECT data FROM discovery_state WHERE user_id = ? AND session_id = ?`, userID, sessionID,
	).Scan(&raw)
	if err == sql.ErrNoRows {
		return agentapi.NewDiscoveryState(userID, sessionID), nil
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: get discovery state: %w", err)
	}
	var state agentapi.DiscoveryState
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		return nil, fmt.Errorf("sqlite: corrupted discovery state record: %w", err)
	}
	return &state, nil
}

// Put persists the DiscoveryState.
func (d *DiscoveryStore) Put(ctx context.Context, state *agentapi.DiscoveryState) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("sqlite: marshal discovery state: %w", err)
	}
	_, err = d.db.ExecContext(ctx,
		`INSERT INTO discovery_state (user_id, session_id, data) VALUES (?, ?, ?)
		 ON CONFLICT(user_id, session_id) DO UPDATE SET data = excluded.data`,
		state.UserID, state.SessionID, string(raw),
	)
	if err != nil {
		return fmt.Errorf("sqlite: put discovery state: %w", err)
	}
	return nil
}

// McpSessionID returns the stored MCP session id for (user, session,
// server), or "" if none has been established.
func (d *DiscoveryStore) McpSessionID(ctx context.Context, userID, sessionID, server string) (string, error) {
	state, err := d.Get(ctx, userID, sessionID)
	if err != nil {
		return "", err
	}
	ds, ok := state.DiscoveredServers[server]
	if !ok || ds.Session == nil {
		return "", nil
	}
	return ds.Session.McpSessionID, nil
}

// StoreMcpSessionID persists a newly issued MCP session id for (user,
// session, server).
func (d *DiscoveryStore) StoreMcpSessionID(ctx context.Context, userID, sessionID, server, mcpSessionID string) error {
	state, err := d.Get(ctx, userID, sessionID)
	if err != nil {
		return err
	}
	ds := state.DiscoveredServers[server]
	now := time.Now().UTC()
	ds.Session = &agentapi.McpSessionRef{McpSessionID: mcpSessionID, CreatedAt: now, LastUsedAt: now}
	state.DiscoveredServers[server] = ds
	return d.Put(ctx, state)
}

// ClearMcpSessionID clears the stored session id only if it still
// equals expected, avoiding clobbering a concurrently established newer
// session (spec.md §5).
func (d *DiscoveryStore) ClearMcpSessionID(ctx context.Context, userID, sessionID, server, expected string) error {
	state, err := d.Get(ctx, userID, sessionID)
	if err != nil {
		return err
	}
	ds, ok := state.DiscoveredServers[server]
	if !ok || ds.Session == nil || ds.Session.McpSessionID != expected {
		return nil
	}
	ds.Session = nil
	state.DiscoveredServers[server] = ds
	return d.Put(ctx, state)
}

// PutElicitation persists a pending elicitation for later resume.
func (d *DiscoveryStore) PutElicitation(ctx context.Context, userID, sessionID string, pending agentapi.PendingElicitation) error {
	state, err := d.Get(ctx, userID, sessionID)
	if err != nil {
		return err
	}
	state.PendingElicitations[pending.ElicitationID] = pending
	return d.Put(ctx, state)
}

// PopElicitation removes and returns a pending elicitation by id, or
// agentapi.ErrNotFound if no such elicitation is pending.
func (d *DiscoveryStore) PopElicitation(ctx context.Context, userID, sessionID, elicitationID string) (*agentapi.PendingElicitation, error) {
	state, err := d.Get(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	pending, ok := state.PendingElicitations[elicitationID]
	if !ok {
		return nil, agentapi.ErrNotFound
	}
	delete(state.PendingElicitations, elicitationID)
	if err := d.Put(ctx, state); err != nil {
		return nil, err
	}
	return &pending, nil
}

// PutFlowState persists an in-flight OAuth flow, retrievable by state
// value until ttl elapses.
func (d *DiscoveryStore) PutFlowState(ctx context.Context, flow *agentapi.OAuthFlowState, ttl time.Duration) error {
	raw, err := json.Marshal(flow)
	if err != nil {
		return fmt.Errorf("sqlite: marshal flow state: %w", err)
	}
	_, err = d.db.ExecContext(ctx,
		`INSERT INTO oauth_flow_state (state, user_id, created_at, data) VALUES (?, ?, ?, ?)
		 ON CONFLICT(state) DO UPDATE SET user_id = excluded.user_id, created_at = excluded.created_at, data = excluded.data`,
		flow.State, flow.UserID, flow.CreatedAt, string(raw),
	)
	if err != nil {
		return fmt.Errorf("sqlite: put flow state: %w", err)
	}
	return d.reapExpired(ctx, ttl)
}

// FlowStateByState looks up a flow by its opaque state value. An expired
// flow is treated as missing and deleted (lazy expiry, spec.md §5).
func (d *DiscoveryStore) FlowStateByState(ctx context.Context, state string) (*agentapi.OAuthFlowState, error) {
	flow, err := d.loadFlow(ctx, state)
	if err != nil {
		return nil, err
	}
	if flow.Expired(time.Now().UTC(), agentapi.DefaultFlowStateTTL) {
		_ = d.DeleteFlowState(ctx, state)
		return nil, agentapi.ErrNotFound
	}
	return flow, nil
}

// FlowStateByUser looks up a flow by (user, state), additionally
// confirming the flow belongs to userID (CSRF cross-check).
func (d *DiscoveryStore) FlowStateByUser(ctx context.Context, userID, state string) (*agentapi.OAuthFlowState, error) {
	flow, err := d.FlowStateByState(ctx, state)
	if err != nil {
		return nil, err
	}
	if flow.UserID != userID {
		return nil, agentapi.ErrNotFound
	}
	return flow, nil
}

// DeleteFlowState removes a flow, typically once its callback has been
// consumed (one-shot use).
func (d *DiscoveryStore) DeleteFlowState(ctx context.Context, state string) error {
	_, err := d.db.ExecContext(ctx, `DELETE FROM oauth_flow_state WHERE state = ?`, state)
	if err != nil {
		return fmt.Errorf("sqlite: delete flow state: %w", err)
	}
	return nil
}

func (d *DiscoveryStore) loadFlow(ctx context.Context, state string) (*agentapi.OAuthFlowState, error) {
	var raw string
	err := d.db.QueryRowContext(ctx, `SELECT data FROM oauth_flow_state WHERE state = ?`, state).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, agentapi.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: load flow state: %w", err)
	}
	var flow agentapi.OAuthFlowState
	if err := json.Unmarshal([]byte(raw), &flow); err != nil {
		return nil, fmt.Errorf("sqlite: corrupted flow state record: %w", err)
	}
	return &flow, nil
}

func (d *DiscoveryStore) reapExpired(ctx context.Context, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = agentapi.DefaultFlowStateTTL
	}
	cutoff := time.Now().UTC().Add(-ttl)
	_, err := d.db.ExecContext(ctx, `DELETE FROM oauth_flow_state WHERE created_at < ?`, cutoff)
	if err != nil {
		return fmt.Errorf("sqlite: reap expired flow state: %w", err)
	}
	return nil
}
