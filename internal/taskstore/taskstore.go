// Package taskstore provides an in-memory TaskPersistence implementation
// with a request-id secondary index, mirroring the teacher's
// internal/tasks.Store reference implementation but keyed on the
// Task/TaskItem model defined in pkg/agentapi.
package taskstore

import (
	"context"
	"sync"
	"time"

	"github.com/teal-agents/agentcore/pkg/agentapi"
)

// Store is a thread-safe, in-memory TaskPersistence.
type Store struct {
	mu          sync.RWMutex
	tasks       map[string]*agentapi.Task
	byRequestID map[string]string // request_id -> task_id
}

// New builds an empty Store.
func New() *Store {
	return &Store{
		tasks:       make(map[string]*agentapi.Task),
		byRequestID: make(map[string]string),
	}
}

var _ agentapi.TaskPersistence = (*Store)(nil)

// Create inserts a new task. It fails with agentapi.ErrAlreadyExists if
// the task id is already in use.
func (s *Store) Create(_ context.Context, task *agentapi.Task) error {
	if task == nil || task.TaskID == "" {
		return agentapi.ErrNotFound
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tasks[task.TaskID]; exists {
		return agentapi.ErrAlreadyExists
	}
	cp := cloneTask(task)
	s.tasks[task.TaskID] = cp
	s.indexRequestIDs(cp)
	return nil
}

// Load returns a task by id, or agentapi.ErrNotFound.
func (s *Store) Load(_ context.Context, taskID string) (*agentapi.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[taskID]
	if !ok {
		return nil, agentapi.ErrNotFound
	}
	return cloneTask(t), nil
}

// Update replaces a task's stored state wholesale and refreshes its
// request-id index, so that replays of a previously seen request id
// keep resolving to the task even as new items are appended.
func (s *Store) Update(_ context.Context, task *agentapi.Task) error {
	if task == nil || task.TaskID == "" {
		return agentapi.ErrNotFound
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tasks[task.TaskID]; !exists {
		return agentapi.ErrNotFound
	}
	task.LastUpdated = nowOrKeep(task.LastUpdated)
	cp := cloneTask(task)
	s.tasks[task.TaskID] = cp
	s.indexRequestIDs(cp)
	return nil
}

// Delete removes a task and its request-id index entries.
func (s *Store) Delete(_ context.Context, taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[taskID]
	if !ok {
		return agentapi.ErrNotFound
	}
	for _, rid := range t.RequestIDs() {
		delete(s.byRequestID, rid)
	}
	delete(s.tasks, taskID)
	return nil
}

// LoadByRequestID resolves a task via its secondary request-id index,
// used to detect idempotent replays (spec.md §4.1 "Idempotent replay").
func (s *Store) LoadByRequestID(_ context.Context, requestID string) (*agentapi.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	taskID, ok := s.byRequestID[requestID]
	if !ok {
		return nil, agentapi.ErrNotFound
	}
	t, ok := s.tasks[taskID]
	if !ok {
		return nil, agentapi.ErrNotFound
	}
	return cloneTask(t), nil
}

func (s *Store) indexRequestIDs(t *agentapi.Task) {
	for _, rid := range t.RequestIDs() {
		s.byRequestID[rid] = t.TaskID
	}
}

func nowOrKeep(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

func cloneTask(t *agentapi.Task) *agentapi.Task {
	cp := *t
	cp.Items = make([]agentapi.TaskItem, len(t.Items))
	for i, item := range t.Items {
		itemCp := item
		itemCp.PendingToolCalls = append([]agentapi.ToolCallIntent(nil), item.PendingToolCalls...)
		itemCp.ChatHistory = append([]byte(nil), item.ChatHistory...)
		cp.Items[i] = itemCp
	}
	return &cp
}
