// Package orchestrator implements the Task Orchestrator (spec.md §4.9 /
// component C12): the state machine that drives one turn of a task from
// an inbound UserMessage to one of the six typed outputs spec.md names,
// persisting task state at every suspension point so a Paused task can
// be resumed later by component C13.
//
// It is grounded on the teacher's internal/agent/loop.go and
// internal/agent/runtime.go, which drive a comparable "invoke model,
// detect tool calls, gate, execute, loop" cycle; this package replaces
// the teacher's single-agent chat loop semantics with the spec's typed
// orchestration signals (errors.As dispatch on AuthRequiredError,
// HitlInterventionRequired, McpElicitationRequired) and task/session
// persistence model.
package orchestrator

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/teal-agents/agentcore/internal/kernel"
	"github.com/teal-agents/agentcore/pkg/agentapi"
)

// IDGenerator produces opaque identifiers for new tasks, sessions, and
// requests. Tests inject a deterministic fake rather than asserting on
// random ids (spec.md's ambient test-tooling guidance).
type IDGenerator interface {
	NewID() string
}

// UUIDGenerator is the production IDGenerator, backed by google/uuid
// (the teacher's own id-generation dependency).
type UUIDGenerator struct{}

func (UUIDGenerator) NewID() string { return uuid.NewString() }

// Clock abstracts time.Now for deterministic tests.
type Clock interface {
	Now() time.Time
}

// SystemClock is the production Clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }

// KernelBuilder is the subset of kernel.Builder the orchestrator depends
// on.
type KernelBuilder interface {
	Build(ctx context.Context, userID, sessionID, model string) (*kernel.Kernel, error)
}

// HitlGate is the subset of hitl.Gate the orchestrator depends on.
type HitlGate interface {
	Check(calls []agentapi.ToolCallIntent) (*agentapi.HitlInterventionRequired, []string)
}

// AuthInitiator is the subset of oauthbroker.Broker the orchestrator
// depends on to turn an AuthRequiredError into auth_url values for the
// client (spec.md §4.9 step 3).
type AuthInitiator interface {
	InitiateAuthorizationFlow(ctx context.Context, server agentapi.McpServerConfig, userID string) (string, error)
}

// URLs builds the resume/approval/rejection URLs surfaced in responses.
// The default implementation follows spec.md §6.1's
// "POST /{name}/{ver}/resume/{task_id}" path shape.
type URLs struct {
	Name    string
	Version string
}

func (u URLs) Resume(taskID string) string {
	return "/" + u.Name + "/" + u.Version + "/resume/" + taskID
}

func (u URLs) Approval(taskID string) string {
	return u.Resume(taskID) + "?action=approve"
}

func (u URLs) Rejection(taskID string) string {
	return u.Resume(taskID) + "?action=reject"
}
