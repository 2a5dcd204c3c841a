package chooser

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

type scriptedDecider struct {
	decisions []TeamDecision
	calls     int
}

func (s *scriptedDecider) DetermineNextAction(ctx context.Context, overallGoal string, agents []AgentDescriptor, conversation []ConversationMessage) (TeamDecision, error) {
	d := s.decisions[s.calls]
	s.calls++
	return d, nil
}

func TestRunTeamAssignsTasksUntilResultProvided(t *testing.T) {
	decider := &scriptedDecider{decisions: []TeamDecision{
		{Action: ActionAssignTask, TaskID: "t1", AgentName: "billing-agent", Instructions: "look up invoice"},
		{Action: ActionProvideResult, Result: "invoice is paid"},
	}}
	invoke := func(ctx context.Context, agentName string) (string, error) {
		require.Equal(t, "billing-agent", agentName)
		return "invoice #123 paid", nil
	}

	result, err := RunTeam(context.Background(), decider, "resolve the billing question", corpus(), invoke, 10)
	require.NoError(t, err)
	require.Equal(t, "invoice is paid", result)
	require.Equal(t, 2, decider.calls)
}

func TestRunTeamReturnsErrorOnAbort(t *testing.T) {
	decider := &scriptedDecider{decisions: []TeamDecision{
		{Action: ActionAbort, AbortReason: "no agent can handle this"},
	}}
	_, err := RunTeam(context.Background(), decider, "unsolvable goal", corpus(), nil, 10)
	require.ErrorContains(t, err, "no agent can handle this")
}

func TestRunTeamBoundsIterations(t *testing.T) {
	decider := &scriptedDecider{decisions: []TeamDecision{
		{Action: ActionAssignTask, TaskID: "t1", AgentName: "billing-agent"},
		{Action: ActionAssignTask, TaskID: "t2", AgentName: "billing-agent"},
	}}
	invoke := func(ctx context.Context, agentName string) (string, error) { return "ok", nil }

	_, err := RunTeam(context.Background(), decider, "goal", corpus(), invoke, 2)
	require.ErrorContains(t, err, "exceeded 2 iterations")
}
