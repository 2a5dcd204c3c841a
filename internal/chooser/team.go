package chooser

import (
	"context"
	"fmt"
)

// TeamAction is the manager's decision for what happens next in a team
// run, mirroring original_source's
// collab_orchestrator/team_handler/manager_agent.py Action enum.
type TeamAction string

const (
	ActionProvideResult TeamAction = "provide_result"
	ActionAbort         TeamAction = "abort"
	ActionAssignTask    TeamAction = "assign_new_task"
)

// ConversationMessage is one completed exchange in a team run: a task
// assigned to an agent and the result it returned.
type ConversationMessage struct {
	TaskID       string
	AgentName    string
	Instructions string
	Result       string
}

// TeamDecision is the manager's verdict for one iteration of the team
// loop, carrying exactly the fields its Action needs.
type TeamDecision struct {
	Action TeamAction

	// ActionProvideResult / ActionAbort
	ResultTaskID string
	Result       string
	AbortReason  string

	// ActionAssignTask
	TaskID       string
	AgentName    string
	Instructions string
}

// TeamManagerDecider is the pluggable "manager agent" that inspects the
// overall goal, the registered agent corpus, and the conversation so
// far, and decides what happens next (manager_agent.py's
// ManagerAgent.determine_next_action, generalized from that system's
// InvokableAgent call to this package's AgentDescriptor corpus).
type TeamManagerDecider interface {
	DetermineNextAction(ctx context.Context, overallGoal string, agents []AgentDescriptor, conversation []ConversationMessage) (TeamDecision, error)
}

// RunTeam drives a team run: it repeatedly asks decider what to do
// next, dispatches ActionAssignTask decisions to invoke, and appends
// the result to the conversation, until the manager returns
// ActionProvideResult or ActionAbort (or maxIterations is reached, to
// bound a manager that never converges — the original Python has no
// such guard and can loop until an external timeout fires). It returns
// the final result text, or an error carrying the abort reason.
func RunTeam(ctx context.Context, decider TeamManagerDecider, overallGoal string, agents []AgentDescriptor, invoke Invoke, maxIterations int) (string, error) {
	var conversation []ConversationMessage

	for i := 0; i < maxIterations; i++ {
		decision, err := decider.DetermineNextAction(ctx, overallGoal, agents, conversation)
		if err != nil {
			return "", fmt.Errorf("chooser: team manager decision: %w", err)
		}

		switch decision.Action {
		case ActionProvideResult:
			return decision.Result, nil
		case ActionAbort:
			return "", fmt.Errorf("chooser: team run aborted: %s", decision.AbortReason)
		case ActionAssignTask:
			output, err := invoke(ctx, decision.AgentName)
			if err != nil {
				output = fmt.Sprintf("error: %v", err)
			}
			conversation = append(conversation, ConversationMessage{
				TaskID:       decision.TaskID,
				AgentName:    decision.AgentName,
				Instructions: decision.Instructions,
				Result:       output,
			})
		default:
			return "", fmt.Errorf("chooser: team manager returned unknown action %q", decision.Action)
		}
	}
	return "", fmt.Errorf("chooser: team run exceeded %d iterations without a result", maxIterations)
}
