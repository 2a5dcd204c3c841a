package chooser

import (
	"context"
	"fmt"
)

// TaskStatus is an ExecutableTask's lifecycle state within a Plan.
type TaskStatus string

const (
	TaskPending TaskStatus = "pending"
	TaskDone    TaskStatus = "done"
)

// PreRequisite is a completed task's goal+result, handed to a
// downstream task that depends on it.
type PreRequisite struct {
	Goal   string
	Result string
}

// ExecutableTask is one unit of work within a Step: a goal assigned to
// a named agent, optionally depending on earlier tasks' results.
//
// Grounded on original_source's
// collab_orchestrator/planning_handler/plan.py ExecutableTask/Step and
// planning_handler/step_executor.py's StepExecutor, which this package
// generalizes from that system's own multi-agent "team" concept onto
// chooser's AgentDescriptor corpus and DispatchParallel primitive.
type ExecutableTask struct {
	TaskID            string
	TaskGoal          string
	TaskAgent         string
	PrerequisiteTasks []string
	Result            string
	Status            TaskStatus
}

// Step is one wave of tasks that can run concurrently because none of
// them depends on another task in the same step.
type Step struct {
	StepNumber int
	StepTasks  []ExecutableTask
}

// PerformTask invokes agentName with goal and its resolved
// prerequisites, returning the task's result text.
type PerformTask func(ctx context.Context, agentName, goal string, prerequisites []PreRequisite) (string, error)

// PlanExecutor runs a multi-step plan's tasks against PerformTask,
// resolving each task's prerequisite results from tasks completed in
// earlier steps (step_executor.py's self.task_accumulator).
type PlanExecutor struct {
	perform     PerformTask
	maxParallel int

	completed map[string]ExecutableTask
}

// NewPlanExecutor builds a PlanExecutor. maxParallel bounds concurrent
// task execution within one step (0 means unbounded, matching
// DispatchParallel's convention).
func NewPlanExecutor(perform PerformTask, maxParallel int) *PlanExecutor {
	return &PlanExecutor{perform: perform, maxParallel: maxParallel, completed: map[string]ExecutableTask{}}
}

// ExecuteStep runs every task in step concurrently (bounded by
// maxParallel), resolving each task's PrerequisiteTasks against tasks
// this executor has already completed in prior steps. Results are
// returned in StepTasks order, not completion order, so callers can
// match a result back to the task that produced it without depending on
// DispatchParallel's name-sorted aggregation.
func (p *PlanExecutor) ExecuteStep(ctx context.Context, step Step) ([]ExecutableTask, error) {
	out := make([]ExecutableTask, len(step.StepTasks))
	errs := make([]error, len(step.StepTasks))

	names := make([]string, len(step.StepTasks))
	byName := make(map[string]int, len(step.StepTasks))
	for i, t := range step.StepTasks {
		names[i] = t.TaskID
		byName[t.TaskID] = i
	}

	// DispatchParallel's name parameter is reused here as a task id
	// rather than an agent name; AgentResult.AgentName below holds the
	// task id that produced it, not the agent that ran it.
	result := DispatchParallel(ctx, names, p.maxParallel, func(ctx context.Context, taskID string) (string, error) {
		task := step.StepTasks[byName[taskID]]
		prereqs, err := p.resolvePrerequisites(task)
		if err != nil {
			return "", err
		}
		return p.perform(ctx, task.TaskAgent, task.TaskGoal, prereqs)
	})

	byTaskID := make(map[string]AgentResult, len(result.Results))
	for _, r := range result.Results {
		byTaskID[r.AgentName] = r
	}
	for i, t := range step.StepTasks {
		r := byTaskID[t.TaskID]
		t.Result = r.Output
		t.Status = TaskDone
		out[i] = t
		errs[i] = r.Err
		p.completed[t.TaskID] = t
	}

	for _, err := range errs {
		if err != nil {
			return out, err
		}
	}
	return out, nil
}

// ExecutePlan runs every step of steps in order, returning the
// completed tasks from the final step. A step only begins once every
// earlier step has finished, since a task may depend on any task from
// any prior step (spec.md's Recipient Chooser has no notion of staged
// dependencies; this supplement adds it without altering C11's existing
// single-turn Choose/DispatchParallel contract).
func (p *PlanExecutor) ExecutePlan(ctx context.Context, steps []Step) ([]ExecutableTask, error) {
	var last []ExecutableTask
	for _, step := range steps {
		completed, err := p.ExecuteStep(ctx, step)
		if err != nil {
			return completed, err
		}
		last = completed
	}
	return last, nil
}

func (p *PlanExecutor) resolvePrerequisites(task ExecutableTask) ([]PreRequisite, error) {
	prereqs := make([]PreRequisite, len(task.PrerequisiteTasks))
	for i, id := range task.PrerequisiteTasks {
		done, ok := p.completed[id]
		if !ok {
			return nil, fmt.Errorf("chooser: task %q depends on %q, which has not completed", task.TaskID, id)
		}
		prereqs[i] = PreRequisite{Goal: done.TaskGoal, Result: done.Result}
	}
	return prereqs, nil
}
