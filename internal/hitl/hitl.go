// Package hitl implements the human-in-the-loop gate (spec.md §4.7 /
// component C10), grounded on the teacher's internal/agent/approval.go
// ApprovalChecker: a three-way allowed/denied/pending decision per tool
// call, adapted here from per-agent allow/deny lists to catalog-driven
// Governance.RequiresHITL records keyed by catalog id.
package hitl

import (
	"github.com/teal-agents/agentcore/pkg/agentapi"
)

// Gate decides, for each proposed tool call, whether it may execute
// immediately or must pause the task for human approval.
type Gate struct {
	catalog agentapi.PluginCatalog
}

// New builds a Gate against catalog.
func New(catalog agentapi.PluginCatalog) *Gate {
	return &Gate{catalog: catalog}
}

// Check evaluates a batch of proposed tool calls. If any requires
// HITL, it returns a HitlInterventionRequired naming every call that
// requires approval (not just the first) so the orchestrator can
// present one consolidated approval request. A tool call whose catalog
// id has no entry is treated as non-intervention: logged by the caller
// and allowed to proceed (spec.md §4.7 "A missing catalog entry").
func (g *Gate) Check(calls []agentapi.ToolCallIntent) (*agentapi.HitlInterventionRequired, []string) {
	var pending []agentapi.ToolCallIntent
	var missing []string

	for _, call := range calls {
		catalogID := call.CatalogID()
		tool, ok := g.catalog.GetTool(catalogID)
		if !ok {
			missing = append(missing, catalogID)
			continue
		}
		if tool.Governance.RequiresHITL {
			pending = append(pending, call)
		}
	}

	if len(pending) == 0 {
		return nil, missing
	}
	return &agentapi.HitlInterventionRequired{ToolCalls: pending}, missing
}
