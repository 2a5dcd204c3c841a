package mcpclient

import "github.com/teal-agents/agentcore/pkg/agentapi"

// deriveGovernance applies spec.md §4.4's annotation rule table, then
// biases the result by trust level, then applies any manual per-tool
// override. An override replaces the derived record as a whole; its
// fields are not merged one by one with the derived values.
func deriveGovernance(ann toolAnnotations, trust agentapi.TrustLevel, override *agentapi.Governance) agentapi.Governance {
	g := agentapi.Governance{
		RequiresHITL:    false,
		Cost:            agentapi.CostLow,
		DataSensitivity: agentapi.SensitivityPublic,
	}

	if boolVal(ann.DestructiveHint) {
		g.RequiresHITL = true
		if !g.Cost.AtLeast(agentapi.CostMedium) {
			g.Cost = agentapi.CostMedium
		}
	}
	if boolVal(ann.ReadOnlyHint) {
		g.RequiresHITL = false
		g.Cost = agentapi.CostLow
		g.DataSensitivity = agentapi.SensitivityPublic
	}
	if boolVal(ann.OpenWorldHint) {
		if !g.DataSensitivity.AtLeast(agentapi.SensitivityProprietary) {
			g.DataSensitivity = agentapi.SensitivityProprietary
		}
	}

	switch trust {
	case agentapi.TrustTrusted:
		if !boolVal(ann.DestructiveHint) {
			g.RequiresHITL = false
		}
	case agentapi.TrustUntrusted:
		g.RequiresHITL = true
	}

	// A configured override replaces the derived record wholesale: it is
	// authored as one unit in McpServerConfig.GovernanceOverrides, so a
	// field-by-field merge against the zero value would make
	// "requires_hitl: false" unrepresentable.
	if override != nil {
		g = *override
	}

	return g
}

func boolVal(b *bool) bool {
	return b != nil && *b
}
