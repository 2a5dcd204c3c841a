package mcpclient

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/teal-agents/agentcore/pkg/agentapi"
)

func boolPtr(b bool) *bool { return &b }

func TestDeriveGovernanceDestructiveRequiresHITL(t *testing.T) {
	g := deriveGovernance(toolAnnotations{DestructiveHint: boolPtr(true)}, agentapi.TrustUntrusted, nil)
	require.True(t, g.RequiresHITL)
	require.True(t, g.Cost.AtLeast(agentapi.CostMedium))
}

func TestDeriveGovernanceReadOnlyIsSafe(t *testing.T) {
	g := deriveGovernance(toolAnnotations{ReadOnlyHint: boolPtr(true)}, agentapi.TrustSandboxed, nil)
	require.False(t, g.RequiresHITL)
	require.Equal(t, agentapi.CostLow, g.Cost)
	require.Equal(t, agentapi.SensitivityPublic, g.DataSensitivity)
}

func TestDeriveGovernanceOpenWorldRaisesSensitivity(t *testing.T) {
	g := deriveGovernance(toolAnnotations{OpenWorldHint: boolPtr(true)}, agentapi.TrustTrusted, nil)
	require.True(t, g.DataSensitivity.AtLeast(agentapi.SensitivityProprietary))
}

func TestDeriveGovernanceTrustedSuppressesNonDestructiveHITL(t *testing.T) {
	g := deriveGovernance(toolAnnotations{}, agentapi.TrustTrusted, nil)
	require.False(t, g.RequiresHITL)
}

func TestDeriveGovernanceUntrustedForcesHITL(t *testing.T) {
	g := deriveGovernance(toolAnnotations{ReadOnlyHint: boolPtr(true)}, agentapi.TrustUntrusted, nil)
	require.True(t, g.RequiresHITL, "untrusted servers force HITL irrespective of hints")
}

func TestDeriveGovernanceDestructiveBeatsTrusted(t *testing.T) {
	g := deriveGovernance(toolAnnotations{DestructiveHint: boolPtr(true)}, agentapi.TrustTrusted, nil)
	require.True(t, g.RequiresHITL)
}

func TestDeriveGovernanceOverrideWins(t *testing.T) {
	override := &agentapi.Governance{RequiresHITL: false, Cost: agentapi.CostHigh, DataSensitivity: agentapi.SensitivitySensitive}
	g := deriveGovernance(toolAnnotations{DestructiveHint: boolPtr(true)}, agentapi.TrustUntrusted, override)
	require.Equal(t, *override, g)
}
