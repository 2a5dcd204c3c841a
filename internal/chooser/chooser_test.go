package chooser

import (
	"context"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func corpus() []AgentDescriptor {
	return []AgentDescriptor{
		{Name: "billing-agent", Description: "handles invoices and billing disputes", Keywords: []string{"invoice", "refund"}, Embedding: []float32{1, 0, 0}},
		{Name: "scheduling-agent", Description: "books meetings and manages calendars", Keywords: []string{"calendar", "meeting"}, Embedding: []float32{0, 1, 0}},
		{Name: "zzz-agent", Description: "generic fallback agent", Keywords: nil, Embedding: []float32{0, 0, 1}},
	}
}

func TestRankOrdersByHybridConfidenceThenName(t *testing.T) {
	ranked := Rank("I need a refund on my invoice", []float32{1, 0, 0}, corpus(), DefaultWeights())
	require.Len(t, ranked, 3)
	assert.Equal(t, "billing-agent", ranked[0].Agent.Name)

	// stable ordering is descending confidence, ties broken by name
	for i := 1; i < len(ranked); i++ {
		if ranked[i-1].Confidence == ranked[i].Confidence {
			assert.True(t, ranked[i-1].Agent.Name < ranked[i].Agent.Name)
		} else {
			assert.True(t, ranked[i-1].Confidence > ranked[i].Confidence)
		}
	}
}

func TestAnalyzeFollowUpDetectsShortReferentialMessage(t *testing.T) {
	history := []Turn{{Query: "what is my invoice total", Agent: "billing-agent", Response: "your invoice total is 42 dollars pending refund"}}
	result := AnalyzeFollowUp("what about that", history, 5)
	assert.True(t, result.IsFollowUp)
	assert.NotEmpty(t, result.KeyTermsAdded)
	assert.Contains(t, result.ExpandedQuery, "what about that")
}

func TestAnalyzeFollowUpFreshTopicIsNotFollowUp(t *testing.T) {
	history := []Turn{{Query: "what is my invoice total", Agent: "billing-agent", Response: "your invoice total is 42 dollars"}}
	result := AnalyzeFollowUp("please schedule a meeting with the design team tomorrow", history, 5)
	assert.False(t, result.IsFollowUp)
	assert.Equal(t, "please schedule a meeting with the design team tomorrow", result.ExpandedQuery)
}

type fixedReranker struct {
	selection SelectedAgent
}

func (f fixedReranker) Rerank(context.Context, string, []ScoredAgent, FollowUpAnalysisResult, []Turn) (SelectedAgent, error) {
	return f.selection, nil
}

func TestChooseFallsBackOnUnknownAgent(t *testing.T) {
	reranker := fixedReranker{selection: SelectedAgent{AgentName: "ghost-agent", Confidence: ConfidenceHigh}}
	selected, _, err := Choose(context.Background(), "refund please", []float32{1, 0, 0}, nil, corpus(), DefaultWeights(), 3, reranker, "zzz-agent")
	require.NoError(t, err)
	assert.Equal(t, "zzz-agent", selected.AgentName)
	assert.Equal(t, ConfidenceLow, selected.Confidence)
}

func TestChoosePassesThroughKnownAgent(t *testing.T) {
	reranker := fixedReranker{selection: SelectedAgent{AgentName: "billing-agent", Primary: true, Confidence: ConfidenceHigh}}
	selected, _, err := Choose(context.Background(), "refund please", []float32{1, 0, 0}, nil, corpus(), DefaultWeights(), 3, reranker, "zzz-agent")
	require.NoError(t, err)
	assert.Equal(t, "billing-agent", selected.AgentName)
}

func TestDispatchParallelOrdersByAgentNameAndBoundsConcurrency(t *testing.T) {
	agents := []string{"c-agent", "a-agent", "b-agent"}
	var active, maxActive int
	invoke := func(_ context.Context, name string) (string, error) {
		active++
		if active > maxActive {
			maxActive = active
		}
		defer func() { active-- }()
		return "out:" + name, nil
	}
	result := DispatchParallel(context.Background(), agents, 2, invoke)
	names := make([]string, len(result.Results))
	for i, r := range result.Results {
		names[i] = r.AgentName
	}
	assert.True(t, sort.StringsAreSorted(names))
	assert.LessOrEqual(t, maxActive, 2)
}

func TestSingleBestSkipsErrors(t *testing.T) {
	result := ParallelExecutionResult{Results: []AgentResult{
		{AgentName: "a", Err: assertErr()},
		{AgentName: "b", Output: "good"},
	}}
	assert.Equal(t, "good", SingleBest(result))
}

func assertErr() error { return &testError{} }

type testError struct{}

func (*testError) Error() string { return "boom" }
