// Package chooser implements the Recipient Chooser (spec.md §4.8 /
// component C11): a hybrid lexical+semantic ranker over a corpus of
// registered agents, followed by an LLM reranker and, when the reranker
// selects a parallel fan-out, bounded concurrent dispatch.
//
// The BM25 scorer and the weighted hybrid combination are grounded on
// the teacher's internal/memory/backend.SearchModeBM25/SearchModeHybrid
// constants and HybridAlpha weighting field; the fallback chain is
// grounded on internal/multiagent's
// CapabilityRouter and Router, adapted here from tool-capability
// routing to lexical+semantic agent ranking plus an LLM reranker.
package chooser

import (
	"context"
	"math"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"
)

// AgentDescriptor is one entry in the registered agent corpus.
type AgentDescriptor struct {
	Name        string
	Description string
	Keywords    []string
	Embedding   []float32
}

// Confidence is the coarse band the LLM reranker reports.
type Confidence string

const (
	ConfidenceLow    Confidence = "low"
	ConfidenceMedium Confidence = "medium"
	ConfidenceHigh   Confidence = "high"
)

// FollowUpIntent classifies the purpose of a follow-up message.
type FollowUpIntent string

const (
	IntentKnowledge FollowUpIntent = "knowledge"
	IntentAction    FollowUpIntent = "action"
)

// Turn is one prior exchange in the conversation, used for follow-up
// analysis and reranker context.
type Turn struct {
	Query    string
	Agent    string
	Response string
}

// FollowUpAnalysisResult is step 1's output (spec.md §4.8 step 1).
type FollowUpAnalysisResult struct {
	IsFollowUp     bool
	OriginalQuery  string
	ExpandedQuery  string
	KeyTermsAdded  []string
	Intent         FollowUpIntent
}

// AnalyzeFollowUp inspects the last N turns and decides whether query is
// a follow-up to the prior exchange; if so it expands query with key
// terms drawn from the most recent agent response. followUpLookback
// bounds how many trailing turns are considered.
func AnalyzeFollowUp(query string, history []Turn, followUpLookback int) FollowUpAnalysisResult {
	result := FollowUpAnalysisResult{OriginalQuery: query, ExpandedQuery: query, Intent: IntentKnowledge}
	if len(history) == 0 || followUpLookback <= 0 {
		return result
	}
	window := history
	if len(window) > followUpLookback {
		window = window[len(window)-followUpLookback:]
	}

	if !looksLikeFollowUp(query) {
		return result
	}
	result.IsFollowUp = true
	result.Intent = classifyIntent(query)

	last := window[len(window)-1]
	added := topTerms(last.Response, 5)
	if len(added) > 0 {
		result.KeyTermsAdded = added
		result.ExpandedQuery = query + " " + strings.Join(added, " ")
	}
	return result
}

// followUpCues are lexical markers of a message referring back to prior
// context rather than opening a fresh topic.
var followUpCues = []string{"it", "that", "this", "those", "them", "again", "also", "what about", "and then"}

func looksLikeFollowUp(query string) bool {
	lower := strings.ToLower(query)
	words := tokenize(lower)
	if len(words) <= 6 {
		for _, cue := range followUpCues {
			if strings.Contains(lower, cue) {
				return true
			}
		}
	}
	return false
}

var actionVerbs = []string{"do", "run", "execute", "create", "delete", "update", "send", "deploy", "fix", "change", "set", "make"}

func classifyIntent(query string) FollowUpIntent {
	lower := strings.ToLower(query)
	for _, v := range actionVerbs {
		if strings.HasPrefix(lower, v+" ") || strings.Contains(lower, " "+v+" ") {
			return IntentAction
		}
	}
	return IntentKnowledge
}

// Weights configures the hybrid score combination (spec.md §4.8 step 2).
// Defaults are 0.25 lexical / 0.75 semantic per spec.md.
type Weights struct {
	BM25     float64
	Semantic float64
}

// DefaultWeights returns spec.md's default hybrid weighting.
func DefaultWeights() Weights { return Weights{BM25: 0.25, Semantic: 0.75} }

// ScoredAgent is one candidate with its hybrid confidence score.
type ScoredAgent struct {
	Agent      AgentDescriptor
	BM25Score  float64
	SemScore   float64
	Confidence float64
}

// Rank scores every agent in corpus against query+queryEmbedding using
// BM25 over description+keywords and cosine similarity over embeddings,
// combined per weights, and returns candidates ordered by descending
// confidence (ties broken lexicographically by agent name, spec.md
// §4.8 "Ordering").
func Rank(query string, queryEmbedding []float32, corpus []AgentDescriptor, weights Weights) []ScoredAgent {
	docs := make([][]string, len(corpus))
	for i, a := range corpus {
		docs[i] = tokenize(strings.ToLower(a.Description + " " + strings.Join(a.Keywords, " ")))
	}
	bm25 := newBM25(docs)
	queryTerms := tokenize(strings.ToLower(query))

	out := make([]ScoredAgent, len(corpus))
	for i, a := range corpus {
		bmScore := bm25.score(queryTerms, i)
		semScore := cosineSimilarity(queryEmbedding, a.Embedding)
		out[i] = ScoredAgent{
			Agent:      a,
			BM25Score:  bmScore,
			SemScore:   semScore,
			Confidence: weights.BM25*bmScore + weights.Semantic*semScore,
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Confidence != out[j].Confidence {
			return out[i].Confidence > out[j].Confidence
		}
		return out[i].Agent.Name < out[j].Agent.Name
	})
	return out
}

// SelectedAgent is the LLM reranker's decision (spec.md §4.8 step 3).
type SelectedAgent struct {
	AgentName       string
	Primary         bool
	Secondary       string
	Confidence      Confidence
	IsParallel      bool
	ParallelAgents  []string
}

// Reranker is the pluggable LLM reranking step. Implementations pass the
// top-k candidates, their scores, the follow-up analysis, and a
// conversation snippet to a small model prompt.
type Reranker interface {
	Rerank(ctx context.Context, query string, candidates []ScoredAgent, followUp FollowUpAnalysisResult, history []Turn) (SelectedAgent, error)
}

// Choose runs the full pipeline: follow-up analysis, hybrid retrieval,
// LLM reranking, with fallbackAgent used when the reranker's selection
// names an agent absent from corpus (spec.md §4.8 "Unknown selections
// fall through to a configured fallback agent").
func Choose(ctx context.Context, query string, queryEmbedding []float32, history []Turn, corpus []AgentDescriptor, weights Weights, topK int, reranker Reranker, fallbackAgent string) (SelectedAgent, FollowUpAnalysisResult, error) {
	followUp := AnalyzeFollowUp(query, history, 5)
	effectiveQuery := query
	if followUp.IsFollowUp {
		effectiveQuery = followUp.ExpandedQuery
	}

	ranked := Rank(effectiveQuery, queryEmbedding, corpus, weights)
	if topK > 0 && len(ranked) > topK {
		ranked = ranked[:topK]
	}

	known := make(map[string]bool, len(corpus))
	for _, a := range corpus {
		known[a.Name] = true
	}

	selected, err := reranker.Rerank(ctx, effectiveQuery, ranked, followUp, history)
	if err != nil {
		return SelectedAgent{}, followUp, err
	}
	if !known[selected.AgentName] {
		selected = SelectedAgent{AgentName: fallbackAgent, Primary: true, Confidence: ConfidenceLow}
	}
	return selected, followUp, nil
}

// AgentResult is one agent's outcome within a ParallelExecutionResult.
type AgentResult struct {
	AgentName string
	Output    string
	Err       error
}

// ParallelExecutionResult aggregates a bounded-concurrency fan-out
// (spec.md §4.8 step 4).
type ParallelExecutionResult struct {
	Results []AgentResult
}

// Invoke dispatches one agent by name; callers supply this to
// DispatchParallel.
type Invoke func(ctx context.Context, agentName string) (string, error)

// DispatchParallel runs invoke concurrently for every name in agents,
// bounded by maxAgents in flight, and returns results sorted by agent
// name (spec.md §5 "Ordering guarantees": "aggregation is deterministic
// in the set of inputs (sorted by agent name before synthesis)").
func DispatchParallel(ctx context.Context, agents []string, maxAgents int, invoke Invoke) ParallelExecutionResult {
	if maxAgents <= 0 {
		maxAgents = len(agents)
	}
	results := make([]AgentResult, len(agents))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxAgents)
	for i, name := range agents {
		i, name := i, name
		g.Go(func() error {
			out, err := invoke(gctx, name)
			results[i] = AgentResult{AgentName: name, Output: out, Err: err}
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(results, func(i, j int) bool { return results[i].AgentName < results[j].AgentName })
	return ParallelExecutionResult{Results: results}
}

// Synthesizer combines a ParallelExecutionResult into one response.
// Implementations typically prompt an LLM to merge the successful
// outputs; SingleBest is the built-in fallback (spec.md §4.8 step 4,
// "with a single-best-result fallback if synthesis fails").
type Synthesizer func(ctx context.Context, result ParallelExecutionResult) (string, error)

// SingleBest returns the first successful result's output, or an empty
// string if every agent failed.
func SingleBest(result ParallelExecutionResult) string {
	for _, r := range result.Results {
		if r.Err == nil {
			return r.Output
		}
	}
	return ""
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func tokenize(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9')
	})
}

func topTerms(text string, n int) []string {
	counts := map[string]int{}
	var order []string
	for _, t := range tokenize(strings.ToLower(text)) {
		if len(t) < 4 || stopwords[t] {
			continue
		}
		if counts[t] == 0 {
			order = append(order, t)
		}
		counts[t]++
	}
	sort.Slice(order, func(i, j int) bool { return counts[order[i]] > counts[order[j]] })
	if len(order) > n {
		order = order[:n]
	}
	return order
}

var stopwords = map[string]bool{
	"this": true, "that": true, "with": true, "from": true, "have": true,
	"about": true, "also": true, "then": true, "them": true,
}
