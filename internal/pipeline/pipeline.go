// Package pipeline defines the external decomposition collaborators of the
// orchestrating agent. The core treats decomposition as an opaque function;
// how the result is computed (LLM, rules, remote API) is interchangeable.
package pipeline

import (
	"context"
	"strings"
)

// Task is one capability-tagged unit of work produced by decomposition.
type Task struct {
	Capability    string `json:"capability"`
	Description   string `json:"description"`
	AuthorityTier string `json:"authority_tier,omitempty"`
}

// Result is the outcome of decomposing one inbound request. A single task is
// semantically plain 1:1 routing; more than one triggers fan-out.
type Result struct {
	Tasks      []Task  `json:"tasks"`
	Summary    string  `json:"summary"`
	Confidence float64 `json:"confidence"`
}

// Decomposer turns message content plus a capability hint into a Result.
// A nil result with a nil error means the pipeline produced nothing.
type Decomposer interface {
	Decompose(ctx context.Context, content, capabilityHint string) (*Result, error)
}

// Snippet is one advisory context fragment for prompt enrichment.
type Snippet struct {
	Source  string  `json:"source"`
	Content string  `json:"content"`
	Score   float64 `json:"score,omitempty"`
}

// ContextQuery selects snippets relevant to a request.
type ContextQuery struct {
	Keywords   []string
	MaxResults int
}

// ContextProvider supplies ranked snippets to enrich the decomposition
// prompt. Purely advisory: its absence changes nothing structurally.
type ContextProvider interface {
	Query(ctx context.Context, q ContextQuery) ([]Snippet, error)
}

// NoopContextProvider is the null-object ContextProvider.
type NoopContextProvider struct{}

// Query always returns no snippets.
func (NoopContextProvider) Query(context.Context, ContextQuery) ([]Snippet, error) {
	return nil, nil
}

// Rule maps a content keyword to the tasks it implies.
type Rule struct {
	Keyword string
	Tasks   []Task
	Summary string
}

// StaticDecomposer is a rule-based Decomposer for offline use and tests.
// The first rule whose keyword appears in the content wins.
type StaticDecomposer struct {
	Rules      []Rule
	Confidence float64
}

// Decompose matches content against the rule set.
func (d *StaticDecomposer) Decompose(_ context.Context, content, _ string) (*Result, error) {
	lower := strings.ToLower(content)
	for _, r := range d.Rules {
		if strings.Contains(lower, strings.ToLower(r.Keyword)) {
			return &Result{Tasks: r.Tasks, Summary: r.Summary, Confidence: d.Confidence}, nil
		}
	}
	return nil, nil
}
