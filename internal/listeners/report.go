package listeners

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/ahrav/go-quorum/internal/domain"
	"github.com/ahrav/go-quorum/internal/notify"
)

// Report accumulates one evaluation's trace for later rendering. It is the
// canonical stateful listener: the registered instance is only a template,
// and every evaluation gets its own accumulator via ForEvaluation, so
// concurrent evaluations never share report state.
//
// The instance that observed an evaluation exposes the captured snapshots
// through Context, Result, and Summary once the evaluation completes.
type Report struct {
	priority int

	mu        sync.Mutex
	ec        *domain.EvaluationContext
	result    *domain.EvaluationResult
	collected chan struct{}
}

// NewReport creates a report template with the given delivery priority.
func NewReport(priority int) *Report {
	return &Report{priority: priority, collected: make(chan struct{})}
}

// Name implements notify.Listener.
func (r *Report) Name() string { return "report" }

// Priority implements notify.Listener.
func (r *Report) Priority() int { return r.priority }

// ForEvaluation implements notify.Listener, returning a fresh accumulator.
// Callers keep the returned instance to read the report after completion.
func (r *Report) ForEvaluation() notify.Listener {
	return &Report{priority: r.priority, collected: make(chan struct{})}
}

// BeforeEvaluation implements notify.Listener, capturing the before-snapshot.
func (r *Report) BeforeEvaluation(_ context.Context, ec *domain.EvaluationContext) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ec = ec
	return nil
}

// AfterEvaluation implements notify.Listener, capturing the terminal
// snapshot and marking the report complete.
func (r *Report) AfterEvaluation(_ context.Context, result *domain.EvaluationResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.result == nil {
		r.result = result
		close(r.collected)
	}
	return nil
}

// Context returns the captured before-snapshot, or nil before delivery.
func (r *Report) Context() *domain.EvaluationContext {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ec
}

// Result returns the captured terminal snapshot, or nil before completion.
func (r *Report) Result() *domain.EvaluationResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.result
}

// Done returns a channel closed once the terminal snapshot arrives.
func (r *Report) Done() <-chan struct{} { return r.collected }

// Summary renders a plain-text report of the evaluation: per-model scores
// in model-id order, the exclusion timeline, and the aggregate. Returns an
// empty string before completion.
func (r *Report) Summary() string {
	r.mu.Lock()
	result := r.result
	r.mu.Unlock()
	if result == nil {
		return ""
	}

	var b strings.Builder
	fmt.Fprintf(&b, "evaluation %q: %d steps in %s\n",
		result.EvaluationName, len(result.Steps), result.TotalDuration)

	ids := make([]string, 0, len(result.PerModelScores))
	for id := range result.PerModelScores {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		fmt.Fprintf(&b, "  %s: %.4f\n", id, result.PerModelScores[id])
	}

	for _, exclusion := range result.Exclusions {
		fmt.Fprintf(&b, "  excluded %s at step %d (%s): %v\n",
			exclusion.ModelID, exclusion.StepIndex, exclusion.StepName, exclusion.Cause)
	}

	switch {
	case result.AggregatedScore != nil:
		fmt.Fprintf(&b, "  aggregate: %.4f\n", *result.AggregatedScore)
	case result.Error != "":
		fmt.Fprintf(&b, "  failed: %s\n", result.Error)
	default:
		b.WriteString("  aggregate: none (no surviving scores)\n")
	}
	return b.String()
}
