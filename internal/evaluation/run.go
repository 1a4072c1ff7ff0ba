// Package evaluation provides the run harness driving one evaluation's
// lifecycle: the before notification, sequential step accumulation with
// exclusion tracking, score aggregation, and the guaranteed exactly-once
// terminal notification.
//
// The harness owns the in-progress step and exclusion lists; observers only
// ever see the immutable snapshots built from them. Steps are strictly
// sequential: the caller records step N's results before producing step
// N+1's inputs, because later steps may depend on earlier aggregated output.
package evaluation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/ahrav/go-quorum/internal/aggregation"
	"github.com/ahrav/go-quorum/internal/domain"
	"github.com/ahrav/go-quorum/internal/notify"
)

// validate is the package-level validator instance for definitions.
var validate = validator.New(validator.WithRequiredStructEnabled())

// ErrRunFinished indicates a step or completion recorded after the run's
// terminal snapshot was built.
var ErrRunFinished = errors.New("evaluation run already finished")

// Definition declares an evaluation up front: its name, the models it will
// fan out to, and the number of stages it plans to run.
type Definition struct {
	// Name labels the evaluation for observers.
	Name string `json:"name" validate:"required"`

	// ModelIDs are the chat models every call step fans out to.
	ModelIDs []string `json:"model_ids" validate:"required,min=1"`

	// EmbeddingModelIDs are the embedding models, empty when no embedding
	// step is planned.
	EmbeddingModelIDs []string `json:"embedding_model_ids"`

	// TotalSteps is the declared stage count. Must be positive.
	TotalSteps int `json:"total_steps" validate:"required,min=1"`
}

// Validate checks the definition against its field constraints.
func (d Definition) Validate() error { return validate.Struct(d) }

// Run is one evaluation in flight. Begin opens it; RecordStep accumulates
// stage traces; exactly one of Complete, Abort, or the deferred Close builds
// the terminal snapshot and fires the after notification.
//
// A Run is owned by the single goroutine driving the evaluation; the mutex
// exists so a misplaced concurrent RecordStep corrupts nothing.
type Run struct {
	id    string
	name  string
	start time.Time

	active *notify.ActiveEvaluation
	logger *slog.Logger

	mu         sync.Mutex
	modelIDs   []string
	totalSteps int
	steps      []domain.StepResults
	exclusions []domain.ModelExclusionEvent
	excluded   map[string]struct{}
	finished   bool
}

// Begin validates the definition, fires the before phase on the notifier,
// and starts the evaluation wall clock.
func Begin(ctx context.Context, notifier *notify.Notifier, def Definition, logger *slog.Logger) (*Run, error) {
	if err := def.Validate(); err != nil {
		return nil, fmt.Errorf("evaluation definition: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	ec := &domain.EvaluationContext{
		EvaluationName:    def.Name,
		ModelIDs:          append([]string(nil), def.ModelIDs...),
		EmbeddingModelIDs: append([]string(nil), def.EmbeddingModelIDs...),
		TotalSteps:        def.TotalSteps,
	}

	run := &Run{
		id:         uuid.New().String(),
		name:       def.Name,
		start:      time.Now(),
		active:     notifier.Begin(ctx, ec),
		logger:     logger.With("component", "evaluation", "evaluation", def.Name),
		modelIDs:   append([]string(nil), def.ModelIDs...),
		totalSteps: def.TotalSteps,
		excluded:   make(map[string]struct{}),
	}
	run.logger.Info("evaluation started",
		"run_id", run.id, "models", len(def.ModelIDs), "steps", def.TotalSteps)
	return run, nil
}

// ID returns the run's unique identifier.
func (r *Run) ID() string { return r.id }

// RecordStep appends one completed stage. The harness assigns the step's
// index (0-based, monotonic) and total-step count, then derives one
// ModelExclusionEvent per model that failed at the stage. Returns
// ErrRunFinished after the terminal snapshot was built.
func (r *Run) RecordStep(step domain.StepResults) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finished {
		return ErrRunFinished
	}

	step.StepIndex = len(r.steps)
	step.TotalSteps = r.totalSteps
	r.steps = append(r.steps, step)

	for _, exclusion := range step.FailedResults() {
		r.exclusions = append(r.exclusions, exclusion)
		r.excluded[exclusion.ModelID] = struct{}{}
		r.logger.Warn("model excluded",
			"model", exclusion.ModelID, "step", exclusion.StepName,
			"step_index", exclusion.StepIndex, "cause", exclusion.Cause)
	}
	return nil
}

// RecordComputeStep appends a pure-compute stage with no backend calls.
func (r *Run) RecordComputeStep(name string) error {
	return r.RecordStep(domain.StepResults{StepName: name, Kind: domain.StepKindCompute})
}

// ActiveModels returns the model ids that have not failed at any recorded
// step, in original definition order.
func (r *Run) ActiveModels() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	active := make([]string, 0, len(r.modelIDs))
	for _, id := range r.modelIDs {
		if _, gone := r.excluded[id]; !gone {
			active = append(active, id)
		}
	}
	return active
}

// ExcludedModels returns the failed model ids, deduplicated, in
// first-failure order.
func (r *Run) ExcludedModels() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.excludedLocked()
}

func (r *Run) excludedLocked() []string {
	seen := make(map[string]struct{}, len(r.excluded))
	var ids []string
	for _, exclusion := range r.exclusions {
		if _, dup := seen[exclusion.ModelID]; dup {
			continue
		}
		seen[exclusion.ModelID] = struct{}{}
		ids = append(ids, exclusion.ModelID)
	}
	return ids
}

// Complete builds the terminal snapshot from the accumulated trace and the
// surviving models' scores, aggregates under the given policy, and fires the
// after phase. The aggregated score is nil iff no model produced a score;
// deciding whether that case is fatal stays with the caller.
//
// An aggregation failure still fires the after phase, with the snapshot's
// Error annotated, and then propagates to the caller. Fatal to this
// evaluation only.
func (r *Run) Complete(
	ctx context.Context,
	scores map[string]float64,
	agg *aggregation.Aggregator,
) (*domain.EvaluationResult, error) {
	r.mu.Lock()
	if r.finished {
		r.mu.Unlock()
		return nil, ErrRunFinished
	}
	r.finished = true

	result := &domain.EvaluationResult{
		EvaluationName: r.name,
		PerModelScores: cloneScores(scores),
		ExcludedModels: r.excludedLocked(),
		Steps:          r.steps,
		Exclusions:     r.exclusions,
		TotalDuration:  time.Since(r.start),
	}
	r.mu.Unlock()

	var aggErr error
	if len(scores) > 0 && agg != nil {
		value, err := agg.Aggregate(scoreValues(scores))
		if err != nil {
			aggErr = err
			result.Error = err.Error()
		} else {
			result.AggregatedScore = &value
		}
	}

	r.logger.Info("evaluation finished",
		"run_id", r.id,
		"excluded", len(result.ExcludedModels),
		"duration", result.TotalDuration,
		"aggregated", result.AggregatedScore != nil)

	r.active.Complete(ctx, result)
	return result, aggErr
}

// Abort builds a terminal snapshot for an evaluation whose own logic failed
// midway and fires the after phase. No-op if the run already finished.
func (r *Run) Abort(ctx context.Context, cause error) {
	r.finish(ctx, cause)
}

// Close guarantees the after phase fires even when the evaluation logic
// panicked or returned early. Intended as `defer run.Close(ctx)` right after
// Begin; a no-op when Complete or Abort already ran.
func (r *Run) Close(ctx context.Context) {
	r.finish(ctx, errors.New("evaluation terminated before completion"))
}

func (r *Run) finish(ctx context.Context, cause error) {
	r.mu.Lock()
	if r.finished {
		r.mu.Unlock()
		return
	}
	r.finished = true

	result := &domain.EvaluationResult{
		EvaluationName: r.name,
		ExcludedModels: r.excludedLocked(),
		Steps:          r.steps,
		Exclusions:     r.exclusions,
		TotalDuration:  time.Since(r.start),
	}
	if cause != nil {
		result.Error = cause.Error()
	}
	r.mu.Unlock()

	r.logger.Warn("evaluation aborted", "run_id", r.id, "cause", cause)
	r.active.Complete(ctx, result)
}

func cloneScores(scores map[string]float64) map[string]float64 {
	if len(scores) == 0 {
		return nil
	}
	clone := make(map[string]float64, len(scores))
	for id, score := range scores {
		clone[id] = score
	}
	return clone
}

// scoreValues flattens the score map in model-id order so aggregation input
// is deterministic regardless of map iteration.
func scoreValues(scores map[string]float64) []float64 {
	ids := make([]string, 0, len(scores))
	for id := range scores {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	values := make([]float64, 0, len(ids))
	for _, id := range ids {
		values = append(values, scores[id])
	}
	return values
}
