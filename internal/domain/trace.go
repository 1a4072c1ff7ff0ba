package domain

import "time"

// StepKind identifies what a step of an evaluation did.
type StepKind string

const (
	// StepKindLLM marks a structured chat-call step.
	StepKindLLM StepKind = "llm"

	// StepKindEmbedding marks an embedding-call step.
	StepKindEmbedding StepKind = "embedding"

	// StepKindCompute marks a pure-compute step with no backend calls.
	StepKindCompute StepKind = "compute"
)

// String returns the string representation of the step kind.
func (k StepKind) String() string { return string(k) }

// StepResults captures one completed stage of an evaluation. The evaluation
// run builds one StepResults as each stage finishes; once recorded it is
// read-only and eventually folded into the terminal EvaluationResult so
// observers can reconstruct the full timeline from a single snapshot.
type StepResults struct {
	// StepName is the caller's label for the stage.
	StepName string `json:"step_name"`

	// StepIndex is the 0-based position of the stage, monotonic within
	// one evaluation.
	StepIndex int `json:"step_index"`

	// TotalSteps is the evaluation's declared stage count.
	TotalSteps int `json:"total_steps"`

	// Kind reports whether this stage called chat backends, embedding
	// backends, or ran pure compute.
	Kind StepKind `json:"kind"`

	// Request is the payload dispatched at this stage. Nil for compute steps.
	Request Request `json:"-"`

	// Results holds the per-model outcomes of an LLM step, in the order the
	// model ids were submitted. Empty for other step kinds.
	Results []ChatResult `json:"results,omitempty"`

	// EmbeddingResults holds the per-model outcomes of an embedding step,
	// in submission order. Empty for other step kinds.
	EmbeddingResults []EmbeddingResult `json:"embedding_results,omitempty"`
}

// FailedResults returns one (modelID, cause) pair per model that failed at
// this step, in submission order, across both result lists.
func (s StepResults) FailedResults() []ModelExclusionEvent {
	var failed []ModelExclusionEvent
	for _, r := range s.Results {
		if r.Err != nil {
			failed = append(failed, ModelExclusionEvent{
				ModelID:   r.ModelID,
				StepName:  s.StepName,
				StepIndex: s.StepIndex,
				Cause:     r.Err,
			})
		}
	}
	for _, r := range s.EmbeddingResults {
		if r.Err != nil {
			failed = append(failed, ModelExclusionEvent{
				ModelID:   r.ModelID,
				StepName:  s.StepName,
				StepIndex: s.StepIndex,
				Cause:     r.Err,
			})
		}
	}
	return failed
}

// ModelExclusionEvent records that a specific model failed at a specific
// step. The set of excluded model ids across an evaluation is exactly the
// union of failed model ids across its steps.
type ModelExclusionEvent struct {
	// ModelID identifies the failed model.
	ModelID string `json:"model_id"`

	// StepName labels the step at which the model failed.
	StepName string `json:"step_name"`

	// StepIndex is the 0-based index of the failing step.
	StepIndex int `json:"step_index"`

	// Cause is the original per-model failure, preserved unwrapped.
	Cause error `json:"-"`
}

// EvaluationContext is the before-snapshot delivered to observers when an
// evaluation starts. Created once per evaluation, immutable.
type EvaluationContext struct {
	// EvaluationName labels the evaluation for observers.
	EvaluationName string `json:"evaluation_name"`

	// ModelIDs are the chat models the evaluation will fan out to.
	ModelIDs []string `json:"model_ids"`

	// EmbeddingModelIDs are the embedding models the evaluation will use,
	// empty when no embedding step is planned.
	EmbeddingModelIDs []string `json:"embedding_model_ids,omitempty"`

	// TotalSteps is the number of stages the evaluation declares up front.
	TotalSteps int `json:"total_steps"`
}

// EvaluationResult is the terminal after-snapshot of one evaluation. It is
// built exactly once, when the evaluation exits (normally or not), and never
// mutated afterward; observers receive it read-only.
type EvaluationResult struct {
	// EvaluationName labels the evaluation, matching the context snapshot.
	EvaluationName string `json:"evaluation_name"`

	// AggregatedScore is the policy-combined score. Nil when no model
	// produced a score, or when the evaluation aborted before aggregation.
	AggregatedScore *float64 `json:"aggregated_score,omitempty"`

	// PerModelScores maps each surviving model id to its individual score.
	PerModelScores map[string]float64 `json:"per_model_scores,omitempty"`

	// ExcludedModels lists the ids that failed at some step, deduplicated,
	// in first-failure order.
	ExcludedModels []string `json:"excluded_models,omitempty"`

	// Steps is the full per-stage trace in execution order.
	Steps []StepResults `json:"steps,omitempty"`

	// Exclusions records every model-failure-at-a-step with its cause.
	Exclusions []ModelExclusionEvent `json:"exclusions,omitempty"`

	// TotalDuration is the wall-clock time from evaluation start to the
	// construction of this snapshot.
	TotalDuration time.Duration `json:"total_duration"`

	// Error describes an abnormal termination (aborted evaluation logic or
	// aggregation failure). Empty for a normally completed evaluation.
	Error string `json:"error,omitempty"`
}
