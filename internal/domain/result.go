package domain

import "time"

// ModelResult records the terminal outcome of one backend call for one model.
// Exactly one of Value and Err is meaningful: Err == nil means Value carries
// the response, Err != nil means the call failed and Value is the zero value.
// A ModelResult is constructed once, at call completion, and never mutated.
//
// Duration covers the backend invocation only. Admission-gate wait time is
// spent before the call timer starts and is never folded into Duration.
type ModelResult[T any] struct {
	// ModelID identifies the backend this result belongs to.
	ModelID string `json:"model_id"`

	// Value is the call's response payload. Meaningful only when Err is nil.
	Value T `json:"value,omitempty"`

	// Err is the call's failure cause, preserved as the original error so
	// callers can classify it with errors.Is and errors.As. Nil on success.
	Err error `json:"-"`

	// Duration is the elapsed wall-clock time of the backend invocation.
	Duration time.Duration `json:"duration"`

	// Request is the payload that was attempted, attached for trace replay.
	Request Request `json:"-"`
}

// Succeeded reports whether the call produced a value.
func (r ModelResult[T]) Succeeded() bool { return r.Err == nil }

// Success constructs the result of a completed call.
func Success[T any](modelID string, value T, duration time.Duration, req Request) ModelResult[T] {
	return ModelResult[T]{ModelID: modelID, Value: value, Duration: duration, Request: req}
}

// Failure constructs the result of a failed call, preserving the original
// cause. Duration is zero when the call never started (admission refusal,
// unknown model).
func Failure[T any](modelID string, cause error, duration time.Duration, req Request) ModelResult[T] {
	return ModelResult[T]{ModelID: modelID, Err: cause, Duration: duration, Request: req}
}

// ChatResult is the chat-call instantiation of ModelResult. Together with
// EmbeddingResult it forms the closed set of instantiations used by the engine.
type ChatResult = ModelResult[*ChatResponse]

// EmbeddingResult is the embedding-call instantiation of ModelResult.
type EmbeddingResult = ModelResult[*EmbeddingResponse]
