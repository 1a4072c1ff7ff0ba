package ratelimit

import (
	"errors"
	"fmt"
)

// ErrRateLimitExceeded is the sentinel every admission refusal matches via
// errors.Is, regardless of strategy or refusal reason.
var ErrRateLimitExceeded = errors.New("rate limit exceeded")

// Error is an admission refusal. It names the model whose call was refused
// and the provider whose bucket refused it, and wraps the underlying cause
// (context expiry under WAIT, nil for an immediate REJECT refusal).
//
// Executor callers never branch on this type: a refusal flows through the
// same per-model failure path as any other call error. The fields exist for
// diagnostics and tests.
type Error struct {
	// ModelID is the model whose call was refused.
	ModelID string `json:"model_id"`

	// Provider is the provider whose token bucket refused admission.
	Provider string `json:"provider"`

	// Strategy is the configured strategy that produced the refusal.
	Strategy Strategy `json:"strategy"`

	// Cause is the underlying failure for WAIT refusals
	// (context.DeadlineExceeded, context.Canceled). Nil under REJECT.
	Cause error `json:"-"`
}

// Error returns the refusal formatted with model and provider context.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("rate limit exceeded for model %q (provider %q): %v", e.ModelID, e.Provider, e.Cause)
	}
	return fmt.Sprintf("rate limit exceeded for model %q (provider %q)", e.ModelID, e.Provider)
}

// Is matches the package sentinel so errors.Is(err, ErrRateLimitExceeded)
// classifies any refusal.
func (e *Error) Is(target error) bool { return target == ErrRateLimitExceeded }

// Unwrap exposes the underlying cause for errors.Is chains.
func (e *Error) Unwrap() error { return e.Cause }
