// Package ratelimit implements the per-provider admission gate consulted
// before every outbound backend call.
//
// Each provider owns one token bucket shared by all of its model ids:
// capacity equals the configured requests-per-second, refill is continuous
// at that rate (golang.org/x/time/rate semantics, not a hard per-second
// reset). Buckets are created lazily on first use and cached for the process
// lifetime. Acquisition on one provider never blocks acquisition on another.
//
// Acquire runs to completion before the executor starts a call's duration
// timer, so queueing delay under the WAIT strategy never pollutes reported
// call latency.
package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"golang.org/x/time/rate"
)

// validate is the package-level validator instance for config structs.
var validate = validator.New(validator.WithRequiredStructEnabled())

// Strategy selects how acquisition behaves when a provider's bucket is empty.
type Strategy string

const (
	// StrategyWait blocks until a token is available, bounded by the
	// configured timeout (zero timeout waits indefinitely).
	StrategyWait Strategy = "wait"

	// StrategyReject fails immediately when no token is available.
	StrategyReject Strategy = "reject"
)

// String returns the string representation of the strategy.
func (s Strategy) String() string { return string(s) }

// Config is one provider's rate limit. Immutable once validated.
type Config struct {
	// RPS is the sustained requests-per-second ceiling and the bucket's
	// burst capacity. Must be positive.
	RPS int `json:"rps" validate:"required,min=1"`

	// Strategy selects WAIT or REJECT behavior on an empty bucket.
	Strategy Strategy `json:"strategy" validate:"required,oneof=wait reject"`

	// Timeout bounds a WAIT acquisition. Zero means wait indefinitely.
	// Ignored under REJECT.
	Timeout time.Duration `json:"timeout" validate:"min=0"`
}

// Validate checks the config against its field constraints.
// Returns nil if valid, or a validation error describing the violation.
func (c Config) Validate() error { return validate.Struct(c) }

// Registry is the admission gate. It maps model ids to providers, providers
// to rate limit configs, and lazily materializes one token bucket per
// provider. Unmapped or unconfigured models are never limited.
//
// All methods are safe for concurrent use; the limiter map is the only
// mutable state and is guarded by double-checked locking so exactly one
// bucket exists per provider even under racing first acquisitions.
type Registry struct {
	providers map[string]string // model id -> provider name
	configs   map[string]Config // provider name -> limit

	mu       sync.RWMutex
	limiters map[string]*rate.Limiter

	logger *slog.Logger
}

// NewRegistry builds an admission gate from a static model-id-to-provider
// map and a provider-to-config map. Both maps are copied; every config is
// validated up front so a misconfigured provider fails at wiring time, not
// at first acquisition.
func NewRegistry(
	modelProviders map[string]string,
	configs map[string]Config,
	logger *slog.Logger,
) (*Registry, error) {
	if logger == nil {
		logger = slog.Default()
	}

	providers := make(map[string]string, len(modelProviders))
	for modelID, provider := range modelProviders {
		providers[modelID] = provider
	}

	limits := make(map[string]Config, len(configs))
	for provider, cfg := range configs {
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("rate limit config for provider %q: %w", provider, err)
		}
		limits[provider] = cfg
	}

	return &Registry{
		providers: providers,
		configs:   limits,
		limiters:  make(map[string]*rate.Limiter),
		logger:    logger.With("component", "ratelimit"),
	}, nil
}

// Acquire admits or refuses one call for the given model id.
//
// A model with no provider mapping, or whose provider has no configured
// limit, is admitted immediately. Otherwise the provider's bucket is
// consulted under the configured strategy:
//
//   - WAIT: block until a token is available. A zero timeout waits
//     indefinitely (bounded only by ctx); a positive timeout caps the wait.
//     Expiry or cancellation fails with *Error wrapping the cause.
//   - REJECT: take a token without blocking, or fail with *Error.
//
// Refusals of both kinds match ErrRateLimitExceeded via errors.Is.
func (r *Registry) Acquire(ctx context.Context, modelID string) error {
	provider, ok := r.providers[modelID]
	if !ok {
		return nil
	}
	cfg, ok := r.configs[provider]
	if !ok {
		return nil
	}

	limiter := r.getOrCreateLimiter(provider, cfg)

	switch cfg.Strategy {
	case StrategyReject:
		if !limiter.Allow() {
			r.logger.Debug("admission rejected",
				"model", modelID, "provider", provider, "rps", cfg.RPS)
			return &Error{ModelID: modelID, Provider: provider, Strategy: StrategyReject}
		}
		return nil

	case StrategyWait:
		waitCtx := ctx
		if cfg.Timeout > 0 {
			var cancel context.CancelFunc
			waitCtx, cancel = context.WithTimeout(ctx, cfg.Timeout)
			defer cancel()
		}
		if err := limiter.Wait(waitCtx); err != nil {
			r.logger.Debug("admission wait failed",
				"model", modelID, "provider", provider, "error", err)
			return &Error{ModelID: modelID, Provider: provider, Strategy: StrategyWait, Cause: err}
		}
		return nil

	default:
		// Unreachable for configs that passed validation.
		return fmt.Errorf("unknown rate limit strategy %q for provider %q", cfg.Strategy, provider)
	}
}

// Limited reports whether a model id is subject to admission control.
func (r *Registry) Limited(modelID string) bool {
	provider, ok := r.providers[modelID]
	if !ok {
		return false
	}
	_, ok = r.configs[provider]
	return ok
}

// getOrCreateLimiter returns the provider's bucket, creating it on first
// use. Double-checked locking keeps the fast path on the read lock and
// guarantees a single limiter per provider under racing creators.
func (r *Registry) getOrCreateLimiter(provider string, cfg Config) *rate.Limiter {
	r.mu.RLock()
	if limiter, ok := r.limiters[provider]; ok {
		r.mu.RUnlock()
		return limiter
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	if limiter, ok := r.limiters[provider]; ok {
		return limiter
	}

	limiter := rate.NewLimiter(rate.Limit(cfg.RPS), cfg.RPS)
	r.limiters[provider] = limiter
	r.logger.Debug("provider limiter created", "provider", provider, "rps", cfg.RPS)
	return limiter
}
