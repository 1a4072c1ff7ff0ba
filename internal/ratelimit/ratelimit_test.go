package ratelimit

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry(t *testing.T, models map[string]string, configs map[string]Config) *Registry {
	t.Helper()
	registry, err := NewRegistry(models, configs, nil)
	require.NoError(t, err)
	return registry
}

// TestConfig_Validate verifies construction-time validation: rps must be
// positive, the strategy must be known, the timeout non-negative.
func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{name: "valid wait config", cfg: Config{RPS: 10, Strategy: StrategyWait, Timeout: time.Second}},
		{name: "valid reject config", cfg: Config{RPS: 1, Strategy: StrategyReject}},
		{name: "zero timeout means wait forever", cfg: Config{RPS: 5, Strategy: StrategyWait}},
		{name: "zero rps rejected", cfg: Config{RPS: 0, Strategy: StrategyWait}, wantErr: true},
		{name: "negative rps rejected", cfg: Config{RPS: -3, Strategy: StrategyReject}, wantErr: true},
		{name: "unknown strategy rejected", cfg: Config{RPS: 5, Strategy: "backoff"}, wantErr: true},
		{name: "missing strategy rejected", cfg: Config{RPS: 5}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

// TestNewRegistry_RejectsInvalidConfig verifies a bad provider config fails
// at wiring time rather than at first acquisition.
func TestNewRegistry_RejectsInvalidConfig(t *testing.T) {
	_, err := NewRegistry(
		map[string]string{"m": "p"},
		map[string]Config{"p": {RPS: 0, Strategy: StrategyWait}},
		nil,
	)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `provider "p"`)
}

// TestRegistry_UnmappedModelsNeverLimited verifies models without a provider
// mapping, or whose provider has no config, are admitted immediately.
func TestRegistry_UnmappedModelsNeverLimited(t *testing.T) {
	registry := newTestRegistry(t,
		map[string]string{"mapped": "openai", "orphan": "ghost-provider"},
		map[string]Config{"openai": {RPS: 1, Strategy: StrategyReject}},
	)

	ctx := context.Background()
	for i := 0; i < 50; i++ {
		require.NoError(t, registry.Acquire(ctx, "unmapped-model"))
		require.NoError(t, registry.Acquire(ctx, "orphan"))
	}

	assert.True(t, registry.Limited("mapped"))
	assert.False(t, registry.Limited("unmapped-model"))
	assert.False(t, registry.Limited("orphan"))
}

// TestRegistry_RejectStrategy verifies bursting past RPS inside the refill
// window yields at least one refusal carrying model and provider context.
func TestRegistry_RejectStrategy(t *testing.T) {
	const rps = 5
	registry := newTestRegistry(t,
		map[string]string{"gpt-4o": "openai"},
		map[string]Config{"openai": {RPS: rps, Strategy: StrategyReject}},
	)

	ctx := context.Background()
	var admitted, refused int
	var lastErr error
	for i := 0; i < rps*3; i++ {
		if err := registry.Acquire(ctx, "gpt-4o"); err != nil {
			refused++
			lastErr = err
		} else {
			admitted++
		}
	}

	assert.GreaterOrEqual(t, refused, 1, "burst past capacity must refuse at least once")
	assert.LessOrEqual(t, admitted, rps+1, "admissions bounded near bucket capacity")

	require.Error(t, lastErr)
	assert.ErrorIs(t, lastErr, ErrRateLimitExceeded)

	var rlErr *Error
	require.ErrorAs(t, lastErr, &rlErr)
	assert.Equal(t, "gpt-4o", rlErr.ModelID)
	assert.Equal(t, "openai", rlErr.Provider)
	assert.Equal(t, StrategyReject, rlErr.Strategy)
}

// TestRegistry_WaitStrategy_AllEventuallyAdmitted verifies the core WAIT
// property: N >> RPS concurrent acquisitions with an infinite timeout all
// succeed, and the observed consumption rate stays near RPS.
func TestRegistry_WaitStrategy_AllEventuallyAdmitted(t *testing.T) {
	const (
		rps = 10
		n   = 30
	)
	registry := newTestRegistry(t,
		map[string]string{"claude": "anthropic"},
		map[string]Config{"anthropic": {RPS: rps, Strategy: StrategyWait}},
	)

	ctx := context.Background()
	start := time.Now()

	var wg sync.WaitGroup
	var failures atomic.Int64
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := registry.Acquire(ctx, "claude"); err != nil {
				failures.Add(1)
			}
		}()
	}
	wg.Wait()
	elapsed := time.Since(start)

	assert.Zero(t, failures.Load(), "infinite-timeout WAIT acquisitions must all succeed")

	// The bucket starts full (rps tokens); the remaining n-rps admissions
	// refill at rps per second. Generous lower bound to stay robust on
	// loaded CI machines.
	minElapsed := time.Duration(float64(n-rps) / float64(rps) * 0.7 * float64(time.Second))
	assert.GreaterOrEqual(t, elapsed, minElapsed,
		"admission rate should be bounded near the configured RPS")
}

// TestRegistry_WaitStrategy_Timeout verifies a bounded WAIT fails with the
// rate-limit error kind once the timeout expires, naming model and provider.
func TestRegistry_WaitStrategy_Timeout(t *testing.T) {
	registry := newTestRegistry(t,
		map[string]string{"slow-model": "slowco"},
		map[string]Config{"slowco": {RPS: 1, Strategy: StrategyWait, Timeout: 50 * time.Millisecond}},
	)

	ctx := context.Background()
	require.NoError(t, registry.Acquire(ctx, "slow-model"), "first token is free")

	err := registry.Acquire(ctx, "slow-model")
	require.Error(t, err, "second acquisition cannot refill within 50ms at 1 rps")
	assert.ErrorIs(t, err, ErrRateLimitExceeded)

	var rlErr *Error
	require.ErrorAs(t, err, &rlErr)
	assert.Equal(t, "slow-model", rlErr.ModelID)
	assert.Equal(t, "slowco", rlErr.Provider)
	assert.Error(t, rlErr.Cause, "timeout refusal carries the context cause")
}

// TestRegistry_WaitStrategy_Cancellation verifies cancelling the caller's
// context fails the acquisition with the rate-limit error kind wrapping the
// cancellation cause.
func TestRegistry_WaitStrategy_Cancellation(t *testing.T) {
	registry := newTestRegistry(t,
		map[string]string{"m": "p"},
		map[string]Config{"p": {RPS: 1, Strategy: StrategyWait}},
	)

	require.NoError(t, registry.Acquire(context.Background(), "m"))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- registry.Acquire(ctx, "m") }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrRateLimitExceeded)
		assert.ErrorIs(t, err, context.Canceled, "cancellation cause preserved through Unwrap")
	case <-time.After(2 * time.Second):
		t.Fatal("cancelled acquisition did not return")
	}
}

// TestRegistry_ProviderIsolation verifies an exhausted provider never blocks
// acquisition on a different provider.
func TestRegistry_ProviderIsolation(t *testing.T) {
	registry := newTestRegistry(t,
		map[string]string{"a-model": "provider-a", "b-model": "provider-b"},
		map[string]Config{
			"provider-a": {RPS: 1, Strategy: StrategyReject},
			"provider-b": {RPS: 100, Strategy: StrategyReject},
		},
	)

	ctx := context.Background()

	// Exhaust provider A.
	_ = registry.Acquire(ctx, "a-model")
	require.Error(t, registry.Acquire(ctx, "a-model"))

	// Provider B admits freely regardless.
	for i := 0; i < 20; i++ {
		assert.NoError(t, registry.Acquire(ctx, "b-model"))
	}
}

// TestRegistry_SharedProviderBucket verifies all model ids of one provider
// draw from the same bucket.
func TestRegistry_SharedProviderBucket(t *testing.T) {
	registry := newTestRegistry(t,
		map[string]string{"gpt-4o": "openai", "gpt-4o-mini": "openai"},
		map[string]Config{"openai": {RPS: 2, Strategy: StrategyReject}},
	)

	ctx := context.Background()
	require.NoError(t, registry.Acquire(ctx, "gpt-4o"))
	require.NoError(t, registry.Acquire(ctx, "gpt-4o-mini"))

	err := registry.Acquire(ctx, "gpt-4o-mini")
	assert.ErrorIs(t, err, ErrRateLimitExceeded,
		"sibling model ids share the provider bucket")
}

// TestRegistry_ConcurrentBucketCreation verifies racing first acquisitions
// materialize exactly one bucket per provider: with capacity 1, concurrent
// REJECT acquisitions admit at most one plus refill slack.
func TestRegistry_ConcurrentBucketCreation(t *testing.T) {
	registry := newTestRegistry(t,
		map[string]string{"m": "p"},
		map[string]Config{"p": {RPS: 1, Strategy: StrategyReject}},
	)

	ctx := context.Background()
	const goroutines = 50

	var wg sync.WaitGroup
	var admitted atomic.Int64
	barrier := make(chan struct{})
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-barrier
			if registry.Acquire(ctx, "m") == nil {
				admitted.Add(1)
			}
		}()
	}
	close(barrier)
	wg.Wait()

	// Two fresh capacity-1 buckets would admit two immediately; a single
	// bucket admits one (plus at most one refilled token of slack).
	assert.LessOrEqual(t, admitted.Load(), int64(2))
	assert.GreaterOrEqual(t, admitted.Load(), int64(1))
}

// TestError_Formatting verifies the refusal message names model and provider.
func TestError_Formatting(t *testing.T) {
	err := &Error{ModelID: "gpt-4o", Provider: "openai", Strategy: StrategyReject}
	assert.Contains(t, err.Error(), `"gpt-4o"`)
	assert.Contains(t, err.Error(), `"openai"`)

	wrapped := &Error{ModelID: "m", Provider: "p", Strategy: StrategyWait, Cause: context.DeadlineExceeded}
	assert.Contains(t, wrapped.Error(), context.DeadlineExceeded.Error())
	assert.True(t, errors.Is(wrapped, context.DeadlineExceeded))
}
