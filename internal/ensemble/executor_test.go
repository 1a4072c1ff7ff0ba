package ensemble

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-quorum/internal/backend"
	"github.com/ahrav/go-quorum/internal/domain"
	"github.com/ahrav/go-quorum/internal/ratelimit"
)

func testRequest() *domain.ChatRequest {
	return &domain.ChatRequest{
		Messages: []domain.Message{{Role: domain.RoleUser, Content: "score the answer"}},
	}
}

func staticChat(content string, delay time.Duration) backend.ChatFunc {
	return func(ctx context.Context, _ *domain.ChatRequest) (*domain.ChatResponse, error) {
		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		return &domain.ChatResponse{Content: content}, nil
	}
}

func failingChat(cause error) backend.ChatFunc {
	return func(_ context.Context, _ *domain.ChatRequest) (*domain.ChatResponse, error) {
		return nil, cause
	}
}

func newTestExecutor(t *testing.T, registry *backend.Registry, gate AdmissionGate, cfg Config) *Executor {
	t.Helper()
	executor, err := New(registry, gate, cfg)
	require.NoError(t, err)
	t.Cleanup(executor.Close)
	return executor
}

// TestNew_RequiresStore verifies construction fails without a backend store.
func TestNew_RequiresStore(t *testing.T) {
	_, err := New(nil, nil, Config{})
	assert.ErrorIs(t, err, ErrNilStore)
}

// TestExecutor_Call_PartialFailure verifies the core isolation contract:
// one model's failure never disturbs the others, and the original cause is
// preserved in the failed slot.
func TestExecutor_Call_PartialFailure(t *testing.T) {
	registry := backend.NewRegistry()
	cause := fmt.Errorf("dial backend: %w", errors.New("connection refused"))
	require.NoError(t, registry.RegisterChat("model-a", staticChat("0.8", 0)))
	require.NoError(t, registry.RegisterChat("model-b", failingChat(cause)))

	executor := newTestExecutor(t, registry, nil, Config{})

	results := executor.Call(context.Background(), []string{"model-a", "model-b"}, testRequest(), domain.TextShape())
	require.Len(t, results, 2)

	assert.Equal(t, "model-a", results[0].ModelID)
	assert.True(t, results[0].Succeeded())
	assert.Equal(t, "0.8", results[0].Value.Content)

	assert.Equal(t, "model-b", results[1].ModelID)
	assert.False(t, results[1].Succeeded())
	assert.ErrorIs(t, results[1].Err, cause, "original cause preserved, not a generic message")
	assert.NotNil(t, results[1].Request, "failed result carries the attempted request")
}

// TestExecutor_Call_EmptyModelList verifies the empty fan-out no-op.
func TestExecutor_Call_EmptyModelList(t *testing.T) {
	executor := newTestExecutor(t, backend.NewRegistry(), nil, Config{})

	results := executor.Call(context.Background(), nil, testRequest(), domain.TextShape())
	assert.NotNil(t, results)
	assert.Empty(t, results)
}

// TestExecutor_Call_UnknownModel verifies a store miss becomes a per-model
// failure rather than an escaping error.
func TestExecutor_Call_UnknownModel(t *testing.T) {
	executor := newTestExecutor(t, backend.NewRegistry(), nil, Config{})

	result := executor.CallOne(context.Background(), "ghost", testRequest(), domain.TextShape())
	require.False(t, result.Succeeded())
	assert.ErrorIs(t, result.Err, backend.ErrUnknownModel)
	assert.Zero(t, result.Duration, "a call that never started reports zero duration")
}

// TestExecutor_Call_PanickingBackend verifies a panicking client collapses
// into that model's failure slot.
func TestExecutor_Call_PanickingBackend(t *testing.T) {
	registry := backend.NewRegistry()
	require.NoError(t, registry.RegisterChat("ok", staticChat("fine", 0)))
	require.NoError(t, registry.RegisterChat("bomb", backend.ChatFunc(
		func(_ context.Context, _ *domain.ChatRequest) (*domain.ChatResponse, error) {
			panic("backend exploded")
		})))

	executor := newTestExecutor(t, registry, nil, Config{})

	results := executor.Call(context.Background(), []string{"ok", "bomb"}, testRequest(), domain.TextShape())
	assert.True(t, results[0].Succeeded())
	require.False(t, results[1].Succeeded())
	assert.Contains(t, results[1].Err.Error(), "backend exploded")
}

// TestExecutor_Call_ShapeViolation verifies response-shape failures surface
// through the per-model failure path.
func TestExecutor_Call_ShapeViolation(t *testing.T) {
	registry := backend.NewRegistry()
	require.NoError(t, registry.RegisterChat("json-model", staticChat(`{"score": 0.7}`, 0)))
	require.NoError(t, registry.RegisterChat("prose-model", staticChat("about a seven", 0)))

	executor := newTestExecutor(t, registry, nil, Config{})

	results := executor.Call(context.Background(),
		[]string{"json-model", "prose-model"}, testRequest(), domain.JSONShape())

	assert.True(t, results[0].Succeeded())
	require.False(t, results[1].Succeeded())
	assert.ErrorIs(t, results[1].Err, domain.ErrInvalidJSON)
}

// TestExecutor_Call_RateLimitRefusal verifies an admission refusal flows
// through the same ModelResult failure path as any other error.
func TestExecutor_Call_RateLimitRefusal(t *testing.T) {
	registry := backend.NewRegistry()
	require.NoError(t, registry.RegisterChat("limited", staticChat("x", 0)))

	gate, err := ratelimit.NewRegistry(
		map[string]string{"limited": "tiny"},
		map[string]ratelimit.Config{"tiny": {RPS: 1, Strategy: ratelimit.StrategyReject}},
		nil,
	)
	require.NoError(t, err)

	executor := newTestExecutor(t, registry, gate, Config{})
	ctx := context.Background()

	first := executor.CallOne(ctx, "limited", testRequest(), domain.TextShape())
	require.True(t, first.Succeeded())

	second := executor.CallOne(ctx, "limited", testRequest(), domain.TextShape())
	require.False(t, second.Succeeded())
	assert.ErrorIs(t, second.Err, ratelimit.ErrRateLimitExceeded)
	assert.Zero(t, second.Duration, "refused call never started")
}

// TestExecutor_Call_DurationExcludesAdmissionWait verifies the reported
// per-model duration covers the backend invocation only, tested with an
// artificially slow gate.
func TestExecutor_Call_DurationExcludesAdmissionWait(t *testing.T) {
	const (
		gateDelay = 200 * time.Millisecond
		callDelay = 30 * time.Millisecond
	)

	registry := backend.NewRegistry()
	require.NoError(t, registry.RegisterChat("m", staticChat("x", callDelay)))

	slowGate := gateFunc(func(_ context.Context, _ string) error {
		time.Sleep(gateDelay)
		return nil
	})

	executor := newTestExecutor(t, registry, slowGate, Config{})

	result := executor.CallOne(context.Background(), "m", testRequest(), domain.TextShape())
	require.True(t, result.Succeeded())

	assert.GreaterOrEqual(t, result.Duration, callDelay)
	assert.Less(t, result.Duration, gateDelay,
		"duration must reflect call time, not call+wait")
}

// gateFunc adapts a function to the AdmissionGate interface for tests.
type gateFunc func(ctx context.Context, modelID string) error

func (f gateFunc) Acquire(ctx context.Context, modelID string) error { return f(ctx, modelID) }

// TestExecutor_Call_ParallelDispatch verifies fan-out actually overlaps:
// four 100ms calls on a four-worker pool finish well under 400ms.
func TestExecutor_Call_ParallelDispatch(t *testing.T) {
	const callDelay = 100 * time.Millisecond

	registry := backend.NewRegistry()
	ids := make([]string, 4)
	for i := range ids {
		ids[i] = fmt.Sprintf("model-%d", i)
		require.NoError(t, registry.RegisterChat(ids[i], staticChat("x", callDelay)))
	}

	executor := newTestExecutor(t, registry, nil, Config{CallWorkers: 4})

	start := time.Now()
	results := executor.Call(context.Background(), ids, testRequest(), domain.TextShape())
	elapsed := time.Since(start)

	for _, r := range results {
		assert.True(t, r.Succeeded())
	}
	assert.Less(t, elapsed, 3*callDelay, "calls must run in parallel, not sequentially")
}

// TestExecutor_CallEmbedding verifies the embedding fan-out path, including
// partial failure.
func TestExecutor_CallEmbedding(t *testing.T) {
	registry := backend.NewRegistry()
	cause := errors.New("embedding backend down")
	require.NoError(t, registry.RegisterEmbedding("embed-a", backend.EmbeddingFunc(
		func(_ context.Context, req *domain.EmbeddingRequest) (*domain.EmbeddingResponse, error) {
			vectors := make([][]float64, len(req.Input))
			for i := range vectors {
				vectors[i] = []float64{1, 0}
			}
			return &domain.EmbeddingResponse{Vectors: vectors}, nil
		})))
	require.NoError(t, registry.RegisterEmbedding("embed-b", backend.EmbeddingFunc(
		func(_ context.Context, _ *domain.EmbeddingRequest) (*domain.EmbeddingResponse, error) {
			return nil, cause
		})))

	executor := newTestExecutor(t, registry, nil, Config{})

	req := &domain.EmbeddingRequest{Input: []string{"a", "b"}}
	results := executor.CallEmbedding(context.Background(), []string{"embed-a", "embed-b"}, req)
	require.Len(t, results, 2)

	require.True(t, results[0].Succeeded())
	assert.Len(t, results[0].Value.Vectors, 2)

	require.False(t, results[1].Succeeded())
	assert.ErrorIs(t, results[1].Err, cause)
}

// TestExecutor_ComputePoolSeparation verifies the deadlock class the second
// pool exists to prevent: compute logic that itself fans out backend calls
// completes even with a single-worker call pool saturated by those calls.
func TestExecutor_ComputePoolSeparation(t *testing.T) {
	registry := backend.NewRegistry()
	require.NoError(t, registry.RegisterChat("m1", staticChat("0.6", 10*time.Millisecond)))
	require.NoError(t, registry.RegisterChat("m2", staticChat("0.8", 10*time.Millisecond)))

	executor := newTestExecutor(t, registry, nil, Config{CallWorkers: 1, ComputeWorkers: 1})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	score, err := Compute(ctx, executor, func(ctx context.Context) (float64, error) {
		results := executor.Call(ctx, []string{"m1", "m2"}, testRequest(), domain.TextShape())
		var sum float64
		for _, r := range results {
			if !r.Succeeded() {
				return 0, r.Err
			}
			var v float64
			if err := json.Unmarshal([]byte(r.Value.Content), &v); err != nil {
				return 0, err
			}
			sum += v
		}
		return sum / float64(len(results)), nil
	})

	require.NoError(t, err, "compute waiting on call futures must not deadlock")
	assert.InDelta(t, 0.7, score, 1e-9)
}

// TestExecutor_RunCompute verifies error propagation and panic containment
// on the compute path.
func TestExecutor_RunCompute(t *testing.T) {
	executor := newTestExecutor(t, backend.NewRegistry(), nil, Config{})
	ctx := context.Background()

	t.Run("propagates the task error", func(t *testing.T) {
		cause := errors.New("aggregation impossible")
		err := executor.RunCompute(ctx, func(context.Context) error { return cause })
		assert.ErrorIs(t, err, cause)
	})

	t.Run("contains a panic as an error", func(t *testing.T) {
		err := executor.RunCompute(ctx, func(context.Context) error { panic("compute exploded") })
		require.Error(t, err)
		assert.Contains(t, err.Error(), "compute exploded")
	})

	t.Run("runs the task exactly once", func(t *testing.T) {
		var runs atomic.Int64
		require.NoError(t, executor.RunCompute(ctx, func(context.Context) error {
			runs.Add(1)
			return nil
		}))
		assert.Equal(t, int64(1), runs.Load())
	})
}

// TestExecutor_CallAsync verifies the future-returning variant joins the
// same results as the synchronous path.
func TestExecutor_CallAsync(t *testing.T) {
	registry := backend.NewRegistry()
	require.NoError(t, registry.RegisterChat("m", staticChat("done", 20*time.Millisecond)))

	executor := newTestExecutor(t, registry, nil, Config{})

	future := executor.CallAsync(context.Background(), []string{"m"}, testRequest(), domain.TextShape())
	results, err := future.Wait(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "done", results[0].Value.Content)
}

// TestExecutor_CloseIsIdempotent verifies repeated Close calls are safe.
func TestExecutor_CloseIsIdempotent(t *testing.T) {
	executor, err := New(backend.NewRegistry(), nil, Config{})
	require.NoError(t, err)

	executor.Close()
	assert.NotPanics(t, executor.Close)
}
