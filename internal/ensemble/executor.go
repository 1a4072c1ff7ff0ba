// Package ensemble implements the fan-out/fan-in call orchestrator. One
// request is dispatched identically to a set of model ids in parallel; each
// model's success or failure is captured independently as a ModelResult, and
// the call returns only once every model has finished. No per-model error
// ever escapes the executor.
//
// Two disjoint worker pools back the executor. Backend calls run on the call
// pool; caller-supplied aggregation and decision logic runs on a separate
// compute pool, so compute work that itself waits on further call futures is
// never queued behind the call tasks it depends on.
package ensemble

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ahrav/go-quorum/internal/backend"
	"github.com/ahrav/go-quorum/internal/domain"
	"github.com/ahrav/go-quorum/pkg/async"
)

const (
	defaultCallWorkers    = 16
	defaultComputeWorkers = 4
)

// ErrNilStore indicates an executor constructed without a backend store.
var ErrNilStore = errors.New("ensemble: nil backend store")

// AdmissionGate is the rate limiter consulted before each outbound call.
// Acquire blocks or fails before the call's duration timer starts; a nil
// gate admits everything.
type AdmissionGate interface {
	Acquire(ctx context.Context, modelID string) error
}

// Config tunes the executor's pools and logging.
type Config struct {
	// CallWorkers sizes the backend-call pool. Defaults to 16.
	CallWorkers int

	// ComputeWorkers sizes the compute pool. Defaults to 4.
	ComputeWorkers int

	// Logger receives executor diagnostics. Nil falls back to slog.Default.
	Logger *slog.Logger
}

// Executor runs one call across many models in parallel. Construct with New;
// dependencies are explicit, there is no ambient global state.
type Executor struct {
	store backend.Store
	gate  AdmissionGate

	callPool    *async.Pool
	computePool *async.Pool

	logger    *slog.Logger
	closeOnce sync.Once
}

// New creates an executor over the given backend store and admission gate.
// A nil gate disables admission control.
func New(store backend.Store, gate AdmissionGate, cfg Config) (*Executor, error) {
	if store == nil {
		return nil, ErrNilStore
	}

	callWorkers := cfg.CallWorkers
	if callWorkers <= 0 {
		callWorkers = defaultCallWorkers
	}
	computeWorkers := cfg.ComputeWorkers
	if computeWorkers <= 0 {
		computeWorkers = defaultComputeWorkers
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "ensemble")

	return &Executor{
		store:       store,
		gate:        gate,
		callPool:    async.NewPool("calls", callWorkers, 2*callWorkers, logger),
		computePool: async.NewPool("compute", computeWorkers, 2*computeWorkers, logger),
		logger:      logger,
	}, nil
}

// Close shuts down both pools after draining queued work. Idempotent.
func (e *Executor) Close() {
	e.closeOnce.Do(func() {
		e.callPool.Close()
		e.computePool.Close()
	})
}

// Call fans the request out to every model id in parallel and joins all
// results. The returned slice is indexed by the input order; completion
// order is unspecified. An empty or nil id list is a valid no-op returning
// an empty slice. Individual failures, including admission refusals, are
// captured in their slot and never abort the remaining models.
func (e *Executor) Call(
	ctx context.Context,
	modelIDs []string,
	req *domain.ChatRequest,
	shape domain.ResponseShape,
) []domain.ChatResult {
	results := make([]domain.ChatResult, len(modelIDs))
	if len(modelIDs) == 0 {
		return results
	}

	var wg sync.WaitGroup
	for i, modelID := range modelIDs {
		i, modelID := i, modelID
		wg.Add(1)
		if err := e.callPool.Submit(func() {
			defer wg.Done()
			results[i] = e.chatCall(ctx, modelID, req, shape)
		}); err != nil {
			wg.Done()
			results[i] = domain.Failure[*domain.ChatResponse](modelID, err, 0, req)
		}
	}
	wg.Wait()
	return results
}

// CallOne is the single-model form of Call, with identical semantics.
func (e *Executor) CallOne(
	ctx context.Context,
	modelID string,
	req *domain.ChatRequest,
	shape domain.ResponseShape,
) domain.ChatResult {
	return e.Call(ctx, []string{modelID}, req, shape)[0]
}

// CallEmbedding fans the embedding request out to every model id in
// parallel, with the same isolation and join semantics as Call.
func (e *Executor) CallEmbedding(
	ctx context.Context,
	modelIDs []string,
	req *domain.EmbeddingRequest,
) []domain.EmbeddingResult {
	results := make([]domain.EmbeddingResult, len(modelIDs))
	if len(modelIDs) == 0 {
		return results
	}

	var wg sync.WaitGroup
	for i, modelID := range modelIDs {
		i, modelID := i, modelID
		wg.Add(1)
		if err := e.callPool.Submit(func() {
			defer wg.Done()
			results[i] = e.embeddingCall(ctx, modelID, req)
		}); err != nil {
			wg.Done()
			results[i] = domain.Failure[*domain.EmbeddingResponse](modelID, err, 0, req)
		}
	}
	wg.Wait()
	return results
}

// CallOneEmbedding is the single-model form of CallEmbedding.
func (e *Executor) CallOneEmbedding(
	ctx context.Context,
	modelID string,
	req *domain.EmbeddingRequest,
) domain.EmbeddingResult {
	return e.CallEmbedding(ctx, []string{modelID}, req)[0]
}

// CallAsync is the non-blocking form of Call. A dedicated goroutine owns the
// join barrier so no pool worker ever blocks waiting on another pool's work;
// observers read the joined results through the returned future.
func (e *Executor) CallAsync(
	ctx context.Context,
	modelIDs []string,
	req *domain.ChatRequest,
	shape domain.ResponseShape,
) *async.Future[[]domain.ChatResult] {
	future := async.NewFuture[[]domain.ChatResult]()
	go func() {
		future.Complete(e.Call(ctx, modelIDs, req, shape), nil)
	}()
	return future
}

// RunCompute executes caller-supplied aggregation or decision logic on the
// compute pool and blocks until it finishes. The separation from the call
// pool exists so fn may itself fan out further backend calls and wait on
// them without deadlocking.
func (e *Executor) RunCompute(ctx context.Context, fn func(context.Context) error) error {
	future := async.NewFuture[struct{}]()
	if err := e.computePool.Submit(func() {
		defer func() {
			if r := recover(); r != nil {
				future.Complete(struct{}{}, fmt.Errorf("compute task panicked: %v", r))
			}
		}()
		future.Complete(struct{}{}, fn(ctx))
	}); err != nil {
		return err
	}
	_, err := future.Wait(ctx)
	return err
}

// Compute runs a value-producing function on the executor's compute pool.
// Semantics match RunCompute; the generic form exists because methods cannot
// carry their own type parameters.
func Compute[T any](ctx context.Context, e *Executor, fn func(context.Context) (T, error)) (T, error) {
	future := async.NewFuture[T]()
	if err := e.computePool.Submit(func() {
		defer func() {
			if r := recover(); r != nil {
				var zero T
				future.Complete(zero, fmt.Errorf("compute task panicked: %v", r))
			}
		}()
		future.Complete(fn(ctx))
	}); err != nil {
		var zero T
		return zero, err
	}
	return future.Wait(ctx)
}

// chatCall runs the full per-model sequence for one structured call:
// admission, client resolution, timed invocation, shape validation. Every
// failure mode collapses into a Failure result carrying the original cause.
func (e *Executor) chatCall(
	ctx context.Context,
	modelID string,
	req *domain.ChatRequest,
	shape domain.ResponseShape,
) (result domain.ChatResult) {
	defer func() {
		if r := recover(); r != nil {
			result = domain.Failure[*domain.ChatResponse](
				modelID, fmt.Errorf("backend panicked: %v", r), 0, req)
		}
	}()

	if e.gate != nil {
		if err := e.gate.Acquire(ctx, modelID); err != nil {
			return domain.Failure[*domain.ChatResponse](modelID, err, 0, req)
		}
	}

	client, err := e.store.Chat(modelID)
	if err != nil {
		return domain.Failure[*domain.ChatResponse](modelID, err, 0, req)
	}

	// The timer starts after admission so queueing delay never pollutes
	// reported call latency.
	start := time.Now()
	resp, err := client.Chat(ctx, req)
	elapsed := time.Since(start)

	if err != nil {
		e.logger.Debug("chat call failed", "model", modelID, "error", err)
		return domain.Failure[*domain.ChatResponse](modelID, err, elapsed, req)
	}
	if err := shape.ValidateContent(resp.Content); err != nil {
		e.logger.Debug("chat response shape violation", "model", modelID, "error", err)
		return domain.Failure[*domain.ChatResponse](modelID, err, elapsed, req)
	}
	return domain.Success(modelID, resp, elapsed, req)
}

// embeddingCall mirrors chatCall for embedding backends. Embedding responses
// have no shape contract beyond the client's own decoding.
func (e *Executor) embeddingCall(
	ctx context.Context,
	modelID string,
	req *domain.EmbeddingRequest,
) (result domain.EmbeddingResult) {
	defer func() {
		if r := recover(); r != nil {
			result = domain.Failure[*domain.EmbeddingResponse](
				modelID, fmt.Errorf("backend panicked: %v", r), 0, req)
		}
	}()

	if e.gate != nil {
		if err := e.gate.Acquire(ctx, modelID); err != nil {
			return domain.Failure[*domain.EmbeddingResponse](modelID, err, 0, req)
		}
	}

	client, err := e.store.Embedding(modelID)
	if err != nil {
		return domain.Failure[*domain.EmbeddingResponse](modelID, err, 0, req)
	}

	start := time.Now()
	resp, err := client.Embed(ctx, req)
	elapsed := time.Since(start)

	if err != nil {
		e.logger.Debug("embedding call failed", "model", modelID, "error", err)
		return domain.Failure[*domain.EmbeddingResponse](modelID, err, elapsed, req)
	}
	return domain.Success(modelID, resp, elapsed, req)
}
