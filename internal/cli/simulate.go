package cli

import (
	"context"
	"fmt"
	"hash/fnv"
	"math/rand"
	"slices"
	"time"

	"github.com/ahrav/go-quorum/internal/backend"
	"github.com/ahrav/go-quorum/internal/configuration"
	"github.com/ahrav/go-quorum/internal/domain"
)

// buildSimulatedRegistry populates a backend registry with scenario-driven
// fake clients: each chat model returns a deterministic JSON score document,
// each embedding model a fixed-dimension vector, and models listed in
// fail_models always error. Latency is simulated per call and respects
// context cancellation.
func buildSimulatedRegistry(cfg *configuration.Config) (*backend.Registry, error) {
	registry := backend.NewRegistry()
	scenario := cfg.Scenario

	for _, model := range cfg.Models {
		fails := slices.Contains(scenario.FailModels, model.ID)

		switch model.Kind {
		case configuration.ModelKindChat:
			client := simulatedChat(model.ID, scenario, fails)
			if err := registry.RegisterChat(model.ID, client); err != nil {
				return nil, err
			}
		case configuration.ModelKindEmbedding:
			client := simulatedEmbedding(model.ID, scenario, fails)
			if err := registry.RegisterEmbedding(model.ID, client); err != nil {
				return nil, err
			}
		}
	}
	return registry, nil
}

// simulatedScore derives a stable per-model score from the scenario seed so
// repeated runs with one seed reproduce the same evaluation.
func simulatedScore(modelID string, scenario configuration.ScenarioConfig) float64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(modelID))
	rng := rand.New(rand.NewSource(scenario.Seed + int64(h.Sum64()%1_000_003)))

	score := scenario.BaseScore + scenario.Jitter*(2*rng.Float64()-1)
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

func simulateLatency(ctx context.Context, latency time.Duration) error {
	if latency <= 0 {
		return nil
	}
	select {
	case <-time.After(latency):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func simulatedChat(modelID string, scenario configuration.ScenarioConfig, fails bool) backend.ChatFunc {
	score := simulatedScore(modelID, scenario)
	return func(ctx context.Context, _ *domain.ChatRequest) (*domain.ChatResponse, error) {
		if err := simulateLatency(ctx, scenario.Latency); err != nil {
			return nil, err
		}
		if fails {
			return nil, fmt.Errorf("simulated outage for model %q", modelID)
		}
		content := fmt.Sprintf(`{"score": %.4f, "reasoning": "simulated judgement from %s"}`, score, modelID)
		return &domain.ChatResponse{Content: content, FinishReason: "stop", TokensUsed: 42}, nil
	}
}

func simulatedEmbedding(modelID string, scenario configuration.ScenarioConfig, fails bool) backend.EmbeddingFunc {
	return func(ctx context.Context, req *domain.EmbeddingRequest) (*domain.EmbeddingResponse, error) {
		if err := simulateLatency(ctx, scenario.Latency); err != nil {
			return nil, err
		}
		if fails {
			return nil, fmt.Errorf("simulated outage for model %q", modelID)
		}
		vectors := make([][]float64, len(req.Input))
		for i := range vectors {
			vectors[i] = []float64{0.1, 0.2, 0.3, 0.4}
		}
		return &domain.EmbeddingResponse{Vectors: vectors, TokensUsed: int64(8 * len(req.Input))}, nil
	}
}
