package configuration

import "time"

// Default returns a complete configuration suitable for the demo CLI
// without a config file: three simulated chat judges and one embedding
// model across two rate-limited providers.
func Default() *Config {
	return &Config{
		Pools: PoolsConfig{
			CallWorkers:    16,
			ComputeWorkers: 4,
		},
		Providers: map[string]ProviderConfig{
			"openai": {
				RPS:      20,
				Strategy: "wait",
				Timeout:  5 * time.Second,
			},
			"anthropic": {
				RPS:      10,
				Strategy: "wait",
			},
		},
		Models: []ModelConfig{
			{ID: "gpt-4o", Provider: "openai", Kind: ModelKindChat},
			{ID: "gpt-4o-mini", Provider: "openai", Kind: ModelKindChat},
			{ID: "claude-sonnet", Provider: "anthropic", Kind: ModelKindChat},
			{ID: "embed-small", Provider: "openai", Kind: ModelKindEmbedding},
		},
		Aggregation: AggregationConfig{
			Method:    "average",
			Tolerance: 0.15,
		},
		Scenario: ScenarioConfig{
			Seed:      1,
			BaseScore: 0.75,
			Jitter:    0.1,
			Latency:   50 * time.Millisecond,
		},
	}
}
