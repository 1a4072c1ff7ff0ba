// Package configuration defines the external configuration surface the CLI
// loads from YAML: worker pool sizes, per-provider rate limits, the model
// catalog, the aggregation policy, and the demo scenario. Structs carry
// mapstructure tags for viper decoding and validate tags for field
// constraints; Validate additionally enforces referential integrity between
// models and providers.
package configuration

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/ahrav/go-quorum/internal/aggregation"
	"github.com/ahrav/go-quorum/internal/ratelimit"
)

// validate is the package-level validator instance for config structs.
var validate = validator.New(validator.WithRequiredStructEnabled())

// Model kinds accepted in the catalog.
const (
	ModelKindChat      = "chat"
	ModelKindEmbedding = "embedding"
)

// Config is the full configuration document.
type Config struct {
	// Pools sizes the executor's two worker pools.
	Pools PoolsConfig `mapstructure:"pools" validate:"required"`

	// Providers maps provider names to their rate limits. A provider
	// listed here limits every model mapped to it.
	Providers map[string]ProviderConfig `mapstructure:"providers" validate:"dive"`

	// Models is the backend catalog.
	Models []ModelConfig `mapstructure:"models" validate:"required,min=1,dive"`

	// Aggregation selects the score-combination policy.
	Aggregation AggregationConfig `mapstructure:"aggregation" validate:"required"`

	// Scenario configures the demo CLI's simulated backends. The engine
	// itself never reads it.
	Scenario ScenarioConfig `mapstructure:"scenario"`
}

// PoolsConfig sizes the executor pools.
type PoolsConfig struct {
	// CallWorkers sizes the backend-call pool.
	CallWorkers int `mapstructure:"call_workers" validate:"required,min=1"`

	// ComputeWorkers sizes the compute pool.
	ComputeWorkers int `mapstructure:"compute_workers" validate:"required,min=1"`
}

// ProviderConfig is one provider's rate limit.
type ProviderConfig struct {
	// RPS is the provider-wide requests-per-second ceiling.
	RPS int `mapstructure:"rps" validate:"required,min=1"`

	// Strategy is "wait" or "reject".
	Strategy string `mapstructure:"strategy" validate:"required,oneof=wait reject"`

	// Timeout bounds a wait acquisition; zero waits indefinitely.
	Timeout time.Duration `mapstructure:"timeout" validate:"min=0"`
}

// ModelConfig declares one backend model.
type ModelConfig struct {
	// ID is the opaque model identifier, unique across the catalog.
	ID string `mapstructure:"id" validate:"required"`

	// Provider names the rate-limit grouping. Empty means unlimited.
	Provider string `mapstructure:"provider"`

	// Kind is "chat" or "embedding".
	Kind string `mapstructure:"kind" validate:"required,oneof=chat embedding"`
}

// AggregationConfig selects the score-combination policy.
type AggregationConfig struct {
	// Method is one of average, median, min, max, consensus.
	Method string `mapstructure:"method" validate:"required,oneof=average median min max consensus"`

	// Tolerance is the consensus spread ceiling; ignored otherwise.
	Tolerance float64 `mapstructure:"tolerance" validate:"min=0"`
}

// ScenarioConfig shapes the demo CLI's simulated backends.
type ScenarioConfig struct {
	// Seed makes the simulated scores reproducible.
	Seed int64 `mapstructure:"seed"`

	// BaseScore is the center of the simulated score distribution.
	BaseScore float64 `mapstructure:"base_score" validate:"min=0,max=1"`

	// Jitter is the maximum deviation either side of the base score.
	Jitter float64 `mapstructure:"jitter" validate:"min=0,max=1"`

	// FailModels lists model ids whose simulated backends always fail.
	FailModels []string `mapstructure:"fail_models"`

	// Latency is the simulated per-call latency.
	Latency time.Duration `mapstructure:"latency" validate:"min=0"`
}

// Validate checks field constraints and cross-section integrity: unique
// model ids and no model referencing an undeclared provider.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("config validation: %w", err)
	}

	seen := make(map[string]struct{}, len(c.Models))
	for _, model := range c.Models {
		if _, dup := seen[model.ID]; dup {
			return fmt.Errorf("config validation: duplicate model id %q", model.ID)
		}
		seen[model.ID] = struct{}{}

		if model.Provider == "" {
			continue
		}
		if _, ok := c.Providers[model.Provider]; !ok {
			return fmt.Errorf("config validation: model %q references undeclared provider %q",
				model.ID, model.Provider)
		}
	}
	return nil
}

// RateLimitMaps converts the config into the admission gate's constructor
// inputs: the model-to-provider map and the provider-to-limit map.
func (c *Config) RateLimitMaps() (map[string]string, map[string]ratelimit.Config) {
	modelProviders := make(map[string]string)
	for _, model := range c.Models {
		if model.Provider != "" {
			modelProviders[model.ID] = model.Provider
		}
	}

	limits := make(map[string]ratelimit.Config, len(c.Providers))
	for name, provider := range c.Providers {
		limits[name] = ratelimit.Config{
			RPS:      provider.RPS,
			Strategy: ratelimit.Strategy(provider.Strategy),
			Timeout:  provider.Timeout,
		}
	}
	return modelProviders, limits
}

// AggregationPolicy converts the aggregation section into the engine policy.
func (c *Config) AggregationPolicy() aggregation.Policy {
	return aggregation.Policy{
		Method:    aggregation.Method(c.Aggregation.Method),
		Tolerance: c.Aggregation.Tolerance,
	}
}

// ChatModelIDs returns the catalog's chat model ids in declaration order.
func (c *Config) ChatModelIDs() []string {
	var ids []string
	for _, model := range c.Models {
		if model.Kind == ModelKindChat {
			ids = append(ids, model.ID)
		}
	}
	return ids
}

// EmbeddingModelIDs returns the catalog's embedding model ids in
// declaration order.
func (c *Config) EmbeddingModelIDs() []string {
	var ids []string
	for _, model := range c.Models {
		if model.Kind == ModelKindEmbedding {
			ids = append(ids, model.ID)
		}
	}
	return ids
}
