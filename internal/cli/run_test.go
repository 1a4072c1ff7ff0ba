package cli

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-quorum/internal/aggregation"
	"github.com/ahrav/go-quorum/internal/configuration"
	"github.com/ahrav/go-quorum/internal/ensemble"
	"github.com/ahrav/go-quorum/internal/listeners"
	"github.com/ahrav/go-quorum/internal/notify"
	"github.com/ahrav/go-quorum/internal/ratelimit"
)

func testEngine(t *testing.T, cfg *configuration.Config) (*ensemble.Executor, *notify.Notifier, *aggregation.Aggregator) {
	t.Helper()

	registry, err := buildSimulatedRegistry(cfg)
	require.NoError(t, err)

	modelProviders, limits := cfg.RateLimitMaps()
	gate, err := ratelimit.NewRegistry(modelProviders, limits, nil)
	require.NoError(t, err)

	executor, err := ensemble.New(registry, gate, ensemble.Config{
		CallWorkers:    cfg.Pools.CallWorkers,
		ComputeWorkers: cfg.Pools.ComputeWorkers,
	})
	require.NoError(t, err)
	t.Cleanup(executor.Close)

	agg, err := aggregation.New(cfg.AggregationPolicy())
	require.NoError(t, err)

	return executor, notifier(t), agg
}

func notifier(t *testing.T) *notify.Notifier {
	t.Helper()
	return notify.NewNotifier(nil)
}

// TestBuildSimulatedRegistry verifies the scenario backends cover the whole
// catalog in declaration order.
func TestBuildSimulatedRegistry(t *testing.T) {
	cfg := configuration.Default()
	cfg.Scenario.Latency = 0

	registry, err := buildSimulatedRegistry(cfg)
	require.NoError(t, err)

	assert.Equal(t, []string{"gpt-4o", "gpt-4o-mini", "claude-sonnet", "embed-small"}, registry.ModelIDs())
}

// TestSimulatedScore_Deterministic verifies one seed reproduces identical
// scores while distinct models diverge.
func TestSimulatedScore_Deterministic(t *testing.T) {
	scenario := configuration.ScenarioConfig{Seed: 7, BaseScore: 0.7, Jitter: 0.2}

	a1 := simulatedScore("model-a", scenario)
	a2 := simulatedScore("model-a", scenario)
	b := simulatedScore("model-b", scenario)

	assert.Equal(t, a1, a2)
	assert.NotEqual(t, a1, b)
	assert.GreaterOrEqual(t, a1, 0.0)
	assert.LessOrEqual(t, a1, 1.0)
}

// TestEvaluate_EndToEnd verifies the full three-step demo evaluation against
// the default scenario: every judge scores, the aggregate lands near the
// configured base score, and the trace carries all three steps.
func TestEvaluate_EndToEnd(t *testing.T) {
	cfg := configuration.Default()
	cfg.Scenario.Latency = 0

	executor, n, agg := testEngine(t, cfg)
	report := listeners.NewReport(50)
	n.Register(report)

	result, err := evaluate(context.Background(), cfg, executor, n, agg, newLogger())
	require.NoError(t, err)

	require.NotNil(t, result.AggregatedScore)
	assert.InDelta(t, cfg.Scenario.BaseScore, *result.AggregatedScore, cfg.Scenario.Jitter+1e-9)
	assert.Len(t, result.PerModelScores, 3)
	assert.Empty(t, result.ExcludedModels)
	require.Len(t, result.Steps, 3)
	assert.Equal(t, "embed", result.Steps[0].StepName)
	assert.Equal(t, "score", result.Steps[1].StepName)
	assert.Equal(t, "aggregate", result.Steps[2].StepName)
}

// TestEvaluate_PartialFailure verifies a failing judge is excluded with its
// cause while the survivors still aggregate.
func TestEvaluate_PartialFailure(t *testing.T) {
	cfg := configuration.Default()
	cfg.Scenario.Latency = 0
	cfg.Scenario.FailModels = []string{"gpt-4o-mini"}

	executor, n, agg := testEngine(t, cfg)

	result, err := evaluate(context.Background(), cfg, executor, n, agg, newLogger())
	require.NoError(t, err)

	require.NotNil(t, result.AggregatedScore)
	assert.Len(t, result.PerModelScores, 2)
	assert.Equal(t, []string{"gpt-4o-mini"}, result.ExcludedModels)
	require.NotEmpty(t, result.Exclusions)
	assert.Contains(t, result.Exclusions[0].Cause.Error(), "simulated outage")
}

// TestEvaluate_AllModelsFailed verifies the caller-owned fatal decision:
// losing every judge aborts the evaluation with an error.
func TestEvaluate_AllModelsFailed(t *testing.T) {
	cfg := configuration.Default()
	cfg.Scenario.Latency = 0
	cfg.Scenario.FailModels = []string{"gpt-4o", "gpt-4o-mini", "claude-sonnet"}

	executor, n, agg := testEngine(t, cfg)

	_, err := evaluate(context.Background(), cfg, executor, n, agg, newLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "every model failed")
}

// TestRunEvaluation_RendersSummary verifies the wiring path used by the
// run command, without Redis.
func TestRunEvaluation_RendersSummary(t *testing.T) {
	cfg := configuration.Default()
	cfg.Scenario.Latency = 0

	var out bytes.Buffer
	require.NoError(t, runEvaluation(context.Background(), cfg, &out))

	assert.Contains(t, out.String(), "demo-scoring")
	assert.Contains(t, out.String(), "aggregate")
}

// TestParseScore verifies judge response decoding.
func TestParseScore(t *testing.T) {
	score, err := parseScore(`{"score": 0.82, "reasoning": "close match"}`)
	require.NoError(t, err)
	assert.InDelta(t, 0.82, score, 1e-9)

	_, err = parseScore("not json")
	assert.Error(t, err)
}
