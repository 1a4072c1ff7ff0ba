package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"

	"github.com/charmbracelet/lipgloss"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/ahrav/go-quorum/internal/aggregation"
	"github.com/ahrav/go-quorum/internal/configuration"
	"github.com/ahrav/go-quorum/internal/domain"
	"github.com/ahrav/go-quorum/internal/ensemble"
	"github.com/ahrav/go-quorum/internal/evaluation"
	"github.com/ahrav/go-quorum/internal/listeners"
	"github.com/ahrav/go-quorum/internal/notify"
	"github.com/ahrav/go-quorum/internal/ratelimit"
)

var (
	redisAddr    string
	redisChannel string
)

// judgeSchema constrains the simulated judges' structured responses.
const judgeSchema = `{
	"type": "object",
	"required": ["score"],
	"properties": {
		"score": {"type": "number", "minimum": 0, "maximum": 1},
		"reasoning": {"type": "string"}
	}
}`

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a three-step demo evaluation across the configured models",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		return runEvaluation(cmd.Context(), cfg, cmd.OutOrStdout())
	},
}

func init() {
	runCmd.Flags().StringVar(&redisAddr, "redis-addr", "", "publish trace events to this Redis address (disabled when empty)")
	runCmd.Flags().StringVar(&redisChannel, "redis-channel", "quorum.trace", "Redis pub/sub channel for trace events")
}

// runEvaluation assembles the engine from configuration and drives one
// three-step evaluation: an embedding step, a schema-validated scoring step,
// and a compute step aggregating the surviving scores.
func runEvaluation(ctx context.Context, cfg *configuration.Config, out io.Writer) error {
	logger := newLogger()

	registry, err := buildSimulatedRegistry(cfg)
	if err != nil {
		return fmt.Errorf("build backends: %w", err)
	}

	modelProviders, limits := cfg.RateLimitMaps()
	gate, err := ratelimit.NewRegistry(modelProviders, limits, logger)
	if err != nil {
		return err
	}

	executor, err := ensemble.New(registry, gate, ensemble.Config{
		CallWorkers:    cfg.Pools.CallWorkers,
		ComputeWorkers: cfg.Pools.ComputeWorkers,
		Logger:         logger,
	})
	if err != nil {
		return err
	}
	defer executor.Close()

	notifier := notify.NewNotifier(logger)
	notifier.Register(listeners.NewLogging(logger))
	report := listeners.NewReport(50)
	notifier.Register(report)
	if redisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: redisAddr})
		defer client.Close()
		sink := listeners.NewRedisSink(client, redisChannel)
		notifier.Register(listeners.NewTracePublisher(sink, 100, logger))
	}

	agg, err := aggregation.New(cfg.AggregationPolicy())
	if err != nil {
		return err
	}

	result, err := evaluate(ctx, cfg, executor, notifier, agg, logger)
	if err != nil {
		return err
	}

	fmt.Fprintln(out, renderSummary(result))
	return nil
}

// evaluate drives the three steps through the run harness. The deferred
// Close guarantees observers get the terminal snapshot even when a step
// fails partway.
func evaluate(
	ctx context.Context,
	cfg *configuration.Config,
	executor *ensemble.Executor,
	notifier *notify.Notifier,
	agg *aggregation.Aggregator,
	logger *slog.Logger,
) (*domain.EvaluationResult, error) {
	def := evaluation.Definition{
		Name:              "demo-scoring",
		ModelIDs:          cfg.ChatModelIDs(),
		EmbeddingModelIDs: cfg.EmbeddingModelIDs(),
		TotalSteps:        3,
	}
	run, err := evaluation.Begin(ctx, notifier, def, logger)
	if err != nil {
		return nil, err
	}
	defer run.Close(ctx)

	// Step 0: embed the candidate and reference texts.
	embedReq := &domain.EmbeddingRequest{
		Input: []string{
			"The mitochondria is the powerhouse of the cell.",
			"Mitochondria generate most of the cell's chemical energy.",
		},
	}
	embedResults := executor.CallEmbedding(ctx, def.EmbeddingModelIDs, embedReq)
	if err := run.RecordStep(domain.StepResults{
		StepName:         "embed",
		Kind:             domain.StepKindEmbedding,
		Request:          embedReq,
		EmbeddingResults: embedResults,
	}); err != nil {
		return nil, err
	}

	// Step 1: fan the scoring call out to every surviving judge, with the
	// response constrained by the judge schema.
	shape, err := domain.JSONSchemaShape([]byte(judgeSchema))
	if err != nil {
		return nil, err
	}
	scoreReq := &domain.ChatRequest{
		Messages: []domain.Message{
			{Role: domain.RoleSystem, Content: "You are a strict grader. Respond with a JSON document holding a 0-1 score."},
			{Role: domain.RoleUser, Content: "How faithful is the candidate answer to the reference?"},
		},
		MaxTokens:   256,
		Temperature: 0,
	}
	judgeIDs := run.ActiveModels()
	scoreResults := executor.Call(ctx, judgeIDs, scoreReq, shape)
	if err := run.RecordStep(domain.StepResults{
		StepName: "score",
		Kind:     domain.StepKindLLM,
		Request:  scoreReq,
		Results:  scoreResults,
	}); err != nil {
		return nil, err
	}

	// Step 2: decide and aggregate on the compute pool. Whether losing
	// every model is fatal is this caller's call, not the engine's.
	scores := make(map[string]float64)
	if err := executor.RunCompute(ctx, func(context.Context) error {
		for _, result := range scoreResults {
			if !result.Succeeded() {
				continue
			}
			score, parseErr := parseScore(result.Value.Content)
			if parseErr != nil {
				logger.Warn("discarding unparseable judge response",
					"model", result.ModelID, "error", parseErr)
				continue
			}
			scores[result.ModelID] = score
		}
		if len(scores) == 0 {
			return errors.New("every model failed; nothing to aggregate")
		}
		return nil
	}); err != nil {
		run.Abort(ctx, err)
		return nil, err
	}
	if err := run.RecordComputeStep("aggregate"); err != nil {
		return nil, err
	}

	return run.Complete(ctx, scores, agg)
}

// renderSummary renders the terminal snapshot as a lipgloss table.
func renderSummary(result *domain.EvaluationResult) string {
	var (
		titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
		headerStyle = lipgloss.NewStyle().Bold(true).Underline(true)
		okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
		failStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
		dimStyle    = lipgloss.NewStyle().Faint(true)
	)

	lines := []string{
		titleStyle.Render(fmt.Sprintf("evaluation %q", result.EvaluationName)),
		headerStyle.Render(fmt.Sprintf("%-20s %-10s", "model", "score")),
	}

	ids := make([]string, 0, len(result.PerModelScores))
	for id := range result.PerModelScores {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		lines = append(lines, okStyle.Render(fmt.Sprintf("%-20s %.4f", id, result.PerModelScores[id])))
	}
	for _, exclusion := range result.Exclusions {
		lines = append(lines, failStyle.Render(
			fmt.Sprintf("%-20s excluded at step %d (%s)", exclusion.ModelID, exclusion.StepIndex, exclusion.StepName)))
	}

	switch {
	case result.AggregatedScore != nil:
		lines = append(lines, titleStyle.Render(fmt.Sprintf("aggregate: %.4f", *result.AggregatedScore)))
	case result.Error != "":
		lines = append(lines, failStyle.Render("failed: "+result.Error))
	default:
		lines = append(lines, failStyle.Render("no surviving scores"))
	}
	lines = append(lines, dimStyle.Render(
		fmt.Sprintf("%d steps, %s total", len(result.Steps), result.TotalDuration)))

	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

// parseScore decodes one judge's structured response.
func parseScore(content string) (float64, error) {
	var doc struct {
		Score float64 `json:"score"`
	}
	if err := json.Unmarshal([]byte(content), &doc); err != nil {
		return 0, fmt.Errorf("decode judge response: %w", err)
	}
	return doc.Score, nil
}
