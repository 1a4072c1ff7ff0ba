// Package listeners ships the observer implementations bundled with the
// engine: a structured-logging listener, a stateful trace report builder,
// and a Redis-backed trace publisher. Each satisfies the notify.Listener
// contract; the notifier owns ordering and failure isolation.
package listeners

import (
	"context"
	"log/slog"

	"github.com/ahrav/go-quorum/internal/domain"
	"github.com/ahrav/go-quorum/internal/notify"
)

// Logging is a stateless listener emitting one structured log line per
// lifecycle phase. Stateless, so ForEvaluation returns the shared instance.
type Logging struct {
	logger   *slog.Logger
	priority int
}

// NewLogging creates the logging listener. A nil logger falls back to
// slog.Default.
func NewLogging(logger *slog.Logger) *Logging {
	if logger == nil {
		logger = slog.Default()
	}
	return &Logging{logger: logger.With("component", "listener.logging")}
}

// Name implements notify.Listener.
func (l *Logging) Name() string { return "logging" }

// Priority implements notify.Listener. Logging fires first.
func (l *Logging) Priority() int { return l.priority }

// ForEvaluation implements notify.Listener. Logging is stateless and
// returns itself.
func (l *Logging) ForEvaluation() notify.Listener { return l }

// BeforeEvaluation implements notify.Listener.
func (l *Logging) BeforeEvaluation(_ context.Context, ec *domain.EvaluationContext) error {
	l.logger.Info("evaluation started",
		"evaluation", ec.EvaluationName,
		"models", len(ec.ModelIDs),
		"embedding_models", len(ec.EmbeddingModelIDs),
		"total_steps", ec.TotalSteps)
	return nil
}

// AfterEvaluation implements notify.Listener.
func (l *Logging) AfterEvaluation(_ context.Context, result *domain.EvaluationResult) error {
	attrs := []any{
		"evaluation", result.EvaluationName,
		"steps", len(result.Steps),
		"excluded", len(result.ExcludedModels),
		"duration", result.TotalDuration,
	}
	if result.AggregatedScore != nil {
		attrs = append(attrs, "aggregated_score", *result.AggregatedScore)
	}
	if result.Error != "" {
		attrs = append(attrs, "error", result.Error)
		l.logger.Warn("evaluation finished abnormally", attrs...)
		return nil
	}
	l.logger.Info("evaluation finished", attrs...)
	return nil
}
