package listeners

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/ahrav/go-quorum/internal/domain"
	"github.com/ahrav/go-quorum/internal/notify"
	"github.com/ahrav/go-quorum/pkg/events"
)

// Event types published by the trace publisher.
const (
	EventEvaluationStarted   = "evaluation.started"
	EventEvaluationCompleted = "evaluation.completed"
)

// traceSource identifies this component in event envelopes.
const traceSource = "trace-publisher"

// Publisher is the narrow slice of the Redis client the trace publisher
// needs. *redis.Client satisfies it directly.
type Publisher interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

// RedisSink delivers event envelopes over Redis pub/sub. Delivery, not
// persistence: nothing is stored, absent subscribers simply miss the event.
type RedisSink struct {
	client  Publisher
	channel string
}

// NewRedisSink creates a sink publishing to the given channel.
func NewRedisSink(client Publisher, channel string) *RedisSink {
	return &RedisSink{client: client, channel: channel}
}

// Append implements events.EventSink.
func (s *RedisSink) Append(ctx context.Context, envelope events.Envelope) error {
	payload, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("marshal trace envelope: %w", err)
	}
	if err := s.client.Publish(ctx, s.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish trace event: %w", err)
	}
	return nil
}

// TracePublisher is a stateless listener emitting one event envelope per
// lifecycle phase to an EventSink. Sink failures are reported to the
// notifier, which logs and swallows them; trace delivery is best-effort by
// contract.
type TracePublisher struct {
	sink     events.EventSink
	priority int
	logger   *slog.Logger
}

// NewTracePublisher creates the publisher over the given sink. A nil sink
// falls back to the no-op sink so wiring stays unconditional.
func NewTracePublisher(sink events.EventSink, priority int, logger *slog.Logger) *TracePublisher {
	if sink == nil {
		sink = events.NewNoOpEventSink()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &TracePublisher{
		sink:     sink,
		priority: priority,
		logger:   logger.With("component", "listener.trace"),
	}
}

// Name implements notify.Listener.
func (p *TracePublisher) Name() string { return "trace-publisher" }

// Priority implements notify.Listener.
func (p *TracePublisher) Priority() int { return p.priority }

// ForEvaluation implements notify.Listener. The publisher accumulates
// nothing and returns itself.
func (p *TracePublisher) ForEvaluation() notify.Listener { return p }

// BeforeEvaluation implements notify.Listener, publishing the start event.
func (p *TracePublisher) BeforeEvaluation(ctx context.Context, ec *domain.EvaluationContext) error {
	return p.emit(ctx, EventEvaluationStarted, ec)
}

// AfterEvaluation implements notify.Listener, publishing the terminal
// snapshot.
func (p *TracePublisher) AfterEvaluation(ctx context.Context, result *domain.EvaluationResult) error {
	return p.emit(ctx, EventEvaluationCompleted, result)
}

func (p *TracePublisher) emit(ctx context.Context, eventType string, payload any) error {
	envelope, err := events.NewEnvelope(eventType, traceSource, payload)
	if err != nil {
		return err
	}
	if err := p.sink.Append(ctx, envelope); err != nil {
		return fmt.Errorf("emit %s: %w", eventType, err)
	}
	p.logger.Debug("trace event published", "type", eventType, "event_id", envelope.ID)
	return nil
}
