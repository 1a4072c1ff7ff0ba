// Package notify delivers the two evaluation lifecycle events, before and
// after, to an ordered set of observer plugins.
//
// Observers are registered once as templates. At the start of every
// evaluation each template is asked for a fresh instance via ForEvaluation,
// so concurrent evaluations never share mutable listener state; the after
// event fires on exactly those instances, exactly once. A listener's error
// or panic is logged at the call site and never reaches the evaluation or
// the remaining listeners.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/ahrav/go-quorum/internal/domain"
)

// Listener observes evaluation lifecycles. Implementations beyond this
// contract ship in internal/listeners.
type Listener interface {
	// Name identifies the listener in logs.
	Name() string

	// Priority orders delivery: listeners fire in ascending priority,
	// stable for ties by registration order.
	Priority() int

	// ForEvaluation returns the instance that will observe one evaluation.
	// A stateless listener returns itself; a stateful one must return a
	// new, independent instance so concurrent evaluations never share
	// mutable state.
	ForEvaluation() Listener

	// BeforeEvaluation receives the immutable before-snapshot.
	BeforeEvaluation(ctx context.Context, ec *domain.EvaluationContext) error

	// AfterEvaluation receives the terminal after-snapshot, exactly once
	// per evaluation.
	AfterEvaluation(ctx context.Context, result *domain.EvaluationResult) error
}

// Notifier holds the registered listener templates and opens per-evaluation
// delivery scopes. Safe for concurrent use.
type Notifier struct {
	mu        sync.RWMutex
	listeners []Listener // ascending priority, stable by registration order

	logger *slog.Logger
}

// NewNotifier creates an empty notifier. A nil logger falls back to
// slog.Default.
func NewNotifier(logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{logger: logger.With("component", "notify")}
}

// Register adds a listener template. Delivery order is ascending priority,
// stable for equal priorities by registration order.
func (n *Notifier) Register(listener Listener) {
	if listener == nil {
		return
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.listeners = append(n.listeners, listener)
	sort.SliceStable(n.listeners, func(i, j int) bool {
		return n.listeners[i].Priority() < n.listeners[j].Priority()
	})
}

// Begin opens one evaluation's delivery scope: it materializes a fresh
// instance from every template and fires BeforeEvaluation on each, in
// order. Listener failures are logged and swallowed. The returned scope
// delivers the after event to the same instances.
func (n *Notifier) Begin(ctx context.Context, ec *domain.EvaluationContext) *ActiveEvaluation {
	n.mu.RLock()
	templates := make([]Listener, len(n.listeners))
	copy(templates, n.listeners)
	n.mu.RUnlock()

	scoped := make([]Listener, 0, len(templates))
	for _, template := range templates {
		instance := n.materialize(template)
		if instance == nil {
			continue
		}
		scoped = append(scoped, instance)
		n.deliver(instance, "before", func() error {
			return instance.BeforeEvaluation(ctx, ec)
		})
	}

	return &ActiveEvaluation{listeners: scoped, notifier: n}
}

// materialize asks a template for its per-evaluation instance, containing
// panics and nil returns.
func (n *Notifier) materialize(template Listener) (instance Listener) {
	defer func() {
		if r := recover(); r != nil {
			n.logger.Error("listener ForEvaluation panicked",
				"listener", template.Name(), "panic", fmt.Sprintf("%v", r))
			instance = nil
		}
	}()
	instance = template.ForEvaluation()
	if instance == nil {
		n.logger.Error("listener ForEvaluation returned nil", "listener", template.Name())
	}
	return instance
}

// deliver invokes one listener callback, logging and swallowing both error
// returns and panics so no listener failure reaches the evaluation or the
// remaining listeners.
func (n *Notifier) deliver(listener Listener, phase string, fire func() error) {
	defer func() {
		if r := recover(); r != nil {
			n.logger.Error("listener callback panicked",
				"listener", listener.Name(), "phase", phase, "panic", fmt.Sprintf("%v", r))
		}
	}()
	if err := fire(); err != nil {
		n.logger.Error("listener callback failed",
			"listener", listener.Name(), "phase", phase, "error", err)
	}
}

// ActiveEvaluation is one evaluation's delivery scope: the per-evaluation
// listener instances that saw the before event and will see the after event.
type ActiveEvaluation struct {
	listeners []Listener
	notifier  *Notifier
	once      sync.Once
}

// Complete fires AfterEvaluation on every scoped instance, in order, exactly
// once; later calls are no-ops. Delivery-on-exit is the caller's
// responsibility via a deferred call.
func (a *ActiveEvaluation) Complete(ctx context.Context, result *domain.EvaluationResult) {
	a.once.Do(func() {
		for _, listener := range a.listeners {
			a.notifier.deliver(listener, "after", func() error {
				return listener.AfterEvaluation(ctx, result)
			})
		}
	})
}
