// Package backend provides the model store the executor resolves clients
// from. Clients are single-method interfaces with func adapters so callers
// can register closures; Registry is the in-memory Store implementation,
// keyed by opaque model id and preserving registration order.
package backend

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ahrav/go-quorum/internal/domain"
)

// Store access errors.
var (
	// ErrUnknownModel indicates a model id with no registered client.
	ErrUnknownModel = errors.New("unknown model")

	// ErrDuplicateModel indicates a model id registered twice.
	ErrDuplicateModel = errors.New("model already registered")

	// ErrNotChatModel indicates a chat lookup against an embedding-only model.
	ErrNotChatModel = errors.New("model is not a chat model")

	// ErrNotEmbeddingModel indicates an embedding lookup against a chat-only model.
	ErrNotEmbeddingModel = errors.New("model is not an embedding model")
)

// ChatClient executes one structured chat call against a backend.
// Implementations own their transport concerns (timeouts, connection
// management); the engine requires nothing beyond this method.
type ChatClient interface {
	Chat(ctx context.Context, req *domain.ChatRequest) (*domain.ChatResponse, error)
}

// ChatFunc adapts a function to the ChatClient interface.
type ChatFunc func(ctx context.Context, req *domain.ChatRequest) (*domain.ChatResponse, error)

// Chat implements ChatClient.
func (f ChatFunc) Chat(ctx context.Context, req *domain.ChatRequest) (*domain.ChatResponse, error) {
	return f(ctx, req)
}

// EmbeddingClient executes one embedding call against a backend.
type EmbeddingClient interface {
	Embed(ctx context.Context, req *domain.EmbeddingRequest) (*domain.EmbeddingResponse, error)
}

// EmbeddingFunc adapts a function to the EmbeddingClient interface.
type EmbeddingFunc func(ctx context.Context, req *domain.EmbeddingRequest) (*domain.EmbeddingResponse, error)

// Embed implements EmbeddingClient.
func (f EmbeddingFunc) Embed(ctx context.Context, req *domain.EmbeddingRequest) (*domain.EmbeddingResponse, error) {
	return f(ctx, req)
}

// Store resolves configured backends by model id. The executor depends on
// this interface only; concrete client construction lives with the caller.
type Store interface {
	// Chat returns the chat client for a model id.
	Chat(modelID string) (ChatClient, error)

	// Embedding returns the embedding client for a model id.
	Embedding(modelID string) (EmbeddingClient, error)

	// ModelIDs returns every registered model id in registration order.
	ModelIDs() []string
}

// Registry is the in-memory Store implementation. Registration happens at
// wiring time; lookups are concurrent-safe and cheap thereafter.
type Registry struct {
	mu        sync.RWMutex
	order     []string
	chat      map[string]ChatClient
	embedding map[string]EmbeddingClient
}

// NewRegistry creates an empty model registry.
func NewRegistry() *Registry {
	return &Registry{
		chat:      make(map[string]ChatClient),
		embedding: make(map[string]EmbeddingClient),
	}
}

// RegisterChat binds a chat client to a model id.
// Returns ErrDuplicateModel if the id is already taken.
func (r *Registry) RegisterChat(modelID string, client ChatClient) error {
	if modelID == "" {
		return fmt.Errorf("register chat model: empty model id")
	}
	if client == nil {
		return fmt.Errorf("register chat model %q: nil client", modelID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.registered(modelID) {
		return fmt.Errorf("%w: %q", ErrDuplicateModel, modelID)
	}
	r.chat[modelID] = client
	r.order = append(r.order, modelID)
	return nil
}

// RegisterEmbedding binds an embedding client to a model id.
// Returns ErrDuplicateModel if the id is already taken.
func (r *Registry) RegisterEmbedding(modelID string, client EmbeddingClient) error {
	if modelID == "" {
		return fmt.Errorf("register embedding model: empty model id")
	}
	if client == nil {
		return fmt.Errorf("register embedding model %q: nil client", modelID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.registered(modelID) {
		return fmt.Errorf("%w: %q", ErrDuplicateModel, modelID)
	}
	r.embedding[modelID] = client
	r.order = append(r.order, modelID)
	return nil
}

// registered reports whether a model id is taken. Caller holds the lock.
func (r *Registry) registered(modelID string) bool {
	_, chat := r.chat[modelID]
	_, embed := r.embedding[modelID]
	return chat || embed
}

// Chat implements Store.
func (r *Registry) Chat(modelID string) (ChatClient, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if client, ok := r.chat[modelID]; ok {
		return client, nil
	}
	if _, ok := r.embedding[modelID]; ok {
		return nil, fmt.Errorf("%w: %q", ErrNotChatModel, modelID)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownModel, modelID)
}

// Embedding implements Store.
func (r *Registry) Embedding(modelID string) (EmbeddingClient, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if client, ok := r.embedding[modelID]; ok {
		return client, nil
	}
	if _, ok := r.chat[modelID]; ok {
		return nil, fmt.Errorf("%w: %q", ErrNotEmbeddingModel, modelID)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownModel, modelID)
}

// ModelIDs implements Store. The returned slice is a copy.
func (r *Registry) ModelIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, len(r.order))
	copy(ids, r.order)
	return ids
}
