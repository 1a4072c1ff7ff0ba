// Package domain defines the immutable record types exchanged across the
// evaluation engine: backend call requests and responses, per-model call
// outcomes, and the step and evaluation trace snapshots handed to observers.
//
// Every type in this package is a value object. Records are constructed once,
// at the point the fact they describe becomes known, and are never mutated
// afterward. The engine passes them by reference without copying; safety
// follows from immutability, not from synchronization.
package domain

// RequestKind identifies a member of the closed request union.
type RequestKind string

const (
	// RequestKindChat identifies a structured chat-completion request.
	RequestKindChat RequestKind = "chat"

	// RequestKindEmbedding identifies an embedding request.
	RequestKindEmbedding RequestKind = "embedding"
)

// String returns the string representation of the request kind.
func (k RequestKind) String() string { return string(k) }

// Request is the closed union of backend call payloads. The only
// implementations are *ChatRequest and *EmbeddingRequest; the unexported
// method keeps the set closed so call sites can match exhaustively on Kind
// without reflection.
type Request interface {
	// Kind reports which member of the union this request is.
	Kind() RequestKind

	sealedRequest()
}

// Role identifies the author of a chat message.
type Role string

const (
	// RoleSystem marks instructions that frame the conversation.
	RoleSystem Role = "system"

	// RoleUser marks caller-supplied content.
	RoleUser Role = "user"

	// RoleAssistant marks prior model output carried for context.
	RoleAssistant Role = "assistant"
)

// Message is one turn of a chat conversation.
type Message struct {
	// Role identifies the message author.
	Role Role `json:"role" validate:"required,oneof=system user assistant"`

	// Content is the message text. Must be non-empty.
	Content string `json:"content" validate:"required"`
}

// ChatRequest describes one structured chat-completion call. The same request
// value is dispatched unchanged to every model in a fan-out, and is attached
// to each resulting ModelResult so observers can replay what was attempted.
type ChatRequest struct {
	// Messages is the ordered conversation to send. Must contain at least one.
	Messages []Message `json:"messages" validate:"required,min=1,dive"`

	// MaxTokens caps the response length. Zero delegates the cap to the backend.
	MaxTokens int `json:"max_tokens" validate:"min=0"`

	// Temperature controls sampling randomness, typically 0.0-2.0.
	Temperature float64 `json:"temperature" validate:"min=0,max=2"`
}

// Kind implements Request.
func (*ChatRequest) Kind() RequestKind { return RequestKindChat }

func (*ChatRequest) sealedRequest() {}

// Validate checks the request against its field constraints.
// Returns nil if valid, or a validation error describing the violation.
func (r *ChatRequest) Validate() error { return validate.Struct(r) }

// EmbeddingRequest describes one embedding call: a batch of input texts to
// embed with a single model invocation.
type EmbeddingRequest struct {
	// Input is the batch of texts to embed. Must contain at least one.
	Input []string `json:"input" validate:"required,min=1,dive,required"`
}

// Kind implements Request.
func (*EmbeddingRequest) Kind() RequestKind { return RequestKindEmbedding }

func (*EmbeddingRequest) sealedRequest() {}

// Validate checks the request against its field constraints.
func (r *EmbeddingRequest) Validate() error { return validate.Struct(r) }
