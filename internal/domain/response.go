package domain

// ChatResponse is the payload of a successful chat-completion call.
type ChatResponse struct {
	// Content is the raw response text. For JSON-shaped calls this is the
	// JSON document the caller decodes; shape validation has already run
	// by the time a ChatResponse reaches the caller.
	Content string `json:"content"`

	// FinishReason reports why generation stopped, in the backend's own
	// vocabulary ("stop", "length", ...). Informational only.
	FinishReason string `json:"finish_reason,omitempty"`

	// TokensUsed is the backend-reported total token consumption,
	// or zero when the backend does not report usage.
	TokensUsed int64 `json:"tokens_used,omitempty"`
}

// EmbeddingResponse is the payload of a successful embedding call.
type EmbeddingResponse struct {
	// Vectors holds one embedding per input text, in input order.
	Vectors [][]float64 `json:"vectors"`

	// TokensUsed is the backend-reported token consumption, or zero.
	TokensUsed int64 `json:"tokens_used,omitempty"`
}
