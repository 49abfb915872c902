package llm

import "context"

// Message is one role-tagged entry of the prompt history.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Roles used in prompt histories.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// StreamRequest describes a streaming text generation call.
type StreamRequest struct {
	Model        string
	System       string
	History      []Message
	Prompt       string
	Instructions []string
}

// JSONRequest describes a structured generation call. The model is asked to
// answer with a single JSON object decoded into the caller's output type.
type JSONRequest struct {
	Model   string
	System  string
	History []Message
	Prompt  string
}

// DeltaHandler receives streaming text fragments.
type DeltaHandler func(delta string) error

// Client is the model back-end consumed by the router, the miners, and the
// skill generator. Both calls may fail (network/auth/quota) and callers are
// expected to treat them as unreliable.
type Client interface {
	// GenerateStream streams text fragments through onDelta and returns the
	// final assembled text, which may be non-empty even when zero deltas were
	// delivered (degenerate provider behavior handled by the router).
	GenerateStream(ctx context.Context, req StreamRequest, onDelta DeltaHandler) (string, error)

	// GenerateJSON performs a structured call and decodes the model's JSON
	// object into out.
	GenerateJSON(ctx context.Context, req JSONRequest, out any) error
}
