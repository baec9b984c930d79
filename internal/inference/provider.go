package inference

import "context"

// PromptRequest is one remote completion call. Prompt text must already
// be anonymized before it reaches a provider.
type PromptRequest struct {
	System    string
	Prompt    string
	MaxTokens int
}

// Completion is a provider's answer with its accounting.
type Completion struct {
	Content      string
	Model        string
	InputTokens  int
	OutputTokens int
	CostUSD      float64
	LatencyMs    int64
}

// Provider is a remote inference backend.
type Provider interface {
	Complete(ctx context.Context, req PromptRequest) (*Completion, error)
	Name() string
}
