package inference

import (
	"context"
	"errors"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/neuralfs/neuralfs/internal/faults"
)

const defaultAnthropicModel = "claude-3-haiku-20240307"

// AnthropicProvider completes prompts through the Anthropic Messages API.
type AnthropicProvider struct {
	client anthropic.Client
	model  string
}

// NewAnthropicProvider creates an adapter.
func NewAnthropicProvider(apiKey, model string) *AnthropicProvider {
	if model == "" {
		model = defaultAnthropicModel
	}
	return &AnthropicProvider{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
	}
}

func (p *AnthropicProvider) Name() string { return "anthropic" }

// Complete implements Provider.
func (p *AnthropicProvider) Complete(ctx context.Context, req PromptRequest) (*Completion, error) {
	start := time.Now()

	maxTokens := int64(req.MaxTokens)
	if maxTokens == 0 {
		maxTokens = 1024
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.model),
		MaxTokens: maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}

	resp, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return nil, classifyAnthropicError(err)
	}

	content := ""
	for _, block := range resp.Content {
		if block.Type == "text" {
			content += block.Text
		}
	}
	in, out := int(resp.Usage.InputTokens), int(resp.Usage.OutputTokens)
	return &Completion{
		Content:      content,
		Model:        string(resp.Model),
		InputTokens:  in,
		OutputTokens: out,
		CostUSD:      CalculateCost(p.model, in, out),
		LatencyMs:    time.Since(start).Milliseconds(),
	}, nil
}

func classifyAnthropicError(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == 429:
			return faults.WithRetryAfter("anthropic rate limited", retryAfterHeader(apiErr.Response), err)
		case apiErr.StatusCode >= 500:
			return faults.Wrap(faults.TransientNetwork, "anthropic server error", err)
		case apiErr.StatusCode == 401 || apiErr.StatusCode == 403:
			return faults.Wrap(faults.PermissionDenied, "anthropic auth failed", err)
		default:
			return faults.Wrap(faults.InvalidArgument, "anthropic rejected request", err)
		}
	}
	return faults.Wrap(faults.TransientNetwork, "anthropic call failed", err)
}
