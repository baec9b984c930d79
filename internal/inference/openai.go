package inference

import (
	"context"
	"errors"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/neuralfs/neuralfs/internal/faults"
)

const defaultOpenAIModel = "gpt-4o-mini"

// OpenAIProvider completes prompts through an OpenAI-compatible endpoint.
type OpenAIProvider struct {
	client *openai.Client
	model  string
}

// NewOpenAIProvider creates an adapter. endpoint overrides the API base
// URL for compatible gateways; empty uses the default.
func NewOpenAIProvider(apiKey, endpoint, model string) *OpenAIProvider {
	cfg := openai.DefaultConfig(apiKey)
	if endpoint != "" {
		cfg.BaseURL = endpoint
	}
	if model == "" {
		model = defaultOpenAIModel
	}
	return &OpenAIProvider{client: openai.NewClientWithConfig(cfg), model: model}
}

func (p *OpenAIProvider) Name() string { return "openai" }

// Complete implements Provider.
func (p *OpenAIProvider) Complete(ctx context.Context, req PromptRequest) (*Completion, error) {
	start := time.Now()

	var msgs []openai.ChatCompletionMessage
	if req.System != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{
			Role: openai.ChatMessageRoleSystem, Content: req.System,
		})
	}
	msgs = append(msgs, openai.ChatCompletionMessage{
		Role: openai.ChatMessageRoleUser, Content: req.Prompt,
	})

	oReq := openai.ChatCompletionRequest{Model: p.model, Messages: msgs}
	if req.MaxTokens > 0 {
		oReq.MaxTokens = req.MaxTokens
	}

	resp, err := p.client.CreateChatCompletion(ctx, oReq)
	if err != nil {
		return nil, classifyOpenAIError(err)
	}

	content := ""
	if len(resp.Choices) > 0 {
		content = resp.Choices[0].Message.Content
	}
	return &Completion{
		Content:      content,
		Model:        resp.Model,
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
		CostUSD:      CalculateCost(p.model, resp.Usage.PromptTokens, resp.Usage.CompletionTokens),
		LatencyMs:    time.Since(start).Milliseconds(),
	}, nil
}

func classifyOpenAIError(err error) error {
	apiErr := &openai.APIError{}
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.HTTPStatusCode == 429:
			return faults.WithRetryAfter("openai rate limited", 0, err)
		case apiErr.HTTPStatusCode >= 500:
			return faults.Wrap(faults.TransientNetwork, "openai server error", err)
		case apiErr.HTTPStatusCode == 401 || apiErr.HTTPStatusCode == 403:
			return faults.Wrap(faults.PermissionDenied, "openai auth failed", err)
		default:
			return faults.Wrap(faults.InvalidArgument, "openai rejected request", err)
		}
	}
	return faults.Wrap(faults.TransientNetwork, "openai call failed", err)
}
