package llm

import (
	"context"

	"github.com/amo-tech-ai/rocket-path-ai-sub000/internal/cost"
	"github.com/amo-tech-ai/rocket-path-ai-sub000/internal/model"
	"github.com/amo-tech-ai/rocket-path-ai-sub000/pkg/anthropic"
)

const (
	highThinkingBudget   = 4096
	mediumThinkingBudget = 2048
	// Anthropic requires max_tokens above the thinking budget.
	minAnswerTokens = 1024
	searchMaxUses   = 5
	jsonOnlyNote    = "\n\nReturn only the JSON value, with no markdown fences or commentary."
)

// AnthropicProvider runs calls against the Anthropic Messages API.
type AnthropicProvider struct {
	client anthropic.Client
}

// NewAnthropicProvider wraps an Anthropic client.
func NewAnthropicProvider(client anthropic.Client) *AnthropicProvider {
	return &AnthropicProvider{client: client}
}

func (p *AnthropicProvider) Name() string { return "anthropic" }

// ThinkingBudget maps effort to an extended-thinking token budget.
func ThinkingBudget(e Effort) int64 {
	switch e {
	case EffortHigh:
		return highThinkingBudget
	case EffortMedium:
		return mediumThinkingBudget
	default:
		return 0
	}
}

func (p *AnthropicProvider) Generate(ctx context.Context, req ProviderRequest) (*ProviderResponse, error) {
	system := req.System
	if req.JSON {
		system += jsonOnlyNote
	}

	mreq := anthropic.MessageRequest{
		Model:       req.Model,
		MaxTokens:   req.MaxOutputTokens,
		Messages:    []anthropic.Message{{Role: "user", Content: req.User}},
		Temperature: req.Temperature,
	}
	if system != "" {
		mreq.System = []anthropic.SystemBlock{{Text: system}}
	}
	if req.UseSearch {
		mreq.WebSearch = &anthropic.WebSearch{MaxUses: searchMaxUses}
	}
	if budget := ThinkingBudget(req.Effort); budget > 0 {
		mreq.ThinkingBudget = budget
		if mreq.MaxTokens < budget+minAnswerTokens {
			mreq.MaxTokens = budget + minAnswerTokens
		}
	}

	resp, err := p.client.CreateMessage(ctx, mreq)
	if err != nil {
		return nil, err
	}

	out := &ProviderResponse{
		Text:      resp.Text(),
		Grounded:  resp.Grounded(),
		Truncated: resp.Truncated(),
		Usage: cost.Usage{
			InputTokens:      resp.Usage.InputTokens,
			OutputTokens:     resp.Usage.OutputTokens,
			CacheWriteTokens: resp.Usage.CacheCreationInputTokens,
			CacheReadTokens:  resp.Usage.CacheReadInputTokens,
			SearchCalls:      resp.Usage.WebSearchRequests,
		},
	}
	for _, c := range resp.Citations() {
		out.Citations = append(out.Citations, model.Citation{URL: c.URL, Title: c.Title, Source: "web_search"})
	}
	return out, nil
}
