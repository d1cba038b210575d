package llm

import (
	"context"

	"go.uber.org/zap"

	"github.com/amo-tech-ai/rocket-path-ai-sub000/internal/cost"
	"github.com/amo-tech-ai/rocket-path-ai-sub000/internal/model"
	"github.com/amo-tech-ai/rocket-path-ai-sub000/pkg/gemini"
)

// GeminiProvider runs calls against Gemini. It has no search tool, so
// grounding only comes from citation metadata.
type GeminiProvider struct {
	client gemini.Client
}

// NewGeminiProvider wraps a Gemini client.
func NewGeminiProvider(client gemini.Client) *GeminiProvider {
	return &GeminiProvider{client: client}
}

func (p *GeminiProvider) Name() string { return "gemini" }

// Close releases the underlying client.
func (p *GeminiProvider) Close() error { return p.client.Close() }

func (p *GeminiProvider) Generate(ctx context.Context, req ProviderRequest) (*ProviderResponse, error) {
	if req.UseSearch {
		zap.L().Debug("llm: gemini provider ignores search", zap.String("model", req.Model))
	}

	greq := gemini.GenerateRequest{
		Model:           req.Model,
		System:          req.System,
		User:            req.User,
		MaxOutputTokens: int32(min(req.MaxOutputTokens, int64(1<<31-1))),
		JSON:            req.JSON,
	}
	if req.Temperature != nil {
		t := float32(*req.Temperature)
		greq.Temperature = &t
	}

	resp, err := p.client.Generate(ctx, greq)
	if err != nil {
		return nil, err
	}

	out := &ProviderResponse{
		Text:      resp.Text,
		Grounded:  len(resp.Citations) > 0,
		Truncated: resp.Truncated,
		Usage: cost.Usage{
			InputTokens:     resp.Usage.PromptTokens,
			OutputTokens:    resp.Usage.OutputTokens,
			CacheReadTokens: resp.Usage.CachedTokens,
		},
	}
	for _, c := range resp.Citations {
		out.Citations = append(out.Citations, model.Citation{URL: c.URI, Source: "gemini_citation"})
	}
	return out, nil
}
