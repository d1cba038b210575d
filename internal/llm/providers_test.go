package llm_test

import (
	"context"
	"strings"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/amo-tech-ai/rocket-path-ai-sub000/internal/llm"
	"github.com/amo-tech-ai/rocket-path-ai-sub000/pkg/anthropic"
	anthropicmocks "github.com/amo-tech-ai/rocket-path-ai-sub000/pkg/anthropic/mocks"
	"github.com/amo-tech-ai/rocket-path-ai-sub000/pkg/gemini"
	geminimocks "github.com/amo-tech-ai/rocket-path-ai-sub000/pkg/gemini/mocks"
)

func TestThinkingBudget(t *testing.T) {
	assert.Equal(t, int64(4096), llm.ThinkingBudget(llm.EffortHigh))
	assert.Equal(t, int64(2048), llm.ThinkingBudget(llm.EffortMedium))
	assert.Equal(t, int64(0), llm.ThinkingBudget(llm.EffortLow))
	assert.Equal(t, int64(0), llm.ThinkingBudget(""))
}

func TestAnthropicProvider_Generate(t *testing.T) {
	c := anthropicmocks.NewMockClient(t)
	temp := 0.3
	c.On("CreateMessage", mock.Anything, mock.MatchedBy(func(r anthropic.MessageRequest) bool {
		return r.Model == "claude" &&
			r.MaxTokens == 8192 &&
			len(r.System) == 1 && strings.HasPrefix(r.System[0].Text, "sys") &&
			strings.Contains(r.System[0].Text, "Return only the JSON value") &&
			len(r.Messages) == 1 && r.Messages[0].Role == "user" && r.Messages[0].Content == "hello" &&
			r.WebSearch != nil && r.WebSearch.MaxUses == 5 &&
			r.ThinkingBudget == 0 &&
			r.Temperature == &temp
	})).Return(&anthropic.MessageResponse{
		Content: []anthropic.ContentBlock{
			{Type: "server_tool_use"},
			{Type: "text", Text: "answer", Citations: []anthropic.Citation{{URL: "https://x.example", Title: "X"}}},
		},
		StopReason: "end_turn",
		Usage: anthropic.TokenUsage{
			InputTokens: 100, OutputTokens: 20, CacheReadInputTokens: 3, WebSearchRequests: 2,
		},
	}, nil).Once()

	p := llm.NewAnthropicProvider(c)
	assert.Equal(t, "anthropic", p.Name())

	resp, err := p.Generate(context.Background(), llm.ProviderRequest{
		Model: "claude", System: "sys", User: "hello", MaxOutputTokens: 8192,
		Temperature: &temp, UseSearch: true, JSON: true,
	})
	require.NoError(t, err)
	assert.Equal(t, "answer", resp.Text)
	assert.True(t, resp.Grounded)
	assert.False(t, resp.Truncated)
	require.Len(t, resp.Citations, 1)
	assert.Equal(t, "https://x.example", resp.Citations[0].URL)
	assert.Equal(t, "web_search", resp.Citations[0].Source)
	assert.Equal(t, int64(2), resp.Usage.SearchCalls)
	assert.Equal(t, int64(3), resp.Usage.CacheReadTokens)
}

func TestAnthropicProvider_ThinkingRaisesMaxTokens(t *testing.T) {
	c := anthropicmocks.NewMockClient(t)
	c.On("CreateMessage", mock.Anything, mock.MatchedBy(func(r anthropic.MessageRequest) bool {
		return r.ThinkingBudget == 4096 && r.MaxTokens == 4096+1024 && r.WebSearch == nil && len(r.System) == 0
	})).Return(&anthropic.MessageResponse{
		Content:    []anthropic.ContentBlock{{Type: "text", Text: "x"}},
		StopReason: "max_tokens",
	}, nil).Once()

	resp, err := llm.NewAnthropicProvider(c).Generate(context.Background(), llm.ProviderRequest{
		Model: "claude", User: "u", MaxOutputTokens: 1000, Effort: llm.EffortHigh,
	})
	require.NoError(t, err)
	assert.True(t, resp.Truncated)
	assert.False(t, resp.Grounded)
}

func TestAnthropicProvider_PassesErrorThrough(t *testing.T) {
	c := anthropicmocks.NewMockClient(t)
	want := &anthropic.StatusError{StatusCode: 401, Err: eris.New("unauthorized")}
	c.On("CreateMessage", mock.Anything, mock.Anything).Return(nil, want).Once()

	_, err := llm.NewAnthropicProvider(c).Generate(context.Background(), llm.ProviderRequest{Model: "m", User: "u"})
	assert.Same(t, want, err)
}

func TestGeminiProvider_Generate(t *testing.T) {
	c := geminimocks.NewMockClient(t)
	c.On("Generate", mock.Anything, mock.MatchedBy(func(r gemini.GenerateRequest) bool {
		return r.Model == "gemini-2.5-flash" && r.System == "sys" && r.User == "u" &&
			r.MaxOutputTokens == 4096 && r.JSON &&
			r.Temperature != nil && *r.Temperature == float32(0.5)
	})).Return(&gemini.GenerateResponse{
		Text:      `{"ok":true}`,
		Truncated: true,
		Citations: []gemini.Citation{{URI: "https://c.example"}},
		Usage:     gemini.Usage{PromptTokens: 50, OutputTokens: 10, CachedTokens: 4},
	}, nil).Once()
	c.On("Close").Return(nil).Once()

	temp := 0.5
	p := llm.NewGeminiProvider(c)
	assert.Equal(t, "gemini", p.Name())

	resp, err := p.Generate(context.Background(), llm.ProviderRequest{
		Model: "gemini-2.5-flash", System: "sys", User: "u", MaxOutputTokens: 4096,
		Temperature: &temp, UseSearch: true, JSON: true,
	})
	require.NoError(t, err)
	assert.True(t, resp.Grounded)
	assert.True(t, resp.Truncated)
	require.Len(t, resp.Citations, 1)
	assert.Equal(t, "gemini_citation", resp.Citations[0].Source)
	assert.Equal(t, int64(50), resp.Usage.InputTokens)
	assert.Equal(t, int64(4), resp.Usage.CacheReadTokens)

	require.NoError(t, p.Close())
}

func TestGeminiProvider_UngroundedWithoutCitations(t *testing.T) {
	c := geminimocks.NewMockClient(t)
	c.On("Generate", mock.Anything, mock.Anything).Return(&gemini.GenerateResponse{Text: "plain"}, nil).Once()

	resp, err := llm.NewGeminiProvider(c).Generate(context.Background(), llm.ProviderRequest{Model: "g", User: "u"})
	require.NoError(t, err)
	assert.False(t, resp.Grounded)
	assert.Empty(t, resp.Citations)
}
