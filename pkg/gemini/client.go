// Package gemini wraps google/generative-ai-go behind the request and
// response shapes the validator uses for its secondary provider.
package gemini

import (
	"context"
	"errors"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"github.com/rotisserie/eris"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/amo-tech-ai/rocket-path-ai-sub000/internal/resilience"
)

// Client defines the Gemini operations used by the validator.
type Client interface {
	Generate(ctx context.Context, req GenerateRequest) (*GenerateResponse, error)
	Close() error
}

// GenerateRequest is a single-turn generation request.
type GenerateRequest struct {
	Model           string
	System          string
	User            string
	MaxOutputTokens int32
	Temperature     *float32
	// JSON switches the response MIME type to application/json.
	JSON bool
}

// Citation is one citation source attached to a candidate.
type Citation struct {
	URI     string
	License string
}

// Usage is the token accounting reported by the API.
type Usage struct {
	PromptTokens int64
	OutputTokens int64
	CachedTokens int64
}

// GenerateResponse is the flattened first candidate.
type GenerateResponse struct {
	Text         string
	FinishReason string
	Truncated    bool
	Citations    []Citation
	Usage        Usage
}

// ErrBlocked is returned when the prompt or the candidate was blocked.
var ErrBlocked = eris.New("gemini: response blocked")

// Option configures the client.
type Option func(*[]option.ClientOption)

// WithEndpoint points the client at a different API endpoint.
func WithEndpoint(url string) Option {
	return func(opts *[]option.ClientOption) {
		*opts = append(*opts, option.WithEndpoint(url))
	}
}

// WithClientOptions passes raw Google API client options through.
func WithClientOptions(o ...option.ClientOption) Option {
	return func(opts *[]option.ClientOption) {
		*opts = append(*opts, o...)
	}
}

type sdkClient struct {
	client *genai.Client
}

// NewClient creates a Gemini client authenticated with an API key.
func NewClient(ctx context.Context, apiKey string, opts ...Option) (Client, error) {
	if apiKey == "" {
		return nil, eris.New("gemini: api key is required")
	}
	clientOpts := []option.ClientOption{option.WithAPIKey(apiKey)}
	for _, o := range opts {
		o(&clientOpts)
	}
	c, err := genai.NewClient(ctx, clientOpts...)
	if err != nil {
		return nil, eris.Wrap(err, "gemini: create client")
	}
	return &sdkClient{client: c}, nil
}

func (c *sdkClient) Generate(ctx context.Context, req GenerateRequest) (*GenerateResponse, error) {
	m := c.client.GenerativeModel(req.Model)
	if req.System != "" {
		m.SystemInstruction = genai.NewUserContent(genai.Text(req.System))
	}
	if req.MaxOutputTokens > 0 {
		m.SetMaxOutputTokens(req.MaxOutputTokens)
	}
	if req.Temperature != nil {
		m.SetTemperature(*req.Temperature)
	}
	if req.JSON {
		m.ResponseMIMEType = "application/json"
	}

	resp, err := m.GenerateContent(ctx, genai.Text(req.User))
	if err != nil {
		return nil, classifyError(err)
	}
	return fromGenAIResponse(resp)
}

func (c *sdkClient) Close() error {
	return c.client.Close()
}

// classifyError marks rate limits and 5xx responses as transient.
func classifyError(err error) error {
	var blocked *genai.BlockedError
	if errors.As(err, &blocked) {
		return eris.Wrap(ErrBlocked, blocked.Error())
	}
	wrapped := eris.Wrap(err, "gemini: generate content")
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		if resilience.IsTransientHTTPStatus(apiErr.Code) {
			return resilience.NewTransientError(wrapped, apiErr.Code)
		}
		return &StatusError{StatusCode: apiErr.Code, Err: wrapped}
	}
	return wrapped
}

// StatusError is a non-retryable API error with its HTTP status.
type StatusError struct {
	StatusCode int
	Err        error
}

func (e *StatusError) Error() string { return e.Err.Error() }
func (e *StatusError) Unwrap() error { return e.Err }

// HTTPStatus returns the response status code.
func (e *StatusError) HTTPStatus() int { return e.StatusCode }

func fromGenAIResponse(resp *genai.GenerateContentResponse) (*GenerateResponse, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return nil, eris.New("gemini: no candidates in response")
	}
	cand := resp.Candidates[0]

	out := &GenerateResponse{
		FinishReason: cand.FinishReason.String(),
		Truncated:    cand.FinishReason == genai.FinishReasonMaxTokens,
	}

	if cand.Content != nil {
		var b strings.Builder
		for _, part := range cand.Content.Parts {
			if t, ok := part.(genai.Text); ok {
				b.WriteString(string(t))
			}
		}
		out.Text = b.String()
	}

	if cand.CitationMetadata != nil {
		seen := map[string]bool{}
		for _, src := range cand.CitationMetadata.CitationSources {
			if src == nil || src.URI == nil || *src.URI == "" || seen[*src.URI] {
				continue
			}
			seen[*src.URI] = true
			out.Citations = append(out.Citations, Citation{URI: *src.URI, License: src.License})
		}
	}

	if u := resp.UsageMetadata; u != nil {
		out.Usage = Usage{
			PromptTokens: int64(u.PromptTokenCount),
			OutputTokens: int64(u.CandidatesTokenCount),
			CachedTokens: int64(u.CachedContentTokenCount),
		}
	}

	return out, nil
}
