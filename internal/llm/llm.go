// Package llm is the single entry point for model calls. The Adapter wraps
// a Provider with per-attempt timeouts, retry, truncation recovery, schema
// handling, reference fetching, quota shaping and cost logging.
package llm

import (
	"context"
	"time"

	"github.com/amo-tech-ai/rocket-path-ai-sub000/internal/cost"
	"github.com/amo-tech-ai/rocket-path-ai-sub000/internal/model"
)

// Effort is the reasoning effort requested from the model.
type Effort string

const (
	EffortNone   Effort = "none"
	EffortLow    Effort = "low"
	EffortMedium Effort = "medium"
	EffortHigh   Effort = "high"
)

// Options tunes a single call.
type Options struct {
	UseSearch     bool
	UseFetch      bool
	ReferenceURLs []string
	Effort        Effort
	// Timeout bounds each attempt. Zero uses the adapter default.
	Timeout time.Duration
	// MaxOutputTokens is the initial output ceiling. Zero uses the default.
	MaxOutputTokens int64
	// Schema is a JSON Schema document for the expected output.
	Schema map[string]any
	// KeepSchemaWithReasoning keeps Schema even at high effort.
	KeepSchemaWithReasoning bool
}

// Request is one model call.
type Request struct {
	Model   string
	System  string
	User    string
	Options Options
	// Stage labels logs and cost attribution.
	Stage string
}

// FetchStatus is the outcome of a reference fetch.
type FetchStatus string

const (
	FetchSuccess FetchStatus = "success"
	FetchError   FetchStatus = "error"
)

// FetchMeta records one reference fetch.
type FetchMeta struct {
	URL    string      `json:"url"`
	Status FetchStatus `json:"status"`
}

// Response is the result of a successful call.
type Response struct {
	Text        string
	Model       string
	Grounded    bool
	Citations   []model.Citation
	ToolContext []FetchMeta
	// Truncated is set when the output was still cut off after the
	// truncation retry.
	Truncated        bool
	Usage            cost.Usage
	Attempts         int
	SchemaViolations []string
}

// ProviderRequest is what the adapter hands a provider for one attempt.
type ProviderRequest struct {
	Model           string
	System          string
	User            string
	MaxOutputTokens int64
	Temperature     *float64
	UseSearch       bool
	Effort          Effort
	// JSON asks the provider for a bare JSON response.
	JSON bool
}

// ProviderResponse is one attempt's raw result.
type ProviderResponse struct {
	Text      string
	Grounded  bool
	Citations []model.Citation
	Truncated bool
	Usage     cost.Usage
}

// Provider is a generative model backend.
type Provider interface {
	Name() string
	Generate(ctx context.Context, req ProviderRequest) (*ProviderResponse, error)
}
