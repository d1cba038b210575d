// Package knowledge is a client for the vector knowledge-retrieval service
// that backs the Research and Competitor stages.
package knowledge

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/amo-tech-ai/rocket-path-ai-sub000/internal/resilience"
)

const defaultMatchCount = 5

// Client searches the knowledge base.
type Client interface {
	Search(ctx context.Context, req SearchRequest) ([]Chunk, error)
}

// SearchRequest is the body for POST /search.
type SearchRequest struct {
	Query      string `json:"query"`
	Filter     string `json:"filter,omitempty"`
	MatchCount int    `json:"match_count"`
}

// Chunk is one ranked passage.
type Chunk struct {
	Content    string  `json:"content"`
	Source     string  `json:"source"`
	Year       *int    `json:"year,omitempty"`
	Confidence string  `json:"confidence,omitempty"`
	Section    string  `json:"section,omitempty"`
	Similarity float64 `json:"similarity"`
}

type searchResponse struct {
	Results []Chunk `json:"results"`
}

// Option configures the client.
type Option func(*httpClient)

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithRateLimit throttles outgoing searches. A non-positive rate disables it.
func WithRateLimit(perSec float64, burst int) Option {
	return func(c *httpClient) {
		if perSec <= 0 {
			c.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(perSec), burst)
	}
}

// WithRetryPolicy overrides the retry policy for transient failures.
func WithRetryPolicy(p resilience.Policy) Option {
	return func(c *httpClient) {
		c.policy = p
	}
}

type httpClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
	limiter *rate.Limiter
	policy  resilience.Policy
}

// NewClient creates a knowledge client. apiKey may be empty.
func NewClient(baseURL, apiKey string, opts ...Option) Client {
	c := &httpClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http: &http.Client{
			Timeout: 15 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		// Two retries after the first attempt.
		policy: resilience.Policy{MaxAttempts: 3, InitialBackoff: 500 * time.Millisecond, Multiplier: 2},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *httpClient) Search(ctx context.Context, req SearchRequest) ([]Chunk, error) {
	if strings.TrimSpace(req.Query) == "" {
		return nil, eris.New("knowledge: query is required")
	}
	if req.MatchCount <= 0 {
		req.MatchCount = defaultMatchCount
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, eris.Wrap(err, "knowledge: marshal request")
	}

	out := resilience.Run(ctx, c.policy, func(ctx context.Context, _ int) ([]byte, error) {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, eris.Wrap(err, "knowledge: rate limit wait")
			}
		}

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/search", bytes.NewReader(body))
		if err != nil {
			return nil, eris.Wrap(err, "knowledge: create request")
		}
		httpReq.Header.Set("Content-Type", "application/json")
		if c.apiKey != "" {
			httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
		}

		resp, err := c.http.Do(httpReq)
		if err != nil {
			return nil, eris.Wrap(err, "knowledge: send request")
		}
		defer resp.Body.Close() //nolint:errcheck

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, eris.Wrap(err, "knowledge: read response")
		}
		if resp.StatusCode != http.StatusOK {
			statusErr := eris.Errorf("knowledge: unexpected status %d: %s", resp.StatusCode, string(respBody))
			if resilience.IsTransientHTTPStatus(resp.StatusCode) {
				return nil, resilience.NewTransientError(statusErr, resp.StatusCode)
			}
			return nil, statusErr
		}
		return respBody, nil
	}, resilience.RetryLogger("knowledge", "search"))
	if out.Err != nil {
		return nil, out.Err
	}

	var result searchResponse
	if err := json.Unmarshal(out.Value, &result); err != nil {
		return nil, eris.Wrap(err, "knowledge: unmarshal response")
	}
	return result.Results, nil
}
