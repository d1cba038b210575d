package llm

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/amo-tech-ai/rocket-path-ai-sub000/internal/cost"
	"github.com/amo-tech-ai/rocket-path-ai-sub000/internal/resilience"
	"github.com/amo-tech-ai/rocket-path-ai-sub000/internal/scrape"
)

// Config holds adapter-wide defaults.
type Config struct {
	DefaultTimeout         time.Duration
	DefaultMaxOutputTokens int64
	TruncationMultiplier   float64
	MaxOutputCeiling       int64
	// BackstopSlack is added to the attempt timeout for the hard timer.
	BackstopSlack time.Duration
	MaxFetchURLs  int
	MaxFetchChars int
	Temperature   *float64
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		DefaultTimeout:         60 * time.Second,
		DefaultMaxOutputTokens: 8192,
		TruncationMultiplier:   1.5,
		MaxOutputCeiling:       32768,
		BackstopSlack:          2 * time.Second,
		MaxFetchURLs:           3,
		MaxFetchChars:          3000,
	}
}

// Caller is the interface stages depend on.
type Caller interface {
	Call(ctx context.Context, req Request) (*Response, error)
}

// Adapter implements Caller on top of a Provider.
type Adapter struct {
	provider Provider
	cfg      Config
	policy   resilience.Policy
	fetcher  scrape.Fetcher
	limiter  *rate.Limiter
	costs    *cost.Calculator
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithConfig replaces the adapter defaults. Zero fields keep their default.
func WithConfig(cfg Config) Option {
	return func(a *Adapter) {
		d := DefaultConfig()
		if cfg.DefaultTimeout <= 0 {
			cfg.DefaultTimeout = d.DefaultTimeout
		}
		if cfg.DefaultMaxOutputTokens <= 0 {
			cfg.DefaultMaxOutputTokens = d.DefaultMaxOutputTokens
		}
		if cfg.TruncationMultiplier <= 1 {
			cfg.TruncationMultiplier = d.TruncationMultiplier
		}
		if cfg.MaxOutputCeiling <= 0 {
			cfg.MaxOutputCeiling = d.MaxOutputCeiling
		}
		if cfg.BackstopSlack <= 0 {
			cfg.BackstopSlack = d.BackstopSlack
		}
		if cfg.MaxFetchURLs <= 0 {
			cfg.MaxFetchURLs = d.MaxFetchURLs
		}
		if cfg.MaxFetchChars <= 0 {
			cfg.MaxFetchChars = d.MaxFetchChars
		}
		a.cfg = cfg
	}
}

// WithRetryPolicy overrides the retry policy.
func WithRetryPolicy(p resilience.Policy) Option {
	return func(a *Adapter) { a.policy = p }
}

// WithFetcher enables reference fetching.
func WithFetcher(f scrape.Fetcher) Option {
	return func(a *Adapter) { a.fetcher = f }
}

// WithRateLimiter waits on l before every attempt.
func WithRateLimiter(l *rate.Limiter) Option {
	return func(a *Adapter) { a.limiter = l }
}

// WithCostCalculator enables cost logging.
func WithCostCalculator(c *cost.Calculator) Option {
	return func(a *Adapter) { a.costs = c }
}

// NewAdapter wraps provider.
func NewAdapter(provider Provider, opts ...Option) *Adapter {
	a := &Adapter{
		provider: provider,
		cfg:      DefaultConfig(),
		policy:   resilience.DefaultPolicy(),
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Call runs one model call to completion.
func (a *Adapter) Call(ctx context.Context, req Request) (*Response, error) {
	opts := req.Options
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = a.cfg.DefaultTimeout
	}
	maxTokens := opts.MaxOutputTokens
	if maxTokens <= 0 {
		maxTokens = a.cfg.DefaultMaxOutputTokens
	}
	log := zap.L().With(zap.String("stage", req.Stage), zap.String("provider", a.provider.Name()), zap.String("model", req.Model))

	schemaDoc := opts.Schema
	if schemaDoc != nil && opts.Effort == EffortHigh && !opts.KeepSchemaWithReasoning {
		log.Debug("llm: dropping schema for high-effort call")
		schemaDoc = nil
	}

	system := req.System
	var validator schemaValidator
	if schemaDoc != nil {
		s, raw, err := compileSchema(schemaDoc)
		if err != nil {
			log.Warn("llm: schema unusable, calling without it", zap.Error(err))
		} else {
			validator = func(text string) []string { return validateText(s, text) }
			system += schemaInstruction(raw)
		}
	}

	user := req.User
	var toolCtx []FetchMeta
	if opts.UseFetch && len(opts.ReferenceURLs) > 0 && a.fetcher != nil {
		var block string
		block, toolCtx = a.fetchReferences(ctx, opts.ReferenceURLs)
		user += block
	}

	preq := ProviderRequest{
		Model:       req.Model,
		System:      system,
		User:        user,
		Temperature: a.cfg.Temperature,
		UseSearch:   opts.UseSearch,
		Effort:      opts.Effort,
		JSON:        validator != nil,
	}

	var (
		usage    cost.Usage
		attempts int
		resp     *ProviderResponse
	)
	for truncRetries := 0; ; truncRetries++ {
		preq.MaxOutputTokens = maxTokens
		out := resilience.Run(ctx, a.policy, func(ctx context.Context, attempt int) (*ProviderResponse, error) {
			attempts++
			return a.attempt(ctx, preq, timeout)
		}, func(attempt int, err error) {
			log.Warn("llm: retrying", zap.Int("attempt", attempt), zap.Error(err))
		})
		if out.Err != nil {
			ce := newCallError(out.Err, attempts)
			log.Error("llm: call failed",
				zap.String("kind", string(ce.Kind)),
				zap.Int("status_code", ce.StatusCode),
				zap.Int("attempts", attempts),
				zap.Error(out.Err),
			)
			return nil, ce
		}
		resp = out.Value
		usage = addUsage(usage, resp.Usage)

		if !resp.Truncated || truncRetries > 0 || maxTokens >= a.cfg.MaxOutputCeiling {
			break
		}
		next := min(int64(float64(maxTokens)*a.cfg.TruncationMultiplier), a.cfg.MaxOutputCeiling)
		log.Warn("llm: output truncated, retrying with larger ceiling",
			zap.Int64("max_output_tokens", maxTokens),
			zap.Int64("next_max_output_tokens", next),
		)
		maxTokens = next
	}

	if resp.Truncated {
		log.Warn("llm: output still truncated", zap.Int("chars", len(resp.Text)))
	}

	res := &Response{
		Text:        resp.Text,
		Model:       req.Model,
		Grounded:    resp.Grounded,
		Citations:   resp.Citations,
		ToolContext: toolCtx,
		Truncated:   resp.Truncated,
		Usage:       usage,
		Attempts:    attempts,
	}
	if validator != nil {
		res.SchemaViolations = validator(resp.Text)
		if len(res.SchemaViolations) > 0 {
			log.Warn("llm: response violates schema", zap.Strings("violations", res.SchemaViolations))
		}
	}
	if a.costs != nil {
		a.costs.Log(req.Model, req.Stage, usage)
	}
	return res, nil
}

type schemaValidator func(text string) []string

type attemptResult struct {
	resp *ProviderResponse
	err  error
}

// attempt runs one provider call under the attempt context and a hard
// backstop timer.
func (a *Adapter) attempt(ctx context.Context, preq ProviderRequest, timeout time.Duration) (*ProviderResponse, error) {
	if a.limiter != nil {
		if err := a.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "llm: rate limit wait")
		}
	}

	actx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan attemptResult, 1)
	go func() {
		r, err := a.provider.Generate(actx, preq)
		done <- attemptResult{resp: r, err: err}
	}()

	backstop := time.NewTimer(timeout + a.cfg.BackstopSlack)
	defer backstop.Stop()

	select {
	case r := <-done:
		if r.err != nil {
			if ctx.Err() == nil && errors.Is(actx.Err(), context.DeadlineExceeded) {
				return nil, &attemptTimeout{after: timeout}
			}
			return nil, r.err
		}
		if r.resp == nil {
			return nil, eris.New("llm: provider returned no response")
		}
		return r.resp, nil
	case <-backstop.C:
		return nil, &attemptTimeout{after: timeout + a.cfg.BackstopSlack, backstop: true}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// fetchReferences reads up to MaxFetchURLs reference pages and renders them
// as a block appended to the user content.
func (a *Adapter) fetchReferences(ctx context.Context, urls []string) (string, []FetchMeta) {
	seen := map[string]bool{}
	var picked []string
	for _, u := range urls {
		u = strings.TrimSpace(u)
		if u == "" || seen[u] {
			continue
		}
		seen[u] = true
		picked = append(picked, u)
		if len(picked) == a.cfg.MaxFetchURLs {
			break
		}
	}
	if len(picked) == 0 {
		return "", nil
	}

	outcomes := scrape.FetchAll(ctx, a.fetcher, picked, len(picked))
	meta := make([]FetchMeta, 0, len(outcomes))
	var b strings.Builder
	for _, o := range outcomes {
		if o.Err != nil || o.Page == nil {
			zap.L().Debug("llm: reference fetch failed", zap.String("url", o.URL), zap.Error(o.Err))
			meta = append(meta, FetchMeta{URL: o.URL, Status: FetchError})
			continue
		}
		meta = append(meta, FetchMeta{URL: o.URL, Status: FetchSuccess})
		if b.Len() == 0 {
			b.WriteString("\n\n## Reference pages\n")
		}
		b.WriteString("\n### ")
		if o.Page.Title != "" {
			b.WriteString(o.Page.Title + " ")
		}
		b.WriteString("(" + o.URL + ")\n")
		b.WriteString(truncateRunes(o.Page.Text, a.cfg.MaxFetchChars))
		b.WriteString("\n")
	}
	return b.String(), meta
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func addUsage(a, b cost.Usage) cost.Usage {
	return cost.Usage{
		InputTokens:      a.InputTokens + b.InputTokens,
		OutputTokens:     a.OutputTokens + b.OutputTokens,
		CacheWriteTokens: a.CacheWriteTokens + b.CacheWriteTokens,
		CacheReadTokens:  a.CacheReadTokens + b.CacheReadTokens,
		SearchCalls:      a.SearchCalls + b.SearchCalls,
	}
}
