package scrape

import (
	"context"
	"net/http"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/amo-tech-ai/rocket-path-ai-sub000/pkg/jina"
)

// Chain tries scrapers in order and returns the first success.
type Chain struct {
	scrapers []Scraper
}

// NewChain creates a Chain. Nil scrapers are skipped.
func NewChain(scrapers ...Scraper) *Chain {
	c := &Chain{}
	for _, s := range scrapers {
		if s != nil {
			c.scrapers = append(c.scrapers, s)
		}
	}
	return c
}

// NewReferenceChain reads through Jina first and falls back to a direct
// fetch. A nil client gets the direct scraper's default.
func NewReferenceChain(jc jina.Client, hc *http.Client) *Chain {
	return NewChain(NewJinaScraper(jc), NewDirectScraper(hc))
}

// Fetch implements Fetcher.
func (c *Chain) Fetch(ctx context.Context, targetURL string) (*Page, error) {
	if len(c.scrapers) == 0 {
		return nil, eris.New("scrape: no scrapers configured")
	}
	var lastErr error
	for _, s := range c.scrapers {
		page, err := s.Scrape(ctx, targetURL)
		if err == nil && page != nil {
			return page, nil
		}
		if err == nil {
			err = eris.Errorf("scrape: %s returned no page", s.Name())
		}
		zap.L().Debug("scrape: scraper failed, trying next",
			zap.String("scraper", s.Name()),
			zap.String("url", targetURL),
			zap.Error(err),
		)
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}
	return nil, eris.Wrapf(lastErr, "scrape: all scrapers failed for %s", targetURL)
}

// Outcome is the result for one URL of FetchAll.
type Outcome struct {
	URL  string
	Page *Page
	Err  error
}

// FetchAll fetches urls with at most limit in flight. Outcomes keep the
// order of urls; a failed URL carries its error.
func FetchAll(ctx context.Context, f Fetcher, urls []string, limit int) []Outcome {
	out := make([]Outcome, len(urls))
	if limit < 1 {
		limit = 1
	}

	var g errgroup.Group
	g.SetLimit(limit)
	for i, u := range urls {
		g.Go(func() error {
			page, err := f.Fetch(ctx, u)
			out[i] = Outcome{URL: u, Page: page, Err: err}
			return nil
		})
	}
	_ = g.Wait()
	return out
}
