// Package scrape fetches reference pages as readable text. A Chain tries
// the Jina Reader first and falls back to a direct HTTP fetch.
package scrape

import "context"

// Page is a fetched page reduced to text.
type Page struct {
	URL    string
	Title  string
	Text   string
	Source string // scraper name, e.g. "jina" or "direct"
}

// Scraper fetches a single URL.
type Scraper interface {
	Name() string
	Scrape(ctx context.Context, url string) (*Page, error)
}

// Fetcher is what the model call adapter depends on.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*Page, error)
}
