package scrape

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/amo-tech-ai/rocket-path-ai-sub000/pkg/jina"
)

// minContentLen is the shortest reader output treated as a real page.
const minContentLen = 100

// JinaScraper reads pages through the Jina Reader.
type JinaScraper struct {
	client jina.Client
}

// NewJinaScraper wraps a Jina client.
func NewJinaScraper(client jina.Client) *JinaScraper {
	return &JinaScraper{client: client}
}

func (j *JinaScraper) Name() string { return "jina" }

func (j *JinaScraper) Scrape(ctx context.Context, targetURL string) (*Page, error) {
	resp, err := j.client.Read(ctx, targetURL)
	if err != nil {
		return nil, err
	}
	if resp.Code != 0 && resp.Code != 200 {
		return nil, eris.Errorf("jina: reader returned code %d", resp.Code)
	}

	content := strings.TrimSpace(resp.Data.Content)
	if len(content) < minContentLen {
		return nil, eris.New("jina: content too short")
	}
	if len(content) < 1000 {
		if c := DetectChallenge(200, nil, content); c != ChallengeNone {
			return nil, eris.Errorf("jina: %s challenge page", c)
		}
	}

	u := resp.Data.URL
	if u == "" {
		u = targetURL
	}
	return &Page{URL: u, Title: resp.Data.Title, Text: content, Source: j.Name()}, nil
}
