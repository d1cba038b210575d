package scrape

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"
)

const (
	defaultUserAgent = "Mozilla/5.0 (compatible; IdeaValidator/1.0)"
	maxBodyBytes     = 1 << 20
)

var noiseSelector = "nav, footer, header, script, style, noscript, svg, form, .ad, .ads, .sidebar, .cookie-banner, .popup"

var contentSelectors = []string{"main", "article", "[role=main]", ".content", "#content", ".main-content"}

// DirectScraper fetches HTML itself and extracts the main text with goquery.
type DirectScraper struct {
	client    *http.Client
	userAgent string
}

// NewDirectScraper creates a DirectScraper. A nil client gets a 15s timeout.
func NewDirectScraper(client *http.Client) *DirectScraper {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &DirectScraper{client: client, userAgent: defaultUserAgent}
}

func (d *DirectScraper) Name() string { return "direct" }

func (d *DirectScraper) Scrape(ctx context.Context, targetURL string) (*Page, error) {
	u, err := url.Parse(targetURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, eris.Errorf("direct: invalid url %q", targetURL)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, targetURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "direct: create request")
	}
	req.Header.Set("User-Agent", d.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "direct: fetch")
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, eris.Wrap(err, "direct: read body")
	}

	if c := DetectChallenge(resp.StatusCode, resp.Header, string(body)); c != ChallengeNone {
		return nil, eris.Errorf("direct: blocked (%s)", c)
	}
	if resp.StatusCode >= 400 {
		return nil, eris.Errorf("direct: status %d", resp.StatusCode)
	}

	title, text, err := ExtractText(string(body))
	if err != nil {
		return nil, err
	}
	if text == "" {
		return nil, eris.New("direct: empty page")
	}
	return &Page{URL: targetURL, Title: title, Text: text, Source: d.Name()}, nil
}

// ExtractText returns the page title and the whitespace-normalized text of
// its main content, falling back to the body.
func ExtractText(html string) (title, text string, err error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", "", eris.Wrap(err, "direct: parse html")
	}

	title = strings.TrimSpace(doc.Find("title").First().Text())
	doc.Find(noiseSelector).Remove()

	sel := doc.Find("body")
	for _, cs := range contentSelectors {
		if s := doc.Find(cs); s.Length() > 0 {
			sel = s.First()
			break
		}
	}
	return title, strings.Join(strings.Fields(sel.Text()), " "), nil
}
