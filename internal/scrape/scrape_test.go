package scrape

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/amo-tech-ai/rocket-path-ai-sub000/pkg/jina"
	jinamocks "github.com/amo-tech-ai/rocket-path-ai-sub000/pkg/jina/mocks"
)

var longMarkdown = "# Acme\n\n" + strings.Repeat("Acme sells refurbished lab equipment to university labs. ", 5)

func TestJinaScraper_Success(t *testing.T) {
	m := jinamocks.NewMockClient(t)
	m.On("Read", mock.Anything, "https://acme.com").Return(&jina.ReadResponse{
		Code: 200,
		Data: jina.ReadData{URL: "https://acme.com/", Title: "Acme", Content: longMarkdown},
	}, nil)

	page, err := NewJinaScraper(m).Scrape(context.Background(), "https://acme.com")
	require.NoError(t, err)
	assert.Equal(t, "jina", page.Source)
	assert.Equal(t, "https://acme.com/", page.URL)
	assert.Equal(t, "Acme", page.Title)
	assert.Contains(t, page.Text, "refurbished lab equipment")
}

func TestJinaScraper_Rejects(t *testing.T) {
	tests := []struct {
		name string
		resp *jina.ReadResponse
		err  error
	}{
		{"client error", nil, errors.New("connection refused")},
		{"bad code", &jina.ReadResponse{Code: 451, Data: jina.ReadData{Content: longMarkdown}}, nil},
		{"short content", &jina.ReadResponse{Code: 200, Data: jina.ReadData{Content: "tiny"}}, nil},
		{"challenge", &jina.ReadResponse{Code: 200, Data: jina.ReadData{
			Content: "Just a moment... Checking your browser before accessing the site. " + strings.Repeat(".", 60),
		}}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := jinamocks.NewMockClient(t)
			m.On("Read", mock.Anything, "https://x.com").Return(tt.resp, tt.err)
			_, err := NewJinaScraper(m).Scrape(context.Background(), "https://x.com")
			require.Error(t, err)
		})
	}
}

func TestDirectScraper_ExtractsMainText(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.Header.Get("User-Agent"), "IdeaValidator")
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<html><head><title> Acme Pricing </title><script>var x=1;</script></head>
<body><nav>Home | About</nav><main><h1>Plans</h1>
<p>Starter   costs $10.</p></main><footer>(c) Acme</footer></body></html>`)) //nolint:errcheck
	}))
	defer ts.Close()

	page, err := NewDirectScraper(ts.Client()).Scrape(context.Background(), ts.URL)
	require.NoError(t, err)
	assert.Equal(t, "direct", page.Source)
	assert.Equal(t, "Acme Pricing", page.Title)
	assert.Equal(t, "Plans Starter costs $10.", page.Text)
}

func TestDirectScraper_Errors(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/blocked":
			w.Header().Set("cf-ray", "123")
			w.WriteHeader(http.StatusForbidden)
		case "/missing":
			w.WriteHeader(http.StatusNotFound)
		default:
			w.Write([]byte(`<html><body>   </body></html>`)) //nolint:errcheck
		}
	}))
	defer ts.Close()

	d := NewDirectScraper(ts.Client())
	for _, path := range []string{"/blocked", "/missing", "/empty"} {
		_, err := d.Scrape(context.Background(), ts.URL+path)
		assert.Error(t, err, path)
	}

	_, err := d.Scrape(context.Background(), "ftp://example.com/file")
	assert.Error(t, err)
}

func TestReferenceChain_JinaFirst(t *testing.T) {
	var directHits atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		directHits.Add(1)
		w.Write([]byte(`<html><head><title>Direct</title></head><body><main>Direct copy of the page.</main></body></html>`)) //nolint:errcheck
	}))
	defer ts.Close()

	m := jinamocks.NewMockClient(t)
	m.On("Read", mock.Anything, ts.URL+"/ok").Return(&jina.ReadResponse{
		Code: 200,
		Data: jina.ReadData{Title: "Acme", Content: longMarkdown},
	}, nil).Once()
	m.On("Read", mock.Anything, ts.URL+"/down").Return(nil, errors.New("reader unavailable")).Once()

	chain := NewReferenceChain(m, ts.Client())

	page, err := chain.Fetch(context.Background(), ts.URL+"/ok")
	require.NoError(t, err)
	assert.Equal(t, "jina", page.Source)
	assert.Equal(t, int32(0), directHits.Load())

	page, err = chain.Fetch(context.Background(), ts.URL+"/down")
	require.NoError(t, err)
	assert.Equal(t, "direct", page.Source)
	assert.Equal(t, "Direct copy of the page.", page.Text)
	assert.Equal(t, int32(1), directHits.Load())
}

type stubScraper struct {
	name  string
	page  *Page
	err   error
	calls atomic.Int32
}

func (s *stubScraper) Name() string { return s.name }

func (s *stubScraper) Scrape(_ context.Context, u string) (*Page, error) {
	s.calls.Add(1)
	if s.err != nil {
		return nil, s.err
	}
	p := *s.page
	p.URL = u
	return &p, nil
}

func TestChain_FallsBack(t *testing.T) {
	first := &stubScraper{name: "jina", err: errors.New("down")}
	second := &stubScraper{name: "direct", page: &Page{Text: "ok", Source: "direct"}}

	page, err := NewChain(first, nil, second).Fetch(context.Background(), "https://a.com")
	require.NoError(t, err)
	assert.Equal(t, "direct", page.Source)
	assert.Equal(t, int32(1), first.calls.Load())
	assert.Equal(t, int32(1), second.calls.Load())
}

func TestChain_FirstSuccessWins(t *testing.T) {
	first := &stubScraper{name: "jina", page: &Page{Text: "ok", Source: "jina"}}
	second := &stubScraper{name: "direct", page: &Page{Text: "ok", Source: "direct"}}

	page, err := NewChain(first, second).Fetch(context.Background(), "https://a.com")
	require.NoError(t, err)
	assert.Equal(t, "jina", page.Source)
	assert.Equal(t, int32(0), second.calls.Load())
}

func TestChain_AllFail(t *testing.T) {
	c := NewChain(&stubScraper{name: "a", err: errors.New("x")}, &stubScraper{name: "b", err: errors.New("y")})
	_, err := c.Fetch(context.Background(), "https://a.com")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "all scrapers failed")

	_, err = NewChain().Fetch(context.Background(), "https://a.com")
	require.Error(t, err)
}

type urlFetcher struct{}

func (urlFetcher) Fetch(_ context.Context, u string) (*Page, error) {
	if strings.Contains(u, "bad") {
		return nil, errors.New("boom")
	}
	return &Page{URL: u, Text: "text of " + u}, nil
}

func TestFetchAll_PreservesOrder(t *testing.T) {
	urls := []string{"https://a.com", "https://bad.com", "https://c.com"}
	out := FetchAll(context.Background(), urlFetcher{}, urls, 2)
	require.Len(t, out, 3)
	for i, o := range out {
		assert.Equal(t, urls[i], o.URL)
	}
	assert.NoError(t, out[0].Err)
	assert.Error(t, out[1].Err)
	assert.Nil(t, out[1].Page)
	assert.Equal(t, "text of https://c.com", out[2].Page.Text)
}
