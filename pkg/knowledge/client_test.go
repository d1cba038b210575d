package knowledge

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amo-tech-ai/rocket-path-ai-sub000/internal/resilience"
)

func fastRetry() Option {
	return WithRetryPolicy(resilience.Policy{MaxAttempts: 3, InitialBackoff: time.Millisecond, Multiplier: 1})
}

func TestSearch_Success(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/search", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		var req SearchRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "pet food market size", req.Query)
		assert.Equal(t, "pet care", req.Filter)
		assert.Equal(t, 5, req.MatchCount)

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"results":[
			{"content":"Pet care is a $300B market.","source":"Industry Report","year":2024,"similarity":0.91},
			{"content":"Growth is 6%.","source":"Survey","similarity":0.80}
		]}`)) //nolint:errcheck
	}))
	defer ts.Close()

	c := NewClient(ts.URL+"/", "secret")
	chunks, err := c.Search(context.Background(), SearchRequest{Query: "pet food market size", Filter: "pet care"})
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, "Industry Report", chunks[0].Source)
	require.NotNil(t, chunks[0].Year)
	assert.Equal(t, 2024, *chunks[0].Year)
	assert.Nil(t, chunks[1].Year)
	assert.InDelta(t, 0.91, chunks[0].Similarity, 1e-9)
}

func TestSearch_AnonymousOmitsAuth(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
		w.Write([]byte(`{"results":[]}`)) //nolint:errcheck
	}))
	defer ts.Close()

	chunks, err := NewClient(ts.URL, "").Search(context.Background(), SearchRequest{Query: "q"})
	require.NoError(t, err)
	assert.Empty(t, chunks)
}

func TestSearch_RetriesTransientTwice(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer ts.Close()

	_, err := NewClient(ts.URL, "", fastRetry()).Search(context.Background(), SearchRequest{Query: "q"})
	require.Error(t, err)
	assert.True(t, resilience.IsTransient(err))
	assert.Equal(t, int32(3), calls.Load())
}

func TestSearch_RecoversAfterServerError(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"results":[{"content":"x","source":"s","similarity":0.5}]}`)) //nolint:errcheck
	}))
	defer ts.Close()

	chunks, err := NewClient(ts.URL, "", fastRetry()).Search(context.Background(), SearchRequest{Query: "q"})
	require.NoError(t, err)
	assert.Len(t, chunks, 1)
	assert.Equal(t, int32(2), calls.Load())
}

func TestSearch_ClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer ts.Close()

	_, err := NewClient(ts.URL, "bad", fastRetry()).Search(context.Background(), SearchRequest{Query: "q"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
	assert.Equal(t, int32(1), calls.Load())
}

func TestSearch_EmptyQuery(t *testing.T) {
	_, err := NewClient("http://unused", "").Search(context.Background(), SearchRequest{Query: "  "})
	require.Error(t, err)
}

func TestSearch_RateLimited(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"results":[]}`)) //nolint:errcheck
	}))
	defer ts.Close()

	c := NewClient(ts.URL, "", WithRateLimit(1000, 1))
	for i := 0; i < 3; i++ {
		_, err := c.Search(context.Background(), SearchRequest{Query: "q"})
		require.NoError(t, err)
	}
}
