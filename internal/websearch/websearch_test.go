package websearch

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"politicalassistant/internal/config"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := New(config.MetaSearchConfig{BaseURL: srv.URL, MaxResults: 10}, config.CacheConfig{}, nil)
	require.NoError(t, err)
	return c
}

func TestSearchNormalizesHits(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(searxResponse{Results: []searxResult{
			{Title: "A", URL: "https://example.com/a", Content: "snippet", Engine: "duckduckgo", Score: 1.2},
		}})
	})
	hits, err := c.Search(context.Background(), Query{Text: "go modules"})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	require.Equal(t, "example.com", hits[0].Domain)
	require.Equal(t, 1, hits[0].Rank)
}

func TestSearchRejectsEmptyQuery(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {})
	_, err := c.Search(context.Background(), Query{})
	require.Error(t, err)
}

func TestSearchCachesSecondCallWithoutHittingBackend(t *testing.T) {
	calls := 0
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		_ = json.NewEncoder(w).Encode(searxResponse{Results: []searxResult{{Title: "A", URL: "https://example.com/a"}}})
	})
	q := Query{Text: "repeat query"}
	_, err := c.Search(context.Background(), q)
	require.NoError(t, err)
	_, err = c.Search(context.Background(), q)
	require.NoError(t, err)
	require.Equal(t, 1, calls)
}

func TestSearchHandlesNonJSONPayload(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json"))
	})
	_, err := c.Search(context.Background(), Query{Text: "bad payload"})
	require.Error(t, err)
}

func TestSearchHandlesHTTPError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	_, err := c.Search(context.Background(), Query{Text: "server error"})
	require.Error(t, err)
}

func TestQueryCacheKeyStableAcrossCalls(t *testing.T) {
	q := Query{Text: "same", Categories: []string{"news"}}
	require.Equal(t, q.cacheKey(), q.cacheKey())
}

func TestQueryIsNewsDetection(t *testing.T) {
	require.True(t, Query{Categories: []string{"News"}}.isNews())
	require.False(t, Query{Categories: []string{"general"}}.isNews())
}
