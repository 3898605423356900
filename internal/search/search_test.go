package search

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func key(k string) func(ctx context.Context) (string, error) {
	return func(ctx context.Context) (string, error) { return k, nil }
}

func TestSearchAppliesDomainBias(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query().Get("q")
		assert.Equal(t, "tok", r.Header.Get("X-Subscription-Token"))
		w.Write([]byte(`{"web": {"results": [
			{"title": "Election dates", "url": "https://nj.gov/elections", "description": "2026 primary dates"}
		]}}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, key("tok"), http.DefaultClient, nil, []string{"nj.gov", "state.nj.us"}, 0)
	results, err := c.Search(context.Background(), "primary election date", 5)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "Election dates", results[0].Title)
	assert.Contains(t, gotQuery, "site:nj.gov OR site:state.nj.us")
}

func TestSearchRespectsExplicitSite(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query().Get("q")
		w.Write([]byte(`{"web": {"results": []}}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, key("tok"), http.DefaultClient, nil, []string{"nj.gov"}, 0)
	_, err := c.Search(context.Background(), "turnout site:fec.gov", 5)
	require.NoError(t, err)
	assert.Equal(t, "turnout site:fec.gov", gotQuery)
}

func TestSearchProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, key("tok"), http.DefaultClient, nil, nil, 0)
	_, err := c.Search(context.Background(), "anything", 5)
	assert.Error(t, err)
}
