package websearch

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSearchNotConfigured(t *testing.T) {
	c := New(Config{})
	_, err := c.Search(context.Background(), "anything", 5)
	assert.ErrorIs(t, err, ErrNotConfigured)
	assert.False(t, c.Enabled())
}

func TestSearchDecodesResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/search", r.URL.Path)
		var req searchRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "test-key", req.APIKey)
		assert.Equal(t, "golang generics", req.Query)

		_ = json.NewEncoder(w).Encode(map[string]any{
			"results": []map[string]string{
				{"title": "Go Blog", "url": "https://go.dev/blog", "content": "about generics"},
				{"title": "Spec", "url": "https://go.dev/ref/spec", "content": "type parameters"},
			},
		})
	}))
	defer srv.Close()

	c := New(Config{APIKey: "test-key", BaseURL: srv.URL})
	got, err := c.Search(context.Background(), "golang generics", 5)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "Go Blog", got[0].Title)
	assert.Equal(t, "type parameters", got[1].Snippet)
}

func TestSearchTruncatesToLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"results": []map[string]string{
				{"title": "a", "url": "u1"}, {"title": "b", "url": "u2"}, {"title": "c", "url": "u3"},
			},
		})
	}))
	defer srv.Close()

	c := New(Config{APIKey: "k", BaseURL: srv.URL})
	got, err := c.Search(context.Background(), "q", 2)
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestSearchAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := New(Config{APIKey: "k", BaseURL: srv.URL})
	_, err := c.Search(context.Background(), "q", 5)
	assert.ErrorIs(t, err, ErrSearchFailed)
	assert.Contains(t, err.Error(), "429")
}
