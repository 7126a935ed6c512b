package client

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func fakeBackend(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/v1/scrape", func(w http.ResponseWriter, r *http.Request) {
		var req ScrapeRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"success": true,
			"data": ScrapeResult{
				URL:      req.URL,
				Markdown: "# hello",
				Metadata: map[string]string{"title": "Hello"},
			},
		})
	})
	mux.HandleFunc("/v1/crawl", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"success": true, "id": "crawl-123"})
	})
	mux.HandleFunc("/v1/crawl/crawl-123", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(CrawlStatus{
			ID: "crawl-123", Status: "completed", Completed: 2, Total: 2,
			Data: []ScrapeResult{{URL: "https://example.com"}, {URL: "https://example.com/about"}},
		})
	})
	mux.HandleFunc("/v1/search", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"success": true,
			"results": []SearchResult{{URL: "https://example.com", Title: "Example"}},
		})
	})
	mux.HandleFunc("/v1/paywalled", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "payment required"})
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestClient_Scrape(t *testing.T) {
	srv := fakeBackend(t)
	c := New(Options{BaseURL: srv.URL})

	res, err := c.Scrape(context.Background(), ScrapeRequest{URL: "https://example.com", Formats: []string{"markdown"}})
	require.NoError(t, err)
	require.Equal(t, "https://example.com", res.URL)
	require.Equal(t, "# hello", res.Markdown)
	require.Equal(t, "Hello", res.Metadata["title"])
}

func TestClient_CrawlRoundTrip(t *testing.T) {
	srv := fakeBackend(t)
	c := New(Options{BaseURL: srv.URL})

	id, err := c.StartCrawl(context.Background(), CrawlRequest{URL: "https://example.com", Limit: 2})
	require.NoError(t, err)
	require.Equal(t, "crawl-123", id)

	st, err := c.CrawlStatus(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, "completed", st.Status)
	require.Len(t, st.Data, 2)
}

func TestClient_Search(t *testing.T) {
	srv := fakeBackend(t)
	c := New(Options{BaseURL: srv.URL})

	results, err := c.Search(context.Background(), SearchRequest{Query: "example", Limit: 5})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "Example", results[0].Title)
}

func TestClient_Health(t *testing.T) {
	srv := fakeBackend(t)
	require.True(t, New(Options{BaseURL: srv.URL}).Health(context.Background()))
}

func TestClient_APIErrorIsNotUnavailable(t *testing.T) {
	// A well-formed error response from the backend must be reported as an
	// API error, never as "backend unavailable".
	srv := fakeBackend(t)
	c := New(Options{BaseURL: srv.URL})

	err := c.get(context.Background(), "/v1/paywalled", nil)
	require.Error(t, err)
	require.False(t, errors.Is(err, ErrBackendUnavailable))

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, http.StatusPaymentRequired, apiErr.StatusCode)
	require.Equal(t, "payment required", apiErr.Message)
}

func TestClient_ConnectionFailureIsUnavailable(t *testing.T) {
	// Reserve a port nothing listens on.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	c := New(Options{BaseURL: "http://" + addr, Timeout: time.Second})

	_, err = c.Scrape(context.Background(), ScrapeRequest{URL: "https://example.com"})
	require.Error(t, err)
	require.ErrorIs(t, err, ErrBackendUnavailable)
	require.False(t, c.Health(context.Background()))
}
