// Package client is the HTTP facade over the backend API server. It is only
// expected to succeed once the supervisor reports the backend Ready.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/pkg/errors"
)

type Client struct {
	baseURL string
	http    *http.Client
}

type Options struct {
	BaseURL string
	Timeout time.Duration
}

func New(opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	return &Client{
		baseURL: opts.BaseURL,
		http:    &http.Client{Timeout: opts.Timeout},
	}
}

// ForPort builds a client for a locally supervised backend.
func ForPort(port int) *Client {
	return New(Options{BaseURL: fmt.Sprintf("http://127.0.0.1:%d", port)})
}

// Scrape fetches a single URL through the backend.
func (c *Client) Scrape(ctx context.Context, req ScrapeRequest) (*ScrapeResult, error) {
	var out scrapeEnvelope
	if err := c.post(ctx, "/v1/scrape", req, &out); err != nil {
		return nil, err
	}
	return &out.Data, nil
}

// StartCrawl enqueues a crawl and returns its job id.
func (c *Client) StartCrawl(ctx context.Context, req CrawlRequest) (string, error) {
	var out crawlStartEnvelope
	if err := c.post(ctx, "/v1/crawl", req, &out); err != nil {
		return "", err
	}
	if out.ID == "" {
		return "", errors.New("backend returned no crawl id")
	}
	return out.ID, nil
}

// CrawlStatus reports progress and accumulated pages for a crawl job.
func (c *Client) CrawlStatus(ctx context.Context, id string) (*CrawlStatus, error) {
	var out CrawlStatus
	if err := c.get(ctx, "/v1/crawl/"+id, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Search runs a search query through the backend.
func (c *Client) Search(ctx context.Context, req SearchRequest) ([]SearchResult, error) {
	var out searchEnvelope
	if err := c.post(ctx, "/v1/search", req, &out); err != nil {
		return nil, err
	}
	return out.Results, nil
}

// Health performs a single probe; false for any failure, transport or HTTP.
func (c *Client) Health(ctx context.Context) bool {
	return c.get(ctx, "/health", nil) == nil
}

func (c *Client) post(ctx context.Context, path string, in any, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return errors.Wrap(err, "marshal request")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	return c.do(req, out)
}

// do distinguishes "backend unavailable" (connection-level failure) from a
// well-formed error response; callers branch on the two.
func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return errors.Wrapf(ErrBackendUnavailable, "%s %s: %v", req.Method, req.URL.Path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	b, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return errors.Wrap(err, "read response")
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var msg struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(b, &msg) == nil && msg.Error != "" {
			apiErr.Message = msg.Error
		}
		return apiErr
	}

	if out == nil || len(b) == 0 {
		return nil
	}
	if err := json.Unmarshal(b, out); err != nil {
		return errors.Wrapf(err, "decode %s response", req.URL.Path)
	}
	return nil
}
