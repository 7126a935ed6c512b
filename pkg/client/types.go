package client

import "time"

type ScrapeRequest struct {
	URL             string   `json:"url"`
	Formats         []string `json:"formats,omitempty"` // "markdown", "html", "links"
	OnlyMainContent bool     `json:"onlyMainContent,omitempty"`
	TimeoutMs       int      `json:"timeout,omitempty"`
}

type ScrapeResult struct {
	URL      string            `json:"url"`
	Markdown string            `json:"markdown,omitempty"`
	HTML     string            `json:"html,omitempty"`
	Links    []string          `json:"links,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

type CrawlRequest struct {
	URL          string   `json:"url"`
	Limit        int      `json:"limit,omitempty"`
	MaxDepth     int      `json:"maxDepth,omitempty"`
	IncludePaths []string `json:"includePaths,omitempty"`
	ExcludePaths []string `json:"excludePaths,omitempty"`
}

type CrawlStatus struct {
	ID        string         `json:"id"`
	Status    string         `json:"status"` // "scraping"|"completed"|"failed"
	Completed int            `json:"completed"`
	Total     int            `json:"total"`
	ExpiresAt time.Time      `json:"expiresAt,omitempty"`
	Data      []ScrapeResult `json:"data,omitempty"`
}

type SearchRequest struct {
	Query string `json:"query"`
	Limit int    `json:"limit,omitempty"`
}

type SearchResult struct {
	URL         string `json:"url"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

type scrapeEnvelope struct {
	Success bool         `json:"success"`
	Data    ScrapeResult `json:"data"`
}

type crawlStartEnvelope struct {
	Success bool   `json:"success"`
	ID      string `json:"id"`
}

type searchEnvelope struct {
	Success bool           `json:"success"`
	Results []SearchResult `json:"results"`
}
