package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/tjfontaine/socratic-gateway/internal/pkg/safehttp"
)

// DefaultTavilyBaseURL is the public Tavily API endpoint.
const DefaultTavilyBaseURL = "https://api.tavily.com"

// ErrSearchNotConfigured is reported when no search API key is available.
var ErrSearchNotConfigured = errors.New("TAVILY_API_KEY is not set")

// SearchQuery is a single search request.
type SearchQuery struct {
	Query      string
	MaxResults int
	// Days limits results to the last N days when positive.
	Days int
}

// SearchResult is one hit returned by a Searcher.
type SearchResult struct {
	Title         string `json:"title"`
	URL           string `json:"url"`
	Content       string `json:"content"`
	PublishedDate string `json:"published_date,omitempty"`
}

// Searcher performs web searches.
type Searcher interface {
	Search(ctx context.Context, q SearchQuery) ([]SearchResult, error)
}

// StatusError is a non-2xx answer from the search API.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("Tavily API error: %d", e.Code)
}

// TavilyClient searches through the Tavily REST API.
type TavilyClient struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// TavilyOption configures a TavilyClient.
type TavilyOption func(*TavilyClient)

// WithBaseURL overrides the API endpoint.
func WithBaseURL(url string) TavilyOption {
	return func(c *TavilyClient) {
		c.baseURL = strings.TrimRight(url, "/")
	}
}

// WithHTTPClient replaces the SSRF-safe default client.
func WithHTTPClient(client *http.Client) TavilyOption {
	return func(c *TavilyClient) {
		c.httpClient = client
	}
}

// WithRateLimit paces outbound calls.
func WithRateLimit(r rate.Limit, burst int) TavilyOption {
	return func(c *TavilyClient) {
		c.limiter = rate.NewLimiter(r, burst)
	}
}

// NewTavilyClient creates a client. An empty apiKey yields a client whose
// searches fail with ErrSearchNotConfigured.
func NewTavilyClient(apiKey string, opts ...TavilyOption) *TavilyClient {
	c := &TavilyClient{
		apiKey:     apiKey,
		baseURL:    DefaultTavilyBaseURL,
		httpClient: safehttp.NewClient(15 * time.Second),
		limiter:    rate.NewLimiter(rate.Limit(5), 5),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type tavilyRequest struct {
	APIKey        string `json:"api_key"`
	Query         string `json:"query"`
	MaxResults    int    `json:"max_results"`
	Days          int    `json:"days,omitempty"`
	IncludeAnswer bool   `json:"include_answer"`
}

type tavilyResponse struct {
	Results []SearchResult `json:"results"`
}

// Search implements Searcher.
func (c *TavilyClient) Search(ctx context.Context, q SearchQuery) ([]SearchResult, error) {
	if c == nil || c.apiKey == "" {
		return nil, ErrSearchNotConfigured
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("wait for search slot: %w", err)
	}

	body, err := json.Marshal(tavilyRequest{
		APIKey:     c.apiKey,
		Query:      q.Query,
		MaxResults: q.MaxResults,
		Days:       q.Days,
	})
	if err != nil {
		return nil, fmt.Errorf("encode search request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/search", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create search request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return nil, &StatusError{Code: resp.StatusCode}
	}

	var out tavilyResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}
	return out.Results, nil
}
