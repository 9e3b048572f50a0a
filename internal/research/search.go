package research

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/html"
	"golang.org/x/sync/errgroup"
)

// Searcher is the web-search surface the agent loop depends on.
type Searcher interface {
	Search(ctx context.Context, query string) ([]SearchHit, error)
}

// SearchHit is one result returned by the search backend, optionally
// enriched with the fetched page text.
type SearchHit struct {
	Title    string `json:"title"`
	URL      string `json:"url"`
	Content  string `json:"content"`
	PageText string `json:"-"`
}

// TavilySearcher implements Searcher against the Tavily search API.
type TavilySearcher struct {
	apiKey     string
	baseURL    string
	maxResults int
	fetchPages bool
	httpClient *http.Client
	log        *zap.Logger
}

// TavilyConfig configures the search backend.
type TavilyConfig struct {
	APIKey     string
	BaseURL    string
	MaxResults int
	FetchPages bool // fetch and strip the top hit pages for extra context
	Timeout    time.Duration
}

// DefaultTavilyConfig returns sensible defaults.
func DefaultTavilyConfig(apiKey string) TavilyConfig {
	return TavilyConfig{
		APIKey:     apiKey,
		BaseURL:    "https://api.tavily.com",
		MaxResults: 5,
		FetchPages: true,
		Timeout:    30 * time.Second,
	}
}

// NewTavilySearcher creates a Tavily-backed searcher.
func NewTavilySearcher(config TavilyConfig, log *zap.Logger) *TavilySearcher {
	if log == nil {
		log = zap.NewNop()
	}
	if config.BaseURL == "" {
		config.BaseURL = "https://api.tavily.com"
	}
	if config.MaxResults <= 0 {
		config.MaxResults = 5
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	return &TavilySearcher{
		apiKey:     config.APIKey,
		baseURL:    config.BaseURL,
		maxResults: config.MaxResults,
		fetchPages: config.FetchPages,
		httpClient: &http.Client{Timeout: config.Timeout},
		log:        log,
	}
}

type tavilyRequest struct {
	APIKey        string `json:"api_key"`
	Query         string `json:"query"`
	MaxResults    int    `json:"max_results"`
	IncludeAnswer bool   `json:"include_answer"`
}

type tavilyResponse struct {
	Answer  string      `json:"answer"`
	Results []SearchHit `json:"results"`
}

// Search runs one query and returns the hits, each with page text attached
// when page fetching is enabled.
func (s *TavilySearcher) Search(ctx context.Context, query string) ([]SearchHit, error) {
	if s.apiKey == "" {
		return nil, fmt.Errorf("search API key not configured")
	}

	reqBody := tavilyRequest{
		APIKey:        s.apiKey,
		Query:         query,
		MaxResults:    s.maxResults,
		IncludeAnswer: true,
	}
	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", s.baseURL+"/search", bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search returned HTTP %d: %s", resp.StatusCode, string(body))
	}

	var searchResp tavilyResponse
	if err := json.Unmarshal(body, &searchResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	hits := searchResp.Results
	s.log.Debug("Search completed", zap.String("query", query), zap.Int("hits", len(hits)))

	if s.fetchPages {
		s.attachPageText(ctx, hits)
	}
	return hits, nil
}

// attachPageText fetches each hit's page concurrently and reduces it to
// plain text. Fetch failures leave PageText empty; the snippet from the
// search backend still stands.
func (s *TavilySearcher) attachPageText(ctx context.Context, hits []SearchHit) {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(2)

	for i := range hits {
		i := i
		g.Go(func() error {
			text, err := s.fetchPage(ctx, hits[i].URL)
			if err != nil {
				s.log.Debug("Page fetch failed", zap.String("url", hits[i].URL), zap.Error(err))
				return nil
			}
			hits[i].PageText = truncate(text, 4000)
			return nil
		})
	}
	_ = g.Wait()
}

func (s *TavilySearcher) fetchPage(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", "refsmith/1.0 (research agent)")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("HTTP %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", err
	}
	return htmlToText(string(body)), nil
}

// htmlToText strips markup, scripts, and styles, collapsing the document to
// whitespace-separated text.
func htmlToText(raw string) string {
	doc, err := html.Parse(strings.NewReader(raw))
	if err != nil {
		return raw
	}

	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && (n.Data == "script" || n.Data == "style" || n.Data == "noscript") {
			return
		}
		if n.Type == html.TextNode {
			text := strings.TrimSpace(n.Data)
			if text != "" {
				b.WriteString(text)
				b.WriteString(" ")
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return strings.TrimSpace(b.String())
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "\n[...truncated...]"
}
