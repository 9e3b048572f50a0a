// Package zotero syncs structured research records into a Zotero library,
// deduplicating against existing entries by DOI and then by title.
package zotero

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

const defaultBaseURL = "https://api.zotero.org"

// Config carries the library credentials, resolved once at process start.
type Config struct {
	APIKey      string
	LibraryID   string
	LibraryType string // "user" or "group"
	BaseURL     string
	Timeout     time.Duration
}

// Client talks to one Zotero library.
type Client struct {
	apiKey      string
	libraryID   string
	libraryType string
	baseURL     string
	httpClient  *http.Client
	log         *zap.Logger
}

// NewClient validates the credentials and builds a client.
func NewClient(config Config, log *zap.Logger) (*Client, error) {
	if config.LibraryID == "" || config.APIKey == "" {
		return nil, fmt.Errorf("Zotero credentials missing: set ZOTERO_LIBRARY_ID and ZOTERO_API_KEY")
	}
	libraryType := strings.ToLower(config.LibraryType)
	if libraryType != "user" && libraryType != "group" {
		libraryType = "user"
	}
	if config.BaseURL == "" {
		config.BaseURL = defaultBaseURL
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		apiKey:      config.APIKey,
		libraryID:   config.LibraryID,
		libraryType: libraryType,
		baseURL:     config.BaseURL,
		httpClient:  &http.Client{Timeout: config.Timeout},
		log:         log,
	}, nil
}

// libraryPrefix returns "users/<id>" or "groups/<id>".
func (c *Client) libraryPrefix() string {
	base := "users"
	if c.libraryType == "group" {
		base = "groups"
	}
	return base + "/" + c.libraryID
}

// WebURL returns the public library URL for an item key.
func (c *Client) WebURL(key string) string {
	return fmt.Sprintf("https://www.zotero.org/%s/items/%s", c.libraryPrefix(), key)
}

// storedItem is the slice of the item payload dedup needs.
type storedItem struct {
	Key  string `json:"key"`
	Data struct {
		Key string `json:"key"`
	} `json:"data"`
}

func (item storedItem) key() string {
	if item.Key != "" {
		return item.Key
	}
	return item.Data.Key
}

// searchItems runs a single-result library search in the given query mode,
// excluding attachments.
func (c *Client) searchItems(ctx context.Context, query, qmode string) ([]storedItem, error) {
	params := url.Values{}
	params.Set("q", query)
	params.Set("qmode", qmode)
	params.Set("itemType", "-attachment")
	params.Set("limit", "1")

	var items []storedItem
	path := fmt.Sprintf("/%s/items?%s", c.libraryPrefix(), params.Encode())
	if err := c.do(ctx, http.MethodGet, path, nil, &items); err != nil {
		return nil, err
	}
	return items, nil
}

// itemTemplate fetches the blank field template for an item type.
func (c *Client) itemTemplate(ctx context.Context, itemType string) (map[string]any, error) {
	var template map[string]any
	path := "/items/new?itemType=" + url.QueryEscape(itemType)
	if err := c.do(ctx, http.MethodGet, path, nil, &template); err != nil {
		return nil, fmt.Errorf("retrieve template for %q: %w", itemType, err)
	}
	if len(template) == 0 {
		return nil, fmt.Errorf("empty template for %q", itemType)
	}
	return template, nil
}

type createResponse struct {
	Success map[string]string `json:"success"`
	Failed  map[string]any    `json:"failed"`
}

// createItem writes one new item and returns its key.
func (c *Client) createItem(ctx context.Context, payload map[string]any) (string, error) {
	var resp createResponse
	path := fmt.Sprintf("/%s/items", c.libraryPrefix())
	if err := c.do(ctx, http.MethodPost, path, []map[string]any{payload}, &resp); err != nil {
		return "", fmt.Errorf("create item: %w", err)
	}
	for _, key := range resp.Success {
		c.log.Info("Created Zotero item", zap.String("key", key))
		return key, nil
	}
	return "", fmt.Errorf("creation returned no success payload: failed=%v", resp.Failed)
}

func (c *Client) do(ctx context.Context, method, path string, payload, out any) error {
	var reqBody io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Zotero-API-Version", "3")
	req.Header.Set("Zotero-API-Key", c.apiKey)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%s %s returned HTTP %d: %s", method, path, resp.StatusCode, string(body))
	}

	if out != nil {
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
