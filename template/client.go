// Package template is the consumed contract with the inspection-template
// backend: resolve a template id to its authoritative current version, with
// caching because the conflict detector may ask about the same template for
// every draft in the queue.
package template

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// Template is the subset of the authoring template the engine cares about.
// Version increases monotonically per template id on every published edit.
type Template struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Version int64  `json:"version"`
}

// Options configures a Client.
type Options struct {
	// BaseURL of the template API, e.g. "https://ops.example.com".
	BaseURL string
	// HTTPClient overrides the default client (30s timeout).
	HTTPClient *http.Client
	// CacheTTL bounds how long a fetched template is served from memory
	// when forceRefresh is false. Default: 5m.
	CacheTTL time.Duration
	// MockPrefixes identify non-production template ids whose drafts are
	// eligible for unconditional cleanup. Default: ["mock-"].
	MockPrefixes []string
	// Logger overrides the default slog logger.
	Logger *slog.Logger
}

func (o *Options) defaults() {
	if o.HTTPClient == nil {
		o.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if o.CacheTTL <= 0 {
		o.CacheTTL = 5 * time.Minute
	}
	if o.MockPrefixes == nil {
		o.MockPrefixes = []string{"mock-"}
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

type cacheEntry struct {
	tpl     Template
	fetched time.Time
}

// Client resolves templates against the backend with an in-memory cache.
// Safe for concurrent use.
type Client struct {
	baseURL string
	opts    Options

	mu    sync.Mutex
	cache map[string]cacheEntry
}

// NewClient creates a template Client.
func NewClient(opts Options) (*Client, error) {
	if opts.BaseURL == "" {
		return nil, fmt.Errorf("template: BaseURL is required")
	}
	if _, err := url.Parse(opts.BaseURL); err != nil {
		return nil, fmt.Errorf("template: invalid BaseURL: %w", err)
	}
	opts.defaults()
	return &Client{
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		opts:    opts,
		cache:   make(map[string]cacheEntry),
	}, nil
}

// Fetch resolves a template. With forceRefresh false a cache entry younger
// than CacheTTL is returned without a network call. Fails with ErrNotFound
// when the template was deleted, or a TransientError on network/server
// failure.
func (c *Client) Fetch(ctx context.Context, templateID string, forceRefresh bool) (*Template, error) {
	if templateID == "" {
		return nil, fmt.Errorf("template: empty template id")
	}

	if !forceRefresh {
		c.mu.Lock()
		if e, ok := c.cache[templateID]; ok && time.Since(e.fetched) < c.opts.CacheTTL {
			c.mu.Unlock()
			tpl := e.tpl
			return &tpl, nil
		}
		c.mu.Unlock()
	}

	tpl, err := c.fetchRemote(ctx, templateID)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.cache[templateID] = cacheEntry{tpl: *tpl, fetched: time.Now()}
	c.mu.Unlock()
	return tpl, nil
}

// Version resolves just the current version number of a template.
func (c *Client) Version(ctx context.Context, templateID string, forceRefresh bool) (int64, error) {
	tpl, err := c.Fetch(ctx, templateID, forceRefresh)
	if err != nil {
		return 0, err
	}
	return tpl.Version, nil
}

// Invalidate drops the cache entry for a template id.
func (c *Client) Invalidate(templateID string) {
	c.mu.Lock()
	delete(c.cache, templateID)
	c.mu.Unlock()
}

// IsMock reports whether a template id matches a known non-production
// pattern. Matching is a case-insensitive prefix check.
func (c *Client) IsMock(templateID string) bool {
	lower := strings.ToLower(templateID)
	for _, p := range c.opts.MockPrefixes {
		if strings.HasPrefix(lower, strings.ToLower(p)) {
			return true
		}
	}
	return false
}

func (c *Client) fetchRemote(ctx context.Context, templateID string) (*Template, error) {
	u := c.baseURL + "/api/inspection-templates/" + url.PathEscape(templateID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("template: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.opts.HTTPClient.Do(req)
	if err != nil {
		return nil, &TransientError{TemplateID: templateID, Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		c.opts.Logger.Debug("template: deleted on backend", "template_id", templateID)
		return nil, fmt.Errorf("%w: %s", ErrNotFound, templateID)
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &TransientError{
			TemplateID: templateID,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("unexpected status: %s", strings.TrimSpace(string(body))),
		}
	}

	var payload struct {
		Template Template `json:"template"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, &TransientError{TemplateID: templateID, Err: fmt.Errorf("decode: %w", err)}
	}
	if payload.Template.ID == "" {
		payload.Template.ID = templateID
	}

	c.opts.Logger.Debug("template: resolved",
		"template_id", templateID,
		"version", payload.Template.Version,
		"duration", time.Since(start))
	return &payload.Template, nil
}
