// Package websearch implements the web_search and web_fetch tools. The
// search tool proxies a configured SearxNG-style endpoint; fetch does a
// bounded GET gated by a host allowlist.
package websearch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/modelrelay/relay/internal/agent"
)

const (
	maxFetchBytes    = 1 << 20 // 1 MiB of fetched body
	defaultMaxSearch = 10
)

// Config mirrors the web_search configuration block.
type Config struct {
	Endpoint     string
	AllowAll     bool
	AllowedHosts []string
	Timeout      time.Duration
}

// Tools performs the outbound HTTP for both web tools.
type Tools struct {
	cfg    Config
	client *http.Client
}

func NewTools(cfg Config) *Tools {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Tools{cfg: cfg, client: &http.Client{Timeout: timeout}}
}

func (t *Tools) Register(reg *agent.Registry) {
	reg.Register(&agent.ToolSpec{
		Name: "web_search", Category: "web",
		Description: "Search the web through the configured search endpoint.",
		Handler:     t.search,
	})
	reg.Register(&agent.ToolSpec{
		Name: "web_fetch", Category: "web",
		Description: "Fetch a URL and return its body, bounded and host-gated.",
		Handler:     t.fetch,
	})
}

// SearchResult is one hit from the search endpoint.
type SearchResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Content string `json:"content,omitempty"`
}

func (t *Tools) search(ctx context.Context, call *agent.ToolCall, _ *agent.ToolContext) (any, error) {
	query := stringArg(call.Args, "query", "q")
	if query == "" {
		return nil, fmt.Errorf("query is required")
	}
	if t.cfg.Endpoint == "" {
		return nil, fmt.Errorf("web search endpoint is not configured")
	}

	u, err := url.Parse(t.cfg.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("websearch: bad endpoint: %w", err)
	}
	q := u.Query()
	q.Set("q", query)
	q.Set("format", "json")
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("websearch: search request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("websearch: search endpoint returned %d", resp.StatusCode)
	}

	var payload struct {
		Results []SearchResult `json:"results"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxFetchBytes)).Decode(&payload); err != nil {
		return nil, fmt.Errorf("websearch: decode results: %w", err)
	}

	max := defaultMaxSearch
	if v, ok := call.Args["max_results"].(float64); ok && v > 0 && int(v) < max {
		max = int(v)
	}
	results := payload.Results
	if len(results) > max {
		results = results[:max]
	}
	return map[string]any{"query": query, "results": results, "count": len(results)}, nil
}

func (t *Tools) fetch(ctx context.Context, call *agent.ToolCall, _ *agent.ToolContext) (any, error) {
	raw := stringArg(call.Args, "url", "uri")
	if raw == "" {
		return nil, fmt.Errorf("url is required")
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, fmt.Errorf("websearch: invalid url %q", raw)
	}
	if !t.hostAllowed(u.Hostname()) {
		return nil, fmt.Errorf("websearch: host %q is not allowed", u.Hostname())
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "relay-agent/1.0")
	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("websearch: fetch: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBytes+1))
	if err != nil {
		return nil, fmt.Errorf("websearch: read body: %w", err)
	}
	truncated := len(body) > maxFetchBytes
	if truncated {
		body = body[:maxFetchBytes]
	}

	out := map[string]any{
		"url":          u.String(),
		"status":       resp.StatusCode,
		"content_type": resp.Header.Get("Content-Type"),
		"body":         string(body),
	}
	if truncated {
		out["truncated"] = true
	}
	return out, nil
}

// hostAllowed matches the allowlist, honoring "*.example.com" suffix
// entries.
func (t *Tools) hostAllowed(host string) bool {
	if t.cfg.AllowAll {
		return true
	}
	host = strings.ToLower(host)
	for _, entry := range t.cfg.AllowedHosts {
		entry = strings.ToLower(entry)
		if entry == host {
			return true
		}
		if suffix, ok := strings.CutPrefix(entry, "*."); ok {
			if host == suffix || strings.HasSuffix(host, "."+suffix) {
				return true
			}
		}
	}
	return false
}

func stringArg(args map[string]any, keys ...string) string {
	for _, key := range keys {
		if v, ok := args[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}
