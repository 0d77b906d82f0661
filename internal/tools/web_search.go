package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/calder-ai/calder/internal/llm"
)

const (
	defaultSearchCount  = 5
	maxSearchCount      = 10
	searchTimeout       = 30 * time.Second
	braveSearchEndpoint = "https://api.search.brave.com/res/v1/web/search"
)

type webSearchArgs struct {
	Query string `json:"query" jsonschema:"description=Search query string,required"`
	Count int    `json:"count" jsonschema:"description=Number of results to return (1-10)"`
}

type searchResult struct {
	Title       string
	URL         string
	Description string
}

// searchProvider abstracts a web search backend. Providers are tried in
// order; the first that returns results wins.
type searchProvider interface {
	Name() string
	Search(ctx context.Context, query string, count int) ([]searchResult, error)
}

// WebSearchTool queries Brave when an API key is configured and falls back
// to the DuckDuckGo HTML endpoint otherwise.
type WebSearchTool struct {
	providers []searchProvider
}

func NewWebSearchTool(braveAPIKey string) *WebSearchTool {
	client := &http.Client{Timeout: searchTimeout}
	t := &WebSearchTool{}
	if braveAPIKey != "" {
		t.providers = append(t.providers, &braveProvider{apiKey: braveAPIKey, client: client})
	}
	t.providers = append(t.providers, &ddgProvider{client: client})
	return t
}

func (t *WebSearchTool) Definition() llm.ToolDefinition {
	return llm.ToolDefinition{
		Name:        "web_search",
		Description: "Search the web for current information. Returns titles, URLs, and snippets.",
		Parameters:  SchemaFor(webSearchArgs{}),
	}
}

func (t *WebSearchTool) Execute(ctx context.Context, args map[string]any) Result {
	query := String(args, "query")
	if query == "" {
		return Failure(FailureExecutionFailed, "query is required")
	}
	count := defaultSearchCount
	if c, ok := Number(args, "count"); ok && int(c) >= 1 && int(c) <= maxSearchCount {
		count = int(c)
	}

	var lastErr error
	for _, p := range t.providers {
		results, err := p.Search(ctx, query, count)
		if err != nil {
			slog.Warn("search provider failed", "provider", p.Name(), "error", err)
			lastErr = err
			continue
		}
		return Success(formatResults(query, p.Name(), results))
	}
	return ExecutionError(fmt.Errorf("all search providers failed: %w", lastErr))
}

func formatResults(query, provider string, results []searchResult) string {
	if len(results) == 0 {
		return fmt.Sprintf("No results found for: %s", query)
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "Search results for: %s (via %s)\n\n", query, provider)
	for i, r := range results {
		fmt.Fprintf(&sb, "%d. %s\n   %s\n", i+1, r.Title, r.URL)
		if r.Description != "" {
			fmt.Fprintf(&sb, "   %s\n", r.Description)
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}

// --- Brave ---

type braveProvider struct {
	apiKey string
	client *http.Client
}

func (p *braveProvider) Name() string { return "brave" }

func (p *braveProvider) Search(ctx context.Context, query string, count int) ([]searchResult, error) {
	q := url.Values{}
	q.Set("q", query)
	q.Set("count", fmt.Sprintf("%d", count))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, braveSearchEndpoint+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Subscription-Token", p.apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("brave API returned %d", resp.StatusCode)
	}

	var parsed struct {
		Web struct {
			Results []struct {
				Title       string `json:"title"`
				URL         string `json:"url"`
				Description string `json:"description"`
			} `json:"results"`
		} `json:"web"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	results := make([]searchResult, 0, len(parsed.Web.Results))
	for _, r := range parsed.Web.Results {
		results = append(results, searchResult{Title: r.Title, URL: r.URL, Description: r.Description})
	}
	return results, nil
}

// --- DuckDuckGo HTML ---

type ddgProvider struct {
	client *http.Client
}

func (p *ddgProvider) Name() string { return "duckduckgo" }

var (
	ddgLinkRe    = regexp.MustCompile(`<a[^>]*class="[^"]*result__a[^"]*"[^>]*href="([^"]+)"[^>]*>([\s\S]*?)</a>`)
	ddgSnippetRe = regexp.MustCompile(`<a class="result__snippet[^"]*".*?>([\s\S]*?)</a>`)
)

func (p *ddgProvider) Search(ctx context.Context, query string, count int) ([]searchResult, error) {
	searchURL := "https://html.duckduckgo.com/html/?q=" + url.QueryEscape(query)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, searchURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", fetchUserAgent)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 2<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	links := ddgLinkRe.FindAllStringSubmatch(string(body), count+5)
	snippets := ddgSnippetRe.FindAllStringSubmatch(string(body), count+5)

	var results []searchResult
	for i := 0; i < len(links) && i < count; i++ {
		r := searchResult{
			Title: strings.TrimSpace(reTag.ReplaceAllString(links[i][2], "")),
			URL:   unwrapDDGRedirect(links[i][1]),
		}
		if i < len(snippets) {
			r.Description = strings.TrimSpace(reTag.ReplaceAllString(snippets[i][1], ""))
		}
		results = append(results, r)
	}
	return results, nil
}

// unwrapDDGRedirect extracts the target from the uddg= redirect parameter.
func unwrapDDGRedirect(raw string) string {
	if !strings.Contains(raw, "uddg=") {
		return raw
	}
	u, err := url.QueryUnescape(raw)
	if err != nil {
		return raw
	}
	idx := strings.Index(u, "uddg=")
	target := u[idx+5:]
	if amp := strings.Index(target, "&"); amp != -1 {
		target = target[:amp]
	}
	return target
}
