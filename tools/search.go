package tools

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/html"
)

const (
	duckDuckGoLite   = "https://lite.duckduckgo.com/lite/"
	searchUserAgent  = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	maxSearchResults = 5
	maxSearchBackoff = 30 * time.Second
)

// One query per second across every searcher in the process.
var searchRateLimit struct {
	mu   sync.Mutex
	last time.Time
}

type SearchResult struct {
	Title   string
	URL     string
	Snippet string
}

// WebSearch scrapes the DuckDuckGo lite page.
type WebSearch struct {
	client   *http.Client
	endpoint string
	interval time.Duration
}

func NewWebSearch() *WebSearch {
	return &WebSearch{
		client:   &http.Client{Timeout: 15 * time.Second},
		endpoint: duckDuckGoLite,
		interval: time.Second,
	}
}

// NewWebSearchWithEndpoint points the searcher at another lite-compatible
// endpoint and disables the rate limit when interval is zero.
func NewWebSearchWithEndpoint(client *http.Client, endpoint string, interval time.Duration) *WebSearch {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &WebSearch{client: client, endpoint: endpoint, interval: interval}
}

type SearchArgs struct {
	Query string `json:"query" jsonschema:"required" jsonschema_description:"The search query."`
}

// Tool wraps the searcher as the web_search capability. Search failures are
// reported to the model as text.
func (w *WebSearch) Tool() (Tool, error) {
	return NewFunction("web_search",
		"Search the web for general knowledge that is not in the survey database.",
		func(ctx context.Context, args SearchArgs) (string, error) {
			results, err := w.Search(ctx, args.Query)
			if err != nil {
				return fmt.Sprintf("Search failed: %v", err), nil
			}
			return FormatResults(results), nil
		})
}

func (w *WebSearch) Search(ctx context.Context, query string) ([]SearchResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, errors.New("query is empty")
	}
	if err := w.wait(ctx); err != nil {
		return nil, err
	}

	form := url.Values{}
	form.Set("q", query)

	var resp *http.Response
	delay := time.Second
	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.endpoint, strings.NewReader(form.Encode()))
		if err != nil {
			return nil, err
		}
		req.Header.Set("User-Agent", searchUserAgent)
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

		resp, err = w.client.Do(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode != http.StatusTooManyRequests {
			break
		}
		resp.Body.Close()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
		if delay < maxSearchBackoff {
			delay *= 2
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("duckduckgo http %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read search response: %w", err)
	}
	return parseLiteResults(string(body))
}

func (w *WebSearch) wait(ctx context.Context) error {
	if w.interval <= 0 {
		return nil
	}
	searchRateLimit.mu.Lock()
	defer searchRateLimit.mu.Unlock()

	if wait := time.Until(searchRateLimit.last.Add(w.interval)); wait > 0 {
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	searchRateLimit.last = time.Now()
	return nil
}

// FormatResults renders results the way the model reads them.
func FormatResults(results []SearchResult) string {
	if len(results) == 0 {
		return "No results found."
	}
	var sb strings.Builder
	for i, r := range results {
		if i > 0 {
			sb.WriteString("\n")
		}
		fmt.Fprintf(&sb, "Title: %s\nLink: %s\n", r.Title, r.URL)
		if r.Snippet != "" {
			fmt.Fprintf(&sb, "Snippet: %s\n", r.Snippet)
		}
	}
	return sb.String()
}

// parseLiteResults pairs each result-link anchor with the result-snippet
// cell that follows it.
func parseLiteResults(content string) ([]SearchResult, error) {
	doc, err := html.Parse(strings.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("parse search page: %w", err)
	}

	var results []SearchResult
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch {
			case n.Data == "a" && hasClass(n, "result-link"):
				href := unwrapRedirect(attr(n, "href"))
				title := textContent(n)
				if href != "" && title != "" {
					results = append(results, SearchResult{Title: title, URL: href})
				}
			case n.Data == "td" && hasClass(n, "result-snippet"):
				if len(results) > 0 && results[len(results)-1].Snippet == "" {
					results[len(results)-1].Snippet = textContent(n)
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	if len(results) > maxSearchResults {
		results = results[:maxSearchResults]
	}
	return results, nil
}

func unwrapRedirect(href string) string {
	u, err := url.Parse(href)
	if err != nil {
		return href
	}
	if strings.HasSuffix(u.Host, "duckduckgo.com") && u.Path == "/l/" {
		if target := u.Query().Get("uddg"); target != "" {
			return target
		}
	}
	return href
}

func hasClass(n *html.Node, class string) bool {
	for _, field := range strings.Fields(attr(n, "class")) {
		if field == class {
			return true
		}
	}
	return false
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func textContent(n *html.Node) string {
	var sb strings.Builder
	var collect func(*html.Node)
	collect = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			collect(c)
		}
	}
	collect(n)
	return strings.Join(strings.Fields(sb.String()), " ")
}
