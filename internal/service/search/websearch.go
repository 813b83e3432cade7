package search

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

const userAgent = "Mozilla/5.0 (compatible; mempool-lens/1.0)"

var ErrEmptyQuery = errors.New("search query is empty")

// Result is one organic search hit.
type Result struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// Client scrapes the DuckDuckGo HTML endpoint.
type Client struct {
	endpoint   string
	maxResults int
	http       *http.Client
}

// NewClient returns a search client; maxResults <= 0 means 3.
func NewClient(endpoint string, maxResults int, timeout time.Duration) *Client {
	if maxResults <= 0 {
		maxResults = 3
	}
	if timeout <= 0 {
		timeout = 8 * time.Second
	}
	return &Client{
		endpoint:   endpoint,
		maxResults: maxResults,
		http:       &http.Client{Timeout: timeout},
	}
}

// Search returns at most maxResults hits for query.
func (c *Client) Search(ctx context.Context, query string) ([]Result, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrEmptyQuery
	}

	form := url.Values{"q": {query}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to build search request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to query search endpoint: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search endpoint returned status %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse search results: %w", err)
	}

	results := make([]Result, 0, c.maxResults)
	doc.Find(".result").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if s.HasClass("result--ad") {
			return true
		}
		link := s.Find(".result__a").First()
		href, ok := link.Attr("href")
		title := strings.TrimSpace(link.Text())
		if !ok || title == "" {
			return true
		}
		results = append(results, Result{
			Title:   title,
			URL:     unwrapLink(href),
			Snippet: strings.TrimSpace(s.Find(".result__snippet").Text()),
		})
		return len(results) < c.maxResults
	})

	logger().Debugw("web search done", "query", query, "results", len(results))
	return results, nil
}

// unwrapLink resolves DuckDuckGo redirect links to their target.
func unwrapLink(href string) string {
	if strings.HasPrefix(href, "//") {
		href = "https:" + href
	}
	u, err := url.Parse(href)
	if err != nil {
		return href
	}
	if target := u.Query().Get("uddg"); target != "" {
		return target
	}
	return href
}
