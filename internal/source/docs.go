package source

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"

	"github.com/ingnisage/workbench/internal/knowledge"
)

// snippetLimit caps the extracted text per documentation page.
const snippetLimit = 1500

// DocsClient scrapes a documentation site's search page and extracts
// readable text from the linked pages. Navigation chrome, scripts, and
// boilerplate are discarded by the readability pass.
type DocsClient struct {
	baseURL string
	http    *http.Client
	retry   RetryConfig
	logger  *slog.Logger
}

// DocsOption configures a DocsClient.
type DocsOption func(*DocsClient)

// WithDocsRetry overrides the retry budget.
func WithDocsRetry(cfg RetryConfig) DocsOption {
	return func(c *DocsClient) { c.retry = cfg }
}

// NewDocsClient creates a doc-site client rooted at baseURL. The site
// must expose a search page at /search?q=<query> whose results are links
// inside elements with class "search-result".
func NewDocsClient(baseURL string, httpClient *http.Client, logger *slog.Logger, opts ...DocsOption) *DocsClient {
	if httpClient == nil {
		httpClient = newHTTPClient(0)
	}
	if logger == nil {
		logger = slog.Default()
	}
	c := &DocsClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
		retry:   DefaultRetryConfig(),
		logger:  logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Name implements Client.
func (c *DocsClient) Name() string { return "official_doc" }

// SourceType implements Client.
func (c *DocsClient) SourceType() string { return knowledge.SourceTypeOfficialDoc }

// docLink is one search result on the site's search page.
type docLink struct {
	title string
	url   string
}

// Fetch implements Client. It queries the site's search page, then
// fetches and extracts each linked page up to maxResults. Pages that
// fail to load or extract are skipped.
func (c *DocsClient) Fetch(ctx context.Context, query string, maxResults int) ([]knowledge.Chunk, error) {
	if maxResults <= 0 {
		return nil, nil
	}

	links, err := withRetry(ctx, c.retry, c.logger, func() ([]docLink, error) {
		return c.searchPage(ctx, query)
	})
	if err != nil {
		return nil, err
	}
	if len(links) > maxResults {
		links = links[:maxResults]
	}

	chunks := make([]knowledge.Chunk, 0, len(links))
	for _, link := range links {
		text, err := c.extractPage(ctx, link.url)
		if err != nil {
			c.logger.Warn("skipping unextractable page", "url", link.url, "error", err)
			continue
		}
		chunks = append(chunks, knowledge.Chunk{
			Content:    fmt.Sprintf("%s\n\n%s", link.title, text),
			SourceType: knowledge.SourceTypeOfficialDoc,
			SourceURL:  link.url,
			Title:      link.title,
		})
	}
	return chunks, nil
}

// searchPage loads the site's search page and collects result links.
func (c *DocsClient) searchPage(ctx context.Context, query string) ([]docLink, error) {
	searchURL := c.baseURL + "/search?q=" + url.QueryEscape(query)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, searchURL, nil)
	if err != nil {
		return nil, &Error{Source: c.Name(), Err: err}
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &Error{Source: c.Name(), Retriable: true, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError(c.Name(), resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, &Error{Source: c.Name(), Err: fmt.Errorf("parsing search page: %w", err)}
	}

	var links []docLink
	doc.Find(".search-result a").Each(func(_ int, sel *goquery.Selection) {
		href, ok := sel.Attr("href")
		if !ok || href == "" {
			return
		}
		links = append(links, docLink{
			title: strings.TrimSpace(sel.Text()),
			url:   c.absoluteURL(href),
		})
	})
	return links, nil
}

// extractPage fetches one page and returns its readable text, truncated
// to the snippet limit.
func (c *DocsClient) extractPage(ctx context.Context, pageURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	parsed, err := url.Parse(pageURL)
	if err != nil {
		return "", err
	}
	article, err := readability.FromReader(resp.Body, parsed)
	if err != nil {
		return "", fmt.Errorf("extracting content: %w", err)
	}

	text := strings.Join(strings.Fields(article.TextContent), " ")
	if len(text) > snippetLimit {
		text = text[:snippetLimit]
	}
	return text, nil
}

// absoluteURL resolves href against the site root.
func (c *DocsClient) absoluteURL(href string) string {
	if strings.HasPrefix(href, "http://") || strings.HasPrefix(href, "https://") {
		return href
	}
	if !strings.HasPrefix(href, "/") {
		href = "/" + href
	}
	return c.baseURL + href
}
