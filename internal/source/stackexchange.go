package source

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/ingnisage/workbench/internal/knowledge"
)

// stackExchangeAPI is the default search endpoint.
const stackExchangeAPI = "https://api.stackexchange.com/2.3/search/advanced"

// StackExchangeClient searches a StackExchange site's questions and
// normalizes them into QA-site chunks. Answer bodies arrive as HTML;
// code blocks are stripped before normalization because they are long
// and rarely searchable as prose.
type StackExchangeClient struct {
	baseURL string
	site    string
	http    *http.Client
	retry   RetryConfig
	logger  *slog.Logger
}

// StackExchangeOption configures a StackExchangeClient.
type StackExchangeOption func(*StackExchangeClient)

// WithStackExchangeBaseURL overrides the API endpoint, for tests.
func WithStackExchangeBaseURL(u string) StackExchangeOption {
	return func(c *StackExchangeClient) { c.baseURL = u }
}

// WithStackExchangeSite selects the site to search (default
// "stackoverflow").
func WithStackExchangeSite(site string) StackExchangeOption {
	return func(c *StackExchangeClient) { c.site = site }
}

// WithStackExchangeRetry overrides the retry budget.
func WithStackExchangeRetry(cfg RetryConfig) StackExchangeOption {
	return func(c *StackExchangeClient) { c.retry = cfg }
}

// NewStackExchangeClient creates a QA-site client.
func NewStackExchangeClient(httpClient *http.Client, logger *slog.Logger, opts ...StackExchangeOption) *StackExchangeClient {
	if httpClient == nil {
		httpClient = newHTTPClient(0)
	}
	if logger == nil {
		logger = slog.Default()
	}
	c := &StackExchangeClient{
		baseURL: stackExchangeAPI,
		site:    "stackoverflow",
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
func (c *StackExchangeClient) Name() string { return "qa_site" }

// SourceType implements Client.
func (c *StackExchangeClient) SourceType() string { return knowledge.SourceTypeQASite }

// seItem is one question in a search response.
type seItem struct {
	Title      string   `json:"title"`
	Body       string   `json:"body"`
	Link       string   `json:"link"`
	QuestionID int64    `json:"question_id"`
	Tags       []string `json:"tags"`
	IsAnswered bool     `json:"is_answered"`
	Score      int      `json:"score"`
}

// seResponse is the search/advanced response envelope.
type seResponse struct {
	Items []seItem `json:"items"`
}

// Fetch implements Client. It issues a single relevance-ordered search
// and normalizes each question body.
func (c *StackExchangeClient) Fetch(ctx context.Context, query string, maxResults int) ([]knowledge.Chunk, error) {
	if maxResults <= 0 {
		return nil, nil
	}

	params := url.Values{
		"order":    {"desc"},
		"sort":     {"relevance"},
		"q":        {query},
		"site":     {c.site},
		"filter":   {"withbody"},
		"pagesize": {strconv.Itoa(maxResults)},
	}

	resp, err := withRetry(ctx, c.retry, c.logger, func() (*seResponse, error) {
		return c.search(ctx, params)
	})
	if err != nil {
		return nil, err
	}

	chunks := make([]knowledge.Chunk, 0, len(resp.Items))
	for _, item := range resp.Items {
		body, err := cleanHTML(item.Body)
		if err != nil {
			c.logger.Warn("skipping unparseable question body", "question_id", item.QuestionID, "error", err)
			continue
		}

		chunks = append(chunks, knowledge.Chunk{
			Content:    fmt.Sprintf("Question: %s\n\n%s", item.Title, body),
			SourceType: knowledge.SourceTypeQASite,
			SourceURL:  item.Link,
			Title:      item.Title,
			Metadata: map[string]string{
				"question_id": strconv.FormatInt(item.QuestionID, 10),
				"tags":        strings.Join(item.Tags, ","),
				"is_answered": strconv.FormatBool(item.IsAnswered),
				"score":       strconv.Itoa(item.Score),
			},
		})
	}
	return chunks, nil
}

// search performs one API round trip.
func (c *StackExchangeClient) search(ctx context.Context, params url.Values) (*seResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+params.Encode(), nil)
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

	var out seResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, &Error{Source: c.Name(), Err: fmt.Errorf("decoding response: %w", err)}
	}
	return &out, nil
}

// cleanHTML strips code blocks and markup from an HTML body, returning
// whitespace-normalized text.
func cleanHTML(bodyHTML string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(bodyHTML))
	if err != nil {
		return "", err
	}
	doc.Find("code").Remove()

	text := doc.Text()
	return html.UnescapeString(strings.Join(strings.Fields(text), " ")), nil
}
