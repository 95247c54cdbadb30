package source

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"

	gh "github.com/google/go-github/v80/github"
	"golang.org/x/oauth2"

	"github.com/ingnisage/workbench/internal/knowledge"
)

// GitHubClient searches GitHub code, repositories, and issues, and
// normalizes hits into code-host chunks. One Fetch fans the query across
// the three search indexes; a failing index degrades the result set
// instead of failing the fetch.
type GitHubClient struct {
	gh     *gh.Client
	retry  RetryConfig
	logger *slog.Logger
}

// GitHubOption configures a GitHubClient.
type GitHubOption func(*GitHubClient)

// WithGitHubBaseURL points the client at a different API root, for
// tests. The URL must end with a trailing slash.
func WithGitHubBaseURL(raw string) GitHubOption {
	return func(c *GitHubClient) {
		if u, err := url.Parse(raw); err == nil {
			c.gh.BaseURL = u
		}
	}
}

// WithGitHubRetry overrides the retry budget.
func WithGitHubRetry(cfg RetryConfig) GitHubOption {
	return func(c *GitHubClient) { c.retry = cfg }
}

// NewGitHubClient creates a code-host client. token may be empty for
// unauthenticated access at GitHub's lower anonymous rate limits.
func NewGitHubClient(ctx context.Context, token string, logger *slog.Logger, opts ...GitHubOption) *GitHubClient {
	if logger == nil {
		logger = slog.Default()
	}

	var httpClient *http.Client
	if token != "" {
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
		httpClient = oauth2.NewClient(ctx, ts)
	}

	c := &GitHubClient{
		gh:     gh.NewClient(httpClient),
		retry:  DefaultRetryConfig(),
		logger: logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Name implements Client.
func (c *GitHubClient) Name() string { return "code_host" }

// SourceType implements Client.
func (c *GitHubClient) SourceType() string { return knowledge.SourceTypeCodeHost }

// Fetch implements Client. Results are split roughly evenly across the
// code, repository, and issue indexes, then truncated to maxResults.
func (c *GitHubClient) Fetch(ctx context.Context, query string, maxResults int) ([]knowledge.Chunk, error) {
	if maxResults <= 0 {
		return nil, nil
	}

	perIndex := max(3, maxResults/3)
	var (
		chunks   []knowledge.Chunk
		failures int
		lastErr  error
	)

	searches := []struct {
		name string
		run  func() ([]knowledge.Chunk, error)
	}{
		{"code", func() ([]knowledge.Chunk, error) { return c.searchCode(ctx, query, perIndex) }},
		{"repositories", func() ([]knowledge.Chunk, error) { return c.searchRepositories(ctx, query, perIndex) }},
		{"issues", func() ([]knowledge.Chunk, error) { return c.searchIssues(ctx, query, perIndex) }},
	}

	for _, search := range searches {
		hits, err := withRetry(ctx, c.retry, c.logger, search.run)
		if err != nil {
			c.logger.Warn("search index failed", "index", search.name, "error", err)
			failures++
			lastErr = err
			continue
		}
		chunks = append(chunks, hits...)
	}

	if failures == len(searches) {
		return nil, lastErr
	}
	if len(chunks) > maxResults {
		chunks = chunks[:maxResults]
	}
	return chunks, nil
}

func (c *GitHubClient) searchCode(ctx context.Context, query string, n int) ([]knowledge.Chunk, error) {
	result, resp, err := c.gh.Search.Code(ctx, query, &gh.SearchOptions{
		ListOptions: gh.ListOptions{PerPage: n},
	})
	if err != nil {
		return nil, c.wrapError(err, resp)
	}

	chunks := make([]knowledge.Chunk, 0, len(result.CodeResults))
	for _, hit := range result.CodeResults {
		repoName := hit.GetRepository().GetFullName()
		title := fmt.Sprintf("%s in %s", hit.GetName(), repoName)
		chunks = append(chunks, knowledge.Chunk{
			Content:    fmt.Sprintf("Code: %s\n\nPath: %s\nURL: %s", title, hit.GetPath(), hit.GetHTMLURL()),
			SourceType: knowledge.SourceTypeCodeHost,
			SourceURL:  hit.GetHTMLURL(),
			Title:      title,
			Metadata: map[string]string{
				"type":       "code",
				"path":       hit.GetPath(),
				"repository": repoName,
			},
		})
	}
	return chunks, nil
}

func (c *GitHubClient) searchRepositories(ctx context.Context, query string, n int) ([]knowledge.Chunk, error) {
	result, resp, err := c.gh.Search.Repositories(ctx, query, &gh.SearchOptions{
		Sort:        "stars",
		ListOptions: gh.ListOptions{PerPage: n},
	})
	if err != nil {
		return nil, c.wrapError(err, resp)
	}

	chunks := make([]knowledge.Chunk, 0, len(result.Repositories))
	for _, repo := range result.Repositories {
		chunks = append(chunks, knowledge.Chunk{
			Content: fmt.Sprintf("Repository: %s\n\nDescription: %s\nURL: %s",
				repo.GetFullName(), repo.GetDescription(), repo.GetHTMLURL()),
			SourceType: knowledge.SourceTypeCodeHost,
			SourceURL:  repo.GetHTMLURL(),
			Title:      repo.GetFullName(),
			Metadata: map[string]string{
				"type":     "repository",
				"stars":    strconv.Itoa(repo.GetStargazersCount()),
				"language": repo.GetLanguage(),
			},
		})
	}
	return chunks, nil
}

func (c *GitHubClient) searchIssues(ctx context.Context, query string, n int) ([]knowledge.Chunk, error) {
	result, resp, err := c.gh.Search.Issues(ctx, query, &gh.SearchOptions{
		ListOptions: gh.ListOptions{PerPage: n},
	})
	if err != nil {
		return nil, c.wrapError(err, resp)
	}

	chunks := make([]knowledge.Chunk, 0, len(result.Issues))
	for _, issue := range result.Issues {
		chunks = append(chunks, knowledge.Chunk{
			Content: fmt.Sprintf("Issue: %s\n\n%s\nURL: %s",
				issue.GetTitle(), issue.GetBody(), issue.GetHTMLURL()),
			SourceType: knowledge.SourceTypeCodeHost,
			SourceURL:  issue.GetHTMLURL(),
			Title:      issue.GetTitle(),
			Metadata: map[string]string{
				"type":  "issue",
				"state": issue.GetState(),
			},
		})
	}
	return chunks, nil
}

// wrapError classifies go-github errors into source errors.
func (c *GitHubClient) wrapError(err error, resp *gh.Response) error {
	retriable := true
	if resp != nil && resp.Response != nil {
		retriable = retriableStatus(resp.StatusCode)
	}
	return &Error{Source: c.Name(), Retriable: retriable, Err: err}
}
