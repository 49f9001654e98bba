// internal/github/client.go
package github

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/go-github/v62/github"
	"golang.org/x/oauth2"

	"ecosystem-harvester/internal/model"
)

// Client is a wrapper around the go-github client for a single credential.
// It translates upstream responses into internal models and upstream errors
// into the taxonomy in errors.go.
type Client struct {
	gh     *github.Client
	logger *slog.Logger
}

// NewClient creates and configures a new Client instance.
// The provided token is used to create an authenticated http.Client.
func NewClient(token string, logger *slog.Logger) *Client {
	ctx := context.Background()
	ts := oauth2.StaticTokenSource(
		&oauth2.Token{AccessToken: token},
	)
	tc := oauth2.NewClient(ctx, ts)

	return &Client{
		gh:     github.NewClient(tc),
		logger: logger,
	}
}

// NewEnterpriseClient creates a Client pointed at a non-default API base URL,
// for GitHub Enterprise deployments and for tests.
func NewEnterpriseClient(token, baseURL string, logger *slog.Logger) (*Client, error) {
	c := NewClient(token, logger)
	gh, err := c.gh.WithEnterpriseURLs(baseURL, baseURL)
	if err != nil {
		return nil, err
	}
	c.gh = gh
	return c, nil
}

// Quotas fetches a live rate-limit snapshot for every tracked category.
// The introspection endpoint itself does not consume quota.
func (c *Client) Quotas(ctx context.Context) (map[model.Category]model.Quota, error) {
	limits, _, err := c.gh.RateLimit.Get(ctx)
	if err != nil {
		return nil, translateError(model.CategoryCore, err)
	}
	now := time.Now()
	return map[model.Category]model.Quota{
		model.CategoryCore:       toQuota(limits.GetCore(), now),
		model.CategorySearch:     toQuota(limits.GetSearch(), now),
		model.CategoryCodeSearch: toQuota(limits.GetCodeSearch(), now),
	}, nil
}

// SearchCode runs one page of a code search query.
func (c *Client) SearchCode(ctx context.Context, query string, page, perPage int) (model.CodeSearchPage, model.Quota, error) {
	opts := &github.SearchOptions{
		ListOptions: github.ListOptions{Page: page, PerPage: perPage},
	}
	res, resp, err := c.gh.Search.Code(ctx, query, opts)
	if err != nil {
		return model.CodeSearchPage{}, quotaFromResponse(resp), translateError(model.CategoryCodeSearch, err)
	}

	out := model.CodeSearchPage{
		Total:      res.GetTotal(),
		Incomplete: res.GetIncompleteResults(),
	}
	for _, cr := range res.CodeResults {
		repo := cr.GetRepository()
		out.Items = append(out.Items, model.SearchItem{
			RepoGithubID: repo.GetID(),
			Owner:        repo.GetOwner().GetLogin(),
			Name:         repo.GetName(),
		})
	}
	return out, quotaFromResponse(resp), nil
}

// SearchRepositories runs one page of a repository search query, sorted by
// stars descending.
func (c *Client) SearchRepositories(ctx context.Context, query string, page, perPage int) (model.RepoSearchPage, model.Quota, error) {
	opts := &github.SearchOptions{
		Sort:        "stars",
		Order:       "desc",
		ListOptions: github.ListOptions{Page: page, PerPage: perPage},
	}
	res, resp, err := c.gh.Search.Repositories(ctx, query, opts)
	if err != nil {
		return model.RepoSearchPage{}, quotaFromResponse(resp), translateError(model.CategorySearch, err)
	}

	out := model.RepoSearchPage{
		Total:      res.GetTotal(),
		Incomplete: res.GetIncompleteResults(),
	}
	for _, r := range res.Repositories {
		out.Items = append(out.Items, toRepository(r))
	}
	return out, quotaFromResponse(resp), nil
}

// GetRepository fetches repository details and translates them to our internal model.
func (c *Client) GetRepository(ctx context.Context, owner, name string) (*model.Repository, model.Quota, error) {
	repo, resp, err := c.gh.Repositories.Get(ctx, owner, name)
	if err != nil {
		return nil, quotaFromResponse(resp), translateError(model.CategoryCore, err)
	}
	r := toRepository(repo)
	return &r, quotaFromResponse(resp), nil
}

// ContributorStats fetches per-contributor weekly statistics for a repository.
// Returns ErrStatsNotReady while the upstream computation is still running.
func (c *Client) ContributorStats(ctx context.Context, owner, name string) ([]model.ContributorStats, model.Quota, error) {
	stats, resp, err := c.gh.Repositories.ListContributorsStats(ctx, owner, name)
	if err != nil {
		return nil, quotaFromResponse(resp), translateError(model.CategoryCore, err)
	}

	out := make([]model.ContributorStats, 0, len(stats))
	for _, s := range stats {
		username := s.GetAuthor().GetLogin()
		if username == "" {
			continue
		}
		cs := model.ContributorStats{Username: username}
		for _, w := range s.Weeks {
			cs.Weeks = append(cs.Weeks, model.ContributorWeek{
				WeekStart: w.GetWeek().Unix(),
				Commits:   w.GetCommits(),
				Additions: w.GetAdditions(),
				Deletions: w.GetDeletions(),
			})
		}
		out = append(out, cs)
	}
	return out, quotaFromResponse(resp), nil
}

// GetUser fetches a user profile and translates it to a developer record.
func (c *Client) GetUser(ctx context.Context, username string) (*model.Developer, model.Quota, error) {
	u, resp, err := c.gh.Users.Get(ctx, username)
	if err != nil {
		return nil, quotaFromResponse(resp), translateError(model.CategoryCore, err)
	}
	return &model.Developer{
		Username:     u.GetLogin(),
		DisplayName:  optString(u.GetName()),
		ProfileURL:   optString(u.GetHTMLURL()),
		AvatarURL:    optString(u.GetAvatarURL()),
		Location:     optString(u.GetLocation()),
		SocialHandle: optString(u.GetTwitterUsername()),
	}, quotaFromResponse(resp), nil
}

// translateError maps go-github error types to the internal taxonomy.
func translateError(cat model.Category, err error) error {
	var rateErr *github.RateLimitError
	if errors.As(err, &rateErr) {
		return &RateLimitedError{Category: cat, ResetAt: rateErr.Rate.Reset.Time}
	}

	var abuseErr *github.AbuseRateLimitError
	if errors.As(err, &abuseErr) {
		var retryAfter time.Duration
		if abuseErr.RetryAfter != nil {
			retryAfter = *abuseErr.RetryAfter
		}
		return &AbuseError{RetryAfter: retryAfter}
	}

	var acceptedErr *github.AcceptedError
	if errors.As(err, &acceptedErr) {
		return ErrStatsNotReady
	}

	var respErr *github.ErrorResponse
	if errors.As(err, &respErr) && respErr.Response != nil {
		if respErr.Response.StatusCode == http.StatusNotFound {
			return ErrNotFound
		}
		return &APIError{StatusCode: respErr.Response.StatusCode, Message: respErr.Message}
	}

	return err
}

// toRepository translates a github.Repository object to our internal model.
// The ecosystem tag is assigned by the caller.
func toRepository(r *github.Repository) model.Repository {
	return model.Repository{
		RepoID:           strconv.FormatInt(r.GetID(), 10),
		Owner:            r.GetOwner().GetLogin(),
		Name:             r.GetName(),
		URL:              r.GetHTMLURL(),
		StartedAt:        r.GetCreatedAt().Unix(),
		Stars:            r.GetStargazersCount(),
		OpenIssuesAndPRs: r.GetOpenIssuesCount(),
	}
}

func toQuota(rate *github.Rate, fetchedAt time.Time) model.Quota {
	if rate == nil {
		return model.Quota{FetchedAt: fetchedAt}
	}
	return model.Quota{
		Remaining: rate.Remaining,
		Limit:     rate.Limit,
		ResetAt:   rate.Reset.Time,
		FetchedAt: fetchedAt,
	}
}

// optString converts an empty string to a nil pointer for nullable columns.
func optString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// quotaFromResponse extracts the rate snapshot for the bucket the request
// consumed. Returns a zero quota when the response is missing.
func quotaFromResponse(resp *github.Response) model.Quota {
	if resp == nil {
		return model.Quota{}
	}
	return model.Quota{
		Remaining: resp.Rate.Remaining,
		Limit:     resp.Rate.Limit,
		ResetAt:   resp.Rate.Reset.Time,
		FetchedAt: time.Now(),
	}
}
