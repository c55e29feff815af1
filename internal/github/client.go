// Package github reads pull requests, users and repository permissions from
// the GitHub REST API through go-github.
package github

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	gh "github.com/google/go-github/v66/github"

	"github.com/lazydev-zone/lazydev/pkg/types"
)

const (
	DefaultAPIURL = "https://api.github.com"

	defaultPerPage = 100
	defaultTimeout = 30 * time.Second
	// the search API never returns more than this many results per query
	searchResultCap = 1000
)

// APIError is a non-2xx response from GitHub. Err is the go-github error it
// was built from.
type APIError struct {
	Status  int
	Message string
	Err     error
}

func (e *APIError) Error() string {
	return fmt.Sprintf("GitHub API error (%d): %s", e.Status, e.Message)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// PullRequest is one search hit.
type PullRequest struct {
	Repo      types.Repo
	Number    uint64
	Title     string
	HTMLURL   string
	State     string
	CreatedAt time.Time
}

// User is the authenticated GitHub user.
type User struct {
	ID    uint64
	Login string
	Name  string
}

// Repository is a repository of the authenticated user.
type Repository struct {
	ID          uint64
	Name        string
	FullName    string
	HTMLURL     string
	Description string
	CreatedAt   time.Time
	Private     bool
	Admin       bool
}

// Client wraps a go-github client. The token is optional for public searches.
type Client struct {
	gh      *gh.Client
	token   string
	perPage int
	baseErr error
}

// Options configures a Client.
type Options struct {
	APIURL  string
	Token   string
	PerPage int
	Timeout time.Duration
}

// NewClient creates a GitHub client. An unparsable APIURL is reported by
// every call.
func NewClient(opts Options) *Client {
	if opts.APIURL == "" {
		opts.APIURL = DefaultAPIURL
	}
	if opts.PerPage <= 0 || opts.PerPage > 100 {
		opts.PerPage = defaultPerPage
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}

	client := gh.NewClient(&http.Client{Timeout: opts.Timeout})
	if opts.Token != "" {
		client = client.WithAuthToken(opts.Token)
	}
	c := &Client{gh: client, token: opts.Token, perPage: opts.PerPage}

	base, err := url.Parse(strings.TrimRight(opts.APIURL, "/") + "/")
	if err != nil {
		c.baseErr = fmt.Errorf("invalid GitHub API URL %q: %w", opts.APIURL, err)
	} else {
		client.BaseURL = base
	}
	return c
}

// SearchQuery builds the search qualifier string for closed pull requests
// by author in exactly the given repos.
func SearchQuery(author string, repos []types.Repo) string {
	parts := []string{"author:" + author, "is:pr", "is:closed"}
	for _, r := range repos {
		parts = append(parts, "repo:"+r.String())
	}
	return strings.Join(parts, " ")
}

// SearchClosedPRs returns the closed pull requests author opened in repos.
// An empty repo set returns nothing without querying: the search is never
// run unscoped.
func (c *Client) SearchClosedPRs(ctx context.Context, author string, repos []types.Repo) ([]PullRequest, error) {
	if len(repos) == 0 {
		return nil, nil
	}
	if author == "" {
		return nil, fmt.Errorf("author is required")
	}
	if c.baseErr != nil {
		return nil, c.baseErr
	}

	opts := &gh.SearchOptions{ListOptions: gh.ListOptions{PerPage: c.perPage, Page: 1}}
	q := SearchQuery(author, repos)

	var out []PullRequest
	for {
		res, resp, err := c.gh.Search.Issues(ctx, q, opts)
		if err != nil {
			return nil, fmt.Errorf("failed to search pull requests: %w", apiError(err))
		}
		for _, item := range res.Issues {
			repo, err := repoFromAPIURL(item.GetRepositoryURL())
			if err != nil {
				return nil, err
			}
			out = append(out, PullRequest{
				Repo:      repo,
				Number:    uint64(item.GetNumber()),
				Title:     item.GetTitle(),
				HTMLURL:   item.GetHTMLURL(),
				State:     item.GetState(),
				CreatedAt: item.GetCreatedAt().Time,
			})
		}
		if resp.NextPage == 0 || len(res.Issues) == 0 || resp.NextPage*c.perPage > searchResultCap {
			return out, nil
		}
		opts.Page = resp.NextPage
	}
}

// repoFromAPIURL reads org and repo from https://api.github.com/repos/<org>/<repo>.
func repoFromAPIURL(raw string) (types.Repo, error) {
	parts := strings.Split(strings.TrimRight(raw, "/"), "/")
	if len(parts) < 2 {
		return types.Repo{}, fmt.Errorf("unexpected repository url %q", raw)
	}
	return types.Repo{Org: parts[len(parts)-2], Repo: parts[len(parts)-1]}, nil
}

// User returns the user the token belongs to.
func (c *Client) User(ctx context.Context) (User, error) {
	if c.token == "" {
		return User{}, fmt.Errorf("a GitHub token is required to look up the user")
	}
	if c.baseErr != nil {
		return User{}, c.baseErr
	}
	u, _, err := c.gh.Users.Get(ctx, "")
	if err != nil {
		return User{}, apiError(err)
	}
	return User{ID: uint64(u.GetID()), Login: u.GetLogin(), Name: u.GetName()}, nil
}

// CollaboratorPermission returns username's permission on repo: admin,
// maintain, write, triage, read or none.
func (c *Client) CollaboratorPermission(ctx context.Context, repo types.Repo, username string) (string, error) {
	if c.baseErr != nil {
		return "", c.baseErr
	}
	level, _, err := c.gh.Repositories.GetPermissionLevel(ctx, repo.Org, repo.Repo, username)
	if err != nil {
		return "", apiError(err)
	}
	return level.GetPermission(), nil
}

// AdminRepos lists the public repositories the token's user administers.
func (c *Client) AdminRepos(ctx context.Context) ([]Repository, error) {
	if c.token == "" {
		return nil, fmt.Errorf("a GitHub token is required to list repositories")
	}
	if c.baseErr != nil {
		return nil, c.baseErr
	}

	opts := &gh.RepositoryListByAuthenticatedUserOptions{
		ListOptions: gh.ListOptions{PerPage: c.perPage, Page: 1},
	}
	var out []Repository
	for {
		repos, resp, err := c.gh.Repositories.ListByAuthenticatedUser(ctx, opts)
		if err != nil {
			return nil, fmt.Errorf("failed to list repositories: %w", apiError(err))
		}
		for _, r := range repos {
			if r.GetPrivate() || !r.Permissions["admin"] {
				continue
			}
			out = append(out, Repository{
				ID:          uint64(r.GetID()),
				Name:        r.GetName(),
				FullName:    r.GetFullName(),
				HTMLURL:     r.GetHTMLURL(),
				Description: r.GetDescription(),
				CreatedAt:   r.GetCreatedAt().Time,
				Private:     r.GetPrivate(),
				Admin:       true,
			})
		}
		if resp.NextPage == 0 {
			return out, nil
		}
		opts.Page = resp.NextPage
	}
}

// apiError turns go-github's typed errors into an *APIError carrying the
// status and GitHub's message. Other errors are returned unchanged.
func apiError(err error) error {
	var (
		er    *gh.ErrorResponse
		rate  *gh.RateLimitError
		abuse *gh.AbuseRateLimitError
		resp  *http.Response
		msg   string
	)
	switch {
	case errors.As(err, &rate):
		resp, msg = rate.Response, rate.Message
	case errors.As(err, &abuse):
		resp, msg = abuse.Response, abuse.Message
	case errors.As(err, &er):
		resp, msg = er.Response, er.Message
	default:
		return err
	}
	if resp == nil {
		return err
	}
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	return &APIError{Status: resp.StatusCode, Message: msg, Err: err}
}
