// Package github implements the ProviderAdapter port for GitHub and GitHub
// Enterprise using the go-github library.
package github

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	gh "github.com/google/go-github/v82/github"
	"github.com/gregjones/httpcache"

	"github.com/gofri/go-github-ratelimit/v2/github_ratelimit"

	"github.com/ericfisherdev/coverhook/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.ProviderAdapter = (*Client)(nil)

// Client implements driven.ProviderAdapter on behalf of one authenticated user.
type Client struct {
	gh *gh.Client
}

// NewTransport builds the HTTP client shared by every Client:
//  1. httpcache (ETag-based conditional request caching, keyed with Vary: Authorization)
//  2. go-github-ratelimit (secondary rate limit middleware, sleeps on 429)
func NewTransport() *http.Client {
	cacheTransport := httpcache.NewMemoryCacheTransport()
	return github_ratelimit.NewClient(cacheTransport)
}

// NewClient creates a GitHub API client authenticated with token on top of
// the shared transport. An empty enterpriseURL targets github.com.
func NewClient(transport *http.Client, token, enterpriseURL string) (*Client, error) {
	client := gh.NewClient(transport).WithAuthToken(token)

	if enterpriseURL != "" {
		var err error
		client, err = client.WithEnterpriseURLs(enterpriseURL, enterpriseURL)
		if err != nil {
			return nil, fmt.Errorf("configuring enterprise URL %q: %w", enterpriseURL, err)
		}
	}

	return &Client{gh: client}, nil
}

// NewClientWithHTTPClient creates a Client with a custom http.Client and base URL.
// This constructor is intended for testing, allowing injection of an httptest server.
func NewClientWithHTTPClient(httpClient *http.Client, baseURL, token string) (*Client, error) {
	client := gh.NewClient(httpClient).WithAuthToken(token)

	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing base URL: %w", err)
	}
	client.BaseURL = u

	return &Client{gh: client}, nil
}

// IsAdmin reports whether username is an active admin member of org.
// A 404 means the user is not a member and is not an error.
func (c *Client) IsAdmin(ctx context.Context, org, username, _ string) (bool, error) {
	membership, resp, err := c.gh.Organizations.GetOrgMembership(ctx, username, org)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return false, nil
		}
		return false, providerError(fmt.Sprintf("membership of %s in %s", username, org), resp, err)
	}

	logRateLimit(resp, "orgs/"+org+"/memberships")

	return membership.GetState() == "active" && membership.GetRole() == "admin", nil
}

// GetPermissions maps the collaborator permission level of username on repo
// onto (canView, canEdit). A 404 means the repository is invisible to the
// token and yields (false, false).
func (c *Client) GetPermissions(ctx context.Context, repo driven.RepoRef, username string) (bool, bool, error) {
	if repo.OwnerUsername == "" || repo.Name == "" {
		return false, false, fmt.Errorf("invalid repository reference %q/%q", repo.OwnerUsername, repo.Name)
	}

	level, resp, err := c.gh.Repositories.GetPermissionLevel(ctx, repo.OwnerUsername, repo.Name, username)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return false, false, nil
		}
		return false, false, providerError(fmt.Sprintf("permission of %s on %s/%s", username, repo.OwnerUsername, repo.Name), resp, err)
	}

	logRateLimit(resp, "repos/"+repo.OwnerUsername+"/"+repo.Name+"/collaborators")

	return permissionAccess(level.GetPermission())
}

// permissionAccess maps a collaborator permission level onto (canView, canEdit).
func permissionAccess(permission string) (bool, bool, error) {
	switch strings.ToLower(permission) {
	case "admin", "maintain", "write":
		return true, true, nil
	case "read", "triage":
		return true, false, nil
	default:
		return false, false, nil
	}
}

// providerError converts a go-github failure into a driven.ProviderError
// carrying the upstream status and message.
func providerError(op string, resp *gh.Response, err error) error {
	perr := &driven.ProviderError{Message: err.Error()}

	var ghErr *gh.ErrorResponse
	if errors.As(err, &ghErr) && ghErr.Message != "" {
		perr.Message = ghErr.Message
	}
	if resp != nil {
		perr.StatusCode = resp.StatusCode
	}

	return fmt.Errorf("fetching %s: %w", op, perr)
}

// logRateLimit logs the GitHub API rate limit status after each call.
func logRateLimit(resp *gh.Response, endpoint string) {
	if resp == nil {
		return
	}

	slog.Debug("github api call",
		"endpoint", endpoint,
		"rate_remaining", resp.Rate.Remaining,
		"rate_limit", resp.Rate.Limit,
	)

	if resp.Rate.Limit > 0 && resp.Rate.Remaining < 100 {
		slog.Warn("github rate limit low",
			"remaining", resp.Rate.Remaining,
			"reset_in", time.Until(resp.Rate.Reset.Time).Round(time.Second),
		)
	}
}
