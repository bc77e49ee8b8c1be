package bitbucket

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/ericfisherdev/coverhook/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.ProviderAdapter = (*ServerClient)(nil)

// ServerClient queries a Bitbucket Server (Data Center) instance as one
// authenticated user. Owners are projects, addressed by project key.
type ServerClient struct {
	client
}

// NewServerClient creates a Bitbucket Server client rooted at baseURL, which
// is required. httpClient may be nil.
func NewServerClient(httpClient *http.Client, token, baseURL string) (*ServerClient, error) {
	if baseURL == "" {
		return nil, errors.New("bitbucket server URL is required")
	}
	c, err := newClient(httpClient, token, baseURL)
	if err != nil {
		return nil, err
	}
	return &ServerClient{client: c}, nil
}

type serverPage[T any] struct {
	Values     []T  `json:"values"`
	IsLastPage bool `json:"isLastPage"`
}

// IsAdmin reports whether username holds PROJECT_ADMIN on project org.
func (c *ServerClient) IsAdmin(ctx context.Context, org, username, _ string) (bool, error) {
	var page serverPage[struct {
		User struct {
			Name string `json:"name"`
			Slug string `json:"slug"`
		} `json:"user"`
		Permission string `json:"permission"`
	}]

	path := "/rest/api/1.0/projects/" + url.PathEscape(org) + "/permissions/users"
	err := c.get(ctx, path, url.Values{"filter": {username}}, &page)
	if hidden(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	for _, v := range page.Values {
		if strings.EqualFold(v.User.Name, username) || strings.EqualFold(v.User.Slug, username) {
			return v.Permission == "PROJECT_ADMIN", nil
		}
	}
	return false, nil
}

// GetPermissions resolves view access by reading the repository and edit
// access by listing the user's REPO_WRITE repositories matching it.
func (c *ServerClient) GetPermissions(ctx context.Context, repo driven.RepoRef, _ string) (bool, bool, error) {
	if repo.OwnerUsername == "" || repo.Name == "" {
		return false, false, fmt.Errorf("invalid repository reference %q/%q", repo.OwnerUsername, repo.Name)
	}

	var meta struct {
		Slug string `json:"slug"`
	}
	path := "/rest/api/1.0/projects/" + url.PathEscape(repo.OwnerUsername) + "/repos/" + url.PathEscape(repo.Name)
	err := c.get(ctx, path, nil, &meta)
	if hidden(err) {
		return false, false, nil
	}
	if err != nil {
		return false, false, err
	}

	var page serverPage[struct {
		Slug    string `json:"slug"`
		Project struct {
			Key string `json:"key"`
		} `json:"project"`
	}]
	err = c.get(ctx, "/rest/api/1.0/repos", url.Values{
		"projectkey": {repo.OwnerUsername},
		"name":       {repo.Name},
		"permission": {"REPO_WRITE"},
	}, &page)
	if err != nil && !errors.Is(err, errNotFound) {
		return false, false, err
	}

	for _, v := range page.Values {
		if strings.EqualFold(v.Project.Key, repo.OwnerUsername) && strings.EqualFold(v.Slug, repo.Name) {
			return true, true, nil
		}
	}
	return true, false, nil
}
