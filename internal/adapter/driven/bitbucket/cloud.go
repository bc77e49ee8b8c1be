package bitbucket

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/ericfisherdev/coverhook/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.ProviderAdapter = (*CloudClient)(nil)

// CloudClient queries Bitbucket Cloud as one authenticated user.
type CloudClient struct {
	client
}

// NewCloudClient creates a Bitbucket Cloud client. An empty baseURL targets
// api.bitbucket.org; httpClient may be nil.
func NewCloudClient(httpClient *http.Client, token, baseURL string) (*CloudClient, error) {
	if baseURL == "" {
		baseURL = DefaultCloudURL
	}
	c, err := newClient(httpClient, token, baseURL)
	if err != nil {
		return nil, err
	}
	return &CloudClient{client: c}, nil
}

type cloudPermissions struct {
	Values []struct {
		Permission string `json:"permission"`
	} `json:"values"`
}

// IsAdmin reports whether the authenticated user owns workspace org.
func (c *CloudClient) IsAdmin(ctx context.Context, org, _, _ string) (bool, error) {
	var perms cloudPermissions
	err := c.get(ctx, "/2.0/user/permissions/workspaces", url.Values{
		"q": {fmt.Sprintf("workspace.slug=%q", org)},
	}, &perms)
	if errors.Is(err, errNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	for _, v := range perms.Values {
		if v.Permission == "owner" {
			return true, nil
		}
	}
	return false, nil
}

// GetPermissions reads the user's explicit repository permission. Without
// one, a repository that is still readable (public) is view-only.
func (c *CloudClient) GetPermissions(ctx context.Context, repo driven.RepoRef, _ string) (bool, bool, error) {
	if repo.OwnerUsername == "" || repo.Name == "" {
		return false, false, fmt.Errorf("invalid repository reference %q/%q", repo.OwnerUsername, repo.Name)
	}
	fullName := repo.OwnerUsername + "/" + repo.Name

	var perms cloudPermissions
	err := c.get(ctx, "/2.0/user/permissions/repositories", url.Values{
		"q": {fmt.Sprintf("repository.full_name=%q", fullName)},
	}, &perms)
	if err != nil && !errors.Is(err, errNotFound) {
		return false, false, err
	}

	for _, v := range perms.Values {
		switch v.Permission {
		case "admin", "write":
			return true, true, nil
		case "read":
			return true, false, nil
		}
	}

	var meta struct {
		IsPrivate bool `json:"is_private"`
	}
	err = c.get(ctx, "/2.0/repositories/"+url.PathEscape(repo.OwnerUsername)+"/"+url.PathEscape(repo.Name), nil, &meta)
	if hidden(err) {
		return false, false, nil
	}
	if err != nil {
		return false, false, err
	}
	return true, false, nil
}
