// Package gitlab implements the ProviderAdapter port for GitLab and
// self-managed GitLab using the official client-go library.
package gitlab

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	gitlab "gitlab.com/gitlab-org/api/client-go"

	"github.com/ericfisherdev/coverhook/internal/domain/port/driven"
)

// DefaultBaseURL is used when no self-managed instance is configured.
const DefaultBaseURL = "https://gitlab.com"

// Compile-time interface satisfaction check.
var _ driven.ProviderAdapter = (*Client)(nil)

// Client implements driven.ProviderAdapter on behalf of one OAuth user.
type Client struct {
	gl *gitlab.Client
}

// NewClient creates a GitLab client authenticated with an OAuth token. An
// empty baseURL targets gitlab.com; httpClient may be nil.
func NewClient(httpClient *http.Client, token, baseURL string) (*Client, error) {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	opts := []gitlab.ClientOptionFunc{gitlab.WithBaseURL(baseURL)}
	if httpClient != nil {
		opts = append(opts, gitlab.WithHTTPClient(httpClient))
	}

	client, err := gitlab.NewOAuthClient(token, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating gitlab client for %s: %w", baseURL, err)
	}

	return &Client{gl: client}, nil
}

// IsAdmin reports whether username owns group org, directly or through an
// ancestor group.
func (c *Client) IsAdmin(ctx context.Context, org, username, _ string) (bool, error) {
	members, resp, err := c.gl.Groups.ListAllGroupMembers(org, &gitlab.ListGroupMembersOptions{
		Query: gitlab.Ptr(username),
	}, gitlab.WithContext(ctx))
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return false, nil
		}
		return false, providerError(fmt.Sprintf("members of group %s", org), resp, err)
	}

	for _, m := range members {
		if strings.EqualFold(m.Username, username) {
			slog.Debug("gitlab group member", "group", org, "user", username, "access_level", m.AccessLevel)
			return m.AccessLevel >= gitlab.OwnerPermissions, nil
		}
	}
	return false, nil
}

// GetPermissions resolves the caller's access to a project. Any visible
// project can be viewed; developer access or above can edit.
func (c *Client) GetPermissions(ctx context.Context, repo driven.RepoRef, _ string) (bool, bool, error) {
	var pid any = repo.ServiceID
	if repo.ServiceID == "" {
		if repo.OwnerUsername == "" || repo.Name == "" {
			return false, false, fmt.Errorf("invalid repository reference %q/%q", repo.OwnerUsername, repo.Name)
		}
		pid = repo.OwnerUsername + "/" + repo.Name
	}

	project, resp, err := c.gl.Projects.GetProject(pid, nil, gitlab.WithContext(ctx))
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return false, false, nil
		}
		return false, false, providerError(fmt.Sprintf("project %v", pid), resp, err)
	}

	return true, accessLevel(project) >= gitlab.DeveloperPermissions, nil
}

func accessLevel(p *gitlab.Project) gitlab.AccessLevelValue {
	if p.Permissions == nil {
		return gitlab.NoPermissions
	}

	level := gitlab.NoPermissions
	if pa := p.Permissions.ProjectAccess; pa != nil && pa.AccessLevel > level {
		level = pa.AccessLevel
	}
	if ga := p.Permissions.GroupAccess; ga != nil && ga.AccessLevel > level {
		level = ga.AccessLevel
	}
	return level
}

func providerError(op string, resp *gitlab.Response, err error) error {
	perr := &driven.ProviderError{Message: err.Error()}

	var glErr *gitlab.ErrorResponse
	if errors.As(err, &glErr) && glErr.Message != "" {
		perr.Message = glErr.Message
	}
	if resp != nil && resp.Response != nil {
		perr.StatusCode = resp.StatusCode
	}

	return fmt.Errorf("fetching %s: %w", op, perr)
}
