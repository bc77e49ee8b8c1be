// Package provider builds ProviderAdapter instances for owners, choosing the
// adapter by the owner's service.
package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/ericfisherdev/coverhook/internal/adapter/driven/bitbucket"
	"github.com/ericfisherdev/coverhook/internal/adapter/driven/github"
	"github.com/ericfisherdev/coverhook/internal/adapter/driven/gitlab"
	"github.com/ericfisherdev/coverhook/internal/domain/model"
	"github.com/ericfisherdev/coverhook/internal/domain/port/driven"
)

// Compile-time interface satisfaction checks.
var (
	_ driven.ProviderFactory = (*Factory)(nil)
	_ driven.SeatCounter     = StaticSeats(0)
)

// ErrMissingToken is returned for owners without a stored OAuth token.
var ErrMissingToken = errors.New("owner has no oauth token")

// Config carries the endpoints of self-hosted provider instances. Empty
// enterprise URLs leave the corresponding service unsupported.
type Config struct {
	GitHubEnterpriseURL string
	GitLabEnterpriseURL string
	BitbucketServerURL  string
}

// Factory creates provider adapters authenticated as a given owner.
type Factory struct {
	cfg         Config
	githubHTTP  *http.Client
	defaultHTTP *http.Client
}

// NewFactory creates a Factory. GitHub adapters share one cached,
// rate-limit-aware transport.
func NewFactory(cfg Config) *Factory {
	return &Factory{
		cfg:        cfg,
		githubHTTP: github.NewTransport(),
	}
}

// NewFactoryWithHTTPClient creates a Factory whose adapters all use
// httpClient. This constructor is intended for testing.
func NewFactoryWithHTTPClient(cfg Config, httpClient *http.Client) *Factory {
	return &Factory{
		cfg:         cfg,
		githubHTTP:  httpClient,
		defaultHTTP: httpClient,
	}
}

// Adapter returns the adapter for owner's service.
func (f *Factory) Adapter(owner model.Owner) (driven.ProviderAdapter, error) {
	if owner.OAuthToken == "" {
		return nil, fmt.Errorf("adapter for owner %d: %w", owner.ID, ErrMissingToken)
	}

	switch owner.Service {
	case model.ServiceGitHub:
		return adapter(github.NewClient(f.githubHTTP, owner.OAuthToken, ""))
	case model.ServiceGitHubEnterprise:
		if f.cfg.GitHubEnterpriseURL == "" {
			break
		}
		return adapter(github.NewClient(f.githubHTTP, owner.OAuthToken, f.cfg.GitHubEnterpriseURL))
	case model.ServiceGitLab:
		return adapter(gitlab.NewClient(f.defaultHTTP, owner.OAuthToken, ""))
	case model.ServiceGitLabEnterprise:
		if f.cfg.GitLabEnterpriseURL == "" {
			break
		}
		return adapter(gitlab.NewClient(f.defaultHTTP, owner.OAuthToken, f.cfg.GitLabEnterpriseURL))
	case model.ServiceBitbucket:
		return adapter(bitbucket.NewCloudClient(f.defaultHTTP, owner.OAuthToken, ""))
	case model.ServiceBitbucketServer:
		if f.cfg.BitbucketServerURL == "" {
			break
		}
		return adapter(bitbucket.NewServerClient(f.defaultHTTP, owner.OAuthToken, f.cfg.BitbucketServerURL))
	}

	return nil, fmt.Errorf("adapter for %q: %w", owner.Service, driven.ErrUnsupportedService)
}

// adapter drops typed nil pointers so a failed constructor yields a nil interface.
func adapter[T driven.ProviderAdapter](a T, err error) (driven.ProviderAdapter, error) {
	if err != nil {
		return nil, err
	}
	return a, nil
}

// StaticSeats is a SeatCounter backed by a configured license seat count.
type StaticSeats int

// LicenseSeats returns the configured seat count.
func (s StaticSeats) LicenseSeats(context.Context) (int, error) {
	return int(s), nil
}
