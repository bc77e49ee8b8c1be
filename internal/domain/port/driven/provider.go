package driven

import (
	"context"
	"errors"
	"fmt"

	"github.com/ericfisherdev/coverhook/internal/domain/model"
)

// ErrUnsupportedService is returned by a ProviderFactory for services it has
// no adapter for.
var ErrUnsupportedService = errors.New("unsupported service")

// RepoRef addresses a repository on its provider.
type RepoRef struct {
	OwnerUsername string
	Name          string
	ServiceID     string
}

// ProviderError is returned by ProviderAdapter implementations when the
// provider answered with an error or could not be reached. StatusCode is 0
// for transport failures.
type ProviderError struct {
	StatusCode int
	Message    string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider error (status %d): %s", e.StatusCode, e.Message)
}

// ProviderAdapter queries a provider's API on behalf of an owner.
type ProviderAdapter interface {
	// IsAdmin reports whether the user is an administrator of org.
	IsAdmin(ctx context.Context, org, username, userServiceID string) (bool, error)
	// GetPermissions reports whether username can view and edit repo.
	GetPermissions(ctx context.Context, repo RepoRef, username string) (canView, canEdit bool, err error)
}

// ProviderFactory builds a ProviderAdapter authenticated as owner.
type ProviderFactory interface {
	Adapter(owner model.Owner) (ProviderAdapter, error)
}

// SeatCounter reports licensed seats for self-hosted deployments.
type SeatCounter interface {
	LicenseSeats(ctx context.Context) (int, error)
}
