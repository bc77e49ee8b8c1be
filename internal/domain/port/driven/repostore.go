package driven

import (
	"context"
	"errors"

	"github.com/ericfisherdev/coverhook/internal/domain/model"
)

// Sentinel errors returned by RepoStore implementations.
var (
	// ErrRepoNotFound indicates the requested repository does not exist.
	ErrRepoNotFound = errors.New("repository not found")
)

// RepoStore defines the driven port for repository persistence. Webhook
// paths resolve repositories by (service, service_id) only.
type RepoStore interface {
	// Create inserts the repository unless one with the same (service,
	// service_id) exists, and returns the stored row. created is false when
	// the row already existed.
	Create(ctx context.Context, repo model.Repository) (stored *model.Repository, created bool, err error)

	// Get methods return nil, nil when no repository matches.
	GetByID(ctx context.Context, id int64) (*model.Repository, error)
	GetByServiceID(ctx context.Context, service model.Service, serviceID string) (*model.Repository, error)
	GetByName(ctx context.Context, ownerID int64, name string) (*model.Repository, error)
	ListByOwner(ctx context.Context, ownerID int64) ([]model.Repository, error)

	// Mutations return ErrRepoNotFound when id matches no row.
	Rename(ctx context.Context, id int64, name string) error
	Transfer(ctx context.Context, id, ownerID int64, name string) error
	SetPrivate(ctx context.Context, id int64, private bool) error
	SetDefaultBranch(ctx context.Context, id int64, branch string) error
	Deactivate(ctx context.Context, id int64, deleted bool) error
}
