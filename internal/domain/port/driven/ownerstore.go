// Package driven defines secondary port interfaces for external adapters.
package driven

import (
	"context"
	"errors"

	"github.com/ericfisherdev/coverhook/internal/domain/model"
)

var (
	// ErrOwnerNotFound indicates the requested owner does not exist.
	ErrOwnerNotFound = errors.New("owner not found")

	// ErrEncryptionKeyNotSet is returned when an OAuth token must be stored
	// but COVERHOOK_SECRET_KEY has not been configured.
	ErrEncryptionKeyNotSet = errors.New("encryption key not configured: set COVERHOOK_SECRET_KEY")
)

// OwnerStore defines the driven port for owner persistence. Set-valued
// columns are only changed through the membership operations below, each of
// which is a single atomic read-modify-write.
type OwnerStore interface {
	// Upsert inserts the owner or updates username, plan and integration of the
	// row matching (service, service_id). Returns the stored owner.
	Upsert(ctx context.Context, owner model.Owner) (*model.Owner, error)

	// Get methods return nil, nil when no owner matches.
	GetByID(ctx context.Context, id int64) (*model.Owner, error)
	GetByServiceID(ctx context.Context, service model.Service, serviceID string) (*model.Owner, error)
	GetByUsername(ctx context.Context, service model.Service, username string) (*model.Owner, error)

	SetIntegration(ctx context.Context, ownerID int64, integrationID *int64) error

	// ActivateUser adds userID to the owner's activated users when it is
	// already a member or fewer than capacity users are active. It reports
	// whether userID is activated afterwards.
	ActivateUser(ctx context.Context, ownerID, userID int64, capacity int) (bool, error)
	DeactivateUser(ctx context.Context, ownerID, userID int64) error

	AddAdmin(ctx context.Context, ownerID, userID int64) error
	RemoveAdmin(ctx context.Context, ownerID, userID int64) error
	AddOrganization(ctx context.Context, ownerID, orgID int64) error
	RemoveOrganization(ctx context.Context, ownerID, orgID int64) error
	AddPermission(ctx context.Context, ownerID, repoID int64) error
	RemovePermission(ctx context.Context, ownerID, repoID int64) error
}
