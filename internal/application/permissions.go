package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/ericfisherdev/coverhook/internal/domain/model"
	"github.com/ericfisherdev/coverhook/internal/domain/port/driven"
)

// PermissionService decides what a user may see and do. It consults local
// state first and falls back to the user's provider.
type PermissionService struct {
	owners    driven.OwnerStore
	providers driven.ProviderFactory
	seats     driven.SeatCounter
	logger    *slog.Logger
}

// NewPermissionService creates a PermissionService. seats is nil for SaaS
// deployments; when set, its license seat count replaces plan user counts.
func NewPermissionService(owners driven.OwnerStore, providers driven.ProviderFactory, seats driven.SeatCounter, logger *slog.Logger) *PermissionService {
	return &PermissionService{
		owners:    owners,
		providers: providers,
		seats:     seats,
		logger:    logger,
	}
}

// IsUserActivated reports whether user holds a seat of owner's plan,
// activating the user when the plan auto-activates and seats remain.
func (s *PermissionService) IsUserActivated(ctx context.Context, user, owner model.Owner) (bool, error) {
	if owner.PlanActivatedUsers.Contains(user.ID) {
		return true, nil
	}
	if !owner.PlanAutoActivate {
		return false, nil
	}

	capacity := owner.PlanUserCount
	if s.seats != nil {
		seats, err := s.seats.LicenseSeats(ctx)
		if err != nil {
			return false, fmt.Errorf("count license seats: %w", err)
		}
		capacity = seats
	}
	if capacity <= 0 {
		return false, nil
	}

	activated, err := s.owners.ActivateUser(ctx, owner.ID, user.ID, capacity)
	if err != nil {
		return false, fmt.Errorf("activate user %d on owner %d: %w", user.ID, owner.ID, err)
	}
	if activated {
		s.logger.Info("user activated", "owner", owner.ID, "user", user.ID)
	}
	return activated, nil
}

// IsAdminOnProvider asks org's provider whether user administers it. The
// answer is never cached for the check itself, but org's admins follow it.
func (s *PermissionService) IsAdminOnProvider(ctx context.Context, user, org model.Owner) (bool, error) {
	adapter, err := s.providers.Adapter(user)
	if err != nil {
		return false, providerAPIError(err)
	}

	admin, err := adapter.IsAdmin(ctx, org.Username, user.Username, user.ServiceID)
	if err != nil {
		return false, providerAPIError(err)
	}

	switch {
	case admin && !org.Admins.Contains(user.ID):
		if err := s.owners.AddAdmin(ctx, org.ID, user.ID); err != nil {
			return false, fmt.Errorf("record admin %d of %d: %w", user.ID, org.ID, err)
		}
	case !admin && org.Admins.Contains(user.ID):
		if err := s.owners.RemoveAdmin(ctx, org.ID, user.ID); err != nil {
			return false, fmt.Errorf("revoke admin %d of %d: %w", user.ID, org.ID, err)
		}
	}
	return admin, nil
}

// GetRepoPermissions reports whether user can view and edit repo. Public
// active repositories and the user's own repositories are answered locally;
// everything else asks the provider.
func (s *PermissionService) GetRepoPermissions(ctx context.Context, user model.Owner, repo model.Repository, repoOwner model.Owner) (canView, canEdit bool, err error) {
	isAuthor := repo.OwnerID == user.ID

	if !repo.Private && repo.Active {
		return true, isAuthor || user.Permission.Contains(repo.ID), nil
	}
	if isAuthor {
		return true, true, nil
	}

	adapter, err := s.providers.Adapter(user)
	if err != nil {
		return false, false, providerAPIError(err)
	}

	canView, canEdit, err = adapter.GetPermissions(ctx, driven.RepoRef{
		OwnerUsername: repoOwner.Username,
		Name:          repo.Name,
		ServiceID:     repo.ServiceID,
	}, user.Username)
	if err != nil {
		return false, false, providerAPIError(err)
	}

	switch {
	case canView && !user.Permission.Contains(repo.ID):
		if err := s.owners.AddPermission(ctx, user.ID, repo.ID); err != nil {
			return false, false, fmt.Errorf("record permission of %d on %d: %w", user.ID, repo.ID, err)
		}
	case !canView && user.Permission.Contains(repo.ID):
		if err := s.owners.RemovePermission(ctx, user.ID, repo.ID); err != nil {
			return false, false, fmt.Errorf("revoke permission of %d on %d: %w", user.ID, repo.ID, err)
		}
	}
	return canView, canEdit, nil
}

func providerAPIError(err error) *ProviderAPIError {
	var perr *driven.ProviderError
	if errors.As(err, &perr) {
		status := perr.StatusCode
		if status == 0 {
			status = http.StatusBadGateway
		}
		return &ProviderAPIError{StatusCode: status, Message: perr.Message, Err: err}
	}
	if errors.Is(err, driven.ErrUnsupportedService) {
		return &ProviderAPIError{StatusCode: http.StatusNotImplemented, Message: err.Error(), Err: err}
	}
	return &ProviderAPIError{StatusCode: http.StatusBadGateway, Message: err.Error(), Err: err}
}
