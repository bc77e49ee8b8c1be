package application_test

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/coverhook/internal/application"
	"github.com/ericfisherdev/coverhook/internal/domain/model"
	"github.com/ericfisherdev/coverhook/internal/domain/port/driven"
)

type permissionFixture struct {
	owners   *mockOwnerStore
	provider *mockProvider
	svc      *application.PermissionService
	user     *model.Owner
	org      *model.Owner
}

func newPermissionFixture(t *testing.T, seats driven.SeatCounter) *permissionFixture {
	t.Helper()
	owners := newMockOwnerStore()
	provider := &mockProvider{}
	user := owners.add(model.Owner{Service: model.ServiceGitHub, ServiceID: "1", Username: "alice"})
	org := owners.add(model.Owner{Service: model.ServiceGitHub, ServiceID: "2", Username: "acme", PlanUserCount: 2})
	return &permissionFixture{
		owners:   owners,
		provider: provider,
		svc:      application.NewPermissionService(owners, provider, seats, discardLogger()),
		user:     user,
		org:      org,
	}
}

func TestIsUserActivated_AutoActivateDisabled(t *testing.T) {
	f := newPermissionFixture(t, nil)
	ctx := context.Background()

	activated, err := f.svc.IsUserActivated(ctx, *f.user, f.owners.get(f.org.ID))
	require.NoError(t, err)
	assert.False(t, activated, "auto activate off must not activate despite capacity")
	assert.Zero(t, f.owners.get(f.org.ID).PlanActivatedUsers.Len())

	require.NoError(t, f.owners.mutate(f.org.ID, func(o *model.Owner) { o.PlanAutoActivate = true }))

	for range 3 {
		activated, err = f.svc.IsUserActivated(ctx, *f.user, f.owners.get(f.org.ID))
		require.NoError(t, err)
		assert.True(t, activated)
	}
	assert.Equal(t, []int64{f.user.ID}, f.owners.get(f.org.ID).PlanActivatedUsers.Slice())
}

func TestIsUserActivated_AlreadyActivatedWithoutAutoActivate(t *testing.T) {
	f := newPermissionFixture(t, nil)
	require.NoError(t, f.owners.mutate(f.org.ID, func(o *model.Owner) { o.PlanActivatedUsers.Add(f.user.ID) }))

	activated, err := f.svc.IsUserActivated(context.Background(), *f.user, f.owners.get(f.org.ID))
	require.NoError(t, err)
	assert.True(t, activated)
}

func TestIsUserActivated_ZeroCapacity(t *testing.T) {
	f := newPermissionFixture(t, nil)
	require.NoError(t, f.owners.mutate(f.org.ID, func(o *model.Owner) {
		o.PlanAutoActivate = true
		o.PlanUserCount = 0
	}))

	activated, err := f.svc.IsUserActivated(context.Background(), *f.user, f.owners.get(f.org.ID))
	require.NoError(t, err)
	assert.False(t, activated)
	assert.Zero(t, f.owners.get(f.org.ID).PlanActivatedUsers.Len())
}

func TestIsUserActivated_CapacityExhausted(t *testing.T) {
	f := newPermissionFixture(t, nil)
	require.NoError(t, f.owners.mutate(f.org.ID, func(o *model.Owner) {
		o.PlanAutoActivate = true
		o.PlanUserCount = 1
		o.PlanActivatedUsers.Add(99)
	}))

	activated, err := f.svc.IsUserActivated(context.Background(), *f.user, f.owners.get(f.org.ID))
	require.NoError(t, err)
	assert.False(t, activated)
}

func TestIsUserActivated_ConcurrentRequestsRespectCapacity(t *testing.T) {
	f := newPermissionFixture(t, nil)
	require.NoError(t, f.owners.mutate(f.org.ID, func(o *model.Owner) {
		o.PlanAutoActivate = true
		o.PlanUserCount = 3
	}))
	org := f.owners.get(f.org.ID)

	var wg sync.WaitGroup
	for i := range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			user := model.Owner{ID: int64(100 + i)}
			_, err := f.svc.IsUserActivated(context.Background(), user, org)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 3, f.owners.get(f.org.ID).PlanActivatedUsers.Len())
}

func TestIsUserActivated_SelfHostedUsesLicenseSeats(t *testing.T) {
	f := newPermissionFixture(t, mockSeats{seats: 5})
	require.NoError(t, f.owners.mutate(f.org.ID, func(o *model.Owner) {
		o.PlanAutoActivate = true
		o.PlanUserCount = 0
	}))

	activated, err := f.svc.IsUserActivated(context.Background(), *f.user, f.owners.get(f.org.ID))
	require.NoError(t, err)
	assert.True(t, activated)
}

func TestIsAdminOnProvider(t *testing.T) {
	f := newPermissionFixture(t, nil)
	ctx := context.Background()

	admin, err := f.svc.IsAdminOnProvider(ctx, *f.user, f.owners.get(f.org.ID))
	require.NoError(t, err)
	assert.False(t, admin)

	f.provider.admin = true
	admin, err = f.svc.IsAdminOnProvider(ctx, *f.user, f.owners.get(f.org.ID))
	require.NoError(t, err)
	assert.True(t, admin)
	assert.True(t, f.owners.get(f.org.ID).Admins.Contains(f.user.ID))

	// Not cached: every call reaches the provider.
	_, err = f.svc.IsAdminOnProvider(ctx, *f.user, f.owners.get(f.org.ID))
	require.NoError(t, err)
	assert.Equal(t, 3, f.provider.adminCalls)

	f.provider.admin = false
	admin, err = f.svc.IsAdminOnProvider(ctx, *f.user, f.owners.get(f.org.ID))
	require.NoError(t, err)
	assert.False(t, admin)
	assert.False(t, f.owners.get(f.org.ID).Admins.Contains(f.user.ID), "revoked admin is dropped")
}

func TestIsAdminOnProvider_ProviderErrors(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		wantStatus  int
		wantMessage string
	}{
		{
			name:        "provider status",
			err:         &driven.ProviderError{StatusCode: http.StatusUnauthorized, Message: "Bad credentials"},
			wantStatus:  http.StatusUnauthorized,
			wantMessage: "Bad credentials",
		},
		{
			name:        "transport failure",
			err:         &driven.ProviderError{Message: "connection refused"},
			wantStatus:  http.StatusBadGateway,
			wantMessage: "connection refused",
		},
		{
			name:        "untyped error",
			err:         errors.New("boom"),
			wantStatus:  http.StatusBadGateway,
			wantMessage: "boom",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newPermissionFixture(t, nil)
			f.provider.err = tt.err

			_, err := f.svc.IsAdminOnProvider(context.Background(), *f.user, *f.org)

			var apiErr *application.ProviderAPIError
			require.ErrorAs(t, err, &apiErr)
			assert.Equal(t, tt.wantStatus, apiErr.StatusCode)
			assert.Equal(t, tt.wantMessage, apiErr.Message)
		})
	}
}

func TestGetRepoPermissions(t *testing.T) {
	ctx := context.Background()

	t.Run("public active repository needs no provider call", func(t *testing.T) {
		f := newPermissionFixture(t, nil)
		repo := model.Repository{ID: 10, OwnerID: f.org.ID, Active: true}

		canView, canEdit, err := f.svc.GetRepoPermissions(ctx, *f.user, repo, *f.org)
		require.NoError(t, err)
		assert.True(t, canView)
		assert.False(t, canEdit)
		assert.Zero(t, f.provider.permCalls)

		require.NoError(t, f.owners.AddPermission(ctx, f.user.ID, repo.ID))
		_, canEdit, err = f.svc.GetRepoPermissions(ctx, f.owners.get(f.user.ID), repo, *f.org)
		require.NoError(t, err)
		assert.True(t, canEdit)
		assert.Zero(t, f.provider.permCalls)
	})

	t.Run("own repository", func(t *testing.T) {
		f := newPermissionFixture(t, nil)
		repo := model.Repository{ID: 11, OwnerID: f.user.ID, Private: true}

		canView, canEdit, err := f.svc.GetRepoPermissions(ctx, *f.user, repo, *f.user)
		require.NoError(t, err)
		assert.True(t, canView)
		assert.True(t, canEdit)
		assert.Zero(t, f.provider.permCalls)
	})

	t.Run("private repository asks the provider and records access", func(t *testing.T) {
		f := newPermissionFixture(t, nil)
		f.provider.canView = true
		repo := model.Repository{ID: 12, OwnerID: f.org.ID, Private: true, Active: true}

		canView, canEdit, err := f.svc.GetRepoPermissions(ctx, *f.user, repo, *f.org)
		require.NoError(t, err)
		assert.True(t, canView)
		assert.False(t, canEdit)
		assert.Equal(t, 1, f.provider.permCalls)
		assert.True(t, f.owners.get(f.user.ID).Permission.Contains(repo.ID))
	})

	t.Run("access revoked on the provider is dropped", func(t *testing.T) {
		f := newPermissionFixture(t, nil)
		repo := model.Repository{ID: 14, OwnerID: f.org.ID, Private: true, Active: true}
		require.NoError(t, f.owners.AddPermission(ctx, f.user.ID, repo.ID))

		canView, canEdit, err := f.svc.GetRepoPermissions(ctx, f.owners.get(f.user.ID), repo, *f.org)
		require.NoError(t, err)
		assert.False(t, canView)
		assert.False(t, canEdit)
		assert.Equal(t, 1, f.provider.permCalls)
		assert.False(t, f.owners.get(f.user.ID).Permission.Contains(repo.ID))
	})

	t.Run("provider error surfaces", func(t *testing.T) {
		f := newPermissionFixture(t, nil)
		f.provider.err = &driven.ProviderError{StatusCode: http.StatusNotFound, Message: "Not Found"}
		repo := model.Repository{ID: 13, OwnerID: f.org.ID, Private: true}

		_, _, err := f.svc.GetRepoPermissions(ctx, *f.user, repo, *f.org)
		var apiErr *application.ProviderAPIError
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	})
}
