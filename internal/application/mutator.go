package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ericfisherdev/coverhook/internal/domain/model"
	"github.com/ericfisherdev/coverhook/internal/domain/port/driven"
)

// PullUpdate is a provider pull/merge request normalized for storage.
type PullUpdate struct {
	PullID          int
	State           model.PullState
	Title           string
	AuthorServiceID string
	Head            *string
	Base            *string
}

// NewRepository describes a repository announced by a provider event.
type NewRepository struct {
	ServiceID     string
	Name          string
	Private       bool
	DefaultBranch string
}

// StateMutator applies normalized events to persistent state. Every write
// is an idempotent upsert keyed on provider identity, so duplicate and
// concurrent deliveries converge.
type StateMutator struct {
	owners   driven.OwnerStore
	repos    driven.RepoStore
	commits  driven.CommitStore
	pulls    driven.PullStore
	branches driven.BranchStore
	logger   *slog.Logger
}

// NewStateMutator creates a StateMutator with the required stores.
func NewStateMutator(
	owners driven.OwnerStore,
	repos driven.RepoStore,
	commits driven.CommitStore,
	pulls driven.PullStore,
	branches driven.BranchStore,
	logger *slog.Logger,
) *StateMutator {
	return &StateMutator{
		owners:   owners,
		repos:    repos,
		commits:  commits,
		pulls:    pulls,
		branches: branches,
		logger:   logger,
	}
}

// ResolveRepository finds a repository by (service, service_id). It never
// matches by name. Returns nil, nil for unknown or empty ids.
func (m *StateMutator) ResolveRepository(ctx context.Context, service model.Service, serviceID string) (*model.Repository, error) {
	if serviceID == "" {
		return nil, nil
	}
	repo, err := m.repos.GetByServiceID(ctx, service, serviceID)
	if err != nil {
		return nil, fmt.Errorf("resolve repository: %w", err)
	}
	return repo, nil
}

// Owner finds an owner by provider id. Returns nil, nil when unknown.
func (m *StateMutator) Owner(ctx context.Context, service model.Service, serviceID string) (*model.Owner, error) {
	if serviceID == "" {
		return nil, nil
	}
	owner, err := m.owners.GetByServiceID(ctx, service, serviceID)
	if err != nil {
		return nil, fmt.Errorf("resolve owner: %w", err)
	}
	return owner, nil
}

// OwnerByUsername finds an owner by provider username. Returns nil, nil
// when unknown.
func (m *StateMutator) OwnerByUsername(ctx context.Context, service model.Service, username string) (*model.Owner, error) {
	if username == "" {
		return nil, nil
	}
	owner, err := m.owners.GetByUsername(ctx, service, username)
	if err != nil {
		return nil, fmt.Errorf("resolve owner %s: %w", username, err)
	}
	return owner, nil
}

// EnsureOwner returns the owner with serviceID, creating it when missing.
func (m *StateMutator) EnsureOwner(ctx context.Context, service model.Service, serviceID, username string) (*model.Owner, error) {
	owner, err := m.Owner(ctx, service, serviceID)
	if err != nil || owner != nil {
		return owner, err
	}
	owner, err = m.owners.Upsert(ctx, model.Owner{Service: service, ServiceID: serviceID, Username: username})
	if err != nil {
		return nil, fmt.Errorf("create owner %s: %w", serviceID, err)
	}
	return owner, nil
}

// Commit returns a tracked commit or nil.
func (m *StateMutator) Commit(ctx context.Context, repoID int64, commitID string) (*model.Commit, error) {
	return m.commits.Get(ctx, repoID, commitID)
}

// UpsertCommitStatus records the CI state of (repo, commit, context) and
// reports whether the stored state changed.
func (m *StateMutator) UpsertCommitStatus(ctx context.Context, repo *model.Repository, commitID, ciContext string, state model.CIState) (bool, error) {
	changed, err := m.commits.UpsertStatus(ctx, model.CommitStatus{
		RepoID:   repo.ID,
		CommitID: commitID,
		Context:  ciContext,
		State:    state,
	})
	if err != nil {
		return false, fmt.Errorf("upsert commit status: %w", err)
	}
	return changed, nil
}

// UpsertPull writes a pull and returns the row as it was before, or nil for
// a new pull. A tracked head commit is linked to the pull.
func (m *StateMutator) UpsertPull(ctx context.Context, repo *model.Repository, upd PullUpdate) (*model.Pull, error) {
	pull := model.Pull{
		RepoID: repo.ID,
		PullID: upd.PullID,
		State:  upd.State,
		Title:  upd.Title,
		Head:   upd.Head,
		Base:   upd.Base,
	}

	if upd.AuthorServiceID != "" {
		author, err := m.owners.GetByServiceID(ctx, repo.Service, upd.AuthorServiceID)
		if err != nil {
			return nil, fmt.Errorf("resolve pull author: %w", err)
		}
		if author != nil {
			pull.AuthorID = &author.ID
		}
	}

	prev, err := m.pulls.Upsert(ctx, pull)
	if err != nil {
		return nil, fmt.Errorf("upsert pull: %w", err)
	}
	if upd.Head != nil {
		if err := m.linkCommit(ctx, repo.ID, *upd.Head, upd.PullID); err != nil {
			return nil, err
		}
	}
	return prev, nil
}

// linkCommit records pullID on a tracked commit. The commit state is left as
// stored; untracked commits are skipped.
func (m *StateMutator) linkCommit(ctx context.Context, repoID int64, commitID string, pullID int) error {
	commit, err := m.commits.Get(ctx, repoID, commitID)
	if err != nil {
		return fmt.Errorf("load head commit: %w", err)
	}
	if commit == nil || (commit.PullID != nil && *commit.PullID == pullID) {
		return nil
	}
	err = m.commits.Upsert(ctx, model.Commit{RepoID: repoID, CommitID: commitID, PullID: &pullID}, false)
	if errors.Is(err, driven.ErrCommitStateRegression) {
		m.logger.Warn("head commit changed state concurrently", "repo", repoID, "commit", commitID,
			"error", fmt.Errorf("%w: %w", ErrStateConflict, err))
		return nil
	}
	if err != nil {
		return fmt.Errorf("link commit %s to pull %d: %w", commitID, pullID, err)
	}
	return nil
}

// CreateRepository creates a repository under owner. Racing creations
// converge on one row; the stored row is returned either way.
func (m *StateMutator) CreateRepository(ctx context.Context, owner *model.Owner, nr NewRepository) (*model.Repository, error) {
	repo, created, err := m.repos.Create(ctx, model.Repository{
		OwnerID:       owner.ID,
		Service:       owner.Service,
		ServiceID:     nr.ServiceID,
		Name:          nr.Name,
		Private:       nr.Private,
		DefaultBranch: nr.DefaultBranch,
	})
	if err != nil {
		return nil, fmt.Errorf("create repository: %w", err)
	}
	if !created {
		m.logger.Debug("repository already exists",
			"service", owner.Service, "service_id", nr.ServiceID, "error", ErrStateConflict)
	}
	return repo, nil
}

// UpsertBranch points a branch at head.
func (m *StateMutator) UpsertBranch(ctx context.Context, repo *model.Repository, name, head string) error {
	if err := m.branches.Upsert(ctx, model.Branch{RepoID: repo.ID, Name: name, Head: head}); err != nil {
		return fmt.Errorf("upsert branch: %w", err)
	}
	return nil
}

// DeleteBranch removes a branch.
func (m *StateMutator) DeleteBranch(ctx context.Context, repo *model.Repository, name string) error {
	if err := m.branches.Delete(ctx, repo.ID, name); err != nil {
		return fmt.Errorf("delete branch: %w", err)
	}
	return nil
}

// MarkMerged flags tracked commits as merged into branch.
func (m *StateMutator) MarkMerged(ctx context.Context, repo *model.Repository, commitIDs []string, branch string) error {
	n, err := m.commits.MarkMerged(ctx, repo.ID, commitIDs, branch)
	if err != nil {
		return fmt.Errorf("mark merged: %w", err)
	}
	if n > 0 {
		m.logger.Debug("commits marked merged", "repo", repo.ID, "branch", branch, "count", n)
	}
	return nil
}

// RenameRepository updates the repository name.
func (m *StateMutator) RenameRepository(ctx context.Context, repo *model.Repository, name string) error {
	if name == "" || name == repo.Name {
		return nil
	}
	return m.ignoreMissing(m.repos.Rename(ctx, repo.ID, name))
}

// TransferRepository moves the repository to newOwner. A nil owner only
// renames it.
func (m *StateMutator) TransferRepository(ctx context.Context, repo *model.Repository, newOwner *model.Owner, name string) error {
	if name == "" {
		name = repo.Name
	}
	if newOwner == nil || newOwner.ID == repo.OwnerID {
		return m.RenameRepository(ctx, repo, name)
	}
	return m.ignoreMissing(m.repos.Transfer(ctx, repo.ID, newOwner.ID, name))
}

// SetVisibility updates the repository private flag.
func (m *StateMutator) SetVisibility(ctx context.Context, repo *model.Repository, private bool) error {
	if repo.Private == private {
		return nil
	}
	return m.ignoreMissing(m.repos.SetPrivate(ctx, repo.ID, private))
}

// SetDefaultBranch updates the repository default branch.
func (m *StateMutator) SetDefaultBranch(ctx context.Context, repo *model.Repository, branch string) error {
	if branch == "" || branch == repo.DefaultBranch {
		return nil
	}
	return m.ignoreMissing(m.repos.SetDefaultBranch(ctx, repo.ID, branch))
}

// Deactivate turns the repository off, marking it deleted when requested.
func (m *StateMutator) Deactivate(ctx context.Context, repo *model.Repository, deleted bool) error {
	return m.ignoreMissing(m.repos.Deactivate(ctx, repo.ID, deleted))
}

// SetIntegration records, or clears when integrationID is nil, the
// integration installed by owner.
func (m *StateMutator) SetIntegration(ctx context.Context, owner *model.Owner, integrationID *int64) error {
	if err := m.owners.SetIntegration(ctx, owner.ID, integrationID); err != nil {
		return fmt.Errorf("set integration: %w", err)
	}
	owner.IntegrationID = integrationID
	return nil
}

// AddOrganization records org in the member's organizations. Either side
// being unknown is a no-op.
func (m *StateMutator) AddOrganization(ctx context.Context, service model.Service, memberServiceID, orgServiceID string) error {
	member, err := m.Owner(ctx, service, memberServiceID)
	if err != nil || member == nil {
		return err
	}
	org, err := m.Owner(ctx, service, orgServiceID)
	if err != nil || org == nil {
		return err
	}
	if err := m.owners.AddOrganization(ctx, member.ID, org.ID); err != nil {
		return fmt.Errorf("add organization: %w", err)
	}
	return nil
}

// RemoveOrganization drops org from the member's organizations and frees the
// member's seat in org. Either side being unknown is a no-op.
func (m *StateMutator) RemoveOrganization(ctx context.Context, service model.Service, memberServiceID, orgServiceID string) error {
	member, err := m.Owner(ctx, service, memberServiceID)
	if err != nil || member == nil {
		return err
	}
	org, err := m.Owner(ctx, service, orgServiceID)
	if err != nil || org == nil {
		return err
	}
	if err := m.owners.RemoveOrganization(ctx, member.ID, org.ID); err != nil {
		return fmt.Errorf("remove organization: %w", err)
	}
	if org.PlanActivatedUsers.Contains(member.ID) {
		if err := m.owners.DeactivateUser(ctx, org.ID, member.ID); err != nil {
			return fmt.Errorf("deactivate removed member: %w", err)
		}
	}
	return nil
}

// ignoreMissing treats a repository deleted between lookup and update as a
// lost race.
func (m *StateMutator) ignoreMissing(err error) error {
	if errors.Is(err, driven.ErrRepoNotFound) {
		m.logger.Warn("repository vanished during update", "error", fmt.Errorf("%w: %w", ErrStateConflict, err))
		return nil
	}
	return err
}
