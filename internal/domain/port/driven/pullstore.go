package driven

import (
	"context"

	"github.com/ericfisherdev/coverhook/internal/domain/model"
)

// PullStore defines the driven port for pull persistence, keyed by
// (repo_id, pullid).
type PullStore interface {
	// Upsert writes the pull with last-write-wins on state. Nil Head or Base
	// keep the stored value. ComparedTo is never touched. The previous row is
	// returned, or nil when the pull was inserted.
	Upsert(ctx context.Context, pull model.Pull) (prev *model.Pull, err error)

	// Get returns nil, nil when the pull is unknown.
	Get(ctx context.Context, repoID int64, pullID int) (*model.Pull, error)
	ListByRepo(ctx context.Context, repoID int64, state model.PullState) ([]model.Pull, error)
}

// BranchStore defines the driven port for branch persistence, keyed by
// (repo_id, name).
type BranchStore interface {
	Upsert(ctx context.Context, branch model.Branch) error
	Delete(ctx context.Context, repoID int64, name string) error
	ListByRepo(ctx context.Context, repoID int64) ([]model.Branch, error)
}
