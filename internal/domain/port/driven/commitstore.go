package driven

import (
	"context"
	"errors"

	"github.com/ericfisherdev/coverhook/internal/domain/model"
)

// ErrCommitStateRegression is returned when an upsert would move a commit's
// state backwards without being flagged as a correction.
var ErrCommitStateRegression = errors.New("commit state cannot move backwards")

// CommitStore defines the driven port for commit persistence, keyed by
// (repo_id, commitid).
type CommitStore interface {
	// Upsert inserts or updates a commit. State only advances unless
	// correction is set; otherwise ErrCommitStateRegression is returned.
	Upsert(ctx context.Context, commit model.Commit, correction bool) error

	// Get returns nil, nil when the commit is unknown.
	Get(ctx context.Context, repoID int64, commitID string) (*model.Commit, error)

	// MarkMerged flags the listed commits as merged into branch and returns
	// how many rows changed.
	MarkMerged(ctx context.Context, repoID int64, commitIDs []string, branch string) (int64, error)

	// UpsertStatus records the CI status reported for (repo, commit, context)
	// and reports whether the stored state changed.
	UpsertStatus(ctx context.Context, status model.CommitStatus) (bool, error)
	ListStatuses(ctx context.Context, repoID int64, commitID string) ([]model.CommitStatus, error)
}
