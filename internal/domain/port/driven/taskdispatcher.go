package driven

import (
	"context"

	"github.com/ericfisherdev/coverhook/internal/domain/model"
)

// RepoAffected identifies a repository touched by an installation change.
type RepoAffected struct {
	ServiceID string `json:"service_id"`
	Name      string `json:"name"`
}

// RefreshRequest carries the arguments of a refresh task.
type RefreshRequest struct {
	OwnerID          int64          `json:"ownerid"`
	Username         string         `json:"username"`
	SyncTeams        bool           `json:"sync_teams"`
	SyncRepos        bool           `json:"sync_repos"`
	UsingIntegration bool           `json:"using_integration"`
	ReposAffected    []RepoAffected `json:"repos_affected,omitempty"`
}

// SyncPlansRequest carries the arguments of a plan sync task.
type SyncPlansRequest struct {
	Service          model.Service `json:"service"`
	SenderLogin      string        `json:"sender"`
	AccountServiceID string        `json:"account_service_id"`
	AccountUsername  string        `json:"account_username"`
	Action           string        `json:"action"`
	Plan             string        `json:"plan,omitempty"`
}

// TaskDispatcher enqueues asynchronous follow-up work. Every method is
// fire-and-forget: it returns before the task runs and never reports task
// failure. Retry and ordering belong to the queue consumer.
type TaskDispatcher interface {
	Notify(repoID int64, commitID string)
	PullsSync(repoID int64, pullID int)
	Refresh(req RefreshRequest)
	SyncPlans(req SyncPlansRequest)
	StatusSetPending(repoID int64, commitID, branch string, onPullRequest bool)
	SyncBranchYaml(repoID int64, branch string)
}

// TaskStore is the outbox the dispatcher writes tasks to.
type TaskStore interface {
	Enqueue(ctx context.Context, task model.Task) (int64, error)
	// ListAfter returns up to limit tasks with an id greater than afterID,
	// oldest first.
	ListAfter(ctx context.Context, afterID int64, limit int) ([]model.Task, error)
}
