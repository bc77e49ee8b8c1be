// Package taskqueue implements the TaskDispatcher port. Tasks are written to
// a durable outbox by a bounded worker pool so webhook handlers never wait on
// the write.
package taskqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/ericfisherdev/coverhook/internal/domain/model"
	"github.com/ericfisherdev/coverhook/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.TaskDispatcher = (*Dispatcher)(nil)

const (
	// DefaultWorkers is the pool size used when none is configured.
	DefaultWorkers = 16
	writeTimeout   = 10 * time.Second
)

// Dispatcher enqueues tasks into a TaskStore from an ants worker pool. When
// the pool is saturated or closed the write happens on the caller's goroutine
// so no task is dropped.
type Dispatcher struct {
	pool   *ants.Pool
	store  driven.TaskStore
	logger *slog.Logger
}

// NewDispatcher creates a Dispatcher with the given number of workers.
func NewDispatcher(store driven.TaskStore, workers int, logger *slog.Logger) (*Dispatcher, error) {
	if workers <= 0 {
		workers = DefaultWorkers
	}

	d := &Dispatcher{store: store, logger: logger}

	pool, err := ants.NewPool(workers,
		ants.WithNonblocking(true),
		ants.WithPanicHandler(func(p any) {
			d.logger.Error("task enqueue panicked", "panic", p)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("creating task pool: %w", err)
	}
	d.pool = pool

	return d, nil
}

type notifyArgs struct {
	RepoID   int64  `json:"repoid"`
	CommitID string `json:"commitid"`
}

type pullsSyncArgs struct {
	RepoID int64 `json:"repoid"`
	PullID int   `json:"pullid"`
}

type statusSetPendingArgs struct {
	RepoID        int64  `json:"repoid"`
	CommitID      string `json:"commitid"`
	Branch        string `json:"branch"`
	OnPullRequest bool   `json:"on_a_pull_request"`
}

type syncBranchYamlArgs struct {
	RepoID int64  `json:"repoid"`
	Branch string `json:"branch"`
}

// Notify schedules commit notifications.
func (d *Dispatcher) Notify(repoID int64, commitID string) {
	d.dispatch(model.TaskNotify, notifyArgs{RepoID: repoID, CommitID: commitID})
}

// PullsSync schedules a pull synchronization.
func (d *Dispatcher) PullsSync(repoID int64, pullID int) {
	d.dispatch(model.TaskPullsSync, pullsSyncArgs{RepoID: repoID, PullID: pullID})
}

// Refresh schedules an owner refresh.
func (d *Dispatcher) Refresh(req driven.RefreshRequest) {
	d.dispatch(model.TaskRefresh, req)
}

// SyncPlans schedules a marketplace plan sync.
func (d *Dispatcher) SyncPlans(req driven.SyncPlansRequest) {
	d.dispatch(model.TaskSyncPlans, req)
}

// StatusSetPending schedules setting a pending commit status.
func (d *Dispatcher) StatusSetPending(repoID int64, commitID, branch string, onPullRequest bool) {
	d.dispatch(model.TaskStatusSetPending, statusSetPendingArgs{
		RepoID:        repoID,
		CommitID:      commitID,
		Branch:        branch,
		OnPullRequest: onPullRequest,
	})
}

// SyncBranchYaml schedules a re-read of the repository yaml on branch.
func (d *Dispatcher) SyncBranchYaml(repoID int64, branch string) {
	d.dispatch(model.TaskSyncBranchYaml, syncBranchYamlArgs{RepoID: repoID, Branch: branch})
}

func (d *Dispatcher) dispatch(name string, args any) {
	payload, err := json.Marshal(args)
	if err != nil {
		d.logger.Error("encode task", "task", name, "error", err)
		return
	}

	task := model.Task{Name: name, Payload: payload}
	write := func() { d.write(task) }

	err = d.pool.Submit(write)
	switch {
	case err == nil:
	case errors.Is(err, ants.ErrPoolOverload), errors.Is(err, ants.ErrPoolClosed):
		d.logger.Warn("task pool unavailable, enqueueing inline", "task", name, "error", err)
		write()
	default:
		d.logger.Error("submit task", "task", name, "error", err)
		write()
	}
}

func (d *Dispatcher) write(task model.Task) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	id, err := d.store.Enqueue(ctx, task)
	if err != nil {
		d.logger.Error("enqueue task", "task", task.Name, "error", err)
		return
	}
	d.logger.Debug("task enqueued", "task", task.Name, "id", id)
}

// Running returns the number of live pool workers.
func (d *Dispatcher) Running() int {
	return d.pool.Running()
}

// Close stops accepting pooled work and waits up to timeout for in-flight
// writes to finish.
func (d *Dispatcher) Close(timeout time.Duration) error {
	if err := d.pool.ReleaseTimeout(timeout); err != nil {
		return fmt.Errorf("releasing task pool: %w", err)
	}
	return nil
}
