package model

import "time"

// Task names accepted by the task queue.
const (
	TaskNotify           = "notify"
	TaskPullsSync        = "pulls_sync"
	TaskRefresh          = "refresh"
	TaskSyncPlans        = "sync_plans"
	TaskStatusSetPending = "status_set_pending"
	TaskSyncBranchYaml   = "sync_branch_yaml"
)

// Task is a unit of asynchronous work handed to the task queue.
type Task struct {
	ID         int64
	Name       string
	Payload    []byte // JSON-encoded arguments.
	EnqueuedAt time.Time
}
