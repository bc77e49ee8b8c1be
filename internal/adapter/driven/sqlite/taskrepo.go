package sqlite

import (
	"context"
	"fmt"

	"github.com/ericfisherdev/coverhook/internal/domain/model"
	"github.com/ericfisherdev/coverhook/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.TaskStore = (*TaskRepo)(nil)

// TaskRepo is the SQLite outbox the task dispatcher writes to and queue
// consumers read from.
type TaskRepo struct {
	db *DB
}

// NewTaskRepo creates a new TaskRepo backed by the given DB.
func NewTaskRepo(db *DB) *TaskRepo {
	return &TaskRepo{db: db}
}

// Enqueue appends a task and returns its id.
func (r *TaskRepo) Enqueue(ctx context.Context, task model.Task) (int64, error) {
	const query = `INSERT INTO tasks (name, payload) VALUES (?, ?)`

	payload := string(task.Payload)
	if payload == "" {
		payload = "{}"
	}

	result, err := r.db.Writer.ExecContext(ctx, query, task.Name, payload)
	if err != nil {
		return 0, fmt.Errorf("enqueue task %s: %w", task.Name, err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("read task id: %w", err)
	}
	return id, nil
}

// ListAfter returns up to limit tasks with an id greater than afterID, oldest first.
func (r *TaskRepo) ListAfter(ctx context.Context, afterID int64, limit int) ([]model.Task, error) {
	const query = `SELECT id, name, payload, enqueued_at FROM tasks WHERE id > ? ORDER BY id LIMIT ?`

	rows, err := r.db.Reader.QueryContext(ctx, query, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("list tasks after %d: %w", afterID, err)
	}
	defer rows.Close()

	var tasks []model.Task
	for rows.Next() {
		var (
			t          model.Task
			payload    string
			enqueuedAt string
		)
		if err := rows.Scan(&t.ID, &t.Name, &payload, &enqueuedAt); err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		t.Payload = []byte(payload)
		if t.EnqueuedAt, err = parseTime(enqueuedAt); err != nil {
			return nil, fmt.Errorf("parse enqueued_at: %w", err)
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tasks: %w", err)
	}

	return tasks, nil
}
