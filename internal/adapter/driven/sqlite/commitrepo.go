package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/ericfisherdev/coverhook/internal/domain/model"
	"github.com/ericfisherdev/coverhook/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.CommitStore = (*CommitRepo)(nil)

// CommitRepo is the SQLite implementation of the CommitStore port interface.
// Totals are serialized as a JSON object in the TEXT column.
type CommitRepo struct {
	db *DB
}

// NewCommitRepo creates a new CommitRepo backed by the given DB.
func NewCommitRepo(db *DB) *CommitRepo {
	return &CommitRepo{db: db}
}

// Upsert inserts or updates a commit keyed on (repo_id, commitid). Empty or
// nil fields keep the stored values; merged never flips back to false.
func (r *CommitRepo) Upsert(ctx context.Context, c model.Commit, correction bool) error {
	const upsert = `
		INSERT INTO commits (repo_id, commitid, author_id, state, branch, merged, pullid, message, totals)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(repo_id, commitid) DO UPDATE SET
			author_id = COALESCE(excluded.author_id, commits.author_id),
			state = excluded.state,
			branch = CASE WHEN excluded.branch = '' THEN commits.branch ELSE excluded.branch END,
			merged = MAX(commits.merged, excluded.merged),
			pullid = COALESCE(excluded.pullid, commits.pullid),
			message = CASE WHEN excluded.message = '' THEN commits.message ELSE excluded.message END,
			totals = COALESCE(excluded.totals, commits.totals),
			updated_at = CURRENT_TIMESTAMP
	`

	var totals any
	if c.Totals != nil {
		data, err := json.Marshal(c.Totals)
		if err != nil {
			return fmt.Errorf("marshal totals: %w", err)
		}
		totals = string(data)
	}

	var pullID any
	if c.PullID != nil {
		pullID = *c.PullID
	}

	return r.db.inTx(ctx, func(tx *sql.Tx) error {
		var current string
		err := tx.QueryRowContext(ctx,
			`SELECT state FROM commits WHERE repo_id = ? AND commitid = ?`, c.RepoID, c.CommitID,
		).Scan(&current)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("read state of commit %s: %w", c.CommitID, err)
		}

		state := c.State
		if state == "" {
			state = model.CommitState(current)
			if state == "" {
				state = model.CommitStatePending
			}
		}

		if !correction && !model.CommitState(current).CanAdvanceTo(state) {
			return fmt.Errorf("upsert commit %s (%s -> %s): %w", c.CommitID, current, state, driven.ErrCommitStateRegression)
		}

		if _, err := tx.ExecContext(ctx, upsert,
			c.RepoID, c.CommitID, nullInt64(c.AuthorID), string(state), c.Branch,
			boolToInt(c.Merged), pullID, c.Message, totals,
		); err != nil {
			return fmt.Errorf("upsert commit %s: %w", c.CommitID, err)
		}
		return nil
	})
}

// Get retrieves a commit by repository and SHA. Returns nil, nil if it does not exist.
func (r *CommitRepo) Get(ctx context.Context, repoID int64, commitID string) (*model.Commit, error) {
	const query = `
		SELECT id, repo_id, commitid, author_id, state, branch, merged, pullid, message, totals,
		       created_at, updated_at
		FROM commits
		WHERE repo_id = ? AND commitid = ?
	`

	c, err := scanCommit(r.db.Reader.QueryRowContext(ctx, query, repoID, commitID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get commit %d/%s: %w", repoID, commitID, err)
	}
	return c, nil
}

// MarkMerged flags not-yet-merged commits among commitIDs as merged into branch.
func (r *CommitRepo) MarkMerged(ctx context.Context, repoID int64, commitIDs []string, branch string) (int64, error) {
	if len(commitIDs) == 0 {
		return 0, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(commitIDs)), ",")
	query := `
		UPDATE commits SET merged = 1, branch = ?, updated_at = CURRENT_TIMESTAMP
		WHERE repo_id = ? AND merged = 0 AND commitid IN (` + placeholders + `)`

	args := make([]any, 0, len(commitIDs)+2)
	args = append(args, branch, repoID)
	for _, id := range commitIDs {
		args = append(args, id)
	}

	result, err := r.db.Writer.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("mark commits merged in repository %d: %w", repoID, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("check rows affected: %w", err)
	}
	return rows, nil
}

// UpsertStatus records the CI status of (repo, commit, context). It reports
// false without writing when the stored state already matches, which makes
// redelivered status events detectable.
func (r *CommitRepo) UpsertStatus(ctx context.Context, status model.CommitStatus) (bool, error) {
	const upsert = `
		INSERT INTO commit_statuses (repo_id, commitid, context, state)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(repo_id, commitid, context) DO UPDATE SET
			state = excluded.state,
			updated_at = CURRENT_TIMESTAMP
	`

	changed := false
	err := r.db.inTx(ctx, func(tx *sql.Tx) error {
		var current string
		err := tx.QueryRowContext(ctx,
			`SELECT state FROM commit_statuses WHERE repo_id = ? AND commitid = ? AND context = ?`,
			status.RepoID, status.CommitID, status.Context,
		).Scan(&current)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("read status %s of commit %s: %w", status.Context, status.CommitID, err)
		}

		if err == nil && model.CIState(current) == status.State {
			return nil
		}

		if _, err := tx.ExecContext(ctx, upsert,
			status.RepoID, status.CommitID, status.Context, string(status.State),
		); err != nil {
			return fmt.Errorf("upsert status %s of commit %s: %w", status.Context, status.CommitID, err)
		}
		changed = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return changed, nil
}

// ListStatuses returns every recorded CI status of a commit ordered by context.
func (r *CommitRepo) ListStatuses(ctx context.Context, repoID int64, commitID string) ([]model.CommitStatus, error) {
	const query = `
		SELECT repo_id, commitid, context, state, updated_at
		FROM commit_statuses
		WHERE repo_id = ? AND commitid = ?
		ORDER BY context
	`

	rows, err := r.db.Reader.QueryContext(ctx, query, repoID, commitID)
	if err != nil {
		return nil, fmt.Errorf("list statuses of commit %s: %w", commitID, err)
	}
	defer rows.Close()

	var statuses []model.CommitStatus
	for rows.Next() {
		var (
			s         model.CommitStatus
			state     string
			updatedAt string
		)
		if err := rows.Scan(&s.RepoID, &s.CommitID, &s.Context, &state, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan commit status: %w", err)
		}
		s.State = model.CIState(state)
		if s.UpdatedAt, err = parseTime(updatedAt); err != nil {
			return nil, fmt.Errorf("parse updated_at: %w", err)
		}
		statuses = append(statuses, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate commit statuses: %w", err)
	}

	return statuses, nil
}

func scanCommit(s scanner) (*model.Commit, error) {
	var (
		c                    model.Commit
		authorID, pullID     sql.NullInt64
		state                string
		totals               sql.NullString
		createdAt, updatedAt string
	)

	err := s.Scan(
		&c.ID, &c.RepoID, &c.CommitID, &authorID, &state, &c.Branch, &c.Merged,
		&pullID, &c.Message, &totals, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	c.State = model.CommitState(state)
	c.AuthorID = int64Ptr(authorID)
	if pullID.Valid {
		id := int(pullID.Int64)
		c.PullID = &id
	}

	if totals.Valid && totals.String != "" {
		var t model.Totals
		if err := json.Unmarshal([]byte(totals.String), &t); err != nil {
			return nil, fmt.Errorf("unmarshal totals: %w", err)
		}
		c.Totals = &t
	}

	if c.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if c.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}

	return &c, nil
}
