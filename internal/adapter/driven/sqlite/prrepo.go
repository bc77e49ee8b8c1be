package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ericfisherdev/coverhook/internal/domain/model"
	"github.com/ericfisherdev/coverhook/internal/domain/port/driven"
)

// Compile-time interface satisfaction checks.
var (
	_ driven.PullStore   = (*PullRepo)(nil)
	_ driven.BranchStore = (*BranchRepo)(nil)
)

const pullColumns = `id, repo_id, pullid, state, title, author_id, head, base, compared_to, created_at, updated_at`

// PullRepo is the SQLite implementation of the PullStore port interface.
type PullRepo struct {
	db *DB
}

// NewPullRepo creates a new PullRepo backed by the given DB.
func NewPullRepo(db *DB) *PullRepo {
	return &PullRepo{db: db}
}

// Upsert writes a pull keyed on (repo_id, pullid) and returns the row as it
// was before the write. State is last-write-wins; head, base, title and
// author keep their stored values when the incoming ones are empty.
// compared_to is not part of the statement.
func (r *PullRepo) Upsert(ctx context.Context, p model.Pull) (*model.Pull, error) {
	const upsert = `
		INSERT INTO pulls (repo_id, pullid, state, title, author_id, head, base)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(repo_id, pullid) DO UPDATE SET
			state = excluded.state,
			title = CASE WHEN excluded.title = '' THEN pulls.title ELSE excluded.title END,
			author_id = COALESCE(excluded.author_id, pulls.author_id),
			head = COALESCE(excluded.head, pulls.head),
			base = COALESCE(excluded.base, pulls.base),
			updated_at = CURRENT_TIMESTAMP
	`

	state := p.State
	if state == "" {
		state = model.PullStateOpen
	}

	var prev *model.Pull
	err := r.db.inTx(ctx, func(tx *sql.Tx) error {
		existing, err := scanPull(tx.QueryRowContext(ctx,
			`SELECT `+pullColumns+` FROM pulls WHERE repo_id = ? AND pullid = ?`, p.RepoID, p.PullID,
		))
		switch {
		case errors.Is(err, sql.ErrNoRows):
		case err != nil:
			return fmt.Errorf("read pull %d#%d: %w", p.RepoID, p.PullID, err)
		default:
			prev = existing
		}

		if _, err := tx.ExecContext(ctx, upsert,
			p.RepoID, p.PullID, string(state), p.Title, nullInt64(p.AuthorID),
			nullString(p.Head), nullString(p.Base),
		); err != nil {
			return fmt.Errorf("upsert pull %d#%d: %w", p.RepoID, p.PullID, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return prev, nil
}

// Get retrieves a single pull. Returns nil, nil if the pull does not exist.
func (r *PullRepo) Get(ctx context.Context, repoID int64, pullID int) (*model.Pull, error) {
	const query = `SELECT ` + pullColumns + ` FROM pulls WHERE repo_id = ? AND pullid = ?`

	p, err := scanPull(r.db.Reader.QueryRowContext(ctx, query, repoID, pullID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get pull %d#%d: %w", repoID, pullID, err)
	}

	return p, nil
}

// ListByRepo returns the repository's pulls, newest first. An empty state
// returns pulls in every state.
func (r *PullRepo) ListByRepo(ctx context.Context, repoID int64, state model.PullState) ([]model.Pull, error) {
	const query = `
		SELECT ` + pullColumns + `
		FROM pulls
		WHERE repo_id = ? AND (? = '' OR state = ?)
		ORDER BY pullid DESC
	`

	rows, err := r.db.Reader.QueryContext(ctx, query, repoID, string(state), string(state))
	if err != nil {
		return nil, fmt.Errorf("list pulls for repository %d: %w", repoID, err)
	}
	defer rows.Close()

	var pulls []model.Pull
	for rows.Next() {
		p, err := scanPull(rows)
		if err != nil {
			return nil, fmt.Errorf("scan pull: %w", err)
		}
		pulls = append(pulls, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pulls: %w", err)
	}

	return pulls, nil
}

func scanPull(s scanner) (*model.Pull, error) {
	var (
		p                      model.Pull
		state                  string
		authorID               sql.NullInt64
		head, base, comparedTo sql.NullString
		createdAt, updatedAt   string
	)

	err := s.Scan(
		&p.ID, &p.RepoID, &p.PullID, &state, &p.Title, &authorID,
		&head, &base, &comparedTo, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	p.State = model.PullState(state)
	p.AuthorID = int64Ptr(authorID)
	p.Head = stringPtr(head)
	p.Base = stringPtr(base)
	p.ComparedTo = stringPtr(comparedTo)

	if p.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if p.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}

	return &p, nil
}

// BranchRepo is the SQLite implementation of the BranchStore port interface.
type BranchRepo struct {
	db *DB
}

// NewBranchRepo creates a new BranchRepo backed by the given DB.
func NewBranchRepo(db *DB) *BranchRepo {
	return &BranchRepo{db: db}
}

// Upsert points the branch at a new head, creating it if needed.
func (r *BranchRepo) Upsert(ctx context.Context, b model.Branch) error {
	const query = `
		INSERT INTO branches (repo_id, name, head) VALUES (?, ?, ?)
		ON CONFLICT(repo_id, name) DO UPDATE SET
			head = excluded.head,
			updated_at = CURRENT_TIMESTAMP
	`

	if _, err := r.db.Writer.ExecContext(ctx, query, b.RepoID, b.Name, b.Head); err != nil {
		return fmt.Errorf("upsert branch %d/%s: %w", b.RepoID, b.Name, err)
	}
	return nil
}

// Delete removes a branch. Deleting an unknown branch is not an error.
func (r *BranchRepo) Delete(ctx context.Context, repoID int64, name string) error {
	const query = `DELETE FROM branches WHERE repo_id = ? AND name = ?`

	if _, err := r.db.Writer.ExecContext(ctx, query, repoID, name); err != nil {
		return fmt.Errorf("delete branch %d/%s: %w", repoID, name, err)
	}
	return nil
}

// ListByRepo returns the repository's branches ordered by name.
func (r *BranchRepo) ListByRepo(ctx context.Context, repoID int64) ([]model.Branch, error) {
	const query = `SELECT repo_id, name, head, updated_at FROM branches WHERE repo_id = ? ORDER BY name`

	rows, err := r.db.Reader.QueryContext(ctx, query, repoID)
	if err != nil {
		return nil, fmt.Errorf("list branches for repository %d: %w", repoID, err)
	}
	defer rows.Close()

	var branches []model.Branch
	for rows.Next() {
		var (
			b         model.Branch
			updatedAt string
		)
		if err := rows.Scan(&b.RepoID, &b.Name, &b.Head, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan branch: %w", err)
		}
		if b.UpdatedAt, err = parseTime(updatedAt); err != nil {
			return nil, fmt.Errorf("parse updated_at: %w", err)
		}
		branches = append(branches, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate branches: %w", err)
	}

	return branches, nil
}
