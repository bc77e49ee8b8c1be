package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ericfisherdev/coverhook/internal/domain/model"
	"github.com/ericfisherdev/coverhook/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.RepoStore = (*RepoRepo)(nil)

const repoColumns = `id, owner_id, service, service_id, name, private, active, activated, deleted,
	default_branch, hookid, webhook_secret, created_at, updated_at`

// RepoRepo is the SQLite implementation of the RepoStore port interface.
type RepoRepo struct {
	db *DB
}

// NewRepoRepo creates a new RepoRepo backed by the given DB.
func NewRepoRepo(db *DB) *RepoRepo {
	return &RepoRepo{db: db}
}

// Create inserts a repository unless (service, service_id) is already taken.
// Concurrent creations of the same repository converge on one row.
func (r *RepoRepo) Create(ctx context.Context, repo model.Repository) (*model.Repository, bool, error) {
	const query = `
		INSERT INTO repositories (
			owner_id, service, service_id, name, private, active, activated, deleted,
			default_branch, hookid, webhook_secret
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(service, service_id) DO NOTHING
	`

	branch := repo.DefaultBranch
	if branch == "" {
		branch = "main"
	}

	result, err := r.db.Writer.ExecContext(ctx, query,
		repo.OwnerID, string(repo.Service), repo.ServiceID, repo.Name,
		boolToInt(repo.Private), boolToInt(repo.Active), boolToInt(repo.Activated), boolToInt(repo.Deleted),
		branch, repo.HookID, nullString(repo.WebhookSecret),
	)
	if err != nil {
		return nil, false, fmt.Errorf("create repository %s/%s: %w", repo.Service, repo.ServiceID, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("check rows affected: %w", err)
	}

	const readBack = `SELECT ` + repoColumns + ` FROM repositories WHERE service = ? AND service_id = ?`
	stored, err := scanRepository(r.db.Writer.QueryRowContext(ctx, readBack, string(repo.Service), repo.ServiceID))
	if err != nil {
		return nil, false, fmt.Errorf("read back repository %s/%s: %w", repo.Service, repo.ServiceID, err)
	}

	return stored, rows > 0, nil
}

// GetByID retrieves a repository by id. Returns nil, nil if it does not exist.
func (r *RepoRepo) GetByID(ctx context.Context, id int64) (*model.Repository, error) {
	const query = `SELECT ` + repoColumns + ` FROM repositories WHERE id = ?`
	return r.getOne(ctx, fmt.Sprintf("repository %d", id), query, id)
}

// GetByServiceID retrieves a repository by its provider-native id.
// Returns nil, nil if it does not exist.
func (r *RepoRepo) GetByServiceID(ctx context.Context, service model.Service, serviceID string) (*model.Repository, error) {
	const query = `SELECT ` + repoColumns + ` FROM repositories WHERE service = ? AND service_id = ?`
	return r.getOne(ctx, fmt.Sprintf("repository %s/%s", service, serviceID), query, string(service), serviceID)
}

// GetByName retrieves a repository by owner and current name.
// Returns nil, nil if it does not exist.
func (r *RepoRepo) GetByName(ctx context.Context, ownerID int64, name string) (*model.Repository, error) {
	const query = `SELECT ` + repoColumns + ` FROM repositories WHERE owner_id = ? AND name = ? ORDER BY deleted, id LIMIT 1`
	return r.getOne(ctx, fmt.Sprintf("repository %d/%s", ownerID, name), query, ownerID, name)
}

// ListByOwner returns the owner's repositories ordered by name.
func (r *RepoRepo) ListByOwner(ctx context.Context, ownerID int64) ([]model.Repository, error) {
	const query = `SELECT ` + repoColumns + ` FROM repositories WHERE owner_id = ? ORDER BY name`

	rows, err := r.db.Reader.QueryContext(ctx, query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list repositories for owner %d: %w", ownerID, err)
	}
	defer rows.Close()

	var repos []model.Repository
	for rows.Next() {
		repo, err := scanRepository(rows)
		if err != nil {
			return nil, fmt.Errorf("scan repository: %w", err)
		}
		repos = append(repos, *repo)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate repositories: %w", err)
	}

	return repos, nil
}

// Rename updates the repository name.
func (r *RepoRepo) Rename(ctx context.Context, id int64, name string) error {
	const query = `UPDATE repositories SET name = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`
	return r.update(ctx, id, "rename", query, name, id)
}

// Transfer moves the repository under another owner, optionally renaming it.
func (r *RepoRepo) Transfer(ctx context.Context, id, ownerID int64, name string) error {
	const query = `UPDATE repositories SET owner_id = ?, name = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`
	return r.update(ctx, id, "transfer", query, ownerID, name, id)
}

// SetPrivate updates the repository visibility.
func (r *RepoRepo) SetPrivate(ctx context.Context, id int64, private bool) error {
	const query = `UPDATE repositories SET private = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`
	return r.update(ctx, id, "set visibility", query, boolToInt(private), id)
}

// SetDefaultBranch updates the repository default branch.
func (r *RepoRepo) SetDefaultBranch(ctx context.Context, id int64, branch string) error {
	const query = `UPDATE repositories SET default_branch = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`
	return r.update(ctx, id, "set default branch", query, branch, id)
}

// Deactivate turns the repository off, marking it deleted when requested.
func (r *RepoRepo) Deactivate(ctx context.Context, id int64, deleted bool) error {
	const query = `
		UPDATE repositories
		SET active = 0, activated = 0, deleted = MAX(deleted, ?), updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`
	return r.update(ctx, id, "deactivate", query, boolToInt(deleted), id)
}

func (r *RepoRepo) update(ctx context.Context, id int64, op, query string, args ...any) error {
	result, err := r.db.Writer.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s repository %d: %w", op, id, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}

	if rows == 0 {
		return fmt.Errorf("%s repository %d: %w", op, id, driven.ErrRepoNotFound)
	}

	return nil
}

func (r *RepoRepo) getOne(ctx context.Context, label, query string, args ...any) (*model.Repository, error) {
	repo, err := scanRepository(r.db.Reader.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", label, err)
	}
	return repo, nil
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanRepository(s scanner) (*model.Repository, error) {
	var (
		repo                 model.Repository
		service              string
		secret               sql.NullString
		createdAt, updatedAt string
	)

	err := s.Scan(
		&repo.ID, &repo.OwnerID, &service, &repo.ServiceID, &repo.Name,
		&repo.Private, &repo.Active, &repo.Activated, &repo.Deleted,
		&repo.DefaultBranch, &repo.HookID, &secret, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	repo.Service = model.Service(service)
	repo.WebhookSecret = stringPtr(secret)

	if repo.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if repo.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}

	return &repo, nil
}

// parseTime tries multiple SQLite datetime formats.
func parseTime(s string) (time.Time, error) {
	formats := []string{
		"2006-01-02T15:04:05Z",
		"2006-01-02 15:04:05",
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05.000",
		time.RFC3339,
		time.RFC3339Nano,
	}

	for _, format := range formats {
		if t, err := time.Parse(format, s); err == nil {
			return t, nil
		}
	}

	return time.Time{}, fmt.Errorf("unrecognized time format: %s", s)
}
