package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ericfisherdev/coverhook/internal/domain/model"
	"github.com/ericfisherdev/coverhook/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.OwnerStore = (*OwnerRepo)(nil)

// Set-valued owner columns. Only these names are interpolated into SQL.
const (
	colActivatedUsers = "plan_activated_users"
	colOrganizations  = "organizations"
	colAdmins         = "admins"
	colPermission     = "permission"
)

const ownerColumns = `id, service, service_id, username, plan, plan_auto_activate, plan_user_count,
	plan_activated_users, organizations, admins, permission, integration_id, oauth_token,
	created_at, updated_at`

// OwnerRepo is the SQLite implementation of the OwnerStore port interface.
// OAuth tokens are encrypted with AES-256-GCM before write and decrypted after read.
type OwnerRepo struct {
	db     *DB
	cipher tokenCipher
}

// NewOwnerRepo creates a new OwnerRepo. key must be 32 bytes for AES-256-GCM,
// or nil when owners are stored without OAuth tokens.
func NewOwnerRepo(db *DB, key []byte) *OwnerRepo {
	return &OwnerRepo{db: db, cipher: tokenCipher{key: key}}
}

// Upsert inserts the owner or refreshes the profile columns of the existing
// (service, service_id) row. Set columns are seeded on insert only; an empty
// token keeps the stored one.
func (r *OwnerRepo) Upsert(ctx context.Context, owner model.Owner) (*model.Owner, error) {
	const query = `
		INSERT INTO owners (
			service, service_id, username, plan, plan_auto_activate, plan_user_count,
			plan_activated_users, organizations, admins, permission, integration_id, oauth_token
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(service, service_id) DO UPDATE SET
			username = excluded.username,
			plan = excluded.plan,
			plan_auto_activate = excluded.plan_auto_activate,
			plan_user_count = excluded.plan_user_count,
			integration_id = excluded.integration_id,
			oauth_token = CASE WHEN excluded.oauth_token = '' THEN owners.oauth_token ELSE excluded.oauth_token END,
			updated_at = CURRENT_TIMESTAMP
	`

	token, err := r.cipher.seal(owner.OAuthToken)
	if err != nil {
		return nil, fmt.Errorf("seal token for owner %s/%s: %w", owner.Service, owner.ServiceID, err)
	}

	sets := make([]string, 0, 4)
	for _, s := range []model.IDSet{owner.PlanActivatedUsers, owner.Organizations, owner.Admins, owner.Permission} {
		encoded, err := encodeIDSet(s)
		if err != nil {
			return nil, err
		}
		sets = append(sets, encoded)
	}

	_, err = r.db.Writer.ExecContext(ctx, query,
		string(owner.Service), owner.ServiceID, owner.Username, owner.Plan,
		boolToInt(owner.PlanAutoActivate), owner.PlanUserCount,
		sets[0], sets[1], sets[2], sets[3],
		nullInt64(owner.IntegrationID), token,
	)
	if err != nil {
		return nil, fmt.Errorf("upsert owner %s/%s: %w", owner.Service, owner.ServiceID, err)
	}

	const readBack = `SELECT ` + ownerColumns + ` FROM owners WHERE service = ? AND service_id = ?`
	stored, err := r.scanOwner(r.db.Writer.QueryRowContext(ctx, readBack, string(owner.Service), owner.ServiceID))
	if err != nil {
		return nil, fmt.Errorf("read back owner %s/%s: %w", owner.Service, owner.ServiceID, err)
	}
	return stored, nil
}

// GetByID retrieves an owner by id. Returns nil, nil if it does not exist.
func (r *OwnerRepo) GetByID(ctx context.Context, id int64) (*model.Owner, error) {
	const query = `SELECT ` + ownerColumns + ` FROM owners WHERE id = ?`
	return r.getOne(ctx, fmt.Sprintf("owner %d", id), query, id)
}

// GetByServiceID retrieves an owner by its provider-native id.
// Returns nil, nil if it does not exist.
func (r *OwnerRepo) GetByServiceID(ctx context.Context, service model.Service, serviceID string) (*model.Owner, error) {
	const query = `SELECT ` + ownerColumns + ` FROM owners WHERE service = ? AND service_id = ?`
	return r.getOne(ctx, fmt.Sprintf("owner %s/%s", service, serviceID), query, string(service), serviceID)
}

// GetByUsername retrieves an owner by username. Returns nil, nil if it does not exist.
func (r *OwnerRepo) GetByUsername(ctx context.Context, service model.Service, username string) (*model.Owner, error) {
	const query = `SELECT ` + ownerColumns + ` FROM owners WHERE service = ? AND username = ? ORDER BY id LIMIT 1`
	return r.getOne(ctx, fmt.Sprintf("owner %s/%s", service, username), query, string(service), username)
}

// SetIntegration stores or clears the installed app id of the owner.
func (r *OwnerRepo) SetIntegration(ctx context.Context, ownerID int64, integrationID *int64) error {
	const query = `UPDATE owners SET integration_id = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`

	result, err := r.db.Writer.ExecContext(ctx, query, nullInt64(integrationID), ownerID)
	if err != nil {
		return fmt.Errorf("set integration for owner %d: %w", ownerID, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("set integration for owner %d: %w", ownerID, driven.ErrOwnerNotFound)
	}
	return nil
}

// ActivateUser adds userID to plan_activated_users when there is room for it.
// The membership check and the insert run in one transaction, so concurrent
// activations never exceed capacity and never insert a user twice.
func (r *OwnerRepo) ActivateUser(ctx context.Context, ownerID, userID int64, capacity int) (bool, error) {
	activated := false
	err := r.mutateSet(ctx, ownerID, colActivatedUsers, func(set *model.IDSet) bool {
		if set.Contains(userID) {
			activated = true
			return false
		}
		if set.Len() >= capacity {
			return false
		}
		activated = set.Add(userID)
		return activated
	})
	if err != nil {
		return false, err
	}
	return activated, nil
}

// DeactivateUser removes userID from plan_activated_users.
func (r *OwnerRepo) DeactivateUser(ctx context.Context, ownerID, userID int64) error {
	return r.mutateSet(ctx, ownerID, colActivatedUsers, func(set *model.IDSet) bool { return set.Remove(userID) })
}

// AddAdmin adds userID to the owner's admins.
func (r *OwnerRepo) AddAdmin(ctx context.Context, ownerID, userID int64) error {
	return r.mutateSet(ctx, ownerID, colAdmins, func(set *model.IDSet) bool { return set.Add(userID) })
}

// RemoveAdmin removes userID from the owner's admins.
func (r *OwnerRepo) RemoveAdmin(ctx context.Context, ownerID, userID int64) error {
	return r.mutateSet(ctx, ownerID, colAdmins, func(set *model.IDSet) bool { return set.Remove(userID) })
}

// AddOrganization records that the owner is a member of orgID.
func (r *OwnerRepo) AddOrganization(ctx context.Context, ownerID, orgID int64) error {
	return r.mutateSet(ctx, ownerID, colOrganizations, func(set *model.IDSet) bool { return set.Add(orgID) })
}

// RemoveOrganization drops orgID from the owner's organizations.
func (r *OwnerRepo) RemoveOrganization(ctx context.Context, ownerID, orgID int64) error {
	return r.mutateSet(ctx, ownerID, colOrganizations, func(set *model.IDSet) bool { return set.Remove(orgID) })
}

// AddPermission caches that the owner may view repoID.
func (r *OwnerRepo) AddPermission(ctx context.Context, ownerID, repoID int64) error {
	return r.mutateSet(ctx, ownerID, colPermission, func(set *model.IDSet) bool { return set.Add(repoID) })
}

// RemovePermission drops repoID from the owner's cached permissions.
func (r *OwnerRepo) RemovePermission(ctx context.Context, ownerID, repoID int64) error {
	return r.mutateSet(ctx, ownerID, colPermission, func(set *model.IDSet) bool { return set.Remove(repoID) })
}

// mutateSet loads one set column, applies mutate and writes it back when
// mutate reports a change, all inside one writer transaction.
func (r *OwnerRepo) mutateSet(ctx context.Context, ownerID int64, column string, mutate func(*model.IDSet) bool) error {
	return r.db.inTx(ctx, func(tx *sql.Tx) error {
		var raw string
		err := tx.QueryRowContext(ctx, `SELECT `+column+` FROM owners WHERE id = ?`, ownerID).Scan(&raw)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("update %s for owner %d: %w", column, ownerID, driven.ErrOwnerNotFound)
		}
		if err != nil {
			return fmt.Errorf("read %s for owner %d: %w", column, ownerID, err)
		}

		set, err := decodeIDSet(raw)
		if err != nil {
			return fmt.Errorf("decode %s for owner %d: %w", column, ownerID, err)
		}

		if !mutate(&set) {
			return nil
		}

		encoded, err := encodeIDSet(set)
		if err != nil {
			return err
		}

		query := `UPDATE owners SET ` + column + ` = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`
		if _, err := tx.ExecContext(ctx, query, encoded, ownerID); err != nil {
			return fmt.Errorf("write %s for owner %d: %w", column, ownerID, err)
		}
		return nil
	})
}

func (r *OwnerRepo) getOne(ctx context.Context, label, query string, args ...any) (*model.Owner, error) {
	owner, err := r.scanOwner(r.db.Reader.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", label, err)
	}
	return owner, nil
}

func (r *OwnerRepo) scanOwner(s scanner) (*model.Owner, error) {
	var (
		owner                               model.Owner
		service                             string
		activated, orgs, admins, permission string
		integrationID                       sql.NullInt64
		token                               string
		createdAt, updatedAt                string
	)

	err := s.Scan(
		&owner.ID, &service, &owner.ServiceID, &owner.Username, &owner.Plan,
		&owner.PlanAutoActivate, &owner.PlanUserCount,
		&activated, &orgs, &admins, &permission, &integrationID, &token,
		&createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	owner.Service = model.Service(service)
	owner.IntegrationID = int64Ptr(integrationID)

	for _, col := range []struct {
		raw  string
		dest *model.IDSet
	}{
		{activated, &owner.PlanActivatedUsers},
		{orgs, &owner.Organizations},
		{admins, &owner.Admins},
		{permission, &owner.Permission},
	} {
		set, err := decodeIDSet(col.raw)
		if err != nil {
			return nil, fmt.Errorf("decode id set: %w", err)
		}
		*col.dest = set
	}

	owner.OAuthToken, err = r.cipher.open(token)
	if err != nil {
		return nil, fmt.Errorf("open token for owner %d: %w", owner.ID, err)
	}

	if owner.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if owner.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}

	return &owner, nil
}

// encodeIDSet serializes a set as a sorted JSON array.
func encodeIDSet(s model.IDSet) (string, error) {
	data, err := json.Marshal(s.Slice())
	if err != nil {
		return "", fmt.Errorf("marshal id set: %w", err)
	}
	return string(data), nil
}

func decodeIDSet(raw string) (model.IDSet, error) {
	if raw == "" {
		return model.IDSet{}, nil
	}
	var ids []int64
	if err := json.Unmarshal([]byte(raw), &ids); err != nil {
		return model.IDSet{}, err
	}
	return model.NewIDSet(ids...), nil
}
