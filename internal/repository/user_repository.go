package repository

import (
	"context"
	"strings"
	"time"

	"github.com/storesync/client/internal/localstore"
	"github.com/storesync/client/internal/models"
)

// UserRepository reads and caches user accounts in the local replica.
// Credential rows written here are what offline login verifies against.
type UserRepository struct {
	store localstore.Store
}

// NewUserRepository creates a new UserRepository.
func NewUserRepository(store localstore.Store) *UserRepository {
	return &UserRepository{store: store}
}

const userColumns = `id, username, email, display_name, password_hash, role_id, is_active, created_at, updated_at`

func (r *UserRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	rows, err := r.store.Query(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1 AND is_deleted = $2`, id, false)
	if err != nil || len(rows) == 0 {
		return nil, err
	}
	return userFromRow(rows[0]), nil
}

// GetByIdentifier looks a user up by username or email, matching
// case-insensitively the way the server does.
func (r *UserRepository) GetByIdentifier(ctx context.Context, identifier string) (*models.User, error) {
	identifier = strings.ToLower(strings.TrimSpace(identifier))
	rows, err := r.store.Query(ctx,
		`SELECT `+userColumns+` FROM users
		 WHERE (LOWER(username) = $1 OR LOWER(email) = $1) AND is_deleted = $2`,
		identifier, false)
	if err != nil || len(rows) == 0 {
		return nil, err
	}
	return userFromRow(rows[0]), nil
}

// Upsert writes a user row, preserving an existing password hash when
// the incoming record carries none. Cached credentials survive profile
// refreshes that omit the hash.
func (r *UserRepository) Upsert(ctx context.Context, user *models.User) error {
	statement := `
		INSERT INTO users (id, username, email, display_name, password_hash, role_id, is_active, created_at, updated_at, sync_status, last_synced_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			username = excluded.username,
			email = excluded.email,
			display_name = excluded.display_name,
			password_hash = CASE WHEN excluded.password_hash = '' THEN users.password_hash ELSE excluded.password_hash END,
			role_id = excluded.role_id,
			is_active = excluded.is_active,
			updated_at = excluded.updated_at,
			sync_status = excluded.sync_status,
			last_synced_at = excluded.last_synced_at
	`
	now := time.Now().UTC()
	createdAt := user.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	return r.store.Execute(ctx, statement,
		user.ID, user.Username, user.Email, user.DisplayName, user.PasswordHash,
		user.RoleID, user.IsActive, createdAt, now, models.SyncStatusSynced, now,
	)
}

// GetRole fetches a role by id.
func (r *UserRepository) GetRole(ctx context.Context, id string) (*models.Role, error) {
	rows, err := r.store.Query(ctx,
		`SELECT id, name, permissions FROM roles WHERE id = $1 AND is_deleted = $2`, id, false)
	if err != nil || len(rows) == 0 {
		return nil, err
	}
	return &models.Role{
		ID:          rowString(rows[0], "id"),
		Name:        rowString(rows[0], "name"),
		Permissions: rowString(rows[0], "permissions"),
	}, nil
}

// SaveRole upserts a role row. Placeholder roles written during
// credential caching are replaced by real ones on the next sync.
func (r *UserRepository) SaveRole(ctx context.Context, role *models.Role) error {
	statement := `
		INSERT INTO roles (id, name, permissions, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			permissions = excluded.permissions,
			updated_at = excluded.updated_at
	`
	now := time.Now().UTC()
	return r.store.Execute(ctx, statement, role.ID, role.Name, role.Permissions, now, now)
}

func userFromRow(row localstore.Row) *models.User {
	return &models.User{
		ID:           rowString(row, "id"),
		Username:     rowString(row, "username"),
		Email:        rowString(row, "email"),
		DisplayName:  rowString(row, "display_name"),
		PasswordHash: rowString(row, "password_hash"),
		RoleID:       rowString(row, "role_id"),
		IsActive:     rowBool(row, "is_active"),
		CreatedAt:    rowTime(row, "created_at"),
		UpdatedAt:    rowTime(row, "updated_at"),
	}
}
