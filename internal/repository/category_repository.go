package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/storesync/client/internal/localstore"
	"github.com/storesync/client/internal/models"
)

// CategoryRepository serves category reads and writes from whichever
// backend is active. Local writes are marked pending so the next sync
// uploads them; remote writes are mirrored into the replica as synced.
type CategoryRepository struct {
	store    localstore.Store
	remote   RemoteAPI
	selector SourceSelector
	log      *zap.Logger
}

// NewCategoryRepository creates a new CategoryRepository.
func NewCategoryRepository(store localstore.Store, remoteAPI RemoteAPI, selector SourceSelector, log *zap.Logger) *CategoryRepository {
	return &CategoryRepository{store: store, remote: remoteAPI, selector: selector, log: log}
}

// List returns all active categories from the active source, falling
// back to the replica when the server misbehaves.
func (r *CategoryRepository) List(ctx context.Context) ([]*models.Category, error) {
	if r.selector.DataSource() == models.DataSourceRemote {
		records, err := r.remote.List(ctx, "categories")
		if err == nil {
			return categoriesFromRecords(records), nil
		}
		if !shouldFallBack(err) {
			return nil, err
		}
		logFallback(r.log, "categories", "list", err)
	}
	return r.listLocal(ctx)
}

func (r *CategoryRepository) listLocal(ctx context.Context) ([]*models.Category, error) {
	rows, err := r.store.Query(ctx, `
		SELECT id, name, description, parent_id, display_order, is_active, created_at, updated_at
		FROM categories WHERE is_deleted = $1 AND is_active = $2
		ORDER BY display_order, name`, false, true)
	if err != nil {
		return nil, err
	}
	categories := make([]*models.Category, 0, len(rows))
	for _, row := range rows {
		categories = append(categories, categoryFromRow(row))
	}
	return categories, nil
}

// GetTree returns the categories as a forest grouped by parent.
func (r *CategoryRepository) GetTree(ctx context.Context) ([]*models.Category, error) {
	flat, err := r.List(ctx)
	if err != nil {
		return nil, err
	}
	return models.BuildCategoryTree(flat), nil
}

func (r *CategoryRepository) GetByID(ctx context.Context, id string) (*models.Category, error) {
	if r.selector.DataSource() == models.DataSourceRemote {
		record, err := r.remote.Get(ctx, "categories", id)
		if err == nil {
			if record == nil {
				return nil, nil
			}
			return categoryFromRecord(record), nil
		}
		if !shouldFallBack(err) {
			return nil, err
		}
		logFallback(r.log, "categories", "get", err)
	}
	rows, err := r.store.Query(ctx, `
		SELECT id, name, description, parent_id, display_order, is_active, created_at, updated_at
		FROM categories WHERE id = $1 AND is_deleted = $2`, id, false)
	if err != nil || len(rows) == 0 {
		return nil, err
	}
	return categoryFromRow(rows[0]), nil
}

// Create stores a new category. Offline creations get a locally minted
// id and a pending status.
func (r *CategoryRepository) Create(ctx context.Context, category *models.Category) (*models.Category, error) {
	if category.ID == "" {
		category.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	category.CreatedAt = now
	category.UpdatedAt = now

	if r.selector.DataSource() == models.DataSourceRemote {
		record, err := r.remote.Create(ctx, "categories", category)
		if err == nil {
			created := categoryFromRecord(record)
			if werr := r.writeLocal(ctx, created, models.SyncStatusSynced); werr != nil {
				r.log.Warn("failed to mirror category into replica", zap.Error(werr))
			}
			return created, nil
		}
		if !shouldFallBack(err) {
			return nil, err
		}
		logFallback(r.log, "categories", "create", err)
	}

	if err := r.writeLocal(ctx, category, models.SyncStatusPending); err != nil {
		return nil, err
	}
	return category, nil
}

// Update overwrites a category.
func (r *CategoryRepository) Update(ctx context.Context, category *models.Category) (*models.Category, error) {
	category.UpdatedAt = time.Now().UTC()

	if r.selector.DataSource() == models.DataSourceRemote {
		record, err := r.remote.Update(ctx, "categories", category.ID, category)
		if err == nil {
			updated := categoryFromRecord(record)
			if werr := r.writeLocal(ctx, updated, models.SyncStatusSynced); werr != nil {
				r.log.Warn("failed to mirror category into replica", zap.Error(werr))
			}
			return updated, nil
		}
		if !shouldFallBack(err) {
			return nil, err
		}
		logFallback(r.log, "categories", "update", err)
	}

	if err := r.writeLocal(ctx, category, models.SyncStatusPending); err != nil {
		return nil, err
	}
	return category, nil
}

// Delete soft-deletes a category so the removal can propagate on the
// next sync.
func (r *CategoryRepository) Delete(ctx context.Context, id string) error {
	if r.selector.DataSource() == models.DataSourceRemote {
		err := r.remote.Delete(ctx, "categories", id)
		if err == nil {
			return r.store.Execute(ctx,
				`UPDATE categories SET is_deleted = $1, sync_status = $2, updated_at = $3 WHERE id = $4`,
				true, models.SyncStatusSynced, time.Now().UTC(), id)
		}
		if !shouldFallBack(err) {
			return err
		}
		logFallback(r.log, "categories", "delete", err)
	}
	return r.store.Execute(ctx,
		`UPDATE categories SET is_deleted = $1, sync_status = $2, updated_at = $3 WHERE id = $4`,
		true, models.SyncStatusPending, time.Now().UTC(), id)
}

func (r *CategoryRepository) writeLocal(ctx context.Context, category *models.Category, status models.SyncStatus) error {
	statement := `
		INSERT INTO categories (id, name, description, parent_id, display_order, is_active, created_at, updated_at, sync_status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			parent_id = excluded.parent_id,
			display_order = excluded.display_order,
			is_active = excluded.is_active,
			updated_at = excluded.updated_at,
			sync_status = excluded.sync_status
	`
	return r.store.Execute(ctx, statement,
		category.ID, category.Name, category.Description, category.ParentID,
		category.DisplayOrder, category.IsActive, category.CreatedAt, category.UpdatedAt, status,
	)
}

func categoryFromRow(row localstore.Row) *models.Category {
	return &models.Category{
		ID:           rowString(row, "id"),
		Name:         rowString(row, "name"),
		Description:  rowString(row, "description"),
		ParentID:     rowStringPtr(row, "parent_id"),
		DisplayOrder: rowInt(row, "display_order"),
		IsActive:     rowBool(row, "is_active"),
		CreatedAt:    rowTime(row, "created_at"),
		UpdatedAt:    rowTime(row, "updated_at"),
	}
}

func categoryFromRecord(record models.Record) *models.Category {
	c := &models.Category{
		ID:           recordString(record, "id"),
		Name:         recordString(record, "name"),
		Description:  recordString(record, "description"),
		DisplayOrder: recordInt(record, "displayOrder"),
		IsActive:     recordBool(record, "isActive"),
		CreatedAt:    recordTime(record, "createdAt"),
		UpdatedAt:    recordTime(record, "updatedAt"),
	}
	if parent := recordString(record, "parentId"); parent != "" {
		c.ParentID = &parent
	}
	return c
}

func categoriesFromRecords(records []models.Record) []*models.Category {
	out := make([]*models.Category, 0, len(records))
	for _, record := range records {
		out = append(out, categoryFromRecord(record))
	}
	return out
}
