package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/storesync/client/internal/localstore"
	"github.com/storesync/client/internal/models"
)

// ProductRepository serves product reads and writes from the active
// backend.
type ProductRepository struct {
	store    localstore.Store
	remote   RemoteAPI
	selector SourceSelector
	log      *zap.Logger
}

// NewProductRepository creates a new ProductRepository.
func NewProductRepository(store localstore.Store, remoteAPI RemoteAPI, selector SourceSelector, log *zap.Logger) *ProductRepository {
	return &ProductRepository{store: store, remote: remoteAPI, selector: selector, log: log}
}

const productColumns = `id, name, sku, description, category_id, price, stock_quantity, is_active, created_at, updated_at`

func (r *ProductRepository) List(ctx context.Context) ([]*models.Product, error) {
	if r.selector.DataSource() == models.DataSourceRemote {
		records, err := r.remote.List(ctx, "products")
		if err == nil {
			products := make([]*models.Product, 0, len(records))
			for _, record := range records {
				products = append(products, productFromRecord(record))
			}
			return products, nil
		}
		if !shouldFallBack(err) {
			return nil, err
		}
		logFallback(r.log, "products", "list", err)
	}

	rows, err := r.store.Query(ctx,
		`SELECT `+productColumns+` FROM products WHERE is_deleted = $1 ORDER BY name`, false)
	if err != nil {
		return nil, err
	}
	products := make([]*models.Product, 0, len(rows))
	for _, row := range rows {
		products = append(products, productFromRow(row))
	}
	return products, nil
}

func (r *ProductRepository) GetByID(ctx context.Context, id string) (*models.Product, error) {
	if r.selector.DataSource() == models.DataSourceRemote {
		record, err := r.remote.Get(ctx, "products", id)
		if err == nil {
			if record == nil {
				return nil, nil
			}
			return productFromRecord(record), nil
		}
		if !shouldFallBack(err) {
			return nil, err
		}
		logFallback(r.log, "products", "get", err)
	}

	rows, err := r.store.Query(ctx,
		`SELECT `+productColumns+` FROM products WHERE id = $1 AND is_deleted = $2`, id, false)
	if err != nil || len(rows) == 0 {
		return nil, err
	}
	return productFromRow(rows[0]), nil
}

func (r *ProductRepository) Create(ctx context.Context, product *models.Product) (*models.Product, error) {
	if product.ID == "" {
		product.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	product.CreatedAt = now
	product.UpdatedAt = now

	if r.selector.DataSource() == models.DataSourceRemote {
		record, err := r.remote.Create(ctx, "products", product)
		if err == nil {
			created := productFromRecord(record)
			if werr := r.writeLocal(ctx, created, models.SyncStatusSynced); werr != nil {
				r.log.Warn("failed to mirror product into replica", zap.Error(werr))
			}
			return created, nil
		}
		if !shouldFallBack(err) {
			return nil, err
		}
		logFallback(r.log, "products", "create", err)
	}

	if err := r.writeLocal(ctx, product, models.SyncStatusPending); err != nil {
		return nil, err
	}
	return product, nil
}

func (r *ProductRepository) Update(ctx context.Context, product *models.Product) (*models.Product, error) {
	product.UpdatedAt = time.Now().UTC()

	if r.selector.DataSource() == models.DataSourceRemote {
		record, err := r.remote.Update(ctx, "products", product.ID, product)
		if err == nil {
			updated := productFromRecord(record)
			if werr := r.writeLocal(ctx, updated, models.SyncStatusSynced); werr != nil {
				r.log.Warn("failed to mirror product into replica", zap.Error(werr))
			}
			return updated, nil
		}
		if !shouldFallBack(err) {
			return nil, err
		}
		logFallback(r.log, "products", "update", err)
	}

	if err := r.writeLocal(ctx, product, models.SyncStatusPending); err != nil {
		return nil, err
	}
	return product, nil
}

func (r *ProductRepository) Delete(ctx context.Context, id string) error {
	status := models.SyncStatusPending
	if r.selector.DataSource() == models.DataSourceRemote {
		err := r.remote.Delete(ctx, "products", id)
		if err == nil {
			status = models.SyncStatusSynced
		} else if !shouldFallBack(err) {
			return err
		} else {
			logFallback(r.log, "products", "delete", err)
		}
	}
	return r.store.Execute(ctx,
		`UPDATE products SET is_deleted = $1, sync_status = $2, updated_at = $3 WHERE id = $4`,
		true, status, time.Now().UTC(), id)
}

// AdjustStock applies a quantity delta locally, always as a pending
// change. Sales must work with the server unreachable.
func (r *ProductRepository) AdjustStock(ctx context.Context, id string, delta int) error {
	return r.store.Execute(ctx, `
		UPDATE products
		SET stock_quantity = stock_quantity + $1, sync_status = $2, updated_at = $3
		WHERE id = $4 AND is_deleted = $5`,
		delta, models.SyncStatusPending, time.Now().UTC(), id, false)
}

func (r *ProductRepository) writeLocal(ctx context.Context, product *models.Product, status models.SyncStatus) error {
	statement := `
		INSERT INTO products (id, name, sku, description, category_id, price, stock_quantity, is_active, created_at, updated_at, sync_status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			sku = excluded.sku,
			description = excluded.description,
			category_id = excluded.category_id,
			price = excluded.price,
			stock_quantity = excluded.stock_quantity,
			is_active = excluded.is_active,
			updated_at = excluded.updated_at,
			sync_status = excluded.sync_status
	`
	return r.store.Execute(ctx, statement,
		product.ID, product.Name, product.SKU, product.Description, product.CategoryID,
		product.Price, product.StockQuantity, product.IsActive,
		product.CreatedAt, product.UpdatedAt, status,
	)
}

func productFromRow(row localstore.Row) *models.Product {
	return &models.Product{
		ID:            rowString(row, "id"),
		Name:          rowString(row, "name"),
		SKU:           rowString(row, "sku"),
		Description:   rowString(row, "description"),
		CategoryID:    rowStringPtr(row, "category_id"),
		Price:         rowFloat(row, "price"),
		StockQuantity: rowInt(row, "stock_quantity"),
		IsActive:      rowBool(row, "is_active"),
		CreatedAt:     rowTime(row, "created_at"),
		UpdatedAt:     rowTime(row, "updated_at"),
	}
}

func productFromRecord(record models.Record) *models.Product {
	p := &models.Product{
		ID:            recordString(record, "id"),
		Name:          recordString(record, "name"),
		SKU:           recordString(record, "sku"),
		Description:   recordString(record, "description"),
		Price:         recordFloat(record, "price"),
		StockQuantity: recordInt(record, "stockQuantity"),
		IsActive:      recordBool(record, "isActive"),
		CreatedAt:     recordTime(record, "createdAt"),
		UpdatedAt:     recordTime(record, "updatedAt"),
	}
	if category := recordString(record, "categoryId"); category != "" {
		p.CategoryID = &category
	}
	return p
}
