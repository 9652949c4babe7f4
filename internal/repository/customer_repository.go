package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/storesync/client/internal/localstore"
	"github.com/storesync/client/internal/models"
)

// CustomerRepository serves customer reads and writes from the active
// backend.
type CustomerRepository struct {
	store    localstore.Store
	remote   RemoteAPI
	selector SourceSelector
	log      *zap.Logger
}

// NewCustomerRepository creates a new CustomerRepository.
func NewCustomerRepository(store localstore.Store, remoteAPI RemoteAPI, selector SourceSelector, log *zap.Logger) *CustomerRepository {
	return &CustomerRepository{store: store, remote: remoteAPI, selector: selector, log: log}
}

const customerColumns = `id, first_name, last_name, email, phone, is_active, created_at, updated_at`

func (r *CustomerRepository) List(ctx context.Context) ([]*models.Customer, error) {
	if r.selector.DataSource() == models.DataSourceRemote {
		records, err := r.remote.List(ctx, "customers")
		if err == nil {
			customers := make([]*models.Customer, 0, len(records))
			for _, record := range records {
				customers = append(customers, customerFromRecord(record))
			}
			return customers, nil
		}
		if !shouldFallBack(err) {
			return nil, err
		}
		logFallback(r.log, "customers", "list", err)
	}

	rows, err := r.store.Query(ctx,
		`SELECT `+customerColumns+` FROM customers WHERE is_deleted = $1 ORDER BY first_name, last_name`, false)
	if err != nil {
		return nil, err
	}
	customers := make([]*models.Customer, 0, len(rows))
	for _, row := range rows {
		customers = append(customers, customerFromRow(row))
	}
	return customers, nil
}

func (r *CustomerRepository) GetByID(ctx context.Context, id string) (*models.Customer, error) {
	if r.selector.DataSource() == models.DataSourceRemote {
		record, err := r.remote.Get(ctx, "customers", id)
		if err == nil {
			if record == nil {
				return nil, nil
			}
			return customerFromRecord(record), nil
		}
		if !shouldFallBack(err) {
			return nil, err
		}
		logFallback(r.log, "customers", "get", err)
	}

	rows, err := r.store.Query(ctx,
		`SELECT `+customerColumns+` FROM customers WHERE id = $1 AND is_deleted = $2`, id, false)
	if err != nil || len(rows) == 0 {
		return nil, err
	}
	return customerFromRow(rows[0]), nil
}

func (r *CustomerRepository) Create(ctx context.Context, customer *models.Customer) (*models.Customer, error) {
	if customer.ID == "" {
		customer.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	customer.CreatedAt = now
	customer.UpdatedAt = now

	if r.selector.DataSource() == models.DataSourceRemote {
		record, err := r.remote.Create(ctx, "customers", customer)
		if err == nil {
			created := customerFromRecord(record)
			if werr := r.writeLocal(ctx, created, models.SyncStatusSynced); werr != nil {
				r.log.Warn("failed to mirror customer into replica", zap.Error(werr))
			}
			return created, nil
		}
		if !shouldFallBack(err) {
			return nil, err
		}
		logFallback(r.log, "customers", "create", err)
	}

	if err := r.writeLocal(ctx, customer, models.SyncStatusPending); err != nil {
		return nil, err
	}
	return customer, nil
}

func (r *CustomerRepository) Update(ctx context.Context, customer *models.Customer) (*models.Customer, error) {
	customer.UpdatedAt = time.Now().UTC()

	if r.selector.DataSource() == models.DataSourceRemote {
		record, err := r.remote.Update(ctx, "customers", customer.ID, customer)
		if err == nil {
			updated := customerFromRecord(record)
			if werr := r.writeLocal(ctx, updated, models.SyncStatusSynced); werr != nil {
				r.log.Warn("failed to mirror customer into replica", zap.Error(werr))
			}
			return updated, nil
		}
		if !shouldFallBack(err) {
			return nil, err
		}
		logFallback(r.log, "customers", "update", err)
	}

	if err := r.writeLocal(ctx, customer, models.SyncStatusPending); err != nil {
		return nil, err
	}
	return customer, nil
}

func (r *CustomerRepository) Delete(ctx context.Context, id string) error {
	status := models.SyncStatusPending
	if r.selector.DataSource() == models.DataSourceRemote {
		err := r.remote.Delete(ctx, "customers", id)
		if err == nil {
			status = models.SyncStatusSynced
		} else if !shouldFallBack(err) {
			return err
		} else {
			logFallback(r.log, "customers", "delete", err)
		}
	}
	return r.store.Execute(ctx,
		`UPDATE customers SET is_deleted = $1, sync_status = $2, updated_at = $3 WHERE id = $4`,
		true, status, time.Now().UTC(), id)
}

func (r *CustomerRepository) writeLocal(ctx context.Context, customer *models.Customer, status models.SyncStatus) error {
	statement := `
		INSERT INTO customers (id, first_name, last_name, email, phone, is_active, created_at, updated_at, sync_status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			first_name = excluded.first_name,
			last_name = excluded.last_name,
			email = excluded.email,
			phone = excluded.phone,
			is_active = excluded.is_active,
			updated_at = excluded.updated_at,
			sync_status = excluded.sync_status
	`
	return r.store.Execute(ctx, statement,
		customer.ID, customer.FirstName, customer.LastName, customer.Email,
		customer.Phone, customer.IsActive, customer.CreatedAt, customer.UpdatedAt, status,
	)
}

func customerFromRow(row localstore.Row) *models.Customer {
	return &models.Customer{
		ID:        rowString(row, "id"),
		FirstName: rowString(row, "first_name"),
		LastName:  rowString(row, "last_name"),
		Email:     rowString(row, "email"),
		Phone:     rowString(row, "phone"),
		IsActive:  rowBool(row, "is_active"),
		CreatedAt: rowTime(row, "created_at"),
		UpdatedAt: rowTime(row, "updated_at"),
	}
}

func customerFromRecord(record models.Record) *models.Customer {
	return &models.Customer{
		ID:        recordString(record, "id"),
		FirstName: recordString(record, "firstName"),
		LastName:  recordString(record, "lastName"),
		Email:     recordString(record, "email"),
		Phone:     recordString(record, "phone"),
		IsActive:  recordBool(record, "isActive"),
		CreatedAt: recordTime(record, "createdAt"),
		UpdatedAt: recordTime(record, "updatedAt"),
	}
}
