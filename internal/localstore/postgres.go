package localstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
)

// PostgresStore backs the local replica with PostgreSQL, used where the
// embedding application already runs a local database server.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore connects using a standard connection string.
func NewPostgresStore(connStr string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}

	// session_replication_role is session-scoped and the sync engine
	// toggles it at runtime, so the pool must stay at one connection.
	db.SetMaxOpenConns(1)

	return &PostgresStore{db: db}, nil
}

// Initialize creates the schema if it does not exist yet.
func (s *PostgresStore) Initialize(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, postgresSchema)
	return err
}

func (s *PostgresStore) Query(ctx context.Context, statement string, args ...any) ([]Row, error) {
	rows, err := s.db.QueryContext(ctx, statement, args...)
	if err != nil {
		return nil, err
	}
	return scanRows(rows)
}

func (s *PostgresStore) Execute(ctx context.Context, statement string, args ...any) error {
	_, err := s.db.ExecContext(ctx, statement, args...)
	return err
}

// Transaction runs fn atomically, rolling back on error.
func (s *PostgresStore) Transaction(ctx context.Context, fn func(tx Querier) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	if err := fn(&sqlTx{tx: tx}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("tx err: %v, rollback err: %v", err, rbErr)
		}
		return err
	}
	return tx.Commit()
}

// SetForeignKeys toggles trigger-based constraint enforcement for the
// session. Postgres has no global foreign-key pragma, so the replica
// role trick serves the same scoped-relaxation purpose.
func (s *PostgresStore) SetForeignKeys(ctx context.Context, enabled bool) error {
	role := "replica"
	if enabled {
		role = "origin"
	}
	_, err := s.db.ExecContext(ctx, fmt.Sprintf("SET session_replication_role = %s", role))
	return err
}

// Columns lists the table's column names from the information schema.
func (s *PostgresStore) Columns(ctx context.Context, table string) ([]string, error) {
	rows, err := s.Query(ctx,
		`SELECT column_name FROM information_schema.columns WHERE table_name = $1 ORDER BY ordinal_position`,
		table,
	)
	if err != nil {
		return nil, err
	}

	columns := make([]string, 0, len(rows))
	for _, row := range rows {
		if name, ok := row["column_name"].(string); ok {
			columns = append(columns, name)
		}
	}
	return columns, nil
}

// IsConstraintViolation reports whether err belongs to the integrity
// violation class (SQLSTATE 23xxx).
func (s *PostgresStore) IsConstraintViolation(err error) bool {
	var perr *pq.Error
	return errors.As(err, &perr) && perr.Code.Class() == "23"
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

const postgresSchema = `
	CREATE TABLE IF NOT EXISTS roles (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		permissions TEXT,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		sync_status TEXT NOT NULL DEFAULT 'synced',
		last_synced_at TIMESTAMP,
		is_deleted BOOLEAN NOT NULL DEFAULT FALSE
	);

	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		username TEXT UNIQUE NOT NULL,
		email TEXT,
		display_name TEXT,
		password_hash TEXT NOT NULL DEFAULT '',
		role_id TEXT NOT NULL REFERENCES roles(id),
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		sync_status TEXT NOT NULL DEFAULT 'synced',
		last_synced_at TIMESTAMP,
		is_deleted BOOLEAN NOT NULL DEFAULT FALSE
	);

	CREATE INDEX IF NOT EXISTS idx_users_username ON users(username);
	CREATE INDEX IF NOT EXISTS idx_users_role_id ON users(role_id);

	CREATE TABLE IF NOT EXISTS categories (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		description TEXT,
		parent_id TEXT REFERENCES categories(id),
		display_order INTEGER NOT NULL DEFAULT 0,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		sync_status TEXT NOT NULL DEFAULT 'synced',
		last_synced_at TIMESTAMP,
		is_deleted BOOLEAN NOT NULL DEFAULT FALSE
	);

	CREATE INDEX IF NOT EXISTS idx_categories_parent_id ON categories(parent_id);

	CREATE TABLE IF NOT EXISTS products (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		sku TEXT UNIQUE,
		description TEXT,
		category_id TEXT REFERENCES categories(id),
		price DOUBLE PRECISION NOT NULL DEFAULT 0,
		stock_quantity INTEGER NOT NULL DEFAULT 0,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		sync_status TEXT NOT NULL DEFAULT 'synced',
		last_synced_at TIMESTAMP,
		is_deleted BOOLEAN NOT NULL DEFAULT FALSE
	);

	CREATE INDEX IF NOT EXISTS idx_products_category_id ON products(category_id);

	CREATE TABLE IF NOT EXISTS customers (
		id TEXT PRIMARY KEY,
		first_name TEXT NOT NULL,
		last_name TEXT,
		email TEXT,
		phone TEXT,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		sync_status TEXT NOT NULL DEFAULT 'synced',
		last_synced_at TIMESTAMP,
		is_deleted BOOLEAN NOT NULL DEFAULT FALSE
	);

	CREATE TABLE IF NOT EXISTS orders (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users(id),
		customer_id TEXT REFERENCES customers(id),
		status TEXT NOT NULL DEFAULT 'open',
		total DOUBLE PRECISION NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		sync_status TEXT NOT NULL DEFAULT 'synced',
		last_synced_at TIMESTAMP,
		is_deleted BOOLEAN NOT NULL DEFAULT FALSE
	);

	CREATE INDEX IF NOT EXISTS idx_orders_user_id ON orders(user_id);

	CREATE TABLE IF NOT EXISTS order_items (
		id TEXT PRIMARY KEY,
		order_id TEXT NOT NULL REFERENCES orders(id),
		product_id TEXT NOT NULL REFERENCES products(id),
		quantity INTEGER NOT NULL DEFAULT 1,
		unit_price DOUBLE PRECISION NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		sync_status TEXT NOT NULL DEFAULT 'synced',
		last_synced_at TIMESTAMP,
		is_deleted BOOLEAN NOT NULL DEFAULT FALSE
	);

	CREATE INDEX IF NOT EXISTS idx_order_items_order_id ON order_items(order_id);

	CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);
`
