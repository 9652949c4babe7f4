package repository

import (
	"context"
	"time"

	"github.com/storesync/client/internal/localstore"
)

// SettingLastFullSync records when the last full sync completed.
const SettingLastFullSync = "sync.last_full"

// SettingsRepository persists small key/value state in the local
// replica. It backs the manual datasource override and sync
// bookkeeping.
type SettingsRepository struct {
	store localstore.Store
}

// NewSettingsRepository creates a new SettingsRepository.
func NewSettingsRepository(store localstore.Store) *SettingsRepository {
	return &SettingsRepository{store: store}
}

func (r *SettingsRepository) Get(ctx context.Context, key string) (string, error) {
	rows, err := r.store.Query(ctx, `SELECT value FROM settings WHERE key = $1`, key)
	if err != nil {
		return "", err
	}
	if len(rows) == 0 {
		return "", nil
	}
	value, _ := rows[0]["value"].(string)
	return value, nil
}

func (r *SettingsRepository) Set(ctx context.Context, key, value string) error {
	statement := `
		INSERT INTO settings (key, value, updated_at) VALUES ($1, $2, $3)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`
	return r.store.Execute(ctx, statement, key, value, time.Now().UTC())
}

func (r *SettingsRepository) GetAll(ctx context.Context) (map[string]string, error) {
	rows, err := r.store.Query(ctx, `SELECT key, value FROM settings`)
	if err != nil {
		return nil, err
	}
	result := make(map[string]string, len(rows))
	for _, row := range rows {
		key, _ := row["key"].(string)
		value, _ := row["value"].(string)
		result[key] = value
	}
	return result, nil
}

// GetTime parses a stored RFC3339 timestamp. A missing or empty value
// returns the zero time without error.
func (r *SettingsRepository) GetTime(ctx context.Context, key string) (time.Time, error) {
	value, err := r.Get(ctx, key)
	if err != nil || value == "" {
		return time.Time{}, err
	}
	return time.Parse(time.RFC3339Nano, value)
}

// SetTime stores a timestamp in RFC3339 form.
func (r *SettingsRepository) SetTime(ctx context.Context, key string, t time.Time) error {
	return r.Set(ctx, key, t.UTC().Format(time.RFC3339Nano))
}
