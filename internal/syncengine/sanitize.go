package syncengine

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/storesync/client/internal/localstore"
	"github.com/storesync/client/internal/models"
)

// jsonColumns holds columns whose values are structured and travel as
// serialized JSON text.
var jsonColumns = map[string]bool{
	"permissions": true,
}

// localOnlyColumns never leave the device.
var localOnlyColumns = map[string]bool{
	"sync_status":    true,
	"last_synced_at": true,
}

// recordFromRow converts a stored row into a wire record. Timestamps
// become RFC3339 strings, booleans stay booleans, structured values
// outside the JSON column whitelist are dropped.
func recordFromRow(row localstore.Row) models.Record {
	record := make(models.Record, len(row))
	for column, value := range row {
		if localOnlyColumns[column] {
			continue
		}
		sanitized, ok := sanitizeForUpload(column, value)
		if !ok {
			continue
		}
		record[column] = sanitized
	}
	return record
}

func sanitizeForUpload(column string, value any) (any, bool) {
	switch v := value.(type) {
	case nil:
		return nil, true
	case time.Time:
		return v.UTC().Format(time.RFC3339Nano), true
	case []byte:
		return string(v), true
	case string, bool, int, int64, float64:
		return v, true
	case map[string]any, []any:
		if !jsonColumns[column] {
			return nil, false
		}
		data, err := json.Marshal(v)
		if err != nil {
			return nil, false
		}
		return string(data), true
	default:
		return fmt.Sprintf("%v", v), true
	}
}

// sanitizeForStore converts a wire value into something the SQL driver
// accepts. Structured values in whitelisted columns are serialized;
// others are dropped by returning ok=false.
func sanitizeForStore(column string, value any) (any, bool) {
	switch v := value.(type) {
	case map[string]any, []any:
		if !jsonColumns[column] {
			return nil, false
		}
		data, err := json.Marshal(v)
		if err != nil {
			return nil, false
		}
		return string(data), true
	default:
		return v, true
	}
}

// filterToColumns keeps only keys that exist as columns in the target
// table, sanitizing values along the way.
func filterToColumns(record models.Record, columns []string) models.Record {
	allowed := make(map[string]bool, len(columns))
	for _, c := range columns {
		allowed[c] = true
	}
	filtered := make(models.Record, len(record))
	for key, value := range record {
		if !allowed[key] {
			continue
		}
		sanitized, ok := sanitizeForStore(key, value)
		if !ok {
			continue
		}
		filtered[key] = sanitized
	}
	return filtered
}
