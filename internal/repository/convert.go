package repository

import (
	"strconv"
	"time"

	"github.com/storesync/client/internal/localstore"
	"github.com/storesync/client/internal/models"
)

// Row value coercion helpers. The local store returns untyped maps and
// the two backends disagree on booleans (SQLite integers, Postgres
// booleans) and timestamps (strings vs time.Time), so every read path
// funnels through these.

func rowString(row localstore.Row, key string) string {
	switch v := row[key].(type) {
	case string:
		return v
	case []byte:
		return string(v)
	}
	return ""
}

func rowStringPtr(row localstore.Row, key string) *string {
	s := rowString(row, key)
	if s == "" {
		return nil
	}
	return &s
}

func rowBool(row localstore.Row, key string) bool {
	switch v := row[key].(type) {
	case bool:
		return v
	case int64:
		return v != 0
	case int:
		return v != 0
	case string:
		return v == "1" || v == "true"
	}
	return false
}

func rowInt(row localstore.Row, key string) int {
	switch v := row[key].(type) {
	case int64:
		return int(v)
	case int:
		return v
	case float64:
		return int(v)
	case string:
		n, _ := strconv.Atoi(v)
		return n
	}
	return 0
}

func rowFloat(row localstore.Row, key string) float64 {
	switch v := row[key].(type) {
	case float64:
		return v
	case int64:
		return float64(v)
	case string:
		f, _ := strconv.ParseFloat(v, 64)
		return f
	}
	return 0
}

// Record helpers mirror the row helpers for JSON-decoded remote
// payloads, where numbers arrive as float64 and keys are camelCase.

func recordString(record models.Record, key string) string {
	s, _ := record[key].(string)
	return s
}

func recordBool(record models.Record, key string) bool {
	b, _ := record[key].(bool)
	return b
}

func recordInt(record models.Record, key string) int {
	switch v := record[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return 0
}

func recordFloat(record models.Record, key string) float64 {
	switch v := record[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return 0
}

func recordTime(record models.Record, key string) time.Time {
	s, ok := record[key].(string)
	if !ok {
		return time.Time{}
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
}

func rowTime(row localstore.Row, key string) time.Time {
	switch v := row[key].(type) {
	case time.Time:
		return v
	case string:
		for _, layout := range timeLayouts {
			if t, err := time.Parse(layout, v); err == nil {
				return t
			}
		}
	}
	return time.Time{}
}
