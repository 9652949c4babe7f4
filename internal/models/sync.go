package models

import "time"

// SyncStatus tracks whether a local row has been confirmed by the remote side.
type SyncStatus string

const (
	SyncStatusPending  SyncStatus = "pending"
	SyncStatusSynced   SyncStatus = "synced"
	SyncStatusConflict SyncStatus = "conflict"
	SyncStatusError    SyncStatus = "error"
)

// SyncDirection selects which half of a table sync to run.
type SyncDirection string

const (
	DirectionUpload   SyncDirection = "upload"
	DirectionDownload SyncDirection = "download"
	DirectionBoth     SyncDirection = "both"
)

// Record is a generic table row as exchanged with the sync endpoints.
// Keys are column names; values are already-decoded JSON primitives.
type Record map[string]any

// ID returns the record's string id, or "" if absent.
func (r Record) ID() string {
	id, _ := r["id"].(string)
	return id
}

// IsDeleted reports whether the remote side flagged this record as deleted.
func (r Record) IsDeleted() bool {
	switch v := r["is_deleted"].(type) {
	case bool:
		return v
	case float64:
		return v != 0
	case int64:
		return v != 0
	case int:
		return v != 0
	}
	return false
}

// TableSyncMetadata is a derived, read-only view of a table's sync state.
type TableSyncMetadata struct {
	TableName      string     `json:"tableName"`
	LastSyncedAt   *time.Time `json:"lastSyncedAt,omitempty"`
	SyncStatus     string     `json:"syncStatus"`
	RecordCount    int        `json:"recordCount"`
	PendingChanges int        `json:"pendingChanges"`
}

// TableSyncResult reports one table's outcome within a sync run.
type TableSyncResult struct {
	TableName        string   `json:"tableName"`
	RecordsProcessed int      `json:"recordsProcessed"`
	RecordsCreated   int      `json:"recordsCreated"`
	RecordsUpdated   int      `json:"recordsUpdated"`
	RecordsDeleted   int      `json:"recordsDeleted"`
	Errors           []string `json:"errors,omitempty"`
}

// Failed reports whether any errors were collected for this table.
func (r *TableSyncResult) Failed() bool {
	return len(r.Errors) > 0
}

// SyncSummary aggregates per-table results for one sync invocation.
type SyncSummary struct {
	Success          bool              `json:"success"`
	StartedAt        time.Time         `json:"startedAt"`
	Duration         time.Duration     `json:"duration"`
	Tables           []TableSyncResult `json:"tables"`
	RecordsProcessed int               `json:"recordsProcessed"`
	ErrorCount       int               `json:"errorCount"`
}

// Finalize computes totals and the overall success flag.
func (s *SyncSummary) Finalize(startedAt time.Time) {
	s.StartedAt = startedAt
	s.Duration = time.Since(startedAt)
	s.RecordsProcessed = 0
	s.ErrorCount = 0
	for _, t := range s.Tables {
		s.RecordsProcessed += t.RecordsProcessed
		s.ErrorCount += len(t.Errors)
	}
	s.Success = s.ErrorCount == 0
}

// UploadRequest is the body POSTed to /api/sync/{table}/upload.
type UploadRequest struct {
	Records []Record `json:"records"`
}

// UploadResponse is returned by the upload endpoint.
type UploadResponse struct {
	Created int      `json:"created"`
	Updated int      `json:"updated"`
	Errors  []string `json:"errors,omitempty"`
}

// DownloadResponse is one page of /api/sync/{table}/download.
type DownloadResponse struct {
	Records    []Record `json:"records"`
	HasMore    bool     `json:"hasMore"`
	TotalCount int      `json:"totalCount"`
}
