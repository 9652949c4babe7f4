// Package syncengine reconciles the local replica with the remote
// server, table by table in foreign-key dependency order.
package syncengine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/storesync/client/internal/connectivity"
	"github.com/storesync/client/internal/localstore"
	"github.com/storesync/client/internal/models"
	"github.com/storesync/client/internal/observability"
	"github.com/storesync/client/internal/repository"
)

// SyncRemote is the slice of the remote client the engine uses.
type SyncRemote interface {
	UploadRecords(ctx context.Context, table string, records []models.Record) (*models.UploadResponse, error)
	DownloadRecords(ctx context.Context, table string, limit, offset int) (*models.DownloadResponse, error)
}

var (
	// ErrSyncInProgress is returned when a sync is requested while one
	// is already running. Requests are rejected, never queued.
	ErrSyncInProgress = errors.New("synchronization already in progress")
	// ErrServerUnreachable is returned when the pre-sync reachability
	// probe fails.
	ErrServerUnreachable = errors.New("server unreachable")
)

// errDeferred marks a record held back for the deferred insert pass.
var errDeferred = errors.New("deferred")

// Engine synchronizes the table set bidirectionally. Upload runs
// before download within each table so locally pending changes are not
// clobbered by the server copy.
type Engine struct {
	store    localstore.Store
	remote   SyncRemote
	checker  *connectivity.Checker
	settings *repository.SettingsRepository
	tables   []Table
	log      *zap.Logger

	batchSize int
	pageSize  int
	onSummary func(models.SyncSummary)

	mu       sync.Mutex
	inFlight bool
}

// EngineOption customizes an Engine.
type EngineOption func(*Engine)

// WithTables replaces the default table set.
func WithTables(tables []Table) EngineOption {
	return func(e *Engine) { e.tables = tables }
}

// WithBatchSize sets the upload batch size.
func WithBatchSize(n int) EngineOption {
	return func(e *Engine) {
		if n > 0 {
			e.batchSize = n
		}
	}
}

// WithPageSize sets the download page size.
func WithPageSize(n int) EngineOption {
	return func(e *Engine) {
		if n > 0 {
			e.pageSize = n
		}
	}
}

// WithOnSummary registers a hook invoked after every completed run.
func WithOnSummary(fn func(models.SyncSummary)) EngineOption {
	return func(e *Engine) { e.onSummary = fn }
}

// NewEngine creates an Engine over the default table set.
func NewEngine(store localstore.Store, remoteAPI SyncRemote, checker *connectivity.Checker, settings *repository.SettingsRepository, log *zap.Logger, opts ...EngineOption) *Engine {
	e := &Engine{
		store:     store,
		remote:    remoteAPI,
		checker:   checker,
		settings:  settings,
		tables:    DefaultTables,
		log:       log,
		batchSize: 100,
		pageSize:  500,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// InProgress reports whether a sync run is currently executing.
func (e *Engine) InProgress() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.inFlight
}

func (e *Engine) begin() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.inFlight {
		return false
	}
	e.inFlight = true
	return true
}

func (e *Engine) end() {
	e.mu.Lock()
	e.inFlight = false
	e.mu.Unlock()
}

// SyncAll runs a full bidirectional sync over every table in
// dependency order. Foreign-key enforcement is relaxed for the
// duration and restored on every exit path.
func (e *Engine) SyncAll(ctx context.Context) (*models.SyncSummary, error) {
	if !e.begin() {
		return nil, ErrSyncInProgress
	}
	defer e.end()

	ctx, span := observability.StartSpan(ctx, "sync.full")
	defer span.End()

	probe := e.checker.Check(ctx)
	if !probe.IsOnline {
		err := fmt.Errorf("%w: %s", ErrServerUnreachable, probe.Error)
		observability.RecordError(span, err)
		return nil, err
	}

	started := time.Now()
	e.log.Info("full sync started")

	if err := e.store.SetForeignKeys(ctx, false); err != nil {
		return nil, fmt.Errorf("relaxing foreign keys: %w", err)
	}
	defer func() {
		// Restore with a fresh context so cancellation cannot leave
		// enforcement off.
		restoreCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := e.store.SetForeignKeys(restoreCtx, true); err != nil {
			e.log.Error("failed to restore foreign key enforcement", zap.Error(err))
		}
	}()

	summary := &models.SyncSummary{}
	for _, table := range Order(e.tables, e.log) {
		result := e.syncTable(ctx, table, models.DirectionBoth)
		summary.Tables = append(summary.Tables, *result)
		if ctx.Err() != nil {
			break
		}
	}
	summary.Finalize(started)
	span.SetAttributes(
		attribute.Bool("sync.success", summary.Success),
		attribute.Int("sync.records", summary.RecordsProcessed),
		attribute.Int("sync.errors", summary.ErrorCount),
	)
	if summary.Success {
		observability.SetSuccess(span)
	}

	if err := e.settings.SetTime(ctx, repository.SettingLastFullSync, time.Now().UTC()); err != nil {
		e.log.Warn("failed to record last sync time", zap.Error(err))
	}

	e.log.Info("full sync finished",
		zap.Bool("success", summary.Success),
		zap.Int("records", summary.RecordsProcessed),
		zap.Int("errors", summary.ErrorCount),
		zap.Duration("duration", summary.Duration),
	)
	if e.onSummary != nil {
		e.onSummary(*summary)
	}
	return summary, nil
}

// SyncTable syncs a single table in the given direction. An empty
// direction means both halves. It shares the single-flight guard with
// SyncAll, so it is rejected while a full sync runs.
func (e *Engine) SyncTable(ctx context.Context, name string, direction models.SyncDirection) error {
	switch direction {
	case "":
		direction = models.DirectionBoth
	case models.DirectionUpload, models.DirectionDownload, models.DirectionBoth:
	default:
		return fmt.Errorf("unknown sync direction %q", direction)
	}

	var table *Table
	for i := range e.tables {
		if e.tables[i].Name == name {
			table = &e.tables[i]
			break
		}
	}
	if table == nil {
		return fmt.Errorf("unknown table %q", name)
	}

	if !e.begin() {
		return ErrSyncInProgress
	}
	defer e.end()

	probe := e.checker.Check(ctx)
	if !probe.IsOnline {
		return fmt.Errorf("%w: %s", ErrServerUnreachable, probe.Error)
	}

	if err := e.store.SetForeignKeys(ctx, false); err != nil {
		return fmt.Errorf("relaxing foreign keys: %w", err)
	}
	defer func() {
		restoreCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := e.store.SetForeignKeys(restoreCtx, true); err != nil {
			e.log.Error("failed to restore foreign key enforcement", zap.Error(err))
		}
	}()

	result := e.syncTable(ctx, *table, direction)
	if result.Failed() {
		return fmt.Errorf("sync of %s finished with %d errors: %s",
			name, len(result.Errors), strings.Join(result.Errors, "; "))
	}
	return nil
}

func (e *Engine) syncTable(ctx context.Context, table Table, direction models.SyncDirection) *models.TableSyncResult {
	ctx, span := observability.StartSpan(ctx, "sync.table",
		trace.WithAttributes(
			attribute.String("sync.table", table.Name),
			attribute.String("sync.direction", string(direction)),
		))
	defer span.End()

	result := &models.TableSyncResult{TableName: table.Name}

	if direction == models.DirectionUpload || direction == models.DirectionBoth {
		e.upload(ctx, table, result)
	}
	if direction == models.DirectionDownload || direction == models.DirectionBoth {
		e.download(ctx, table, result)
	}

	span.SetAttributes(attribute.Int("sync.errors", len(result.Errors)))
	if !result.Failed() {
		observability.SetSuccess(span)
	}
	e.log.Debug("table synced",
		zap.String("table", table.Name),
		zap.Int("processed", result.RecordsProcessed),
		zap.Int("errors", len(result.Errors)),
	)
	return result
}

// upload pushes every locally unconfirmed row (pending, error or
// conflict) in batches and marks confirmed rows synced. Failed
// batches keep their status for the next run.
func (e *Engine) upload(ctx context.Context, table Table, result *models.TableSyncResult) {
	rows, err := e.store.Query(ctx,
		fmt.Sprintf(`SELECT * FROM %s WHERE sync_status != $1`, table.Name),
		models.SyncStatusSynced)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("reading pending rows: %v", err))
		return
	}
	if len(rows) == 0 {
		return
	}

	for start := 0; start < len(rows); start += e.batchSize {
		stop := start + e.batchSize
		if stop > len(rows) {
			stop = len(rows)
		}
		batch := rows[start:stop]

		records := make([]models.Record, 0, len(batch))
		ids := make([]string, 0, len(batch))
		for _, row := range batch {
			record := recordFromRow(row)
			records = append(records, record)
			ids = append(ids, record.ID())
		}

		resp, err := e.remote.UploadRecords(ctx, table.Name, records)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("uploading batch: %v", err))
			return
		}

		if len(resp.Errors) > 0 {
			// The response does not identify which records were
			// rejected, so the whole batch keeps its status and is
			// retried on the next run instead of being confirmed.
			result.Errors = append(result.Errors, resp.Errors...)
			e.log.Warn("upload batch rejected, rows left unconfirmed",
				zap.String("table", table.Name),
				zap.Int("records", len(batch)),
				zap.Strings("errors", resp.Errors))
			continue
		}

		if err := e.markSynced(ctx, table.Name, ids); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("marking rows synced: %v", err))
			return
		}
		result.RecordsProcessed += len(batch)
		result.RecordsCreated += resp.Created
		result.RecordsUpdated += resp.Updated
	}
}

func (e *Engine) markSynced(ctx context.Context, table string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	marks := make([]string, len(ids))
	args := make([]any, 0, len(ids)+2)
	args = append(args, models.SyncStatusSynced, time.Now().UTC())
	for i, id := range ids {
		marks[i] = fmt.Sprintf("$%d", i+3)
		args = append(args, id)
	}
	statement := fmt.Sprintf(
		`UPDATE %s SET sync_status = $1, last_synced_at = $2 WHERE id IN (%s)`,
		table, strings.Join(marks, ", "))
	return e.store.Execute(ctx, statement, args...)
}

// download pulls every page for the table, then applies the records in
// two passes: the primary pass inserts what it can, and rows rejected
// for referential integrity are retried once after their dependencies
// have landed.
func (e *Engine) download(ctx context.Context, table Table, result *models.TableSyncResult) {
	var records []models.Record
	offset := 0
	for {
		resp, err := e.remote.DownloadRecords(ctx, table.Name, e.pageSize, offset)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("downloading page at %d: %v", offset, err))
			return
		}
		records = append(records, resp.Records...)
		if !resp.HasMore {
			break
		}
		if len(resp.Records) == 0 {
			// hasMore with an empty page would loop forever on the
			// same offset. Fail the table and move on.
			result.Errors = append(result.Errors,
				fmt.Sprintf("download page at %d claims more records but returned none", offset))
			return
		}
		offset += len(resp.Records)
	}
	if len(records) == 0 {
		return
	}

	records = orderRecords(records, table.SelfRefColumn)

	columns, err := e.store.Columns(ctx, table.Name)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("reading schema: %v", err))
		return
	}

	deferred := e.applyRecords(ctx, table, columns, records, result)
	if len(deferred) > 0 {
		e.log.Debug("retrying deferred records",
			zap.String("table", table.Name), zap.Int("count", len(deferred)))
		unresolved := e.applyRecords(ctx, table, columns, deferred, result)
		for _, record := range unresolved {
			result.Errors = append(result.Errors,
				fmt.Sprintf("record %s references rows that do not exist", record.ID()))
		}
	}
}

// applyRecords upserts records, returning those held back by
// constraint violations for a later pass.
func (e *Engine) applyRecords(ctx context.Context, table Table, columns []string, records []models.Record, result *models.TableSyncResult) []models.Record {
	var deferred []models.Record
	for _, record := range records {
		err := e.applyRecord(ctx, table, columns, record, result)
		switch {
		case err == nil:
		case errors.Is(err, errDeferred):
			deferred = append(deferred, record)
		default:
			result.Errors = append(result.Errors,
				fmt.Sprintf("applying record %s: %v", record.ID(), err))
		}
	}
	return deferred
}

func (e *Engine) applyRecord(ctx context.Context, table Table, columns []string, record models.Record, result *models.TableSyncResult) error {
	id := record.ID()
	if id == "" {
		return fmt.Errorf("record has no id")
	}

	local, err := e.store.Query(ctx,
		fmt.Sprintf(`SELECT sync_status, updated_at FROM %s WHERE id = $1`, table.Name), id)
	if err != nil {
		return err
	}
	exists := len(local) > 0

	if record.IsDeleted() {
		if !exists {
			return nil
		}
		err := e.store.Execute(ctx,
			fmt.Sprintf(`UPDATE %s SET is_deleted = $1, sync_status = $2, last_synced_at = $3 WHERE id = $4`, table.Name),
			true, models.SyncStatusSynced, time.Now().UTC(), id)
		if err != nil {
			return err
		}
		result.RecordsProcessed++
		result.RecordsDeleted++
		return nil
	}

	if exists && rowSyncStatus(local[0]) == models.SyncStatusPending {
		// The row changed locally after the upload phase. Newer side
		// wins; a local win keeps the row pending for the next upload.
		localTime := parseAnyTime(local[0]["updated_at"])
		remoteTime := parseAnyTime(record["updated_at"])
		if !localTime.Before(remoteTime) {
			e.log.Debug("conflict resolved in favor of local row",
				zap.String("table", table.Name), zap.String("id", id))
			return nil
		}
	}

	filtered := filterToColumns(record, columns)
	filtered["id"] = id
	filtered["sync_status"] = string(models.SyncStatusSynced)
	filtered["last_synced_at"] = time.Now().UTC()

	keys := make([]string, 0, len(filtered))
	for key := range filtered {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	marks := make([]string, len(keys))
	updates := make([]string, 0, len(keys))
	args := make([]any, len(keys))
	for i, key := range keys {
		marks[i] = fmt.Sprintf("$%d", i+1)
		args[i] = filtered[key]
		if key != "id" {
			updates = append(updates, fmt.Sprintf("%s = excluded.%s", key, key))
		}
	}
	statement := fmt.Sprintf(
		`INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (id) DO UPDATE SET %s`,
		table.Name, strings.Join(keys, ", "), strings.Join(marks, ", "), strings.Join(updates, ", "))

	if err := e.store.Execute(ctx, statement, args...); err != nil {
		if e.store.IsConstraintViolation(err) {
			return fmt.Errorf("%w: %v", errDeferred, err)
		}
		return err
	}

	result.RecordsProcessed++
	if exists {
		result.RecordsUpdated++
	} else {
		result.RecordsCreated++
	}
	return nil
}

// Status reports per-table sync metadata derived from the replica.
func (e *Engine) Status(ctx context.Context) ([]models.TableSyncMetadata, error) {
	metadata := make([]models.TableSyncMetadata, 0, len(e.tables))
	for _, table := range e.tables {
		rows, err := e.store.Query(ctx, fmt.Sprintf(`
			SELECT
				COUNT(*) AS total,
				SUM(CASE WHEN sync_status != $1 THEN 1 ELSE 0 END) AS pending,
				MAX(last_synced_at) AS last_synced
			FROM %s WHERE is_deleted = $2`, table.Name),
			models.SyncStatusSynced, false)
		if err != nil {
			return nil, fmt.Errorf("inspecting %s: %w", table.Name, err)
		}

		meta := models.TableSyncMetadata{
			TableName:  table.Name,
			SyncStatus: string(models.SyncStatusSynced),
		}
		if len(rows) > 0 {
			meta.RecordCount = int(anyToInt(rows[0]["total"]))
			meta.PendingChanges = int(anyToInt(rows[0]["pending"]))
			if last := parseAnyTime(rows[0]["last_synced"]); !last.IsZero() {
				meta.LastSyncedAt = &last
			}
			if meta.PendingChanges > 0 {
				meta.SyncStatus = string(models.SyncStatusPending)
			}
		}
		metadata = append(metadata, meta)
	}
	return metadata, nil
}

// LastFullSync returns when the last full sync completed, or the zero
// time if none has.
func (e *Engine) LastFullSync(ctx context.Context) (time.Time, error) {
	return e.settings.GetTime(ctx, repository.SettingLastFullSync)
}

func rowSyncStatus(row localstore.Row) models.SyncStatus {
	s, _ := row["sync_status"].(string)
	return models.SyncStatus(s)
}

func anyToInt(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	}
	return 0
}

var engineTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05",
}

func parseAnyTime(v any) time.Time {
	switch t := v.(type) {
	case time.Time:
		return t
	case string:
		for _, layout := range engineTimeLayouts {
			if parsed, err := time.Parse(layout, t); err == nil {
				return parsed
			}
		}
	}
	return time.Time{}
}
