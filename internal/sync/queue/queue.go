// Package queue provides the durable offline write queue.
//
// Writes made while offline are stored in the offline_queue table, their
// photos in a storage.BlobStore, and replayed against the remote service in
// enqueue order by Drain. A failed attempt is retried on later drains until
// MaxRetries attempts have failed; the item then stays in the table as
// failed.
package queue

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kimhsiao/storysync/internal/db"
	apperrors "github.com/kimhsiao/storysync/internal/errors"
	"github.com/kimhsiao/storysync/internal/events"
	"github.com/kimhsiao/storysync/internal/logging"
	"github.com/kimhsiao/storysync/internal/metrics"
	"github.com/kimhsiao/storysync/internal/models"
	"github.com/kimhsiao/storysync/internal/retry"
	"github.com/kimhsiao/storysync/internal/sync/storage"
	"github.com/kimhsiao/storysync/internal/uuid"
)

const (
	// DefaultMaxRetries is the number of failed attempts after which an item
	// becomes failed.
	DefaultMaxRetries = 3
	// DefaultMaxSize bounds the number of pending and failed items.
	DefaultMaxSize = 500
	// WakeTag is the background wake registered after every enqueue.
	WakeTag = "sync-new-stories"

	maxIDAttempts = 10
)

// Uploader sends a queued write to the remote service and returns the
// created story, which may be nil when the service does not echo it.
type Uploader interface {
	Upload(ctx context.Context, item *Item, photo []byte) (*models.Story, error)
}

// CacheMerger replaces the temporary Cache row of an uploaded item.
type CacheMerger interface {
	ReplaceCached(ctx context.Context, tempID string, story *models.Story) error
}

// Waker schedules a later drain. It must not block.
type Waker interface {
	RegisterWake(tag string)
}

// Deps are the collaborators of a Queue. Uploader and Merger are required
// for Drain; the rest are optional.
type Deps struct {
	DB        *db.DB
	Blobs     *storage.BlobStore
	Uploader  Uploader
	Merger    CacheMerger
	Publisher events.Publisher
	// Online reports connectivity; nil means always online.
	Online func() bool
	Waker  Waker
}

// Config tunes a Queue. Zero values take the defaults.
type Config struct {
	MaxRetries int
	MaxSize    int
}

// Queue is the offline write queue.
type Queue struct {
	db    *sql.DB
	blobs *storage.BlobStore
	deps  Deps
	cfg   Config
	now   func() time.Time

	draining atomic.Bool

	// inserting orders Enqueue against the pending read in Drain, so a
	// drained row always has its photo on disk.
	inserting sync.RWMutex

	// uploaded holds items the service accepted whose completion could not
	// be recorded yet. Later drains record them without uploading again.
	mu       sync.Mutex
	uploaded map[string]*models.Story
}

// New creates a Queue.
func New(deps Deps, cfg Config) *Queue {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = DefaultMaxSize
	}
	return &Queue{
		db:       deps.DB.DB,
		blobs:    deps.Blobs,
		deps:     deps,
		cfg:      cfg,
		now:      time.Now,
		uploaded: make(map[string]*models.Story),
	}
}

// SetClock replaces the clock used for temp ids and timestamps.
func (q *Queue) SetClock(now func() time.Time) {
	q.now = now
}

// IsDraining reports whether a drain is running.
func (q *Queue) IsDraining() bool {
	return q.draining.Load()
}

// Enqueue stores a write for later upload and returns the pending item. The
// photo, when present, is kept in the blob store under the item's temp id.
func (q *Queue) Enqueue(ctx context.Context, op Operation, payload Payload, photo []byte, useAuth bool) (*Item, error) {
	if op != OperationAdd {
		return nil, apperrors.New(apperrors.ErrInvalid, fmt.Sprintf("unsupported queue operation %q", op))
	}

	open, err := q.countOpen(ctx)
	if err != nil {
		return nil, apperrors.Storage("failed to check queue size", err)
	}
	if open >= q.cfg.MaxSize {
		return nil, apperrors.New(apperrors.ErrQueueFull, fmt.Sprintf("offline queue is full (max size: %d)", q.cfg.MaxSize))
	}

	now := q.now()
	if payload.CreatedAt == 0 {
		payload.CreatedAt = now.UnixMilli()
	}
	item := &Item{
		Operation:      op,
		Payload:        payload,
		UseAuth:        useAuth,
		IdempotencyKey: uuid.New(),
		Status:         StatusPending,
		MaxRetries:     q.cfg.MaxRetries,
		EnqueuedAt:     now,
		UpdatedAt:      now,
	}

	if err := q.insertWithFreshID(ctx, item, photo); err != nil {
		return nil, err
	}

	metrics.QueueEnqueuedTotal.Inc()
	logging.Info("Queued offline write", map[string]interface{}{
		"id":        item.ID,
		"operation": string(op),
		"has_photo": item.BinaryRef != "",
	})

	if q.deps.Waker != nil {
		q.deps.Waker.RegisterWake(WakeTag)
	}
	return item, nil
}

// insertWithFreshID assigns item a temp id and persists it. Temp ids carry
// only four random digits, so a collision is retried with a new suffix.
func (q *Queue) insertWithFreshID(ctx context.Context, item *Item, photo []byte) error {
	q.inserting.Lock()
	defer q.inserting.Unlock()

	var err error
	for attempt := 0; attempt < maxIDAttempts; attempt++ {
		item.ID = models.NewTempID(item.EnqueuedAt)
		err = q.insert(ctx, item, photo)
		if err == nil || !isUniqueViolation(err) {
			return err
		}
	}
	return apperrors.Storage("failed to allocate a temp id", err)
}

// insert claims item.ID with the row first and only then writes the photo,
// so a colliding id never touches another item's blob.
func (q *Queue) insert(ctx context.Context, item *Item, photo []byte) error {
	item.BinaryRef = ""
	if len(photo) > 0 {
		if q.blobs == nil {
			return apperrors.New(apperrors.ErrInternal, "no blob store configured for photos")
		}
		item.BinaryRef = item.ID
	}

	m, err := item.ToModel()
	if err != nil {
		return apperrors.Wrap(apperrors.ErrInternal, "failed to encode queue item", err)
	}

	query := `
	INSERT INTO offline_queue (id, type, payload, binary_ref, use_auth, idempotency_key,
		status, retries, max_retries, last_error, result_id, enqueued_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	res, err := q.db.ExecContext(ctx, query, m.ID, m.Operation, string(m.Payload), m.BinaryRef,
		m.UseAuth, m.IdempotencyKey, m.Status, m.RetryCount, m.MaxRetries, m.LastError,
		m.ResultID, m.EnqueuedAt, m.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return err
		}
		return apperrors.Storage("failed to persist queue item", err)
	}
	item.Seq, _ = res.LastInsertId()

	if item.BinaryRef == "" {
		return nil
	}
	if _, err := q.blobs.Put(item.BinaryRef, photo); err != nil {
		// the row owns this key now, so anything left under it is ours
		q.blobs.Delete(item.BinaryRef)
		if _, derr := q.db.ExecContext(ctx, "DELETE FROM offline_queue WHERE id = ?", item.ID); derr != nil {
			logging.Error("Failed to roll back queue item", derr, map[string]interface{}{
				"id": item.ID,
			})
		}
		return apperrors.Storage("failed to store photo offline", err)
	}
	return nil
}

// DrainResult summarizes a Drain call.
type DrainResult struct {
	// Skipped is set when another drain was running or the network is down.
	Skipped bool   `json:"skipped"`
	Reason  string `json:"reason,omitempty"`
	Total   int    `json:"total"`
	Success int    `json:"success"`
	Failed  int    `json:"failed"`
}

// Drain uploads every pending item in enqueue order, one at a time. It is a
// no-op while another drain runs or while offline. A failing item never
// stops the items after it; ctx is only checked between items.
func (q *Queue) Drain(ctx context.Context) (DrainResult, error) {
	if !q.draining.CompareAndSwap(false, true) {
		logging.Debug("Drain already in progress, skipping", nil)
		return DrainResult{Skipped: true, Reason: "in_progress"}, nil
	}
	defer q.draining.Store(false)

	if q.deps.Online != nil && !q.deps.Online() {
		return DrainResult{Skipped: true, Reason: "offline"}, nil
	}
	if q.deps.Uploader == nil {
		return DrainResult{}, apperrors.New(apperrors.ErrInternal, "queue has no uploader")
	}

	start := time.Now()
	q.inserting.RLock()
	items, err := q.Pending(ctx)
	q.inserting.RUnlock()
	if err != nil {
		return DrainResult{}, err
	}

	result := DrainResult{Total: len(items)}
	if result.Total == 0 {
		metrics.QueuePending.Set(0)
		return result, nil
	}

	logging.Info("Draining offline queue", map[string]interface{}{
		"total": result.Total,
	})
	q.publish(events.SyncStart{Total: result.Total})

	for i, item := range items {
		if ctx.Err() != nil {
			logging.Warn("Drain interrupted, remaining items stay pending", map[string]interface{}{
				"processed": i,
				"total":     result.Total,
			})
			break
		}

		if q.process(ctx, item) {
			result.Success++
		} else {
			result.Failed++
		}
		q.publish(events.SyncProgress{Current: i + 1, Total: result.Total})
	}

	q.publish(events.SyncComplete{Success: result.Success, Failed: result.Failed})
	metrics.DrainDuration.Observe(time.Since(start).Seconds())
	if stats, err := q.Stats(ctx); err == nil {
		metrics.QueuePending.Set(float64(stats.Pending))
	}

	logging.Info("Offline queue drained", map[string]interface{}{
		"total":       result.Total,
		"success":     result.Success,
		"failed":      result.Failed,
		"duration_ms": time.Since(start).Milliseconds(),
	})
	return result, nil
}

// process makes one upload attempt for item and records the outcome. An
// item whose upload already succeeded is only recorded, never re-sent.
func (q *Queue) process(ctx context.Context, item *Item) bool {
	story, done := q.takeUploaded(item.ID)
	if !done {
		var err error
		story, err = q.attempt(ctx, item)
		if err != nil {
			q.recordFailure(ctx, item, err)
			return false
		}
		q.merge(ctx, item, story)
	}

	item.Status = StatusCompleted
	item.LastError = ""
	if story != nil {
		item.ResultID = story.ID
	}
	if err := q.update(ctx, item); err != nil {
		logging.Error("Failed to mark queue item completed, will record on next drain", err, map[string]interface{}{
			"id":        item.ID,
			"result_id": item.ResultID,
		})
		q.rememberUploaded(item.ID, story)
		return true
	}
	metrics.RecordAttempt("completed")

	if item.BinaryRef != "" && q.blobs != nil {
		if err := q.blobs.Delete(item.BinaryRef); err != nil {
			logging.Warn("Failed to delete uploaded photo", map[string]interface{}{
				"id":    item.ID,
				"error": err.Error(),
			})
		}
	}

	logging.Info("Uploaded queued write", map[string]interface{}{
		"id":        item.ID,
		"result_id": item.ResultID,
	})
	return true
}

// merge swaps the pending Cache row for the server story and announces the
// upload.
func (q *Queue) merge(ctx context.Context, item *Item, story *models.Story) {
	if q.deps.Merger != nil {
		if err := q.deps.Merger.ReplaceCached(ctx, item.ID, story); err != nil {
			logging.Warn("Failed to replace pending cache entry", map[string]interface{}{
				"id":    item.ID,
				"error": err.Error(),
			})
		}
	}
	q.publish(events.EntityUploaded{TempID: item.ID, Story: story})
}

func (q *Queue) rememberUploaded(id string, story *models.Story) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.uploaded[id] = story
}

func (q *Queue) takeUploaded(id string) (*models.Story, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	story, ok := q.uploaded[id]
	delete(q.uploaded, id)
	return story, ok
}

func (q *Queue) attempt(ctx context.Context, item *Item) (*models.Story, error) {
	var photo []byte
	if item.BinaryRef != "" {
		if q.blobs == nil {
			return nil, fmt.Errorf("failed to retrieve offline photo: no blob store")
		}
		data, err := q.blobs.Get(item.BinaryRef)
		if err != nil {
			return nil, fmt.Errorf("failed to retrieve offline photo: %w", err)
		}
		photo = data
	}
	return q.deps.Uploader.Upload(ctx, item, photo)
}

func (q *Queue) recordFailure(ctx context.Context, item *Item, cause error) {
	item.Retries++
	item.LastError = apperrors.UserMessage(cause)
	if item.Retries >= item.MaxRetries {
		item.Status = StatusFailed
	} else {
		item.Status = StatusPending
	}

	fields := map[string]interface{}{
		"id":          item.ID,
		"retries":     item.Retries,
		"max_retries": item.MaxRetries,
		"status":      string(item.Status),
	}
	if item.Status == StatusFailed {
		metrics.RecordAttempt("failed")
		logging.ErrorWithCode("Queued write failed permanently", string(apperrors.ErrQueueItem), cause, fields)
	} else {
		metrics.RecordAttempt("retry")
		fields["error"] = cause.Error()
		logging.Warn("Queued write failed, will retry", fields)
	}

	if err := q.update(ctx, item); err != nil {
		logging.Error("Failed to record queue item failure", err, map[string]interface{}{
			"id": item.ID,
		})
	}
}

// update persists item's mutable state under the storage retry policy.
func (q *Queue) update(ctx context.Context, item *Item) error {
	item.UpdatedAt = q.now()
	query := `
	UPDATE offline_queue
	SET status = ?, retries = ?, last_error = ?, result_id = ?, updated_at = ?
	WHERE id = ?
	`
	policy := retry.StoragePolicy(nil)
	policy.OnRetry = func(error, int, time.Duration) {
		metrics.RecordStorageRetry("queue_update")
	}
	return retry.Do(ctx, policy, func() error {
		_, err := q.db.ExecContext(ctx, query, string(item.Status), item.Retries, item.LastError,
			item.ResultID, item.UpdatedAt.UnixMilli(), item.ID)
		return err
	})
}

func (q *Queue) publish(e events.Event) {
	if q.deps.Publisher != nil {
		q.deps.Publisher.Publish(e)
	}
}

const itemColumns = `seq, id, type, payload, binary_ref, use_auth, idempotency_key, status,
	retries, max_retries, last_error, result_id, enqueued_at, updated_at`

// Pending returns the pending items in enqueue order.
func (q *Queue) Pending(ctx context.Context) ([]*Item, error) {
	return q.query(ctx, "WHERE status = ? ORDER BY enqueued_at, seq", string(StatusPending))
}

// List returns every item in enqueue order.
func (q *Queue) List(ctx context.Context) ([]*Item, error) {
	return q.query(ctx, "ORDER BY enqueued_at, seq")
}

// Get returns the item with the given temp id.
func (q *Queue) Get(ctx context.Context, id string) (*Item, error) {
	items, err := q.query(ctx, "WHERE id = ?", id)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, apperrors.New(apperrors.ErrNotFound, fmt.Sprintf("queue item %s not found", id))
	}
	return items[0], nil
}

func (q *Queue) query(ctx context.Context, where string, args ...interface{}) ([]*Item, error) {
	rows, err := q.db.QueryContext(ctx, "SELECT "+itemColumns+" FROM offline_queue "+where, args...)
	if err != nil {
		return nil, apperrors.Storage("failed to read offline queue", err)
	}
	defer rows.Close()

	var items []*Item
	for rows.Next() {
		var m models.SyncQueue
		var payload string
		if err := rows.Scan(&m.Seq, &m.ID, &m.Operation, &payload, &m.BinaryRef, &m.UseAuth,
			&m.IdempotencyKey, &m.Status, &m.RetryCount, &m.MaxRetries, &m.LastError,
			&m.ResultID, &m.EnqueuedAt, &m.UpdatedAt); err != nil {
			return nil, apperrors.Storage("failed to read offline queue", err)
		}
		m.Payload = []byte(payload)

		item, err := FromModel(&m)
		if err != nil {
			logging.Warn("Skipping unreadable queue item", map[string]interface{}{
				"id":    m.ID,
				"error": err.Error(),
			})
			continue
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Storage("failed to read offline queue", err)
	}
	return items, nil
}

// Stats counts items by status.
type Stats struct {
	Total     int `json:"total"`
	Pending   int `json:"pending"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

// Stats returns queue statistics.
func (q *Queue) Stats(ctx context.Context) (Stats, error) {
	rows, err := q.db.QueryContext(ctx, "SELECT status, COUNT(*) FROM offline_queue GROUP BY status")
	if err != nil {
		return Stats{}, apperrors.Storage("failed to read queue stats", err)
	}
	defer rows.Close()

	var stats Stats
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return Stats{}, apperrors.Storage("failed to read queue stats", err)
		}
		stats.Total += n
		switch Status(status) {
		case StatusPending:
			stats.Pending = n
		case StatusCompleted:
			stats.Completed = n
		case StatusFailed:
			stats.Failed = n
		}
	}
	return stats, rows.Err()
}

// RetryFailed resets failed items to pending with a fresh retry budget and
// returns how many were reset.
func (q *Queue) RetryFailed(ctx context.Context) (int, error) {
	res, err := q.db.ExecContext(ctx, `
	UPDATE offline_queue SET status = ?, retries = 0, last_error = '', updated_at = ?
	WHERE status = ?
	`, string(StatusPending), q.now().UnixMilli(), string(StatusFailed))
	if err != nil {
		return 0, apperrors.Storage("failed to reset failed items", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		logging.Info("Reset failed queue items for retry", map[string]interface{}{
			"count": n,
		})
		if q.deps.Waker != nil {
			q.deps.Waker.RegisterWake(WakeTag)
		}
	}
	return int(n), nil
}

// Remove deletes an item and its photo.
func (q *Queue) Remove(ctx context.Context, id string) error {
	item, err := q.Get(ctx, id)
	if err != nil {
		return err
	}
	if _, err := q.db.ExecContext(ctx, "DELETE FROM offline_queue WHERE id = ?", id); err != nil {
		return apperrors.Storage("failed to remove queue item", err)
	}
	q.takeUploaded(id)
	if item.BinaryRef != "" && q.blobs != nil {
		if err := q.blobs.Delete(item.BinaryRef); err != nil {
			logging.Warn("Failed to delete queued photo", map[string]interface{}{
				"id":    id,
				"error": err.Error(),
			})
		}
	}
	return nil
}

// PurgeCompleted deletes completed items and returns how many were removed.
func (q *Queue) PurgeCompleted(ctx context.Context) (int, error) {
	res, err := q.db.ExecContext(ctx, "DELETE FROM offline_queue WHERE status = ?", string(StatusCompleted))
	if err != nil {
		return 0, apperrors.Storage("failed to purge completed items", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// PhotoReport summarizes a CheckPhotos pass.
type PhotoReport struct {
	Checked   int      `json:"checked"`
	Bytes     int64    `json:"bytes"`
	Corrupted []string `json:"corrupted"`
	Orphans   int      `json:"orphans"`
}

// CheckPhotos verifies every stored photo against its checksum and deletes
// photos no queue item refers to. Corrupted photos are reported, not
// removed; the drain records them as attempt failures.
func (q *Queue) CheckPhotos(ctx context.Context) (PhotoReport, error) {
	var report PhotoReport
	if q.blobs == nil {
		return report, nil
	}

	items, err := q.List(ctx)
	if err != nil {
		return report, err
	}
	referenced := make(map[string]bool, len(items))
	for _, it := range items {
		if it.BinaryRef != "" {
			referenced[it.BinaryRef] = true
		}
	}

	keys, err := q.blobs.List()
	if err != nil {
		return report, apperrors.Storage("failed to list queued photos", err)
	}
	for _, key := range keys {
		if referenced[key] {
			continue
		}
		if err := q.blobs.Delete(key); err != nil {
			return report, apperrors.Storage("failed to delete orphaned photo", err)
		}
		report.Orphans++
	}

	corrupted, err := q.blobs.VerifyAll()
	if err != nil {
		return report, apperrors.Storage("failed to verify queued photos", err)
	}
	report.Corrupted = corrupted
	for key := range referenced {
		if size, err := q.blobs.Size(key); err == nil {
			report.Checked++
			report.Bytes += size
		}
	}

	if report.Orphans > 0 || len(corrupted) > 0 {
		logging.Warn("Queued photo check found problems", map[string]interface{}{
			"orphans":   report.Orphans,
			"corrupted": len(corrupted),
		})
	}
	return report, nil
}

func (q *Queue) countOpen(ctx context.Context) (int, error) {
	var n int
	err := q.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM offline_queue WHERE status != ?", string(StatusCompleted)).Scan(&n)
	return n, err
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
