package db

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	apperrors "github.com/kimhsiao/storysync/internal/errors"
	"github.com/kimhsiao/storysync/internal/logging"
	"github.com/kimhsiao/storysync/internal/metrics"
	"github.com/kimhsiao/storysync/internal/models"
	"github.com/kimhsiao/storysync/internal/retry"
)

// Store is the local story store: a read-through Cache and a durable
// Favorites collection, each keyed by story id.
//
// Mutations are retried with retry.StoragePolicy. Reads never fail: a read
// error is logged and degrades to an empty result.
type Store struct {
	db  *sql.DB
	now func() time.Time

	mu       sync.Mutex
	verified map[Collection]bool
}

// NewStore creates a Store on an opened database.
func NewStore(db *DB) *Store {
	return &Store{
		db:       db.DB,
		now:      time.Now,
		verified: make(map[Collection]bool),
	}
}

// SetClock replaces the clock used to stamp cachedAt and savedAt.
func (s *Store) SetClock(now func() time.Time) {
	s.now = now
}

const storyColumns = "id, name, description, photo_url, lat, lon, created_at, is_pending"

// Put upserts story into col, stamping cachedAt (Cache) or savedAt
// (Favorites). A Favorites savedAt supplied by the caller is kept.
func (s *Store) Put(ctx context.Context, col Collection, story *models.Story) error {
	if story == nil || story.ID == "" {
		return apperrors.Validation("story id is required")
	}
	return s.mutate(ctx, "put", []Collection{col}, func() error {
		return s.upsert(ctx, s.db, col, story)
	})
}

// PutMany upserts stories one by one. It is not atomic: a failure part way
// through leaves earlier rows written.
func (s *Store) PutMany(ctx context.Context, col Collection, stories []*models.Story) error {
	for _, story := range stories {
		if err := s.Put(ctx, col, story); err != nil {
			return err
		}
	}
	return nil
}

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func (s *Store) upsert(ctx context.Context, ex execer, col Collection, story *models.Story) error {
	stamp := s.now()
	if col == Favorites && story.SavedAt != nil {
		stamp = *story.SavedAt
	}

	stampCol := col.stampColumn()
	query := fmt.Sprintf(`
	INSERT INTO %s (%s, %s)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		name = excluded.name,
		description = excluded.description,
		photo_url = excluded.photo_url,
		lat = excluded.lat,
		lon = excluded.lon,
		created_at = excluded.created_at,
		is_pending = excluded.is_pending,
		%s = excluded.%s
	`, col.Table(), storyColumns, stampCol, stampCol, stampCol)

	_, err := ex.ExecContext(ctx, query,
		story.ID, story.Name, story.Description, story.PhotoURL,
		nullFloat(story.Lat), nullFloat(story.Lon), toMillis(story.CreatedAt),
		story.IsPending, stamp.UnixMilli(),
	)
	return err
}

// Get returns the story with id, or nil when it is absent or cannot be read.
func (s *Store) Get(ctx context.Context, col Collection, id string) *models.Story {
	if !col.Valid() {
		logging.Warn("Unknown collection", map[string]interface{}{"collection": string(col)})
		return nil
	}

	query := fmt.Sprintf("SELECT %s, %s FROM %s WHERE id = ?", storyColumns, col.stampColumn(), col.Table())
	story, err := scanStory(col, s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		logging.Warn("Failed to read story, treating as absent", map[string]interface{}{
			"collection": string(col),
			"id":         id,
			"error":      err.Error(),
		})
		s.forget(col)
		return nil
	}
	return story
}

// Exists reports whether id is present in col.
func (s *Store) Exists(ctx context.Context, col Collection, id string) bool {
	return s.Get(ctx, col, id) != nil
}

// GetAll returns every story in col: Cache newest-first by createdAt,
// Favorites newest-first by savedAt. Read errors yield an empty slice.
func (s *Store) GetAll(ctx context.Context, col Collection) []*models.Story {
	stories, err := s.list(ctx, col, -1, 0)
	if err != nil {
		logging.Warn("Failed to read collection, returning empty result", map[string]interface{}{
			"collection": string(col),
			"error":      err.Error(),
		})
		s.forget(col)
		return []*models.Story{}
	}
	return stories
}

// list returns up to limit stories (all when limit < 0) starting at offset.
func (s *Store) list(ctx context.Context, col Collection, limit, offset int) ([]*models.Story, error) {
	if !col.Valid() {
		return nil, apperrors.New(apperrors.ErrInvalid, fmt.Sprintf("unknown collection %q", col))
	}

	order := "created_at DESC, id"
	if col == Favorites {
		order = "saved_at DESC, id"
	}
	query := fmt.Sprintf("SELECT %s, %s FROM %s ORDER BY %s LIMIT ? OFFSET ?",
		storyColumns, col.stampColumn(), col.Table(), order)

	rows, err := s.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stories := []*models.Story{}
	for rows.Next() {
		story, err := scanStory(col, rows)
		if err != nil {
			return nil, err
		}
		stories = append(stories, story)
	}
	return stories, rows.Err()
}

// Delete removes id from col. Deleting an absent id is not an error.
func (s *Store) Delete(ctx context.Context, col Collection, id string) error {
	return s.mutate(ctx, "delete", []Collection{col}, func() error {
		_, err := s.db.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE id = ?", col.Table()), id)
		return err
	})
}

// Clear removes every story from col.
func (s *Store) Clear(ctx context.Context, col Collection) error {
	return s.mutate(ctx, "clear", []Collection{col}, func() error {
		_, err := s.db.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s", col.Table()))
		return err
	})
}

// Count returns the number of stories in col.
func (s *Store) Count(ctx context.Context, col Collection) (int, error) {
	if err := s.ensureCollection(ctx, col); err != nil {
		return 0, err
	}
	var n int
	if err := s.db.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", col.Table())).Scan(&n); err != nil {
		s.forget(col)
		return 0, apperrors.Storage("count failed", err)
	}
	return n, nil
}

// ReplaceCached swaps the Cache row tempID for story in one transaction. A
// nil story only removes the temporary row.
func (s *Store) ReplaceCached(ctx context.Context, tempID string, story *models.Story) error {
	if story != nil && story.ID == "" {
		return apperrors.Validation("story id is required")
	}
	return s.mutate(ctx, "replace", []Collection{Cache}, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		if _, err := tx.ExecContext(ctx, "DELETE FROM cache_stories WHERE id = ?", tempID); err != nil {
			return err
		}
		if story != nil {
			if err := s.upsert(ctx, tx, Cache, story); err != nil {
				return err
			}
		}
		return tx.Commit()
	})
}

// PruneCache deletes Cache rows cached before now-olderThan and returns how
// many were removed. Pending rows are kept until their upload completes.
// Favorites are never touched.
func (s *Store) PruneCache(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := s.now().Add(-olderThan).UnixMilli()

	var removed int64
	err := s.mutate(ctx, "prune", []Collection{Cache}, func() error {
		res, err := s.db.ExecContext(ctx,
			"DELETE FROM cache_stories WHERE cached_at < ? AND is_pending = 0", cutoff)
		if err != nil {
			return err
		}
		removed, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, err
	}

	if removed > 0 {
		logging.Info("Pruned expired cache entries", map[string]interface{}{
			"removed":    removed,
			"older_than": olderThan.String(),
		})
	}
	return removed, nil
}

// HealthCheck verifies that every collection exists.
func (s *Store) HealthCheck(ctx context.Context) error {
	for _, col := range Collections {
		ok, err := s.tableExists(ctx, col)
		if err != nil {
			return apperrors.Storage("health check failed", err)
		}
		if !ok {
			return apperrors.Schema(col.Table())
		}
	}
	return nil
}

// Reset drops and recreates every collection. All cached and favorited
// stories are lost; the offline queue is not touched.
func (s *Store) Reset(ctx context.Context) error {
	logging.Warn("Resetting local story store, cached and favorite stories will be deleted", nil)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return apperrors.Storage("reset failed", err)
	}
	defer tx.Rollback()

	for _, col := range Collections {
		if _, err := tx.ExecContext(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s", col.Table())); err != nil {
			return apperrors.Storage("reset failed", err)
		}
		for _, stmt := range col.schema() {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return apperrors.Storage("reset failed", err)
			}
		}
	}
	if err := tx.Commit(); err != nil {
		return apperrors.Storage("reset failed", err)
	}

	s.mu.Lock()
	s.verified = make(map[Collection]bool)
	s.mu.Unlock()
	return nil
}

// EnsureHealthy runs HealthCheck up to three times and resets the store when
// it keeps failing. It reports whether a reset happened.
func (s *Store) EnsureHealthy(ctx context.Context) (bool, error) {
	err := retry.Do(ctx, retry.StoragePolicy(nil), func() error {
		return s.HealthCheck(ctx)
	})
	if err == nil {
		return false, nil
	}

	logging.ErrorWithCode("Local store failed health check", string(apperrors.CodeOf(err)), err, nil)
	if err := s.Reset(ctx); err != nil {
		return false, err
	}
	return true, nil
}

// mutate runs fn under the storage retry policy after checking that cols
// exist. Schema errors are not retried.
func (s *Store) mutate(ctx context.Context, operation string, cols []Collection, fn func() error) error {
	for _, col := range cols {
		if !col.Valid() {
			return apperrors.New(apperrors.ErrInvalid, fmt.Sprintf("unknown collection %q", col))
		}
	}

	policy := retry.StoragePolicy(func(err error) bool {
		return !apperrors.IsSchema(err)
	})
	policy.OnRetry = func(err error, attempt int, delay time.Duration) {
		metrics.RecordStorageRetry(operation)
		logging.Warn("Retrying storage operation", map[string]interface{}{
			"operation": operation,
			"attempt":   attempt,
			"delay":     delay.String(),
			"error":     err.Error(),
		})
	}

	err := retry.Do(ctx, policy, func() error {
		for _, col := range cols {
			if err := s.ensureCollection(ctx, col); err != nil {
				return err
			}
		}
		if err := fn(); err != nil {
			s.forget(cols...)
			return err
		}
		return nil
	})
	if err == nil {
		return nil
	}
	if apperrors.IsStorage(err) {
		return err
	}
	return apperrors.Storage(fmt.Sprintf("%s failed", operation), err)
}

// ensureCollection checks col's table once per process, and again after any
// failure on it.
func (s *Store) ensureCollection(ctx context.Context, col Collection) error {
	s.mu.Lock()
	ok := s.verified[col]
	s.mu.Unlock()
	if ok {
		return nil
	}

	exists, err := s.tableExists(ctx, col)
	if err != nil {
		return err
	}
	if !exists {
		return apperrors.Schema(col.Table())
	}

	s.mu.Lock()
	s.verified[col] = true
	s.mu.Unlock()
	return nil
}

func (s *Store) forget(cols ...Collection) {
	s.mu.Lock()
	for _, col := range cols {
		delete(s.verified, col)
	}
	s.mu.Unlock()
}

func (s *Store) tableExists(ctx context.Context, col Collection) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?", col.Table()).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanStory(col Collection, row rowScanner) (*models.Story, error) {
	var (
		story     models.Story
		lat, lon  sql.NullFloat64
		createdAt int64
		stamp     int64
	)
	err := row.Scan(&story.ID, &story.Name, &story.Description, &story.PhotoURL,
		&lat, &lon, &createdAt, &story.IsPending, &stamp)
	if err != nil {
		return nil, err
	}

	if lat.Valid {
		story.Lat = models.Float(lat.Float64)
	}
	if lon.Valid {
		story.Lon = models.Float(lon.Float64)
	}
	story.CreatedAt = fromMillis(createdAt)

	ts := time.UnixMilli(stamp).UTC()
	if col == Favorites {
		story.SavedAt = &ts
	} else {
		story.CachedAt = &ts
	}
	return &story, nil
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
