package story

import (
	"context"

	"github.com/kimhsiao/storysync/internal/api"
	"github.com/kimhsiao/storysync/internal/db"
	apperrors "github.com/kimhsiao/storysync/internal/errors"
	"github.com/kimhsiao/storysync/internal/logging"
	"github.com/kimhsiao/storysync/internal/media"
	"github.com/kimhsiao/storysync/internal/models"
	"github.com/kimhsiao/storysync/internal/sync/queue"
	"github.com/kimhsiao/storysync/internal/sync/storage"
)

// QueuedMessage is returned for stories saved while offline.
const QueuedMessage = "Story saved offline and will be uploaded when you are back online"

// AddResult is the outcome of AddStory.
type AddResult struct {
	// Story is the created story, or the pending one when Offline is set.
	Story   *models.Story `json:"story,omitempty"`
	Offline bool          `json:"offline"`
	TempID  string        `json:"tempId,omitempty"`
	Message string        `json:"message"`
}

// AddStory creates a story. While online it is sent directly and any
// failure is returned. While offline the photo is compressed, the story is
// queued and a pending Cache row is written so it shows up in offline
// listings right away.
func (r *Repository) AddStory(ctx context.Context, in models.NewStory, useAuth bool) (*AddResult, error) {
	if err := in.Validate(); err != nil {
		return nil, apperrors.Validation(err.Error())
	}

	if !r.monitor.IsOnline() {
		return r.addOffline(ctx, in, useAuth)
	}

	resp, err := r.api.AddStory(ctx, api.Upload{
		Description: in.Description,
		Photo:       in.Photo,
		PhotoName:   in.PhotoName,
		Lat:         in.Lat,
		Lon:         in.Lon,
		UseAuth:     useAuth,
	})
	if err != nil {
		return nil, err
	}

	if resp.Story != nil {
		if err := r.store.Put(ctx, db.Cache, resp.Story); err != nil {
			logging.Warn("Failed to cache created story", map[string]interface{}{
				"id":    resp.Story.ID,
				"error": err.Error(),
			})
		}
		r.prefetch(ctx, []*models.Story{resp.Story})
	}
	return &AddResult{Story: resp.Story, Message: resp.Message}, nil
}

func (r *Repository) addOffline(ctx context.Context, in models.NewStory, useAuth bool) (*AddResult, error) {
	photo := media.BestEffort(ctx, r.compressor, in.Photo)

	item, err := r.queue.Enqueue(ctx, queue.OperationAdd, queue.Payload{
		Description: in.Description,
		PhotoName:   in.PhotoName,
		Lat:         in.Lat,
		Lon:         in.Lon,
	}, photo, useAuth)
	if err != nil {
		return nil, err
	}

	pending := item.PendingStory()
	if err := r.store.Put(ctx, db.Cache, pending); err != nil {
		// the item is queued; only the optimistic listing entry is missing
		logging.Warn("Failed to cache pending story", map[string]interface{}{
			"id":    item.ID,
			"error": err.Error(),
		})
	}

	return &AddResult{
		Story:   pending,
		Offline: true,
		TempID:  item.ID,
		Message: QueuedMessage,
	}, nil
}

// ClearCachedStories empties the Cache collection. Favorites are kept.
func (r *Repository) ClearCachedStories(ctx context.Context) error {
	return r.store.Clear(ctx, db.Cache)
}

// CleanupResult reports what CleanupExpiredCache removed.
type CleanupResult struct {
	Stories        int64 `json:"stories"`
	Images         int   `json:"images"`
	CompletedItems int   `json:"completedItems"`
}

// Cleanup prunes Cache rows older than the cache retention, image files
// older than the image retention and completed queue items.
func (r *Repository) Cleanup(ctx context.Context) (CleanupResult, error) {
	var res CleanupResult

	n, err := r.store.PruneCache(ctx, r.cacheRetention)
	if err != nil {
		return res, err
	}
	res.Stories = n

	if r.images != nil {
		removed, err := r.images.Cleanup(r.imageRetention)
		if err != nil {
			logging.Warn("Failed to clean up image cache", map[string]interface{}{
				"error": err.Error(),
			})
		}
		res.Images = removed
	}

	purged, err := r.queue.PurgeCompleted(ctx)
	if err != nil {
		return res, err
	}
	res.CompletedItems = purged

	logging.Info("Expired cache cleaned up", map[string]interface{}{
		"stories":         res.Stories,
		"images":          res.Images,
		"completed_items": res.CompletedItems,
	})
	return res, nil
}

// CleanupExpiredCache is Cleanup without the report.
func (r *Repository) CleanupExpiredCache(ctx context.Context) error {
	_, err := r.Cleanup(ctx)
	return err
}

// PhotoPath returns the local file of a story photo: the image cache copy of
// a remote photo, or "" when none is available.
func (r *Repository) PhotoPath(url string) string {
	if r.images == nil || !storage.Cacheable(url) || !r.images.Has(url) {
		return ""
	}
	return r.images.Path(url)
}
