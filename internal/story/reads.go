package story

import (
	"context"
	"fmt"

	"github.com/kimhsiao/storysync/internal/api"
	"github.com/kimhsiao/storysync/internal/db"
	apperrors "github.com/kimhsiao/storysync/internal/errors"
	"github.com/kimhsiao/storysync/internal/logging"
	"github.com/kimhsiao/storysync/internal/metrics"
	"github.com/kimhsiao/storysync/internal/models"
)

// Source tells where a read was served from.
type Source string

const (
	SourceNetwork Source = "network"
	SourceCache   Source = "cache"
)

// OfflineMessage tags results served from the Cache collection.
const OfflineMessage = "loaded from offline storage"

// ListResult is the outcome of ListStories.
type ListResult struct {
	Stories []*models.Story `json:"listStory"`
	Source  Source          `json:"source"`
	Message string          `json:"message"`
}

// GetResult is the outcome of GetStory.
type GetResult struct {
	Story   *models.Story `json:"story"`
	Source  Source        `json:"source"`
	Message string        `json:"message"`
}

// ListStories returns a page of stories from the service and mirrors it
// into the Cache. While offline, or when the service cannot be reached, it
// returns every cached story, newest first. Server errors are returned as
// is.
func (r *Repository) ListStories(ctx context.Context, p api.ListParams) (*ListResult, error) {
	if !r.monitor.IsOnline() {
		return r.listCached(ctx, "offline"), nil
	}

	resp, err := r.api.ListStories(ctx, p)
	if err != nil {
		if apperrors.IsConnectivity(err) {
			logging.Warn("Story service unreachable, serving cached stories", map[string]interface{}{
				"error": err.Error(),
			})
			return r.listCached(ctx, "unreachable"), nil
		}
		return nil, err
	}

	if err := r.store.PutMany(ctx, db.Cache, resp.ListStory); err != nil {
		logging.Warn("Failed to cache stories", map[string]interface{}{
			"count": len(resp.ListStory),
			"error": err.Error(),
		})
	}
	r.prefetch(ctx, resp.ListStory)
	metrics.RecordRead("list", string(SourceNetwork))

	return &ListResult{
		Stories: resp.ListStory,
		Source:  SourceNetwork,
		Message: resp.Message,
	}, nil
}

func (r *Repository) listCached(ctx context.Context, reason string) *ListResult {
	stories := r.store.GetAll(ctx, db.Cache)
	metrics.RecordRead("list", string(SourceCache))
	logging.Debug("Serving cached stories", map[string]interface{}{
		"reason": reason,
		"count":  len(stories),
	})
	return &ListResult{
		Stories: stories,
		Source:  SourceCache,
		Message: OfflineMessage,
	}
}

// GetStory returns one story, following the same network and cache rules as
// ListStories. A story found in neither place is NOT_FOUND.
func (r *Repository) GetStory(ctx context.Context, id string) (*GetResult, error) {
	if id == "" {
		return nil, apperrors.Validation("story id is required")
	}
	if !r.monitor.IsOnline() || models.IsTempID(id) {
		return r.getCached(ctx, id)
	}

	resp, err := r.api.GetStory(ctx, id)
	if err != nil {
		if apperrors.IsConnectivity(err) {
			logging.Warn("Story service unreachable, serving cached story", map[string]interface{}{
				"id":    id,
				"error": err.Error(),
			})
			return r.getCached(ctx, id)
		}
		return nil, err
	}
	if resp.Story == nil {
		return nil, apperrors.New(apperrors.ErrNotFound, fmt.Sprintf("story %s not found", id))
	}

	if err := r.store.Put(ctx, db.Cache, resp.Story); err != nil {
		logging.Warn("Failed to cache story", map[string]interface{}{
			"id":    id,
			"error": err.Error(),
		})
	}
	r.prefetch(ctx, []*models.Story{resp.Story})
	metrics.RecordRead("get", string(SourceNetwork))

	return &GetResult{
		Story:   resp.Story,
		Source:  SourceNetwork,
		Message: resp.Message,
	}, nil
}

func (r *Repository) getCached(ctx context.Context, id string) (*GetResult, error) {
	story := r.store.Get(ctx, db.Cache, id)
	if story == nil {
		return nil, apperrors.New(apperrors.ErrNotFound, fmt.Sprintf("story %s is not available offline", id))
	}
	metrics.RecordRead("get", string(SourceCache))
	return &GetResult{
		Story:   story,
		Source:  SourceCache,
		Message: OfflineMessage,
	}, nil
}

// CachedStories returns every cached story, newest first.
func (r *Repository) CachedStories(ctx context.Context) []*models.Story {
	return r.store.GetAll(ctx, db.Cache)
}
