package story

import (
	"context"

	"github.com/kimhsiao/storysync/internal/db"
	apperrors "github.com/kimhsiao/storysync/internal/errors"
	"github.com/kimhsiao/storysync/internal/events"
	"github.com/kimhsiao/storysync/internal/models"
)

// SaveFavorite adds story to Favorites, stamped with the current time.
func (r *Repository) SaveFavorite(ctx context.Context, story *models.Story) error {
	if story == nil || story.ID == "" {
		return apperrors.Validation("story id is required")
	}
	fav := story.Clone()
	fav.CachedAt = nil
	fav.SavedAt = nil
	fav.IsPending = false

	if err := r.store.Put(ctx, db.Favorites, fav); err != nil {
		return err
	}
	r.bus.Publish(events.EntityFavorited{ID: story.ID})
	return nil
}

// RemoveFavorite removes id from Favorites.
func (r *Repository) RemoveFavorite(ctx context.Context, id string) error {
	if id == "" {
		return apperrors.Validation("story id is required")
	}
	if err := r.store.Delete(ctx, db.Favorites, id); err != nil {
		return err
	}
	r.bus.Publish(events.EntityUnfavorited{ID: id})
	return nil
}

// ToggleFavorite saves story when it is not a favorite and removes it
// otherwise. It reports whether the story is a favorite afterwards.
func (r *Repository) ToggleFavorite(ctx context.Context, story *models.Story) (bool, error) {
	if story == nil || story.ID == "" {
		return false, apperrors.Validation("story id is required")
	}
	if r.IsFavorited(ctx, story.ID) {
		return false, r.RemoveFavorite(ctx, story.ID)
	}
	return true, r.SaveFavorite(ctx, story)
}

// IsFavorited reports whether id is in Favorites.
func (r *Repository) IsFavorited(ctx context.Context, id string) bool {
	return r.store.Exists(ctx, db.Favorites, id)
}

// GetFavorite returns a favorite, or nil.
func (r *Repository) GetFavorite(ctx context.Context, id string) *models.Story {
	return r.store.Get(ctx, db.Favorites, id)
}

// ListFavorites returns every favorite, most recently saved first.
func (r *Repository) ListFavorites(ctx context.Context) []*models.Story {
	return r.store.GetAll(ctx, db.Favorites)
}

// FavoritesPage returns one page of favorites.
func (r *Repository) FavoritesPage(ctx context.Context, page, limit int) (*db.FavoritesPage, error) {
	return r.store.FavoritesPage(ctx, page, limit)
}

// FavoritesCount returns the number of favorites.
func (r *Repository) FavoritesCount(ctx context.Context) (int, error) {
	return r.store.Count(ctx, db.Favorites)
}

// ExportFavorites returns a checksummed JSON document of every favorite.
func (r *Repository) ExportFavorites(ctx context.Context) ([]byte, error) {
	return r.store.ExportFavorites(ctx)
}

// ImportFavorites restores favorites from an export and publishes
// entity-favorited for each of them.
func (r *Repository) ImportFavorites(ctx context.Context, data []byte) (int, error) {
	before := make(map[string]bool)
	for _, s := range r.store.GetAll(ctx, db.Favorites) {
		before[s.ID] = true
	}

	n, err := r.store.ImportFavorites(ctx, data)
	if err != nil {
		return 0, err
	}
	for _, s := range r.store.GetAll(ctx, db.Favorites) {
		if !before[s.ID] {
			r.bus.Publish(events.EntityFavorited{ID: s.ID})
		}
	}
	return n, nil
}

// ClearFavorites removes every favorite and publishes entity-unfavorited
// for each of them.
func (r *Repository) ClearFavorites(ctx context.Context) error {
	favs := r.store.GetAll(ctx, db.Favorites)
	if err := r.store.Clear(ctx, db.Favorites); err != nil {
		return err
	}
	for _, s := range favs {
		r.bus.Publish(events.EntityUnfavorited{ID: s.ID})
	}
	return nil
}
