package db

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	apperrors "github.com/kimhsiao/storysync/internal/errors"
	"github.com/kimhsiao/storysync/internal/models"
)

// ExportVersion is the version written into favorites exports.
const ExportVersion = 1

// Pagination describes one page of favorites.
type Pagination struct {
	CurrentPage int  `json:"currentPage"`
	TotalPages  int  `json:"totalPages"`
	TotalCount  int  `json:"totalCount"`
	HasNextPage bool `json:"hasNextPage"`
	HasPrevPage bool `json:"hasPrevPage"`
	Limit       int  `json:"limit"`
}

// FavoritesPage is a page of favorites, newest saved first.
type FavoritesPage struct {
	Favorites  []*models.Story `json:"favorites"`
	Pagination Pagination      `json:"pagination"`
}

// FavoritesPage returns page (1-based) of the favorites, limit per page.
func (s *Store) FavoritesPage(ctx context.Context, page, limit int) (*FavoritesPage, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 10
	}

	total, err := s.Count(ctx, Favorites)
	if err != nil {
		if apperrors.IsSchema(err) {
			return &FavoritesPage{
				Favorites:  []*models.Story{},
				Pagination: Pagination{CurrentPage: page, Limit: limit},
			}, nil
		}
		return nil, err
	}

	offset := (page - 1) * limit
	stories, err := s.list(ctx, Favorites, limit, offset)
	if err != nil {
		s.forget(Favorites)
		return nil, apperrors.Storage("failed to list favorites", err)
	}

	return &FavoritesPage{
		Favorites: stories,
		Pagination: Pagination{
			CurrentPage: page,
			TotalPages:  (total + limit - 1) / limit,
			TotalCount:  total,
			HasNextPage: offset+limit < total,
			HasPrevPage: page > 1,
			Limit:       limit,
		},
	}, nil
}

// FavoritesExport is the portable favorites document.
type FavoritesExport struct {
	Version    int             `json:"version"`
	ExportedAt time.Time       `json:"exportedAt"`
	Count      int             `json:"count"`
	Checksum   string          `json:"checksum"`
	Favorites  json.RawMessage `json:"favorites"`
}

// ExportFavorites serializes every favorite into a FavoritesExport document.
// The checksum is the SHA-256 of the favorites array.
func (s *Store) ExportFavorites(ctx context.Context) ([]byte, error) {
	if err := s.ensureCollection(ctx, Favorites); err != nil {
		return nil, err
	}
	favorites, err := s.list(ctx, Favorites, -1, 0)
	if err != nil {
		return nil, apperrors.Storage("failed to export favorites", err)
	}
	if len(favorites) == 0 {
		return nil, apperrors.New(apperrors.ErrNotFound, "no favorites to export")
	}

	body, err := json.Marshal(favorites)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternal, "failed to encode favorites", err)
	}

	doc := FavoritesExport{
		Version:    ExportVersion,
		ExportedAt: s.now().UTC(),
		Count:      len(favorites),
		Checksum:   checksum(body),
		Favorites:  body,
	}
	return json.MarshalIndent(doc, "", "  ")
}

// ImportFavorites validates an export document and upserts its favorites,
// returning how many were imported.
func (s *Store) ImportFavorites(ctx context.Context, data []byte) (int, error) {
	var doc FavoritesExport
	if err := json.Unmarshal(data, &doc); err != nil {
		return 0, apperrors.Wrap(apperrors.ErrCorruptedExport, "invalid export data", err)
	}
	if doc.Version < 1 || doc.Version > ExportVersion {
		return 0, apperrors.New(apperrors.ErrCorruptedExport, fmt.Sprintf("invalid export data: unsupported version %d", doc.Version))
	}
	if len(doc.Favorites) == 0 {
		return 0, apperrors.New(apperrors.ErrCorruptedExport, "invalid export data: missing favorites")
	}
	if doc.Checksum != "" && doc.Checksum != checksum(compact(doc.Favorites)) {
		return 0, apperrors.New(apperrors.ErrCorruptedExport, "invalid export data: checksum mismatch")
	}

	var favorites []*models.Story
	if err := json.Unmarshal(doc.Favorites, &favorites); err != nil {
		return 0, apperrors.Wrap(apperrors.ErrCorruptedExport, "invalid export data", err)
	}
	if doc.Count != 0 && doc.Count != len(favorites) {
		return 0, apperrors.New(apperrors.ErrCorruptedExport, "invalid export data: count mismatch")
	}

	imported := 0
	for _, story := range favorites {
		if story == nil || story.ID == "" {
			continue
		}
		if err := s.Put(ctx, Favorites, story); err != nil {
			return imported, err
		}
		imported++
	}
	return imported, nil
}

func checksum(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// compact strips the indentation MarshalIndent adds to the embedded array so
// the checksum is computed over the same bytes that were exported.
func compact(raw json.RawMessage) []byte {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return raw
	}
	return buf.Bytes()
}
