package server

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/kimhsiao/storysync/internal/api"
	apperrors "github.com/kimhsiao/storysync/internal/errors"
	"github.com/kimhsiao/storysync/internal/models"
)

func queryInt(r *http.Request, key string) int {
	n, _ := strconv.Atoi(r.URL.Query().Get(key))
	return n
}

func queryBool(r *http.Request, key string, def bool) bool {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

// handleListStories handles GET /api/v1/stories
func (s *Server) handleListStories(w http.ResponseWriter, r *http.Request) {
	res, err := s.repo.ListStories(r.Context(), api.ListParams{
		Page:     queryInt(r, "page"),
		Size:     queryInt(r, "size"),
		Location: queryBool(r, "location", false),
	})
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"error":     false,
		"message":   res.Message,
		"source":    res.Source,
		"listStory": res.Stories,
	})
}

// handleGetStory handles GET /api/v1/stories/{id}
func (s *Server) handleGetStory(w http.ResponseWriter, r *http.Request) {
	res, err := s.repo.GetStory(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"error":   false,
		"message": res.Message,
		"source":  res.Source,
		"story":   res.Story,
	})
}

// handleAddStory handles POST /api/v1/stories with the same multipart form
// the story service accepts. ?guest=true posts without authentication.
func (s *Server) handleAddStory(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		respondError(w, apperrors.Validation("invalid multipart form"))
		return
	}

	in := models.NewStory{Description: r.FormValue("description")}
	if f, hdr, err := r.FormFile("photo"); err == nil {
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			respondError(w, apperrors.Validation("failed to read photo"))
			return
		}
		in.Photo = data
		in.PhotoName = hdr.Filename
	}
	for key, dst := range map[string]**float64{"lat": &in.Lat, "lon": &in.Lon} {
		v := r.FormValue(key)
		if v == "" {
			continue
		}
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			respondError(w, apperrors.Validation(key+" must be a number"))
			return
		}
		*dst = models.Float(f)
	}

	res, err := s.repo.AddStory(r.Context(), in, !queryBool(r, "guest", false))
	if err != nil {
		respondError(w, err)
		return
	}

	status := http.StatusCreated
	if res.Offline {
		status = http.StatusAccepted
	}
	respondJSON(w, status, map[string]interface{}{
		"error":   false,
		"message": res.Message,
		"offline": res.Offline,
		"tempId":  res.TempID,
		"story":   res.Story,
	})
}

// handleListFavorites handles GET /api/v1/favorites?page=&limit=
func (s *Server) handleListFavorites(w http.ResponseWriter, r *http.Request) {
	page, err := s.repo.FavoritesPage(r.Context(), queryInt(r, "page"), queryInt(r, "limit"))
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, page)
}

func decodeStory(r *http.Request) (*models.Story, error) {
	var st models.Story
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&st); err != nil {
		return nil, apperrors.Validation("invalid story body")
	}
	return &st, nil
}

// handleSaveFavorite handles POST /api/v1/favorites
func (s *Server) handleSaveFavorite(w http.ResponseWriter, r *http.Request) {
	st, err := decodeStory(r)
	if err != nil {
		respondError(w, err)
		return
	}
	if err := s.repo.SaveFavorite(r.Context(), st); err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]interface{}{"id": st.ID, "favorited": true})
}

// handleToggleFavorite handles POST /api/v1/favorites/toggle
func (s *Server) handleToggleFavorite(w http.ResponseWriter, r *http.Request) {
	st, err := decodeStory(r)
	if err != nil {
		respondError(w, err)
		return
	}
	on, err := s.repo.ToggleFavorite(r.Context(), st)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"id": st.ID, "favorited": on})
}

// handleGetFavorite handles GET /api/v1/favorites/{id}
func (s *Server) handleGetFavorite(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	fav := s.repo.GetFavorite(r.Context(), id)
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"id":        id,
		"favorited": fav != nil,
		"story":     fav,
	})
}

// handleRemoveFavorite handles DELETE /api/v1/favorites/{id}
func (s *Server) handleRemoveFavorite(w http.ResponseWriter, r *http.Request) {
	if err := s.repo.RemoveFavorite(r.Context(), chi.URLParam(r, "id")); err != nil {
		respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleClearFavorites handles DELETE /api/v1/favorites
func (s *Server) handleClearFavorites(w http.ResponseWriter, r *http.Request) {
	if err := s.repo.ClearFavorites(r.Context()); err != nil {
		respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleExportFavorites handles GET /api/v1/favorites/export
func (s *Server) handleExportFavorites(w http.ResponseWriter, r *http.Request) {
	data, err := s.repo.ExportFavorites(r.Context())
	if err != nil {
		respondError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", `attachment; filename="favorites.json"`)
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// handleImportFavorites handles POST /api/v1/favorites/import
func (s *Server) handleImportFavorites(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxUploadBytes))
	if err != nil {
		respondError(w, apperrors.Validation("failed to read body"))
		return
	}
	n, err := s.repo.ImportFavorites(r.Context(), data)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"imported": n})
}

// handleListQueue handles GET /api/v1/queue
func (s *Server) handleListQueue(w http.ResponseWriter, r *http.Request) {
	q := s.repo.Queue()
	items, err := q.List(r.Context())
	if err != nil {
		respondError(w, err)
		return
	}
	stats, err := q.Stats(r.Context())
	if err != nil {
		respondError(w, err)
		return
	}

	out := make([]map[string]interface{}, 0, len(items))
	for _, it := range items {
		out = append(out, map[string]interface{}{
			"id":          it.ID,
			"type":        it.Operation,
			"description": it.Payload.Description,
			"status":      it.Status,
			"retries":     it.Retries,
			"maxRetries":  it.MaxRetries,
			"lastError":   it.LastError,
			"resultId":    it.ResultID,
			"enqueuedAt":  it.EnqueuedAt,
		})
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"items":    out,
		"stats":    stats,
		"draining": q.IsDraining(),
	})
}

// handleDrain handles POST /api/v1/queue/drain
func (s *Server) handleDrain(w http.ResponseWriter, r *http.Request) {
	res, err := s.repo.SyncOfflineQueue(r.Context())
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

// handleRetryFailed handles POST /api/v1/queue/retry
func (s *Server) handleRetryFailed(w http.ResponseWriter, r *http.Request) {
	n, err := s.repo.Queue().RetryFailed(r.Context())
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"reset": n})
}

// handlePurgeCompleted handles DELETE /api/v1/queue/completed
func (s *Server) handlePurgeCompleted(w http.ResponseWriter, r *http.Request) {
	n, err := s.repo.Queue().PurgeCompleted(r.Context())
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"purged": n})
}

// handleCheckPhotos handles POST /api/v1/queue/photos/check
func (s *Server) handleCheckPhotos(w http.ResponseWriter, r *http.Request) {
	report, err := s.repo.Queue().CheckPhotos(r.Context())
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, report)
}

// handleRemoveQueueItem handles DELETE /api/v1/queue/{id}
func (s *Server) handleRemoveQueueItem(w http.ResponseWriter, r *http.Request) {
	if err := s.repo.Queue().Remove(r.Context(), chi.URLParam(r, "id")); err != nil {
		respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleClearCache handles DELETE /api/v1/cache
func (s *Server) handleClearCache(w http.ResponseWriter, r *http.Request) {
	if err := s.repo.ClearCachedStories(r.Context()); err != nil {
		respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleCleanup handles POST /api/v1/cache/cleanup
func (s *Server) handleCleanup(w http.ResponseWriter, r *http.Request) {
	res, err := s.repo.Cleanup(r.Context())
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

// handlePhoto handles GET /api/v1/photos?url= from the local image cache.
func (s *Server) handlePhoto(w http.ResponseWriter, r *http.Request) {
	path := s.repo.PhotoPath(r.URL.Query().Get("url"))
	if path == "" {
		respondError(w, apperrors.New(apperrors.ErrNotFound, "photo is not cached"))
		return
	}
	http.ServeFile(w, r, path)
}

// handleGetNetwork handles GET /api/v1/network
func (s *Server) handleGetNetwork(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{"online": s.repo.Monitor().IsOnline()})
}

// handleSetNetwork handles PUT /api/v1/network, letting a UI forward the
// platform's online and offline signals.
func (s *Server) handleSetNetwork(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Online *bool `json:"online"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, 4096)).Decode(&body); err != nil || body.Online == nil {
		respondError(w, apperrors.Validation(`body must be {"online": true|false}`))
		return
	}
	changed := s.repo.Monitor().Set(*body.Online)
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"online":  *body.Online,
		"changed": changed,
	})
}

// handleSchedulerStatus handles GET /api/v1/scheduler
func (s *Server) handleSchedulerStatus(w http.ResponseWriter, r *http.Request) {
	if s.scheduler == nil {
		respondError(w, apperrors.New(apperrors.ErrNotFound, "background scheduler is not running"))
		return
	}
	respondJSON(w, http.StatusOK, s.scheduler.GetStatus())
}
