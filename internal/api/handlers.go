// Package api is the reference remote source: a JSON/HTTP server of
// restaurants and reviews backed by a store.Authority.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/hyperengineering/pantry/internal/store"
	"github.com/hyperengineering/pantry/internal/types"
	"github.com/hyperengineering/pantry/internal/validation"
)

// maxBodyBytes bounds the size of a review submission.
const maxBodyBytes = 64 << 10

// Handler implements the API handlers
type Handler struct {
	store   store.Authority
	version string
}

// NewHandler creates a new Handler serving s.
func NewHandler(s store.Authority, version string) *Handler {
	return &Handler{store: s, version: version}
}

// Health handles GET /health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	stats, err := h.store.GetStats(r.Context())
	if err != nil {
		slog.Error("health stats failed", "component", "api", "error", err)
		MapStoreError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, types.HealthResponse{
		Status:        "healthy",
		Version:       h.version,
		EntityCount:   stats.EntityCount,
		CommentCount:  stats.CommentCount,
		SchemaVersion: stats.SchemaVersion,
	})
}

// ListRestaurants handles GET /restaurants
func (h *Handler) ListRestaurants(w http.ResponseWriter, r *http.Request) {
	entities, err := h.store.ListEntities(r.Context())
	if err != nil {
		slog.Error("list restaurants failed", "component", "api", "error", err)
		MapStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entities)
}

// GetRestaurant handles GET /restaurants/{id}
func (h *Handler) GetRestaurant(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	e, err := h.store.GetEntity(r.Context(), id)
	if err != nil {
		MapStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

// SetFavorite handles PUT /restaurants/{id}?is_favorite=bool
func (h *Handler) SetFavorite(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	fav, err := strconv.ParseBool(r.URL.Query().Get("is_favorite"))
	if err != nil {
		WriteProblem(w, r, http.StatusBadRequest, "is_favorite must be true or false")
		return
	}

	e, err := h.store.SetFavorite(r.Context(), id, fav)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			slog.Error("set favorite failed", "component", "api", "restaurant_id", id, "error", err)
		}
		MapStoreError(w, r, err)
		return
	}

	slog.Info("favorite updated",
		"component", "api",
		"action", "favorite_updated",
		"restaurant_id", id,
		"is_favorite", fav,
	)
	writeJSON(w, http.StatusOK, e)
}

// ListReviews handles GET /reviews?restaurant_id=N. Without a restaurant_id
// every review is returned.
func (h *Handler) ListReviews(w http.ResponseWriter, r *http.Request) {
	var (
		comments []types.Comment
		err      error
	)
	if raw := r.URL.Query().Get("restaurant_id"); raw != "" {
		id, perr := strconv.ParseInt(raw, 10, 64)
		if perr != nil || id <= 0 {
			WriteProblem(w, r, http.StatusBadRequest, "restaurant_id must be a positive integer")
			return
		}
		comments, err = h.store.ListCommentsByEntity(r.Context(), id)
	} else {
		comments, err = h.store.ListComments(r.Context())
	}
	if err != nil {
		slog.Error("list reviews failed", "component", "api", "error", err)
		MapStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, comments)
}

// CreateReview handles POST /reviews
func (h *Handler) CreateReview(w http.ResponseWriter, r *http.Request) {
	var nc types.NewComment
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&nc); err != nil {
		WriteProblem(w, r, http.StatusBadRequest, fmt.Sprintf("Invalid JSON: %s", err.Error()))
		return
	}

	if err := validation.ValidateNewComment(nc); err != nil {
		var verrs validation.Errors
		if errors.As(err, &verrs) {
			WriteProblemWithErrors(w, r, "Review contains invalid fields", verrs)
			return
		}
		WriteProblem(w, r, http.StatusBadRequest, err.Error())
		return
	}

	c, err := h.store.CreateComment(r.Context(), nc)
	if err != nil {
		slog.Error("create review failed", "component", "api", "restaurant_id", int64(nc.RestaurantID), "error", err)
		MapStoreError(w, r, err)
		return
	}

	slog.Info("review created",
		"component", "api",
		"action", "review_created",
		"review_id", c.ID,
		"restaurant_id", int64(c.RestaurantID),
	)
	writeJSON(w, http.StatusCreated, c)
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		WriteProblem(w, r, http.StatusBadRequest, "id must be a positive integer")
		return 0, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "component", "api", "error", err)
	}
}
