package handlers

import (
	"net/http"

	"pairchat-backend/internal/middleware"
	"pairchat-backend/internal/services"

	"github.com/go-chi/chi/v5"
)

// StreakHandler handles streak HTTP requests
type StreakHandler struct {
	streakService *services.StreakService
}

// NewStreakHandler creates a new streak handler
func NewStreakHandler(streakService *services.StreakService) *StreakHandler {
	return &StreakHandler{
		streakService: streakService,
	}
}

// GetStreak handles GET /api/v1/streaks/{user_id}
func (h *StreakHandler) GetStreak(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)

	streak, err := h.streakService.GetStreak(ctx, userID, chi.URLParam(r, "user_id"))
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, streak, http.StatusOK)
}
