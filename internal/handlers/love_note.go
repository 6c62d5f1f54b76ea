package handlers

import (
	"encoding/json"
	"net/http"

	"pairchat-backend/internal/middleware"
	"pairchat-backend/internal/services"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

// LoveNoteHandler handles love note HTTP requests
type LoveNoteHandler struct {
	loveNoteService *services.LoveNoteService
}

// NewLoveNoteHandler creates a new love note handler
func NewLoveNoteHandler(loveNoteService *services.LoveNoteService) *LoveNoteHandler {
	return &LoveNoteHandler{
		loveNoteService: loveNoteService,
	}
}

// CreateLoveNoteRequest represents the request body for creating a love note
type CreateLoveNoteRequest struct {
	RecipientID string `json:"recipient_id"`
}

// AnswerLoveNoteRequest represents the request body for answering a love note
type AnswerLoveNoteRequest struct {
	Answer string `json:"answer"`
}

// CreateLoveNote handles POST /api/v1/love-notes
func (h *LoveNoteHandler) CreateLoveNote(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)

	var req CreateLoveNoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	note, created, err := h.loveNoteService.CreateOrFetch(ctx, userID, req.RecipientID)
	if err != nil {
		log.Error().
			Err(err).
			Str("user_id", userID).
			Str("recipient_id", req.RecipientID).
			Msg("Failed to create love note")
		respondServiceError(w, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	respondJSON(w, note, status)
}

// GetActive handles GET /api/v1/love-notes/active?user_id=
func (h *LoveNoteHandler) GetActive(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)
	otherID := r.URL.Query().Get("user_id")

	note, err := h.loveNoteService.Active(ctx, userID, otherID)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, note, http.StatusOK)
}

// GetLoveNote handles GET /api/v1/love-notes/{love_note_id}
func (h *LoveNoteHandler) GetLoveNote(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)

	note, err := h.loveNoteService.Get(ctx, chi.URLParam(r, "love_note_id"), userID)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, note, http.StatusOK)
}

// AnswerLoveNote handles POST /api/v1/love-notes/{love_note_id}/answer
func (h *LoveNoteHandler) AnswerLoveNote(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)
	noteID := chi.URLParam(r, "love_note_id")

	var req AnswerLoveNoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	note, err := h.loveNoteService.Answer(ctx, noteID, userID, req.Answer)
	if err != nil {
		log.Error().
			Err(err).
			Str("user_id", userID).
			Str("love_note_id", noteID).
			Msg("Failed to answer love note")
		respondServiceError(w, err)
		return
	}

	respondJSON(w, note, http.StatusOK)
}
