package handlers

import (
	"encoding/json"
	"net/http"

	"pairchat-backend/internal/middleware"
	"pairchat-backend/internal/services"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

// MessageHandler handles message-related HTTP requests
type MessageHandler struct {
	messageService *services.MessageService
}

// NewMessageHandler creates a new message handler
func NewMessageHandler(messageService *services.MessageService) *MessageHandler {
	return &MessageHandler{
		messageService: messageService,
	}
}

// CreateMessage handles POST /api/v1/messages. The message is stored without
// a live push; clients relay it over the WebSocket with its message_id.
func (h *MessageHandler) CreateMessage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)

	var req services.SendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	msg, err := h.messageService.Create(ctx, userID, req)
	if err != nil {
		log.Error().
			Err(err).
			Str("user_id", userID).
			Str("recipient_id", req.RecipientID).
			Msg("Failed to create message")
		respondServiceError(w, err)
		return
	}

	respondJSON(w, msg, http.StatusCreated)
}

// GetHistory handles GET /api/v1/messages/{user_id}
func (h *MessageHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)
	otherID := chi.URLParam(r, "user_id")

	limit := queryInt(r, "limit", 0)
	offset := queryInt(r, "offset", 0)

	messages, total, err := h.messageService.History(ctx, userID, otherID, limit, offset)
	if err != nil {
		log.Error().
			Err(err).
			Str("user_id", userID).
			Str("other_id", otherID).
			Msg("Failed to get messages")
		respondServiceError(w, err)
		return
	}

	response := map[string]interface{}{
		"messages": messages,
		"total":    total,
	}

	respondJSON(w, response, http.StatusOK)
}

// MarkRead handles POST /api/v1/messages/{message_id}/read
func (h *MessageHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)
	messageID := chi.URLParam(r, "message_id")

	if err := h.messageService.MarkRead(ctx, messageID, userID); err != nil {
		log.Error().
			Err(err).
			Str("user_id", userID).
			Str("message_id", messageID).
			Msg("Failed to mark message read")
		respondServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
