package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"pairchat-backend/internal/middleware"
	"pairchat-backend/internal/services"

	"github.com/rs/zerolog/log"
)

// Presigner issues upload URLs for attachments
type Presigner interface {
	PresignUpload(ctx context.Context, userID, filename, contentType string) (*services.UploadResponse, error)
}

// AttachmentHandler handles attachment upload requests
type AttachmentHandler struct {
	attachmentService Presigner
}

// NewAttachmentHandler creates a new attachment handler
func NewAttachmentHandler(attachmentService Presigner) *AttachmentHandler {
	return &AttachmentHandler{
		attachmentService: attachmentService,
	}
}

// Upload handles POST /api/v1/attachments/upload
func (h *AttachmentHandler) Upload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)

	var req services.UploadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if req.ContentType == "" {
		req.ContentType = "image/jpeg" // Default
	}

	response, err := h.attachmentService.PresignUpload(ctx, userID, req.Filename, req.ContentType)
	if err != nil {
		log.Error().
			Err(err).
			Str("user_id", userID).
			Str("filename", req.Filename).
			Msg("Failed to generate pre-signed URL")
		respondServiceError(w, err)
		return
	}

	log.Info().
		Str("user_id", userID).
		Str("key", response.Key).
		Msg("Pre-signed URL generated")

	respondJSON(w, response, http.StatusOK)
}
