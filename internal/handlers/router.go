package handlers

import (
	"context"
	"net/http"

	"pairchat-backend/internal/middleware"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"
)

// Router bundles the handlers mounted by NewRouter
type Router struct {
	Users       *UserHandler
	Messages    *MessageHandler
	LoveNotes   *LoveNoteHandler
	Streaks     *StreakHandler
	Attachments *AttachmentHandler // optional
	WebSocket   *WebSocketHandler
	Auth        middleware.TokenValidator
	// Ping reports backing store health for /health. Optional.
	Ping func(ctx context.Context) error
}

// NewRouter builds the HTTP API
func NewRouter(rt Router) http.Handler {
	r := chi.NewRouter()

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(corsMiddleware)

	r.Get("/health", rt.health)

	r.Route("/api/v1", func(r chi.Router) {
		// Public routes
		r.Post("/users", rt.Users.CreateUser)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(middleware.AuthMiddleware(rt.Auth))

			r.Put("/users/me/push-token", rt.Users.UpdatePushToken)

			r.Post("/messages", rt.Messages.CreateMessage)
			r.Get("/messages/{user_id}", rt.Messages.GetHistory)
			r.Post("/messages/{message_id}/read", rt.Messages.MarkRead)

			r.Post("/love-notes", rt.LoveNotes.CreateLoveNote)
			r.Get("/love-notes/active", rt.LoveNotes.GetActive)
			r.Get("/love-notes/{love_note_id}", rt.LoveNotes.GetLoveNote)
			r.Post("/love-notes/{love_note_id}/answer", rt.LoveNotes.AnswerLoveNote)

			r.Get("/streaks/{user_id}", rt.Streaks.GetStreak)

			if rt.Attachments != nil {
				r.Post("/attachments/upload", rt.Attachments.Upload)
			}
		})
	})

	// WebSocket route
	r.Get("/ws", rt.WebSocket.HandleWebSocket)

	return r
}

func (rt Router) health(w http.ResponseWriter, r *http.Request) {
	if rt.Ping != nil {
		if err := rt.Ping(r.Context()); err != nil {
			log.Error().Err(err).Msg("Health check failed")
			respondJSON(w, map[string]string{"status": "unavailable"}, http.StatusServiceUnavailable)
			return
		}
	}
	respondJSON(w, map[string]string{"status": "ok"}, http.StatusOK)
}

// corsMiddleware handles CORS
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
