package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"pairchat-backend/internal/services"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	maxMessageSize = 64 << 10
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // native clients send no Origin
	},
}

// WebSocketHandler handles WebSocket connections
type WebSocketHandler struct {
	hub             *services.WSHub
	userService     *services.UserService
	messageService  *services.MessageService
	loveNoteService *services.LoveNoteService

	mu      sync.Mutex
	closing bool
	active  sync.WaitGroup
}

// NewWebSocketHandler creates a new WebSocket handler
func NewWebSocketHandler(
	hub *services.WSHub,
	userService *services.UserService,
	messageService *services.MessageService,
	loveNoteService *services.LoveNoteService,
) *WebSocketHandler {
	return &WebSocketHandler{
		hub:             hub,
		userService:     userService,
		messageService:  messageService,
		loveNoteService: loveNoteService,
	}
}

// HandleWebSocket handles WebSocket connections
func (h *WebSocketHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	// Get token from query parameter
	token := r.URL.Query().Get("token")
	if token == "" {
		respondError(w, "token required", http.StatusUnauthorized)
		return
	}

	userID, err := h.userService.ValidateJWT(token)
	if err != nil {
		respondError(w, "invalid token", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("Failed to upgrade WebSocket connection")
		return
	}

	if !h.track() {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(time.Second))
		conn.Close()
		return
	}
	defer h.active.Done()

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	wsConn := services.NewWSConn(conn)
	h.hub.Register(userID, wsConn)
	defer h.hub.Unregister(userID, wsConn)

	// Shutdown may have swept the hub before this connection registered
	if h.isClosing() {
		return
	}

	done := make(chan struct{})
	defer close(done)
	go keepAlive(conn, done)

	h.sendOnlineUsers(userID, wsConn)

	log.Info().Str("user_id", userID).Msg("WebSocket connection established")

	ctx := r.Context()
	for {
		_, messageBytes, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Error().Err(err).Str("user_id", userID).Msg("WebSocket error")
			}
			break
		}

		var msg services.WSMessage
		if err := json.Unmarshal(messageBytes, &msg); err != nil {
			log.Error().Err(err).Str("user_id", userID).Msg("Failed to parse WebSocket message")
			sendError(wsConn, "", "Invalid message format")
			continue
		}

		if err := h.handleMessage(ctx, userID, msg); err != nil {
			log.Error().Err(err).Str("user_id", userID).Str("type", msg.Type).Msg("Failed to handle message")
			sendError(wsConn, msg.TempID, clientMessage(err))
		}
	}
}

// Shutdown closes every live connection and waits for their handlers to
// return. Upgrades that arrive afterwards are refused.
func (h *WebSocketHandler) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	h.closing = true
	h.mu.Unlock()

	h.hub.CloseAll()

	finished := make(chan struct{})
	go func() {
		h.active.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for websocket handlers: %w", ctx.Err())
	}
}

// track counts a new connection unless the handler is shutting down
func (h *WebSocketHandler) track() bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closing {
		return false
	}
	h.active.Add(1)
	return true
}

func (h *WebSocketHandler) isClosing() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closing
}

// handleMessage processes incoming WebSocket messages
func (h *WebSocketHandler) handleMessage(ctx context.Context, userID string, msg services.WSMessage) error {
	switch msg.Type {
	case services.EventSendMessage:
		return h.handleSendMessage(ctx, userID, msg)
	case services.EventMarkRead:
		return h.messageService.MarkRead(ctx, msg.MessageID, userID)
	case services.EventCreateLoveNote:
		_, _, err := h.loveNoteService.CreateOrFetch(ctx, userID, msg.RecipientID)
		return err
	case services.EventAnswerLoveNote:
		// the answer slot is derived from the note, never from is_recipient
		_, err := h.loveNoteService.Answer(ctx, msg.LoveNoteID, userID, msg.Answer)
		return err
	default:
		return fmt.Errorf("%w: unknown message type %q", services.ErrInvalidInput, msg.Type)
	}
}

// handleSendMessage persists and relays a new message, or relays one already
// stored through the REST API when message_id is set
func (h *WebSocketHandler) handleSendMessage(ctx context.Context, userID string, msg services.WSMessage) error {
	if msg.MessageID != "" {
		_, err := h.messageService.Relay(ctx, msg.MessageID, userID, msg.TempID)
		return err
	}

	_, err := h.messageService.Send(ctx, userID, services.SendRequest{
		RecipientID:   msg.RecipientID,
		Content:       msg.Content,
		AttachmentURL: msg.AttachmentURL,
		TempID:        msg.TempID,
	})
	return err
}

func (h *WebSocketHandler) sendOnlineUsers(userID string, conn services.Conn) {
	others := []string{}
	for _, id := range h.hub.OnlineUserIDs() {
		if id != userID {
			others = append(others, id)
		}
	}

	if err := conn.Send(services.WSMessage{Type: services.EventOnlineUsers, Data: others}); err != nil {
		log.Error().
			Err(err).
			Str("user_id", userID).
			Msg("Failed to send online users")
	}
}

// keepAlive pings the client until done is closed
func keepAlive(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(10*time.Second)); err != nil {
				return
			}
		}
	}
}

// sendError sends an error event to the WebSocket connection
func sendError(conn services.Conn, tempID, message string) {
	conn.Send(services.WSMessage{
		Type:    services.EventError,
		TempID:  tempID,
		Message: message,
	})
}

func clientMessage(err error) string {
	if statusFor(err) == http.StatusInternalServerError {
		return "Internal server error"
	}
	return err.Error()
}
