package services

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// WebSocket event types
const (
	EventSendMessage     = "send_message"
	EventNewMessage      = "new_message"
	EventMarkRead        = "mark_read"
	EventMessageRead     = "message_read"
	EventCreateLoveNote  = "create_love_note"
	EventNewLoveNote     = "new_love_note"
	EventAnswerLoveNote  = "answer_love_note"
	EventLoveNoteUpdated = "love_note_updated"
	EventUserStatus      = "user_status"
	EventOnlineUsers     = "online_users"
	EventError           = "error"
)

const writeWait = 10 * time.Second

// WSMessage represents a WebSocket message
type WSMessage struct {
	Type          string      `json:"type"`
	TempID        string      `json:"temp_id,omitempty"`
	MessageID     string      `json:"message_id,omitempty"`
	RecipientID   string      `json:"recipient_id,omitempty"`
	Content       string      `json:"content,omitempty"`
	AttachmentURL string      `json:"attachment_url,omitempty"`
	LoveNoteID    string      `json:"love_note_id,omitempty"`
	Answer        string      `json:"answer,omitempty"`
	IsRecipient   *bool       `json:"is_recipient,omitempty"` // accepted for old clients, never trusted
	UserID        string      `json:"user_id,omitempty"`
	Online        *bool       `json:"online,omitempty"`
	Message       string      `json:"message,omitempty"`
	Data          interface{} `json:"data,omitempty"`
}

// Notifier pushes events to users that are currently connected
type Notifier interface {
	SendToUser(userID string, msg WSMessage) error
	IsOnline(userID string) bool
}

// WSHub manages WebSocket connections on top of a Registry
type WSHub struct {
	registry Registry
}

// NewWSHub creates a new WebSocket hub
func NewWSHub(registry Registry) *WSHub {
	return &WSHub{registry: registry}
}

// Register registers a new connection for a user and announces the user as online
func (h *WSHub) Register(userID string, conn Conn) {
	// Close existing connection if any
	if previous := h.registry.Register(userID, conn); previous != nil && previous != conn {
		previous.Close()
	}

	log.Info().Str("user_id", userID).Msg("WebSocket connection registered")

	h.broadcastStatus(userID, true)
}

// Unregister removes a user's connection and announces the user as offline.
// A handle that was already replaced by a newer connection is only closed.
func (h *WSHub) Unregister(userID string, conn Conn) {
	removed := h.registry.Unregister(userID, conn)
	conn.Close()
	if !removed {
		return
	}

	log.Info().Str("user_id", userID).Msg("WebSocket connection unregistered")

	h.broadcastStatus(userID, false)
}

// SendToUser sends a message to a specific user
func (h *WSHub) SendToUser(userID string, msg WSMessage) error {
	conn, ok := h.registry.Lookup(userID)
	if !ok {
		return fmt.Errorf("user %s: %w", userID, ErrUserOffline)
	}

	if err := conn.Send(msg); err != nil {
		h.Unregister(userID, conn)
		return fmt.Errorf("failed to send message: %w", err)
	}

	return nil
}

// IsOnline checks if a user is online
func (h *WSHub) IsOnline(userID string) bool {
	_, ok := h.registry.Lookup(userID)
	return ok
}

// OnlineUserIDs lists connected users
func (h *WSHub) OnlineUserIDs() []string {
	return h.registry.OnlineUserIDs()
}

// CloseAll unregisters and closes every connection accepted by this process
func (h *WSHub) CloseAll() {
	conns := h.registry.LocalConnections()
	for userID, conn := range conns {
		h.Unregister(userID, conn)
	}
	if len(conns) > 0 {
		log.Info().Int("count", len(conns)).Msg("Closed WebSocket connections")
	}
}

func (h *WSHub) broadcastStatus(userID string, online bool) {
	h.registry.Broadcast(WSMessage{
		Type:   EventUserStatus,
		UserID: userID,
		Online: &online,
	}, userID)
}

// WSConn adapts a gorilla connection to Conn. Writes are serialized.
type WSConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

// NewWSConn wraps a WebSocket connection
func NewWSConn(conn *websocket.Conn) *WSConn {
	return &WSConn{conn: conn}
}

// Send writes msg as a JSON text frame
func (c *WSConn) Send(msg WSMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Close closes the underlying connection
func (c *WSConn) Close() error {
	return c.conn.Close()
}
