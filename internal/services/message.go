package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"pairchat-backend/internal/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const (
	maxContentLength  = 4000
	defaultPageSize   = 50
	maxPageSize       = 100
	sideEffectTimeout = 10 * time.Second
)

// SendRequest describes a message a user wants to send
type SendRequest struct {
	RecipientID   string `json:"recipient_id"`
	Content       string `json:"content"`
	AttachmentURL string `json:"attachment_url,omitempty"`
	TempID        string `json:"temp_id,omitempty"`
}

// MessageService persists direct messages and relays them to live connections
type MessageService struct {
	repo    MessageStore
	streaks StreakRecorder
	hub     Notifier
	pusher  Pusher
	now     func() time.Time

	mu      sync.Mutex
	closing bool
	pending sync.WaitGroup
}

// NewMessageService creates a new message service. pusher may be nil.
func NewMessageService(repo MessageStore, streaks StreakRecorder, hub Notifier, pusher Pusher) *MessageService {
	return &MessageService{
		repo:    repo,
		streaks: streaks,
		hub:     hub,
		pusher:  pusher,
		now:     time.Now,
	}
}

// Create persists a message and records the streak interaction without any live push
func (s *MessageService) Create(ctx context.Context, senderID string, req SendRequest) (*models.Message, error) {
	if err := validatePair(senderID, req.RecipientID); err != nil {
		return nil, err
	}

	content := strings.TrimSpace(req.Content)
	if content == "" && req.AttachmentURL == "" {
		return nil, fmt.Errorf("%w: content is required", ErrInvalidInput)
	}
	if len(content) > maxContentLength {
		return nil, fmt.Errorf("%w: content exceeds %d bytes", ErrInvalidInput, maxContentLength)
	}

	msg := &models.Message{
		ID:          uuid.New().String(),
		SenderID:    senderID,
		RecipientID: req.RecipientID,
		Content:     content,
		Read:        false,
		CreatedAt:   s.now(),
	}
	if req.AttachmentURL != "" {
		attachmentURL := req.AttachmentURL
		msg.AttachmentURL = &attachmentURL
	}

	if err := s.repo.Create(ctx, msg); err != nil {
		return nil, fmt.Errorf("failed to create message: %w", err)
	}

	s.background(func(ctx context.Context) {
		if err := s.streaks.RecordInteraction(ctx, msg.SenderID, msg.RecipientID); err != nil {
			log.Error().
				Err(err).
				Str("sender_id", msg.SenderID).
				Str("recipient_id", msg.RecipientID).
				Msg("Failed to record streak interaction")
		}
	})

	return msg, nil
}

// Send persists a message, pushes it to the recipient if connected and
// confirms it to the sender with the client's temporary id
func (s *MessageService) Send(ctx context.Context, senderID string, req SendRequest) (*models.Message, error) {
	msg, err := s.Create(ctx, senderID, req)
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("message_id", msg.ID).
		Str("sender_id", msg.SenderID).
		Str("recipient_id", msg.RecipientID).
		Msg("Message sent")

	s.deliver(msg, req.TempID)
	return msg, nil
}

// Relay pushes a message that was already persisted through another channel.
// The message is neither stored again nor counted towards the streak.
func (s *MessageService) Relay(ctx context.Context, messageID, requesterID, tempID string) (*models.Message, error) {
	if messageID == "" {
		return nil, fmt.Errorf("%w: message_id is required", ErrInvalidInput)
	}

	msg, err := s.repo.GetByID(ctx, messageID)
	if err != nil {
		return nil, fmt.Errorf("failed to get message: %w", err)
	}

	if msg.SenderID != requesterID {
		return nil, fmt.Errorf("user %s did not send message %s: %w", requesterID, messageID, ErrForbidden)
	}

	s.deliver(msg, tempID)
	return msg, nil
}

// MarkRead marks a message read on behalf of its recipient and notifies the original sender
func (s *MessageService) MarkRead(ctx context.Context, messageID, requesterID string) error {
	if messageID == "" {
		return fmt.Errorf("%w: message_id is required", ErrInvalidInput)
	}

	msg, err := s.repo.GetByID(ctx, messageID)
	if err != nil {
		return fmt.Errorf("failed to get message: %w", err)
	}

	if msg.RecipientID != requesterID {
		return fmt.Errorf("user %s is not the recipient of message %s: %w", requesterID, messageID, ErrForbidden)
	}

	changed, err := s.repo.MarkRead(ctx, messageID)
	if err != nil {
		return fmt.Errorf("failed to mark message read: %w", err)
	}
	if !changed {
		return nil
	}

	notify(s.hub, msg.SenderID, WSMessage{
		Type:        EventMessageRead,
		MessageID:   msg.ID,
		RecipientID: msg.RecipientID,
	})

	return nil
}

// History returns the conversation between userID and otherID, newest first
func (s *MessageService) History(ctx context.Context, userID, otherID string, limit, offset int) ([]*models.Message, int, error) {
	if err := validatePair(userID, otherID); err != nil {
		return nil, 0, err
	}

	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	if offset < 0 {
		offset = 0
	}

	messages, total, err := s.repo.ListBetween(ctx, userID, otherID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list messages: %w", err)
	}
	return messages, total, nil
}

// Wait blocks until pending side effects have finished
func (s *MessageService) Wait() {
	s.pending.Wait()
}

// Close stops accepting side effects and waits for the pending ones.
// Messages are still persisted after Close, only streak updates and pushes are skipped.
func (s *MessageService) Close() {
	s.mu.Lock()
	s.closing = true
	s.mu.Unlock()

	s.pending.Wait()
}

func (s *MessageService) deliver(msg *models.Message, tempID string) {
	err := s.hub.SendToUser(msg.RecipientID, WSMessage{
		Type:      EventNewMessage,
		MessageID: msg.ID,
		Data:      msg,
	})
	switch {
	case err == nil:
	case errors.Is(err, ErrUserOffline):
		s.pushOffline(msg)
	default:
		log.Warn().
			Err(err).
			Str("message_id", msg.ID).
			Str("recipient_id", msg.RecipientID).
			Msg("Failed to relay message")
	}

	notify(s.hub, msg.SenderID, WSMessage{
		Type:      EventNewMessage,
		MessageID: msg.ID,
		TempID:    tempID,
		Data:      msg,
	})
}

func (s *MessageService) pushOffline(msg *models.Message) {
	if s.pusher == nil {
		return
	}

	body := msg.Content
	if body == "" {
		body = "Sent an attachment"
	}

	s.background(func(ctx context.Context) {
		if err := s.pusher.Notify(ctx, msg.RecipientID, "New message", body); err != nil {
			log.Warn().
				Err(err).
				Str("message_id", msg.ID).
				Str("recipient_id", msg.RecipientID).
				Msg("Failed to send push notification")
		}
	})
}

// background runs fn detached from the request that triggered it
func (s *MessageService) background(fn func(ctx context.Context)) {
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		log.Warn().Msg("Message service closing, skipping side effect")
		return
	}
	s.pending.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.pending.Done()

		ctx, cancel := context.WithTimeout(context.Background(), sideEffectTimeout)
		defer cancel()

		fn(ctx)
	}()
}
