package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"pairchat-backend/internal/models"
	"pairchat-backend/internal/repository"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// LoveNoteWindow is the rolling lookback in which a pair shares one love note
const LoveNoteWindow = models.LoveNoteWindow

const maxAnswerLength = 2000

// LoveNoteService manages daily questions between two users
type LoveNoteService struct {
	repo      LoveNoteStore
	questions QuestionSource
	hub       Notifier
	now       func() time.Time
}

// NewLoveNoteService creates a new love note service
func NewLoveNoteService(repo LoveNoteStore, questions QuestionSource, hub Notifier) *LoveNoteService {
	return &LoveNoteService{
		repo:      repo,
		questions: questions,
		hub:       hub,
		now:       time.Now,
	}
}

// CreateOrFetch returns the pair's note for the current window, creating one
// when none exists. created reports whether this call inserted the note.
func (s *LoveNoteService) CreateOrFetch(ctx context.Context, requesterID, recipientID string) (*models.LoveNote, bool, error) {
	if err := validatePair(requesterID, recipientID); err != nil {
		return nil, false, err
	}

	since := s.now().Add(-LoveNoteWindow)

	note, err := s.repo.FindActive(ctx, requesterID, recipientID, since)
	created := false
	switch {
	case err == nil:
	case errors.Is(err, ErrNotFound):
		note, created, err = s.create(ctx, requesterID, recipientID, since)
		if err != nil {
			return nil, false, err
		}
	default:
		return nil, false, fmt.Errorf("failed to find love note: %w", err)
	}

	if created {
		log.Info().
			Str("love_note_id", note.ID).
			Str("sender_id", note.SenderID).
			Str("recipient_id", note.RecipientID).
			Msg("Love note created")
	}

	s.notifyParties(note, EventNewLoveNote)

	return note, created, nil
}

func (s *LoveNoteService) create(ctx context.Context, requesterID, recipientID string, since time.Time) (*models.LoveNote, bool, error) {
	note := &models.LoveNote{
		ID:          uuid.New().String(),
		SenderID:    requesterID,
		RecipientID: recipientID,
		Question:    s.questions.Pick(requesterID, recipientID),
		CreatedAt:   s.now(),
	}

	err := s.repo.Create(ctx, note)
	if err == nil {
		return note, true, nil
	}
	if !errors.Is(err, repository.ErrConflict) {
		return nil, false, fmt.Errorf("failed to create love note: %w", err)
	}

	// A concurrent request created the note first
	existing, ferr := s.repo.FindActive(ctx, requesterID, recipientID, since)
	if ferr != nil {
		return nil, false, fmt.Errorf("failed to load concurrent love note: %w", ferr)
	}

	log.Debug().
		Str("love_note_id", existing.ID).
		Str("requester_id", requesterID).
		Msg("Love note creation lost race, returning existing note")

	return existing, false, nil
}

// Answer stores requesterID's answer. The answer slot follows the requester's
// role on the note.
func (s *LoveNoteService) Answer(ctx context.Context, noteID, requesterID, answer string) (*models.LoveNote, error) {
	answer = strings.TrimSpace(answer)
	if answer == "" {
		return nil, fmt.Errorf("%w: answer is required", ErrInvalidInput)
	}
	if len(answer) > maxAnswerLength {
		return nil, fmt.Errorf("%w: answer exceeds %d bytes", ErrInvalidInput, maxAnswerLength)
	}

	note, err := s.Get(ctx, noteID, requesterID)
	if err != nil {
		return nil, err
	}

	isRecipient := requesterID == note.RecipientID

	updated, err := s.repo.SetAnswer(ctx, note.ID, isRecipient, answer)
	if err != nil {
		return nil, fmt.Errorf("failed to answer love note: %w", err)
	}

	log.Info().
		Str("love_note_id", updated.ID).
		Str("user_id", requesterID).
		Bool("is_recipient", isRecipient).
		Msg("Love note answered")

	s.notifyParties(updated, EventLoveNoteUpdated)

	return updated, nil
}

// Get returns a note visible to requesterID
func (s *LoveNoteService) Get(ctx context.Context, noteID, requesterID string) (*models.LoveNote, error) {
	if noteID == "" {
		return nil, fmt.Errorf("%w: love_note_id is required", ErrInvalidInput)
	}

	note, err := s.repo.GetByID(ctx, noteID)
	if err != nil {
		return nil, fmt.Errorf("failed to get love note: %w", err)
	}

	if !note.HasParty(requesterID) {
		return nil, fmt.Errorf("user %s is not a party to love note %s: %w", requesterID, noteID, ErrForbidden)
	}

	return note, nil
}

// Active returns the pair's note for the current window without creating one
func (s *LoveNoteService) Active(ctx context.Context, userA, userB string) (*models.LoveNote, error) {
	if err := validatePair(userA, userB); err != nil {
		return nil, err
	}

	note, err := s.repo.FindActive(ctx, userA, userB, s.now().Add(-LoveNoteWindow))
	if err != nil {
		return nil, fmt.Errorf("failed to find love note: %w", err)
	}
	return note, nil
}

func (s *LoveNoteService) notifyParties(note *models.LoveNote, eventType string) {
	msg := WSMessage{
		Type:       eventType,
		LoveNoteID: note.ID,
		Data:       note,
	}
	notify(s.hub, note.SenderID, msg)
	notify(s.hub, note.RecipientID, msg)
}

// notify pushes msg to a connected user. Offline users are skipped and
// delivery failures are logged only.
func notify(hub Notifier, userID string, msg WSMessage) {
	if err := hub.SendToUser(userID, msg); err != nil {
		if errors.Is(err, ErrUserOffline) {
			return
		}
		log.Warn().
			Err(err).
			Str("user_id", userID).
			Str("type", msg.Type).
			Msg("Failed to push event")
	}
}
