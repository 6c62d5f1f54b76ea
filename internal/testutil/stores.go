// Package testutil holds in-memory stores and a controllable clock for tests.
package testutil

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"pairchat-backend/internal/models"
	"pairchat-backend/internal/repository"
)

// Clock is a manually advanced time source
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock creates a clock set to now
func NewClock(now time.Time) *Clock {
	return &Clock{now: now}
}

// Now returns the current fake time
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// UserStore is an in-memory user store
type UserStore struct {
	mu    sync.Mutex
	users map[string]models.User
}

// NewUserStore creates an empty user store
func NewUserStore() *UserStore {
	return &UserStore{users: make(map[string]models.User)}
}

func (s *UserStore) Create(_ context.Context, user *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[user.ID] = *user
	return nil
}

func (s *UserStore) GetByID(_ context.Context, id string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[id]
	if !ok {
		return nil, fmt.Errorf("user %s: %w", id, repository.ErrNotFound)
	}
	return &user, nil
}

func (s *UserStore) UpdatePushToken(_ context.Context, userID string, pushToken *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[userID]
	if !ok {
		return fmt.Errorf("user %s: %w", userID, repository.ErrNotFound)
	}
	user.PushToken = pushToken
	s.users[userID] = user
	return nil
}

// MessageStore is an in-memory message store
type MessageStore struct {
	mu        sync.Mutex
	messages  map[string]models.Message
	CreateErr error
}

// NewMessageStore creates an empty message store
func NewMessageStore() *MessageStore {
	return &MessageStore{messages: make(map[string]models.Message)}
}

func (s *MessageStore) Create(_ context.Context, msg *models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.CreateErr != nil {
		return s.CreateErr
	}
	s.messages[msg.ID] = *msg
	return nil
}

func (s *MessageStore) GetByID(_ context.Context, id string) (*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, ok := s.messages[id]
	if !ok {
		return nil, fmt.Errorf("message %s: %w", id, repository.ErrNotFound)
	}
	return &msg, nil
}

func (s *MessageStore) MarkRead(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, ok := s.messages[id]
	if !ok || msg.Read {
		return false, nil
	}
	msg.Read = true
	s.messages[id] = msg
	return true, nil
}

func (s *MessageStore) ListBetween(_ context.Context, userA, userB string, limit, offset int) ([]*models.Message, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var all []*models.Message
	for _, msg := range s.messages {
		if (msg.SenderID == userA && msg.RecipientID == userB) || (msg.SenderID == userB && msg.RecipientID == userA) {
			m := msg
			all = append(all, &m)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })

	total := len(all)
	if offset >= total {
		return []*models.Message{}, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return all[offset:end], total, nil
}

// Count returns the number of stored messages
func (s *MessageStore) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}

// LoveNoteStore is an in-memory love note store that enforces one note per
// pair per window like the database constraint
type LoveNoteStore struct {
	mu    sync.Mutex
	notes map[string]models.LoveNote
	// BeforeCreate runs before the uniqueness check, letting tests inject a concurrent winner
	BeforeCreate func(note *models.LoveNote)
}

// NewLoveNoteStore creates an empty love note store
func NewLoveNoteStore() *LoveNoteStore {
	return &LoveNoteStore{notes: make(map[string]models.LoveNote)}
}

// Insert stores a note without any checks
func (s *LoveNoteStore) Insert(note models.LoveNote) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notes[note.ID] = note
}

func (s *LoveNoteStore) Create(_ context.Context, note *models.LoveNote) error {
	if s.BeforeCreate != nil {
		s.BeforeCreate(note)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := models.PairKey(note.SenderID, note.RecipientID)
	for _, existing := range s.notes {
		if models.PairKey(existing.SenderID, existing.RecipientID) != key {
			continue
		}
		gap := note.CreatedAt.Sub(existing.CreatedAt)
		if gap < models.LoveNoteWindow && gap > -models.LoveNoteWindow {
			return fmt.Errorf("love note for %s: %w", key, repository.ErrConflict)
		}
	}
	s.notes[note.ID] = *note
	return nil
}

func (s *LoveNoteStore) GetByID(_ context.Context, id string) (*models.LoveNote, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	note, ok := s.notes[id]
	if !ok {
		return nil, fmt.Errorf("love note %s: %w", id, repository.ErrNotFound)
	}
	return &note, nil
}

func (s *LoveNoteStore) FindActive(_ context.Context, userA, userB string, since time.Time) (*models.LoveNote, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var found *models.LoveNote
	for _, note := range s.notes {
		pairMatch := (note.SenderID == userA && note.RecipientID == userB) ||
			(note.SenderID == userB && note.RecipientID == userA)
		if !pairMatch || note.CreatedAt.Before(since) {
			continue
		}
		if found == nil || note.CreatedAt.After(found.CreatedAt) {
			n := note
			found = &n
		}
	}
	if found == nil {
		return nil, fmt.Errorf("active love note: %w", repository.ErrNotFound)
	}
	return found, nil
}

func (s *LoveNoteStore) SetAnswer(_ context.Context, id string, recipient bool, answer string) (*models.LoveNote, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	note, ok := s.notes[id]
	if !ok {
		return nil, fmt.Errorf("love note %s: %w", id, repository.ErrNotFound)
	}
	if recipient {
		note.RecipientAnswer = &answer
	} else {
		note.SenderAnswer = &answer
	}
	s.notes[id] = note
	return &note, nil
}

// Count returns the number of stored notes
func (s *LoveNoteStore) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.notes)
}

// StreakStore is an in-memory streak store
type StreakStore struct {
	mu        sync.Mutex
	streaks   map[string]models.Streak
	UpsertErr error
	upserts   int
}

// NewStreakStore creates an empty streak store
func NewStreakStore() *StreakStore {
	return &StreakStore{streaks: make(map[string]models.Streak)}
}

func (s *StreakStore) Get(_ context.Context, user1ID, user2ID string) (*models.Streak, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	streak, ok := s.streaks[user1ID+":"+user2ID]
	if !ok {
		return nil, fmt.Errorf("streak: %w", repository.ErrNotFound)
	}
	return &streak, nil
}

func (s *StreakStore) Upsert(_ context.Context, streak *models.Streak) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.UpsertErr != nil {
		return s.UpsertErr
	}
	if streak.User1ID >= streak.User2ID {
		return errors.New("streak pair is not canonical")
	}
	s.streaks[streak.User1ID+":"+streak.User2ID] = *streak
	s.upserts++
	return nil
}

// Upserts returns how many writes reached the store
func (s *StreakStore) Upserts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upserts
}
