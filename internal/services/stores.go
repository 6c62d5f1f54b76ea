package services

import (
	"context"
	"time"

	"pairchat-backend/internal/models"
)

// The repository package provides the PostgreSQL implementations of these stores.

// UserStore persists users
type UserStore interface {
	Create(ctx context.Context, user *models.User) error
	GetByID(ctx context.Context, id string) (*models.User, error)
	UpdatePushToken(ctx context.Context, userID string, pushToken *string) error
}

// MessageStore persists direct messages
type MessageStore interface {
	Create(ctx context.Context, msg *models.Message) error
	GetByID(ctx context.Context, id string) (*models.Message, error)
	MarkRead(ctx context.Context, id string) (bool, error)
	ListBetween(ctx context.Context, userA, userB string, limit, offset int) ([]*models.Message, int, error)
}

// LoveNoteStore persists daily questions
type LoveNoteStore interface {
	Create(ctx context.Context, note *models.LoveNote) error
	GetByID(ctx context.Context, id string) (*models.LoveNote, error)
	FindActive(ctx context.Context, userA, userB string, since time.Time) (*models.LoveNote, error)
	SetAnswer(ctx context.Context, id string, recipient bool, answer string) (*models.LoveNote, error)
}

// StreakStore persists pair streaks keyed by canonical pair
type StreakStore interface {
	Get(ctx context.Context, user1ID, user2ID string) (*models.Streak, error)
	Upsert(ctx context.Context, streak *models.Streak) error
}
