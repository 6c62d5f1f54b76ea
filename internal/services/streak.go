package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"pairchat-backend/internal/models"

	"github.com/rs/zerolog/log"
)

// StreakRecorder records a chat interaction between two users
type StreakRecorder interface {
	RecordInteraction(ctx context.Context, userA, userB string) error
}

// StreakService maintains consecutive-day chat streaks per user pair.
// Day boundaries are calendar days in loc.
type StreakService struct {
	repo StreakStore
	loc  *time.Location
	now  func() time.Time
}

// NewStreakService creates a new streak service
func NewStreakService(repo StreakStore, loc *time.Location) *StreakService {
	if loc == nil {
		loc = time.UTC
	}
	return &StreakService{
		repo: repo,
		loc:  loc,
		now:  time.Now,
	}
}

// RecordInteraction counts today as a chat day for the pair
func (s *StreakService) RecordInteraction(ctx context.Context, userA, userB string) error {
	if err := validatePair(userA, userB); err != nil {
		return err
	}

	user1ID, user2ID := models.CanonicalPair(userA, userB)
	today := s.today()

	streak, err := s.repo.Get(ctx, user1ID, user2ID)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			return fmt.Errorf("failed to load streak: %w", err)
		}
		streak = &models.Streak{
			User1ID:       user1ID,
			User2ID:       user2ID,
			CurrentStreak: 1,
			LongestStreak: 1,
			LastChatDate:  &today,
		}
		if err := s.repo.Upsert(ctx, streak); err != nil {
			return fmt.Errorf("failed to create streak: %w", err)
		}
		return nil
	}

	yesterday := today.AddDate(0, 0, -1)

	switch last := s.lastChatDay(streak); {
	case last == nil:
		streak.CurrentStreak = 1
	case !last.Before(today):
		// already counted today
		return nil
	case last.Equal(yesterday):
		streak.CurrentStreak++
	default:
		streak.CurrentStreak = 1
	}

	if streak.CurrentStreak > streak.LongestStreak {
		streak.LongestStreak = streak.CurrentStreak
	}
	streak.LastChatDate = &today

	if err := s.repo.Upsert(ctx, streak); err != nil {
		return fmt.Errorf("failed to update streak: %w", err)
	}

	log.Debug().
		Str("user1_id", user1ID).
		Str("user2_id", user2ID).
		Int("current_streak", streak.CurrentStreak).
		Msg("Streak updated")

	return nil
}

// GetStreak returns the streak of a pair, decaying it to zero when the pair
// has not chatted today or yesterday
func (s *StreakService) GetStreak(ctx context.Context, userA, userB string) (*models.Streak, error) {
	if err := validatePair(userA, userB); err != nil {
		return nil, err
	}

	user1ID, user2ID := models.CanonicalPair(userA, userB)

	streak, err := s.repo.Get(ctx, user1ID, user2ID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return &models.Streak{User1ID: user1ID, User2ID: user2ID}, nil
		}
		return nil, fmt.Errorf("failed to load streak: %w", err)
	}

	yesterday := s.today().AddDate(0, 0, -1)
	last := s.lastChatDay(streak)
	if streak.CurrentStreak > 0 && (last == nil || last.Before(yesterday)) {
		streak.CurrentStreak = 0
		if err := s.repo.Upsert(ctx, streak); err != nil {
			// the decay is recomputed on the next read
			log.Warn().
				Err(err).
				Str("user1_id", user1ID).
				Str("user2_id", user2ID).
				Msg("Failed to persist streak decay")
		}
	}

	return streak, nil
}

func (s *StreakService) today() time.Time {
	return s.dayOf(s.now().In(s.loc))
}

// dayOf keeps the calendar date of t as stored and places it at midnight in s.loc
func (s *StreakService) dayOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, s.loc)
}

func (s *StreakService) lastChatDay(streak *models.Streak) *time.Time {
	if streak.LastChatDate == nil {
		return nil
	}
	day := s.dayOf(*streak.LastChatDate)
	return &day
}

func validatePair(userA, userB string) error {
	if userA == "" || userB == "" {
		return fmt.Errorf("%w: user ids are required", ErrInvalidInput)
	}
	if userA == userB {
		return fmt.Errorf("%w: users must differ", ErrInvalidInput)
	}
	return nil
}
