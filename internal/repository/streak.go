package repository

import (
	"context"
	"errors"
	"fmt"

	"pairchat-backend/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// StreakRepository handles database operations for pair streaks
type StreakRepository struct {
	db *pgxpool.Pool
}

// NewStreakRepository creates a new streak repository
func NewStreakRepository(db *pgxpool.Pool) *StreakRepository {
	return &StreakRepository{db: db}
}

// Get retrieves the streak of a canonical pair
func (r *StreakRepository) Get(ctx context.Context, user1ID, user2ID string) (*models.Streak, error) {
	query := `
		SELECT user1_id, user2_id, current_streak, longest_streak, last_chat_date
		FROM streaks
		WHERE user1_id = $1 AND user2_id = $2
	`
	var streak models.Streak
	err := r.db.QueryRow(ctx, query, user1ID, user2ID).Scan(
		&streak.User1ID, &streak.User2ID, &streak.CurrentStreak, &streak.LongestStreak, &streak.LastChatDate,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("streak %s/%s: %w", user1ID, user2ID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get streak: %w", err)
	}
	return &streak, nil
}

// Upsert creates or replaces the streak of a canonical pair
func (r *StreakRepository) Upsert(ctx context.Context, streak *models.Streak) error {
	query := `
		INSERT INTO streaks (user1_id, user2_id, current_streak, longest_streak, last_chat_date, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (user1_id, user2_id) DO UPDATE
		SET current_streak = EXCLUDED.current_streak,
		    longest_streak = EXCLUDED.longest_streak,
		    last_chat_date = EXCLUDED.last_chat_date,
		    updated_at = NOW()
	`
	_, err := r.db.Exec(ctx, query,
		streak.User1ID, streak.User2ID, streak.CurrentStreak, streak.LongestStreak, streak.LastChatDate,
	)
	if err != nil {
		if isForeignKeyViolation(err) {
			return fmt.Errorf("streak pair %s/%s: %w", streak.User1ID, streak.User2ID, ErrNotFound)
		}
		return fmt.Errorf("failed to upsert streak: %w", err)
	}
	return nil
}
