package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"pairchat-backend/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// LoveNoteRepository handles database operations for daily questions
type LoveNoteRepository struct {
	db *pgxpool.Pool
}

// NewLoveNoteRepository creates a new love note repository
func NewLoveNoteRepository(db *pgxpool.Pool) *LoveNoteRepository {
	return &LoveNoteRepository{db: db}
}

const loveNoteColumns = `id, sender_id, recipient_id, question, sender_answer, recipient_answer, created_at`

func scanLoveNote(row pgx.Row, note *models.LoveNote) error {
	return row.Scan(
		&note.ID, &note.SenderID, &note.RecipientID, &note.Question,
		&note.SenderAnswer, &note.RecipientAnswer, &note.CreatedAt,
	)
}

// Create inserts a new love note. A concurrent note for the same pair within
// the window trips the exclusion constraint and yields ErrConflict.
func (r *LoveNoteRepository) Create(ctx context.Context, note *models.LoveNote) error {
	query := `
		INSERT INTO love_notes (` + loveNoteColumns + `, pair_key, window_end)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := r.db.Exec(ctx, query,
		note.ID, note.SenderID, note.RecipientID, note.Question,
		note.SenderAnswer, note.RecipientAnswer, note.CreatedAt,
		models.PairKey(note.SenderID, note.RecipientID),
		note.CreatedAt.Add(models.LoveNoteWindow),
	)
	if err != nil {
		if isConflict(err) {
			return fmt.Errorf("love note for %s/%s: %w", note.SenderID, note.RecipientID, ErrConflict)
		}
		if isForeignKeyViolation(err) {
			return fmt.Errorf("love note party %s/%s: %w", note.SenderID, note.RecipientID, ErrNotFound)
		}
		return fmt.Errorf("failed to create love note: %w", err)
	}
	return nil
}

// GetByID retrieves a love note by ID
func (r *LoveNoteRepository) GetByID(ctx context.Context, id string) (*models.LoveNote, error) {
	query := `SELECT ` + loveNoteColumns + ` FROM love_notes WHERE id = $1`

	var note models.LoveNote
	if err := scanLoveNote(r.db.QueryRow(ctx, query, id), &note); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("love note %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get love note: %w", err)
	}
	return &note, nil
}

// FindActive retrieves the newest note between two users, in either direction, created at or after since
func (r *LoveNoteRepository) FindActive(ctx context.Context, userA, userB string, since time.Time) (*models.LoveNote, error) {
	query := `
		SELECT ` + loveNoteColumns + `
		FROM love_notes
		WHERE ((sender_id = $1 AND recipient_id = $2) OR (sender_id = $2 AND recipient_id = $1))
		  AND created_at >= $3
		ORDER BY created_at DESC
		LIMIT 1
	`
	var note models.LoveNote
	if err := scanLoveNote(r.db.QueryRow(ctx, query, userA, userB, since), &note); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("active love note for %s/%s: %w", userA, userB, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to find active love note: %w", err)
	}
	return &note, nil
}

// SetAnswer writes one answer slot and returns the updated note
func (r *LoveNoteRepository) SetAnswer(ctx context.Context, id string, recipient bool, answer string) (*models.LoveNote, error) {
	column := "sender_answer"
	if recipient {
		column = "recipient_answer"
	}
	query := `UPDATE love_notes SET ` + column + ` = $1 WHERE id = $2 RETURNING ` + loveNoteColumns

	var note models.LoveNote
	if err := scanLoveNote(r.db.QueryRow(ctx, query, answer, id), &note); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("love note %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to answer love note: %w", err)
	}
	return &note, nil
}
