package repository

import (
	"context"
	"errors"
	"fmt"

	"pairchat-backend/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// MessageRepository handles database operations for direct messages
type MessageRepository struct {
	db *pgxpool.Pool
}

// NewMessageRepository creates a new message repository
func NewMessageRepository(db *pgxpool.Pool) *MessageRepository {
	return &MessageRepository{db: db}
}

const messageColumns = `id, sender_id, recipient_id, content, attachment_url, read, created_at`

func scanMessage(row pgx.Row, msg *models.Message) error {
	return row.Scan(
		&msg.ID, &msg.SenderID, &msg.RecipientID, &msg.Content,
		&msg.AttachmentURL, &msg.Read, &msg.CreatedAt,
	)
}

// Create creates a new message
func (r *MessageRepository) Create(ctx context.Context, msg *models.Message) error {
	query := `
		INSERT INTO messages (` + messageColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := r.db.Exec(ctx, query,
		msg.ID, msg.SenderID, msg.RecipientID, msg.Content, msg.AttachmentURL, msg.Read, msg.CreatedAt,
	)
	if err != nil {
		if isForeignKeyViolation(err) {
			return fmt.Errorf("message party %s/%s: %w", msg.SenderID, msg.RecipientID, ErrNotFound)
		}
		return fmt.Errorf("failed to create message: %w", err)
	}
	return nil
}

// GetByID retrieves a message by ID
func (r *MessageRepository) GetByID(ctx context.Context, id string) (*models.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE id = $1`

	var msg models.Message
	if err := scanMessage(r.db.QueryRow(ctx, query, id), &msg); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("message %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get message: %w", err)
	}
	return &msg, nil
}

// MarkRead sets the read flag and reports whether it changed
func (r *MessageRepository) MarkRead(ctx context.Context, id string) (bool, error) {
	query := `UPDATE messages SET read = TRUE WHERE id = $1 AND read = FALSE`
	result, err := r.db.Exec(ctx, query, id)
	if err != nil {
		return false, fmt.Errorf("failed to mark message read: %w", err)
	}
	return result.RowsAffected() > 0, nil
}

// ListBetween retrieves the conversation of two users, newest first, with pagination
func (r *MessageRepository) ListBetween(ctx context.Context, userA, userB string, limit, offset int) ([]*models.Message, int, error) {
	// Same shape as messages_pair_created_idx
	lo, hi := models.CanonicalPair(userA, userB)

	countQuery := `
		SELECT COUNT(*) FROM messages
		WHERE LEAST(sender_id, recipient_id) = $1 AND GREATEST(sender_id, recipient_id) = $2
	`
	var total int
	if err := r.db.QueryRow(ctx, countQuery, lo, hi).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count messages: %w", err)
	}

	query := `
		SELECT ` + messageColumns + `
		FROM messages
		WHERE LEAST(sender_id, recipient_id) = $1 AND GREATEST(sender_id, recipient_id) = $2
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4
	`
	rows, err := r.db.Query(ctx, query, lo, hi, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to get messages: %w", err)
	}
	defer rows.Close()

	messages := make([]*models.Message, 0, limit)
	for rows.Next() {
		var msg models.Message
		if err := scanMessage(rows, &msg); err != nil {
			return nil, 0, fmt.Errorf("failed to scan message: %w", err)
		}
		messages = append(messages, &msg)
	}

	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("error iterating messages: %w", err)
	}

	return messages, total, nil
}
