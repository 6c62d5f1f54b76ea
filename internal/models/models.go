package models

import "time"

// LoveNoteWindow is the rolling period in which a pair shares one love note
const LoveNoteWindow = 24 * time.Hour

// User represents a user in the system
type User struct {
	ID          string    `json:"id"`
	DisplayName string    `json:"display_name"`
	Token       string    `json:"token,omitempty"`
	PushToken   *string   `json:"push_token,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Message represents a direct message between two users
type Message struct {
	ID            string    `json:"id"`
	SenderID      string    `json:"sender_id"`
	RecipientID   string    `json:"recipient_id"`
	Content       string    `json:"content"`
	AttachmentURL *string   `json:"attachment_url,omitempty"`
	Read          bool      `json:"read"`
	CreatedAt     time.Time `json:"created_at"`
}

// LoveNote represents a daily question shared by two users
type LoveNote struct {
	ID              string    `json:"id"`
	SenderID        string    `json:"sender_id"`
	RecipientID     string    `json:"recipient_id"`
	Question        string    `json:"question"`
	SenderAnswer    *string   `json:"sender_answer"`
	RecipientAnswer *string   `json:"recipient_answer"`
	CreatedAt       time.Time `json:"created_at"`
}

// HasParty reports whether userID is the sender or the recipient of the note
func (n *LoveNote) HasParty(userID string) bool {
	return n.SenderID == userID || n.RecipientID == userID
}

// Streak represents the consecutive-day chat counter of a user pair.
// User1ID is always lexicographically smaller than User2ID.
type Streak struct {
	User1ID       string     `json:"user1_id"`
	User2ID       string     `json:"user2_id"`
	CurrentStreak int        `json:"current_streak"`
	LongestStreak int        `json:"longest_streak"`
	LastChatDate  *time.Time `json:"last_chat_date"`
}

// CanonicalPair orders two user ids so that the smaller one comes first
func CanonicalPair(a, b string) (string, string) {
	if a > b {
		return b, a
	}
	return a, b
}

// PairKey returns a direction-independent key for a user pair
func PairKey(a, b string) string {
	lo, hi := CanonicalPair(a, b)
	return lo + ":" + hi
}
