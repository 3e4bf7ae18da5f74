package notification

import (
	"encoding/json"
	"errors"
	"time"
)

// ErrMissingFields is returned when a create request fails validation.
// Validation happens before any row is inserted or email attempted.
var ErrMissingFields = errors.New("missing required fields")

// ErrEmailDelivery indicates the notifications were persisted but the batch
// email submission to the provider failed. The rows remain valid.
var ErrEmailDelivery = errors.New("email delivery failed")

// Notification is a single delivered (or deliverable) notification row.
// ReadAt is set at most once; a nil ReadAt means unread.
type Notification struct {
	ID          int64           `json:"id"`
	UserID      int64           `json:"user_id"`
	TypeID      int64           `json:"type_id"`
	Title       string          `json:"title"`
	Message     string          `json:"message"`
	RedirectURL *string         `json:"redirect_url,omitempty"`
	Data        json.RawMessage `json:"data,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	ReadAt      *time.Time      `json:"read_at,omitempty"`
}

// Unread reports whether the notification has not been marked read.
func (n *Notification) Unread() bool {
	return n.ReadAt == nil
}

// CreateRequest is the payload for creating one notification per target user
// and fanning out the batched email side effect.
type CreateRequest struct {
	UserIDs     []int64         `json:"userIds"`
	TypeID      int64           `json:"typeId"`
	Title       string          `json:"title"`
	Message     string          `json:"message"`
	RedirectURL string          `json:"redirectUrl,omitempty"`
	Data        json.RawMessage `json:"data,omitempty"`
}

// Validate enforces the hard precondition for CreateAndNotify: at least one
// recipient, a type, a title and a message.
func (r *CreateRequest) Validate() error {
	if len(r.UserIDs) == 0 || r.TypeID == 0 || r.Title == "" || r.Message == "" {
		return ErrMissingFields
	}
	return nil
}

// Recipient is a resolved email target: a user whose stored preference allows
// email notifications, together with their address.
type Recipient struct {
	UserID int64  `json:"user_id"`
	Email  string `json:"email"`
}

// EmailResult summarizes one batch submission to the email provider.
type EmailResult struct {
	Requested int      `json:"requested"`
	Sent      int      `json:"sent"`
	Skipped   int      `json:"skipped"`
	IDs       []string `json:"ids,omitempty"`
}
