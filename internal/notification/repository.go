package notification

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"strings"

	"github.com/lib/pq"
)

// Schema creates the notification tables and indexes. Embedded so applying it
// at boot does not depend on the working directory the binary runs from.
//
//go:embed schema.sql
var Schema string

// Store is the persistence contract for notification rows. The SQL-backed
// Repository is the production implementation; MemoryStore backs tests and
// database-less development runs.
type Store interface {
	CreateBatch(ctx context.Context, req *CreateRequest) ([]*Notification, error)
	RecentForUser(ctx context.Context, userID int64, limit int) ([]*Notification, error)
	ListPage(ctx context.Context, userID int64, page, size int) ([]*Notification, error)
	UnreadCount(ctx context.Context, userID int64) (int, error)
	MarkRead(ctx context.Context, userID, id int64) error
	MarkAllRead(ctx context.Context, userID int64) error
}

// Repository handles database operations for notifications.
type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const notificationColumns = "id, user_id, type_id, title, message, redirect_url, data, created_at, read_at"

// CreateBatch inserts one notification row per target user in a single
// multi-row statement, so the batch is atomic: either every target gets a row
// or none does.
func (r *Repository) CreateBatch(ctx context.Context, req *CreateRequest) ([]*Notification, error) {
	if len(req.UserIDs) == 0 {
		return nil, ErrMissingFields
	}

	var redirect sql.NullString
	if req.RedirectURL != "" {
		redirect = sql.NullString{String: req.RedirectURL, Valid: true}
	}
	var data []byte
	if len(req.Data) > 0 {
		data = req.Data
	}

	values := make([]string, 0, len(req.UserIDs))
	args := make([]any, 0, len(req.UserIDs)+5)
	args = append(args, req.TypeID, req.Title, req.Message, redirect, data)
	for i, userID := range req.UserIDs {
		values = append(values, fmt.Sprintf("($%d, $1, $2, $3, $4, $5)", i+6))
		args = append(args, userID)
	}

	query := `
		INSERT INTO notifications (user_id, type_id, title, message, redirect_url, data)
		VALUES ` + strings.Join(values, ", ") + `
		RETURNING ` + notificationColumns

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("insert notifications: %w", err)
	}
	defer rows.Close()

	return scanNotifications(rows)
}

// RecentForUser returns the most recent notifications for a user, newest
// first. It backs the initial snapshot on the live stream.
func (r *Repository) RecentForUser(ctx context.Context, userID int64, limit int) ([]*Notification, error) {
	query := `
		SELECT ` + notificationColumns + `
		FROM notifications WHERE user_id = $1 ORDER BY id DESC LIMIT $2
	`
	rows, err := r.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent notifications: %w", err)
	}
	defer rows.Close()

	return scanNotifications(rows)
}

// ListPage returns one page of a user's notifications, newest first. Pages
// are 1-based.
func (r *Repository) ListPage(ctx context.Context, userID int64, page, size int) ([]*Notification, error) {
	if page < 1 {
		page = 1
	}
	query := `
		SELECT ` + notificationColumns + `
		FROM notifications WHERE user_id = $1 ORDER BY id DESC LIMIT $2 OFFSET $3
	`
	rows, err := r.db.QueryContext(ctx, query, userID, size, (page-1)*size)
	if err != nil {
		return nil, fmt.Errorf("query notifications page: %w", err)
	}
	defer rows.Close()

	return scanNotifications(rows)
}

// UnreadCount returns the number of unread notifications for a user.
func (r *Repository) UnreadCount(ctx context.Context, userID int64) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM notifications WHERE user_id = $1 AND read_at IS NULL`,
		userID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count unread notifications: %w", err)
	}
	return count, nil
}

// MarkRead sets read_at on a single notification. The read_at IS NULL
// predicate makes the update idempotent and keeps read_at monotonic: a second
// call matches zero rows and is a no-op, and concurrent tabs cannot overwrite
// an earlier timestamp.
func (r *Repository) MarkRead(ctx context.Context, userID, id int64) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE notifications SET read_at = NOW() WHERE id = $1 AND user_id = $2 AND read_at IS NULL`,
		id, userID,
	)
	if err != nil {
		return fmt.Errorf("mark notification read: %w", err)
	}
	return nil
}

// MarkAllRead sets read_at on every unread notification owned by the user.
func (r *Repository) MarkAllRead(ctx context.Context, userID int64) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE notifications SET read_at = NOW() WHERE user_id = $1 AND read_at IS NULL`,
		userID,
	)
	if err != nil {
		return fmt.Errorf("mark all notifications read: %w", err)
	}
	return nil
}

func scanNotifications(rows *sql.Rows) ([]*Notification, error) {
	var notifications []*Notification
	for rows.Next() {
		var (
			n        Notification
			redirect sql.NullString
			data     []byte
		)
		if err := rows.Scan(&n.ID, &n.UserID, &n.TypeID, &n.Title, &n.Message, &redirect, &data, &n.CreatedAt, &n.ReadAt); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		if redirect.Valid {
			n.RedirectURL = &redirect.String
		}
		if len(data) > 0 {
			n.Data = data
		}
		notifications = append(notifications, &n)
	}
	return notifications, rows.Err()
}

// PreferenceSource resolves which of the target users may receive email and at
// what address. It is an external collaborator boundary: the fan-out never
// inspects preference rows directly.
type PreferenceSource interface {
	EligibleRecipients(ctx context.Context, userIDs []int64) ([]Recipient, error)
}

// PreferenceRepository reads notification preferences owned by the user
// service's schema.
type PreferenceRepository struct {
	db *sql.DB
}

func NewPreferenceRepository(db *sql.DB) *PreferenceRepository {
	return &PreferenceRepository{db: db}
}

// EligibleRecipients returns the subset of the given users whose stored
// preference allows email notifications, with their addresses.
func (r *PreferenceRepository) EligibleRecipients(ctx context.Context, userIDs []int64) ([]Recipient, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT user_id, email FROM notification_preferences WHERE user_id = ANY($1) AND email_enabled`,
		pq.Array(userIDs),
	)
	if err != nil {
		return nil, fmt.Errorf("query eligible recipients: %w", err)
	}
	defer rows.Close()

	var recipients []Recipient
	for rows.Next() {
		var rec Recipient
		if err := rows.Scan(&rec.UserID, &rec.Email); err != nil {
			return nil, fmt.Errorf("scan recipient: %w", err)
		}
		recipients = append(recipients, rec)
	}
	return recipients, rows.Err()
}
