package notification

import (
	"context"
	"fmt"
	"log"
)

// Emailer is the batch fan-out side effect. Satisfied by EmailService; tests
// substitute a fake.
type Emailer interface {
	SendBatch(ctx context.Context, recipients []Recipient, req *CreateRequest) (*EmailResult, error)
}

// Announcer publishes a persisted batch to the change-publication mechanism.
// Satisfied by Publisher.
type Announcer interface {
	Publish(ctx context.Context, batch []*Notification)
}

// Service implements the create-and-notify flow: validate, persist one row
// per target, announce the change to live connections, then submit the
// batched email side effect.
type Service struct {
	store     Store
	prefs     PreferenceSource
	email     Emailer
	announcer Announcer
	events    EventProducer
}

func NewService(store Store, prefs PreferenceSource, email Emailer, announcer Announcer, events EventProducer) *Service {
	return &Service{
		store:     store,
		prefs:     prefs,
		email:     email,
		announcer: announcer,
		events:    events,
	}
}

// CreateAndNotify runs the full creation flow. source labels the metrics
// ("http" for the REST endpoint, "queue" for the worker).
//
// Failure semantics follow the contract: validation and persistence failures
// abort with no side effects, while an email failure after persistence
// returns the created notifications together with ErrEmailDelivery so the
// caller can report a succeeded-but-degraded outcome. Emails are not retried.
func (s *Service) CreateAndNotify(ctx context.Context, req *CreateRequest, source string) ([]*Notification, *EmailResult, error) {
	if err := req.Validate(); err != nil {
		return nil, nil, err
	}

	created, err := s.store.CreateBatch(ctx, req)
	if err != nil {
		return nil, nil, fmt.Errorf("persist notifications: %w", err)
	}
	NotificationsCreated.WithLabelValues(source).Add(float64(len(created)))

	// Live delivery is announced before the email side effect so connected
	// clients see the notification immediately, independent of provider
	// latency or failure.
	s.announcer.Publish(ctx, created)

	recipients, err := s.prefs.EligibleRecipients(ctx, req.UserIDs)
	if err != nil {
		EmailBatches.WithLabelValues("failed").Inc()
		publishCreatedEvent(ctx, s.events, created, 0)
		return created, nil, fmt.Errorf("%w: resolve recipients: %v", ErrEmailDelivery, err)
	}

	result, err := s.email.SendBatch(ctx, recipients, req)
	if err != nil {
		EmailBatches.WithLabelValues("failed").Inc()
		publishCreatedEvent(ctx, s.events, created, 0)
		return created, result, err
	}
	if result.Sent > 0 {
		EmailBatches.WithLabelValues("sent").Inc()
	} else {
		EmailBatches.WithLabelValues("skipped").Inc()
	}

	publishCreatedEvent(ctx, s.events, created, result.Sent)

	log.Printf("Created %d notifications (type %d), emailed %d of %d targets",
		len(created), req.TypeID, result.Sent, result.Requested)
	return created, result, nil
}

// MarkRead confirms a single optimistic client-side mark-read. Idempotent.
func (s *Service) MarkRead(ctx context.Context, userID, id int64) error {
	return s.store.MarkRead(ctx, userID, id)
}

// MarkAllRead confirms a bulk mark-read for one user. Idempotent and scoped
// to the authenticated user only.
func (s *Service) MarkAllRead(ctx context.Context, userID int64) error {
	return s.store.MarkAllRead(ctx, userID)
}

// ListPage returns one page of the user's notifications plus their current
// unread count.
func (s *Service) ListPage(ctx context.Context, userID int64, page, size int) ([]*Notification, int, error) {
	notifications, err := s.store.ListPage(ctx, userID, page, size)
	if err != nil {
		return nil, 0, err
	}
	unread, err := s.store.UnreadCount(ctx, userID)
	if err != nil {
		return nil, 0, err
	}
	return notifications, unread, nil
}

// Snapshot returns the bounded initial set for a live connection.
func (s *Service) Snapshot(ctx context.Context, userID int64, limit int) ([]*Notification, error) {
	return s.store.RecentForUser(ctx, userID, limit)
}
