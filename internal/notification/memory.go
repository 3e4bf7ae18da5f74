package notification

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store implementation. It backs tests and lets
// the service run without a database in development, the same way the other
// services in this ecosystem tolerate a missing local Postgres.
type MemoryStore struct {
	mu     sync.RWMutex
	nextID int64
	byUser map[int64][]*Notification
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byUser: make(map[int64][]*Notification)}
}

func (s *MemoryStore) CreateBatch(ctx context.Context, req *CreateRequest) ([]*Notification, error) {
	if len(req.UserIDs) == 0 {
		return nil, ErrMissingFields
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var redirect *string
	if req.RedirectURL != "" {
		url := req.RedirectURL
		redirect = &url
	}

	created := make([]*Notification, 0, len(req.UserIDs))
	now := time.Now()
	for _, userID := range req.UserIDs {
		s.nextID++
		n := &Notification{
			ID:          s.nextID,
			UserID:      userID,
			TypeID:      req.TypeID,
			Title:       req.Title,
			Message:     req.Message,
			RedirectURL: redirect,
			Data:        req.Data,
			CreatedAt:   now,
		}
		s.byUser[userID] = append(s.byUser[userID], n)
		created = append(created, n)
	}
	return created, nil
}

func (s *MemoryStore) RecentForUser(ctx context.Context, userID int64, limit int) ([]*Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pageLocked(userID, 0, limit), nil
}

func (s *MemoryStore) ListPage(ctx context.Context, userID int64, page, size int) ([]*Notification, error) {
	if page < 1 {
		page = 1
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pageLocked(userID, (page-1)*size, size), nil
}

// pageLocked returns copies newest-first; callers hold at least a read lock.
func (s *MemoryStore) pageLocked(userID int64, offset, limit int) []*Notification {
	stored := s.byUser[userID]
	out := make([]*Notification, 0, limit)
	for i := len(stored) - 1 - offset; i >= 0 && len(out) < limit; i-- {
		n := *stored[i]
		out = append(out, &n)
	}
	return out
}

func (s *MemoryStore) UnreadCount(ctx context.Context, userID int64) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, n := range s.byUser[userID] {
		if n.ReadAt == nil {
			count++
		}
	}
	return count, nil
}

func (s *MemoryStore) MarkRead(ctx context.Context, userID, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, n := range s.byUser[userID] {
		if n.ID == id && n.ReadAt == nil {
			now := time.Now()
			n.ReadAt = &now
		}
	}
	return nil
}

func (s *MemoryStore) MarkAllRead(ctx context.Context, userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for _, n := range s.byUser[userID] {
		if n.ReadAt == nil {
			n.ReadAt = &now
		}
	}
	return nil
}

// StaticPreferences is a fixed PreferenceSource for tests and database-less
// runs: every listed user is assumed to allow email.
type StaticPreferences map[int64]string

func (p StaticPreferences) EligibleRecipients(ctx context.Context, userIDs []int64) ([]Recipient, error) {
	var recipients []Recipient
	for _, id := range userIDs {
		if email, ok := p[id]; ok {
			recipients = append(recipients, Recipient{UserID: id, Email: email})
		}
	}
	return recipients, nil
}
