package notification

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Subscriber is one live connection's view of the hub. Updates arrive on C as
// batches of notifications for the owning user. The channel is buffered;
// consumers that stop draining are dropped by the hub rather than blocking
// publication for everyone else.
type Subscriber struct {
	ID       string
	UserID   int64
	OpenedAt time.Time
	C        chan []*Notification

	closeOnce sync.Once
}

func (s *Subscriber) close() {
	s.closeOnce.Do(func() { close(s.C) })
}

// Hub fans notification batches out to the live connections of each user.
// It is the in-process end of the change publication mechanism: the publisher
// feeds it, stream handlers subscribe to it. All methods are safe for
// concurrent use.
type Hub struct {
	mu          sync.RWMutex
	byUser      map[int64]map[*Subscriber]struct{}
	bufferSize  int
	closed      bool
	onDrop      func()
	subscribers int
}

func NewHub(bufferSize int) *Hub {
	if bufferSize < 1 {
		bufferSize = 1
	}
	return &Hub{
		byUser:     make(map[int64]map[*Subscriber]struct{}),
		bufferSize: bufferSize,
	}
}

// SetDropCallback registers a hook invoked whenever a slow subscriber is
// evicted. Used to feed the dropped-subscriber metric.
func (h *Hub) SetDropCallback(fn func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onDrop = fn
}

// Subscribe registers a live connection for the given user. The subscription
// is removed and its channel closed when ctx is cancelled, so handlers only
// need to tie ctx to the request lifetime to release server-side resources.
// With a non-cancellable ctx no watcher is started and the caller must
// Unsubscribe itself.
func (h *Hub) Subscribe(ctx context.Context, userID int64) *Subscriber {
	sub := &Subscriber{
		ID:       uuid.New().String(),
		UserID:   userID,
		OpenedAt: time.Now(),
		C:        make(chan []*Notification, h.bufferSize),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		sub.close()
		return sub
	}
	set, ok := h.byUser[userID]
	if !ok {
		set = make(map[*Subscriber]struct{})
		h.byUser[userID] = set
	}
	set[sub] = struct{}{}
	h.subscribers++
	h.mu.Unlock()

	if done := ctx.Done(); done != nil {
		go func() {
			<-done
			h.Unsubscribe(sub)
		}()
	}

	return sub
}

// Unsubscribe removes the subscriber and closes its channel. Safe to call
// more than once.
func (h *Hub) Unsubscribe(sub *Subscriber) {
	h.mu.Lock()
	if set, ok := h.byUser[sub.UserID]; ok {
		if _, present := set[sub]; present {
			delete(set, sub)
			h.subscribers--
			if len(set) == 0 {
				delete(h.byUser, sub.UserID)
			}
		}
	}
	h.mu.Unlock()
	sub.close()
}

// Publish delivers a batch of freshly created notifications to the live
// connections of every targeted user. Sends are non-blocking: a subscriber
// whose buffer is full is evicted and must recover via its next initial
// snapshot.
func (h *Hub) Publish(batch []*Notification) {
	if len(batch) == 0 {
		return
	}

	perUser := make(map[int64][]*Notification)
	for _, n := range batch {
		perUser[n.UserID] = append(perUser[n.UserID], n)
	}

	var evicted []*Subscriber

	h.mu.RLock()
	if h.closed {
		h.mu.RUnlock()
		return
	}
	for userID, notifications := range perUser {
		for sub := range h.byUser[userID] {
			select {
			case sub.C <- notifications:
			default:
				evicted = append(evicted, sub)
			}
		}
	}
	onDrop := h.onDrop
	h.mu.RUnlock()

	for _, sub := range evicted {
		h.Unsubscribe(sub)
		if onDrop != nil {
			onDrop()
		}
	}
}

// Count returns the number of active subscriptions.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.subscribers
}

// Close shuts the hub down and closes every subscriber channel. Safe to call
// more than once.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	var all []*Subscriber
	for _, set := range h.byUser {
		for sub := range set {
			all = append(all, sub)
		}
	}
	h.byUser = make(map[int64]map[*Subscriber]struct{})
	h.subscribers = 0
	h.mu.Unlock()

	for _, sub := range all {
		sub.close()
	}
}
