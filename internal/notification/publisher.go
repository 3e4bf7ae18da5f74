package notification

import (
	"context"
	"encoding/json"
	"log"
	"sync"

	"github.com/redis/go-redis/v9"
)

// ChangeChannel is the Redis pub/sub channel carrying created-notification
// batches between processes.
const ChangeChannel = "notifications.changes"

// Publisher decouples notification writers from the live-update transport.
// Writers call Publish after persisting a batch; every process runs a single
// listener that feeds received batches into its local Hub.
//
// When Redis is not configured the publisher broadcasts straight onto the
// local hub, so single-process deployments still get live updates.
type Publisher struct {
	rdb *redis.Client
	hub *Hub

	// The listener subscription is a per-process singleton. StartListener is
	// guarded so calling it twice is a safe no-op even under concurrent
	// startup.
	startOnce sync.Once
}

func NewPublisher(rdb *redis.Client, hub *Hub) *Publisher {
	return &Publisher{rdb: rdb, hub: hub}
}

// Publish announces a freshly created batch. With Redis available the batch
// travels through pub/sub and comes back through the listener, which keeps
// every process (including this one) on the same delivery path. Publish
// failures degrade to a local-only broadcast rather than losing the update
// for connections on this process.
func (p *Publisher) Publish(ctx context.Context, batch []*Notification) {
	if len(batch) == 0 {
		return
	}
	if p.rdb == nil {
		p.hub.Publish(batch)
		return
	}

	payload, err := json.Marshal(batch)
	if err != nil {
		log.Printf("Failed to marshal notification batch: %v", err)
		return
	}
	if err := p.rdb.Publish(ctx, ChangeChannel, payload).Err(); err != nil {
		log.Printf("Redis publish failed, delivering locally only: %v", err)
		p.hub.Publish(batch)
	}
}

// StartListener subscribes this process to the change channel and pumps
// received batches into the hub until ctx is cancelled. Idempotent: only the
// first call starts the subscription.
func (p *Publisher) StartListener(ctx context.Context) {
	if p.rdb == nil {
		return
	}
	p.startOnce.Do(func() {
		pubsub := p.rdb.Subscribe(ctx, ChangeChannel)
		go func() {
			defer pubsub.Close()
			ch := pubsub.Channel()
			for {
				select {
				case <-ctx.Done():
					return
				case msg, ok := <-ch:
					if !ok {
						return
					}
					var batch []*Notification
					if err := json.Unmarshal([]byte(msg.Payload), &batch); err != nil {
						log.Printf("Dropping malformed change event: %v", err)
						continue
					}
					p.hub.Publish(batch)
				}
			}
		}()
		log.Printf("Change listener subscribed to %s", ChangeChannel)
	})
}
