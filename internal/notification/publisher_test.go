package notification

import (
	"context"
	"testing"
	"time"
)

func TestPublisher_LocalFallbackWithoutRedis(t *testing.T) {
	hub := NewHub(4)
	defer hub.Close()

	pub := NewPublisher(nil, hub)
	sub := hub.Subscribe(context.Background(), 1)

	pub.Publish(context.Background(), testBatch(1, 5))

	select {
	case batch := <-sub.C:
		if len(batch) != 1 || batch[0].ID != 5 {
			t.Errorf("Expected local delivery of notification 5, got %+v", batch)
		}
	case <-time.After(time.Second):
		t.Fatal("Expected local hub delivery without Redis")
	}
}

func TestPublisher_EmptyBatchIsNoOp(t *testing.T) {
	hub := NewHub(4)
	defer hub.Close()

	pub := NewPublisher(nil, hub)
	sub := hub.Subscribe(context.Background(), 1)

	pub.Publish(context.Background(), nil)

	select {
	case batch := <-sub.C:
		t.Errorf("Expected no delivery, got %+v", batch)
	default:
	}
}

func TestPublisher_StartListenerWithoutRedisIsNoOp(t *testing.T) {
	hub := NewHub(4)
	defer hub.Close()

	pub := NewPublisher(nil, hub)

	// Must not panic or spawn anything; calling twice exercises the guard.
	pub.StartListener(context.Background())
	pub.StartListener(context.Background())
}
