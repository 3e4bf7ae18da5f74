package notification

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/google/uuid"
)

// EventType identifies an audit event published to the event stream.
type EventType string

const (
	EventNotificationCreated EventType = "notification.created"
)

// Event is the envelope for audit events emitted after a batch is persisted.
// Downstream consumers (analytics, KPI pipelines) read these; delivery is
// best-effort and never blocks or fails the creating request.
type Event struct {
	ID        string          `json:"id"`
	Type      EventType       `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// CreatedEventData describes one persisted batch.
type CreatedEventData struct {
	NotificationIDs []int64 `json:"notification_ids"`
	UserIDs         []int64 `json:"user_ids"`
	TypeID          int64   `json:"type_id"`
	Title           string  `json:"title"`
	EmailsSent      int     `json:"emails_sent"`
}

// EventProducer publishes audit events. Satisfied by messaging.KafkaProducer.
type EventProducer interface {
	Publish(ctx context.Context, key string, value []byte) error
}

func publishCreatedEvent(ctx context.Context, producer EventProducer, batch []*Notification, emailsSent int) {
	if producer == nil || len(batch) == 0 {
		return
	}

	data := CreatedEventData{
		TypeID:     batch[0].TypeID,
		Title:      batch[0].Title,
		EmailsSent: emailsSent,
	}
	for _, n := range batch {
		data.NotificationIDs = append(data.NotificationIDs, n.ID)
		data.UserIDs = append(data.UserIDs, n.UserID)
	}

	payload, err := json.Marshal(Event{
		ID:        "evt_" + uuid.New().String(),
		Type:      EventNotificationCreated,
		Timestamp: time.Now().UTC(),
		Data:      mustMarshal(data),
	})
	if err != nil {
		log.Printf("Failed to marshal audit event: %v", err)
		return
	}
	if err := producer.Publish(ctx, string(EventNotificationCreated), payload); err != nil {
		log.Printf("Failed to publish audit event: %v", err)
	}
}

func mustMarshal(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return b
}
