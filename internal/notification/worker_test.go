package notification

import (
	"context"
	"errors"
	"testing"
)

func TestWorker_HandleTask(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		storeErr  error
		emailErr  error
		expectAck bool
		created   int
	}{
		{
			name:      "Valid Task",
			body:      `{"userIds":[1,2],"typeId":1,"title":"t","message":"m"}`,
			expectAck: true,
			created:   2,
		},
		{
			name:      "Malformed JSON Is Dead-Ended",
			body:      `{"userIds":`,
			expectAck: true,
		},
		{
			name:      "Invalid Task Is Dead-Ended",
			body:      `{"userIds":[],"typeId":1,"title":"t","message":"m"}`,
			expectAck: true,
		},
		{
			name:      "Email Failure Is Acked Not Retried",
			body:      `{"userIds":[1],"typeId":1,"title":"t","message":"m"}`,
			emailErr:  ErrEmailDelivery,
			expectAck: true,
			created:   1,
		},
		{
			name:      "Store Failure Is Nacked",
			body:      `{"userIds":[1],"typeId":1,"title":"t","message":"m"}`,
			storeErr:  errors.New("connection refused"),
			expectAck: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &failStore{MemoryStore: NewMemoryStore(), createErr: tt.storeErr}
			email := &fakeEmailer{}
			if tt.emailErr != nil {
				email.result = &EmailResult{Requested: 1}
				email.err = tt.emailErr
			}
			svc, _ := newTestService(store, StaticPreferences{1: "a@example.com", 2: "b@example.com"}, email)
			worker := NewWorker(svc)

			err := worker.HandleTask(context.Background(), []byte(tt.body))
			if tt.expectAck && err != nil {
				t.Errorf("Expected ack (nil), got %v", err)
			}
			if !tt.expectAck && err == nil {
				t.Error("Expected nack (error), got nil")
			}

			total := 0
			for _, userID := range []int64{1, 2} {
				n, _ := store.UnreadCount(context.Background(), userID)
				total += n
			}
			if total != tt.created {
				t.Errorf("Expected %d rows created, got %d", tt.created, total)
			}
		})
	}
}
