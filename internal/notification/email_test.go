package notification

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/resend/resend-go/v2"
)

type fakeBatchSender struct {
	calls     int
	lastBatch []*resend.SendEmailRequest
	resp      *resend.BatchEmailResponse
	err       error
}

func (f *fakeBatchSender) SendBatch(ctx context.Context, batch []*resend.SendEmailRequest) (*resend.BatchEmailResponse, error) {
	f.calls++
	f.lastBatch = batch
	if f.err != nil {
		return nil, f.err
	}
	if f.resp != nil {
		return f.resp, nil
	}
	resp := &resend.BatchEmailResponse{}
	for range batch {
		resp.Data = append(resp.Data, resend.SendEmailResponse{Id: "email_abc"})
	}
	return resp, nil
}

func TestEmailService_SendBatch(t *testing.T) {
	req := &CreateRequest{
		UserIDs:     []int64{1, 2, 3},
		TypeID:      1,
		Title:       "Shipment delayed",
		Message:     "PO-1042 slipped by two days",
		RedirectURL: "/orders/1042",
	}

	sender := &fakeBatchSender{}
	svc := NewEmailServiceWithSender(sender, "alerts@example.com", "https://app.example.com")

	recipients := []Recipient{
		{UserID: 1, Email: "a@example.com"},
		{UserID: 3, Email: "c@example.com"},
	}
	result, err := svc.SendBatch(context.Background(), recipients, req)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if sender.calls != 1 {
		t.Errorf("Expected exactly one provider call, got %d", sender.calls)
	}
	if len(sender.lastBatch) != 2 {
		t.Fatalf("Expected one message per recipient, got %d", len(sender.lastBatch))
	}
	for i, msg := range sender.lastBatch {
		if len(msg.To) != 1 || msg.To[0] != recipients[i].Email {
			t.Errorf("Expected message %d addressed to %s, got %v", i, recipients[i].Email, msg.To)
		}
		if msg.Subject != req.Title {
			t.Errorf("Expected subject %q, got %q", req.Title, msg.Subject)
		}
		if !strings.Contains(msg.Html, "https://app.example.com/orders/1042") {
			t.Errorf("Expected body to link into the app, got %s", msg.Html)
		}
	}

	if result.Requested != 3 || result.Sent != 2 || result.Skipped != 1 {
		t.Errorf("Expected requested=3 sent=2 skipped=1, got %+v", result)
	}
	if len(result.IDs) != 2 {
		t.Errorf("Expected 2 provider ids, got %v", result.IDs)
	}
}

func TestEmailService_SendBatch_NoRecipientsIsNoOp(t *testing.T) {
	sender := &fakeBatchSender{}
	svc := NewEmailServiceWithSender(sender, "alerts@example.com", "https://app.example.com")

	req := &CreateRequest{UserIDs: []int64{1, 2}, TypeID: 1, Title: "t", Message: "m"}
	result, err := svc.SendBatch(context.Background(), nil, req)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if sender.calls != 0 {
		t.Error("Expected no provider call with zero recipients")
	}
	if result.Requested != 2 || result.Sent != 0 || result.Skipped != 2 {
		t.Errorf("Expected requested=2 sent=0 skipped=2, got %+v", result)
	}
}

func TestEmailService_SendBatch_MissingBaseURLFailsBeforeSend(t *testing.T) {
	sender := &fakeBatchSender{}
	svc := NewEmailServiceWithSender(sender, "alerts@example.com", "")

	req := &CreateRequest{UserIDs: []int64{1}, TypeID: 1, Title: "t", Message: "m"}
	_, err := svc.SendBatch(context.Background(), []Recipient{{UserID: 1, Email: "a@example.com"}}, req)
	if !errors.Is(err, ErrEmailDelivery) {
		t.Fatalf("Expected ErrEmailDelivery, got %v", err)
	}
	if !strings.Contains(err.Error(), "base URL") {
		t.Errorf("Expected a configuration error, got %v", err)
	}
	if sender.calls != 0 {
		t.Error("Expected no provider call without a configured base URL")
	}
}

func TestEmailService_SendBatch_ProviderFailure(t *testing.T) {
	sender := &fakeBatchSender{err: errors.New("503 from provider")}
	svc := NewEmailServiceWithSender(sender, "alerts@example.com", "https://app.example.com")

	req := &CreateRequest{UserIDs: []int64{1}, TypeID: 1, Title: "t", Message: "m"}
	result, err := svc.SendBatch(context.Background(), []Recipient{{UserID: 1, Email: "a@example.com"}}, req)
	if !errors.Is(err, ErrEmailDelivery) {
		t.Fatalf("Expected ErrEmailDelivery, got %v", err)
	}
	if result.Sent != 0 {
		t.Errorf("Expected sent=0 on provider failure, got %d", result.Sent)
	}
}
