package notification

import (
	"context"
	"fmt"
	"strings"

	"github.com/resend/resend-go/v2"
)

// BatchSender submits one batch of individually addressed emails to the
// provider. Satisfied by the Resend client; tests substitute a fake.
type BatchSender interface {
	SendBatch(ctx context.Context, batch []*resend.SendEmailRequest) (*resend.BatchEmailResponse, error)
}

type resendSender struct {
	client *resend.Client
}

func (s *resendSender) SendBatch(ctx context.Context, batch []*resend.SendEmailRequest) (*resend.BatchEmailResponse, error) {
	return s.client.Batch.SendWithContext(ctx, batch)
}

// EmailService sends the transactional-email side effect of notification
// creation via Resend: one batch call per created batch, one individually
// addressed message per eligible recipient, all sharing the same templated
// body.
type EmailService struct {
	sender  BatchSender
	from    string
	baseURL string
}

// NewEmailService creates an email service backed by Resend.
// baseURL is the public application URL used to build links inside email
// bodies; it is validated at send time so a misconfigured deployment fails
// loudly on first use rather than silently mangling links.
func NewEmailService(apiKey, from, baseURL string) *EmailService {
	if from == "" {
		from = "notifications@sapliy.com"
	}
	return &EmailService{
		sender:  &resendSender{client: resend.NewClient(apiKey)},
		from:    from,
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

// NewEmailServiceWithSender wires a custom sender. Used by tests.
func NewEmailServiceWithSender(sender BatchSender, from, baseURL string) *EmailService {
	return &EmailService{sender: sender, from: from, baseURL: strings.TrimRight(baseURL, "/")}
}

// SendBatch submits one email per recipient as a single batch request.
// An empty recipient list is a successful no-op: targets with email disabled
// were already persisted as notifications and simply receive no mail.
func (s *EmailService) SendBatch(ctx context.Context, recipients []Recipient, req *CreateRequest) (*EmailResult, error) {
	result := &EmailResult{
		Requested: len(req.UserIDs),
		Skipped:   len(req.UserIDs) - len(recipients),
	}
	if len(recipients) == 0 {
		return result, nil
	}
	if s.baseURL == "" {
		return result, fmt.Errorf("%w: app base URL is not configured", ErrEmailDelivery)
	}

	link := ""
	if req.RedirectURL != "" {
		link = s.baseURL + "/" + strings.TrimLeft(req.RedirectURL, "/")
	}
	body, err := renderEmailBody(req.Title, req.Message, link)
	if err != nil {
		return result, fmt.Errorf("%w: render body: %v", ErrEmailDelivery, err)
	}

	batch := make([]*resend.SendEmailRequest, 0, len(recipients))
	for _, rec := range recipients {
		batch = append(batch, &resend.SendEmailRequest{
			From:    s.from,
			To:      []string{rec.Email},
			Subject: req.Title,
			Html:    body,
		})
	}

	sent, err := s.sender.SendBatch(ctx, batch)
	if err != nil {
		return result, fmt.Errorf("%w: %v", ErrEmailDelivery, err)
	}

	result.Sent = len(batch)
	for _, r := range sent.Data {
		result.IDs = append(result.IDs, r.Id)
	}
	return result, nil
}
