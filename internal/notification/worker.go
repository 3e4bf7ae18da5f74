package notification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
)

// CreateQueue is the RabbitMQ queue internal producers (action-plan engine,
// alert engine, admin broadcasts) push create tasks onto. Tasks carry the
// same payload as the REST endpoint.
const CreateQueue = "notifications.create"

// Worker consumes create tasks from the queue and runs them through the same
// service path as the HTTP endpoint.
type Worker struct {
	svc *Service
}

func NewWorker(svc *Service) *Worker {
	return &Worker{svc: svc}
}

// HandleTask processes one queued create task.
//
// Return value drives queue semantics: nil acks the message, an error nacks
// it for redelivery (a failure on the redelivered copy dead-letters it).
// Malformed or invalid tasks are dead-ended with a log
// line instead of requeued — redelivery cannot fix them. An email failure
// after persistence is also acked: retrying the whole task would duplicate
// the rows, and the contract does not retry email sends.
func (w *Worker) HandleTask(ctx context.Context, body []byte) error {
	var req CreateRequest
	if err := json.Unmarshal(body, &req); err != nil {
		log.Printf("Dropping malformed create task: %v", err)
		return nil
	}

	_, result, err := w.svc.CreateAndNotify(ctx, &req, "queue")
	switch {
	case errors.Is(err, ErrMissingFields):
		log.Printf("Dropping invalid create task (type %d): %v", req.TypeID, err)
		return nil
	case errors.Is(err, ErrEmailDelivery):
		log.Printf("Queued create persisted but email failed (type %d): %v", req.TypeID, err)
		return nil
	case err != nil:
		return fmt.Errorf("process create task: %w", err)
	}

	log.Printf("Processed queued create task: type %d, %d targets, %d emails",
		req.TypeID, len(req.UserIDs), result.Sent)
	return nil
}
