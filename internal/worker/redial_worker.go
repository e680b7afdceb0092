package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"github.com/bikaxh01/toothsi-bot/internal/model"
)

// RedialExecutor performs a reserved redial.
type RedialExecutor interface {
	Execute(ctx context.Context, payload model.RedialJobPayload) error
}

// RedialWorker processes queued redial tasks
type RedialWorker struct {
	redials RedialExecutor
	log     logrus.FieldLogger
}

// NewRedialWorker creates a new redial worker
func NewRedialWorker(redials RedialExecutor, log logrus.FieldLogger) *RedialWorker {
	return &RedialWorker{
		redials: redials,
		log:     log,
	}
}

// ProcessTask handles one redial task. Redials are never retried, so a
// remote failure is final.
func (w *RedialWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload model.RedialJobPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal redial payload: %w: %v", asynq.SkipRetry, err)
	}
	if payload.CallID == "" {
		return fmt.Errorf("redial payload without call id: %w", asynq.SkipRetry)
	}

	w.log.WithFields(logrus.Fields{
		"call_id":    payload.CallID,
		"request_id": payload.RequestID,
	}).Debug("Starting redial task")

	if err := w.redials.Execute(ctx, payload); err != nil {
		return fmt.Errorf("redial %s: %w", payload.CallID, err)
	}
	return nil
}
