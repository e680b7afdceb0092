package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"github.com/bikaxh01/toothsi-bot/internal/client"
	"github.com/bikaxh01/toothsi-bot/internal/config"
	"github.com/bikaxh01/toothsi-bot/internal/model"
	"github.com/bikaxh01/toothsi-bot/internal/tracker"
	"github.com/bikaxh01/toothsi-bot/internal/viewstate"
)

const (
	TaskTypeRedial = "redial:execute"
	QueueRedial    = "redial"
)

var (
	ErrInvalidCallID  = errors.New("call id is required")
	ErrRedialInFlight = errors.New("redial already in progress for this call")
)

// TaskEnqueuer is the part of asynq.Client used to queue redials.
type TaskEnqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Notifier delivers user-visible notices.
type Notifier interface {
	BroadcastNotice(notice model.WSNoticeMessage)
}

// RedialService re-triggers single call tasks, at most one in flight per id
type RedialService struct {
	remote   client.RemoteBatchService
	tracker  *tracker.Tracker
	store    *viewstate.Store
	sync     *SyncService
	journal  RedialJournal
	notifier Notifier
	queue    TaskEnqueuer
	log      logrus.FieldLogger
}

// NewRedialService creates a redial service. With a nil queue redials run
// inline on their own goroutine.
func NewRedialService(
	remote client.RemoteBatchService,
	tr *tracker.Tracker,
	store *viewstate.Store,
	syncService *SyncService,
	journal RedialJournal,
	notifier Notifier,
	queue TaskEnqueuer,
	log logrus.FieldLogger,
) *RedialService {
	if journal == nil {
		journal = NewMemoryJournal()
	}
	return &RedialService{
		remote:   remote,
		tracker:  tr,
		store:    store,
		sync:     syncService,
		journal:  journal,
		notifier: notifier,
		queue:    queue,
		log:      log,
	}
}

// Mode reports how accepted redials are executed.
func (s *RedialService) Mode() string {
	if s.queue != nil {
		return config.RedialModeQueue
	}
	return config.RedialModeInline
}

// Redial reserves callID and dispatches the remote round-trip. It returns
// as soon as the request is dispatched.
func (s *RedialService) Redial(ctx context.Context, callID string) (*model.RedialAccepted, error) {
	callID = strings.TrimSpace(callID)
	if callID == "" {
		return nil, ErrInvalidCallID
	}

	if !s.tracker.Reserve(callID) {
		log := s.log.WithField("call_id", callID)
		if at, ok := s.tracker.ReservedAt(callID); ok {
			log = log.WithField("in_flight_for", time.Since(at).Round(time.Millisecond).String())
		}
		log.Info("Redial refused, already in flight")
		return nil, ErrRedialInFlight
	}
	s.store.Notify()

	payload := model.RedialJobPayload{
		CallID:     callID,
		BatchID:    s.store.ActiveBatch(),
		RequestID:  uuid.New().String(),
		EnqueuedAt: time.Now(),
	}
	mode := s.Mode()

	s.saveAttempt(ctx, &model.RedialAttempt{
		RequestID: payload.RequestID,
		CallID:    callID,
		BatchID:   payload.BatchID,
		Mode:      mode,
		State:     model.RedialQueued,
		CreatedAt: payload.EnqueuedAt,
	})

	if s.queue != nil {
		if err := s.enqueue(ctx, payload); err != nil {
			s.release(callID)
			s.finishAttempt(ctx, payload, "", err)
			return nil, err
		}
	} else {
		go func() {
			_ = s.Execute(context.Background(), payload)
		}()
	}

	s.log.WithFields(logrus.Fields{
		"call_id":    callID,
		"request_id": payload.RequestID,
		"mode":       mode,
	}).Info("Redial dispatched")

	return &model.RedialAccepted{
		CallID:    callID,
		RequestID: payload.RequestID,
		Mode:      mode,
		State:     model.RedialQueued,
	}, nil
}

// Execute performs the remote redial for a reserved call. The reservation
// is released as soon as the round-trip settles. Success refreshes the
// active batch; failure is broadcast as a notice.
func (s *RedialService) Execute(ctx context.Context, payload model.RedialJobPayload) error {
	log := s.log.WithFields(logrus.Fields{"call_id": payload.CallID, "request_id": payload.RequestID})
	s.markRunning(ctx, payload)

	resp, err := s.roundTrip(ctx, payload.CallID)
	if err != nil {
		log.WithError(err).Warn("Redial failed")
		s.finishAttempt(ctx, payload, "", err)
		s.notifyFailure(payload, err)
		return err
	}

	log.WithField("remote_call_id", resp.AttemptID()).Info("Redial accepted by remote service")
	s.finishAttempt(ctx, payload, resp.AttemptID(), nil)

	if batchID := s.store.ActiveBatch(); batchID != "" {
		if err := s.sync.Refresh(ctx, batchID); err != nil {
			log.WithError(err).WithField("batch_id", batchID).Warn("Refresh after redial failed")
		}
	}
	return nil
}

// Attempt returns the recorded outcome of a redial request.
func (s *RedialService) Attempt(ctx context.Context, requestID string) (*model.RedialAttempt, error) {
	return s.journal.Get(ctx, requestID)
}

func (s *RedialService) roundTrip(ctx context.Context, callID string) (*client.RedialResponse, error) {
	defer s.release(callID)
	return s.remote.Redial(ctx, callID)
}

func (s *RedialService) release(callID string) {
	s.tracker.Release(callID)
	s.store.Notify()
}

func (s *RedialService) enqueue(ctx context.Context, payload model.RedialJobPayload) error {
	task, err := NewRedialTask(payload)
	if err != nil {
		return fmt.Errorf("failed to create task: %w", err)
	}

	_, err = s.queue.EnqueueContext(ctx, task,
		asynq.Queue(QueueRedial),
		asynq.MaxRetry(0),
		asynq.Retention(attemptRetention),
	)
	if err != nil {
		return fmt.Errorf("failed to enqueue redial: %w", err)
	}
	return nil
}

func (s *RedialService) notifyFailure(payload model.RedialJobPayload, err error) {
	if s.notifier == nil {
		return
	}
	batchID := payload.BatchID
	if batchID == "" {
		batchID = s.store.ActiveBatch()
	}
	s.notifier.BroadcastNotice(model.WSNoticeMessage{
		BatchID: batchID,
		Level:   model.NoticeError,
		Code:    "REDIAL_FAILED",
		Message: fmt.Sprintf("Redial of call %s failed: %v", payload.CallID, err),
		CallID:  payload.CallID,
	})
}

func (s *RedialService) markRunning(ctx context.Context, payload model.RedialJobPayload) {
	attempt, err := s.journal.Get(ctx, payload.RequestID)
	if err != nil {
		attempt = &model.RedialAttempt{
			RequestID: payload.RequestID,
			CallID:    payload.CallID,
			BatchID:   payload.BatchID,
			Mode:      s.Mode(),
			CreatedAt: payload.EnqueuedAt,
		}
	}
	attempt.State = model.RedialRunning
	s.saveAttempt(ctx, attempt)
}

func (s *RedialService) finishAttempt(ctx context.Context, payload model.RedialJobPayload, remoteCallID string, failure error) {
	attempt, err := s.journal.Get(ctx, payload.RequestID)
	if err != nil {
		attempt = &model.RedialAttempt{
			RequestID: payload.RequestID,
			CallID:    payload.CallID,
			BatchID:   payload.BatchID,
			Mode:      s.Mode(),
			CreatedAt: payload.EnqueuedAt,
		}
	}

	now := time.Now()
	attempt.CompletedAt = &now
	if failure != nil {
		msg := failure.Error()
		attempt.State = model.RedialFailed
		attempt.Error = &msg
	} else {
		attempt.State = model.RedialSucceeded
		attempt.RemoteCallID = remoteCallID
	}
	s.saveAttempt(ctx, attempt)
}

func (s *RedialService) saveAttempt(ctx context.Context, attempt *model.RedialAttempt) {
	if err := s.journal.Save(context.WithoutCancel(ctx), attempt); err != nil {
		s.log.WithError(err).WithField("request_id", attempt.RequestID).Warn("Failed to record redial attempt")
	}
}

// NewRedialTask wraps payload as an asynq task.
func NewRedialTask(payload model.RedialJobPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeRedial, data), nil
}
