package service

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/bikaxh01/toothsi-bot/internal/client"
	"github.com/bikaxh01/toothsi-bot/internal/model"
	"github.com/bikaxh01/toothsi-bot/internal/poller"
	"github.com/bikaxh01/toothsi-bot/internal/viewstate"
)

// ErrNoActiveBatch is returned when an operation needs a selected batch.
var ErrNoActiveBatch = errors.New("no batch selected")

// BatchService handles batch listing and the poll lifecycle
type BatchService struct {
	remote    client.RemoteBatchService
	store     *viewstate.Store
	scheduler *poller.Scheduler
	sync      *SyncService
	group     singleflight.Group
	log       logrus.FieldLogger

	// Held across the store selection and the scheduler so both always
	// name the same batch.
	selectMu sync.Mutex
}

func NewBatchService(remote client.RemoteBatchService, store *viewstate.Store, scheduler *poller.Scheduler, syncService *SyncService, log logrus.FieldLogger) *BatchService {
	return &BatchService{
		remote:    remote,
		store:     store,
		scheduler: scheduler,
		sync:      syncService,
		log:       log,
	}
}

// List returns all batches known to the remote service. Concurrent calls
// share one remote request.
func (s *BatchService) List(ctx context.Context) ([]model.Batch, error) {
	v, err, shared := s.group.Do("batches", func() (interface{}, error) {
		remote, err := s.remote.ListBatches(context.WithoutCancel(ctx))
		if err != nil {
			return nil, err
		}

		batches := make([]model.Batch, 0, len(remote))
		for _, rb := range remote {
			createdAt, _ := model.ParseTimestamp(rb.CreatedAt)
			batches = append(batches, model.Batch{
				ID:        rb.Identifier(),
				FileName:  rb.FileName,
				CreatedAt: createdAt,
			})
		}
		return batches, nil
	})
	if err != nil {
		return nil, err
	}
	if shared {
		s.log.Debug("Batch listing shared with a concurrent request")
	}

	batches := v.([]model.Batch)
	return append([]model.Batch(nil), batches...), nil
}

// Select makes batchID the active batch and (re)starts polling it.
func (s *BatchService) Select(batchID string) (viewstate.Snapshot, error) {
	batchID = strings.TrimSpace(batchID)
	if batchID == "" {
		return viewstate.Snapshot{}, ErrEmptyBatch
	}

	s.selectMu.Lock()
	defer s.selectMu.Unlock()

	s.store.Select(batchID)
	if _, err := s.scheduler.Start(batchID); err != nil {
		return viewstate.Snapshot{}, err
	}
	s.store.SetPolling(true)

	return s.store.Snapshot(), nil
}

// Stop halts polling. The selection and the last list are kept.
func (s *BatchService) Stop() {
	s.selectMu.Lock()
	defer s.selectMu.Unlock()

	s.scheduler.Stop()
	s.store.SetPolling(false)
}

// RefreshNow synchronizes the active batch once, outside the poll timer.
func (s *BatchService) RefreshNow(ctx context.Context) (viewstate.Snapshot, error) {
	batchID := s.store.ActiveBatch()
	if batchID == "" {
		return viewstate.Snapshot{}, ErrNoActiveBatch
	}
	if err := s.sync.Refresh(ctx, batchID); err != nil {
		return s.store.Snapshot(), err
	}
	return s.store.Snapshot(), nil
}

// Snapshot returns the current view-state.
func (s *BatchService) Snapshot() viewstate.Snapshot {
	return s.store.Snapshot()
}

// Call returns one call of the active batch's list.
func (s *BatchService) Call(id string) (model.CallView, bool) {
	c, ok := s.store.Call(id)
	if !ok {
		return model.CallView{}, false
	}
	return model.NewCallView(c), true
}
