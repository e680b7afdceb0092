package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/bikaxh01/toothsi-bot/internal/client"
	"github.com/bikaxh01/toothsi-bot/internal/model"
	"github.com/bikaxh01/toothsi-bot/internal/viewstate"
)

// ErrEmptyBatch is returned when an operation needs a batch id and got none.
var ErrEmptyBatch = errors.New("batch id is required")

// SyncService fetches a batch's call list and applies it to the view-state
type SyncService struct {
	remote client.RemoteBatchService
	store  *viewstate.Store
	log    logrus.FieldLogger
}

// NewSyncService creates a new synchronizer
func NewSyncService(remote client.RemoteBatchService, store *viewstate.Store, log logrus.FieldLogger) *SyncService {
	return &SyncService{
		remote: remote,
		store:  store,
		log:    log,
	}
}

// Sync returns the full, normalized call list of batchID in server order.
func (s *SyncService) Sync(ctx context.Context, batchID string) ([]model.Call, error) {
	if batchID == "" {
		return nil, ErrEmptyBatch
	}

	resp, err := s.remote.GetBatchCalls(ctx, batchID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch calls for batch %s: %w", batchID, err)
	}

	calls := make([]model.Call, 0, len(resp.Calls))
	for _, rc := range resp.Calls {
		calls = append(calls, s.project(batchID, rc))
	}
	return calls, nil
}

// Refresh syncs batchID and replaces the store's list. A failure leaves the
// list untouched and is recorded as the last error.
func (s *SyncService) Refresh(ctx context.Context, batchID string) error {
	ticket := s.store.Begin(batchID)
	calls, err := s.Sync(ctx, batchID)
	if err != nil {
		s.store.Fail(ticket, err)
		return err
	}

	if !s.store.Apply(ticket, calls) {
		s.log.WithField("batch_id", batchID).Debug("Discarded sync result for inactive batch or superseded fetch")
		return nil
	}

	s.log.WithFields(logrus.Fields{"batch_id": batchID, "calls": len(calls)}).Debug("View-state replaced")
	return nil
}

func (s *SyncService) project(batchID string, rc client.RemoteCall) model.Call {
	call := projectCall(rc)
	if call.BatchID == "" {
		call.BatchID = batchID
	}
	if (rc.CreatedAt != "" && call.CreatedAt.IsZero()) || (rc.UpdatedAt != "" && call.UpdatedAt.IsZero()) {
		s.log.WithFields(logrus.Fields{
			"call_id":    call.ID,
			"created_at": rc.CreatedAt,
			"updated_at": rc.UpdatedAt,
		}).Debug("Unparseable call timestamp")
	}
	return call
}

// projectCall flattens a remote call record. Missing or empty contact fields
// become model.NotAvailable; missing or empty result text stays nil. A
// quality score of zero is kept.
func projectCall(rc client.RemoteCall) model.Call {
	id := rc.ID
	if id == "" {
		id = rc.MongoID
	}

	call := model.Call{
		ID:      id,
		BatchID: rc.BatchID,
		Name:    model.NotAvailable,
		Email:   model.NotAvailable,
		Phone:   model.NotAvailable,
		Status:  model.ParseCallStatus(rc.Status),
	}

	if u := rc.User; u != nil {
		call.Name = orNotAvailable(u.Name)
		call.Email = orNotAvailable(u.Email)
		call.Phone = orNotAvailable(u.Phone)
	}

	if r := rc.CallResult; r != nil {
		call.Summary = nonEmpty(r.Summary)
		call.Transcript = nonEmpty(r.Transcript)
		call.CustomerIntent = nonEmpty(r.CustomerIntent)
		call.RecordingURL = nonEmpty(r.RecordingURL)
		if r.QualityScore != nil {
			score := *r.QualityScore
			call.QualityScore = &score
		}
	}

	// Unparseable timestamps stay zero.
	if ts, err := model.ParseTimestamp(rc.CreatedAt); err == nil {
		call.CreatedAt = ts
	}
	if ts, err := model.ParseTimestamp(rc.UpdatedAt); err == nil {
		call.UpdatedAt = ts
	}
	return call
}

func orNotAvailable(s *string) string {
	if s == nil || strings.TrimSpace(*s) == "" {
		return model.NotAvailable
	}
	return *s
}

func nonEmpty(s *string) *string {
	if s == nil || *s == "" {
		return nil
	}
	v := *s
	return &v
}
