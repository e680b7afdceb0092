// Package viewstate holds what the operator console currently shows: the
// selected batch, its last synchronized call list and the indicators
// around it. Every mutation is published as a full snapshot.
package viewstate

import (
	"sync"
	"time"

	"github.com/bikaxh01/toothsi-bot/internal/model"
)

// ReservationSet exposes the ids with a redial in flight.
type ReservationSet interface {
	Reserved() []string
}

// Publisher receives snapshots in increasing version order. A snapshot
// overtaken by a newer one before delivery is skipped.
type Publisher func(Snapshot)

// Snapshot is a copy of the view-state at one version.
type Snapshot struct {
	BatchID   string            `json:"batchId"`
	Calls     []model.CallView  `json:"calls"`
	SyncedAt  *time.Time        `json:"syncedAt"`
	LastError string            `json:"lastError,omitempty"`
	Polling   bool              `json:"polling"`
	Redialing []string          `json:"redialing"`
	Upload    model.UploadState `json:"upload"`
	Version   uint64            `json:"version"`
}

// Store is safe for concurrent use.
type Store struct {
	mu       sync.RWMutex
	batchID  string
	calls    []model.Call
	syncedAt time.Time
	lastErr  string
	polling  bool
	upload   model.UploadState
	version  uint64

	// Fetch ordering: tickets are issued in fetch start order. listSeq and
	// errSeq are the tickets of the list and error currently shown.
	fetchSeq uint64
	listSeq  uint64
	errSeq   uint64

	redials ReservationSet

	// pubMu serializes delivery; published is the last version delivered.
	pubMu     sync.Mutex
	publish   Publisher
	published uint64

	now func() time.Time
}

// New creates an empty store. redials may be nil.
func New(redials ReservationSet) *Store {
	return &Store{
		redials: redials,
		upload:  model.UploadState{Status: model.UploadIdle},
		now:     time.Now,
	}
}

// SetPublisher registers the snapshot consumer, replacing any previous one.
// p is called with the store's publish lock held and must not block.
func (s *Store) SetPublisher(p Publisher) {
	s.pubMu.Lock()
	s.publish = p
	s.pubMu.Unlock()
}

// ActiveBatch returns the selected batch id, or "".
func (s *Store) ActiveBatch() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.batchID
}

// Select makes batchID the active batch. Switching to a different batch
// clears the list and the last error; reselecting the same batch keeps
// them.
func (s *Store) Select(batchID string) {
	s.mu.Lock()
	if batchID != s.batchID {
		s.batchID = batchID
		s.calls = nil
		s.syncedAt = time.Time{}
		s.lastErr = ""
		// Fetches begun before the switch are dropped.
		s.listSeq, s.errSeq = s.fetchSeq, s.fetchSeq
	}
	snap := s.commitLocked()
	s.mu.Unlock()

	s.emit(snap)
}

// Ticket tags one fetch with its batch and start order.
type Ticket struct {
	BatchID string
	seq     uint64
}

// Begin issues a ticket for a fetch of batchID that is about to start.
func (s *Store) Begin(batchID string) Ticket {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fetchSeq++
	return Ticket{BatchID: batchID, seq: s.fetchSeq}
}

// Apply swaps the call list wholesale with the result of t's fetch. It
// returns false, changing nothing, when t's batch is no longer active or
// a fetch started after t has already been applied.
func (s *Store) Apply(t Ticket, calls []model.Call) bool {
	s.mu.Lock()
	if t.BatchID == "" || t.BatchID != s.batchID || t.seq <= s.listSeq {
		s.mu.Unlock()
		return false
	}
	s.calls = append([]model.Call(nil), calls...)
	s.syncedAt = s.now()
	s.listSeq = t.seq
	if t.seq > s.errSeq {
		s.lastErr = ""
	}
	snap := s.commitLocked()
	s.mu.Unlock()

	s.emit(snap)
	return true
}

// Fail records the error of t's fetch. The call list is kept. Errors of
// fetches older than the shown list or error are dropped.
func (s *Store) Fail(t Ticket, err error) bool {
	if err == nil {
		return false
	}
	s.mu.Lock()
	if t.BatchID == "" || t.BatchID != s.batchID || t.seq <= s.listSeq || t.seq <= s.errSeq {
		s.mu.Unlock()
		return false
	}
	s.lastErr = err.Error()
	s.errSeq = t.seq
	snap := s.commitLocked()
	s.mu.Unlock()

	s.emit(snap)
	return true
}

// Replace applies calls as the newest result for batchID.
func (s *Store) Replace(batchID string, calls []model.Call) bool {
	return s.Apply(s.Begin(batchID), calls)
}

// RecordFailure notes a failed sync for batchID. The call list is kept.
func (s *Store) RecordFailure(batchID string, err error) bool {
	return s.Fail(s.Begin(batchID), err)
}

// SetPolling updates the polling indicator.
func (s *Store) SetPolling(polling bool) {
	s.mu.Lock()
	if s.polling == polling {
		s.mu.Unlock()
		return
	}
	s.polling = polling
	snap := s.commitLocked()
	s.mu.Unlock()

	s.emit(snap)
}

// SetUpload records the upload indicator.
func (s *Store) SetUpload(status model.UploadStatus, fileName, message string) {
	s.mu.Lock()
	at := s.now()
	s.upload = model.UploadState{
		Status:    status,
		Message:   message,
		FileName:  fileName,
		UpdatedAt: &at,
	}
	snap := s.commitLocked()
	s.mu.Unlock()

	s.emit(snap)
}

// Notify republishes after a change held outside the store, such as the
// redial reservation set.
func (s *Store) Notify() {
	s.mu.Lock()
	snap := s.commitLocked()
	s.mu.Unlock()

	s.emit(snap)
}

// Snapshot returns a copy of the current state.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

// Call looks up one call of the current list.
func (s *Store) Call(id string) (model.Call, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.calls {
		if c.ID == id {
			return c, true
		}
	}
	return model.Call{}, false
}

func (s *Store) commitLocked() Snapshot {
	s.version++
	return s.snapshotLocked()
}

func (s *Store) snapshotLocked() Snapshot {
	views := make([]model.CallView, len(s.calls))
	for i, c := range s.calls {
		views[i] = model.NewCallView(c)
	}

	snap := Snapshot{
		BatchID:   s.batchID,
		Calls:     views,
		LastError: s.lastErr,
		Polling:   s.polling,
		Redialing: []string{},
		Upload:    s.upload,
		Version:   s.version,
	}
	if !s.syncedAt.IsZero() {
		at := s.syncedAt
		snap.SyncedAt = &at
	}
	if s.upload.UpdatedAt != nil {
		at := *s.upload.UpdatedAt
		snap.Upload.UpdatedAt = &at
	}
	if s.redials != nil {
		snap.Redialing = s.redials.Reserved()
	}
	return snap
}

// emit delivers snap unless a newer version has already gone out, so the
// publisher sees versions in increasing order.
func (s *Store) emit(snap Snapshot) {
	s.pubMu.Lock()
	defer s.pubMu.Unlock()
	if s.publish == nil || snap.Version <= s.published {
		return
	}
	s.published = snap.Version
	s.publish(snap)
}
