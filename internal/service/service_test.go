package service

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bikaxh01/toothsi-bot/internal/client"
	"github.com/bikaxh01/toothsi-bot/internal/config"
	"github.com/bikaxh01/toothsi-bot/internal/logging"
	"github.com/bikaxh01/toothsi-bot/internal/model"
	"github.com/bikaxh01/toothsi-bot/internal/poller"
	"github.com/bikaxh01/toothsi-bot/internal/testutil"
	"github.com/bikaxh01/toothsi-bot/internal/tracker"
	"github.com/bikaxh01/toothsi-bot/internal/viewstate"
)

type fakeNotifier struct {
	mu      sync.Mutex
	notices []model.WSNoticeMessage
}

func (n *fakeNotifier) BroadcastNotice(notice model.WSNoticeMessage) {
	n.mu.Lock()
	n.notices = append(n.notices, notice)
	n.mu.Unlock()
}

func (n *fakeNotifier) all() []model.WSNoticeMessage {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]model.WSNoticeMessage(nil), n.notices...)
}

type fakeStorage struct {
	mu        sync.Mutex
	uploaded  []string
	deleted   []string
	uploadErr error
}

func (s *fakeStorage) Upload(_ context.Context, key string, body io.Reader, _ string) (string, error) {
	if s.uploadErr != nil {
		return "", s.uploadErr
	}
	_, _ = io.Copy(io.Discard, body)
	s.mu.Lock()
	s.uploaded = append(s.uploaded, key)
	s.mu.Unlock()
	return "https://archive.example.com/" + key, nil
}

func (s *fakeStorage) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	s.deleted = append(s.deleted, key)
	s.mu.Unlock()
	return nil
}

func (s *fakeStorage) GetPublicURL(key string) string {
	return "https://archive.example.com/" + key
}

type fakeQueue struct {
	mu    sync.Mutex
	tasks []*asynq.Task
	err   error
}

func (q *fakeQueue) EnqueueContext(_ context.Context, task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	if q.err != nil {
		return nil, q.err
	}
	q.mu.Lock()
	q.tasks = append(q.tasks, task)
	q.mu.Unlock()
	return &asynq.TaskInfo{Queue: QueueRedial, Type: task.Type()}, nil
}

type env struct {
	remote    *testutil.FakeRemote
	tracker   *tracker.Tracker
	store     *viewstate.Store
	sync      *SyncService
	scheduler *poller.Scheduler
	batches   *BatchService
	redial    *RedialService
	uploads   *UploadService
	notifier  *fakeNotifier
	storage   *fakeStorage
}

func newEnv(t *testing.T, queue TaskEnqueuer) *env {
	t.Helper()

	remote := testutil.NewFakeRemote()
	t.Cleanup(remote.Close)

	log := logging.Discard()
	api := client.NewBatchClient(&config.RemoteConfig{BaseURL: remote.URL(), Timeout: 5}, log)

	e := &env{
		remote:   remote,
		tracker:  tracker.New(),
		notifier: &fakeNotifier{},
		storage:  &fakeStorage{},
	}
	e.store = viewstate.New(e.tracker)
	e.sync = NewSyncService(api, e.store, log)
	e.scheduler = poller.New(e.sync.Refresh, time.Hour, log)
	t.Cleanup(e.scheduler.Stop)
	e.batches = NewBatchService(api, e.store, e.scheduler, e.sync, log)
	e.redial = NewRedialService(api, e.tracker, e.store, e.sync, NewMemoryJournal(), e.notifier, queue, log)
	e.uploads = NewUploadService(api, e.storage, e.store, e.batches, log)
	return e
}

func strPtr(s string) *string { return &s }

func scorePtr(v float64) *float64 { return &v }

func TestUpload_RegistersBatchAndPolls(t *testing.T) {
	e := newEnv(t, nil)

	res, err := e.uploads.Upload(context.Background(), "contacts.xlsx", stringsReader("xlsx"), 4)
	require.NoError(t, err)
	assert.Equal(t, "batch-1", res.BatchID)
	assert.Contains(t, res.ArchiveURL, "uploads/")

	id, ok := e.scheduler.Active()
	require.True(t, ok)
	assert.Equal(t, "batch-1", id)

	require.Eventually(t, func() bool { return len(e.store.Snapshot().Calls) == 1 }, 2*time.Second, 10*time.Millisecond)

	snap := e.store.Snapshot()
	assert.Equal(t, "c1", snap.Calls[0].ID)
	assert.Equal(t, model.StatusInitiated, snap.Calls[0].Status.Kind)
	assert.Equal(t, model.BucketInitiated, snap.Calls[0].StatusBucket)
	assert.True(t, snap.Polling)
	assert.Equal(t, model.UploadSuccess, snap.Upload.Status)

	require.Len(t, e.storage.uploaded, 1)
	assert.Regexp(t, `^uploads/[0-9a-f-]{36}\.xlsx$`, e.storage.uploaded[0])
}

func TestUpload_NestedBatchID(t *testing.T) {
	e := newEnv(t, nil)
	e.remote.NestedBatchID = true

	res, err := e.uploads.Upload(context.Background(), "contacts.xls", stringsReader("xls"), -1)
	require.NoError(t, err)
	assert.Equal(t, "batch-1", res.BatchID)
}

func TestUpload_RemoteFailure(t *testing.T) {
	e := newEnv(t, nil)
	e.remote.AddBatch("b0", "old.xlsx", testutil.Call("c0", "b0", "completed"))
	_, err := e.batches.Select("b0")
	require.NoError(t, err)

	e.remote.Fail(testutil.EndpointUpload, 500)
	_, err = e.uploads.Upload(context.Background(), "contacts.xlsx", stringsReader("xlsx"), 4)

	var apiErr *client.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 500, apiErr.StatusCode)

	_, polling := e.scheduler.Active()
	assert.False(t, polling, "failed upload stops polling")

	snap := e.store.Snapshot()
	assert.Equal(t, model.UploadError, snap.Upload.Status)
	assert.False(t, snap.Polling)
	assert.Equal(t, e.storage.uploaded, e.storage.deleted, "archived file is discarded")
}

func TestUpload_ArchiveFailureNotFatal(t *testing.T) {
	e := newEnv(t, nil)
	e.storage.uploadErr = errors.New("bucket unavailable")

	res, err := e.uploads.Upload(context.Background(), "contacts.xlsx", stringsReader("xlsx"), 4)
	require.NoError(t, err)
	assert.Empty(t, res.ArchiveURL)
}

func TestUpload_Validation(t *testing.T) {
	e := newEnv(t, nil)

	tests := []struct {
		name string
		file string
		size int64
	}{
		{"wrong extension", "contacts.csv", 10},
		{"empty", "contacts.xlsx", 0},
		{"too large", "contacts.xlsx", MaxUploadSize + 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.uploads.Upload(context.Background(), tt.file, stringsReader("x"), tt.size)
			assert.ErrorIs(t, err, ErrInvalidFile)
		})
	}

	assert.Empty(t, e.remote.Uploads())
	assert.Equal(t, model.UploadIdle, e.store.Snapshot().Upload.Status)
}

func TestSync_Projection(t *testing.T) {
	e := newEnv(t, nil)

	empty := ""
	c1 := testutil.Call("c1", "b1", "completed")
	c1.CallResult = &client.RemoteCallResult{QualityScore: scorePtr(7.5), Summary: nil, Transcript: &empty}
	c2 := testutil.Call("c2", "b1", "escalated")
	c2.User = &client.RemoteUser{Name: &empty}
	c2.CallResult = &client.RemoteCallResult{QualityScore: scorePtr(0), CustomerIntent: strPtr("callback")}
	c3 := testutil.Call("c3", "b1", "initiated")
	c3.User = nil
	e.remote.AddBatch("b1", "a.xlsx", c1, c2, c3)

	calls, err := e.sync.Sync(context.Background(), "b1")
	require.NoError(t, err)
	require.Len(t, calls, 3)

	assert.Equal(t, []string{"c1", "c2", "c3"}, []string{calls[0].ID, calls[1].ID, calls[2].ID}, "server order preserved")

	require.NotNil(t, calls[0].QualityScore)
	assert.Equal(t, 7.5, *calls[0].QualityScore)
	assert.Nil(t, calls[0].Summary)
	assert.Nil(t, calls[0].Transcript)
	assert.Equal(t, "Contact c1", calls[0].Name)
	assert.False(t, calls[0].CreatedAt.IsZero())

	assert.Equal(t, model.NotAvailable, calls[1].Name)
	assert.Equal(t, model.NotAvailable, calls[1].Email)
	assert.False(t, calls[1].Status.Recognized())
	assert.Equal(t, "escalated", calls[1].Status.Raw)
	require.NotNil(t, calls[1].QualityScore, "zero score is a real score")
	assert.Equal(t, 0.0, *calls[1].QualityScore)
	assert.Equal(t, "callback", *calls[1].CustomerIntent)

	assert.Equal(t, model.NotAvailable, calls[2].Phone)
	assert.False(t, calls[2].HasResult())
}

func TestSync_EmptyBatch(t *testing.T) {
	e := newEnv(t, nil)
	_, err := e.sync.Sync(context.Background(), "")
	assert.ErrorIs(t, err, ErrEmptyBatch)
}

func TestRefresh_FailureRetainsList(t *testing.T) {
	e := newEnv(t, nil)
	e.remote.AddBatch("b1", "a.xlsx", testutil.Call("c1", "b1", "initiated"), testutil.Call("c2", "b1", "initiated"))
	e.store.Select("b1")
	require.NoError(t, e.sync.Refresh(context.Background(), "b1"))

	e.remote.Fail(testutil.EndpointCalls, 503)
	err := e.sync.Refresh(context.Background(), "b1")
	require.Error(t, err)

	snap := e.store.Snapshot()
	assert.Len(t, snap.Calls, 2)
	assert.NotEmpty(t, snap.LastError)
}

func TestRefresh_NoCallsIsServerError(t *testing.T) {
	e := newEnv(t, nil)
	e.store.Select("missing")

	err := e.sync.Refresh(context.Background(), "missing")

	var apiErr *client.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 404, apiErr.StatusCode)
}

func TestRefresh_StaleResultDiscarded(t *testing.T) {
	e := newEnv(t, nil)
	e.remote.AddBatch("b1", "a.xlsx", testutil.Call("c1", "b1", "initiated"))
	e.store.Select("b2")

	require.NoError(t, e.sync.Refresh(context.Background(), "b1"))

	snap := e.store.Snapshot()
	assert.Equal(t, "b2", snap.BatchID)
	assert.Empty(t, snap.Calls)
}

func TestSelect_SwitchesPolling(t *testing.T) {
	e := newEnv(t, nil)
	e.remote.AddBatch("b1", "a.xlsx", testutil.Call("c1", "b1", "initiated"))
	e.remote.AddBatch("b2", "b.xlsx", testutil.Call("c9", "b2", "completed"))

	_, err := e.batches.Select("b1")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(e.store.Snapshot().Calls) == 1 }, 2*time.Second, 10*time.Millisecond)

	_, err = e.batches.Select("b2")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		snap := e.store.Snapshot()
		return len(snap.Calls) == 1 && snap.Calls[0].ID == "c9"
	}, 2*time.Second, 10*time.Millisecond)

	id, _ := e.scheduler.Active()
	assert.Equal(t, "b2", id)

	_, err = e.batches.Select("  ")
	assert.ErrorIs(t, err, ErrEmptyBatch)
}

func TestStop_KeepsSelectionAndList(t *testing.T) {
	e := newEnv(t, nil)
	e.remote.AddBatch("b1", "a.xlsx", testutil.Call("c1", "b1", "initiated"))

	_, err := e.batches.Select("b1")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(e.store.Snapshot().Calls) == 1 }, 2*time.Second, 10*time.Millisecond)

	e.batches.Stop()
	e.batches.Stop()

	snap := e.store.Snapshot()
	assert.Equal(t, "b1", snap.BatchID)
	assert.Len(t, snap.Calls, 1)
	assert.False(t, snap.Polling)
}

func TestRefreshNow(t *testing.T) {
	e := newEnv(t, nil)

	_, err := e.batches.RefreshNow(context.Background())
	assert.ErrorIs(t, err, ErrNoActiveBatch)

	e.remote.AddBatch("b1", "a.xlsx", testutil.Call("c1", "b1", "initiated"))
	e.store.Select("b1")
	snap, err := e.batches.RefreshNow(context.Background())
	require.NoError(t, err)
	assert.Len(t, snap.Calls, 1)
}

func TestList(t *testing.T) {
	e := newEnv(t, nil)
	e.remote.AddBatch("b1", "a.xlsx")
	e.remote.AddBatch("b2", "b.xlsx")

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			batches, err := e.batches.List(context.Background())
			assert.NoError(t, err)
			assert.Len(t, batches, 2)
		}()
	}
	wg.Wait()

	batches, err := e.batches.List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "b1", batches[0].ID)
	assert.Equal(t, "a.xlsx", batches[0].FileName)
	assert.False(t, batches[0].CreatedAt.IsZero())
}

func TestRedial_InvalidID(t *testing.T) {
	e := newEnv(t, nil)
	_, err := e.redial.Redial(context.Background(), " ")
	assert.ErrorIs(t, err, ErrInvalidCallID)
}

func TestRedial_RefusedWhileInFlight(t *testing.T) {
	e := newEnv(t, nil)
	require.True(t, e.tracker.Reserve("c1"))

	_, err := e.redial.Redial(context.Background(), "c1")
	assert.ErrorIs(t, err, ErrRedialInFlight)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, e.remote.Hits("/calls/c1/redial"), "refused redial issues no network call")
	assert.Equal(t, []string{"c1"}, e.tracker.Reserved())
}

func TestRedial_DistinctIDsConcurrent(t *testing.T) {
	e := newEnv(t, nil)
	gate := make(chan struct{})
	e.remote.RedialGate = gate

	_, err := e.redial.Redial(context.Background(), "A")
	require.NoError(t, err)
	_, err = e.redial.Redial(context.Background(), "B")
	require.NoError(t, err)

	assert.Equal(t, []string{"A", "B"}, e.tracker.Reserved())
	assert.Equal(t, []string{"A", "B"}, e.store.Snapshot().Redialing)

	_, err = e.redial.Redial(context.Background(), "A")
	assert.ErrorIs(t, err, ErrRedialInFlight)

	close(gate)
	require.Eventually(t, func() bool { return len(e.tracker.Reserved()) == 0 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, e.remote.Hits("/calls/A/redial"))
	assert.Equal(t, 1, e.remote.Hits("/calls/B/redial"))
}

func TestRedial_FailureReleasesAndNotifies(t *testing.T) {
	e := newEnv(t, nil)
	e.remote.AddBatch("b1", "a.xlsx", testutil.Call("c1", "b1", "failed"))
	e.store.Select("b1")
	require.NoError(t, e.sync.Refresh(context.Background(), "b1"))
	before := e.remote.Hits("/calls/batch/b1")

	e.remote.Fail(testutil.EndpointRedial, 500)
	accepted, err := e.redial.Redial(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, config.RedialModeInline, accepted.Mode)

	require.Eventually(t, func() bool { return len(e.notifier.all()) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.False(t, e.tracker.IsReserved("c1"))

	notice := e.notifier.all()[0]
	assert.Equal(t, "b1", notice.BatchID)
	assert.Equal(t, "c1", notice.CallID)
	assert.Equal(t, model.NoticeError, notice.Level)

	assert.Len(t, e.store.Snapshot().Calls, 1)
	assert.Equal(t, before, e.remote.Hits("/calls/batch/b1"), "failed redial triggers no refresh")

	attempt, err := e.redial.Attempt(context.Background(), accepted.RequestID)
	require.NoError(t, err)
	assert.Equal(t, model.RedialFailed, attempt.State)
	require.NotNil(t, attempt.Error)

	_, err = e.redial.Redial(context.Background(), "c1")
	assert.NoError(t, err, "released id can be redialed again")
}

func TestRedial_SuccessRefreshesActiveBatch(t *testing.T) {
	e := newEnv(t, nil)
	e.remote.AddBatch("b1", "a.xlsx", testutil.Call("c1", "b1", "failed"))
	e.store.Select("b1")
	require.NoError(t, e.sync.Refresh(context.Background(), "b1"))
	before := e.remote.Hits("/calls/batch/b1")

	e.remote.SetCalls("b1", testutil.Call("c1", "b1", "initiated"))
	accepted, err := e.redial.Redial(context.Background(), "c1")
	require.NoError(t, err)

	require.Eventually(t, func() bool { return e.remote.Hits("/calls/batch/b1") == before+1 }, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		snap := e.store.Snapshot()
		return len(snap.Calls) == 1 && snap.Calls[0].Status.Kind == model.StatusInitiated
	}, 2*time.Second, 10*time.Millisecond)
	assert.False(t, e.tracker.IsReserved("c1"))
	assert.Empty(t, e.notifier.all())

	require.Eventually(t, func() bool {
		attempt, err := e.redial.Attempt(context.Background(), accepted.RequestID)
		return err == nil && attempt.State == model.RedialSucceeded
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRedial_QueueMode(t *testing.T) {
	q := &fakeQueue{}
	e := newEnv(t, q)
	e.store.Select("b1")

	accepted, err := e.redial.Redial(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, config.RedialModeQueue, accepted.Mode)
	assert.True(t, e.tracker.IsReserved("c1"), "reserved until the worker runs")

	require.Len(t, q.tasks, 1)
	assert.Equal(t, TaskTypeRedial, q.tasks[0].Type())
	assert.Equal(t, 0, e.remote.Hits("/calls/c1/redial"))
}

func TestRedial_QueueFailureReleases(t *testing.T) {
	q := &fakeQueue{err: errors.New("redis down")}
	e := newEnv(t, q)

	_, err := e.redial.Redial(context.Background(), "c1")
	require.Error(t, err)
	assert.False(t, e.tracker.IsReserved("c1"))
}

func TestAttempt_NotFound(t *testing.T) {
	e := newEnv(t, nil)
	_, err := e.redial.Attempt(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrAttemptNotFound)
}

func TestRefresh_IdenticalDataStable(t *testing.T) {
	e := newEnv(t, nil)
	e.remote.AddBatch("b1", "a.xlsx",
		testutil.Call("c1", "b1", "completed"),
		testutil.Call("c2", "b1", "initiated"),
		testutil.Call("c3", "b1", "failed"),
	)
	e.store.Select("b1")

	require.NoError(t, e.sync.Refresh(context.Background(), "b1"))
	first := e.store.Snapshot().Calls

	require.NoError(t, e.sync.Refresh(context.Background(), "b1"))
	second := e.store.Snapshot().Calls

	require.Len(t, first, 3)
	assert.Equal(t, first, second)
}

func TestSelect_ConcurrentKeepsStoreAndSchedulerAligned(t *testing.T) {
	log := logging.Discard()
	store := viewstate.New(nil)
	scheduler := poller.New(func(context.Context, string) error { return nil }, time.Hour, log)
	t.Cleanup(scheduler.Stop)
	batches := NewBatchService(nil, store, scheduler, nil, log)

	for i := 0; i < 500; i++ {
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = batches.Select("b1")
		}()
		go func() {
			defer wg.Done()
			_, _ = batches.Select("b2")
		}()
		wg.Wait()

		active, running := scheduler.Active()
		require.True(t, running)
		require.Equal(t, store.ActiveBatch(), active, "iteration %d", i)
		require.True(t, store.Snapshot().Polling)
	}
}

func TestStop_ConcurrentWithSelectKeepsPollingFlag(t *testing.T) {
	log := logging.Discard()
	store := viewstate.New(nil)
	scheduler := poller.New(func(context.Context, string) error { return nil }, time.Hour, log)
	t.Cleanup(scheduler.Stop)
	batches := NewBatchService(nil, store, scheduler, nil, log)

	for i := 0; i < 500; i++ {
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = batches.Select("b1")
		}()
		go func() {
			defer wg.Done()
			batches.Stop()
		}()
		wg.Wait()

		_, running := scheduler.Active()
		require.Equal(t, running, store.Snapshot().Polling, "iteration %d", i)
		batches.Stop()
	}
}
