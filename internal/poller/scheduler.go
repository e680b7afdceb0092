// Package poller runs the recurring synchronization of one batch at a time.
package poller

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultInterval is used when no positive interval is configured.
const DefaultInterval = 30 * time.Second

// ErrEmptyBatchID is returned by Start when no batch is given.
var ErrEmptyBatchID = errors.New("batch id is required")

// FetchFunc performs one synchronization of batchID.
type FetchFunc func(ctx context.Context, batchID string) error

// Cycle is the handle of a running poll loop.
type Cycle struct {
	batchID string
	cancel  context.CancelFunc
	done    chan struct{}
}

// BatchID returns the batch this cycle polls.
func (c *Cycle) BatchID() string { return c.batchID }

// Done is closed once the cycle goroutine has exited.
func (c *Cycle) Done() <-chan struct{} { return c.done }

// Scheduler owns at most one Cycle. Starting a cycle always supersedes the
// previous one.
type Scheduler struct {
	mu       sync.Mutex
	cycle    *Cycle
	interval time.Duration
	fetch    FetchFunc
	log      logrus.FieldLogger
}

// New creates a scheduler. A non-positive interval selects DefaultInterval.
func New(fetch FetchFunc, interval time.Duration, log logrus.FieldLogger) *Scheduler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Scheduler{
		interval: interval,
		fetch:    fetch,
		log:      log,
	}
}

// Start cancels any running cycle, fetches batchID immediately and then
// again on every interval until stopped.
func (s *Scheduler) Start(batchID string) (*Cycle, error) {
	if batchID == "" {
		return nil, ErrEmptyBatchID
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Cycle{
		batchID: batchID,
		cancel:  cancel,
		done:    make(chan struct{}),
	}

	s.mu.Lock()
	prev := s.cycle
	s.cycle = c
	interval := s.interval
	s.mu.Unlock()

	if prev != nil {
		prev.cancel()
		s.log.WithFields(logrus.Fields{"batch_id": prev.batchID, "next_batch_id": batchID}).Info("Poll cycle superseded")
	}

	s.log.WithFields(logrus.Fields{"batch_id": batchID, "interval": interval.String()}).Info("Poll cycle started")
	go s.run(ctx, c, interval)
	return c, nil
}

// Stop cancels the active cycle. A fetch already in flight completes; no
// further fetch is issued. Stop is idempotent.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	c := s.cycle
	s.cycle = nil
	s.mu.Unlock()

	if c != nil {
		c.cancel()
		s.log.WithField("batch_id", c.batchID).Info("Poll cycle stopped")
	}
}

// Active returns the batch of the running cycle.
func (s *Scheduler) Active() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cycle == nil {
		return "", false
	}
	return s.cycle.batchID, true
}

// SetInterval changes the interval used by cycles started afterwards.
func (s *Scheduler) SetInterval(d time.Duration) {
	if d <= 0 {
		return
	}
	s.mu.Lock()
	s.interval = d
	s.mu.Unlock()
}

// Interval returns the interval for the next cycle.
func (s *Scheduler) Interval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interval
}

// Close stops the active cycle and waits for its goroutine to exit or for
// ctx to end.
func (s *Scheduler) Close(ctx context.Context) error {
	s.mu.Lock()
	c := s.cycle
	s.cycle = nil
	s.mu.Unlock()

	if c == nil {
		return nil
	}
	c.cancel()

	select {
	case <-c.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) run(ctx context.Context, c *Cycle, interval time.Duration) {
	defer close(c.done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Fetches outlive Stop; only the HTTP client timeout bounds them.
	fetchCtx := context.WithoutCancel(ctx)
	log := s.log.WithField("batch_id", c.batchID)

	attempt := 0
	for {
		if ctx.Err() != nil {
			return
		}

		attempt++
		if err := s.fetch(fetchCtx, c.batchID); err != nil {
			log.WithError(err).WithField("attempt", attempt).Warn("Poll fetch failed")
		} else {
			log.WithField("attempt", attempt).Debug("Poll fetch done")
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
