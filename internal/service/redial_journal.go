package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/bikaxh01/toothsi-bot/internal/model"
)

// ErrAttemptNotFound is returned for an unknown redial request id.
var ErrAttemptNotFound = errors.New("redial request not found")

const attemptRetention = 24 * time.Hour

// RedialJournal keeps the outcome of recent redial requests.
type RedialJournal interface {
	Save(ctx context.Context, attempt *model.RedialAttempt) error
	Get(ctx context.Context, requestID string) (*model.RedialAttempt, error)
}

// RedisJournal stores attempts as JSON under redial:{requestId}.
type RedisJournal struct {
	redis *redis.Client
}

func NewRedisJournal(redisClient *redis.Client) *RedisJournal {
	return &RedisJournal{redis: redisClient}
}

func (j *RedisJournal) Save(ctx context.Context, attempt *model.RedialAttempt) error {
	data, err := json.Marshal(attempt)
	if err != nil {
		return err
	}
	return j.redis.Set(ctx, attemptKey(attempt.RequestID), data, attemptRetention).Err()
}

func (j *RedisJournal) Get(ctx context.Context, requestID string) (*model.RedialAttempt, error) {
	data, err := j.redis.Get(ctx, attemptKey(requestID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrAttemptNotFound
		}
		return nil, err
	}

	var attempt model.RedialAttempt
	if err := json.Unmarshal(data, &attempt); err != nil {
		return nil, err
	}
	return &attempt, nil
}

func attemptKey(requestID string) string {
	return fmt.Sprintf("redial:%s", requestID)
}

// MemoryJournal is the in-process journal used when Redis is disabled.
type MemoryJournal struct {
	mu       sync.Mutex
	attempts map[string]memoryEntry
	now      func() time.Time
}

type memoryEntry struct {
	attempt model.RedialAttempt
	expires time.Time
}

func NewMemoryJournal() *MemoryJournal {
	return &MemoryJournal{
		attempts: make(map[string]memoryEntry),
		now:      time.Now,
	}
}

func (j *MemoryJournal) Save(_ context.Context, attempt *model.RedialAttempt) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	now := j.now()
	for id, e := range j.attempts {
		if now.After(e.expires) {
			delete(j.attempts, id)
		}
	}
	j.attempts[attempt.RequestID] = memoryEntry{attempt: *attempt, expires: now.Add(attemptRetention)}
	return nil
}

func (j *MemoryJournal) Get(_ context.Context, requestID string) (*model.RedialAttempt, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	e, ok := j.attempts[requestID]
	if !ok || j.now().After(e.expires) {
		return nil, ErrAttemptNotFound
	}
	attempt := e.attempt
	return &attempt, nil
}
