package queue

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dealtimer/escrow-engine/core"
)

type memoryJob struct {
	msg     *core.JobExecutionMessage
	readyAt time.Time
	attempt int
}

// MemoryStore is an in-process Store, grounded on the mutex-guarded map
// shape of core.MemoryReplayLedger without its TTL expiry or capacity
// bound; acked and dead-lettered jobs are dropped. It backs local runs and tests;
// production deployments with REDIS_URL set use RedisStore instead.
type MemoryStore struct {
	mu        sync.Mutex
	name      string
	pending   map[string]*memoryJob
	inflight  map[string]*memoryJob
	retry     RetryConfig
	retention RetentionConfig
	now       func() time.Time
	closed    bool
}

func NewMemoryStore(name string) *MemoryStore {
	return &MemoryStore{
		name:      name,
		pending:   map[string]*memoryJob{},
		inflight:  map[string]*memoryJob{},
		retry:     DefaultRetry(),
		retention: DefaultRetention(),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemoryStore) Enqueue(_ context.Context, msg *core.JobExecutionMessage, delay time.Duration) error {
	if s == nil {
		return fmt.Errorf("queue: memory store is not configured")
	}
	if msg == nil {
		return fmt.Errorf("queue: execution message is required")
	}
	jobID := strings.TrimSpace(msg.JobID)
	if jobID == "" {
		return fmt.Errorf("queue: job id is required")
	}
	if delay < 0 {
		delay = 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("queue: memory store %q is closed", s.name)
	}
	if _, exists := s.pending[jobID]; exists {
		return nil
	}
	if _, exists := s.inflight[jobID]; exists {
		return nil
	}
	s.pending[jobID] = &memoryJob{msg: cloneMessage(msg), readyAt: s.now().Add(delay)}
	return nil
}

func (s *MemoryStore) CancelByID(_ context.Context, _ string, jobID string) error {
	if s == nil {
		return fmt.Errorf("queue: memory store is not configured")
	}
	jobID = strings.TrimSpace(jobID)
	if jobID == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pending, jobID)
	return nil
}

func (s *MemoryStore) Dequeue(ctx context.Context) (core.JobDelivery, error) {
	if s == nil {
		return nil, fmt.Errorf("queue: memory store is not configured")
	}
	ticker := time.NewTicker(25 * time.Millisecond)
	defer ticker.Stop()
	for {
		if delivery := s.tryDequeue(); delivery != nil {
			return delivery, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (s *MemoryStore) tryDequeue() *memoryDelivery {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	now := s.now()
	var readyID string
	var readyJob *memoryJob
	for jobID, job := range s.pending {
		if job.readyAt.After(now) {
			continue
		}
		if readyJob == nil || job.readyAt.Before(readyJob.readyAt) {
			readyID, readyJob = jobID, job
		}
	}
	if readyJob == nil {
		return nil
	}
	delete(s.pending, readyID)
	readyJob.attempt++
	s.inflight[readyID] = readyJob
	return &memoryDelivery{store: s, jobID: readyID, job: readyJob}
}

func (s *MemoryStore) ack(jobID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inflight, jobID)
}

func (s *MemoryStore) nack(jobID string, opts core.JobNackOptions, attempt int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.inflight[jobID]
	if !ok {
		return
	}
	delete(s.inflight, jobID)
	if opts.DeadLetter || !opts.Requeue || (s.retry.MaxAttempts > 0 && attempt >= s.retry.MaxAttempts) {
		return
	}
	delay := opts.Delay
	if delay <= 0 {
		delay = s.retry.Backoff(attempt)
	}
	job.readyAt = s.now().Add(delay)
	s.pending[jobID] = job
}

func (s *MemoryStore) Close(_ context.Context) error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Len reports the number of pending (not yet dequeued) jobs, for tests.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

func cloneMessage(msg *core.JobExecutionMessage) *core.JobExecutionMessage {
	if msg == nil {
		return nil
	}
	payload := make(map[string]any, len(msg.Payload))
	for k, v := range msg.Payload {
		payload[k] = v
	}
	return &core.JobExecutionMessage{
		JobID:          msg.JobID,
		Queue:          msg.Queue,
		Payload:        payload,
		IdempotencyKey: msg.IdempotencyKey,
	}
}

type memoryDelivery struct {
	store   *MemoryStore
	jobID   string
	job     *memoryJob
}

func (d *memoryDelivery) Message() *core.JobExecutionMessage { return d.job.msg }

func (d *memoryDelivery) Attempt() int { return d.job.attempt }

func (d *memoryDelivery) Ack(_ context.Context) error {
	d.store.ack(d.jobID)
	return nil
}

func (d *memoryDelivery) Nack(_ context.Context, opts core.JobNackOptions) error {
	d.store.nack(d.jobID, opts, d.job.attempt)
	return nil
}

var (
	_ Store            = (*MemoryStore)(nil)
	_ core.JobDelivery = (*memoryDelivery)(nil)
)
