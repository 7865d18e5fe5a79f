package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dealtimer/escrow-engine/core"
)

// RedisStore backs one named queue with Redis sorted-set delay scheduling
// (score = ready-at unix millis) and a hash per job for payload/attempt
// bookkeeping. It is the durable substrate cmd/escrowd wires whenever
// REDIS_URL is set.
type RedisStore struct {
	client    *redis.Client
	name      string
	retry     RetryConfig
	retention RetentionConfig
	now       func() time.Time
}

func NewRedisStore(client *redis.Client, name string) *RedisStore {
	return &RedisStore{
		client:    client,
		name:      strings.TrimSpace(name),
		retry:     DefaultRetry(),
		retention: DefaultRetention(),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

type redisJobRecord struct {
	Payload        map[string]any `json:"payload"`
	IdempotencyKey string         `json:"idempotencyKey"`
	Attempt        int            `json:"attempt"`
}

func (s *RedisStore) pendingKey() string   { return "escrow:" + s.name + ":pending" }
func (s *RedisStore) jobKey(id string) string { return "escrow:" + s.name + ":job:" + id }
func (s *RedisStore) completedKey() string { return "escrow:" + s.name + ":completed" }
func (s *RedisStore) failedKey() string    { return "escrow:" + s.name + ":failed" }

func (s *RedisStore) Enqueue(ctx context.Context, msg *core.JobExecutionMessage, delay time.Duration) error {
	if s == nil || s.client == nil {
		return fmt.Errorf("queue: redis store is not configured")
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

	exists, err := s.client.Exists(ctx, s.jobKey(jobID)).Result()
	if err != nil {
		return fmt.Errorf("queue: check existing job: %w", err)
	}
	if exists > 0 {
		return nil
	}

	record := redisJobRecord{Payload: msg.Payload, IdempotencyKey: msg.IdempotencyKey, Attempt: 0}
	encoded, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("queue: encode job record: %w", err)
	}
	readyAt := s.now().Add(delay)

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.jobKey(jobID), encoded, 0)
	pipe.ZAdd(ctx, s.pendingKey(), redis.Z{Score: float64(readyAt.UnixMilli()), Member: jobID})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("queue: enqueue %s: %w", jobID, err)
	}
	return nil
}

func (s *RedisStore) CancelByID(ctx context.Context, _ string, jobID string) error {
	if s == nil || s.client == nil {
		return fmt.Errorf("queue: redis store is not configured")
	}
	jobID = strings.TrimSpace(jobID)
	if jobID == "" {
		return nil
	}
	pipe := s.client.TxPipeline()
	pipe.ZRem(ctx, s.pendingKey(), jobID)
	pipe.Del(ctx, s.jobKey(jobID))
	_, err := pipe.Exec(ctx)
	return err
}

func (s *RedisStore) Dequeue(ctx context.Context) (core.JobDelivery, error) {
	if s == nil || s.client == nil {
		return nil, fmt.Errorf("queue: redis store is not configured")
	}
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		delivery, err := s.tryDequeue(ctx)
		if err != nil {
			return nil, err
		}
		if delivery != nil {
			return delivery, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (s *RedisStore) tryDequeue(ctx context.Context) (*redisDelivery, error) {
	nowMs := s.now().UnixMilli()
	ids, err := s.client.ZRangeByScore(ctx, s.pendingKey(), &redis.ZRangeBy{
		Min:    "0",
		Max:    strconv.FormatInt(nowMs, 10),
		Offset: 0,
		Count:  1,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("queue: scan pending: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	jobID := ids[0]
	removed, err := s.client.ZRem(ctx, s.pendingKey(), jobID).Result()
	if err != nil {
		return nil, fmt.Errorf("queue: claim %s: %w", jobID, err)
	}
	if removed == 0 {
		return nil, nil
	}

	raw, err := s.client.Get(ctx, s.jobKey(jobID)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("queue: load job %s: %w", jobID, err)
	}
	var record redisJobRecord
	if err := json.Unmarshal([]byte(raw), &record); err != nil {
		return nil, fmt.Errorf("queue: decode job %s: %w", jobID, err)
	}
	record.Attempt++
	if encoded, err := json.Marshal(record); err == nil {
		_ = s.client.Set(ctx, s.jobKey(jobID), encoded, 0).Err()
	}

	return &redisDelivery{
		store: s,
		jobID: jobID,
		message: &core.JobExecutionMessage{
			JobID:          jobID,
			Queue:          s.name,
			Payload:        record.Payload,
			IdempotencyKey: record.IdempotencyKey,
		},
		attempt: record.Attempt,
	}, nil
}

func (s *RedisStore) ack(ctx context.Context, jobID string) error {
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.jobKey(jobID))
	pipe.LPush(ctx, s.completedKey(), jobID)
	pipe.LTrim(ctx, s.completedKey(), 0, int64(s.retention.CompletedMax-1))
	pipe.Expire(ctx, s.completedKey(), s.retention.CompletedTTL)
	_, err := pipe.Exec(ctx)
	return err
}

func (s *RedisStore) nack(ctx context.Context, jobID string, opts core.JobNackOptions, attempt int) error {
	deadLetter := opts.DeadLetter || !opts.Requeue || (s.retry.MaxAttempts > 0 && attempt >= s.retry.MaxAttempts)
	if deadLetter {
		pipe := s.client.TxPipeline()
		pipe.Del(ctx, s.jobKey(jobID))
		pipe.LPush(ctx, s.failedKey(), jobID)
		pipe.LTrim(ctx, s.failedKey(), 0, int64(s.retention.FailedMax-1))
		pipe.Expire(ctx, s.failedKey(), s.retention.FailedTTL)
		_, err := pipe.Exec(ctx)
		return err
	}
	delay := opts.Delay
	if delay <= 0 {
		delay = s.retry.Backoff(attempt)
	}
	readyAt := s.now().Add(delay)
	return s.client.ZAdd(ctx, s.pendingKey(), redis.Z{Score: float64(readyAt.UnixMilli()), Member: jobID}).Err()
}

func (s *RedisStore) Close(_ context.Context) error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

type redisDelivery struct {
	store   *RedisStore
	jobID   string
	message *core.JobExecutionMessage
	attempt int
}

func (d *redisDelivery) Message() *core.JobExecutionMessage { return d.message }

func (d *redisDelivery) Attempt() int { return d.attempt }

func (d *redisDelivery) Ack(ctx context.Context) error {
	return d.store.ack(ctx, d.jobID)
}

func (d *redisDelivery) Nack(ctx context.Context, opts core.JobNackOptions) error {
	return d.store.nack(ctx, d.jobID, opts, d.attempt)
}

var (
	_ Store            = (*RedisStore)(nil)
	_ core.JobDelivery = (*redisDelivery)(nil)
)
