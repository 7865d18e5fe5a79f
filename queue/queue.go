// Package queue implements the durable delayed-job substrate: three named
// queues (deadlines, reminders, escalation), each backed by a Store keyed
// by job identity so re-adding an already-pending job is a no-op. Store has
// two implementations: MemoryStore for local/test runs and RedisStore for
// production, selected by cmd/escrowd based on whether REDIS_URL is set.
package queue

import (
	"context"
	"time"

	"github.com/dealtimer/escrow-engine/core"
)

const (
	Deadlines  = "deadlines"
	Reminders  = "reminders"
	Escalation = "escalation"
)

// Names lists the three queues the worker runtime must boot a pool for.
func Names() []string {
	return []string{Deadlines, Reminders, Escalation}
}

// RetentionConfig bounds how long completed/failed jobs stay addressable
// for post-mortem before a Store is free to evict them.
type RetentionConfig struct {
	CompletedTTL time.Duration
	CompletedMax int
	FailedTTL    time.Duration
	FailedMax    int
}

// DefaultRetention matches the substrate contract: completed jobs kept
// ~1h or 1000 entries, failed jobs ~24h or 1000 entries.
func DefaultRetention() RetentionConfig {
	return RetentionConfig{
		CompletedTTL: time.Hour,
		CompletedMax: 1000,
		FailedTTL:    24 * time.Hour,
		FailedMax:    1000,
	}
}

// RetryConfig bounds the substrate's retry behavior on transient failure.
type RetryConfig struct {
	MaxAttempts       int
	InitialBackoff    time.Duration
	BackoffMultiplier float64
	MaxBackoff        time.Duration
}

// DefaultRetry matches the substrate contract: 5 attempts, exponential
// backoff starting at 1000ms.
func DefaultRetry() RetryConfig {
	return RetryConfig{
		MaxAttempts:       5,
		InitialBackoff:    time.Second,
		BackoffMultiplier: 2.0,
		MaxBackoff:        5 * time.Minute,
	}
}

// Backoff returns the delay before attempt N (1-indexed) is redelivered.
func (r RetryConfig) Backoff(attempt int) time.Duration {
	if attempt <= 1 {
		return r.InitialBackoff
	}
	delay := r.InitialBackoff
	multiplier := r.BackoffMultiplier
	if multiplier <= 1 {
		multiplier = 2.0
	}
	for i := 1; i < attempt; i++ {
		delay = time.Duration(float64(delay) * multiplier)
		if r.MaxBackoff > 0 && delay >= r.MaxBackoff {
			return r.MaxBackoff
		}
	}
	return delay
}

// Store is the durable delayed-job backend one named queue is bound to. It
// composes the core enqueue/dequeue/cancel contracts with a Close so
// cmd/escrowd can release connection handles exactly once on shutdown.
type Store interface {
	core.JobEnqueuer
	core.JobDequeuer
	core.JobCanceller
	Close(ctx context.Context) error
}

// DelayUntil floors a target unix-seconds timestamp to a non-negative
// delay from now, per the past-deadline floor property: scheduling a job
// whose target time is already due yields delayMs=0, never negative.
func DelayUntil(now time.Time, targetUnixSeconds int64) time.Duration {
	target := time.Unix(targetUnixSeconds, 0).UTC()
	delay := target.Sub(now)
	if delay < 0 {
		return 0
	}
	return delay
}
