// Package worker runs the per-queue concurrent worker pools that drain
// the deadlines, reminders, and escalation queues and hand each fired
// job to its processor. Shutdown closes every pool and the queue
// substrate together so no goroutine is left holding a connection.
package worker

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dealtimer/escrow-engine/core"
)

// Handler processes one dequeued job. A returned error triggers a nack
// with backoff; nil triggers an ack.
type Handler interface {
	Handle(ctx context.Context, msg *core.JobExecutionMessage) error
}

// HandlerFunc adapts a plain function to Handler.
type HandlerFunc func(ctx context.Context, msg *core.JobExecutionMessage) error

func (f HandlerFunc) Handle(ctx context.Context, msg *core.JobExecutionMessage) error {
	return f(ctx, msg)
}

// RetryPolicy bounds how long a failed job keeps retrying before it is
// dead-lettered, mirroring the substrate's own DefaultRetry bounds so a
// handler failure and a substrate-level transient failure back off the
// same way.
type RetryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 5, InitialBackoff: time.Second, MaxBackoff: 5 * time.Minute}
}

func (p RetryPolicy) backoff(attempt int) time.Duration {
	delay := p.InitialBackoff
	if delay <= 0 {
		delay = time.Second
	}
	for i := 1; i < attempt; i++ {
		delay *= 2
		if p.MaxBackoff > 0 && delay >= p.MaxBackoff {
			return p.MaxBackoff
		}
	}
	if p.MaxBackoff > 0 && delay > p.MaxBackoff {
		return p.MaxBackoff
	}
	return delay
}

// Pool drains one queue with a fixed number of concurrent workers.
type Pool struct {
	Queue       string
	Dequeuer    core.JobDequeuer
	Handler     Handler
	Concurrency int
	Retry       RetryPolicy
	Hook        core.JobWorkerHook
	Observer    *core.Observer
	Clock       core.Clock
}

// Run blocks, draining the queue with Concurrency goroutines until ctx
// is cancelled.
func (p *Pool) Run(ctx context.Context) {
	concurrency := p.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	var wg sync.WaitGroup
	wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go func() {
			defer wg.Done()
			p.loop(ctx)
		}()
	}
	wg.Wait()
}

func (p *Pool) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		delivery, err := p.Dequeuer.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			continue
		}
		p.process(ctx, delivery)
	}
}

func (p *Pool) process(ctx context.Context, delivery core.JobDelivery) {
	msg := delivery.Message()
	traceID := uuid.NewString()
	startedAt := p.now()
	attempt := delivery.Attempt()

	event := core.JobWorkerEvent{Queue: p.Queue, Message: msg, Attempt: attempt, StartedAt: startedAt}
	p.notify(ctx, "active", event)

	err := p.Handler.Handle(ctx, msg)
	event.Duration = time.Since(startedAt)
	event.Err = err

	if err == nil {
		p.notify(ctx, "completed", event)
		_ = delivery.Ack(ctx)
		p.observe(ctx, "worker.job_completed", nil, traceID, msg)
		return
	}

	retry := p.Retry
	if retry.MaxAttempts <= 0 {
		retry = DefaultRetryPolicy()
	}
	if attempt >= retry.MaxAttempts {
		p.notify(ctx, "stalled", event)
		_ = delivery.Nack(ctx, core.JobNackOptions{DeadLetter: true, Reason: err.Error()})
		p.observe(ctx, "worker.job_dead_lettered", err, traceID, msg)
		return
	}

	p.notify(ctx, "failed", event)
	_ = delivery.Nack(ctx, core.JobNackOptions{Requeue: true, Delay: retry.backoff(attempt), Reason: err.Error()})
	p.observe(ctx, "worker.job_failed", err, traceID, msg)
}

func (p *Pool) notify(ctx context.Context, phase string, event core.JobWorkerEvent) {
	if p.Hook == nil {
		return
	}
	switch phase {
	case "active":
		p.Hook.OnActive(ctx, event)
	case "completed":
		p.Hook.OnCompleted(ctx, event)
	case "failed":
		p.Hook.OnFailed(ctx, event)
	case "stalled":
		p.Hook.OnStalled(ctx, event)
	}
}

func (p *Pool) observe(ctx context.Context, operation string, err error, traceID string, msg *core.JobExecutionMessage) {
	if p.Observer == nil {
		return
	}
	fields := map[string]any{"queue": p.Queue, "traceId": traceID}
	if msg != nil {
		fields["jobId"] = msg.JobID
	}
	p.Observer.Observe(ctx, p.now(), operation, err, fields)
}

func (p *Pool) now() time.Time {
	if p.Clock == nil {
		return core.RealClock()
	}
	return p.Clock()
}

// Runtime owns one Pool per queue and starts/stops them together.
type Runtime struct {
	pools []*Pool
}

func NewRuntime(pools ...*Pool) *Runtime {
	return &Runtime{pools: pools}
}

// Start blocks until ctx is cancelled, running every pool concurrently.
func (r *Runtime) Start(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(len(r.pools))
	for _, pool := range r.pools {
		pool := pool
		go func() {
			defer wg.Done()
			pool.Run(ctx)
		}()
	}
	wg.Wait()
}
