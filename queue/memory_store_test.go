package queue

import (
	"context"
	"testing"
	"time"

	"github.com/dealtimer/escrow-engine/core"
)

func TestMemoryStore_EnqueueTwiceIsNoop(t *testing.T) {
	store := NewMemoryStore(Deadlines)
	msg := &core.JobExecutionMessage{JobID: "deadline:D-1:100:delivery:0", Queue: Deadlines}

	if err := store.Enqueue(context.Background(), msg, 0); err != nil {
		t.Fatalf("first enqueue: %v", err)
	}
	if err := store.Enqueue(context.Background(), msg, 0); err != nil {
		t.Fatalf("second enqueue: %v", err)
	}
	if got := store.Len(); got != 1 {
		t.Fatalf("expected exactly one pending job, got %d", got)
	}
}

func TestMemoryStore_CancelNonExistentIsNoop(t *testing.T) {
	store := NewMemoryStore(Reminders)
	if err := store.CancelByID(context.Background(), Reminders, "does-not-exist"); err != nil {
		t.Fatalf("expected cancel of missing job to succeed, got %v", err)
	}
}

func TestMemoryStore_DequeueRespectsDelay(t *testing.T) {
	store := NewMemoryStore(Deadlines)
	fixed := time.Unix(1_700_000_000, 0).UTC()
	store.now = func() time.Time { return fixed }

	msg := &core.JobExecutionMessage{JobID: "deadline:D-2:100:delivery:0", Queue: Deadlines}
	if err := store.Enqueue(context.Background(), msg, time.Hour); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if _, err := store.Dequeue(ctx); err == nil {
		t.Fatalf("expected dequeue to time out while job is not yet ready")
	}

	store.now = func() time.Time { return fixed.Add(2 * time.Hour) }
	delivery, err := store.Dequeue(context.Background())
	if err != nil {
		t.Fatalf("dequeue after delay elapses: %v", err)
	}
	if delivery.Message().JobID != msg.JobID {
		t.Fatalf("expected delivered job id %q, got %q", msg.JobID, delivery.Message().JobID)
	}
	if delivery.Attempt() != 1 {
		t.Fatalf("expected first delivery attempt=1, got %d", delivery.Attempt())
	}
}

func TestMemoryStore_NackRequeuesWithBackoff(t *testing.T) {
	store := NewMemoryStore(Escalation)
	fixed := time.Unix(1_700_000_000, 0).UTC()
	store.now = func() time.Time { return fixed }

	msg := &core.JobExecutionMessage{JobID: "escalation:D-3:no-delivery:REVIEW", Queue: Escalation}
	if err := store.Enqueue(context.Background(), msg, 0); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	delivery, err := store.Dequeue(context.Background())
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if err := delivery.Nack(context.Background(), core.JobNackOptions{Requeue: true}); err != nil {
		t.Fatalf("nack: %v", err)
	}
	if got := store.Len(); got != 1 {
		t.Fatalf("expected job requeued after nack, got %d pending", got)
	}
}

func TestMemoryStore_NackDeadLetterDropsJob(t *testing.T) {
	store := NewMemoryStore(Escalation)
	msg := &core.JobExecutionMessage{JobID: "escalation:D-4:no-ack:REVIEW", Queue: Escalation}
	if err := store.Enqueue(context.Background(), msg, 0); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	delivery, err := store.Dequeue(context.Background())
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if err := delivery.Nack(context.Background(), core.JobNackOptions{DeadLetter: true}); err != nil {
		t.Fatalf("nack: %v", err)
	}
	if got := store.Len(); got != 0 {
		t.Fatalf("expected dead-lettered job to not be requeued, got %d pending", got)
	}
}

func TestDelayUntil_FloorsPastDeadlinesToZero(t *testing.T) {
	now := time.Unix(1_700_000_000, 0).UTC()
	if got := DelayUntil(now, now.Unix()-10); got != 0 {
		t.Fatalf("expected past deadline to floor to 0, got %v", got)
	}
	if got := DelayUntil(now, now.Unix()+10); got != 10*time.Second {
		t.Fatalf("expected future deadline delay of 10s, got %v", got)
	}
}
