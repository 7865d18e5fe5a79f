package schedule

import (
	"context"
	"testing"
	"time"

	"github.com/dealtimer/escrow-engine/core"
	"github.com/dealtimer/escrow-engine/jobid"
	"github.com/dealtimer/escrow-engine/queue"
)

type fakeQueues struct {
	enqueued []*core.JobExecutionMessage
	delays   []time.Duration
	cancels  []string
}

func (f *fakeQueues) Enqueue(_ context.Context, _ string, msg *core.JobExecutionMessage, delay time.Duration) error {
	f.enqueued = append(f.enqueued, msg)
	f.delays = append(f.delays, delay)
	return nil
}

func (f *fakeQueues) CancelByID(_ context.Context, _ string, jobID string) error {
	f.cancels = append(f.cancels, jobID)
	return nil
}

func fixedClock(t time.Time) core.Clock {
	return func() time.Time { return t }
}

func TestEngine_FundedSchedulesDeliveryDeadlineAndReminder(t *testing.T) {
	now := time.Unix(1_700_000_000, 0).UTC()
	deliveryBy := now.Add(72 * time.Hour).Unix()
	q := &fakeQueues{}
	engine := NewEngine(q, NewMemoryNonceTracker(), fixedClock(now))

	snapshot := core.DealSnapshot{ID: "D-1", State: core.DealStateFunded, DeliveryBy: &deliveryBy}
	if err := engine.Apply(context.Background(), "D-1", core.EffectDealFunded, snapshot); err != nil {
		t.Fatalf("apply: %v", err)
	}

	if len(q.enqueued) != 2 {
		t.Fatalf("expected 1 deadline + 1 reminder enqueued, got %d", len(q.enqueued))
	}
	deadline := q.enqueued[0]
	if deadline.JobID != jobid.Deadline("D-1", deliveryBy, core.DeadlineKindDelivery, 0) {
		t.Fatalf("unexpected deadline job id: %s", deadline.JobID)
	}
	reminder := q.enqueued[1]
	wantRemindAt := deliveryBy - int64((24 * time.Hour).Seconds())
	if reminder.JobID != jobid.Reminder("D-1", wantRemindAt, core.AudienceBoth, core.ReasonDeadlineUpcoming) {
		t.Fatalf("unexpected reminder job id: %s", reminder.JobID)
	}
}

func TestEngine_DeliveredSchedulesDisputeDeadline(t *testing.T) {
	now := time.Unix(1_700_000_000, 0).UTC()
	disputeUntil := now.Add(48 * time.Hour).Unix()
	q := &fakeQueues{}
	engine := NewEngine(q, NewMemoryNonceTracker(), fixedClock(now))

	snapshot := core.DealSnapshot{ID: "D-2", State: core.DealStateDelivered, DisputeUntil: &disputeUntil}
	if err := engine.Apply(context.Background(), "D-2", core.EffectDealDelivered, snapshot); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if len(q.enqueued) != 2 {
		t.Fatalf("expected deadline + reminder, got %d", len(q.enqueued))
	}
}

func TestEngine_ReminderSkippedWhenLeadWindowAlreadyPassed(t *testing.T) {
	now := time.Unix(1_700_000_000, 0).UTC()
	deliveryBy := now.Add(1 * time.Hour).Unix() // reminder lead (24h) already past
	q := &fakeQueues{}
	engine := NewEngine(q, NewMemoryNonceTracker(), fixedClock(now))

	snapshot := core.DealSnapshot{ID: "D-3", State: core.DealStateFunded, DeliveryBy: &deliveryBy}
	if err := engine.Apply(context.Background(), "D-3", core.EffectDealFunded, snapshot); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if len(q.enqueued) != 1 {
		t.Fatalf("expected only the deadline, no reminder, got %d enqueues", len(q.enqueued))
	}
}

func TestEngine_TerminalStateCancelsOutstandingDeadline(t *testing.T) {
	now := time.Unix(1_700_000_000, 0).UTC()
	deliveryBy := now.Add(72 * time.Hour).Unix()
	q := &fakeQueues{}
	nonces := NewMemoryNonceTracker()
	engine := NewEngine(q, nonces, fixedClock(now))

	snapshot := core.DealSnapshot{ID: "D-4", State: core.DealStateFunded, DeliveryBy: &deliveryBy}
	if err := engine.Apply(context.Background(), "D-4", core.EffectDealFunded, snapshot); err != nil {
		t.Fatalf("apply: %v", err)
	}

	terminal := core.DealSnapshot{ID: "D-4", State: core.DealStateReleased, DeliveryBy: &deliveryBy}
	if err := engine.Apply(context.Background(), "D-4", core.EffectDealReleased, terminal); err != nil {
		t.Fatalf("apply terminal: %v", err)
	}
	if len(q.cancels) != 1 {
		t.Fatalf("expected one cancel, got %d", len(q.cancels))
	}
	want := jobid.Deadline("D-4", deliveryBy, core.DeadlineKindDelivery, 0)
	if q.cancels[0] != want {
		t.Fatalf("unexpected cancel id: got %q want %q", q.cancels[0], want)
	}
}

func TestEngine_RescheduleBumpsNonceAndCancelsPrior(t *testing.T) {
	now := time.Unix(1_700_000_000, 0).UTC()
	firstDeadline := now.Add(72 * time.Hour).Unix()
	secondDeadline := now.Add(96 * time.Hour).Unix()
	q := &fakeQueues{}
	engine := NewEngine(q, NewMemoryNonceTracker(), fixedClock(now))

	snapshot1 := core.DealSnapshot{ID: "D-5", State: core.DealStateFunded, DeliveryBy: &firstDeadline}
	if err := engine.Apply(context.Background(), "D-5", core.EffectDealFunded, snapshot1); err != nil {
		t.Fatalf("first apply: %v", err)
	}

	snapshot2 := core.DealSnapshot{ID: "D-5", State: core.DealStateFunded, DeliveryBy: &secondDeadline}
	if err := engine.Apply(context.Background(), "D-5", core.EffectDealFunded, snapshot2); err != nil {
		t.Fatalf("second apply: %v", err)
	}

	if len(q.cancels) != 1 {
		t.Fatalf("expected exactly one cancellation of the superseded deadline, got %d", len(q.cancels))
	}
	wantCancelled := jobid.Deadline("D-5", firstDeadline, core.DeadlineKindDelivery, 0)
	if q.cancels[0] != wantCancelled {
		t.Fatalf("unexpected cancelled id: got %q want %q", q.cancels[0], wantCancelled)
	}
	lastDeadline := q.enqueued[len(q.enqueued)-2]
	wantNew := jobid.Deadline("D-5", secondDeadline, core.DeadlineKindDelivery, 1)
	if lastDeadline.JobID != wantNew {
		t.Fatalf("unexpected new deadline id: got %q want %q", lastDeadline.JobID, wantNew)
	}
}

func TestEngine_DisputedEmitsNoTimers(t *testing.T) {
	now := time.Unix(1_700_000_000, 0).UTC()
	q := &fakeQueues{}
	engine := NewEngine(q, NewMemoryNonceTracker(), fixedClock(now))

	snapshot := core.DealSnapshot{ID: "D-6", State: core.DealStateDisputed}
	if err := engine.Apply(context.Background(), "D-6", core.EffectDealDisputed, snapshot); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if len(q.enqueued) != 0 || len(q.cancels) != 0 {
		t.Fatalf("expected no side effects for disputed effect, got enqueued=%d cancels=%d", len(q.enqueued), len(q.cancels))
	}
}

func TestEngine_RescanIsIdempotentAgainstAlreadyScheduledDeal(t *testing.T) {
	now := time.Unix(1_700_000_000, 0).UTC()
	deliveryBy := now.Add(72 * time.Hour).Unix()
	q := &fakeQueues{}
	engine := NewEngine(q, NewMemoryNonceTracker(), fixedClock(now))

	snapshot := core.DealSnapshot{ID: "D-7", State: core.DealStateFunded, DeliveryBy: &deliveryBy}
	if err := engine.Apply(context.Background(), "D-7", core.EffectDealFunded, snapshot); err != nil {
		t.Fatalf("apply: %v", err)
	}
	firstCount := len(q.enqueued)

	// A rescan bumps the nonce and cancel-then-enqueues under the new
	// identity; the queue substrate never holds more than one pending
	// deadline for the deal regardless of how many times it is rescanned.
	store := queue.NewMemoryStore(queue.Deadlines)
	registry := queue.NewRegistry()
	if err := registry.Register(queue.Deadlines, store); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := registry.Register(queue.Reminders, queue.NewMemoryStore(queue.Reminders)); err != nil {
		t.Fatalf("register: %v", err)
	}
	realEngine := NewEngine(registry, NewMemoryNonceTracker(), fixedClock(now))
	if err := realEngine.Apply(context.Background(), "D-7", core.EffectDealFunded, snapshot); err != nil {
		t.Fatalf("apply via registry: %v", err)
	}
	if err := realEngine.Rescan(context.Background(), "D-7", snapshot); err != nil {
		t.Fatalf("rescan: %v", err)
	}
	if got := store.Len(); got != 1 {
		t.Fatalf("expected exactly one pending deadline after rescan, got %d", got)
	}
	_ = firstCount
}
