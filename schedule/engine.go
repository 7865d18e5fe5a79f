// Package schedule owns the timer set for a deal: computing, emitting,
// and cancelling deadline and reminder jobs from a deal snapshot. It
// unifies what the source system carried as two divergent styles (an
// event-derived path reacting to a single webhook effect, and a
// full-plan path re-deriving the whole timer set from a snapshot alone)
// behind one set of timer computations, so a webhook-triggered call and a
// periodic rescan of the same deal derive the same reminder identities and
// the same deadline times. Deadline identities differ between the two
// calls, because every emitted deadline takes the next nonce for its
// (dealId, kind).
package schedule

import (
	"context"
	"time"

	"github.com/dealtimer/escrow-engine/core"
	"github.com/dealtimer/escrow-engine/jobid"
	"github.com/dealtimer/escrow-engine/queue"
)

const (
	deliveryReminderLead = 24 * time.Hour
	disputeReminderLead  = 2 * time.Hour
)

// Queues is the subset of the queue substrate the engine needs: enqueue
// by queue name (dedup by job id is the store's responsibility) and
// cancel a pending job by id.
type Queues interface {
	Enqueue(ctx context.Context, queueName string, msg *core.JobExecutionMessage, delay time.Duration) error
	CancelByID(ctx context.Context, queueName string, jobID string) error
}

// Engine computes and emits the deadline/reminder timer set for a deal.
type Engine struct {
	Queues   Queues
	Nonces   NonceTracker
	Clock    core.Clock
	Observer *core.Observer
}

func NewEngine(queues Queues, nonces NonceTracker, clock core.Clock) *Engine {
	if clock == nil {
		clock = core.RealClock
	}
	if nonces == nil {
		nonces = NewMemoryNonceTracker()
	}
	return &Engine{Queues: queues, Nonces: nonces, Clock: clock}
}

// Apply reacts to a single normalized webhook effect for dealID, given
// the freshly fetched snapshot. This is the event-derived style (§4.3
// style A).
func (e *Engine) Apply(ctx context.Context, dealID string, effect core.WebhookEffectKind, snapshot core.DealSnapshot) error {
	if snapshot.State.IsTerminal() {
		return e.cancelAll(ctx, dealID, snapshot)
	}

	switch effect {
	case core.EffectDealFunded:
		return e.scheduleDelivery(ctx, dealID, snapshot)
	case core.EffectDealDelivered:
		return e.scheduleDispute(ctx, dealID, snapshot)
	case core.EffectDealDisputed:
		return nil
	case core.EffectDealReleased, core.EffectDealRefunded:
		return e.cancelAll(ctx, dealID, snapshot)
	default:
		return nil
	}
}

// Rescan re-derives the full timer set for a snapshot with no triggering
// effect, used by the periodic safety net (§4.3 style B / SPEC §12).
// Re-running it for a deal whose timers are already queued re-enqueues
// reminders under their existing identities, where the store dedupes them,
// and replaces each pending deadline with one under the next nonce.
func (e *Engine) Rescan(ctx context.Context, dealID string, snapshot core.DealSnapshot) error {
	if snapshot.State.IsTerminal() {
		return e.cancelAll(ctx, dealID, snapshot)
	}
	if err := e.scheduleDelivery(ctx, dealID, snapshot); err != nil {
		return err
	}
	return e.scheduleDispute(ctx, dealID, snapshot)
}

func (e *Engine) scheduleDelivery(ctx context.Context, dealID string, snapshot core.DealSnapshot) error {
	if snapshot.DeliveryBy == nil {
		return nil
	}
	now := e.Clock()
	deadlineAt := *snapshot.DeliveryBy
	if deadlineAt <= now.Unix() {
		return nil
	}
	if err := e.emitDeadline(ctx, dealID, deadlineAt, core.DeadlineKindDelivery); err != nil {
		return err
	}
	remindAt := deadlineAt - int64(deliveryReminderLead.Seconds())
	if remindAt <= now.Unix() {
		return nil
	}
	return e.emitReminder(ctx, dealID, remindAt, core.AudienceBoth, core.ReasonDeadlineUpcoming)
}

func (e *Engine) scheduleDispute(ctx context.Context, dealID string, snapshot core.DealSnapshot) error {
	if snapshot.DisputeUntil == nil {
		return nil
	}
	now := e.Clock()
	deadlineAt := *snapshot.DisputeUntil
	if deadlineAt <= now.Unix() {
		return nil
	}
	if err := e.emitDeadline(ctx, dealID, deadlineAt, core.DeadlineKindDispute); err != nil {
		return err
	}
	remindAt := deadlineAt - int64(disputeReminderLead.Seconds())
	if remindAt <= now.Unix() {
		return nil
	}
	return e.emitReminder(ctx, dealID, remindAt, core.AudienceBoth, core.ReasonDisputeWindowClosing)
}

// emitDeadline bumps the nonce for (dealID, kind), cancels the job at the
// previous nonce's identity if one existed, then enqueues the new one.
func (e *Engine) emitDeadline(ctx context.Context, dealID string, deadlineAt int64, kind core.DeadlineKind) error {
	next, previous, hadPrevious, err := e.Nonces.Bump(ctx, dealID, kind)
	if err != nil {
		return err
	}
	if hadPrevious {
		priorID := jobid.Deadline(dealID, deadlineAt, kind, previous)
		if err := e.Queues.CancelByID(ctx, queue.Deadlines, priorID); err != nil {
			return err
		}
	}

	job := core.DeadlineJob{DealID: dealID, DeadlineAt: deadlineAt, Kind: kind, Nonce: next}
	if err := job.Validate(); err != nil {
		return err
	}
	id := jobid.DeadlineJob(job)
	msg := &core.JobExecutionMessage{
		JobID:          id,
		Queue:          queue.Deadlines,
		IdempotencyKey: id,
		Payload: map[string]any{
			"dealId":     job.DealID,
			"deadlineAt": job.DeadlineAt,
			"kind":       string(job.Kind),
			"nonce":      job.Nonce,
		},
	}
	delay := queue.DelayUntil(e.Clock(), deadlineAt)
	if err := e.Queues.Enqueue(ctx, queue.Deadlines, msg, delay); err != nil {
		return err
	}
	e.observe(ctx, "schedule.deadline", map[string]any{"dealId": dealID, "kind": string(kind), "nonce": next})
	return nil
}

func (e *Engine) emitReminder(ctx context.Context, dealID string, notifyAt int64, audience core.Audience, reason core.ReminderReason) error {
	job := core.ReminderJob{DealID: dealID, NotifyAt: notifyAt, Audience: audience, Reason: reason}
	if err := job.Validate(); err != nil {
		return err
	}
	id := jobid.ReminderJob(job)
	msg := &core.JobExecutionMessage{
		JobID:          id,
		Queue:          queue.Reminders,
		IdempotencyKey: id,
		Payload: map[string]any{
			"dealId":   job.DealID,
			"notifyAt": job.NotifyAt,
			"audience": string(job.Audience),
			"reason":   string(job.Reason),
		},
	}
	delay := queue.DelayUntil(e.Clock(), notifyAt)
	if err := e.Queues.Enqueue(ctx, queue.Reminders, msg, delay); err != nil {
		return err
	}
	e.observe(ctx, "schedule.reminder", map[string]any{"dealId": dealID, "reason": string(reason)})
	return nil
}

// cancelAll drops the outstanding delivery and dispute deadlines for a
// deal once it reaches a terminal state. Reminders already queued are
// left to fire and noop against the terminal snapshot; that is simpler
// than tracking every reminder identity and just as correct, since the
// reminder processor suppresses terminal-state deals unconditionally.
func (e *Engine) cancelAll(ctx context.Context, dealID string, snapshot core.DealSnapshot) error {
	if snapshot.DeliveryBy != nil {
		if err := e.cancelDeadline(ctx, dealID, *snapshot.DeliveryBy, core.DeadlineKindDelivery); err != nil {
			return err
		}
	}
	if snapshot.DisputeUntil != nil {
		if err := e.cancelDeadline(ctx, dealID, *snapshot.DisputeUntil, core.DeadlineKindDispute); err != nil {
			return err
		}
	}
	e.observe(ctx, "schedule.terminal", map[string]any{"dealId": dealID})
	return nil
}

func (e *Engine) cancelDeadline(ctx context.Context, dealID string, deadlineAt int64, kind core.DeadlineKind) error {
	nonce, ok, err := e.Nonces.Current(ctx, dealID, kind)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	id := jobid.Deadline(dealID, deadlineAt, kind, nonce)
	return e.Queues.CancelByID(ctx, queue.Deadlines, id)
}

func (e *Engine) observe(ctx context.Context, operation string, fields map[string]any) {
	if e.Observer == nil {
		return
	}
	e.Observer.Observe(ctx, e.Clock(), operation, nil, fields)
}
