package processor

import (
	"context"
	"time"

	"github.com/dealtimer/escrow-engine/core"
	"github.com/dealtimer/escrow-engine/jobid"
	"github.com/dealtimer/escrow-engine/queue"
)

// Enqueuer is the subset of the queue substrate a processor needs to
// raise a downstream job.
type Enqueuer interface {
	Enqueue(ctx context.Context, queueName string, msg *core.JobExecutionMessage, delay time.Duration) error
}

// DeadlineProcessor runs when a deadline job fires: it reads a fresh
// snapshot, applies the delivery/dispute decision table, consults the
// Policy Gate, and either no-ops or raises an escalation.
type DeadlineProcessor struct {
	Snapshots core.Snapshotter
	Gate      core.PolicySource
	Queues    Enqueuer
	Notifier  core.Notifier
	Clock     core.Clock
	Observer  *core.Observer
}

func NewDeadlineProcessor(snapshots core.Snapshotter, gate core.PolicySource, queues Enqueuer, notifier core.Notifier) *DeadlineProcessor {
	return &DeadlineProcessor{Snapshots: snapshots, Gate: gate, Queues: queues, Notifier: notifier, Clock: core.RealClock}
}

func (p *DeadlineProcessor) Process(ctx context.Context, job core.DeadlineJob) (Result, error) {
	startedAt := p.now()
	result, err := p.process(ctx, job)
	p.observe(ctx, startedAt, jobid.DeadlineJob(job), job.DealID, result, err)
	return result, err
}

func (p *DeadlineProcessor) process(ctx context.Context, job core.DeadlineJob) (Result, error) {
	if err := job.Validate(); err != nil {
		return Result{}, err
	}
	if p.Snapshots == nil {
		return Result{}, core.DependencyError("processor: deal snapshotter is required")
	}

	snapshot, err := p.Snapshots.GetDealSnapshot(ctx, job.DealID)
	if err != nil {
		return Result{}, err
	}

	reason, suggested, escalate := decideDeadline(job.Kind, snapshot, p.now())
	if !escalate {
		return noopResult(job.DealID), nil
	}

	if suggested != core.SuggestedReview {
		allowed, err := p.allows(ctx, suggested)
		if err != nil {
			return Result{}, err
		}
		if !allowed {
			suggested = core.SuggestedReview
		}
	}

	escalation := core.EscalationJob{DealID: job.DealID, Reason: reason, Suggested: suggested}
	if err := p.raiseEscalation(ctx, escalation); err != nil {
		return Result{}, err
	}

	if suggested == core.SuggestedReview && p.Notifier != nil {
		_ = p.Notifier.NotifyReviewer(ctx, core.ReviewerNotice{
			DealID:    job.DealID,
			Suggested: core.SuggestedReview,
			Reason:    string(reason),
		})
	}

	return Result{
		Action:    "escalate",
		DealID:    job.DealID,
		Reason:    string(reason),
		Suggested: string(suggested),
	}, nil
}

// decideDeadline implements the §4.7 decision table: kind x state x
// elapsed -> reason/suggested/escalate.
func decideDeadline(kind core.DeadlineKind, snapshot core.DealSnapshot, now time.Time) (core.EscalationReason, core.SuggestedAction, bool) {
	switch kind {
	case core.DeadlineKindDelivery:
		switch snapshot.State {
		case core.DealStateDelivered, core.DealStateReleased, core.DealStateRefunded, core.DealStateResolved:
			return "", "", false
		default:
			if !deadlineElapsed(snapshot.DeliveryBy, now) {
				return "", "", false
			}
			return core.EscalationReasonNoDelivery, core.SuggestedReview, true
		}
	case core.DeadlineKindDispute:
		switch snapshot.State {
		case core.DealStateResolved, core.DealStateReleased, core.DealStateRefunded:
			return "", "", false
		default:
			if !deadlineElapsed(snapshot.DisputeUntil, now) {
				return "", "", false
			}
			switch snapshot.State {
			case core.DealStateFunded, core.DealStateDelivered:
				return core.EscalationReasonDeadlineExpired, core.SuggestedRelease, true
			default:
				return core.EscalationReasonDeadlineExpired, core.SuggestedReview, true
			}
		}
	default:
		return "", "", false
	}
}

func deadlineElapsed(deadline *int64, now time.Time) bool {
	if deadline == nil {
		return false
	}
	return now.Unix() >= *deadline
}

func (p *DeadlineProcessor) allows(ctx context.Context, action core.SuggestedAction) (bool, error) {
	if p.Gate == nil {
		return false, nil
	}
	return p.Gate.AllowsAutoFinalize(ctx, action)
}

func (p *DeadlineProcessor) raiseEscalation(ctx context.Context, job core.EscalationJob) error {
	if p.Queues == nil {
		return core.DependencyError("processor: escalation queue is required")
	}
	id := jobid.EscalationJob(job)
	msg := &core.JobExecutionMessage{
		JobID:          id,
		Queue:          queue.Escalation,
		IdempotencyKey: id,
		Payload: map[string]any{
			"dealId":    job.DealID,
			"reason":    string(job.Reason),
			"suggested": string(job.Suggested),
		},
	}
	return p.Queues.Enqueue(ctx, queue.Escalation, msg, 0)
}

func (p *DeadlineProcessor) now() time.Time {
	if p.Clock == nil {
		return core.RealClock()
	}
	return p.Clock()
}

func (p *DeadlineProcessor) observe(ctx context.Context, startedAt time.Time, jobID, dealID string, result Result, err error) {
	if p.Observer == nil {
		return
	}
	p.Observer.Observe(ctx, startedAt, "processor.deadline", err, map[string]any{
		"dealId":    dealID,
		"jobId":     jobID,
		"action":    result.Action,
		"reason":    result.Reason,
		"suggested": result.Suggested,
	})
}
