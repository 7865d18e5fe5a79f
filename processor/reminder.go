package processor

import (
	"context"
	"time"

	"github.com/dealtimer/escrow-engine/core"
	"github.com/dealtimer/escrow-engine/jobid"
)

// ReminderProcessor runs when a reminder job fires: it reads a fresh
// snapshot and suppresses the notification once it is stale, otherwise
// forwards it to the notification port.
type ReminderProcessor struct {
	Snapshots core.Snapshotter
	Notifier  core.Notifier
	Clock     core.Clock
	Observer  *core.Observer
}

func NewReminderProcessor(snapshots core.Snapshotter, notifier core.Notifier) *ReminderProcessor {
	return &ReminderProcessor{Snapshots: snapshots, Notifier: notifier, Clock: core.RealClock}
}

func (p *ReminderProcessor) Process(ctx context.Context, job core.ReminderJob) (Result, error) {
	startedAt := p.now()
	result, err := p.process(ctx, job)
	p.observe(ctx, startedAt, jobid.ReminderJob(job), job.DealID, result, err)
	return result, err
}

func (p *ReminderProcessor) process(ctx context.Context, job core.ReminderJob) (Result, error) {
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

	if isStale(job, snapshot, p.now()) {
		return noopResult(job.DealID), nil
	}

	if p.Notifier == nil {
		return Result{}, core.DependencyError("processor: notifier is required")
	}
	notice := core.ReminderNotice{
		DealID:   job.DealID,
		When:     p.now().Unix(),
		Audience: job.Audience,
		Reason:   job.Reason,
		Context: map[string]any{
			"deliveryBy":   snapshot.DeliveryBy,
			"disputeUntil": snapshot.DisputeUntil,
		},
	}
	if err := p.Notifier.SendReminder(ctx, notice); err != nil {
		return Result{}, err
	}
	return Result{Action: "reminded", DealID: job.DealID, Reason: string(job.Reason)}, nil
}

func (p *ReminderProcessor) observe(ctx context.Context, startedAt time.Time, jobID, dealID string, result Result, err error) {
	if p.Observer == nil {
		return
	}
	p.Observer.Observe(ctx, startedAt, "processor.reminder", err, map[string]any{
		"dealId": dealID,
		"jobId":  jobID,
		"action": result.Action,
		"reason": result.Reason,
	})
}

// isStale implements the §4.8 suppression rules: terminal state, or the
// deadline the reminder was warning about has already passed.
func isStale(job core.ReminderJob, snapshot core.DealSnapshot, now time.Time) bool {
	if snapshot.State.IsTerminal() {
		return true
	}
	switch job.Reason {
	case core.ReasonDeadlineUpcoming:
		return snapshot.DeliveryBy != nil && now.Unix() >= *snapshot.DeliveryBy
	case core.ReasonDisputeWindowClosing:
		return snapshot.DisputeUntil != nil && now.Unix() >= *snapshot.DisputeUntil
	default:
		return false
	}
}

func (p *ReminderProcessor) now() time.Time {
	if p.Clock == nil {
		return core.RealClock()
	}
	return p.Clock()
}
