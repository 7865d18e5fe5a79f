package processor

import (
	"context"
	"time"

	"github.com/dealtimer/escrow-engine/core"
	"github.com/dealtimer/escrow-engine/jobid"
)

// EscalationProcessor runs when an escalation job fires: if policy
// allows an automatic finalize it attempts to prepare one, otherwise (or
// on any preparation failure) it routes to a human reviewer. It never
// submits a transaction and never holds a key; PrepareFinalize on the
// API port only returns URLs for a human to act on.
type EscalationProcessor struct {
	Gate      core.PolicySource
	Finalizer core.Finalizer
	Notifier  core.Notifier
	Clock     core.Clock
	Observer  *core.Observer
}

func NewEscalationProcessor(gate core.PolicySource, finalizer core.Finalizer, notifier core.Notifier) *EscalationProcessor {
	return &EscalationProcessor{Gate: gate, Finalizer: finalizer, Notifier: notifier, Clock: core.RealClock}
}

func (p *EscalationProcessor) Process(ctx context.Context, job core.EscalationJob) (Result, error) {
	startedAt := p.now()
	result, err := p.process(ctx, job)
	p.observe(ctx, startedAt, jobid.EscalationJob(job), job.DealID, result, err)
	return result, err
}

func (p *EscalationProcessor) process(ctx context.Context, job core.EscalationJob) (Result, error) {
	if err := job.Validate(); err != nil {
		return Result{}, err
	}

	if job.Suggested == core.SuggestedRelease || job.Suggested == core.SuggestedRefund {
		allowed, err := p.allows(ctx, job.Suggested)
		if err == nil && allowed {
			if result, ok := p.tryPrepare(ctx, job); ok {
				return result, nil
			}
		}
	}

	if p.Notifier != nil {
		_ = p.Notifier.NotifyReviewer(ctx, core.ReviewerNotice{
			DealID:    job.DealID,
			Suggested: core.SuggestedReview,
			Reason:    string(job.Reason),
		})
	}
	return Result{Action: "review", DealID: job.DealID, Reason: string(job.Reason), Suggested: string(core.SuggestedReview)}, nil
}

func (p *EscalationProcessor) observe(ctx context.Context, startedAt time.Time, jobID, dealID string, result Result, err error) {
	if p.Observer == nil {
		return
	}
	p.Observer.Observe(ctx, startedAt, "processor.escalation", err, map[string]any{
		"dealId":    dealID,
		"jobId":     jobID,
		"action":    result.Action,
		"reason":    result.Reason,
		"suggested": result.Suggested,
	})
}

func (p *EscalationProcessor) now() time.Time {
	if p.Clock == nil {
		return core.RealClock()
	}
	return p.Clock()
}

func (p *EscalationProcessor) allows(ctx context.Context, action core.SuggestedAction) (bool, error) {
	if p.Gate == nil {
		return false, nil
	}
	return p.Gate.AllowsAutoFinalize(ctx, action)
}

// tryPrepare attempts prepareFinalize and, only on success, notifies both
// the reviewer and the parties. Any preparation error falls through to
// the caller's review path.
func (p *EscalationProcessor) tryPrepare(ctx context.Context, job core.EscalationJob) (Result, bool) {
	if p.Finalizer == nil {
		return Result{}, false
	}
	prepared, err := p.Finalizer.PrepareFinalize(ctx, job.DealID, job.Suggested)
	if err != nil {
		return Result{}, false
	}

	if p.Notifier != nil {
		_ = p.Notifier.NotifyReviewer(ctx, core.ReviewerNotice{
			DealID:      job.DealID,
			Suggested:   job.Suggested,
			Reason:      string(job.Reason),
			ApprovalURL: prepared.ApprovalURL,
			BlinkURL:    prepared.BlinkURL,
		})
		_ = p.Notifier.NotifyParties(ctx, core.PartiesNotice{DealID: job.DealID, Event: "finalize-prepared"})
	}

	return Result{
		Action:    "prepared",
		DealID:    job.DealID,
		Reason:    string(job.Reason),
		Suggested: string(job.Suggested),
	}, true
}
