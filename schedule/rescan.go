package schedule

import (
	"context"
	"time"

	"github.com/dealtimer/escrow-engine/core"
	"github.com/robfig/cron/v3"
)

// DealLister supplies the set of deals a periodic rescan should revisit.
// It is deliberately narrow: the rescan only needs ids, not full
// snapshots, since it re-fetches each snapshot fresh before scheduling.
type DealLister interface {
	ListActiveDealIDs(ctx context.Context) ([]string, error)
}

// Rescanner periodically re-derives the timer set for every active deal,
// guarding against a webhook delivery that never arrived. Re-derived
// reminders carry the same identity as those already queued and dedupe in
// the store. Each deadline goes through Engine.emitDeadline, so a rescan of
// an already-scheduled deal cancels its pending deadline and enqueues it
// again under the next nonce rather than leaving it untouched.
type Rescanner struct {
	Engine     *Engine
	Lister     DealLister
	Snapshots  core.Snapshotter
	Observer   *core.Observer
	SnapTimeout time.Duration

	cron *cron.Cron
}

// NewRescanner builds a Rescanner. spec runs it on a fixed cadence rather
// than reacting to load, matching the "safety net" framing: it exists to
// catch missed webhooks, not to replace them.
func NewRescanner(engine *Engine, lister DealLister, snapshots core.Snapshotter, observer *core.Observer) *Rescanner {
	return &Rescanner{
		Engine:      engine,
		Lister:      lister,
		Snapshots:   snapshots,
		Observer:    observer,
		SnapTimeout: 7 * time.Second,
	}
}

// Start schedules the rescan on spec (standard 5-field cron syntax,
// e.g. "*/15 * * * *" for every 15 minutes) and returns once the cron
// scheduler goroutine has started. Stop must be called on shutdown.
func (r *Rescanner) Start(spec string) error {
	r.cron = cron.New()
	_, err := r.cron.AddFunc(spec, r.runOnce)
	if err != nil {
		return err
	}
	r.cron.Start()
	return nil
}

// Stop blocks until the currently running rescan (if any) completes.
func (r *Rescanner) Stop() {
	if r.cron == nil {
		return
	}
	ctx := r.cron.Stop()
	<-ctx.Done()
}

func (r *Rescanner) runOnce() {
	ctx := context.Background()
	dealIDs, err := r.Lister.ListActiveDealIDs(ctx)
	if err != nil {
		r.observe(ctx, "schedule.rescan.list", err)
		return
	}
	for _, dealID := range dealIDs {
		r.rescanDeal(ctx, dealID)
	}
}

func (r *Rescanner) rescanDeal(parent context.Context, dealID string) {
	ctx, cancel := context.WithTimeout(parent, r.SnapTimeout)
	defer cancel()

	snapshot, err := r.Snapshots.GetDealSnapshot(ctx, dealID)
	if err != nil {
		r.observe(ctx, "schedule.rescan.snapshot", err)
		return
	}
	if err := r.Engine.Rescan(ctx, dealID, snapshot); err != nil {
		r.observe(ctx, "schedule.rescan.apply", err)
	}
}

func (r *Rescanner) observe(ctx context.Context, operation string, err error) {
	if r.Observer == nil {
		return
	}
	r.Observer.Observe(ctx, time.Now().UTC(), operation, err, nil)
}
