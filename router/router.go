// Package router implements the Webhook Router: for each normalized
// webhook event it fetches a fresh deal snapshot and hands it to the
// Scheduling Engine to (re)schedule or cancel timers. One event's
// failure never aborts the batch.
package router

import (
	"context"

	"github.com/dealtimer/escrow-engine/core"
)

// Engine is the subset of schedule.Engine the router depends on.
type Engine interface {
	Apply(ctx context.Context, dealID string, effect core.WebhookEffectKind, snapshot core.DealSnapshot) error
}

// Router routes a batch of normalized webhook events to the scheduling
// engine, fetching a fresh snapshot per event via the API port.
type Router struct {
	Snapshots core.Snapshotter
	Engine    Engine
	Clock     core.Clock
	Observer  *core.Observer
}

func NewRouter(snapshots core.Snapshotter, engine Engine) *Router {
	return &Router{Snapshots: snapshots, Engine: engine, Clock: core.RealClock}
}

// Route processes every event independently. A snapshot fetch failure or
// an engine error for one event is logged and counted as ignored; it
// never stops the remaining events from being processed.
func (r *Router) Route(ctx context.Context, events []core.NormalizedWebhookEvent) core.RouteResult {
	result := core.RouteResult{}
	for _, event := range events {
		if r.routeOne(ctx, event) {
			result.Accepted++
		} else {
			result.Ignored++
		}
	}
	return result
}

func (r *Router) routeOne(ctx context.Context, event core.NormalizedWebhookEvent) bool {
	fields := map[string]any{"dealId": event.Effect.DealID, "eventId": event.ID}

	if err := event.Validate(); err != nil {
		r.observe(ctx, "route.invalid_event", err, fields)
		return false
	}

	snapshot, err := r.Snapshots.GetDealSnapshot(ctx, event.Effect.DealID)
	if err != nil {
		r.observe(ctx, "route.snapshot_fetch", err, fields)
		return false
	}

	if err := r.Engine.Apply(ctx, event.Effect.DealID, event.Effect.Kind, snapshot); err != nil {
		r.observe(ctx, "route.engine_apply", err, fields)
		return false
	}
	r.observe(ctx, "route.accepted", nil, fields)
	return true
}

func (r *Router) observe(ctx context.Context, operation string, err error, fields map[string]any) {
	if r.Observer == nil {
		return
	}
	clock := r.Clock
	if clock == nil {
		clock = core.RealClock
	}
	r.Observer.Observe(ctx, clock(), operation, err, fields)
}
