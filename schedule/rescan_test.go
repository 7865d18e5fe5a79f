package schedule

import (
	"context"
	"testing"
	"time"

	"github.com/dealtimer/escrow-engine/core"
)

type fakeLister struct{ ids []string }

func (f fakeLister) ListActiveDealIDs(context.Context) ([]string, error) { return f.ids, nil }

type fakeSnapshotter struct {
	snapshots map[string]core.DealSnapshot
}

func (f fakeSnapshotter) GetDealSnapshot(_ context.Context, dealID string) (core.DealSnapshot, error) {
	return f.snapshots[dealID], nil
}

func TestRescanner_RunOnceAppliesEachActiveDeal(t *testing.T) {
	now := time.Unix(1_700_000_000, 0).UTC()
	deliveryBy := now.Add(72 * time.Hour).Unix()
	q := &fakeQueues{}
	engine := NewEngine(q, NewMemoryNonceTracker(), fixedClock(now))

	lister := fakeLister{ids: []string{"D-1", "D-2"}}
	snapshots := fakeSnapshotter{snapshots: map[string]core.DealSnapshot{
		"D-1": {ID: "D-1", State: core.DealStateFunded, DeliveryBy: &deliveryBy},
		"D-2": {ID: "D-2", State: core.DealStateReleased},
	}}

	rescanner := NewRescanner(engine, lister, snapshots, nil)
	rescanner.runOnce()

	if len(q.enqueued) != 2 {
		t.Fatalf("expected deadline+reminder enqueued for D-1, got %d", len(q.enqueued))
	}
}
