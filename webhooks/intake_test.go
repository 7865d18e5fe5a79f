package webhooks

import (
	"context"
	"testing"
	"time"

	"github.com/dealtimer/escrow-engine/core"
)

func TestIntake_BadSignatureRejectsWithNoEvents(t *testing.T) {
	body := []byte(`[{"signature":"s1","type":"escrow.funded","dealId":"D-1"}]`)
	in := Intake{Verifier: Verifier{Secret: "shh"}}

	_, err := in.Process(context.Background(), "wh_1", "deadbeef", body)
	if err == nil {
		t.Fatalf("expected bad signature to error")
	}
}

func TestIntake_FundedEventAccepted(t *testing.T) {
	body := []byte(`[{"signature":"s1","type":"escrow.funded","dealId":"D-1"}]`)
	in := Intake{Verifier: Verifier{Secret: "shh"}}

	result, err := in.Process(context.Background(), "wh_1", sign("shh", body), body)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if result.Accepted != 1 || result.Ignored != 0 {
		t.Fatalf("expected {accepted:1 ignored:0}, got %+v", result)
	}
	if result.Events[0].Effect.DealID != "D-1" {
		t.Fatalf("unexpected event: %+v", result.Events[0])
	}
}

func TestIntake_UnrecognizedEntriesCountAsIgnored(t *testing.T) {
	body := []byte(`[{"signature":"s1","type":"escrow.funded","dealId":"D-1"},{"signature":"s2","type":"nonsense","dealId":"D-2"}]`)
	in := Intake{Verifier: Verifier{Secret: "shh"}}

	result, err := in.Process(context.Background(), "wh_1", sign("shh", body), body)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if result.Accepted != 1 || result.Ignored != 1 {
		t.Fatalf("expected {accepted:1 ignored:1}, got %+v", result)
	}
}

func TestIntake_ReplayLedgerDedupesRepeatDelivery(t *testing.T) {
	body := []byte(`[{"signature":"s1","type":"escrow.funded","dealId":"D-1"}]`)
	ledger := core.NewMemoryReplayLedger(0)
	in := Intake{Verifier: Verifier{Secret: "shh"}, Ledger: ledger}

	sig := sign("shh", body)
	first, err := in.Process(context.Background(), "wh_1", sig, body)
	if err != nil {
		t.Fatalf("first process: %v", err)
	}
	if first.Accepted != 1 {
		t.Fatalf("expected first delivery accepted, got %+v", first)
	}

	second, err := in.Process(context.Background(), "wh_1", sig, body)
	if err != nil {
		t.Fatalf("second process: %v", err)
	}
	if second.Accepted != 0 || second.Ignored != 1 {
		t.Fatalf("expected replay to be ignored, got %+v", second)
	}
}

func TestIntake_BurstControllerDebouncesRepeatDeliveryOfSameEffect(t *testing.T) {
	now := int64(0)
	burst := NewBurstController(BurstOptions{
		Mode: BurstModeDebounce,
		Now:  func() time.Time { return time.Unix(now, 0).UTC() },
	})
	in := Intake{Verifier: Verifier{Secret: "shh"}, Burst: burst}

	firstBody := []byte(`[{"signature":"s1","type":"escrow.funded","dealId":"D-1"}]`)
	first, err := in.Process(context.Background(), "wh_1", sign("shh", firstBody), firstBody)
	if err != nil {
		t.Fatalf("first process: %v", err)
	}
	if first.Accepted != 1 {
		t.Fatalf("expected first delivery accepted, got %+v", first)
	}

	secondBody := []byte(`[{"signature":"s2","type":"escrow.funded","dealId":"D-1"}]`)
	second, err := in.Process(context.Background(), "wh_1", sign("shh", secondBody), secondBody)
	if err != nil {
		t.Fatalf("second process: %v", err)
	}
	if second.Accepted != 0 || second.Ignored != 1 {
		t.Fatalf("expected redelivery within the burst window to be ignored, got %+v", second)
	}
}

func TestIntake_MalformedBodyErrors(t *testing.T) {
	body := []byte("not json")
	in := Intake{Verifier: Verifier{Secret: "shh"}}
	if _, err := in.Process(context.Background(), "wh_1", sign("shh", body), body); err == nil {
		t.Fatalf("expected malformed body to error")
	}
}
