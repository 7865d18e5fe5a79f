package webhooks

import (
	"context"
	"time"

	"github.com/dealtimer/escrow-engine/core"
)

// replayTTL bounds how long a webhook id is remembered for dedup purposes.
// It only needs to cover a provider's redelivery burst window, not the
// full life of a deal.
const replayTTL = 10 * time.Minute

// Intake verifies, parses, and normalizes a single webhook delivery.
type Intake struct {
	Verifier Verifier
	Ledger   core.ReplayLedger
	Burst    BurstController
}

// Result is the outcome of processing one webhook delivery.
type Result struct {
	Accepted int
	Ignored  int
	Events   []core.NormalizedWebhookEvent
}

// Process verifies the signature over body, tolerantly parses it, maps
// provider effects, and drops anything unrecognized or already claimed by
// the replay ledger. A signature failure or a body that does not parse
// aborts before any side effect and is returned as an error; every other
// rejection is silent and only
// reflected in Result.Ignored, matching the "reject invalid entries, keep
// the rest of the batch" intake contract.
func (in Intake) Process(ctx context.Context, webhookID, signatureHeader string, body []byte) (Result, error) {
	if err := in.Verifier.Verify(signatureHeader, body); err != nil {
		return Result{}, err
	}

	entries, err := ParseBody(body)
	if err != nil {
		return Result{}, err
	}

	normalized := Normalize(webhookID, entries)
	result := Result{Events: make([]core.NormalizedWebhookEvent, 0, len(normalized))}
	ignored := len(entries) - len(normalized)

	for _, event := range normalized {
		if in.Burst != nil {
			decision, err := in.Burst.Allow(ctx, event)
			if err != nil || !decision.Allow {
				ignored++
				continue
			}
		}
		claimed, err := in.claim(ctx, event.ID)
		if err != nil || !claimed {
			ignored++
			continue
		}
		result.Events = append(result.Events, event)
	}

	result.Accepted = len(result.Events)
	result.Ignored = ignored
	return result, nil
}

// claim reports whether event should proceed. With no ledger configured
// every event proceeds; dedup then relies solely on the queue substrate's
// own job-identity idempotency.
func (in Intake) claim(ctx context.Context, eventID string) (bool, error) {
	if in.Ledger == nil {
		return true, nil
	}
	return in.Ledger.Claim(ctx, "webhook:"+eventID, replayTTL)
}
