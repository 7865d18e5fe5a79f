package webhooks

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/dealtimer/escrow-engine/core"
	"github.com/dealtimer/escrow-engine/jobid"
)

// rawEntry is the tolerant shape probed out of arbitrary provider JSON.
type rawEntry map[string]any

// ParseBody accepts three top-level shapes: a bare array, an object with an
// "events" array, or a single object. Anything else is a 400.
func ParseBody(body []byte) ([]rawEntry, error) {
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" {
		return nil, fmt.Errorf("webhooks: malformed json: empty body")
	}

	var asArray []rawEntry
	if err := json.Unmarshal(body, &asArray); err == nil {
		return asArray, nil
	}

	var asObject rawEntry
	if err := json.Unmarshal(body, &asObject); err != nil {
		return nil, fmt.Errorf("webhooks: malformed json: %w", err)
	}
	if events, ok := asObject["events"]; ok {
		encoded, err := json.Marshal(events)
		if err != nil {
			return nil, fmt.Errorf("webhooks: malformed json: %w", err)
		}
		var list []rawEntry
		if err := json.Unmarshal(encoded, &list); err != nil {
			return nil, fmt.Errorf("webhooks: malformed json: events must be an array")
		}
		return list, nil
	}
	return []rawEntry{asObject}, nil
}

func probeString(entry rawEntry, keys ...string) string {
	for _, key := range keys {
		if value, ok := entry[key]; ok {
			switch typed := value.(type) {
			case string:
				if strings.TrimSpace(typed) != "" {
					return strings.TrimSpace(typed)
				}
			case float64:
				return strconv.FormatFloat(typed, 'f', -1, 64)
			}
		}
	}
	return ""
}

func probeInt64(entry rawEntry, keys ...string) (int64, bool) {
	for _, key := range keys {
		value, ok := entry[key]
		if !ok {
			continue
		}
		switch typed := value.(type) {
		case float64:
			return int64(typed), true
		case string:
			if n, err := strconv.ParseInt(strings.TrimSpace(typed), 10, 64); err == nil {
				return n, true
			}
		}
	}
	return 0, false
}

// effectKindForType maps a provider-specific type code to the closed set
// of internal effects. Unknown types are not an error: they are dropped.
func effectKindForType(typeCode string) (core.WebhookEffectKind, bool) {
	switch strings.ToLower(strings.TrimSpace(typeCode)) {
	case "escrow.funded", "deal_funded", "funded":
		return core.EffectDealFunded, true
	case "escrow.delivered", "deal_delivered", "delivered":
		return core.EffectDealDelivered, true
	case "escrow.disputed", "deal_disputed", "disputed":
		return core.EffectDealDisputed, true
	case "escrow.released", "deal_released", "released":
		return core.EffectDealReleased, true
	case "escrow.refunded", "deal_refunded", "refunded":
		return core.EffectDealRefunded, true
	default:
		return "", false
	}
}

// Normalize turns tolerantly-parsed entries into validated internal events,
// preserving input order via stable indices. Entries without a transaction
// signature, an unrecognized type, or that otherwise fail validation are
// dropped silently rather than causing the whole batch to fail.
func Normalize(webhookID string, entries []rawEntry) []core.NormalizedWebhookEvent {
	events := make([]core.NormalizedWebhookEvent, 0, len(entries))
	for index, entry := range entries {
		sig := probeString(entry, "signature", "sig", "txSignature")
		if sig == "" {
			continue
		}
		typeCode := probeString(entry, "type", "eventType", "event_type")
		kind, ok := effectKindForType(typeCode)
		if !ok {
			continue
		}
		dealID := probeString(entry, "dealId", "deal_id", "escrowId", "escrow_id")
		if dealID == "" {
			continue
		}
		when, _ := probeInt64(entry, "timestamp", "blockTime", "when")
		slot, _ := probeInt64(entry, "slot")

		event := core.NormalizedWebhookEvent{
			ID:     jobid.Webhook(webhookID, sig, index),
			Sig:    sig,
			Slot:   slot,
			When:   when,
			Effect: core.WebhookEffect{Kind: kind, DealID: dealID},
			Index:  index,
		}
		if err := event.Validate(); err != nil {
			continue
		}
		events = append(events, event)
	}
	return events
}
