// Package notify implements the outbound Notifier port: a no-op driver
// for local/testing use and a Dialect HTTP driver for production, both
// satisfying core.Notifier. Every call is idempotent from the caller's
// perspective; the substrate's identity-based dedup is what actually
// guarantees single delivery, not this package.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/dealtimer/escrow-engine/core"
	"github.com/dealtimer/escrow-engine/ratelimit"
)

const defaultTimeout = 7 * time.Second

// NoopNotifier discards every notification. Used when NOTIFY_DRIVER=noop.
type NoopNotifier struct {
	Observer *core.Observer
	Clock    core.Clock
}

func NewNoopNotifier() *NoopNotifier {
	return &NoopNotifier{Clock: core.RealClock}
}

func (n *NoopNotifier) NotifyReviewer(ctx context.Context, notice core.ReviewerNotice) error {
	n.observe(ctx, "notify.reviewer", map[string]any{"dealId": notice.DealID, "suggested": string(notice.Suggested)})
	return nil
}

func (n *NoopNotifier) NotifyParties(ctx context.Context, notice core.PartiesNotice) error {
	n.observe(ctx, "notify.parties", map[string]any{"dealId": notice.DealID, "event": notice.Event})
	return nil
}

func (n *NoopNotifier) SendReminder(ctx context.Context, notice core.ReminderNotice) error {
	n.observe(ctx, "notify.reminder", map[string]any{"dealId": notice.DealID, "reason": string(notice.Reason)})
	return nil
}

func (n *NoopNotifier) observe(ctx context.Context, operation string, fields map[string]any) {
	if n.Observer == nil {
		return
	}
	clock := n.Clock
	if clock == nil {
		clock = core.RealClock
	}
	n.Observer.Observe(ctx, clock(), operation, nil, fields)
}

// DialectNotifier posts notifications to a Dialect (or Dialect-compatible)
// messaging endpoint keyed by DialectKey.
type DialectNotifier struct {
	BaseURL    string
	DialectKey string
	HTTP       *http.Client
	Timeout    time.Duration
	Limiter    *ratelimit.AdaptivePolicy
}

func NewDialectNotifier(baseURL, dialectKey string) *DialectNotifier {
	return &DialectNotifier{
		BaseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		DialectKey: dialectKey,
		HTTP:       &http.Client{},
		Timeout:    defaultTimeout,
	}
}

func (d *DialectNotifier) NotifyReviewer(ctx context.Context, notice core.ReviewerNotice) error {
	return d.post(ctx, "/reviewer", map[string]any{
		"dealId":      notice.DealID,
		"suggested":   string(notice.Suggested),
		"reason":      notice.Reason,
		"approvalUrl": notice.ApprovalURL,
		"blinkUrl":    notice.BlinkURL,
	})
}

func (d *DialectNotifier) NotifyParties(ctx context.Context, notice core.PartiesNotice) error {
	return d.post(ctx, "/parties", map[string]any{
		"dealId": notice.DealID,
		"event":  notice.Event,
	})
}

func (d *DialectNotifier) SendReminder(ctx context.Context, notice core.ReminderNotice) error {
	return d.post(ctx, "/reminders", map[string]any{
		"dealId":   notice.DealID,
		"when":     notice.When,
		"audience": string(notice.Audience),
		"reason":   string(notice.Reason),
		"context":  notice.Context,
	})
}

func (d *DialectNotifier) post(ctx context.Context, path string, body map[string]any) error {
	if d.BaseURL == "" {
		return core.DependencyError("notify: NOTIFY_DIALECT_BASEURL is not configured")
	}

	bucket := ratelimit.Bucket{Host: d.BaseURL, Name: "dialect" + path}
	if d.Limiter != nil {
		if err := d.Limiter.BeforeCall(ctx, bucket); err != nil {
			return err
		}
	}

	encoded, err := json.Marshal(body)
	if err != nil {
		return err
	}

	timeout := d.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.BaseURL+path, bytes.NewReader(encoded))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if d.DialectKey != "" {
		req.Header.Set("Authorization", "Bearer "+d.DialectKey)
	}

	client := d.HTTP
	if client == nil {
		client = &http.Client{}
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("notify: dialect call failed: %w", err)
	}
	defer resp.Body.Close()

	if d.Limiter != nil {
		headers := make(map[string]string, len(resp.Header))
		for key := range resp.Header {
			headers[key] = resp.Header.Get(key)
		}
		_ = d.Limiter.AfterCall(ctx, bucket, ratelimit.ResponseMeta{StatusCode: resp.StatusCode, Headers: headers})
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("notify: dialect endpoint returned status %d", resp.StatusCode)
	}
	return nil
}

var (
	_ core.Notifier = (*NoopNotifier)(nil)
	_ core.Notifier = (*DialectNotifier)(nil)
)
