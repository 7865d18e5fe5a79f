// Package core contains the canonical escrow-timing domain contracts,
// entities, and cross-cutting runtime helpers. Adapters (queue, webhooks,
// api, notify, chain) depend on core; core must not depend on any of them.
package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	glog "github.com/goliatone/go-logger/glog"
)

// DealState is the lifecycle state of an escrow deal as reported by the
// external deal API.
type DealState string

const (
	DealStateInit      DealState = "INIT"
	DealStateFunded    DealState = "FUNDED"
	DealStateDelivered DealState = "DELIVERED"
	DealStateDisputed  DealState = "DISPUTED"
	DealStateResolved  DealState = "RESOLVED"
	DealStateReleased  DealState = "RELEASED"
	DealStateRefunded  DealState = "REFUNDED"
)

// IsTerminal reports whether the state suppresses all further scheduled
// work for the deal.
func (s DealState) IsTerminal() bool {
	switch s {
	case DealStateResolved, DealStateReleased, DealStateRefunded:
		return true
	default:
		return false
	}
}

func (s DealState) Valid() bool {
	switch s {
	case DealStateInit, DealStateFunded, DealStateDelivered, DealStateDisputed,
		DealStateResolved, DealStateReleased, DealStateRefunded:
		return true
	default:
		return false
	}
}

// DealSnapshot is the read-only view of a deal consumed by every processor.
// It is never mutated in place; every call site takes a fresh snapshot.
type DealSnapshot struct {
	ID           string
	State        DealState
	DeliveryBy   *int64
	DisputeUntil *int64
}

func (s DealSnapshot) Validate() error {
	if strings.TrimSpace(s.ID) == "" {
		return fmt.Errorf("core: deal snapshot id is required")
	}
	if !s.State.Valid() {
		return fmt.Errorf("core: invalid deal state %q", s.State)
	}
	if s.DeliveryBy != nil && *s.DeliveryBy <= 0 {
		return fmt.Errorf("core: deliveryBy must be a positive unix timestamp")
	}
	if s.DisputeUntil != nil && *s.DisputeUntil <= 0 {
		return fmt.Errorf("core: disputeUntil must be a positive unix timestamp")
	}
	return nil
}

// DeadlineKind distinguishes the two deadlines a deal can carry.
type DeadlineKind string

const (
	DeadlineKindDelivery DeadlineKind = "delivery"
	DeadlineKindDispute  DeadlineKind = "dispute"
)

func (k DeadlineKind) Valid() bool {
	return k == DeadlineKindDelivery || k == DeadlineKindDispute
}

// Audience is who a reminder notification targets.
type Audience string

const (
	AudienceBuyer  Audience = "buyer"
	AudienceSeller Audience = "seller"
	AudienceBoth   Audience = "both"
)

func (a Audience) Valid() bool {
	switch a {
	case AudienceBuyer, AudienceSeller, AudienceBoth:
		return true
	default:
		return false
	}
}

// ReminderReason names why a reminder was scheduled.
type ReminderReason string

const (
	ReasonDeadlineUpcoming     ReminderReason = "deadline-upcoming"
	ReasonDisputeWindowClosing ReminderReason = "dispute-window-closing"
)

func (r ReminderReason) Valid() bool {
	switch r {
	case ReasonDeadlineUpcoming, ReasonDisputeWindowClosing:
		return true
	default:
		return false
	}
}

// EscalationReason names why an escalation was raised.
type EscalationReason string

const (
	EscalationReasonDeadlineExpired EscalationReason = "deadline-expired"
	EscalationReasonNoAck           EscalationReason = "no-ack"
	EscalationReasonNoDelivery      EscalationReason = "no-delivery"
)

func (r EscalationReason) Valid() bool {
	switch r {
	case EscalationReasonDeadlineExpired, EscalationReasonNoAck, EscalationReasonNoDelivery:
		return true
	default:
		return false
	}
}

// SuggestedAction is the outcome an escalation proposes.
type SuggestedAction string

const (
	SuggestedRelease SuggestedAction = "RELEASE"
	SuggestedRefund  SuggestedAction = "REFUND"
	SuggestedReview  SuggestedAction = "REVIEW"
)

func (a SuggestedAction) Valid() bool {
	switch a {
	case SuggestedRelease, SuggestedRefund, SuggestedReview:
		return true
	default:
		return false
	}
}

// DeadlineJob is the payload of a job on the "deadlines" queue.
type DeadlineJob struct {
	DealID     string
	DeadlineAt int64
	Kind       DeadlineKind
	Nonce      int
}

func (j DeadlineJob) Validate() error {
	if strings.TrimSpace(j.DealID) == "" {
		return fmt.Errorf("core: deadline job deal id is required")
	}
	if !j.Kind.Valid() {
		return fmt.Errorf("core: invalid deadline job kind %q", j.Kind)
	}
	if j.Nonce < 0 {
		return fmt.Errorf("core: deadline job nonce must be >= 0")
	}
	return nil
}

// ReminderJob is the payload of a job on the "reminders" queue.
type ReminderJob struct {
	DealID   string
	NotifyAt int64
	Audience Audience
	Reason   ReminderReason
}

func (j ReminderJob) Validate() error {
	if strings.TrimSpace(j.DealID) == "" {
		return fmt.Errorf("core: reminder job deal id is required")
	}
	if !j.Audience.Valid() {
		return fmt.Errorf("core: invalid reminder audience %q", j.Audience)
	}
	if !j.Reason.Valid() {
		return fmt.Errorf("core: invalid reminder reason %q", j.Reason)
	}
	return nil
}

// EscalationJob is the payload of a job on the "escalation" queue.
type EscalationJob struct {
	DealID    string
	Reason    EscalationReason
	Suggested SuggestedAction
}

func (j EscalationJob) Validate() error {
	if strings.TrimSpace(j.DealID) == "" {
		return fmt.Errorf("core: escalation job deal id is required")
	}
	if !j.Reason.Valid() {
		return fmt.Errorf("core: invalid escalation reason %q", j.Reason)
	}
	if !j.Suggested.Valid() {
		return fmt.Errorf("core: invalid escalation suggestion %q", j.Suggested)
	}
	return nil
}

// WebhookEffectKind is the closed, exhaustive tag of a normalized webhook
// effect. A new variant added here without a matching router case is a
// correctness bug (see the exhaustiveness switch in schedule.Engine.Apply).
type WebhookEffectKind string

const (
	EffectDealFunded    WebhookEffectKind = "deal-funded"
	EffectDealDelivered WebhookEffectKind = "deal-delivered"
	EffectDealDisputed  WebhookEffectKind = "deal-disputed"
	EffectDealReleased  WebhookEffectKind = "deal-released"
	EffectDealRefunded  WebhookEffectKind = "deal-refunded"
)

func (k WebhookEffectKind) Valid() bool {
	switch k {
	case EffectDealFunded, EffectDealDelivered, EffectDealDisputed, EffectDealReleased, EffectDealRefunded:
		return true
	default:
		return false
	}
}

// WebhookEffect is the internal, normalized shape of a provider event.
type WebhookEffect struct {
	Kind   WebhookEffectKind
	DealID string
}

// NormalizedWebhookEvent is a single verified, parsed, deduped provider
// event ready for the router.
type NormalizedWebhookEvent struct {
	ID     string
	Sig    string
	Slot   int64
	When   int64
	Effect WebhookEffect
	Index  int
}

func (e NormalizedWebhookEvent) Validate() error {
	if strings.TrimSpace(e.ID) == "" {
		return fmt.Errorf("core: webhook event id is required")
	}
	if strings.TrimSpace(e.Sig) == "" {
		return fmt.Errorf("core: webhook event signature is required")
	}
	if e.Slot < 0 {
		return fmt.Errorf("core: webhook event slot must be >= 0")
	}
	if !e.Effect.Kind.Valid() {
		return fmt.Errorf("core: invalid webhook effect kind %q", e.Effect.Kind)
	}
	if strings.TrimSpace(e.Effect.DealID) == "" {
		return fmt.Errorf("core: webhook effect deal id is required")
	}
	return nil
}

// RouteResult is the outcome of routing one webhook batch.
type RouteResult struct {
	Accepted int
	Ignored  int
}

// Snapshotter is the API port: fetch a fresh deal snapshot. Implementations
// must be bounded by ctx's deadline.
type Snapshotter interface {
	GetDealSnapshot(ctx context.Context, dealID string) (DealSnapshot, error)
}

// FinalizeResult is returned by Finalizer.PrepareFinalize.
type FinalizeResult struct {
	ApprovalURL string
	BlinkURL    string
}

// Finalizer is the API port operation that prepares (never submits) a
// release or refund. Idempotent per (dealID, action).
type Finalizer interface {
	PrepareFinalize(ctx context.Context, dealID string, action SuggestedAction) (FinalizeResult, error)
}

// ReviewerNotice is what the reviewer-facing notification carries.
type ReviewerNotice struct {
	DealID      string
	Suggested   SuggestedAction
	Reason      string
	ApprovalURL string
	BlinkURL    string
}

// PartiesNotice is what the buyer/seller-facing notification carries.
type PartiesNotice struct {
	DealID string
	Event  string
}

// ReminderNotice is the payload sent to buyer/seller ahead of a deadline.
type ReminderNotice struct {
	DealID   string
	When     int64
	Audience Audience
	Reason   ReminderReason
	Context  map[string]any
}

// Notifier is the outbound notification port. Every method must be
// idempotent; the caller relies on a stable idempotency key derived from
// the payload, not on exactly-once delivery from this interface alone.
type Notifier interface {
	NotifyReviewer(ctx context.Context, notice ReviewerNotice) error
	NotifyParties(ctx context.Context, notice PartiesNotice) error
	SendReminder(ctx context.Context, notice ReminderNotice) error
}

// PolicySource is the chain-policy port: a read-only capability check.
type PolicySource interface {
	AllowsAutoFinalize(ctx context.Context, action SuggestedAction) (bool, error)
}

// JobExecutionMessage is the transport-neutral envelope carried through the
// queue substrate. Payload is a JSON-serializable map produced by the
// scheduling engine or a processor.
type JobExecutionMessage struct {
	JobID          string
	Queue          string
	Payload        map[string]any
	IdempotencyKey string
}

// JobNackOptions controls what happens to a message a processor could not
// complete.
type JobNackOptions struct {
	Delay      time.Duration
	Requeue    bool
	DeadLetter bool
	Reason     string
}

// JobEnqueuer adds a message to a queue, deduped by JobID.
type JobEnqueuer interface {
	Enqueue(ctx context.Context, msg *JobExecutionMessage, delay time.Duration) error
}

// JobCanceller removes a pending message by id. Idempotent.
type JobCanceller interface {
	CancelByID(ctx context.Context, queue string, jobID string) error
}

// JobDelivery is a single dequeued message plus its ack/nack lifecycle.
type JobDelivery interface {
	Message() *JobExecutionMessage
	Attempt() int
	Ack(ctx context.Context) error
	Nack(ctx context.Context, opts JobNackOptions) error
}

// JobDequeuer blocks until a message is available or ctx is done.
type JobDequeuer interface {
	Dequeue(ctx context.Context) (JobDelivery, error)
}

// JobWorkerEvent is emitted by the worker runtime for telemetry.
type JobWorkerEvent struct {
	Queue     string
	Message   *JobExecutionMessage
	Attempt   int
	Delay     time.Duration
	Err       error
	StartedAt time.Time
	Duration  time.Duration
}

// JobWorkerHook receives lifecycle telemetry from a running worker pool.
type JobWorkerHook interface {
	OnActive(ctx context.Context, event JobWorkerEvent)
	OnCompleted(ctx context.Context, event JobWorkerEvent)
	OnFailed(ctx context.Context, event JobWorkerEvent)
	OnStalled(ctx context.Context, event JobWorkerEvent)
}

// ReplayLedger claims a key exactly once within a TTL window. Used by the
// webhook intake layer as a defense-in-depth dedup ahead of the queue
// substrate's own identity-based dedup.
type ReplayLedger interface {
	Claim(ctx context.Context, key string, ttl time.Duration) (bool, error)
	PurgeExpired(ctx context.Context) (int, error)
}

// MetricsRecorder is the metrics port; nil-safe callers use NopMetricsRecorder.
type MetricsRecorder interface {
	IncCounter(ctx context.Context, name string, value int64, tags map[string]string)
	ObserveHistogram(ctx context.Context, name string, value float64, tags map[string]string)
}

type Logger = glog.Logger

type LoggerProvider = glog.LoggerProvider

type FieldsLogger = glog.FieldsLogger
