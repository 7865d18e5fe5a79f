// Package jobid computes the deterministic identity strings that dedupe
// pending jobs and webhook events across producers. Every function here is
// pure: identical inputs always produce identical output, and any field
// change changes the output. Identity composition is a stable, versioned
// contract — changing the format here is a breaking change for anything
// with jobs already queued.
package jobid

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"

	"github.com/dealtimer/escrow-engine/core"
)

// Deadline returns the identity for a deadline job: deadline:<dealId>:<deadlineAt>:<kind>:<nonce>.
func Deadline(dealID string, deadlineAt int64, kind core.DeadlineKind, nonce int) string {
	return strings.Join([]string{
		"deadline",
		dealID,
		strconv.FormatInt(deadlineAt, 10),
		string(kind),
		strconv.Itoa(nonce),
	}, ":")
}

// DeadlineJob is a convenience wrapper over Deadline for callers already
// holding a core.DeadlineJob value.
func DeadlineJob(job core.DeadlineJob) string {
	return Deadline(job.DealID, job.DeadlineAt, job.Kind, job.Nonce)
}

// Reminder returns the identity for a reminder job: reminder:<dealId>:<notifyAt>:<audience>:<reason>.
func Reminder(dealID string, notifyAt int64, audience core.Audience, reason core.ReminderReason) string {
	return strings.Join([]string{
		"reminder",
		dealID,
		strconv.FormatInt(notifyAt, 10),
		string(audience),
		string(reason),
	}, ":")
}

func ReminderJob(job core.ReminderJob) string {
	return Reminder(job.DealID, job.NotifyAt, job.Audience, job.Reason)
}

// Escalation returns the identity for an escalation job: escalation:<dealId>:<reason>:<suggested>.
func Escalation(dealID string, reason core.EscalationReason, suggested core.SuggestedAction) string {
	return strings.Join([]string{
		"escalation",
		dealID,
		string(reason),
		string(suggested),
	}, ":")
}

func EscalationJob(job core.EscalationJob) string {
	return Escalation(job.DealID, job.Reason, job.Suggested)
}

// Webhook computes the id for a normalized webhook event: a hex SHA-256
// digest of webhookId||"|"||sig||"|"||index. Missing parts default to the
// empty string and 0 per the wire contract, so a webhook delivery that
// never carries an id still dedupes correctly on sig+index alone.
func Webhook(webhookID, sig string, index int) string {
	sum := sha256.Sum256([]byte(webhookID + "|" + sig + "|" + strconv.Itoa(index)))
	return hex.EncodeToString(sum[:])
}
