package command

import (
	"testing"

	"github.com/dealtimer/escrow-engine/core"
)

func TestDeadlineJobMessage_ValidateRejectsMissingDealID(t *testing.T) {
	msg := DeadlineJobMessage{Job: core.DeadlineJob{Kind: core.DeadlineKindDelivery}}
	if err := msg.Validate(); err == nil {
		t.Fatalf("expected validation error for missing deal id")
	}
}

func TestDeadlineJobMessage_TypeIsStable(t *testing.T) {
	if (DeadlineJobMessage{}).Type() != TypeDeadline {
		t.Fatalf("expected stable type string")
	}
}

func TestReminderJobMessage_ValidateRejectsInvalidAudience(t *testing.T) {
	msg := ReminderJobMessage{Job: core.ReminderJob{DealID: "deal-1", Reason: core.ReasonDeadlineUpcoming}}
	if err := msg.Validate(); err == nil {
		t.Fatalf("expected validation error for missing audience")
	}
}

func TestEscalationJobMessage_ValidateRejectsInvalidSuggestion(t *testing.T) {
	msg := EscalationJobMessage{Job: core.EscalationJob{DealID: "deal-1", Reason: core.EscalationReasonNoAck}}
	if err := msg.Validate(); err == nil {
		t.Fatalf("expected validation error for missing suggested action")
	}
}
