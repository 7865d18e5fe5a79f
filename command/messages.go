package command

import (
	"fmt"

	"github.com/dealtimer/escrow-engine/core"
)

const (
	TypeDeadline   = "escrow.command.deadline"
	TypeReminder   = "escrow.command.reminder"
	TypeEscalation = "escrow.command.escalation"
)

// DeadlineJobMessage carries a fired deadline job to the Deadline Processor.
type DeadlineJobMessage struct {
	Job core.DeadlineJob
}

func (DeadlineJobMessage) Type() string { return TypeDeadline }

func (m DeadlineJobMessage) Validate() error {
	if err := m.Job.Validate(); err != nil {
		return fmt.Errorf("command: %w", err)
	}
	return nil
}

// ReminderJobMessage carries a fired reminder job to the Reminder Processor.
type ReminderJobMessage struct {
	Job core.ReminderJob
}

func (ReminderJobMessage) Type() string { return TypeReminder }

func (m ReminderJobMessage) Validate() error {
	if err := m.Job.Validate(); err != nil {
		return fmt.Errorf("command: %w", err)
	}
	return nil
}

// EscalationJobMessage carries a fired escalation job to the Escalation
// Processor.
type EscalationJobMessage struct {
	Job core.EscalationJob
}

func (EscalationJobMessage) Type() string { return TypeEscalation }

func (m EscalationJobMessage) Validate() error {
	if err := m.Job.Validate(); err != nil {
		return fmt.Errorf("command: %w", err)
	}
	return nil
}
