package worker

import (
	"context"
	"fmt"

	"github.com/dealtimer/escrow-engine/command"
	"github.com/dealtimer/escrow-engine/core"
	"github.com/dealtimer/escrow-engine/queue"
)

// Dispatcher routes a dequeued message to the command that matches its
// queue, decoding the payload back into the strongly typed job it was
// built from. Redis round-trips payloads through JSON, so numeric
// fields may arrive as float64; decode tolerates both that and the
// in-process MemoryStore shape.
type Dispatcher struct {
	Deadline   *command.DeadlineCommand
	Reminder   *command.ReminderCommand
	Escalation *command.EscalationCommand
}

func (d *Dispatcher) Handle(ctx context.Context, msg *core.JobExecutionMessage) error {
	if msg == nil {
		return fmt.Errorf("worker: execution message is required")
	}
	switch msg.Queue {
	case queue.Deadlines:
		if d.Deadline == nil {
			return core.DependencyError("worker: deadline command is required")
		}
		job, err := decodeDeadlineJob(msg.Payload)
		if err != nil {
			return err
		}
		return d.Deadline.Execute(ctx, command.DeadlineJobMessage{Job: job})
	case queue.Reminders:
		if d.Reminder == nil {
			return core.DependencyError("worker: reminder command is required")
		}
		job, err := decodeReminderJob(msg.Payload)
		if err != nil {
			return err
		}
		return d.Reminder.Execute(ctx, command.ReminderJobMessage{Job: job})
	case queue.Escalation:
		if d.Escalation == nil {
			return core.DependencyError("worker: escalation command is required")
		}
		job, err := decodeEscalationJob(msg.Payload)
		if err != nil {
			return err
		}
		return d.Escalation.Execute(ctx, command.EscalationJobMessage{Job: job})
	default:
		return fmt.Errorf("worker: unknown queue %q", msg.Queue)
	}
}

func decodeDeadlineJob(payload map[string]any) (core.DeadlineJob, error) {
	job := core.DeadlineJob{
		DealID:     asString(payload["dealId"]),
		DeadlineAt: asInt64(payload["deadlineAt"]),
		Kind:       core.DeadlineKind(asString(payload["kind"])),
		Nonce:      int(asInt64(payload["nonce"])),
	}
	if err := job.Validate(); err != nil {
		return core.DeadlineJob{}, err
	}
	return job, nil
}

func decodeReminderJob(payload map[string]any) (core.ReminderJob, error) {
	job := core.ReminderJob{
		DealID:   asString(payload["dealId"]),
		NotifyAt: asInt64(payload["notifyAt"]),
		Audience: core.Audience(asString(payload["audience"])),
		Reason:   core.ReminderReason(asString(payload["reason"])),
	}
	if err := job.Validate(); err != nil {
		return core.ReminderJob{}, err
	}
	return job, nil
}

func decodeEscalationJob(payload map[string]any) (core.EscalationJob, error) {
	job := core.EscalationJob{
		DealID:    asString(payload["dealId"]),
		Reason:    core.EscalationReason(asString(payload["reason"])),
		Suggested: core.SuggestedAction(asString(payload["suggested"])),
	}
	if err := job.Validate(); err != nil {
		return core.EscalationJob{}, err
	}
	return job, nil
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	default:
		return 0
	}
}

var _ Handler = (*Dispatcher)(nil)
