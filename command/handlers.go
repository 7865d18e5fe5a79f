package command

import (
	"context"

	"github.com/dealtimer/escrow-engine/core"
	"github.com/dealtimer/escrow-engine/processor"
)

// DeadlineHandler is the subset of processor.DeadlineProcessor a command needs.
type DeadlineHandler interface {
	Process(ctx context.Context, job core.DeadlineJob) (processor.Result, error)
}

// ReminderHandler is the subset of processor.ReminderProcessor a command needs.
type ReminderHandler interface {
	Process(ctx context.Context, job core.ReminderJob) (processor.Result, error)
}

// EscalationHandler is the subset of processor.EscalationProcessor a command needs.
type EscalationHandler interface {
	Process(ctx context.Context, job core.EscalationJob) (processor.Result, error)
}

type DeadlineCommand struct {
	handler DeadlineHandler
}

func NewDeadlineCommand(handler DeadlineHandler) *DeadlineCommand {
	return &DeadlineCommand{handler: handler}
}

func (c *DeadlineCommand) Execute(ctx context.Context, msg DeadlineJobMessage) error {
	if c == nil || c.handler == nil {
		return core.DependencyError("command: deadline processor is required")
	}
	_, err := c.handler.Process(ctx, msg.Job)
	return err
}

type ReminderCommand struct {
	handler ReminderHandler
}

func NewReminderCommand(handler ReminderHandler) *ReminderCommand {
	return &ReminderCommand{handler: handler}
}

func (c *ReminderCommand) Execute(ctx context.Context, msg ReminderJobMessage) error {
	if c == nil || c.handler == nil {
		return core.DependencyError("command: reminder processor is required")
	}
	_, err := c.handler.Process(ctx, msg.Job)
	return err
}

type EscalationCommand struct {
	handler EscalationHandler
}

func NewEscalationCommand(handler EscalationHandler) *EscalationCommand {
	return &EscalationCommand{handler: handler}
}

func (c *EscalationCommand) Execute(ctx context.Context, msg EscalationJobMessage) error {
	if c == nil || c.handler == nil {
		return core.DependencyError("command: escalation processor is required")
	}
	_, err := c.handler.Process(ctx, msg.Job)
	return err
}
