package command

import gocmd "github.com/goliatone/go-command"

var (
	_ gocmd.Commander[DeadlineJobMessage]   = (*DeadlineCommand)(nil)
	_ gocmd.Commander[ReminderJobMessage]   = (*ReminderCommand)(nil)
	_ gocmd.Commander[EscalationJobMessage] = (*EscalationCommand)(nil)
)
