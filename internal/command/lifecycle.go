package command

import (
	"context"

	"agrosmart/internal/models"

	"github.com/looplab/fsm"
)

func lifecycleEvents() fsm.Events {
	pending := string(models.StatusPending)
	publishFailed := string(models.StatusPublishFailed)
	received := string(models.StatusReceived)
	started := string(models.StatusStarted)

	return fsm.Events{
		{Name: publishFailed, Src: []string{pending}, Dst: publishFailed},
		{Name: received, Src: []string{pending, publishFailed}, Dst: received},
		{Name: started, Src: []string{pending, publishFailed, received}, Dst: started},
		{Name: string(models.StatusDone), Src: []string{pending, publishFailed, received, started}, Dst: string(models.StatusDone)},
		{Name: string(models.StatusFailed), Src: []string{pending, publishFailed, received, started}, Dst: string(models.StatusFailed)},
	}
}

// Advance returns the effective status after a report of reported arrives
// while the record is in current. Reports that would move the command
// backwards, or that are unknown, leave it where it is.
func Advance(ctx context.Context, current, reported models.CommandStatus) models.CommandStatus {
	if current == "" {
		current = models.StatusPending
	}
	if reported == "" || reported == current {
		return current
	}

	machine := fsm.NewFSM(string(current), lifecycleEvents(), fsm.Callbacks{})
	if err := machine.Event(ctx, string(reported)); err != nil {
		return current
	}
	return models.CommandStatus(machine.Current())
}

// CanTransition reports whether reported moves a command out of current.
func CanTransition(current, reported models.CommandStatus) bool {
	if current == "" {
		current = models.StatusPending
	}
	return fsm.NewFSM(string(current), lifecycleEvents(), fsm.Callbacks{}).Can(string(reported))
}
