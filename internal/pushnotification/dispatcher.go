package pushnotification

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/missionctl/mission-control/internal/eventbus"
)

// Dispatcher subscribes to task lifecycle events and notifies the owner when
// a task reaches a terminal state.
type Dispatcher struct {
	bus    *eventbus.Bus
	sender *Sender
}

func NewDispatcher(bus *eventbus.Bus, sender *Sender) *Dispatcher {
	return &Dispatcher{
		bus:    bus,
		sender: sender,
	}
}

func (d *Dispatcher) Start(ctx context.Context) {
	subID, ch := d.bus.Subscribe(256)
	defer d.bus.Unsubscribe(subID)

	slog.Info("push notification dispatcher started")
	for {
		select {
		case <-ctx.Done():
			slog.Info("push notification dispatcher stopped")
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			switch event.Type {
			case eventbus.TaskCompleted, eventbus.TaskFailed:
				d.notifyTerminal(ctx, event)
			}
		}
	}
}

func (d *Dispatcher) notifyTerminal(ctx context.Context, event *eventbus.Event) {
	title := "Task built"
	if event.Type == eventbus.TaskFailed {
		title = "Task failed"
	}
	d.sender.SendToUser(ctx, event.UserID, &NotificationPayload{
		Title: title,
		Body:  event.Title,
		URL:   fmt.Sprintf("/tasks/%d", event.TaskID),
		Tag:   fmt.Sprintf("task-%d", event.TaskID),
	})
}
