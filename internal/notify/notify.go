// Package notify carries progress and outcome notices from the task
// pipeline to whoever requested the work. Notices are best-effort: the
// pipeline never blocks on them and never changes course when delivery
// fails.
package notify

import (
	"github.com/aviv90/tasker-server-sub010/internal/bus"
	"github.com/aviv90/tasker-server-sub010/internal/types"
)

// Event bus topics for task lifecycle notices.
const (
	TopicAccepted  = "task.accepted"
	TopicProgress  = "task.progress"
	TopicCompleted = "task.completed"
	TopicFailed    = "task.failed"
)

// Notifier is the outbound notice port. Send must not block the caller;
// there is no error return because notices are advisory.
type Notifier interface {
	Send(out types.Outbound)
}

// EventNotifier publishes notices as task.* events on the bus. Channels
// and event streams subscribe and deliver independently; the bus already
// dispatches each handler on its own goroutine.
type EventNotifier struct{}

func NewEventNotifier() *EventNotifier { return &EventNotifier{} }

func (n *EventNotifier) Send(out types.Outbound) {
	bus.PublishEvent(Topic(out), out)
}

// Topic maps a notice to its bus topic.
func Topic(out types.Outbound) string {
	switch {
	case out.Final && out.Err != "":
		return TopicFailed
	case out.Final:
		return TopicCompleted
	default:
		return TopicProgress
	}
}

// Discard drops every notice. Useful in tests and for headless runs.
type Discard struct{}

func (Discard) Send(types.Outbound) {}
