package gateway

import (
	"context"
	"time"

	. "github.com/aviv90/tasker-server-sub010/internal/logging"
	"github.com/aviv90/tasker-server-sub010/internal/providers"
	"github.com/aviv90/tasker-server-sub010/internal/tasks"
)

// pollResumer is implemented by providers that can rebuild a poll loop
// from a stored submission id after a restart.
type pollResumer interface {
	ResumePoll(submissionID string) providers.PollFunc
}

// resumePending re-arms the poll loops for tasks a previous process left
// in the store. Callback tasks need nothing; their webhook will find the
// entry whenever it arrives. Tasks past their deadline are left for the
// janitor.
func (g *Gateway) resumePending(ctx context.Context) {
	list, err := g.store.List(ctx)
	if err != nil {
		L_error("gateway: failed to list pending tasks on startup", "error", err)
		return
	}
	if len(list) == 0 {
		return
	}

	resumed, waiting, stale := 0, 0, 0
	now := time.Now()
	for _, t := range list {
		if !t.Deadline.IsZero() && now.After(t.Deadline) {
			stale++
			continue
		}

		switch t.Status {
		case tasks.StatusAwaitingCallback:
			waiting++

		case tasks.StatusPolling:
			p, ok := g.registry.Get(t.Provider)
			if !ok {
				L_warn("gateway: pending task references unknown provider",
					"task", t.ID, "provider", t.Provider)
				continue
			}
			resumer, ok := p.(pollResumer)
			if !ok {
				L_warn("gateway: provider cannot resume polls, task left for the janitor",
					"task", t.ID, "provider", t.Provider)
				continue
			}
			interval := time.Duration(g.config.Tasks.PollIntervalSecs) * time.Second
			g.poller.Watch(t.SubmissionID, t.Provider, resumer.ResumePoll(t.SubmissionID), interval, t.Deadline)
			resumed++
		}
	}

	L_info("gateway: pending tasks recovered",
		"total", len(list),
		"pollsResumed", resumed,
		"awaitingCallback", waiting,
		"pastDeadline", stale,
	)
}
