package tasks

import (
	"context"
	"fmt"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"

	. "github.com/aviv90/tasker-server-sub010/internal/logging"
	"github.com/aviv90/tasker-server-sub010/internal/providers"
)

// sweepTimeout bounds one janitor pass.
const sweepTimeout = 2 * time.Minute

// Janitor periodically fails waiting tasks whose wall-clock budget has
// expired. Callback tasks rely on it entirely; polling tasks normally
// time out in their own loop, and the sweep only catches entries whose
// poller died with a previous process.
type Janitor struct {
	tracker  *Tracker
	schedule cronlib.Schedule

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewJanitor creates a janitor from a standard 5-field cron expression.
func NewJanitor(tracker *Tracker, expr string) (*Janitor, error) {
	if expr == "" {
		expr = "*/5 * * * *"
	}
	parser := cronlib.NewParser(cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow)
	schedule, err := parser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid janitor schedule %q: %w", expr, err)
	}
	return &Janitor{
		tracker:  tracker,
		schedule: schedule,
	}, nil
}

// Start launches the sweep loop.
func (j *Janitor) Start() {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.running {
		return
	}
	j.running = true
	j.stopCh = make(chan struct{})
	j.doneCh = make(chan struct{})

	go j.run()
	L_info("janitor: started")
}

// Stop halts the sweep loop and waits for a running sweep to finish.
func (j *Janitor) Stop() {
	j.mu.Lock()
	if !j.running {
		j.mu.Unlock()
		return
	}
	j.running = false
	close(j.stopCh)
	doneCh := j.doneCh
	j.mu.Unlock()

	<-doneCh
	L_info("janitor: stopped")
}

func (j *Janitor) run() {
	defer close(j.doneCh)

	for {
		next := j.schedule.Next(time.Now())
		timer := time.NewTimer(time.Until(next))
		select {
		case <-j.stopCh:
			timer.Stop()
			return
		case <-timer.C:
			j.Sweep()
		}
	}
}

// Sweep fails every waiting task whose deadline has passed. Exposed so
// tests and operational commands can trigger a pass directly.
func (j *Janitor) Sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
	defer cancel()

	list, err := j.tracker.Store().List(ctx)
	if err != nil {
		L_error("janitor: failed to list tasks", "error", err)
		return
	}

	now := time.Now()
	expired := 0
	for _, t := range list {
		if t.Deadline.IsZero() || now.Before(t.Deadline) {
			continue
		}
		expired++
		L_warn("janitor: task exceeded wait budget",
			"task", t.ID,
			"submission", t.SubmissionID,
			"provider", t.Provider,
			"status", t.Status,
			"waited", now.Sub(t.CreatedAt).Round(time.Second).String(),
		)
		j.tracker.Fail(ctx, t.SubmissionID,
			providers.Errf(t.Provider, providers.FailPollTimeout, "no result within the wait budget"))
	}

	if expired > 0 {
		L_info("janitor: sweep finished", "checked", len(list), "expired", expired)
	} else {
		L_trace("janitor: sweep finished", "checked", len(list))
	}
}
