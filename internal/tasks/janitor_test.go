package tasks

import (
	"context"
	"testing"
	"time"
)

func TestNewJanitorValidatesSchedule(t *testing.T) {
	tr, _, _ := newTestTracker(t)

	if _, err := NewJanitor(tr, "not a cron line"); err == nil {
		t.Error("expected an error for a bad schedule")
	}
	if _, err := NewJanitor(tr, ""); err != nil {
		t.Errorf("empty schedule should use the default, got error: %v", err)
	}
	if _, err := NewJanitor(tr, "*/5 * * * *"); err != nil {
		t.Errorf("five-field schedule rejected: %v", err)
	}
}

func TestSweepFailsExpiredTasks(t *testing.T) {
	tr, store, notifier := newTestTracker(t)
	ctx := context.Background()

	janitor, err := NewJanitor(tr, "")
	if err != nil {
		t.Fatalf("NewJanitor failed: %v", err)
	}

	// One task over budget, one still inside it.
	expired := testTask("sub-old", "task-old")
	expired.Deadline = time.Now().Add(-time.Minute)
	if err := tr.Register(ctx, expired); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	fresh := testTask("sub-new", "task-new")
	fresh.Deadline = time.Now().Add(time.Hour)
	if err := tr.Register(ctx, fresh); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	janitor.Sweep()

	if _, err := store.Get(ctx, "sub-old"); err == nil {
		t.Error("expired task still in store after sweep")
	}
	if _, err := store.Get(ctx, "sub-new"); err != nil {
		t.Errorf("fresh task swept away: %v", err)
	}

	finals := notifier.finals()
	if len(finals) != 1 {
		t.Fatalf("final notices = %d, want 1 for the expired task", len(finals))
	}
	if finals[0].Err == "" {
		t.Error("expired task notice carries no error")
	}
}

func TestSweepLeavesZeroDeadlineAlone(t *testing.T) {
	tr, store, _ := newTestTracker(t)
	ctx := context.Background()

	janitor, err := NewJanitor(tr, "")
	if err != nil {
		t.Fatalf("NewJanitor failed: %v", err)
	}

	task := testTask("sub-1", "task-1")
	task.Deadline = time.Time{}
	if err := tr.Register(ctx, task); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	janitor.Sweep()

	if _, err := store.Get(ctx, "sub-1"); err != nil {
		t.Errorf("task without a deadline swept away: %v", err)
	}
}

func TestJanitorStartStop(t *testing.T) {
	tr, _, _ := newTestTracker(t)

	janitor, err := NewJanitor(tr, "")
	if err != nil {
		t.Fatalf("NewJanitor failed: %v", err)
	}

	janitor.Start()
	janitor.Start() // idempotent
	janitor.Stop()
	janitor.Stop() // idempotent
}
