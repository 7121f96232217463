package tasks

import (
	"testing"

	"github.com/aviv90/tasker-server-sub010/internal/types"
)

func TestStatusCanTransition(t *testing.T) {
	tests := []struct {
		from Status
		to   Status
		want bool
	}{
		// From submitted
		{StatusSubmitted, StatusAwaitingCallback, true},
		{StatusSubmitted, StatusPolling, true},
		{StatusSubmitted, StatusCompleted, true},
		{StatusSubmitted, StatusFailed, true},
		{StatusSubmitted, StatusSubmitted, false},

		// From waiting states, only terminal
		{StatusAwaitingCallback, StatusCompleted, true},
		{StatusAwaitingCallback, StatusFailed, true},
		{StatusAwaitingCallback, StatusPolling, false},
		{StatusPolling, StatusCompleted, true},
		{StatusPolling, StatusFailed, true},
		{StatusPolling, StatusAwaitingCallback, false},

		// Terminal states accept nothing
		{StatusCompleted, StatusFailed, false},
		{StatusCompleted, StatusSubmitted, false},
		{StatusFailed, StatusCompleted, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+" to "+string(tt.to), func(t *testing.T) {
			if got := tt.from.CanTransition(tt.to); got != tt.want {
				t.Errorf("CanTransition(%s -> %s) = %v, want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

func TestAdvanceToRejectsBackwardMoves(t *testing.T) {
	task := &Task{Status: StatusPolling}

	if err := task.AdvanceTo(StatusCompleted); err != nil {
		t.Fatalf("AdvanceTo(completed) failed: %v", err)
	}
	if err := task.AdvanceTo(StatusPolling); err == nil {
		t.Error("expected an error advancing out of a terminal state")
	}
	if task.Status != StatusCompleted {
		t.Errorf("status = %s, want it unchanged after a rejected move", task.Status)
	}
}

func TestTaskClone(t *testing.T) {
	orig := &Task{
		ID:           "t1",
		SubmissionID: "s1",
		Kind:         types.KindMusic,
		Attempted:    map[string]bool{"suno": true},
		Trail:        []types.Attempt{{Strategy: types.StrategyProvider, Provider: "suno", Err: "boom"}},
		Request: types.GenRequest{
			Prompt:   "a song",
			FollowUp: &types.FollowUp{Kind: types.KindImageToVideo},
		},
	}

	cp := orig.Clone()
	cp.Attempted["openai"] = true
	cp.Trail[0].Err = "changed"
	cp.Trail = append(cp.Trail, types.Attempt{Provider: "x"})
	cp.Request.FollowUp.Kind = types.KindVideo

	if orig.Attempted["openai"] {
		t.Error("clone shares the attempted map")
	}
	if orig.Trail[0].Err != "boom" {
		t.Error("clone shares the trail backing array")
	}
	if len(orig.Trail) != 1 {
		t.Errorf("original trail length = %d, want 1", len(orig.Trail))
	}
	if orig.Request.FollowUp.Kind != types.KindImageToVideo {
		t.Error("clone shares the follow-up pointer")
	}
}
