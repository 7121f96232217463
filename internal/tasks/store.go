// Package tasks tracks generation work waiting on a provider, from
// dispatch to terminal delivery. Entries are keyed by the provider-side
// submission id; an entry leaves the registry the moment it reaches a
// terminal state, so a second notice for the same submission finds
// nothing and does nothing.
package tasks

import (
	"context"
	"errors"
	"time"

	"github.com/aviv90/tasker-server-sub010/internal/types"
)

// ErrTaskNotFound is returned when no entry exists for a submission id.
var ErrTaskNotFound = errors.New("task not found")

// Status is the lifecycle state of a registry entry. Transitions only
// move forward: submitted to a waiting state, a waiting state to a
// terminal one.
type Status string

const (
	StatusSubmitted        Status = "submitted"
	StatusAwaitingCallback Status = "awaiting-callback"
	StatusPolling          Status = "polling"
	StatusCompleted        Status = "completed"
	StatusFailed           Status = "failed"
)

// Terminal reports whether the status ends the entry's lifecycle.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanTransition reports whether moving to next preserves forward-only
// ordering. Terminal states accept no further transitions.
func (s Status) CanTransition(next Status) bool {
	if s.Terminal() {
		return false
	}
	switch s {
	case StatusSubmitted:
		return next == StatusAwaitingCallback || next == StatusPolling || next.Terminal()
	case StatusAwaitingCallback, StatusPolling:
		return next.Terminal()
	default:
		return false
	}
}

// Task is one pending generation awaiting a provider outcome.
type Task struct {
	ID           string          `json:"id"`           // service-side id, stable across recovery redispatches
	SubmissionID string          `json:"submissionId"` // provider-side correlation key
	Kind         types.MediaKind `json:"kind"`
	Provider     string          `json:"provider"` // provider currently responsible
	Status       Status          `json:"status"`

	// Request carries the prompt as currently dispatched; transforms
	// rewrite it. OriginalPrompt keeps the user's wording for transform
	// baselines and exhaustion reports.
	Request        types.GenRequest `json:"request"`
	OriginalPrompt string           `json:"originalPrompt"`

	// Recovery state, carried across redispatches under new submission ids.
	Strategy  types.Strategy  `json:"strategy"`
	Attempted map[string]bool `json:"attempted"` // providers tried in the alternate-provider walk
	LastTried string          `json:"lastTried"`
	Trail     []types.Attempt `json:"trail"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
	Deadline  time.Time `json:"deadline"` // wall-clock budget for the wait
}

// AdvanceTo moves the task to next, enforcing forward-only ordering.
func (t *Task) AdvanceTo(next Status) error {
	if !t.Status.CanTransition(next) {
		return errors.New("invalid transition from " + string(t.Status) + " to " + string(next))
	}
	t.Status = next
	t.UpdatedAt = time.Now()
	return nil
}

// Clone returns a copy safe to hand across goroutines.
func (t *Task) Clone() *Task {
	cp := *t
	if t.Attempted != nil {
		cp.Attempted = make(map[string]bool, len(t.Attempted))
		for k, v := range t.Attempted {
			cp.Attempted[k] = v
		}
	}
	if t.Trail != nil {
		cp.Trail = append([]types.Attempt(nil), t.Trail...)
	}
	if t.Request.FollowUp != nil {
		fu := *t.Request.FollowUp
		cp.Request.FollowUp = &fu
	}
	return &cp
}

// Store is the interface for pending task storage backends.
// Implementations: MemoryStore (default), SQLiteStore (survives restarts).
type Store interface {
	// Put inserts or replaces the entry for t.SubmissionID.
	Put(ctx context.Context, t *Task) error

	// Get returns the entry for a submission id, or ErrTaskNotFound.
	Get(ctx context.Context, submissionID string) (*Task, error)

	// GetByTaskID returns the entry carrying the service-side task id.
	GetByTaskID(ctx context.Context, id string) (*Task, error)

	// Remove atomically claims and deletes an entry. Exactly one caller
	// receives the task; later callers get ErrTaskNotFound.
	Remove(ctx context.Context, submissionID string) (*Task, error)

	// List returns all pending entries.
	List(ctx context.Context) ([]*Task, error)

	// Lifecycle
	Close() error
}
