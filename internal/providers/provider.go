package providers

import (
	"context"
	"time"

	"github.com/aviv90/tasker-server-sub010/internal/types"
)

// Provider is one external generation service. Generate either finishes
// synchronously with a result or hands back an async submission.
type Provider interface {
	ID() string
	Label() string
	Kinds() []types.MediaKind
	Generate(ctx context.Context, req types.GenRequest) (*Outcome, error)
}

// Outcome is what a generate call produced: exactly one of Result
// (synchronous completion) or Submission (job accepted, finishes later).
type Outcome struct {
	Result     *types.GenResult
	Submission *Submission
}

// Immediate reports whether the outcome carries a finished result.
func (o *Outcome) Immediate() bool {
	return o != nil && o.Result != nil
}

// WaitMode says how an async submission reaches completion.
type WaitMode string

const (
	WaitCallback WaitMode = "callback" // provider posts a webhook notice
	WaitPoll     WaitMode = "poll"     // we drive a status-check loop
)

// Submission is the async handle for a job the provider accepted.
type Submission struct {
	// ID is the provider-issued correlation token. For callback providers
	// it must match the id the webhook will carry.
	ID   string
	Mode WaitMode

	// Poll checks job status once. Required when Mode is WaitPoll.
	Poll PollFunc

	// Interval overrides the configured poll cadence when non-zero.
	Interval time.Duration
}

// PollFunc performs a single status check against the provider.
type PollFunc func(ctx context.Context) (*PollStatus, error)

// PollState is the canonical job state after adapter normalization.
type PollState string

const (
	StatePending   PollState = "pending"
	StateCompleted PollState = "completed"
	StateFailed    PollState = "failed"
	// StateUnknown means the adapter recognized no status field. The poll
	// loop treats unknown-with-result as implicit completion.
	StateUnknown PollState = "unknown"
)

// PollStatus is one normalized poll answer.
type PollStatus struct {
	State  PollState
	Result *types.GenResult // set when the job finished (or on implicit completion)
	Err    string           // provider-reported failure detail for StateFailed
}

// HasKind reports whether p serves the given media kind.
func HasKind(p Provider, kind types.MediaKind) bool {
	for _, k := range p.Kinds() {
		if k == kind {
			return true
		}
	}
	return false
}
