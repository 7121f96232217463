// Package poll drives provider poll loops to a terminal outcome. Each
// watched submission polls on a fixed interval until the provider
// reports a result, the wall-clock budget runs out, or the poller shuts
// down. Outcomes are handed to a sink; the loop itself never retries a
// finished submission.
package poll

import (
	"context"
	"sync"
	"time"

	. "github.com/aviv90/tasker-server-sub010/internal/logging"
	"github.com/aviv90/tasker-server-sub010/internal/providers"
	"github.com/aviv90/tasker-server-sub010/internal/types"
)

// Sink receives terminal poll outcomes. Implemented by the task tracker.
type Sink interface {
	Complete(ctx context.Context, submissionID string, res *types.GenResult)
	Fail(ctx context.Context, submissionID string, cause error)
}

const (
	// DefaultInterval between polls when the provider suggests none.
	DefaultInterval = 5 * time.Second

	// DefaultBudget bounds the whole poll loop when no deadline is given.
	DefaultBudget = 6 * time.Minute
)

// Poller runs one goroutine per watched submission.
type Poller struct {
	interval time.Duration
	budget   time.Duration
	sink     Sink

	mu      sync.Mutex
	stopped bool
	cancel  context.CancelFunc
	ctx     context.Context
	wg      sync.WaitGroup
}

// New creates a poller with the given defaults. Zero values fall back to
// DefaultInterval and DefaultBudget.
func New(interval, budget time.Duration, sink Sink) *Poller {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if budget <= 0 {
		budget = DefaultBudget
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Poller{
		interval: interval,
		budget:   budget,
		sink:     sink,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Watch starts polling a submission. interval overrides the poller
// default when positive; deadline bounds the loop, with the zero value
// meaning now plus the default budget. Safe to call from any goroutine.
func (p *Poller) Watch(submissionID, provider string, fn providers.PollFunc, interval time.Duration, deadline time.Time) {
	if fn == nil {
		L_error("poll: watch without poll function", "submission", submissionID, "provider", provider)
		return
	}
	if interval <= 0 {
		interval = p.interval
	}
	if deadline.IsZero() {
		deadline = time.Now().Add(p.budget)
	}

	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		L_warn("poll: poller stopped, not watching", "submission", submissionID)
		return
	}
	p.wg.Add(1)
	p.mu.Unlock()

	go func() {
		defer p.wg.Done()
		p.run(submissionID, provider, fn, interval, deadline)
	}()
}

// Stop cancels all poll loops and waits for them to exit. Unfinished
// submissions stay in the task store for the janitor or a restart.
func (p *Poller) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	p.mu.Unlock()

	p.cancel()
	p.wg.Wait()
	L_debug("poll: poller stopped")
}

func (p *Poller) run(submissionID, provider string, fn providers.PollFunc, interval time.Duration, deadline time.Time) {
	L_debug("poll: watching",
		"submission", submissionID,
		"provider", provider,
		"interval", interval.String(),
		"deadline", deadline.Format(time.RFC3339),
	)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	polls := 0
	for {
		select {
		case <-p.ctx.Done():
			L_debug("poll: shutdown, leaving submission pending", "submission", submissionID)
			return
		case <-ticker.C:
		}

		if time.Now().After(deadline) {
			L_warn("poll: budget exhausted", "submission", submissionID, "provider", provider, "polls", polls)
			p.sink.Fail(p.ctx, submissionID,
				providers.Errf(provider, providers.FailPollTimeout, "no result after %d polls within the wait budget", polls))
			return
		}

		pollCtx, cancel := context.WithTimeout(p.ctx, interval*4)
		status, err := fn(pollCtx)
		cancel()
		polls++

		if err != nil {
			// Transient poll errors do not end the loop; the budget does.
			L_warn("poll: poll attempt failed", "submission", submissionID, "attempt", polls, "error", err)
			continue
		}
		if status == nil {
			L_warn("poll: empty status", "submission", submissionID, "attempt", polls)
			continue
		}

		switch status.State {
		case providers.StatePending:
			L_trace("poll: still pending", "submission", submissionID, "attempt", polls)

		case providers.StateCompleted:
			L_info("poll: completed", "submission", submissionID, "provider", provider, "polls", polls)
			p.sink.Complete(p.ctx, submissionID, status.Result)
			return

		case providers.StateFailed:
			L_warn("poll: provider reported failure", "submission", submissionID, "error", status.Err)
			kind := providers.Classify(status.Err)
			p.sink.Fail(p.ctx, submissionID,
				providers.Errf(provider, kind, "%s", status.Err))
			return

		case providers.StateUnknown:
			// A result reference with no recognized status counts as done.
			if status.Result != nil && status.Result.HasPayload() {
				L_info("poll: implicit completion", "submission", submissionID, "provider", provider, "polls", polls)
				p.sink.Complete(p.ctx, submissionID, status.Result)
				return
			}
			L_debug("poll: unrecognized status without result, continuing", "submission", submissionID, "attempt", polls)
		}
	}
}
