// Package dispatch hands generation work to providers one at a time and
// normalizes what comes back: an immediate result, a registered waiting
// task, or a classified failure. A provider is dispatched at most once
// per task within a candidate walk.
package dispatch

import (
	"context"
	"fmt"
	"time"

	. "github.com/aviv90/tasker-server-sub010/internal/logging"
	"github.com/aviv90/tasker-server-sub010/internal/notify"
	"github.com/aviv90/tasker-server-sub010/internal/poll"
	"github.com/aviv90/tasker-server-sub010/internal/providers"
	"github.com/aviv90/tasker-server-sub010/internal/tasks"
	"github.com/aviv90/tasker-server-sub010/internal/types"
)

// Config carries the wait budgets handed to registered tasks.
type Config struct {
	CallbackBudget time.Duration // how long to wait for a provider callback
	PollBudget     time.Duration // how long to keep polling
	PollInterval   time.Duration // fixed delay between polls
}

// Dispatcher drives single provider attempts for the recovery layers.
type Dispatcher struct {
	registry *providers.Registry
	tracker  *tasks.Tracker
	poller   *poll.Poller
	notifier notify.Notifier
	cfg      Config
}

// New creates a dispatcher. Zero budget values fall back to the poll
// package defaults.
func New(registry *providers.Registry, tracker *tasks.Tracker, poller *poll.Poller, notifier notify.Notifier, cfg Config) *Dispatcher {
	if cfg.CallbackBudget <= 0 {
		cfg.CallbackBudget = 30 * time.Minute
	}
	if cfg.PollBudget <= 0 {
		cfg.PollBudget = poll.DefaultBudget
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = poll.DefaultInterval
	}
	if notifier == nil {
		notifier = notify.Discard{}
	}
	return &Dispatcher{
		registry: registry,
		tracker:  tracker,
		poller:   poller,
		notifier: notifier,
		cfg:      cfg,
	}
}

// Walk tries each candidate in order until one accepts the work. Every
// failed candidate is recorded on the task's trail and announced to the
// requester before the next attempt. Returns the immediate result, or
// async=true when a waiting task was registered.
func (d *Dispatcher) Walk(ctx context.Context, t *tasks.Task, candidates []string) (*types.GenResult, bool, error) {
	if len(candidates) == 0 {
		return nil, false, providers.Errf("", providers.FailUnavailable, "no capable providers for %s", t.Kind.Label())
	}

	var lastErr error
	for _, id := range candidates {
		if err := ctx.Err(); err != nil {
			return nil, false, fmt.Errorf("dispatch cancelled: %w", err)
		}
		if lastErr != nil {
			d.notifyRetry(t, lastErr, id)
		}

		res, async, err := d.TryOne(ctx, t, id)
		if err != nil {
			lastErr = err
			continue
		}
		return res, async, nil
	}

	return nil, false, lastErr
}

// TryOne dispatches the task to one provider. On an immediate result the
// task never enters the registry; on an async acceptance the task is
// registered under the provider's submission id and, for poll mode, the
// poll loop is armed.
func (d *Dispatcher) TryOne(ctx context.Context, t *tasks.Task, providerID string) (*types.GenResult, bool, error) {
	p, ok := d.registry.Get(providerID)
	if !ok {
		return nil, false, providers.Errf(providerID, providers.FailUnavailable, "provider not available")
	}

	if t.Attempted == nil {
		t.Attempted = make(map[string]bool)
	}
	t.Attempted[providerID] = true
	t.LastTried = providerID
	t.Provider = providerID

	L_info("dispatch: attempting provider",
		"task", t.ID,
		"provider", providerID,
		"kind", t.Kind,
		"strategy", t.Strategy,
	)
	d.notifier.Send(types.Outbound{
		Delivery: t.Request.Delivery,
		TaskID:   t.ID,
		Text:     fmt.Sprintf("Working on your %s with %s...", t.Kind.Label(), p.Label()),
	})

	outcome, err := p.Generate(ctx, t.Request)
	if err != nil {
		perr := providers.Wrap(providerID, err)
		t.Trail = append(t.Trail, types.Attempt{
			Strategy: t.Strategy,
			Provider: providerID,
			Err:      perr.Error(),
		})
		L_warn("dispatch: provider failed",
			"task", t.ID,
			"provider", providerID,
			"kind", providers.KindOf(perr),
			"error", perr,
		)
		return nil, false, perr
	}

	if outcome != nil && outcome.Result != nil {
		t.Trail = append(t.Trail, types.Attempt{
			Strategy: t.Strategy,
			Provider: providerID,
		})
		L_info("dispatch: immediate result", "task", t.ID, "provider", providerID)
		return outcome.Result, false, nil
	}

	sub := outcome.Submission
	if sub == nil || sub.ID == "" {
		perr := providers.Errf(providerID, providers.FailTransport, "provider accepted without a submission id")
		t.Trail = append(t.Trail, types.Attempt{
			Strategy: t.Strategy,
			Provider: providerID,
			Err:      perr.Error(),
		})
		return nil, false, perr
	}

	t.SubmissionID = sub.ID
	now := time.Now()
	switch sub.Mode {
	case providers.WaitCallback:
		if err := t.AdvanceTo(tasks.StatusAwaitingCallback); err != nil {
			return nil, false, err
		}
		t.Deadline = now.Add(d.cfg.CallbackBudget)
	case providers.WaitPoll:
		if err := t.AdvanceTo(tasks.StatusPolling); err != nil {
			return nil, false, err
		}
		t.Deadline = now.Add(d.cfg.PollBudget)
	default:
		return nil, false, providers.Errf(providerID, providers.FailTransport, "unknown wait mode %q", sub.Mode)
	}

	if err := d.tracker.Register(ctx, t); err != nil {
		return nil, false, fmt.Errorf("failed to register task: %w", err)
	}

	if sub.Mode == providers.WaitPoll {
		interval := sub.Interval
		if interval <= 0 {
			interval = d.cfg.PollInterval
		}
		d.poller.Watch(sub.ID, providerID, sub.Poll, interval, t.Deadline)
	}

	return nil, true, nil
}

// notifyRetry tells the requester the previous provider failed and who
// is being tried next. Best effort only.
func (d *Dispatcher) notifyRetry(t *tasks.Task, cause error, nextID string) {
	label := nextID
	if p, ok := d.registry.Get(nextID); ok {
		label = p.Label()
	}
	kind := providers.KindOf(cause)
	d.notifier.Send(types.Outbound{
		Delivery: t.Request.Delivery,
		TaskID:   t.ID,
		Text:     fmt.Sprintf("%s Trying %s...", providers.FormatForUser(kind, cause.Error()), label),
	})
}
