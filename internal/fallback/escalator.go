// Package fallback recovers failed generation work through an ordered
// strategy ladder: walk the remaining capable providers, then retry the
// leading provider with a simplified prompt, then with a generalized
// one. Each strategy runs at most once per task and the first success
// ends the climb. When the ladder is spent the requester gets the full
// trail of what was tried plus per-media advice.
package fallback

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aviv90/tasker-server-sub010/internal/dispatch"
	. "github.com/aviv90/tasker-server-sub010/internal/logging"
	"github.com/aviv90/tasker-server-sub010/internal/notify"
	"github.com/aviv90/tasker-server-sub010/internal/providers"
	"github.com/aviv90/tasker-server-sub010/internal/tasks"
	"github.com/aviv90/tasker-server-sub010/internal/types"
)

// Transformer rewrites a prompt for one recovery strategy. Returning
// the input unchanged marks the strategy as not applicable.
type Transformer interface {
	Transform(ctx context.Context, kind types.MediaKind, prompt string) (string, error)
}

// Escalator owns the strategy ladder for one deployment.
type Escalator struct {
	registry   *providers.Registry
	dispatcher *dispatch.Dispatcher
	tracker    *tasks.Tracker
	notifier   notify.Notifier
	simplify   Transformer
	generalize Transformer
}

// New creates an escalator. Nil transformers fall back to the built-in
// rule passes.
func New(registry *providers.Registry, dispatcher *dispatch.Dispatcher, tracker *tasks.Tracker, notifier notify.Notifier, simplify, generalize Transformer) *Escalator {
	if notifier == nil {
		notifier = notify.Discard{}
	}
	if simplify == nil {
		simplify = NewRuleSimplifier()
	}
	if generalize == nil {
		generalize = RuleGeneralizer{}
	}
	return &Escalator{
		registry:   registry,
		dispatcher: dispatcher,
		tracker:    tracker,
		notifier:   notifier,
		simplify:   simplify,
		generalize: generalize,
	}
}

// Run takes a fresh task through the ladder. A synchronous success is
// returned to the caller for delivery; an async acceptance leaves the
// task registered and returns async=true. Escalating failures and
// exhaustion are reported to the requester before returning.
func (e *Escalator) Run(ctx context.Context, t *tasks.Task) (*types.GenResult, bool, error) {
	if t.OriginalPrompt == "" {
		t.OriginalPrompt = t.Request.Prompt
	}
	if t.Status == "" {
		t.Status = tasks.StatusSubmitted
	}
	t.Strategy = types.StrategyProvider

	res, async, err := e.walkRemaining(ctx, t)
	if err == nil {
		return res, async, nil
	}
	if !providers.IsEscalation(providers.KindOf(err)) {
		return nil, false, err
	}
	return e.continueFrom(ctx, t, types.StrategySimplify, err)
}

// Resume continues recovery for a task whose async work failed. The
// entry is already claimed out of the registry; if a later strategy
// goes async again the task re-enters under a fresh submission id.
func (e *Escalator) Resume(ctx context.Context, t *tasks.Task, cause error) {
	kind := providers.KindOf(cause)
	t.Trail = append(t.Trail, types.Attempt{
		Strategy: t.Strategy,
		Provider: t.Provider,
		Err:      cause.Error(),
	})

	if !providers.IsEscalation(kind) {
		e.reportFailure(ctx, t, cause)
		return
	}

	L_info("fallback: resuming after async failure",
		"task", t.ID,
		"strategy", t.Strategy,
		"provider", t.Provider,
		"kind", kind,
	)
	e.notifier.Send(types.Outbound{
		Delivery: t.Request.Delivery,
		TaskID:   t.ID,
		Text:     fmt.Sprintf("%s Trying another approach...", providers.FormatForUser(kind, cause.Error())),
	})

	// Fresh registry entry: carries the trail and attempt history, gets
	// its own submission id if a later strategy goes async.
	next := t.Clone()
	next.Status = tasks.StatusSubmitted
	next.SubmissionID = ""
	next.UpdatedAt = time.Now()

	var (
		res   *types.GenResult
		async bool
		err   error
	)
	switch next.Strategy {
	case types.StrategyProvider, "":
		res, async, err = e.walkRemaining(ctx, next)
		if err != nil && providers.IsEscalation(providers.KindOf(err)) {
			res, async, err = e.continueFrom(ctx, next, types.StrategySimplify, err)
		}
	case types.StrategySimplify:
		res, async, err = e.continueFrom(ctx, next, types.StrategyGeneralize, cause)
	default:
		err = e.exhaust(ctx, next, cause)
	}

	switch {
	case err != nil:
		// Exhaustion already told the requester everything.
		if providers.KindOf(err) != providers.FailExhausted {
			e.reportFailure(ctx, next, err)
		}
	case async:
		// Re-registered under a new submission id.
	case res != nil:
		e.tracker.DeliverNow(ctx, next, res)
	}
}

// walkRemaining dispatches across the providers the task has not tried
// yet, in table order, honoring an explicit provider preference on the
// first round.
func (e *Escalator) walkRemaining(ctx context.Context, t *tasks.Task) (*types.GenResult, bool, error) {
	order := e.registry.ResolveOrder(t.Kind, "")
	if pref := t.Request.Options.Provider; pref != "" {
		order = providers.Prefer(order, pref)
	}
	cands := providers.NextCandidates(t.Attempted, order, t.LastTried)
	if len(cands) == 0 {
		return nil, false, providers.Errf("", providers.FailUnavailable, "no remaining providers for %s", t.Kind.Label())
	}
	return e.dispatcher.Walk(ctx, t, cands)
}

// continueFrom runs the prompt-transform strategies at or after start.
// No-op rewrites are recorded as skipped and cost nothing.
func (e *Escalator) continueFrom(ctx context.Context, t *tasks.Task, start types.Strategy, lastErr error) (*types.GenResult, bool, error) {
	steps := []struct {
		strategy types.Strategy
		tf       Transformer
		notice   string
	}{
		{types.StrategySimplify, e.simplify, "That didn't work. Simplifying the prompt and retrying..."},
		{types.StrategyGeneralize, e.generalize, "Still no luck. Rephrasing the prompt and retrying..."},
	}

	for _, s := range steps {
		if rank(s.strategy) < rank(start) {
			continue
		}
		res, async, attempted, err := e.tryTransform(ctx, t, s.strategy, s.tf, s.notice)
		if !attempted {
			continue
		}
		if err == nil {
			return res, async, nil
		}
		lastErr = err
		if !providers.IsEscalation(providers.KindOf(err)) {
			return nil, false, err
		}
	}

	return nil, false, e.exhaust(ctx, t, lastErr)
}

// tryTransform rewrites the original prompt for one strategy and
// redispatches to the leading provider for the kind. attempted=false
// means the strategy was skipped without spending an attempt.
func (e *Escalator) tryTransform(ctx context.Context, t *tasks.Task, strategy types.Strategy, tf Transformer, notice string) (*types.GenResult, bool, bool, error) {
	base := t.OriginalPrompt
	if base == "" {
		base = t.Request.Prompt
	}

	rewritten, err := tf.Transform(ctx, t.Kind, base)
	if err != nil {
		L_warn("fallback: transform failed, skipping strategy", "task", t.ID, "strategy", strategy, "error", err)
		t.Trail = append(t.Trail, types.Attempt{Strategy: strategy, Skipped: true, Err: err.Error()})
		return nil, false, false, nil
	}
	rewritten = strings.TrimSpace(rewritten)
	if rewritten == "" || rewritten == strings.TrimSpace(base) {
		L_debug("fallback: rewrite left the prompt unchanged, skipping", "task", t.ID, "strategy", strategy)
		t.Trail = append(t.Trail, types.Attempt{Strategy: strategy, Skipped: true})
		return nil, false, false, nil
	}

	p, ok := e.registry.Canonical(t.Kind)
	if !ok {
		t.Trail = append(t.Trail, types.Attempt{Strategy: strategy, Skipped: true, Err: "no capable providers"})
		return nil, false, false, nil
	}

	L_info("fallback: retrying with rewritten prompt",
		"task", t.ID,
		"strategy", strategy,
		"provider", p.ID(),
	)
	e.notifier.Send(types.Outbound{
		Delivery: t.Request.Delivery,
		TaskID:   t.ID,
		Text:     notice,
	})

	t.Strategy = strategy
	t.Request.Prompt = rewritten
	res, async, err := e.dispatcher.TryOne(ctx, t, p.ID())
	return res, async, true, err
}

// exhaust ends the ladder: mark the task failed, send the requester the
// full trail with advice, and mint the terminal error.
func (e *Escalator) exhaust(ctx context.Context, t *tasks.Task, lastErr error) error {
	t.Status = tasks.StatusFailed
	ex := newExhaustedError(t.Kind, t.Trail, lastErr)
	L_error("fallback: all strategies exhausted",
		"task", t.ID,
		"kind", t.Kind,
		"attempts", len(t.Trail),
	)
	e.notifier.Send(types.Outbound{
		Delivery: t.Request.Delivery,
		TaskID:   t.ID,
		Text:     ex.Report(),
		Err:      ex.Error(),
		Final:    true,
	})
	return ex
}

// reportFailure is the terminal path for failures the ladder does not
// absorb.
func (e *Escalator) reportFailure(ctx context.Context, t *tasks.Task, cause error) {
	t.Status = tasks.StatusFailed
	kind := providers.KindOf(cause)
	L_error("fallback: terminal failure",
		"task", t.ID,
		"provider", t.Provider,
		"kind", kind,
		"error", cause,
	)
	e.notifier.Send(types.Outbound{
		Delivery: t.Request.Delivery,
		TaskID:   t.ID,
		Text:     providers.FormatForUser(kind, cause.Error()),
		Err:      cause.Error(),
		Final:    true,
	})
}

// rank orders strategies on the ladder.
func rank(s types.Strategy) int {
	switch s {
	case types.StrategyProvider:
		return 0
	case types.StrategySimplify:
		return 1
	case types.StrategyGeneralize:
		return 2
	}
	return 3
}
