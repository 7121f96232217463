package tasks

import (
	"context"
	"errors"
	"time"

	. "github.com/aviv90/tasker-server-sub010/internal/logging"
	"github.com/aviv90/tasker-server-sub010/internal/media"
	"github.com/aviv90/tasker-server-sub010/internal/notify"
	"github.com/aviv90/tasker-server-sub010/internal/providers"
	"github.com/aviv90/tasker-server-sub010/internal/types"
)

// Tracker correlates provider outcomes with waiting tasks. Terminal
// outcomes claim the task out of the store before acting, so a duplicate
// notice for the same submission finds nothing and does nothing. Notices
// for unknown submission ids are dropped silently.
type Tracker struct {
	store    Store
	media    *media.MediaStore
	notifier notify.Notifier

	onFailure  func(ctx context.Context, t *Task, cause error)
	onFollowUp func(ctx context.Context, t *Task, res *types.GenResult)
}

// NewTracker creates a tracker over the given store.
func NewTracker(store Store, mediaStore *media.MediaStore, notifier notify.Notifier) *Tracker {
	if notifier == nil {
		notifier = notify.Discard{}
	}
	return &Tracker{
		store:    store,
		media:    mediaStore,
		notifier: notifier,
	}
}

// SetFailureHandler installs the recovery hook invoked when a waiting
// task fails. Without a handler, failures notify the requester directly.
func (tr *Tracker) SetFailureHandler(fn func(ctx context.Context, t *Task, cause error)) {
	tr.onFailure = fn
}

// SetFollowUpHandler installs the hook invoked after a completed task
// that asked for chained work. The original task is already removed by
// the time the hook runs.
func (tr *Tracker) SetFollowUpHandler(fn func(ctx context.Context, t *Task, res *types.GenResult)) {
	tr.onFollowUp = fn
}

// Store exposes the underlying task store.
func (tr *Tracker) Store() Store { return tr.store }

// Register records a task waiting on a provider outcome.
func (tr *Tracker) Register(ctx context.Context, t *Task) error {
	if t.SubmissionID == "" {
		return errors.New("task has no submission id")
	}
	if t.Status != StatusAwaitingCallback && t.Status != StatusPolling {
		return errors.New("task is not in a waiting state: " + string(t.Status))
	}
	if err := tr.store.Put(ctx, t); err != nil {
		return err
	}
	L_info("tasks: registered",
		"task", t.ID,
		"submission", t.SubmissionID,
		"provider", t.Provider,
		"kind", t.Kind,
		"status", t.Status,
	)
	return nil
}

// HandleNotice processes a provider callback notice. Intermediate stages
// leave the task waiting; terminal stages claim it and run the delivery
// or recovery path.
func (tr *Tracker) HandleNotice(ctx context.Context, n *types.Notice) error {
	if n == nil || n.SubmissionID == "" {
		return nil
	}

	switch n.Stage {
	case types.StageTextReady, types.StageFirstCandidate:
		return tr.handleIntermediate(ctx, n)
	case types.StageComplete:
		t, ok := tr.claim(ctx, n.SubmissionID)
		if !ok {
			return nil
		}
		tr.deliver(ctx, t, n.Candidates)
		return nil
	case types.StageFailed:
		t, ok := tr.claim(ctx, n.SubmissionID)
		if !ok {
			return nil
		}
		kind := providers.Classify(n.Err)
		tr.fail(ctx, t, providers.Errf(t.Provider, kind, "%s", n.Err))
		return nil
	default:
		L_warn("tasks: notice with unknown stage", "submission", n.SubmissionID, "stage", n.Stage)
		return nil
	}
}

// Complete records a successful poll outcome for a waiting task.
func (tr *Tracker) Complete(ctx context.Context, submissionID string, res *types.GenResult) {
	t, ok := tr.claim(ctx, submissionID)
	if !ok {
		return
	}
	var candidates []types.GenResult
	if res != nil {
		candidates = []types.GenResult{*res}
	}
	tr.deliver(ctx, t, candidates)
}

// DeliverNow runs the delivery path for a task that finished
// synchronously and never entered the registry. The fetch, integrity
// and storage steps match the async completion path.
func (tr *Tracker) DeliverNow(ctx context.Context, t *Task, res *types.GenResult) {
	var candidates []types.GenResult
	if res != nil {
		candidates = []types.GenResult{*res}
	}
	tr.deliver(ctx, t, candidates)
}

// ReportFailure runs the terminal failure path for a task that failed
// synchronously and never entered the registry. Recovery is over by the
// time this is called, so the failure hook is not consulted.
func (tr *Tracker) ReportFailure(ctx context.Context, t *Task, cause error) {
	tr.failTerminal(ctx, t, cause)
}

// Fail records a failed outcome for a waiting task and hands it to the
// recovery hook.
func (tr *Tracker) Fail(ctx context.Context, submissionID string, cause error) {
	t, ok := tr.claim(ctx, submissionID)
	if !ok {
		return
	}
	tr.fail(ctx, t, cause)
}

// claim atomically removes a waiting task. Exactly one caller per
// submission wins; everyone else gets a silent no-op.
func (tr *Tracker) claim(ctx context.Context, submissionID string) (*Task, bool) {
	t, err := tr.store.Remove(ctx, submissionID)
	if errors.Is(err, ErrTaskNotFound) {
		L_debug("tasks: notice for unknown submission, ignoring", "submission", submissionID)
		return nil, false
	}
	if err != nil {
		L_error("tasks: failed to claim task", "submission", submissionID, "error", err)
		return nil, false
	}
	return t, true
}

func (tr *Tracker) handleIntermediate(ctx context.Context, n *types.Notice) error {
	t, err := tr.store.Get(ctx, n.SubmissionID)
	if errors.Is(err, ErrTaskNotFound) {
		L_debug("tasks: intermediate notice for unknown submission, ignoring", "submission", n.SubmissionID)
		return nil
	}
	if err != nil {
		return err
	}

	L_debug("tasks: intermediate stage", "task", t.ID, "submission", t.SubmissionID, "stage", n.Stage)

	var text string
	switch n.Stage {
	case types.StageTextReady:
		text = "Lyrics are ready, audio is rendering..."
	case types.StageFirstCandidate:
		text = "First track is ready, finishing the rest..."
	}
	tr.notifier.Send(types.Outbound{
		Delivery: t.Request.Delivery,
		TaskID:   t.ID,
		Text:     text,
	})

	// Touch the entry so staleness sweeps see the provider is alive.
	// Status stays a waiting state until a terminal notice arrives.
	t.UpdatedAt = time.Now()
	return tr.store.Put(ctx, t)
}

// deliver runs the terminal success path: pick the first usable
// candidate, materialize its payload, store it, hand it to the
// requester, then kick off the chained follow-up if one was asked for.
func (tr *Tracker) deliver(ctx context.Context, t *Task, candidates []types.GenResult) {
	res := firstUsable(candidates)
	if res == nil {
		tr.failTerminal(ctx, t,
			providers.Errf(t.Provider, providers.FailPayloadCorrupt, "completion notice carried no usable result"))
		return
	}

	if res.TextOnly {
		t.Status = StatusCompleted
		L_info("tasks: completed with text answer", "task", t.ID, "provider", res.Provider)
		tr.notifier.Send(types.Outbound{
			Delivery: t.Request.Delivery,
			TaskID:   t.ID,
			Text:     res.Caption,
			Final:    true,
		})
		return
	}

	data := res.Data
	mimeType := res.MIME
	if len(data) == 0 {
		fetched, sniffed, err := media.Fetch(ctx, res.URL, 0)
		if err != nil {
			tr.failTerminal(ctx, t,
				providers.Errf(res.Provider, providers.FailPayloadCorrupt, "failed to fetch artifact: %v", err))
			return
		}
		data = fetched
		if mimeType == "" || sniffed != "application/octet-stream" {
			mimeType = sniffed
		}
	}

	if len(data) < media.MinArtifactBytes {
		tr.failTerminal(ctx, t,
			providers.Errf(res.Provider, providers.FailPayloadCorrupt, "artifact is %d bytes, below the %d byte minimum", len(data), media.MinArtifactBytes))
		return
	}

	absPath := ""
	if tr.media != nil {
		var err error
		absPath, _, err = tr.media.Save(data, "generated", media.ExtForMIME(mimeType))
		if err != nil {
			tr.failTerminal(ctx, t,
				providers.Errf(res.Provider, providers.FailUnknown, "failed to store artifact: %v", err))
			return
		}
	}

	t.Status = StatusCompleted
	L_info("tasks: completed",
		"task", t.ID,
		"provider", res.Provider,
		"kind", t.Kind,
		"bytes", len(data),
	)

	tr.notifier.Send(types.Outbound{
		Delivery:  t.Request.Delivery,
		TaskID:    t.ID,
		MediaPath: absPath,
		MIME:      mimeType,
		Caption:   res.Caption,
		Final:     true,
	})

	if t.Request.FollowUp != nil && tr.onFollowUp != nil {
		// The original entry is already removed; the chained task lives
		// its own lifecycle.
		go tr.onFollowUp(context.WithoutCancel(ctx), t, res)
	}
}

// fail hands a claimed task to the recovery hook, or reports the failure
// when no hook is installed.
func (tr *Tracker) fail(ctx context.Context, t *Task, cause error) {
	L_warn("tasks: provider outcome failed",
		"task", t.ID,
		"submission", t.SubmissionID,
		"provider", t.Provider,
		"error", cause,
	)
	if tr.onFailure != nil {
		tr.onFailure(ctx, t, cause)
		return
	}
	tr.failTerminal(ctx, t, cause)
}

// failTerminal marks the claimed task failed and tells the requester.
func (tr *Tracker) failTerminal(ctx context.Context, t *Task, cause error) {
	t.Status = StatusFailed
	kind := providers.KindOf(cause)
	L_error("tasks: failed terminally",
		"task", t.ID,
		"provider", t.Provider,
		"kind", kind,
		"error", cause,
	)
	tr.notifier.Send(types.Outbound{
		Delivery: t.Request.Delivery,
		TaskID:   t.ID,
		Text:     providers.FormatForUser(kind, cause.Error()),
		Err:      cause.Error(),
		Final:    true,
	})
}

// firstUsable returns the first candidate carrying a payload, preserving
// the provider's reported ordering.
func firstUsable(candidates []types.GenResult) *types.GenResult {
	for i := range candidates {
		if candidates[i].TextOnly || candidates[i].HasPayload() {
			return &candidates[i]
		}
	}
	return nil
}
