package dispatch

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aviv90/tasker-server-sub010/internal/poll"
	"github.com/aviv90/tasker-server-sub010/internal/providers"
	"github.com/aviv90/tasker-server-sub010/internal/tasks"
	"github.com/aviv90/tasker-server-sub010/internal/types"
)

type fakeProvider struct {
	id    string
	kinds []types.MediaKind
	gen   func(ctx context.Context, req types.GenRequest) (*providers.Outcome, error)
}

func (p *fakeProvider) ID() string               { return p.id }
func (p *fakeProvider) Label() string            { return strings.ToUpper(p.id[:1]) + p.id[1:] }
func (p *fakeProvider) Kinds() []types.MediaKind { return p.kinds }
func (p *fakeProvider) Generate(ctx context.Context, req types.GenRequest) (*providers.Outcome, error) {
	return p.gen(ctx, req)
}

type captureNotifier struct {
	mu   sync.Mutex
	sent []types.Outbound
}

func (c *captureNotifier) Send(out types.Outbound) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, out)
}

func (c *captureNotifier) all() []types.Outbound {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]types.Outbound(nil), c.sent...)
}

func (c *captureNotifier) waitFinal(t *testing.T) types.Outbound {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		for _, out := range c.all() {
			if out.Final {
				return out
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("timed out waiting for a final notice")
	return types.Outbound{}
}

type testRig struct {
	registry *providers.Registry
	store    *tasks.MemoryStore
	tracker  *tasks.Tracker
	poller   *poll.Poller
	notifier *captureNotifier
	d        *Dispatcher
}

func newRig(t *testing.T, provs ...providers.Provider) *testRig {
	t.Helper()
	registry := providers.NewRegistry()
	for _, p := range provs {
		registry.Register(p)
	}
	store := tasks.NewMemoryStore()
	notifier := &captureNotifier{}
	tracker := tasks.NewTracker(store, nil, notifier)
	poller := poll.New(5*time.Millisecond, time.Minute, tracker)
	t.Cleanup(poller.Stop)

	d := New(registry, tracker, poller, notifier, Config{
		CallbackBudget: 30 * time.Minute,
		PollBudget:     time.Minute,
		PollInterval:   5 * time.Millisecond,
	})
	return &testRig{registry: registry, store: store, tracker: tracker, poller: poller, notifier: notifier, d: d}
}

func imageTask() *tasks.Task {
	return &tasks.Task{
		ID:     "task-1",
		Kind:   types.KindImage,
		Status: tasks.StatusSubmitted,
		Request: types.GenRequest{
			Kind:   types.KindImage,
			Prompt: "a red barn",
		},
		OriginalPrompt: "a red barn",
		Strategy:       types.StrategyProvider,
	}
}

func syncResult(id string) *providers.Outcome {
	return &providers.Outcome{Result: &types.GenResult{
		Provider: id,
		Kind:     types.KindImage,
		Data:     make([]byte, 4096),
		MIME:     "image/png",
	}}
}

func TestTryOneImmediateResult(t *testing.T) {
	rig := newRig(t, &fakeProvider{
		id:    "gemini",
		kinds: []types.MediaKind{types.KindImage},
		gen: func(ctx context.Context, req types.GenRequest) (*providers.Outcome, error) {
			return syncResult("gemini"), nil
		},
	})
	task := imageTask()

	res, async, err := rig.d.TryOne(context.Background(), task, "gemini")
	if err != nil {
		t.Fatalf("TryOne failed: %v", err)
	}
	if async {
		t.Error("sync result reported as async")
	}
	if res == nil || res.Provider != "gemini" {
		t.Errorf("result = %+v, want the provider result", res)
	}

	if !task.Attempted["gemini"] || task.LastTried != "gemini" || task.Provider != "gemini" {
		t.Errorf("attempt bookkeeping wrong: attempted=%v lastTried=%q provider=%q",
			task.Attempted, task.LastTried, task.Provider)
	}
	if len(task.Trail) != 1 || task.Trail[0].Err != "" {
		t.Errorf("trail = %+v, want one clean attempt", task.Trail)
	}

	// An immediate result never enters the registry.
	if list, _ := rig.store.List(context.Background()); len(list) != 0 {
		t.Errorf("store has %d entries, want 0", len(list))
	}
}

func TestTryOneFailureIsClassified(t *testing.T) {
	rig := newRig(t, &fakeProvider{
		id:    "gemini",
		kinds: []types.MediaKind{types.KindImage},
		gen: func(ctx context.Context, req types.GenRequest) (*providers.Outcome, error) {
			return nil, providers.Errf("gemini", providers.FailRefusal, "content policy")
		},
	})
	task := imageTask()

	_, _, err := rig.d.TryOne(context.Background(), task, "gemini")
	if err == nil {
		t.Fatal("want an error")
	}
	if kind := providers.KindOf(err); kind != providers.FailRefusal {
		t.Errorf("kind = %v, want refusal", kind)
	}
	if len(task.Trail) != 1 || task.Trail[0].Err == "" {
		t.Errorf("trail = %+v, want one failed attempt", task.Trail)
	}
}

func TestTryOneUnknownProvider(t *testing.T) {
	rig := newRig(t)
	task := imageTask()

	_, _, err := rig.d.TryOne(context.Background(), task, "ghost")
	if err == nil {
		t.Fatal("want an error")
	}
	if kind := providers.KindOf(err); kind != providers.FailUnavailable {
		t.Errorf("kind = %v, want unavailable", kind)
	}
}

func TestTryOneCallbackSubmission(t *testing.T) {
	rig := newRig(t, &fakeProvider{
		id:    "suno",
		kinds: []types.MediaKind{types.KindMusic},
		gen: func(ctx context.Context, req types.GenRequest) (*providers.Outcome, error) {
			return &providers.Outcome{Submission: &providers.Submission{
				ID:   "sub-99",
				Mode: providers.WaitCallback,
			}}, nil
		},
	})
	task := imageTask()
	task.Kind = types.KindMusic

	before := time.Now()
	res, async, err := rig.d.TryOne(context.Background(), task, "suno")
	if err != nil {
		t.Fatalf("TryOne failed: %v", err)
	}
	if !async || res != nil {
		t.Fatalf("want async acceptance, got async=%v res=%v", async, res)
	}

	stored, err := rig.store.Get(context.Background(), "sub-99")
	if err != nil {
		t.Fatalf("task not registered: %v", err)
	}
	if stored.Status != tasks.StatusAwaitingCallback {
		t.Errorf("status = %q, want awaiting-callback", stored.Status)
	}
	wantDeadline := before.Add(30 * time.Minute)
	if stored.Deadline.Before(wantDeadline.Add(-time.Minute)) || stored.Deadline.After(wantDeadline.Add(time.Minute)) {
		t.Errorf("deadline = %v, want about %v", stored.Deadline, wantDeadline)
	}
}

func TestTryOnePollSubmissionRunsToDelivery(t *testing.T) {
	rig := newRig(t, &fakeProvider{
		id:    "veo",
		kinds: []types.MediaKind{types.KindVideo},
		gen: func(ctx context.Context, req types.GenRequest) (*providers.Outcome, error) {
			return &providers.Outcome{Submission: &providers.Submission{
				ID:   "op-7",
				Mode: providers.WaitPoll,
				Poll: func(ctx context.Context) (*providers.PollStatus, error) {
					return &providers.PollStatus{
						State: providers.StateCompleted,
						Result: &types.GenResult{
							Provider: "veo",
							Kind:     types.KindVideo,
							Data:     make([]byte, 4096),
							MIME:     "video/mp4",
							Caption:  "done",
						},
					}, nil
				},
			}}, nil
		},
	})
	task := imageTask()
	task.Kind = types.KindVideo

	_, async, err := rig.d.TryOne(context.Background(), task, "veo")
	if err != nil {
		t.Fatalf("TryOne failed: %v", err)
	}
	if !async {
		t.Fatal("want async acceptance")
	}

	// The armed poll loop completes and the tracker delivers.
	final := rig.notifier.waitFinal(t)
	if final.Err != "" {
		t.Errorf("final notice reports error %q", final.Err)
	}
	if final.Caption != "done" {
		t.Errorf("caption = %q, want done", final.Caption)
	}
	if list, _ := rig.store.List(context.Background()); len(list) != 0 {
		t.Errorf("store has %d entries after delivery, want 0", len(list))
	}
}

func TestTryOneSubmissionWithoutID(t *testing.T) {
	rig := newRig(t, &fakeProvider{
		id:    "suno",
		kinds: []types.MediaKind{types.KindMusic},
		gen: func(ctx context.Context, req types.GenRequest) (*providers.Outcome, error) {
			return &providers.Outcome{Submission: &providers.Submission{Mode: providers.WaitCallback}}, nil
		},
	})
	task := imageTask()
	task.Kind = types.KindMusic

	_, _, err := rig.d.TryOne(context.Background(), task, "suno")
	if err == nil {
		t.Fatal("want an error for a submission without an id")
	}
	if kind := providers.KindOf(err); kind != providers.FailTransport {
		t.Errorf("kind = %v, want transport", kind)
	}
}

func TestWalkFallsThroughToSecondProvider(t *testing.T) {
	rig := newRig(t,
		&fakeProvider{
			id:    "gemini",
			kinds: []types.MediaKind{types.KindImage},
			gen: func(ctx context.Context, req types.GenRequest) (*providers.Outcome, error) {
				return nil, providers.Errf("gemini", providers.FailRefusal, "content policy")
			},
		},
		&fakeProvider{
			id:    "openai",
			kinds: []types.MediaKind{types.KindImage},
			gen: func(ctx context.Context, req types.GenRequest) (*providers.Outcome, error) {
				return syncResult("openai"), nil
			},
		},
	)
	task := imageTask()

	res, async, err := rig.d.Walk(context.Background(), task, []string{"gemini", "openai"})
	if err != nil {
		t.Fatalf("Walk failed: %v", err)
	}
	if async {
		t.Error("sync result reported as async")
	}
	if res.Provider != "openai" {
		t.Errorf("result provider = %q, want openai", res.Provider)
	}

	// Both attempts attributed, in order.
	if len(task.Trail) != 2 {
		t.Fatalf("trail length = %d, want 2", len(task.Trail))
	}
	if task.Trail[0].Provider != "gemini" || task.Trail[0].Err == "" {
		t.Errorf("first attempt = %+v, want the gemini failure", task.Trail[0])
	}
	if task.Trail[1].Provider != "openai" || task.Trail[1].Err != "" {
		t.Errorf("second attempt = %+v, want the openai success", task.Trail[1])
	}

	// The requester heard about the handoff.
	retryAnnounced := false
	for _, out := range rig.notifier.all() {
		if strings.Contains(out.Text, "Trying Openai") {
			retryAnnounced = true
		}
	}
	if !retryAnnounced {
		t.Error("no retry announcement before the second provider")
	}
}

func TestWalkNoCandidates(t *testing.T) {
	rig := newRig(t)
	task := imageTask()

	_, _, err := rig.d.Walk(context.Background(), task, nil)
	if err == nil {
		t.Fatal("want an error with no candidates")
	}
	if kind := providers.KindOf(err); kind != providers.FailUnavailable {
		t.Errorf("kind = %v, want unavailable", kind)
	}
}

func TestWalkReturnsLastError(t *testing.T) {
	refuse := func(id string) *fakeProvider {
		return &fakeProvider{
			id:    id,
			kinds: []types.MediaKind{types.KindImage},
			gen: func(ctx context.Context, req types.GenRequest) (*providers.Outcome, error) {
				return nil, providers.Errf(id, providers.FailTransport, "503 from %s", id)
			},
		}
	}
	rig := newRig(t, refuse("gemini"), refuse("openai"))
	task := imageTask()

	_, _, err := rig.d.Walk(context.Background(), task, []string{"gemini", "openai"})
	if err == nil {
		t.Fatal("want an error when every candidate fails")
	}
	if !strings.Contains(err.Error(), "openai") {
		t.Errorf("error = %v, want the last provider's failure", err)
	}
	if len(task.Trail) != 2 {
		t.Errorf("trail length = %d, want 2", len(task.Trail))
	}
}
