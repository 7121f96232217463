package poll

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aviv90/tasker-server-sub010/internal/providers"
	"github.com/aviv90/tasker-server-sub010/internal/types"
)

type sinkCall struct {
	submission string
	res        *types.GenResult
	err        error
}

// chanSink delivers terminal outcomes to the test goroutine.
type chanSink struct {
	calls chan sinkCall
}

func newChanSink() *chanSink {
	return &chanSink{calls: make(chan sinkCall, 4)}
}

func (s *chanSink) Complete(ctx context.Context, submissionID string, res *types.GenResult) {
	s.calls <- sinkCall{submission: submissionID, res: res}
}

func (s *chanSink) Fail(ctx context.Context, submissionID string, cause error) {
	s.calls <- sinkCall{submission: submissionID, err: cause}
}

func (s *chanSink) wait(t *testing.T) sinkCall {
	t.Helper()
	select {
	case call := <-s.calls:
		return call
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for a sink call")
		return sinkCall{}
	}
}

// script returns a PollFunc that walks through the given answers and
// repeats the last one.
func script(answers ...func() (*providers.PollStatus, error)) providers.PollFunc {
	var i int32
	return func(ctx context.Context) (*providers.PollStatus, error) {
		n := int(atomic.AddInt32(&i, 1)) - 1
		if n >= len(answers) {
			n = len(answers) - 1
		}
		return answers[n]()
	}
}

func pending() (*providers.PollStatus, error) {
	return &providers.PollStatus{State: providers.StatePending}, nil
}

func TestWatchCompletesAfterPending(t *testing.T) {
	sink := newChanSink()
	p := New(5*time.Millisecond, time.Minute, sink)
	defer p.Stop()

	fn := script(pending, pending, pending, func() (*providers.PollStatus, error) {
		return &providers.PollStatus{
			State:  providers.StateCompleted,
			Result: &types.GenResult{Provider: "veo", URL: "https://cdn.example.com/clip.mp4"},
		}, nil
	})

	p.Watch("sub-1", "veo", fn, 0, time.Time{})

	call := sink.wait(t)
	if call.err != nil {
		t.Fatalf("unexpected failure: %v", call.err)
	}
	if call.submission != "sub-1" {
		t.Errorf("submission = %q, want sub-1", call.submission)
	}
	if call.res == nil || call.res.URL != "https://cdn.example.com/clip.mp4" {
		t.Errorf("result = %+v, want the provider result", call.res)
	}
}

func TestWatchImplicitCompletion(t *testing.T) {
	sink := newChanSink()
	p := New(5*time.Millisecond, time.Minute, sink)
	defer p.Stop()

	// No recognized status, but a result reference: counts as done.
	fn := script(func() (*providers.PollStatus, error) {
		return &providers.PollStatus{
			State:  providers.StateUnknown,
			Result: &types.GenResult{Provider: "veo", URL: "https://cdn.example.com/clip.mp4"},
		}, nil
	})

	p.Watch("sub-1", "veo", fn, 0, time.Time{})

	call := sink.wait(t)
	if call.err != nil || call.res == nil {
		t.Fatalf("want implicit completion, got err=%v res=%v", call.err, call.res)
	}
}

func TestWatchUnknownWithoutResultKeepsPolling(t *testing.T) {
	sink := newChanSink()
	p := New(5*time.Millisecond, time.Minute, sink)
	defer p.Stop()

	fn := script(
		func() (*providers.PollStatus, error) {
			return &providers.PollStatus{State: providers.StateUnknown}, nil
		},
		func() (*providers.PollStatus, error) {
			return &providers.PollStatus{
				State:  providers.StateCompleted,
				Result: &types.GenResult{Provider: "veo", URL: "https://x/clip.mp4"},
			}, nil
		},
	)

	p.Watch("sub-1", "veo", fn, 0, time.Time{})

	call := sink.wait(t)
	if call.res == nil {
		t.Fatalf("want completion after the unknown answer, got %+v", call)
	}
}

func TestWatchBudgetExhausted(t *testing.T) {
	sink := newChanSink()
	p := New(5*time.Millisecond, time.Minute, sink)
	defer p.Stop()

	p.Watch("sub-1", "veo", script(pending), 0, time.Now().Add(40*time.Millisecond))

	call := sink.wait(t)
	if call.err == nil {
		t.Fatal("want a budget failure, got completion")
	}
	if kind := providers.KindOf(call.err); kind != providers.FailPollTimeout {
		t.Errorf("failure kind = %v, want %v", kind, providers.FailPollTimeout)
	}
}

func TestWatchProviderReportedFailure(t *testing.T) {
	sink := newChanSink()
	p := New(5*time.Millisecond, time.Minute, sink)
	defer p.Stop()

	fn := script(func() (*providers.PollStatus, error) {
		return &providers.PollStatus{State: providers.StateFailed, Err: "blocked by safety filter"}, nil
	})

	p.Watch("sub-1", "veo", fn, 0, time.Time{})

	call := sink.wait(t)
	if call.err == nil {
		t.Fatal("want a failure")
	}
	if kind := providers.KindOf(call.err); kind != providers.FailRefusal {
		t.Errorf("failure kind = %v, want refusal from the provider message", kind)
	}
}

func TestWatchSurvivesPollErrors(t *testing.T) {
	sink := newChanSink()
	p := New(5*time.Millisecond, time.Minute, sink)
	defer p.Stop()

	// A transient poll error does not end the loop; the budget does.
	fn := script(
		func() (*providers.PollStatus, error) { return nil, errors.New("connection reset") },
		func() (*providers.PollStatus, error) {
			return &providers.PollStatus{
				State:  providers.StateCompleted,
				Result: &types.GenResult{Provider: "veo", URL: "https://x/clip.mp4"},
			}, nil
		},
	)

	p.Watch("sub-1", "veo", fn, 0, time.Time{})

	call := sink.wait(t)
	if call.err != nil {
		t.Fatalf("want completion after the transient error, got %v", call.err)
	}
}

func TestStopLeavesSubmissionPending(t *testing.T) {
	sink := newChanSink()
	p := New(5*time.Millisecond, time.Minute, sink)

	p.Watch("sub-1", "veo", script(pending), 0, time.Time{})
	time.Sleep(20 * time.Millisecond)
	p.Stop()

	select {
	case call := <-sink.calls:
		t.Errorf("sink called during shutdown: %+v", call)
	default:
	}

	// Watching after Stop is a no-op, not a panic.
	p.Watch("sub-2", "veo", script(pending), 0, time.Time{})
}
