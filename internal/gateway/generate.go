package gateway

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/aviv90/tasker-server-sub010/internal/bus"
	. "github.com/aviv90/tasker-server-sub010/internal/logging"
	"github.com/aviv90/tasker-server-sub010/internal/media"
	"github.com/aviv90/tasker-server-sub010/internal/notify"
	"github.com/aviv90/tasker-server-sub010/internal/providers"
	"github.com/aviv90/tasker-server-sub010/internal/tasks"
	"github.com/aviv90/tasker-server-sub010/internal/types"
)

// Ticket is the immediate answer to a generation request. Async work
// continues in the background; the task id correlates later notices.
type Ticket struct {
	TaskID string           `json:"taskId"`
	Async  bool             `json:"async"`
	Result *types.GenResult `json:"result,omitempty"`
}

// Generate runs one request through the recovery ladder. Synchronous
// results are fetched, stored and delivered before returning; async
// acceptances return immediately with Async set.
func (g *Gateway) Generate(ctx context.Context, req types.GenRequest) (*Ticket, error) {
	req.Prompt = strings.TrimSpace(req.Prompt)
	if !req.Kind.Valid() {
		return nil, fmt.Errorf("unsupported media kind %q", req.Kind)
	}
	if req.Prompt == "" {
		return nil, fmt.Errorf("prompt required")
	}
	if err := g.materializeSource(ctx, &req); err != nil {
		return nil, err
	}

	now := time.Now()
	t := &tasks.Task{
		ID:             uuid.NewString(),
		Kind:           req.Kind,
		Status:         tasks.StatusSubmitted,
		Request:        req,
		OriginalPrompt: req.Prompt,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	L_info("gateway: generation accepted",
		"task", t.ID,
		"kind", req.Kind,
		"channel", req.Delivery.Channel,
	)
	bus.PublishEvent(notify.TopicAccepted, types.Outbound{
		Delivery: req.Delivery,
		TaskID:   t.ID,
		Text:     fmt.Sprintf("Request accepted, generating %s.", req.Kind.Label()),
	})

	res, async, err := g.escalator.Run(ctx, t)
	switch {
	case err != nil:
		// Exhaustion already told the requester everything; other terminal
		// failures are reported here so channel listeners hear them too.
		if providers.KindOf(err) != providers.FailExhausted {
			g.tracker.ReportFailure(ctx, t, err)
		}
		return nil, err
	case async:
		return &Ticket{TaskID: t.ID, Async: true}, nil
	default:
		g.tracker.DeliverNow(ctx, t, res)
		return &Ticket{TaskID: t.ID, Result: res}, nil
	}
}

// materializeSource downloads a remote source image so every provider
// adapter can work from a local file.
func (g *Gateway) materializeSource(ctx context.Context, req *types.GenRequest) error {
	needsSource := req.Kind == types.KindImageEdit || req.Kind == types.KindImageToVideo
	if !needsSource {
		return nil
	}
	if req.Options.ImagePath != "" {
		return nil
	}
	if req.Options.ImageURL == "" {
		return fmt.Errorf("%s requires a source image", req.Kind.Label())
	}

	data, mime, err := media.Fetch(ctx, req.Options.ImageURL, 0)
	if err != nil {
		return fmt.Errorf("failed to fetch source image: %w", err)
	}
	abs, _, err := g.mediaStore.Save(data, "sources", media.ExtForMIME(mime))
	if err != nil {
		return fmt.Errorf("failed to store source image: %w", err)
	}
	req.Options.ImagePath = abs
	L_debug("gateway: source image materialized", "url", req.Options.ImageURL, "path", abs)
	return nil
}

// handleFollowUp dispatches the chained task after a completed one, a
// music track's cover art becoming an animation source. The chained
// request carries no follow-up of its own, so a chain is one link long.
func (g *Gateway) handleFollowUp(ctx context.Context, t *tasks.Task, res *types.GenResult) {
	fu := t.Request.FollowUp
	if fu == nil {
		return
	}
	if res == nil || res.CoverURL == "" {
		L_warn("gateway: follow-up requested but the result has no cover art", "task", t.ID)
		return
	}

	prompt := strings.TrimSpace(fu.Prompt)
	if prompt == "" {
		prompt = "Slow cinematic camera move over the artwork"
	}

	L_info("gateway: dispatching follow-up task",
		"parent", t.ID,
		"kind", fu.Kind,
	)
	ticket, err := g.Generate(ctx, types.GenRequest{
		Kind:   fu.Kind,
		Prompt: prompt,
		Options: types.GenOptions{
			ImageURL: res.CoverURL,
		},
		Delivery: t.Request.Delivery,
	})
	if err != nil {
		L_warn("gateway: follow-up task failed", "parent", t.ID, "error", err)
		return
	}
	L_debug("gateway: follow-up task underway", "parent", t.ID, "task", ticket.TaskID, "async", ticket.Async)
}
