package providers

import (
	"context"
	"fmt"
	"os"

	"github.com/gabriel-vasile/mimetype"
	"google.golang.org/genai"

	"github.com/aviv90/tasker-server-sub010/internal/config"
	. "github.com/aviv90/tasker-server-sub010/internal/logging"
	"github.com/aviv90/tasker-server-sub010/internal/types"
)

const veoID = "veo"

// Veo generates video through the Gemini API Veo models. Generation is a
// long-running operation: Generate returns a poll submission and the task
// layer drives the operation to completion.
type Veo struct {
	client *genai.Client
	model  string
}

// NewVeo creates the Veo video provider.
func NewVeo(ctx context.Context, cfg config.GeminiConfig) (*Veo, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("veo: API key required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		Backend: genai.BackendGeminiAPI,
		APIKey:  cfg.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("veo: client init failed: %w", err)
	}
	model := cfg.VideoModel
	if model == "" {
		model = "veo-3.1-generate-preview"
	}
	return &Veo{client: client, model: model}, nil
}

func (v *Veo) ID() string    { return veoID }
func (v *Veo) Label() string { return "Veo" }

func (v *Veo) Kinds() []types.MediaKind {
	return []types.MediaKind{types.KindVideo, types.KindImageToVideo}
}

func (v *Veo) Generate(ctx context.Context, req types.GenRequest) (*Outcome, error) {
	var image *genai.Image

	switch req.Kind {
	case types.KindVideo:
	case types.KindImageToVideo:
		img, err := v.loadSourceImage(req)
		if err != nil {
			return nil, Errf(veoID, FailUnknown, "%v", err)
		}
		image = img
	default:
		return nil, Errf(veoID, FailUnknown, "unsupported media kind %s", req.Kind)
	}

	model := v.model
	if req.Options.Model != "" {
		model = req.Options.Model
	}

	cfg := &genai.GenerateVideosConfig{}
	if req.Options.DurationSecs > 0 {
		cfg.DurationSeconds = genai.Ptr(int32(req.Options.DurationSecs))
	}

	L_debug("veo: submitting video operation", "kind", req.Kind, "model", model, "withImage", image != nil)

	op, err := v.client.Models.GenerateVideos(ctx, model, req.Prompt, image, cfg)
	if err != nil {
		return nil, Wrap(veoID, classifyGenaiErr(err))
	}
	if op == nil || op.Name == "" {
		return nil, Errf(veoID, FailTransport, "operation submission returned no name")
	}

	L_info("veo: operation submitted", "op", op.Name)

	// The closure carries the live operation handle; each poll refreshes it.
	current := op
	poll := func(ctx context.Context) (*PollStatus, error) {
		refreshed, err := v.client.Operations.GetVideosOperation(ctx, current, nil)
		if err != nil {
			return nil, Wrap(veoID, err)
		}
		current = refreshed
		return v.pollStatus(ctx, refreshed)
	}

	return &Outcome{Submission: &Submission{
		ID:   op.Name,
		Mode: WaitPoll,
		Poll: poll,
	}}, nil
}

// ResumePoll rebuilds the poll closure for an operation submitted by a
// previous process. The handle is reconstructed from the operation name
// and refreshed on the first poll.
func (v *Veo) ResumePoll(submissionID string) PollFunc {
	current := &genai.GenerateVideosOperation{Name: submissionID}
	return func(ctx context.Context) (*PollStatus, error) {
		refreshed, err := v.client.Operations.GetVideosOperation(ctx, current, nil)
		if err != nil {
			return nil, Wrap(veoID, err)
		}
		current = refreshed
		return v.pollStatus(ctx, refreshed)
	}
}

func (v *Veo) pollStatus(ctx context.Context, op *genai.GenerateVideosOperation) (*PollStatus, error) {
	if !op.Done {
		return &PollStatus{State: StatePending}, nil
	}
	if len(op.Error) > 0 {
		return &PollStatus{State: StateFailed, Err: fmt.Sprintf("%v", op.Error["message"])}, nil
	}
	if op.Response == nil || len(op.Response.GeneratedVideos) == 0 {
		return &PollStatus{State: StateFailed, Err: "operation finished without video"}, nil
	}

	vid := op.Response.GeneratedVideos[0].Video
	if vid == nil {
		return &PollStatus{State: StateFailed, Err: "operation finished without video"}, nil
	}

	result := &types.GenResult{
		Provider: veoID,
		Kind:     types.KindVideo,
		URL:      vid.URI,
		MIME:     "video/mp4",
		ResultID: op.Name,
	}

	// Files.Download resolves the authenticated file URI; some responses
	// already carry the bytes inline.
	if data, err := v.client.Files.Download(ctx, vid, nil); err == nil && len(data) > 0 {
		result.Data = data
		result.MIME = mimetype.Detect(data).String()
	} else if len(vid.VideoBytes) > 0 {
		result.Data = vid.VideoBytes
		if vid.MIMEType != "" {
			result.MIME = vid.MIMEType
		}
	}

	L_info("veo: video ready", "op", op.Name, "bytes", len(result.Data))
	return &PollStatus{State: StateCompleted, Result: result}, nil
}

func (v *Veo) loadSourceImage(req types.GenRequest) (*genai.Image, error) {
	path := req.Options.ImagePath
	if path == "" {
		return nil, fmt.Errorf("animation requires a source image")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read source image: %w", err)
	}
	return &genai.Image{
		ImageBytes: data,
		MIMEType:   mimetype.Detect(data).String(),
	}, nil
}
