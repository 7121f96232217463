package providers

import (
	"context"
	"fmt"

	"github.com/roelfdiedericks/xai-go"

	"github.com/aviv90/tasker-server-sub010/internal/config"
	. "github.com/aviv90/tasker-server-sub010/internal/logging"
	"github.com/aviv90/tasker-server-sub010/internal/types"
)

const grokID = "grok"

// Grok generates images through xAI's image API. Image editing is not
// offered: the API only accepts source images as public URLs, which the
// task layer cannot guarantee for uploaded files.
type Grok struct {
	client *xai.Client
	model  string
}

// NewGrok creates the xAI Grok image provider.
func NewGrok(cfg config.GrokConfig) (*Grok, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("grok: API key required")
	}
	client, err := xai.New(xai.Config{
		APIKey: xai.NewSecureString(cfg.APIKey),
	})
	if err != nil {
		return nil, fmt.Errorf("grok: failed to create client: %w", err)
	}
	model := cfg.ImageModel
	if model == "" {
		model = "grok-2-image"
	}
	return &Grok{client: client, model: model}, nil
}

func (g *Grok) ID() string    { return grokID }
func (g *Grok) Label() string { return "Grok" }

func (g *Grok) Kinds() []types.MediaKind {
	return []types.MediaKind{types.KindImage}
}

func (g *Grok) Generate(ctx context.Context, req types.GenRequest) (*Outcome, error) {
	if req.Kind != types.KindImage {
		return nil, Errf(grokID, FailUnknown, "unsupported media kind %s", req.Kind)
	}

	model := g.model
	if req.Options.Model != "" {
		model = req.Options.Model
	}

	L_debug("grok: generating image", "model", model, "promptLen", len(req.Prompt))

	xreq := xai.NewImageRequest(req.Prompt).
		WithModel(model).
		WithCount(1)

	resp, err := g.client.GenerateImage(ctx, xreq)
	if err != nil {
		return nil, Wrap(grokID, err)
	}
	if len(resp.Images) == 0 || resp.Images[0].URL == "" {
		return nil, Errf(grokID, FailRefusal, "no image in response")
	}

	L_info("grok: image ready", "model", model)

	return &Outcome{Result: &types.GenResult{
		Provider: grokID,
		Kind:     types.KindImage,
		URL:      resp.Images[0].URL,
		MIME:     "image/jpeg",
	}}, nil
}
