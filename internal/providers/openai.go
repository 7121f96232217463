package providers

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/gabriel-vasile/mimetype"
	openai "github.com/sashabaranov/go-openai"

	"github.com/aviv90/tasker-server-sub010/internal/config"
	. "github.com/aviv90/tasker-server-sub010/internal/logging"
	"github.com/aviv90/tasker-server-sub010/internal/types"
)

const openaiID = "openai"

// OpenAI generates and edits images through the OpenAI Images API.
// Both operations complete synchronously.
type OpenAI struct {
	client *openai.Client
	model  string
}

// NewOpenAI creates the OpenAI image provider.
func NewOpenAI(cfg config.OpenAIConfig) (*OpenAI, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai: API key required")
	}
	model := cfg.ImageModel
	if model == "" {
		model = "gpt-image-1"
	}
	return &OpenAI{
		client: openai.NewClient(cfg.APIKey),
		model:  model,
	}, nil
}

func (o *OpenAI) ID() string    { return openaiID }
func (o *OpenAI) Label() string { return "OpenAI" }

func (o *OpenAI) Kinds() []types.MediaKind {
	return []types.MediaKind{types.KindImage, types.KindImageEdit}
}

func (o *OpenAI) Generate(ctx context.Context, req types.GenRequest) (*Outcome, error) {
	switch req.Kind {
	case types.KindImage:
		return o.generate(ctx, req)
	case types.KindImageEdit:
		return o.edit(ctx, req)
	default:
		return nil, Errf(openaiID, FailUnknown, "unsupported media kind %s", req.Kind)
	}
}

func (o *OpenAI) generate(ctx context.Context, req types.GenRequest) (*Outcome, error) {
	model := o.model
	if req.Options.Model != "" {
		model = req.Options.Model
	}

	L_debug("openai: generating image", "model", model, "promptLen", len(req.Prompt))

	resp, err := o.client.CreateImage(ctx, openai.ImageRequest{
		Prompt: req.Prompt,
		Model:  model,
		N:      1,
		Size:   openai.CreateImageSize1024x1024,
	})
	if err != nil {
		return nil, Wrap(openaiID, err)
	}

	return o.parseImages(resp, req.Kind)
}

func (o *OpenAI) edit(ctx context.Context, req types.GenRequest) (*Outcome, error) {
	path := req.Options.ImagePath
	if path == "" {
		return nil, Errf(openaiID, FailUnknown, "image edit requires a source image")
	}

	mtype, err := mimetype.DetectFile(path)
	if err != nil {
		return nil, Errf(openaiID, FailUnknown, "failed to inspect source image: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, Errf(openaiID, FailUnknown, "failed to open source image: %v", err)
	}
	defer f.Close()

	model := o.model
	if req.Options.Model != "" {
		model = req.Options.Model
	}

	L_debug("openai: editing image", "model", model, "source", filepath.Base(path))

	resp, err := o.client.CreateEditImage(ctx, openai.ImageEditRequest{
		Image:  []io.Reader{openai.WrapReader(f, filepath.Base(path), mtype.String())},
		Prompt: req.Prompt,
		Model:  model,
		N:      1,
		Size:   openai.CreateImageSize1024x1024,
	})
	if err != nil {
		return nil, Wrap(openaiID, err)
	}

	return o.parseImages(resp, req.Kind)
}

// parseImages normalizes an Images API response. gpt-image-1 answers with
// base64 payloads, dall-e models with URLs; both shapes are accepted.
func (o *OpenAI) parseImages(resp openai.ImageResponse, kind types.MediaKind) (*Outcome, error) {
	if len(resp.Data) == 0 {
		return nil, Errf(openaiID, FailRefusal, "no image in response")
	}

	d := resp.Data[0]
	result := &types.GenResult{
		Provider: openaiID,
		Kind:     kind,
		Caption:  d.RevisedPrompt,
	}

	switch {
	case d.B64JSON != "":
		data, err := base64.StdEncoding.DecodeString(d.B64JSON)
		if err != nil {
			return nil, Errf(openaiID, FailPayloadCorrupt, "invalid base64 image: %v", err)
		}
		result.Data = data
		result.MIME = mimetype.Detect(data).String()
	case d.URL != "":
		result.URL = d.URL
	default:
		return nil, Errf(openaiID, FailRefusal, "response carried neither image data nor url")
	}

	L_info("openai: image ready", "kind", kind, "inline", len(result.Data) > 0)
	return &Outcome{Result: result}, nil
}
