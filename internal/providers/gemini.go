package providers

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"google.golang.org/genai"

	"github.com/aviv90/tasker-server-sub010/internal/config"
	. "github.com/aviv90/tasker-server-sub010/internal/logging"
	"github.com/aviv90/tasker-server-sub010/internal/types"
)

const geminiID = "gemini"

// Gemini generates and edits images through the Gemini API using the
// image-capable flash models. Responses are synchronous; a text-only
// answer is treated as a refusal unless the request accepts text.
type Gemini struct {
	client *genai.Client
	model  string
}

// NewGemini creates the Gemini image provider.
func NewGemini(ctx context.Context, cfg config.GeminiConfig) (*Gemini, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini: API key required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		Backend: genai.BackendGeminiAPI,
		APIKey:  cfg.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: client init failed: %w", err)
	}
	model := cfg.ImageModel
	if model == "" {
		model = "gemini-2.5-flash-image"
	}
	return &Gemini{client: client, model: model}, nil
}

func (g *Gemini) ID() string    { return geminiID }
func (g *Gemini) Label() string { return "Gemini" }

func (g *Gemini) Kinds() []types.MediaKind {
	return []types.MediaKind{types.KindImage, types.KindImageEdit}
}

func (g *Gemini) Generate(ctx context.Context, req types.GenRequest) (*Outcome, error) {
	var parts []*genai.Part

	switch req.Kind {
	case types.KindImage:
		parts = []*genai.Part{{Text: req.Prompt}}
	case types.KindImageEdit:
		blob, err := loadImageBlob(req.Options.ImagePath)
		if err != nil {
			return nil, Errf(geminiID, FailUnknown, "%v", err)
		}
		parts = []*genai.Part{
			{InlineData: blob},
			{Text: req.Prompt},
		}
	default:
		return nil, Errf(geminiID, FailUnknown, "unsupported media kind %s", req.Kind)
	}

	model := g.model
	if req.Options.Model != "" {
		model = req.Options.Model
	}

	L_debug("gemini: generating", "kind", req.Kind, "model", model, "promptLen", len(req.Prompt))

	resp, err := g.client.Models.GenerateContent(ctx, model,
		[]*genai.Content{{Parts: parts}},
		&genai.GenerateContentConfig{
			ResponseModalities: []string{"TEXT", "IMAGE"},
		})
	if err != nil {
		return nil, Wrap(geminiID, classifyGenaiErr(err))
	}

	return g.parseResponse(resp, req)
}

func (g *Gemini) parseResponse(resp *genai.GenerateContentResponse, req types.GenRequest) (*Outcome, error) {
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, Errf(geminiID, FailRefusal, "empty response")
	}

	var text strings.Builder
	result := &types.GenResult{Provider: geminiID, Kind: req.Kind}

	for _, part := range resp.Candidates[0].Content.Parts {
		if part == nil {
			continue
		}
		if part.InlineData != nil && len(part.InlineData.Data) > 0 && result.Data == nil {
			result.Data = part.InlineData.Data
			result.MIME = part.InlineData.MIMEType
			if result.MIME == "" {
				result.MIME = mimetype.Detect(result.Data).String()
			}
		}
		if part.Text != "" {
			text.WriteString(part.Text)
		}
	}

	if result.Data == nil {
		if req.Options.AcceptText && text.Len() > 0 {
			L_info("gemini: answered with text only", "kind", req.Kind)
			result.TextOnly = true
			result.Caption = text.String()
			return &Outcome{Result: result}, nil
		}
		msg := text.String()
		if msg == "" {
			msg = "no image in response"
		}
		return nil, Errf(geminiID, FailRefusal, "%s", msg)
	}

	result.Caption = text.String()
	L_info("gemini: image ready", "kind", req.Kind, "bytes", len(result.Data))
	return &Outcome{Result: result}, nil
}

// classifyGenaiErr surfaces quota exhaustion as a transport failure so the
// dispatcher moves on to the next provider instead of giving up.
func classifyGenaiErr(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.Code == 429 || apiErr.Status == "RESOURCE_EXHAUSTED" {
			return &ProviderError{Provider: geminiID, Kind: FailTransport, Err: err}
		}
	}
	return err
}

func loadImageBlob(path string) (*genai.Blob, error) {
	if path == "" {
		return nil, fmt.Errorf("image edit requires a source image")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read source image: %w", err)
	}
	return &genai.Blob{
		Data:     data,
		MIMEType: mimetype.Detect(data).String(),
	}, nil
}
