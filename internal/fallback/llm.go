package fallback

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/aviv90/tasker-server-sub010/internal/config"
	. "github.com/aviv90/tasker-server-sub010/internal/logging"
	"github.com/aviv90/tasker-server-sub010/internal/types"
)

const (
	rewriteMaxTokens = 300
	rewriteTimeout   = 30 * time.Second

	rewriteSystem = "You rewrite prompts for media generation services. " +
		"Rewrite the user's prompt so it avoids real people, brands, trademarks, " +
		"song titles and copyrighted characters while keeping the creative intent. " +
		"Answer with the rewritten prompt only, no commentary."
)

// PromptRewriter generalizes prompts with a small Anthropic model. Any
// problem with the call falls back to the rule pass, so a broken or
// rate-limited LLM never blocks the recovery ladder.
type PromptRewriter struct {
	client   *anthropic.Client
	model    string
	fallback Transformer
}

// NewPromptRewriter builds the rewriter from config. Errors when no API
// key is configured; callers then wire the rule pass instead.
func NewPromptRewriter(cfg config.AnthropicConfig) (*PromptRewriter, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("anthropic API key not configured")
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
	}
	client := anthropic.NewClient(opts...)

	model := cfg.Model
	if model == "" {
		model = "claude-3-5-haiku-latest"
	}

	return &PromptRewriter{
		client:   &client,
		model:    model,
		fallback: RuleGeneralizer{},
	}, nil
}

func (r *PromptRewriter) Transform(ctx context.Context, kind types.MediaKind, prompt string) (string, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(r.model),
		MaxTokens: int64(rewriteMaxTokens),
		System:    []anthropic.TextBlockParam{{Text: rewriteSystem}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(
				fmt.Sprintf("Media kind: %s\nPrompt: %s", kind.Label(), prompt),
			)),
		},
	}

	callCtx, cancel := context.WithTimeout(ctx, rewriteTimeout)
	defer cancel()

	msg, err := r.client.Messages.New(callCtx, params)
	if err != nil {
		L_warn("fallback: prompt rewrite call failed, using rule pass", "model", r.model, "error", err)
		return r.fallback.Transform(ctx, kind, prompt)
	}

	var sb strings.Builder
	for _, block := range msg.Content {
		if variant, ok := block.AsAny().(anthropic.TextBlock); ok {
			sb.WriteString(variant.Text)
		}
	}
	out := strings.TrimSpace(sb.String())
	if out == "" {
		L_warn("fallback: prompt rewrite returned no text, using rule pass", "model", r.model)
		return r.fallback.Transform(ctx, kind, prompt)
	}

	L_debug("fallback: prompt rewritten", "model", r.model, "in", len(prompt), "out", len(out))
	return out, nil
}
