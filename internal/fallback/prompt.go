package fallback

import (
	"context"
	"regexp"
	"strings"

	"github.com/aviv90/tasker-server-sub010/internal/tokens"
	"github.com/aviv90/tasker-server-sub010/internal/types"
)

// SimplifyTokenBudget caps a simplified prompt. Long decorated prompts
// are a common refusal trigger; the retry keeps the subject and drops
// the rest.
const SimplifyTokenBudget = 60

// boosterPhrases are decoration fragments that add style pressure but
// no subject matter. Stripped wholesale by the simplify pass.
var boosterPhrases = []string{
	"trending on artstation",
	"unreal engine",
	"octane render",
	"cinematic lighting",
	"dramatic lighting",
	"volumetric lighting",
	"studio lighting",
	"depth of field",
	"sharp focus",
	"award-winning",
	"award winning",
	"best quality",
	"high quality",
	"highly detailed",
	"ultra detailed",
	"ultra-detailed",
	"extremely detailed",
	"intricate details",
	"intricate",
	"masterpiece",
	"photorealistic",
	"hyperrealistic",
	"hyper realistic",
	"ultra realistic",
	"8k",
	"4k",
	"uhd",
	"hdr",
	"dslr",
	"bokeh",
	"35mm",
	"85mm",
}

var (
	asideRe   = regexp.MustCompile(`\([^)]*\)|\[[^\]]*\]`)
	spaceRe   = regexp.MustCompile(`\s+`)
	boosterRe = compileBoosterRe()
)

func compileBoosterRe() *regexp.Regexp {
	quoted := make([]string, len(boosterPhrases))
	for i, p := range boosterPhrases {
		quoted[i] = regexp.QuoteMeta(p)
	}
	return regexp.MustCompile(`(?i)\b(?:` + strings.Join(quoted, "|") + `)\b`)
}

// RuleSimplifier shortens a prompt: asides and quality boosters go,
// then the remainder is clamped to a token budget at word boundaries.
type RuleSimplifier struct {
	est    *tokens.Estimator
	budget int
}

func NewRuleSimplifier() *RuleSimplifier {
	return &RuleSimplifier{est: tokens.Get(), budget: SimplifyTokenBudget}
}

func (s *RuleSimplifier) Transform(_ context.Context, _ types.MediaKind, prompt string) (string, error) {
	out := asideRe.ReplaceAllString(prompt, " ")
	out = boosterRe.ReplaceAllString(out, " ")
	out = tidy(out)
	out = s.est.TruncateToBudget(out, s.budget)
	return strings.TrimSpace(out), nil
}

var (
	attributionRe = regexp.MustCompile(`(?i)\b(?:in the style of|styled after|inspired by|in the voice of)\b[^,.;]*`)
	quotedRe      = regexp.MustCompile("\"[^\"]*\"|“[^”]*”")
	nameRunRe     = regexp.MustCompile(`\b[A-Z][a-z]+(?: [A-Z][a-z]+)+\b`)
)

// RuleGeneralizer rewords a prompt away from specifics that trip
// content filters: attribution clauses, quoted titles, and runs of
// capitalized words that look like proper names. Crude on place names;
// the LLM rewriter is preferred when configured.
type RuleGeneralizer struct{}

func (RuleGeneralizer) Transform(_ context.Context, _ types.MediaKind, prompt string) (string, error) {
	out := attributionRe.ReplaceAllString(prompt, " ")
	out = quotedRe.ReplaceAllString(out, " ")
	out = nameRunRe.ReplaceAllString(out, "a person")
	return tidy(out), nil
}

// tidy collapses whitespace and comma debris left by the removals.
func tidy(s string) string {
	s = spaceRe.ReplaceAllString(s, " ")
	parts := strings.Split(s, ",")
	kept := parts[:0]
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			kept = append(kept, t)
		}
	}
	out := strings.Join(kept, ", ")
	return strings.Trim(out, " ,;")
}
