package fallback

import (
	"context"
	"strings"
	"testing"

	"github.com/aviv90/tasker-server-sub010/internal/tokens"
	"github.com/aviv90/tasker-server-sub010/internal/types"
)

func TestRuleSimplifierStripsBoosters(t *testing.T) {
	s := NewRuleSimplifier()

	got, err := s.Transform(context.Background(), types.KindImage,
		"a stone castle on a hill, trending on artstation, 8k, masterpiece, cinematic lighting")
	if err != nil {
		t.Fatalf("Transform failed: %v", err)
	}
	if got != "a stone castle on a hill" {
		t.Errorf("got %q, want the boosters stripped", got)
	}
}

func TestRuleSimplifierDropsAsides(t *testing.T) {
	s := NewRuleSimplifier()

	got, err := s.Transform(context.Background(), types.KindImage,
		"a knight (full plate armor, gleaming) riding through [epic composition] a forest")
	if err != nil {
		t.Fatalf("Transform failed: %v", err)
	}
	if strings.Contains(got, "(") || strings.Contains(got, "[") {
		t.Errorf("got %q, want parenthetical asides removed", got)
	}
	if !strings.Contains(got, "a knight") || !strings.Contains(got, "a forest") {
		t.Errorf("got %q, want the subject kept", got)
	}
}

func TestRuleSimplifierClampsToBudget(t *testing.T) {
	s := NewRuleSimplifier()

	// A long rambling prompt gets cut at a word boundary inside the budget.
	var sb strings.Builder
	for i := 0; i < 300; i++ {
		sb.WriteString("wandering ")
	}
	got, err := s.Transform(context.Background(), types.KindImage, sb.String())
	if err != nil {
		t.Fatalf("Transform failed: %v", err)
	}
	if n := tokens.Get().Count(got); n > SimplifyTokenBudget {
		t.Errorf("simplified prompt is %d tokens, budget is %d", n, SimplifyTokenBudget)
	}
	for _, word := range strings.Fields(got) {
		if word != "wandering" {
			t.Errorf("found fragment %q, want cuts only at word boundaries", word)
		}
	}
}

func TestRuleSimplifierLeavesPlainPromptsAlone(t *testing.T) {
	s := NewRuleSimplifier()

	prompt := "a sunset over the ocean"
	got, err := s.Transform(context.Background(), types.KindImage, prompt)
	if err != nil {
		t.Fatalf("Transform failed: %v", err)
	}
	if got != prompt {
		t.Errorf("got %q, want %q unchanged", got, prompt)
	}
}

func TestRuleGeneralizer(t *testing.T) {
	g := RuleGeneralizer{}

	tests := []struct {
		name   string
		prompt string
		want   string
	}{
		{
			"attribution clause removed",
			"a mountain village in the style of Studio Ghibli",
			"a mountain village",
		},
		{
			"proper name replaced",
			"a portrait of John Smith smiling",
			"a portrait of a person smiling",
		},
		{
			"plain prompt unchanged",
			"a sunset over the ocean",
			"a sunset over the ocean",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := g.Transform(context.Background(), types.KindImage, tt.prompt)
			if err != nil {
				t.Fatalf("Transform failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("Transform(%q) = %q, want %q", tt.prompt, got, tt.want)
			}
		})
	}
}

func TestRuleGeneralizerDropsQuotedTitles(t *testing.T) {
	g := RuleGeneralizer{}

	got, err := g.Transform(context.Background(), types.KindMusic,
		`an orchestral cover of "Bohemian Rhapsody" with heavy drums`)
	if err != nil {
		t.Fatalf("Transform failed: %v", err)
	}
	if strings.Contains(got, "Bohemian") {
		t.Errorf("got %q, want the quoted title removed", got)
	}
}
