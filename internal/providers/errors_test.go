package providers

import (
	"errors"
	"fmt"
	"testing"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		msg  string
		want FailureKind
	}{
		{"empty message", "", FailUnknown},
		{"unrecognized message", "something odd happened", FailUnknown},

		// Refusals
		{"content policy", "Your request was rejected by the content policy", FailRefusal},
		{"safety system", "blocked by the safety system", FailRefusal},
		{"moderation", "flagged by moderation", FailRefusal},
		{"refusal rides on a 400", "400: content_policy_violation", FailRefusal},

		// Unavailable
		{"http 401", "unexpected status 401", FailUnavailable},
		{"http 403", "403 Forbidden", FailUnavailable},
		{"invalid key", "Invalid API key provided", FailUnavailable},
		{"billing", "billing hard limit reached", FailUnavailable},
		{"quota", "insufficient_quota: check your plan", FailUnavailable},

		// Transport
		{"http 500", "server error 500", FailTransport},
		{"http 429", "429 too many requests", FailTransport},
		{"timeout", "context deadline exceeded (timeout)", FailTransport},
		{"connection refused", "dial tcp: connection refused", FailTransport},
		{"overloaded", "the model is overloaded", FailTransport},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.msg)
			if got != tt.want {
				t.Errorf("Classify(%q) = %v, want %v", tt.msg, got, tt.want)
			}
		})
	}
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want FailureKind
	}{
		{"nil error", nil, FailUnknown},
		{"plain error classified by message", errors.New("connection reset by peer"), FailTransport},
		{"provider error carries its kind", Errf("suno", FailPollTimeout, "gave up"), FailPollTimeout},
		{"wrapped provider error", fmt.Errorf("outer: %w", Errf("veo", FailRefusal, "no")), FailRefusal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := KindOf(tt.err)
			if got != tt.want {
				t.Errorf("KindOf(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestWrapKeepsClassifiedErrors(t *testing.T) {
	orig := Errf("gemini", FailPayloadCorrupt, "3 bytes")

	wrapped := Wrap("openai", fmt.Errorf("retry: %w", orig))
	if wrapped.Kind != FailPayloadCorrupt {
		t.Errorf("kind = %v, want %v", wrapped.Kind, FailPayloadCorrupt)
	}
	if wrapped.Provider != "gemini" {
		t.Errorf("provider = %q, want the original %q", wrapped.Provider, "gemini")
	}
}

func TestWrapClassifiesRawErrors(t *testing.T) {
	wrapped := Wrap("grok", errors.New("503 service unavailable"))
	if wrapped.Provider != "grok" {
		t.Errorf("provider = %q, want %q", wrapped.Provider, "grok")
	}
	if wrapped.Kind != FailTransport {
		t.Errorf("kind = %v, want %v", wrapped.Kind, FailTransport)
	}
	if Wrap("grok", nil) != nil {
		t.Error("Wrap(nil) should return nil")
	}
}

func TestIsEscalation(t *testing.T) {
	escalating := []FailureKind{FailUnknown, FailUnavailable, FailRefusal, FailTransport, FailPollTimeout, FailPayloadCorrupt}
	for _, kind := range escalating {
		if !IsEscalation(kind) {
			t.Errorf("IsEscalation(%v) = false, want true", kind)
		}
	}

	for _, kind := range []FailureKind{FailUnmatched, FailExhausted} {
		if IsEscalation(kind) {
			t.Errorf("IsEscalation(%v) = true, want false", kind)
		}
	}
}

func TestProviderErrorUnwrap(t *testing.T) {
	inner := errors.New("boom")
	err := Wrap("suno", inner)
	if !errors.Is(err, inner) {
		t.Error("expected the wrapped error to unwrap to its cause")
	}
}
