// Package providers implements the generation provider adapters, the
// capability table, and the provider order resolver.
package providers

import (
	"errors"
	"fmt"
	"strings"

	"github.com/aviv90/tasker-server-sub010/internal/types"
)

// FailureKind categorizes generation failures for escalation and user
// messaging decisions.
type FailureKind string

const (
	FailUnknown FailureKind = "unknown"

	// FailUnavailable covers config and auth problems: missing API key,
	// rejected credentials, exhausted account.
	FailUnavailable FailureKind = "provider_unavailable"

	// FailRefusal is an explicit decline, or prose returned in place of
	// media when the caller did not opt into text answers.
	FailRefusal FailureKind = "provider_refusal"

	// FailTransport is a network or service failure on a single call.
	FailTransport FailureKind = "transport_failure"

	// FailPollTimeout means a poll loop exceeded its wall-clock budget.
	FailPollTimeout FailureKind = "poll_timeout"

	// FailPayloadCorrupt means a downloaded result failed integrity checks.
	FailPayloadCorrupt FailureKind = "payload_corrupt"

	// FailUnmatched is a completion notice for an unknown or expired id.
	// Always swallowed, never surfaced to callers.
	FailUnmatched FailureKind = "unmatched_task"

	// FailExhausted means every fallback strategy was tried without success.
	// The only kind that propagates to the caller.
	FailExhausted FailureKind = "strategy_exhausted"
)

// ProviderError wraps a failure with its provider and classified kind.
type ProviderError struct {
	Provider string
	Kind     FailureKind
	Err      error
}

func (e *ProviderError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Provider, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Provider, e.Kind, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// Errf builds a classified ProviderError.
func Errf(provider string, kind FailureKind, format string, args ...interface{}) *ProviderError {
	return &ProviderError{Provider: provider, Kind: kind, Err: fmt.Errorf(format, args...)}
}

// Wrap classifies err by message and tags it with the provider.
// Already-classified ProviderErrors pass through unchanged.
func Wrap(provider string, err error) *ProviderError {
	if err == nil {
		return nil
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe
	}
	return &ProviderError{Provider: provider, Kind: Classify(err.Error()), Err: err}
}

// KindOf extracts the failure kind from any error.
func KindOf(err error) FailureKind {
	if err == nil {
		return FailUnknown
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return Classify(err.Error())
}

// Classify determines the failure kind from a raw provider error message.
// Only the kinds a live call can produce come out of here; poll timeouts,
// corrupt payloads and the rest are minted at their source.
func Classify(msg string) FailureKind {
	if msg == "" {
		return FailUnknown
	}
	// Refusal first: content-policy messages often ride on 400s that
	// would otherwise look like config problems.
	if IsRefusalMessage(msg) {
		return FailRefusal
	}
	if IsUnavailableMessage(msg) {
		return FailUnavailable
	}
	if IsTransportMessage(msg) {
		return FailTransport
	}
	return FailUnknown
}

// IsEscalation returns true if the failure kind should feed the fallback
// escalator. Unmatched notices are silent and exhaustion is terminal;
// everything else is raw material for the next strategy.
func IsEscalation(kind FailureKind) bool {
	switch kind {
	case FailUnmatched, FailExhausted:
		return false
	default:
		return true
	}
}

// IsRefusalMessage checks if a message indicates the provider declined the
// request on content grounds.
func IsRefusalMessage(msg string) bool {
	if msg == "" {
		return false
	}
	lower := strings.ToLower(msg)

	if strings.Contains(lower, "content_policy") ||
		strings.Contains(lower, "content policy") ||
		strings.Contains(lower, "safety system") ||
		strings.Contains(lower, "safety filter") ||
		strings.Contains(lower, "blocked by") ||
		strings.Contains(lower, "violates") ||
		strings.Contains(lower, "moderation") ||
		strings.Contains(lower, "prohibited content") ||
		strings.Contains(lower, "request was rejected") ||
		strings.Contains(lower, "unable to generate") ||
		strings.Contains(lower, "cannot create") ||
		strings.Contains(lower, "refused") {
		return true
	}

	return false
}

// IsUnavailableMessage checks if a message indicates a config or auth
// problem that no retry against the same provider can fix.
func IsUnavailableMessage(msg string) bool {
	if msg == "" {
		return false
	}
	lower := strings.ToLower(msg)

	// HTTP 401, 402, 403
	if strings.Contains(lower, "401") || strings.Contains(lower, "402") || strings.Contains(lower, "403") {
		return true
	}

	if strings.Contains(lower, "invalid api key") ||
		strings.Contains(lower, "invalid_api_key") ||
		strings.Contains(lower, "incorrect api key") ||
		strings.Contains(lower, "api key not configured") ||
		strings.Contains(lower, "no api key") ||
		strings.Contains(lower, "unauthorized") ||
		strings.Contains(lower, "forbidden") ||
		strings.Contains(lower, "access denied") ||
		strings.Contains(lower, "authentication") ||
		strings.Contains(lower, "invalid credentials") ||
		strings.Contains(lower, "payment required") ||
		strings.Contains(lower, "insufficient credits") ||
		strings.Contains(lower, "insufficient_quota") ||
		strings.Contains(lower, "credit balance") ||
		strings.Contains(lower, "billing") ||
		strings.Contains(lower, "account balance") {
		return true
	}

	return false
}

// IsTransportMessage checks if a message indicates a network or transient
// service failure on a single call.
func IsTransportMessage(msg string) bool {
	if msg == "" {
		return false
	}
	lower := strings.ToLower(msg)

	// HTTP 408, 429, 5xx
	if strings.Contains(lower, "408") || strings.Contains(lower, "429") ||
		strings.Contains(lower, "500") || strings.Contains(lower, "502") ||
		strings.Contains(lower, "503") || strings.Contains(lower, "504") {
		return true
	}

	if strings.Contains(lower, "timeout") ||
		strings.Contains(lower, "timed out") ||
		strings.Contains(lower, "deadline exceeded") ||
		strings.Contains(lower, "connection reset") ||
		strings.Contains(lower, "connection refused") ||
		strings.Contains(lower, "no such host") ||
		strings.Contains(lower, "rate_limit") ||
		strings.Contains(lower, "rate limit") ||
		strings.Contains(lower, "too many requests") ||
		strings.Contains(lower, "overloaded") ||
		strings.Contains(lower, "server is busy") ||
		strings.Contains(lower, "temporarily unavailable") ||
		strings.Contains(lower, "service unavailable") {
		return true
	}

	return false
}

// FormatForUser returns a user-friendly message for a failure kind.
func FormatForUser(kind FailureKind, msg string) string {
	switch kind {
	case FailUnavailable:
		return "The generation service is not available. Check the provider configuration."
	case FailRefusal:
		return "The generation service declined this prompt."
	case FailTransport:
		return "Could not reach the generation service. Please try again."
	case FailPollTimeout:
		return "The generation job took too long and was abandoned."
	case FailPayloadCorrupt:
		return "The generated file came back damaged."
	case FailExhausted:
		return "Generation failed with every available service and strategy."
	default:
		return fmt.Sprintf("Generation error: %s", msg)
	}
}

// Guidance returns per-media advice appended to exhaustion failures.
func Guidance(kind types.MediaKind) string {
	switch kind {
	case types.KindImage, types.KindImageEdit:
		return "Try a shorter, more concrete image description without named people or brands."
	case types.KindVideo, types.KindImageToVideo:
		return "Try a simpler scene with a single subject and motion, and keep the clip short."
	case types.KindMusic:
		return "Try a plainer style description, or request an instrumental track."
	default:
		return "Try rephrasing the request."
	}
}
