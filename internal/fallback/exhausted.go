package fallback

import (
	"fmt"
	"strings"

	"github.com/aviv90/tasker-server-sub010/internal/providers"
	"github.com/aviv90/tasker-server-sub010/internal/types"
)

// ExhaustedError is the terminal failure after every strategy was spent.
// It unwraps to a strategy_exhausted ProviderError so callers can route
// on the failure kind like any other.
type ExhaustedError struct {
	Kind  types.MediaKind
	Trail []types.Attempt

	cause *providers.ProviderError
}

func newExhaustedError(kind types.MediaKind, trail []types.Attempt, last error) *ExhaustedError {
	return &ExhaustedError{
		Kind:  kind,
		Trail: trail,
		cause: &providers.ProviderError{Kind: providers.FailExhausted, Err: last},
	}
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("all strategies exhausted for %s after %d attempts", e.Kind, countTried(e.Trail))
}

func (e *ExhaustedError) Unwrap() error {
	return e.cause
}

// Report renders the requester-facing summary: every attempt in order,
// then advice for the next try.
func (e *ExhaustedError) Report() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "I could not generate your %s. Here is everything that was tried:\n", e.Kind.Label())
	for i, a := range e.Trail {
		fmt.Fprintf(&sb, "%d. %s\n", i+1, describeAttempt(a))
	}
	sb.WriteString("\n")
	sb.WriteString(providers.Guidance(e.Kind))
	return sb.String()
}

func describeAttempt(a types.Attempt) string {
	switch {
	case a.Skipped && a.Err != "":
		return fmt.Sprintf("%s: skipped (%s)", strategyLabel(a.Strategy), shortReason(a.Err))
	case a.Skipped:
		return fmt.Sprintf("%s: skipped, the rewrite left the prompt unchanged", strategyLabel(a.Strategy))
	case a.Strategy == types.StrategyProvider || a.Strategy == "":
		return fmt.Sprintf("%s: %s", a.Provider, shortReason(a.Err))
	default:
		return fmt.Sprintf("%s on %s: %s", strategyLabel(a.Strategy), a.Provider, shortReason(a.Err))
	}
}

func strategyLabel(s types.Strategy) string {
	switch s {
	case types.StrategyProvider:
		return "provider"
	case types.StrategySimplify:
		return "simplified prompt"
	case types.StrategyGeneralize:
		return "generalized prompt"
	default:
		return string(s)
	}
}

// shortReason drops the "provider: kind:" classifier prefix and keeps
// the human tail of an error message.
func shortReason(s string) string {
	parts := strings.SplitN(s, ": ", 3)
	return parts[len(parts)-1]
}

// countTried counts attempts that actually reached a provider.
func countTried(trail []types.Attempt) int {
	n := 0
	for _, a := range trail {
		if !a.Skipped {
			n++
		}
	}
	return n
}
