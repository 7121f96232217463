package types

// Strategy identifies a recovery layer used when generation fails.
// Layers escalate in order: remaining providers first, then prompt
// transforms retried against the canonical provider.
type Strategy string

const (
	StrategyProvider   Strategy = "alternate-provider"
	StrategySimplify   Strategy = "simplify-prompt"
	StrategyGeneralize Strategy = "generalize-prompt"
)

// Attempt records one provider dispatch, or one skipped transform, in a
// task's recovery trail. Err is empty for the attempt that succeeded.
type Attempt struct {
	Strategy Strategy `json:"strategy"`
	Provider string   `json:"provider,omitempty"`
	Err      string   `json:"err,omitempty"`
	Skipped  bool     `json:"skipped,omitempty"`
}
