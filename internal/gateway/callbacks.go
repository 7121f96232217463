package gateway

import (
	"context"
	"fmt"

	. "github.com/aviv90/tasker-server-sub010/internal/logging"
)

// HandleProviderCallback parses a provider webhook body and applies the
// resulting notice to the pending-task registry. Unknown submission ids
// are absorbed there; a parse failure is the only hard error.
func (g *Gateway) HandleProviderCallback(ctx context.Context, provider string, body []byte) error {
	switch provider {
	case "suno":
		if g.suno == nil {
			return fmt.Errorf("suno provider not configured")
		}
		notice, err := g.suno.ParseCallback(body)
		if err != nil {
			return fmt.Errorf("failed to parse suno callback: %w", err)
		}
		L_debug("gateway: suno callback",
			"submission", notice.SubmissionID,
			"stage", notice.Stage,
			"candidates", len(notice.Candidates),
		)
		return g.tracker.HandleNotice(ctx, notice)
	default:
		return fmt.Errorf("no callback handler for provider %q", provider)
	}
}
