// Package channels owns the lifecycle of the delivery channels and
// routes finished work and progress notices to them off the event bus.
package channels

import (
	"context"

	"github.com/aviv90/tasker-server-sub010/internal/types"
)

// Channel is one delivery surface for task results and notices.
type Channel interface {
	// Name returns the channel identifier (e.g. "telegram")
	Name() string

	// Start begins processing inbound commands for this channel
	Start(ctx context.Context) error

	// Stop gracefully shuts down the channel
	Stop() error

	// Deliver hands one outbound payload to the requester it names
	Deliver(ctx context.Context, out types.Outbound) error
}
