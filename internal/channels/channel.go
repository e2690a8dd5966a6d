// Package channels connects chat transports to the agent through the
// message bus.
package channels

import (
	"context"
	"fmt"
	"strings"

	"github.com/adpilot-ai/adpilot/internal/approval"
	"github.com/adpilot-ai/adpilot/internal/bus"
)

// Channel is the interface every chat transport implements.
type Channel interface {
	// Name returns the channel name (e.g. "slack").
	Name() string
	// Start starts the channel listener.
	Start(ctx context.Context) error
	// Stop stops the channel listener.
	Stop() error
}

// BaseChannel provides common functionality for channels.
type BaseChannel struct {
	Bus *bus.MessageBus
}

// ApprovalRouter intercepts plan decision commands ("approve plan-xxx",
// "reject plan-xxx reason") before a message reaches the agent, so users
// can resolve pending plans from any channel.
type ApprovalRouter struct {
	Plans *approval.Manager
}

// Handle checks whether text is a plan command and executes it. The reply
// is user-facing; handled=false means the text is a normal request.
func (r *ApprovalRouter) Handle(ctx context.Context, text string) (string, bool) {
	if r == nil || r.Plans == nil {
		return "", false
	}
	fields := strings.Fields(strings.TrimSpace(text))
	if len(fields) < 2 || !strings.HasPrefix(fields[1], "plan-") {
		return "", false
	}
	planID := fields[1]

	switch strings.ToLower(fields[0]) {
	case "approve", "yes", "confirm":
		result, err := r.Plans.ApproveAndExecute(ctx, planID)
		if err != nil {
			return fmt.Sprintf("Could not execute %s: %v", planID, err), true
		}
		if result.Message != "" {
			return result.Message, true
		}
		return fmt.Sprintf("Plan %s executed.", planID), true
	case "reject", "no", "deny", "cancel":
		reason := strings.Join(fields[2:], " ")
		if _, err := r.Plans.Reject(planID, reason); err != nil {
			return fmt.Sprintf("Could not reject %s: %v", planID, err), true
		}
		return fmt.Sprintf("Plan %s rejected.", planID), true
	}
	return "", false
}

// FormatPlanPrompt renders the standard approval prompt appended to
// responses that created a plan.
func FormatPlanPrompt(planID string) string {
	return fmt.Sprintf("\n\nTo proceed, reply `approve %s` or `reject %s`.", planID, planID)
}
