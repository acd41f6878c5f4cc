// Package permissions checks that an acting user holds a capability before any mutation.
package permissions

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dukex/signoff/pkg/models"
	"github.com/dukex/signoff/pkg/services"
)

// PermissionChecker answers capability questions for a user.
type PermissionChecker interface {
	HasCapability(ctx context.Context, user string, capability models.Capability) (bool, error)
}

// Gate enforces capabilities independently of approver-set membership.
type Gate struct {
	checker PermissionChecker
	logger  *slog.Logger
}

// NewGate creates a Gate.
func NewGate(checker PermissionChecker, logger *slog.Logger) *Gate {
	return &Gate{checker: checker, logger: logger.With("module", "permissions")}
}

// Can reports whether user holds capability.
func (g *Gate) Can(ctx context.Context, user string, capability models.Capability) (bool, error) {
	if user == "" {
		return false, nil
	}

	allowed, err := g.checker.HasCapability(ctx, user, capability)
	if err != nil {
		return false, fmt.Errorf("failed to check capability %s for %s: %w", capability, user, err)
	}

	return allowed, nil
}

// Authorize returns a forbidden error when user lacks capability.
func (g *Gate) Authorize(ctx context.Context, user string, capability models.Capability) error {
	allowed, err := g.Can(ctx, user, capability)
	if err != nil {
		return err
	}

	if !allowed {
		g.logger.InfoContext(ctx, "capability denied", "user", user, "capability", capability)

		return services.Forbidden("Authorize", fmt.Sprintf("user %s lacks capability %s", user, capability))
	}

	return nil
}
