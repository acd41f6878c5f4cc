package permissions

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/dukex/signoff/pkg/models"
	"github.com/dukex/signoff/pkg/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestCasbinChecker_UnionMinusRevocation(t *testing.T) {
	ctx := context.Background()

	checker, err := NewCasbinChecker("")
	require.NoError(t, err)

	require.NoError(t, checker.AssignRole("alice", "supervisor"))
	require.NoError(t, checker.GrantRole("supervisor", models.CapabilityApprove))
	require.NoError(t, checker.GrantUser("bob", models.CapabilityApprove))

	allowed, err := checker.HasCapability(ctx, "alice", models.CapabilityApprove)
	require.NoError(t, err)
	assert.True(t, allowed, "role grant")

	allowed, err = checker.HasCapability(ctx, "bob", models.CapabilityApprove)
	require.NoError(t, err)
	assert.True(t, allowed, "direct grant")

	allowed, err = checker.HasCapability(ctx, "carol", models.CapabilityApprove)
	require.NoError(t, err)
	assert.False(t, allowed, "no grant")

	allowed, err = checker.HasCapability(ctx, "alice", models.CapabilityCancel)
	require.NoError(t, err)
	assert.False(t, allowed, "other capability")

	// explicit revocation beats the role grant
	require.NoError(t, checker.Revoke("alice", models.CapabilityApprove))

	allowed, err = checker.HasCapability(ctx, "alice", models.CapabilityApprove)
	require.NoError(t, err)
	assert.False(t, allowed)

	// granting again clears the revocation
	require.NoError(t, checker.GrantUser("alice", models.CapabilityApprove))

	allowed, err = checker.HasCapability(ctx, "alice", models.CapabilityApprove)
	require.NoError(t, err)
	assert.True(t, allowed)

	require.NoError(t, checker.UnassignRole("alice", "supervisor"))
	require.NoError(t, checker.RevokeRole("supervisor", models.CapabilityApprove))

	allowed, err = checker.HasCapability(ctx, "alice", models.CapabilityApprove)
	require.NoError(t, err)
	assert.True(t, allowed, "direct grant survives role removal")
}

func TestCasbinChecker_PolicyFile(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "policy.csv")

	policy := "p, manager, approve_workflows, allow\n" +
		"p, dave, approve_workflows, deny\n" +
		"g, erin, manager\n" +
		"g, dave, manager\n"
	require.NoError(t, os.WriteFile(path, []byte(policy), 0600))

	checker, err := NewCasbinChecker(path)
	require.NoError(t, err)

	allowed, err := checker.HasCapability(ctx, "erin", models.CapabilityApprove)
	require.NoError(t, err)
	assert.True(t, allowed)

	allowed, err = checker.HasCapability(ctx, "dave", models.CapabilityApprove)
	require.NoError(t, err)
	assert.False(t, allowed)

	// in-memory changes do not fail against a read-only adapter
	require.NoError(t, checker.GrantUser("frank", models.CapabilityApprove))
}

type staticChecker struct {
	allowed bool
	err     error
}

func (s staticChecker) HasCapability(context.Context, string, models.Capability) (bool, error) {
	return s.allowed, s.err
}

func TestGate_Authorize(t *testing.T) {
	ctx := context.Background()

	err := NewGate(staticChecker{allowed: true}, testLogger()).Authorize(ctx, "alice", models.CapabilityApprove)
	assert.NoError(t, err)

	err = NewGate(staticChecker{allowed: false}, testLogger()).Authorize(ctx, "alice", models.CapabilityApprove)
	assert.True(t, services.IsForbidden(err))
	assert.ErrorIs(t, err, services.ErrForbidden)

	err = NewGate(staticChecker{allowed: true}, testLogger()).Authorize(ctx, "", models.CapabilityApprove)
	assert.True(t, services.IsForbidden(err), "anonymous user never passes")

	err = NewGate(staticChecker{err: errors.New("store down")}, testLogger()).Authorize(ctx, "alice", models.CapabilityApprove)
	require.Error(t, err)
	assert.False(t, services.IsForbidden(err))
}
