package permissions

import (
	"context"
	"fmt"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	fileadapter "github.com/casbin/casbin/v2/persist/file-adapter"
	"github.com/dukex/signoff/pkg/models"
)

// Effective permission is the union of role and user grants minus explicit denials.
const capabilityModel = `
[request_definition]
r = sub, obj

[policy_definition]
p = sub, obj, eft

[role_definition]
g = _, _

[policy_effect]
e = some(where (p.eft == allow)) && !some(where (p.eft == deny))

[matchers]
m = g(r.sub, p.sub) && r.obj == p.obj
`

const (
	effectAllow = "allow"
	effectDeny  = "deny"
)

// CasbinChecker stores role and user capability grants in a casbin enforcer.
type CasbinChecker struct {
	enforcer *casbin.SyncedEnforcer
}

// NewCasbinChecker creates a checker. When policyPath is non-empty, grants are loaded
// from that CSV policy file; later changes stay in memory.
func NewCasbinChecker(policyPath string) (*CasbinChecker, error) {
	m, err := model.NewModelFromString(capabilityModel)
	if err != nil {
		return nil, fmt.Errorf("failed to parse capability model: %w", err)
	}

	var enforcer *casbin.SyncedEnforcer

	if policyPath != "" {
		enforcer, err = casbin.NewSyncedEnforcer(m, fileadapter.NewAdapter(policyPath))
	} else {
		enforcer, err = casbin.NewSyncedEnforcer(m)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to create capability enforcer: %w", err)
	}

	enforcer.EnableAutoSave(false)

	return &CasbinChecker{enforcer: enforcer}, nil
}

// HasCapability implements PermissionChecker.
func (c *CasbinChecker) HasCapability(_ context.Context, user string, capability models.Capability) (bool, error) {
	allowed, err := c.enforcer.Enforce(user, string(capability))
	if err != nil {
		return false, fmt.Errorf("failed to enforce capability: %w", err)
	}

	return allowed, nil
}

// AssignRole makes user a member of role.
func (c *CasbinChecker) AssignRole(user, role string) error {
	_, err := c.enforcer.AddGroupingPolicy(user, role)
	if err != nil {
		return fmt.Errorf("failed to assign role %s to %s: %w", role, user, err)
	}

	return nil
}

// UnassignRole removes user from role.
func (c *CasbinChecker) UnassignRole(user, role string) error {
	_, err := c.enforcer.RemoveGroupingPolicy(user, role)
	if err != nil {
		return fmt.Errorf("failed to remove role %s from %s: %w", role, user, err)
	}

	return nil
}

// GrantRole grants capability to every member of role.
func (c *CasbinChecker) GrantRole(role string, capability models.Capability) error {
	return c.allow(role, capability)
}

// GrantUser grants capability directly to user and clears any explicit revocation.
func (c *CasbinChecker) GrantUser(user string, capability models.Capability) error {
	_, err := c.enforcer.RemovePolicy(user, string(capability), effectDeny)
	if err != nil {
		return fmt.Errorf("failed to clear revocation: %w", err)
	}

	return c.allow(user, capability)
}

// RevokeRole removes a role-level grant.
func (c *CasbinChecker) RevokeRole(role string, capability models.Capability) error {
	_, err := c.enforcer.RemovePolicy(role, string(capability), effectAllow)
	if err != nil {
		return fmt.Errorf("failed to revoke %s from role %s: %w", capability, role, err)
	}

	return nil
}

// Revoke explicitly revokes capability from user. The revocation wins over any role grant.
func (c *CasbinChecker) Revoke(user string, capability models.Capability) error {
	_, err := c.enforcer.RemovePolicy(user, string(capability), effectAllow)
	if err != nil {
		return fmt.Errorf("failed to remove grant: %w", err)
	}

	_, err = c.enforcer.AddPolicy(user, string(capability), effectDeny)
	if err != nil {
		return fmt.Errorf("failed to revoke %s from %s: %w", capability, user, err)
	}

	return nil
}

func (c *CasbinChecker) allow(subject string, capability models.Capability) error {
	_, err := c.enforcer.AddPolicy(subject, string(capability), effectAllow)
	if err != nil {
		return fmt.Errorf("failed to grant %s to %s: %w", capability, subject, err)
	}

	return nil
}
