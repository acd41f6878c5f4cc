package models

// OrgUnit is the organizational placement of a resource.
type OrgUnit struct {
	Organization string `json:"organization" yaml:"organization"`
	Branch       string `json:"branch"       yaml:"branch"`
	Region       string `json:"region"       yaml:"region"`
	Department   string `json:"department"   yaml:"department"`
}

// Scope restricts an approver lookup to one organizational unit.
// A zero Level means organization-wide.
type Scope struct {
	Organization string          `json:"organization,omitempty"`
	Level        ApproverContext `json:"level,omitempty"`
	Unit         string          `json:"unit,omitempty"`
}

// IsOrganizationWide reports whether the scope applies no unit filter.
func (s Scope) IsOrganizationWide() bool {
	return s.Level == "" || s.Level == ContextOrganization
}

// ScopeFor returns the scope named by the context. ok is false when the unit has no
// value at that level.
func (u OrgUnit) ScopeFor(ctx ApproverContext) (Scope, bool) {
	var unit string

	switch ctx {
	case ContextOrganization:
		return Scope{Organization: u.Organization, Level: ContextOrganization}, true
	case ContextBranch:
		unit = u.Branch
	case ContextRegion:
		unit = u.Region
	case ContextDepartment:
		unit = u.Department
	default:
		return Scope{}, false
	}

	if unit == "" {
		return Scope{}, false
	}

	return Scope{Organization: u.Organization, Level: ctx, Unit: unit}, true
}

// UnitAt returns the unit value for the given level.
func (u OrgUnit) UnitAt(level ApproverContext) string {
	switch level {
	case ContextOrganization:
		return u.Organization
	case ContextBranch:
		return u.Branch
	case ContextRegion:
		return u.Region
	case ContextDepartment:
		return u.Department
	default:
		return ""
	}
}

// ResourceRef is the opaque handle the engine uses for an external resource.
type ResourceRef struct {
	Type string `json:"resource_type" validate:"required"`
	ID   string `json:"resource_id"   validate:"required"`
	Name string `json:"resource_name,omitempty"`
}
