// Package directory provides an in-memory organization directory that implements the
// approver directory and org hierarchy collaborators. It can be seeded from a YAML file.
package directory

import (
	"context"
	"fmt"
	"os"
	"slices"
	"sync"

	"github.com/dukex/signoff/pkg/models"
	"github.com/dukex/signoff/pkg/resolver"
	"gopkg.in/yaml.v3"
)

// User is a directory member with roles and an organizational placement.
type User struct {
	ID             string   `yaml:"id"`
	Roles          []string `yaml:"roles"`
	models.OrgUnit `yaml:",inline"`
}

// Resource places an external resource in the organization.
type Resource struct {
	Type           string `yaml:"type"`
	ID             string `yaml:"id"`
	models.OrgUnit `yaml:",inline"`
}

// Seed is the on-disk directory format.
type Seed struct {
	Users     []User     `yaml:"users"`
	Resources []Resource `yaml:"resources"`
}

// Directory is safe for concurrent use.
type Directory struct {
	mu        sync.RWMutex
	users     map[string]*User
	resources map[string]models.OrgUnit
}

// New creates an empty directory.
func New() *Directory {
	return &Directory{
		users:     map[string]*User{},
		resources: map[string]models.OrgUnit{},
	}
}

// Load reads a YAML seed file.
func Load(path string) (*Directory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory file %s: %w", path, err)
	}

	return Parse(data)
}

// Parse builds a directory from YAML.
func Parse(data []byte) (*Directory, error) {
	var seed Seed

	err := yaml.Unmarshal(data, &seed)
	if err != nil {
		return nil, fmt.Errorf("failed to parse directory: %w", err)
	}

	d := New()

	for _, user := range seed.Users {
		if user.ID == "" {
			return nil, fmt.Errorf("directory user without id")
		}

		d.PutUser(user)
	}

	for _, resource := range seed.Resources {
		if resource.Type == "" || resource.ID == "" {
			return nil, fmt.Errorf("directory resource without type or id")
		}

		d.PlaceResource(resource.Type, resource.ID, resource.OrgUnit)
	}

	return d, nil
}

// PutUser adds or replaces a user.
func (d *Directory) PutUser(user User) {
	d.mu.Lock()
	defer d.mu.Unlock()

	u := user
	u.Roles = slices.Clone(user.Roles)
	d.users[user.ID] = &u
}

// RemoveUser deletes a user.
func (d *Directory) RemoveUser(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	delete(d.users, id)
}

// PlaceResource records the organizational unit of a resource.
func (d *Directory) PlaceResource(resourceType, resourceID string, unit models.OrgUnit) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.resources[resourceKey(resourceType, resourceID)] = unit
}

// UnitOf returns the unit of a resource or resolver.ErrUnitNotFound.
func (d *Directory) UnitOf(_ context.Context, resourceType, resourceID string) (models.OrgUnit, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	unit, ok := d.resources[resourceKey(resourceType, resourceID)]
	if !ok {
		return models.OrgUnit{}, fmt.Errorf("%w: %s/%s", resolver.ErrUnitNotFound, resourceType, resourceID)
	}

	return unit, nil
}

// UsersWithRole lists the users holding role inside scope, sorted by id.
func (d *Directory) UsersWithRole(_ context.Context, role string, scope models.Scope) ([]string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	ids := make([]string, 0)

	for id, user := range d.users {
		if !slices.Contains(user.Roles, role) {
			continue
		}

		if scope.Organization != "" && user.Organization != "" && user.Organization != scope.Organization {
			continue
		}

		if !scope.IsOrganizationWide() && user.UnitAt(scope.Level) != scope.Unit {
			continue
		}

		ids = append(ids, id)
	}

	slices.Sort(ids)

	return ids, nil
}

// Users returns a copy of every user, ordered by ID.
func (d *Directory) Users() []User {
	d.mu.RLock()
	defer d.mu.RUnlock()

	users := make([]User, 0, len(d.users))
	for _, user := range d.users {
		u := *user
		u.Roles = slices.Clone(user.Roles)
		users = append(users, u)
	}

	slices.SortFunc(users, func(a, b User) int {
		if a.ID < b.ID {
			return -1
		}

		if a.ID > b.ID {
			return 1
		}

		return 0
	})

	return users
}

// Roles returns the roles held by a user.
func (d *Directory) Roles(id string) []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	user, ok := d.users[id]
	if !ok {
		return nil
	}

	return slices.Clone(user.Roles)
}

func resourceKey(resourceType, resourceID string) string {
	return resourceType + "/" + resourceID
}
