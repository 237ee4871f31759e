// Package roles holds the static role-to-permission catalog. The catalog is
// built once at startup and is read-only afterwards, so request handlers can
// query it concurrently without locking.
package roles

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
)

// Permission keys used by the built-in roles.
const (
	PermUserRead      = "user:read"
	PermUserPasswd    = "user:passwd"
	PermUserAPIKey    = "user:apikey"
	PermManageSelf    = "user:edit_self"
	PermBanUser       = "ban:user"
	PermUnbanUser     = "unban:user"
	PermOrganizations = "organization:manage"
	PermAccounts      = "account:manage"
)

// Config maps a role name to the permission keys it grants.
type Config struct {
	Roles map[string][]string `json:"roles"`
}

// Builtin is the default catalog used when no roles file is configured.
func Builtin() Config {
	return Config{Roles: map[string][]string{
		"ADMIN": {
			PermUserRead, PermUserPasswd, PermUserAPIKey, PermManageSelf,
			PermBanUser, PermUnbanUser, PermOrganizations, PermAccounts,
		},
		"ORGANIZATION_ADMIN": {
			PermUserRead, PermUserPasswd, PermUserAPIKey, PermManageSelf, PermAccounts,
		},
		"USER": {
			PermUserRead, PermManageSelf,
		},
	}}
}

// Load reads a Config from a JSON file.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("roles: read %s: %w", path, err)
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("roles: parse %s: %w", path, err)
	}
	return cfg, nil
}

// Catalog answers "does role R grant permission P". A role that is not
// present grants nothing.
type Catalog struct {
	roles map[string]map[string]struct{}
}

// NewCatalog merges one or more configs into a catalog. Later configs extend
// earlier ones; duplicate grants collapse.
func NewCatalog(configs ...Config) *Catalog {
	c := &Catalog{roles: make(map[string]map[string]struct{})}
	for _, cfg := range configs {
		for role, perms := range cfg.Roles {
			set, ok := c.roles[role]
			if !ok {
				set = make(map[string]struct{}, len(perms))
				c.roles[role] = set
			}
			for _, p := range perms {
				set[p] = struct{}{}
			}
		}
	}
	return c
}

// PermissionsOf returns the permission keys granted to role, sorted.
func (c *Catalog) PermissionsOf(role string) []string {
	set, ok := c.roles[role]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Granted reports whether role holds at least one of the given permissions.
func (c *Catalog) Granted(role string, permissions ...string) bool {
	set, ok := c.roles[role]
	if !ok {
		return false
	}
	for _, p := range permissions {
		if _, ok := set[p]; ok {
			return true
		}
	}
	return false
}

// RegisteredRoles returns all role names known to the catalog, sorted.
func (c *Catalog) RegisteredRoles() []string {
	out := make([]string, 0, len(c.roles))
	for role := range c.roles {
		out = append(out, role)
	}
	sort.Strings(out)
	return out
}
