// Package auth contains identities and API key verification for callers
// of the gateway.
package auth

import (
	"slices"
	"time"
)

// Role is a coarse authorization role.
type Role string

const (
	// RoleAdmin may manage access policies and read the audit log.
	RoleAdmin Role = "admin"
	// RoleUser may chat and call tools.
	RoleUser Role = "user"
)

// IsValid reports whether r is a known role.
func (r Role) IsValid() bool {
	return r == RoleAdmin || r == RoleUser
}

// Identity is the authenticated caller. ID becomes the user id of every
// audit record the caller produces.
type Identity struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Roles []Role `json:"roles"`
}

// HasRole reports whether the identity carries role.
func (i *Identity) HasRole(role Role) bool {
	return slices.Contains(i.Roles, role)
}

// IsAdmin reports whether the identity carries the admin role.
func (i *Identity) IsAdmin() bool {
	return i.HasRole(RoleAdmin)
}

// APIKey is a stored credential. Hash is an argon2id PHC string or a
// "sha256:"-prefixed hex digest.
type APIKey struct {
	Hash      string
	UserID    string
	Name      string
	Roles     []Role
	ExpiresAt *time.Time
	Revoked   bool
}

// Usable reports whether the key is neither revoked nor expired at now.
func (k *APIKey) Usable(now time.Time) bool {
	if k.Revoked {
		return false
	}
	return k.ExpiresAt == nil || now.Before(*k.ExpiresAt)
}

// Identity returns the identity the key authenticates.
func (k *APIKey) Identity() *Identity {
	name := k.Name
	if name == "" {
		name = k.UserID
	}
	roles := k.Roles
	if len(roles) == 0 {
		roles = []Role{RoleUser}
	}
	return &Identity{ID: k.UserID, Name: name, Roles: slices.Clone(roles)}
}
