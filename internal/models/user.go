package models

import (
	"time"

	"github.com/google/uuid"
)

// Role represents a profile's role in the portal.
type Role string

const (
	RoleUser      Role = "user"
	RoleAdmin     Role = "admin"
	RoleModerator Role = "moderator"
)

// Valid reports whether r is one of the roles the portal assigns.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAdmin, RoleModerator:
		return true
	}
	return false
}

// Identity is the authenticated principal issued by the auth service.
type Identity struct {
	ID        uuid.UUID `json:"id"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}

// Profile extends an Identity with role and status. Profile.ID equals the Identity ID.
type Profile struct {
	ID        uuid.UUID `json:"id"`
	Email     string    `json:"email"`
	FullName  string    `json:"full_name,omitempty"`
	Role      Role      `json:"role"`
	Suspended bool      `json:"suspended"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}

// IsAdmin reports whether the profile routes to the admin surface.
func (p *Profile) IsAdmin() bool {
	return p != nil && p.Role == RoleAdmin
}
