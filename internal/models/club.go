package models

import (
	"time"

	"github.com/google/uuid"
)

// Club is the tenant unit. Each admin owns at most one club.
type Club struct {
	ID          uuid.UUID `json:"id"`
	AdminUserID uuid.UUID `json:"admin_user_id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	LogoURL     string    `json:"logo_url,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Membership links a user to a club. (UserID, ClubID) is unique.
type Membership struct {
	ID       uuid.UUID `json:"id"`
	UserID   uuid.UUID `json:"user_id"`
	ClubID   uuid.UUID `json:"club_id"`
	JoinedAt time.Time `json:"joined_at"`

	// Club is populated when the query expands the clubs relation.
	Club *Club `json:"clubs,omitempty"`
}
