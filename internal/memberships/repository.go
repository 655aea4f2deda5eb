// Package memberships links users to clubs: the admin roster, self-service
// join/leave and the "my clubs" list.
package memberships

import (
	"context"

	"github.com/google/uuid"

	"github.com/clubhub/portal/internal/datasvc"
	"github.com/clubhub/portal/internal/models"
)

const table = "memberships"

type newMembership struct {
	UserID uuid.UUID `json:"user_id"`
	ClubID uuid.UUID `json:"club_id"`
}

// Repository handles membership persistence.
type Repository struct {
	db datasvc.Client
}

// NewRepository creates a memberships repository.
func NewRepository(db datasvc.Client) *Repository {
	return &Repository{db: db}
}

// ListByClub returns a club's memberships, oldest first.
func (r *Repository) ListByClub(ctx context.Context, clubID uuid.UUID) ([]models.Membership, error) {
	var list []models.Membership
	q := datasvc.From(table).Eq("club_id", clubID).OrderBy("joined_at", false)
	if err := r.db.Select(ctx, q, &list); err != nil {
		return nil, err
	}
	return list, nil
}

// ListByUser returns the memberships of a user.
func (r *Repository) ListByUser(ctx context.Context, userID uuid.UUID) ([]models.Membership, error) {
	var list []models.Membership
	q := datasvc.From(table).Eq("user_id", userID).OrderBy("joined_at", false)
	if err := r.db.Select(ctx, q, &list); err != nil {
		return nil, err
	}
	return list, nil
}

// ListByUserWithClubs returns a user's memberships with each club embedded,
// in a single query.
func (r *Repository) ListByUserWithClubs(ctx context.Context, userID uuid.UUID) ([]models.Membership, error) {
	var list []models.Membership
	q := datasvc.From(table).
		Eq("user_id", userID).
		OrderBy("joined_at", false).
		With(datasvc.Expand{Table: "clubs", Column: "club_id"})
	if err := r.db.Select(ctx, q, &list); err != nil {
		return nil, err
	}
	return list, nil
}

// Find returns the membership of user in club, or datasvc.ErrNoRows.
func (r *Repository) Find(ctx context.Context, userID, clubID uuid.UUID) (*models.Membership, error) {
	var m models.Membership
	q := datasvc.From(table).Eq("user_id", userID).Eq("club_id", clubID).One()
	if err := r.db.Select(ctx, q, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// Create inserts a membership. An existing (user, club) pair yields datasvc.ErrConflict.
func (r *Repository) Create(ctx context.Context, userID, clubID uuid.UUID) (*models.Membership, error) {
	var m models.Membership
	if err := r.db.Insert(ctx, table, newMembership{UserID: userID, ClubID: clubID}, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// Delete removes the membership of user in club.
func (r *Repository) Delete(ctx context.Context, userID, clubID uuid.UUID) error {
	return r.db.Delete(ctx, table, []datasvc.Filter{
		datasvc.Eq("club_id", clubID),
		datasvc.Eq("user_id", userID),
	})
}
