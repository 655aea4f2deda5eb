// Package profiles persists the application profile attached to every identity.
package profiles

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/clubhub/portal/internal/datasvc"
	"github.com/clubhub/portal/internal/models"
)

const table = "profiles"

// newProfile is the insert shape; id and email come from the identity, the rest
// from store defaults when empty.
type newProfile struct {
	ID       uuid.UUID   `json:"id"`
	Email    string      `json:"email"`
	FullName string      `json:"full_name,omitempty"`
	Role     models.Role `json:"role"`
}

// Repository handles profile persistence.
type Repository struct {
	db datasvc.Client
}

// NewRepository creates a profiles repository.
func NewRepository(db datasvc.Client) *Repository {
	return &Repository{db: db}
}

// Get returns the profile with id. A missing profile yields datasvc.ErrNoRows.
func (r *Repository) Get(ctx context.Context, id uuid.UUID) (*models.Profile, error) {
	var p models.Profile
	if err := r.db.Select(ctx, datasvc.From(table).Eq("id", id).One(), &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// GetByEmail returns the profile registered with email, compared case-insensitively
// by normalizing to lower case.
func (r *Repository) GetByEmail(ctx context.Context, email string) (*models.Profile, error) {
	var p models.Profile
	q := datasvc.From(table).Eq("email", NormalizeEmail(email)).One()
	if err := r.db.Select(ctx, q, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// Create inserts p. A profile that already exists yields datasvc.ErrConflict.
func (r *Repository) Create(ctx context.Context, p models.Profile) (*models.Profile, error) {
	role := p.Role
	if role == "" {
		role = models.RoleUser
	}
	row := newProfile{ID: p.ID, Email: NormalizeEmail(p.Email), FullName: p.FullName, Role: role}
	var created models.Profile
	if err := r.db.Insert(ctx, table, row, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

// ListByIDs returns the profiles whose id is in ids, in no particular order.
func (r *Repository) ListByIDs(ctx context.Context, ids []uuid.UUID) ([]models.Profile, error) {
	if len(ids) == 0 {
		return []models.Profile{}, nil
	}
	var list []models.Profile
	q := datasvc.From(table).Select("id", "email", "full_name", "role", "suspended", "created_at").Where(datasvc.In("id", ids))
	if err := r.db.Select(ctx, q, &list); err != nil {
		return nil, err
	}
	return list, nil
}

// SetRole changes the role of the profile with id.
func (r *Repository) SetRole(ctx context.Context, id uuid.UUID, role models.Role) (*models.Profile, error) {
	return r.update(ctx, id, map[string]any{"role": role})
}

// SetSuspended changes the suspended flag of the profile with id.
func (r *Repository) SetSuspended(ctx context.Context, id uuid.UUID, suspended bool) (*models.Profile, error) {
	return r.update(ctx, id, map[string]any{"suspended": suspended})
}

func (r *Repository) update(ctx context.Context, id uuid.UUID, patch map[string]any) (*models.Profile, error) {
	var p models.Profile
	if err := r.db.Update(ctx, table, []datasvc.Filter{datasvc.Eq("id", id)}, patch, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// NormalizeEmail trims and lower-cases an email for storage and lookup.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
