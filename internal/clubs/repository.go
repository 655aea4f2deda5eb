// Package clubs holds the club tenant: persistence, the admin surface's data
// aggregation and the admin and directory endpoints.
package clubs

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"

	"github.com/clubhub/portal/internal/datasvc"
	"github.com/clubhub/portal/internal/models"
)

const table = "clubs"

var (
	ErrClubExists = errors.New("club already exists")
	ErrEmptyPatch = errors.New("nothing to update")
)

// Input is the body for creating a club.
type Input struct {
	Name        string `json:"name" binding:"required"`
	Description string `json:"description"`
	LogoURL     string `json:"logo_url,omitempty"`
}

// Validate trims the name and bounds its length.
func (in *Input) Validate() error {
	in.Name = strings.TrimSpace(in.Name)
	in.Description = strings.TrimSpace(in.Description)
	if in.Name == "" || len(in.Name) > 255 {
		return errors.New("name must be 1-255 characters")
	}
	return nil
}

// Patch is a partial club update.
type Patch struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
	LogoURL     *string `json:"logo_url,omitempty"`
}

// Validate rejects an empty patch and a blank name.
func (p *Patch) Validate() error {
	if *p == (Patch{}) {
		return ErrEmptyPatch
	}
	if p.Name != nil {
		name := strings.TrimSpace(*p.Name)
		if name == "" || len(name) > 255 {
			return errors.New("name must be 1-255 characters")
		}
		p.Name = &name
	}
	return nil
}

type newClub struct {
	AdminUserID uuid.UUID `json:"admin_user_id"`
	Input
}

// Repository handles club persistence.
type Repository struct {
	db datasvc.Client
}

// NewRepository creates a clubs repository.
func NewRepository(db datasvc.Client) *Repository {
	return &Repository{db: db}
}

// GetByAdmin returns the club administered by adminID. datasvc.ErrNoRows means
// the admin has not created one yet.
func (r *Repository) GetByAdmin(ctx context.Context, adminID uuid.UUID) (*models.Club, error) {
	var club models.Club
	if err := r.db.Select(ctx, datasvc.From(table).Eq("admin_user_id", adminID).One(), &club); err != nil {
		return nil, err
	}
	return &club, nil
}

// Get returns the club with id.
func (r *Repository) Get(ctx context.Context, id uuid.UUID) (*models.Club, error) {
	var club models.Club
	if err := r.db.Select(ctx, datasvc.From(table).Eq("id", id).One(), &club); err != nil {
		return nil, err
	}
	return &club, nil
}

// List returns every club ordered by name.
func (r *Repository) List(ctx context.Context) ([]models.Club, error) {
	var list []models.Club
	if err := r.db.Select(ctx, datasvc.From(table).OrderBy("name", false), &list); err != nil {
		return nil, err
	}
	return list, nil
}

// ListByIDs returns the clubs whose id is in ids, ordered by name.
func (r *Repository) ListByIDs(ctx context.Context, ids []uuid.UUID) ([]models.Club, error) {
	if len(ids) == 0 {
		return []models.Club{}, nil
	}
	var list []models.Club
	q := datasvc.From(table).Where(datasvc.In("id", ids)).OrderBy("name", false)
	if err := r.db.Select(ctx, q, &list); err != nil {
		return nil, err
	}
	return list, nil
}

// Create inserts the club of adminID. A second club for the same admin yields ErrClubExists.
func (r *Repository) Create(ctx context.Context, adminID uuid.UUID, in Input) (*models.Club, error) {
	var club models.Club
	if err := r.db.Insert(ctx, table, newClub{AdminUserID: adminID, Input: in}, &club); err != nil {
		if datasvc.IsConflict(err) {
			return nil, ErrClubExists
		}
		return nil, err
	}
	return &club, nil
}

// Update applies patch to the club with id.
func (r *Repository) Update(ctx context.Context, id uuid.UUID, patch Patch) (*models.Club, error) {
	var club models.Club
	if err := r.db.Update(ctx, table, []datasvc.Filter{datasvc.Eq("id", id)}, patch, &club); err != nil {
		return nil, err
	}
	return &club, nil
}

// Delete removes the club with id. Its events, announcements and memberships go
// with it through the store's cascading foreign keys.
func (r *Repository) Delete(ctx context.Context, id uuid.UUID) error {
	return r.db.Delete(ctx, table, []datasvc.Filter{datasvc.Eq("id", id)})
}
