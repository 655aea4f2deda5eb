// Package announcements manages club announcements.
package announcements

import (
	"context"
	"errors"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/clubhub/portal/internal/datasvc"
	"github.com/clubhub/portal/internal/models"
)

const table = "announcements"

var ErrEmptyPatch = errors.New("nothing to update")

// Input is the body for creating an announcement.
type Input struct {
	Title    string `json:"title,omitempty"`
	Message  string `json:"message" binding:"required"`
	ImageURL string `json:"image_url,omitempty"`
	Link     string `json:"link,omitempty"`
	Pinned   bool   `json:"pinned"`
}

// Validate trims the text fields and requires a message.
func (in *Input) Validate() error {
	in.Title = strings.TrimSpace(in.Title)
	in.Message = strings.TrimSpace(in.Message)
	if in.Message == "" {
		return errors.New("message is required")
	}
	return nil
}

// Patch is a partial update. Pin and unpin go through Pinned.
type Patch struct {
	Title    *string `json:"title,omitempty"`
	Message  *string `json:"message,omitempty"`
	ImageURL *string `json:"image_url,omitempty"`
	Link     *string `json:"link,omitempty"`
	Pinned   *bool   `json:"pinned,omitempty"`
}

// Validate rejects an empty patch and a blank message.
func (p *Patch) Validate() error {
	if *p == (Patch{}) {
		return ErrEmptyPatch
	}
	if p.Message != nil && strings.TrimSpace(*p.Message) == "" {
		return errors.New("message cannot be empty")
	}
	return nil
}

type newAnnouncement struct {
	ClubID    uuid.UUID `json:"club_id"`
	CreatedBy uuid.UUID `json:"created_by"`
	Input
}

// Repository handles announcement persistence.
type Repository struct {
	db datasvc.Client
}

// NewRepository creates an announcements repository.
func NewRepository(db datasvc.Client) *Repository {
	return &Repository{db: db}
}

// ListByClub returns a club's announcements, pinned first, then newest first.
func (r *Repository) ListByClub(ctx context.Context, clubID uuid.UUID) ([]models.Announcement, error) {
	var list []models.Announcement
	q := datasvc.From(table).
		Eq("club_id", clubID).
		OrderBy("pinned", true).
		OrderBy("created_at", true)
	if err := r.db.Select(ctx, q, &list); err != nil {
		return nil, err
	}
	SortPinned(list)
	return list, nil
}

// ListByClubs returns the announcements of the given clubs, newest first.
func (r *Repository) ListByClubs(ctx context.Context, clubIDs []uuid.UUID) ([]models.Announcement, error) {
	if len(clubIDs) == 0 {
		return []models.Announcement{}, nil
	}
	var list []models.Announcement
	q := datasvc.From(table).
		Where(datasvc.In("club_id", clubIDs)).
		OrderBy("created_at", true)
	if err := r.db.Select(ctx, q, &list); err != nil {
		return nil, err
	}
	return list, nil
}

// Get returns one announcement of a club.
func (r *Repository) Get(ctx context.Context, clubID, id uuid.UUID) (*models.Announcement, error) {
	var a models.Announcement
	q := datasvc.From(table).Eq("id", id).Eq("club_id", clubID).One()
	if err := r.db.Select(ctx, q, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

// Create inserts an announcement for club.
func (r *Repository) Create(ctx context.Context, clubID, createdBy uuid.UUID, in Input) (*models.Announcement, error) {
	var a models.Announcement
	row := newAnnouncement{ClubID: clubID, CreatedBy: createdBy, Input: in}
	if err := r.db.Insert(ctx, table, row, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

// Update applies patch to one announcement of a club.
func (r *Repository) Update(ctx context.Context, clubID, id uuid.UUID, patch Patch) (*models.Announcement, error) {
	var a models.Announcement
	filters := []datasvc.Filter{datasvc.Eq("id", id), datasvc.Eq("club_id", clubID)}
	if err := r.db.Update(ctx, table, filters, patch, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

// Delete removes one announcement of a club.
func (r *Repository) Delete(ctx context.Context, clubID, id uuid.UUID) error {
	return r.db.Delete(ctx, table, []datasvc.Filter{datasvc.Eq("id", id), datasvc.Eq("club_id", clubID)})
}

// SortPinned orders pinned announcements first, then by created_at descending.
func SortPinned(list []models.Announcement) {
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].Pinned != list[j].Pinned {
			return list[i].Pinned
		}
		return list[i].CreatedAt.After(list[j].CreatedAt)
	})
}
