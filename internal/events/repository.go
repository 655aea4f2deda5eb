// Package events manages a club's events: admin CRUD and the published-event
// reads behind the member feed.
package events

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/clubhub/portal/internal/datasvc"
	"github.com/clubhub/portal/internal/models"
)

const table = "events"

var ErrEmptyPatch = errors.New("nothing to update")

// Input is the body for creating an event.
type Input struct {
	Title            string   `json:"title" binding:"required"`
	Description      string   `json:"description"`
	Date             string   `json:"date" binding:"required"`
	Time             string   `json:"time"`
	Venue            string   `json:"venue"`
	EntryFee         *float64 `json:"entry_fee"`
	PrizePool        string   `json:"prize_pool"`
	ImageURL         string   `json:"image_url"`
	Link             string   `json:"link"`
	RegistrationLink string   `json:"registration_link"`
	Published        *bool    `json:"published,omitempty"`
}

// Validate checks formats the store would otherwise reject or misorder.
func (in *Input) Validate() error {
	in.Title = strings.TrimSpace(in.Title)
	if in.Title == "" {
		return errors.New("title is required")
	}
	return validateFields(&in.Date, &in.Time, in.EntryFee)
}

// Patch is a partial event update. Nil fields are left unchanged. An explicit
// "entry_fee": null in the body sets ClearEntryFee, making the event free again.
type Patch struct {
	Title            *string  `json:"title,omitempty"`
	Description      *string  `json:"description,omitempty"`
	Date             *string  `json:"date,omitempty"`
	Time             *string  `json:"time,omitempty"`
	Venue            *string  `json:"venue,omitempty"`
	EntryFee         *float64 `json:"entry_fee,omitempty"`
	PrizePool        *string  `json:"prize_pool,omitempty"`
	ImageURL         *string  `json:"image_url,omitempty"`
	Link             *string  `json:"link,omitempty"`
	RegistrationLink *string  `json:"registration_link,omitempty"`
	Published        *bool    `json:"published,omitempty"`
	ClearEntryFee    bool     `json:"-"`
}

// UnmarshalJSON tells an absent entry_fee from an explicit null.
func (p *Patch) UnmarshalJSON(b []byte) error {
	type plain Patch
	var raw struct {
		plain
		EntryFee json.RawMessage `json:"entry_fee"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	*p = Patch(raw.plain)
	switch fee := bytes.TrimSpace(raw.EntryFee); {
	case len(fee) == 0:
	case string(fee) == "null":
		p.ClearEntryFee = true
	default:
		var v float64
		if err := json.Unmarshal(fee, &v); err != nil {
			return fmt.Errorf("entry_fee: %w", err)
		}
		p.EntryFee = &v
	}
	return nil
}

// MarshalJSON writes entry_fee as null when the fee is cleared.
func (p Patch) MarshalJSON() ([]byte, error) {
	type plain Patch
	if !p.ClearEntryFee {
		return json.Marshal(plain(p))
	}
	return json.Marshal(struct {
		plain
		EntryFee *float64 `json:"entry_fee"`
	}{plain: plain(p)})
}

// Validate rejects an empty patch and malformed fields.
func (p *Patch) Validate() error {
	if *p == (Patch{}) {
		return ErrEmptyPatch
	}
	if p.ClearEntryFee && p.EntryFee != nil {
		return errors.New("entry fee cannot be both set and cleared")
	}
	if p.Title != nil && strings.TrimSpace(*p.Title) == "" {
		return errors.New("title cannot be empty")
	}
	if p.Date != nil && *p.Date == "" {
		return errors.New("date cannot be empty")
	}
	empty := ""
	date, tm := &empty, &empty
	if p.Date != nil {
		date = p.Date
	}
	if p.Time != nil {
		tm = p.Time
	}
	return validateFields(date, tm, p.EntryFee)
}

func validateFields(date, tm *string, fee *float64) error {
	*date = strings.TrimSpace(*date)
	*tm = strings.TrimSpace(*tm)
	if *date != "" {
		if _, err := time.Parse(models.DateLayout, *date); err != nil {
			return errors.New("date must be YYYY-MM-DD")
		}
	}
	if *tm != "" {
		if _, err := time.Parse(models.TimeLayout, *tm); err != nil {
			return errors.New("time must be HH:MM")
		}
	}
	if fee != nil && *fee < 0 {
		return errors.New("entry fee cannot be negative")
	}
	return nil
}

type newEvent struct {
	ClubID    uuid.UUID `json:"club_id"`
	CreatedBy uuid.UUID `json:"created_by"`
	Input
}

// Repository handles event persistence.
type Repository struct {
	db datasvc.Client
}

// NewRepository creates an events repository.
func NewRepository(db datasvc.Client) *Repository {
	return &Repository{db: db}
}

// ListByClub returns a club's events, earliest date first.
func (r *Repository) ListByClub(ctx context.Context, clubID uuid.UUID) ([]models.Event, error) {
	var list []models.Event
	q := datasvc.From(table).
		Eq("club_id", clubID).
		OrderBy("date", false).
		OrderBy("time", false)
	if err := r.db.Select(ctx, q, &list); err != nil {
		return nil, err
	}
	SortByDate(list)
	return list, nil
}

// ListPublishedByClubs returns the published events of the given clubs, newest
// first. An empty id set returns no events without a round trip.
func (r *Repository) ListPublishedByClubs(ctx context.Context, clubIDs []uuid.UUID) ([]models.Event, error) {
	if len(clubIDs) == 0 {
		return []models.Event{}, nil
	}
	var list []models.Event
	q := datasvc.From(table).
		Where(datasvc.In("club_id", clubIDs)).
		Eq("published", true).
		OrderBy("created_at", true)
	if err := r.db.Select(ctx, q, &list); err != nil {
		return nil, err
	}
	return list, nil
}

// Get returns one event of a club.
func (r *Repository) Get(ctx context.Context, clubID, id uuid.UUID) (*models.Event, error) {
	var e models.Event
	q := datasvc.From(table).Eq("id", id).Eq("club_id", clubID).One()
	if err := r.db.Select(ctx, q, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

// Create inserts an event for club. Published defaults to true in the store.
func (r *Repository) Create(ctx context.Context, clubID, createdBy uuid.UUID, in Input) (*models.Event, error) {
	var e models.Event
	row := newEvent{ClubID: clubID, CreatedBy: createdBy, Input: in}
	if err := r.db.Insert(ctx, table, row, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

// Update applies patch to one event of a club. A missing event yields datasvc.ErrNoRows.
func (r *Repository) Update(ctx context.Context, clubID, id uuid.UUID, patch Patch) (*models.Event, error) {
	var e models.Event
	if err := r.db.Update(ctx, table, scope(clubID, id), patch, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

// Delete removes one event of a club.
func (r *Repository) Delete(ctx context.Context, clubID, id uuid.UUID) error {
	return r.db.Delete(ctx, table, scope(clubID, id))
}

func scope(clubID, id uuid.UUID) []datasvc.Filter {
	return []datasvc.Filter{datasvc.Eq("id", id), datasvc.Eq("club_id", clubID)}
}

// SortByDate orders events by date then time, ascending, keeping the input
// order of equal keys. An event without a time sorts first on its date.
func SortByDate(list []models.Event) {
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].Date != list[j].Date {
			return list[i].Date < list[j].Date
		}
		return list[i].Time < list[j].Time
	})
}
