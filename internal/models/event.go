package models

import (
	"time"

	"github.com/google/uuid"
)

// DateLayout and TimeLayout are the wire formats of Event.Date and Event.Time.
const (
	DateLayout = "2006-01-02"
	TimeLayout = "15:04"
)

// Event is a club event. Date sorts lexically in DateLayout.
type Event struct {
	ID               uuid.UUID `json:"id"`
	ClubID           uuid.UUID `json:"club_id"`
	Title            string    `json:"title"`
	Description      string    `json:"description"`
	Date             string    `json:"date"`
	Time             string    `json:"time,omitempty"`
	Venue            string    `json:"venue,omitempty"`
	EntryFee         *float64  `json:"entry_fee"`
	PrizePool        string    `json:"prize_pool,omitempty"`
	ImageURL         string    `json:"image_url,omitempty"`
	Link             string    `json:"link,omitempty"`
	RegistrationLink string    `json:"registration_link,omitempty"`
	Published        bool      `json:"published"`
	CreatedBy        uuid.UUID `json:"created_by"`
	CreatedAt        time.Time `json:"created_at"`
}

// Announcement is a club announcement.
type Announcement struct {
	ID        uuid.UUID `json:"id"`
	ClubID    uuid.UUID `json:"club_id"`
	Title     string    `json:"title,omitempty"`
	Message   string    `json:"message"`
	ImageURL  string    `json:"image_url,omitempty"`
	Link      string    `json:"link,omitempty"`
	Pinned    bool      `json:"pinned"`
	CreatedBy uuid.UUID `json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
}
