// Package feed builds the member surface: the clubs a user joined and one
// merged, newest-first stream of their events and announcements.
package feed

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/clubhub/portal/internal/models"
)

// Kind tags a feed item with its source collection.
type Kind string

const (
	KindEvent        Kind = "event"
	KindAnnouncement Kind = "announcement"
)

// Item is one entry of the merged feed. Exactly one of Event and Announcement is set.
type Item struct {
	Kind         Kind                 `json:"kind"`
	ID           uuid.UUID            `json:"id"`
	ClubID       uuid.UUID            `json:"club_id"`
	ClubName     string               `json:"club_name"`
	CreatedAt    time.Time            `json:"created_at"`
	Event        *models.Event        `json:"event,omitempty"`
	Announcement *models.Announcement `json:"announcement,omitempty"`
}

// Merge combines events and announcements into one list ordered by created_at,
// newest first. Items with equal timestamps keep events ahead of announcements
// and their input order within a kind. The result has len(evs)+len(anns) items.
func Merge(evs []models.Event, anns []models.Announcement, clubNames map[uuid.UUID]string) []Item {
	evs = append([]models.Event(nil), evs...)
	anns = append([]models.Announcement(nil), anns...)
	sort.SliceStable(evs, func(i, j int) bool { return evs[i].CreatedAt.After(evs[j].CreatedAt) })
	sort.SliceStable(anns, func(i, j int) bool { return anns[i].CreatedAt.After(anns[j].CreatedAt) })

	out := make([]Item, 0, len(evs)+len(anns))
	i, j := 0, 0
	for i < len(evs) || j < len(anns) {
		if j == len(anns) || (i < len(evs) && !anns[j].CreatedAt.After(evs[i].CreatedAt)) {
			e := evs[i]
			out = append(out, Item{
				Kind:      KindEvent,
				ID:        e.ID,
				ClubID:    e.ClubID,
				ClubName:  clubNames[e.ClubID],
				CreatedAt: e.CreatedAt,
				Event:     &e,
			})
			i++
			continue
		}
		a := anns[j]
		out = append(out, Item{
			Kind:         KindAnnouncement,
			ID:           a.ID,
			ClubID:       a.ClubID,
			ClubName:     clubNames[a.ClubID],
			CreatedAt:    a.CreatedAt,
			Announcement: &a,
		})
		j++
	}
	return out
}
