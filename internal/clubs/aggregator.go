package clubs

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/clubhub/portal/internal/datasvc"
	"github.com/clubhub/portal/internal/memberships"
	"github.com/clubhub/portal/internal/models"
)

// Collection names used as keys of AdminView.Errors.
const (
	CollectionEvents        = "events"
	CollectionAnnouncements = "announcements"
	CollectionMembers       = "members"
)

// EventLister lists a club's events in display order.
type EventLister interface {
	ListByClub(ctx context.Context, clubID uuid.UUID) ([]models.Event, error)
}

// AnnouncementLister lists a club's announcements in display order.
type AnnouncementLister interface {
	ListByClub(ctx context.Context, clubID uuid.UUID) ([]models.Announcement, error)
}

// RosterLister lists a club's members joined with their profiles.
type RosterLister interface {
	Roster(ctx context.Context, clubID uuid.UUID) ([]memberships.Member, error)
}

// AdminView is the admin surface's view model. NoClub marks the onboarding
// state; Errors holds a message per collection that failed to load while the
// others are still returned.
type AdminView struct {
	Club          *models.Club          `json:"club"`
	NoClub        bool                  `json:"no_club"`
	Events        []models.Event        `json:"events"`
	Announcements []models.Announcement `json:"announcements"`
	Members       []memberships.Member  `json:"members"`
	Errors        map[string]string     `json:"errors,omitempty"`
}

// Aggregator assembles AdminView.
type Aggregator struct {
	clubs         *Repository
	events        EventLister
	announcements AnnouncementLister
	roster        RosterLister
	logger        *zap.Logger
}

// NewAggregator creates an admin data aggregator.
func NewAggregator(clubs *Repository, events EventLister, announcements AnnouncementLister, roster RosterLister, logger *zap.Logger) *Aggregator {
	return &Aggregator{clubs: clubs, events: events, announcements: announcements, roster: roster, logger: logger}
}

// Load builds the view for adminID. Failing to read the club itself is an error;
// having no club is not.
func (a *Aggregator) Load(ctx context.Context, adminID uuid.UUID) (*AdminView, error) {
	club, err := a.clubs.GetByAdmin(ctx, adminID)
	if err != nil {
		if datasvc.IsNotFound(err) {
			return &AdminView{NoClub: true}, nil
		}
		return nil, err
	}
	return a.ForClub(ctx, club), nil
}

// ForClub fetches the three collections of club concurrently.
func (a *Aggregator) ForClub(ctx context.Context, club *models.Club) *AdminView {
	view := &AdminView{Club: club}
	var (
		wg                       sync.WaitGroup
		evErr, annErr, memberErr error
	)
	wg.Add(3)
	go func() {
		defer wg.Done()
		view.Events, evErr = a.events.ListByClub(ctx, club.ID)
	}()
	go func() {
		defer wg.Done()
		view.Announcements, annErr = a.announcements.ListByClub(ctx, club.ID)
	}()
	go func() {
		defer wg.Done()
		view.Members, memberErr = a.roster.Roster(ctx, club.ID)
	}()
	wg.Wait()

	for name, err := range map[string]error{
		CollectionEvents:        evErr,
		CollectionAnnouncements: annErr,
		CollectionMembers:       memberErr,
	} {
		if err == nil {
			continue
		}
		if view.Errors == nil {
			view.Errors = map[string]string{}
		}
		view.Errors[name] = datasvc.Message(err)
		a.logger.Warn("admin collection load failed",
			zap.String("club_id", club.ID.String()),
			zap.String("collection", name),
			zap.Error(err),
		)
	}
	if view.Events == nil {
		view.Events = []models.Event{}
	}
	if view.Announcements == nil {
		view.Announcements = []models.Announcement{}
	}
	if view.Members == nil {
		view.Members = []memberships.Member{}
	}
	return view
}
