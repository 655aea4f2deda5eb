package feed

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/clubhub/portal/internal/datasvc"
	"github.com/clubhub/portal/internal/models"
)

// Collection names used as keys of UserView.Errors.
const (
	CollectionClubs         = "clubs"
	CollectionEvents        = "events"
	CollectionAnnouncements = "announcements"
)

// MembershipLister lists a user's memberships.
type MembershipLister interface {
	ListByUser(ctx context.Context, userID uuid.UUID) ([]models.Membership, error)
}

// ClubLister reads clubs by id.
type ClubLister interface {
	ListByIDs(ctx context.Context, ids []uuid.UUID) ([]models.Club, error)
}

// EventLister reads the published events of a set of clubs.
type EventLister interface {
	ListPublishedByClubs(ctx context.Context, clubIDs []uuid.UUID) ([]models.Event, error)
}

// AnnouncementLister reads the announcements of a set of clubs.
type AnnouncementLister interface {
	ListByClubs(ctx context.Context, clubIDs []uuid.UUID) ([]models.Announcement, error)
}

// UserView is the member surface's view model. Empty marks a user who has not
// joined any club; Errors holds a message per collection that failed to load.
type UserView struct {
	Clubs  []models.Club     `json:"clubs"`
	Items  []Item            `json:"items"`
	Empty  bool              `json:"empty"`
	Errors map[string]string `json:"errors,omitempty"`
}

// Aggregator assembles UserView.
type Aggregator struct {
	memberships   MembershipLister
	clubs         ClubLister
	events        EventLister
	announcements AnnouncementLister
	logger        *zap.Logger
}

// NewAggregator creates a user feed aggregator.
func NewAggregator(ms MembershipLister, clubs ClubLister, events EventLister, anns AnnouncementLister, logger *zap.Logger) *Aggregator {
	return &Aggregator{memberships: ms, clubs: clubs, events: events, announcements: anns, logger: logger}
}

// Load builds the view for userID. Failing to read the memberships is an error;
// every later collection fails on its own.
func (a *Aggregator) Load(ctx context.Context, userID uuid.UUID) (*UserView, error) {
	ms, err := a.memberships.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	view := &UserView{Clubs: []models.Club{}, Items: []Item{}}
	ids := clubIDs(ms)
	if len(ids) == 0 {
		view.Empty = true
		return view, nil
	}

	var (
		wg                    sync.WaitGroup
		clubs                 []models.Club
		evs                   []models.Event
		anns                  []models.Announcement
		clubErr, evErr, anErr error
	)
	wg.Add(3)
	go func() {
		defer wg.Done()
		clubs, clubErr = a.clubs.ListByIDs(ctx, ids)
	}()
	go func() {
		defer wg.Done()
		evs, evErr = a.events.ListPublishedByClubs(ctx, ids)
	}()
	go func() {
		defer wg.Done()
		anns, anErr = a.announcements.ListByClubs(ctx, ids)
	}()
	wg.Wait()

	for name, err := range map[string]error{
		CollectionClubs:         clubErr,
		CollectionEvents:        evErr,
		CollectionAnnouncements: anErr,
	} {
		if err == nil {
			continue
		}
		if view.Errors == nil {
			view.Errors = map[string]string{}
		}
		view.Errors[name] = datasvc.Message(err)
		a.logger.Warn("feed collection load failed",
			zap.String("user_id", userID.String()),
			zap.String("collection", name),
			zap.Error(err),
		)
	}

	names := make(map[uuid.UUID]string, len(clubs))
	for _, c := range clubs {
		names[c.ID] = c.Name
	}
	if clubs != nil {
		view.Clubs = clubs
	}
	view.Items = Merge(evs, anns, names)
	return view, nil
}

func clubIDs(ms []models.Membership) []uuid.UUID {
	seen := make(map[uuid.UUID]bool, len(ms))
	ids := make([]uuid.UUID, 0, len(ms))
	for _, m := range ms {
		if !seen[m.ClubID] {
			seen[m.ClubID] = true
			ids = append(ids, m.ClubID)
		}
	}
	return ids
}
