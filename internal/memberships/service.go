package memberships

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/clubhub/portal/internal/datasvc"
	"github.com/clubhub/portal/internal/models"
)

var (
	ErrUserNotFound  = errors.New("user not found")
	ErrAlreadyMember = errors.New("already a member")
	ErrNotMember     = errors.New("not a member")
)

// ProfileLookup is the profile access the service needs.
type ProfileLookup interface {
	GetByEmail(ctx context.Context, email string) (*models.Profile, error)
	ListByIDs(ctx context.Context, ids []uuid.UUID) ([]models.Profile, error)
}

// Member is a roster row: a membership joined with its profile.
type Member struct {
	MembershipID uuid.UUID   `json:"id"`
	UserID       uuid.UUID   `json:"user_id"`
	ClubID       uuid.UUID   `json:"club_id"`
	JoinedAt     time.Time   `json:"joined_at"`
	Email        string      `json:"email"`
	FullName     string      `json:"full_name,omitempty"`
	Role         models.Role `json:"role,omitempty"`
}

// Service implements membership operations on top of the repository.
type Service struct {
	repo     *Repository
	profiles ProfileLookup
}

// NewService creates a memberships service.
func NewService(repo *Repository, profiles ProfileLookup) *Service {
	return &Service{repo: repo, profiles: profiles}
}

// AddByEmail adds the profile registered with email to club. The lookup, the
// duplicate check and the insert are separate calls; the store's unique
// (user_id, club_id) constraint settles a race between two adds.
func (s *Service) AddByEmail(ctx context.Context, clubID uuid.UUID, email string) (*models.Membership, error) {
	p, err := s.profiles.GetByEmail(ctx, email)
	if err != nil {
		if datasvc.IsNotFound(err) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("look up %s: %w", email, err)
	}
	return s.add(ctx, p.ID, clubID)
}

// Join adds the caller to club.
func (s *Service) Join(ctx context.Context, userID, clubID uuid.UUID) (*models.Membership, error) {
	return s.add(ctx, userID, clubID)
}

// Remove deletes the membership of user in club.
func (s *Service) Remove(ctx context.Context, clubID, userID uuid.UUID) error {
	if _, err := s.repo.Find(ctx, userID, clubID); err != nil {
		if datasvc.IsNotFound(err) {
			return ErrNotMember
		}
		if !errors.Is(err, datasvc.ErrMultipleRows) {
			return err
		}
	}
	return s.repo.Delete(ctx, userID, clubID)
}

// Roster returns the members of club with their profile details. Memberships and
// profiles are fetched in two round trips and joined with JoinProfiles.
func (s *Service) Roster(ctx context.Context, clubID uuid.UUID) ([]Member, error) {
	ms, err := s.repo.ListByClub(ctx, clubID)
	if err != nil {
		return nil, err
	}
	if len(ms) == 0 {
		return []Member{}, nil
	}
	ids := make([]uuid.UUID, 0, len(ms))
	seen := make(map[uuid.UUID]bool, len(ms))
	for _, m := range ms {
		if !seen[m.UserID] {
			seen[m.UserID] = true
			ids = append(ids, m.UserID)
		}
	}
	ps, err := s.profiles.ListByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	return JoinProfiles(ms, ps), nil
}

// MyClubs returns the clubs user belongs to, in join order.
func (s *Service) MyClubs(ctx context.Context, userID uuid.UUID) ([]models.Club, error) {
	ms, err := s.repo.ListByUserWithClubs(ctx, userID)
	if err != nil {
		return nil, err
	}
	clubs := make([]models.Club, 0, len(ms))
	for _, m := range ms {
		if m.Club != nil {
			clubs = append(clubs, *m.Club)
		}
	}
	return clubs, nil
}

func (s *Service) add(ctx context.Context, userID, clubID uuid.UUID) (*models.Membership, error) {
	_, err := s.repo.Find(ctx, userID, clubID)
	switch {
	case err == nil, errors.Is(err, datasvc.ErrMultipleRows):
		return nil, ErrAlreadyMember
	case !datasvc.IsNotFound(err):
		return nil, err
	}
	m, err := s.repo.Create(ctx, userID, clubID)
	if err != nil {
		if datasvc.IsConflict(err) {
			return nil, ErrAlreadyMember
		}
		return nil, err
	}
	return m, nil
}

// JoinProfiles zips memberships with profiles by user id, keeping membership
// order. A membership whose profile is missing keeps empty profile fields.
func JoinProfiles(ms []models.Membership, ps []models.Profile) []Member {
	byID := make(map[uuid.UUID]models.Profile, len(ps))
	for _, p := range ps {
		byID[p.ID] = p
	}
	out := make([]Member, 0, len(ms))
	for _, m := range ms {
		row := Member{MembershipID: m.ID, UserID: m.UserID, ClubID: m.ClubID, JoinedAt: m.JoinedAt}
		if p, ok := byID[m.UserID]; ok {
			row.Email = p.Email
			row.FullName = p.FullName
			row.Role = p.Role
		}
		out = append(out, row)
	}
	return out
}
