// Package session turns a verified auth session into a profile and a destination
// view. Profiles are created lazily the first time an identity is seen.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/clubhub/portal/internal/auth"
	"github.com/clubhub/portal/internal/datasvc"
	"github.com/clubhub/portal/internal/models"
)

// ProfileStore is the persistence the resolver needs.
type ProfileStore interface {
	Get(ctx context.Context, id uuid.UUID) (*models.Profile, error)
	Create(ctx context.Context, p models.Profile) (*models.Profile, error)
}

// Config bounds profile resolution.
type Config struct {
	Timeout  time.Duration // per attempt
	Attempts int
	Backoff  time.Duration // delay before the second attempt, doubled after each
}

// Resolution is the outcome of resolving a session. Identity and Profile are nil
// when there is no session.
type Resolution struct {
	Identity *models.Identity `json:"identity,omitempty"`
	Profile  *models.Profile  `json:"profile,omitempty"`
	Created  bool             `json:"created,omitempty"`
}

// SignedIn reports whether the resolution carries a profile.
func (r *Resolution) SignedIn() bool {
	return r != nil && r.Profile != nil
}

// ResolutionError means the profile could not be looked up or created. Callers
// must not assume any role.
type ResolutionError struct {
	UserID uuid.UUID
	Err    error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("resolve profile %s: %v", e.UserID, e.Err)
}

func (e *ResolutionError) Unwrap() error { return e.Err }

// Resolver ensures every signed-in identity has exactly one profile.
type Resolver struct {
	profiles ProfileStore
	cfg      Config
	logger   *zap.Logger
	group    singleflight.Group
}

// NewResolver creates a resolver.
func NewResolver(profiles ProfileStore, cfg Config, logger *zap.Logger) *Resolver {
	if cfg.Attempts <= 0 {
		cfg.Attempts = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{profiles: profiles, cfg: cfg, logger: logger}
}

type outcome struct {
	profile *models.Profile
	created bool
}

// Resolve returns the profile for sess, creating it with role user when absent.
// A nil session resolves to an empty Resolution without any lookup. Concurrent
// calls for the same identity share one lookup.
func (r *Resolver) Resolve(ctx context.Context, sess *auth.Session) (*Resolution, error) {
	if sess == nil || sess.User.ID == uuid.Nil {
		return &Resolution{}, nil
	}
	id := sess.User
	if datasvc.AccessToken(ctx) == "" && sess.AccessToken != "" {
		ctx = datasvc.WithAccessToken(ctx, sess.AccessToken)
	}
	ch := r.group.DoChan(id.ID.String(), func() (any, error) {
		// Shared by every waiter, so it must outlive the first caller's cancellation.
		return r.resolve(context.WithoutCancel(ctx), id)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			r.logger.Warn("profile resolution failed", zap.String("user_id", id.ID.String()), zap.Error(res.Err))
			return nil, res.Err
		}
		o := res.Val.(outcome)
		return &Resolution{Identity: &id, Profile: o.profile, Created: o.created}, nil
	case <-ctx.Done():
		return nil, &ResolutionError{UserID: id.ID, Err: ctx.Err()}
	}
}

// Profile returns just the resolved profile; nil without a session.
func (r *Resolver) Profile(ctx context.Context, sess *auth.Session) (*models.Profile, error) {
	res, err := r.Resolve(ctx, sess)
	if err != nil {
		return nil, err
	}
	return res.Profile, nil
}

func (r *Resolver) resolve(ctx context.Context, id models.Identity) (outcome, error) {
	delay := r.cfg.Backoff
	var err error
	for attempt := 1; attempt <= r.cfg.Attempts; attempt++ {
		var o outcome
		o, err = r.attempt(ctx, id)
		if err == nil {
			if o.created {
				r.logger.Info("profile created", zap.String("user_id", id.ID.String()))
			}
			return o, nil
		}
		if !transient(err) || attempt == r.cfg.Attempts {
			break
		}
		r.logger.Debug("profile resolution retry", zap.Int("attempt", attempt), zap.Error(err))
		if delay > 0 {
			t := time.NewTimer(delay)
			select {
			case <-t.C:
			case <-ctx.Done():
				t.Stop()
				return outcome{}, &ResolutionError{UserID: id.ID, Err: ctx.Err()}
			}
			delay *= 2
		}
	}
	return outcome{}, &ResolutionError{UserID: id.ID, Err: err}
}

// attempt is one bounded lookup, insert-or-reread on first sight.
func (r *Resolver) attempt(ctx context.Context, id models.Identity) (outcome, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	p, err := r.profiles.Get(ctx, id.ID)
	if err == nil {
		return outcome{profile: p}, nil
	}
	if !datasvc.IsNotFound(err) {
		return outcome{}, err
	}
	p, err = r.profiles.Create(ctx, models.Profile{ID: id.ID, Email: id.Email, Role: models.RoleUser})
	if err == nil {
		return outcome{profile: p, created: true}, nil
	}
	if !datasvc.IsConflict(err) {
		return outcome{}, err
	}
	// Someone else created it first.
	p, err = r.profiles.Get(ctx, id.ID)
	if err != nil {
		return outcome{}, err
	}
	return outcome{profile: p}, nil
}

// transient reports whether err is worth another attempt: timeouts, transport
// failures and 5xx answers.
func transient(err error) bool {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return true
	case errors.Is(err, context.Canceled),
		datasvc.IsNotFound(err),
		datasvc.IsConflict(err),
		errors.Is(err, datasvc.ErrMultipleRows),
		errors.Is(err, datasvc.ErrInvalidQuery):
		return false
	}
	var de *datasvc.Error
	if errors.As(err, &de) {
		return de.Status >= 500 || (de.Status == 0 && de.Code == "")
	}
	return false
}
