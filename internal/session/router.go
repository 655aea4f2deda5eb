package session

import (
	"sync"

	"github.com/clubhub/portal/internal/models"
)

// Destination is the path of a top-level view.
type Destination string

const (
	LoginView Destination = "/login"
	AdminView Destination = "/admin-dashboard"
	UserView  Destination = "/user-dashboard"
)

// Route picks the view for a profile. Only role admin reaches the admin surface;
// every other role, including unknown ones, gets the user surface.
func Route(p *models.Profile) Destination {
	switch {
	case p == nil:
		return LoginView
	case p.Role == models.RoleAdmin:
		return AdminView
	default:
		return UserView
	}
}

// Router navigates one view shell. Navigating to the current destination again
// does nothing, so it can be called on every auth change.
type Router struct {
	mu       sync.Mutex
	current  Destination
	navigate func(Destination)
}

// NewRouter creates a router that calls navigate on every destination change.
func NewRouter(navigate func(Destination)) *Router {
	return &Router{navigate: navigate}
}

// Navigate routes p and reports the destination and whether it changed.
func (r *Router) Navigate(p *models.Profile) (Destination, bool) {
	dest := Route(p)
	r.mu.Lock()
	if dest == r.current {
		r.mu.Unlock()
		return dest, false
	}
	r.current = dest
	r.mu.Unlock()
	if r.navigate != nil {
		r.navigate(dest)
	}
	return dest, true
}

// Current returns the last destination, empty before the first Navigate.
func (r *Router) Current() Destination {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}
