package session

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/clubhub/portal/internal/models"
)

func TestRouteIsDeterministic(t *testing.T) {
	cases := []struct {
		name    string
		profile *models.Profile
		want    Destination
	}{
		{"no profile", nil, LoginView},
		{"admin", &models.Profile{Role: models.RoleAdmin}, AdminView},
		{"user", &models.Profile{Role: models.RoleUser}, UserView},
		{"moderator", &models.Profile{Role: models.RoleModerator}, UserView},
		{"unset role", &models.Profile{}, UserView},
		{"novel role", &models.Profile{Role: "superuser"}, UserView},
		{"case differs", &models.Profile{Role: "Admin"}, UserView},
		{"suspended admin", &models.Profile{Role: models.RoleAdmin, Suspended: true}, AdminView},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Route(tc.profile))
			assert.Equal(t, tc.want, Route(tc.profile), "same input, same output")
		})
	}
}

func TestRouterNavigatesOnlyOnChange(t *testing.T) {
	var visits []Destination
	r := NewRouter(func(d Destination) { visits = append(visits, d) })
	admin := &models.Profile{Role: models.RoleAdmin}

	d, changed := r.Navigate(admin)
	assert.Equal(t, AdminView, d)
	assert.True(t, changed)

	_, changed = r.Navigate(admin)
	assert.False(t, changed)

	r.Navigate(nil)
	r.Navigate(&models.Profile{Role: models.RoleUser})
	r.Navigate(&models.Profile{Role: models.RoleUser})

	assert.Equal(t, []Destination{AdminView, LoginView, UserView}, visits)
	assert.Equal(t, UserView, r.Current())
}
