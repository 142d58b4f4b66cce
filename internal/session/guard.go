package session

import (
	"context"

	"storefront/internal/domain"
)

// Route classifies a navigation target for Guard.
type Route string

const (
	// RouteProtected needs a signed-in administrator.
	RouteProtected Route = "protected"
	// RouteAuth is the login page; signed-in users are sent on to the dashboard.
	RouteAuth Route = "auth"
)

type Decision string

const (
	Allow             Decision = "allow"
	RedirectLogin     Decision = "redirect_login"
	RedirectDashboard Decision = "redirect_dashboard"
	// Checking means the session could not be settled yet. Callers render a
	// neutral state and retry.
	Checking Decision = "checking"
)

// Guard runs the session check for a route entry and decides where the
// user goes.
func (s *Store) Guard(ctx context.Context, route Route) (Decision, error) {
	status, err := s.Check(ctx)
	if err != nil || status == domain.SessionUnknown {
		return Checking, err
	}
	authed := status == domain.SessionAuthenticated
	switch route {
	case RouteProtected:
		if !authed {
			return RedirectLogin, nil
		}
	case RouteAuth:
		if authed {
			return RedirectDashboard, nil
		}
	}
	return Allow, nil
}
