// internal/catalog/service.go
package catalog

import (
	"context"
)

// Service defines the interface for the catalog service. It only reads.
type Service interface {
	ListSports(ctx context.Context) ([]Sport, error)
	GetSport(ctx context.Context, id int64) (*Sport, error)
	ListTeams(ctx context.Context) ([]TeamSummary, error)
	GetTeam(ctx context.Context, id int64) (*Team, error)
	ListTeamEnrollments(ctx context.Context, teamID int64) ([]TeamEnrollment, error)
	// ListAvailableEvents returns events dated today or later. A non-empty
	// role keeps only the events admitting that role name.
	ListAvailableEvents(ctx context.Context, role string) ([]Event, error)
	GetEvent(ctx context.Context, id int64) (*Event, error)
}
