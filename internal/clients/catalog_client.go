// internal/clients/catalog_client.go
package clients

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/JaviNavarroB/Cierzo/internal/catalog"
)

type CatalogClient struct {
	*client
}

func NewCatalogClient(baseURL string, opts Options) *CatalogClient {
	return &CatalogClient{client: newClient("catalog", baseURL, opts)}
}

// ListEvents returns the upcoming events, optionally only those open to role.
func (c *CatalogClient) ListEvents(ctx context.Context, role string) ([]catalog.Event, error) {
	path := "/events/events"
	if role != "" {
		path += "?rol=" + url.QueryEscape(role)
	}
	var out struct {
		Events []catalog.Event `json:"events"`
	}
	if err := c.do(ctx, http.MethodGet, path, "", nil, &out); err != nil {
		return nil, err
	}
	return out.Events, nil
}

func (c *CatalogClient) GetEvent(ctx context.Context, id int64) (*catalog.Event, error) {
	var out struct {
		Event *catalog.Event `json:"event"`
	}
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/events/event/%d", id), "", nil, &out); err != nil {
		return nil, err
	}
	return out.Event, nil
}

func (c *CatalogClient) ListTeams(ctx context.Context) ([]catalog.TeamSummary, error) {
	var out struct {
		Teams []catalog.TeamSummary `json:"equipos"`
	}
	if err := c.do(ctx, http.MethodGet, "/equipos", "", nil, &out); err != nil {
		return nil, err
	}
	return out.Teams, nil
}

func (c *CatalogClient) ListTeamEnrollments(ctx context.Context, teamID int64) ([]catalog.TeamEnrollment, error) {
	var out struct {
		Enrollments []catalog.TeamEnrollment `json:"inscripciones"`
	}
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/equipos/%d/inscripciones", teamID), "", nil, &out); err != nil {
		return nil, err
	}
	return out.Enrollments, nil
}
