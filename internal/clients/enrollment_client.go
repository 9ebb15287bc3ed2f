// internal/clients/enrollment_client.go
package clients

import (
	"context"
	"net/http"

	"github.com/JaviNavarroB/Cierzo/internal/enrollment"
)

type EnrollmentClient struct {
	*client
}

func NewEnrollmentClient(baseURL string, opts Options) *EnrollmentClient {
	return &EnrollmentClient{client: newClient("enrollment", baseURL, opts)}
}

func (c *EnrollmentClient) EnrollEvent(ctx context.Context, token string, eventID int64, password string) (*enrollment.EventRecord, error) {
	in := map[string]any{"eventId": eventID, "password": password}
	var out struct {
		Record *enrollment.EventRecord `json:"inscripcion"`
	}
	if err := c.do(ctx, http.MethodPost, "/inscripcionEvento", token, in, &out); err != nil {
		return nil, err
	}
	return out.Record, nil
}

func (c *EnrollmentClient) EnrollTeam(ctx context.Context, token string, teamID int64, password string) (*enrollment.TeamEnrollment, error) {
	in := map[string]any{"teamId": teamID, "password": password}
	var out enrollment.TeamEnrollment
	if err := c.do(ctx, http.MethodPost, "/inscripcionEquipo", token, in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
