// internal/clients/membership_client.go
package clients

import (
	"context"
	"net/http"

	"github.com/JaviNavarroB/Cierzo/internal/membership"
)

type MembershipClient struct {
	*client
}

func NewMembershipClient(baseURL string, opts Options) *MembershipClient {
	return &MembershipClient{client: newClient("membership", baseURL, opts)}
}

// Register signs up a guest and returns the new user id.
func (c *MembershipClient) Register(ctx context.Context, name, email, password string) (int64, error) {
	in := map[string]string{"Nombre": name, "Correo": email, "Contrasenya": password}
	var out struct {
		UserID int64 `json:"userId"`
	}
	if err := c.do(ctx, http.MethodPost, "/users/register", "", in, &out); err != nil {
		return 0, err
	}
	return out.UserID, nil
}

func (c *MembershipClient) Login(ctx context.Context, email, password string) (*membership.Session, error) {
	in := map[string]string{"Correo": email, "Contrasenya": password}
	var out membership.Session
	if err := c.do(ctx, http.MethodPost, "/users/login", "", in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *MembershipClient) Profile(ctx context.Context, token string) (*membership.User, error) {
	var out struct {
		User *membership.User `json:"user"`
	}
	if err := c.do(ctx, http.MethodGet, "/profile", token, nil, &out); err != nil {
		return nil, err
	}
	return out.User, nil
}
