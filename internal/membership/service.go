// internal/membership/service.go
package membership

import (
	"context"
)

// Service defines the interface for the membership service.
type Service interface {
	Register(ctx context.Context, req RegisterRequest) (int64, error)
	Login(ctx context.Context, email, password string) (*Session, error)
	GetProfile(ctx context.Context, id int64) (*User, error)
	UpdateProfile(ctx context.Context, id int64, update ProfileUpdate) (*User, error)
}
