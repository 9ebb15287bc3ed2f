// internal/enrollment/service.go
package enrollment

import (
	"context"

	"github.com/JaviNavarroB/Cierzo/internal/membership"
)

// Service defines the interface for the enrollment service. Both operations
// re-check the caller's password before writing anything.
type Service interface {
	EnrollEvent(ctx context.Context, userID, eventID int64, password string) (*EventRecord, error)
	EnrollTeam(ctx context.Context, userID, teamID int64, password string) (*TeamEnrollment, error)
}

// Store is the enrollment ledger.
type Store interface {
	// Credential returns membership.ErrUserNotFound for an unknown user.
	Credential(ctx context.Context, userID int64) (*membership.Credential, error)
	// WithinTx runs fn in one transaction, committed only when fn returns nil.
	WithinTx(ctx context.Context, fn func(Tx) error) error
}

// Tx is the set of operations available inside a ledger transaction. The
// Lock methods hold their row until the transaction ends.
type Tx interface {
	// LockUser returns membership.ErrUserNotFound for an unknown user.
	LockUser(ctx context.Context, userID int64) (*membership.User, error)
	// LockEvent returns ErrEventNotFound for an unknown event.
	LockEvent(ctx context.Context, eventID int64) (*EventSlot, error)
	// LockTeam returns ErrTeamNotFound for an unknown team.
	LockTeam(ctx context.Context, teamID int64) error

	CountEventEnrollments(ctx context.Context, eventID int64) (int, error)
	HasEventEnrollment(ctx context.Context, userID, eventID int64) (bool, error)
	HasTeamEnrollment(ctx context.Context, userID, teamID int64) (bool, error)

	// The inserts return ErrAlreadyEnrolled when an active record exists.
	InsertEventEnrollment(ctx context.Context, rec *EventRecord) error
	InsertTeamEnrollment(ctx context.Context, rec *TeamRecord) error

	SetRole(ctx context.Context, userID int64, role membership.Role) error
	// Append records a domain event on the user's stream.
	Append(ctx context.Context, userID int64, eventType string, data any) error
}
