// internal/enrollment/domain.go
package enrollment

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/JaviNavarroB/Cierzo/internal/catalog"
	"github.com/JaviNavarroB/Cierzo/internal/membership"
)

// Failures of an enrollment, in the order they are checked.
var (
	ErrNotAuthenticated   = errors.New("user not authenticated")
	ErrInvalidCredential  = errors.New("invalid password")
	ErrEventNotFound      = errors.New("event not found")
	ErrTeamNotFound       = errors.New("team not found")
	ErrEventExpired       = errors.New("event already took place")
	ErrRegistrationClosed = errors.New("registration deadline has passed")
	ErrCapacityExceeded   = errors.New("event is full")
	ErrAlreadyEnrolled    = errors.New("already enrolled")
	ErrPersistence        = errors.New("enrollment could not be stored")
)

// StatusEnrolled is the only status a record can hold.
const StatusEnrolled = "Inscrito"

// EventRecord links a user to an event.
type EventRecord struct {
	ID        uuid.UUID `json:"id" db:"id"`
	UserID    int64     `json:"id_usuario" db:"id_usuario"`
	EventID   int64     `json:"id_evento" db:"id_evento"`
	Status    string    `json:"estado_inscripcion" db:"estado_inscripcion"`
	CreatedAt time.Time `json:"fecha_inscripcion" db:"fecha_inscripcion"`
}

// TeamRecord links a user to a team.
type TeamRecord struct {
	ID        uuid.UUID `json:"id" db:"id"`
	UserID    int64     `json:"id_usuario" db:"id_usuario"`
	TeamID    int64     `json:"id_equipo" db:"id_equipo"`
	Status    string    `json:"estado_inscripcion" db:"estado_inscripcion"`
	CreatedAt time.Time `json:"fecha_inscripcion" db:"fecha_inscripcion"`
}

// TeamEnrollment is the result of joining a team: the record and the user
// as it stands afterwards.
type TeamEnrollment struct {
	Record *TeamRecord      `json:"inscripcion"`
	User   *membership.User `json:"user"`
}

// EventSlot is what enrollment needs to know about an event. A nil Capacity
// means unlimited; a nil Deadline means registration stays open until the
// event day.
type EventSlot struct {
	ID       int64         `db:"id"`
	Date     catalog.Date  `db:"fecha"`
	Deadline *catalog.Date `db:"fecha_limite_inscripcion"`
	Capacity *int          `db:"cupo_total"`
}

// Domain events appended to the user's stream.
const (
	EventEnrollmentCreated = "EventEnrollmentCreated"
	TeamEnrollmentCreated  = "TeamEnrollmentCreated"
)

type EventEnrollmentCreatedEvent struct {
	EnrollmentID uuid.UUID `json:"enrollment_id"`
	UserID       int64     `json:"user_id"`
	EventID      int64     `json:"event_id"`
}

type TeamEnrollmentCreatedEvent struct {
	EnrollmentID uuid.UUID       `json:"enrollment_id"`
	UserID       int64           `json:"user_id"`
	TeamID       int64           `json:"team_id"`
	RoleBefore   membership.Role `json:"role_before"`
	RoleAfter    membership.Role `json:"role_after"`
}
