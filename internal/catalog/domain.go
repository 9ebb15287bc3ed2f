// internal/catalog/domain.go
package catalog

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrSportNotFound = errors.New("sport not found")
	ErrTeamNotFound  = errors.New("team not found")
	ErrEventNotFound = errors.New("event not found")
)

// Date is a calendar day formatted as YYYY-MM-DD. Values compare correctly
// as strings.
type Date string

// DateOf returns the calendar day of t in t's own location.
func DateOf(t time.Time) Date {
	return Date(t.Format(time.DateOnly))
}

// Today returns the current calendar day in the club's time zone.
func Today(now time.Time, loc *time.Location) Date {
	return DateOf(now.In(loc))
}

func (d Date) Before(other Date) bool { return d < other }

func (d *Date) Scan(src any) error {
	switch v := src.(type) {
	case time.Time:
		*d = DateOf(v)
	case []byte:
		return d.Scan(string(v))
	case string:
		if len(v) < len(time.DateOnly) {
			return fmt.Errorf("scan date: malformed value %q", v)
		}
		*d = Date(v[:len(time.DateOnly)])
	default:
		return fmt.Errorf("scan date: unsupported type %T", src)
	}
	return nil
}

func (d Date) Value() (driver.Value, error) {
	return string(d), nil
}

// Sport is a discipline offered by the club with its fees.
type Sport struct {
	ID            int64   `json:"id" db:"id"`
	Name          string  `json:"nombre" db:"nombre"`
	MonthlyFee    float64 `json:"cuota_mensual" db:"cuota_mensual"`
	FederationFee float64 `json:"cuota_anual_federacion" db:"cuota_anual_federacion"`
	Photo         *string `json:"foto" db:"foto"`
}

// TeamSummary is the list view of a team.
type TeamSummary struct {
	ID        int64  `json:"id" db:"id"`
	Name      string `json:"nombre" db:"nombre"`
	SportAbbr string `json:"nombre_deporte_abv" db:"nombre_deporte_abv"`
}

// Slot is one training session of a team.
type Slot struct {
	Day  string `json:"day"`
	Time string `json:"time,omitempty"`
}

// Team is the detail view of a team joined with its sport's fees.
type Team struct {
	ID                int64     `json:"id"`
	Name              string    `json:"nombre"`
	SportAbbr         string    `json:"nombre_deporte_abv"`
	Description       *string   `json:"descripcion"`
	TrainingDays      []string  `json:"diasEntrenamiento"`
	Schedule          []Slot    `json:"horario"`
	VenueName         *string   `json:"pabellon_nombre"`
	VenueAddress      *string   `json:"pabellon_direccion"`
	VenueDescription  *string   `json:"pabellon_descripcion"`
	CallToActionTitle *string   `json:"cta_titulo"`
	CallToActionText  *string   `json:"cta_texto"`
	MonthlyFee        float64   `json:"cuota_mensual"`
	FederationFee     float64   `json:"cuota_anual_federacion"`
	CreatedAt         time.Time `json:"creado_en"`
}

// TeamEnrollment is a player enrolled in a team.
type TeamEnrollment struct {
	UserID int64  `json:"id_usuario"`
	Name   string `json:"nombre"`
	Photo  string `json:"foto,omitempty"`
}

// PlayerPhotoPath is where player pictures are served from.
const PlayerPhotoPath = "/players/"

// Event is a club event with its availability computed at read time.
type Event struct {
	ID               int64           `json:"id"`
	Title            string          `json:"titulo"`
	Description      *string         `json:"descripcion"`
	Date             Date            `json:"fecha"`
	StartTime        *string         `json:"hora_inicio"`
	EndTime          *string         `json:"hora_fin"`
	VenueName        *string         `json:"lugar_nombre"`
	Address          *string         `json:"direccion"`
	Latitude         *float64        `json:"latitud"`
	Longitude        *float64        `json:"longitud"`
	Deadline         *Date           `json:"fecha_limite_inscripcion"`
	Capacity         *int            `json:"cupo_total"`
	Program          json.RawMessage `json:"programa"`
	Testimonials     json.RawMessage `json:"testimonios"`
	FAQs             json.RawMessage `json:"faqs"`
	AdmittedRoles    string          `json:"roles_admitidos"`
	Photo            *string         `json:"foto"`
	CreatedAt        time.Time       `json:"creado_en"`
	Enrolled         int             `json:"inscritos"`
	SpotsLeft        *int            `json:"cupo_disponible"`
	Full             bool            `json:"completo"`
	RegistrationOpen bool            `json:"inscripcion_abierta"`
}

// Availability derives the capacity fields of an event on a given day.
// A nil capacity means the event has no limit.
func Availability(e *Event, today Date) {
	if e.Capacity != nil {
		left := max(*e.Capacity-e.Enrolled, 0)
		e.SpotsLeft = &left
		e.Full = left == 0
	} else {
		e.SpotsLeft = nil
		e.Full = false
	}

	open := !e.Date.Before(today) && !e.Full
	if e.Deadline != nil && e.Deadline.Before(today) {
		open = false
	}
	e.RegistrationOpen = open
}

// Admits reports whether the event is open to the given role name. An empty
// admitted-roles list admits everyone.
func (e *Event) Admits(role string) bool {
	if strings.TrimSpace(e.AdmittedRoles) == "" {
		return true
	}
	for _, r := range strings.Split(e.AdmittedRoles, ",") {
		if strings.EqualFold(strings.TrimSpace(r), role) {
			return true
		}
	}
	return false
}
