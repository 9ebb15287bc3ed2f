// internal/catalog/implementation.go
package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/types"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// service implements the Service interface.
type service struct {
	db     *sqlx.DB
	loc    *time.Location
	now    func() time.Time
	tracer trace.Tracer
}

// NewService creates a new catalog service instance. loc decides which
// calendar day is "today".
func NewService(db *sqlx.DB, loc *time.Location) Service {
	if loc == nil {
		loc = time.UTC
	}
	return &service{
		db:     db,
		loc:    loc,
		now:    time.Now,
		tracer: otel.Tracer("cierzo/catalog"),
	}
}

func (s *service) today() Date {
	return Today(s.now(), s.loc)
}

// ListSports returns every sport.
func (s *service) ListSports(ctx context.Context) ([]Sport, error) {
	sports := []Sport{}
	err := s.db.SelectContext(ctx, &sports, `
		SELECT id, nombre, cuota_mensual, cuota_anual_federacion, foto
		FROM deporte
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list sports: %w", err)
	}
	return sports, nil
}

// GetSport retrieves a sport by its ID.
func (s *service) GetSport(ctx context.Context, id int64) (*Sport, error) {
	sport := &Sport{}
	err := s.db.GetContext(ctx, sport, `
		SELECT id, nombre, cuota_mensual, cuota_anual_federacion, foto
		FROM deporte
		WHERE id = $1
	`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSportNotFound
		}
		return nil, fmt.Errorf("failed to get sport: %w", err)
	}
	return sport, nil
}

// ListTeams returns the list view of every team.
func (s *service) ListTeams(ctx context.Context) ([]TeamSummary, error) {
	teams := []TeamSummary{}
	err := s.db.SelectContext(ctx, &teams, `
		SELECT id, nombre, nombre_deporte_abv
		FROM equipos
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list teams: %w", err)
	}
	return teams, nil
}

type teamRow struct {
	ID                int64              `db:"id"`
	Name              string             `db:"nombre"`
	SportAbbr         string             `db:"nombre_deporte_abv"`
	Welcome           *string            `db:"mensaje_bienvenida"`
	TrainingDays      types.NullJSONText `db:"dias_entrenamiento"`
	Schedule          types.NullJSONText `db:"horario"`
	VenueName         *string            `db:"pabellon_nombre"`
	VenueAddress      *string            `db:"pabellon_direccion"`
	VenueDescription  *string            `db:"pabellon_descripcion"`
	CallToActionTitle *string            `db:"cta_titulo"`
	CallToActionText  *string            `db:"cta_texto"`
	CreatedAt         time.Time          `db:"creado_en"`
	MonthlyFee        float64            `db:"cuota_mensual"`
	FederationFee     float64            `db:"cuota_anual_federacion"`
}

// GetTeam retrieves a team with its sport's fees.
func (s *service) GetTeam(ctx context.Context, id int64) (*Team, error) {
	ctx, span := s.tracer.Start(ctx, "catalog.get_team", trace.WithAttributes(attribute.Int64("team.id", id)))
	defer span.End()

	var row teamRow
	err := s.db.GetContext(ctx, &row, `
		SELECT e.id, e.nombre, e.nombre_deporte_abv, e.mensaje_bienvenida,
		       e.dias_entrenamiento, e.horario,
		       e.pabellon_nombre, e.pabellon_direccion, e.pabellon_descripcion,
		       e.cta_titulo, e.cta_texto, e.creado_en,
		       d.cuota_mensual, d.cuota_anual_federacion
		FROM equipos e
		JOIN deporte d ON e.id_deporte = d.id
		WHERE e.id = $1
	`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTeamNotFound
		}
		return nil, fmt.Errorf("failed to get team: %w", err)
	}

	return &Team{
		ID:                row.ID,
		Name:              row.Name,
		SportAbbr:         row.SportAbbr,
		Description:       row.Welcome,
		TrainingDays:      normalizeDays(row.TrainingDays),
		Schedule:          normalizeSchedule(row.Schedule),
		VenueName:         row.VenueName,
		VenueAddress:      row.VenueAddress,
		VenueDescription:  row.VenueDescription,
		CallToActionTitle: row.CallToActionTitle,
		CallToActionText:  row.CallToActionText,
		MonthlyFee:        row.MonthlyFee,
		FederationFee:     row.FederationFee,
		CreatedAt:         row.CreatedAt,
	}, nil
}

// normalizeDays accepts a JSON array of strings or a JSON string holding a
// comma separated list.
func normalizeDays(raw types.NullJSONText) []string {
	days := []string{}
	if !raw.Valid {
		return days
	}
	if err := raw.Unmarshal(&days); err == nil {
		if days == nil {
			days = []string{}
		}
		return days
	}
	var list string
	if err := raw.Unmarshal(&list); err != nil {
		log.Warn().Err(err).Str("value", raw.String()).Msg("unreadable training days")
		return []string{}
	}
	days = []string{}
	for _, d := range strings.Split(list, ",") {
		if d = strings.TrimSpace(d); d != "" {
			days = append(days, d)
		}
	}
	return days
}

// normalizeSchedule accepts a JSON array of {day,time} or a JSON string of
// "day:time" chunks separated by commas.
func normalizeSchedule(raw types.NullJSONText) []Slot {
	slots := []Slot{}
	if !raw.Valid {
		return slots
	}
	if err := raw.Unmarshal(&slots); err == nil {
		if slots == nil {
			slots = []Slot{}
		}
		return slots
	}
	var list string
	if err := raw.Unmarshal(&list); err != nil {
		log.Warn().Err(err).Str("value", raw.String()).Msg("unreadable schedule")
		return []Slot{}
	}
	slots = []Slot{}
	for _, chunk := range strings.Split(list, ",") {
		chunk = strings.TrimSpace(chunk)
		if chunk == "" {
			continue
		}
		day, at, _ := strings.Cut(chunk, ":")
		slots = append(slots, Slot{Day: strings.TrimSpace(day), Time: strings.TrimSpace(at)})
	}
	return slots
}

// ListTeamEnrollments returns the players enrolled in a team.
func (s *service) ListTeamEnrollments(ctx context.Context, teamID int64) ([]TeamEnrollment, error) {
	var rows []struct {
		UserID int64   `db:"id_usuario"`
		Name   string  `db:"nombre"`
		Photo  *string `db:"foto"`
	}
	err := s.db.SelectContext(ctx, &rows, `
		SELECT ie.id_usuario, u.nombre, u.foto
		FROM inscripcion_equipo ie
		JOIN usuarios u ON ie.id_usuario = u.id
		WHERE ie.id_equipo = $1 AND ie.estado_inscripcion = 'Inscrito'
		ORDER BY ie.fecha_inscripcion
	`, teamID)
	if err != nil {
		return nil, fmt.Errorf("failed to list team enrollments: %w", err)
	}

	out := make([]TeamEnrollment, 0, len(rows))
	for _, r := range rows {
		e := TeamEnrollment{UserID: r.UserID, Name: r.Name}
		if r.Photo != nil && *r.Photo != "" {
			e.Photo = PlayerPhotoPath + *r.Photo
		}
		out = append(out, e)
	}
	return out, nil
}

// eventColumns formats TIME columns as "HH:MM:SS" text; pq would return
// them as a time.Time on year 0.
const eventColumns = `
	ev.id, ev.titulo, ev.descripcion, ev.fecha,
	to_char(ev.hora_inicio, 'HH24:MI:SS') AS hora_inicio,
	to_char(ev.hora_fin, 'HH24:MI:SS') AS hora_fin,
	ev.lugar_nombre, ev.direccion, ev.latitud, ev.longitud,
	ev.fecha_limite_inscripcion, ev.cupo_total,
	ev.programa, ev.testimonios, ev.faqs, ev.roles_admitidos, ev.foto, ev.creado_en,
	(SELECT COUNT(*) FROM inscripcion_evento ie
	 WHERE ie.id_evento = ev.id AND ie.estado_inscripcion = 'Inscrito') AS inscritos
`

type eventRow struct {
	ID            int64              `db:"id"`
	Title         string             `db:"titulo"`
	Description   *string            `db:"descripcion"`
	Date          Date               `db:"fecha"`
	StartTime     *string            `db:"hora_inicio"`
	EndTime       *string            `db:"hora_fin"`
	VenueName     *string            `db:"lugar_nombre"`
	Address       *string            `db:"direccion"`
	Latitude      *float64           `db:"latitud"`
	Longitude     *float64           `db:"longitud"`
	Deadline      *Date              `db:"fecha_limite_inscripcion"`
	Capacity      *int               `db:"cupo_total"`
	Program       types.NullJSONText `db:"programa"`
	Testimonials  types.NullJSONText `db:"testimonios"`
	FAQs          types.NullJSONText `db:"faqs"`
	AdmittedRoles string             `db:"roles_admitidos"`
	Photo         *string            `db:"foto"`
	CreatedAt     time.Time          `db:"creado_en"`
	Enrolled      int                `db:"inscritos"`
}

func (r eventRow) toEvent(today Date) Event {
	e := Event{
		ID:            r.ID,
		Title:         r.Title,
		Description:   r.Description,
		Date:          r.Date,
		StartTime:     r.StartTime,
		EndTime:       r.EndTime,
		VenueName:     r.VenueName,
		Address:       r.Address,
		Latitude:      r.Latitude,
		Longitude:     r.Longitude,
		Deadline:      r.Deadline,
		Capacity:      r.Capacity,
		Program:       rawJSON(r.Program),
		Testimonials:  rawJSON(r.Testimonials),
		FAQs:          rawJSON(r.FAQs),
		AdmittedRoles: r.AdmittedRoles,
		Photo:         r.Photo,
		CreatedAt:     r.CreatedAt,
		Enrolled:      r.Enrolled,
	}
	Availability(&e, today)
	return e
}

func rawJSON(t types.NullJSONText) json.RawMessage {
	if !t.Valid {
		return nil
	}
	return json.RawMessage(t.JSONText)
}

// ListAvailableEvents returns events dated today or later, soonest first.
func (s *service) ListAvailableEvents(ctx context.Context, role string) ([]Event, error) {
	ctx, span := s.tracer.Start(ctx, "catalog.list_events", trace.WithAttributes(attribute.String("role", role)))
	defer span.End()

	today := s.today()
	var rows []eventRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+eventColumns+`
		FROM eventos ev
		WHERE ev.fecha >= $1
		ORDER BY ev.fecha, ev.hora_inicio NULLS LAST, ev.id
	`, today)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}

	events := make([]Event, 0, len(rows))
	for _, r := range rows {
		e := r.toEvent(today)
		if role != "" && !e.Admits(role) {
			continue
		}
		events = append(events, e)
	}
	span.SetAttributes(attribute.Int("events.count", len(events)))
	return events, nil
}

// GetEvent retrieves an event with its enrolled count and availability.
func (s *service) GetEvent(ctx context.Context, id int64) (*Event, error) {
	var row eventRow
	err := s.db.GetContext(ctx, &row, `
		SELECT `+eventColumns+`
		FROM eventos ev
		WHERE ev.id = $1
	`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrEventNotFound
		}
		return nil, fmt.Errorf("failed to get event: %w", err)
	}

	e := row.toEvent(s.today())
	return &e, nil
}
