// internal/enrollment/store.go
package enrollment

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/JaviNavarroB/Cierzo/internal/membership"
	"github.com/JaviNavarroB/Cierzo/pkg/eventstore"
)

// PostgresStore keeps the ledger in inscripcion_evento and inscripcion_equipo.
type PostgresStore struct {
	db         *sqlx.DB
	eventStore *eventstore.EventStore
}

func NewPostgresStore(db *sqlx.DB, es *eventstore.EventStore) *PostgresStore {
	return &PostgresStore{db: db, eventStore: es}
}

func (s *PostgresStore) Credential(ctx context.Context, userID int64) (*membership.Credential, error) {
	return membership.LoadCredential(ctx, s.db, userID)
}

func (s *PostgresStore) WithinTx(ctx context.Context, fn func(Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&pgTx{tx: tx, eventStore: s.eventStore}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

type pgTx struct {
	tx         *sqlx.Tx
	eventStore *eventstore.EventStore
}

func (t *pgTx) LockUser(ctx context.Context, userID int64) (*membership.User, error) {
	return membership.LoadUserForUpdate(ctx, t.tx, userID)
}

func (t *pgTx) LockEvent(ctx context.Context, eventID int64) (*EventSlot, error) {
	slot := &EventSlot{}
	err := t.tx.GetContext(ctx, slot, `
		SELECT id, fecha, fecha_limite_inscripcion, cupo_total
		FROM eventos
		WHERE id = $1
		FOR UPDATE
	`, eventID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrEventNotFound
		}
		return nil, fmt.Errorf("failed to lock event %d: %w", eventID, err)
	}
	return slot, nil
}

func (t *pgTx) LockTeam(ctx context.Context, teamID int64) error {
	var id int64
	err := t.tx.GetContext(ctx, &id, `SELECT id FROM equipos WHERE id = $1 FOR SHARE`, teamID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrTeamNotFound
		}
		return fmt.Errorf("failed to lock team %d: %w", teamID, err)
	}
	return nil
}

func (t *pgTx) CountEventEnrollments(ctx context.Context, eventID int64) (int, error) {
	var n int
	err := t.tx.GetContext(ctx, &n, `
		SELECT COUNT(*)
		FROM inscripcion_evento
		WHERE id_evento = $1 AND estado_inscripcion = $2
	`, eventID, StatusEnrolled)
	if err != nil {
		return 0, fmt.Errorf("failed to count enrollments of event %d: %w", eventID, err)
	}
	return n, nil
}

func (t *pgTx) HasEventEnrollment(ctx context.Context, userID, eventID int64) (bool, error) {
	var exists bool
	err := t.tx.GetContext(ctx, &exists, `
		SELECT EXISTS (
			SELECT 1 FROM inscripcion_evento
			WHERE id_usuario = $1 AND id_evento = $2 AND estado_inscripcion = $3
		)
	`, userID, eventID, StatusEnrolled)
	if err != nil {
		return false, fmt.Errorf("failed to check event enrollment: %w", err)
	}
	return exists, nil
}

func (t *pgTx) HasTeamEnrollment(ctx context.Context, userID, teamID int64) (bool, error) {
	var exists bool
	err := t.tx.GetContext(ctx, &exists, `
		SELECT EXISTS (
			SELECT 1 FROM inscripcion_equipo
			WHERE id_usuario = $1 AND id_equipo = $2 AND estado_inscripcion = $3
		)
	`, userID, teamID, StatusEnrolled)
	if err != nil {
		return false, fmt.Errorf("failed to check team enrollment: %w", err)
	}
	return exists, nil
}

func (t *pgTx) InsertEventEnrollment(ctx context.Context, rec *EventRecord) error {
	_, err := t.tx.NamedExecContext(ctx, `
		INSERT INTO inscripcion_evento (id, id_usuario, id_evento, fecha_inscripcion, estado_inscripcion)
		VALUES (:id, :id_usuario, :id_evento, :fecha_inscripcion, :estado_inscripcion)
	`, rec)
	return insertError(err)
}

func (t *pgTx) InsertTeamEnrollment(ctx context.Context, rec *TeamRecord) error {
	_, err := t.tx.NamedExecContext(ctx, `
		INSERT INTO inscripcion_equipo (id, id_usuario, id_equipo, fecha_inscripcion, estado_inscripcion)
		VALUES (:id, :id_usuario, :id_equipo, :fecha_inscripcion, :estado_inscripcion)
	`, rec)
	return insertError(err)
}

// insertError maps a hit on the active-enrollment unique index to
// ErrAlreadyEnrolled.
func insertError(err error) error {
	if err == nil {
		return nil
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return ErrAlreadyEnrolled
	}
	return fmt.Errorf("failed to insert enrollment: %w", err)
}

func (t *pgTx) SetRole(ctx context.Context, userID int64, role membership.Role) error {
	if _, err := t.tx.ExecContext(ctx, `UPDATE usuarios SET id_rol = $1 WHERE id = $2`, role, userID); err != nil {
		return fmt.Errorf("failed to update role of user %d: %w", userID, err)
	}
	return nil
}

func (t *pgTx) Append(ctx context.Context, userID int64, eventType string, data any) error {
	event, err := eventstore.NewEvent(eventType, data)
	if err != nil {
		return err
	}

	aggregateID := membership.AggregateID(userID)
	version, err := t.eventStore.CurrentVersionTx(ctx, t.tx.Tx, aggregateID)
	if err != nil {
		return err
	}
	return t.eventStore.AppendEventsTx(ctx, t.tx.Tx, aggregateID, membership.AggregateType, version, []eventstore.Event{event})
}
