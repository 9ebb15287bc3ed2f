// internal/testdb/testdb.go

// Package testdb connects tests to a scratch PostgreSQL database. Tests that
// use it are skipped when no database answers.
package testdb

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/JaviNavarroB/Cierzo/pkg/postgres"
)

// lockKey serializes packages that share the scratch database.
const lockKey = 7318245

// Open returns a pool on an emptied database with the bootstrap schema applied.
func Open(t testing.TB) *sqlx.DB {
	t.Helper()

	db, err := sqlx.Open("postgres", DSN())
	if err != nil {
		t.Fatalf("failed to open database connection: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		t.Skipf("skipping: could not connect to postgres: %v", err)
	}

	conn, err := db.Conn(context.Background())
	if err != nil {
		t.Fatalf("failed to reserve connection: %v", err)
	}
	if _, err := conn.ExecContext(context.Background(), `SELECT pg_advisory_lock($1)`, lockKey); err != nil {
		t.Fatalf("failed to take test lock: %v", err)
	}
	t.Cleanup(func() {
		conn.ExecContext(context.Background(), `SELECT pg_advisory_unlock($1)`, lockKey)
		conn.Close()
		db.Close()
	})

	if err := postgres.EnsureSchema(context.Background(), db); err != nil {
		t.Fatalf("failed to create schema: %v", err)
	}
	Truncate(t, db)
	return db
}

// Truncate empties every table and resets the id sequences.
func Truncate(t testing.TB, db *sqlx.DB) {
	t.Helper()
	_, err := db.Exec(`
		TRUNCATE inscripcion_evento, inscripcion_equipo, events, eventos, equipos, deporte, usuarios
		RESTART IDENTITY CASCADE
	`)
	if err != nil {
		t.Fatalf("failed to truncate tables: %v", err)
	}
}

// DSN returns the scratch database connection string.
func DSN() string {
	if url := os.Getenv("TEST_DATABASE_URL"); url != "" {
		return url
	}
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		getenv("PGHOST", "localhost"),
		getenv("PGPORT", "5432"),
		getenv("PGUSER", "user"),
		getenv("PGPASSWORD", "password"),
		getenv("PGDATABASE", "testdb"),
	)
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// User seeds a user row and returns its id. Role 0 means guest.
func User(t testing.TB, db *sqlx.DB, role int, email, passwordHash string) int64 {
	t.Helper()
	if role == 0 {
		role = 1
	}
	var id int64
	err := db.QueryRow(`
		INSERT INTO usuarios (id_rol, nombre, correo, contrasenya)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`, role, "Test "+email, email, passwordHash).Scan(&id)
	if err != nil {
		t.Fatalf("failed to seed user: %v", err)
	}
	return id
}

// Sport seeds a sport row.
func Sport(t testing.TB, db *sqlx.DB, name string) int64 {
	t.Helper()
	var id int64
	err := db.QueryRow(`
		INSERT INTO deporte (nombre, cuota_mensual, cuota_anual_federacion)
		VALUES ($1, 25.50, 60)
		RETURNING id
	`, name).Scan(&id)
	if err != nil {
		t.Fatalf("failed to seed sport: %v", err)
	}
	return id
}

// Team seeds a team of the given sport.
func Team(t testing.TB, db *sqlx.DB, sportID int64, name string) int64 {
	t.Helper()
	var id int64
	err := db.QueryRow(`
		INSERT INTO equipos (nombre, id_deporte, nombre_deporte_abv, dias_entrenamiento, horario)
		VALUES ($1, $2, 'BAL', '["Lunes","Miércoles"]', '[{"day":"Lunes","time":"18:00"}]')
		RETURNING id
	`, name, sportID).Scan(&id)
	if err != nil {
		t.Fatalf("failed to seed team: %v", err)
	}
	return id
}

// EventSeed describes an event row. Only the calendar day of Date and
// Deadline is stored. Nil Capacity means unlimited.
type EventSeed struct {
	Title    string
	Date     time.Time
	Deadline *time.Time
	Capacity *int
	Roles    string
	// Start and End are "HH:MM" or "HH:MM:SS"; empty leaves the column NULL.
	Start string
	End   string
}

// Event seeds an event row.
func Event(t testing.TB, db *sqlx.DB, e EventSeed) int64 {
	t.Helper()
	if e.Title == "" {
		e.Title = "Torneo"
	}
	var deadline *string
	if e.Deadline != nil {
		d := e.Deadline.Format(time.DateOnly)
		deadline = &d
	}
	var id int64
	err := db.QueryRow(`
		INSERT INTO eventos (titulo, fecha, fecha_limite_inscripcion, cupo_total, roles_admitidos, hora_inicio, hora_fin)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, '')::time, NULLIF($7, '')::time)
		RETURNING id
	`, e.Title, e.Date.Format(time.DateOnly), deadline, e.Capacity, e.Roles, e.Start, e.End).Scan(&id)
	if err != nil {
		t.Fatalf("failed to seed event: %v", err)
	}
	return id
}
